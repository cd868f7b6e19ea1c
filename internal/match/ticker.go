package match

import "time"

// TickerFactory returns a channel of scheduler ticks and a function that stops
// it. Tests substitute a channel they drive by hand.
type TickerFactory func(interval time.Duration) (<-chan time.Time, func())

func RealTicker(interval time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(interval)
	return t.C, t.Stop
}
