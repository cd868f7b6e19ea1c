package match

import (
	"time"

	"golang.org/x/time/rate"
)

// Outgoing is one transport message.
type Outgoing struct {
	Binary bool
	Data   []byte
}

// Sender delivers messages to connected participants. Send must not block.
type Sender interface {
	Send(to string, msg Outgoing) error
	// Drop closes the participant's connection.
	Drop(to string, reason string)
}

type outItem struct {
	to  []string
	msg Outgoing
}

// Outbox queues chunk frames and releases them gradually: at most perTick
// items per scheduler tick, and never faster than the token bucket allows.
type Outbox struct {
	queue   []outItem
	perTick int
	limiter *rate.Limiter
}

func NewOutbox(perTick int, limit rate.Limit, burst int) *Outbox {
	if perTick <= 0 {
		perTick = 1
	}
	if burst <= 0 {
		burst = perTick
	}
	return &Outbox{perTick: perTick, limiter: rate.NewLimiter(limit, burst)}
}

func (o *Outbox) Push(to []string, msg Outgoing) {
	o.queue = append(o.queue, outItem{to: to, msg: msg})
}

func (o *Outbox) Len() int { return len(o.queue) }

// Drain sends what this tick allows and returns the number of items released.
func (o *Outbox) Drain(now time.Time, send func(to string, msg Outgoing)) int {
	n := 0
	for n < o.perTick && len(o.queue) > 0 {
		if !o.limiter.AllowN(now, 1) {
			break
		}
		item := o.queue[0]
		o.queue[0] = outItem{}
		o.queue = o.queue[1:]
		for _, to := range item.to {
			send(to, item.msg)
		}
		n++
	}
	return n
}

// Forget removes id from every pending recipient list.
func (o *Outbox) Forget(id string) {
	for i := range o.queue {
		to := o.queue[i].to[:0:0]
		for _, t := range o.queue[i].to {
			if t != id {
				to = append(to, t)
			}
		}
		o.queue[i].to = to
	}
}
