// Command bot plays doodlecorpse headlessly. It is useful for load tests and
// for filling a room while developing a client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/client"
	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/logging"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

func main() {
	var (
		server    string
		code      string
		bots      int
		startAt   int
		strokes   int
		think     time.Duration
		level     string
		creatures bool
	)
	flag.StringVar(&server, "server", "http://localhost:8000", "server base URL")
	flag.StringVar(&code, "code", "", "room code to join (default: create a room)")
	flag.IntVar(&bots, "bots", 3, "number of bots to connect")
	flag.IntVar(&startAt, "start", 0, "first bot starts the game once this many players joined (0 = -bots)")
	flag.IntVar(&strokes, "strokes", 4, "strokes drawn per round")
	flag.DurationVar(&think, "think", 500*time.Millisecond, "delay before each drawing is sent")
	flag.StringVar(&level, "log-level", "info", "log level")
	flag.BoolVar(&creatures, "creatures", false, "start a mystery creature game")
	flag.Parse()

	log := logging.New(os.Stderr, logging.FormatConsole, level)
	if startAt == 0 {
		startAt = bots
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if code == "" {
		var err error
		if code, err = createRoom(ctx, server); err != nil {
			log.Fatal().Err(err).Msg("create room")
		}
	}
	log.Info().Str("room", code).Int("bots", bots).Msg("joining")

	var wg sync.WaitGroup
	for i := range bots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			name := fmt.Sprintf("bot-%d", i+1)
			if err := play(ctx, server, code, name, i == 0, startAt, strokes, creatures, think, log.With().Str("bot", name).Logger()); err != nil {
				log.Error().Err(err).Str("bot", name).Msg("bot stopped")
			}
		}()
		// Stagger joins so the first bot is the host.
		if i == 0 {
			time.Sleep(200 * time.Millisecond)
		}
	}
	wg.Wait()
}

func createRoom(ctx context.Context, server string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(server, "/")+"/api/rooms", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room: %s", resp.Status)
	}
	var body struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode room: %w", err)
	}
	return body.Code, nil
}

func play(ctx context.Context, server, code, name string, host bool, startAt, strokes int, creatures bool, think time.Duration, log zerolog.Logger) error {
	finished := make(chan struct{})
	var (
		c       *client.Client
		once    sync.Once
		started bool
		mu      sync.Mutex
	)
	draw := func(round, surface int) {
		go func() {
			select {
			case <-time.After(think):
			case <-ctx.Done():
				return
			}
			if err := c.SubmitDrawing(doodle(strokes)); err != nil {
				log.Warn().Err(err).Int("round", round).Msg("submit")
				return
			}
			log.Debug().Int("round", round).Int("surface", surface).Msg("drew")
		}()
	}

	hooks := client.Hooks{
		OnRoster: func(_ string, roster []proto.Participant) {
			mu.Lock()
			defer mu.Unlock()
			if host && !started && len(roster) >= startAt {
				started = true
				if err := c.Start(creatures); err != nil {
					log.Warn().Err(err).Msg("start")
				}
			}
		},
		OnStarted: func(m proto.Started) {
			if len(m.Prompts) > m.Surface {
				log.Info().Int("prompt", m.Prompts[m.Surface]).Msg("drawing a mystery creature")
			}
			draw(m.Round, m.Surface)
		},
		OnRoundAdvanced: draw,
		OnWaitingForPlayers: func(names []string) {
			log.Debug().Strs("waiting_for", names).Msg("waiting")
		},
		OnGameFinished: func(rounds int) {
			log.Info().Int("rounds", rounds).Msg("game finished")
			once.Do(func() { close(finished) })
		},
		OnPlayerLeft: func(who string, you bool) {
			log.Info().Str("name", who).Bool("you", you).Msg("player left")
			once.Do(func() { close(finished) })
		},
		OnError: func(code, detail string) {
			log.Warn().Str("code", code).Str("detail", detail).Msg("server error")
		},
	}

	var err error
	mu.Lock()
	c, err = client.Dial(ctx, server, code, name, hooks, client.WithLogger(log))
	mu.Unlock()
	if err != nil {
		return err
	}
	defer c.Close()

	select {
	case <-finished:
	case <-c.Done():
		return c.Err()
	case <-ctx.Done():
		_ = c.Leave()
	}
	return nil
}

// doodle returns n random polylines inside a 512x512 canvas.
func doodle(n int) []drawing.Stroke {
	out := make([]drawing.Stroke, n)
	for i := range out {
		pts := make([]drawing.Point, 2+rand.IntN(60))
		x, y := rand.Float32()*512, rand.Float32()*512
		for j := range pts {
			x += rand.Float32()*16 - 8
			y += rand.Float32()*16 - 8
			pts[j] = drawing.Point{X: x, Y: y}
		}
		out[i] = drawing.Stroke{
			Points: pts,
			Color:  drawing.ARGB(0xff, uint8(rand.IntN(256)), uint8(rand.IntN(256)), uint8(rand.IntN(256))),
		}
	}
	return out
}
