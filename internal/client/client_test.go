package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/engine"
	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
	"github.com/kushgupta-hiver/doodlecorpse/internal/transport/ws"
)

func newServer(t *testing.T, terminal int) (string, match.Registry) {
	t.Helper()
	return newTunedServer(t, terminal, match.Options{MaxPointsPerChunk: 50}, ws.Config{})
}

func newTunedServer(t *testing.T, terminal int, opts match.Options, cfg ws.Config) (string, match.Registry) {
	t.Helper()
	log := zerolog.Nop()
	hub := ws.NewHub(log)
	eng, err := engine.NewEngine(terminal)
	require.NoError(t, err)
	opts.TickInterval = time.Millisecond
	opts.FramesPerTick = 16
	reg := match.NewRegistry(match.Deps{
		Engine:  eng,
		Sender:  hub,
		Ticker:  match.RealTicker,
		Options: opts,
		Log:     log,
	})
	mux := http.NewServeMux()
	mux.Handle("/ws/", ws.NewServer(cfg, reg, hub, log))
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		_ = reg.Close()
		ts.Close()
	})
	return ts.URL, reg
}

// scribble returns a drawing whose first point encodes who drew it and when.
func scribble(seat, round, n int) []drawing.Stroke {
	pts := make([]drawing.Point, n)
	for i := range pts {
		pts[i] = drawing.Point{X: float32(seat*1000 + round), Y: float32(i)}
	}
	return []drawing.Stroke{{Points: pts, Color: drawing.ARGB(0xff, uint8(seat), uint8(round), 0)}}
}

// tapAndLine is a one-point tap followed by a real stroke of n points.
func tapAndLine(seat, round, n int) []drawing.Stroke {
	tap := drawing.Stroke{Points: []drawing.Point{{X: -1, Y: -1}}, Color: drawing.Black}
	return append([]drawing.Stroke{tap}, scribble(seat, round, n)...)
}

type player struct {
	*Client
	joined   chan []proto.Participant
	started  chan proto.Started
	finished chan int
	left     chan string
	errs     chan string

	mu      sync.Mutex
	drawn   map[int]int              // round -> surface
	strokes map[int][]drawing.Stroke // surface -> latest rebuilt drawing
}

func join(ctx context.Context, t *testing.T, base, code, name string, art func(round int) []drawing.Stroke, opts ...Option) *player {
	t.Helper()
	p := &player{
		joined:   make(chan []proto.Participant, 8),
		started:  make(chan proto.Started, 1),
		finished: make(chan int, 1),
		left:     make(chan string, 8),
		errs:     make(chan string, 8),
		drawn:    map[int]int{},
		strokes:  map[int][]drawing.Stroke{},
	}
	draw := func(round, surface int) {
		p.mu.Lock()
		p.drawn[round] = surface
		p.mu.Unlock()
		if err := p.SubmitDrawing(art(round)); err != nil {
			t.Errorf("%s submit round %d: %v", name, round, err)
		}
	}
	hooks := Hooks{
		OnRoster: func(_ string, roster []proto.Participant) { p.joined <- roster },
		OnStarted: func(m proto.Started) {
			draw(m.Round, m.Surface)
			p.started <- m
		},
		OnDrawingUpdated: func(surface int, strokes []drawing.Stroke, _ bool) {
			p.mu.Lock()
			p.strokes[surface] = strokes
			p.mu.Unlock()
		},
		OnRoundAdvanced: draw,
		OnGameFinished:  func(rounds int) { p.finished <- rounds },
		OnPlayerLeft:    func(name string, _ bool) { p.left <- name },
		OnError:         func(code, _ string) { p.errs <- code },
	}
	c, err := Dial(ctx, base, code, name, hooks, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	p.Client = c
	return p
}

func TestClient_PlaysAFullGame(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	base, reg := newServer(t, 4)
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	ana := join(ctx, t, base, room.Code(), "Ana", scribbler(0, 120))
	<-ana.joined
	bo := join(ctx, t, base, room.Code(), "Bo", scribbler(1, 7))
	cy := join(ctx, t, base, room.Code(), "Cy", scribbler(2, 260))

	waitForRoster(ctx, t, ana, 3)
	require.NoError(t, ana.Start(false))

	for _, p := range []*player{ana, bo, cy} {
		select {
		case rounds := <-p.finished:
			assert.Equal(t, 3, rounds)
		case <-ctx.Done():
			t.Fatal("game never finished")
		}
	}
	assert.Empty(t, ana.Prompts())

	// The last round's drawing on each surface is mirrored everywhere.
	for seat, p := range []*player{ana, bo, cy} {
		p.mu.Lock()
		surface := p.drawn[3]
		p.mu.Unlock()
		for _, viewer := range []*player{ana, bo, cy} {
			got, ok := viewer.Mirror(surface)
			require.True(t, ok)
			require.NotEmpty(t, got.Points)
			assert.Equal(t, float32(seat*1000+3), got.Points[0].X)
			assert.Len(t, got.LineLengths, 1)

			viewer.mu.Lock()
			strokes := viewer.strokes[surface]
			viewer.mu.Unlock()
			require.Len(t, strokes, 1)
			assert.Len(t, strokes[0].Points, len(got.Points))
			assert.Equal(t, float32(seat*1000+3), strokes[0].Points[0].X)
			assert.Equal(t, drawing.ARGB(0xff, uint8(seat), 3, 0), strokes[0].Color)
		}
	}
	assert.Empty(t, ana.errs)
}

func scribbler(seat, n int) func(round int) []drawing.Stroke {
	return func(round int) []drawing.Stroke { return scribble(seat, round, n) }
}

func waitForRoster(ctx context.Context, t *testing.T, p *player, n int) {
	t.Helper()
	for {
		select {
		case roster := <-p.joined:
			if len(roster) >= n {
				return
			}
		case <-ctx.Done():
			t.Fatal("players never joined")
		}
	}
}

func waitFinished(ctx context.Context, t *testing.T, players ...*player) {
	t.Helper()
	for _, p := range players {
		select {
		case <-p.finished:
		case <-ctx.Done():
			t.Fatal("game never finished")
		}
	}
}

func TestClient_TapsNeverReachViewers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	base, reg := newServer(t, 2)
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	art := func(seat int) func(int) []drawing.Stroke {
		return func(round int) []drawing.Stroke { return tapAndLine(seat, round, 5) }
	}
	ana := join(ctx, t, base, room.Code(), "Ana", art(0))
	<-ana.joined
	bo := join(ctx, t, base, room.Code(), "Bo", art(1))
	waitForRoster(ctx, t, ana, 2)
	require.NoError(t, ana.Start(true))
	waitFinished(ctx, t, ana, bo)

	for _, viewer := range []*player{ana, bo} {
		for surface := range 2 {
			got, ok := viewer.Mirror(surface)
			require.True(t, ok)
			assert.Equal(t, []int{5}, got.LineLengths)
			assert.Len(t, got.Colors, 1)
			assert.NotEqual(t, float32(-1), got.Points[0].X)
		}
	}

	// A creature game deals every surface a distinct prompt.
	prompts := ana.Prompts()
	require.Len(t, prompts, 2)
	assert.NotEqual(t, prompts[0], prompts[1])
	assert.Equal(t, prompts, bo.Prompts())
	assert.Empty(t, ana.errs)
	assert.Empty(t, bo.errs)
}

func TestClient_AdoptsServerStrokeLimit(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// 200 points and 100 strokes fit a 4096 byte frame; 500 strokes would not.
	require.LessOrEqual(t, proto.MaxFrameSize(drawing.DefaultMaxPointsPerChunk, 100), 4096)
	base, reg := newTunedServer(t, 2, match.Options{MaxStrokes: 100}, ws.Config{MaxMessageBytes: 4096})
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	ana := join(ctx, t, base, room.Code(), "Ana", scribbler(0, 30))
	<-ana.joined
	bo := join(ctx, t, base, room.Code(), "Bo", scribbler(1, 30))
	waitForRoster(ctx, t, ana, 2)
	require.NoError(t, ana.Start(false))

	select {
	case m := <-ana.started:
		assert.Equal(t, 100, m.MaxStrokes)
	case <-ctx.Done():
		t.Fatal("game never started")
	}

	line := drawing.Stroke{Points: []drawing.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	huge := make([]drawing.Stroke, 500)
	for i := range huge {
		huge[i] = line
	}
	assert.ErrorIs(t, ana.SubmitDrawing(huge), ErrTooManyStrokes)

	waitFinished(ctx, t, ana, bo)
	assert.Empty(t, ana.left)
	assert.Empty(t, bo.left)
	select {
	case <-ana.Done():
		t.Fatalf("connection closed: %v", ana.Err())
	default:
	}
}

func TestClient_RejectedSubmissionCanBeRetried(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	base, reg := newTunedServer(t, 2, match.Options{MaxStrokes: 1}, ws.Config{})
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	var (
		self   atomic.Pointer[Client]
		retry  sync.Once
		codes  = make(chan string, 8)
		two    = append(scribble(0, 1, 3), scribble(0, 1, 3)...)
		done   = make(chan struct{})
		finish sync.Once
	)
	hooks := Hooks{
		OnStarted: func(proto.Started) {
			if err := self.Load().SubmitDrawing(two); err != nil {
				t.Errorf("first submit: %v", err)
			}
		},
		OnError: func(code, _ string) {
			codes <- code
			retry.Do(func() {
				if err := self.Load().SubmitDrawing(scribble(0, 1, 3)); err != nil {
					t.Errorf("retry: %v", err)
				}
			})
		},
		OnGameFinished: func(int) { finish.Do(func() { close(done) }) },
	}
	// The pinned limit lets the client send more than the server takes.
	ana, err := Dial(ctx, base, room.Code(), "Ana", hooks, WithMaxStrokes(5))
	require.NoError(t, err)
	defer ana.Close()
	self.Store(ana)
	require.Eventually(t, func() bool { return ana.You().ID != "" }, 2*time.Second, 5*time.Millisecond)

	bo := join(ctx, t, base, room.Code(), "Bo", scribbler(1, 3))
	waitForRoster(ctx, t, bo, 2)
	require.NoError(t, ana.Start(false))

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("game never finished")
	}
	waitFinished(ctx, t, bo)
	assert.Equal(t, "bad_submission", <-codes)
	assert.Empty(t, bo.left)
}

func TestClient_SubmitRules(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base, reg := newServer(t, 3)
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	c, err := Dial(ctx, base, room.Code(), "Ana", Hooks{}, WithMaxStrokes(2))
	require.NoError(t, err)
	defer c.Close()

	taps := []drawing.Stroke{{Points: []drawing.Point{{X: 1, Y: 1}}}}
	assert.ErrorIs(t, c.SubmitDrawing(taps), ErrNothingDrawn)
	assert.ErrorIs(t, c.SubmitDrawing(nil), ErrNothingDrawn)

	line := drawing.Stroke{Points: []drawing.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}}
	assert.ErrorIs(t, c.SubmitDrawing([]drawing.Stroke{line, line, line}), ErrTooManyStrokes)
	assert.ErrorIs(t, c.SubmitDrawing([]drawing.Stroke{line}), ErrNotDrawing)
}

func TestClient_KickedClosesConnection(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	base, reg := newServer(t, 3)
	room, err := reg.Create(ctx)
	require.NoError(t, err)

	ana := join(ctx, t, base, room.Code(), "Ana", scribbler(0, 10))
	<-ana.joined

	kicked := make(chan struct{}, 1)
	bo, err := Dial(ctx, base, room.Code(), "Bo", Hooks{OnKicked: func() { kicked <- struct{}{} }})
	require.NoError(t, err)
	defer bo.Close()

	require.Eventually(t, func() bool { return bo.You().ID != "" }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, ana.Kick(bo.You().ID))

	select {
	case <-kicked:
	case <-ctx.Done():
		t.Fatal("kick notice never arrived")
	}
	select {
	case <-bo.Done():
		assert.Error(t, bo.Err())
	case <-ctx.Done():
		t.Fatal("kicked connection stayed open")
	}
	assert.ErrorIs(t, bo.Ping(), ErrClosed)
}

func TestSocketURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base string
		want string
		err  bool
	}{
		{base: "http://localhost:8000", want: "ws://localhost:8000/ws/ABCDEF?name=Ana+B"},
		{base: "https://example.com/", want: "wss://example.com/ws/ABCDEF?name=Ana+B"},
		{base: "ws://h/prefix", want: "ws://h/prefix/ws/ABCDEF?name=Ana+B"},
		{base: "ftp://h", err: true},
	}
	for _, tt := range tests {
		got, err := socketURL(tt.base, "ABCDEF", "Ana B")
		if tt.err {
			assert.Error(t, err, tt.base)
			continue
		}
		require.NoError(t, err, tt.base)
		assert.Equal(t, tt.want, got)
	}
}
