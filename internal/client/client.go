// Package client is a participant-side connection to a doodlecorpse server. It
// submits the local drawing in chunks, mirrors every surface the authority
// fans out, and confirms delivery so rounds can advance.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

var (
	ErrNothingDrawn   = errors.New("nothing drawn")
	ErrTooManyStrokes = errors.New("too many strokes for one surface")
	ErrNotDrawing     = errors.New("not drawing right now")
	ErrClosed         = errors.New("connection closed")
)

// Hooks are called from the client's read goroutine. Any may be nil.
type Hooks struct {
	OnWelcome           func(you proto.Participant, code, host string, roster []proto.Participant)
	OnRoster            func(host string, roster []proto.Participant)
	OnStarted           func(m proto.Started)
	OnDrawingUpdated    func(surface int, strokes []drawing.Stroke, final bool)
	OnWaitingForPlayers func(names []string)
	OnWaitingCleared    func()
	OnRoundAdvanced     func(round, surface int)
	OnGameFinished      func(rounds int)
	OnPlayerLeft        func(name string, you bool)
	OnKicked            func()
	OnError             func(code, detail string)
}

type Option func(*Client)

func WithLogger(l zerolog.Logger) Option { return func(c *Client) { c.log = l } }

// WithMaxStrokes pins how many strokes SubmitDrawing accepts instead of
// adopting the limit the server announces on start.
func WithMaxStrokes(n int) Option {
	return func(c *Client) { c.maxStrokes, c.pinnedStrokes = n, true }
}

type outgoing struct {
	binary bool
	data   []byte
}

type Client struct {
	conn          *websocket.Conn
	send          chan outgoing
	hooks         Hooks
	log           zerolog.Logger
	pinnedStrokes bool

	mu         sync.Mutex
	you        proto.Participant
	drawing    bool
	pending    bool // a submission is out and not yet rejected
	round      int
	surface    int
	surfaces   int
	maxPoints  int
	maxStrokes int
	prompts    []int
	live      *drawing.Assembler
	final     *drawing.Assembler
	mirror    map[int]drawing.MultiLineData
	delivered map[int]bool

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	err      error
}

// Dial joins room code on the server at base (http:// or ws:// URL) as name.
func Dial(ctx context.Context, base, code, name string, hooks Hooks, opts ...Option) (*Client, error) {
	u, err := socketURL(base, code, name)
	if err != nil {
		return nil, err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}

	c := &Client{
		conn:       conn,
		send:       make(chan outgoing, 256),
		hooks:      hooks,
		log:        zerolog.Nop(),
		maxStrokes: 1024,
		maxPoints:  drawing.DefaultMaxPointsPerChunk,
		live:       drawing.NewAssembler(),
		final:      drawing.NewAssembler(),
		mirror:     make(map[int]drawing.MultiLineData),
		delivered:  make(map[int]bool),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readPump()
	go c.writePump()
	return c, nil
}

func socketURL(base, code, name string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/" + url.PathEscape(code)
	u.RawQuery = url.Values{"name": {name}}.Encode()
	return u.String(), nil
}

// Start asks the server to start the game. Only the host may. With creatures
// set every surface gets a mystery creature prompt.
func (c *Client) Start(creatures bool) error {
	return c.sendJSON(proto.KindStart, &proto.Start{Creatures: creatures})
}

func (c *Client) Kick(id string) error { return c.sendJSON(proto.KindKick, &proto.Kick{ID: id}) }

func (c *Client) Ping() error { return c.sendJSON(proto.KindPing, nil) }

// Leave tells the server this participant is leaving on purpose.
func (c *Client) Leave() error { return c.sendJSON(proto.KindLeave, nil) }

// SubmitDrawing sends the local drawing for the current round's surface.
// Strokes under two points are dropped first.
func (c *Client) SubmitDrawing(strokes []drawing.Stroke) error {
	data := drawing.Flatten(strokes)
	if data.Empty() {
		return ErrNothingDrawn
	}

	c.mu.Lock()
	if limit := c.maxStrokes; len(data.LineLengths) > limit {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d > %d", ErrTooManyStrokes, len(data.LineLengths), limit)
	}
	if !c.drawing {
		c.mu.Unlock()
		return ErrNotDrawing
	}
	round, surface, maxPoints := c.round, c.surface, c.maxPoints
	c.drawing, c.pending = false, true
	c.mu.Unlock()

	for _, chunk := range drawing.Encode(surface, data, maxPoints) {
		frame := proto.MarshalFrame(proto.Frame{Kind: proto.FrameSubmit, Round: round, Chunk: chunk})
		if err := c.enqueue(outgoing{binary: true, data: frame}); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) You() proto.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.you
}

// Assignment returns the current round and the surface this participant
// draws on.
func (c *Client) Assignment() (round, surface int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.round, c.surface
}

// Prompts returns the creature prompt index of every surface, or nil when the
// game has none.
func (c *Client) Prompts() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.prompts)
}

// Mirror returns the latest reassembled drawing of surface.
func (c *Client) Mirror(surface int) (drawing.MultiLineData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.mirror[surface]
	return d, ok
}

func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended. It is nil until Done is closed.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Close() error {
	c.stop()
	<-c.done
	return nil
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

func (c *Client) sendJSON(kind proto.Kind, v any) error {
	b, err := proto.Encode(kind, v)
	if err != nil {
		return err
	}
	return c.enqueue(outgoing{data: b})
}

func (c *Client) enqueue(m outgoing) error {
	select {
	case <-c.quit:
		return ErrClosed
	default:
	}
	select {
	case <-c.quit:
		return ErrClosed
	case <-c.done:
		return ErrClosed
	case c.send <- m:
		return nil
	}
}

func (c *Client) writePump() {
	for {
		select {
		case m := <-c.send:
			typ := websocket.TextMessage
			if m.binary {
				typ = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(typ, m.data); err != nil {
				c.log.Debug().Err(err).Msg("write")
				c.stop()
				_ = c.conn.Close()
				return
			}
		case <-c.quit:
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			_ = c.conn.Close()
			return
		}
	}
}

func (c *Client) readPump() {
	defer close(c.done)
	defer c.stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}
		if typ == websocket.BinaryMessage {
			err = c.handleFrame(data)
		} else {
			err = c.handleText(data)
		}
		if err != nil {
			c.log.Warn().Err(err).Msg("bad message from server")
		}
	}
}

func (c *Client) handleFrame(data []byte) error {
	f, err := proto.UnmarshalFrame(data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	asm := c.live
	if f.Kind == proto.FrameFinal {
		asm = c.final
	}
	merged, done, err := asm.Add(f.Chunk)
	if err != nil && !errors.Is(err, drawing.ErrStaleSubmission) {
		c.mu.Unlock()
		return err
	}
	if !done {
		c.mu.Unlock()
		return nil
	}
	surface := f.Chunk.SurfaceIndex
	strokes, err := drawing.Rebuild(merged)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("surface %d: %w", surface, err)
	}
	c.mirror[surface] = merged

	confirm := false
	if f.Kind == proto.FrameFinal {
		c.delivered[surface] = true
		if len(c.delivered) >= c.surfaces {
			clear(c.delivered)
			confirm = true
		}
	}
	c.mu.Unlock()

	if h := c.hooks.OnDrawingUpdated; h != nil {
		h(surface, strokes, f.Kind == proto.FrameFinal)
	}
	if confirm {
		return c.sendJSON(proto.KindDelivered, &proto.Delivered{Round: f.Round})
	}
	return nil
}

func (c *Client) handleText(data []byte) error {
	kind, err := proto.Peek(data)
	if err != nil {
		return err
	}

	switch kind {
	case proto.KindWelcome:
		var m proto.Welcome
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.you = m.You
		c.mu.Unlock()
		if h := c.hooks.OnWelcome; h != nil {
			h(m.You, m.Code, m.Host, m.Roster)
		}

	case proto.KindRoster:
		var m proto.Roster
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		for _, p := range m.Roster {
			if p.ID == c.you.ID {
				c.you = p
			}
		}
		c.mu.Unlock()
		if h := c.hooks.OnRoster; h != nil {
			h(m.Host, m.Roster)
		}

	case proto.KindStarted:
		var m proto.Started
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.round, c.surface, c.surfaces = m.Round, m.Surface, m.Surfaces
		if m.MaxPoints > 0 {
			c.maxPoints = m.MaxPoints
		}
		if m.MaxStrokes > 0 && !c.pinnedStrokes {
			c.maxStrokes = m.MaxStrokes
		}
		c.prompts = m.Prompts
		c.drawing, c.pending = true, false
		c.mu.Unlock()
		if h := c.hooks.OnStarted; h != nil {
			h(m)
		}

	case proto.KindWaiting:
		var m proto.Waiting
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		if h := c.hooks.OnWaitingForPlayers; h != nil {
			h(m.Names)
		}

	case proto.KindWaitingCleared:
		if h := c.hooks.OnWaitingCleared; h != nil {
			h()
		}

	case proto.KindRoundAdvanced:
		var m proto.RoundAdvanced
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.round, c.surface = m.Round, m.Surface
		c.drawing, c.pending = true, false
		clear(c.delivered)
		c.mu.Unlock()
		if h := c.hooks.OnRoundAdvanced; h != nil {
			h(m.Round, m.Surface)
		}

	case proto.KindFinished:
		var m proto.Finished
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.drawing, c.pending = false, false
		c.mu.Unlock()
		if h := c.hooks.OnGameFinished; h != nil {
			h(m.Rounds)
		}

	case proto.KindPlayerLeft:
		var m proto.PlayerLeft
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.mu.Lock()
		c.drawing, c.pending = false, false
		c.mu.Unlock()
		if h := c.hooks.OnPlayerLeft; h != nil {
			h(m.Name, m.You)
		}

	case proto.KindKicked:
		if h := c.hooks.OnKicked; h != nil {
			h()
		}

	case proto.KindError:
		var m proto.Error
		if err := json.Unmarshal(data, &m); err != nil {
			return err
		}
		c.log.Debug().Str("code", m.Code).Str("detail", m.Detail).Msg("server rejected message")
		// A rejected submission left the surface undrawn; let the caller
		// try again.
		switch m.Code {
		case "bad_submission", "paused":
			c.mu.Lock()
			if c.pending {
				c.drawing, c.pending = true, false
			}
			c.mu.Unlock()
		}
		if h := c.hooks.OnError; h != nil {
			h(m.Code, m.Detail)
		}

	case proto.KindPong:
	default:
		return fmt.Errorf("%w: %q", proto.ErrUnknownKind, kind)
	}
	return nil
}
