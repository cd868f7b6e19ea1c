package ws

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"

	"github.com/kushgupta-hiver/doodlecorpse/internal/match"
)

// Config tunes connection handling.
type Config struct {
	MaxMessageBytes int64
	SendQueue       int
	WriteTimeout    time.Duration
	InboundRate     rate.Limit
	InboundBurst    int
	OriginPatterns  []string
}

func (c Config) withDefaults() Config {
	if c.MaxMessageBytes == 0 {
		c.MaxMessageBytes = 32 << 10
	}
	if c.SendQueue == 0 {
		c.SendQueue = 512
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.InboundRate == 0 {
		c.InboundRate = rate.Inf
	}
	if c.InboundBurst == 0 {
		c.InboundBurst = 1
	}
	return c
}

// Server is an HTTP handler that upgrades /ws/<code>?name=<display name> to a
// WebSocket and attaches the connection to that room.
type Server interface {
	http.Handler
}

type server struct {
	cfg Config
	reg match.Registry
	hub *Hub
	log zerolog.Logger
}

func NewServer(cfg Config, reg match.Registry, hub *Hub, log zerolog.Logger) Server {
	return &server{cfg: cfg.withDefaults(), reg: reg, hub: hub, log: log}
}

type conn struct {
	id      string
	ws      *websocket.Conn
	out     chan match.Outgoing
	closed  chan struct{}
	once    sync.Once
	mu      sync.Mutex
	reason  string
	limiter *rate.Limiter
}

func (c *conn) shutdown(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()
		close(c.closed)
	})
}

func (c *conn) closeReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	code := path.Base(strings.TrimSuffix(r.URL.Path, "/"))
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, match.ErrNameRequired.Error(), http.StatusBadRequest)
		return
	}
	room, err := s.reg.Lookup(code)
	switch {
	case errors.Is(err, match.ErrBadCode):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket accept")
		return
	}
	wsConn.SetReadLimit(s.cfg.MaxMessageBytes)

	c := &conn{
		id:      uuid.NewString(),
		ws:      wsConn,
		out:     make(chan match.Outgoing, s.cfg.SendQueue),
		closed:  make(chan struct{}),
		limiter: rate.NewLimiter(s.cfg.InboundRate, s.cfg.InboundBurst),
	}
	log := s.log.With().Str("room", room.Code()).Str("player", c.id).Logger()

	// Register first so the welcome produced by Join reaches the socket.
	s.hub.register(c)
	defer s.hub.unregister(c.id)

	if _, err := room.Join(r.Context(), c.id, name); err != nil {
		log.Info().Err(err).Msg("join refused")
		_ = wsConn.Close(websocket.StatusPolicyViolation, match.ErrorCode(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump(ctx, c, log)
	}()

	s.readPump(ctx, c, room, log)
	c.shutdown("")

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer leaveCancel()
	if err := room.Leave(leaveCtx, c.id); err != nil {
		log.Warn().Err(err).Msg("leave room")
	}
	<-writerDone
}

func (s *server) readPump(ctx context.Context, c *conn, room match.Room, log zerolog.Logger) {
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == -1 {
				log.Debug().Err(err).Msg("read")
			}
			return
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return
		}
		if err := room.Deliver(ctx, c.id, typ == websocket.MessageBinary, data); err != nil {
			log.Debug().Err(err).Msg("deliver")
			if errors.Is(err, match.ErrSessionClosed) || errors.Is(err, match.ErrUnknownPlayer) {
				return
			}
		}
	}
}

// writePump owns all writes to the socket. When the connection is shut down
// it flushes what is already queued, then closes with the recorded reason.
func (s *server) writePump(ctx context.Context, c *conn, log zerolog.Logger) {
	write := func(msg match.Outgoing) bool {
		typ := websocket.MessageText
		if msg.Binary {
			typ = websocket.MessageBinary
		}
		wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		defer cancel()
		if err := c.ws.Write(wctx, typ, msg.Data); err != nil {
			log.Debug().Err(err).Msg("write")
			return false
		}
		return true
	}

	for {
		select {
		case msg := <-c.out:
			if !write(msg) {
				c.shutdown("write failed")
				_ = c.ws.Close(websocket.StatusInternalError, "write failed")
				return
			}
		case <-c.closed:
			for len(c.out) > 0 {
				if !write(<-c.out) {
					_ = c.ws.Close(websocket.StatusInternalError, "write failed")
					return
				}
			}
			status := websocket.StatusNormalClosure
			reason := c.closeReason()
			if reason != "" {
				status = websocket.StatusPolicyViolation
			}
			_ = c.ws.Close(status, reason)
			return
		}
	}
}
