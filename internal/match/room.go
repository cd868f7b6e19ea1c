package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kushgupta-hiver/doodlecorpse/internal/engine"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

// Deps are the collaborators every room shares.
type Deps struct {
	Engine   engine.Engine
	Sender   Sender
	Archiver Archiver // optional
	Ticker   TickerFactory
	Options  Options
	Log      zerolog.Logger
}

// Room is a lobby that turns into a drawing session once the host starts it.
type Room interface {
	Code() string
	Join(ctx context.Context, id, name string) (Participant, error)
	Deliver(ctx context.Context, from string, binary bool, data []byte) error
	// Start turns the lobby into a session. creatures deals a mystery
	// creature prompt to every surface.
	Start(ctx context.Context, by string, creatures bool) error
	Kick(ctx context.Context, by, target string) error
	Leave(ctx context.Context, id string) error
	Status() Status
}

type room struct {
	code    string
	deps    Deps
	base    context.Context
	log     zerolog.Logger
	onClose func(code string)

	mu      sync.Mutex
	players []Participant // join order; Seat is the index
	host    string
	session *Session
	closed  bool
	lobby   map[proto.Kind]handler
}

// NewRoom returns an empty lobby. base bounds the lifetime of the session
// goroutine; onClose runs once when the room empties or its session ends.
func NewRoom(base context.Context, code string, deps Deps, onClose func(code string)) Room {
	deps.Options = deps.Options.withDefaults()
	if deps.Ticker == nil {
		deps.Ticker = RealTicker
	}
	if onClose == nil {
		onClose = func(string) {}
	}
	r := &room{
		code:    code,
		deps:    deps,
		base:    base,
		log:     deps.Log.With().Str("room", code).Logger(),
		onClose: onClose,
		players: make([]Participant, 0, deps.Options.MaxPlayers),
	}
	r.lobby = map[proto.Kind]handler{
		proto.KindStart: r.handleStart,
		proto.KindKick:  r.handleKick,
		proto.KindLeave: func(p Participant, _ []byte) error {
			r.remove(p.ID)
			return nil
		},
		proto.KindPing: func(p Participant, _ []byte) error {
			r.send(p.ID, proto.KindPong, nil)
			return nil
		},
		proto.KindDelivered: func(Participant, []byte) error { return ErrNotStarted },
	}
	return r
}

func (r *room) Code() string { return r.code }

func (r *room) Join(_ context.Context, id, name string) (Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Participant{}, ErrNameRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return Participant{}, ErrRoomNotFound
	}
	if r.session != nil {
		return Participant{}, ErrAlreadyStarted
	}
	// Rejoin with the same id is idempotent.
	if i := r.index(id); i >= 0 {
		return r.players[i], nil
	}
	if len(r.players) >= r.deps.Options.MaxPlayers {
		return Participant{}, ErrRoomFull
	}

	p := Participant{ID: id, Name: name, Seat: len(r.players)}
	r.players = append(r.players, p)
	if r.host == "" {
		r.host = id
	}
	r.send(id, proto.KindWelcome, &proto.Welcome{
		You:    p.wire(),
		Code:   r.code,
		Host:   r.host,
		Roster: wireRoster(r.players),
	})
	r.broadcastRoster()
	r.log.Info().Str("player", id).Str("name", name).Int("seat", p.Seat).Msg("player joined")
	return p, nil
}

func (r *room) Deliver(ctx context.Context, from string, binary bool, data []byte) error {
	r.mu.Lock()
	if s := r.session; s != nil {
		r.mu.Unlock()
		return s.Deliver(ctx, from, binary, data)
	}
	defer r.mu.Unlock()

	i := r.index(from)
	if i < 0 {
		return ErrUnknownPlayer
	}
	p := r.players[i]
	if err := r.dispatchLobby(p, binary, data); err != nil {
		r.log.Debug().Err(err).Str("player", from).Msg("rejected lobby message")
		r.send(from, proto.KindError, &proto.Error{Code: ErrorCode(err), Detail: err.Error()})
	}
	return nil
}

func (r *room) dispatchLobby(p Participant, binary bool, data []byte) error {
	if binary {
		return ErrNotStarted
	}
	kind, err := proto.Peek(data)
	if err != nil {
		return err
	}
	h, ok := r.lobby[kind]
	if !ok {
		return fmt.Errorf("%w: %q", proto.ErrUnknownKind, kind)
	}
	return h(p, data)
}

func (r *room) handleKick(p Participant, data []byte) error {
	var m proto.Kick
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrBadFrame, err)
	}
	return r.kick(p.ID, m.ID)
}

func (r *room) Start(_ context.Context, by string, creatures bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return ErrAlreadyStarted
	}
	return r.start(by, creatures)
}

func (r *room) handleStart(p Participant, data []byte) error {
	var m proto.Start
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrBadFrame, err)
	}
	return r.start(p.ID, m.Creatures)
}

// start forms the session from the current lobby. Callers hold r.mu.
func (r *room) start(by string, creatures bool) error {
	if by != r.host {
		return ErrNotHost
	}
	if len(r.players) < r.deps.Options.MinPlayers {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughPlayers, len(r.players), r.deps.Options.MinPlayers)
	}

	opts := r.deps.Options
	opts.Creatures = creatures
	s, err := NewSession(r.code, r.players, r.deps.Engine, r.deps.Sender, r.deps.Archiver, opts, r.deps.Log)
	if err != nil {
		return err
	}
	r.session = s

	ticks, stop := r.deps.Ticker(r.deps.Options.TickInterval)
	go func() {
		defer stop()
		s.Run(r.base, ticks)
	}()
	go func() {
		<-s.Done()
		r.mu.Lock()
		defer r.mu.Unlock()
		r.close()
	}()
	return nil
}

func (r *room) Kick(_ context.Context, by, target string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		return ErrAlreadyStarted
	}
	return r.kick(by, target)
}

func (r *room) kick(by, target string) error {
	if by != r.host {
		return ErrNotHost
	}
	if by == target {
		return ErrCannotKickSelf
	}
	if r.index(target) < 0 {
		return ErrUnknownPlayer
	}
	r.send(target, proto.KindKicked, nil)
	r.deps.Sender.Drop(target, "kicked by host")
	r.remove(target)
	return nil
}

func (r *room) Leave(ctx context.Context, id string) error {
	r.mu.Lock()
	if s := r.session; s != nil {
		r.mu.Unlock()
		if err := s.Disconnect(ctx, id); err != nil && !errors.Is(err, ErrSessionClosed) {
			return err
		}
		return nil
	}
	defer r.mu.Unlock()
	r.remove(id)
	return nil
}

// remove drops a lobby participant and reseats the rest in join order.
// Callers hold r.mu.
func (r *room) remove(id string) {
	i := r.index(id)
	if i < 0 {
		return
	}
	r.players = append(r.players[:i], r.players[i+1:]...)
	for j := range r.players {
		r.players[j].Seat = j
	}
	if r.host == id {
		r.host = ""
		if len(r.players) > 0 {
			r.host = r.players[0].ID
		}
	}
	r.log.Info().Str("player", id).Int("remaining", len(r.players)).Msg("player left lobby")

	if len(r.players) == 0 {
		r.close()
		return
	}
	r.broadcastRoster()
}

func (r *room) close() {
	if r.closed {
		return
	}
	r.closed = true
	r.onClose(r.code)
}

func (r *room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session != nil {
		st := r.session.Status()
		st.Host = r.host
		return st
	}
	return Status{
		Code:          r.code,
		Phase:         "lobby",
		TerminalRound: r.deps.Options.TerminalRound,
		Host:          r.host,
		Participants:  append([]Participant(nil), r.players...),
	}
}

func (r *room) index(id string) int {
	for i, p := range r.players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *room) broadcastRoster() {
	msg := &proto.Roster{Host: r.host, Roster: wireRoster(r.players)}
	for _, p := range r.players {
		r.send(p.ID, proto.KindRoster, msg)
	}
}

func (r *room) send(to string, kind proto.Kind, v any) {
	data, err := proto.Encode(kind, v)
	if err != nil {
		r.log.Error().Err(err).Str("kind", string(kind)).Msg("encode message")
		return
	}
	if err := r.deps.Sender.Send(to, Outgoing{Data: data}); err != nil {
		r.log.Warn().Err(err).Str("player", to).Msg("send message")
	}
}
