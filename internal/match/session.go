package match

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/engine"
	"github.com/kushgupta-hiver/doodlecorpse/internal/gallery"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

type Options struct {
	MaxPlayers        int
	MinPlayers        int
	TerminalRound     int
	MaxPointsPerChunk int
	MaxStrokes        int
	TickInterval      time.Duration
	FramesPerTick     int
	FrameRate         rate.Limit
	FrameBurst        int
	SubmissionTimeout time.Duration // 0 disables the deadline
	ArchiveTimeout    time.Duration
	InboxSize         int

	// CreaturePrompts is how many mystery creature prompts exist. Creatures
	// is set per game by the host.
	CreaturePrompts int
	Creatures       bool
}

func (o Options) withDefaults() Options {
	if o.MaxPlayers == 0 {
		o.MaxPlayers = 8
	}
	if o.MinPlayers == 0 {
		o.MinPlayers = 2
	}
	if o.TerminalRound == 0 {
		o.TerminalRound = engine.DefaultTerminalRound
	}
	if o.MaxPointsPerChunk == 0 {
		o.MaxPointsPerChunk = drawing.DefaultMaxPointsPerChunk
	}
	if o.MaxStrokes == 0 {
		o.MaxStrokes = 1024
	}
	if o.CreaturePrompts == 0 {
		o.CreaturePrompts = DefaultCreaturePrompts
	}
	if o.TickInterval == 0 {
		o.TickInterval = 16 * time.Millisecond
	}
	if o.FramesPerTick == 0 {
		o.FramesPerTick = 1
	}
	if o.FrameRate == 0 {
		o.FrameRate = rate.Inf
	}
	if o.ArchiveTimeout == 0 {
		o.ArchiveTimeout = 5 * time.Second
	}
	if o.InboxSize == 0 {
		o.InboxSize = 1024
	}
	return o
}

// DefaultCreaturePrompts is the size of the stock creature prompt set.
const DefaultCreaturePrompts = 20

// Archiver stores finished games.
type Archiver interface {
	Archive(ctx context.Context, rec gallery.Record) error
}

// Status is a read-only view of a room for the HTTP API.
type Status struct {
	Code          string        `json:"code"`
	Started       bool          `json:"started"`
	Phase         string        `json:"phase"`
	Round         int           `json:"round"`
	TerminalRound int           `json:"terminalRound"`
	Host          string        `json:"host,omitempty"`
	Participants  []Participant `json:"participants"`
	Prompts       []int         `json:"prompts,omitempty"`
}

type eventKind int

const (
	evMessage eventKind = iota
	evDisconnect
)

type event struct {
	kind      eventKind
	from      string
	binary    bool
	data      []byte
	voluntary bool
}

type handler func(from Participant, data []byte) error

// Session is the authority for one started game. All state is owned by the
// goroutine running Run; other goroutines talk to it through Deliver and
// Disconnect.
type Session struct {
	code     string
	log      zerolog.Logger
	eng      engine.Engine
	state    engine.State
	roster   []Participant
	prompts  []int
	agg      *Aggregator
	out      *Outbox
	sender   Sender
	archiver Archiver
	opts     Options
	now      func() time.Time

	confirmed map[string]bool
	progress  map[string]time.Time
	handlers  map[proto.Kind]handler

	inbox     chan event
	done      chan struct{}
	closeOnce sync.Once
	status    atomic.Pointer[Status]
}

func NewSession(code string, roster []Participant, eng engine.Engine, sender Sender, archiver Archiver, opts Options, log zerolog.Logger) (*Session, error) {
	opts = opts.withDefaults()
	state, err := eng.NewGame(len(roster))
	if err != nil {
		return nil, err
	}
	roster = bySeat(roster)
	var prompts []int
	if opts.Creatures {
		if opts.CreaturePrompts < len(roster) {
			return nil, fmt.Errorf("%w: %d prompts for %d players", ErrNotEnoughPrompts, opts.CreaturePrompts, len(roster))
		}
		prompts = rand.Perm(opts.CreaturePrompts)[:len(roster)]
	}
	s := &Session{
		code:      code,
		log:       log.With().Str("room", code).Logger(),
		eng:       eng,
		state:     state,
		roster:    roster,
		prompts:   prompts,
		agg:       NewAggregator(roster, opts.MaxStrokes),
		out:       NewOutbox(opts.FramesPerTick, opts.FrameRate, opts.FrameBurst),
		sender:    sender,
		archiver:  archiver,
		opts:      opts,
		now:       time.Now,
		confirmed: make(map[string]bool, len(roster)),
		progress:  make(map[string]time.Time, len(roster)),
		inbox:     make(chan event, opts.InboxSize),
		done:      make(chan struct{}),
	}
	s.handlers = map[proto.Kind]handler{
		proto.KindDelivered: s.handleDelivered,
		proto.KindLeave:     s.handleLeave,
		proto.KindPing:      s.handlePing,
		proto.KindStart:     rejectStarted,
		proto.KindKick:      rejectStarted,
	}
	s.beginRound()

	for _, p := range roster {
		surface, _ := eng.SurfaceOf(state, p.Seat)
		s.send(p.ID, proto.KindStarted, &proto.Started{
			Round:         state.Round,
			TerminalRound: state.TerminalRound,
			Surface:       surface,
			Surfaces:      state.Seats,
			MaxPoints:     opts.MaxPointsPerChunk,
			MaxStrokes:    opts.MaxStrokes,
			Roster:        wireRoster(roster),
			Prompts:       prompts,
		})
	}
	s.publish()
	s.log.Info().Int("players", len(roster)).Int("terminal_round", state.TerminalRound).Bool("creatures", prompts != nil).Msg("game started")
	return s, nil
}

// Run processes inbound events and scheduler ticks until ctx is cancelled or
// every participant is gone.
func (s *Session) Run(ctx context.Context, ticks <-chan time.Time) {
	defer s.close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-ticks:
			s.tick(now)
		case ev := <-s.inbox:
			s.handle(ev)
		}
	}
}

func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Status() Status { return *s.status.Load() }

// Deliver queues one inbound transport message from participant id.
func (s *Session) Deliver(ctx context.Context, from string, binary bool, data []byte) error {
	return s.enqueue(ctx, event{kind: evMessage, from: from, binary: binary, data: data})
}

// Disconnect reports that a participant's connection is gone.
func (s *Session) Disconnect(ctx context.Context, id string) error {
	return s.enqueue(ctx, event{kind: evDisconnect, from: id})
}

func (s *Session) enqueue(ctx context.Context, ev event) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrSessionClosed
	case s.inbox <- ev:
		return nil
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) handle(ev event) {
	if ev.kind == evDisconnect {
		s.removeParticipant(ev.from, ev.voluntary)
		return
	}
	p, ok := s.participant(ev.from)
	if !ok {
		return
	}

	var err error
	if ev.binary {
		err = s.handleFrame(p, ev.data)
	} else {
		err = s.dispatch(p, ev.data)
	}
	if err != nil {
		s.log.Debug().Err(err).Str("player", p.ID).Msg("rejected message")
		s.replyError(p.ID, err)
	}
}

func (s *Session) dispatch(p Participant, data []byte) error {
	kind, err := proto.Peek(data)
	if err != nil {
		return err
	}
	h, ok := s.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: %q", proto.ErrUnknownKind, kind)
	}
	return h(p, data)
}

func (s *Session) handleFrame(p Participant, data []byte) error {
	f, err := proto.UnmarshalFrame(data)
	if err != nil {
		return err
	}
	if f.Kind != proto.FrameSubmit {
		return fmt.Errorf("%w: unexpected %s frame", proto.ErrBadFrame, f.Kind)
	}
	return s.submit(p, f)
}

func (s *Session) submit(p Participant, f proto.Frame) error {
	switch s.state.Phase {
	case engine.Drawing:
	case engine.Paused:
		return engine.ErrPaused
	case engine.Finished:
		return engine.ErrTerminal
	default:
		return engine.ErrNotDrawing
	}
	if f.Round != s.state.Round {
		return fmt.Errorf("%w: got %d, round is %d", ErrWrongRound, f.Round, s.state.Round)
	}

	res, err := s.agg.Accept(f.Chunk, p.ID)
	if errors.Is(err, ErrAlreadySubmitted) {
		s.log.Debug().Str("player", p.ID).Int("surface", f.Chunk.SurfaceIndex).Msg("ignoring redelivered submission")
		return nil
	}
	if err != nil {
		delete(s.progress, p.ID)
		return err
	}
	if res.Stale != nil {
		s.log.Info().Err(res.Stale).Str("player", p.ID).Msg("submission restarted")
	}
	if res.Completed == nil {
		s.progress[p.ID] = s.now()
		return nil
	}

	delete(s.progress, p.ID)
	s.log.Info().
		Str("player", p.ID).
		Int("round", s.state.Round).
		Int("surface", res.Completed.Surface).
		Int("points", len(res.Completed.Drawing.Points)).
		Msg("surface submitted")
	s.queueSurface(proto.FrameLive, *res.Completed)

	if !res.RoundComplete {
		s.sendTo(res.Notify, proto.KindWaiting, &proto.Waiting{Names: res.Waiting})
		s.publish()
		return nil
	}

	next, err := s.eng.RoundComplete(s.state)
	if err != nil {
		return err
	}
	s.state = next
	clear(s.confirmed)
	s.broadcast(proto.KindWaitingCleared, nil)
	for _, sd := range res.Final {
		s.queueSurface(proto.FrameFinal, sd)
	}
	s.log.Info().Int("round", s.state.Round).Msg("round complete, broadcasting")
	s.publish()
	return nil
}

// queueSurface chunks one surface into the outbox for every participant. An
// empty surface still gets a zero-total marker so receivers complete.
func (s *Session) queueSurface(kind proto.FrameKind, sd SurfaceDrawing) {
	chunks := drawing.Encode(sd.Surface, sd.Drawing, s.opts.MaxPointsPerChunk)
	if len(chunks) == 0 {
		chunks = []drawing.Chunk{{SurfaceIndex: sd.Surface}}
	}
	to := ids(s.roster)
	for _, c := range chunks {
		s.out.Push(to, Outgoing{Binary: true, Data: proto.MarshalFrame(proto.Frame{Kind: kind, Round: s.state.Round, Chunk: c})})
	}
}

func (s *Session) handleDelivered(p Participant, data []byte) error {
	var m proto.Delivered
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: %w", proto.ErrBadFrame, err)
	}
	if s.state.Phase != engine.Broadcasting || m.Round != s.state.Round {
		s.log.Debug().Str("player", p.ID).Int("round", m.Round).Msg("ignoring late delivery confirmation")
		return nil
	}
	s.confirmed[p.ID] = true
	for _, q := range s.roster {
		if !s.confirmed[q.ID] {
			return nil
		}
	}
	return s.advance()
}

func (s *Session) advance() error {
	next, err := s.eng.Advance(s.state)
	if err != nil {
		return err
	}
	s.state = next
	if next.Phase == engine.Finished {
		s.finish()
		return nil
	}

	s.beginRound()
	for _, p := range s.roster {
		surface, _ := s.eng.SurfaceOf(s.state, p.Seat)
		s.send(p.ID, proto.KindRoundAdvanced, &proto.RoundAdvanced{Round: s.state.Round, Surface: surface})
	}
	s.log.Info().Int("round", s.state.Round).Msg("round advanced")
	s.publish()
	return nil
}

func (s *Session) beginRound() {
	owners := make(map[int]Participant, len(s.roster))
	for _, p := range s.roster {
		surface, err := s.eng.SurfaceOf(s.state, p.Seat)
		if err != nil {
			s.log.Error().Err(err).Str("player", p.ID).Msg("no surface for seat")
			continue
		}
		owners[surface] = p
	}
	s.agg.BeginRound(s.state.Round, owners)
	clear(s.confirmed)
	clear(s.progress)
}

func (s *Session) finish() {
	rounds := s.state.Round - 1
	s.broadcast(proto.KindFinished, &proto.Finished{Rounds: rounds})
	s.publish()
	s.log.Info().Int("rounds", rounds).Msg("game finished")

	if s.archiver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.ArchiveTimeout)
	defer cancel()
	if err := s.archiver.Archive(ctx, s.record()); err != nil {
		s.log.Error().Err(err).Msg("archive finished game")
	}
}

func (s *Session) record() gallery.Record {
	rec := gallery.Record{
		Code:       s.code,
		FinishedAt: s.now().UTC(),
		Rounds:     s.state.Round - 1,
	}
	for _, p := range s.roster {
		rec.Participants = append(rec.Participants, p.Name)
	}
	for _, st := range s.agg.Surfaces() {
		surface := gallery.Surface{Index: st.Surface}
		if st.Surface < len(s.prompts) {
			prompt := s.prompts[st.Surface]
			surface.Prompt = &prompt
		}
		for _, part := range st.Parts {
			surface.Parts = append(surface.Parts, gallery.Part{
				Round:   part.Round,
				Seat:    part.Seat,
				Artist:  part.Name,
				Drawing: part.Drawing,
			})
		}
		rec.Surfaces = append(rec.Surfaces, surface)
	}
	return rec
}

func (s *Session) handleLeave(p Participant, _ []byte) error {
	s.removeParticipant(p.ID, true)
	return nil
}

func (s *Session) handlePing(p Participant, _ []byte) error {
	s.send(p.ID, proto.KindPong, nil)
	return nil
}

func rejectStarted(Participant, []byte) error { return ErrAlreadyStarted }

// removeParticipant purges a participant that left or was dropped. Any
// departure before the game finishes pauses drawing for everyone.
func (s *Session) removeParticipant(id string, voluntary bool) {
	p, ok := s.participant(id)
	if !ok {
		return
	}
	kept := s.roster[:0]
	for _, q := range s.roster {
		if q.ID != id {
			kept = append(kept, q)
		}
	}
	s.roster = kept
	s.agg.Purge(id)
	s.out.Forget(id)
	delete(s.confirmed, id)
	delete(s.progress, id)

	if s.state.Phase != engine.Finished {
		s.state = s.eng.Pause(s.state)
		s.broadcast(proto.KindPlayerLeft, &proto.PlayerLeft{Name: p.Name})
		if voluntary {
			s.send(id, proto.KindPlayerLeft, &proto.PlayerLeft{Name: p.Name, You: true})
		}
	}
	s.log.Info().Str("player", id).Bool("voluntary", voluntary).Int("remaining", len(s.roster)).Msg("player left")
	s.publish()

	if len(s.roster) == 0 {
		s.close()
	}
}

func (s *Session) tick(now time.Time) {
	s.out.Drain(now, func(to string, msg Outgoing) {
		if err := s.sender.Send(to, msg); err != nil {
			s.log.Warn().Err(err).Str("player", to).Msg("send frame")
		}
	})

	if s.opts.SubmissionTimeout <= 0 || s.state.Phase != engine.Drawing {
		return
	}
	for id, last := range s.progress {
		// A drop pauses the session; nobody else is stalled while paused.
		if s.state.Phase != engine.Drawing {
			return
		}
		if now.Sub(last) < s.opts.SubmissionTimeout {
			continue
		}
		if !s.agg.InFlight(id) {
			delete(s.progress, id)
			continue
		}
		s.log.Warn().Str("player", id).Dur("stalled", now.Sub(last)).Msg("dropping stalled submission")
		s.sender.Drop(id, "submission timed out")
		s.removeParticipant(id, false)
	}
}

func (s *Session) participant(id string) (Participant, bool) {
	for _, p := range s.roster {
		if p.ID == id {
			return p, true
		}
	}
	return Participant{}, false
}

func (s *Session) publish() {
	s.status.Store(&Status{
		Code:          s.code,
		Started:       true,
		Phase:         s.state.Phase.String(),
		Round:         s.state.Round,
		TerminalRound: s.state.TerminalRound,
		Participants:  append([]Participant(nil), s.roster...),
		Prompts:       s.prompts,
	})
}

func (s *Session) send(to string, kind proto.Kind, v any) {
	data, err := proto.Encode(kind, v)
	if err != nil {
		s.log.Error().Err(err).Str("kind", string(kind)).Msg("encode message")
		return
	}
	if err := s.sender.Send(to, Outgoing{Data: data}); err != nil {
		s.log.Warn().Err(err).Str("player", to).Str("kind", string(kind)).Msg("send message")
	}
}

func (s *Session) sendTo(to []string, kind proto.Kind, v any) {
	for _, id := range to {
		s.send(id, kind, v)
	}
}

func (s *Session) broadcast(kind proto.Kind, v any) {
	s.sendTo(ids(s.roster), kind, v)
}

func (s *Session) replyError(to string, err error) {
	s.send(to, proto.KindError, &proto.Error{Code: ErrorCode(err), Detail: err.Error()})
}
