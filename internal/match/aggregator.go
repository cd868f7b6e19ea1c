package match

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
)

// MaxSubmissionChunks bounds the declared total of a single submission.
const MaxSubmissionChunks = 1024

// SurfaceState is the authority's canonical record of one surface for the
// current round.
type SurfaceState struct {
	Surface   int
	OwnerID   string
	OwnerName string
	Seat      int
	Done      bool
	Drawing   drawing.MultiLineData
	Parts     []Part
}

// Part is one finished round of one surface.
type Part struct {
	Round   int
	Seat    int
	Name    string
	Drawing drawing.MultiLineData
}

// SurfaceDrawing pairs a surface with its finalized drawing for fan-out.
type SurfaceDrawing struct {
	Surface int
	Drawing drawing.MultiLineData
}

// Accepted describes what one chunk did to the aggregate.
type Accepted struct {
	// Completed is set when the chunk finished a submission.
	Completed *SurfaceDrawing
	// Stale reports a replaced in-flight buffer. Informational only.
	Stale error
	// RoundComplete is set when every participant is done; Final then holds
	// every surface for the end-of-round fan-out.
	RoundComplete bool
	Final         []SurfaceDrawing
	// Waiting lists names still drawing; Notify lists the participants that
	// already finished and should see it.
	Waiting []string
	Notify  []string
}

// Aggregator buffers and merges submissions on the authority and decides
// when a round is complete. It is owned by a single session goroutine.
type Aggregator struct {
	asm       *drawing.Assembler
	states    map[int]*SurfaceState
	completed map[string]bool
	roster    map[string]Participant
	round     int
	maxStroke int
}

// NewAggregator tracks submissions from roster. maxStrokes caps the strokes
// of one surface; zero means no cap.
func NewAggregator(roster []Participant, maxStrokes int) *Aggregator {
	a := &Aggregator{
		maxStroke: maxStrokes,
		asm:       drawing.NewAssembler(),
		states:    make(map[int]*SurfaceState, len(roster)),
		completed: make(map[string]bool, len(roster)),
		roster:    make(map[string]Participant, len(roster)),
	}
	for _, p := range roster {
		a.roster[p.ID] = p
	}
	return a
}

// BeginRound assigns each surface its owner for round and clears every
// completion flag. owners maps surface index to participant.
func (a *Aggregator) BeginRound(round int, owners map[int]Participant) {
	a.round = round
	a.asm.Reset()
	clear(a.completed)
	for surface, p := range owners {
		st, ok := a.states[surface]
		if !ok {
			st = &SurfaceState{Surface: surface}
			a.states[surface] = st
		}
		st.OwnerID = p.ID
		st.OwnerName = p.Name
		st.Seat = p.Seat
		st.Done = false
		st.Drawing = drawing.MultiLineData{}
	}
}

// Accept buffers one chunk from sender.
func (a *Aggregator) Accept(c drawing.Chunk, sender string) (Accepted, error) {
	st, ok := a.states[c.SurfaceIndex]
	if !ok {
		return Accepted{}, fmt.Errorf("%w: %d", ErrUnknownSurface, c.SurfaceIndex)
	}
	if st.OwnerID != sender {
		return Accepted{}, fmt.Errorf("%w: surface %d", ErrNotYourSurface, c.SurfaceIndex)
	}
	if st.Done {
		return Accepted{}, ErrAlreadySubmitted
	}
	if c.TotalChunks == 0 {
		return Accepted{}, fmt.Errorf("%w: empty submission", ErrBadSubmission)
	}
	if c.TotalChunks > MaxSubmissionChunks {
		return Accepted{}, fmt.Errorf("%w: %d chunks", ErrBadSubmission, c.TotalChunks)
	}
	// Every chunk repeats the full stroke arrays, so one chunk is enough to
	// judge the whole submission.
	if a.maxStroke > 0 && (len(c.LineLengths) > a.maxStroke || len(c.Colors) > a.maxStroke) {
		a.asm.Drop(c.SurfaceIndex)
		return Accepted{}, fmt.Errorf("%w: %w: %d > %d", ErrBadSubmission, ErrTooManyStrokes, len(c.LineLengths), a.maxStroke)
	}

	data, done, err := a.asm.Add(c)
	var res Accepted
	if errors.Is(err, drawing.ErrStaleSubmission) {
		res.Stale = err
	} else if err != nil {
		a.asm.Drop(c.SurfaceIndex)
		return Accepted{}, fmt.Errorf("%w: %w", ErrBadSubmission, err)
	}
	if !done {
		return res, nil
	}
	if err := data.Validate(); err != nil {
		return res, fmt.Errorf("%w: %w", ErrBadSubmission, err)
	}

	st.Drawing = data
	st.Done = true
	a.completed[sender] = true
	res.Completed = &SurfaceDrawing{Surface: c.SurfaceIndex, Drawing: data}

	if a.RoundComplete() {
		res.RoundComplete = true
		res.Final = a.closeRound()
		return res, nil
	}
	res.Waiting = a.Waiting()
	res.Notify = a.Completed()
	return res, nil
}

// RoundComplete is true iff every participant has a surface state and every
// state is done.
func (a *Aggregator) RoundComplete() bool {
	owned := make(map[string]bool, len(a.states))
	for _, st := range a.states {
		if !st.Done {
			return false
		}
		owned[st.OwnerID] = true
	}
	for id := range a.roster {
		if !owned[id] {
			return false
		}
	}
	return len(a.roster) > 0
}

// closeRound snapshots every surface into its history and resets completion
// for the next round.
func (a *Aggregator) closeRound() []SurfaceDrawing {
	final := make([]SurfaceDrawing, 0, len(a.states))
	for _, st := range a.sorted() {
		st.Parts = append(st.Parts, Part{Round: a.round, Seat: st.Seat, Name: st.OwnerName, Drawing: st.Drawing})
		final = append(final, SurfaceDrawing{Surface: st.Surface, Drawing: st.Drawing})
		st.Done = false
	}
	clear(a.completed)
	return final
}

// Waiting returns the names of owners still drawing, in seat order.
func (a *Aggregator) Waiting() []string {
	var names []string
	for _, st := range a.sortedBySeat() {
		if !st.Done {
			names = append(names, st.OwnerName)
		}
	}
	return names
}

// Completed returns the ids that finished this round, sorted.
func (a *Aggregator) Completed() []string {
	out := make([]string, 0, len(a.completed))
	for id := range a.completed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Purge forgets a participant: its in-flight buffer, its surface state and
// its completion mark.
func (a *Aggregator) Purge(id string) {
	delete(a.roster, id)
	delete(a.completed, id)
	for surface, st := range a.states {
		if st.OwnerID == id {
			a.asm.Drop(surface)
			delete(a.states, surface)
		}
	}
}

// InFlight reports whether the surface owned by id has a partial submission.
func (a *Aggregator) InFlight(id string) bool {
	for surface, st := range a.states {
		if st.OwnerID != id {
			continue
		}
		if _, _, ok := a.asm.Progress(surface); ok {
			return true
		}
	}
	return false
}

// State returns a copy of the state for surface.
func (a *Aggregator) State(surface int) (SurfaceState, bool) {
	st, ok := a.states[surface]
	if !ok {
		return SurfaceState{}, false
	}
	return *st, true
}

// Surfaces returns copies of every surface state ordered by surface index.
func (a *Aggregator) Surfaces() []SurfaceState {
	out := make([]SurfaceState, 0, len(a.states))
	for _, st := range a.sorted() {
		out = append(out, *st)
	}
	return out
}

func (a *Aggregator) sorted() []*SurfaceState {
	out := make([]*SurfaceState, 0, len(a.states))
	for _, st := range a.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Surface < out[j].Surface })
	return out
}

func (a *Aggregator) sortedBySeat() []*SurfaceState {
	out := a.sorted()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}
