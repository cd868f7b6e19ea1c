// Package engine is the round/turn state machine: which surface each seat
// draws on, when a round may advance, and when the game is over.
package engine

import (
	"errors"
	"fmt"
)

type Phase int

const (
	Drawing Phase = iota
	Broadcasting
	RoundAdvance
	Finished
	Paused
)

func (p Phase) String() string {
	switch p {
	case Drawing:
		return "drawing"
	case Broadcasting:
		return "broadcasting"
	case RoundAdvance:
		return "round_advance"
	case Finished:
		return "finished"
	case Paused:
		return "paused"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// DefaultTerminalRound ends the game when the round counter reaches it, so
// five rounds are drawn.
const DefaultTerminalRound = 6

var (
	ErrTooFewSeats  = errors.New("at least two seats are required")
	ErrBadTerminal  = errors.New("terminal round must be greater than 1")
	ErrNotDrawing   = errors.New("not accepting submissions")
	ErrNotBroadcast = errors.New("round is not broadcasting")
	ErrTerminal     = errors.New("game already finished")
	ErrPaused       = errors.New("game paused")
	ErrUnknownSeat  = errors.New("unknown seat")
)

type State struct {
	Phase         Phase
	Round         int
	TerminalRound int
	Seats         int
}

type Engine interface {
	NewGame(seats int) (State, error)
	// RoundComplete moves a drawing round into its fan-out.
	RoundComplete(s State) (State, error)
	// Advance applies RoundAdvance after every participant confirmed delivery.
	Advance(s State) (State, error)
	Pause(s State) State
	SurfaceOf(s State, seat int) (int, error)
	SeatAt(s State, surface int) (int, error)
}

type engine struct {
	terminal int
}

func NewEngine(terminalRound int) (Engine, error) {
	if terminalRound == 0 {
		terminalRound = DefaultTerminalRound
	}
	if terminalRound < 2 {
		return nil, fmt.Errorf("%w: %d", ErrBadTerminal, terminalRound)
	}
	return &engine{terminal: terminalRound}, nil
}

func (e *engine) NewGame(seats int) (State, error) {
	if seats < 2 {
		return State{}, fmt.Errorf("%w: got %d", ErrTooFewSeats, seats)
	}
	return State{Phase: Drawing, Round: 1, TerminalRound: e.terminal, Seats: seats}, nil
}

func (e *engine) RoundComplete(s State) (State, error) {
	if err := guard(s); err != nil {
		return s, err
	}
	if s.Phase != Drawing {
		return s, ErrNotDrawing
	}
	s.Phase = Broadcasting
	return s, nil
}

func (e *engine) Advance(s State) (State, error) {
	if err := guard(s); err != nil {
		return s, err
	}
	if s.Phase != Broadcasting {
		return s, ErrNotBroadcast
	}
	s.Phase = RoundAdvance
	s.Round++
	if s.Round >= s.TerminalRound {
		s.Phase = Finished
		return s, nil
	}
	s.Phase = Drawing
	return s, nil
}

func (e *engine) Pause(s State) State {
	if s.Phase != Finished {
		s.Phase = Paused
	}
	return s
}

// SurfaceOf rotates by one surface per round: seat k draws surface k in
// round 1 and surface (k+1) mod N in round 2.
func (e *engine) SurfaceOf(s State, seat int) (int, error) {
	if seat < 0 || seat >= s.Seats {
		return 0, fmt.Errorf("%w: %d", ErrUnknownSeat, seat)
	}
	return (seat + s.Round - 1) % s.Seats, nil
}

func (e *engine) SeatAt(s State, surface int) (int, error) {
	if surface < 0 || surface >= s.Seats {
		return 0, fmt.Errorf("%w: surface %d", ErrUnknownSeat, surface)
	}
	shift := (s.Round - 1) % s.Seats
	return (surface - shift + s.Seats) % s.Seats, nil
}

func guard(s State) error {
	switch s.Phase {
	case Finished:
		return ErrTerminal
	case Paused:
		return ErrPaused
	}
	return nil
}
