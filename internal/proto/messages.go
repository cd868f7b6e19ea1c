// Package proto defines the wire protocol: JSON control messages on text
// frames and protobuf-wire chunk frames on binary frames.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Kind string

// ---- Client -> Server ----
const (
	KindStart     Kind = "start"     // host starts the game
	KindKick      Kind = "kick"      // host removes a lobby participant
	KindLeave     Kind = "leave"     // voluntary leave
	KindDelivered Kind = "delivered" // every surface of a round reassembled
	KindPing      Kind = "ping"
)

// ---- Server -> Client ----
const (
	KindWelcome        Kind = "welcome"
	KindRoster         Kind = "roster"
	KindStarted        Kind = "started"
	KindWaiting        Kind = "waiting"
	KindWaitingCleared Kind = "waiting_cleared"
	KindRoundAdvanced  Kind = "round_advanced"
	KindFinished       Kind = "finished"
	KindPlayerLeft     Kind = "player_left"
	KindKicked         Kind = "kicked"
	KindPong           Kind = "pong"
	KindError          Kind = "error"
)

var ErrUnknownKind = errors.New("unknown message kind")

type Envelope struct {
	Type Kind `json:"type"`
}

type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Seat int    `json:"seat"`
}

// Start is sent by the host. Creatures turns on mystery creature prompts.
type Start struct {
	Type      Kind `json:"type"`
	Creatures bool `json:"creatures,omitempty"`
}

type Kick struct {
	Type Kind   `json:"type"`
	ID   string `json:"id"`
}

type Delivered struct {
	Type  Kind `json:"type"`
	Round int  `json:"round"`
}

type Welcome struct {
	Type   Kind          `json:"type"`
	You    Participant   `json:"you"`
	Code   string        `json:"code"`
	Host   string        `json:"host"`
	Roster []Participant `json:"roster"`
}

type Roster struct {
	Type   Kind          `json:"type"`
	Host   string        `json:"host"`
	Roster []Participant `json:"roster"`
}

type Started struct {
	Type          Kind          `json:"type"`
	Round         int           `json:"round"`
	TerminalRound int           `json:"terminalRound"`
	Surface       int           `json:"surface"`
	Surfaces      int           `json:"surfaces"`
	MaxPoints     int           `json:"maxPointsPerChunk"`
	MaxStrokes    int           `json:"maxStrokesPerSurface"`
	Roster        []Participant `json:"roster"`

	// Prompts holds a creature prompt index per surface; empty unless the
	// host started a creature game.
	Prompts []int `json:"prompts,omitempty"`
}

type Waiting struct {
	Type  Kind     `json:"type"`
	Names []string `json:"names"`
}

type RoundAdvanced struct {
	Type    Kind `json:"type"`
	Round   int  `json:"round"`
	Surface int  `json:"surface"`
}

type Finished struct {
	Type   Kind `json:"type"`
	Rounds int  `json:"rounds"`
}

type PlayerLeft struct {
	Type Kind   `json:"type"`
	Name string `json:"name"`
	You  bool   `json:"you"`
}

type Error struct {
	Type   Kind   `json:"type"`
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`
}

// Peek returns the discriminator of a text frame.
func Peek(data []byte) (Kind, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return "", ErrUnknownKind
	}
	return env.Type, nil
}

// Encode marshals a control message. The Type field is filled from k.
func Encode(k Kind, v any) ([]byte, error) {
	switch m := v.(type) {
	case nil:
		return json.Marshal(Envelope{Type: k})
	case *Start:
		m.Type = k
	case *Kick:
		m.Type = k
	case *Delivered:
		m.Type = k
	case *Welcome:
		m.Type = k
	case *Roster:
		m.Type = k
	case *Started:
		m.Type = k
	case *Waiting:
		m.Type = k
	case *RoundAdvanced:
		m.Type = k
	case *Finished:
		m.Type = k
	case *PlayerLeft:
		m.Type = k
	case *Error:
		m.Type = k
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, v)
	}
	return json.Marshal(v)
}
