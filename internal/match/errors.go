package match

import (
	"errors"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/engine"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

var (
	ErrRoomNotFound     = errors.New("room not found")
	ErrBadCode          = errors.New("join code must be at least 6 characters")
	ErrRoomFull         = errors.New("room full")
	ErrAlreadyStarted   = errors.New("game already started")
	ErrNotStarted       = errors.New("game not started")
	ErrNameRequired     = errors.New("display name required")
	ErrNotHost          = errors.New("only the host can do that")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrUnknownPlayer    = errors.New("unknown participant")
	ErrCannotKickSelf   = errors.New("host cannot kick themselves")
	ErrUnknownSurface   = errors.New("unknown surface")
	ErrNotYourSurface   = errors.New("surface belongs to another participant this round")
	ErrAlreadySubmitted = errors.New("surface already submitted this round")
	ErrWrongRound       = errors.New("submission for another round")
	ErrBadSubmission    = errors.New("malformed submission")
	ErrTooManyStrokes   = errors.New("too many strokes on one surface")
	ErrSessionClosed    = errors.New("session closed")
	ErrNotEnoughPrompts = errors.New("not enough creature prompts for every surface")
)

// ErrorCode maps a failure to the machine-readable code sent on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrBadCode):
		return "bad_code"
	case errors.Is(err, ErrNameRequired):
		return "name_required"
	case errors.Is(err, ErrSessionClosed):
		return "closed"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrAlreadyStarted):
		return "already_started"
	case errors.Is(err, ErrNotStarted):
		return "not_started"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrNotEnoughPlayers):
		return "not_enough_players"
	case errors.Is(err, ErrNotEnoughPrompts):
		return "not_enough_prompts"
	case errors.Is(err, ErrUnknownPlayer):
		return "unknown_player"
	case errors.Is(err, ErrCannotKickSelf):
		return "cannot_kick_self"
	case errors.Is(err, ErrNotYourSurface), errors.Is(err, ErrUnknownSurface):
		return "not_your_surface"
	case errors.Is(err, ErrWrongRound):
		return "wrong_round"
	case errors.Is(err, engine.ErrNotDrawing):
		return "not_drawing"
	case errors.Is(err, engine.ErrPaused):
		return "paused"
	case errors.Is(err, engine.ErrTerminal):
		return "finished"
	case errors.Is(err, ErrBadSubmission), errors.Is(err, proto.ErrBadFrame),
		errors.Is(err, drawing.ErrChunkOutOfRange), errors.Is(err, drawing.ErrLengthMismatch),
		errors.Is(err, drawing.ErrColorMismatch), errors.Is(err, drawing.ErrNegativeLength),
		errors.Is(err, ErrTooManyStrokes):
		return "bad_submission"
	case errors.Is(err, proto.ErrUnknownKind):
		return "unknown_kind"
	}
	return "internal"
}
