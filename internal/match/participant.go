package match

import (
	"sort"

	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

// Participant is one connected player. Seat is the ordinal position assigned
// at session formation and addresses a surface in round 1.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Seat int    `json:"seat"`
}

func (p Participant) wire() proto.Participant {
	return proto.Participant{ID: p.ID, Name: p.Name, Seat: p.Seat}
}

func wireRoster(ps []Participant) []proto.Participant {
	out := make([]proto.Participant, len(ps))
	for i, p := range ps {
		out[i] = p.wire()
	}
	return out
}

func bySeat(ps []Participant) []Participant {
	out := append([]Participant(nil), ps...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seat < out[j].Seat })
	return out
}

func ids(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}
