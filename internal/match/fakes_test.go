package match

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/kushgupta-hiver/doodlecorpse/internal/drawing"
	"github.com/kushgupta-hiver/doodlecorpse/internal/gallery"
	"github.com/kushgupta-hiver/doodlecorpse/internal/proto"
)

// recorder is a Sender that keeps everything it is asked to send.
type recorder struct {
	mu      sync.Mutex
	msgs    map[string][]Outgoing
	dropped map[string]string
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]Outgoing), dropped: make(map[string]string)}
}

func (r *recorder) Send(to string, msg Outgoing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[to] = append(r.msgs[to], msg)
	return nil
}

func (r *recorder) Drop(to, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped[to] = reason
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.msgs)
}

// texts returns the JSON control messages sent to id.
func (r *recorder) texts(id string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, m := range r.msgs[id] {
		if !m.Binary {
			out = append(out, m.Data)
		}
	}
	return out
}

func (r *recorder) kinds(id string) []proto.Kind {
	var out []proto.Kind
	for _, data := range r.texts(id) {
		k, _ := proto.Peek(data)
		out = append(out, k)
	}
	return out
}

// last decodes the most recent control message of kind sent to id into v.
func (r *recorder) last(t *testing.T, id string, kind proto.Kind, v any) {
	t.Helper()
	texts := r.texts(id)
	for i := len(texts) - 1; i >= 0; i-- {
		if k, _ := proto.Peek(texts[i]); k == kind {
			require.NoError(t, json.Unmarshal(texts[i], v))
			return
		}
	}
	t.Fatalf("no %q message sent to %s", kind, id)
}

func (r *recorder) frames(t *testing.T, id string) []proto.Frame {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []proto.Frame
	for _, m := range r.msgs[id] {
		if !m.Binary {
			continue
		}
		f, err := proto.UnmarshalFrame(m.Data)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func (r *recorder) droppedReason(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reason, ok := r.dropped[id]
	return reason, ok
}

type mockArchiver struct {
	mock.Mock
}

func (m *mockArchiver) Archive(ctx context.Context, rec gallery.Record) error {
	return m.Called(ctx, rec).Error(0)
}

// manualTicker hands out a channel the test drives.
type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) factory(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

func submitFrames(round, surface int, data drawing.MultiLineData) [][]byte {
	var out [][]byte
	for _, c := range drawing.Encode(surface, data, drawing.DefaultMaxPointsPerChunk) {
		out = append(out, proto.MarshalFrame(proto.Frame{Kind: proto.FrameSubmit, Round: round, Chunk: c}))
	}
	return out
}

func textMsg(t *testing.T, kind proto.Kind, v any) []byte {
	t.Helper()
	b, err := proto.Encode(kind, v)
	require.NoError(t, err)
	return b
}

func quietLogger() zerolog.Logger { return zerolog.Nop() }
