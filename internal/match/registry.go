package match

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"sync"
)

// CodeLength is the length of generated join codes; lookups reject anything
// shorter.
const CodeLength = 6

// Unambiguous upper-case alphabet: no 0/O or 1/I.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var errCodeSpace = errors.New("could not allocate a unique join code")

// Registry owns every live room, keyed by join code.
type Registry interface {
	Create(ctx context.Context) (Room, error)
	Lookup(code string) (Room, error)
	Len() int
	Close() error
}

type registry struct {
	deps   Deps
	base   context.Context
	cancel context.CancelFunc

	mu    sync.RWMutex
	rooms map[string]Room

	closed chan string
	done   chan struct{}
	once   sync.Once
}

func NewRegistry(deps Deps) Registry {
	base, cancel := context.WithCancel(context.Background())
	r := &registry{
		deps:   deps,
		base:   base,
		cancel: cancel,
		rooms:  make(map[string]Room),
		closed: make(chan string, 64),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *registry) Create(ctx context.Context) (Room, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	select {
	case <-r.done:
		return nil, ErrSessionClosed
	default:
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for range 8 {
		code, err := newCode()
		if err != nil {
			return nil, err
		}
		if _, taken := r.rooms[code]; taken {
			continue
		}
		room := NewRoom(r.base, code, r.deps, r.release)
		r.rooms[code] = room
		r.deps.Log.Info().Str("room", code).Msg("room created")
		return room, nil
	}
	return nil, errCodeSpace
}

func (r *registry) Lookup(code string) (Room, error) {
	code = NormalizeCode(code)
	if len(code) < CodeLength {
		return nil, ErrBadCode
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (r *registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *registry) Close() error {
	r.once.Do(func() {
		close(r.done)
		r.cancel()
	})
	return nil
}

// release is the rooms' onClose hook; removal runs on the loop goroutine.
func (r *registry) release(code string) {
	select {
	case r.closed <- code:
	case <-r.done:
	}
}

func (r *registry) loop() {
	for {
		select {
		case <-r.done:
			return
		case code := <-r.closed:
			r.mu.Lock()
			delete(r.rooms, code)
			r.mu.Unlock()
			r.deps.Log.Info().Str("room", code).Msg("room closed")
		}
	}
}

// NormalizeCode canonicalizes user-typed join codes.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	b := make([]byte, CodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = codeAlphabet[n.Int64()]
	}
	return string(b), nil
}
