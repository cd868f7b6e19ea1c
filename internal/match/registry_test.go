package match

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) Registry {
	t.Helper()
	reg := NewRegistry(testDeps(t, newRecorder(), newManualTicker()))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestRegistry_CreateAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newTestRegistry(t)

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		room, err := reg.Create(ctx)
		require.NoError(t, err)
		code := room.Code()
		assert.Len(t, code, CodeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, ch), "unexpected %q in %s", ch, code)
		}
		assert.False(t, seen[code], "codes are unique")
		seen[code] = true
	}
	assert.Equal(t, 50, reg.Len())

	for code := range seen {
		room, err := reg.Lookup(" " + strings.ToLower(code) + " ")
		require.NoError(t, err)
		assert.Equal(t, code, room.Code())
		break
	}
}

func TestRegistry_LookupErrors(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)

	_, err := reg.Lookup("ABC")
	assert.ErrorIs(t, err, ErrBadCode)

	_, err = reg.Lookup("ZZZZZZ")
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_EmptyRoomIsReleased(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg := newTestRegistry(t)

	room, err := reg.Create(ctx)
	require.NoError(t, err)
	_, err = room.Join(ctx, "a", "A")
	require.NoError(t, err)
	require.NoError(t, room.Leave(ctx, "a"))

	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, 5*time.Millisecond)
	_, err = reg.Lookup(room.Code())
	assert.ErrorIs(t, err, ErrRoomNotFound)
}

func TestRegistry_ClosedRejectsCreate(t *testing.T) {
	t.Parallel()
	reg := newTestRegistry(t)
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	_, err := reg.Create(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
