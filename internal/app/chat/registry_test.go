package chat

import (
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_OnlineIDsMatchRegisteredSet(t *testing.T) {
	r := NewRegistry(nil)
	rng := rand.New(rand.NewPCG(1, 2))

	want := map[string]bool{}
	for step := 0; step < 2000; step++ {
		id := fmt.Sprintf("user-%02d", rng.IntN(40))

		if rng.IntN(3) == 0 {
			r.Unregister(id)
			delete(want, id)
		} else {
			r.Register(id, newRecordingConn())
			want[id] = true
		}

		if step%100 == 0 {
			expected := make([]string, 0, len(want))
			for id := range want {
				expected = append(expected, id)
			}
			slices.Sort(expected)
			require.Equal(t, expected, r.OnlineIDs(), "step %d", step)
		}
	}

	for id := range want {
		assert.True(t, r.IsOnline(id))
	}
	assert.Equal(t, len(want), r.Len())
}

func TestRegistry_RegisterReturnsReplacedConnection(t *testing.T) {
	r := NewRegistry(nil)
	first, second := newRecordingConn(), newRecordingConn()

	assert.Nil(t, r.Register("a", first))
	assert.Equal(t, Conn(first), r.Register("a", second))
	assert.Nil(t, r.Register("a", second), "re-registering the same connection replaces nothing")

	got, ok := r.Conn("a")
	require.True(t, ok)
	assert.Equal(t, Conn(second), got)
	assert.Equal(t, []string{"a"}, r.OnlineIDs())
}

func TestRegistry_UnregisterConnIgnoresStaleConnection(t *testing.T) {
	r := NewRegistry(nil)
	stale, current := newRecordingConn(), newRecordingConn()

	r.Register("a", stale)
	r.Register("a", current)

	assert.False(t, r.UnregisterConn("a", stale))
	assert.True(t, r.IsOnline("a"))

	assert.True(t, r.UnregisterConn("a", current))
	assert.False(t, r.IsOnline("a"))
	assert.False(t, r.Unregister("a"))
}

func TestRegistry_OnChangeFiresOnMutationsOnly(t *testing.T) {
	var calls atomic.Int32
	r := NewRegistry(func() { calls.Add(1) })
	conn := newRecordingConn()

	r.Register("a", conn)
	r.Unregister("missing")
	r.UnregisterConn("a", newRecordingConn())
	r.UnregisterConn("a", conn)

	assert.EqualValues(t, 2, calls.Load())
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("user-%d", i%16)
			conn := newRecordingConn()
			r.Register(id, conn)
			if i%2 == 0 {
				r.UnregisterConn(id, conn)
			}
		}(i)
	}
	wg.Wait()

	for _, id := range r.OnlineIDs() {
		_, ok := r.Conn(id)
		assert.True(t, ok)
	}
	assert.LessOrEqual(t, r.Len(), 16)
}
