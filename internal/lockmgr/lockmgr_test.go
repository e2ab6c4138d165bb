package lockmgr

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	key, owner, action string
}

type recordingSink struct{ events []recordedEvent }

func (s *recordingSink) LockEvent(key, owner, action string, _ map[string]any) {
	s.events = append(s.events, recordedEvent{key, owner, action})
}

func newManager(t *testing.T, lease time.Duration) (*Manager, *recordingSink, *time.Time) {
	t.Helper()
	sink := &recordingSink{}
	now := time.Unix(1_700_000_000, 0)
	m := New(lease, sink, zerolog.Nop()).WithClock(func() time.Time { return now })
	return m, sink, &now
}

func TestContention(t *testing.T) {
	// A holds, B is refused, B succeeds after A releases.
	m, _, _ := newManager(t, 30*time.Second)
	require.True(t, m.Acquire("resource:oak_log", "A"))
	assert.False(t, m.Acquire("resource:oak_log", "B"))
	m.Release("resource:oak_log", "A")
	assert.True(t, m.Acquire("resource:oak_log", "B"))
}

func TestReacquireByOwnerExtends(t *testing.T) {
	m, _, now := newManager(t, 10*time.Second)
	require.True(t, m.Acquire("k", "A"))
	*now = now.Add(8 * time.Second)
	require.True(t, m.Acquire("k", "A"))
	// Without the extension the original lease would have lapsed here.
	*now = now.Add(8 * time.Second)
	assert.Equal(t, "A", m.OwnerOf("k"))
}

func TestLazyExpiry(t *testing.T) {
	m, sink, now := newManager(t, 10*time.Second)
	require.True(t, m.Acquire("k", "A"))
	*now = now.Add(11 * time.Second)

	// The next touch of the key sweeps the lapsed lease first.
	assert.True(t, m.Acquire("k", "B"))
	require.Len(t, sink.events, 3)
	assert.Equal(t, recordedEvent{"k", "A", ActionExpire}, sink.events[1])
	assert.Equal(t, recordedEvent{"k", "B", ActionAcquire}, sink.events[2])
}

func TestHeartbeatOwnerOnly(t *testing.T) {
	m, _, now := newManager(t, 10*time.Second)
	require.True(t, m.Acquire("k", "A"))
	assert.False(t, m.Heartbeat("k", "B"))
	assert.True(t, m.Heartbeat("k", "A"))

	// The heartbeat moved expiry forward.
	*now = now.Add(9 * time.Second)
	assert.Equal(t, "A", m.OwnerOf("k"))
}

func TestReleaseNonOwnerIsNoOp(t *testing.T) {
	m, sink, _ := newManager(t, 10*time.Second)
	require.True(t, m.Acquire("k", "A"))
	m.Release("k", "B")
	assert.Equal(t, "A", m.OwnerOf("k"))
	assert.Len(t, sink.events, 1)
}

func TestOwnerOfUnownedAndExpired(t *testing.T) {
	m, _, now := newManager(t, 5*time.Second)
	assert.Equal(t, "", m.OwnerOf("k"))
	require.True(t, m.Acquire("k", "A"))
	*now = now.Add(5 * time.Second)
	assert.Equal(t, "", m.OwnerOf("k"))
}

func TestReleaseAll(t *testing.T) {
	m, _, _ := newManager(t, 10*time.Second)
	require.True(t, m.Acquire("a", "A"))
	require.True(t, m.Acquire("b", "A"))
	require.True(t, m.Acquire("c", "B"))
	m.ReleaseAll("A")
	assert.Equal(t, "", m.OwnerOf("a"))
	assert.Equal(t, "", m.OwnerOf("b"))
	assert.Equal(t, "B", m.OwnerOf("c"))
}
