package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances only when told to.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time            { return c.t }
func (c *fakeClock) advance(d time.Duration)   { c.t = c.t.Add(d) }
func newClock() *fakeClock                     { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }
func newLimiter(bot, global int) (*Limiter, *fakeClock) {
	c := newClock()
	return New(bot, global).WithClock(c.now), c
}

func TestBotCapDeniesThirdCall(t *testing.T) {
	// Cap 2 for one bot: two consumes pass, the third is denied with a
	// retry hint of at least one second.
	l, _ := newLimiter(2, 10)
	require.True(t, l.Consume("A").Allowed)
	require.True(t, l.Consume("A").Allowed)

	d := l.Consume("A")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBotCap, d.Reason)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Second)
	assert.Equal(t, 2, l.CallsInLastHour("A"))
}

func TestDenialRecordsNoTimestamp(t *testing.T) {
	l, _ := newLimiter(1, 10)
	require.True(t, l.Consume("A").Allowed)
	for range 3 {
		require.False(t, l.Consume("A").Allowed)
	}
	assert.Equal(t, 1, l.CallsInLastHour("A"))
	assert.Equal(t, 1, l.GlobalCallsInLastHour())
}

func TestGlobalCapAcrossBots(t *testing.T) {
	l, _ := newLimiter(5, 3)
	require.True(t, l.Consume("A").Allowed)
	require.True(t, l.Consume("B").Allowed)
	require.True(t, l.Consume("C").Allowed)

	d := l.Consume("D")
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonGlobalCap, d.Reason)
}

func TestBotCapReportedBeforeGlobal(t *testing.T) {
	// When both caps are exhausted the per-bot reason wins.
	l, _ := newLimiter(1, 1)
	require.True(t, l.Consume("A").Allowed)
	d := l.Consume("A")
	assert.Equal(t, ReasonBotCap, d.Reason)
}

func TestWindowSlides(t *testing.T) {
	l, clock := newLimiter(2, 10)
	require.True(t, l.Consume("A").Allowed)
	clock.advance(30 * time.Minute)
	require.True(t, l.Consume("A").Allowed)
	require.False(t, l.Consume("A").Allowed)

	// The first timestamp ages out; one slot frees up.
	clock.advance(31 * time.Minute)
	assert.Equal(t, 1, l.CallsInLastHour("A"))
	assert.True(t, l.Consume("A").Allowed)
}

func TestRetryAfterTracksEarliestTimestamp(t *testing.T) {
	l, clock := newLimiter(1, 10)
	require.True(t, l.Consume("A").Allowed)
	clock.advance(20 * time.Minute)

	d := l.Consume("A")
	require.False(t, d.Allowed)
	assert.Equal(t, 40*time.Minute, d.RetryAfter)
}

func TestHeadroom(t *testing.T) {
	l, _ := newLimiter(3, 4)
	assert.Equal(t, 3, l.Headroom("A"))
	l.Consume("A")
	l.Consume("B")
	l.Consume("B")
	// A has 2 left by its own cap but only 1 by the global cap.
	assert.Equal(t, 1, l.Headroom("A"))
	l.Consume("A")
	assert.Equal(t, 0, l.Headroom("A"))
}
