package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockfleet/blockfleet/internal/adapter"
)

func TestFanOutToAllSubscribers(t *testing.T) {
	b := New(zerolog.Nop())
	s1 := b.Subscribe()
	s2 := b.Subscribe()

	b.Publish(adapter.Hurt{Health: 6})

	for _, ch := range []<-chan adapter.Event{s1, s2, b.Tap()} {
		e := <-ch
		hurt, ok := e.(adapter.Hurt)
		require.True(t, ok)
		assert.Equal(t, 6.0, hurt.Health)
	}
}

func TestFullSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New(zerolog.Nop())
	b.Subscribe() // never drained
	for range subscriberBufSize + 10 {
		b.Publish(adapter.Spawned{})
	}
	// Reaching here without deadlock is the assertion.
}

func TestPumpForwardsUntilClose(t *testing.T) {
	b := New(zerolog.Nop())
	sub := b.Subscribe()
	src := make(chan adapter.Event, 2)
	src <- adapter.Death{}
	src <- adapter.Kicked{Reason: "afk"}
	close(src)

	b.Pump(src)

	_, ok := (<-sub).(adapter.Death)
	assert.True(t, ok)
	kicked, ok := (<-sub).(adapter.Kicked)
	require.True(t, ok)
	assert.Equal(t, "afk", kicked.Reason)
}
