// Package events fans out adapter events to the per-bot consumers: the
// reflex monitor and the controller each subscribe, and an optional tap
// feeds the incident log.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/adapter"
)

const (
	subscriberBufSize = 64
	tapBufSize        = 256
)

// Bus fans out every published adapter event to all subscribers and to the
// tap channel. Delivery is non-blocking: a full subscriber drops the event
// with a warning rather than stalling the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers []chan adapter.Event
	tapCh       chan adapter.Event
	log         zerolog.Logger
}

func New(log zerolog.Logger) *Bus {
	return &Bus{
		tapCh: make(chan adapter.Event, tapBufSize),
		log:   log,
	}
}

// Publish delivers e to every subscriber and the tap.
func (b *Bus) Publish(e adapter.Event) {
	b.mu.RLock()
	subs := b.subscribers
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
			b.log.Warn().Type("event", e).Msg("subscriber channel full, event dropped")
		}
	}

	select {
	case b.tapCh <- e:
	default:
		b.log.Warn().Type("event", e).Msg("tap channel full, event dropped")
	}
}

// Subscribe returns a new independent receive channel.
func (b *Bus) Subscribe() <-chan adapter.Event {
	ch := make(chan adapter.Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers = append(b.subscribers, ch)
	b.mu.Unlock()
	return ch
}

// Tap returns the shared tap channel. One consumer should drain it; every
// call returns the same channel.
func (b *Bus) Tap() <-chan adapter.Event {
	return b.tapCh
}

// Pump copies events from the adapter stream onto the bus until the stream
// closes. Run in its own goroutine per connection.
func (b *Bus) Pump(src <-chan adapter.Event) {
	for e := range src {
		b.Publish(e)
	}
}
