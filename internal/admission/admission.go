// Package admission bounds fleet-wide activity: how many skills run at once
// and how many bots may roam on exploration at the same time.
package admission

import (
	"slices"
	"sync"

	"github.com/blockfleet/blockfleet/internal/metrics"
)

// SkillLimiter admits at most capacity concurrent skill executions with a
// head-of-line FIFO for waiters: a slot freeing up goes to whoever asked
// first, not whoever polls first.
type SkillLimiter struct {
	mu       sync.Mutex
	capacity int
	active   map[string]bool
	waiters  []string
}

func NewSkillLimiter(capacity int) *SkillLimiter {
	return &SkillLimiter{capacity: capacity, active: make(map[string]bool)}
}

// TryEnter grants a slot if botID already holds one, or if it is at the head
// of the waiting line and a slot is free. Everyone else joins the line
// (once) and is refused.
func (l *SkillLimiter) TryEnter(botID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active[botID] {
		return true
	}
	if !slices.Contains(l.waiters, botID) {
		l.waiters = append(l.waiters, botID)
	}
	if len(l.active) < l.capacity && l.waiters[0] == botID {
		l.waiters = l.waiters[1:]
		l.active[botID] = true
		l.publish()
		return true
	}
	l.publish()
	return false
}

// Leave releases botID's slot and removes it from the waiting line.
func (l *SkillLimiter) Leave(botID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, botID)
	if i := slices.Index(l.waiters, botID); i >= 0 {
		l.waiters = slices.Delete(l.waiters, i, i+1)
	}
	l.publish()
}

// Active reports how many slots are occupied.
func (l *SkillLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.active)
}

func (l *SkillLimiter) publish() {
	metrics.SetActiveSkills(len(l.active))
	metrics.SetSkillQueueDepth(len(l.waiters))
}

// ExplorerLimiter is a bounded set of bots allowed to explore. TryEnter is
// idempotent for a bot already inside.
type ExplorerLimiter struct {
	mu       sync.Mutex
	capacity int
	inside   map[string]bool
}

func NewExplorerLimiter(capacity int) *ExplorerLimiter {
	return &ExplorerLimiter{capacity: capacity, inside: make(map[string]bool)}
}

func (l *ExplorerLimiter) TryEnter(botID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inside[botID] {
		return true
	}
	if len(l.inside) >= l.capacity {
		return false
	}
	l.inside[botID] = true
	metrics.SetActiveExplorers(len(l.inside))
	return true
}

func (l *ExplorerLimiter) Leave(botID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inside, botID)
	metrics.SetActiveExplorers(len(l.inside))
}
