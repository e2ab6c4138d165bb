// Package history keeps a bounded ring of recent subgoal attempts for one
// bot. Each controller owns its own buffer; no locking needed.
package history

import "github.com/blockfleet/blockfleet/internal/types"

const DefaultCapacity = 20

// Buffer holds the most recent attempts in completion order, oldest first.
type Buffer struct {
	capacity int
	entries  []types.HistoryEntry
}

func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity}
}

// Append records an attempt, evicting the oldest when full.
func (b *Buffer) Append(e types.HistoryEntry) {
	if len(b.entries) == b.capacity {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:b.capacity-1]
	}
	b.entries = append(b.entries, e)
}

// Entries returns a copy in completion order.
func (b *Buffer) Entries() []types.HistoryEntry {
	out := make([]types.HistoryEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Tail returns the most recent n entries (fewer if the buffer is shorter),
// still oldest-first. Prompt building uses this.
func (b *Buffer) Tail(n int) []types.HistoryEntry {
	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]types.HistoryEntry, n)
	copy(out, b.entries[len(b.entries)-n:])
	return out
}

func (b *Buffer) Len() int { return len(b.entries) }
