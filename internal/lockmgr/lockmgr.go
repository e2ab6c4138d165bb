// Package lockmgr arbitrates named resource leases across the fleet. Leases
// expire lazily: every operation first sweeps leases whose expiry has
// passed, so a crashed holder blocks a key for at most one lease period.
package lockmgr

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/metrics"
)

// Lock transition actions, as persisted and counted.
const (
	ActionAcquire = "ACQUIRE"
	ActionRelease = "RELEASE"
	ActionExpire  = "EXPIRE"
)

// EventSink receives every lease transition. The store implements this;
// a nil sink is allowed and ignored.
type EventSink interface {
	LockEvent(key, owner, action string, details map[string]any)
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// Manager owns all lease state behind one mutex.
type Manager struct {
	mu      sync.Mutex
	leases  map[string]lease
	leaseMS time.Duration
	sink    EventSink
	log     zerolog.Logger
	now     func() time.Time
}

func New(leaseMS time.Duration, sink EventSink, log zerolog.Logger) *Manager {
	return &Manager{
		leases:  make(map[string]lease),
		leaseMS: leaseMS,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}
}

// WithClock substitutes the time source. Test hook.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Acquire grants the lease if the key is unowned or already owned by owner
// (idempotent extension). Returns false while another bot holds it.
func (m *Manager) Acquire(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.expireLocked(key, now)

	if cur, ok := m.leases[key]; ok && cur.owner != owner {
		return false
	}
	m.leases[key] = lease{owner: owner, expiresAt: now.Add(m.leaseMS)}
	m.emit(key, owner, ActionAcquire, nil)
	return true
}

// Heartbeat extends the lease for the current owner. A non-owner heartbeat
// is a no-op returning false.
func (m *Manager) Heartbeat(key, owner string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.expireLocked(key, now)

	cur, ok := m.leases[key]
	if !ok || cur.owner != owner {
		return false
	}
	m.leases[key] = lease{owner: owner, expiresAt: now.Add(m.leaseMS)}
	return true
}

// Release removes the lease if owner holds it; otherwise it is a no-op.
func (m *Manager) Release(key, owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key, m.now())

	cur, ok := m.leases[key]
	if !ok || cur.owner != owner {
		return
	}
	delete(m.leases, key)
	m.emit(key, owner, ActionRelease, nil)
}

// OwnerOf returns the active owner of key, or "" if unowned.
func (m *Manager) OwnerOf(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expireLocked(key, m.now())
	return m.leases[key].owner
}

// ReleaseAll drops every lease held by owner. Used on controller stop and
// reconnect so a departing bot never strands keys for a full lease period.
func (m *Manager) ReleaseAll(owner string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cur := range m.leases {
		if cur.owner == owner {
			delete(m.leases, key)
			m.emit(key, owner, ActionRelease, nil)
		}
	}
}

// expireLocked sweeps the single key if its lease has lapsed. Caller holds mu.
func (m *Manager) expireLocked(key string, now time.Time) {
	cur, ok := m.leases[key]
	if !ok || now.Before(cur.expiresAt) {
		return
	}
	delete(m.leases, key)
	m.log.Warn().Str("key", key).Str("owner", cur.owner).Msg("lock lease expired")
	m.emit(key, cur.owner, ActionExpire, map[string]any{
		"expired_at": cur.expiresAt.UnixMilli(),
	})
}

func (m *Manager) emit(key, owner, action string, details map[string]any) {
	metrics.RecordLockEvent(action)
	if m.sink != nil {
		m.sink.LockEvent(key, owner, action, details)
	}
}
