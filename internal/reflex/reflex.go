// Package reflex watches adapter events and world state for conditions the
// planner is too slow for: damage, death, disconnects, nightfall, a full
// inventory, and stalled movement. It emits triggers; the controller decides
// what to do with them.
package reflex

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/types"
)

const (
	// Night spans this tick range in the world clock.
	nightStartTick = 13000
	nightEndTick   = 23000

	// fleeHealthThreshold gates the immediate retreat reflex on hurt.
	fleeHealthThreshold = 8.0
	// fleeDedup rate-limits the retreat reflex, not the ATTACKED trigger.
	fleeDedup = 12 * time.Second

	// stallPerTick is the movement below which one probe counts as stalled.
	stallPerTick = 0.25

	defaultProbeInterval = time.Second
)

// Options tunes one Monitor.
type Options struct {
	Base           types.Vec3
	NightfallDedup time.Duration
	StallTicks     int
	ProbeInterval  time.Duration
	// Busy reports whether the controller is executing a subgoal; the stall
	// detector only counts while it returns true.
	Busy func() bool
}

// Monitor is attached per bot on spawn and detached on stop or reconnect.
type Monitor struct {
	agent  adapter.Agent
	events <-chan adapter.Event
	sink   func(types.Trigger)
	opts   Options
	log    zerolog.Logger
	now    func() time.Time

	mu            sync.Mutex
	lastNightfall time.Time
	lastFlee      time.Time
	stallCount    int
	lastPos       types.Vec3
	havePos       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(agent adapter.Agent, events <-chan adapter.Event, sink func(types.Trigger),
	opts Options, log zerolog.Logger) *Monitor {
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = defaultProbeInterval
	}
	if opts.NightfallDedup <= 0 {
		opts.NightfallDedup = 120 * time.Second
	}
	if opts.StallTicks <= 0 {
		opts.StallTicks = 20
	}
	return &Monitor{
		agent:  agent,
		events: events,
		sink:   sink,
		opts:   opts,
		log:    log,
		now:    time.Now,
	}
}

// WithClock substitutes the time source. Test hook.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Attach starts the event loop and the periodic probe.
func (m *Monitor) Attach(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-m.events:
				if !ok {
					return
				}
				m.HandleEvent(ev)
			}
		}
	}()
	go func() {
		defer m.wg.Done()
		t := time.NewTicker(m.opts.ProbeInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Probe()
			}
		}
	}()
}

// Detach stops both loops and waits for them.
func (m *Monitor) Detach() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// HandleEvent maps one adapter event to its trigger and immediate reflex.
//
// Expectations:
//   - Hurt always emits ATTACKED; the clear-controls/retreat reflex runs at
//     most once per 12s, and retreat only below 8 health
//   - Death emits DEATH
//   - Kicked and Ended emit RECONNECT
func (m *Monitor) HandleEvent(ev adapter.Event) {
	switch e := ev.(type) {
	case adapter.Hurt:
		m.sink(types.TriggerAttacked)
		m.mu.Lock()
		now := m.now()
		run := now.Sub(m.lastFlee) >= fleeDedup
		if run {
			m.lastFlee = now
		}
		m.mu.Unlock()
		if run {
			m.agent.ClearControls()
			if e.Health <= fleeHealthThreshold {
				m.log.Warn().Float64("health", e.Health).Msg("low health, retreating to base")
				go m.agent.PathfindTo(context.Background(), m.opts.Base, 2)
			}
		}
	case adapter.Death:
		m.sink(types.TriggerDeath)
	case adapter.Kicked:
		m.log.Warn().Str("reason", e.Reason).Msg("kicked from server")
		m.sink(types.TriggerReconnect)
	case adapter.Ended:
		m.sink(types.TriggerReconnect)
	}
}

// Probe is the ~1 Hz world-state check.
//
// Expectations:
//   - Ticks in [13000,23000] emit NIGHTFALL at most once per dedup window
//   - 2 or fewer empty slots emit INVENTORY_FULL
//   - While busy and pathfinding (not mining or building), movement under
//     0.25 per probe for StallTicks consecutive probes emits STUCK once
func (m *Monitor) Probe() {
	if tick := m.agent.TimeOfDay(); tick >= nightStartTick && tick <= nightEndTick {
		m.mu.Lock()
		now := m.now()
		if now.Sub(m.lastNightfall) >= m.opts.NightfallDedup {
			m.lastNightfall = now
			m.mu.Unlock()
			m.sink(types.TriggerNightfall)
		} else {
			m.mu.Unlock()
		}
	}

	if m.agent.EmptySlots() <= 2 {
		m.sink(types.TriggerInventoryFull)
	}

	m.probeStall()
}

func (m *Monitor) probeStall() {
	busy := m.opts.Busy != nil && m.opts.Busy()
	moving := m.agent.PathfinderActive() && !m.agent.MiningOrBuilding()
	pos := m.agent.Position()

	m.mu.Lock()
	emit := false
	if !busy || !moving {
		m.stallCount = 0
		m.havePos = false
	} else {
		if m.havePos && m.lastPos.Dist(pos) < stallPerTick {
			m.stallCount++
		} else {
			m.stallCount = 0
		}
		m.lastPos = pos
		m.havePos = true
		if m.stallCount >= m.opts.StallTicks {
			m.stallCount = 0
			m.havePos = false
			emit = true
		}
	}
	m.mu.Unlock()
	if emit {
		m.sink(types.TriggerStuck)
	}
}

// ResetStall clears stall tracking; the controller calls it after recovery
// so stale positions never trip a fresh subgoal.
func (m *Monitor) ResetStall() {
	m.mu.Lock()
	m.stallCount = 0
	m.havePos = false
	m.mu.Unlock()
}
