// Package controller runs one bot: a fixed-period tick loop that watches
// the active skill, drains the subgoal queue, asks the planner for work when
// triggers demand it, and forces a clean reconnect whenever execution wedges.
// All per-bot state lives here; shared services come in through Deps.
package controller

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/admission"
	"github.com/blockfleet/blockfleet/internal/config"
	"github.com/blockfleet/blockfleet/internal/events"
	"github.com/blockfleet/blockfleet/internal/history"
	"github.com/blockfleet/blockfleet/internal/lockmgr"
	"github.com/blockfleet/blockfleet/internal/metrics"
	"github.com/blockfleet/blockfleet/internal/planner"
	"github.com/blockfleet/blockfleet/internal/ratelimit"
	"github.com/blockfleet/blockfleet/internal/reflex"
	"github.com/blockfleet/blockfleet/internal/skills"
	"github.com/blockfleet/blockfleet/internal/snapshot"
	"github.com/blockfleet/blockfleet/internal/store"
	"github.com/blockfleet/blockfleet/internal/types"
)

// Task states reported by TaskState.
const (
	StateDisconnected  = "DISCONNECTED"
	StateConnectedIdle = "CONNECTED_IDLE"
	StatePlanning      = "PLANNING"
	StateExecuting     = "EXECUTING"
	StateAwaitingRetry = "AWAITING_RETRY"
)

// Forced-disconnect reasons. The fast-recovery ones reconnect on a short
// delay with no streak penalty.
const (
	reasonSubgoalTimeout = "subgoal_timeout"
	reasonIdleStall      = "subgoal_idle_stall"
	reasonStuckRecovery  = "stuck_recovery"
	reasonConnectionLost = "connection_lost"
)

const (
	// progressProbeInterval paces the idle-stall progress check.
	progressProbeInterval = 700 * time.Millisecond
	// progressEpsilon is the position delta that counts as movement.
	progressEpsilon = 0.15

	// stuckMinElapsed and stuckCooldown gate STUCK handling while executing.
	stuckMinElapsed = 5 * time.Second
	stuckCooldown   = 2 * time.Second

	// prefetchMinElapsed is how far into a subgoal speculation may start.
	prefetchMinElapsed = 1200 * time.Millisecond

	// fastReconnectDelay is the base for subgoal_timeout/idle/stuck recovery.
	fastReconnectDelay = 700 * time.Millisecond

	// streakPenaltyStep and streakPenaltyCap shape the organic reconnect
	// backoff growth.
	streakPenaltyStep = time.Second
	streakPenaltyCap  = 5

	// stableConnection resets the reconnect streak once a session lasts this
	// long.
	stableConnection = time.Minute
)

// Deps are the services a controller drives. Store may be nil.
type Deps struct {
	Agent      adapter.Agent
	Bus        *events.Bus
	Snapshots  *snapshot.Builder
	Planner    *planner.Service
	Engine     *skills.Engine
	SkillSlots *admission.SkillLimiter
	Locks      *lockmgr.Manager
	Limiter    *ratelimit.Limiter
	History    *history.Buffer
	Store      *store.Store
}

// specPlan is a speculative planner result cached while its subgoal runs.
type specPlan struct {
	preparedAt   time.Time
	forSubgoalID string
	resp         types.PlanResponse
}

type streak struct {
	count   int
	startAt time.Time
}

// Controller owns one bot's loop state.
type Controller struct {
	botID string
	deps  Deps
	cfg   config.Config
	log   zerolog.Logger

	now   func() time.Time
	sleep func(context.Context, time.Duration)

	monitor *reflex.Monitor

	tickBusy  atomic.Bool
	connected atomic.Bool
	busyFlag  atomic.Bool

	discCh chan string

	mu                   sync.Mutex
	queue                []types.RuntimeSubgoal
	current              *types.RuntimeSubgoal
	currentStarted       time.Time
	timeoutHandled       bool
	triggers             map[types.Trigger]bool
	planInFlight         bool
	plannerCooldownUntil time.Time
	currentGoal          string
	progress             map[string]int
	lastError            string
	streaks              map[string]*streak
	lastStuckHandled     time.Time

	lastProbeAt    time.Time
	probePos       types.Vec3
	probeInv       int
	haveProbe      bool
	lastProgressAt time.Time
	lastActivityAt time.Time

	spec           *specPlan
	lastPrefetchAt time.Time

	reconnectStreak int
}

func New(botID string, deps Deps, cfg config.Config, log zerolog.Logger) *Controller {
	c := &Controller{
		botID:    botID,
		deps:     deps,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		discCh:   make(chan string, 1),
		triggers: make(map[types.Trigger]bool),
		progress: make(map[string]int),
		streaks:  make(map[string]*streak),
	}
	c.monitor = reflex.New(deps.Agent, deps.Bus.Subscribe(), c.addTrigger, reflex.Options{
		Base:           types.Vec3{X: float64(cfg.BaseX), Y: float64(cfg.BaseY), Z: float64(cfg.BaseZ)},
		NightfallDedup: time.Duration(cfg.ReflexNightfallDedupMS) * time.Millisecond,
		StallTicks:     cfg.ReflexStallTicks,
		Busy:           c.busyFlag.Load,
	}, log)
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Run connects and ticks until ctx is cancelled, reconnecting after every
// forced or organic disconnect.
func (c *Controller) Run(ctx context.Context) error {
	go c.deps.Bus.Pump(c.deps.Agent.Events())
	go c.watchEvents(ctx, c.deps.Bus.Tap())
	if err := c.deps.Store.RegisterBot(c.botID); err != nil {
		c.log.Error().Err(err).Msg("register bot")
	}

	for ctx.Err() == nil {
		if err := c.deps.Agent.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.log.Warn().Err(err).Msg("connect failed")
			c.recordIncident("reconnect_failed", err.Error())
			c.sleep(ctx, c.reconnectDelay(reasonConnectionLost))
			continue
		}
		c.connected.Store(true)
		c.lastActivityAtSet(c.now())
		c.monitor.Attach(ctx)
		c.log.Info().Msg("connected")
		c.announce("online")

		connectedAt := c.now()
		reason := c.loop(ctx)
		c.teardown(reason)

		if c.now().Sub(connectedAt) >= stableConnection {
			c.reconnectStreak = 0
		}
		if ctx.Err() != nil {
			break
		}
		metrics.RecordReconnect(reason)
		c.recordIncident(reason, "forced reconnect")
		c.sleep(ctx, c.reconnectDelay(reason))
	}
	return nil
}

// watchEvents drains the bus tap into the incident log. Kicks and connection
// ends carry server-supplied reasons the reflex trigger path loses, so they
// are persisted here with their original details.
func (c *Controller) watchEvents(ctx context.Context, tap <-chan adapter.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-tap:
			switch e := ev.(type) {
			case adapter.Kicked:
				c.recordIncident("connection_lost", "kicked: "+e.Reason)
			case adapter.Ended:
				c.recordIncident("connection_lost", e.Reason)
			}
		}
	}
}

func (c *Controller) loop(ctx context.Context) string {
	t := time.NewTicker(time.Duration(c.cfg.OrchTickMS) * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return "shutdown"
		case reason := <-c.discCh:
			return reason
		case <-t.C:
			c.tick(ctx)
		}
	}
}

// forceDisconnect requests the loop to exit with reason. Idempotent per
// cycle: only the first request of a connection wins.
func (c *Controller) forceDisconnect(reason string) {
	select {
	case c.discCh <- reason:
	default:
	}
}

// teardown cleans up one connection: requeue the interrupted subgoal, drop
// leases, detach the reflex, and quit the adapter.
func (c *Controller) teardown(reason string) {
	c.connected.Store(false)
	c.monitor.Detach()

	c.mu.Lock()
	if c.current != nil {
		if c.current.RetryCount < c.cfg.SubgoalRetryLimit {
			requeued := *c.current
			requeued.ID = uuid.NewString()
			requeued.RetryCount++
			requeued.NotBeforeMS = 0
			c.queue = append([]types.RuntimeSubgoal{requeued}, c.queue...)
		}
		c.current = nil
	}
	if c.busyFlag.Load() {
		c.busyFlag.Store(false)
		c.deps.SkillSlots.Leave(c.botID)
	}
	c.spec = nil
	c.haveProbe = false
	c.planInFlight = false
	c.mu.Unlock()

	c.deps.Locks.ReleaseAll(c.botID)
	c.deps.Snapshots.Invalidate()
	c.deps.Agent.ClearControls()
	c.deps.Agent.Quit()
	c.log.Info().Str("reason", reason).Msg("disconnected")
}

// reconnectDelay follows the reconnect pipeline: fast-recovery reasons get a
// short fixed base and no penalty; everything else backs off with jitter and
// a streak penalty that grows with consecutive failures.
func (c *Controller) reconnectDelay(reason string) time.Duration {
	switch reason {
	case reasonSubgoalTimeout, reasonIdleStall, reasonStuckRecovery:
		return fastReconnectDelay + time.Duration(rand.Int63n(int64(200*time.Millisecond)))
	}
	c.reconnectStreak++
	penalty := min(c.reconnectStreak, streakPenaltyCap)
	delay := time.Duration(c.cfg.ReconnectBaseDelay)*time.Millisecond +
		time.Duration(penalty)*streakPenaltyStep
	if c.cfg.ReconnectJitterMS > 0 {
		delay += time.Duration(rand.Int63n(int64(c.cfg.ReconnectJitterMS))) * time.Millisecond
	}
	return delay
}

// addTrigger is the reflex sink. Most triggers just collapse into the
// pending set; DEATH also drops the queue and RECONNECT forces a disconnect.
func (c *Controller) addTrigger(t types.Trigger) {
	switch t {
	case types.TriggerReconnect:
		c.forceDisconnect(reasonConnectionLost)
		return
	case types.TriggerDeath:
		c.mu.Lock()
		c.queue = nil
		c.spec = nil
		c.triggers[t] = true
		c.mu.Unlock()
		c.log.Warn().Msg("bot died, queue dropped")
		c.recordIncident("death", "queue dropped, awaiting replan")
		c.announce("respawned, regrouping")
		return
	}
	c.mu.Lock()
	c.triggers[t] = true
	c.mu.Unlock()
}

// TaskState reports the externally visible loop state.
func (c *Controller) TaskState() string {
	if !c.connected.Load() {
		return StateDisconnected
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.busyFlag.Load():
		return StateExecuting
	case c.planInFlight:
		return StatePlanning
	case len(c.queue) > 0 && c.readyIndexLocked(c.now()) < 0:
		return StateAwaitingRetry
	case len(c.queue) == 0:
		return StateConnectedIdle
	default:
		return StateConnectedIdle
	}
}

func (c *Controller) lastActivityAtSet(t time.Time) {
	c.mu.Lock()
	c.lastActivityAt = t
	c.mu.Unlock()
}

func (c *Controller) recordIncident(category, details string) {
	if err := c.deps.Store.RecordIncident(c.botID, category, details); err != nil {
		c.log.Error().Err(err).Str("category", category).Msg("persist incident")
	}
}

func (c *Controller) taskContextLocked() types.TaskContext {
	tc := types.TaskContext{
		CurrentGoal: c.currentGoal,
		LastError:   c.lastError,
	}
	if c.current != nil {
		tc.CurrentSubgoal = string(c.current.Name)
	}
	if len(c.progress) > 0 {
		counters := make(map[string]int, len(c.progress))
		for k, v := range c.progress {
			counters[k] = v
		}
		tc.ProgressCounters = counters
	}
	return tc
}

func (c *Controller) announce(msg string) {
	if c.cfg.ChatAnnouncements {
		c.deps.Agent.Chat(msg)
	}
}

// newRuntime wraps planner subgoals with fresh runtime identity.
func newRuntime(subgoals []types.Subgoal, at time.Time) []types.RuntimeSubgoal {
	out := make([]types.RuntimeSubgoal, len(subgoals))
	for i, sg := range subgoals {
		out[i] = types.RuntimeSubgoal{
			Subgoal:    sg.Clone(),
			ID:         uuid.NewString(),
			AssignedAt: at,
		}
	}
	return out
}

func streakKey(name types.SubgoalName, code types.FailureCode) string {
	return fmt.Sprintf("%s:%s", name, code)
}
