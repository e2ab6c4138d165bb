package controller

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/metrics"
	"github.com/blockfleet/blockfleet/internal/types"
)

// tick is one pass of the state machine. Reentrancy-guarded: if the previous
// tick is still running (a slow store write, say) this one is skipped.
func (c *Controller) tick(ctx context.Context) {
	if !c.tickBusy.CompareAndSwap(false, true) {
		return
	}
	defer c.tickBusy.Store(false)

	now := c.now()
	c.mu.Lock()

	if c.busyFlag.Load() {
		// 1. Hard execution timeout.
		elapsed := now.Sub(c.currentStarted)
		if elapsed >= time.Duration(c.cfg.SubgoalExecTimeoutMS)*time.Millisecond && !c.timeoutHandled {
			c.timeoutHandled = true
			c.mu.Unlock()
			c.log.Warn().Dur("elapsed", elapsed).Msg("subgoal exceeded execution timeout")
			c.forceDisconnect(reasonSubgoalTimeout)
			return
		}

		// 2. Idle-stall: no position or inventory movement for too long.
		if c.probeProgressLocked(now) {
			c.mu.Unlock()
			c.forceDisconnect(reasonIdleStall)
			return
		}

		// 3. Honor a pending STUCK once the subgoal has had a fair chance.
		if c.triggers[types.TriggerStuck] {
			if elapsed >= stuckMinElapsed && now.Sub(c.lastStuckHandled) >= stuckCooldown {
				delete(c.triggers, types.TriggerStuck)
				c.lastStuckHandled = now
				c.mu.Unlock()
				c.forceDisconnect(reasonStuckRecovery)
				return
			}
			if elapsed < stuckMinElapsed {
				// Stale STUCK left over from the previous subgoal.
				delete(c.triggers, types.TriggerStuck)
			}
		}

		c.maybePrefetchLocked(ctx, now)
		c.mu.Unlock()
		return
	}

	// 4. Non-busy inactivity: nudge the queue or invent local work.
	idleFor := now.Sub(c.lastActivityAt)
	if idleFor >= time.Duration(c.cfg.SubgoalIdleStallMS)*time.Millisecond {
		if len(c.queue) == 0 && !c.planInFlight {
			c.lastActivityAt = now
			c.mu.Unlock()
			c.enqueueLocalPlan(ctx, "IDLE_AUTONOMY")
			return
		}
		if i := c.earliestFutureLocked(); i >= 0 && c.readyIndexLocked(now) < 0 {
			c.queue[i].NotBeforeMS = now.UnixMilli()
		}
	}

	// 5. Execute the first ready subgoal.
	if i := c.readyIndexLocked(now); i >= 0 {
		if !c.deps.SkillSlots.TryEnter(c.botID) {
			c.mu.Unlock()
			return
		}
		sg := c.queue[i]
		c.queue = append(c.queue[:i], c.queue[i+1:]...)
		c.current = &sg
		c.currentStarted = now
		c.timeoutHandled = false
		c.haveProbe = false
		c.lastProgressAt = now
		c.busyFlag.Store(true)
		c.mu.Unlock()
		go c.runSkill(ctx, sg)
		return
	}

	// 6. Pending triggers ask for a plan, once the cooldown allows.
	if len(c.triggers) > 0 && !now.Before(c.plannerCooldownUntil) && !c.planInFlight {
		pending := make([]string, 0, len(c.triggers))
		for t := range c.triggers {
			pending = append(pending, string(t))
		}
		c.triggers = make(map[types.Trigger]bool)
		c.planInFlight = true
		c.mu.Unlock()
		c.log.Debug().Strs("triggers", pending).Msg("requesting plan")
		go c.requestPlan(ctx)
		return
	}

	// 7. Nothing queued, nothing pending: keep the bot productive anyway.
	if len(c.queue) == 0 && c.cfg.AlwaysActivePlanEnabled && !c.planInFlight {
		c.lastActivityAt = now
		c.mu.Unlock()
		c.enqueueLocalPlan(ctx, "ALWAYS_ACTIVE")
		return
	}
	c.mu.Unlock()
}

// probeProgressLocked samples position and inventory roughly every 700ms
// while executing. Returns true when no progress was seen for the idle-stall
// window. Caller holds c.mu.
func (c *Controller) probeProgressLocked(now time.Time) bool {
	if now.Sub(c.lastProbeAt) >= progressProbeInterval {
		pos := c.deps.Agent.Position()
		inv := adapter.InventoryTotal(c.deps.Agent.Inventory())
		if !c.haveProbe || pos.Dist(c.probePos) >= progressEpsilon || inv != c.probeInv {
			c.lastProgressAt = now
		}
		c.probePos = pos
		c.probeInv = inv
		c.haveProbe = true
		c.lastProbeAt = now
	}
	return now.Sub(c.lastProgressAt) >= time.Duration(c.cfg.SubgoalIdleStallMS)*time.Millisecond
}

// readyIndexLocked returns the index of the first dequeueable subgoal, or -1.
func (c *Controller) readyIndexLocked(now time.Time) int {
	for i, sg := range c.queue {
		if sg.NotBeforeMS <= now.UnixMilli() {
			return i
		}
	}
	return -1
}

// earliestFutureLocked returns the index of the entry with the soonest
// not-before time, or -1 for an empty queue.
func (c *Controller) earliestFutureLocked() int {
	best := -1
	for i, sg := range c.queue {
		if best < 0 || sg.NotBeforeMS < c.queue[best].NotBeforeMS {
			best = i
		}
	}
	return best
}

// runSkill executes one subgoal in its own goroutine while ticks keep
// watching from outside.
func (c *Controller) runSkill(ctx context.Context, sg types.RuntimeSubgoal) {
	c.deps.Agent.ClearControls()
	healthBefore := c.deps.Agent.Health()
	invBefore := inventoryMap(c.deps.Agent.Inventory())
	start := c.now()

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(c.cfg.SubgoalExecTimeoutMS)*time.Millisecond)
	res := c.deps.Engine.Execute(execCtx, sg.Subgoal)
	cancel()

	c.finishSubgoal(sg, res, start, healthBefore, invBefore)
}

// finishSubgoal records the attempt, applies the retry policy, and returns
// the controller to the dequeue path. All persistence happens before busy
// drops, so the next subgoal observes a fully recorded predecessor. A result
// arriving after teardown interrupted the run is dropped: teardown already
// requeued the subgoal and released the slot, and a later dispatch may own
// both by the time the stale goroutine returns.
func (c *Controller) finishSubgoal(sg types.RuntimeSubgoal, res types.SkillResult,
	start time.Time, healthBefore float64, invBefore map[string]int) {
	now := c.now()
	duration := now.Sub(start)
	healthAfter := c.deps.Agent.Health()
	invAfter := inventoryMap(c.deps.Agent.Inventory())

	c.mu.Lock()
	if c.current == nil || c.current.ID != sg.ID {
		c.mu.Unlock()
		c.log.Debug().Str("subgoal", string(sg.Name)).
			Msg("dropping result from interrupted run")
		return
	}

	entry := types.HistoryEntry{
		Timestamp:      now,
		SubgoalName:    sg.Name,
		Params:         sg.Params,
		Outcome:        "success",
		InventoryDelta: inventoryDelta(invBefore, invAfter),
		HealthDelta:    healthAfter - healthBefore,
		DurationMS:     duration.Milliseconds(),
	}
	if f, ok := res.(types.Failure); ok {
		entry.Outcome = "failure"
		entry.ErrorCode = f.Code
		entry.ErrorDetails = f.Details
	}
	c.deps.History.Append(entry)
	if err := c.deps.Store.RecordAttempt(c.botID, sg, res, duration); err != nil {
		c.log.Error().Err(err).Msg("persist attempt")
	}
	metrics.RecordSubgoalDuration(string(sg.Name), duration)

	if f, ok := res.(types.Failure); ok {
		metrics.RecordSubgoalFailure(string(f.Code))
		c.lastError = fmt.Sprintf("%s: %s", f.Code, f.Details)
		c.handleFailureLocked(sg, f, now)
	} else {
		c.handleSuccessLocked(sg, res.(types.Success), now)
	}
	c.current = nil
	c.lastActivityAt = now
	c.busyFlag.Store(false)
	c.mu.Unlock()

	c.deps.Agent.ClearControls()
	c.deps.SkillSlots.Leave(c.botID)
}

// handleFailureLocked applies retryability, the failure-streak loop guard,
// and the per-code retry limit. Caller holds c.mu.
func (c *Controller) handleFailureLocked(sg types.RuntimeSubgoal, f types.Failure, now time.Time) {
	c.spec = nil // a failed subgoal invalidates any speculative plan

	retryable := f.Retryable && f.Code.CanRetryByPolicy()

	key := streakKey(sg.Name, f.Code)
	st := c.streaks[key]
	window := time.Duration(c.cfg.SubgoalFailureStreakWindow) * time.Millisecond
	if st == nil || now.Sub(st.startAt) > window {
		st = &streak{startAt: now}
		c.streaks[key] = st
	}
	st.count++
	if st.count >= c.cfg.SubgoalLoopGuardRepeats {
		c.log.Warn().Str("key", key).Int("count", st.count).Msg("failure loop guard tripped")
		retryable = false
	}

	limit := c.cfg.SubgoalRetryLimit + retryBonus(f.Code)
	if retryable && sg.RetryCount < limit {
		retry := sg
		retry.ID = uuid.NewString()
		retry.RetryCount++
		retry.NotBeforeMS = now.Add(c.retryDelay(sg.RetryCount)).UnixMilli()
		c.queue = append([]types.RuntimeSubgoal{retry}, c.queue...)
		c.log.Info().Str("subgoal", string(sg.Name)).Int("retry", retry.RetryCount).
			Str("code", string(f.Code)).Msg("requeued after failure")
		return
	}

	// Terminal failure: dependents are stale, replan immediately.
	c.queue = nil
	c.plannerCooldownUntil = now
	c.triggers[types.TriggerSubgoalFailed] = true
	if f.Code == types.FailNoToolAvailable {
		c.triggers[types.TriggerToolMissing] = true
	}
	c.announce(fmt.Sprintf("failed %s (%s)", sg.Name, f.Code))
}

func (c *Controller) handleSuccessLocked(sg types.RuntimeSubgoal, s types.Success, now time.Time) {
	c.streaks = make(map[string]*streak)
	c.progress[string(sg.Name)]++
	c.lastError = ""
	c.announce(fmt.Sprintf("done: %s", s.Details))

	if len(c.queue) > 0 {
		return
	}
	maxAge := time.Duration(c.cfg.PlanPrefetchMaxAgeMS) * time.Millisecond
	if sp := c.spec; sp != nil && sp.forSubgoalID == sg.ID && now.Sub(sp.preparedAt) <= maxAge {
		c.queue = newRuntime(sp.resp.Subgoals, now)
		c.currentGoal = sp.resp.NextGoal
		c.triggers = make(map[types.Trigger]bool)
		c.spec = nil
		c.log.Info().Str("goal", c.currentGoal).Msg("consumed speculative plan")
		return
	}
	c.spec = nil
	c.triggers[types.TriggerSubgoalCompleted] = true
}

// retryBonus widens the retry budget for failure modes where fresh attempts
// genuinely help.
func retryBonus(code types.FailureCode) int {
	switch code {
	case types.FailPathfindFailed, types.FailResourceNotFound:
		return 4
	case types.FailInterruptedByHostiles, types.FailCombatLostTarget:
		return 3
	case types.FailStuckTimeout, types.FailPlacementFailed:
		return 2
	default:
		return 0
	}
}

// retryDelay backs off linearly with jitter, capped at the configured max.
func (c *Controller) retryDelay(retryCount int) time.Duration {
	base := time.Duration(c.cfg.SubgoalRetryBaseDelayMS) * time.Millisecond * time.Duration(retryCount+1)
	jittered := base/2 + time.Duration(rand.Int63n(int64(base)))
	maxDelay := time.Duration(c.cfg.SubgoalRetryMaxDelayMS) * time.Millisecond
	return min(jittered, maxDelay)
}

// requestPlan runs one planner call and installs the resulting queue.
// planInFlight was set by the caller under lock.
func (c *Controller) requestPlan(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.planInFlight = false
		c.mu.Unlock()
	}()

	c.mu.Lock()
	taskCtx := c.taskContextLocked()
	c.mu.Unlock()

	snap, err := c.deps.Snapshots.Build(ctx, true, taskCtx)
	if err != nil {
		return
	}
	req := types.PlanRequest{
		BotID:             c.botID,
		Snapshot:          snap,
		History:           c.deps.History.Tail(c.cfg.LLMHistoryLimit),
		AvailableSubgoals: types.AllSubgoalNames,
	}

	start := c.now()
	result, err := c.deps.Planner.Plan(ctx, req)
	if err != nil {
		c.log.Error().Err(err).Msg("plan request rejected")
		c.mu.Lock()
		c.plannerCooldownUntil = c.now().Add(time.Duration(c.cfg.PlannerCooldownMS) * time.Millisecond)
		c.mu.Unlock()
		return
	}
	if err := c.deps.Store.RecordLLMCall(c.botID, result.Status, result.TokensIn, result.TokensOut, c.now().Sub(start)); err != nil {
		c.log.Error().Err(err).Msg("persist llm call")
	}
	if err := c.deps.Store.SaveBotState(c.botID, snap); err != nil {
		c.log.Error().Err(err).Msg("persist bot state")
	}

	now := c.now()
	c.mu.Lock()
	c.queue = newRuntime(result.Response.Subgoals, now)
	c.currentGoal = result.Response.NextGoal
	c.plannerCooldownUntil = now.Add(time.Duration(c.cfg.PlannerCooldownMS) * time.Millisecond)
	c.lastActivityAt = now
	c.mu.Unlock()

	c.log.Info().Str("status", string(result.Status)).Str("goal", result.Response.NextGoal).
		Int("subgoals", len(result.Response.Subgoals)).Msg("plan installed")
	c.announce("plan: " + result.Response.NextGoal)
}

// enqueueLocalPlan installs a deterministic plan without spending an LLM
// call. Used for idle autonomy and the always-active filler.
func (c *Controller) enqueueLocalPlan(ctx context.Context, reason string) {
	c.mu.Lock()
	taskCtx := c.taskContextLocked()
	c.mu.Unlock()

	snap, err := c.deps.Snapshots.Build(ctx, false, taskCtx)
	if err != nil {
		return
	}
	resp := c.deps.Planner.FallbackPlan(snap, reason)
	now := c.now()

	c.mu.Lock()
	if len(c.queue) == 0 && !c.busyFlag.Load() {
		c.queue = newRuntime(resp.Subgoals, now)
		c.currentGoal = resp.NextGoal
	}
	c.mu.Unlock()
	c.log.Debug().Str("reason", reason).Str("goal", resp.NextGoal).Msg("local plan enqueued")
}

// maybePrefetchLocked starts a speculative planner call while a subgoal is
// executing, if budget headroom and pacing allow. Caller holds c.mu.
func (c *Controller) maybePrefetchLocked(ctx context.Context, now time.Time) {
	if !c.cfg.PlanPrefetchEnabled || c.planInFlight || c.current == nil {
		return
	}
	if len(c.queue) > 0 || len(c.triggers) > 0 || c.spec != nil {
		return
	}
	if now.Sub(c.currentStarted) < prefetchMinElapsed {
		return
	}
	if now.Sub(c.lastPrefetchAt) < time.Duration(c.cfg.PlanPrefetchMinIntervalMS)*time.Millisecond {
		return
	}
	if c.deps.Limiter.Headroom(c.botID) <= c.cfg.PlanPrefetchReserveCalls {
		return
	}

	forID := c.current.ID
	c.planInFlight = true
	c.lastPrefetchAt = now
	taskCtx := c.taskContextLocked()
	go c.prefetch(ctx, forID, taskCtx)
}

func (c *Controller) prefetch(ctx context.Context, forID string, taskCtx types.TaskContext) {
	defer func() {
		c.mu.Lock()
		c.planInFlight = false
		c.mu.Unlock()
	}()

	snap, err := c.deps.Snapshots.Build(ctx, false, taskCtx)
	if err != nil {
		return
	}
	req := types.PlanRequest{
		BotID:             c.botID,
		Snapshot:          snap,
		History:           c.deps.History.Tail(c.cfg.LLMHistoryLimit),
		AvailableSubgoals: types.AllSubgoalNames,
	}
	start := c.now()
	result, err := c.deps.Planner.Plan(ctx, req)
	if err != nil {
		return
	}
	if err := c.deps.Store.RecordLLMCall(c.botID, result.Status, result.TokensIn, result.TokensOut, c.now().Sub(start)); err != nil {
		c.log.Error().Err(err).Msg("persist llm call")
	}
	// Only a real plan is worth caching; a fallback produced under denial
	// would displace better work later.
	if result.Status != types.PlanSuccess {
		return
	}

	c.mu.Lock()
	if c.busyFlag.Load() && c.current != nil && c.current.ID == forID {
		c.spec = &specPlan{preparedAt: c.now(), forSubgoalID: forID, resp: result.Response}
		c.log.Debug().Str("goal", result.Response.NextGoal).Msg("speculative plan cached")
	}
	c.mu.Unlock()
}

func inventoryMap(items []adapter.Item) map[string]int {
	out := make(map[string]int, len(items))
	for _, it := range items {
		out[it.Name] += it.Count
	}
	return out
}

func inventoryDelta(before, after map[string]int) map[string]int {
	delta := make(map[string]int)
	for name, n := range after {
		if d := n - before[name]; d != 0 {
			delta[name] = d
		}
	}
	for name, n := range before {
		if _, seen := after[name]; !seen && n != 0 {
			delta[name] = -n
		}
	}
	if len(delta) == 0 {
		return nil
	}
	return delta
}
