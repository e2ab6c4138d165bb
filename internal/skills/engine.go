// Package skills executes subgoals against the agent adapter. Each handler
// is deterministic: it checks its preconditions, drives the adapter, and
// returns a structured SkillResult. Coordination (resource locks, explorer
// admission) happens here so handlers stay single-bot code.
package skills

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/admission"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/lockmgr"
	"github.com/blockfleet/blockfleet/internal/types"
)

// Engine dispatches subgoals to handlers for one bot.
type Engine struct {
	agent     adapter.Agent
	cat       catalog.Catalog
	locks     *lockmgr.Manager
	explorers *admission.ExplorerLimiter
	base      types.Vec3
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewEngine(agent adapter.Agent, cat catalog.Catalog, locks *lockmgr.Manager,
	explorers *admission.ExplorerLimiter, base types.Vec3, heartbeat time.Duration,
	log zerolog.Logger) *Engine {
	return &Engine{
		agent:     agent,
		cat:       cat,
		locks:     locks,
		explorers: explorers,
		base:      base,
		heartbeat: heartbeat,
		log:       log,
	}
}

// Execute runs one subgoal to completion and returns its result. Contended
// resources are leased first; the lease is heartbeated for the duration of
// the handler and released on every exit path. A handler panic becomes a
// non-retryable structured failure instead of taking the controller down.
func (e *Engine) Execute(ctx context.Context, sg types.Subgoal) (res types.SkillResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("subgoal", string(sg.Name)).Any("panic", r).Msg("skill handler panicked")
			res = types.Failure{
				Code:      types.FailDependsOnItem,
				Details:   fmt.Sprintf("handler panic: %v", r),
				Retryable: false,
			}
		}
	}()

	if key := lockKey(sg); key != "" {
		owner := e.agent.BotID()
		if !e.locks.Acquire(key, owner) {
			return types.Failure{
				Code:      types.FailDependsOnItem,
				Details:   "resource locked: " + key + " held by " + e.locks.OwnerOf(key),
				Retryable: true,
			}
		}
		stop := make(chan struct{})
		go e.heartbeatLoop(key, owner, stop)
		defer func() {
			close(stop)
			e.locks.Release(key, owner)
		}()
	}

	switch sg.Name {
	case types.SubgoalExplore:
		return e.explore(ctx, sg)
	case types.SubgoalGoto:
		return e.goTo(ctx, sg)
	case types.SubgoalGotoNearest:
		return e.gotoNearest(ctx, sg)
	case types.SubgoalCollect:
		return e.collect(ctx, sg)
	case types.SubgoalCraft:
		return e.craft(ctx, sg)
	case types.SubgoalSmelt:
		return e.smelt(ctx, sg)
	case types.SubgoalDeposit:
		return e.deposit(ctx, sg)
	case types.SubgoalWithdraw:
		return e.withdraw(ctx, sg)
	case types.SubgoalBuildBlueprint:
		return e.buildBlueprint(ctx, sg)
	case types.SubgoalCombatEngage:
		return e.combatEngage(ctx, sg)
	case types.SubgoalCombatGuard:
		return e.combatGuard(ctx, sg)
	default:
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "unknown subgoal: " + string(sg.Name),
			Retryable: false,
		}
	}
}

// lockKey returns the fleet-wide lease key guarding sg, or "" for subgoals
// that need no coordination.
//
// Expectations:
//   - collect locks "resource:<target>" so two bots never strip one deposit
//   - build_blueprint with an integer anchor locks "build:x,y,z"
//   - deposit and withdraw share "storage:base"
func lockKey(sg types.Subgoal) string {
	switch sg.Name {
	case types.SubgoalCollect:
		target := pString(sg.Params, "block")
		if target == "" {
			target = pString(sg.Params, "item")
		}
		if target == "" {
			return ""
		}
		return "resource:" + target
	case types.SubgoalBuildBlueprint:
		anchor, ok := sg.Params["anchor"].(map[string]any)
		if !ok {
			return ""
		}
		x, okX := anchorInt(anchor["x"])
		y, okY := anchorInt(anchor["y"])
		z, okZ := anchorInt(anchor["z"])
		if !okX || !okY || !okZ {
			return ""
		}
		return fmt.Sprintf("build:%d,%d,%d", x, y, z)
	case types.SubgoalDeposit, types.SubgoalWithdraw:
		return "storage:base"
	default:
		return ""
	}
}

func (e *Engine) heartbeatLoop(key, owner string, stop <-chan struct{}) {
	t := time.NewTicker(e.heartbeat)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if !e.locks.Heartbeat(key, owner) {
				return
			}
		}
	}
}

// Param readers. Normalized params carry ints, but anything that crossed a
// JSON boundary carries float64; both are accepted.

func pString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func pInt(m map[string]any, key string, def int) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func pBool(m map[string]any, key string) bool {
	b, _ := m[key].(bool)
	return b
}

func anchorInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
