package planner

import (
	"fmt"

	"github.com/blockfleet/blockfleet/internal/guard"
	"github.com/blockfleet/blockfleet/internal/types"
)

// Fallback thresholds.
const (
	lowHealthThreshold     = 8.0
	inventoryLoadThreshold = 120
	hostileCloseDistance   = 10.0
)

// Fallback is the deterministic planner used when the LLM is denied,
// errors, or is disabled. It is a pure function of its inputs: survival
// first, inventory pressure second, nearby hostiles third, progression
// otherwise.
//
// Expectations:
//   - health <= 8 returns goto(base) then combat_guard, flagged LOW_HEALTH
//   - inventory load >= 120 returns goto(base) then deposit all_non_essential
//   - a hostile closer than 10 returns combat_engage
//   - otherwise the autonomous progression plan decides
func Fallback(g *guard.Guard, snap types.Snapshot, reason string, base types.Vec3, desiredIncrement int) types.PlanResponse {
	gotoBase := types.Subgoal{
		Name: types.SubgoalGoto,
		Params: map[string]any{
			"x": int(base.X), "y": int(base.Y), "z": int(base.Z), "range": 2,
		},
	}

	if snap.Player.Health <= lowHealthThreshold {
		return types.PlanResponse{
			NextGoal: fmt.Sprintf("retreat to base and hold position (%s)", reason),
			Subgoals: []types.Subgoal{
				gotoBase,
				{Name: types.SubgoalCombatGuard, Params: map[string]any{"radius": 12, "duration": 6000}},
			},
			RiskFlags: []string{"LOW_HEALTH"},
		}
	}

	if snap.InventorySummary.Load() >= inventoryLoadThreshold {
		return types.PlanResponse{
			NextGoal: fmt.Sprintf("unload inventory at base (%s)", reason),
			Subgoals: []types.Subgoal{
				gotoBase,
				{Name: types.SubgoalDeposit, Params: map[string]any{"strategy": "all_non_essential"}},
			},
			RiskFlags: []string{"INVENTORY_PRESSURE"},
		}
	}

	if len(snap.NearbySummary.Hostiles) > 0 && snap.NearbySummary.Hostiles[0].Distance < hostileCloseDistance {
		return types.PlanResponse{
			NextGoal: fmt.Sprintf("clear nearby hostiles (%s)", reason),
			Subgoals: []types.Subgoal{
				{Name: types.SubgoalCombatEngage, Params: map[string]any{"max_targets": 2, "max_distance": 18}},
			},
			RiskFlags: []string{"HOSTILES_NEARBY"},
		}
	}

	progReason, subgoals := g.ProgressionPlan(snap, desiredIncrement)
	return types.PlanResponse{
		NextGoal: fmt.Sprintf("%s (%s)", progReason, reason),
		Subgoals: subgoals,
	}
}
