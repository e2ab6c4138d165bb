package guard

import (
	"fmt"
	"sort"

	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

// DefaultDesiredIncrement is the stockpile target per resource the
// progression planner works toward.
const DefaultDesiredIncrement = 8

const exploreProgressionRadius = 26

// ProgressionPlan is the deterministic "what next" plan: close the nearest
// tool capability gap, otherwise top up the most depleted reachable
// resource, otherwise explore.
//
// Expectations:
//   - A nearby tool-gated resource with no matching tool yields a tool
//     acquisition plan with reason "unlock_<tool>_for_<resource>"
//   - With all tools covered, the largest projected shortage wins,
//     distance breaking ties
//   - With nothing actionable the reason is "explore_for_resources"
func (g *Guard) ProgressionPlan(snap types.Snapshot, desiredIncrement int) (string, []types.Subgoal) {
	if desiredIncrement <= 0 {
		desiredIncrement = DefaultDesiredIncrement
	}
	st := g.newState(snap)

	// Capability gaps: resources in view we cannot harvest yet.
	for _, res := range snap.NearbySummary.Resources {
		block, ok := g.cat.Block(res.Type)
		if !ok || st.ownsToolFor(block) {
			continue
		}
		tool, needed := catalog.ToolFor(block)
		if !needed {
			continue
		}
		saved := st.saveLedger()
		acq := newAcquisition(st)
		if !acq.require(tool, 1, 0, nil) {
			st.restoreLedger(saved)
			continue
		}
		return fmt.Sprintf("unlock_%s_for_%s", tool, block.Name), acq.emit()
	}

	// Stockpile: actionable resources with a projected shortage against the
	// desired increment, largest shortage first, then nearest.
	type candidate struct {
		res      types.ResourceInfo
		item     string
		shortage int
	}
	var candidates []candidate
	for _, res := range snap.NearbySummary.Resources {
		block, ok := g.cat.Block(res.Type)
		if !ok || !st.ownsToolFor(block) {
			continue
		}
		item := block.Drops
		if item == "" {
			item = block.Name
		}
		if shortage := desiredIncrement - st.projected[item]; shortage > 0 {
			candidates = append(candidates, candidate{res: res, item: item, shortage: shortage})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].shortage != candidates[j].shortage {
			return candidates[i].shortage > candidates[j].shortage
		}
		return candidates[i].res.Distance < candidates[j].res.Distance
	})
	for _, c := range candidates {
		saved := st.saveLedger()
		acq := newAcquisition(st)
		if !acq.require(c.item, st.projected[c.item]+c.shortage, 0, nil) {
			st.restoreLedger(saved)
			continue
		}
		return fmt.Sprintf("stockpile_%s", c.item), acq.emit()
	}

	return "explore_for_resources", []types.Subgoal{{
		Name:   types.SubgoalExplore,
		Params: map[string]any{"radius": exploreProgressionRadius},
	}}
}
