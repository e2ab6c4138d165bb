// Package guard validates and rewrites plans against the recipe/resource
// dependency graph. It keeps a projected inventory (what the bot will own
// after each accepted subgoal) and prepends whatever acquisition steps a
// subgoal is missing. Projections only ever grow; consumption is tracked in
// a separate availability ledger so re-running the guard on its own output
// changes nothing.
package guard

import (
	"fmt"
	"math"

	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

const (
	exploreFallbackRadius = 28
	tableNearbyDistance   = 8.0
)

// Guard is stateless across calls; every Apply builds its own projection.
type Guard struct {
	cat catalog.Catalog
}

func New(cat catalog.Catalog) *Guard {
	return &Guard{cat: cat}
}

// evalState is the working state of one Apply pass.
type evalState struct {
	g           *Guard
	snap        types.Snapshot
	projected   map[string]int // add-only
	avail       map[string]int // projected minus planned consumption
	tableAccess bool
	notes       []string
}

func (g *Guard) newState(snap types.Snapshot) *evalState {
	st := &evalState{
		g:         g,
		snap:      snap,
		projected: make(map[string]int),
		avail:     make(map[string]int),
	}
	for name, n := range snap.InventorySummary.KeyItems {
		st.projected[name] += n
		st.avail[name] += n
	}
	for name, n := range snap.InventorySummary.Tools {
		st.projected[name] += n
		st.avail[name] += n
	}
	st.tableAccess = st.projected["crafting_table"] > 0 || g.tableNearby(snap)
	return st
}

func (g *Guard) tableNearby(snap types.Snapshot) bool {
	for _, poi := range snap.NearbySummary.PointsOfInterest {
		if poi.Type == "crafting_table" && poi.Distance <= tableNearbyDistance {
			return true
		}
	}
	return false
}

// Apply runs the guard rules over plan in order and returns the possibly
// expanded plan plus notes describing every change.
//
// Expectations:
//   - A collect on a tool-gated block prepends the tool acquisition chain
//   - A craft with missing ingredients prepends their acquisition
//   - An unresolvable target is replaced by an explore fallback
//   - Apply(Apply(plan)) == Apply(plan) for an unchanged snapshot
//   - Projected counts never decrease
func (g *Guard) Apply(snap types.Snapshot, plan []types.Subgoal) ([]types.Subgoal, []string) {
	st := g.newState(snap)
	var out []types.Subgoal

	for _, sg := range plan {
		switch sg.Name {
		case types.SubgoalCollect, types.SubgoalGotoNearest:
			out = append(out, st.gatherRule(sg)...)
		case types.SubgoalCraft:
			out = append(out, st.craftRule(sg)...)
		default:
			out = append(out, sg)
			st.applyProjected(sg)
		}
	}

	return dedupeAdjacent(out), st.notes
}

// gatherRule handles collect and goto_nearest (rules 1 and 2).
func (st *evalState) gatherRule(sg types.Subgoal) []types.Subgoal {
	target := paramString(sg.Params, "block", "item")
	if target == "" {
		// Nothing to resolve; pass through.
		st.applyProjected(sg)
		return []types.Subgoal{sg}
	}
	count := paramInt(sg.Params, 1, "count")

	block, resolved := st.resolveBlock(target)
	if !resolved {
		if len(st.g.cat.Recipes(target)) > 0 {
			return st.replaceWithAcquisition(sg, target, count)
		}
		return st.exploreFallback(sg, target)
	}

	var prefix []types.Subgoal
	if !st.ownsToolFor(block) {
		tool, needed := catalog.ToolFor(block)
		if needed {
			saved := st.saveLedger()
			acq := newAcquisition(st)
			if !acq.require(tool, 1, 0, nil) {
				st.restoreLedger(saved)
				return st.exploreFallback(sg, target)
			}
			prefix = acq.emit()
			st.note("guard_tool_plan_%s_for_%s", tool, block.Name)
		}
	}

	kept := sg.Clone()
	if _, has := kept.Params["block"]; has && kept.Params["block"] != block.Name {
		kept.Params["block"] = block.Name
		st.note("guard_resolved_target_%s_to_%s", target, block.Name)
	}
	st.applyProjected(kept)
	return append(prefix, kept)
}

// craftRule handles craft (rule 3).
func (st *evalState) craftRule(sg types.Subgoal) []types.Subgoal {
	item := paramString(sg.Params, "item", "block")
	if item == "" {
		st.applyProjected(sg)
		return []types.Subgoal{sg}
	}
	count := paramInt(sg.Params, 1, "count")

	recipes := st.g.cat.Recipes(item)
	if len(recipes) == 0 {
		if len(st.g.cat.SourcesFor(item)) > 0 {
			return st.replaceWithAcquisition(sg, item, count)
		}
		return st.exploreFallback(sg, item)
	}

	saved := st.saveLedger()
	acq := newAcquisition(st)
	recipe := acq.pickRecipe(recipes, count)

	var prefix []types.Subgoal
	ok := true
	if recipe.NeedsWorkbench() && !st.tableAccess {
		ok = acq.require("crafting_table", 1, 0, nil)
		if ok {
			st.tableAccess = true
		}
	}
	if ok {
		shortage := count - st.avail[item]
		if shortage > 0 {
			apps := ceilDiv(shortage, recipe.ResultCount)
			for _, ing := range sortedKeys(recipe.Ingredients) {
				if !acq.require(ing, apps*recipe.Ingredients[ing], 0, nil) {
					ok = false
					break
				}
			}
		}
	}
	if !ok {
		st.restoreLedger(saved)
		return st.exploreFallback(sg, item)
	}
	if steps := acq.emit(); len(steps) > 0 {
		prefix = steps
		st.note("guard_prerequisites_for_craft_%s", item)
	}

	st.applyProjected(sg)
	return append(prefix, sg)
}

// replaceWithAcquisition swaps sg for the full acquisition plan of item.
func (st *evalState) replaceWithAcquisition(sg types.Subgoal, item string, count int) []types.Subgoal {
	saved := st.saveLedger()
	acq := newAcquisition(st)
	if !acq.require(item, count, 0, nil) {
		st.restoreLedger(saved)
		return st.exploreFallback(sg, item)
	}
	st.note("guard_replaced_%s_with_acquisition_of_%s", sg.Name, item)
	return acq.emit()
}

func (st *evalState) exploreFallback(sg types.Subgoal, target string) []types.Subgoal {
	st.note("guard_explore_fallback_%s", target)
	return []types.Subgoal{{
		Name: types.SubgoalExplore,
		Params: map[string]any{
			"radius":         exploreFallbackRadius,
			"return_to_base": false,
			"resource_hint":  target,
		},
	}}
}

// applyProjected is rule 4: credit the outcome of a kept subgoal to the
// projection and the availability ledger.
func (st *evalState) applyProjected(sg types.Subgoal) {
	switch sg.Name {
	case types.SubgoalCraft, types.SubgoalWithdraw:
		item := paramString(sg.Params, "item", "block")
		if item == "" {
			return
		}
		count := paramInt(sg.Params, 1, "count")
		st.credit(item, count)
		if sg.Name == types.SubgoalCraft && item == "crafting_table" {
			st.tableAccess = true
		}
	case types.SubgoalCollect:
		target := paramString(sg.Params, "block", "item")
		if target == "" {
			return
		}
		count := paramInt(sg.Params, 1, "count")
		st.credit(st.dropItem(target), count)
	}
}

// dropItem maps a collect target to the item that ends up in the inventory.
func (st *evalState) dropItem(target string) string {
	if b, ok := st.g.cat.Block(target); ok && b.Drops != "" {
		return b.Drops
	}
	return target
}

// resolveBlock maps a target name to a world block: the block itself, or
// the best source block that drops the target.
func (st *evalState) resolveBlock(target string) (catalog.Block, bool) {
	if b, ok := st.g.cat.Block(target); ok {
		return b, true
	}
	sources := st.g.cat.SourcesFor(target)
	if len(sources) == 0 {
		return catalog.Block{}, false
	}
	return st.pickSource(sources), true
}

// pickSource orders candidate source blocks: tool already owned first, then
// presence in the nearby scan by distance, then name.
func (st *evalState) pickSource(sources []catalog.Block) catalog.Block {
	best := sources[0]
	bestKey := st.sourceKey(best)
	for _, s := range sources[1:] {
		if k := st.sourceKey(s); k.less(bestKey) {
			best = s
			bestKey = k
		}
	}
	return best
}

type sourceRank struct {
	toolMissing int // 0 owned or not needed, 1 missing
	notNearby   int // 0 in the nearby scan, 1 not
	distance    float64
	name        string
}

func (a sourceRank) less(b sourceRank) bool {
	if a.toolMissing != b.toolMissing {
		return a.toolMissing < b.toolMissing
	}
	if a.notNearby != b.notNearby {
		return a.notNearby < b.notNearby
	}
	if a.distance != b.distance {
		return a.distance < b.distance
	}
	return a.name < b.name
}

func (st *evalState) sourceKey(b catalog.Block) sourceRank {
	k := sourceRank{toolMissing: 1, notNearby: 1, distance: math.MaxFloat64, name: b.Name}
	if st.ownsToolFor(b) {
		k.toolMissing = 0
	}
	for _, r := range st.snap.NearbySummary.Resources {
		if r.Type == b.Name {
			k.notNearby = 0
			k.distance = r.Distance
			break
		}
	}
	return k
}

func (st *evalState) ownsToolFor(b catalog.Block) bool {
	if b.RequiredTool == "" {
		return true
	}
	for tool, n := range st.projected {
		if n > 0 && catalog.ToolSatisfies(tool, b) {
			return true
		}
	}
	return false
}

// ledger snapshots support rollback when an acquisition attempt fails part
// way through: a failed plan must not leave phantom consumption behind.
type ledger struct {
	avail       map[string]int
	tableAccess bool
}

func (st *evalState) saveLedger() ledger {
	cp := make(map[string]int, len(st.avail))
	for k, v := range st.avail {
		cp[k] = v
	}
	return ledger{avail: cp, tableAccess: st.tableAccess}
}

func (st *evalState) restoreLedger(l ledger) {
	st.avail = l.avail
	st.tableAccess = l.tableAccess
}

func (st *evalState) credit(item string, n int) {
	if n <= 0 {
		return
	}
	st.projected[item] += n
	st.avail[item] += n
}

func (st *evalState) note(format string, args ...any) {
	st.notes = append(st.notes, fmt.Sprintf(format, args...))
}

// dedupeAdjacent is rule 5.
func dedupeAdjacent(plan []types.Subgoal) []types.Subgoal {
	var out []types.Subgoal
	for _, sg := range plan {
		if len(out) > 0 && out[len(out)-1].Name == sg.Name && out[len(out)-1].Equal(sg) {
			continue
		}
		out = append(out, sg)
	}
	return out
}

func paramString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func paramInt(params map[string]any, def int, keys ...string) int {
	for _, k := range keys {
		switch v := params[k].(type) {
		case int:
			return v
		case float64:
			return int(math.Round(v))
		}
	}
	return def
}

func ceilDiv(a, b int) int {
	if b <= 0 {
		return a
	}
	return (a + b - 1) / b
}
