package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

func emptySnapshot() types.Snapshot {
	return types.Snapshot{
		AgentID: "bot-1",
		InventorySummary: types.InventorySummary{
			Tools:    map[string]int{},
			KeyItems: map[string]int{},
		},
		NearbySummary: types.NearbySummary{
			Resources: []types.ResourceInfo{
				{Type: "oak_log", Distance: 5, Position: types.Vec3{X: 5}},
				{Type: "stone", Distance: 9, Position: types.Vec3{X: 9}},
			},
		},
	}
}

func collectSubgoal(block string, count int) types.Subgoal {
	return types.Subgoal{Name: types.SubgoalCollect,
		Params: map[string]any{"block": block, "count": count}}
}

func TestStoneWithoutPickaxeGetsFullToolChain(t *testing.T) {
	g := New(catalog.Builtin())
	out, notes := g.Apply(emptySnapshot(), []types.Subgoal{collectSubgoal("stone", 10)})

	require.Len(t, out, 7)

	assert.Equal(t, types.SubgoalGotoNearest, out[0].Name)
	assert.Equal(t, "oak_log", out[0].Params["block"])

	assert.Equal(t, types.SubgoalCollect, out[1].Name)
	assert.Equal(t, "oak_log", out[1].Params["item"])
	assert.GreaterOrEqual(t, out[1].Params["count"].(int), 3)

	wantCrafts := []string{"oak_planks", "crafting_table", "stick", "wooden_pickaxe"}
	for i, item := range wantCrafts {
		assert.Equal(t, types.SubgoalCraft, out[2+i].Name, item)
		assert.Equal(t, item, out[2+i].Params["item"])
	}

	last := out[6]
	assert.Equal(t, types.SubgoalCollect, last.Name)
	assert.Equal(t, "stone", last.Params["block"])
	assert.Equal(t, 10, last.Params["count"])

	assert.NotEmpty(t, notes)
}

func TestIdempotentOnOwnOutput(t *testing.T) {
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	once, _ := g.Apply(snap, []types.Subgoal{collectSubgoal("stone", 10)})
	twice, notes := g.Apply(snap, once)
	assert.True(t, types.PlansEqual(once, twice))
	assert.Empty(t, notes)
}

func TestOwnedToolSkipsAcquisition(t *testing.T) {
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.InventorySummary.Tools["stone_pickaxe"] = 1

	out, notes := g.Apply(snap, []types.Subgoal{collectSubgoal("stone", 10)})
	require.Len(t, out, 1)
	assert.True(t, out[0].Equal(collectSubgoal("stone", 10)))
	assert.Empty(t, notes)
}

func TestCollectItemResolvesToSourceBlock(t *testing.T) {
	// "coal" is an item, not a block; the guard retargets the collect at
	// coal_ore and plans the missing pickaxe.
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.NearbySummary.Resources = append(snap.NearbySummary.Resources,
		types.ResourceInfo{Type: "coal_ore", Distance: 12, Position: types.Vec3{X: 12}})
	snap.InventorySummary.Tools["wooden_pickaxe"] = 1

	out, _ := g.Apply(snap, []types.Subgoal{collectSubgoal("coal", 4)})
	require.Len(t, out, 1)
	assert.Equal(t, "coal_ore", out[0].Params["block"])
}

func TestUnresolvableTargetBecomesExplore(t *testing.T) {
	g := New(catalog.Builtin())
	out, notes := g.Apply(emptySnapshot(), []types.Subgoal{collectSubgoal("ender_pearl", 1)})
	require.Len(t, out, 1)
	assert.Equal(t, types.SubgoalExplore, out[0].Name)
	assert.Equal(t, 28, out[0].Params["radius"])
	assert.Equal(t, false, out[0].Params["return_to_base"])
	assert.Equal(t, "ender_pearl", out[0].Params["resource_hint"])
	assert.Contains(t, notes, "guard_explore_fallback_ender_pearl")
}

func TestCraftPrerequisitesPrepended(t *testing.T) {
	// Crafting a table with nothing in hand needs logs and planks first.
	g := New(catalog.Builtin())
	plan := []types.Subgoal{{Name: types.SubgoalCraft,
		Params: map[string]any{"item": "crafting_table", "count": 1}}}
	out, _ := g.Apply(emptySnapshot(), plan)

	require.Len(t, out, 4)
	assert.Equal(t, types.SubgoalGotoNearest, out[0].Name)
	assert.Equal(t, types.SubgoalCollect, out[1].Name)
	assert.Equal(t, "oak_log", out[1].Params["item"])
	assert.Equal(t, types.SubgoalCraft, out[2].Name)
	assert.Equal(t, "oak_planks", out[2].Params["item"])
	assert.Equal(t, "crafting_table", out[3].Params["item"])
}

func TestCraftWithIngredientsInHandKeptAsIs(t *testing.T) {
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.InventorySummary.KeyItems["oak_planks"] = 4

	plan := []types.Subgoal{{Name: types.SubgoalCraft,
		Params: map[string]any{"item": "crafting_table", "count": 1}}}
	out, notes := g.Apply(snap, plan)
	require.Len(t, out, 1)
	assert.Equal(t, "crafting_table", out[0].Params["item"])
	assert.Empty(t, notes)
}

func TestWorkbenchAccessViaNearbyTable(t *testing.T) {
	// A table within 8 units means no table acquisition is planned.
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.InventorySummary.KeyItems["oak_planks"] = 3
	snap.InventorySummary.KeyItems["stick"] = 2
	snap.NearbySummary.PointsOfInterest = []types.POIInfo{
		{Type: "crafting_table", Distance: 4, Position: types.Vec3{X: 4}},
	}

	plan := []types.Subgoal{{Name: types.SubgoalCraft,
		Params: map[string]any{"item": "wooden_pickaxe", "count": 1}}}
	out, _ := g.Apply(snap, plan)
	require.Len(t, out, 1)
	assert.Equal(t, "wooden_pickaxe", out[0].Params["item"])
}

func TestProjectedInventoryMonotonic(t *testing.T) {
	// Crafting consumes ingredients in reality, but the projection only
	// grows: after the full chain the log count never dips below its peak.
	g := New(catalog.Builtin())
	st := g.newState(emptySnapshot())

	peak := make(map[string]int)
	record := func() {
		for k, v := range st.projected {
			require.GreaterOrEqual(t, v, peak[k], k)
			if v > peak[k] {
				peak[k] = v
			}
		}
	}

	for _, sg := range []types.Subgoal{
		{Name: types.SubgoalCollect, Params: map[string]any{"item": "oak_log", "count": 3}},
		{Name: types.SubgoalCraft, Params: map[string]any{"item": "oak_planks", "count": 12}},
		{Name: types.SubgoalCraft, Params: map[string]any{"item": "crafting_table", "count": 1}},
	} {
		st.applyProjected(sg)
		record()
	}
	assert.Equal(t, 3, st.projected["oak_log"])
	assert.Equal(t, 12, st.projected["oak_planks"])
}

func TestDedupeAdjacent(t *testing.T) {
	a := collectSubgoal("stone", 10)
	out := dedupeAdjacent([]types.Subgoal{a, a.Clone(), collectSubgoal("stone", 5), a})
	assert.Len(t, out, 3)
}

func TestProgressionToolGap(t *testing.T) {
	// Stone in view, no pickaxe: the plan unlocks the wooden pickaxe.
	g := New(catalog.Builtin())
	reason, subgoals := g.ProgressionPlan(emptySnapshot(), 0)
	assert.Equal(t, "unlock_wooden_pickaxe_for_stone", reason)
	require.NotEmpty(t, subgoals)
	last := subgoals[len(subgoals)-1]
	assert.Equal(t, types.SubgoalCraft, last.Name)
	assert.Equal(t, "wooden_pickaxe", last.Params["item"])
}

func TestProgressionStockpile(t *testing.T) {
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.InventorySummary.Tools["wooden_pickaxe"] = 1
	snap.InventorySummary.KeyItems["oak_log"] = 6 // shortage 2 vs 8

	reason, subgoals := g.ProgressionPlan(snap, 8)
	// Cobblestone shortage (8) beats oak_log shortage (2).
	assert.Equal(t, "stockpile_cobblestone", reason)
	require.Len(t, subgoals, 2)
	assert.Equal(t, types.SubgoalGotoNearest, subgoals[0].Name)
	assert.Equal(t, "stone", subgoals[0].Params["block"])
	assert.Equal(t, types.SubgoalCollect, subgoals[1].Name)
	assert.Equal(t, "cobblestone", subgoals[1].Params["item"])
	assert.Equal(t, 8, subgoals[1].Params["count"])
}

func TestProgressionExploreWhenNothingActionable(t *testing.T) {
	g := New(catalog.Builtin())
	snap := emptySnapshot()
	snap.NearbySummary.Resources = nil

	reason, subgoals := g.ProgressionPlan(snap, 8)
	assert.Equal(t, "explore_for_resources", reason)
	require.Len(t, subgoals, 1)
	assert.Equal(t, types.SubgoalExplore, subgoals[0].Name)
	assert.Equal(t, 26, subgoals[0].Params["radius"])
}
