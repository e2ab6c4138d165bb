package skills

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/admission"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/lockmgr"
	"github.com/blockfleet/blockfleet/internal/types"
)

func newEngine(sim *adapter.Sim, locks *lockmgr.Manager) *Engine {
	if locks == nil {
		locks = lockmgr.New(30*time.Second, nil, zerolog.Nop())
	}
	return NewEngine(sim, catalog.Builtin(), locks, admission.NewExplorerLimiter(2),
		types.Vec3{X: 0, Y: 64, Z: 0}, 10*time.Second, zerolog.Nop())
}

func subgoal(name types.SubgoalName, params map[string]any) types.Subgoal {
	return types.Subgoal{Name: name, Params: params}
}

func requireFailure(t *testing.T, res types.SkillResult) types.Failure {
	t.Helper()
	f, ok := res.(types.Failure)
	require.True(t, ok, "expected Failure, got %#v", res)
	return f
}

func TestLockKeys(t *testing.T) {
	assert.Equal(t, "resource:stone",
		lockKey(subgoal(types.SubgoalCollect, map[string]any{"block": "stone"})))
	assert.Equal(t, "resource:oak_log",
		lockKey(subgoal(types.SubgoalCollect, map[string]any{"item": "oak_log"})))
	assert.Equal(t, "storage:base", lockKey(subgoal(types.SubgoalDeposit, nil)))
	assert.Equal(t, "storage:base", lockKey(subgoal(types.SubgoalWithdraw, nil)))
	assert.Equal(t, "build:1,64,-3", lockKey(subgoal(types.SubgoalBuildBlueprint,
		map[string]any{"anchor": map[string]any{"x": 1, "y": 64.0, "z": -3}})))
	// A fractional anchor coordinate cannot name a block position.
	assert.Empty(t, lockKey(subgoal(types.SubgoalBuildBlueprint,
		map[string]any{"anchor": map[string]any{"x": 1.5, "y": 64, "z": 0}})))
	assert.Empty(t, lockKey(subgoal(types.SubgoalGoto, nil)))
}

func TestCollectRefusedWhileResourceLocked(t *testing.T) {
	locks := lockmgr.New(30*time.Second, nil, zerolog.Nop())
	require.True(t, locks.Acquire("resource:stone", "bot-1"))

	sim := adapter.NewSim("bot-2")
	e := newEngine(sim, locks)
	res := e.Execute(context.Background(), subgoal(types.SubgoalCollect,
		map[string]any{"block": "stone", "count": 1}))

	f := requireFailure(t, res)
	assert.Equal(t, types.FailDependsOnItem, f.Code)
	assert.True(t, f.Retryable)
	assert.Contains(t, f.Details, "resource locked")
	assert.Equal(t, "bot-1", locks.OwnerOf("resource:stone"))
}

func TestCollectReleasesLockOnExit(t *testing.T) {
	locks := lockmgr.New(30*time.Second, nil, zerolog.Nop())
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("oak_log", types.Vec3{X: 3})
	e := newEngine(sim, locks)

	res := e.Execute(context.Background(), subgoal(types.SubgoalCollect,
		map[string]any{"item": "oak_log", "count": 1}))
	require.True(t, res.Succeeded())
	assert.Empty(t, locks.OwnerOf("resource:oak_log"))
}

func TestCollectWithoutToolFails(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("stone", types.Vec3{X: 3})
	e := newEngine(sim, nil)

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCollect, map[string]any{"block": "stone", "count": 1})))
	assert.Equal(t, types.FailNoToolAvailable, f.Code)
	assert.False(t, f.Retryable)
}

func TestCollectWithToolSucceeds(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("stone", types.Vec3{X: 3})
	sim.PlaceWorldBlock("stone", types.Vec3{X: 4})
	sim.SetInventory("wooden_pickaxe", 1)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(), subgoal(types.SubgoalCollect,
		map[string]any{"block": "stone", "count": 2}))
	s, ok := res.(types.Success)
	require.True(t, ok, "expected Success, got %#v", res)
	assert.Equal(t, 2.0, s.Metrics["collected"])
}

func TestCollectItemParamRetargetsSourceBlock(t *testing.T) {
	// "coal" is an item; the handler mines coal_ore.
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("coal_ore", types.Vec3{X: 5})
	sim.SetInventory("wooden_pickaxe", 1)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(), subgoal(types.SubgoalCollect,
		map[string]any{"item": "coal", "count": 1}))
	require.True(t, res.Succeeded())
}

func TestCollectInventoryFull(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("oak_log", types.Vec3{X: 3})
	sim.SetEmptySlots(0)
	e := newEngine(sim, nil)

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCollect, map[string]any{"block": "oak_log", "count": 1})))
	assert.Equal(t, types.FailInventoryFull, f.Code)
	assert.True(t, f.Retryable)
}

func TestCollectNothingInRange(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCollect, map[string]any{"block": "oak_log", "count": 1})))
	assert.Equal(t, types.FailResourceNotFound, f.Code)
	assert.True(t, f.Retryable)
}

func TestHandlerPanicBecomesStructuredFailure(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("oak_log", types.Vec3{X: 3})
	sim.OnCollect = func(string, int) (int, error) { panic("client library exploded") }
	e := newEngine(sim, nil)

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCollect, map[string]any{"block": "oak_log", "count": 1})))
	assert.Equal(t, types.FailDependsOnItem, f.Code)
	assert.False(t, f.Retryable)
	assert.Contains(t, f.Details, "handler panic")
	// The lock defer still ran.
	assert.Empty(t, e.locks.OwnerOf("resource:oak_log"))
}

func TestCraftMissingIngredients(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCraft, map[string]any{"item": "oak_planks", "count": 4})))
	assert.Equal(t, types.FailDependsOnItem, f.Code)
	assert.Contains(t, f.Details, "oak_log")
}

func TestCraftShapelessInHand(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.SetInventory("oak_log", 2)
	e := newEngine(sim, nil)
	res := e.Execute(context.Background(),
		subgoal(types.SubgoalCraft, map[string]any{"item": "oak_planks", "count": 8}))
	require.True(t, res.Succeeded())
	assert.Equal(t, 8, adapter.InventoryCount(sim.Inventory(), "oak_planks"))
}

func TestCraftPlacesOwnWorkbench(t *testing.T) {
	// 3x3 recipe with no table in the world but one in inventory.
	sim := adapter.NewSim("bot-1")
	sim.SetInventory("oak_planks", 3)
	sim.SetInventory("stick", 2)
	sim.SetInventory("crafting_table", 1)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(),
		subgoal(types.SubgoalCraft, map[string]any{"item": "wooden_pickaxe", "count": 1}))
	require.True(t, res.Succeeded())
	assert.Len(t, sim.FindBlocks([]string{"crafting_table"}, 8, 0), 1)
}

func TestCraftNoWorkbenchAccess(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.SetInventory("oak_planks", 3)
	sim.SetInventory("stick", 2)
	e := newEngine(sim, nil)

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalCraft, map[string]any{"item": "wooden_pickaxe", "count": 1})))
	assert.Equal(t, types.FailDependsOnItem, f.Code)
	assert.Contains(t, f.Details, "crafting table")
}

func TestSmeltWithNearbyFurnace(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("furnace", types.Vec3{X: 2})
	sim.SetInventory("raw_iron", 3)
	sim.SetInventory("coal", 1)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(),
		subgoal(types.SubgoalSmelt, map[string]any{"input": "raw_iron", "count": 3}))
	require.True(t, res.Succeeded())
	assert.Equal(t, 0, adapter.InventoryCount(sim.Inventory(), "raw_iron"))
}

func TestSmeltWithoutFuel(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("furnace", types.Vec3{X: 2})
	sim.SetInventory("raw_iron", 1)
	e := newEngine(sim, nil)

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalSmelt, map[string]any{"input": "raw_iron", "count": 1})))
	assert.Contains(t, f.Details, "no fuel")
}

func TestGotoNearestNoMatch(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalGotoNearest, map[string]any{"block": "iron_ore", "max_distance": 48})))
	assert.Equal(t, types.FailResourceNotFound, f.Code)
	assert.True(t, f.Retryable)
}

func TestGotoMovesBot(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	res := e.Execute(context.Background(),
		subgoal(types.SubgoalGoto, map[string]any{"x": 10, "y": 64, "z": -5, "range": 2}))
	require.True(t, res.Succeeded())
	assert.Equal(t, types.Vec3{X: 10, Y: 64, Z: -5}, sim.Position())
}

func TestExploreRespectsLimiter(t *testing.T) {
	explorers := admission.NewExplorerLimiter(1)
	require.True(t, explorers.TryEnter("bot-other"))

	sim := adapter.NewSim("bot-1")
	e := NewEngine(sim, catalog.Builtin(), lockmgr.New(30*time.Second, nil, zerolog.Nop()),
		explorers, types.Vec3{}, 10*time.Second, zerolog.Nop())

	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalExplore, map[string]any{"radius": 10})))
	assert.Equal(t, types.FailDependsOnItem, f.Code)
	assert.True(t, f.Retryable)
}

func TestExploreWalksWaypoints(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	res := e.Execute(context.Background(),
		subgoal(types.SubgoalExplore, map[string]any{"radius": 10, "return_to_base": true}))
	s, ok := res.(types.Success)
	require.True(t, ok)
	assert.Equal(t, 4.0, s.Metrics["waypoints"])
	// return_to_base leaves the bot at base.
	assert.Equal(t, types.Vec3{X: 0, Y: 64, Z: 0}, sim.Position())
}

func TestDepositKeepsToolsAndFood(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("chest", types.Vec3{X: 1, Y: 64})
	sim.SetInventory("cobblestone", 40)
	sim.SetInventory("bread", 5)
	sim.SetInventory("stone_pickaxe", 1)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(),
		subgoal(types.SubgoalDeposit, map[string]any{"strategy": "all_non_essential"}))
	require.True(t, res.Succeeded())
	inv := sim.Inventory()
	assert.Equal(t, 0, adapter.InventoryCount(inv, "cobblestone"))
	assert.Equal(t, 5, adapter.InventoryCount(inv, "bread"))
	assert.Equal(t, 1, adapter.InventoryCount(inv, "stone_pickaxe"))
}

func TestDepositWithoutChest(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.SetInventory("cobblestone", 10)
	e := newEngine(sim, nil)
	f := requireFailure(t, e.Execute(context.Background(),
		subgoal(types.SubgoalDeposit, map[string]any{"strategy": "all_non_essential"})))
	assert.Contains(t, f.Details, "no chest")
}

func TestWithdraw(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.PlaceWorldBlock("chest", types.Vec3{X: 1, Y: 64})
	e := newEngine(sim, nil)
	res := e.Execute(context.Background(),
		subgoal(types.SubgoalWithdraw, map[string]any{"item": "torch", "count": 4}))
	require.True(t, res.Succeeded())
	assert.Equal(t, 4, adapter.InventoryCount(sim.Inventory(), "torch"))
}

func TestBuildBlueprint(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.SetInventory("cobblestone", 3)
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(), subgoal(types.SubgoalBuildBlueprint,
		map[string]any{"blueprint": "marker_pillar", "anchor": map[string]any{"x": 5, "y": 64, "z": 5}}))
	s, ok := res.(types.Success)
	require.True(t, ok, "expected Success, got %#v", res)
	assert.Equal(t, 3.0, s.Metrics["placed"])
	assert.Len(t, sim.FindBlocks([]string{"cobblestone"}, 48, 0), 3)
}

func TestBuildBlueprintMissingMaterials(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	e := newEngine(sim, nil)
	f := requireFailure(t, e.Execute(context.Background(), subgoal(types.SubgoalBuildBlueprint,
		map[string]any{"blueprint": "marker_pillar", "anchor": map[string]any{"x": 5, "y": 64, "z": 5}})))
	assert.Equal(t, types.FailDependsOnItem, f.Code)
}

func TestCombatEngageHonorsMaxTargets(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	for i := range 3 {
		sim.AddEntity(adapter.Entity{Type: "zombie", Hostile: true,
			Position: types.Vec3{X: float64(i + 2)}})
	}
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(),
		subgoal(types.SubgoalCombatEngage, map[string]any{"max_targets": 2, "max_distance": 18}))
	s, ok := res.(types.Success)
	require.True(t, ok)
	assert.Equal(t, 2.0, s.Metrics["engaged"])
	assert.Len(t, sim.NearbyEntities(18), 1)
}

func TestCombatGuardClearsRadiusThenHolds(t *testing.T) {
	sim := adapter.NewSim("bot-1")
	sim.AddEntity(adapter.Entity{Type: "skeleton", Hostile: true, Position: types.Vec3{X: 4}})
	e := newEngine(sim, nil)

	res := e.Execute(context.Background(),
		subgoal(types.SubgoalCombatGuard, map[string]any{"radius": 12, "duration": 1}))
	s, ok := res.(types.Success)
	require.True(t, ok, "expected Success, got %#v", res)
	assert.Equal(t, 1.0, s.Metrics["engaged"])
}
