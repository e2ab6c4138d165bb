package skills

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

const (
	defaultExploreRadius  = 16
	defaultGotoRange      = 1
	defaultSearchDistance = 48
	// containerReach bounds how far from the bot a usable container or
	// crafting table may stand.
	containerReach  = 8.0
	combatGuardPoll = 250 * time.Millisecond
)

func (e *Engine) explore(ctx context.Context, sg types.Subgoal) types.SkillResult {
	botID := e.agent.BotID()
	if e.explorers != nil && !e.explorers.TryEnter(botID) {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "explorer slots full",
			Retryable: true,
		}
	}
	if e.explorers != nil {
		defer e.explorers.Leave(botID)
	}

	radius := float64(pInt(sg.Params, "radius", defaultExploreRadius))
	start := e.agent.Position()
	waypoints := []types.Vec3{
		{X: start.X + radius, Y: start.Y, Z: start.Z},
		{X: start.X, Y: start.Y, Z: start.Z + radius},
		{X: start.X - radius, Y: start.Y, Z: start.Z},
		{X: start.X, Y: start.Y, Z: start.Z - radius},
	}

	reached := 0
	distance := 0.0
	prev := start
	for _, wp := range waypoints {
		if ctx.Err() != nil {
			break
		}
		if err := e.agent.PathfindTo(ctx, wp, 2); err != nil {
			continue
		}
		cur := e.agent.Position()
		distance += prev.Dist(cur)
		prev = cur
		reached++
	}
	if pBool(sg.Params, "return_to_base") {
		if err := e.agent.PathfindTo(ctx, e.base, 2); err == nil {
			distance += prev.Dist(e.agent.Position())
		}
	}
	if reached == 0 {
		return types.Failure{
			Code:      types.FailPathfindFailed,
			Details:   "no explore waypoint was reachable",
			Retryable: true,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("explored %d waypoints at radius %.0f", reached, radius),
		Metrics: map[string]float64{"waypoints": float64(reached), "distance": distance},
	}
}

func (e *Engine) goTo(ctx context.Context, sg types.Subgoal) types.SkillResult {
	if _, ok := sg.Params["x"]; !ok {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "goto: missing coordinates",
			Retryable: false,
		}
	}
	target := types.Vec3{
		X: float64(pInt(sg.Params, "x", 0)),
		Y: float64(pInt(sg.Params, "y", 0)),
		Z: float64(pInt(sg.Params, "z", 0)),
	}
	reach := pInt(sg.Params, "range", defaultGotoRange)
	start := e.agent.Position()
	if err := e.agent.PathfindTo(ctx, target, reach); err != nil {
		return types.Failure{
			Code:      types.FailPathfindFailed,
			Details:   fmt.Sprintf("goto %v: %v", target, err),
			Retryable: true,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("arrived at %.0f,%.0f,%.0f", target.X, target.Y, target.Z),
		Metrics: map[string]float64{"distance": start.Dist(e.agent.Position())},
	}
}

func (e *Engine) gotoNearest(ctx context.Context, sg types.Subgoal) types.SkillResult {
	block := pString(sg.Params, "block")
	if block == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "goto_nearest: missing block",
			Retryable: false,
		}
	}
	maxDistance := float64(pInt(sg.Params, "max_distance", defaultSearchDistance))
	refs := e.agent.FindBlocks([]string{block}, maxDistance, 1)
	if len(refs) == 0 {
		return types.Failure{
			Code:      types.FailResourceNotFound,
			Details:   fmt.Sprintf("no %s within %.0f", block, maxDistance),
			Retryable: true,
		}
	}
	if err := e.agent.PathfindTo(ctx, refs[0].Position, 2); err != nil {
		return types.Failure{
			Code:      types.FailPathfindFailed,
			Details:   fmt.Sprintf("goto_nearest %s: %v", block, err),
			Retryable: true,
		}
	}
	return types.Success{Details: fmt.Sprintf("standing by %s", block)}
}

func (e *Engine) collect(ctx context.Context, sg types.Subgoal) types.SkillResult {
	target := pString(sg.Params, "block")
	if target == "" {
		target = pString(sg.Params, "item")
	}
	if target == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "collect: missing target",
			Retryable: false,
		}
	}
	count := pInt(sg.Params, "count", 1)

	block, ok := e.cat.Block(target)
	if !ok {
		// An item name: retarget at the block that drops it.
		sources := e.cat.SourcesFor(target)
		if len(sources) == 0 {
			return types.Failure{
				Code:      types.FailResourceNotFound,
				Details:   "collect: no known source block for " + target,
				Retryable: false,
			}
		}
		block = sources[0]
	}

	if tool, needed := catalog.ToolFor(block); needed {
		equipped := ""
		for _, it := range e.agent.Inventory() {
			if e.cat.IsTool(it.Name) && catalog.ToolSatisfies(it.Name, block) {
				equipped = it.Name
				break
			}
		}
		if equipped == "" {
			return types.Failure{
				Code:      types.FailNoToolAvailable,
				Details:   fmt.Sprintf("collect %s: need %s", block.Name, tool),
				Retryable: false,
			}
		}
		if err := e.agent.EquipItem(equipped); err != nil {
			return types.Failure{
				Code:      types.FailNoToolAvailable,
				Details:   fmt.Sprintf("equip %s: %v", equipped, err),
				Retryable: false,
			}
		}
	}

	if e.agent.EmptySlots() == 0 {
		return types.Failure{
			Code:      types.FailInventoryFull,
			Details:   "collect: no empty inventory slots",
			Retryable: true,
		}
	}

	collected, err := e.agent.CollectBlocks(ctx, block.Name, count, defaultSearchDistance)
	if err != nil {
		return types.Failure{
			Code:      types.FailResourceNotFound,
			Details:   fmt.Sprintf("collect %s: %v", block.Name, err),
			Retryable: true,
		}
	}
	if collected == 0 {
		return types.Failure{
			Code:      types.FailResourceNotFound,
			Details:   fmt.Sprintf("no %s collected within %d", block.Name, defaultSearchDistance),
			Retryable: true,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("collected %d %s", collected, block.Name),
		Metrics: map[string]float64{"collected": float64(collected)},
	}
}

func (e *Engine) craft(ctx context.Context, sg types.Subgoal) types.SkillResult {
	item := pString(sg.Params, "item")
	if item == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "craft: missing item",
			Retryable: false,
		}
	}
	count := pInt(sg.Params, "count", 1)

	recipes := e.cat.Recipes(item)
	if len(recipes) == 0 {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "craft: no recipe for " + item,
			Retryable: false,
		}
	}

	inv := e.agent.Inventory()
	recipe, missing := pickCraftable(recipes, inv, count)
	if missing != "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("craft %s: missing %s", item, missing),
			Retryable: false,
		}
	}

	useTable := recipe.NeedsWorkbench()
	if useTable {
		if res := e.ensureWorkbench(ctx); res != nil {
			return *res
		}
	}
	if err := e.agent.Craft(ctx, item, count, useTable); err != nil {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("craft %s: %v", item, err),
			Retryable: false,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("crafted %d %s", count, item),
		Metrics: map[string]float64{"crafted": float64(count)},
	}
}

// pickCraftable returns the first recipe whose ingredients for count results
// are fully in inventory, or the name of the shortest-fall ingredient of the
// first recipe when none fits.
func pickCraftable(recipes []catalog.Recipe, inv []adapter.Item, count int) (catalog.Recipe, string) {
	var firstMissing string
	for i, r := range recipes {
		apps := int(math.Ceil(float64(count) / float64(r.ResultCount)))
		ok := true
		for ing, per := range r.Ingredients {
			if adapter.InventoryCount(inv, ing) < per*apps {
				ok = false
				if i == 0 && firstMissing == "" {
					firstMissing = ing
				}
			}
		}
		if ok {
			return r, ""
		}
	}
	if firstMissing == "" {
		firstMissing = "ingredients"
	}
	return catalog.Recipe{}, firstMissing
}

// ensureWorkbench gets the bot next to a crafting table, placing one from
// inventory if none stands nearby. Returns nil when a table is usable.
func (e *Engine) ensureWorkbench(ctx context.Context) *types.Failure {
	refs := e.agent.FindBlocks([]string{"crafting_table"}, containerReach, 1)
	if len(refs) > 0 {
		return nil
	}
	if adapter.InventoryCount(e.agent.Inventory(), "crafting_table") == 0 {
		return &types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "craft: no crafting table in reach or inventory",
			Retryable: false,
		}
	}
	pos := e.agent.Position()
	if err := e.agent.PlaceBlock(ctx, "crafting_table", types.Vec3{X: pos.X + 1, Y: pos.Y, Z: pos.Z}); err != nil {
		return &types.Failure{
			Code:      types.FailPlacementFailed,
			Details:   fmt.Sprintf("place crafting_table: %v", err),
			Retryable: true,
		}
	}
	return nil
}

func (e *Engine) smelt(ctx context.Context, sg types.Subgoal) types.SkillResult {
	input := pString(sg.Params, "input")
	if input == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "smelt: missing input",
			Retryable: false,
		}
	}
	count := pInt(sg.Params, "count", 1)
	inv := e.agent.Inventory()
	if adapter.InventoryCount(inv, input) < count {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("smelt: have %d %s, need %d", adapter.InventoryCount(inv, input), input, count),
			Retryable: false,
		}
	}
	fuel := pString(sg.Params, "fuel")
	if fuel == "" {
		for _, candidate := range []string{"coal", "oak_planks", "oak_log"} {
			if adapter.InventoryCount(inv, candidate) > 0 {
				fuel = candidate
				break
			}
		}
	}
	if fuel == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "smelt: no fuel in inventory",
			Retryable: false,
		}
	}

	if len(e.agent.FindBlocks([]string{"furnace"}, containerReach, 1)) == 0 {
		if adapter.InventoryCount(inv, "furnace") == 0 {
			return types.Failure{
				Code:      types.FailDependsOnItem,
				Details:   "smelt: no furnace in reach or inventory",
				Retryable: false,
			}
		}
		pos := e.agent.Position()
		if err := e.agent.PlaceBlock(ctx, "furnace", types.Vec3{X: pos.X + 1, Y: pos.Y, Z: pos.Z}); err != nil {
			return types.Failure{
				Code:      types.FailPlacementFailed,
				Details:   fmt.Sprintf("place furnace: %v", err),
				Retryable: true,
			}
		}
	}

	if err := e.agent.Smelt(ctx, input, count, fuel); err != nil {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("smelt %s: %v", input, err),
			Retryable: false,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("smelted %d %s", count, input),
		Metrics: map[string]float64{"smelted": float64(count)},
	}
}

func (e *Engine) deposit(ctx context.Context, sg types.Subgoal) types.SkillResult {
	chest, fail := e.atBaseContainer(ctx)
	if fail != nil {
		return *fail
	}

	items := explicitItems(sg.Params)
	if items == nil {
		// all_non_essential: everything that is not food and not a tool.
		items = make(map[string]int)
		for _, it := range e.agent.Inventory() {
			if e.cat.IsFood(it.Name) || e.cat.IsTool(it.Name) {
				continue
			}
			items[it.Name] = it.Count
		}
	}
	if len(items) == 0 {
		return types.Success{Details: "nothing to deposit"}
	}
	if err := e.agent.TransferToContainer(ctx, chest, items); err != nil {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("deposit: %v", err),
			Retryable: true,
		}
	}
	total := 0
	for _, n := range items {
		total += n
	}
	return types.Success{
		Details: fmt.Sprintf("deposited %d items across %d stacks", total, len(items)),
		Metrics: map[string]float64{"deposited": float64(total)},
	}
}

func (e *Engine) withdraw(ctx context.Context, sg types.Subgoal) types.SkillResult {
	item := pString(sg.Params, "item")
	if item == "" {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "withdraw: missing item",
			Retryable: false,
		}
	}
	count := pInt(sg.Params, "count", 1)

	chest, fail := e.atBaseContainer(ctx)
	if fail != nil {
		return *fail
	}
	if err := e.agent.TakeFromContainer(ctx, chest, map[string]int{item: count}); err != nil {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   fmt.Sprintf("withdraw %s: %v", item, err),
			Retryable: true,
		}
	}
	return types.Success{
		Details: fmt.Sprintf("withdrew %d %s", count, item),
		Metrics: map[string]float64{"withdrawn": float64(count)},
	}
}

// atBaseContainer pathfinds to base and locates a chest in reach.
func (e *Engine) atBaseContainer(ctx context.Context) (types.Vec3, *types.Failure) {
	if err := e.agent.PathfindTo(ctx, e.base, 2); err != nil {
		return types.Vec3{}, &types.Failure{
			Code:      types.FailPathfindFailed,
			Details:   fmt.Sprintf("reach base: %v", err),
			Retryable: true,
		}
	}
	refs := e.agent.FindBlocks([]string{"chest"}, containerReach, 1)
	if len(refs) == 0 {
		return types.Vec3{}, &types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "no chest at base",
			Retryable: false,
		}
	}
	return refs[0].Position, nil
}

func explicitItems(params map[string]any) map[string]int {
	raw, ok := params["items"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]int, len(raw))
	for name := range raw {
		if n := pInt(raw, name, 0); n > 0 {
			out[name] = n
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// blueprintBlock is one placement in a blueprint, relative to the anchor.
type blueprintBlock struct {
	item       string
	dx, dy, dz float64
}

// blueprints the fleet knows how to build: markers and the shared storage
// post.
var blueprints = map[string][]blueprintBlock{
	"marker_pillar": {
		{item: "cobblestone", dy: 0},
		{item: "cobblestone", dy: 1},
		{item: "cobblestone", dy: 2},
	},
	"storage_post": {
		{item: "crafting_table"},
		{item: "chest", dx: 1},
		{item: "torch", dy: 1},
	},
}

func (e *Engine) buildBlueprint(ctx context.Context, sg types.Subgoal) types.SkillResult {
	name := pString(sg.Params, "blueprint")
	plan, ok := blueprints[name]
	if !ok {
		return types.Failure{
			Code:      types.FailDependsOnItem,
			Details:   "unknown blueprint: " + name,
			Retryable: false,
		}
	}
	anchor := e.agent.Position()
	if raw, ok := sg.Params["anchor"].(map[string]any); ok {
		if x, okX := anchorInt(raw["x"]); okX {
			y, _ := anchorInt(raw["y"])
			z, _ := anchorInt(raw["z"])
			anchor = types.Vec3{X: float64(x), Y: float64(y), Z: float64(z)}
		}
	}

	inv := e.agent.Inventory()
	need := make(map[string]int)
	for _, b := range plan {
		need[b.item]++
	}
	for item, n := range need {
		if adapter.InventoryCount(inv, item) < n {
			return types.Failure{
				Code:      types.FailDependsOnItem,
				Details:   fmt.Sprintf("blueprint %s: missing %s", name, item),
				Retryable: false,
			}
		}
	}

	if err := e.agent.PathfindTo(ctx, anchor, 3); err != nil {
		return types.Failure{
			Code:      types.FailPathfindFailed,
			Details:   fmt.Sprintf("reach anchor: %v", err),
			Retryable: true,
		}
	}
	placed := 0
	for _, b := range plan {
		pos := types.Vec3{X: anchor.X + b.dx, Y: anchor.Y + b.dy, Z: anchor.Z + b.dz}
		if err := e.agent.PlaceBlock(ctx, b.item, pos); err != nil {
			return types.Failure{
				Code:      types.FailPlacementFailed,
				Details:   fmt.Sprintf("blueprint %s at %v: %v", name, pos, err),
				Retryable: true,
			}
		}
		placed++
	}
	return types.Success{
		Details: fmt.Sprintf("built %s (%d blocks)", name, placed),
		Metrics: map[string]float64{"placed": float64(placed)},
	}
}

func (e *Engine) combatEngage(ctx context.Context, sg types.Subgoal) types.SkillResult {
	maxTargets := pInt(sg.Params, "max_targets", 2)
	maxDistance := float64(pInt(sg.Params, "max_distance", 18))

	engaged := 0
	for engaged < maxTargets {
		if ctx.Err() != nil {
			break
		}
		hit, err := e.agent.AttackNearestHostile(ctx, maxDistance)
		if err != nil {
			return types.Failure{
				Code:      types.FailCombatLostTarget,
				Details:   fmt.Sprintf("combat_engage: %v", err),
				Retryable: true,
			}
		}
		if !hit {
			break
		}
		engaged++
	}
	return types.Success{
		Details: fmt.Sprintf("engaged %d hostiles", engaged),
		Metrics: map[string]float64{"engaged": float64(engaged)},
	}
}

func (e *Engine) combatGuard(ctx context.Context, sg types.Subgoal) types.SkillResult {
	radius := float64(pInt(sg.Params, "radius", 12))
	duration := time.Duration(pInt(sg.Params, "duration", 6000)) * time.Millisecond

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	poll := time.NewTicker(combatGuardPoll)
	defer poll.Stop()

	engaged := 0
	for {
		// Sweep once per poll; hostiles inside the radius are fought off.
		hit, err := e.agent.AttackNearestHostile(ctx, radius)
		if err != nil {
			return types.Failure{
				Code:      types.FailCombatLostTarget,
				Details:   fmt.Sprintf("combat_guard: %v", err),
				Retryable: true,
			}
		}
		if hit {
			engaged++
			continue // clear everything in range before sleeping
		}
		select {
		case <-ctx.Done():
			return types.Failure{
				Code:      types.FailStuckTimeout,
				Details:   "combat_guard interrupted: " + ctx.Err().Error(),
				Retryable: true,
			}
		case <-deadline.C:
			return types.Success{
				Details: fmt.Sprintf("guarded radius %.0f for %s", radius, duration),
				Metrics: map[string]float64{"engaged": float64(engaged)},
			}
		case <-poll.C:
		}
	}
}
