package guard

import (
	"fmt"
	"sort"

	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

// maxAcquireDepth bounds the recipe recursion.
const maxAcquireDepth = 8

const gatherMaxDistance = 48

type stepKind int

const (
	gatherStep stepKind = iota
	craftStep
)

// step is one planned acquisition action. Steps merge by (kind, item):
// repeat needs raise the count at the step's first-encounter position, which
// keeps dependency order because an item's prerequisites are always
// registered before the item itself.
type step struct {
	kind   stepKind
	item   string
	count  int
	source catalog.Block
}

// acquisition plans how to obtain missing items. One instance covers one
// input subgoal; it shares the evalState availability ledger so sibling
// requirements see each other's consumption.
type acquisition struct {
	st           *evalState
	steps        []step
	index        map[string]int
	chosen       map[string]catalog.Recipe
	plannedTools map[string]bool
}

func newAcquisition(st *evalState) *acquisition {
	return &acquisition{
		st:           st,
		index:        make(map[string]int),
		chosen:       make(map[string]catalog.Recipe),
		plannedTools: make(map[string]bool),
	}
}

// require ensures units of item will be available at this point of the
// plan: it consumes what the ledger already has and plans gathering or
// crafting for the shortfall. Returns false when the item cannot be
// obtained (no recipe, no reachable source, cycle, or depth exhausted).
func (a *acquisition) require(item string, units, depth int, stack []string) bool {
	if depth > maxAcquireDepth {
		return false
	}
	for _, s := range stack {
		if s == item {
			return false
		}
	}

	take := min(a.st.avail[item], units)
	a.st.avail[item] -= take
	shortage := units - take
	if shortage <= 0 {
		return true
	}

	recipes := a.st.g.cat.Recipes(item)
	if len(recipes) == 0 {
		return a.gatherRaw(item, shortage, depth, stack)
	}

	r := a.recipeFor(item, recipes, shortage)
	if r.NeedsWorkbench() && !a.st.tableAccess {
		if !a.require("crafting_table", 1, depth+1, append(stack, item)) {
			return false
		}
		a.st.tableAccess = true
	}
	apps := ceilDiv(shortage, r.ResultCount)
	for _, ing := range sortedKeys(r.Ingredients) {
		if !a.require(ing, apps*r.Ingredients[ing], depth+1, append(stack, item)) {
			return false
		}
	}
	a.addStep(craftStep, item, apps*r.ResultCount, catalog.Block{})
	// Surplus from whole recipe applications stays spendable.
	a.st.avail[item] += apps*r.ResultCount - shortage
	return true
}

// gatherRaw plans collecting an item with no recipe from its best source
// block, acquiring the harvest tool first when the bot lacks it.
func (a *acquisition) gatherRaw(item string, shortage, depth int, stack []string) bool {
	sources := a.st.g.cat.SourcesFor(item)
	if len(sources) == 0 {
		return false
	}
	src := a.st.pickSource(sources)
	if !a.st.ownsToolFor(src) {
		tool, needed := catalog.ToolFor(src)
		if needed && !a.plannedTools[tool] {
			if !a.require(tool, 1, depth+1, append(stack, item)) {
				return false
			}
			a.plannedTools[tool] = true
		}
	}
	a.addStep(gatherStep, item, shortage, src)
	return true
}

func (a *acquisition) addStep(kind stepKind, item string, count int, src catalog.Block) {
	key := fmt.Sprintf("%d:%s", kind, item)
	if i, ok := a.index[key]; ok {
		a.steps[i].count += count
		return
	}
	a.index[key] = len(a.steps)
	a.steps = append(a.steps, step{kind: kind, item: item, count: count, source: src})
}

// recipeFor picks and caches the recipe used for item within this run, so
// count merges never switch recipes mid-plan.
func (a *acquisition) recipeFor(item string, recipes []catalog.Recipe, needed int) catalog.Recipe {
	if r, ok := a.chosen[item]; ok {
		return r
	}
	r := a.pickRecipe(recipes, needed)
	a.chosen[item] = r
	return r
}

// pickRecipe minimizes missing ingredient units, charging 3 extra when the
// recipe needs a workbench the bot has no access to.
func (a *acquisition) pickRecipe(recipes []catalog.Recipe, needed int) catalog.Recipe {
	best := recipes[0]
	bestScore := a.recipeScore(best, needed)
	for _, r := range recipes[1:] {
		if s := a.recipeScore(r, needed); s < bestScore {
			best, bestScore = r, s
		}
	}
	return best
}

func (a *acquisition) recipeScore(r catalog.Recipe, needed int) int {
	apps := ceilDiv(needed, r.ResultCount)
	missing := 0
	for ing, units := range r.Ingredients {
		need := apps * units
		if have := a.st.avail[ing]; have < need {
			missing += need - have
		}
	}
	if r.NeedsWorkbench() && !a.st.tableAccess {
		missing += 3
	}
	return missing
}

// emit renders the planned steps as subgoals and credits their outputs to
// the projection. A gather becomes goto_nearest plus collect; a craft
// becomes a craft subgoal for the full produced count.
func (a *acquisition) emit() []types.Subgoal {
	var out []types.Subgoal
	for _, s := range a.steps {
		switch s.kind {
		case gatherStep:
			out = append(out,
				types.Subgoal{Name: types.SubgoalGotoNearest, Params: map[string]any{
					"block":        s.source.Name,
					"max_distance": gatherMaxDistance,
				}},
				types.Subgoal{Name: types.SubgoalCollect, Params: map[string]any{
					"item":  s.item,
					"count": s.count,
				}},
			)
		case craftStep:
			out = append(out, types.Subgoal{Name: types.SubgoalCraft, Params: map[string]any{
				"item":  s.item,
				"count": s.count,
			}})
		}
		a.st.projected[s.item] += s.count
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
