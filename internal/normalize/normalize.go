// Package normalize canonicalizes planner output. Models name the same
// parameter a dozen ways; downstream code sees exactly one shape per
// subgoal. Normalization is idempotent: canonical input passes through
// byte-identical with no notes.
package normalize

import (
	"fmt"
	"math"
	"strconv"

	"github.com/blockfleet/blockfleet/internal/types"
)

var blockAliases = []string{"block", "item", "resource", "resource_type", "type"}
var itemAliases = []string{"item", "block", "resource", "resource_type", "type"}
var countAliases = []string{"count", "amount", "qty"}

// Plan rewrites each subgoal to its canonical parameter shape. Subgoals with
// an invalid mandatory field are dropped. Notes name every rewrite and drop.
//
// Expectations:
//   - collect{type:stone, amount:10} becomes collect{block:stone, count:10}
//     with a "normalized_subgoal_0_collect" note
//   - A collect with no resolvable target is dropped with a note
//   - Unrecognized subgoal names pass through unchanged
//   - Plan(Plan(p)) == Plan(p)
func Plan(in []types.Subgoal) ([]types.Subgoal, []string) {
	var out []types.Subgoal
	var notes []string

	for i, sg := range in {
		canon, ok := one(sg)
		if !ok {
			notes = append(notes, fmt.Sprintf("dropped_subgoal_%d_%s", i, sg.Name))
			continue
		}
		if !canon.Equal(sg) {
			notes = append(notes, fmt.Sprintf("normalized_subgoal_%d_%s", i, sg.Name))
		}
		out = append(out, canon)
	}
	return out, notes
}

// one canonicalizes a single subgoal. ok is false when a mandatory field is
// missing or invalid.
func one(sg types.Subgoal) (types.Subgoal, bool) {
	out := sg.Clone()
	switch sg.Name {
	case types.SubgoalCollect:
		block, ok := firstString(sg.Params, blockAliases)
		if !ok {
			return out, false
		}
		count, ok := firstCount(sg.Params, countAliases, 0)
		if !ok || count < 1 {
			return out, false
		}
		out.Params = keep(sg.Params, map[string]any{"block": block, "count": count},
			blockAliases, countAliases)

	case types.SubgoalGotoNearest:
		block, ok := firstString(sg.Params, blockAliases)
		if !ok {
			return out, false
		}
		dist, ok := firstCount(sg.Params, []string{"max_distance", "distance", "radius"}, 48)
		if !ok || dist <= 0 {
			return out, false
		}
		out.Params = keep(sg.Params, map[string]any{"block": block, "max_distance": dist},
			blockAliases, []string{"max_distance", "distance", "radius"})

	case types.SubgoalCraft, types.SubgoalWithdraw:
		item, ok := firstString(sg.Params, itemAliases)
		if !ok {
			return out, false
		}
		count, ok := firstCount(sg.Params, countAliases, 1)
		if !ok || count < 1 {
			return out, false
		}
		out.Params = keep(sg.Params, map[string]any{"item": item, "count": count},
			itemAliases, countAliases)

	case types.SubgoalSmelt:
		input, ok := firstString(sg.Params, []string{"input", "item", "block", "resource", "type"})
		if !ok {
			return out, false
		}
		count, ok := firstCount(sg.Params, countAliases, 1)
		if !ok || count < 1 {
			return out, false
		}
		canon := map[string]any{"input": input, "count": count}
		if fuel, ok := firstString(sg.Params, []string{"fuel"}); ok {
			canon["fuel"] = fuel
		}
		out.Params = keep(sg.Params, canon,
			[]string{"input", "item", "block", "resource", "type"}, countAliases, []string{"fuel"})

	case types.SubgoalGoto:
		x, okX := coord(sg.Params, "x")
		y, okY := coord(sg.Params, "y")
		z, okZ := coord(sg.Params, "z")
		if !okX || !okY || !okZ {
			return out, false
		}
		reach, ok := firstCount(sg.Params, []string{"range", "reach"}, 2)
		if !ok || reach < 1 {
			return out, false
		}
		out.Params = keep(sg.Params, map[string]any{"x": x, "y": y, "z": z, "range": reach},
			[]string{"x", "y", "z", "location"}, []string{"range", "reach"})

	default:
		// explore, deposit, build_blueprint, combat_* and anything
		// unrecognized pass through.
	}
	return out, true
}

// keep builds the canonical param map: the canonical entries plus any input
// key not consumed as an alias.
func keep(params map[string]any, canon map[string]any, consumed ...[]string) map[string]any {
	used := make(map[string]bool)
	for _, group := range consumed {
		for _, k := range group {
			used[k] = true
		}
	}
	for k, v := range params {
		if _, isCanon := canon[k]; isCanon || used[k] {
			continue
		}
		canon[k] = v
	}
	return canon
}

func firstString(params map[string]any, keys []string) (string, bool) {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

// firstCount resolves the first present alias to an int. Missing keys yield
// the default; a present but non-numeric value is invalid.
func firstCount(params map[string]any, keys []string, def int) (int, bool) {
	for _, k := range keys {
		v, ok := params[k]
		if !ok {
			continue
		}
		n, ok := asInt(v)
		return n, ok
	}
	if def > 0 {
		return def, true
	}
	return 0, false
}

// coord reads a coordinate from the flat key or a nested location map, and
// rounds it to an int.
func coord(params map[string]any, key string) (int, bool) {
	if v, ok := params[key]; ok {
		return asInt(v)
	}
	if loc, ok := params["location"].(map[string]any); ok {
		if v, ok := loc[key]; ok {
			return asInt(v)
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(math.Round(n)), true
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int(math.Round(f)), true
		}
	}
	return 0, false
}
