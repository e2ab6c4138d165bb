// Package catalog defines the read-only game-data lookup the planner and
// guard depend on: recipes, block/harvest metadata, and item classes. The
// data itself is injected; Builtin supplies a small vanilla subset for the
// default wiring and tests.
package catalog

import "strings"

// Recipe describes one way to produce an item. ShapeRows/ShapeCols are zero
// for shapeless recipes.
type Recipe struct {
	Result      string
	ResultCount int
	Ingredients map[string]int
	ShapeRows   int
	ShapeCols   int
}

// NeedsWorkbench reports whether the recipe exceeds the 2x2 inventory grid.
func (r Recipe) NeedsWorkbench() bool {
	if r.ShapeRows > 2 || r.ShapeCols > 2 {
		return true
	}
	total := 0
	for _, n := range r.Ingredients {
		total += n
	}
	return total > 4
}

// Block holds the harvest metadata the guard needs. RequiredTool is a tool
// class ("pickaxe"); empty means any tool or bare hands. MinTier is the
// lowest material that harvests it.
type Block struct {
	Name         string
	Drops        string
	RequiredTool string
	MinTier      string
}

// Catalog is the injected lookup contract.
type Catalog interface {
	// Recipes returns every known recipe producing item, or nil.
	Recipes(item string) []Recipe
	// Block resolves a block name.
	Block(name string) (Block, bool)
	// SourcesFor returns blocks whose primary drop is item.
	SourcesFor(item string) []Block
	// BlockNames lists every known block, for nearby scans.
	BlockNames() []string
	IsTool(item string) bool
	IsFood(item string) bool
}

// Material orderings. acquireRank is the preference order when choosing the
// cheapest tool to craft; harvestRank is mining capability (gold mines no
// more than wood does).
var acquireRank = map[string]int{
	"wooden": 0, "stone": 1, "iron": 2, "diamond": 3, "netherite": 4, "golden": 5,
}

var harvestRank = map[string]int{
	"wooden": 0, "golden": 0, "stone": 1, "iron": 2, "diamond": 3, "netherite": 4,
}

// TierRank returns the acquisition-preference rank of a tool material.
// Unknown materials sort after everything.
func TierRank(material string) int {
	if r, ok := acquireRank[material]; ok {
		return r
	}
	return len(acquireRank)
}

// ToolParts splits a tool item name into material and class, e.g.
// "wooden_pickaxe" -> ("wooden", "pickaxe"). ok is false for non-tools.
func ToolParts(item string) (material, class string, ok bool) {
	i := strings.IndexByte(item, '_')
	if i <= 0 || i == len(item)-1 {
		return "", "", false
	}
	material, class = item[:i], item[i+1:]
	if _, known := acquireRank[material]; !known {
		return "", "", false
	}
	return material, class, true
}

// ToolSatisfies reports whether the named tool can harvest the block.
func ToolSatisfies(tool string, b Block) bool {
	if b.RequiredTool == "" {
		return true
	}
	material, class, ok := ToolParts(tool)
	if !ok || class != b.RequiredTool {
		return false
	}
	if b.MinTier == "" {
		return true
	}
	return harvestRank[material] >= harvestRank[b.MinTier]
}

// ToolFor returns the lowest-rank tool name that harvests the block, e.g.
// "wooden_pickaxe" for stone. ok is false when the block needs no tool.
func ToolFor(b Block) (string, bool) {
	if b.RequiredTool == "" {
		return "", false
	}
	tier := b.MinTier
	if tier == "" {
		tier = "wooden"
	}
	return tier + "_" + b.RequiredTool, true
}
