package catalog

import (
	"sort"
	"strings"
)

// Static is an in-memory Catalog built from injected tables.
type Static struct {
	recipes map[string][]Recipe
	blocks  map[string]Block
	sources map[string][]Block
	foods   map[string]bool
}

func NewStatic(recipes []Recipe, blocks []Block, foods []string) *Static {
	s := &Static{
		recipes: make(map[string][]Recipe),
		blocks:  make(map[string]Block),
		sources: make(map[string][]Block),
		foods:   make(map[string]bool),
	}
	for _, r := range recipes {
		if r.ResultCount <= 0 {
			r.ResultCount = 1
		}
		s.recipes[r.Result] = append(s.recipes[r.Result], r)
	}
	for _, b := range blocks {
		s.blocks[b.Name] = b
		if b.Drops != "" {
			s.sources[b.Drops] = append(s.sources[b.Drops], b)
		}
	}
	for _, f := range foods {
		s.foods[f] = true
	}
	return s
}

func (s *Static) Recipes(item string) []Recipe   { return s.recipes[item] }
func (s *Static) SourcesFor(item string) []Block { return s.sources[item] }
func (s *Static) IsFood(item string) bool        { return s.foods[item] }

func (s *Static) BlockNames() []string {
	names := make([]string, 0, len(s.blocks))
	for name := range s.blocks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Static) Block(name string) (Block, bool) {
	b, ok := s.blocks[name]
	return b, ok
}

var toolSuffixes = []string{"_pickaxe", "_axe", "_shovel", "_sword", "_hoe"}

func (s *Static) IsTool(item string) bool {
	for _, suf := range toolSuffixes {
		if strings.HasSuffix(item, suf) {
			if _, _, ok := ToolParts(item); ok {
				return true
			}
		}
	}
	return false
}

// Builtin returns a vanilla subset large enough to bootstrap from bare
// hands to stone tools. Production deployments inject the real data dump.
func Builtin() *Static {
	recipes := []Recipe{
		{Result: "oak_planks", ResultCount: 4, Ingredients: map[string]int{"oak_log": 1}},
		{Result: "stick", ResultCount: 4, Ingredients: map[string]int{"oak_planks": 2}, ShapeRows: 2, ShapeCols: 1},
		{Result: "crafting_table", ResultCount: 1, Ingredients: map[string]int{"oak_planks": 4}, ShapeRows: 2, ShapeCols: 2},
		{Result: "wooden_pickaxe", ResultCount: 1, Ingredients: map[string]int{"oak_planks": 3, "stick": 2}, ShapeRows: 3, ShapeCols: 3},
		{Result: "wooden_axe", ResultCount: 1, Ingredients: map[string]int{"oak_planks": 3, "stick": 2}, ShapeRows: 3, ShapeCols: 3},
		{Result: "stone_pickaxe", ResultCount: 1, Ingredients: map[string]int{"cobblestone": 3, "stick": 2}, ShapeRows: 3, ShapeCols: 3},
		{Result: "stone_axe", ResultCount: 1, Ingredients: map[string]int{"cobblestone": 3, "stick": 2}, ShapeRows: 3, ShapeCols: 3},
		{Result: "furnace", ResultCount: 1, Ingredients: map[string]int{"cobblestone": 8}, ShapeRows: 3, ShapeCols: 3},
		{Result: "torch", ResultCount: 4, Ingredients: map[string]int{"coal": 1, "stick": 1}, ShapeRows: 2, ShapeCols: 1},
		{Result: "chest", ResultCount: 1, Ingredients: map[string]int{"oak_planks": 8}, ShapeRows: 3, ShapeCols: 3},
	}
	blocks := []Block{
		{Name: "oak_log", Drops: "oak_log"},
		{Name: "dirt", Drops: "dirt"},
		{Name: "sand", Drops: "sand"},
		{Name: "stone", Drops: "cobblestone", RequiredTool: "pickaxe", MinTier: "wooden"},
		{Name: "cobblestone", Drops: "cobblestone", RequiredTool: "pickaxe", MinTier: "wooden"},
		{Name: "coal_ore", Drops: "coal", RequiredTool: "pickaxe", MinTier: "wooden"},
		{Name: "iron_ore", Drops: "raw_iron", RequiredTool: "pickaxe", MinTier: "stone"},
	}
	foods := []string{"apple", "bread", "cooked_beef", "cooked_porkchop", "carrot"}
	return NewStatic(recipes, blocks, foods)
}
