package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNeedsWorkbench(t *testing.T) {
	assert.False(t, Recipe{Ingredients: map[string]int{"oak_planks": 4}, ShapeRows: 2, ShapeCols: 2}.NeedsWorkbench())
	assert.True(t, Recipe{Ingredients: map[string]int{"oak_planks": 3, "stick": 2}, ShapeRows: 3, ShapeCols: 3}.NeedsWorkbench())
	// Shapeless but more than four ingredient units still needs the table.
	assert.True(t, Recipe{Ingredients: map[string]int{"cobblestone": 8}}.NeedsWorkbench())
}

func TestToolParts(t *testing.T) {
	m, c, ok := ToolParts("wooden_pickaxe")
	require.True(t, ok)
	assert.Equal(t, "wooden", m)
	assert.Equal(t, "pickaxe", c)

	_, _, ok = ToolParts("oak_log")
	assert.False(t, ok)
}

func TestToolSatisfies(t *testing.T) {
	c := Builtin()
	stone, ok := c.Block("stone")
	require.True(t, ok)
	iron, ok := c.Block("iron_ore")
	require.True(t, ok)

	assert.True(t, ToolSatisfies("wooden_pickaxe", stone))
	assert.True(t, ToolSatisfies("diamond_pickaxe", stone))
	assert.False(t, ToolSatisfies("wooden_axe", stone))
	assert.False(t, ToolSatisfies("wooden_pickaxe", iron))
	assert.True(t, ToolSatisfies("stone_pickaxe", iron))
	// Gold harvests no more than wood.
	assert.False(t, ToolSatisfies("golden_pickaxe", iron))

	logs, ok := c.Block("oak_log")
	require.True(t, ok)
	assert.True(t, ToolSatisfies("anything", logs))
}

func TestToolFor(t *testing.T) {
	c := Builtin()
	stone, _ := c.Block("stone")
	tool, ok := ToolFor(stone)
	require.True(t, ok)
	assert.Equal(t, "wooden_pickaxe", tool)

	iron, _ := c.Block("iron_ore")
	tool, ok = ToolFor(iron)
	require.True(t, ok)
	assert.Equal(t, "stone_pickaxe", tool)

	logs, _ := c.Block("oak_log")
	_, ok = ToolFor(logs)
	assert.False(t, ok)
}

func TestTierRankOrdering(t *testing.T) {
	assert.Less(t, TierRank("wooden"), TierRank("stone"))
	assert.Less(t, TierRank("stone"), TierRank("iron"))
	assert.Less(t, TierRank("netherite"), TierRank("golden"))
}

func TestStaticLookups(t *testing.T) {
	c := Builtin()
	recipes := c.Recipes("oak_planks")
	require.Len(t, recipes, 1)
	assert.Equal(t, 4, recipes[0].ResultCount)

	sources := c.SourcesFor("cobblestone")
	require.NotEmpty(t, sources)

	assert.True(t, c.IsTool("stone_pickaxe"))
	assert.False(t, c.IsTool("stick"))
	assert.True(t, c.IsFood("bread"))
	assert.False(t, c.IsFood("stick"))
}
