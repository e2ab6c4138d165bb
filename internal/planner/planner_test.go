package planner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/guard"
	"github.com/blockfleet/blockfleet/internal/llm"
	"github.com/blockfleet/blockfleet/internal/ratelimit"
	"github.com/blockfleet/blockfleet/internal/types"
)

// scriptedLLM returns canned responses in order, then errors.
type scriptedLLM struct {
	responses []string
	calls     int
}

func (s *scriptedLLM) Generate(_ context.Context, _ string, _ time.Duration) (llm.Result, error) {
	if s.calls >= len(s.responses) {
		return llm.Result{}, errors.New("script exhausted")
	}
	text := s.responses[s.calls]
	s.calls++
	return llm.Result{Text: text, TokensIn: 100, TokensOut: 50}, nil
}

func testSnapshot() types.Snapshot {
	return types.Snapshot{
		AgentID: "bot-1",
		Player:  types.PlayerInfo{Health: 20, Hunger: 20},
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

func testRequest() types.PlanRequest {
	return types.PlanRequest{
		BotID:             "bot-1",
		Snapshot:          testSnapshot(),
		AvailableSubgoals: types.AllSubgoalNames,
	}
}

func newService(client llm.Client, limiter *ratelimit.Limiter, reprompt bool) *Service {
	g := guard.New(catalog.Builtin())
	s := NewService(client, limiter, g, Options{
		Timeout:             time.Second,
		MaxRetries:          1,
		RepromptEnabled:     reprompt,
		RepromptMaxAttempts: 1,
		BasePosition:        types.Vec3{X: 0, Y: 64, Z: 0},
		DesiredIncrement:    8,
	}, zerolog.Nop())
	s.sleep = func(time.Duration) {}
	return s
}

func TestSchemaErrorIsFatal(t *testing.T) {
	s := newService(&scriptedLLM{}, ratelimit.New(10, 10), false)
	req := testRequest()
	req.BotID = ""
	_, err := s.Plan(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrSchema)
}

func TestRateLimitedReturnsFallbackWithoutLLMCall(t *testing.T) {
	client := &scriptedLLM{responses: []string{`{"next_goal":"x","subgoals":[{"name":"explore","params":{"radius":10}}]}`}}
	limiter := ratelimit.New(1, 10)
	require.True(t, limiter.Consume("bot-1").Allowed) // exhaust the budget

	s := newService(client, limiter, false)
	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanRateLimited, res.Status)
	assert.NotEmpty(t, res.Response.Subgoals)
	assert.Zero(t, client.calls)
}

func TestSuccessWithGuardedPlan(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"```json\n" + `{"next_goal":"gather stone","subgoals":[{"name":"collect","params":{"type":"stone","amount":8}}]}` + "\n```",
	}}
	s := newService(client, ratelimit.New(10, 10), false)
	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanSuccess, res.Status)
	assert.Equal(t, "gather stone", res.Response.NextGoal)
	// Empty inventory: the guard prepends the full tool chain.
	assert.Greater(t, len(res.Response.Subgoals), 1)
	assert.Equal(t, types.SubgoalGotoNearest, res.Response.Subgoals[0].Name)
	assert.Equal(t, 100, res.TokensIn)
	assert.Contains(t, res.Notes, "normalized_subgoal_0_collect")
}

func TestFeasibilityRepromptResolved(t *testing.T) {
	correctPlan := `{"next_goal":"bootstrap tools then mine","subgoals":[
		{"name":"collect","params":{"block":"oak_log","count":3}},
		{"name":"craft","params":{"item":"oak_planks","count":12}},
		{"name":"craft","params":{"item":"crafting_table","count":1}},
		{"name":"craft","params":{"item":"stick","count":4}},
		{"name":"craft","params":{"item":"wooden_pickaxe","count":1}},
		{"name":"collect","params":{"block":"stone","count":8}}]}`
	client := &scriptedLLM{responses: []string{
		`{"next_goal":"mine stone","subgoals":[{"name":"collect","params":{"block":"stone","count":8}}]}`,
		correctPlan,
	}}
	s := newService(client, ratelimit.New(10, 10), true)

	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanSuccess, res.Status)
	assert.Equal(t, 2, client.calls)
	assert.Contains(t, res.Notes, "feasibility_reprompt_resolved")
	require.NotEmpty(t, res.Response.Subgoals)
	first := res.Response.Subgoals[0]
	assert.Equal(t, types.SubgoalCollect, first.Name)
	assert.Equal(t, "oak_log", first.Params["block"])
	assert.Equal(t, 200, res.TokensIn)
}

func TestRepromptDeniedRecordsNote(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`{"next_goal":"mine stone","subgoals":[{"name":"collect","params":{"block":"stone","count":8}}]}`,
	}}
	limiter := ratelimit.New(1, 10) // one token: the initial call takes it
	s := newService(client, limiter, true)

	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanSuccess, res.Status)
	assert.Equal(t, 1, client.calls)
	assert.Contains(t, res.Notes, "feasibility_reprompt_rate_limited")
}

func TestLLMFailureFallsBack(t *testing.T) {
	s := newService(&scriptedLLM{}, ratelimit.New(10, 10), false)
	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanFallback, res.Status)
	assert.NotEmpty(t, res.Response.Subgoals)
}

func TestUnparseableOutputFallsBack(t *testing.T) {
	client := &scriptedLLM{responses: []string{"I cannot help with that.", "still no json"}}
	s := newService(client, ratelimit.New(10, 10), false)
	res, err := s.Plan(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, types.PlanFallback, res.Status)
}

func TestFallbackLowHealth(t *testing.T) {
	g := guard.New(catalog.Builtin())
	snap := testSnapshot()
	snap.Player.Health = 6

	resp := Fallback(g, snap, "test", types.Vec3{X: 10, Y: 64, Z: -4}, 8)
	require.Len(t, resp.Subgoals, 2)
	assert.Equal(t, types.SubgoalGoto, resp.Subgoals[0].Name)
	assert.Equal(t, 10, resp.Subgoals[0].Params["x"])
	assert.Equal(t, types.SubgoalCombatGuard, resp.Subgoals[1].Name)
	assert.Contains(t, resp.RiskFlags, "LOW_HEALTH")
}

func TestFallbackInventoryPressure(t *testing.T) {
	g := guard.New(catalog.Builtin())
	snap := testSnapshot()
	snap.InventorySummary.Blocks = 100
	snap.InventorySummary.KeyItems["cobblestone"] = 30

	resp := Fallback(g, snap, "test", types.Vec3{}, 8)
	require.Len(t, resp.Subgoals, 2)
	assert.Equal(t, types.SubgoalDeposit, resp.Subgoals[1].Name)
	assert.Equal(t, "all_non_essential", resp.Subgoals[1].Params["strategy"])
	assert.Contains(t, resp.RiskFlags, "INVENTORY_PRESSURE")
}

func TestFallbackHostilesNearby(t *testing.T) {
	g := guard.New(catalog.Builtin())
	snap := testSnapshot()
	snap.NearbySummary.Hostiles = []types.HostileInfo{{Type: "zombie", Distance: 6}}

	resp := Fallback(g, snap, "test", types.Vec3{}, 8)
	require.Len(t, resp.Subgoals, 1)
	assert.Equal(t, types.SubgoalCombatEngage, resp.Subgoals[0].Name)
	assert.Contains(t, resp.RiskFlags, "HOSTILES_NEARBY")
}

func TestFallbackProgression(t *testing.T) {
	g := guard.New(catalog.Builtin())
	resp := Fallback(g, testSnapshot(), "RATE_LIMIT_BOT_CAP", types.Vec3{}, 8)
	assert.NotEmpty(t, resp.Subgoals)
	assert.Contains(t, resp.NextGoal, "unlock_wooden_pickaxe_for_stone")
}
