package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockfleet/blockfleet/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fleet.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrateIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Reopening an already-migrated database applies nothing new.
	s, err = Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, len(migrations), version)
}

func TestRunAndBotLifecycle(t *testing.T) {
	s := openTestStore(t)
	runID, err := s.StartRun(map[string]any{"bot_count": 2})
	require.NoError(t, err)
	require.NotEmpty(t, runID)
	assert.Equal(t, runID, s.RunID())

	require.NoError(t, s.RegisterBot("bot-1"))
	require.NoError(t, s.RegisterBot("bot-1")) // duplicate is a no-op

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM bots WHERE run_id = ?`, runID).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestAttemptRoundTrip(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StartRun(nil)
	require.NoError(t, err)

	sg := types.RuntimeSubgoal{
		Subgoal: types.Subgoal{
			Name:   types.SubgoalCollect,
			Params: map[string]any{"block": "stone", "count": 10},
		},
		ID:         "sg-1",
		RetryCount: 1,
	}
	require.NoError(t, s.RecordAttempt("bot-1", sg,
		types.Failure{Code: types.FailNoToolAvailable, Details: "need wooden_pickaxe"},
		1500*time.Millisecond))
	require.NoError(t, s.RecordAttempt("bot-1", sg,
		types.Success{Details: "collected 10 stone"}, 2*time.Second))

	n, err := s.AttemptCount("bot-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var outcome, errorCode, resultJSON string
	require.NoError(t, s.db.QueryRow(
		`SELECT outcome, error_code, result_json FROM subgoal_attempts ORDER BY id LIMIT 1`).
		Scan(&outcome, &errorCode, &resultJSON))
	assert.Equal(t, "failure", outcome)
	assert.Equal(t, "NO_TOOL_AVAILABLE", errorCode)
	assert.Contains(t, resultJSON, "need wooden_pickaxe")
}

func TestTokenTotals(t *testing.T) {
	s := openTestStore(t)
	runID, err := s.StartRun(nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordLLMCall("bot-1", types.PlanSuccess, 900, 200, time.Second))
	require.NoError(t, s.RecordLLMCall("bot-2", types.PlanSuccess, 600, 150, time.Second))
	require.NoError(t, s.RecordLLMCall("bot-1", types.PlanFallback, 0, 0, 0))

	in, out, err := s.TokenTotals(runID)
	require.NoError(t, err)
	assert.Equal(t, 1500, in)
	assert.Equal(t, 350, out)

	in, out, err = s.TokenTotals("no-such-run")
	require.NoError(t, err)
	assert.Zero(t, in)
	assert.Zero(t, out)
}

func TestLockEventSink(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StartRun(nil)
	require.NoError(t, err)

	s.LockEvent("resource:stone", "bot-1", "ACQUIRE", nil)
	s.LockEvent("resource:stone", "bot-1", "EXPIRE", map[string]any{"expired_at": 123})

	var n int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM locks`).Scan(&n))
	assert.Equal(t, 2, n)

	var details string
	require.NoError(t, s.db.QueryRow(
		`SELECT details_json FROM locks WHERE action = 'EXPIRE'`).Scan(&details))
	assert.Contains(t, details, "expired_at")
}

func TestSnapshotPersistence(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StartRun(nil)
	require.NoError(t, err)

	snap := types.Snapshot{
		AgentID: "bot-1",
		Player:  types.PlayerInfo{Health: 17.5, Dimension: "overworld"},
	}
	require.NoError(t, s.SaveBotState("bot-1", snap))

	var raw string
	require.NoError(t, s.db.QueryRow(`SELECT snapshot_json FROM bot_state`).Scan(&raw))
	assert.Contains(t, raw, `"health":17.5`)
}

func TestIncidents(t *testing.T) {
	s := openTestStore(t)
	_, err := s.StartRun(nil)
	require.NoError(t, err)
	require.NoError(t, s.RecordIncident("bot-1", "kick", "flying is not enabled"))

	var category string
	require.NoError(t, s.db.QueryRow(`SELECT category FROM incidents`).Scan(&category))
	assert.Equal(t, "kick", category)

	n, err := s.IncidentCount("kick")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncidentCount("")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.IncidentCount("death")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNilStoreIsSafe(t *testing.T) {
	var s *Store
	_, err := s.StartRun(nil)
	require.NoError(t, err)
	require.NoError(t, s.RegisterBot("bot-1"))
	require.NoError(t, s.SaveBotState("bot-1", types.Snapshot{}))
	require.NoError(t, s.RecordAttempt("bot-1", types.RuntimeSubgoal{}, types.Success{}, 0))
	require.NoError(t, s.RecordLLMCall("bot-1", types.PlanSuccess, 0, 0, 0))
	s.LockEvent("k", "o", "ACQUIRE", nil)
	require.NoError(t, s.RecordIncident("bot-1", "kick", ""))
	_, err = s.IncidentCount("")
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
