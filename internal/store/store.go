// Package store persists fleet activity to SQLite: runs, bots, snapshots,
// subgoal attempts, LLM calls, lock transitions, and incidents. All tables
// are append-only. A nil *Store is valid and drops every write, so dry runs
// need no database.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/blockfleet/blockfleet/internal/types"
)

// migrations run in order; PRAGMA user_version tracks how far we got.
var migrations = []string{
	`CREATE TABLE runs (
		id          TEXT PRIMARY KEY,
		started_at  INTEGER NOT NULL,
		config_json TEXT NOT NULL
	);
	CREATE TABLE bots (
		run_id     TEXT NOT NULL,
		bot_id     TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, bot_id)
	);
	CREATE TABLE bot_state (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id        TEXT NOT NULL,
		bot_id        TEXT NOT NULL,
		at            INTEGER NOT NULL,
		snapshot_json TEXT NOT NULL
	);
	CREATE TABLE subgoal_attempts (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL,
		bot_id       TEXT NOT NULL,
		subgoal_name TEXT NOT NULL,
		params_json  TEXT NOT NULL,
		outcome      TEXT NOT NULL,
		error_code   TEXT NOT NULL DEFAULT '',
		retry_count  INTEGER NOT NULL DEFAULT 0,
		duration_ms  INTEGER NOT NULL,
		result_json  TEXT NOT NULL,
		at           INTEGER NOT NULL
	);
	CREATE TABLE llm_calls (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL,
		bot_id      TEXT NOT NULL,
		status      TEXT NOT NULL,
		tokens_in   INTEGER NOT NULL DEFAULT 0,
		tokens_out  INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL,
		at          INTEGER NOT NULL
	);
	CREATE TABLE locks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id       TEXT NOT NULL,
		key          TEXT NOT NULL,
		owner        TEXT NOT NULL,
		action       TEXT NOT NULL,
		details_json TEXT NOT NULL DEFAULT '{}',
		at           INTEGER NOT NULL
	);
	CREATE TABLE incidents (
		id       INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id   TEXT NOT NULL,
		bot_id   TEXT NOT NULL,
		category TEXT NOT NULL,
		details  TEXT NOT NULL DEFAULT '',
		at       INTEGER NOT NULL
	);`,
	`CREATE INDEX idx_attempts_run_bot ON subgoal_attempts(run_id, bot_id);
	CREATE INDEX idx_llm_calls_run ON llm_calls(run_id);`,
}

// Store wraps one SQLite database and the active run ID.
type Store struct {
	db    *sql.DB
	runID string
	log   zerolog.Logger
	now   func() time.Time
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// modernc/sqlite is single-writer; serialize through one connection.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, log: log, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for ; version < len(migrations); version++ {
		if _, err := s.db.Exec(migrations[version]); err != nil {
			return fmt.Errorf("migration %d: %w", version+1, err)
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", version+1)); err != nil {
			return fmt.Errorf("bump user_version to %d: %w", version+1, err)
		}
		s.log.Debug().Int("version", version+1).Msg("applied store migration")
	}
	return nil
}

// Close closes the database. Nil-safe.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// StartRun creates a run row and makes it the active run for every
// subsequent write. Returns the run ID.
func (s *Store) StartRun(config any) (string, error) {
	if s == nil {
		return "", nil
	}
	id := uuid.NewString()
	_, err := s.db.Exec(`INSERT INTO runs (id, started_at, config_json) VALUES (?, ?, ?)`,
		id, s.now().UnixMilli(), mustJSON(config))
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	s.runID = id
	return id, nil
}

// RunID returns the active run ID, or "" before StartRun.
func (s *Store) RunID() string {
	if s == nil {
		return ""
	}
	return s.runID
}

// RegisterBot records a bot as part of the active run.
func (s *Store) RegisterBot(botID string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT OR IGNORE INTO bots (run_id, bot_id, created_at) VALUES (?, ?, ?)`,
		s.runID, botID, s.now().UnixMilli())
	return err
}

// SaveBotState appends one snapshot for botID.
func (s *Store) SaveBotState(botID string, snap types.Snapshot) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO bot_state (run_id, bot_id, at, snapshot_json) VALUES (?, ?, ?, ?)`,
		s.runID, botID, s.now().UnixMilli(), mustJSON(snap))
	return err
}

// RecordAttempt appends the outcome of one subgoal execution.
func (s *Store) RecordAttempt(botID string, sg types.RuntimeSubgoal, res types.SkillResult, duration time.Duration) error {
	if s == nil {
		return nil
	}
	outcome := "success"
	errorCode := ""
	if f, ok := res.(types.Failure); ok {
		outcome = "failure"
		errorCode = string(f.Code)
	}
	_, err := s.db.Exec(`INSERT INTO subgoal_attempts
		(run_id, bot_id, subgoal_name, params_json, outcome, error_code, retry_count, duration_ms, result_json, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.runID, botID, string(sg.Name), mustJSON(sg.Params), outcome, errorCode,
		sg.RetryCount, duration.Milliseconds(), mustJSON(res), s.now().UnixMilli())
	return err
}

// RecordLLMCall appends one planner call with its token usage.
func (s *Store) RecordLLMCall(botID string, status types.PlanStatus, tokensIn, tokensOut int, duration time.Duration) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO llm_calls (run_id, bot_id, status, tokens_in, tokens_out, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.runID, botID, string(status), tokensIn, tokensOut, duration.Milliseconds(), s.now().UnixMilli())
	return err
}

// LockEvent implements lockmgr.EventSink. Errors are logged, not returned:
// lock bookkeeping must never block the lock path.
func (s *Store) LockEvent(key, owner, action string, details map[string]any) {
	if s == nil {
		return
	}
	_, err := s.db.Exec(`INSERT INTO locks (run_id, key, owner, action, details_json, at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.runID, key, owner, action, mustJSON(details), s.now().UnixMilli())
	if err != nil {
		s.log.Error().Err(err).Str("key", key).Msg("persist lock event")
	}
}

// RecordIncident appends one operational incident (kick, reconnect failure,
// connection end).
func (s *Store) RecordIncident(botID, category, details string) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT INTO incidents (run_id, bot_id, category, details, at)
		VALUES (?, ?, ?, ?, ?)`,
		s.runID, botID, category, details, s.now().UnixMilli())
	return err
}

// TokenTotals sums LLM token usage across one run.
func (s *Store) TokenTotals(runID string) (tokensIn, tokensOut int, err error) {
	if s == nil {
		return 0, 0, nil
	}
	err = s.db.QueryRow(`SELECT COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0)
		FROM llm_calls WHERE run_id = ?`, runID).Scan(&tokensIn, &tokensOut)
	return tokensIn, tokensOut, err
}

// AttemptCount reports how many attempts a bot has persisted in this run.
func (s *Store) AttemptCount(botID string) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM subgoal_attempts WHERE run_id = ? AND bot_id = ?`,
		s.runID, botID).Scan(&n)
	return n, err
}

// IncidentCount reports how many incidents of the given category the active
// run has recorded, or all incidents when category is empty.
func (s *Store) IncidentCount(category string) (int, error) {
	if s == nil {
		return 0, nil
	}
	var n int
	var err error
	if category == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE run_id = ?`, s.runID).Scan(&n)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM incidents WHERE run_id = ? AND category = ?`,
			s.runID, category).Scan(&n)
	}
	return n, err
}

func mustJSON(v any) string {
	if v == nil {
		return "{}"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
