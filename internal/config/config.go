// Package config loads and validates the fleet configuration. Values come
// from defaults, then an optional YAML file, then BLOCKFLEET_* environment
// variables for the handful of settings that carry credentials or vary per
// deployment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full recognized option surface. Durations are milliseconds
// throughout so the YAML reads the same as the log lines.
type Config struct {
	// Fleet
	BotCount           int    `yaml:"bot_count"`
	BotNamePrefix      string `yaml:"bot_name_prefix"`
	BotStartStaggerMS  int    `yaml:"bot_start_stagger_ms"`
	ReconnectBaseDelay int    `yaml:"reconnect_base_delay_ms"`
	ReconnectJitterMS  int    `yaml:"reconnect_jitter_ms"`

	// Loop
	OrchTickMS            int `yaml:"orch_tick_ms"`
	SnapshotRefreshMS     int `yaml:"snapshot_refresh_ms"`
	SnapshotNearbyCacheMS int `yaml:"snapshot_nearby_cache_ms"`

	// Skills
	MaxConcurrentSkills        int `yaml:"max_concurrent_skills"`
	SubgoalExecTimeoutMS       int `yaml:"subgoal_exec_timeout_ms"`
	SubgoalIdleStallMS         int `yaml:"subgoal_idle_stall_ms"`
	SubgoalRetryLimit          int `yaml:"subgoal_retry_limit"`
	SubgoalRetryBaseDelayMS    int `yaml:"subgoal_retry_base_delay_ms"`
	SubgoalRetryMaxDelayMS     int `yaml:"subgoal_retry_max_delay_ms"`
	SubgoalLoopGuardRepeats    int `yaml:"subgoal_loop_guard_repeats"`
	SubgoalFailureStreakWindow int `yaml:"subgoal_failure_streak_window_ms"`

	// Planner
	LLMHistoryLimit                  int  `yaml:"llm_history_limit"`
	PlannerTimeoutMS                 int  `yaml:"planner_timeout_ms"`
	PlannerMaxRetries                int  `yaml:"planner_max_retries"`
	PlannerCooldownMS                int  `yaml:"planner_cooldown_ms"`
	PlannerFeasibilityReprompt       bool `yaml:"planner_feasibility_reprompt_enabled"`
	PlannerFeasibilityRepromptMaxAtt int  `yaml:"planner_feasibility_reprompt_max_attempts"`
	LLMPerBotHourlyCap               int  `yaml:"llm_per_bot_hourly_cap"`
	LLMGlobalHourlyCap               int  `yaml:"llm_global_hourly_cap"`
	PlanPrefetchEnabled              bool `yaml:"plan_prefetch_enabled"`
	PlanPrefetchMinIntervalMS        int  `yaml:"plan_prefetch_min_interval_ms"`
	PlanPrefetchMaxAgeMS             int  `yaml:"plan_prefetch_max_age_ms"`
	PlanPrefetchReserveCalls         int  `yaml:"plan_prefetch_reserve_calls"`
	AlwaysActivePlanEnabled          bool `yaml:"always_active_plan_enabled"`

	// Coordination
	MaxConcurrentExplorers int `yaml:"max_concurrent_explorers"`
	LockLeaseMS            int `yaml:"lock_lease_ms"`
	LockHeartbeatMS        int `yaml:"lock_heartbeat_ms"`

	// Base coordinates
	BaseX      int `yaml:"base_x"`
	BaseY      int `yaml:"base_y"`
	BaseZ      int `yaml:"base_z"`
	BaseRadius int `yaml:"base_radius"`

	// Reflex
	ReflexNightfallDedupMS int `yaml:"reflex_nightfall_dedup_ms"`
	ReflexStallTicks       int `yaml:"reflex_stall_ticks"`

	// Announcements
	ChatAnnouncements bool `yaml:"chat_announcements"`

	// LLM endpoint. APIKey is env-only; it never belongs in the YAML file.
	LLMBaseURL string `yaml:"llm_base_url"`
	LLMModel   string `yaml:"llm_model"`
	LLMAPIKey  string `yaml:"-"`

	// Operational
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`
}

// Default returns the shipped tuning. Every value here is overridable.
func Default() Config {
	return Config{
		BotCount:           1,
		BotNamePrefix:      "bot",
		BotStartStaggerMS:  2500,
		ReconnectBaseDelay: 5000,
		ReconnectJitterMS:  4000,

		OrchTickMS:            50,
		SnapshotRefreshMS:     1000,
		SnapshotNearbyCacheMS: 2500,

		MaxConcurrentSkills:        2,
		SubgoalExecTimeoutMS:       180000,
		SubgoalIdleStallMS:         5000,
		SubgoalRetryLimit:          2,
		SubgoalRetryBaseDelayMS:    1500,
		SubgoalRetryMaxDelayMS:     15000,
		SubgoalLoopGuardRepeats:    8,
		SubgoalFailureStreakWindow: 180000,

		LLMHistoryLimit:                  8,
		PlannerTimeoutMS:                 45000,
		PlannerMaxRetries:                2,
		PlannerCooldownMS:                4000,
		PlannerFeasibilityReprompt:       true,
		PlannerFeasibilityRepromptMaxAtt: 1,
		LLMPerBotHourlyCap:               24,
		LLMGlobalHourlyCap:               60,
		PlanPrefetchEnabled:              true,
		PlanPrefetchMinIntervalMS:        15000,
		PlanPrefetchMaxAgeMS:             45000,
		PlanPrefetchReserveCalls:         2,
		AlwaysActivePlanEnabled:          true,

		MaxConcurrentExplorers: 1,
		LockLeaseMS:            30000,
		LockHeartbeatMS:        10000,

		BaseX:      0,
		BaseY:      64,
		BaseZ:      0,
		BaseRadius: 16,

		ReflexNightfallDedupMS: 120000,
		ReflexStallTicks:       20,

		ChatAnnouncements: false,

		LLMBaseURL: "https://api.openai.com/v1",
		LLMModel:   "gpt-4o-mini",

		DBPath:   "blockfleet.db",
		LogLevel: "info",
	}
}

// Load builds the effective config: defaults, then the YAML file at path if
// path is non-empty, then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BLOCKFLEET_LLM_API_KEY"); v != "" {
		cfg.LLMAPIKey = v
	}
	if v := os.Getenv("BLOCKFLEET_LLM_BASE_URL"); v != "" {
		cfg.LLMBaseURL = v
	}
	if v := os.Getenv("BLOCKFLEET_LLM_MODEL"); v != "" {
		cfg.LLMModel = v
	}
	if v := os.Getenv("BLOCKFLEET_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BLOCKFLEET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BLOCKFLEET_BOT_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BotCount = n
		}
	}
}

// Validate enforces the documented ranges. It reports the first violation.
func (c Config) Validate() error {
	switch {
	case c.BotCount < 1 || c.BotCount > 5:
		return fmt.Errorf("bot_count must be in [1,5], got %d", c.BotCount)
	case c.MaxConcurrentSkills < 1 || c.MaxConcurrentSkills > 5:
		return fmt.Errorf("max_concurrent_skills must be in [1,5], got %d", c.MaxConcurrentSkills)
	case c.OrchTickMS < 10:
		return fmt.Errorf("orch_tick_ms must be >= 10, got %d", c.OrchTickMS)
	case c.SubgoalExecTimeoutMS <= 0:
		return fmt.Errorf("subgoal_exec_timeout_ms must be positive, got %d", c.SubgoalExecTimeoutMS)
	case c.SubgoalIdleStallMS <= 0:
		return fmt.Errorf("subgoal_idle_stall_ms must be positive, got %d", c.SubgoalIdleStallMS)
	case c.SubgoalRetryLimit < 0:
		return fmt.Errorf("subgoal_retry_limit must be >= 0, got %d", c.SubgoalRetryLimit)
	case c.SubgoalLoopGuardRepeats < 1:
		return fmt.Errorf("subgoal_loop_guard_repeats must be >= 1, got %d", c.SubgoalLoopGuardRepeats)
	case c.LLMPerBotHourlyCap < 1:
		return fmt.Errorf("llm_per_bot_hourly_cap must be >= 1, got %d", c.LLMPerBotHourlyCap)
	case c.LLMGlobalHourlyCap < c.LLMPerBotHourlyCap:
		return fmt.Errorf("llm_global_hourly_cap (%d) must be >= llm_per_bot_hourly_cap (%d)",
			c.LLMGlobalHourlyCap, c.LLMPerBotHourlyCap)
	case c.MaxConcurrentExplorers < 1:
		return fmt.Errorf("max_concurrent_explorers must be >= 1, got %d", c.MaxConcurrentExplorers)
	case c.LockLeaseMS <= 0:
		return fmt.Errorf("lock_lease_ms must be positive, got %d", c.LockLeaseMS)
	case c.LockHeartbeatMS <= 0 || c.LockHeartbeatMS >= c.LockLeaseMS:
		return fmt.Errorf("lock_heartbeat_ms must be in (0, lock_lease_ms), got %d", c.LockHeartbeatMS)
	case c.PlanPrefetchReserveCalls < 0:
		return fmt.Errorf("plan_prefetch_reserve_calls must be >= 0, got %d", c.PlanPrefetchReserveCalls)
	case c.ReflexStallTicks < 1:
		return fmt.Errorf("reflex_stall_ticks must be >= 1, got %d", c.ReflexStallTicks)
	}
	return nil
}
