// Package types defines the data model shared by every part of the fleet
// core: subgoals, skill results, snapshots, history entries, triggers, and
// the planner request/response envelopes. All closed sets live here so the
// planner boundary can validate against a single source of truth.
package types

import (
	"encoding/json"
	"math"
	"time"
)

// SubgoalName is the closed set of tasks the skill engine can execute.
type SubgoalName string

const (
	SubgoalExplore        SubgoalName = "explore"
	SubgoalGoto           SubgoalName = "goto"
	SubgoalGotoNearest    SubgoalName = "goto_nearest"
	SubgoalCollect        SubgoalName = "collect"
	SubgoalCraft          SubgoalName = "craft"
	SubgoalSmelt          SubgoalName = "smelt"
	SubgoalDeposit        SubgoalName = "deposit"
	SubgoalWithdraw       SubgoalName = "withdraw"
	SubgoalBuildBlueprint SubgoalName = "build_blueprint"
	SubgoalCombatEngage   SubgoalName = "combat_engage"
	SubgoalCombatGuard    SubgoalName = "combat_guard"
)

// AllSubgoalNames lists every valid subgoal name in a stable order.
// The planner prompt and request validation both derive from this slice.
var AllSubgoalNames = []SubgoalName{
	SubgoalExplore,
	SubgoalGoto,
	SubgoalGotoNearest,
	SubgoalCollect,
	SubgoalCraft,
	SubgoalSmelt,
	SubgoalDeposit,
	SubgoalWithdraw,
	SubgoalBuildBlueprint,
	SubgoalCombatEngage,
	SubgoalCombatGuard,
}

// Valid reports whether n is a member of the closed subgoal set.
func (n SubgoalName) Valid() bool {
	for _, v := range AllSubgoalNames {
		if n == v {
			return true
		}
	}
	return false
}

// FailureCode is the closed set of structured skill failure reasons.
type FailureCode string

const (
	FailResourceNotFound      FailureCode = "RESOURCE_NOT_FOUND"
	FailPathfindFailed        FailureCode = "PATHFIND_FAILED"
	FailNoToolAvailable       FailureCode = "NO_TOOL_AVAILABLE"
	FailInventoryFull         FailureCode = "INVENTORY_FULL"
	FailInterruptedByHostiles FailureCode = "INTERRUPTED_BY_HOSTILES"
	FailPlacementFailed       FailureCode = "PLACEMENT_FAILED"
	FailStuckTimeout          FailureCode = "STUCK_TIMEOUT"
	FailDependsOnItem         FailureCode = "DEPENDS_ON_ITEM"
	FailCombatLostTarget      FailureCode = "COMBAT_LOST_TARGET"
	FailBotDied               FailureCode = "BOT_DIED"
)

// AllFailureCodes lists every valid failure code.
var AllFailureCodes = []FailureCode{
	FailResourceNotFound,
	FailPathfindFailed,
	FailNoToolAvailable,
	FailInventoryFull,
	FailInterruptedByHostiles,
	FailPlacementFailed,
	FailStuckTimeout,
	FailDependsOnItem,
	FailCombatLostTarget,
	FailBotDied,
}

// Valid reports whether c is a member of the closed failure-code set.
func (c FailureCode) Valid() bool {
	for _, v := range AllFailureCodes {
		if c == v {
			return true
		}
	}
	return false
}

// CanRetryByPolicy reports whether the retry machinery is allowed to requeue
// a failure with this code at all. Handler-supplied retryable flags are ANDed
// with this policy by the controller.
//
// Expectations:
//   - Returns true for path/resource/combat flakes that a fresh attempt can fix
//   - Returns false for DEPENDS_ON_ITEM, NO_TOOL_AVAILABLE, BOT_DIED
//     (retrying without replanning cannot succeed)
func (c FailureCode) CanRetryByPolicy() bool {
	switch c {
	case FailResourceNotFound, FailPathfindFailed, FailInterruptedByHostiles,
		FailStuckTimeout, FailInventoryFull, FailCombatLostTarget, FailPlacementFailed:
		return true
	default:
		return false
	}
}

// Subgoal is one bounded task: a name from the closed set plus parameters.
// Params uses the canonical keys produced by the normalizer.
type Subgoal struct {
	Name            SubgoalName    `json:"name"`
	Params          map[string]any `json:"params,omitempty"`
	SuccessCriteria map[string]any `json:"success_criteria,omitempty"`
	RiskFlags       []string       `json:"risk_flags,omitempty"`
	Constraints     map[string]any `json:"constraints,omitempty"`
}

// Clone returns a deep-enough copy of s: canonical params are flat maps, so
// a one-level copy is a full copy.
func (s Subgoal) Clone() Subgoal {
	out := s
	out.Params = copyMap(s.Params)
	out.SuccessCriteria = copyMap(s.SuccessCriteria)
	out.Constraints = copyMap(s.Constraints)
	if s.RiskFlags != nil {
		out.RiskFlags = append([]string(nil), s.RiskFlags...)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Equal compares two subgoals under canonical comparison: name, params, and
// success criteria. Risk flags and constraints are advisory and excluded.
// JSON round-tripping normalizes numeric types (int vs float64) so subgoals
// that came from different sources compare correctly.
//
// Expectations:
//   - Same name and params compare equal regardless of numeric Go type
//   - Differing params or criteria compare unequal
//   - nil and empty maps compare equal
func (s Subgoal) Equal(o Subgoal) bool {
	if s.Name != o.Name {
		return false
	}
	return canonJSON(s.Params) == canonJSON(o.Params) &&
		canonJSON(s.SuccessCriteria) == canonJSON(o.SuccessCriteria)
}

// PlansEqual compares two subgoal sequences under canonical comparison.
func PlansEqual(a, b []Subgoal) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

func canonJSON(m map[string]any) string {
	if len(m) == 0 {
		return "{}"
	}
	// Round-trip so 10 (int) and 10.0 (float64 from JSON) render identically.
	raw, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	var norm map[string]any
	if err := json.Unmarshal(raw, &norm); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(norm) // map keys sorted by encoding/json
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// RuntimeSubgoal is a Subgoal in the controller's queue. A retry produces a
// fresh ID; NotBeforeMS delays dequeue without blocking later entries.
type RuntimeSubgoal struct {
	Subgoal
	ID          string    `json:"id"`
	AssignedAt  time.Time `json:"assigned_at"`
	RetryCount  int       `json:"retry_count"`
	NotBeforeMS int64     `json:"not_before_ms"`
}

// SkillResult is the outcome of one skill execution. It is a tagged variant:
// exactly Success or Failure, never a struct with optional fields.
type SkillResult interface {
	skillResult()
	// Succeeded reports whether the result is a Success.
	Succeeded() bool
}

// Success carries a human-readable summary and optional numeric metrics
// (blocks collected, distance travelled, ...).
type Success struct {
	Details string             `json:"details"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// Failure carries a structured error code, details, and whether the handler
// believes a fresh attempt could succeed.
type Failure struct {
	Code      FailureCode `json:"error_code"`
	Details   string      `json:"details"`
	Retryable bool        `json:"retryable"`
}

func (Success) skillResult() {}
func (Failure) skillResult() {}

// Succeeded implements SkillResult.
func (Success) Succeeded() bool { return true }

// Succeeded implements SkillResult.
func (Failure) Succeeded() bool { return false }

// Vec3 is a world position. Distances are Euclidean.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Dist returns the Euclidean distance between v and o.
func (v Vec3) Dist(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// TimePhase is the day-cycle phase reported in snapshots.
type TimePhase string

const (
	PhaseDawn  TimePhase = "dawn"
	PhaseDay   TimePhase = "day"
	PhaseDusk  TimePhase = "dusk"
	PhaseNight TimePhase = "night"
)

// TimeInfo is the world-clock portion of a snapshot.
type TimeInfo struct {
	Tick  int       `json:"tick"`
	Phase TimePhase `json:"phase"`
}

// PlayerInfo is the agent's own state at snapshot time.
type PlayerInfo struct {
	Position  Vec3     `json:"position"`
	Dimension string   `json:"dimension"`
	Health    float64  `json:"health"`
	Hunger    float64  `json:"hunger"`
	Effects   []string `json:"effects,omitempty"`
}

// InventorySummary is the compact inventory view the planner and guard see.
// Tools maps tool names to counts; KeyItems holds every other non-food item;
// Blocks is the total count of placeable block items.
type InventorySummary struct {
	FoodTotal int            `json:"food_total"`
	Tools     map[string]int `json:"tools"`
	Blocks    int            `json:"blocks"`
	KeyItems  map[string]int `json:"key_items"`
}

// Load is the fullness measure the fallback planner tests against the
// deposit threshold: placeable blocks plus every key item.
func (s InventorySummary) Load() int {
	total := s.Blocks
	for _, n := range s.KeyItems {
		total += n
	}
	return total
}

// HostileInfo is one nearby hostile.
type HostileInfo struct {
	Type     string  `json:"type"`
	Distance float64 `json:"distance"`
}

// ResourceInfo is one nearby harvestable block.
type ResourceInfo struct {
	Type     string  `json:"type"`
	Distance float64 `json:"distance"`
	Position Vec3    `json:"position"`
}

// POIInfo is one nearby point of interest (crafting table, furnace, chest).
type POIInfo struct {
	Type     string  `json:"type"`
	Distance float64 `json:"distance"`
	Position Vec3    `json:"position"`
}

// NearbySummary bounds: at most 6 hostiles, 8 resources, 6 POIs, each sorted
// by ascending distance. Distances are never negative.
type NearbySummary struct {
	Hostiles         []HostileInfo  `json:"hostiles"`
	Resources        []ResourceInfo `json:"resources"`
	PointsOfInterest []POIInfo      `json:"points_of_interest"`
}

// TaskContext is the controller-owned portion of a snapshot.
type TaskContext struct {
	CurrentGoal      string         `json:"current_goal,omitempty"`
	CurrentSubgoal   string         `json:"current_subgoal,omitempty"`
	ProgressCounters map[string]int `json:"progress_counters,omitempty"`
	LastError        string         `json:"last_error,omitempty"`
}

// Snapshot is an immutable compact world view. Builders hand out copies;
// nothing mutates a snapshot after it is built.
type Snapshot struct {
	AgentID          string           `json:"agent_id"`
	Time             TimeInfo         `json:"time"`
	Player           PlayerInfo       `json:"player"`
	InventorySummary InventorySummary `json:"inventory_summary"`
	NearbySummary    NearbySummary    `json:"nearby_summary"`
	TaskContext      TaskContext      `json:"task_context"`
}

// HistoryEntry is the append-only record of one subgoal attempt.
type HistoryEntry struct {
	Timestamp      time.Time      `json:"timestamp"`
	SubgoalName    SubgoalName    `json:"subgoal_name"`
	Params         map[string]any `json:"params,omitempty"`
	Outcome        string         `json:"outcome"` // "success" | "failure"
	ErrorCode      FailureCode    `json:"error_code,omitempty"`
	ErrorDetails   string         `json:"error_details,omitempty"`
	InventoryDelta map[string]int `json:"inventory_delta,omitempty"`
	HealthDelta    float64        `json:"health_delta"`
	DurationMS     int64          `json:"duration_ms"`
}

// Trigger is an event that, when pending, causes the controller to plan.
// Triggers collapse as a set; DEATH additionally clears the queue.
type Trigger string

const (
	TriggerIdle             Trigger = "IDLE"
	TriggerSubgoalCompleted Trigger = "SUBGOAL_COMPLETED"
	TriggerSubgoalFailed    Trigger = "SUBGOAL_FAILED"
	TriggerAttacked         Trigger = "ATTACKED"
	TriggerDeath            Trigger = "DEATH"
	TriggerStuck            Trigger = "STUCK"
	TriggerNightfall        Trigger = "NIGHTFALL"
	TriggerInventoryFull    Trigger = "INVENTORY_FULL"
	TriggerToolMissing      Trigger = "TOOL_MISSING"
	TriggerReconnect        Trigger = "RECONNECT"
)

// PlanRequest is the schema-validated planner input.
type PlanRequest struct {
	BotID             string         `json:"bot_id"`
	Snapshot          Snapshot       `json:"snapshot"`
	History           []HistoryEntry `json:"history"`
	AvailableSubgoals []SubgoalName  `json:"available_subgoals"`
}

// PlanResponse is the schema-validated planner output.
type PlanResponse struct {
	NextGoal    string         `json:"next_goal"`
	Subgoals    []Subgoal      `json:"subgoals"`
	RiskFlags   []string       `json:"risk_flags,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
}

// PlanStatus classifies a planner service outcome.
type PlanStatus string

const (
	PlanSuccess     PlanStatus = "SUCCESS"
	PlanRateLimited PlanStatus = "RATE_LIMITED"
	PlanFallback    PlanStatus = "FALLBACK"
)

// PlanResult is the planner service's return envelope.
type PlanResult struct {
	Status    PlanStatus   `json:"status"`
	Response  PlanResponse `json:"response"`
	TokensIn  int          `json:"tokens_in,omitempty"`
	TokensOut int          `json:"tokens_out,omitempty"`
	Notes     []string     `json:"notes,omitempty"`
}
