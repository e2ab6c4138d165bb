package types

import (
	"errors"
	"fmt"
)

// ErrSchema marks a boundary validation failure. Schema errors are fatal to
// the caller and are never retried as-is.
var ErrSchema = errors.New("schema validation failed")

// schemaErr wraps a detail message so errors.Is(err, ErrSchema) holds.
func schemaErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrSchema, fmt.Sprintf(format, args...))
}

// ValidatePlanRequest checks the planner input envelope.
//
// Expectations:
//   - Rejects an empty bot_id
//   - Rejects a snapshot whose agent_id differs from bot_id
//   - Rejects available_subgoals entries outside the closed set
//   - Rejects negative distances in the nearby summary
func ValidatePlanRequest(r PlanRequest) error {
	if r.BotID == "" {
		return schemaErr("bot_id is required")
	}
	if r.Snapshot.AgentID != "" && r.Snapshot.AgentID != r.BotID {
		return schemaErr("snapshot.agent_id %q does not match bot_id %q", r.Snapshot.AgentID, r.BotID)
	}
	for _, n := range r.AvailableSubgoals {
		if !n.Valid() {
			return schemaErr("unknown subgoal name %q in available_subgoals", n)
		}
	}
	for _, h := range r.Snapshot.NearbySummary.Hostiles {
		if h.Distance < 0 {
			return schemaErr("negative hostile distance %f", h.Distance)
		}
	}
	for _, res := range r.Snapshot.NearbySummary.Resources {
		if res.Distance < 0 {
			return schemaErr("negative resource distance %f", res.Distance)
		}
	}
	return nil
}

// ValidatePlanResponse checks the planner output envelope. Unknown subgoal
// names are rejected outright; the normalizer only canonicalizes parameters,
// never names.
//
// Expectations:
//   - Rejects an empty subgoal list
//   - Rejects any subgoal whose name is outside the closed set
//   - Rejects a missing next_goal
func ValidatePlanResponse(r PlanResponse) error {
	if r.NextGoal == "" {
		return schemaErr("next_goal is required")
	}
	if len(r.Subgoals) == 0 {
		return schemaErr("subgoals must not be empty")
	}
	for i, sg := range r.Subgoals {
		if !sg.Name.Valid() {
			return schemaErr("subgoal %d: unknown name %q", i, sg.Name)
		}
	}
	return nil
}
