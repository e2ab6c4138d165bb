package planner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/blockfleet/blockfleet/internal/types"
)

// maxRepairNotes caps how many guard notes the repair prompt carries.
const maxRepairNotes = 24

const promptHeader = `You are the task planner for a survival game bot. Produce the next goal and an ordered list of subgoals.

Allowed subgoal names (use no others):
%s

Parameter key rules:
- collect: {"block": "<block name>", "count": <int >= 1>}
- goto_nearest: {"block": "<block name>", "max_distance": <int > 0>}
- craft / withdraw: {"item": "<item name>", "count": <int >= 1>}
- smelt: {"input": "<item name>", "count": <int >= 1>, "fuel": "<item name>" (optional)}
- goto: {"x": <int>, "y": <int>, "z": <int>, "range": <int >= 1>}
- explore: {"radius": <int>}
- combat_engage: {"max_targets": <int>, "max_distance": <int>}
- combat_guard: {"radius": <int>, "duration": <ms>}
- deposit: {"strategy": "all_non_essential"} or explicit item counts
- build_blueprint: {"blueprint": "<name>", "anchor": {"x","y","z"}}

Execution semantics:
- Subgoals run strictly in order; a failed subgoal discards the rest of the plan.
- collect mines and picks up blocks; it fails without the required tool.
- craft fails when ingredients are missing or a needed crafting table is not reachable.
- goto_nearest fails when no matching block is within max_distance.

Before answering, reason through these four steps internally:
1. Build the projected inventory from the snapshot (key items plus tools).
2. Validate each intended subgoal's preconditions against the projection.
3. Prepend prerequisite subgoals for anything missing (tools, ingredients, crafting table).
4. Re-simulate the full sequence start to finish and fix any remaining gap.

Respond with ONLY a JSON object (no markdown, no prose):
{"next_goal": "<one sentence>", "subgoals": [{"name": "...", "params": {...}}]}

Request payload:
%s`

const repairHeader = `Your previous plan required corrections before it could execute. Produce a corrected plan that needs no further adjustment.

Your previous subgoals:
%s

Adjusted subgoals after dependency analysis:
%s

Adjustment notes:
%s

Apply the same output format and parameter key rules as before: respond with ONLY the JSON object.

Request payload:
%s`

// buildPrompt renders the initial planning prompt.
func buildPrompt(req types.PlanRequest) string {
	names := make([]string, len(req.AvailableSubgoals))
	for i, n := range req.AvailableSubgoals {
		names[i] = "- " + string(n)
	}
	return fmt.Sprintf(promptHeader, strings.Join(names, "\n"), mustJSON(req))
}

// buildRepairPrompt renders the feasibility reprompt.
func buildRepairPrompt(req types.PlanRequest, previous, guarded []types.Subgoal, notes []string) string {
	if len(notes) > maxRepairNotes {
		notes = notes[:maxRepairNotes]
	}
	noteLines := make([]string, len(notes))
	for i, n := range notes {
		noteLines[i] = "- " + n
	}
	return fmt.Sprintf(repairHeader,
		mustJSON(previous), mustJSON(guarded), strings.Join(noteLines, "\n"), mustJSON(req))
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(raw)
}
