// Package planner turns a plan request into an executable subgoal sequence:
// prompt the LLM, parse and validate, normalize, run the feasibility guard,
// optionally reprompt for a dependency-correct plan, and fall back to the
// deterministic planner whenever any of that fails.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/blockfleet/blockfleet/internal/guard"
	"github.com/blockfleet/blockfleet/internal/llm"
	"github.com/blockfleet/blockfleet/internal/metrics"
	"github.com/blockfleet/blockfleet/internal/normalize"
	"github.com/blockfleet/blockfleet/internal/ratelimit"
	"github.com/blockfleet/blockfleet/internal/types"
)

const retryBaseDelay = 80 * time.Millisecond

// Options tunes one Service.
type Options struct {
	Timeout             time.Duration
	MaxRetries          int
	RepromptEnabled     bool
	RepromptMaxAttempts int
	BasePosition        types.Vec3
	DesiredIncrement    int
}

// Service coordinates one planning pipeline shared by all bots.
type Service struct {
	llm     llm.Client
	limiter *ratelimit.Limiter
	guard   *guard.Guard
	opts    Options
	log     zerolog.Logger
	sleep   func(time.Duration)
}

func NewService(client llm.Client, limiter *ratelimit.Limiter, g *guard.Guard, opts Options, log zerolog.Logger) *Service {
	return &Service{
		llm:     client,
		limiter: limiter,
		guard:   g,
		opts:    opts,
		log:     log,
		sleep:   time.Sleep,
	}
}

// Plan runs the full pipeline. A schema-invalid request is the only error
// return; every downstream failure degrades to a FALLBACK result instead.
//
// Expectations:
//   - A rate-limit denial returns RATE_LIMITED with a fallback plan and no
//     LLM call
//   - A guard rewrite with reprompting enabled consumes another rate token
//     and retries with the repair prompt
//   - LLM failure after retries returns FALLBACK with a PLANNER_ERROR reason
func (s *Service) Plan(ctx context.Context, req types.PlanRequest) (types.PlanResult, error) {
	if err := types.ValidatePlanRequest(req); err != nil {
		return types.PlanResult{}, err
	}

	if d := s.limiter.Consume(req.BotID); !d.Allowed {
		metrics.RecordPlannerCall(string(types.PlanRateLimited))
		return types.PlanResult{
			Status:   types.PlanRateLimited,
			Response: s.fallback(req.Snapshot, "RATE_LIMIT_"+d.Reason),
			Notes:    []string{fmt.Sprintf("rate_limited_%s_retry_after_%dms", d.Reason, d.RetryAfter.Milliseconds())},
		}, nil
	}

	result, err := s.llmPlan(ctx, req)
	if err != nil {
		s.log.Warn().Str("bot", req.BotID).Err(err).Msg("planner degraded to fallback")
		metrics.RecordPlannerCall(string(types.PlanFallback))
		return types.PlanResult{
			Status:   types.PlanFallback,
			Response: s.fallback(req.Snapshot, "PLANNER_ERROR:"+err.Error()),
			Notes:    []string{"planner_error"},
		}, nil
	}
	metrics.RecordPlannerCall(string(types.PlanSuccess))
	metrics.RecordLLMTokens(result.TokensIn, result.TokensOut)
	return result, nil
}

// llmPlan is steps 3-6: call, parse, normalize, guard, reprompt.
func (s *Service) llmPlan(ctx context.Context, req types.PlanRequest) (types.PlanResult, error) {
	var notes []string
	tokensIn, tokensOut := 0, 0

	raw, err := s.generate(ctx, buildPrompt(req))
	if err != nil {
		return types.PlanResult{}, err
	}
	tokensIn += raw.TokensIn
	tokensOut += raw.TokensOut

	resp, normalized, parseNotes, err := s.parse(raw.Text)
	if err != nil {
		return types.PlanResult{}, err
	}
	notes = append(notes, parseNotes...)

	guarded, guardNotes := s.guard.Apply(req.Snapshot, normalized)
	notes = append(notes, guardNotes...)

	if !types.PlansEqual(normalized, guarded) && s.opts.RepromptEnabled {
		for attempt := 0; attempt < s.opts.RepromptMaxAttempts; attempt++ {
			if d := s.limiter.Consume(req.BotID); !d.Allowed {
				notes = append(notes, "feasibility_reprompt_rate_limited")
				break
			}
			raw, err := s.generate(ctx, buildRepairPrompt(req, normalized, guarded, guardNotes))
			if err != nil {
				notes = append(notes, "feasibility_reprompt_failed")
				break
			}
			tokensIn += raw.TokensIn
			tokensOut += raw.TokensOut

			resp2, normalized2, parseNotes2, err := s.parse(raw.Text)
			if err != nil {
				notes = append(notes, "feasibility_reprompt_unparseable")
				break
			}
			notes = append(notes, parseNotes2...)

			guarded2, guardNotes2 := s.guard.Apply(req.Snapshot, normalized2)
			notes = append(notes, guardNotes2...)
			resp, normalized, guarded, guardNotes = resp2, normalized2, guarded2, guardNotes2

			if types.PlansEqual(normalized, guarded) {
				notes = append(notes, "feasibility_reprompt_resolved")
				break
			}
		}
	}

	resp.Subgoals = guarded
	return types.PlanResult{
		Status:    types.PlanSuccess,
		Response:  resp,
		TokensIn:  tokensIn,
		TokensOut: tokensOut,
		Notes:     notes,
	}, nil
}

// generate calls the LLM with jittered retries.
func (s *Service) generate(ctx context.Context, prompt string) (llm.Result, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * retryBaseDelay
			s.sleep(delay + time.Duration(rand.Int63n(int64(retryBaseDelay))))
		}
		res, err := s.llm.Generate(ctx, prompt, s.opts.Timeout)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return llm.Result{}, fmt.Errorf("llm call failed: %w", lastErr)
}

// parse extracts, validates, and normalizes a model response.
func (s *Service) parse(text string) (types.PlanResponse, []types.Subgoal, []string, error) {
	payload := llm.ExtractJSON(text)
	if payload == "" {
		return types.PlanResponse{}, nil, nil, fmt.Errorf("no JSON object in model output")
	}
	var resp types.PlanResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return types.PlanResponse{}, nil, nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := types.ValidatePlanResponse(resp); err != nil {
		return types.PlanResponse{}, nil, nil, err
	}
	normalized, notes := normalize.Plan(resp.Subgoals)
	if len(normalized) == 0 {
		return types.PlanResponse{}, nil, nil, fmt.Errorf("no subgoals survived normalization")
	}
	return resp, normalized, notes, nil
}

func (s *Service) fallback(snap types.Snapshot, reason string) types.PlanResponse {
	return Fallback(s.guard, snap, reason, s.opts.BasePosition, s.opts.DesiredIncrement)
}

// FallbackPlan exposes the deterministic planner for controller paths that
// must not consume a rate token (death recovery, idle autonomy).
func (s *Service) FallbackPlan(snap types.Snapshot, reason string) types.PlanResponse {
	return s.fallback(snap, reason)
}
