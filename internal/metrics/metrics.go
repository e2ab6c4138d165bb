// Package metrics declares the fleet's Prometheus collectors. Collectors
// register on the default registry; exposing them over HTTP is the
// operator's concern, not this process's.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	subgoalDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "blockfleet",
		Name:      "subgoal_duration_seconds",
		Help:      "Wall time per subgoal attempt, by subgoal name.",
		Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
	}, []string{"subgoal"})

	subgoalFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "subgoal_failures_total",
		Help:      "Failed subgoal attempts, by error code.",
	}, []string{"code"})

	plannerCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "planner_calls_total",
		Help:      "Planner service outcomes, by status.",
	}, []string{"status"})

	rateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "rate_limit_denials_total",
		Help:      "LLM budget denials, by reason.",
	}, []string{"reason"})

	lockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "lock_events_total",
		Help:      "Lock lease transitions, by action.",
	}, []string{"action"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "reconnects_total",
		Help:      "Forced and organic reconnects, by reason.",
	}, []string{"reason"})

	llmTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "blockfleet",
		Name:      "llm_tokens_total",
		Help:      "LLM token usage, by direction (in/out).",
	}, []string{"direction"})

	connectedBots = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfleet",
		Name:      "connected_bots",
		Help:      "Bots currently connected to the game server.",
	})

	activeSkills = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfleet",
		Name:      "active_skills",
		Help:      "Skill executions currently holding a fleet slot.",
	})

	activeExplorers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfleet",
		Name:      "active_explorers",
		Help:      "Bots currently holding an exploration slot.",
	})

	skillQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "blockfleet",
		Name:      "skill_queue_depth",
		Help:      "Bots waiting for a fleet skill slot.",
	})
)

func RecordSubgoalDuration(name string, d time.Duration) {
	subgoalDuration.WithLabelValues(name).Observe(d.Seconds())
}

func RecordSubgoalFailure(code string) {
	subgoalFailures.WithLabelValues(code).Inc()
}

func RecordPlannerCall(status string) {
	plannerCalls.WithLabelValues(status).Inc()
}

func RecordRateLimitDenial(reason string) {
	rateLimitDenials.WithLabelValues(reason).Inc()
}

func RecordLockEvent(action string) {
	lockEvents.WithLabelValues(action).Inc()
}

func RecordReconnect(reason string) {
	reconnects.WithLabelValues(reason).Inc()
}

func RecordLLMTokens(in, out int) {
	if in > 0 {
		llmTokens.WithLabelValues("in").Add(float64(in))
	}
	if out > 0 {
		llmTokens.WithLabelValues("out").Add(float64(out))
	}
}

func SetConnectedBots(n int)   { connectedBots.Set(float64(n)) }
func SetActiveSkills(n int)    { activeSkills.Set(float64(n)) }
func SetActiveExplorers(n int) { activeExplorers.Set(float64(n)) }
func SetSkillQueueDepth(n int) { skillQueueDepth.Set(float64(n)) }
