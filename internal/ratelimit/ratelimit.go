// Package ratelimit budgets LLM calls with rolling-hour sliding windows,
// one per bot plus a fleet-wide one. Admission is atomic: both windows are
// checked and stamped under a single lock, and a denial records nothing.
package ratelimit

import (
	"sync"
	"time"

	"github.com/blockfleet/blockfleet/internal/metrics"
)

const window = time.Hour

// Denial reasons.
const (
	ReasonBotCap    = "BOT_CAP"
	ReasonGlobalCap = "GLOBAL_CAP"
)

// Decision is the outcome of one Consume call. RetryAfter is set only on
// denial and is never below one second.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

// Limiter tracks call timestamps per bot and globally. The zero value is not
// usable; construct with New.
type Limiter struct {
	mu        sync.Mutex
	perBotCap int
	globalCap int
	perBot    map[string][]time.Time
	global    []time.Time
	now       func() time.Time
}

func New(perBotCap, globalCap int) *Limiter {
	return &Limiter{
		perBotCap: perBotCap,
		globalCap: globalCap,
		perBot:    make(map[string][]time.Time),
		now:       time.Now,
	}
}

// WithClock substitutes the time source. Test hook.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Consume attempts to admit one call for botID. The per-bot cap is evaluated
// before the global cap, so a bot that exhausted its own budget is reported
// as BOT_CAP even when the fleet budget is also full.
func (l *Limiter) Consume(botID string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.perBot[botID] = prune(l.perBot[botID], now)
	l.global = prune(l.global, now)

	if len(l.perBot[botID]) >= l.perBotCap {
		metrics.RecordRateLimitDenial(ReasonBotCap)
		return Decision{Reason: ReasonBotCap, RetryAfter: retryAfter(l.perBot[botID], now)}
	}
	if len(l.global) >= l.globalCap {
		metrics.RecordRateLimitDenial(ReasonGlobalCap)
		return Decision{Reason: ReasonGlobalCap, RetryAfter: retryAfter(l.global, now)}
	}

	l.perBot[botID] = append(l.perBot[botID], now)
	l.global = append(l.global, now)
	return Decision{Allowed: true}
}

// CallsInLastHour returns the bot's admitted calls in the rolling window.
func (l *Limiter) CallsInLastHour(botID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.perBot[botID] = prune(l.perBot[botID], now)
	return len(l.perBot[botID])
}

// GlobalCallsInLastHour returns fleet-wide admitted calls in the window.
func (l *Limiter) GlobalCallsInLastHour() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.global = prune(l.global, now)
	return len(l.global)
}

// Headroom reports how many calls botID could still make right now against
// both caps. The prefetch path reserves budget by requiring headroom above
// its reserve count before speculating.
func (l *Limiter) Headroom(botID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.perBot[botID] = prune(l.perBot[botID], now)
	l.global = prune(l.global, now)
	bot := l.perBotCap - len(l.perBot[botID])
	global := l.globalCap - len(l.global)
	if global < bot {
		bot = global
	}
	if bot < 0 {
		return 0
	}
	return bot
}

// prune drops timestamps older than the window. Timestamps are appended in
// order, so the suffix starting at the first in-window entry is the result.
func prune(ts []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// retryAfter is the wait until the earliest in-window timestamp ages out,
// clamped to at least one second.
func retryAfter(ts []time.Time, now time.Time) time.Duration {
	if len(ts) == 0 {
		return time.Second
	}
	d := ts[0].Add(window).Sub(now)
	if d < time.Second {
		d = time.Second
	}
	return d
}
