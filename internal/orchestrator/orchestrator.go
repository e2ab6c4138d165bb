// Package orchestrator assembles the fleet: shared services once, one
// controller per bot, staggered startup, and ordered shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/admission"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/config"
	"github.com/blockfleet/blockfleet/internal/controller"
	"github.com/blockfleet/blockfleet/internal/events"
	"github.com/blockfleet/blockfleet/internal/guard"
	"github.com/blockfleet/blockfleet/internal/history"
	"github.com/blockfleet/blockfleet/internal/llm"
	"github.com/blockfleet/blockfleet/internal/lockmgr"
	"github.com/blockfleet/blockfleet/internal/logging"
	"github.com/blockfleet/blockfleet/internal/metrics"
	"github.com/blockfleet/blockfleet/internal/planner"
	"github.com/blockfleet/blockfleet/internal/ratelimit"
	"github.com/blockfleet/blockfleet/internal/skills"
	"github.com/blockfleet/blockfleet/internal/snapshot"
	"github.com/blockfleet/blockfleet/internal/store"
	"github.com/blockfleet/blockfleet/internal/types"
)

// gaugeInterval paces the connected-bots gauge refresh.
const gaugeInterval = time.Second

// AgentFactory builds the adapter for one bot. Production wires the game
// client; tests and dry runs wire adapter.NewSim.
type AgentFactory func(botID string) adapter.Agent

// Orchestrator owns the shared services and the per-bot controllers.
type Orchestrator struct {
	cfg         config.Config
	log         zerolog.Logger
	store       *store.Store
	controllers []*controller.Controller
}

// New wires the fleet. Shared coordination state (rate budget, locks, skill
// and explorer admission, planner) is built once; everything per-bot (bus,
// snapshots, history, skill engine) is built per controller.
func New(cfg config.Config, client llm.Client, cat catalog.Catalog, st *store.Store,
	factory AgentFactory, log zerolog.Logger) *Orchestrator {
	base := types.Vec3{X: float64(cfg.BaseX), Y: float64(cfg.BaseY), Z: float64(cfg.BaseZ)}

	limiter := ratelimit.New(cfg.LLMPerBotHourlyCap, cfg.LLMGlobalHourlyCap)
	locks := lockmgr.New(time.Duration(cfg.LockLeaseMS)*time.Millisecond, sink(st),
		logging.For("lockmgr"))
	skillSlots := admission.NewSkillLimiter(cfg.MaxConcurrentSkills)
	explorers := admission.NewExplorerLimiter(cfg.MaxConcurrentExplorers)
	g := guard.New(cat)

	svc := planner.NewService(client, limiter, g, planner.Options{
		Timeout:             time.Duration(cfg.PlannerTimeoutMS) * time.Millisecond,
		MaxRetries:          cfg.PlannerMaxRetries,
		RepromptEnabled:     cfg.PlannerFeasibilityReprompt,
		RepromptMaxAttempts: cfg.PlannerFeasibilityRepromptMaxAtt,
		BasePosition:        base,
		DesiredIncrement:    8,
	}, logging.For("planner"))

	o := &Orchestrator{cfg: cfg, log: log, store: st}
	for i := range cfg.BotCount {
		botID := fmt.Sprintf("%s-%d", cfg.BotNamePrefix, i+1)
		agent := factory(botID)
		deps := controller.Deps{
			Agent:     agent,
			Bus:       events.New(logging.ForBot("events", botID)),
			Snapshots: snapshot.NewBuilder(agent, cat,
				time.Duration(cfg.SnapshotRefreshMS)*time.Millisecond,
				time.Duration(cfg.SnapshotNearbyCacheMS)*time.Millisecond),
			Planner: svc,
			Engine: skills.NewEngine(agent, cat, locks, explorers, base,
				time.Duration(cfg.LockHeartbeatMS)*time.Millisecond,
				logging.ForBot("skills", botID)),
			SkillSlots: skillSlots,
			Locks:      locks,
			Limiter:    limiter,
			History:    history.New(history.DefaultCapacity),
			Store:      st,
		}
		o.controllers = append(o.controllers,
			controller.New(botID, deps, cfg, logging.ForBot("controller", botID)))
	}
	return o
}

// sink adapts a possibly-nil store to the lock event interface. A typed nil
// inside a non-nil interface would defeat the manager's nil check.
func sink(st *store.Store) lockmgr.EventSink {
	if st == nil {
		return nil
	}
	return st
}

// Run starts a run record, launches every controller with the configured
// stagger, and blocks until ctx cancels and all controllers have stopped.
func (o *Orchestrator) Run(ctx context.Context) error {
	runID, err := o.store.StartRun(o.cfg)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	o.log.Info().Str("run_id", runID).Int("bots", len(o.controllers)).Msg("fleet starting")

	eg, ctx := errgroup.WithContext(ctx)
	for i, c := range o.controllers {
		stagger := time.Duration(i*o.cfg.BotStartStaggerMS) * time.Millisecond
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(stagger):
			}
			return c.Run(ctx)
		})
	}
	eg.Go(func() error {
		o.watchGauges(ctx)
		return nil
	})

	err = eg.Wait()
	metrics.SetConnectedBots(0)

	if in, out, terr := o.store.TokenTotals(runID); terr == nil && runID != "" {
		o.log.Info().Int("tokens_in", in).Int("tokens_out", out).Msg("fleet stopped")
	} else {
		o.log.Info().Msg("fleet stopped")
	}
	return err
}

// watchGauges publishes the connected-bots gauge from controller states.
func (o *Orchestrator) watchGauges(ctx context.Context) {
	t := time.NewTicker(gaugeInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			connected := 0
			for _, c := range o.controllers {
				if c.TaskState() != controller.StateDisconnected {
					connected++
				}
			}
			metrics.SetConnectedBots(connected)
		}
	}
}
