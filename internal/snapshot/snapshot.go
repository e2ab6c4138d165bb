// Package snapshot derives the compact world view the planner and guard
// consume. Snapshots are immutable once built; the builder caches the last
// one and the last nearby scan independently, since entity/block scans are
// the expensive part of a refresh.
package snapshot

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blockfleet/blockfleet/internal/adapter"
	"github.com/blockfleet/blockfleet/internal/catalog"
	"github.com/blockfleet/blockfleet/internal/types"
)

const (
	maxResources = 8
	maxHostiles  = 6
	maxPOI       = 6

	scanDistance   = 48.0
	entityDistance = 32.0
)

// poiBlocks are the block types reported as points of interest.
var poiBlocks = []string{"crafting_table", "furnace", "chest", "bed"}

// PhaseForTick maps a game-time tick to a day phase.
//
// Expectations:
//   - [0, 1000) and [23000, 24000) are dawn
//   - [1000, 12000) is day
//   - [12000, 13000) is dusk
//   - [13000, 23000) is night
func PhaseForTick(tick int) types.TimePhase {
	tick %= 24000
	switch {
	case tick < 1000 || tick >= 23000:
		return types.PhaseDawn
	case tick < 12000:
		return types.PhaseDay
	case tick < 13000:
		return types.PhaseDusk
	default:
		return types.PhaseNight
	}
}

// Builder assembles snapshots for one bot.
type Builder struct {
	mu sync.Mutex

	agent   adapter.Agent
	catalog catalog.Catalog

	refreshTTL time.Duration
	nearbyTTL  time.Duration

	lastSnapshot  types.Snapshot
	lastBuiltAt   time.Time
	lastNearby    types.NearbySummary
	lastScannedAt time.Time

	now func() time.Time
}

func NewBuilder(agent adapter.Agent, cat catalog.Catalog, refreshTTL, nearbyTTL time.Duration) *Builder {
	return &Builder{
		agent:      agent,
		catalog:    cat,
		refreshTTL: refreshTTL,
		nearbyTTL:  nearbyTTL,
		now:        time.Now,
	}
}

// WithClock substitutes the time source. Test hook.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Invalidate drops both caches. Called on reconnect.
func (b *Builder) Invalidate() {
	b.mu.Lock()
	b.lastBuiltAt = time.Time{}
	b.lastScannedAt = time.Time{}
	b.mu.Unlock()
}

// Build returns the current snapshot, reusing the cached one unless it has
// aged past the refresh TTL or force is set. taskCtx is stamped in fresh
// each call even on a cache hit, since it belongs to the controller, not
// the world.
func (b *Builder) Build(ctx context.Context, force bool, taskCtx types.TaskContext) (types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return types.Snapshot{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if !force && !b.lastBuiltAt.IsZero() && now.Sub(b.lastBuiltAt) < b.refreshTTL {
		snap := b.lastSnapshot
		snap.TaskContext = taskCtx
		return snap, nil
	}

	tick := b.agent.TimeOfDay()
	snap := types.Snapshot{
		AgentID: b.agent.BotID(),
		Time:    types.TimeInfo{Tick: tick, Phase: PhaseForTick(tick)},
		Player: types.PlayerInfo{
			Position:  b.agent.Position(),
			Dimension: b.agent.Dimension(),
			Health:    b.agent.Health(),
			Hunger:    b.agent.Hunger(),
			Effects:   b.agent.Effects(),
		},
		InventorySummary: b.summarizeInventory(),
		NearbySummary:    b.nearby(force, now),
		TaskContext:      taskCtx,
	}

	b.lastSnapshot = snap
	b.lastBuiltAt = now
	return snap, nil
}

func (b *Builder) summarizeInventory() types.InventorySummary {
	sum := types.InventorySummary{
		Tools:    make(map[string]int),
		KeyItems: make(map[string]int),
	}
	for _, it := range b.agent.Inventory() {
		switch {
		case b.catalog.IsFood(it.Name):
			sum.FoodTotal += it.Count
		case b.catalog.IsTool(it.Name):
			sum.Tools[it.Name] += it.Count
		default:
			if _, isBlock := b.catalog.Block(it.Name); isBlock {
				sum.Blocks += it.Count
			} else {
				sum.KeyItems[it.Name] += it.Count
			}
		}
	}
	return sum
}

// nearby runs the entity and block scans, or reuses the previous scan when
// it is still within its own TTL. Caller holds b.mu.
func (b *Builder) nearby(force bool, now time.Time) types.NearbySummary {
	if !force && !b.lastScannedAt.IsZero() && now.Sub(b.lastScannedAt) < b.nearbyTTL {
		return b.lastNearby
	}

	pos := b.agent.Position()
	out := types.NearbySummary{}

	for _, e := range b.agent.NearbyEntities(entityDistance) {
		if !e.Hostile {
			continue
		}
		out.Hostiles = append(out.Hostiles, types.HostileInfo{
			Type:     e.Type,
			Distance: pos.Dist(e.Position),
		})
	}

	// One entry per block type, nearest instance wins. Adapter results come
	// back distance-sorted, so the first hit per name is the nearest.
	seen := make(map[string]bool)
	for _, ref := range b.agent.FindBlocks(b.catalog.BlockNames(), scanDistance, 0) {
		if seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		out.Resources = append(out.Resources, types.ResourceInfo{
			Type:     ref.Name,
			Distance: pos.Dist(ref.Position),
			Position: ref.Position,
		})
	}

	seenPOI := make(map[string]bool)
	for _, ref := range b.agent.FindBlocks(poiBlocks, scanDistance, 0) {
		if seenPOI[ref.Name] {
			continue
		}
		seenPOI[ref.Name] = true
		out.PointsOfInterest = append(out.PointsOfInterest, types.POIInfo{
			Type:     ref.Name,
			Distance: pos.Dist(ref.Position),
			Position: ref.Position,
		})
	}

	sort.Slice(out.Hostiles, func(i, j int) bool { return out.Hostiles[i].Distance < out.Hostiles[j].Distance })
	sort.Slice(out.Resources, func(i, j int) bool { return out.Resources[i].Distance < out.Resources[j].Distance })
	sort.Slice(out.PointsOfInterest, func(i, j int) bool {
		return out.PointsOfInterest[i].Distance < out.PointsOfInterest[j].Distance
	})

	if len(out.Hostiles) > maxHostiles {
		out.Hostiles = out.Hostiles[:maxHostiles]
	}
	if len(out.Resources) > maxResources {
		out.Resources = out.Resources[:maxResources]
	}
	if len(out.PointsOfInterest) > maxPOI {
		out.PointsOfInterest = out.PointsOfInterest[:maxPOI]
	}

	b.lastNearby = out
	b.lastScannedAt = now
	return out
}
