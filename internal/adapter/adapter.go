// Package adapter defines the capability interface between the control core
// and the game-client library. The core never sees client-library objects,
// only this contract; the Sim implementation backs tests and dry runs.
package adapter

import (
	"context"

	"github.com/blockfleet/blockfleet/internal/types"
)

// Item is one inventory stack.
type Item struct {
	Name  string
	Count int
}

// Entity is a nearby entity as the client reports it.
type Entity struct {
	Type     string
	Hostile  bool
	Position types.Vec3
}

// BlockRef locates one world block.
type BlockRef struct {
	Name     string
	Position types.Vec3
}

// Event is a connection-lifecycle or damage event from the client. The
// reflex monitor consumes these.
type Event interface{ event() }

type Spawned struct{}
type Hurt struct{ Health float64 }
type Death struct{}
type Kicked struct{ Reason string }
type Ended struct{ Reason string }

func (Spawned) event() {}
func (Hurt) event()    {}
func (Death) event()   {}
func (Kicked) event()  {}
func (Ended) event()   {}

// Agent is the narrow surface the core drives. Blocking actions take a
// context; cancelling it abandons the action best-effort. Implementations
// must be safe for the single-controller access pattern: one action in
// flight, state reads from any goroutine.
type Agent interface {
	// Lifecycle.
	Connect(ctx context.Context) error
	Quit()
	Events() <-chan Event
	BotID() string

	// Entity and world state.
	Position() types.Vec3
	SpawnPosition() types.Vec3
	Health() float64
	Hunger() float64
	TimeOfDay() int
	Dimension() string
	Effects() []string
	Inventory() []Item
	EmptySlots() int
	NearbyEntities(maxDistance float64) []Entity
	// FindBlocks returns up to limit blocks matching any of names within
	// maxDistance, ascending by distance.
	FindBlocks(names []string, maxDistance float64, limit int) []BlockRef
	PathfinderActive() bool
	MiningOrBuilding() bool

	// Actions.
	PathfindTo(ctx context.Context, pos types.Vec3, reach int) error
	// ClearControls drops the pathfinding goal, combat target, held control
	// states, and any in-progress collection. Best effort, never blocks.
	ClearControls()
	EquipItem(name string) error
	Dig(ctx context.Context, b BlockRef) error
	PlaceBlock(ctx context.Context, item string, pos types.Vec3) error
	CollectBlocks(ctx context.Context, block string, count int, maxDistance float64) (int, error)
	Craft(ctx context.Context, item string, count int, useTable bool) error
	Smelt(ctx context.Context, input string, count int, fuel string) error
	TransferToContainer(ctx context.Context, pos types.Vec3, items map[string]int) error
	TakeFromContainer(ctx context.Context, pos types.Vec3, items map[string]int) error
	// AttackNearestHostile engages the closest hostile within maxDistance.
	// Returns false when no target was in range.
	AttackNearestHostile(ctx context.Context, maxDistance float64) (bool, error)
	Chat(message string)
}

// InventoryCount sums the count of name across stacks.
func InventoryCount(items []Item, name string) int {
	total := 0
	for _, it := range items {
		if it.Name == name {
			total += it.Count
		}
	}
	return total
}

// InventoryTotal sums every stack. The idle-stall probe watches this.
func InventoryTotal(items []Item) int {
	total := 0
	for _, it := range items {
		total += it.Count
	}
	return total
}
