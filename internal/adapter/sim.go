package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/blockfleet/blockfleet/internal/types"
)

// Sim is a deterministic in-memory Agent used by tests and dry runs. World
// state is a flat block list plus an inventory map; actions mutate both
// instantly unless a per-action hook says otherwise.
type Sim struct {
	mu sync.Mutex

	botID     string
	pos       types.Vec3
	spawn     types.Vec3
	health    float64
	hunger    float64
	timeOfDay int
	dimension string
	effects   []string
	inventory map[string]int
	slots     int
	blocks    []BlockRef
	entities  []Entity

	pathActive bool
	mining     bool
	connected  bool
	frozen     bool

	events chan Event

	// Hooks let a test fail or stall a specific action.
	OnCollect func(block string, count int) (int, error)
	OnCraft   func(item string, count int) error
	OnPath    func(pos types.Vec3) error
}

func NewSim(botID string) *Sim {
	return &Sim{
		botID:     botID,
		health:    20,
		hunger:    20,
		timeOfDay: 1000,
		dimension: "overworld",
		inventory: make(map[string]int),
		slots:     36,
		events:    make(chan Event, 32),
	}
}

// World setup helpers, safe before or between actions.

func (s *Sim) PlaceWorldBlock(name string, pos types.Vec3) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, BlockRef{Name: name, Position: pos})
}

func (s *Sim) AddEntity(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = append(s.entities, e)
}

func (s *Sim) SetInventory(name string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inventory[name] = count
}

func (s *Sim) SetHealth(h float64)  { s.mu.Lock(); s.health = h; s.mu.Unlock() }
func (s *Sim) SetTimeOfDay(t int)   { s.mu.Lock(); s.timeOfDay = t; s.mu.Unlock() }
func (s *Sim) SetEmptySlots(n int)  { s.mu.Lock(); s.slots = n; s.mu.Unlock() }

// Freeze pins position and inventory so progress probes see a stall.
func (s *Sim) Freeze(on bool) { s.mu.Lock(); s.frozen = on; s.mu.Unlock() }

func (s *Sim) SetPathfinderActive(on bool) { s.mu.Lock(); s.pathActive = on; s.mu.Unlock() }
func (s *Sim) SetMining(on bool)           { s.mu.Lock(); s.mining = on; s.mu.Unlock() }

// Emit injects a lifecycle event, as the real client would.
func (s *Sim) Emit(e Event) { s.events <- e }

// Agent implementation.

func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	if s.spawn == (types.Vec3{}) {
		s.spawn = s.pos
	}
	s.mu.Unlock()
	s.events <- Spawned{}
	return nil
}

func (s *Sim) Quit() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
}

func (s *Sim) Events() <-chan Event { return s.events }
func (s *Sim) BotID() string        { return s.botID }

func (s *Sim) Position() types.Vec3      { s.mu.Lock(); defer s.mu.Unlock(); return s.pos }
func (s *Sim) SpawnPosition() types.Vec3 { s.mu.Lock(); defer s.mu.Unlock(); return s.spawn }
func (s *Sim) Health() float64           { s.mu.Lock(); defer s.mu.Unlock(); return s.health }
func (s *Sim) Hunger() float64           { s.mu.Lock(); defer s.mu.Unlock(); return s.hunger }
func (s *Sim) TimeOfDay() int            { s.mu.Lock(); defer s.mu.Unlock(); return s.timeOfDay }
func (s *Sim) Dimension() string         { s.mu.Lock(); defer s.mu.Unlock(); return s.dimension }
func (s *Sim) Effects() []string         { s.mu.Lock(); defer s.mu.Unlock(); return s.effects }
func (s *Sim) PathfinderActive() bool    { s.mu.Lock(); defer s.mu.Unlock(); return s.pathActive }
func (s *Sim) MiningOrBuilding() bool    { s.mu.Lock(); defer s.mu.Unlock(); return s.mining }

func (s *Sim) Inventory() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.inventory))
	for name, count := range s.inventory {
		if count > 0 {
			out = append(out, Item{Name: name, Count: count})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Sim) EmptySlots() int { s.mu.Lock(); defer s.mu.Unlock(); return s.slots }

func (s *Sim) NearbyEntities(maxDistance float64) []Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entity
	for _, e := range s.entities {
		if s.pos.Dist(e.Position) <= maxDistance {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.pos.Dist(out[i].Position) < s.pos.Dist(out[j].Position)
	})
	return out
}

func (s *Sim) FindBlocks(names []string, maxDistance float64, limit int) []BlockRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []BlockRef
	for _, b := range s.blocks {
		if want[b.Name] && s.pos.Dist(b.Position) <= maxDistance {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.pos.Dist(out[i].Position) < s.pos.Dist(out[j].Position)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Sim) PathfindTo(ctx context.Context, pos types.Vec3, reach int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.OnPath != nil {
		if err := s.OnPath(pos); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.frozen {
		s.pos = pos
	}
	return nil
}

func (s *Sim) ClearControls() {
	s.mu.Lock()
	s.pathActive = false
	s.mining = false
	s.mu.Unlock()
}

func (s *Sim) EquipItem(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory[name] == 0 {
		return fmt.Errorf("equip %s: not in inventory", name)
	}
	return nil
}

func (s *Sim) Dig(ctx context.Context, b BlockRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, wb := range s.blocks {
		if wb == b {
			s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("dig: block %s not found", b.Name)
}

func (s *Sim) PlaceBlock(ctx context.Context, item string, pos types.Vec3) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory[item] == 0 {
		return fmt.Errorf("place %s: not in inventory", item)
	}
	s.inventory[item]--
	s.blocks = append(s.blocks, BlockRef{Name: item, Position: pos})
	return nil
}

func (s *Sim) CollectBlocks(ctx context.Context, block string, count int, maxDistance float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s.OnCollect != nil {
		return s.OnCollect(block, count)
	}
	refs := s.FindBlocks([]string{block}, maxDistance, count)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		return 0, nil
	}
	collected := 0
	for _, ref := range refs {
		for i, wb := range s.blocks {
			if wb == ref {
				s.blocks = append(s.blocks[:i], s.blocks[i+1:]...)
				break
			}
		}
		s.inventory[block]++
		collected++
	}
	return collected, nil
}

func (s *Sim) Craft(ctx context.Context, item string, count int, useTable bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.OnCraft != nil {
		return s.OnCraft(item, count)
	}
	// The sim does not model ingredient consumption; handlers check
	// preconditions against the catalog before calling.
	s.mu.Lock()
	s.inventory[item] += count
	s.mu.Unlock()
	return nil
}

func (s *Sim) Smelt(ctx context.Context, input string, count int, fuel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inventory[input] < count {
		return fmt.Errorf("smelt: have %d %s, need %d", s.inventory[input], input, count)
	}
	s.inventory[input] -= count
	s.inventory["smelted_"+input] += count
	return nil
}

func (s *Sim) TransferToContainer(ctx context.Context, pos types.Vec3, items map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, count := range items {
		if s.inventory[name] < count {
			count = s.inventory[name]
		}
		s.inventory[name] -= count
	}
	return nil
}

func (s *Sim) TakeFromContainer(ctx context.Context, pos types.Vec3, items map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, count := range items {
		s.inventory[name] += count
	}
	return nil
}

func (s *Sim) AttackNearestHostile(ctx context.Context, maxDistance float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entities {
		if e.Hostile && s.pos.Dist(e.Position) <= maxDistance {
			s.entities = append(s.entities[:i], s.entities[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Sim) Chat(message string) {}
