// Package world tracks the bots currently alive in the host process, keyed
// by map instance. It is the workload collaborator for the resource monitor
// and receives throttle notices from the admission layer.
package world

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/session"
)

// BotInfo holds in-memory data for a bot currently in-world. Mutation
// happens only on the control/simulation tick goroutine; the count
// accessors take the read lock so the monitor may sample concurrently.
type BotInfo struct {
	ID        uuid.UUID
	Name      string
	Archetype string
	MapID     int16
	X         int32
	Y         int32
	Level     int16
	Session   *session.Session

	// Dirty marks persisted state as changed; the persist pass saves dirty
	// bots and clears the flag after each successful save.
	Dirty bool
}

type State struct {
	log *zap.Logger

	mu         sync.RWMutex
	bots       map[uuid.UUID]*BotInfo
	byInstance map[int16]map[uuid.UUID]*BotInfo

	multiplier float64
	spawnSafe  bool
}

func NewState(log *zap.Logger) *State {
	return &State{
		log:        log.Named("world"),
		bots:       make(map[uuid.UUID]*BotInfo),
		byInstance: make(map[int16]map[uuid.UUID]*BotInfo),
		multiplier: 1.0,
		spawnSafe:  true,
	}
}

// AddBot registers a bot in its map instance.
func (s *State) AddBot(b *BotInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
	inst := s.byInstance[b.MapID]
	if inst == nil {
		inst = make(map[uuid.UUID]*BotInfo)
		s.byInstance[b.MapID] = inst
	}
	inst[b.ID] = b
}

// RemoveBot unregisters a bot, returning its info or nil.
func (s *State) RemoveBot(id uuid.UUID) *BotInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil
	}
	delete(s.bots, id)
	if inst := s.byInstance[b.MapID]; inst != nil {
		delete(inst, id)
		if len(inst) == 0 {
			delete(s.byInstance, b.MapID)
		}
	}
	return b
}

// Get returns a bot by ID.
func (s *State) Get(id uuid.UUID) *BotInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bots[id]
}

// BotCount returns the number of bots in-world.
func (s *State) BotCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bots)
}

// InstanceCount returns the number of map instances holding at least one bot.
func (s *State) InstanceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byInstance)
}

// AllBots iterates all in-world bots.
func (s *State) AllBots(fn func(*BotInfo)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bots {
		fn(b)
	}
}

// ApplyThrottle records the admission layer's current throttle decision.
// Edge-logged; the stored values steer in-world pacing (wander rates etc.).
func (s *State) ApplyThrottle(multiplier float64, spawnSafe bool) {
	s.mu.Lock()
	changed := multiplier != s.multiplier || spawnSafe != s.spawnSafe
	s.multiplier = multiplier
	s.spawnSafe = spawnSafe
	s.mu.Unlock()
	if changed {
		s.log.Info("throttle updated",
			zap.Float64("multiplier", multiplier),
			zap.Bool("spawn_safe", spawnSafe))
	}
}

// Throttle returns the last applied multiplier and spawn-safe flag.
func (s *State) Throttle() (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.multiplier, s.spawnSafe
}
