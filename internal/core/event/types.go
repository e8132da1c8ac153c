package event

import (
	"time"

	"github.com/google/uuid"
)

// BotActivated fires when a bot completes initialization and enters the
// active population.
type BotActivated struct {
	BotID        uuid.UUID
	Archetype    string
	TimeToActive time.Duration
}

// BotRetired fires when a bot leaves the population, whether by orderly
// removal or force-fail.
type BotRetired struct {
	BotID  uuid.UUID
	Reason string
}

// ThrottleChanged fires on every spawn-throttle edge pushed to the world.
type ThrottleChanged struct {
	Multiplier float64
	SpawnSafe  bool
}
