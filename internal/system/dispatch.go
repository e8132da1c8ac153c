package system

import (
	"time"

	"github.com/l1jgo/botherd/internal/core/event"
	coresys "github.com/l1jgo/botherd/internal/core/system"
)

// EventDispatchSystem rotates the bus buffers and delivers last tick's
// events. Registered first so subscribers see events before admission runs.
type EventDispatchSystem struct {
	bus *event.Bus
}

func NewEventDispatchSystem(bus *event.Bus) *EventDispatchSystem {
	return &EventDispatchSystem{bus: bus}
}

func (s *EventDispatchSystem) Phase() coresys.Phase { return coresys.PhaseSample }

func (s *EventDispatchSystem) Update(dt time.Duration) {
	s.bus.SwapBuffers()
	s.bus.DispatchAll()
}
