package system

import (
	"time"

	coresys "github.com/l1jgo/botherd/internal/core/system"
	"github.com/l1jgo/botherd/internal/monitor"
)

// SampleSystem drives the resource monitor. The monitor gates itself to its
// configured interval, so running every tick is fine.
type SampleSystem struct {
	mon *monitor.Monitor
}

func NewSampleSystem(mon *monitor.Monitor) *SampleSystem {
	return &SampleSystem{mon: mon}
}

func (s *SampleSystem) Phase() coresys.Phase { return coresys.PhaseSample }

func (s *SampleSystem) Update(dt time.Duration) {
	s.mon.Tick()
}
