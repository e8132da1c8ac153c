package system

import "time"

// Phase defines execution ordering within a single control tick.
type Phase int

const (
	PhaseSample   Phase = iota // 0: resource sampling, metric refresh
	PhaseEvaluate              // 1: breaker evaluation, pressure edges
	PhaseAdmit                 // 2: spawn waves, lifecycle pipeline
	PhaseMaintain              // 3: pool cleanup, watchdog, removals
	PhasePersist               // 4: batch save of dirty bot records
)

// System is the interface every control-tick system implements.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}
