package system

import (
	"time"

	"github.com/l1jgo/botherd/internal/admission"
	coresys "github.com/l1jgo/botherd/internal/core/system"
)

// BreakerSystem runs the circuit breaker's time-based transitions once per
// tick, before admission consults it.
type BreakerSystem struct {
	breaker *admission.CircuitBreaker
}

func NewBreakerSystem(b *admission.CircuitBreaker) *BreakerSystem {
	return &BreakerSystem{breaker: b}
}

func (s *BreakerSystem) Phase() coresys.Phase { return coresys.PhaseEvaluate }

func (s *BreakerSystem) Update(dt time.Duration) {
	s.breaker.Evaluate()
}
