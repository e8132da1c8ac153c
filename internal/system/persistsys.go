package system

import (
	"context"
	"time"

	"github.com/l1jgo/botherd/internal/admission"
	coresys "github.com/l1jgo/botherd/internal/core/system"
)

// PersistSystem batch-saves dirty bot records on a fixed cadence.
type PersistSystem struct {
	ctx      context.Context
	director *admission.Director
	interval time.Duration
	elapsed  time.Duration
}

func NewPersistSystem(ctx context.Context, d *admission.Director, interval time.Duration) *PersistSystem {
	return &PersistSystem{ctx: ctx, director: d, interval: interval}
}

func (s *PersistSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *PersistSystem) Update(dt time.Duration) {
	s.elapsed += dt
	if s.elapsed < s.interval {
		return
	}
	s.elapsed = 0
	s.director.SaveDirty(s.ctx)
}
