package system

import (
	"context"
	"time"

	"github.com/l1jgo/botherd/internal/admission"
	coresys "github.com/l1jgo/botherd/internal/core/system"
)

// AdmitSystem runs the spawn director's admission pass.
type AdmitSystem struct {
	ctx      context.Context
	director *admission.Director
}

func NewAdmitSystem(ctx context.Context, d *admission.Director) *AdmitSystem {
	return &AdmitSystem{ctx: ctx, director: d}
}

func (s *AdmitSystem) Phase() coresys.Phase { return coresys.PhaseAdmit }

func (s *AdmitSystem) Update(dt time.Duration) {
	s.director.Tick(s.ctx)
}
