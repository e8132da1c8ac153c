package system

import (
	"time"

	coresys "github.com/l1jgo/botherd/internal/core/system"
	"github.com/l1jgo/botherd/internal/session"
)

// PoolMaintenanceSystem runs idle-session cleanup. The pool time-gates the
// actual eviction pass internally.
type PoolMaintenanceSystem struct {
	pool *session.Pool
}

func NewPoolMaintenanceSystem(p *session.Pool) *PoolMaintenanceSystem {
	return &PoolMaintenanceSystem{pool: p}
}

func (s *PoolMaintenanceSystem) Phase() coresys.Phase { return coresys.PhaseMaintain }

func (s *PoolMaintenanceSystem) Update(dt time.Duration) {
	s.pool.Tick()
}
