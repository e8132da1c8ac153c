package session

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/metrics"
)

// Pool amortizes session construction by reuse under bounded memory. Acquire
// and Release are safe from any goroutine; one mutex per pool instance.
type Pool struct {
	cfg config.PoolConfig
	clk clock.Clock
	log *zap.Logger
	met *metrics.Metrics

	mu          sync.Mutex
	idle        []*Session
	active      map[uuid.UUID]*Session
	nextID      uint64
	lastCleanup time.Time

	created uint64
	reused  uint64
	hits    uint64
	misses  uint64
}

func NewPool(cfg config.PoolConfig, clk clock.Clock, met *metrics.Metrics, log *zap.Logger) *Pool {
	return &Pool{
		cfg:    cfg,
		clk:    clk,
		log:    log.Named("sessionpool"),
		met:    met,
		active: make(map[uuid.UUID]*Session),
	}
}

// Initialize pre-populates the pool with generic, not-yet-bound sessions.
func (p *Pool) Initialize(initialSize int) {
	p.mu.Lock()
	for i := 0; i < initialSize; i++ {
		p.idle = append(p.idle, p.build())
	}
	p.lastCleanup = p.clk.Now()
	idle := len(p.idle)
	p.mu.Unlock()
	p.updateGauges()
	p.log.Info("session pool initialized", zap.Int("size", idle))
}

// build constructs a fresh session; caller holds p.mu.
func (p *Pool) build() *Session {
	p.nextID++
	p.created++
	return newSession(p.nextID, p.cfg.InQueueSize, p.cfg.OutQueueSize, p.clk.Now())
}

// Acquire hands out a session bound to botID. At most one pooled session is
// popped per call; if it fails the reusability check it is discarded, not
// repaired, and a fresh session is built. Every acquired session is tracked
// as active regardless of origin.
func (p *Pool) Acquire(botID uuid.UUID) *Session {
	p.mu.Lock()
	var s *Session
	if last := len(p.idle) - 1; last >= 0 {
		cand := p.idle[last]
		p.idle = p.idle[:last]
		if cand.Reusable() {
			s = cand
		}
		// non-reusable candidate is dropped on the floor
	}
	if s != nil {
		p.reused++
		p.hits++
		if p.met != nil {
			p.met.PoolHits.Inc()
		}
	} else {
		s = p.build()
		p.misses++
		if p.met != nil {
			p.met.PoolMisses.Inc()
		}
	}
	s.bind(botID)
	p.active[botID] = s
	p.mu.Unlock()
	p.updateGauges()
	return s
}

// Release returns a session to the pool if there is room and it passes the
// reusability check; otherwise the session is silently dropped and left for
// normal destruction.
func (p *Pool) Release(s *Session) {
	p.mu.Lock()
	delete(p.active, s.botID)
	if len(p.idle) < p.cfg.MaxSize && s.Reusable() {
		s.reset()
		p.idle = append(p.idle, s)
	}
	p.mu.Unlock()
	p.updateGauges()
}

// ReturnByID releases the active session bound to botID, for callers that
// only hold the identifier. Reports whether a session was found.
func (p *Pool) ReturnByID(botID uuid.UUID) bool {
	p.mu.Lock()
	s, ok := p.active[botID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	p.Release(s)
	return true
}

// Tick runs the time-gated cleanup pass: while above the minimum size, evict
// leading non-reusable idle sessions, stopping at the first reusable entry.
// Only a prefix is scanned each cycle — bounded work per tick.
func (p *Pool) Tick() {
	p.mu.Lock()
	now := p.clk.Now()
	if now.Sub(p.lastCleanup) < p.cfg.CleanupInterval {
		p.mu.Unlock()
		return
	}
	p.lastCleanup = now
	evicted := 0
	for len(p.idle) > p.cfg.MinSize && !p.idle[0].Reusable() {
		p.idle = p.idle[1:]
		evicted++
	}
	p.mu.Unlock()
	p.updateGauges()
	if evicted > 0 {
		p.log.Debug("evicted stale sessions", zap.Int("count", evicted))
	}
}

// Stats is the monotonic counter view; read without blocking the acquire
// path beyond the shared mutex, and not strictly consistent with contents.
type Stats struct {
	Created   uint64
	Reused    uint64
	Active    int
	Pooled    int
	Hits      uint64
	Misses    uint64
	HitRate   float64 // percent
	ReuseRate float64 // percent
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Stats{
		Created: p.created,
		Reused:  p.reused,
		Active:  len(p.active),
		Pooled:  len(p.idle),
		Hits:    p.hits,
		Misses:  p.misses,
	}
	if total := p.hits + p.misses; total > 0 {
		st.HitRate = float64(p.hits) / float64(total) * 100
	}
	if handed := p.created + p.reused; handed > 0 {
		st.ReuseRate = float64(p.reused) / float64(handed) * 100
	}
	return st
}

func (p *Pool) updateGauges() {
	if p.met == nil {
		return
	}
	p.mu.Lock()
	active, idle := len(p.active), len(p.idle)
	p.mu.Unlock()
	p.met.PoolActive.Set(float64(active))
	p.met.PoolIdle.Set(float64(idle))
}
