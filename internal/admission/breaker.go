package admission

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/l1jgo/botherd/internal/config"
	"github.com/l1jgo/botherd/internal/metrics"
)

// BreakerState is the three-position spawn gate.
type BreakerState int32

const (
	BreakerClosed   BreakerState = iota // normal: admit freely
	BreakerOpen                         // blocked: recent failure rate too high
	BreakerHalfOpen                     // probing: rate-limited trial admissions
)

var breakerStateNames = [...]string{"CLOSED", "OPEN", "HALF_OPEN"}

func (s BreakerState) String() string {
	if s < 0 || int(s) >= len(breakerStateNames) {
		return "UNKNOWN"
	}
	return breakerStateNames[s]
}

// attempt is one admission outcome inside the sliding window.
type attempt struct {
	at      time.Time
	success bool
}

// CircuitBreaker halts bulk bot admission when the recent failure rate is
// too high, then probes recovery gradually. The tick thread calls Evaluate
// once per control tick; other goroutines may call AllowSpawn and the
// record methods concurrently — one coarse mutex covers the window.
type CircuitBreaker struct {
	cfg config.BreakerConfig
	clk clock.Clock
	log *zap.Logger
	met *metrics.Metrics

	mu                  sync.Mutex
	state               BreakerState
	enteredAt           time.Time
	window              []attempt // time-ordered, lazily evicted
	lastAttemptAt       time.Time
	consecutiveFailures int
	totalAttempts       uint64
	totalFailures       uint64
}

func NewCircuitBreaker(cfg config.BreakerConfig, clk clock.Clock, met *metrics.Metrics, log *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		cfg:       cfg,
		clk:       clk,
		log:       log.Named("breaker"),
		met:       met,
		state:     BreakerClosed,
		enteredAt: clk.Now(),
	}
}

// State returns the current breaker position.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// AllowSpawn gates one admission attempt. CLOSED always allows, OPEN always
// denies, HALF_OPEN allows at most one probe per probe interval measured
// from the last recorded attempt.
func (b *CircuitBreaker) AllowSpawn() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		return false
	default: // HALF_OPEN
		return b.clk.Now().Sub(b.lastAttemptAt) >= b.cfg.ProbeInterval
	}
}

// RecordSuccess pushes a successful attempt into the window.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(true)
	b.consecutiveFailures = 0
}

// RecordFailure pushes a failed attempt. A failure while HALF_OPEN reopens
// the breaker immediately — a single bad probe ends the recovery attempt.
func (b *CircuitBreaker) RecordFailure(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.record(false)
	b.totalFailures++
	b.consecutiveFailures++
	if b.state == BreakerHalfOpen {
		b.transition(BreakerOpen, "probe failure: "+reason)
	}
}

// record appends an attempt under b.mu.
func (b *CircuitBreaker) record(success bool) {
	now := b.clk.Now()
	b.window = append(b.window, attempt{at: now, success: success})
	b.lastAttemptAt = now
	b.totalAttempts++
}

// Evaluate runs the periodic transition check. Called once per control tick
// by the simulation loop.
func (b *CircuitBreaker) Evaluate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict()
	now := b.clk.Now()

	switch b.state {
	case BreakerClosed:
		if len(b.window) >= b.cfg.MinimumAttempts && b.failureRate() >= b.cfg.OpenThreshold {
			b.transition(BreakerOpen, "failure rate over threshold")
		}
	case BreakerOpen:
		if now.Sub(b.enteredAt) >= b.cfg.Cooldown {
			b.consecutiveFailures = 0
			b.transition(BreakerHalfOpen, "cooldown elapsed")
		}
	case BreakerHalfOpen:
		if b.consecutiveFailures >= b.cfg.MaxProbeFailures {
			b.transition(BreakerOpen, "repeated probe failures")
			return
		}
		if now.Sub(b.enteredAt) >= b.cfg.Recovery && b.failureRate() < b.cfg.CloseThreshold {
			b.transition(BreakerClosed, "recovery held")
		}
	}
}

// evict drops window entries older than the retention window. Lazy: runs at
// each Evaluate and before each rate computation, never on the record path.
func (b *CircuitBreaker) evict() {
	cutoff := b.clk.Now().Add(-b.cfg.Window)
	i := 0
	for i < len(b.window) && b.window[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

// failureRate returns the failed share of the window as a percentage.
// Empty window reads 0% — never a divide fault.
func (b *CircuitBreaker) failureRate() float64 {
	if len(b.window) == 0 {
		return 0
	}
	failed := 0
	for _, a := range b.window {
		if !a.success {
			failed++
		}
	}
	return float64(failed) / float64(len(b.window)) * 100
}

// FailureRate is the exported, evicted snapshot of failureRate.
func (b *CircuitBreaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict()
	return b.failureRate()
}

// transition flips state under b.mu and logs old, new, and trigger.
func (b *CircuitBreaker) transition(to BreakerState, reason string) {
	from := b.state
	b.state = to
	b.enteredAt = b.clk.Now()
	b.log.Info("breaker transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason))
	if b.met != nil {
		b.met.BreakerState.Set(float64(to))
	}
}

// Reset is the operator override: force CLOSED and clear all counters.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.window = b.window[:0]
	b.consecutiveFailures = 0
	b.transition(BreakerClosed, "administrative reset")
}

// Stats is a point-in-time diagnostic view of the breaker.
type Stats struct {
	State               BreakerState
	WindowSize          int
	FailureRate         float64
	ConsecutiveFailures int
	TotalAttempts       uint64
	TotalFailures       uint64
}

func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict()
	return Stats{
		State:               b.state,
		WindowSize:          len(b.window),
		FailureRate:         b.failureRate(),
		ConsecutiveFailures: b.consecutiveFailures,
		TotalAttempts:       b.totalAttempts,
		TotalFailures:       b.totalFailures,
	}
}
