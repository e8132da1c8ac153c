package lifecycle

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// historyCap bounds the per-bot transition history; oldest dropped first.
const historyCap = 10

// TransitionRecord is one successful state change, kept for diagnostics.
type TransitionRecord struct {
	From State
	To   State
	At   time.Time
}

// Manager owns one bot's lifecycle. It is created when admission succeeds and
// discarded after DESTROYED; it is never rebound to another bot. State reads
// and CAS transitions are lock-free; history, phase timestamps, and the
// deferred-event queue sit behind per-manager mutexes.
type Manager struct {
	botID uuid.UUID
	state atomic.Int32

	clk clock.Clock
	log *zap.Logger

	mu            sync.Mutex // protects everything below
	history       []TransitionRecord
	enteredAt     time.Time // when the current state was entered
	createdAt     time.Time
	loadStart     time.Time
	initStart     time.Time
	loadDuration  time.Duration
	initDuration  time.Duration
	timeToActive  time.Duration
	failureReason string

	queueMu sync.Mutex // serializes QueueEvent against the ACTIVE transition
	queue   []*Event
}

func NewManager(botID uuid.UUID, clk clock.Clock, log *zap.Logger) *Manager {
	m := &Manager{
		botID: botID,
		clk:   clk,
		log:   log.With(zap.String("bot", botID.String())),
	}
	now := clk.Now()
	m.createdAt = now
	m.enteredAt = now
	m.state.Store(int32(StateCreated))
	return m
}

func (m *Manager) BotID() uuid.UUID { return m.botID }

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// TimeInState returns how long the bot has held its current state. The
// watchdog in the admission layer compares this against the phase budget.
func (m *Manager) TimeInState() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clk.Now().Sub(m.enteredAt)
}

// TransitionTo attempts a validated compare-and-swap to newState. It returns
// false without side effects when the edge is illegal or when another caller
// changed the state first — the loser must retry or abort, there is no wait.
func (m *Manager) TransitionTo(newState State) bool {
	cur := m.State()
	if !validEdge(cur, newState) {
		m.log.Debug("rejected transition",
			zap.String("from", cur.String()),
			zap.String("to", newState.String()))
		return false
	}
	if !m.state.CompareAndSwap(int32(cur), int32(newState)) {
		return false // lost the race; first writer wins
	}
	m.recordTransition(cur, newState)
	return true
}

// recordTransition appends to the bounded history and stamps state entry.
func (m *Manager) recordTransition(from, to State) {
	now := m.clk.Now()
	m.mu.Lock()
	if len(m.history) >= historyCap {
		copy(m.history, m.history[1:])
		m.history = m.history[:historyCap-1]
	}
	m.history = append(m.history, TransitionRecord{From: from, To: to, At: now})
	m.enteredAt = now
	m.mu.Unlock()
	m.log.Debug("state transition",
		zap.String("from", from.String()),
		zap.String("to", to.String()))
}

// History returns a copy of the retained transition records, oldest first.
func (m *Manager) History() []TransitionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TransitionRecord, len(m.history))
	copy(out, m.history)
	return out
}

// ── Phase operations ──────────────────────────────────────────────

// StartDataLoad moves CREATED → LOADING_DATA and opens the load timer.
func (m *Manager) StartDataLoad() bool {
	if !m.TransitionTo(StateLoadingData) {
		return false
	}
	m.mu.Lock()
	m.loadStart = m.clk.Now()
	m.mu.Unlock()
	return true
}

// StartManagerInit moves LOADING_DATA → INITIALIZING and closes the load timer.
func (m *Manager) StartManagerInit() bool {
	if !m.TransitionTo(StateInitializing) {
		return false
	}
	now := m.clk.Now()
	m.mu.Lock()
	if !m.loadStart.IsZero() {
		m.loadDuration = now.Sub(m.loadStart)
	}
	m.initStart = now
	m.mu.Unlock()
	return true
}

// MarkReady moves INITIALIZING → READY and closes the init timer.
func (m *Manager) MarkReady() bool {
	if !m.TransitionTo(StateReady) {
		return false
	}
	now := m.clk.Now()
	m.mu.Lock()
	if !m.initStart.IsZero() {
		m.initDuration = now.Sub(m.initStart)
	}
	m.mu.Unlock()
	return true
}

// MarkActive moves READY → ACTIVE. The queue mutex is held across the CAS so
// that QueueEvent sees a single atomic queue-or-refuse decision: an event is
// either queued strictly before activation (and drained later) or refused
// strictly after — never both, never neither.
func (m *Manager) MarkActive() bool {
	m.queueMu.Lock()
	ok := m.TransitionTo(StateActive)
	m.queueMu.Unlock()
	if !ok {
		return false
	}
	m.queueMu.Lock()
	queued := len(m.queue)
	m.queueMu.Unlock()
	m.mu.Lock()
	m.timeToActive = m.clk.Now().Sub(m.createdAt)
	tta := m.timeToActive
	m.mu.Unlock()
	m.log.Info("bot active",
		zap.Duration("time_to_active", tta),
		zap.Int("queued_events", queued))
	return true
}

// StartRemoval moves ACTIVE → REMOVING.
func (m *Manager) StartRemoval() bool {
	return m.TransitionTo(StateRemoving)
}

// MarkDestroyed moves REMOVING (or FAILED) → DESTROYED.
func (m *Manager) MarkDestroyed() bool {
	return m.TransitionTo(StateDestroyed)
}

// MarkFailed force-sets FAILED from any state, bypassing edge validation.
// This is the single non-CAS-validated transition: the orchestration layer
// uses it to kill stuck or broken bots, and it always succeeds.
func (m *Manager) MarkFailed(reason string) {
	old := State(m.state.Swap(int32(StateFailed)))
	m.recordTransition(old, StateFailed)
	m.mu.Lock()
	m.failureReason = reason
	m.mu.Unlock()
	m.log.Warn("bot failed",
		zap.String("from", old.String()),
		zap.String("reason", reason))
}

// ── Metrics ───────────────────────────────────────────────────────

// Metrics is a snapshot of per-phase durations and outcome flags.
type Metrics struct {
	State         State
	DataLoad      time.Duration
	ManagerInit   time.Duration
	TimeToActive  time.Duration
	QueuedEvents  int
	Failed        bool
	FailureReason string
}

func (m *Manager) Metrics() Metrics {
	st := m.State()
	m.queueMu.Lock()
	queued := len(m.queue)
	m.queueMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		State:         st,
		DataLoad:      m.loadDuration,
		ManagerInit:   m.initDuration,
		TimeToActive:  m.timeToActive,
		QueuedEvents:  queued,
		Failed:        st == StateFailed,
		FailureReason: m.failureReason,
	}
}
