package lifecycle

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventKind tags a deferred world notification.
type EventKind int

const (
	EventNearbyMove EventKind = iota // another entity moved in view range
	EventChat                        // chat line addressed at the bot
	EventDamage                      // the bot took damage before activating
	EventSystem                      // server notice (weather, shutdown, ...)
	EventCallback                    // bound closure; runs instead of the handler
)

var eventKindNames = [...]string{"NEARBY_MOVE", "CHAT", "DAMAGE", "SYSTEM", "CALLBACK"}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "UNKNOWN"
	}
	return eventKindNames[k]
}

// Event is a world notification that arrived before its target bot was safe
// to touch. The raiser builds it; the target's Manager owns it once queued;
// it is consumed exactly once on drain, or dropped if the bot reaches a
// terminal or removing state first.
type Event struct {
	Kind    EventKind
	Source  uuid.UUID
	Target  uuid.UUID
	Payload any
	At      time.Time

	// Fn is invoked instead of the generic handler for EventCallback events.
	Fn func()
}

// QueueResult tells the raiser what happened to its event.
type QueueResult int

const (
	// EventQueued — stored; will be drained when the bot activates.
	EventQueued QueueResult = iota
	// EventProcessNow — the bot is ACTIVE; the caller must handle the event
	// immediately itself (the queue is only for pre-ACTIVE arrivals).
	EventProcessNow
	// EventDropped — the bot is failed, destroyed, or being removed; the
	// event has no consumer and was discarded. Treat as handled.
	EventDropped
)

// QueueEvent decides, atomically with respect to MarkActive, whether ev is
// queued, must be processed by the caller, or is dropped.
func (m *Manager) QueueEvent(ev *Event) QueueResult {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()

	switch m.State() {
	case StateActive:
		return EventProcessNow
	case StateFailed, StateDestroyed, StateRemoving:
		return EventDropped
	}
	if ev.At.IsZero() {
		ev.At = m.clk.Now()
	}
	m.queue = append(m.queue, ev)
	return EventQueued
}

// Handler consumes one drained event.
type Handler func(*Event)

// ProcessQueuedEvents drains the deferred queue in FIFO order through
// handler. Only legal while ACTIVE; otherwise nothing is processed and zero
// is returned. The whole queue is swapped out under the lock so a concurrent
// QueueEvent never races the drain on the same slice. A panic in one event's
// handling is recovered and logged; later events still run.
func (m *Manager) ProcessQueuedEvents(handler Handler) int {
	if m.State() != StateActive {
		return 0
	}
	m.queueMu.Lock()
	drained := m.queue
	m.queue = nil
	m.queueMu.Unlock()

	processed := 0
	for _, ev := range drained {
		m.dispatch(ev, handler)
		processed++
	}
	return processed
}

func (m *Manager) dispatch(ev *Event, handler Handler) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("deferred event handler panicked",
				zap.String("kind", ev.Kind.String()),
				zap.Any("panic", r))
		}
	}()
	if ev.Kind == EventCallback && ev.Fn != nil {
		ev.Fn()
		return
	}
	handler(ev)
}

// QueuedEventCount returns the current deferred-queue length.
func (m *Manager) QueuedEventCount() int {
	m.queueMu.Lock()
	defer m.queueMu.Unlock()
	return len(m.queue)
}
