package session

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Session is the per-bot context object the simulation loop talks through:
// perception frames flow in, command frames flow out, and the scratch buffer
// backs frame encoding. Construction is expensive (queue allocation, buffer
// warmup), so sessions are pooled and rebound rather than rebuilt.
//
// Ownership: the pool owns a session until Acquire hands it out; the
// admission layer owns it until Release/ReturnByID gives it back.
type Session struct {
	// ID is a pool-assigned serial, stable across reuse.
	ID uint64

	InQueue  chan []byte // perception frames, simulation loop → bot
	OutQueue chan []byte // command frames, bot → simulation loop

	botID     uuid.UUID // bound identity; uuid.Nil while pooled
	scratch   []byte    // reusable encode buffer
	createdAt time.Time
	uses      int
	closed    atomic.Bool
}

func newSession(id uint64, inSize, outSize int, now time.Time) *Session {
	return &Session{
		ID:        id,
		InQueue:   make(chan []byte, inSize),
		OutQueue:  make(chan []byte, outSize),
		scratch:   make([]byte, 0, 512),
		createdAt: now,
	}
}

// BotID returns the currently bound bot, or uuid.Nil while pooled.
func (s *Session) BotID() uuid.UUID { return s.botID }

// Uses returns how many times this session has been handed out.
func (s *Session) Uses() int { return s.uses }

// Scratch returns the encode buffer, length zero, capacity retained.
func (s *Session) Scratch() []byte { return s.scratch[:0] }

// Close marks the session unusable. Closed sessions never return to the pool.
func (s *Session) Close() {
	s.closed.Store(true)
}

// Reusable reports whether the session may be handed to another bot: it must
// not be closed and both queues must have been drained by the previous owner.
func (s *Session) Reusable() bool {
	if s.closed.Load() {
		return false
	}
	return len(s.InQueue) == 0 && len(s.OutQueue) == 0
}

// bind attaches a bot identity and counts the handout.
func (s *Session) bind(botID uuid.UUID) {
	s.botID = botID
	s.uses++
}

// reset detaches the identity and clears the scratch buffer for pooling.
// Queues are left allocated — reusing their capacity is the point.
func (s *Session) reset() {
	s.botID = uuid.Nil
	s.scratch = s.scratch[:0]
}
