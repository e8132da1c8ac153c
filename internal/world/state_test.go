package world

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAddRemoveAndCounts(t *testing.T) {
	s := NewState(zap.NewNop())

	a := &BotInfo{ID: uuid.New(), Name: "a", MapID: 4}
	b := &BotInfo{ID: uuid.New(), Name: "b", MapID: 4}
	c := &BotInfo{ID: uuid.New(), Name: "c", MapID: 340}
	s.AddBot(a)
	s.AddBot(b)
	s.AddBot(c)

	assert.Equal(t, 3, s.BotCount())
	assert.Equal(t, 2, s.InstanceCount(), "two distinct map instances")
	assert.Same(t, b, s.Get(b.ID))

	removed := s.RemoveBot(c.ID)
	require.Same(t, c, removed)
	assert.Equal(t, 2, s.BotCount())
	assert.Equal(t, 1, s.InstanceCount(), "instance dropped when its last bot leaves")

	assert.Nil(t, s.RemoveBot(c.ID), "double remove is a no-op")
	assert.Nil(t, s.Get(c.ID))
}

func TestAllBotsVisitsEveryone(t *testing.T) {
	s := NewState(zap.NewNop())
	ids := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		b := &BotInfo{ID: uuid.New(), MapID: int16(i)}
		ids[b.ID] = false
		s.AddBot(b)
	}
	s.AllBots(func(b *BotInfo) { ids[b.ID] = true })
	for id, seen := range ids {
		assert.True(t, seen, id.String())
	}
}

func TestThrottleDefaultsAndUpdates(t *testing.T) {
	s := NewState(zap.NewNop())

	mult, safe := s.Throttle()
	assert.Equal(t, 1.0, mult)
	assert.True(t, safe)

	s.ApplyThrottle(0.25, true)
	s.ApplyThrottle(0.25, true) // repeat: no edge, still stored
	mult, safe = s.Throttle()
	assert.Equal(t, 0.25, mult)
	assert.True(t, safe)

	s.ApplyThrottle(0.0, false)
	mult, safe = s.Throttle()
	assert.Equal(t, 0.0, mult)
	assert.False(t, safe)
}
