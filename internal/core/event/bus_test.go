package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestEventsVisibleOneTickLater(t *testing.T) {
	b := NewBus()
	var got []BotActivated
	Subscribe(b, func(ev BotActivated) { got = append(got, ev) })

	id := uuid.New()
	Emit(b, BotActivated{BotID: id, Archetype: "idler", TimeToActive: 70 * time.Millisecond})

	b.SwapBuffers()
	b.DispatchAll()
	assert.Len(t, got, 1)
	assert.Equal(t, id, got[0].BotID)

	// nothing new emitted: the next tick delivers nothing
	b.SwapBuffers()
	b.DispatchAll()
	assert.Len(t, got, 1)
}

func TestEmitDuringTickDefersToNext(t *testing.T) {
	b := NewBus()
	count := 0
	Subscribe(b, func(BotRetired) {
		count++
		if count == 1 {
			Emit(b, BotRetired{Reason: "cascade"}) // lands in the back buffer
		}
	})

	Emit(b, BotRetired{Reason: "first"})
	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, 1, count, "cascaded event not delivered in the same tick")

	b.SwapBuffers()
	b.DispatchAll()
	assert.Equal(t, 2, count)
}

func TestMultipleSubscribersAndTypes(t *testing.T) {
	b := NewBus()
	a1, a2, r1 := 0, 0, 0
	Subscribe(b, func(BotActivated) { a1++ })
	Subscribe(b, func(BotActivated) { a2++ })
	Subscribe(b, func(ThrottleChanged) { r1++ })

	Emit(b, BotActivated{})
	Emit(b, ThrottleChanged{Multiplier: 0.5})
	b.SwapBuffers()
	b.DispatchAll()

	assert.Equal(t, 1, a1)
	assert.Equal(t, 1, a2, "every subscriber of the type sees the event")
	assert.Equal(t, 1, r1)
}
