package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wordduel/wordduel/wordgame"
)

func TestNotifierFanout(t *testing.T) {
	n := newNotifier()
	a, unsubA := n.Subscribe("m1")
	b, unsubB := n.Subscribe("m1")
	other, unsubOther := n.Subscribe("m2")
	defer unsubOther()

	n.publish(EventCreated, wordgame.Snapshot{ID: "m1"})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
	assert.Len(t, other, 0)

	ev := <-a
	assert.Equal(t, EventCreated, ev.Type)
	assert.Equal(t, "m1", ev.Match.ID)

	unsubA()
	unsubA() // safe to call twice
	n.publish(EventOpened, wordgame.Snapshot{ID: "m1"})
	assert.Len(t, a, 0)
	assert.Len(t, b, 2)
	unsubB()
}

func TestNotifierDropsOnFullBuffer(t *testing.T) {
	n := newNotifier()
	ch, unsub := n.Subscribe("m1")
	defer unsub()

	for i := 0; i < 20; i++ {
		n.publish(EventGuess, wordgame.Snapshot{ID: "m1"})
	}
	// The subscriber buffer caps delivery; the publisher never blocks.
	assert.Len(t, ch, cap(ch))
}

func TestNotifierClose(t *testing.T) {
	n := newNotifier()
	ch, _ := n.Subscribe("m1")
	n.close()

	_, ok := <-ch
	assert.False(t, ok, "channel closed")

	// Subscribing after close yields a closed channel.
	ch2, unsub := n.Subscribe("m1")
	unsub()
	_, ok = <-ch2
	assert.False(t, ok)

	n.close() // idempotent
	n.publish(EventGuess, wordgame.Snapshot{ID: "m1"})
}
