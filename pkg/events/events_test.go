package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)
	assert.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Type: EventTickStarted})

	select {
	case ev := <-sub:
		assert.Equal(t, EventTickStarted, ev.Type)
		assert.False(t, ev.Timestamp.IsZero())
		assert.NotEmpty(t, ev.ID)
	case <-time.After(time.Second):
		t.Fatal("expected event was not delivered")
	}
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: EventWorkerJoined})

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after Unsubscribe")
}

func TestBroker_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventTickCompleted})
	}

	require.Eventually(t, func() bool {
		select {
		case <-sub:
			return false
		default:
			return true
		}
	}, time.Second, 10*time.Millisecond, "publisher should never have blocked")
}
