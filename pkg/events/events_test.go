package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBrokerDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.PublishPhase(EventPhaseStarted, "alpha", "genesis", "Provisioning genesis node")

	ev := receive(t, sub)
	assert.Equal(t, EventPhaseStarted, ev.Type)
	assert.Equal(t, "alpha", ev.Environment)
	assert.Equal(t, "genesis", ev.Metadata["phase"])
	assert.Equal(t, b.RunID(), ev.RunID)
	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestBrokerPreservesOrderForOneSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for _, phase := range []string{"infra", "build", "genesis", "nodes"} {
		b.PublishPhase(EventPhaseCompleted, "alpha", phase, "")
	}

	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, receive(t, sub).Metadata["phase"])
	}
	assert.Equal(t, []string{"infra", "build", "genesis", "nodes"}, got)
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, open := <-sub
	assert.False(t, open)
}

func TestNilBrokerDiscards(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() {
		b.PublishPhase(EventPhaseFailed, "alpha", "nodes", "boom")
	})
}

func TestStopTwice(t *testing.T) {
	b := NewBroker()
	b.Start()
	b.Stop()
	assert.NotPanics(t, b.Stop)
}
