package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesSubscribers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(&Event{Type: EventSnapshotPublished, Repo: "myrepo"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventSnapshotPublished, ev.Type)
		assert.Equal(t, "myrepo", ev.Repo)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestStartStopIdempotent(t *testing.T) {
	b := NewBroker()

	b.Start()
	b.Start()
	b.Stop()
	b.Stop()

	// A stopped broker drops publishes instead of blocking.
	b.Publish(&Event{Type: EventRefreshCompleted, Repo: "myrepo"})
}

func TestStopBeforeStart(t *testing.T) {
	b := NewBroker()
	b.Stop()
	b.Start()
	b.Stop()
}

func TestUnsubscribe(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	// Channel is closed after unsubscribe.
	_, open := <-sub
	assert.False(t, open)
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	slow := b.Subscribe()
	fast := b.Subscribe()
	defer b.Unsubscribe(fast)
	_ = slow // never drained; its buffer fills and events are dropped

	for i := 0; i < 200; i++ {
		b.Publish(&Event{Type: EventRefreshCompleted, Repo: "myrepo"})
	}

	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
}
