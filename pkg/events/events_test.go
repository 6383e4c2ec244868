package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerPublishBroadcastsToSubscribers(t *testing.T) {
	b := NewBroker(nil)
	b.Start()
	defer b.Stop()

	sub1 := b.Subscribe()
	sub2 := b.Subscribe()
	defer b.Unsubscribe(sub1)
	defer b.Unsubscribe(sub2)

	assert.Equal(t, 2, b.SubscriberCount())

	b.Publish(&Event{Type: GodpackAdded, Severity: SeverityInfo, Message: "gp 1 discovered"})

	for _, sub := range []Subscriber{sub1, sub2} {
		select {
		case ev := <-sub:
			assert.Equal(t, GodpackAdded, ev.Type)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroker(nil)
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	b.Publish(&Event{Type: UserAdded})

	_, ok := <-sub
	assert.False(t, ok, "channel should be closed after unsubscribe")
}

func TestBrokerDropsOldestWhenSubscriberBufferFull(t *testing.T) {
	var dropped []*Event
	b := NewBroker(func(sub Subscriber, ev *Event) {
		dropped = append(dropped, ev)
	})

	sub := make(Subscriber, 2)
	b.mu.Lock()
	b.subscribers[sub] = true
	b.mu.Unlock()

	first := &Event{Type: UserAdded, Message: "first"}
	second := &Event{Type: UserAdded, Message: "second"}
	third := &Event{Type: UserAdded, Message: "third"}

	b.broadcast(first)
	b.broadcast(second)
	b.broadcast(third)

	require.Len(t, dropped, 1)
	assert.Equal(t, "first", dropped[0].Message)

	remaining := []*Event{<-sub, <-sub}
	assert.Equal(t, "second", remaining[0].Message)
	assert.Equal(t, "third", remaining[1].Message)
}

func TestBrokerPublishDoesNotBlockAfterStop(t *testing.T) {
	b := NewBroker(nil)
	b.Start()
	b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: DatabaseShutdown})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked after broker stopped")
	}
}
