package console

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster(4)
	chA, unsubA := b.Subscribe()
	defer unsubA()
	chB, unsubB := b.Subscribe()
	defer unsubB()

	b.Publish(NotificationPayload{Event: "exit", Container: "app:1.0.0"})

	for _, ch := range []<-chan Response{chA, chB} {
		select {
		case resp := <-ch:
			assert.Equal(t, KindNotification, resp.Kind)
		case <-time.After(time.Second):
			t.Fatal("expected notification, got none")
		}
	}
}

func TestBroadcasterDropsOldestOnFullBuffer(t *testing.T) {
	b := NewBroadcaster(1)
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Publish(NotificationPayload{Event: "exit", Container: "a:1.0.0"})
	b.Publish(NotificationPayload{Event: "exit", Container: "b:1.0.0"})

	select {
	case resp := <-ch:
		var payload NotificationPayload
		require.NoError(t, json.Unmarshal(resp.Payload, &payload))
		assert.Equal(t, "b:1.0.0", payload.Container, "oldest notification should have been dropped, not the producer blocked")
	case <-time.After(time.Second):
		t.Fatal("expected a notification")
	}

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "only one notification should remain buffered")
	default:
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroadcaster(1)
	ch, unsub := b.Subscribe()
	unsub()

	_, ok := <-ch
	assert.False(t, ok)
}
