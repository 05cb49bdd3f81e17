package realtime

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_PublishSubscribe(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	ev := NewEvent(TypeTransfer, "t1", "alice")
	ev.Payload.ToUser = "bob"
	require.NoError(t, hub.Publish(context.Background(), ev))

	got := receive(t, ch)
	assert.Equal(t, EventTaskChanged, got.Event)
	assert.Equal(t, "bob", got.Payload.ToUser)

	cancel()
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, err := hub.Subscribe(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			_ = hub.Publish(context.Background(), NewEvent(TypeUpdate, "t", ""))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestRedisChannel_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rc := NewRedisChannel(client, "", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := rc.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, rc.Publish(context.Background(), NewEvent(TypeUnassign, "t9", "bob")))

	got := receive(t, ch)
	assert.Equal(t, TypeUnassign, got.Payload.Type)
	assert.Equal(t, "t9", got.Payload.TaskID)
}

func TestSSE_HubToClient(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := NewSSEClient(srv.URL, nil).Subscribe(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), NewEvent(TypeUpdate, "t3", "carol")))

	got := receive(t, ch)
	assert.Equal(t, "t3", got.Payload.TaskID)
	assert.Equal(t, "carol", got.Payload.Actor)
}
