package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeMediaReceived, 4)

	e := NewMediaReceivedEvent("anirss", 7, "Frieren")
	require.NoError(t, bus.Publish(context.Background(), e))

	select {
	case got := <-ch:
		assert.Equal(t, EventTypeMediaReceived, got.EventType())
		assert.Equal(t, "anirss", got.EntityType())
		assert.Equal(t, int64(7), got.EntityID())
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Close()

	all := bus.SubscribeAll(4)

	require.NoError(t, bus.Publish(context.Background(), NewMediaReceivedEvent("emby", 1, "x")))
	require.NoError(t, bus.Publish(context.Background(), NewPushSentEvent("emby", 1, "x", false)))

	types := []string{(<-all).EventType(), (<-all).EventType()}
	assert.Equal(t, []string{EventTypeMediaReceived, EventTypePushSent}, types)
}

func TestBusTypeFiltering(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Close()

	sent := bus.Subscribe(EventTypePushSent, 4)
	require.NoError(t, bus.Publish(context.Background(), NewMediaReceivedEvent("anirss", 1, "x")))

	select {
	case e := <-sent:
		t.Fatalf("unexpected event: %v", e.EventType())
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBusFullChannelDropsNotBlocks(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeMediaReceived, 1)
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, NewMediaReceivedEvent("anirss", 1, "a")))

	done := make(chan struct{})
	go func() {
		// Buffer is full; must not block.
		_ = bus.Publish(ctx, NewMediaReceivedEvent("anirss", 2, "b"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on full subscriber")
	}

	got := <-ch
	assert.Equal(t, int64(1), got.EntityID())
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus(nil, nil)
	defer bus.Close()

	ch := bus.Subscribe(EventTypeMediaReceived, 1)
	bus.Unsubscribe(ch)

	_, open := <-ch
	assert.False(t, open)

	// Publishing after unsubscribe must not panic.
	require.NoError(t, bus.Publish(context.Background(), NewMediaReceivedEvent("anirss", 1, "x")))
}

func TestBusClose(t *testing.T) {
	bus := NewBus(nil, nil)
	ch := bus.Subscribe(EventTypeMediaReceived, 1)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	_, open := <-ch
	assert.False(t, open)

	require.NoError(t, bus.Publish(context.Background(), NewMediaReceivedEvent("anirss", 1, "x")))
}
