package sse

import (
	"context"
	"testing"
	"time"

	"ms-raffle/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitReachesSubscribers(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := e.Subscribe(ctx)
	b := e.Subscribe(ctx)
	assert.Equal(t, 2, e.ClientCount())

	require.NoError(t, e.PublishAvailability(ctx, models.AvailabilityEvent{Action: models.AvailabilitySold, EntryID: 1}))

	for _, ch := range []<-chan models.AvailabilityEvent{a, b} {
		select {
		case ev := <-ch:
			assert.Equal(t, int64(1), ev.EntryID)
		case <-time.After(time.Second):
			t.Fatal("event not received")
		}
	}
}

func TestSubscriberRemovedOnCancel(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())

	ch := e.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	assert.Equal(t, 0, e.ClientCount())
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e.Subscribe(ctx)

	for i := 0; i < 50; i++ {
		e.Emit(models.AvailabilityEvent{EntryID: int64(i)})
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	e := NewAvailabilityEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := e.Subscribe(ctx)
	e.Close()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, e.ClientCount())

	// the context watcher must not close the channel a second time
	cancel()
	time.Sleep(10 * time.Millisecond)
}
