package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDispatcherContinuesAfterHandlerError(t *testing.T) {
	d := NewInMemoryDispatcher(nil)
	var calls int
	d.Subscribe(EventTokenCalled, func(context.Context, Event) error {
		calls++
		return errors.New("boom")
	})
	d.Subscribe(EventTokenCalled, func(context.Context, Event) error {
		calls++
		return nil
	})
	d.Subscribe(EventTokenCompleted, func(context.Context, Event) error {
		t.Fatal("unexpected handler")
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenCalled}))
	assert.Equal(t, 2, calls)
}

func TestAsyncDispatcherDeliversAndDrains(t *testing.T) {
	d := NewAsyncDispatcher(AsyncOptions{BufferSize: 16}, nil)
	var mu sync.Mutex
	var got []string
	d.Subscribe(EventAppointmentBooked, func(_ context.Context, e Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.EntityID)
		return nil
	})

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, d.Publish(context.Background(), Event{Type: EventAppointmentBooked, EntityID: id}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestAsyncDispatcherDropsWhenFull(t *testing.T) {
	var dropped atomic.Int32
	d := NewAsyncDispatcher(AsyncOptions{BufferSize: 1, OnDrop: func(Event) { dropped.Add(1) }}, nil)
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Subscribe(EventTokenCalled, func(context.Context, Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	})

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenCalled}))
	<-started
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenCalled}))
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenCalled}))

	assert.Equal(t, int32(1), dropped.Load())
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))

	require.NoError(t, d.Publish(context.Background(), Event{Type: EventTokenCalled}))
	assert.Equal(t, int32(2), dropped.Load())
}

func TestAsyncDispatcherAppliesHandlerTimeout(t *testing.T) {
	d := NewAsyncDispatcher(AsyncOptions{HandlerTimeout: 20 * time.Millisecond}, nil)
	errCh := make(chan error, 1)
	d.Subscribe(EventAppointmentReminder, func(ctx context.Context, _ Event) error {
		<-ctx.Done()
		errCh <- ctx.Err()
		return ctx.Err()
	})
	require.NoError(t, d.Publish(context.Background(), Event{Type: EventAppointmentReminder}))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("handler was not cancelled")
	}
	require.NoError(t, d.Close(context.Background()))
}
