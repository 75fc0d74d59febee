package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitSyncRunsInOrder(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventPreLogin, "first", func(_ context.Context, e Event) error {
		e.Payload.(*PreLoginPayload).Result = PreLoginForceOffline
		return nil
	})
	bus.Subscribe(EventPreLogin, "second", func(_ context.Context, e Event) error {
		p := e.Payload.(*PreLoginPayload)
		if p.Result == PreLoginForceOffline {
			p.Username += "!"
		}
		return nil
	})

	payload := &PreLoginPayload{Username: "Steve"}
	require.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventPreLogin, Payload: payload}))
	assert.Equal(t, "Steve!", payload.Username)
	assert.Equal(t, 2, bus.HandlerCount(EventPreLogin))
}

func TestEmitSyncDenialStopsChain(t *testing.T) {
	bus := NewEventBus()
	var reached atomic.Bool
	bus.Subscribe(EventLogin, "ban", func(context.Context, Event) error {
		return Deny("You are banned")
	})
	bus.Subscribe(EventLogin, "after", func(context.Context, Event) error {
		reached.Store(true)
		return nil
	})

	err := bus.EmitSync(context.Background(), Event{Type: EventLogin})
	reason, denied := DenialReason(err)
	assert.True(t, denied)
	assert.Equal(t, "You are banned", reason)
	assert.False(t, reached.Load())
}

func TestEmitSyncRecoversPanics(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventLogin, "boom", func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(EventLogin, "fails", func(context.Context, Event) error { return errors.New("nope") })

	err := bus.EmitSync(context.Background(), Event{Type: EventLogin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
	_, denied := DenialReason(err)
	assert.False(t, denied)
}

func TestEmitAsyncAndStop(t *testing.T) {
	bus := NewEventBus()
	var calls atomic.Int32
	bus.Subscribe(EventDisconnect, "count", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventDisconnect})
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	bus.Stop()
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventDisconnect})
	assert.NoError(t, bus.EmitSync(context.Background(), Event{Type: EventDisconnect}))
	assert.Equal(t, int32(1), calls.Load())

	select {
	case <-bus.StopCh():
	default:
		t.Fatal("stop channel still open")
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	bus.Subscribe(EventPostLogin, "a", func(context.Context, Event) error { return nil })
	bus.Unsubscribe(EventPostLogin, "a")
	bus.Unsubscribe(EventShutdown, "missing")
	assert.Zero(t, bus.HandlerCount(EventPostLogin))
}
