package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBus_SubscribePublish(t *testing.T) {
	bus := NewEventBus(nil)
	var called bool
	bus.Subscribe("test", func(ctx context.Context, event Event) error {
		called = true
		assert.Equal(t, "test", event.Type())
		assert.Equal(t, "schema-migrator", event.Source())
		return nil
	})
	err := bus.Publish(context.Background(), NewBasicEvent("test", nil))
	assert.NoError(t, err)
	assert.True(t, called)
}

func TestEventBus_PublishWithoutHandlers(t *testing.T) {
	bus := NewEventBus(nil)
	assert.NoError(t, bus.Publish(context.Background(), NewBasicEvent("nobody", nil)))
}

func TestEventBus_HandlersRunInOrder(t *testing.T) {
	bus := NewEventBus(nil)
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		bus.Subscribe("ordered", func(ctx context.Context, event Event) error {
			order = append(order, i)
			return nil
		})
	}
	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent("ordered", nil)))
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestEventBus_RetryThenSucceed(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 2, RetryDelay: time.Millisecond})
	attempts := 0
	bus.Subscribe("flaky", func(ctx context.Context, event Event) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, bus.Publish(context.Background(), NewBasicEvent("flaky", nil)))
	assert.Equal(t, 2, attempts)
}

func TestEventBus_FailureDoesNotStopOtherHandlers(t *testing.T) {
	bus := NewEventBusWithConfig(nil, BusConfig{MaxRetries: 0})
	boom := errors.New("boom")
	var secondCalled bool
	bus.Subscribe("ev", func(ctx context.Context, event Event) error { return boom })
	bus.Subscribe("ev", func(ctx context.Context, event Event) error {
		secondCalled = true
		return nil
	})

	err := bus.Publish(context.Background(), NewBasicEvent("ev", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, secondCalled)
}

func TestEventBus_SubscribeAllAndUnsubscribe(t *testing.T) {
	bus := NewEventBus(nil)
	bus.SubscribeAll(AllEventTypes(), func(ctx context.Context, event Event) error { return nil })
	for _, eventType := range AllEventTypes() {
		assert.Equal(t, 1, bus.GetSubscriberCount(eventType))
	}

	bus.Unsubscribe(EventTypeRunStarted)
	assert.Equal(t, 0, bus.GetSubscriberCount(EventTypeRunStarted))
	assert.NotContains(t, bus.GetEventTypes(), EventTypeRunStarted)
	assert.Contains(t, bus.GetEventTypes(), EventTypeMigrationApplied)
}
