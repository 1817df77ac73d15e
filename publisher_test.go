package flowline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPublisher_DeliversToSubscriber(t *testing.T) {
	publisher := NewMemoryPublisher()

	events, cancel := publisher.Subscribe(1)
	defer cancel()

	err := publisher.Publish(context.Background(), "http", StatusEvent{
		ExecutionID: 1,
		NodeID:      "a",
		Status:      NodeStatusLoading,
	})
	require.NoError(t, err)

	event := <-events
	assert.Equal(t, "a", event.NodeID)
	assert.Equal(t, NodeStatusLoading, event.Status)
}

func TestMemoryPublisher_IsolatesExecutions(t *testing.T) {
	publisher := NewMemoryPublisher()

	events, cancel := publisher.Subscribe(1)
	defer cancel()

	require.NoError(t, publisher.Publish(context.Background(), "http", StatusEvent{
		ExecutionID: 2,
		NodeID:      "other",
		Status:      NodeStatusSuccess,
	}))

	assert.Empty(t, events)
}

func TestMemoryPublisher_SlowSubscriberDropsNotBlocks(t *testing.T) {
	publisher := NewMemoryPublisher()

	events, cancel := publisher.Subscribe(7)
	defer cancel()

	// Flood far beyond the buffer; Publish must never block.
	for i := 0; i < 200; i++ {
		require.NoError(t, publisher.Publish(context.Background(), "http", StatusEvent{
			ExecutionID: 7,
			NodeID:      "a",
			Status:      NodeStatusLoading,
		}))
	}

	assert.Equal(t, 64, len(events))
}

func TestMemoryPublisher_CancelClosesChannel(t *testing.T) {
	publisher := NewMemoryPublisher()

	events, cancel := publisher.Subscribe(1)
	cancel()

	_, open := <-events
	assert.False(t, open)

	// Publishing after cancel is harmless.
	require.NoError(t, publisher.Publish(context.Background(), "http", StatusEvent{ExecutionID: 1}))
}

func TestNopPublisher(t *testing.T) {
	assert.NoError(t, NewNopPublisher().Publish(context.Background(), "trigger", StatusEvent{}))
}
