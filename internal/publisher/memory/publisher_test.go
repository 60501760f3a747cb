package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherRecordsByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	ctx := context.Background()
	id1, err := pub.Publish(ctx, "orders", map[string]string{"record_id": "111"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(ctx, "audit", "payload")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	require.Len(t, pub.Messages(""), 2)
	orders := pub.Messages("orders")
	require.Len(t, orders, 1)
	require.Equal(t, map[string]string{"record_id": "111"}, orders[0].Payload)

	orders[0].Topic = "modified"
	require.Equal(t, "orders", pub.Messages("orders")[0].Topic)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("unavailable"))
	_, err := pub.Publish(context.Background(), "orders", "x")
	require.ErrorContains(t, err, "unavailable")
	require.Empty(t, pub.Messages(""))

	pub.FailWith(nil)
	_, err = pub.Publish(context.Background(), "orders", "x")
	require.NoError(t, err)
}
