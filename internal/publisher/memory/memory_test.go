package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adyam/logistics-tracker/internal/publisher"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "shipments.delivered",
		publisher.DeliveredEvent{AWB: "886520976940", Provider: "FedEx"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)

	id2, err := pub.Publish(context.Background(), "shipments.delivered",
		publisher.DeliveredEvent{AWB: "99195357", Provider: "DHL"})
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "shipments.delivered", msgs[0].Topic)

	// Messages must hand back a copy, not the live slice.
	msgs[0].Topic = "modified"
	require.NotEqual(t, "modified", pub.Messages()[0].Topic)
}
