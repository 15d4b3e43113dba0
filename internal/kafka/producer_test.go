package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/selvaterra/checkout/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishEventQueuesEnvelope(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "shop-api", 4, zerolog.Nop())

	err := p.PublishEvent(context.Background(), orders.TopicOrderPending, orders.EventOrderPending, "order-1",
		orders.OrderPendingPayload{OrderID: "order-1", Total: 90000, Currency: "CLP", Items: 1})
	require.NoError(t, err)

	m := <-p.inbox
	assert.Equal(t, orders.TopicOrderPending, m.Topic)
	assert.Equal(t, "order-1", string(m.Key))
	require.Len(t, m.Headers, 2)
	assert.Equal(t, "x-event-type", m.Headers[0].Key)
	assert.Equal(t, orders.EventOrderPending, string(m.Headers[0].Value))

	env, err := UnmarshalEnvelope(m.Value)
	require.NoError(t, err)
	assert.Equal(t, "shop-api", env.Producer)
	assert.Equal(t, "order-1", env.CorrelationID)
}

func TestPublishEventGivesUpWhenQueueStaysFull(t *testing.T) {
	// never started, so nothing drains the queue
	p := NewProducer([]string{"127.0.0.1:1"}, "shop-api", 1, zerolog.Nop())
	payload := orders.OrderPendingPayload{OrderID: "order-1"}
	require.NoError(t, p.PublishEvent(context.Background(), orders.TopicOrderPending, orders.EventOrderPending, "order-1", payload))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := p.PublishEvent(ctx, orders.TopicOrderPending, orders.EventOrderPending, "order-2", payload)

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, p.inbox, 1)
}

func TestPublishEventWithRoomIgnoresDoneContext(t *testing.T) {
	p := NewProducer([]string{"127.0.0.1:1"}, "shop-api", 1, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.PublishEvent(ctx, orders.TopicOrderPaid, orders.EventOrderPaid, "order-1", orders.OrderPaidPayload{OrderID: "order-1"})
	require.NoError(t, err)
	assert.Len(t, p.inbox, 1)
}
