package kafka

import (
	"testing"

	"github.com/selvaterra/checkout/internal/orders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope("shop-api", orders.EventOrderPending, "order-1", orders.OrderPendingPayload{
		OrderID: "order-1", Total: 90000, Currency: "CLP", Items: 2,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, "order-1", env.CorrelationID)

	raw, err := Marshal(env)
	require.NoError(t, err)
	decoded, err := UnmarshalEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env.EventID, decoded.EventID)
	assert.Equal(t, orders.EventOrderPending, decoded.EventType)

	p, err := UnwrapPayload[orders.OrderPendingPayload](decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, int64(90000), p.Total)
	assert.Equal(t, 2, p.Items)
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	_, err := UnmarshalEnvelope([]byte("not json"))
	assert.Error(t, err)

	_, err = UnwrapPayload[orders.UserRegisteredPayload]([]byte(`[1,2]`))
	assert.Error(t, err)
}
