package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
)

func TestDispatcher_NotifyWritesOutbox(t *testing.T) {
	outbox := memory.NewOutboxRepository()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	d := NewDispatcher(outbox, WithClock(func() time.Time { return fixed }))

	err := d.Notify(context.Background(), domain.Notification{
		Event:     domain.NotificationStockLow,
		Recipient: domain.Recipient{Role: domain.RecipientVendor, ID: "vendor-1", Email: "v@example.com"},
		Data:      map[string]any{"product_id": "p-1", "stock": 1},
	})
	require.NoError(t, err)

	pending := outbox.Pending()
	require.Len(t, pending, 1)
	msg := pending[0]
	assert.Equal(t, AggregateType, msg.AggregateType)
	assert.Equal(t, "vendor-1", msg.AggregateID, "without order the recipient is the partition key")
	assert.Equal(t, "stock.low", msg.EventType)

	decoded, err := Decode(msg.Payload)
	require.NoError(t, err)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, fixed, decoded.CreatedAt)
	assert.Equal(t, "p-1", decoded.Data["product_id"])
}

type failingOutbox struct {
	domain.OutboxRepository
}

func (failingOutbox) Enqueue(context.Context, domain.OutboxMessage) (domain.OutboxMessage, error) {
	return domain.OutboxMessage{}, errors.New("db down")
}

func TestDispatcher_NotifyReturnsEnqueueError(t *testing.T) {
	d := NewDispatcher(failingOutbox{})
	err := d.Notify(context.Background(), domain.Notification{Event: domain.NotificationNewOrder, OrderID: "o-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "order.new")
}

func TestDecode_RejectsEmptyEvent(t *testing.T) {
	_, err := Decode([]byte(`{"id":"n-1"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`not json`))
	require.Error(t, err)
}
