package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/marketplace/internal/service/notification"
)

// NewNotificationHandler передаёт уведомления из topic в почтовый сервис.
func NewNotificationHandler(sender notification.Sender) MessageHandler {
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		envelope, err := ParseEnvelope(message)
		if err != nil {
			return err
		}
		if envelope.AggregateType != "" && envelope.AggregateType != notification.AggregateType {
			// Чужие события в topic не относятся к почте.
			return nil
		}

		n, err := notification.Decode(envelope.Payload)
		if err != nil {
			return fmt.Errorf("decode notification %s: %w", envelope.ID, err)
		}
		if err := sender.Send(ctx, n); err != nil {
			return fmt.Errorf("send notification %s: %w", n.ID, err)
		}
		return nil
	}
}
