package outbox

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// LogPublisher пишет сообщения в лог. Используется, когда брокеры не настроены.
type LogPublisher struct {
	logger *log.Entry
}

// NewLogPublisher создаёт паблишер-заглушку.
func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "outbox-log-publisher")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.logger.WithFields(log.Fields{
		"outbox_id":    msg.ID,
		"event_type":   msg.EventType,
		"aggregate_id": msg.AggregateID,
		"payload":      string(msg.Payload),
	}).Info("outbox message published")
	return nil
}

var _ domain.OutboxPublisher = (*LogPublisher)(nil)
