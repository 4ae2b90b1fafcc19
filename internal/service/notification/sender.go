package notification

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Sender — внешний почтовый сервис, который рендерит шаблон и отправляет письмо.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// LogSender пишет уведомления в лог вместо отправки письма.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт отправителя-заглушку.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "mail-sender")
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, n domain.Notification) error {
	s.logger.WithFields(log.Fields{
		"event":          n.Event,
		"recipient_role": n.Recipient.Role,
		"recipient_id":   n.Recipient.ID,
		"email":          n.Recipient.Email,
		"order_id":       n.OrderID,
		"data":           n.Data,
	}).Info("notification delivered")
	return nil
}

// DeliveryRecorder учитывает попытки доставки.
type DeliveryRecorder interface {
	Record(event string, elapsed time.Duration, err error)
}

// InstrumentedSender замеряет каждую отправку вложенного Sender.
type InstrumentedSender struct {
	next     Sender
	recorder DeliveryRecorder
}

// NewInstrumentedSender оборачивает next учётом доставки.
func NewInstrumentedSender(next Sender, recorder DeliveryRecorder) *InstrumentedSender {
	return &InstrumentedSender{next: next, recorder: recorder}
}

func (s *InstrumentedSender) Send(ctx context.Context, n domain.Notification) error {
	started := time.Now()
	err := s.next.Send(ctx, n)
	if s.recorder != nil {
		s.recorder.Record(string(n.Event), time.Since(started), err)
	}
	return err
}
