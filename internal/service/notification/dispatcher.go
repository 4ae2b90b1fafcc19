package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// AggregateType — тип агрегата уведомлений в outbox.
const AggregateType = "notification"

var notificationsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "marketplace_notifications_enqueued_total",
	Help: "Total number of notifications written to the outbox grouped by event and result.",
}, []string{"event", "result"})

// Option настраивает Dispatcher.
type Option func(*Dispatcher)

// WithLogger задаёт logger диспетчера.
func WithLogger(logger *log.Entry) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// Dispatcher записывает уведомления в outbox; доставку выполняет outbox worker.
type Dispatcher struct {
	outbox domain.OutboxRepository
	logger *log.Entry
	now    func() time.Time
}

// NewDispatcher создаёт диспетчер поверх outbox.
func NewDispatcher(outbox domain.OutboxRepository, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		outbox: outbox,
		logger: log.WithField("component", "notification-dispatcher"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Notify ставит уведомление в очередь.
func (d *Dispatcher) Notify(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		notificationsEnqueued.WithLabelValues(string(n.Event), "error").Inc()
		return fmt.Errorf("encode notification: %w", err)
	}

	if _, err := d.outbox.Enqueue(ctx, domain.OutboxMessage{
		ID:            n.ID,
		AggregateType: AggregateType,
		AggregateID:   n.AggregateID(),
		EventType:     string(n.Event),
		Payload:       payload,
	}); err != nil {
		notificationsEnqueued.WithLabelValues(string(n.Event), "error").Inc()
		return fmt.Errorf("enqueue notification %s: %w", n.Event, err)
	}

	notificationsEnqueued.WithLabelValues(string(n.Event), "ok").Inc()
	d.logger.WithFields(log.Fields{
		"event":        n.Event,
		"recipient":    n.Recipient.ID,
		"order_id":     n.OrderID,
		"notification": n.ID,
	}).Debug("notification enqueued")
	return nil
}

// Decode разбирает полезную нагрузку outbox-сообщения уведомления.
func Decode(payload []byte) (domain.Notification, error) {
	var n domain.Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Notification{}, fmt.Errorf("decode notification: %w", err)
	}
	if n.Event == "" {
		return domain.Notification{}, fmt.Errorf("decode notification: event is empty")
	}
	return n, nil
}

var _ domain.Notifier = (*Dispatcher)(nil)
