package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultSuppressionWindow = time.Hour
	defaultLowStockThreshold = 1
)

var stockNotifications = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "marketplace_stock_notifications_total",
	Help: "Total number of stock notifications grouped by event and result.",
}, []string{"event", "result"})

// Option настраивает Ledger.
type Option func(*Ledger)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithSuppressionWindow задаёт окно, в котором повторные уведомления об остатке не отправляются.
func WithSuppressionWindow(window time.Duration) Option {
	return func(l *Ledger) {
		if window > 0 {
			l.window = window
		}
	}
}

// WithLowStockThreshold задаёт остаток, начиная с которого продавец получает stock.low.
func WithLowStockThreshold(threshold int) Option {
	return func(l *Ledger) {
		if threshold > 0 {
			l.lowThreshold = threshold
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Ledger списывает остатки и предупреждает продавцов о заканчивающемся товаре.
type Ledger struct {
	products     domain.ProductRepository
	notifier     domain.Notifier
	logger       *log.Entry
	window       time.Duration
	lowThreshold int
	now          func() time.Time
}

// NewLedger создаёт складской учёт.
func NewLedger(products domain.ProductRepository, notifier domain.Notifier, opts ...Option) *Ledger {
	l := &Ledger{
		products:     products,
		notifier:     notifier,
		logger:       log.WithField("component", "stock-ledger"),
		window:       defaultSuppressionWindow,
		lowThreshold: defaultLowStockThreshold,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Decrement уменьшает остаток товара с отсечкой на нуле и возвращает новый остаток.
//
// Ошибка уведомления не возвращается: остаток уже списан.
func (l *Ledger) Decrement(ctx context.Context, productID string, qty int) (int, error) {
	if qty <= 0 {
		return 0, domain.ErrItemQtyInvalid
	}

	stock, err := l.products.DecrementStock(ctx, productID, qty)
	if err != nil {
		return 0, fmt.Errorf("decrement stock of %s: %w", productID, err)
	}

	event, ok := l.eventFor(stock)
	if !ok {
		return stock, nil
	}

	claimed, err := l.products.ClaimStockNotification(ctx, productID, l.now(), l.window)
	if err != nil {
		stockNotifications.WithLabelValues(string(event), "error").Inc()
		l.logger.WithError(err).WithField("product_id", productID).Warn("stock notification claim failed")
		return stock, nil
	}
	if !claimed {
		stockNotifications.WithLabelValues(string(event), "suppressed").Inc()
		return stock, nil
	}

	l.notify(ctx, productID, event, stock)
	return stock, nil
}

func (l *Ledger) eventFor(stock int) (domain.NotificationEvent, bool) {
	switch {
	case stock == 0:
		return domain.NotificationStockOut, true
	case stock <= l.lowThreshold:
		return domain.NotificationStockLow, true
	default:
		return "", false
	}
}

func (l *Ledger) notify(ctx context.Context, productID string, event domain.NotificationEvent, stock int) {
	logger := l.logger.WithFields(log.Fields{"product_id": productID, "event": event, "stock": stock})

	product, err := l.products.Get(ctx, productID)
	if err != nil {
		stockNotifications.WithLabelValues(string(event), "error").Inc()
		logger.WithError(err).Warn("stock notification skipped: product lookup failed")
		return
	}

	if l.notifier == nil {
		return
	}
	err = l.notifier.Notify(ctx, domain.Notification{
		Event:     event,
		Recipient: domain.Recipient{Role: domain.RecipientVendor, ID: product.VendorID},
		Data: map[string]any{
			"product_id":   product.ID,
			"product_name": product.Name,
			"stock":        stock,
		},
	})
	if err != nil {
		stockNotifications.WithLabelValues(string(event), "error").Inc()
		logger.WithError(err).Warn("stock notification failed")
		return
	}

	stockNotifications.WithLabelValues(string(event), "sent").Inc()
	logger.Info("stock notification sent")
}
