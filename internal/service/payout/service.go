package payout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/gateway"
)

const (
	defaultDisburseTimeout = 30 * time.Second
	defaultHistoryLimit    = 50
)

var (
	payoutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_payouts_total",
		Help: "Total number of vendor payout attempts grouped by result.",
	}, []string{"result"})
	payoutAmountMinor = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_payouts_completed_amount_minor_total",
		Help: "Sum of completed vendor payouts in minor currency units.",
	})
	payoutDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "marketplace_payout_duration_seconds",
		Help:    "Duration of a single payout disbursement including storage updates.",
		Buckets: prometheus.DefBuckets,
	})
)

// Carriers выдаёт оператора по коду; реализуется gateway.Registry.
type Carriers interface {
	Carrier(op domain.Operator) (gateway.Carrier, error)
}

// Request описывает выплату продавцу за позицию заказа.
type Request struct {
	OrderID     string
	OrderItemID string
	VendorID    string
	AmountMinor int64
	// Operator — явно выбранный оператор; пустой означает выбор по реквизитам продавца.
	Operator domain.Operator
	// Target — переход позиции, за который платим. По умолчанию processing.
	Target domain.OrderStatus
}

// Option настраивает Service.
type Option func(*Service)

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithDisburseTimeout ограничивает длительность одной выплаты.
func WithDisburseTimeout(timeout time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service переводит продавцам деньги через платёжный шлюз и ведёт их баланс.
type Service struct {
	payouts  domain.PayoutRepository
	vendors  domain.VendorRepository
	carriers Carriers
	notifier domain.Notifier
	logger   *log.Entry
	timeout  time.Duration
	now      func() time.Time
}

// NewService создаёт сервис выплат.
func NewService(payouts domain.PayoutRepository, vendors domain.VendorRepository, carriers Carriers, notifier domain.Notifier, opts ...Option) *Service {
	s := &Service{
		payouts:  payouts,
		vendors:  vendors,
		carriers: carriers,
		notifier: notifier,
		logger:   log.WithField("component", "payout-service"),
		timeout:  defaultDisburseTimeout,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Payout резервирует и выполняет выплату продавцу.
//
// Выплата идёт в контексте, отвязанном от отмены вызывающего: прерванный HTTP-запрос
// не должен оставлять перевод в неизвестном состоянии. Повторный вызов для той же
// позиции возвращает существующую выплату и ErrPayoutAlreadyExists без обращения к шлюзу.
func (s *Service) Payout(ctx context.Context, req Request) (domain.PayoutResult, error) {
	if req.Target == "" {
		req.Target = domain.OrderStatusProcessing
	}
	if req.AmountMinor <= 0 {
		return domain.PayoutResult{Status: domain.PayoutStatusFailed, AmountMinor: req.AmountMinor}, domain.ErrInvalidAmount
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	logger := s.logger.WithFields(log.Fields{
		"order_id":      req.OrderID,
		"order_item_id": req.OrderItemID,
		"vendor_id":     req.VendorID,
	})

	vendor, err := s.vendors.Get(ctx, req.VendorID)
	if err != nil {
		payoutsTotal.WithLabelValues("error").Inc()
		return domain.PayoutResult{Status: domain.PayoutStatusFailed, AmountMinor: req.AmountMinor}, fmt.Errorf("load vendor %s: %w", req.VendorID, err)
	}

	dest, err := vendor.ResolveDestination(req.Operator)
	if err == nil {
		_, err = s.carriers.Carrier(dest.Operator)
	}
	if err != nil {
		return s.reserveUnpayable(ctx, vendor, req, err, logger)
	}

	payout, err := s.payouts.Reserve(ctx, domain.Payout{
		VendorID:     vendor.ID,
		OrderID:      req.OrderID,
		OrderItemID:  req.OrderItemID,
		TargetStatus: req.Target,
		AmountMinor:  req.AmountMinor,
		Operator:     dest.Operator,
		Phone:        dest.Phone,
	})
	if errors.Is(err, domain.ErrPayoutAlreadyExists) {
		payoutsTotal.WithLabelValues("duplicate").Inc()
		logger.WithField("payout_id", payout.ID).Info("payout already reserved for this item transition")
		return resultOf(payout), err
	}
	if err != nil {
		payoutsTotal.WithLabelValues("error").Inc()
		return domain.PayoutResult{Status: domain.PayoutStatusFailed, AmountMinor: req.AmountMinor}, fmt.Errorf("reserve payout: %w", err)
	}

	return s.disburse(ctx, vendor, payout)
}

// reserveUnpayable сохраняет failed-выплату без реквизитов, чтобы RetryWorker
// довёл её до конца, когда продавец настроит кошелёк.
func (s *Service) reserveUnpayable(ctx context.Context, vendor domain.Vendor, req Request, cause error, logger *log.Entry) (domain.PayoutResult, error) {
	payoutsTotal.WithLabelValues("not_configured").Inc()
	logger.WithError(cause).Warn("payout deferred: vendor payout destination is not usable")

	payout, err := s.payouts.Reserve(ctx, domain.Payout{
		VendorID:     vendor.ID,
		OrderID:      req.OrderID,
		OrderItemID:  req.OrderItemID,
		TargetStatus: req.Target,
		AmountMinor:  req.AmountMinor,
		Operator:     req.Operator,
	})
	if errors.Is(err, domain.ErrPayoutAlreadyExists) {
		payoutsTotal.WithLabelValues("duplicate").Inc()
		return resultOf(payout), err
	}
	if err != nil {
		payoutsTotal.WithLabelValues("error").Inc()
		return domain.PayoutResult{Status: domain.PayoutStatusFailed, AmountMinor: req.AmountMinor}, fmt.Errorf("reserve payout: %w", err)
	}

	payout.Status = domain.PayoutStatusFailed
	payout.Notes = cause.Error()
	if err := s.payouts.MarkFailed(ctx, payout.ID, payout.Notes); err != nil {
		logger.WithError(err).Error("failed to mark payout as failed")
	}
	s.notifyFailed(ctx, vendor, payout, "Please configure your mobile money payout details to receive payments.")
	return resultOf(payout), cause
}

// History возвращает последние выплаты продавца.
func (s *Service) History(ctx context.Context, vendorID string, limit int) ([]domain.Payout, error) {
	if _, err := s.vendors.Get(ctx, vendorID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return s.payouts.ListByVendor(ctx, vendorID, limit)
}

// disburse вызывает шлюз для зарезервированной (pending) выплаты и фиксирует результат.
func (s *Service) disburse(ctx context.Context, vendor domain.Vendor, payout domain.Payout) (domain.PayoutResult, error) {
	started := time.Now()
	defer func() { payoutDuration.Observe(time.Since(started).Seconds()) }()

	logger := s.logger.WithFields(log.Fields{
		"payout_id": payout.ID,
		"vendor_id": vendor.ID,
		"operator":  payout.Operator,
	})

	carrier, err := s.carriers.Carrier(payout.Operator)
	if err == nil {
		var res gateway.DisburseResult
		res, err = carrier.Disburse(ctx, gateway.DisburseRequest{
			AmountMinor: payout.AmountMinor,
			Phone:       payout.Phone,
			Reference:   payout.ID,
			Description: fmt.Sprintf("Payout for order %s", payout.OrderID),
		})
		if err == nil {
			return s.complete(ctx, vendor, payout, res, logger)
		}
	}

	payoutsTotal.WithLabelValues("failed").Inc()
	logger.WithError(err).Warn("payout disbursement failed")

	payout.Status = domain.PayoutStatusFailed
	payout.Notes = err.Error()
	if markErr := s.payouts.MarkFailed(ctx, payout.ID, payout.Notes); markErr != nil {
		logger.WithError(markErr).Error("failed to mark payout as failed")
	}
	s.notifyFailed(ctx, vendor, payout, payout.Notes)

	return resultOf(payout), fmt.Errorf("disburse payout %s: %w", payout.ID, err)
}

func (s *Service) complete(ctx context.Context, vendor domain.Vendor, payout domain.Payout, res gateway.DisburseResult, logger *log.Entry) (domain.PayoutResult, error) {
	completedAt := s.now()
	err := s.payouts.Complete(ctx, domain.PayoutCompletion{
		PayoutID:    payout.ID,
		VendorID:    vendor.ID,
		AmountMinor: payout.AmountMinor,
		Reference:   res.Reference,
		Operator:    payout.Operator,
		Phone:       payout.Phone,
		CompletedAt: completedAt,
	})
	if err != nil {
		// Деньги ушли, но запись не закрыта: оставляем pending для ручной сверки.
		payoutsTotal.WithLabelValues("error").Inc()
		logger.WithError(err).WithField("reference", res.Reference).Error("payout disbursed but completion was not stored")
		payout.Reference = res.Reference
		return resultOf(payout), fmt.Errorf("complete payout %s: %w", payout.ID, err)
	}

	payout.Status = domain.PayoutStatusCompleted
	payout.Reference = res.Reference
	payoutsTotal.WithLabelValues("completed").Inc()
	payoutAmountMinor.Add(float64(payout.AmountMinor))
	logger.WithFields(log.Fields{
		"reference": res.Reference,
		"amount":    payout.AmountMinor,
		"simulated": res.Simulated,
	}).Info("payout completed")

	s.notify(ctx, vendor, domain.NotificationPayoutSucceeded, payout, map[string]any{
		"reference": res.Reference,
		"simulated": res.Simulated,
	})

	result := resultOf(payout)
	result.Simulated = res.Simulated
	return result, nil
}

func (s *Service) notifyFailed(ctx context.Context, vendor domain.Vendor, payout domain.Payout, reason string) {
	s.notify(ctx, vendor, domain.NotificationPayoutFailed, payout, map[string]any{"error": reason})
}

func (s *Service) notify(ctx context.Context, vendor domain.Vendor, event domain.NotificationEvent, payout domain.Payout, extra map[string]any) {
	if s.notifier == nil {
		return
	}

	data := map[string]any{
		"order_item_id": payout.OrderItemID,
		"amount_minor":  payout.AmountMinor,
	}
	if payout.ID != "" {
		data["payout_id"] = payout.ID
	}
	if payout.Operator != "" {
		data["operator"] = string(payout.Operator)
	}
	for k, v := range extra {
		data[k] = v
	}

	err := s.notifier.Notify(ctx, domain.Notification{
		Event:     event,
		Recipient: domain.Recipient{Role: domain.RecipientVendor, ID: vendor.ID, Email: vendor.Email},
		OrderID:   payout.OrderID,
		Data:      data,
	})
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"vendor_id": vendor.ID,
			"event":     event,
		}).Warn("payout notification failed")
	}
}

func resultOf(p domain.Payout) domain.PayoutResult {
	return domain.PayoutResult{
		PayoutID:    p.ID,
		Status:      p.Status,
		AmountMinor: p.AmountMinor,
		Operator:    p.Operator,
		Reference:   p.Reference,
		Notes:       p.Notes,
	}
}
