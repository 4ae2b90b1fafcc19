package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	// SweepLockKey — ключ блокировки, общий для всех реплик.
	SweepLockKey = "refund-sweep"

	defaultInterval   = time.Hour
	defaultStaleAfter = 72 * time.Hour
	defaultThrottle   = time.Second
	defaultBatchSize  = 100
	defaultLease      = 10 * time.Minute

	manualRefundReason = "Manual refund by marketplace administrator"
)

var (
	refundsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_refunds_total",
		Help: "Total number of processed refund candidates grouped by method and outcome.",
	}, []string{"method", "outcome"})
	refundSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_refund_sweeps_total",
		Help: "Total number of refund sweeps grouped by result.",
	}, []string{"result"})
)

// AutomaticRefundReason формирует причину автоматического возврата.
func AutomaticRefundReason(days int) string {
	return fmt.Sprintf("Automatic refund: order not processed by vendor within %d days", days)
}

// Report — итог одного прохода sweep.
type Report struct {
	Selected int                    `json:"selected"`
	Refunded int                    `json:"refunded"`
	Skipped  int                    `json:"skipped"`
	Failed   int                    `json:"failed"`
	Outcomes []domain.RefundOutcome `json:"outcomes"`
}

func (r *Report) add(outcome domain.RefundOutcome) {
	r.Outcomes = append(r.Outcomes, outcome)
	switch outcome.Status {
	case domain.RefundOutcomeRefunded:
		r.Refunded++
	case domain.RefundOutcomeSkipped:
		r.Skipped++
	case domain.RefundOutcomeFailed:
		r.Failed++
	}
}

// Option настраивает Job.
type Option func(*Job)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(j *Job) {
		if logger != nil {
			j.logger = logger
		}
	}
}

// WithInterval задаёт период запуска sweep в Run.
func WithInterval(interval time.Duration) Option {
	return func(j *Job) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

// WithStaleAfter задаёт возраст, после которого необработанный заказ возвращается.
func WithStaleAfter(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.staleAfter = d
		}
	}
}

// WithThrottle задаёт паузу между обработанными заказами.
func WithThrottle(d time.Duration) Option {
	return func(j *Job) {
		if d >= 0 {
			j.throttle = d
		}
	}
}

// WithBatchSize ограничивает число заказов за один sweep.
func WithBatchSize(n int) Option {
	return func(j *Job) {
		if n > 0 {
			j.batchSize = n
		}
	}
}

// WithLease задаёт срок аренды возврата и блокировки sweep.
func WithLease(d time.Duration) Option {
	return func(j *Job) {
		if d > 0 {
			j.lease = d
		}
	}
}

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(j *Job) {
		if now != nil {
			j.now = now
		}
	}
}

// Job возвращает деньги за оплаченные заказы, которые продавцы не взяли в работу.
type Job struct {
	orders     domain.OrderRepository
	refunds    domain.RefundRepository
	timeline   domain.TimelineRepository
	locker     domain.Locker
	notifier   domain.Notifier
	logger     *log.Entry
	interval   time.Duration
	staleAfter time.Duration
	throttle   time.Duration
	batchSize  int
	lease      time.Duration
	now        func() time.Time
}

// NewJob создаёт джобу сверки возвратов.
func NewJob(orders domain.OrderRepository, refunds domain.RefundRepository, timeline domain.TimelineRepository, locker domain.Locker, notifier domain.Notifier, opts ...Option) *Job {
	j := &Job{
		orders:     orders,
		refunds:    refunds,
		timeline:   timeline,
		locker:     locker,
		notifier:   notifier,
		logger:     log.WithField("component", "refund-reconciliation"),
		interval:   defaultInterval,
		staleAfter: defaultStaleAfter,
		throttle:   defaultThrottle,
		batchSize:  defaultBatchSize,
		lease:      defaultLease,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run запускает sweep по таймеру до отмены ctx.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Job) runOnce(ctx context.Context) {
	report, err := j.Sweep(ctx, j.now())
	switch {
	case errors.Is(err, domain.ErrLockNotAcquired):
		j.logger.Info("refund sweep skipped: another sweep is running")
	case err != nil:
		j.logger.WithError(err).Warn("refund sweep failed")
	case report.Selected > 0:
		j.logger.WithFields(log.Fields{
			"selected": report.Selected,
			"refunded": report.Refunded,
			"skipped":  report.Skipped,
			"failed":   report.Failed,
		}).Info("refund sweep finished")
	}
}

// Sweep находит просроченные оплаченные заказы и возвращает по ним деньги.
//
// Ошибка по одному заказу не прерывает обход: она попадает в отчёт как failed.
// Если sweep уже идёт на другой реплике, возвращается domain.ErrLockNotAcquired.
func (j *Job) Sweep(ctx context.Context, now time.Time) (Report, error) {
	if j.locker != nil {
		release, err := j.locker.TryLock(ctx, SweepLockKey, j.lease)
		if err != nil {
			refundSweeps.WithLabelValues("locked").Inc()
			return Report{}, err
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				j.logger.WithError(err).Warn("failed to release refund sweep lock")
			}
		}()
	}

	candidates, err := j.orders.ListStalePaid(ctx, now.Add(-j.staleAfter), j.batchSize)
	if err != nil {
		refundSweeps.WithLabelValues("error").Inc()
		return Report{}, fmt.Errorf("select stale orders: %w", err)
	}

	report := Report{Selected: len(candidates), Outcomes: make([]domain.RefundOutcome, 0, len(candidates))}
	for i, order := range candidates {
		if i > 0 && j.throttle > 0 {
			select {
			case <-ctx.Done():
				refundSweeps.WithLabelValues("cancelled").Inc()
				return report, ctx.Err()
			case <-time.After(j.throttle):
			}
		}

		days := order.ElapsedDays(now)
		report.add(j.refund(ctx, order, now, domain.RefundMethodAutomatic, AutomaticRefundReason(days)))
	}

	refundSweeps.WithLabelValues("ok").Inc()
	return report, nil
}

// RefundOrder возвращает деньги по заказу по решению администратора.
func (j *Job) RefundOrder(ctx context.Context, orderID, reason string) (domain.RefundOutcome, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.RefundOutcome{}, domain.ErrOrderIDRequired
	}
	order, err := j.orders.Get(ctx, orderID)
	if err != nil {
		return domain.RefundOutcome{}, err
	}
	if order.PaymentStatus != domain.PaymentStatusCompleted {
		if order.PaymentStatus == domain.PaymentStatusRefunded {
			return domain.RefundOutcome{OrderID: orderID, Status: domain.RefundOutcomeSkipped}, domain.ErrRefundAlreadyExists
		}
		return domain.RefundOutcome{}, domain.ErrPaymentNotCompleted
	}
	if strings.TrimSpace(reason) == "" {
		reason = manualRefundReason
	}

	outcome := j.refund(ctx, order, j.now(), domain.RefundMethodManual, reason)
	switch outcome.Status {
	case domain.RefundOutcomeSkipped:
		return outcome, domain.ErrRefundAlreadyExists
	case domain.RefundOutcomeFailed:
		return outcome, fmt.Errorf("refund order %s: %s", orderID, outcome.Error)
	default:
		return outcome, nil
	}
}

// refund захватывает возврат по заказу и проводит его; ошибки попадают в outcome.
func (j *Job) refund(ctx context.Context, order domain.Order, now time.Time, method domain.RefundMethod, reason string) domain.RefundOutcome {
	outcome := domain.RefundOutcome{
		OrderID:     order.ID,
		AmountMinor: order.TotalMinor,
		DaysElapsed: order.ElapsedDays(now),
	}
	logger := j.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"method":   method,
	})

	refund, err := j.refunds.Claim(ctx, domain.Refund{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		CustomerID:   order.CustomerID,
		AmountMinor:  order.TotalMinor,
		Reason:       reason,
		Method:       method,
		ClaimedUntil: now.Add(j.lease),
	}, now)
	if errors.Is(err, domain.ErrRefundAlreadyExists) {
		refundsTotal.WithLabelValues(string(method), string(domain.RefundOutcomeSkipped)).Inc()
		outcome.RefundID = refund.ID
		outcome.Status = domain.RefundOutcomeSkipped
		return outcome
	}
	if err != nil {
		refundsTotal.WithLabelValues(string(method), string(domain.RefundOutcomeFailed)).Inc()
		logger.WithError(err).Warn("refund claim failed")
		outcome.Status = domain.RefundOutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}
	outcome.RefundID = refund.ID

	if method == domain.RefundMethodAutomatic && !j.stillStale(ctx, order.ID) {
		// Продавец успел взять заказ в работу между выборкой и захватом.
		if err := j.refunds.MarkFailed(ctx, refund.ID, "order is no longer awaiting vendor"); err != nil {
			logger.WithError(err).Warn("failed to release refund claim")
		}
		refundsTotal.WithLabelValues(string(method), string(domain.RefundOutcomeSkipped)).Inc()
		outcome.Status = domain.RefundOutcomeSkipped
		return outcome
	}

	if err := j.refunds.Settle(ctx, refund.ID, now); err != nil {
		refundsTotal.WithLabelValues(string(method), string(domain.RefundOutcomeFailed)).Inc()
		logger.WithError(err).Warn("refund settlement failed")
		if markErr := j.refunds.MarkFailed(ctx, refund.ID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("failed to mark refund as failed")
		}
		outcome.Status = domain.RefundOutcomeFailed
		outcome.Error = err.Error()
		return outcome
	}

	refundsTotal.WithLabelValues(string(method), string(domain.RefundOutcomeRefunded)).Inc()
	outcome.Status = domain.RefundOutcomeRefunded
	logger.WithFields(log.Fields{
		"refund_id":    refund.ID,
		"amount":       order.TotalMinor,
		"days_elapsed": outcome.DaysElapsed,
	}).Info("order refunded")

	if j.timeline != nil {
		if err := j.timeline.Append(ctx, domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineRefunded,
			Actor:    "system",
			Reason:   reason,
			Occurred: now,
		}); err != nil {
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("timeline: %v", err))
		}
	}

	if j.notifier != nil {
		err := j.notifier.Notify(ctx, domain.Notification{
			Event:     domain.NotificationCustomerRefunded,
			Recipient: domain.Recipient{Role: domain.RecipientCustomer, ID: order.CustomerID, Email: order.CustomerEmail},
			OrderID:   order.ID,
			Data: map[string]any{
				"refund_id":    refund.ID,
				"amount_minor": order.TotalMinor,
				"currency":     order.Currency,
				"reason":       reason,
				"days_elapsed": outcome.DaysElapsed,
				"method":       string(method),
			},
		})
		if err != nil {
			logger.WithError(err).Warn("refund notification failed")
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("notification: %v", err))
		}
	}

	return outcome
}

func (j *Job) stillStale(ctx context.Context, orderID string) bool {
	order, err := j.orders.Get(ctx, orderID)
	if err != nil {
		return false
	}
	return order.Status == domain.OrderStatusPending && order.PaymentStatus == domain.PaymentStatusCompleted
}
