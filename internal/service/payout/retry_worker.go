package payout

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	defaultRetryInterval    = 5 * time.Minute
	defaultRetryMaxAttempts = 5
	defaultRetryBaseDelay   = time.Minute
	defaultRetryBatchSize   = 50
	maxRetryDelay           = 24 * time.Hour
)

// RetryOption настраивает RetryWorker.
type RetryOption func(*RetryWorker)

// WithRetryLogger задаёт logger воркера.
func WithRetryLogger(logger *log.Entry) RetryOption {
	return func(w *RetryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRetryInterval задаёт период опроса failed-выплат.
func WithRetryInterval(interval time.Duration) RetryOption {
	return func(w *RetryWorker) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithMaxAttempts задаёт число попыток, после которого выплата остаётся failed.
func WithMaxAttempts(attempts int) RetryOption {
	return func(w *RetryWorker) {
		if attempts > 0 {
			w.maxAttempts = attempts
		}
	}
}

// WithBaseDelay задаёт базовую задержку экспоненциального backoff.
func WithBaseDelay(delay time.Duration) RetryOption {
	return func(w *RetryWorker) {
		if delay >= 0 {
			w.baseDelay = delay
		}
	}
}

// WithRetryBatchSize ограничивает число выплат за один цикл.
func WithRetryBatchSize(size int) RetryOption {
	return func(w *RetryWorker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

// WithRetryClock подменяет источник времени.
func WithRetryClock(now func() time.Time) RetryOption {
	return func(w *RetryWorker) {
		if now != nil {
			w.now = now
		}
	}
}

// RetryWorker повторяет неуспешные выплаты и сверяет их статус.
type RetryWorker struct {
	service     *Service
	logger      *log.Entry
	interval    time.Duration
	maxAttempts int
	baseDelay   time.Duration
	batchSize   int
	now         func() time.Time
}

// NewRetryWorker создаёт воркер повторных выплат.
func NewRetryWorker(service *Service, opts ...RetryOption) *RetryWorker {
	w := &RetryWorker{
		service:     service,
		logger:      log.WithField("component", "payout-retry-worker"),
		interval:    defaultRetryInterval,
		maxAttempts: defaultRetryMaxAttempts,
		baseDelay:   defaultRetryBaseDelay,
		batchSize:   defaultRetryBatchSize,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run периодически запускает ProcessOnce до отмены ctx.
func (w *RetryWorker) Run(ctx context.Context) {
	if w.service == nil {
		w.logger.Warn("payout retry worker is disabled: service is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce повторяет failed-выплаты, для которых истёк backoff. Возвращает число завершённых.
func (w *RetryWorker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}

	candidates, err := w.service.payouts.ListRetryable(ctx, w.maxAttempts, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to list retryable payouts")
		return 0
	}

	now := w.now()
	completed := 0
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		if now.Before(candidate.UpdatedAt.Add(w.backoff(candidate.Attempts))) {
			continue
		}
		if w.retry(ctx, candidate) {
			completed++
		}
	}
	return completed
}

func (w *RetryWorker) retry(ctx context.Context, candidate domain.Payout) bool {
	logger := w.logger.WithFields(log.Fields{
		"payout_id": candidate.ID,
		"attempts":  candidate.Attempts,
	})

	// Выплата без реквизитов ждёт, пока продавец настроит кошелёк; попытка не тратится.
	var dest domain.PayoutDestination
	if candidate.Phone == "" {
		vendor, err := w.service.vendors.Get(ctx, candidate.VendorID)
		if err != nil {
			logger.WithError(err).Warn("payout retry skipped: vendor lookup failed")
			return false
		}
		dest, err = vendor.ResolveDestination(candidate.Operator)
		if err == nil {
			_, err = w.service.carriers.Carrier(dest.Operator)
		}
		if err != nil {
			logger.WithError(err).Debug("payout retry skipped: destination is still not configured")
			return false
		}
	}

	payout, err := w.service.payouts.ClaimForRetry(ctx, candidate.ID)
	if errors.Is(err, domain.ErrPayoutAlreadyExists) {
		// Другой экземпляр уже взял выплату.
		return false
	}
	if err != nil {
		logger.WithError(err).Warn("failed to claim payout for retry")
		return false
	}

	vendor, err := w.service.vendors.Get(ctx, payout.VendorID)
	if err != nil {
		logger.WithError(err).Warn("payout retry aborted: vendor lookup failed")
		if markErr := w.service.payouts.MarkFailed(ctx, payout.ID, err.Error()); markErr != nil {
			logger.WithError(markErr).Error("failed to return payout to failed state")
		}
		return false
	}

	if payout.Phone == "" {
		payout.Operator, payout.Phone = dest.Operator, dest.Phone
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.service.timeout)
	defer cancel()

	result, err := w.service.disburse(ctx, vendor, payout)
	if err != nil {
		logger.WithError(err).Info("payout retry failed")
		return false
	}
	logger.WithField("reference", result.Reference).Info("payout retry completed")
	return result.Status == domain.PayoutStatusCompleted
}

func (w *RetryWorker) backoff(attempts int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempts; i++ {
		if delay >= maxRetryDelay/2 {
			return maxRetryDelay
		}
		delay *= 2
	}
	return delay
}
