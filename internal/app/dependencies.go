package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/service/fulfillment"
	"github.com/vladislavdragonenkov/marketplace/internal/service/gateway"
	"github.com/vladislavdragonenkov/marketplace/internal/service/idempotency"
	"github.com/vladislavdragonenkov/marketplace/internal/service/notification"
	"github.com/vladislavdragonenkov/marketplace/internal/service/outbox"
	"github.com/vladislavdragonenkov/marketplace/internal/service/payout"
	"github.com/vladislavdragonenkov/marketplace/internal/service/reconciliation"
	"github.com/vladislavdragonenkov/marketplace/internal/service/stock"
)

// Dependencies содержит сервисы и фоновые воркеры приложения.
type Dependencies struct {
	Fulfillment    *fulfillment.Service
	Payouts        *payout.Service
	Reconciliation *reconciliation.Job

	PayoutRetry      *payout.RetryWorker
	Outbox           *outbox.Worker
	IdempotencyClean *idempotency.CleanupWorker
}

// NewDependencies собирает сервисы поверх хранилищ, блокировки и доставки outbox.
func NewDependencies(cfg config.Config, repos *repositories, locker domain.Locker, publisher, dlq domain.OutboxPublisher, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	mode, err := gateway.ParseMode(cfg.Gateway.Mode)
	if err != nil {
		return nil, err
	}
	if mode != gateway.ModeSimulated && cfg.Gateway.Token == "" {
		logger.WithField("mode", mode).Warn("gateway token is empty, payouts will be simulated")
	}
	client := gateway.NewClient(gateway.Config{
		Mode:             mode,
		BaseURL:          cfg.Gateway.BaseURL,
		Token:            cfg.Gateway.Token,
		CountryCode:      cfg.Gateway.CountryCode,
		SandboxMaxAmount: cfg.Gateway.SandboxMaxAmount,
		Timeout:          cfg.Gateway.Timeout,
		RetryCount:       cfg.Gateway.RetryCount,
		RetryWait:        cfg.Gateway.RetryWait,
		RetryMaxWait:     cfg.Gateway.RetryMaxWait,
	}, gateway.WithLogger(logger.WithField("component", "gateway")))

	// Уведомления пишутся в outbox и доставляются воркером.
	notifier := notification.NewDispatcher(repos.Outbox,
		notification.WithLogger(logger.WithField("component", "notifications")))

	ledger := stock.NewLedger(repos.Products, notifier,
		stock.WithLogger(logger.WithField("component", "stock")),
		stock.WithSuppressionWindow(cfg.Stock.SuppressionWindow),
		stock.WithLowStockThreshold(cfg.Stock.LowThreshold),
	)

	payouts := payout.NewService(repos.Payouts, repos.Vendors, gateway.NewDefaultRegistry(client), notifier,
		payout.WithLogger(logger.WithField("component", "payout")),
		payout.WithDisburseTimeout(cfg.Payout.DisburseTimeout),
	)

	orders := fulfillment.NewService(fulfillment.Dependencies{
		Orders:   repos.Orders,
		Products: repos.Products,
		Vendors:  repos.Vendors,
		Timeline: repos.Timeline,
		Stock:    ledger,
		Payouts:  payouts,
		Notifier: notifier,
	}, fulfillment.WithLogger(logger.WithField("component", "fulfillment")))

	job := reconciliation.NewJob(repos.Orders, repos.Refunds, repos.Timeline, locker, notifier,
		reconciliation.WithLogger(logger.WithField("component", "refund-sweep")),
		reconciliation.WithInterval(cfg.Reconciliation.Interval),
		reconciliation.WithStaleAfter(cfg.Reconciliation.StaleAfter),
		reconciliation.WithThrottle(cfg.Reconciliation.Throttle),
		reconciliation.WithBatchSize(cfg.Reconciliation.BatchSize),
		reconciliation.WithLease(cfg.Reconciliation.Lease),
	)

	return &Dependencies{
		Fulfillment:    orders,
		Payouts:        payouts,
		Reconciliation: job,
		PayoutRetry: payout.NewRetryWorker(payouts,
			payout.WithRetryLogger(logger.WithField("component", "payout-retry")),
			payout.WithRetryInterval(cfg.Payout.RetryInterval),
			payout.WithMaxAttempts(cfg.Payout.RetryMaxAttempts),
			payout.WithBaseDelay(cfg.Payout.RetryBaseDelay),
		),
		Outbox: outbox.NewWorker(repos.Outbox, publisher,
			outbox.WithLogger(logger.WithField("component", "outbox")),
			outbox.WithDLQPublisher(dlq),
			outbox.WithPollInterval(cfg.Outbox.PollInterval),
			outbox.WithBatchSize(cfg.Outbox.BatchSize),
			outbox.WithMaxAttempts(cfg.Outbox.MaxAttempts),
			outbox.WithRetryBaseDelay(cfg.Outbox.RetryDelay),
		),
		IdempotencyClean: idempotency.NewCleanupWorker(repos.Idempotency,
			idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
			idempotency.WithInterval(cfg.Idempotency.CleanupInterval),
			idempotency.WithBatchSize(cfg.Idempotency.CleanupBatchSize),
		),
	}, nil
}
