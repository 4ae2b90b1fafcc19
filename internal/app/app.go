package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/marketplace/internal/health"
	"github.com/vladislavdragonenkov/marketplace/internal/lock"
	"github.com/vladislavdragonenkov/marketplace/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/marketplace/internal/metrics"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/tracing"
	"github.com/vladislavdragonenkov/marketplace/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/marketplace/internal/version"
)

// App — собранный сервис маркетплейса: HTTP API и фоновые воркеры.
type App struct {
	cfg    config.Config
	logger *log.Entry

	repos    *repositories
	deps     *Dependencies
	producer *kafka.Producer
	redis    *redis.Client
	handler  http.Handler

	shutdownTracing tracing.Shutdown
}

// New подключает хранилище, блокировки, Kafka и собирает сервисы.
// Недоступная Kafka не мешает старту: уведомления уходят в лог.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := log.WithField("component", "app")

	shutdownTracing, err := tracing.Setup(ctx, tracing.Config{
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version.GetVersion(),
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger, shutdownTracing: shutdownTracing}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	repos, err := openStorage(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	a.repos = repos

	if a.cfg.Storage.SeedFile != "" {
		if repos.Memory == nil {
			a.logger.Warn("storage.seed_file is ignored for postgres storage")
		} else {
			seed, err := loadSeed(a.cfg.Storage.SeedFile)
			if err != nil {
				return err
			}
			seed.apply(repos.Memory)
			a.logger.WithFields(log.Fields{
				"vendors":  len(seed.Vendors),
				"products": len(seed.Products),
			}).Info("catalog seeded")
		}
	}

	locker, err := a.initLocker(ctx)
	if err != nil {
		return err
	}

	// Ошибка Kafka не фатальна: producer остаётся nil.
	a.producer, _ = initKafkaProducer(a.cfg.Kafka.Brokers, a.logger)
	publisher, dlq := createPublishers(a.producer, a.cfg.Kafka, a.logger)

	deps, err := NewDependencies(a.cfg, repos, locker, publisher, dlq, a.logger)
	if err != nil {
		return err
	}
	a.deps = deps

	opts := []httpapi.Option{
		httpapi.WithLogger(log.WithField("component", "http")),
		httpapi.WithMetrics(metrics.NewHTTP(nil)),
		httpapi.WithIdempotencyTTL(a.cfg.Idempotency.TTL),
	}
	if a.cfg.Tracing.Endpoint != "" {
		opts = append(opts, httpapi.WithTracing(a.cfg.Tracing.ServiceName))
	}
	a.handler = httpapi.NewRouter(httpapi.Services{
		Orders:      deps.Fulfillment,
		Refunds:     deps.Reconciliation,
		Payouts:     deps.Payouts,
		Idempotency: repos.Idempotency,
		Health:      a.healthHandler(),
	}, opts...)
	return nil
}

// initLocker выбирает Redis, если задан адрес, иначе блокировку внутри процесса.
func (a *App) initLocker(ctx context.Context) (domain.Locker, error) {
	if a.cfg.Redis.Addr == "" {
		a.logger.Info("redis is not configured, using in-process lock")
		return lock.NewLocalLocker(), nil
	}
	client, err := lock.OpenRedis(ctx, a.cfg.Redis.Addr, a.cfg.Redis.Password)
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.logger.WithField("addr", a.cfg.Redis.Addr).Info("redis lock initialized")
	return lock.NewRedisLocker(client, a.cfg.Redis.KeyPrefix), nil
}

func (a *App) healthHandler() *healthcheck.Handler {
	h := healthcheck.NewHandler(version.GetVersion())
	if a.repos.Ping != nil {
		h.RegisterChecker("postgres", healthcheck.NewPingChecker("postgres", a.repos.Ping))
	}
	if a.redis != nil {
		h.RegisterChecker("redis", healthcheck.NewPingChecker("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
	if a.cfg.KafkaEnabled() {
		producer := a.producer
		h.RegisterChecker("kafka", healthcheck.NewOptionalChecker("kafka", producer.Ping))
	}
	return h
}

// Handler возвращает HTTP-обработчик API.
func (a *App) Handler() http.Handler { return a.handler }

// MemoryStore возвращает in-memory хранилище; nil для postgres.
func (a *App) MemoryStore() *memory.Store { return a.repos.Memory }

// Dependencies возвращает собранные сервисы.
func (a *App) Dependencies() *Dependencies { return a.deps }

// Run запускает воркеры и HTTP-сервер; возвращает ctx.Err() после остановки по сигналу.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}

	workersCtx, stopWorkers := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	a.startWorkers(workersCtx, &wg)

	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", lis.Addr().String()).Info("http server listening")
		errCh <- srv.Serve(lis)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received, stopping http server")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		a.logger.WithError(err).Warn("http shutdown with error")
	}

	// Воркеры останавливаются после HTTP: outbox успевает забрать последние уведомления.
	stopWorkers()
	wg.Wait()
	return runErr
}

func (a *App) startWorkers(ctx context.Context, wg *sync.WaitGroup) {
	runners := map[string]func(context.Context){
		"outbox":              a.deps.Outbox.Run,
		"payout-retry":        a.deps.PayoutRetry.Run,
		"idempotency-cleanup": a.deps.IdempotencyClean.Run,
	}
	if a.cfg.Reconciliation.Enabled {
		runners["refund-sweep"] = a.deps.Reconciliation.Run
	}
	for name, run := range runners {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.logger.WithField("worker", name).Info("worker started")
			run(ctx)
			a.logger.WithField("worker", name).Info("worker stopped")
		}()
	}
}

// Close освобождает ресурсы приложения, которое не запускалось через Run.
func (a *App) Close() { a.close() }

func (a *App) close() {
	closeKafka(a.producer, a.logger)
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if a.repos != nil {
		if err := a.repos.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close storage")
		}
	}
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.WithError(err).Warn("failed to flush traces")
		}
	}
}

// Run собирает приложение по cfg и работает до отмены ctx.
func Run(ctx context.Context, cfg config.Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}
