package app

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/marketplace/internal/config"
	"github.com/vladislavdragonenkov/marketplace/internal/domain"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/memory"
	"github.com/vladislavdragonenkov/marketplace/internal/storage/postgres"
)

// repositories — набор хранилищ выбранного драйвера.
type repositories struct {
	Orders      domain.OrderRepository
	Products    domain.ProductRepository
	Vendors     domain.VendorRepository
	Payouts     domain.PayoutRepository
	Refunds     domain.RefundRepository
	Outbox      domain.OutboxRepository
	Timeline    domain.TimelineRepository
	Idempotency domain.IdempotencyRepository

	// Memory заполнен только для драйвера memory: через него идёт seed каталога.
	Memory *memory.Store
	// Ping проверяет базу; nil для memory.
	Ping  func(ctx context.Context) error
	Close func() error
}

func newMemoryRepositories(store *memory.Store) *repositories {
	return &repositories{
		Orders:      memory.NewOrderRepository(store),
		Products:    memory.NewProductRepository(store),
		Vendors:     memory.NewVendorRepository(store),
		Payouts:     memory.NewPayoutRepository(store),
		Refunds:     memory.NewRefundRepository(store),
		Outbox:      memory.NewOutboxRepository(),
		Timeline:    memory.NewTimelineRepository(),
		Idempotency: memory.NewIdempotencyRepository(),
		Memory:      store,
		Close:       func() error { return nil },
	}
}

func newPostgresRepositories(store *postgres.Store) *repositories {
	return &repositories{
		Orders:      postgres.NewOrderRepository(store),
		Products:    postgres.NewProductRepository(store),
		Vendors:     postgres.NewVendorRepository(store),
		Payouts:     postgres.NewPayoutRepository(store),
		Refunds:     postgres.NewRefundRepository(store),
		Outbox:      postgres.NewOutboxRepository(store),
		Timeline:    postgres.NewTimelineRepository(store),
		Idempotency: postgres.NewIdempotencyRepository(store),
		Ping:        store.Ping,
		Close:       store.Close,
	}
}

// openStorage подключает хранилище по storage.driver.
func openStorage(ctx context.Context, cfg config.Config, logger *log.Entry) (*repositories, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory, "":
		logger.Info("using in-memory storage")
		return newMemoryRepositories(memory.NewStore()), nil

	case config.StoragePostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		if cfg.Postgres.AutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}
		logger.Info("using postgres storage")
		return newPostgresRepositories(store), nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
}
