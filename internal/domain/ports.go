package domain

import (
	"context"
	"time"
)

// OrderRepository описывает хранилище заказов и их позиций.
type OrderRepository interface {
	// Create атомарно сохраняет заказ вместе с позициями: ошибка на позиции откатывает заказ.
	Create(ctx context.Context, order Order) error
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id string) (Order, error)
	// GetItem возвращает позицию или ErrOrderItemNotFound.
	GetItem(ctx context.Context, itemID string) (OrderItem, error)
	// ListItems возвращает все позиции заказа.
	ListItems(ctx context.Context, orderID string) ([]OrderItem, error)
	// CompareAndSetItemStatus меняет статус позиции, только если текущий равен from.
	// Иначе возвращает ErrItemStatusConflict.
	CompareAndSetItemStatus(ctx context.Context, itemID string, from, to OrderStatus) error
	// UpdateStatus записывает агрегированный статус заказа.
	UpdateStatus(ctx context.Context, orderID string, status OrderStatus) error
	// CompareAndSetPaymentStatus меняет статус оплаты, только если текущий равен from.
	CompareAndSetPaymentStatus(ctx context.Context, orderID string, from, to PaymentStatus) error
	// ListStalePaid выбирает оплаченные заказы в статусе pending, созданные раньше before.
	ListStalePaid(ctx context.Context, before time.Time, limit int) ([]Order, error)
}

// ProductRepository описывает складской учёт товаров.
type ProductRepository interface {
	Get(ctx context.Context, id string) (Product, error)
	// DecrementStock атомарно уменьшает остаток с отсечкой на нуле и возвращает новый остаток.
	DecrementStock(ctx context.Context, id string, qty int) (int, error)
	// ClaimStockNotification атомарно отмечает отправку уведомления об остатке,
	// если предыдущее было раньше now-window. Возвращает true только победителю.
	ClaimStockNotification(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error)
}

// VendorRepository описывает доступ к продавцам.
type VendorRepository interface {
	Get(ctx context.Context, id string) (Vendor, error)
}

// PayoutRepository хранит выплаты продавцам.
type PayoutRepository interface {
	// Reserve создаёт выплату в статусе pending. Повтор для той же пары
	// (позиция, целевой статус) возвращает существующую запись и ErrPayoutAlreadyExists.
	Reserve(ctx context.Context, payout Payout) (Payout, error)
	// Complete в одной транзакции закрывает выплату и начисляет продавцу баланс и заработок.
	Complete(ctx context.Context, completion PayoutCompletion) error
	// MarkFailed фиксирует неуспешную попытку с текстом ошибки.
	MarkFailed(ctx context.Context, id, notes string) error
	// ClaimForRetry переводит failed-выплату обратно в pending для повторной попытки.
	ClaimForRetry(ctx context.Context, id string) (Payout, error)
	Get(ctx context.Context, id string) (Payout, error)
	ListByVendor(ctx context.Context, vendorID string, limit int) ([]Payout, error)
	// ListRetryable возвращает failed-выплаты с attempts < maxAttempts.
	ListRetryable(ctx context.Context, maxAttempts, limit int) ([]Payout, error)
}

// RefundRepository хранит возвраты покупателям.
type RefundRepository interface {
	// Claim создаёт возврат или перехватывает failed/просроченную аренду.
	// Завершённый или активно арендованный возврат даёт ErrRefundAlreadyExists.
	Claim(ctx context.Context, refund Refund, now time.Time) (Refund, error)
	// Settle в одной транзакции завершает возврат, отменяет заказ с позициями
	// и помечает оплату как возвращённую.
	Settle(ctx context.Context, refundID string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	GetByOrder(ctx context.Context, orderID string) (Refund, error)
}

// Notifier передаёт решение об уведомлении во внешний почтовый сервис.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// Locker выдаёт распределённую блокировку с TTL.
type Locker interface {
	// TryLock возвращает функцию освобождения или ErrLockNotAcquired.
	TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error)
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, httpStatus int) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
