package memory

import (
	"sync"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// Store — общее in-memory состояние маркетплейса.
//
// Репозитории заказов, выплат, возвратов, товаров и продавцов работают поверх одного
// мьютекса, поэтому операции, затрагивающие несколько таблиц (выплата + баланс,
// возврат + отмена заказа), атомарны так же, как транзакция в PostgreSQL.
type Store struct {
	mu sync.RWMutex

	orders       map[string]domain.Order
	items        map[string]domain.OrderItem
	itemsByOrder map[string][]string

	products map[string]domain.Product
	vendors  map[string]domain.Vendor

	payouts    map[string]domain.Payout
	payoutKeys map[payoutKey]string

	refunds       map[string]domain.Refund
	refundByOrder map[string]string

	// failItemInsert используется тестами для проверки отката заказа.
	failItemInsert func(item domain.OrderItem) error
}

type payoutKey struct {
	itemID string
	target domain.OrderStatus
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		orders:        make(map[string]domain.Order),
		items:         make(map[string]domain.OrderItem),
		itemsByOrder:  make(map[string][]string),
		products:      make(map[string]domain.Product),
		vendors:       make(map[string]domain.Vendor),
		payouts:       make(map[string]domain.Payout),
		payoutKeys:    make(map[payoutKey]string),
		refunds:       make(map[string]domain.Refund),
		refundByOrder: make(map[string]string),
	}
}

// PutProduct добавляет или заменяет товар (каталог ведётся внешней системой).
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	s.products[product.ID] = product
}

// PutVendor добавляет или заменяет продавца.
func (s *Store) PutVendor(vendor domain.Vendor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if vendor.CreatedAt.IsZero() {
		vendor.CreatedAt = now
	}
	vendor.UpdatedAt = now
	s.vendors[vendor.ID] = vendor
}

// FailItemInsertWith заставляет Create падать на позиции, для которой fn вернёт ошибку.
func (s *Store) FailItemInsertWith(fn func(item domain.OrderItem) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failItemInsert = fn
}

// loadItemsLocked собирает позиции заказа в порядке вставки. Вызывать под s.mu.
func (s *Store) loadItemsLocked(orderID string) []domain.OrderItem {
	ids := s.itemsByOrder[orderID]
	result := make([]domain.OrderItem, 0, len(ids))
	for _, id := range ids {
		result = append(result, s.items[id])
	}
	return result
}
