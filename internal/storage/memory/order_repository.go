package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

// orderRepositoryInMemory — in-memory реализация OrderRepository поверх Store.
type orderRepositoryInMemory struct {
	store *Store
}

// NewOrderRepository возвращает in-memory репозиторий заказов для локальной разработки и тестов.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepositoryInMemory{store: store}
}

// Create сохраняет заказ и позиции целиком либо не сохраняет ничего.
func (r *orderRepositoryInMemory) Create(_ context.Context, order domain.Order) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return domain.ErrOrderAlreadyExists
	}

	inserted := make([]string, 0, len(order.Items))
	rollback := func() {
		for _, id := range inserted {
			delete(s.items, id)
		}
		delete(s.itemsByOrder, order.ID)
		delete(s.orders, order.ID)
	}

	header := order
	header.Items = nil
	s.orders[order.ID] = header

	for _, item := range order.Items {
		if s.failItemInsert != nil {
			if err := s.failItemInsert(item); err != nil {
				rollback()
				return fmt.Errorf("insert order item: %w", err)
			}
		}
		if _, exists := s.items[item.ID]; exists {
			rollback()
			return fmt.Errorf("insert order item %s: %w", item.ID, domain.ErrOrderAlreadyExists)
		}
		item.OrderID = order.ID
		s.items[item.ID] = item
		inserted = append(inserted, item.ID)
	}
	s.itemsByOrder[order.ID] = inserted

	return nil
}

// Get возвращает заказ с позициями или ErrOrderNotFound.
func (r *orderRepositoryInMemory) Get(_ context.Context, id string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	order.Items = s.loadItemsLocked(id)
	return order, nil
}

func (r *orderRepositoryInMemory) GetItem(_ context.Context, itemID string) (domain.OrderItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return domain.OrderItem{}, domain.ErrOrderItemNotFound
	}
	return item, nil
}

func (r *orderRepositoryInMemory) ListItems(_ context.Context, orderID string) ([]domain.OrderItem, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.orders[orderID]; !ok {
		return nil, domain.ErrOrderNotFound
	}
	return s.loadItemsLocked(orderID), nil
}

// CompareAndSetItemStatus меняет статус, только если позиция всё ещё в статусе from.
func (r *orderRepositoryInMemory) CompareAndSetItemStatus(_ context.Context, itemID string, from, to domain.OrderStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return domain.ErrOrderItemNotFound
	}
	if item.Status != from {
		return domain.ErrItemStatusConflict
	}
	item.Status = to
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	return nil
}

func (r *orderRepositoryInMemory) UpdateStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = status
	order.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = order
	return nil
}

func (r *orderRepositoryInMemory) CompareAndSetPaymentStatus(_ context.Context, orderID string, from, to domain.PaymentStatus) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if order.PaymentStatus != from {
		return domain.ErrPaymentStatusConflict
	}
	order.PaymentStatus = to
	order.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = order
	return nil
}

// ListStalePaid возвращает самые старые оплаченные заказы, которые продавцы так и не взяли в работу.
func (r *orderRepositoryInMemory) ListStalePaid(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for id, order := range s.orders {
		if order.Status != domain.OrderStatusPending || order.PaymentStatus != domain.PaymentStatusCompleted {
			continue
		}
		if !order.CreatedAt.Before(before) {
			continue
		}
		order.Items = s.loadItemsLocked(id)
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.OrderRepository = (*orderRepositoryInMemory)(nil)
