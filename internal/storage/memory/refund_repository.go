package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type refundRepositoryInMemory struct {
	store *Store
}

// NewRefundRepository создаёт in-memory реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepositoryInMemory{store: store}
}

// Claim создаёт возврат по заказу либо перехватывает failed или просроченную аренду.
func (r *refundRepositoryInMemory) Claim(_ context.Context, refund domain.Refund, now time.Time) (domain.Refund, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.refundByOrder[refund.OrderID]; ok {
		existing := s.refunds[existingID]
		switch {
		case existing.Status == domain.RefundStatusCompleted:
			return existing, domain.ErrRefundAlreadyExists
		case existing.Status == domain.RefundStatusPending && existing.ClaimedUntil.After(now):
			return existing, domain.ErrRefundAlreadyExists
		}

		existing.Status = domain.RefundStatusPending
		existing.ClaimedUntil = refund.ClaimedUntil
		existing.AmountMinor = refund.AmountMinor
		existing.Reason = refund.Reason
		existing.Method = refund.Method
		existing.Error = ""
		existing.UpdatedAt = now
		s.refunds[existing.ID] = existing
		return existing, nil
	}

	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}
	refund.Status = domain.RefundStatusPending
	refund.CreatedAt = now
	refund.UpdatedAt = now
	s.refunds[refund.ID] = refund
	s.refundByOrder[refund.OrderID] = refund.ID
	return refund, nil
}

// Settle завершает возврат и отменяет заказ вместе с позициями под одной блокировкой.
func (r *refundRepositoryInMemory) Settle(_ context.Context, refundID string, at time.Time) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, ok := s.refunds[refundID]
	if !ok {
		return domain.ErrRefundNotFound
	}
	order, ok := s.orders[refund.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}

	refund.Status = domain.RefundStatusCompleted
	refund.ClaimedUntil = time.Time{}
	refund.Error = ""
	refund.UpdatedAt = at
	s.refunds[refundID] = refund

	order.Status = domain.OrderStatusCancelled
	order.PaymentStatus = domain.PaymentStatusRefunded
	order.UpdatedAt = at
	s.orders[order.ID] = order

	for _, itemID := range s.itemsByOrder[order.ID] {
		item := s.items[itemID]
		item.Status = domain.OrderStatusCancelled
		item.UpdatedAt = at
		s.items[itemID] = item
	}
	return nil
}

func (r *refundRepositoryInMemory) MarkFailed(_ context.Context, id, reason string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	refund, ok := s.refunds[id]
	if !ok {
		return domain.ErrRefundNotFound
	}
	refund.Status = domain.RefundStatusFailed
	refund.Error = reason
	refund.ClaimedUntil = time.Time{}
	refund.UpdatedAt = time.Now().UTC()
	s.refunds[id] = refund
	return nil
}

func (r *refundRepositoryInMemory) GetByOrder(_ context.Context, orderID string) (domain.Refund, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.refundByOrder[orderID]
	if !ok {
		return domain.Refund{}, domain.ErrRefundNotFound
	}
	return s.refunds[id], nil
}

var _ domain.RefundRepository = (*refundRepositoryInMemory)(nil)
