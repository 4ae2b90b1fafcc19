package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type payoutRepositoryInMemory struct {
	store *Store
}

// NewPayoutRepository создаёт in-memory реализацию PayoutRepository.
func NewPayoutRepository(store *Store) domain.PayoutRepository {
	return &payoutRepositoryInMemory{store: store}
}

// Reserve создаёт pending-выплату; ключ (позиция, целевой статус) уникален.
func (r *payoutRepositoryInMemory) Reserve(_ context.Context, payout domain.Payout) (domain.Payout, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	key := payoutKey{itemID: payout.OrderItemID, target: payout.TargetStatus}
	if existingID, ok := s.payoutKeys[key]; ok {
		return s.payouts[existingID], domain.ErrPayoutAlreadyExists
	}

	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payout.Status = domain.PayoutStatusPending
	payout.CreatedAt = now
	payout.UpdatedAt = now

	s.payouts[payout.ID] = payout
	s.payoutKeys[key] = payout.ID
	return payout, nil
}

// Complete закрывает выплату и начисляет продавцу сумму под одной блокировкой.
func (r *payoutRepositoryInMemory) Complete(_ context.Context, c domain.PayoutCompletion) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[c.PayoutID]
	if !ok {
		return domain.ErrPayoutNotFound
	}
	vendor, ok := s.vendors[c.VendorID]
	if !ok {
		return domain.ErrVendorNotFound
	}

	payout.Status = domain.PayoutStatusCompleted
	payout.Reference = c.Reference
	if c.Operator != "" {
		payout.Operator = c.Operator
	}
	if c.Phone != "" {
		payout.Phone = c.Phone
	}
	payout.Notes = ""
	payout.Attempts++
	payout.UpdatedAt = c.CompletedAt
	s.payouts[payout.ID] = payout

	vendor.BalanceMinor += c.AmountMinor
	vendor.TotalEarningsMinor += c.AmountMinor
	vendor.LastPayoutAt = c.CompletedAt
	vendor.LastPayoutAmountMinor = c.AmountMinor
	vendor.UpdatedAt = c.CompletedAt
	s.vendors[vendor.ID] = vendor

	return nil
}

func (r *payoutRepositoryInMemory) MarkFailed(_ context.Context, id, notes string) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[id]
	if !ok {
		return domain.ErrPayoutNotFound
	}
	payout.Status = domain.PayoutStatusFailed
	payout.Notes = notes
	payout.Attempts++
	payout.UpdatedAt = time.Now().UTC()
	s.payouts[id] = payout
	return nil
}

func (r *payoutRepositoryInMemory) ClaimForRetry(_ context.Context, id string) (domain.Payout, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	payout, ok := s.payouts[id]
	if !ok {
		return domain.Payout{}, domain.ErrPayoutNotFound
	}
	if payout.Status != domain.PayoutStatusFailed {
		return payout, domain.ErrPayoutAlreadyExists
	}
	payout.Status = domain.PayoutStatusPending
	payout.UpdatedAt = time.Now().UTC()
	s.payouts[id] = payout
	return payout, nil
}

func (r *payoutRepositoryInMemory) Get(_ context.Context, id string) (domain.Payout, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	payout, ok := s.payouts[id]
	if !ok {
		return domain.Payout{}, domain.ErrPayoutNotFound
	}
	return payout, nil
}

func (r *payoutRepositoryInMemory) ListByVendor(_ context.Context, vendorID string, limit int) ([]domain.Payout, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payout, 0)
	for _, payout := range s.payouts {
		if payout.VendorID == vendorID {
			result = append(result, payout)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r *payoutRepositoryInMemory) ListRetryable(_ context.Context, maxAttempts, limit int) ([]domain.Payout, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Payout, 0)
	for _, payout := range s.payouts {
		if payout.Status != domain.PayoutStatusFailed {
			continue
		}
		if maxAttempts > 0 && payout.Attempts >= maxAttempts {
			continue
		}
		result = append(result, payout)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UpdatedAt.Before(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ domain.PayoutRepository = (*payoutRepositoryInMemory)(nil)
