package memory

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepositoryInMemory struct {
	store *Store
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepositoryInMemory{store: store}
}

func (r *productRepositoryInMemory) Get(_ context.Context, id string) (domain.Product, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

// DecrementStock уменьшает остаток, отсекая его на нуле.
func (r *productRepositoryInMemory) DecrementStock(_ context.Context, id string, qty int) (int, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return 0, domain.ErrProductNotFound
	}
	product.Stock = domain.ClampedStock(product.Stock, qty)
	product.UpdatedAt = time.Now().UTC()
	s.products[id] = product
	return product.Stock, nil
}

// ClaimStockNotification ставит отметку об уведомлении, если окно подавления истекло.
func (r *productRepositoryInMemory) ClaimStockNotification(_ context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[id]
	if !ok {
		return false, domain.ErrProductNotFound
	}
	if !domain.StockNotificationDue(product.LastStockNotification, now, window) {
		return false, nil
	}
	product.LastStockNotification = now
	s.products[id] = product
	return true, nil
}

type vendorRepositoryInMemory struct {
	store *Store
}

// NewVendorRepository создаёт in-memory реализацию VendorRepository.
func NewVendorRepository(store *Store) domain.VendorRepository {
	return &vendorRepositoryInMemory{store: store}
}

func (r *vendorRepositoryInMemory) Get(_ context.Context, id string) (domain.Vendor, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	vendor, ok := s.vendors[id]
	if !ok {
		return domain.Vendor{}, domain.ErrVendorNotFound
	}
	return vendor, nil
}

var (
	_ domain.ProductRepository = (*productRepositoryInMemory)(nil)
	_ domain.VendorRepository  = (*vendorRepositoryInMemory)(nil)
)
