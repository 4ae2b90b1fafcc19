package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) Get(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		p    domain.Product
		last sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, vendor_id, name, stock, base_price_minor, sale_price_minor,
		       last_stock_notification, created_at, updated_at
		FROM products
		WHERE id = $1
	`, id).Scan(
		&p.ID, &p.VendorID, &p.Name, &p.Stock, &p.BasePriceMinor, &p.SalePriceMinor,
		&last, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	p.LastStockNotification = timeOrZero(last)
	return p, nil
}

// DecrementStock уменьшает остаток одним UPDATE, так что параллельные заказы не теряют списания.
func (r *productRepository) DecrementStock(ctx context.Context, id string, qty int) (int, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var stock int
	err := r.db.QueryRowContext(ctx, `
		UPDATE products
		SET stock = GREATEST(stock - $2, 0), updated_at = $3
		WHERE id = $1
		RETURNING stock
	`, id, qty, time.Now().UTC()).Scan(&stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrProductNotFound
		}
		return 0, fmt.Errorf("decrement stock: %w", err)
	}
	return stock, nil
}

// ClaimStockNotification обновляет отметку только у победителя гонки за окно подавления.
func (r *productRepository) ClaimStockNotification(ctx context.Context, id string, now time.Time, window time.Duration) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE products
		SET last_stock_notification = $2
		WHERE id = $1
		  AND (last_stock_notification IS NULL OR last_stock_notification <= $3)
	`, id, now, now.Add(-window))
	if err != nil {
		return false, fmt.Errorf("claim stock notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

type vendorRepository struct {
	db *sql.DB
}

// NewVendorRepository создаёт PostgreSQL-реализацию VendorRepository.
func NewVendorRepository(store *Store) domain.VendorRepository {
	return &vendorRepository{db: store.DB()}
}

func (r *vendorRepository) Get(ctx context.Context, id string) (domain.Vendor, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var (
		v          domain.Vendor
		operator   string
		lastPayout sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, preferred_operator, mtn_phone, orange_phone,
		       balance_minor, total_earnings_minor, last_payout_at, last_payout_amount_minor,
		       created_at, updated_at
		FROM vendors
		WHERE id = $1
	`, id).Scan(
		&v.ID, &v.Name, &v.Email, &operator, &v.MTNPhone, &v.OrangePhone,
		&v.BalanceMinor, &v.TotalEarningsMinor, &lastPayout, &v.LastPayoutAmountMinor,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Vendor{}, domain.ErrVendorNotFound
		}
		return domain.Vendor{}, fmt.Errorf("select vendor: %w", err)
	}
	v.PreferredOperator = domain.Operator(operator)
	v.LastPayoutAt = timeOrZero(lastPayout)
	return v, nil
}

var (
	_ domain.ProductRepository = (*productRepository)(nil)
	_ domain.VendorRepository  = (*vendorRepository)(nil)
)
