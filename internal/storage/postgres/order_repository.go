package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

const orderColumns = `id, customer_id, customer_email, status, payment_status, currency,
	total_minor, shipping_address, billing_address, created_at, updated_at`

const itemColumns = `id, order_id, vendor_id, product_id, qty, unit_price_minor,
	base_price_minor, line_total_minor, status, created_at, updated_at`

// Create вставляет заказ и позиции в одной транзакции.
func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("encode shipping address: %w", err)
	}
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return fmt.Errorf("encode billing address: %w", err)
	}

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`,
			order.ID, order.CustomerID, order.CustomerEmail, string(order.Status),
			string(order.PaymentStatus), order.Currency, order.TotalMinor,
			shipping, billing, order.CreatedAt, order.UpdatedAt,
		); err != nil {
			if isUniqueViolation(err) {
				return domain.ErrOrderAlreadyExists
			}
			return fmt.Errorf("insert order: %w", err)
		}

		for pos, item := range order.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (
					id, order_id, position, vendor_id, product_id, qty, unit_price_minor,
					base_price_minor, line_total_minor, status, created_at, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			`,
				item.ID, order.ID, pos, item.VendorID, item.ProductID, item.Qty,
				item.UnitPriceMinor, item.BasePriceMinor, item.LineTotalMinor,
				string(item.Status), item.CreatedAt, item.UpdatedAt,
			); err != nil {
				return fmt.Errorf("insert order item %s: %w", item.ID, err)
			}
		}
		return nil
	})
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	if order.Items, err = r.loadItems(ctx, order.ID); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) GetItem(ctx context.Context, itemID string) (domain.OrderItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	item, err := scanItem(r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM order_items WHERE id = $1`, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OrderItem{}, domain.ErrOrderItemNotFound
		}
		return domain.OrderItem{}, fmt.Errorf("select order item: %w", err)
	}
	return item, nil
}

func (r *orderRepository) ListItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			return nil, domain.ErrOrderNotFound
		}
	}
	return items, nil
}

// CompareAndSetItemStatus выполняет условный UPDATE; ноль затронутых строк означает гонку или отсутствие позиции.
func (r *orderRepository) CompareAndSetItemStatus(ctx context.Context, itemID string, from, to domain.OrderStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE order_items
		SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`, itemID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order item status: %w", err)
	}
	return r.casOutcome(ctx, res, `SELECT EXISTS (SELECT 1 FROM order_items WHERE id = $1)`, itemID,
		domain.ErrOrderItemNotFound, domain.ErrItemStatusConflict)
}

func (r *orderRepository) UpdateStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
	`, orderID, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) CompareAndSetPaymentStatus(ctx context.Context, orderID string, from, to domain.PaymentStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $3, updated_at = $4
		WHERE id = $1 AND payment_status = $2
	`, orderID, string(from), string(to), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return r.casOutcome(ctx, res, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID,
		domain.ErrOrderNotFound, domain.ErrPaymentStatusConflict)
}

// ListStalePaid выбирает заказы для автоматического возврата, старые первыми.
func (r *orderRepository) ListStalePaid(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending'
		  AND payment_status = 'completed'
		  AND created_at < $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale orders: %w", err)
	}

	for i := range orders {
		if orders[i].Items, err = r.loadItems(ctx, orders[i].ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+itemColumns+`
		FROM order_items
		WHERE order_id = $1
		ORDER BY position ASC
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.OrderItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return items, nil
}

func (r *orderRepository) casOutcome(ctx context.Context, res sql.Result, existsQuery, id string, notFound, conflict error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	if err := r.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return fmt.Errorf("check row exists: %w", err)
	}
	if !exists {
		return notFound
	}
	return conflict
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order             domain.Order
		status, payment   string
		shipping, billing []byte
	)
	if err := row.Scan(
		&order.ID, &order.CustomerID, &order.CustomerEmail, &status, &payment, &order.Currency,
		&order.TotalMinor, &shipping, &billing, &order.CreatedAt, &order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.PaymentStatus = domain.PaymentStatus(payment)
	if err := json.Unmarshal(shipping, &order.ShippingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode shipping address: %w", err)
	}
	if err := json.Unmarshal(billing, &order.BillingAddress); err != nil {
		return domain.Order{}, fmt.Errorf("decode billing address: %w", err)
	}
	return order, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item   domain.OrderItem
		status string
	)
	if err := row.Scan(
		&item.ID, &item.OrderID, &item.VendorID, &item.ProductID, &item.Qty, &item.UnitPriceMinor,
		&item.BasePriceMinor, &item.LineTotalMinor, &status, &item.CreatedAt, &item.UpdatedAt,
	); err != nil {
		return domain.OrderItem{}, err
	}
	item.Status = domain.OrderStatus(status)
	return item, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
