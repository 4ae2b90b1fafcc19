package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

type payoutRepository struct {
	db *sql.DB
}

// NewPayoutRepository создаёт PostgreSQL-реализацию PayoutRepository.
func NewPayoutRepository(store *Store) domain.PayoutRepository {
	return &payoutRepository{db: store.DB()}
}

const payoutColumns = `id, vendor_id, order_id, order_item_id, target_status, amount_minor,
	status, reference, operator, phone, notes, attempts, created_at, updated_at`

// Reserve опирается на UNIQUE (order_item_id, target_status): второй резерв получает существующую строку.
func (r *payoutRepository) Reserve(ctx context.Context, payout domain.Payout) (domain.Payout, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	payout.Status = domain.PayoutStatusPending
	payout.CreatedAt, payout.UpdatedAt = now, now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO vendor_payouts (`+payoutColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`,
		payout.ID, payout.VendorID, payout.OrderID, payout.OrderItemID, string(payout.TargetStatus),
		payout.AmountMinor, string(payout.Status), payout.Reference, string(payout.Operator),
		payout.Phone, payout.Notes, payout.Attempts, payout.CreatedAt, payout.UpdatedAt,
	)
	if err == nil {
		return payout, nil
	}
	if !isUniqueViolation(err) {
		return domain.Payout{}, fmt.Errorf("reserve payout: %w", err)
	}

	existing, getErr := scanPayout(r.db.QueryRowContext(ctx, `
		SELECT `+payoutColumns+` FROM vendor_payouts
		WHERE order_item_id = $1 AND target_status = $2
	`, payout.OrderItemID, string(payout.TargetStatus)))
	if getErr != nil {
		return domain.Payout{}, domain.ErrPayoutAlreadyExists
	}
	return existing, domain.ErrPayoutAlreadyExists
}

// Complete закрывает выплату и атомарно увеличивает баланс продавца.
func (r *payoutRepository) Complete(ctx context.Context, c domain.PayoutCompletion) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE vendor_payouts
			SET status = 'completed', reference = $2, notes = '', attempts = attempts + 1, updated_at = $3,
			    operator = COALESCE(NULLIF($4, ''), operator),
			    phone = COALESCE(NULLIF($5, ''), phone)
			WHERE id = $1
		`, c.PayoutID, c.Reference, c.CompletedAt, string(c.Operator), c.Phone)
		if err != nil {
			return fmt.Errorf("complete payout: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return domain.ErrPayoutNotFound
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE vendors
			SET balance_minor = balance_minor + $2,
			    total_earnings_minor = total_earnings_minor + $2,
			    last_payout_at = $3,
			    last_payout_amount_minor = $2,
			    updated_at = $3
			WHERE id = $1
		`, c.VendorID, c.AmountMinor, c.CompletedAt)
		if err != nil {
			return fmt.Errorf("credit vendor balance: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return domain.ErrVendorNotFound
		}
		return nil
	})
}

func (r *payoutRepository) MarkFailed(ctx context.Context, id, notes string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE vendor_payouts
		SET status = 'failed', notes = $2, attempts = attempts + 1, updated_at = $3
		WHERE id = $1
	`, id, notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark payout failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPayoutNotFound
	}
	return nil
}

// ClaimForRetry возвращает failed-выплату в pending; проигравший гонку получает ErrPayoutAlreadyExists.
func (r *payoutRepository) ClaimForRetry(ctx context.Context, id string) (domain.Payout, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payout, err := scanPayout(r.db.QueryRowContext(ctx, `
		UPDATE vendor_payouts
		SET status = 'pending', updated_at = $2
		WHERE id = $1 AND status = 'failed'
		RETURNING `+payoutColumns,
		id, time.Now().UTC()))
	if err == nil {
		return payout, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Payout{}, fmt.Errorf("claim payout for retry: %w", err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return domain.Payout{}, getErr
	}
	return current, domain.ErrPayoutAlreadyExists
}

func (r *payoutRepository) Get(ctx context.Context, id string) (domain.Payout, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	payout, err := scanPayout(r.db.QueryRowContext(ctx, `SELECT `+payoutColumns+` FROM vendor_payouts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payout{}, domain.ErrPayoutNotFound
		}
		return domain.Payout{}, fmt.Errorf("select payout: %w", err)
	}
	return payout, nil
}

func (r *payoutRepository) ListByVendor(ctx context.Context, vendorID string, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+payoutColumns+` FROM vendor_payouts
		WHERE vendor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, vendorID, limit)
}

func (r *payoutRepository) ListRetryable(ctx context.Context, maxAttempts, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx, `
		SELECT `+payoutColumns+` FROM vendor_payouts
		WHERE status = 'failed' AND ($1 <= 0 OR attempts < $1)
		ORDER BY updated_at ASC
		LIMIT $2
	`, maxAttempts, limit)
}

func (r *payoutRepository) list(ctx context.Context, query string, args ...any) ([]domain.Payout, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payouts: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Payout, 0)
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payout: %w", err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payouts: %w", err)
	}
	return result, nil
}

func scanPayout(row rowScanner) (domain.Payout, error) {
	var (
		p                        domain.Payout
		target, status, operator string
	)
	if err := row.Scan(
		&p.ID, &p.VendorID, &p.OrderID, &p.OrderItemID, &target, &p.AmountMinor,
		&status, &p.Reference, &operator, &p.Phone, &p.Notes, &p.Attempts, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return domain.Payout{}, err
	}
	p.TargetStatus = domain.OrderStatus(target)
	p.Status = domain.PayoutStatus(status)
	p.Operator = domain.Operator(operator)
	return p, nil
}

var _ domain.PayoutRepository = (*payoutRepository)(nil)
