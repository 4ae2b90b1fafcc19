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

type refundRepository struct {
	db *sql.DB
}

// NewRefundRepository создаёт PostgreSQL-реализацию RefundRepository.
func NewRefundRepository(store *Store) domain.RefundRepository {
	return &refundRepository{db: store.DB()}
}

const refundColumns = `id, order_id, customer_id, amount_minor, reason, status, method,
	claimed_until, error, created_at, updated_at`

// Claim вставляет возврат или перехватывает строку, если она failed или аренда истекла.
// Пустой RETURNING означает, что возврат завершён либо его держит другой sweep.
func (r *refundRepository) Claim(ctx context.Context, refund domain.Refund, now time.Time) (domain.Refund, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if refund.ID == "" {
		refund.ID = uuid.NewString()
	}

	claimed, err := scanRefund(r.db.QueryRowContext(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,'pending',$6,$7,'',$8,$8)
		ON CONFLICT (order_id) DO UPDATE
		SET status = 'pending',
		    amount_minor = EXCLUDED.amount_minor,
		    reason = EXCLUDED.reason,
		    method = EXCLUDED.method,
		    claimed_until = EXCLUDED.claimed_until,
		    error = '',
		    updated_at = EXCLUDED.updated_at
		WHERE refunds.status = 'failed'
		   OR (refunds.status = 'pending' AND (refunds.claimed_until IS NULL OR refunds.claimed_until <= $8))
		RETURNING `+refundColumns,
		refund.ID, refund.OrderID, refund.CustomerID, refund.AmountMinor, refund.Reason,
		string(refund.Method), nullTime(refund.ClaimedUntil), now,
	))
	if err == nil {
		return claimed, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Refund{}, fmt.Errorf("claim refund: %w", err)
	}

	existing, getErr := r.GetByOrder(ctx, refund.OrderID)
	if getErr != nil {
		return domain.Refund{}, domain.ErrRefundAlreadyExists
	}
	return existing, domain.ErrRefundAlreadyExists
}

// Settle завершает возврат и отменяет заказ с позициями одной транзакцией.
func (r *refundRepository) Settle(ctx context.Context, refundID string, at time.Time) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var orderID string
		err := tx.QueryRowContext(ctx, `
			UPDATE refunds
			SET status = 'completed', claimed_until = NULL, error = '', updated_at = $2
			WHERE id = $1
			RETURNING order_id
		`, refundID, at).Scan(&orderID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.ErrRefundNotFound
			}
			return fmt.Errorf("complete refund: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = 'cancelled', payment_status = 'refunded', updated_at = $2
			WHERE id = $1
		`, orderID, at)
		if err != nil {
			return fmt.Errorf("cancel refunded order: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return domain.ErrOrderNotFound
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE order_items SET status = 'cancelled', updated_at = $2 WHERE order_id = $1
		`, orderID, at); err != nil {
			return fmt.Errorf("cancel refunded order items: %w", err)
		}
		return nil
	})
}

func (r *refundRepository) MarkFailed(ctx context.Context, id, reason string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE refunds
		SET status = 'failed', error = $2, claimed_until = NULL, updated_at = $3
		WHERE id = $1
	`, id, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark refund failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrRefundNotFound
	}
	return nil
}

func (r *refundRepository) GetByOrder(ctx context.Context, orderID string) (domain.Refund, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	refund, err := scanRefund(r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE order_id = $1`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Refund{}, domain.ErrRefundNotFound
		}
		return domain.Refund{}, fmt.Errorf("select refund: %w", err)
	}
	return refund, nil
}

func scanRefund(row rowScanner) (domain.Refund, error) {
	var (
		rf             domain.Refund
		status, method string
		claimedUntil   sql.NullTime
	)
	if err := row.Scan(
		&rf.ID, &rf.OrderID, &rf.CustomerID, &rf.AmountMinor, &rf.Reason, &status, &method,
		&claimedUntil, &rf.Error, &rf.CreatedAt, &rf.UpdatedAt,
	); err != nil {
		return domain.Refund{}, err
	}
	rf.Status = domain.RefundStatus(status)
	rf.Method = domain.RefundMethod(method)
	rf.ClaimedUntil = timeOrZero(claimedUntil)
	return rf, nil
}

var _ domain.RefundRepository = (*refundRepository)(nil)
