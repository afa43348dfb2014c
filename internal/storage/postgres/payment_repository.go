package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type paymentRepository struct {
	q querier
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (
			id, order_id, method, card_masked, amount_minor,
			transaction_key, status, failure_reason, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		payment.ID, payment.OrderID, string(payment.Method), payment.CardMasked,
		payment.AmountMinor, payment.TransactionKey, string(payment.Status),
		payment.FailureReason, payment.CreatedAt, payment.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.Payment, error) {
	return r.getBy(ctx, "id", id)
}

func (r *paymentRepository) GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return r.getBy(ctx, "order_id", orderID)
}

// GetByTransactionKey ищет платёж по внешнему ключу (включая fallback-ключи).
func (r *paymentRepository) GetByTransactionKey(ctx context.Context, key string) (domain.Payment, error) {
	return r.getBy(ctx, "transaction_key", key)
}

func (r *paymentRepository) getBy(ctx context.Context, column, value string) (domain.Payment, error) {
	var (
		payment domain.Payment
		method  string
		status  string
	)

	err := r.q.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, order_id, method, card_masked, amount_minor,
		       transaction_key, status, failure_reason, created_at, updated_at
		FROM payments
		WHERE %s = $1
	`, column), value).Scan(
		&payment.ID, &payment.OrderID, &method, &payment.CardMasked,
		&payment.AmountMinor, &payment.TransactionKey, &status,
		&payment.FailureReason, &payment.CreatedAt, &payment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment by %s: %w", column, err)
	}

	payment.Method = domain.PaymentMethod(method)
	payment.Status = domain.PaymentStatus(status)

	return payment, nil
}

func (r *paymentRepository) Save(ctx context.Context, payment domain.Payment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET transaction_key = $1,
		    status = $2,
		    failure_reason = $3,
		    updated_at = $4
		WHERE id = $5
	`,
		payment.TransactionKey, string(payment.Status),
		payment.FailureReason, payment.UpdatedAt, payment.ID,
	)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("payment rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}

	return nil
}

// ListStalePending возвращает pending-платежи старше before — кандидаты
// на фоновую сверку статуса со шлюзом.
func (r *paymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.q.QueryContext(ctx, `
		SELECT id, order_id, method, card_masked, amount_minor,
		       transaction_key, status, failure_reason, created_at, updated_at
		FROM payments
		WHERE status = 'pending'
		  AND created_at <= $1
		ORDER BY created_at ASC, id ASC
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, limit)
	for rows.Next() {
		var (
			payment domain.Payment
			method  string
			status  string
		)
		if err := rows.Scan(
			&payment.ID, &payment.OrderID, &method, &payment.CardMasked,
			&payment.AmountMinor, &payment.TransactionKey, &status,
			&payment.FailureReason, &payment.CreatedAt, &payment.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stale payment: %w", err)
		}
		payment.Method = domain.PaymentMethod(method)
		payment.Status = domain.PaymentStatus(status)
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale payments: %w", err)
	}

	return payments, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
