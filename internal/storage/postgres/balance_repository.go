package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type balanceRepository struct {
	q querier
}

func (r *balanceRepository) Create(ctx context.Context, balance domain.Balance) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO balances (
			user_id, amount_minor, created_at, updated_at
		) VALUES ($1,$2,$3,$4)
	`,
		balance.UserID, balance.AmountMinor, balance.CreatedAt, balance.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrVersionConflict
		}
		return fmt.Errorf("insert balance: %w", err)
	}

	return nil
}

func (r *balanceRepository) Get(ctx context.Context, userID string) (domain.Balance, error) {
	return r.get(ctx, userID, false)
}

// GetForUpdate берёт эксклюзивную блокировку строки на время транзакции,
// сериализуя параллельные списания одного пользователя.
func (r *balanceRepository) GetForUpdate(ctx context.Context, userID string) (domain.Balance, error) {
	return r.get(ctx, userID, true)
}

func (r *balanceRepository) get(ctx context.Context, userID string, forUpdate bool) (domain.Balance, error) {
	query := `
		SELECT user_id, amount_minor, created_at, updated_at
		FROM balances
		WHERE user_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var balance domain.Balance
	err := r.q.QueryRowContext(ctx, query, userID).Scan(
		&balance.UserID, &balance.AmountMinor, &balance.CreatedAt, &balance.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Balance{}, domain.ErrBalanceNotFound
		}
		return domain.Balance{}, fmt.Errorf("select balance: %w", err)
	}

	return balance, nil
}

func (r *balanceRepository) Save(ctx context.Context, balance domain.Balance) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE balances
		SET amount_minor = $1,
		    updated_at = $2
		WHERE user_id = $3
	`,
		balance.AmountMinor, balance.UpdatedAt, balance.UserID,
	)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("balance rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrBalanceNotFound
	}

	return nil
}

var _ domain.BalanceRepository = (*balanceRepository)(nil)
