package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const opTimeout = 5 * time.Second

// querier покрывает общее подмножество *sql.DB и *sql.Tx,
// позволяя репозиториям работать и с пулом, и внутри транзакции.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// storeTx — единица работы: все репозитории разделяют одну *sql.Tx.
type storeTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *storeTx) Products() domain.ProductRepository {
	return &productRepository{q: t.tx}
}

func (t *storeTx) Balances() domain.BalanceRepository {
	return &balanceRepository{q: t.tx}
}

func (t *storeTx) Coupons() domain.CouponRepository {
	return &couponRepository{q: t.tx}
}

func (t *storeTx) Orders() domain.OrderRepository {
	return &orderRepository{q: t.tx}
}

func (t *storeTx) Payments() domain.PaymentRepository {
	return &paymentRepository{q: t.tx}
}

func (t *storeTx) Outbox() domain.OutboxRepository {
	return &outboxRepository{q: t.tx, ctx: t.ctx}
}

var _ domain.Tx = (*storeTx)(nil)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
