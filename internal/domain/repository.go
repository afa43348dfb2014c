package domain

import (
	"context"
	"time"
)

// ProductRepository — хранилище товаров со складским остатком.
type ProductRepository interface {
	// Create сохраняет новый товар. Ошибка, если ID уже занят.
	Create(ctx context.Context, product Product) error
	// Get возвращает товар или ErrProductNotFound.
	Get(ctx context.Context, id string) (Product, error)
	// Save применяет мутацию стока с учётом optimistic locking:
	// при несовпадении версии возвращает ErrVersionConflict.
	Save(ctx context.Context, product Product) error
}

// BalanceRepository — хранилище баллов пользователей.
type BalanceRepository interface {
	Create(ctx context.Context, balance Balance) error
	// Get возвращает баланс без блокировки (read-only сценарии).
	Get(ctx context.Context, userID string) (Balance, error)
	// GetForUpdate берёт эксклюзивную блокировку строки на время транзакции,
	// сериализуя параллельные списания одного пользователя.
	GetForUpdate(ctx context.Context, userID string) (Balance, error)
	Save(ctx context.Context, balance Balance) error
}

// CouponRepository — шаблоны купонов и выданные пользователям экземпляры.
type CouponRepository interface {
	CreateTemplate(ctx context.Context, template CouponTemplate) error
	GetTemplate(ctx context.Context, id string) (CouponTemplate, error)
	CreateGrant(ctx context.Context, grant CouponGrant) error
	GetGrant(ctx context.Context, id string) (CouponGrant, error)
	// GetGrantForUpdate блокирует строку купона, исключая двойное применение.
	GetGrantForUpdate(ctx context.Context, id string) (CouponGrant, error)
	SaveGrant(ctx context.Context, grant CouponGrant) error
}

// OrderRepository — хранилище заказов.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, error)
	// Save применяет обновление статуса с учётом optimistic locking.
	Save(ctx context.Context, order Order) error
	ListByUser(ctx context.Context, userID string, limit int) ([]Order, error)
}

// PaymentRepository — хранилище платёжных попыток.
type PaymentRepository interface {
	Create(ctx context.Context, payment Payment) error
	Get(ctx context.Context, id string) (Payment, error)
	GetByOrderID(ctx context.Context, orderID string) (Payment, error)
	// GetByTransactionKey ищет платёж по внешнему ключу (включая fallback-ключи).
	GetByTransactionKey(ctx context.Context, key string) (Payment, error)
	Save(ctx context.Context, payment Payment) error
	// ListStalePending возвращает pending-платежи старше before — кандидаты на reconcile.
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Payment, error)
}

/// Tx — единица работы: все репозитории разделяют одну транзакцию,
// изменения либо фиксируются целиком, либо откатываются целиком.
type Tx interface {
	Products() ProductRepository
	Balances() BalanceRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Payments() PaymentRepository
	Outbox() OutboxRepository
}

// Store выполняет функцию в границах одной транзакции.
// Ненулевая ошибка из fn откатывает все изменения.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}
