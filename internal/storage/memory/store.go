package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Store — in-memory реализация domain.Store для локальной разработки и тестов.
// Транзакции сериализуются мьютексом: изменения накапливаются в staged-слое
// и применяются атомарно только при успешном завершении fn, что даёт
// честный rollback для all-or-nothing сценариев резервирования.
type Store struct {
	mu sync.Mutex

	products  map[string]domain.Product
	balances  map[string]domain.Balance
	templates map[string]domain.CouponTemplate
	grants    map[string]domain.CouponGrant
	orders    map[string]domain.Order
	payments  map[string]domain.Payment

	outbox      *outboxRepositoryInMemory
	idempotency domain.IdempotencyRepository
}

// NewStore возвращает пустой in-memory store.
func NewStore() *Store {
	return &Store{
		products:    make(map[string]domain.Product),
		balances:    make(map[string]domain.Balance),
		templates:   make(map[string]domain.CouponTemplate),
		grants:      make(map[string]domain.CouponGrant),
		orders:      make(map[string]domain.Order),
		payments:    make(map[string]domain.Payment),
		outbox:      NewOutboxRepository(),
		idempotency: NewIdempotencyRepository(),
	}
}

// WithinTx выполняет fn в границах одной «транзакции».
// Ошибка из fn отбрасывает все staged-изменения, включая outbox-сообщения.
func (s *Store) WithinTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := newStoreTx(s)
	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// Outbox возвращает standalone-репозиторий outbox для воркера публикации.
func (s *Store) Outbox() domain.OutboxRepository {
	return s.outbox
}

// Idempotency возвращает репозиторий ключей идемпотентности.
func (s *Store) Idempotency() domain.IdempotencyRepository {
	return s.idempotency
}

var _ domain.Store = (*Store)(nil)
