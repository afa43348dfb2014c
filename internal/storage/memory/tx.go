package memory

import (
	"context"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// storeTx накапливает staged-изменения поверх базовых map store.
// Чтения видят staged-слой, базовое состояние не трогается до commit.
type storeTx struct {
	store *Store

	products  map[string]domain.Product
	balances  map[string]domain.Balance
	templates map[string]domain.CouponTemplate
	grants    map[string]domain.CouponGrant
	orders    map[string]domain.Order
	payments  map[string]domain.Payment
	outbox    []domain.OutboxMessage
}

func newStoreTx(store *Store) *storeTx {
	return &storeTx{
		store:     store,
		products:  make(map[string]domain.Product),
		balances:  make(map[string]domain.Balance),
		templates: make(map[string]domain.CouponTemplate),
		grants:    make(map[string]domain.CouponGrant),
		orders:    make(map[string]domain.Order),
		payments:  make(map[string]domain.Payment),
	}
}

// commit применяет staged-слой к базовым map. Вызывается под store.mu.
func (t *storeTx) commit() {
	for id, product := range t.products {
		t.store.products[id] = product
	}
	for id, balance := range t.balances {
		t.store.balances[id] = balance
	}
	for id, template := range t.templates {
		t.store.templates[id] = template
	}
	for id, grant := range t.grants {
		t.store.grants[id] = grant
	}
	for id, order := range t.orders {
		t.store.orders[id] = cloneOrder(order)
	}
	for id, payment := range t.payments {
		t.store.payments[id] = payment
	}
	for _, msg := range t.outbox {
		// Ошибок у in-memory enqueue не бывает.
		_, _ = t.store.outbox.Enqueue(msg)
	}
}

func cloneOrder(order domain.Order) domain.Order {
	dst := order
	dst.Items = append([]domain.OrderItem(nil), order.Items...)
	return dst
}

func (t *storeTx) Products() domain.ProductRepository { return (*txProducts)(t) }
func (t *storeTx) Balances() domain.BalanceRepository { return (*txBalances)(t) }
func (t *storeTx) Coupons() domain.CouponRepository   { return (*txCoupons)(t) }
func (t *storeTx) Orders() domain.OrderRepository     { return (*txOrders)(t) }
func (t *storeTx) Payments() domain.PaymentRepository { return (*txPayments)(t) }
func (t *storeTx) Outbox() domain.OutboxRepository    { return (*txOutbox)(t) }

var _ domain.Tx = (*storeTx)(nil)

// --- products ---

type txProducts storeTx

func (t *txProducts) get(id string) (domain.Product, bool) {
	if product, ok := t.products[id]; ok {
		return product, true
	}
	product, ok := t.store.products[id]
	return product, ok
}

func (t *txProducts) Create(ctx context.Context, product domain.Product) error {
	if _, exists := t.get(product.ID); exists {
		return domain.ErrVersionConflict
	}
	t.products[product.ID] = product
	return nil
}

func (t *txProducts) Get(ctx context.Context, id string) (domain.Product, error) {
	product, ok := t.get(id)
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return product, nil
}

func (t *txProducts) Save(ctx context.Context, product domain.Product) error {
	current, ok := t.get(product.ID)
	if !ok {
		return domain.ErrProductNotFound
	}
	if current.Version != product.Version {
		return domain.ErrVersionConflict
	}
	product.Version++
	t.products[product.ID] = product
	return nil
}

// --- balances ---

type txBalances storeTx

func (t *txBalances) get(userID string) (domain.Balance, bool) {
	if balance, ok := t.balances[userID]; ok {
		return balance, true
	}
	balance, ok := t.store.balances[userID]
	return balance, ok
}

func (t *txBalances) Create(ctx context.Context, balance domain.Balance) error {
	if _, exists := t.get(balance.UserID); exists {
		return domain.ErrVersionConflict
	}
	t.balances[balance.UserID] = balance
	return nil
}

func (t *txBalances) Get(ctx context.Context, userID string) (domain.Balance, error) {
	balance, ok := t.get(userID)
	if !ok {
		return domain.Balance{}, domain.ErrBalanceNotFound
	}
	return balance, nil
}

// GetForUpdate эквивалентен Get: транзакции store сериализованы мьютексом,
// поэтому эксклюзивность строки обеспечена самим WithinTx.
func (t *txBalances) GetForUpdate(ctx context.Context, userID string) (domain.Balance, error) {
	return t.Get(ctx, userID)
}

func (t *txBalances) Save(ctx context.Context, balance domain.Balance) error {
	if _, ok := t.get(balance.UserID); !ok {
		return domain.ErrBalanceNotFound
	}
	t.balances[balance.UserID] = balance
	return nil
}

// --- coupons ---

type txCoupons storeTx

func (t *txCoupons) CreateTemplate(ctx context.Context, template domain.CouponTemplate) error {
	if _, ok := t.templates[template.ID]; ok {
		return domain.ErrVersionConflict
	}
	if _, ok := t.store.templates[template.ID]; ok {
		return domain.ErrVersionConflict
	}
	t.templates[template.ID] = template
	return nil
}

func (t *txCoupons) GetTemplate(ctx context.Context, id string) (domain.CouponTemplate, error) {
	if template, ok := t.templates[id]; ok {
		return template, nil
	}
	template, ok := t.store.templates[id]
	if !ok {
		return domain.CouponTemplate{}, domain.ErrCouponNotFound
	}
	return template, nil
}

func (t *txCoupons) getGrant(id string) (domain.CouponGrant, bool) {
	if grant, ok := t.grants[id]; ok {
		return grant, true
	}
	grant, ok := t.store.grants[id]
	return grant, ok
}

func (t *txCoupons) CreateGrant(ctx context.Context, grant domain.CouponGrant) error {
	if _, exists := t.getGrant(grant.ID); exists {
		return domain.ErrVersionConflict
	}
	t.grants[grant.ID] = grant
	return nil
}

func (t *txCoupons) GetGrant(ctx context.Context, id string) (domain.CouponGrant, error) {
	grant, ok := t.getGrant(id)
	if !ok {
		return domain.CouponGrant{}, domain.ErrCouponNotFound
	}
	return grant, nil
}

func (t *txCoupons) GetGrantForUpdate(ctx context.Context, id string) (domain.CouponGrant, error) {
	return t.GetGrant(ctx, id)
}

func (t *txCoupons) SaveGrant(ctx context.Context, grant domain.CouponGrant) error {
	if _, ok := t.getGrant(grant.ID); !ok {
		return domain.ErrCouponNotFound
	}
	t.grants[grant.ID] = grant
	return nil
}

// --- orders ---

type txOrders storeTx

func (t *txOrders) get(id string) (domain.Order, bool) {
	if order, ok := t.orders[id]; ok {
		return order, true
	}
	order, ok := t.store.orders[id]
	return order, ok
}

func (t *txOrders) Create(ctx context.Context, order domain.Order) error {
	if _, exists := t.get(order.ID); exists {
		return domain.ErrVersionConflict
	}
	t.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *txOrders) Get(ctx context.Context, id string) (domain.Order, error) {
	order, ok := t.get(id)
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (t *txOrders) Save(ctx context.Context, order domain.Order) error {
	current, ok := t.get(order.ID)
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrVersionConflict
	}
	order.Version++
	t.orders[order.ID] = cloneOrder(order)
	return nil
}

func (t *txOrders) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	merged := make(map[string]domain.Order, len(t.store.orders))
	for id, order := range t.store.orders {
		merged[id] = order
	}
	for id, order := range t.orders {
		merged[id] = order
	}

	result := make([]domain.Order, 0, len(merged))
	for _, order := range merged {
		if order.UserID != userID {
			continue
		}
		result = append(result, cloneOrder(order))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// --- payments ---

type txPayments storeTx

func (t *txPayments) get(id string) (domain.Payment, bool) {
	if payment, ok := t.payments[id]; ok {
		return payment, true
	}
	payment, ok := t.store.payments[id]
	return payment, ok
}

func (t *txPayments) Create(ctx context.Context, payment domain.Payment) error {
	if _, exists := t.get(payment.ID); exists {
		return domain.ErrVersionConflict
	}
	t.payments[payment.ID] = payment
	return nil
}

func (t *txPayments) Get(ctx context.Context, id string) (domain.Payment, error) {
	payment, ok := t.get(id)
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return payment, nil
}

func (t *txPayments) GetByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	return t.find(func(p domain.Payment) bool { return p.OrderID == orderID })
}

func (t *txPayments) GetByTransactionKey(ctx context.Context, key string) (domain.Payment, error) {
	if key == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return t.find(func(p domain.Payment) bool { return p.TransactionKey == key })
}

func (t *txPayments) find(match func(domain.Payment) bool) (domain.Payment, error) {
	for _, payment := range t.payments {
		if match(payment) {
			return payment, nil
		}
	}
	for id, payment := range t.store.payments {
		if _, staged := t.payments[id]; staged {
			continue
		}
		if match(payment) {
			return payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (t *txPayments) Save(ctx context.Context, payment domain.Payment) error {
	if _, ok := t.get(payment.ID); !ok {
		return domain.ErrPaymentNotFound
	}
	t.payments[payment.ID] = payment
	return nil
}

func (t *txPayments) ListStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	merged := make(map[string]domain.Payment, len(t.store.payments))
	for id, payment := range t.store.payments {
		merged[id] = payment
	}
	for id, payment := range t.payments {
		merged[id] = payment
	}

	result := make([]domain.Payment, 0)
	for _, payment := range merged {
		if payment.Status != domain.PaymentStatusPending {
			continue
		}
		if payment.CreatedAt.After(before) {
			continue
		}
		result = append(result, payment)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}

	return result, nil
}

// --- outbox (staged) ---

type txOutbox storeTx

// Enqueue откладывает сообщение до commit: при rollback события не публикуются.
func (t *txOutbox) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	t.outbox = append(t.outbox, msg)
	return msg, nil
}

func (t *txOutbox) PullPending(limit int) ([]domain.OutboxMessage, error) {
	return t.store.outbox.PullPending(limit)
}

func (t *txOutbox) Stats() (domain.OutboxStats, error) {
	return t.store.outbox.Stats()
}

func (t *txOutbox) MarkSent(id string) error {
	return t.store.outbox.MarkSent(id)
}

func (t *txOutbox) MarkFailed(id string) error {
	return t.store.outbox.MarkFailed(id)
}
