package checkout

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

// PlaceOrderItem — запрошенная позиция заказа.
type PlaceOrderItem struct {
	ProductID string
	Qty       int32
}

// PlaceOrderCommand — команда оформления заказа.
type PlaceOrderCommand struct {
	UserID        string
	Items         []PlaceOrderItem
	CouponGrantID string
	Method        domain.PaymentMethod
	Card          *domain.CardDetails
}

// Orchestrator проводит заказ через сагу: резервирование ресурсов в одной
// транзакции, затем расчёт выбранной стратегией. Резервирующая транзакция
// фиксируется до любого обращения к внешнему шлюзу.
type Orchestrator struct {
	store      domain.Store
	dispatcher *Dispatcher
	logger     *log.Entry
	metrics    *metrics.CheckoutMetrics

	maxAttempts int
	baseDelay   time.Duration
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(store domain.Store, dispatcher *Dispatcher, logger *log.Entry) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "checkout")
	}
	return &Orchestrator{
		store:       store,
		dispatcher:  dispatcher,
		logger:      logger,
		maxAttempts: 3,
		baseDelay:   10 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       time.Sleep,
	}
}

// NewOrchestratorWithMetrics создаёт оркестратор с метриками.
func NewOrchestratorWithMetrics(store domain.Store, dispatcher *Dispatcher, m *metrics.CheckoutMetrics, logger *log.Entry) *Orchestrator {
	o := NewOrchestrator(store, dispatcher, logger)
	o.metrics = m
	return o
}

// PlaceOrder оформляет заказ: валидация, резервирующая транзакция с bounded
// retry на конфликтах версий, затем расчёт. Для карточного пути метод
// возвращает заказ в том состоянии, до которого дошёл расчёт: paid при
// синхронном успехе, pending при отложенном исходе, canceled + ошибка
// при отказе шлюза.
func (o *Orchestrator) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	start := o.now()
	if o.metrics != nil {
		o.metrics.RecordPlacementStarted()
		defer func() {
			o.metrics.RecordPlacementFinished()
			o.metrics.RecordPlaceDuration(time.Since(start))
		}()
	}

	if err := validateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	strategy, err := o.dispatcher.strategyFor(cmd.Method)
	if err != nil {
		return domain.Order{}, err
	}

	// Идентификаторы фиксируются до retry-цикла: повтор транзакции не должен
	// менять ни ID заказа, ни детерминированный fallback-ключ платежа.
	orderID := uuid.NewString()
	paymentID := uuid.NewString()

	var (
		order   domain.Order
		payment domain.Payment
	)

	reserveStart := o.now()
	var lastErr error
	for attempt := 0; attempt < o.maxAttempts; attempt++ {
		lastErr = o.store.WithinTx(ctx, func(tx domain.Tx) error {
			var txErr error
			order, payment, txErr = o.reserve(ctx, tx, strategy, cmd, orderID, paymentID)
			return txErr
		})
		if lastErr == nil {
			break
		}
		if !domain.IsVersionConflict(lastErr) {
			o.logger.WithError(lastErr).WithFields(log.Fields{
				"order_id": orderID,
				"user_id":  cmd.UserID,
			}).Warn("order placement rejected")
			return domain.Order{}, lastErr
		}
		o.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Warn("version conflict during reservation, retrying")
		o.sleep(o.baseDelay * time.Duration(1<<uint(attempt)))
	}
	if lastErr != nil {
		return domain.Order{}, lastErr
	}

	if o.metrics != nil {
		o.metrics.RecordOrderPlaced()
		o.metrics.RecordStepDuration("reserve", time.Since(reserveStart))
		if order.Status == domain.OrderStatusPaid {
			o.metrics.RecordOrderPaid()
		}
	}
	o.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"user_id":     order.UserID,
		"method":      cmd.Method,
		"total_minor": order.TotalMinor(),
	}).Info("order reserved")

	settleStart := o.now()
	settled, err := strategy.Settle(ctx, order, payment, cmd.Card)
	if o.metrics != nil {
		o.metrics.RecordStepDuration("settle", time.Since(settleStart))
	}
	return settled, err
}

// GetOrder возвращает заказ по идентификатору.
func (o *Orchestrator) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	var order domain.Order
	err := o.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		order, txErr = tx.Orders().Get(ctx, orderID)
		return txErr
	})
	return order, err
}

// ListOrders возвращает последние заказы пользователя.
func (o *Orchestrator) ListOrders(ctx context.Context, userID string, limit int) ([]domain.Order, error) {
	var orders []domain.Order
	err := o.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		orders, txErr = tx.Orders().ListByUser(ctx, userID, limit)
		return txErr
	})
	return orders, err
}

// reserve выполняет шаги резервирования внутри одной транзакции:
// списание стока по позициям, захват купона, стратегия, персист заказа и платежа.
func (o *Orchestrator) reserve(ctx context.Context, tx domain.Tx, strategy Strategy, cmd PlaceOrderCommand, orderID, paymentID string) (domain.Order, domain.Payment, error) {
	now := o.now()

	order := domain.Order{
		ID:        orderID,
		UserID:    cmd.UserID,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, item := range cmd.Items {
		product, err := tx.Products().Get(ctx, item.ProductID)
		if err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		if err := product.DecreaseStock(item.Qty); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		if err := tx.Products().Save(ctx, product); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		if err := enqueueStockEvent(tx, kafka.EventTypeStockReserved, product.ID, orderID, item.Qty); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		order.Items = append(order.Items, domain.OrderItem{
			ID:         uuid.NewString(),
			ProductID:  product.ID,
			Qty:        item.Qty,
			PriceMinor: product.PriceMinor,
			CreatedAt:  now,
		})
	}

	var grant *domain.CouponGrant
	if cmd.CouponGrantID != "" {
		g, err := tx.Coupons().GetGrantForUpdate(ctx, cmd.CouponGrantID)
		if err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		if g.UserID != cmd.UserID {
			return domain.Order{}, domain.Payment{}, domain.ErrCouponOwnerMismatch
		}
		template, err := tx.Coupons().GetTemplate(ctx, g.CouponID)
		if err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		order.CouponGrantID = g.ID
		order.DiscountMinor = template.DiscountFor(order.SubtotalMinor())
		grant = &g
	}

	payment := domain.Payment{
		ID:          paymentID,
		OrderID:     orderID,
		Method:      cmd.Method,
		AmountMinor: order.TotalMinor(),
		Status:      domain.PaymentStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if cmd.Card != nil {
		payment.CardMasked = cmd.Card.Masked()
	}

	r := &reservation{tx: tx, order: &order, payment: &payment, grant: grant}
	if err := strategy.Reserve(ctx, r, now); err != nil {
		return domain.Order{}, domain.Payment{}, err
	}

	if grant != nil {
		if err := tx.Coupons().SaveGrant(ctx, *grant); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
	}
	if err := tx.Orders().Create(ctx, order); err != nil {
		return domain.Order{}, domain.Payment{}, err
	}
	if err := tx.Payments().Create(ctx, payment); err != nil {
		return domain.Order{}, domain.Payment{}, err
	}

	if err := enqueueOrderEvent(tx, kafka.EventTypeOrderCreated, order); err != nil {
		return domain.Order{}, domain.Payment{}, err
	}
	if order.Status == domain.OrderStatusPaid {
		if err := enqueueOrderEvent(tx, kafka.EventTypeOrderPaid, order); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
		if err := enqueuePaymentEvent(tx, kafka.EventTypePaymentSettled, payment); err != nil {
			return domain.Order{}, domain.Payment{}, err
		}
	}

	return order, payment, nil
}

func validateCommand(cmd PlaceOrderCommand) error {
	if cmd.UserID == "" {
		return domain.ErrUserIDRequired
	}
	if len(cmd.Items) == 0 {
		return domain.ErrItemsRequired
	}
	for _, item := range cmd.Items {
		if item.ProductID == "" {
			return domain.ErrProductIDRequired
		}
		if item.Qty <= 0 {
			return domain.ErrItemQtyInvalid
		}
	}
	if !cmd.Method.Valid() {
		return domain.ErrPaymentMethodInvalid
	}
	if cmd.Method == domain.PaymentMethodCard && cmd.Card == nil {
		return domain.ErrCardDetailsRequired
	}
	return nil
}
