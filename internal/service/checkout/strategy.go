package checkout

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/compensate"
)

// reservation — контекст резервирующей транзакции, который оркестратор
// передаёт платёжной стратегии. grant == nil, если купон не применяется.
type reservation struct {
	tx      domain.Tx
	order   *domain.Order
	payment *domain.Payment
	grant   *domain.CouponGrant
}

// Strategy определяет, как способ оплаты участвует в двух фазах саги:
// Reserve выполняется внутри резервирующей транзакции, Settle — строго
// после её commit.
type Strategy interface {
	Reserve(ctx context.Context, r *reservation, now time.Time) error
	Settle(ctx context.Context, order domain.Order, payment domain.Payment, card *domain.CardDetails) (domain.Order, error)
}

// Dispatcher выбирает стратегию по способу оплаты.
type Dispatcher struct {
	balance Strategy
	card    Strategy
}

// NewDispatcher создаёт диспетчер стратегий.
func NewDispatcher(balance, card Strategy) *Dispatcher {
	return &Dispatcher{balance: balance, card: card}
}

func (d *Dispatcher) strategyFor(method domain.PaymentMethod) (Strategy, error) {
	switch method {
	case domain.PaymentMethodBalance:
		return d.balance, nil
	case domain.PaymentMethodCard:
		return d.card, nil
	default:
		return nil, domain.ErrPaymentMethodInvalid
	}
}

// balanceStrategy рассчитывается баллами синхронно: списание, купон и
// переводы статусов происходят в той же транзакции, что и резерв стока.
// Промежуточного pending-состояния у этого пути нет, поэтому купон
// тратится сразу (available → used), минуя резервирование.
type balanceStrategy struct {
	logger *log.Entry
}

// NewBalanceStrategy создаёт стратегию оплаты баллами.
func NewBalanceStrategy(logger *log.Entry) Strategy {
	if logger == nil {
		logger = log.New().WithField("component", "checkout-balance")
	}
	return &balanceStrategy{logger: logger}
}

func (s *balanceStrategy) Reserve(ctx context.Context, r *reservation, now time.Time) error {
	if r.grant != nil {
		if err := r.grant.Redeem(now); err != nil {
			return err
		}
	}

	balance, err := r.tx.Balances().GetForUpdate(ctx, r.order.UserID)
	if err != nil {
		return err
	}
	total := r.order.TotalMinor()
	if total > 0 {
		if err := balance.Use(total); err != nil {
			return err
		}
		if err := r.tx.Balances().Save(ctx, balance); err != nil {
			return err
		}
	}

	// Исход известен сразу: платёж и заказ закрываются в этой же транзакции.
	// Внешнего шлюза в пути нет, поэтому transaction key остаётся пустым.
	if err := r.payment.MarkSuccess(now); err != nil {
		return err
	}
	return r.order.MarkPaid(now)
}

func (s *balanceStrategy) Settle(ctx context.Context, order domain.Order, payment domain.Payment, card *domain.CardDetails) (domain.Order, error) {
	return order, nil
}

// cardStrategy рассчитывается через внешний шлюз: в резервирующей транзакции
// платёж остаётся pending, а купон лишь резервируется. Обращение к шлюзу
// выполняется после commit, чтобы сетевой вызов не удерживал блокировки.
type cardStrategy struct {
	store       domain.Store
	gateway     domain.GatewayClient
	compensator domain.Compensator
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
	now         func() time.Time
	sleep       func(time.Duration)
}

// NewCardStrategy создаёт стратегию карточной оплаты.
func NewCardStrategy(store domain.Store, gateway domain.GatewayClient, logger *log.Entry) Strategy {
	if logger == nil {
		logger = log.New().WithField("component", "checkout-card")
	}
	return &cardStrategy{
		store:       store,
		gateway:     gateway,
		compensator: compensate.NewService(store, logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       time.Sleep,
	}
}

// NewCardStrategyWithMetrics создаёт карточную стратегию с метриками.
func NewCardStrategyWithMetrics(store domain.Store, gateway domain.GatewayClient, m *metrics.CheckoutMetrics, logger *log.Entry) Strategy {
	strategy := NewCardStrategy(store, gateway, logger).(*cardStrategy)
	strategy.compensator = compensate.NewServiceWithMetrics(store, m, logger)
	strategy.metrics = m
	return strategy
}

func (s *cardStrategy) Reserve(ctx context.Context, r *reservation, now time.Time) error {
	if r.grant != nil {
		if err := r.grant.Reserve(now); err != nil {
			return err
		}
	}
	// Баланс не участвует; платёж остаётся pending до ответа шлюза.
	return nil
}

func (s *cardStrategy) Settle(ctx context.Context, order domain.Order, payment domain.Payment, card *domain.CardDetails) (domain.Order, error) {
	if card == nil {
		return order, domain.ErrCardDetailsRequired
	}

	result, err := s.gateway.Charge(ctx, domain.ChargeRequest{
		PaymentID:   payment.ID,
		OrderID:     order.ID,
		CardType:    card.Type,
		CardNumber:  card.Number,
		AmountMinor: payment.AmountMinor,
	})
	if err != nil {
		// Resilient-клиент поглощает транспортные сбои fallback-результатом,
		// сюда доходят только окончательные отказы запроса.
		s.recordGatewayCall("error")
		return s.decline(ctx, order, "", err.Error())
	}

	switch {
	case result.Status == domain.GatewayStatusFailed || result.Status == domain.GatewayStatusCancelled:
		s.recordGatewayCall("declined")
		return s.decline(ctx, order, result.TransactionKey, result.Message)
	case result.Status == domain.GatewayStatusSuccess:
		s.recordGatewayCall("success")
		return s.confirm(ctx, order, result.TransactionKey)
	default:
		// PENDING/PROCESSING, включая синтетический fallback-ключ:
		// исход узнает callback или reconcile-воркер.
		if domain.IsFallbackKey(result.TransactionKey) {
			s.recordGatewayCall("fallback")
		} else {
			s.recordGatewayCall("pending")
		}
		return s.attachPending(ctx, order, result.TransactionKey)
	}
}

func (s *cardStrategy) recordGatewayCall(result string) {
	if s.metrics != nil {
		s.metrics.RecordGatewayCall(result)
	}
}

// confirm закрывает платёж и заказ после синхронного успеха шлюза.
func (s *cardStrategy) confirm(ctx context.Context, order domain.Order, transactionKey string) (domain.Order, error) {
	var updated domain.Order
	err := s.withinTxRetry(ctx, func(tx domain.Tx) error {
		var txErr error
		updated, _, txErr = ConfirmSettlement(ctx, tx, order.ID, transactionKey, s.now())
		return txErr
	})
	if err != nil {
		return order, err
	}
	if s.metrics != nil {
		s.metrics.RecordOrderPaid()
	}
	s.logger.WithFields(log.Fields{
		"order_id":        order.ID,
		"transaction_key": transactionKey,
	}).Info("card payment settled synchronously")
	return updated, nil
}

// decline отклоняет платёж и отменяет заказ; провал фиксируется первым,
// компенсация ресурсов идёт следом best-effort и не влияет на исход.
func (s *cardStrategy) decline(ctx context.Context, order domain.Order, transactionKey, reason string) (domain.Order, error) {
	var (
		updated domain.Order
		applied bool
	)
	err := s.withinTxRetry(ctx, func(tx domain.Tx) error {
		var txErr error
		updated, applied, txErr = FailSettlement(ctx, tx, order.ID, transactionKey, reason, s.logger, s.now())
		return txErr
	})
	if err != nil {
		return order, err
	}
	if applied {
		s.compensator.Restore(ctx, order.ID)
	}
	if s.metrics != nil {
		s.metrics.RecordOrderCanceled()
	}
	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"reason":   reason,
	}).Warn("card payment declined, order canceled")
	return updated, fmt.Errorf("%w: %s", domain.ErrPaymentDeclined, reason)
}

// attachPending сохраняет transaction key неопределившегося платежа.
func (s *cardStrategy) attachPending(ctx context.Context, order domain.Order, transactionKey string) (domain.Order, error) {
	err := s.withinTxRetry(ctx, func(tx domain.Tx) error {
		payment, err := tx.Payments().GetByOrderID(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := payment.AttachTransactionKey(transactionKey, s.now()); err != nil {
			return err
		}
		if err := tx.Payments().Save(ctx, payment); err != nil {
			return err
		}
		return enqueuePaymentEvent(tx, kafka.EventTypePaymentRequested, payment)
	})
	if err != nil {
		return order, err
	}
	s.logger.WithFields(log.Fields{
		"order_id":        order.ID,
		"transaction_key": transactionKey,
	}).Info("card payment pending, awaiting callback")
	return order, nil
}

func (s *cardStrategy) withinTxRetry(ctx context.Context, fn func(tx domain.Tx) error) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = s.store.WithinTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		s.logger.WithField("attempt", attempt+1).Warn("version conflict during settlement, retrying")
		s.sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return lastErr
}

var (
	_ Strategy = (*balanceStrategy)(nil)
	_ Strategy = (*cardStrategy)(nil)
)
