package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/compensate"
)

// Outcome — исход сверки одного платежа.
type Outcome string

const (
	// OutcomeApplied — статус применён, платёж и заказ переведены.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate — платёж уже в терминальном статусе, изменений нет.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSkipped — статус шлюза не терминальный, решение отложено.
	OutcomeSkipped Outcome = "skipped"
)

// Reconciler приводит локальное состояние платежей к авторитетному статусу
// шлюза: по входящим callback и по активному опросу зависших pending-платежей.
// Все операции идемпотентны — повторная доставка callback безвредна.
type Reconciler struct {
	store       domain.Store
	gateway     domain.GatewayClient
	compensator domain.Compensator
	logger      *log.Entry
	metrics     *metrics.CheckoutMetrics
	now         func() time.Time
}

// NewReconciler создаёт сервис сверки платежей.
func NewReconciler(store domain.Store, gw domain.GatewayClient, logger *log.Entry) *Reconciler {
	if logger == nil {
		logger = log.New().WithField("component", "reconcile")
	}
	return &Reconciler{
		store:       store,
		gateway:     gw,
		compensator: compensate.NewService(store, logger),
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// NewReconcilerWithMetrics создаёт сервис сверки с метриками.
func NewReconcilerWithMetrics(store domain.Store, gw domain.GatewayClient, m *metrics.CheckoutMetrics, logger *log.Entry) *Reconciler {
	r := NewReconciler(store, gw, logger)
	r.compensator = compensate.NewServiceWithMetrics(store, m, logger)
	r.metrics = m
	return r
}

// ApplyCallback применяет асинхронное уведомление шлюза.
// Платёж ищется по transaction key, при его отсутствии — по заказу:
// callback с реальным ключом должен находить платёж, который пока
// помечен синтетическим fallback-ключом.
func (r *Reconciler) ApplyCallback(ctx context.Context, cb domain.GatewayCallback) (Outcome, error) {
	if cb.TransactionKey == "" {
		return OutcomeSkipped, domain.ErrTransactionKeyRequired
	}
	if !cb.Status.Terminal() {
		r.logger.WithFields(log.Fields{
			"transaction_key": cb.TransactionKey,
			"status":          cb.Status,
		}).Debug("non-terminal callback ignored")
		return OutcomeSkipped, nil
	}

	outcome, err := r.apply(ctx, cb.OrderID, cb.TransactionKey, cb.Status, cb.Message)
	r.record(outcome, err)
	return outcome, err
}

// SyncPayment принудительно сверяет один платёж с авторитетным статусом шлюза.
// Используется ручным endpoint'ом и фоновым воркером.
func (r *Reconciler) SyncPayment(ctx context.Context, transactionKey string) (Outcome, error) {
	var payment domain.Payment
	err := r.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		payment, txErr = tx.Payments().GetByTransactionKey(ctx, transactionKey)
		return txErr
	})
	if err != nil {
		return OutcomeSkipped, err
	}

	if payment.Status != domain.PaymentStatusPending {
		return OutcomeDuplicate, nil
	}

	// Для fallback-ключа реального ключа у шлюза нет — опрашиваем по
	// merchant reference. Шлюз знает платёж по payment_id из charge-запроса,
	// поэтому merchant_ref — это идентификатор платежа, не заказа.
	queryKey := transactionKey
	if domain.IsFallbackKey(queryKey) {
		queryKey = ""
	}
	result, err := r.gateway.QueryStatus(ctx, payment.ID, queryKey)
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("query gateway status: %w", err)
	}
	if !result.Status.Terminal() {
		r.logger.WithFields(log.Fields{
			"order_id": payment.OrderID,
			"status":   result.Status,
		}).Debug("payment still pending on gateway side")
		return OutcomeSkipped, nil
	}

	outcome, err := r.apply(ctx, payment.OrderID, result.TransactionKey, result.Status, result.Message)
	r.record(outcome, err)
	return outcome, err
}

// apply переводит платёж и заказ в терминальное состояние в одной транзакции.
// Компенсация отказа выполняется отдельной транзакцией после commit:
// её сбой не должен откатывать уже зафиксированный провал платежа.
func (r *Reconciler) apply(ctx context.Context, orderID, transactionKey string, status domain.GatewayStatus, message string) (Outcome, error) {
	var (
		applied         bool
		resolvedOrderID string
	)
	err := r.withinTxRetry(ctx, func(tx domain.Tx) error {
		resolvedOrderID = orderID
		if resolvedOrderID == "" {
			payment, err := tx.Payments().GetByTransactionKey(ctx, transactionKey)
			if err != nil {
				return err
			}
			resolvedOrderID = payment.OrderID
		}

		var txErr error
		switch status {
		case domain.GatewayStatusSuccess:
			_, applied, txErr = checkout.ConfirmSettlement(ctx, tx, resolvedOrderID, transactionKey, r.now())
		default:
			_, applied, txErr = checkout.FailSettlement(ctx, tx, resolvedOrderID, transactionKey, message, r.logger, r.now())
		}
		if txErr != nil {
			return txErr
		}
		if !applied {
			return nil
		}

		payment, err := tx.Payments().GetByOrderID(ctx, resolvedOrderID)
		if err != nil {
			return err
		}
		return enqueueSyncedEvent(tx, payment)
	})
	if err != nil {
		return OutcomeSkipped, err
	}

	if !applied {
		return OutcomeDuplicate, nil
	}

	if status != domain.GatewayStatusSuccess {
		r.compensator.Restore(ctx, resolvedOrderID)
	}

	r.logger.WithFields(log.Fields{
		"order_id":        orderID,
		"transaction_key": transactionKey,
		"status":          status,
	}).Info("payment reconciled")
	return OutcomeApplied, nil
}

func (r *Reconciler) withinTxRetry(ctx context.Context, fn func(tx domain.Tx) error) error {
	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		lastErr = r.store.WithinTx(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !domain.IsVersionConflict(lastErr) {
			return lastErr
		}
		r.logger.WithField("attempt", attempt+1).Warn("version conflict during reconcile, retrying")
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}
	return lastErr
}

func (r *Reconciler) record(outcome Outcome, err error) {
	if r.metrics == nil {
		return
	}
	if err != nil {
		r.metrics.RecordCallbackOutcome("failed")
		return
	}
	r.metrics.RecordCallbackOutcome(string(outcome))
}

func enqueueSyncedEvent(tx domain.Tx, payment domain.Payment) error {
	payload, err := json.Marshal(kafka.NewPaymentEvent(kafka.EventTypePaymentSynced, payment.ID, payment.OrderID, payment.TransactionKey, string(payment.Status), nil))
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   payment.OrderID,
		EventType:     string(kafka.EventTypePaymentSynced),
		Payload:       payload,
	})
	return err
}
