package checkout

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
)

// ConfirmSettlement переводит pending-платёж в success, а заказ — в paid,
// подтверждая зарезервированный купон. Вызывается внутри открытой транзакции
// и синхронной карточной веткой, и reconcile по callback.
// Идемпотентность: платёж не в pending — возврат без изменений (applied=false).
func ConfirmSettlement(ctx context.Context, tx domain.Tx, orderID, transactionKey string, now time.Time) (domain.Order, bool, error) {
	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}
	payment, err := tx.Payments().GetByOrderID(ctx, orderID)
	if err != nil {
		return order, false, err
	}

	if payment.Status != domain.PaymentStatusPending {
		return order, false, nil
	}

	if transactionKey != "" {
		// Реальный ключ вытесняет синтетический fallback-ключ.
		if err := payment.AttachTransactionKey(transactionKey, now); err != nil {
			return order, false, err
		}
	}
	if err := payment.MarkSuccess(now); err != nil {
		return order, false, err
	}
	if err := tx.Payments().Save(ctx, payment); err != nil {
		return order, false, err
	}

	if err := order.MarkPaid(now); err != nil {
		return order, false, err
	}
	if err := tx.Orders().Save(ctx, order); err != nil {
		return order, false, err
	}
	order.Version++

	if order.CouponGrantID != "" {
		grant, err := tx.Coupons().GetGrantForUpdate(ctx, order.CouponGrantID)
		if err != nil {
			return order, false, err
		}
		if grant.Status == domain.GrantStatusReserved {
			if err := grant.Confirm(now); err != nil {
				return order, false, err
			}
			if err := tx.Coupons().SaveGrant(ctx, grant); err != nil {
				return order, false, err
			}
		}
	}

	if err := enqueueOrderEvent(tx, kafka.EventTypeOrderPaid, order); err != nil {
		return order, false, err
	}
	if err := enqueuePaymentEvent(tx, kafka.EventTypePaymentSettled, payment); err != nil {
		return order, false, err
	}
	return order, true, nil
}

// FailSettlement отклоняет pending-платёж и отменяет заказ.
// Возврат зарезервированных ресурсов здесь намеренно не выполняется:
// компенсация идёт отдельной транзакцией после commit (domain.Compensator),
// чтобы её сбой не откатил уже состоявшийся провал платежа.
// Идемпотентность: платёж не в pending — возврат без изменений (applied=false).
func FailSettlement(ctx context.Context, tx domain.Tx, orderID, transactionKey, reason string, logger *log.Entry, now time.Time) (domain.Order, bool, error) {
	order, err := tx.Orders().Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}
	payment, err := tx.Payments().GetByOrderID(ctx, orderID)
	if err != nil {
		return order, false, err
	}

	if payment.Status != domain.PaymentStatusPending {
		return order, false, nil
	}

	if transactionKey != "" {
		if err := payment.AttachTransactionKey(transactionKey, now); err != nil {
			return order, false, err
		}
	}
	if err := payment.MarkFailed(reason, now); err != nil {
		return order, false, err
	}
	if err := tx.Payments().Save(ctx, payment); err != nil {
		return order, false, err
	}

	if err := order.MarkCanceled(now); err != nil {
		return order, false, err
	}
	if err := tx.Orders().Save(ctx, order); err != nil {
		return order, false, err
	}
	order.Version++

	if err := enqueueOrderEvent(tx, kafka.EventTypeOrderCanceled, order); err != nil {
		return order, false, err
	}
	if err := enqueuePaymentEvent(tx, kafka.EventTypePaymentFailed, payment); err != nil {
		return order, false, err
	}
	return order, true, nil
}

func enqueueOrderEvent(tx domain.Tx, eventType kafka.EventType, order domain.Order) error {
	payload, err := json.Marshal(kafka.NewOrderEvent(eventType, order.ID, order.UserID, string(order.Status), map[string]interface{}{
		"total_minor":    order.TotalMinor(),
		"discount_minor": order.DiscountMinor,
	}))
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     string(eventType),
		Payload:       payload,
	})
	return err
}

func enqueueStockEvent(tx domain.Tx, eventType kafka.EventType, productID, orderID string, qty int32) error {
	payload, err := json.Marshal(kafka.NewStockEvent(eventType, productID, orderID, qty))
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "stock",
		AggregateID:   productID,
		EventType:     string(eventType),
		Payload:       payload,
	})
	return err
}

func enqueuePaymentEvent(tx domain.Tx, eventType kafka.EventType, payment domain.Payment) error {
	payload, err := json.Marshal(kafka.NewPaymentEvent(eventType, payment.ID, payment.OrderID, payment.TransactionKey, string(payment.Status), nil))
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "payment",
		AggregateID:   payment.OrderID,
		EventType:     string(eventType),
		Payload:       payload,
	})
	return err
}
