package compensate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	maxRetries = 3
	baseDelay  = 10 * time.Millisecond
)

// Service возвращает зарезервированные ресурсы отменённого заказа:
// складской остаток по каждой позиции и купон.
// Ошибки логируются и не пробрасываются: компенсация не должна ронять
// вызывающий поток, недовосстановленные ресурсы чинятся повторным запуском.
type Service struct {
	store   domain.Store
	logger  *log.Entry
	metrics *metrics.CheckoutMetrics
	now     func() time.Time
}

// NewService создаёт сервис компенсации.
func NewService(store domain.Store, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "compensate")
	}
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// NewServiceWithMetrics создаёт сервис компенсации с метриками.
func NewServiceWithMetrics(store domain.Store, m *metrics.CheckoutMetrics, logger *log.Entry) *Service {
	svc := NewService(store, logger)
	svc.metrics = m
	return svc
}

// Restore выполняет компенсацию в собственной транзакции.
// Конфликт версий по стоку означает параллельное оформление — транзакция
// перезапускается с бэкоффом.
func (s *Service) Restore(ctx context.Context, orderID string) {
	if s.metrics != nil {
		s.metrics.RecordCompensation()
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.store.WithinTx(ctx, func(tx domain.Tx) error {
			order, err := tx.Orders().Get(ctx, orderID)
			if err != nil {
				return err
			}
			return RestoreResources(ctx, tx, order, s.logger, s.now())
		})
		if err == nil {
			s.logger.WithField("order_id", orderID).Info("compensation completed")
			return
		}

		lastErr = err
		if !domain.IsVersionConflict(err) {
			break
		}

		s.logger.WithFields(log.Fields{
			"order_id": orderID,
			"attempt":  attempt + 1,
		}).Warn("version conflict during compensation, retrying")
		time.Sleep(baseDelay * time.Duration(1<<uint(attempt)))
	}

	s.logger.WithError(lastErr).WithField("order_id", orderID).Error("compensation failed")
}

// RestoreResources возвращает ресурсы заказа внутри уже открытой транзакции.
// Используется и отдельной компенсацией, и отменой заказа в той же единице работы.
func RestoreResources(ctx context.Context, tx domain.Tx, order domain.Order, logger *log.Entry, now time.Time) error {
	for _, item := range order.Items {
		product, err := tx.Products().Get(ctx, item.ProductID)
		if err != nil {
			return err
		}
		if err := product.IncreaseStock(item.Qty); err != nil {
			return err
		}
		if err := tx.Products().Save(ctx, product); err != nil {
			return err
		}
		if err := enqueueStockRestored(tx, product.ID, order.ID, item.Qty); err != nil {
			return err
		}
	}

	if order.CouponGrantID == "" {
		return nil
	}

	grant, err := tx.Coupons().GetGrantForUpdate(ctx, order.CouponGrantID)
	if err != nil {
		return err
	}

	switch grant.Status {
	case domain.GrantStatusReserved:
		err = grant.Cancel(now)
	case domain.GrantStatusUsed:
		err = grant.Restore(now)
	default:
		// available — уже возвращён, expired — восстановлению не подлежит.
		if logger != nil {
			logger.WithFields(log.Fields{
				"order_id": order.ID,
				"grant_id": grant.ID,
				"status":   grant.Status,
			}).Debug("coupon grant left as is during compensation")
		}
		return nil
	}
	if err != nil {
		// Просроченный купон остаётся expired, это не срыв компенсации.
		if errors.Is(err, domain.ErrCouponExpired) {
			return tx.Coupons().SaveGrant(ctx, grant)
		}
		return err
	}

	return tx.Coupons().SaveGrant(ctx, grant)
}

func enqueueStockRestored(tx domain.Tx, productID, orderID string, qty int32) error {
	payload, err := json.Marshal(kafka.NewStockEvent(kafka.EventTypeStockRestored, productID, orderID, qty))
	if err != nil {
		return err
	}
	_, err = tx.Outbox().Enqueue(domain.OutboxMessage{
		AggregateType: "stock",
		AggregateID:   productID,
		EventType:     string(kafka.EventTypeStockRestored),
		Payload:       payload,
	})
	return err
}

var _ domain.Compensator = (*Service)(nil)
