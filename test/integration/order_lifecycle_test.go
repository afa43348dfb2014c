package integration

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// OrderLifecycleTestSuite тестирует полный жизненный цикл заказа:
// резервирование, расчёт обеими стратегиями, callback-сверку и компенсации.
type OrderLifecycleTestSuite struct {
	suite.Suite
	store        *memory.Store
	gateway      *gateway.MockClient
	orchestrator *checkout.Orchestrator
	reconciler   *reconcile.Reconciler
}

func (suite *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	suite.store = memory.NewStore()
	suite.gateway = gateway.NewMockClient()

	dispatcher := checkout.NewDispatcher(
		checkout.NewBalanceStrategy(logger),
		checkout.NewCardStrategy(suite.store, suite.gateway, logger),
	)
	suite.orchestrator = checkout.NewOrchestrator(suite.store, dispatcher, logger)
	suite.reconciler = reconcile.NewReconciler(suite.store, suite.gateway, logger)
}

func (suite *OrderLifecycleTestSuite) seedCatalog(stock int32, balanceMinor int64) {
	ctx := context.Background()
	now := time.Now().UTC()

	err := suite.store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID:         "laptop-pro",
			Name:       "Laptop Pro",
			PriceMinor: 199900,
			StockQty:   stock,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		return tx.Balances().Create(ctx, domain.Balance{
			UserID:      "customer-123",
			AmountMinor: balanceMinor,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	})
	require.NoError(suite.T(), err)
}

func (suite *OrderLifecycleTestSuite) seedCoupon(id string, discountMinor int64) {
	ctx := context.Background()
	now := time.Now().UTC()

	err := suite.store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Coupons().CreateTemplate(ctx, domain.CouponTemplate{
			ID:           "tpl-" + id,
			Name:         "Integration discount",
			DiscountType: domain.DiscountTypeFixed,
			Value:        discountMinor,
			ValidFrom:    now.Add(-time.Hour),
			ValidUntil:   now.Add(time.Hour),
			CreatedAt:    now,
		}); err != nil {
			return err
		}
		return tx.Coupons().CreateGrant(ctx, domain.CouponGrant{
			ID:        id,
			UserID:    "customer-123",
			CouponID:  "tpl-" + id,
			Status:    domain.GrantStatusAvailable,
			ExpiresAt: now.Add(time.Hour),
			CreatedAt: now,
			UpdatedAt: now,
		})
	})
	require.NoError(suite.T(), err)
}

func (suite *OrderLifecycleTestSuite) productStock(id string) int32 {
	ctx := context.Background()
	var product domain.Product
	err := suite.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		product, txErr = tx.Products().Get(ctx, id)
		return txErr
	})
	require.NoError(suite.T(), err)
	return product.StockQty
}

func (suite *OrderLifecycleTestSuite) userBalance(userID string) int64 {
	ctx := context.Background()
	var balance domain.Balance
	err := suite.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		balance, txErr = tx.Balances().Get(ctx, userID)
		return txErr
	})
	require.NoError(suite.T(), err)
	return balance.AmountMinor
}

func (suite *OrderLifecycleTestSuite) grantStatus(id string) domain.GrantStatus {
	ctx := context.Background()
	var grant domain.CouponGrant
	err := suite.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		grant, txErr = tx.Coupons().GetGrant(ctx, id)
		return txErr
	})
	require.NoError(suite.T(), err)
	return grant.Status
}

func (suite *OrderLifecycleTestSuite) pendingEventTypes() map[string]int {
	messages, err := suite.store.Outbox().PullPending(100)
	require.NoError(suite.T(), err)

	types := make(map[string]int, len(messages))
	for _, msg := range messages {
		types[msg.EventType]++
	}
	return types
}

func (suite *OrderLifecycleTestSuite) TestBalancePaymentSettlesSynchronously() {
	ctx := context.Background()
	suite.seedCatalog(5, 500000)

	order, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID: "customer-123",
		Items:  []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 2}},
		Method: domain.PaymentMethodBalance,
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaid, order.Status)
	require.Equal(suite.T(), int64(399800), order.TotalMinor())

	// Ресурсы списаны, исход зафиксирован в одной транзакции.
	require.Equal(suite.T(), int32(3), suite.productStock("laptop-pro"))
	require.Equal(suite.T(), int64(100200), suite.userBalance("customer-123"))

	events := suite.pendingEventTypes()
	require.Equal(suite.T(), 1, events["order.created"])
	require.Equal(suite.T(), 1, events["order.paid"])
	require.Equal(suite.T(), 1, events["payment.settled"])
	require.Equal(suite.T(), 1, events["stock.reserved"])
}

func (suite *OrderLifecycleTestSuite) TestCardPaymentSettledByCallback() {
	ctx := context.Background()
	suite.seedCatalog(5, 0)
	suite.seedCoupon("grant-1", 50000)

	// Шлюз принимает платёж и обещает callback.
	suite.gateway.ChargeResult = domain.ChargeResult{
		Success:        true,
		TransactionKey: "tx-async-1",
		Status:         domain.GatewayStatusPending,
	}

	order, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID:        "customer-123",
		Items:         []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 1}},
		CouponGrantID: "grant-1",
		Method:        domain.PaymentMethodCard,
		Card:          &domain.CardDetails{Type: "visa", Number: "4111-1111-1111-1111"},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPending, order.Status)
	require.Equal(suite.T(), int64(50000), order.DiscountMinor)
	require.Equal(suite.T(), 1, suite.gateway.ChargeCalls)

	// Купон зарезервирован до исхода платежа.
	require.Equal(suite.T(), domain.GrantStatusReserved, suite.grantStatus("grant-1"))

	outcome, err := suite.reconciler.ApplyCallback(ctx, domain.GatewayCallback{
		TransactionKey: "tx-async-1",
		OrderID:        order.ID,
		Status:         domain.GatewayStatusSuccess,
		AmountMinor:    order.TotalMinor(),
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), reconcile.OutcomeApplied, outcome)

	settled, err := suite.orchestrator.GetOrder(ctx, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusPaid, settled.Status)
	require.Equal(suite.T(), domain.GrantStatusUsed, suite.grantStatus("grant-1"))

	// Повторная доставка callback безвредна.
	outcome, err = suite.reconciler.ApplyCallback(ctx, domain.GatewayCallback{
		TransactionKey: "tx-async-1",
		OrderID:        order.ID,
		Status:         domain.GatewayStatusSuccess,
		AmountMinor:    order.TotalMinor(),
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), reconcile.OutcomeDuplicate, outcome)
}

func (suite *OrderLifecycleTestSuite) TestCardDeclineCompensatesReservation() {
	ctx := context.Background()
	suite.seedCatalog(5, 0)
	suite.seedCoupon("grant-2", 10000)

	suite.gateway.ChargeResult = domain.ChargeResult{
		Success:        false,
		TransactionKey: "tx-declined-1",
		Status:         domain.GatewayStatusFailed,
		Message:        "insufficient funds",
	}

	order, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID:        "customer-123",
		Items:         []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 2}},
		CouponGrantID: "grant-2",
		Method:        domain.PaymentMethodCard,
		Card:          &domain.CardDetails{Type: "visa", Number: "4111-1111-1111-1111"},
	})
	require.ErrorIs(suite.T(), err, domain.ErrPaymentDeclined)
	require.Equal(suite.T(), domain.OrderStatusCanceled, order.Status)

	// Компенсация вернула сток и купон.
	require.Equal(suite.T(), int32(5), suite.productStock("laptop-pro"))
	require.Equal(suite.T(), domain.GrantStatusAvailable, suite.grantStatus("grant-2"))

	events := suite.pendingEventTypes()
	require.Equal(suite.T(), 1, events["order.canceled"])
	require.Equal(suite.T(), 1, events["payment.failed"])
	require.Equal(suite.T(), 1, events["stock.reserved"])
	require.Equal(suite.T(), 1, events["stock.restored"])
}

func (suite *OrderLifecycleTestSuite) TestCallbackFailureCancelsPendingOrder() {
	ctx := context.Background()
	suite.seedCatalog(3, 0)

	suite.gateway.ChargeResult = domain.ChargeResult{
		Success:        true,
		TransactionKey: "tx-async-2",
		Status:         domain.GatewayStatusPending,
	}

	order, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID: "customer-123",
		Items:  []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 1}},
		Method: domain.PaymentMethodCard,
		Card:   &domain.CardDetails{Type: "mastercard", Number: "5555-5555-5555-4444"},
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), int32(2), suite.productStock("laptop-pro"))

	outcome, err := suite.reconciler.ApplyCallback(ctx, domain.GatewayCallback{
		TransactionKey: "tx-async-2",
		OrderID:        order.ID,
		Status:         domain.GatewayStatusFailed,
		Message:        "3ds verification failed",
	})
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), reconcile.OutcomeApplied, outcome)

	canceled, err := suite.orchestrator.GetOrder(ctx, order.ID)
	require.NoError(suite.T(), err)
	require.Equal(suite.T(), domain.OrderStatusCanceled, canceled.Status)
	require.Equal(suite.T(), int32(3), suite.productStock("laptop-pro"))
}

func (suite *OrderLifecycleTestSuite) TestInsufficientStockRejectsPlacement() {
	ctx := context.Background()
	suite.seedCatalog(1, 500000)

	_, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID: "customer-123",
		Items:  []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 2}},
		Method: domain.PaymentMethodBalance,
	})
	require.ErrorIs(suite.T(), err, domain.ErrInsufficientStock)

	// Откат транзакции: ничего не списано и событий нет.
	require.Equal(suite.T(), int32(1), suite.productStock("laptop-pro"))
	require.Equal(suite.T(), int64(500000), suite.userBalance("customer-123"))
	require.Empty(suite.T(), suite.pendingEventTypes())
}

func (suite *OrderLifecycleTestSuite) TestInsufficientBalanceRollsBackStock() {
	ctx := context.Background()
	suite.seedCatalog(5, 100)

	_, err := suite.orchestrator.PlaceOrder(ctx, checkout.PlaceOrderCommand{
		UserID: "customer-123",
		Items:  []checkout.PlaceOrderItem{{ProductID: "laptop-pro", Qty: 1}},
		Method: domain.PaymentMethodBalance,
	})
	require.ErrorIs(suite.T(), err, domain.ErrInsufficientBalance)

	require.Equal(suite.T(), int32(5), suite.productStock("laptop-pro"))
	require.Equal(suite.T(), int64(100), suite.userBalance("customer-123"))
}

func TestOrderLifecycle(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
