package postgres

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestStore_PostgresOpenPingAndClose(t *testing.T) {
	store := openRawPostgresStoreForIntegrationTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("ping store: %v", err)
	}
	if store.DB() == nil {
		t.Fatal("expected non-nil raw DB")
	}
	if store.Outbox() == nil {
		t.Fatal("expected outbox repository")
	}
	if store.Idempotency() == nil {
		t.Fatal("expected idempotency repository")
	}

	var nilStore *Store
	if err := nilStore.Ping(ctx); err == nil {
		t.Fatal("expected error for nil store ping")
	}
	if err := nilStore.Close(); err != nil {
		t.Fatalf("nil store close should be no-op: %v", err)
	}
}

func TestStore_PostgresWithinTxCommitsSaga(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID: "product-1", Name: "Клавиатура", PriceMinor: 10000, StockQty: 10,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if err := tx.Balances().Create(ctx, domain.Balance{
			UserID: "user-1", AmountMinor: 50000, CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Orders().Create(ctx, domain.Order{
			ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending,
			Items: []domain.OrderItem{
				{ID: "item-1", ProductID: "product-1", Qty: 2, PriceMinor: 10000, CreatedAt: now},
			},
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("within tx commit: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		product, err := tx.Products().Get(ctx, "product-1")
		if err != nil {
			return err
		}
		if product.StockQty != 10 {
			return fmt.Errorf("unexpected stock: %d", product.StockQty)
		}

		order, err := tx.Orders().Get(ctx, "order-1")
		if err != nil {
			return err
		}
		if len(order.Items) != 1 || order.Items[0].ProductID != "product-1" {
			return fmt.Errorf("unexpected order items: %+v", order.Items)
		}

		orders, err := tx.Orders().ListByUser(ctx, "user-1", 10)
		if err != nil {
			return err
		}
		if len(orders) != 1 {
			return fmt.Errorf("expected 1 order, got %d", len(orders))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("within tx read back: %v", err)
	}
}

func TestStore_PostgresWithinTxRollsBackOnError(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	sentinel := errors.New("boom")
	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Products().Create(ctx, domain.Product{
			ID: "product-rollback", Name: "Мышь", PriceMinor: 5000, StockQty: 3,
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		if _, err := tx.Outbox().Enqueue(domain.OutboxMessage{
			AggregateType: "order",
			AggregateID:   "order-rollback",
			EventType:     "order.created",
			Payload:       []byte(`{"id":"order-rollback"}`),
		}); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel error, got %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		_, err := tx.Products().Get(ctx, "product-rollback")
		return err
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected product rollback, got %v", err)
	}

	stats, err := store.Outbox().Stats()
	if err != nil {
		t.Fatalf("outbox stats: %v", err)
	}
	if stats.PendingCount != 0 {
		t.Fatalf("expected outbox rollback, got %d pending", stats.PendingCount)
	}
}

func TestStore_PostgresOptimisticVersionConflict(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.Products().Create(ctx, domain.Product{
			ID: "product-versioned", Name: "Монитор", PriceMinor: 30000, StockQty: 5,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}

	// Первое сохранение на version=0 проходит и инкрементирует версию.
	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		product, err := tx.Products().Get(ctx, "product-versioned")
		if err != nil {
			return err
		}
		product.StockQty = 4
		product.UpdatedAt = time.Now().UTC()
		return tx.Products().Save(ctx, product)
	})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}

	// Сохранение с устаревшей версией падает конфликтом.
	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		stale := domain.Product{ID: "product-versioned", Name: "Монитор", PriceMinor: 30000, StockQty: 3, Version: 0, UpdatedAt: time.Now().UTC()}
		return tx.Products().Save(ctx, stale)
	})
	if !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		missing := domain.Product{ID: "product-missing", Version: 0}
		return tx.Products().Save(ctx, missing)
	})
	if !errors.Is(err, domain.ErrProductNotFound) {
		t.Fatalf("expected not found for missing product, got %v", err)
	}
}

func TestStore_PostgresPaymentLifecycle(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Orders().Create(ctx, domain.Order{
			ID: "order-pay", UserID: "user-pay", Status: domain.OrderStatusPending,
			CreatedAt: now.Add(-10 * time.Minute), UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Payments().Create(ctx, domain.Payment{
			ID: "payment-pay", OrderID: "order-pay", Method: domain.PaymentMethodCard,
			CardMasked: "************3456", AmountMinor: 20000,
			TransactionKey: "tx-ext-1", Status: domain.PaymentStatusPending,
			CreatedAt: now.Add(-10 * time.Minute), UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed payment: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		byKey, err := tx.Payments().GetByTransactionKey(ctx, "tx-ext-1")
		if err != nil {
			return err
		}
		if byKey.ID != "payment-pay" {
			return fmt.Errorf("unexpected payment by key: %s", byKey.ID)
		}

		byOrder, err := tx.Payments().GetByOrderID(ctx, "order-pay")
		if err != nil {
			return err
		}
		if byOrder.ID != byKey.ID {
			return fmt.Errorf("payment mismatch: %s vs %s", byOrder.ID, byKey.ID)
		}

		stale, err := tx.Payments().ListStalePending(ctx, now.Add(-time.Minute), 10)
		if err != nil {
			return err
		}
		if len(stale) != 1 {
			return fmt.Errorf("expected 1 stale payment, got %d", len(stale))
		}

		byKey.Status = domain.PaymentStatusSuccess
		byKey.UpdatedAt = time.Now().UTC()
		return tx.Payments().Save(ctx, byKey)
	})
	if err != nil {
		t.Fatalf("payment lifecycle: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		stale, err := tx.Payments().ListStalePending(ctx, now.Add(-time.Minute), 10)
		if err != nil {
			return err
		}
		if len(stale) != 0 {
			return fmt.Errorf("settled payment must not be stale, got %d", len(stale))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stale after settle: %v", err)
	}
}

func TestStore_PostgresCouponRoundTrip(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC().Round(time.Microsecond)

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		if err := tx.Coupons().CreateTemplate(ctx, domain.CouponTemplate{
			ID: "template-1", Name: "Скидка 3000", DiscountType: domain.DiscountTypeFixed, Value: 3000,
			ValidFrom: now.Add(-time.Hour), ValidUntil: now.Add(time.Hour), CreatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Coupons().CreateGrant(ctx, domain.CouponGrant{
			ID: "grant-1", UserID: "user-1", CouponID: "template-1",
			Status: domain.GrantStatusAvailable, ExpiresAt: now.Add(time.Hour),
			CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed coupon: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		grant, err := tx.Coupons().GetGrantForUpdate(ctx, "grant-1")
		if err != nil {
			return err
		}
		grant.Status = domain.GrantStatusUsed
		grant.UpdatedAt = time.Now().UTC()
		return tx.Coupons().SaveGrant(ctx, grant)
	})
	if err != nil {
		t.Fatalf("redeem grant: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		grant, err := tx.Coupons().GetGrant(ctx, "grant-1")
		if err != nil {
			return err
		}
		if grant.Status != domain.GrantStatusUsed {
			return fmt.Errorf("expected used grant, got %s", grant.Status)
		}

		template, err := tx.Coupons().GetTemplate(ctx, "template-1")
		if err != nil {
			return err
		}
		if template.DiscountType != domain.DiscountTypeFixed || template.Value != 3000 {
			return fmt.Errorf("unexpected template: %+v", template)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back coupon: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		_, err := tx.Coupons().GetGrant(ctx, "grant-missing")
		return err
	})
	if !errors.Is(err, domain.ErrCouponNotFound) {
		t.Fatalf("expected coupon not found, got %v", err)
	}
}

func TestStore_PostgresBalanceForUpdate(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.WithinTx(ctx, func(tx domain.Tx) error {
		return tx.Balances().Create(ctx, domain.Balance{
			UserID: "user-lock", AmountMinor: 10000, CreatedAt: now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		balance, err := tx.Balances().GetForUpdate(ctx, "user-lock")
		if err != nil {
			return err
		}
		if err := balance.Use(4000); err != nil {
			return err
		}
		return tx.Balances().Save(ctx, balance)
	})
	if err != nil {
		t.Fatalf("debit balance: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		balance, err := tx.Balances().Get(ctx, "user-lock")
		if err != nil {
			return err
		}
		if balance.AmountMinor != 6000 {
			return fmt.Errorf("expected 6000, got %d", balance.AmountMinor)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back balance: %v", err)
	}

	err = store.WithinTx(ctx, func(tx domain.Tx) error {
		_, err := tx.Balances().GetForUpdate(ctx, "user-missing")
		return err
	})
	if !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Fatalf("expected balance not found, got %v", err)
	}
}
