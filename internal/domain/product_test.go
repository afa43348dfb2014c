package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func makeProduct() domain.Product {
	now := time.Now().UTC()
	return domain.Product{
		ID:         "product-1",
		Name:       "keyboard",
		PriceMinor: 10000,
		StockQty:   10,
		Version:    0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestProductDecreaseStock_Ok(t *testing.T) {
	product := makeProduct()

	if err := product.DecreaseStock(3); err != nil {
		t.Fatalf("decrease stock: %v", err)
	}
	if product.StockQty != 7 {
		t.Fatalf("expected stock 7, got %d", product.StockQty)
	}
}

func TestProductDecreaseStock_Insufficient(t *testing.T) {
	product := makeProduct()

	err := product.DecreaseStock(11)
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	// Остаток не должен меняться при отказе.
	if product.StockQty != 10 {
		t.Fatalf("expected stock unchanged, got %d", product.StockQty)
	}
}

func TestProductDecreaseStock_InvalidQty(t *testing.T) {
	product := makeProduct()

	for _, qty := range []int32{0, -1} {
		if err := product.DecreaseStock(qty); !errors.Is(err, domain.ErrQtyInvalid) {
			t.Fatalf("qty=%d: expected ErrQtyInvalid, got %v", qty, err)
		}
	}
}

func TestProductIncreaseStock(t *testing.T) {
	product := makeProduct()

	if err := product.IncreaseStock(5); err != nil {
		t.Fatalf("increase stock: %v", err)
	}
	if product.StockQty != 15 {
		t.Fatalf("expected stock 15, got %d", product.StockQty)
	}

	if err := product.IncreaseStock(0); !errors.Is(err, domain.ErrQtyInvalid) {
		t.Fatalf("expected ErrQtyInvalid, got %v", err)
	}
}

func TestBalanceUse(t *testing.T) {
	balance := domain.Balance{UserID: "user-1", AmountMinor: 100000}

	if err := balance.Use(25000); err != nil {
		t.Fatalf("use balance: %v", err)
	}
	if balance.AmountMinor != 75000 {
		t.Fatalf("expected balance 75000, got %d", balance.AmountMinor)
	}

	if err := balance.Use(100000); !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if balance.AmountMinor != 75000 {
		t.Fatalf("expected balance unchanged after rejection, got %d", balance.AmountMinor)
	}
}

func TestBalanceCharge(t *testing.T) {
	balance := domain.Balance{UserID: "user-1", AmountMinor: 1000}

	if err := balance.Charge(500); err != nil {
		t.Fatalf("charge balance: %v", err)
	}
	if balance.AmountMinor != 1500 {
		t.Fatalf("expected balance 1500, got %d", balance.AmountMinor)
	}

	if err := balance.Charge(-1); !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid, got %v", err)
	}
}
