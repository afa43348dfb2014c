package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

func newTestSimulator(cfg config) *simulator {
	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	return newSimulator(cfg, log.NewEntry(logger))
}

func doCharge(t *testing.T, server *httptest.Server, req chargeRequest) chargeResponse {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal charge: %v", err)
	}

	resp, err := http.Post(server.URL+"/api/v1/payments", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("charge request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected charge status: %d", resp.StatusCode)
	}

	var decoded chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode charge response: %v", err)
	}
	return decoded
}

func TestSimulatorChargeDeliversSuccessCallback(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received callbackPayload
	)
	done := make(chan struct{})

	callbacks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode callback: %v", err)
		}
		w.WriteHeader(http.StatusOK)
		close(done)
	}))
	defer callbacks.Close()

	sim := newTestSimulator(config{callbackDelay: 10 * time.Millisecond})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	resp := doCharge(t, server, chargeRequest{
		PaymentID:   "pay-1",
		OrderID:     "order-1",
		AmountMinor: 50000,
		CallbackURL: callbacks.URL,
	})

	if !resp.Success || resp.Status != "PENDING" || resp.TransactionKey == "" {
		t.Fatalf("unexpected charge response: %+v", resp)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	if received.Status != "SUCCESS" {
		t.Fatalf("expected SUCCESS callback, got %+v", received)
	}
	if received.TransactionKey != resp.TransactionKey {
		t.Fatalf("transaction key mismatch: %s vs %s", received.TransactionKey, resp.TransactionKey)
	}
	if received.OrderID != "order-1" || received.AmountMinor != 50000 {
		t.Fatalf("unexpected callback payload: %+v", received)
	}
}

func TestSimulatorChargeDeclinedCallback(t *testing.T) {
	t.Parallel()

	done := make(chan callbackPayload, 1)
	callbacks := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload callbackPayload
		_ = json.NewDecoder(r.Body).Decode(&payload)
		done <- payload
	}))
	defer callbacks.Close()

	sim := newTestSimulator(config{callbackDelay: 5 * time.Millisecond, declineRate: 100})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	doCharge(t, server, chargeRequest{
		PaymentID:   "pay-declined",
		OrderID:     "order-2",
		AmountMinor: 1000,
		CallbackURL: callbacks.URL,
	})

	select {
	case payload := <-done:
		if payload.Status != "FAILED" {
			t.Fatalf("expected FAILED callback, got %+v", payload)
		}
		if payload.Message == "" {
			t.Fatal("expected decline message in callback")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not delivered")
	}
}

func TestSimulatorDuplicateChargeReturnsSameTransaction(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{callbackDelay: time.Hour})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	req := chargeRequest{PaymentID: "pay-dup", OrderID: "order-3", AmountMinor: 100}

	first := doCharge(t, server, req)
	second := doCharge(t, server, req)

	if first.TransactionKey != second.TransactionKey {
		t.Fatalf("expected same transaction key, got %s and %s", first.TransactionKey, second.TransactionKey)
	}
	if second.Message != "duplicate charge" {
		t.Fatalf("unexpected duplicate response: %+v", second)
	}
}

func TestSimulatorChargeValidation(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	body := []byte(`{"payment_id":"","amount":0}`)
	resp, err := http.Post(server.URL+"/api/v1/payments", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("charge request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestSimulatorStatusLookup(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{syncRate: 100})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	charged := doCharge(t, server, chargeRequest{PaymentID: "pay-status", OrderID: "order-4", AmountMinor: 777})
	if charged.Status != "SUCCESS" {
		t.Fatalf("sync mode must settle immediately, got %+v", charged)
	}

	resp, err := http.Get(server.URL + "/api/v1/payments/status?transaction_key=" + charged.TransactionKey)
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()

	var status chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Success || status.Status != "SUCCESS" {
		t.Fatalf("unexpected status response: %+v", status)
	}

	// Поиск по merchant_ref указывает на ту же транзакцию.
	byRef, err := http.Get(server.URL + "/api/v1/payments/status?merchant_ref=pay-status")
	if err != nil {
		t.Fatalf("status by merchant_ref: %v", err)
	}
	defer byRef.Body.Close()

	var refStatus chargeResponse
	if err := json.NewDecoder(byRef.Body).Decode(&refStatus); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if refStatus.TransactionKey != charged.TransactionKey {
		t.Fatalf("merchant_ref lookup mismatch: %+v", refStatus)
	}
}

func TestSimulatorStatusNotFound(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	resp, err := http.Get(server.URL + "/api/v1/payments/status?transaction_key=missing")
	if err != nil {
		t.Fatalf("status request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSimulatorErrorInjection(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{errorRate: 100})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	resp, err := http.Post(server.URL+"/api/v1/payments", "application/json", bytes.NewReader([]byte(`{}`)))
	if err != nil {
		t.Fatalf("charge request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

// Сквозной сценарий: checkout не дождался ответа на charge и присвоил
// платежу синтетический fallback-ключ, хотя списание на стороне шлюза
// состоялось. Sync обязан опросить статус по merchant_ref (идентификатору
// платежа) и довести заказ до paid — ключа fallback:* у шлюза нет.
func TestSimulatorSyncResolvesFallbackKeyPayment(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{syncRate: 100})
	server := httptest.NewServer(sim.router())
	defer server.Close()

	store := memory.NewStore()
	now := time.Now().UTC()
	err := store.WithinTx(context.Background(), func(tx domain.Tx) error {
		if err := tx.Orders().Create(context.Background(), domain.Order{
			ID: "order-1", UserID: "user-1", Status: domain.OrderStatusPending,
			Items: []domain.OrderItem{{
				ID: "item-1", ProductID: "product-a", Qty: 1, PriceMinor: 50000, CreatedAt: now,
			}},
			CreatedAt: now, UpdatedAt: now,
		}); err != nil {
			return err
		}
		return tx.Payments().Create(context.Background(), domain.Payment{
			ID: "pay-1", OrderID: "order-1", Method: domain.PaymentMethodCard,
			AmountMinor: 50000, Status: domain.PaymentStatusPending,
			TransactionKey: domain.FallbackKeyPrefix + "pay-1",
			CreatedAt:      now, UpdatedAt: now,
		})
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Charge дошёл до шлюза и провёлся, ответ до checkout не добрался.
	charged := doCharge(t, server, chargeRequest{PaymentID: "pay-1", OrderID: "order-1", AmountMinor: 50000})
	if charged.Status != "SUCCESS" {
		t.Fatalf("sync mode must settle immediately, got %+v", charged)
	}

	logger := log.New()
	logger.SetLevel(log.PanicLevel)
	entry := log.NewEntry(logger)

	client := gateway.NewHTTPClient(server.URL, "", "merchant-test", time.Second, entry)
	reconciler := reconcile.NewReconciler(store, client, entry)

	outcome, err := reconciler.SyncPayment(context.Background(), domain.FallbackKeyPrefix+"pay-1")
	if err != nil {
		t.Fatalf("sync payment: %v", err)
	}
	if outcome != reconcile.OutcomeApplied {
		t.Fatalf("expected applied outcome, got %s", outcome)
	}

	err = store.WithinTx(context.Background(), func(tx domain.Tx) error {
		order, err := tx.Orders().Get(context.Background(), "order-1")
		if err != nil {
			return err
		}
		if order.Status != domain.OrderStatusPaid {
			t.Errorf("expected paid order, got %s", order.Status)
		}
		payment, err := tx.Payments().Get(context.Background(), "pay-1")
		if err != nil {
			return err
		}
		if payment.Status != domain.PaymentStatusSuccess {
			t.Errorf("expected success payment, got %s", payment.Status)
		}
		if payment.TransactionKey != charged.TransactionKey {
			t.Errorf("real transaction key must replace fallback, got %q", payment.TransactionKey)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestRollBoundaries(t *testing.T) {
	t.Parallel()

	sim := newTestSimulator(config{})

	if sim.roll(0) {
		t.Fatal("rate 0 must never fire")
	}
	if !sim.roll(100) {
		t.Fatal("rate 100 must always fire")
	}
}
