package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newTestResilient(inner domain.GatewayClient, breaker *CircuitBreaker) *Resilient {
	r := NewResilient(inner, RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		BackoffFactor: 1.0,
	}, breaker, log.New().WithField("test", "resilience"))
	r.sleep = func(time.Duration) {}
	return r
}

func TestResilientCharge_RetriesTransientThenSucceeds(t *testing.T) {
	mock := NewMockClient()
	mock.ChargeErrs = []error{
		fmt.Errorf("%w: connection refused", domain.ErrGatewayTemporary),
		fmt.Errorf("%w: timeout", domain.ErrGatewayTemporary),
	}

	r := newTestResilient(mock, nil)
	result, err := r.Charge(context.Background(), domain.ChargeRequest{PaymentID: "payment-1"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if mock.ChargeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", mock.ChargeCalls)
	}
	if result.TransactionKey != "tx-mock-1" {
		t.Fatalf("expected real transaction key, got %q", result.TransactionKey)
	}
}

func TestResilientCharge_FallbackAfterExhaustedRetries(t *testing.T) {
	mock := NewMockClient()
	mock.ChargeErr = fmt.Errorf("%w: connection refused", domain.ErrGatewayTemporary)

	r := newTestResilient(mock, nil)
	result, err := r.Charge(context.Background(), domain.ChargeRequest{PaymentID: "payment-1"})
	if err != nil {
		t.Fatalf("charge must not fail, fallback expected: %v", err)
	}
	if mock.ChargeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", mock.ChargeCalls)
	}
	if !domain.IsFallbackKey(result.TransactionKey) {
		t.Fatalf("expected fallback transaction key, got %q", result.TransactionKey)
	}
	if result.TransactionKey != domain.FallbackKeyPrefix+"payment-1" {
		t.Fatalf("fallback key must be deterministic, got %q", result.TransactionKey)
	}
	if result.Status != domain.GatewayStatusPending {
		t.Fatalf("fallback must leave payment pending, got %s", result.Status)
	}
}

func TestResilientCharge_BusinessDeclineNotRetried(t *testing.T) {
	mock := NewMockClient()
	mock.ChargeResult = domain.ChargeResult{
		Success:        false,
		TransactionKey: "tx-declined",
		Status:         domain.GatewayStatusFailed,
		Message:        "card declined",
	}

	r := newTestResilient(mock, nil)
	result, err := r.Charge(context.Background(), domain.ChargeRequest{PaymentID: "payment-1"})
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	// Отказ по карте — это ответ шлюза, а не транспортный сбой.
	if mock.ChargeCalls != 1 {
		t.Fatalf("business decline must not be retried, got %d calls", mock.ChargeCalls)
	}
	if result.Status != domain.GatewayStatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}

func TestCircuitBreaker_OpensOnFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		WindowSize:   4,
		MinCalls:     4,
		FailureRatio: 0.5,
		OpenTimeout:  time.Hour,
	}, log.New().WithField("test", "breaker"))

	cb.Record(true)
	cb.Record(false)
	cb.Record(true)
	if cb.State() != CircuitClosed {
		t.Fatal("breaker must stay closed below MinCalls")
	}

	cb.Record(true) // 3/4 неудач — выше порога
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %v", cb.State())
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		WindowSize:   2,
		MinCalls:     2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Millisecond,
	}, log.New().WithField("test", "breaker"))

	cb.Record(true)
	cb.Record(true)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open breaker, got %v", cb.State())
	}

	time.Sleep(5 * time.Millisecond)

	// После cooldown пропускается ровно одна проба.
	if err := cb.Allow(); err != nil {
		t.Fatalf("expected trial call allowed, got %v", err)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second concurrent trial must be rejected, got %v", err)
	}

	cb.Record(false)
	if cb.State() != CircuitClosed {
		t.Fatalf("expected closed breaker after successful trial, got %v", cb.State())
	}
}

func TestCircuitBreaker_ReopensOnFailedTrial(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		WindowSize:   2,
		MinCalls:     2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Millisecond,
	}, log.New().WithField("test", "breaker"))

	cb.Record(true)
	cb.Record(true)
	time.Sleep(5 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("expected trial call allowed, got %v", err)
	}
	cb.Record(true)
	if cb.State() != CircuitOpen {
		t.Fatalf("expected re-opened breaker, got %v", cb.State())
	}
}

func TestResilientCharge_OpenBreakerShortCircuitsToFallback(t *testing.T) {
	mock := NewMockClient()
	cb := NewCircuitBreaker(BreakerConfig{
		WindowSize:   2,
		MinCalls:     2,
		FailureRatio: 0.5,
		OpenTimeout:  time.Hour,
	}, log.New().WithField("test", "breaker"))
	cb.Record(true)
	cb.Record(true)

	r := newTestResilient(mock, cb)
	result, err := r.Charge(context.Background(), domain.ChargeRequest{PaymentID: "payment-9"})
	if err != nil {
		t.Fatalf("charge must not fail, fallback expected: %v", err)
	}
	// Открытый breaker отсекает вызов без обращения к шлюзу.
	if mock.ChargeCalls != 0 {
		t.Fatalf("expected no gateway calls, got %d", mock.ChargeCalls)
	}
	if result.TransactionKey != domain.FallbackKeyPrefix+"payment-9" {
		t.Fatalf("expected fallback key, got %q", result.TransactionKey)
	}
}

func TestResilientQueryStatus_UnavailableReturnsError(t *testing.T) {
	mock := NewMockClient()
	mock.StatusErr = fmt.Errorf("%w: connection refused", domain.ErrGatewayTemporary)

	r := newTestResilient(mock, nil)
	_, err := r.QueryStatus(context.Background(), "order-1", "tx-1")
	if !errors.Is(err, domain.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if mock.StatusCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", mock.StatusCalls)
	}
}
