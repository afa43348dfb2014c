package app

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func testEntry() *log.Entry {
	return log.New().WithField("component", "app-test")
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop on context cancel")
	}
}

func TestInitGateway_MockWithoutURL(t *testing.T) {
	cfg := DefaultConfig()

	client, breaker := initGateway(cfg, testEntry())
	if client == nil {
		t.Fatal("expected gateway client")
	}
	if breaker == nil {
		t.Fatal("expected circuit breaker")
	}
}

func TestInitStorage_MemoryByDefault(t *testing.T) {
	cfg := DefaultConfig()

	store, closeStore, err := initStorage(context.Background(), cfg, testEntry())
	if err != nil {
		t.Fatalf("init storage: %v", err)
	}
	defer closeStore()

	if store == nil {
		t.Fatal("expected store")
	}
	if store.Outbox() == nil {
		t.Fatal("expected outbox repository")
	}
	if store.Idempotency() == nil {
		t.Fatal("expected idempotency repository")
	}
}
