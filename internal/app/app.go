package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/gateway"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/idempotency"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
	"github.com/vladislavdragonenkov/checkout/internal/transport/httpapi"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// storage объединяет единицу работы со standalone-репозиториями воркеров.
type storage interface {
	domain.Store
	Outbox() domain.OutboxRepository
	Idempotency() domain.IdempotencyRepository
}

// Run собирает зависимости и запускает сервис до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	store, closeStore, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.NewCheckoutMetrics()
	gatewayClient, breaker := initGateway(cfg, logger)

	dispatcher := checkout.NewDispatcher(
		checkout.NewBalanceStrategy(logger.WithField("strategy", "balance")),
		checkout.NewCardStrategyWithMetrics(store, gatewayClient, m, logger.WithField("strategy", "card")),
	)
	orchestrator := checkout.NewOrchestratorWithMetrics(store, dispatcher, m, logger.WithField("component", "checkout"))
	reconciler := reconcile.NewReconcilerWithMetrics(store, gatewayClient, m, logger.WithField("component", "reconcile"))

	var workers sync.WaitGroup

	reconcileWorker := reconcile.NewWorker(store, reconciler,
		reconcile.WithLogger(logger.WithField("component", "reconcile-worker")),
		reconcile.WithScanInterval(cfg.ReconcileScanInterval),
		reconcile.WithStaleAfter(cfg.ReconcileStaleAfter),
		reconcile.WithBatchSize(cfg.ReconcileBatchSize),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		reconcileWorker.Run(ctx)
	}()

	kafkaProducer := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafkaProducer(kafkaProducer, logger)
	if kafkaProducer != nil {
		publisher := kafka.NewOutboxPublisher(kafkaProducer, "")
		dlqPublisher := kafka.NewDLQPublisher(kafkaProducer)
		outboxWorker := outbox.NewWorker(store.Outbox(), publisher,
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(dlqPublisher),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		workers.Add(1)
		go func() {
			defer workers.Done()
			outboxWorker.Run(ctx)
		}()

		eventsConsumer := startEventsConsumer(ctx, cfg, strings.Split(cfg.KafkaBrokers, ","), kafkaProducer, logger)
		defer stopEventsConsumer(eventsConsumer, logger)
	} else {
		logger.Warn("kafka is not configured, outbox events will accumulate unpublished")
	}

	cleanupWorker := idempotency.NewCleanupWorker(store.Idempotency(),
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	workers.Add(1)
	go func() {
		defer workers.Done()
		cleanupWorker.Run(ctx)
	}()

	// Состояние breaker публикуется в метрики периодически.
	workers.Add(1)
	go func() {
		defer workers.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SetBreakerState(int(breaker.State()))
			}
		}
	}()

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", healthcheck.NewSimpleChecker("storage", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return store.WithinTx(pingCtx, func(domain.Tx) error { return nil })
	}))

	apiServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewServer(orchestrator, reconciler, store.Idempotency(), healthHandler, logger.WithField("component", "httpapi")).Router(),
	}
	metricsServer := startMetricsServer(cfg.MetricsAddr, healthHandler, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("HTTP API сервер запущен")
		errCh <- apiServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdownHTTP(apiServer, logger)
		shutdownHTTP(metricsServer, logger)
		workers.Wait()
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsServer, logger)
		workers.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// initStorage выбирает хранилище: Postgres при заданном DSN, иначе in-memory.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (storage, func(), error) {
	if cfg.StorageDriver != StorageDriverPostgres {
		logger.Info("используем in-memory store")
		return memory.NewStore(), func() {}, nil
	}

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN, logger.WithField("component", "postgres"))
	if err != nil {
		return nil, nil, err
	}

	if cfg.PostgresAutoMigrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, err
		}
	}

	logger.Info("используем postgres store")
	return store, func() { _ = store.Close() }, nil
}

// initGateway строит клиент платёжного шлюза с политиками устойчивости.
// Без GatewayBaseURL используется mock — удобно для локальной разработки.
func initGateway(cfg Config, logger *log.Entry) (domain.GatewayClient, *gateway.CircuitBreaker) {
	breaker := gateway.NewCircuitBreaker(gateway.BreakerConfig{
		WindowSize:   cfg.BreakerWindowSize,
		MinCalls:     cfg.BreakerMinCalls,
		FailureRatio: cfg.BreakerFailureRatio,
		OpenTimeout:  cfg.BreakerOpenTimeout,
	}, logger.WithField("component", "circuit-breaker"))

	var inner domain.GatewayClient
	if cfg.GatewayBaseURL == "" {
		logger.Warn("gateway URL не задан, используем mock-шлюз")
		inner = gateway.NewMockClient()
	} else {
		inner = gateway.NewHTTPClient(cfg.GatewayBaseURL, cfg.GatewayCallbackURL, cfg.GatewayMerchantID, cfg.GatewayTimeout, logger.WithField("component", "gateway-client"))
	}

	resilient := gateway.NewResilient(inner, gateway.RetryConfig{
		MaxAttempts:   cfg.GatewayRetryMaxAttempts,
		InitialDelay:  cfg.GatewayRetryInitialDelay,
		MaxDelay:      cfg.GatewayRetryMaxDelay,
		BackoffFactor: cfg.GatewayRetryBackoffFactor,
	}, breaker, logger.WithField("component", "gateway-resilient"))

	return resilient, breaker
}

// initKafkaProducer создаёт producer, если заданы brokers.
// Недоступный Kafka не валит сервис — события дождутся в outbox.
func initKafkaProducer(brokers string, logger *log.Entry) *kafka.Producer {
	if brokers == "" {
		return nil
	}

	brokerList := strings.Split(brokers, ",")
	producer, err := kafka.NewProducer(brokerList)
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer
}

func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

// startMetricsServer поднимает отдельный listener с /metrics и health-пробами.
func startMetricsServer(addr string, healthHandler *healthcheck.Handler, logger *log.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.WithField("addr", addr).Info("метрики доступны на /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()
	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
