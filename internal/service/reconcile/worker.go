package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultScanInterval = 30 * time.Second
	defaultStaleAfter   = 2 * time.Minute
	defaultBatchSize    = 50
)

var (
	reconcileScans = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_reconcile_scans_total",
		Help: "Total number of stale payment scans grouped by result.",
	}, []string{"result"})
	reconcileStalePayments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_reconcile_stale_payments",
		Help: "Number of stale pending payments found during the last scan.",
	})
)

// WorkerOptions задаёт параметры reconcile worker.
type WorkerOptions struct {
	Logger       *log.Entry
	ScanInterval time.Duration
	StaleAfter   time.Duration
	BatchSize    int
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithScanInterval задаёт частоту сканирования зависших платежей.
func WithScanInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.ScanInterval = interval
	}
}

// WithStaleAfter задаёт возраст pending-платежа, после которого он
// считается зависшим и подлежит сверке со шлюзом.
func WithStaleAfter(staleAfter time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.StaleAfter = staleAfter
	}
}

// WithBatchSize задаёт максимум платежей за один проход.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// Worker периодически находит зависшие pending-платежи и сверяет их
// со статусом шлюза. Закрывает дыру потерянных callback: платёж,
// чей callback не дошёл, всё равно будет доведён до терминала.
type Worker struct {
	store      domain.Store
	reconciler *Reconciler
	logger     *log.Entry

	scanInterval time.Duration
	staleAfter   time.Duration
	batchSize    int

	scanning atomic.Bool
	now      func() time.Time
}

// NewWorker создаёт reconcile worker.
func NewWorker(store domain.Store, reconciler *Reconciler, options ...Option) *Worker {
	opts := WorkerOptions{
		ScanInterval: defaultScanInterval,
		StaleAfter:   defaultStaleAfter,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "reconcile-worker")
	}

	if opts.ScanInterval <= 0 {
		opts.ScanInterval = defaultScanInterval
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = defaultStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		store:        store,
		reconciler:   reconciler,
		logger:       logger,
		scanInterval: opts.ScanInterval,
		staleAfter:   opts.StaleAfter,
		batchSize:    opts.BatchSize,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Run запускает периодическое сканирование до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.store == nil || w.reconciler == nil {
		w.logger.Warn("reconcile worker is disabled: store or reconciler is nil")
		return
	}

	ticker := time.NewTicker(w.scanInterval)
	defer ticker.Stop()

	w.ScanOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.ScanOnce(ctx)
		}
	}
}

// ScanOnce выполняет один проход по зависшим платежам.
// Перекрывающиеся проходы не допускаются: если предыдущий ещё идёт
// (медленный шлюз), очередной тик пропускается.
func (w *Worker) ScanOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !w.scanning.CompareAndSwap(false, true) {
		w.logger.Debug("previous reconcile scan still running, skipping")
		reconcileScans.WithLabelValues("skipped").Inc()
		return
	}
	defer w.scanning.Store(false)

	before := w.now().Add(-w.staleAfter)

	var stale []domain.Payment
	err := w.store.WithinTx(ctx, func(tx domain.Tx) error {
		var txErr error
		stale, txErr = tx.Payments().ListStalePending(ctx, before, w.batchSize)
		return txErr
	})
	if err != nil {
		w.logger.WithError(err).Warn("failed to list stale pending payments")
		reconcileScans.WithLabelValues("error").Inc()
		return
	}

	reconcileStalePayments.Set(float64(len(stale)))
	if len(stale) == 0 {
		reconcileScans.WithLabelValues("empty").Inc()
		return
	}

	w.logger.WithField("count", len(stale)).Info("reconciling stale pending payments")
	for _, payment := range stale {
		if ctx.Err() != nil {
			return
		}

		outcome, err := w.reconciler.SyncPayment(ctx, payment.TransactionKey)
		if err != nil {
			w.logger.WithError(err).WithFields(log.Fields{
				"payment_id":      payment.ID,
				"order_id":        payment.OrderID,
				"transaction_key": payment.TransactionKey,
			}).Warn("failed to reconcile stale payment")
			continue
		}
		w.logger.WithFields(log.Fields{
			"payment_id": payment.ID,
			"order_id":   payment.OrderID,
			"outcome":    outcome,
		}).Debug("stale payment reconciled")
	}
	reconcileScans.WithLabelValues("processed").Inc()
}
