package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики оформления заказов и расчётов с шлюзом.
type CheckoutMetrics struct {
	// Счётчики жизненного цикла заказа
	ordersPlaced   prometheus.Counter
	ordersPaid     prometheus.Counter
	ordersCanceled prometheus.Counter

	// Вызовы шлюза по результату: success, declined, fallback, error
	gatewayCalls *prometheus.CounterVec

	// Исходы callback/sync: applied, duplicate, failed
	callbackOutcomes *prometheus.CounterVec

	// Счётчики компенсаций и outbox-событий
	compensations prometheus.Counter
	outboxEvents  prometheus.Counter

	// Гистограммы времени выполнения
	placeDuration prometheus.Histogram
	stepDuration  *prometheus.HistogramVec

	// Gauge состояния breaker (0 closed, 1 open, 2 half-open)
	breakerState prometheus.Gauge

	// Gauge активных оформлений
	activePlacements prometheus.Gauge
}

// NewCheckoutMetrics создаёт новый экземпляр метрик checkout.
func NewCheckoutMetrics() *CheckoutMetrics {
	return newCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		ordersPlaced: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_placed_total",
			Help: "Total number of orders placed",
		}),
		ordersPaid: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_paid_total",
			Help: "Total number of orders settled successfully",
		}),
		ordersCanceled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_orders_canceled_total",
			Help: "Total number of orders canceled with compensation",
		}),
		gatewayCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_gateway_calls_total",
			Help: "Total number of payment gateway calls by result",
		}, []string{"result"}),
		callbackOutcomes: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "checkout_callback_outcomes_total",
			Help: "Total number of gateway callbacks processed by outcome",
		}, []string{"outcome"}),
		compensations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_compensations_total",
			Help: "Total number of compensation runs",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "checkout_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		placeDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "checkout_place_order_duration_seconds",
			Help:    "Duration of order placement in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "checkout_step_duration_seconds",
			Help:    "Duration of individual checkout steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		breakerState: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_gateway_breaker_state",
			Help: "Payment gateway circuit breaker state (0 closed, 1 open, 2 half-open)",
		}),
		activePlacements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "checkout_active_placements",
			Help: "Number of currently running order placements",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordOrderPlaced увеличивает счётчик оформленных заказов.
func (m *CheckoutMetrics) RecordOrderPlaced() {
	m.ordersPlaced.Inc()
}

// RecordOrderPaid увеличивает счётчик оплаченных заказов.
func (m *CheckoutMetrics) RecordOrderPaid() {
	m.ordersPaid.Inc()
}

// RecordOrderCanceled увеличивает счётчик отменённых заказов.
func (m *CheckoutMetrics) RecordOrderCanceled() {
	m.ordersCanceled.Inc()
}

// RecordGatewayCall фиксирует вызов шлюза с меткой результата.
func (m *CheckoutMetrics) RecordGatewayCall(result string) {
	m.gatewayCalls.WithLabelValues(result).Inc()
}

// RecordCallbackOutcome фиксирует исход обработки callback или sync.
func (m *CheckoutMetrics) RecordCallbackOutcome(outcome string) {
	m.callbackOutcomes.WithLabelValues(outcome).Inc()
}

// RecordCompensation увеличивает счётчик компенсаций.
func (m *CheckoutMetrics) RecordCompensation() {
	m.compensations.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}

// RecordPlaceDuration записывает время оформления заказа.
func (m *CheckoutMetrics) RecordPlaceDuration(duration time.Duration) {
	m.placeDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага оформления.
func (m *CheckoutMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// SetBreakerState публикует состояние circuit breaker шлюза.
func (m *CheckoutMetrics) SetBreakerState(state int) {
	m.breakerState.Set(float64(state))
}

// RecordPlacementStarted увеличивает количество активных оформлений.
func (m *CheckoutMetrics) RecordPlacementStarted() {
	m.activePlacements.Inc()
}

// RecordPlacementFinished уменьшает количество активных оформлений.
func (m *CheckoutMetrics) RecordPlacementFinished() {
	m.activePlacements.Dec()
}
