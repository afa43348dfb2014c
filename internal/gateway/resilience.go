package gateway

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// RetryConfig — политика повторов для транспортных сбоев шлюза.
// Бизнес-отказы (declined/cancelled) не ретраятся.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// BreakerConfig — параметры circuit breaker со скользящим окном исходов.
type BreakerConfig struct {
	// WindowSize — сколько последних вызовов учитывается.
	WindowSize int
	// MinCalls — минимум наблюдений, прежде чем breaker начнёт принимать решения.
	MinCalls int
	// FailureRatio — доля неудач в окне, открывающая breaker (0..1).
	FailureRatio float64
	// OpenTimeout — сколько держать breaker открытым до half-open пробы.
	OpenTimeout time.Duration
}

// DefaultBreakerConfig возвращает конфигурацию по умолчанию.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		WindowSize:   10,
		MinCalls:     5,
		FailureRatio: 0.5,
		OpenTimeout:  10 * time.Second,
	}
}

// CircuitState — состояние breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// ErrCircuitOpen возвращается, когда breaker открыт и вызов отсечён без сети.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker отслеживает исходы вызовов в скользящем окне и отсекает
// обращения к деградировавшему шлюзу на период cooldown.
type CircuitBreaker struct {
	cfg    BreakerConfig
	logger *log.Entry

	mu         sync.Mutex
	window     []bool // true = неудача
	windowPos  int
	windowLen  int
	state      CircuitState
	openedAt   time.Time
	trialGiven bool
}

// NewCircuitBreaker создаёт breaker в закрытом состоянии.
func NewCircuitBreaker(cfg BreakerConfig, logger *log.Entry) *CircuitBreaker {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultBreakerConfig().WindowSize
	}
	if cfg.MinCalls <= 0 {
		cfg.MinCalls = 1
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = DefaultBreakerConfig().FailureRatio
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "circuit-breaker")
	}
	return &CircuitBreaker{
		cfg:    cfg,
		logger: logger,
		window: make([]bool, cfg.WindowSize),
	}
}

// Allow решает, можно ли выполнять вызов. В open-состоянии после cooldown
// пропускается ровно одна half-open проба.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.cfg.OpenTimeout {
			return ErrCircuitOpen
		}
		cb.state = CircuitHalfOpen
		cb.trialGiven = true
		cb.logger.Info("circuit breaker half-open, allowing trial call")
		return nil
	case CircuitHalfOpen:
		if cb.trialGiven {
			return ErrCircuitOpen
		}
		cb.trialGiven = true
		return nil
	default:
		return nil
	}
}

// Record фиксирует исход вызова и пересчитывает состояние.
func (cb *CircuitBreaker) Record(failure bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitHalfOpen {
		cb.trialGiven = false
		if failure {
			cb.open()
			return
		}
		cb.state = CircuitClosed
		cb.resetWindow()
		cb.logger.Info("circuit breaker closed after successful trial")
		return
	}

	cb.window[cb.windowPos] = failure
	cb.windowPos = (cb.windowPos + 1) % len(cb.window)
	if cb.windowLen < len(cb.window) {
		cb.windowLen++
	}

	if cb.state == CircuitClosed && cb.windowLen >= cb.cfg.MinCalls {
		failures := 0
		for i := 0; i < cb.windowLen; i++ {
			if cb.window[i] {
				failures++
			}
		}
		if float64(failures)/float64(cb.windowLen) >= cb.cfg.FailureRatio {
			cb.open()
		}
	}
}

// State возвращает текущее состояние breaker (для метрик).
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) open() {
	cb.state = CircuitOpen
	cb.openedAt = time.Now()
	cb.logger.Warn("circuit breaker opened")
}

func (cb *CircuitBreaker) resetWindow() {
	for i := range cb.window {
		cb.window[i] = false
	}
	cb.windowPos = 0
	cb.windowLen = 0
}

// Resilient оборачивает GatewayClient политиками retry + circuit breaker + fallback.
// Charge всегда возвращает корректно сформированный результат: при исчерпании
// повторов или открытом breaker — синтетический fallback с помеченным ключом.
type Resilient struct {
	inner   domain.GatewayClient
	retry   RetryConfig
	breaker *CircuitBreaker
	logger  *log.Entry
	sleep   func(time.Duration) // подменяется в тестах
}

// NewResilient создаёт обёртку устойчивости над клиентом шлюза.
func NewResilient(inner domain.GatewayClient, retry RetryConfig, breaker *CircuitBreaker, logger *log.Entry) *Resilient {
	if logger == nil {
		logger = log.WithField("component", "gateway-resilient")
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	if breaker == nil {
		breaker = NewCircuitBreaker(DefaultBreakerConfig(), logger)
	}
	return &Resilient{
		inner:   inner,
		retry:   retry,
		breaker: breaker,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Breaker возвращает используемый circuit breaker (для метрик и тестов).
func (r *Resilient) Breaker() *CircuitBreaker {
	return r.breaker
}

// Charge выполняет списание с повторами для транспортных сбоев.
// Ожидаемый бизнес-отказ шлюза считается успешным вызовом зависимости.
func (r *Resilient) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	result, err := r.execute(ctx, "charge", func(callCtx context.Context) (domain.ChargeResult, error) {
		return r.inner.Charge(callCtx, req)
	})
	if err == nil {
		return result, nil
	}

	r.logger.WithError(err).WithFields(log.Fields{
		"payment_id": req.PaymentID,
		"order_id":   req.OrderID,
	}).Warn("gateway unreachable, returning fallback result")

	return FallbackResult(req.PaymentID), nil
}

// QueryStatus выполняет запрос статуса с повторами; fallback для статуса не существует,
// поэтому при недоступности возвращается ErrGatewayUnavailable.
func (r *Resilient) QueryStatus(ctx context.Context, merchantRef, transactionKey string) (domain.ChargeResult, error) {
	result, err := r.execute(ctx, "query_status", func(callCtx context.Context) (domain.ChargeResult, error) {
		return r.inner.QueryStatus(callCtx, merchantRef, transactionKey)
	})
	if err != nil {
		return domain.ChargeResult{}, err
	}
	return result, nil
}

func (r *Resilient) execute(ctx context.Context, op string, call func(context.Context) (domain.ChargeResult, error)) (domain.ChargeResult, error) {
	var lastErr error
	delay := r.retry.InitialDelay

	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ChargeResult{}, err
		}
		if err := r.breaker.Allow(); err != nil {
			r.logger.WithField("operation", op).Debug("call short-circuited by open breaker")
			return domain.ChargeResult{}, errors.Join(domain.ErrGatewayUnavailable, err)
		}

		result, err := call(ctx)
		if err == nil {
			r.breaker.Record(false)
			return result, nil
		}

		r.breaker.Record(true)
		lastErr = err

		if !errors.Is(err, domain.ErrGatewayTemporary) {
			// Ошибка не транспортная — повтор не поможет.
			return domain.ChargeResult{}, err
		}

		if attempt < r.retry.MaxAttempts {
			r.logger.WithError(err).WithFields(log.Fields{
				"operation": op,
				"attempt":   attempt,
				"delay":     delay,
			}).Warn("gateway call failed, retrying")

			r.sleep(delay)

			delay = time.Duration(float64(delay) * r.retry.BackoffFactor)
			if delay > r.retry.MaxDelay {
				delay = r.retry.MaxDelay
			}
		}
	}

	return domain.ChargeResult{}, errors.Join(domain.ErrGatewayUnavailable, lastErr)
}

// FallbackResult формирует детерминированный синтетический результат
// для недоступного шлюза: платёж остаётся pending и сверяется позже.
func FallbackResult(paymentID string) domain.ChargeResult {
	return domain.ChargeResult{
		Success:        false,
		TransactionKey: domain.FallbackKeyPrefix + paymentID,
		Status:         domain.GatewayStatusPending,
		Message:        "gateway unreachable, settlement deferred to reconciliation",
	}
}

var _ domain.GatewayClient = (*Resilient)(nil)
