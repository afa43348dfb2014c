package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Симулятор платёжного шлюза для локальной разработки: принимает charge,
// отвечает PENDING и асинхронно доставляет callback с настраиваемым исходом.

type config struct {
	addr          string
	callbackDelay time.Duration
	latency       time.Duration
	declineRate   int
	errorRate     int
	syncRate      int
}

type chargeRequest struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	CardType    string `json:"card_type"`
	CardNumber  string `json:"card_number"`
	AmountMinor int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
}

type chargeResponse struct {
	Success        bool   `json:"success"`
	TransactionKey string `json:"transaction_key"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

type callbackPayload struct {
	TransactionKey string `json:"transaction_key"`
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	AmountMinor    int64  `json:"amount"`
	Message        string `json:"message,omitempty"`
}

// transaction хранит состояние платежа на стороне симулятора.
type transaction struct {
	Key         string
	PaymentID   string
	OrderID     string
	AmountMinor int64
	Status      string
	Message     string
}

type simulator struct {
	cfg    config
	logger *log.Entry
	client *http.Client
	rand   *rand.Rand

	mu           sync.Mutex
	transactions map[string]*transaction
	byPayment    map[string]*transaction
}

func newSimulator(cfg config, logger *log.Entry) *simulator {
	return &simulator{
		cfg:          cfg,
		logger:       logger,
		client:       &http.Client{Timeout: 5 * time.Second},
		rand:         rand.New(rand.NewSource(time.Now().UnixNano())),
		transactions: make(map[string]*transaction),
		byPayment:    make(map[string]*transaction),
	}
}

func (s *simulator) roll(rate int) bool {
	if rate <= 0 {
		return false
	}
	if rate >= 100 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Intn(100) < rate
}

func (s *simulator) handleCharge(w http.ResponseWriter, r *http.Request) {
	if s.cfg.latency > 0 {
		time.Sleep(s.cfg.latency)
	}
	if s.roll(s.cfg.errorRate) {
		http.Error(w, `{"error":"simulated gateway outage"}`, http.StatusServiceUnavailable)
		return
	}

	var req chargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}
	if req.PaymentID == "" || req.AmountMinor <= 0 {
		http.Error(w, `{"error":"payment_id and positive amount are required"}`, http.StatusBadRequest)
		return
	}

	// Повторный charge того же платежа возвращает существующую транзакцию.
	s.mu.Lock()
	if existing, ok := s.byPayment[req.PaymentID]; ok {
		s.mu.Unlock()
		writeJSON(w, http.StatusOK, chargeResponse{
			Success:        true,
			TransactionKey: existing.Key,
			Status:         existing.Status,
			Message:        "duplicate charge",
		})
		return
	}

	txn := &transaction{
		Key:         "sim-" + uuid.NewString(),
		PaymentID:   req.PaymentID,
		OrderID:     req.OrderID,
		AmountMinor: req.AmountMinor,
		Status:      "PENDING",
	}
	s.transactions[txn.Key] = txn
	s.byPayment[req.PaymentID] = txn
	s.mu.Unlock()

	declined := s.roll(s.cfg.declineRate)

	if s.roll(s.cfg.syncRate) {
		// Синхронный терминальный ответ без callback.
		s.settle(txn, declined)
		writeJSON(w, http.StatusOK, chargeResponse{
			Success:        !declined,
			TransactionKey: txn.Key,
			Status:         txn.Status,
			Message:        txn.Message,
		})
		return
	}

	if req.CallbackURL != "" {
		go s.deliverCallback(txn, req.CallbackURL, declined)
	}

	writeJSON(w, http.StatusOK, chargeResponse{
		Success:        true,
		TransactionKey: txn.Key,
		Status:         "PENDING",
		Message:        "charge accepted",
	})
}

func (s *simulator) settle(txn *transaction, declined bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if declined {
		txn.Status = "FAILED"
		txn.Message = "insufficient funds"
	} else {
		txn.Status = "SUCCESS"
	}
}

func (s *simulator) deliverCallback(txn *transaction, callbackURL string, declined bool) {
	time.Sleep(s.cfg.callbackDelay)
	s.settle(txn, declined)

	payload := callbackPayload{
		TransactionKey: txn.Key,
		OrderID:        txn.OrderID,
		Status:         txn.Status,
		AmountMinor:    txn.AmountMinor,
		Message:        txn.Message,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Error("marshal callback payload")
		return
	}

	resp, err := s.client.Post(callbackURL, "application/json", bytes.NewReader(body))
	if err != nil {
		s.logger.WithError(err).WithField("transaction_key", txn.Key).Warn("callback delivery failed")
		return
	}
	defer resp.Body.Close()

	s.logger.WithFields(log.Fields{
		"transaction_key": txn.Key,
		"status":          txn.Status,
		"http_status":     resp.StatusCode,
	}).Info("callback delivered")
}

func (s *simulator) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.latency > 0 {
		time.Sleep(s.cfg.latency)
	}
	if s.roll(s.cfg.errorRate) {
		http.Error(w, `{"error":"simulated gateway outage"}`, http.StatusServiceUnavailable)
		return
	}

	key := strings.TrimSpace(r.URL.Query().Get("transaction_key"))
	merchantRef := strings.TrimSpace(r.URL.Query().Get("merchant_ref"))

	s.mu.Lock()
	txn, ok := s.transactions[key]
	if !ok && merchantRef != "" {
		txn, ok = s.byPayment[merchantRef]
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, `{"error":"transaction not found"}`, http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, chargeResponse{
		Success:        txn.Status == "SUCCESS",
		TransactionKey: txn.Key,
		Status:         txn.Status,
		Message:        txn.Message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *simulator) router() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/payments", s.handleCharge)
	mux.HandleFunc("GET /api/v1/payments/status", s.handleStatus)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func parseConfig() (config, error) {
	var cfg config

	flag.StringVar(&cfg.addr, "addr", ":7000", "listen address")
	flag.DurationVar(&cfg.callbackDelay, "callback-delay", 500*time.Millisecond, "delay before async callback delivery")
	flag.DurationVar(&cfg.latency, "latency", 0, "artificial latency per request")
	flag.IntVar(&cfg.declineRate, "decline-rate", 20, "payment decline probability in percent (0..100)")
	flag.IntVar(&cfg.errorRate, "error-rate", 0, "5xx probability in percent (0..100)")
	flag.IntVar(&cfg.syncRate, "sync-rate", 0, "probability of synchronous terminal response in percent (0..100)")
	flag.Parse()

	for name, rate := range map[string]int{
		"decline-rate": cfg.declineRate,
		"error-rate":   cfg.errorRate,
		"sync-rate":    cfg.syncRate,
	} {
		if rate < 0 || rate > 100 {
			return cfg, fmt.Errorf("%s must be between 0 and 100", name)
		}
	}
	if cfg.callbackDelay < 0 {
		return cfg, errors.New("callback-delay must be >= 0")
	}
	if cfg.latency < 0 {
		return cfg, errors.New("latency must be >= 0")
	}

	return cfg, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "pg-simulator")

	cfg, err := parseConfig()
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	sim := newSimulator(cfg, logger)
	server := &http.Server{Addr: cfg.addr, Handler: sim.router()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithFields(log.Fields{
		"addr":         cfg.addr,
		"decline_rate": cfg.declineRate,
		"sync_rate":    cfg.syncRate,
	}).Info("симулятор шлюза запущен")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("сервер завершился с ошибкой")
	}
}
