package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
)

const defaultListLimit = 20

// Server — HTTP-фасад сервиса оформления заказов.
type Server struct {
	orchestrator *checkout.Orchestrator
	reconciler   *reconcile.Reconciler
	idempotency  domain.IdempotencyRepository
	health       *health.Handler
	logger       *log.Entry

	idempotencyTTL time.Duration
	now            func() time.Time
}

// NewServer создаёт HTTP-сервер поверх оркестратора и сервиса сверки.
// idempotency может быть nil — тогда Idempotency-Key игнорируется.
func NewServer(orchestrator *checkout.Orchestrator, reconciler *reconcile.Reconciler, idempotency domain.IdempotencyRepository, healthHandler *health.Handler, logger *log.Entry) *Server {
	if logger == nil {
		logger = log.WithField("component", "httpapi")
	}
	return &Server{
		orchestrator:   orchestrator,
		reconciler:     reconciler,
		idempotency:    idempotency,
		health:         healthHandler,
		logger:         logger,
		idempotencyTTL: 24 * time.Hour,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Router собирает маршруты API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", s.handlePlaceOrder)
		r.Get("/orders/{orderID}", s.handleGetOrder)
		r.Get("/orders", s.handleListOrders)
		r.Post("/payments/callback", s.handleCallback)
		r.Post("/payments/{transactionKey}/sync", s.handleSync)
	})

	if s.health != nil {
		r.Get("/healthz", s.health.ServeHTTP)
		r.Get("/readyz", s.health.ReadinessHandler)
	}
	r.Get("/livez", health.LivenessHandler)

	return r
}

func (s *Server) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read request body"})
		return
	}

	key := r.Header.Get(idempotencyKeyHeader)
	if s.idempotency != nil && key != "" {
		if replayed := s.beginIdempotent(w, key, body); replayed {
			return
		}
	}

	var req placeOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.finishIdempotent(key, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}

	order, err := s.orchestrator.PlaceOrder(r.Context(), req.toCommand())
	if err != nil {
		status, resp := errorToResponse(err)
		// Отказ шлюза возвращает заказ в терминальном canceled-состоянии:
		// клиенту полезен и сам заказ, и причина отказа.
		if errors.Is(err, domain.ErrPaymentDeclined) && order.ID != "" {
			payload := struct {
				Error string        `json:"error"`
				Order orderResponse `json:"order"`
			}{Error: err.Error(), Order: toOrderResponse(order)}
			s.finishIdempotent(key, status, payload)
			writeJSON(w, status, payload)
			return
		}
		s.finishIdempotent(key, status, resp)
		writeJSON(w, status, resp)
		return
	}

	resp := toOrderResponse(order)
	s.finishIdempotent(key, http.StatusCreated, resp)
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := s.orchestrator.GetOrder(r.Context(), orderID)
	if err != nil {
		status, resp := errorToResponse(err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrUserIDRequired.Error()})
		return
	}

	orders, err := s.orchestrator.ListOrders(r.Context(), userID, defaultListLimit)
	if err != nil {
		status, resp := errorToResponse(err)
		writeJSON(w, status, resp)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResponse(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleCallback принимает асинхронное уведомление шлюза.
// Контракт: структурно корректный payload всегда получает 200, включая
// дубликаты и неизвестные платежи — шлюз не должен ретраить то, что
// мы уже обработали или не сможем обработать.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}
	if req.TransactionKey == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrTransactionKeyRequired.Error()})
		return
	}

	outcome, err := s.reconciler.ApplyCallback(r.Context(), req.toDomain())
	if err != nil {
		if domain.IsNotFound(err) {
			s.logger.WithFields(log.Fields{
				"transaction_key": req.TransactionKey,
				"order_id":        req.OrderID,
			}).Warn("callback for unknown payment")
			writeJSON(w, http.StatusOK, callbackResponse{Outcome: string(reconcile.OutcomeSkipped)})
			return
		}
		s.logger.WithError(err).WithField("transaction_key", req.TransactionKey).Error("callback processing failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "callback processing failed"})
		return
	}

	writeJSON(w, http.StatusOK, callbackResponse{Outcome: string(outcome)})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	transactionKey := chi.URLParam(r, "transactionKey")

	outcome, err := s.reconciler.SyncPayment(r.Context(), transactionKey)
	if err != nil {
		if errors.Is(err, domain.ErrGatewayUnavailable) || errors.Is(err, domain.ErrGatewayTemporary) {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		status, resp := errorToResponse(err)
		writeJSON(w, status, resp)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{Outcome: string(outcome)})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Info("http request")
	})
}

// errorToResponse переводит доменную ошибку в HTTP-статус и тело ответа.
func errorToResponse(err error) (int, errorResponse) {
	resp := errorResponse{Error: err.Error()}

	switch {
	case domain.IsNotFound(err):
		return http.StatusNotFound, resp
	case errors.Is(err, domain.ErrPaymentDeclined):
		return http.StatusPaymentRequired, resp
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrCouponExpired),
		errors.Is(err, domain.ErrCouponUnavailable),
		errors.Is(err, domain.ErrCouponOwnerMismatch):
		return http.StatusConflict, resp
	case errors.Is(err, domain.ErrUserIDRequired),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrProductIDRequired),
		errors.Is(err, domain.ErrItemQtyInvalid),
		errors.Is(err, domain.ErrPaymentMethodInvalid),
		errors.Is(err, domain.ErrCardDetailsRequired),
		errors.Is(err, domain.ErrTransactionKeyRequired):
		return http.StatusBadRequest, resp
	default:
		return http.StatusInternalServerError, resp
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
