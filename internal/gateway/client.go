package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const defaultRequestTimeout = 3 * time.Second

// chargeRequestDTO — wire-формат запроса на списание.
type chargeRequestDTO struct {
	PaymentID   string `json:"payment_id"`
	OrderID     string `json:"order_id"`
	CardType    string `json:"card_type"`
	CardNumber  string `json:"card_number"`
	AmountMinor int64  `json:"amount"`
	CallbackURL string `json:"callback_url"`
}

// chargeResultDTO — wire-формат ответа шлюза (charge и status).
type chargeResultDTO struct {
	Success        bool   `json:"success"`
	TransactionKey string `json:"transaction_key"`
	Status         string `json:"status"`
	Message        string `json:"message"`
}

// HTTPClient — прямой HTTP-клиент платёжного шлюза без политик устойчивости.
// Оборачивается в Resilient перед использованием в checkout-пути.
type HTTPClient struct {
	baseURL     string
	callbackURL string
	merchantID  string
	httpClient  *http.Client
	logger      *log.Entry
}

// NewHTTPClient создаёт клиент шлюза с собственным таймаутом запроса.
// Таймаут намеренно короче суммарного окна retry+breaker.
func NewHTTPClient(baseURL, callbackURL, merchantID string, timeout time.Duration, logger *log.Entry) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = log.WithField("component", "gateway-client")
	}
	return &HTTPClient{
		baseURL:     baseURL,
		callbackURL: callbackURL,
		merchantID:  merchantID,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

// Charge инициирует списание. Транспортные сбои возвращаются как error,
// отклонённый платёж — как ChargeResult с терминальным статусом.
func (c *HTTPClient) Charge(ctx context.Context, req domain.ChargeRequest) (domain.ChargeResult, error) {
	callbackURL := req.CallbackURL
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}

	body, err := json.Marshal(chargeRequestDTO{
		PaymentID:   req.PaymentID,
		OrderID:     req.OrderID,
		CardType:    req.CardType,
		CardNumber:  req.CardNumber,
		AmountMinor: req.AmountMinor,
		CallbackURL: callbackURL,
	})
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Merchant-ID", c.merchantID)

	return c.do(httpReq)
}

// QueryStatus возвращает авторитетный статус транзакции на стороне шлюза.
func (c *HTTPClient) QueryStatus(ctx context.Context, merchantRef, transactionKey string) (domain.ChargeResult, error) {
	query := url.Values{}
	if merchantRef != "" {
		query.Set("merchant_ref", merchantRef)
	}
	if transactionKey != "" {
		query.Set("transaction_key", transactionKey)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/payments/status?"+query.Encode(), nil)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("build status request: %w", err)
	}
	httpReq.Header.Set("X-Merchant-ID", c.merchantID)

	return c.do(httpReq)
}

func (c *HTTPClient) do(req *http.Request) (domain.ChargeResult, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: %v", domain.ErrGatewayTemporary, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return domain.ChargeResult{}, fmt.Errorf("%w: gateway returned %d", domain.ErrGatewayTemporary, resp.StatusCode)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		// 4xx от шлюза — ошибка запроса, повтор не поможет.
		return domain.ChargeResult{}, fmt.Errorf("gateway rejected request with %d", resp.StatusCode)
	}

	var dto chargeResultDTO
	if err := json.NewDecoder(resp.Body).Decode(&dto); err != nil {
		return domain.ChargeResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrGatewayTemporary, err)
	}

	return domain.ChargeResult{
		Success:        dto.Success,
		TransactionKey: dto.TransactionKey,
		Status:         domain.GatewayStatus(dto.Status),
		Message:        dto.Message,
	}, nil
}

var _ domain.GatewayClient = (*HTTPClient)(nil)
