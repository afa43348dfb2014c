package domain

import "context"

// GatewayStatus — статус транзакции на стороне внешнего платёжного шлюза.
// Значения соответствуют wire-формату шлюза.
type GatewayStatus string

const (
	GatewayStatusPending    GatewayStatus = "PENDING"
	GatewayStatusProcessing GatewayStatus = "PROCESSING"
	GatewayStatusSuccess    GatewayStatus = "SUCCESS"
	GatewayStatusFailed     GatewayStatus = "FAILED"
	GatewayStatusCancelled  GatewayStatus = "CANCELLED"
)

// Terminal сообщает, завершена ли транзакция на стороне шлюза.
func (s GatewayStatus) Terminal() bool {
	switch s {
	case GatewayStatusSuccess, GatewayStatusFailed, GatewayStatusCancelled:
		return true
	default:
		return false
	}
}

// ChargeRequest — запрос на списание через шлюз.
type ChargeRequest struct {
	PaymentID   string
	OrderID     string
	CardType    string
	CardNumber  string
	AmountMinor int64
	CallbackURL string
}

// ChargeResult — структурированный исход обращения к шлюзу.
// Ожидаемые бизнес-отказы (declined/cancelled) приходят как результат, а не как error.
type ChargeResult struct {
	Success        bool
	TransactionKey string
	Status         GatewayStatus
	Message        string
}

// GatewayCallback — payload, который шлюз асинхронно доставляет на callback URL.
type GatewayCallback struct {
	TransactionKey string
	OrderID        string
	Status         GatewayStatus
	AmountMinor    int64
	Message        string
}

// GatewayClient описывает границу внешнего платёжного шлюза.
// error возвращается только для транспортных сбоев; отклонённый платёж — это ChargeResult.
type GatewayClient interface {
	// Charge инициирует списание. Итоговый статус придёт callback'ом.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
	// QueryStatus возвращает авторитетный текущий статус транзакции.
	QueryStatus(ctx context.Context, merchantRef, transactionKey string) (ChargeResult, error)
}

// Compensator восстанавливает зарезервированные ресурсы после окончательного провала оплаты.
type Compensator interface {
	// Restore возвращает сток и купон заказа; ошибки логируются и не пробрасываются.
	Restore(ctx context.Context, orderID string)
}
