package domain

import (
	"strings"
	"time"
)

// PaymentMethod определяет способ расчёта по заказу.
type PaymentMethod string

const (
	// PaymentMethodBalance — мгновенное списание баллов в транзакции заказа.
	PaymentMethodBalance PaymentMethod = "balance"
	// PaymentMethodCard — асинхронный расчёт через внешний платёжный шлюз.
	PaymentMethodCard PaymentMethod = "card"
)

// Valid проверяет, что способ оплаты поддерживается.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodBalance, PaymentMethodCard:
		return true
	default:
		return false
	}
}

// PaymentStatus описывает состояние платёжной попытки.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан, исход ещё не известен.
	PaymentStatusPending PaymentStatus = "pending"
	// PaymentStatusSuccess — расчёт завершён; терминальный статус.
	PaymentStatusSuccess PaymentStatus = "success"
	// PaymentStatusFailed — шлюз окончательно отклонил платёж; терминальный статус.
	PaymentStatusFailed PaymentStatus = "failed"
)

// FallbackKeyPrefix помечает синтетический transaction key,
// выданный fallback-веткой при недоступном шлюзе.
const FallbackKeyPrefix = "fallback:"

// IsFallbackKey сообщает, является ли ключ синтетическим.
func IsFallbackKey(key string) bool {
	return strings.HasPrefix(key, FallbackKeyPrefix)
}

// CardDetails — реквизиты карты, приходящие с запросом на оплату.
// В Payment сохраняется только маскированный дескриптор.
type CardDetails struct {
	Type   string
	Number string
}

// Masked возвращает дескриптор карты с открытыми последними четырьмя цифрами.
func (c CardDetails) Masked() string {
	digits := strings.ReplaceAll(c.Number, "-", "")
	if len(digits) <= 4 {
		return c.Type + ":" + digits
	}
	return c.Type + ":" + strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// Payment — единственная расчётная попытка по заказу (1:1).
type Payment struct {
	ID             string
	OrderID        string
	Method         PaymentMethod
	CardMasked     string
	AmountMinor    int64
	TransactionKey string
	Status         PaymentStatus
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AttachTransactionKey присваивает внешний ключ транзакции.
// Инвариант: однажды записанный реальный ключ не затирается;
// синтетический fallback-ключ позже может быть заменён реальным.
func (p *Payment) AttachTransactionKey(key string, now time.Time) error {
	if key == "" {
		return ErrTransactionKeyRequired
	}
	if p.TransactionKey == key {
		return nil
	}
	if p.TransactionKey != "" && !IsFallbackKey(p.TransactionKey) {
		return ErrTransactionKeyImmutable
	}
	p.TransactionKey = key
	p.UpdatedAt = now
	return nil
}

// MarkSuccess переводит pending → success.
func (p *Payment) MarkSuccess(now time.Time) error {
	if p.Status != PaymentStatusPending {
		return ErrPaymentAlreadySettled
	}
	p.Status = PaymentStatusSuccess
	p.UpdatedAt = now
	return nil
}

// MarkFailed переводит pending → failed с указанием причины.
func (p *Payment) MarkFailed(reason string, now time.Time) error {
	if p.Status != PaymentStatusPending {
		return ErrPaymentAlreadySettled
	}
	p.Status = PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return nil
}

// Validate проверяет корректность полей платежа.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if !p.Method.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}
	if p.AmountMinor < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}
