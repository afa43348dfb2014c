package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserIDRequired = errors.New("user_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка отсутствующего идентификатора шаблона купона.
	ErrCouponIDRequired = errors.New("coupon_id is required")
	// Ошибка отсутствия хотя бы одной позиции в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка при некорректном количестве в позиции (<= 0).
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка отрицательной скидки.
	ErrDiscountNegative = errors.New("discount must be non-negative")
	// Ошибка скидки, превышающей подытог заказа.
	ErrDiscountExceedsSubtotal = errors.New("discount exceeds order subtotal")
	// Ошибка некорректного количества при мутации стока.
	ErrQtyInvalid = errors.New("qty must be greater than zero")
	// Ошибка некорректной суммы при мутации баланса.
	ErrAmountInvalid = errors.New("amount must be greater than zero")
	// Ошибка отрицательной цены товара.
	ErrPriceNegative = errors.New("price must be non-negative")
	// Ошибка отрицательного остатка на складе.
	ErrStockNegative = errors.New("stock must be non-negative")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка неподдерживаемого способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method is invalid")
	// Ошибка отсутствующего ключа транзакции.
	ErrTransactionKeyRequired = errors.New("transaction key is required")
	// Ошибка отсутствующих реквизитов карты при карточной оплате.
	ErrCardDetailsRequired = errors.New("card details are required")

	// ErrProductNotFound возвращается, если запрошенный товар отсутствует в каталоге.
	ErrProductNotFound = errors.New("product not found")
	// ErrBalanceNotFound возвращается, если у пользователя нет строки баланса.
	ErrBalanceNotFound = errors.New("balance not found")
	// ErrCouponNotFound возвращается, если купон или его шаблон не найдены.
	ErrCouponNotFound = errors.New("coupon not found")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден (в т.ч. по transaction key).
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInsufficientStock — бизнес-ошибка: на складе меньше, чем запрошено.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInsufficientBalance — бизнес-ошибка: на балансе меньше, чем итог заказа.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrCouponExpired — бизнес-ошибка: окно действия купона истекло.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponUnavailable — бизнес-ошибка: купон не в подходящем статусе для перехода.
	ErrCouponUnavailable = errors.New("coupon unavailable")
	// ErrCouponOwnerMismatch — бизнес-ошибка: купон принадлежит другому пользователю.
	ErrCouponOwnerMismatch = errors.New("coupon belongs to another user")
	// ErrPaymentDeclined — шлюз окончательно отклонил платёж (бизнес-исход, не инфраструктурный сбой).
	ErrPaymentDeclined = errors.New("payment declined")
	// ErrOrderNotPending — заказ уже в терминальном статусе.
	ErrOrderNotPending = errors.New("order is not pending")
	// ErrPaymentAlreadySettled — платёж уже в терминальном статусе.
	ErrPaymentAlreadySettled = errors.New("payment already settled")
	// ErrTransactionKeyImmutable — попытка затереть реальный ключ транзакции.
	ErrTransactionKeyImmutable = errors.New("transaction key is immutable once assigned")

	// ErrVersionConflict сигнализирует о конфликте версий при optimistic-сохранении.
	ErrVersionConflict = errors.New("version conflict")
	// ErrGatewayUnavailable — шлюз недоступен после исчерпания retry/при открытом breaker.
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	// ErrGatewayTemporary — временная ошибка шлюза, допускающая повтор.
	ErrGatewayTemporary = errors.New("payment gateway temporary error")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// ErrIdempotencyKeyRequired — пустой Idempotency-Key.
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	// ErrIdempotencyRequestHashRequired — пустой hash тела запроса.
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	// ErrIdempotencyKeyAlreadyExists — ключ уже зарегистрирован (тот же запрос).
	ErrIdempotencyKeyAlreadyExists = errors.New("idempotency key already exists")
	// ErrIdempotencyHashMismatch — ключ переиспользован с другим телом запроса.
	ErrIdempotencyHashMismatch = errors.New("idempotency key reused with different request")
	// ErrIdempotencyKeyNotFound — запись по ключу отсутствует.
	ErrIdempotencyKeyNotFound = errors.New("idempotency key not found")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsBusinessError отличает ожидаемые бизнес-исходы от инфраструктурных сбоев.
// Бизнес-ошибки отдаются вызывающему синхронно и не ретраятся.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrInsufficientStock,
		ErrInsufficientBalance,
		ErrCouponExpired,
		ErrCouponUnavailable,
		ErrCouponOwnerMismatch,
		ErrPaymentDeclined,
		ErrProductNotFound,
		ErrBalanceNotFound,
		ErrCouponNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsNotFound проверяет ошибки отсутствия сущности.
func IsNotFound(err error) bool {
	for _, target := range []error{
		ErrProductNotFound,
		ErrBalanceNotFound,
		ErrCouponNotFound,
		ErrOrderNotFound,
		ErrPaymentNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
