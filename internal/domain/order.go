package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ресурсы зарезервированы, оплата не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid — оплата подтверждена; терминальный статус.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusCanceled — оплата окончательно не прошла, ресурсы компенсированы; терминальный статус.
	OrderStatusCanceled OrderStatus = "canceled"
)

// OrderItem — одна позиция заказа. Цена снапшотится в момент покупки
// и не является живой ссылкой на каталог.
type OrderItem struct {
	ID         string
	ProductID  string
	Qty        int32
	PriceMinor int64
	CreatedAt  time.Time
}

// Order агрегирует позиции, применённую скидку и статус оплаты.
// Order оркестрирует, но не владеет стоком/балансом/купоном — те мутируются
// в той же единице работы как самостоятельные агрегаты.
type Order struct {
	ID            string
	UserID        string
	Status        OrderStatus
	Items         []OrderItem
	DiscountMinor int64
	CouponGrantID string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SubtotalMinor возвращает сумму позиций без скидки.
func (o *Order) SubtotalMinor() int64 {
	var sum int64
	for _, item := range o.Items {
		sum += int64(item.Qty) * item.PriceMinor
	}
	return sum
}

// TotalMinor возвращает итог к оплате: подытог минус скидка.
// Итог производный и нигде не хранится как источник истины.
func (o *Order) TotalMinor() int64 {
	total := o.SubtotalMinor() - o.DiscountMinor
	if total < 0 {
		return 0
	}
	return total
}

// MarkPaid переводит pending → paid.
func (o *Order) MarkPaid(now time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotPending
	}
	o.Status = OrderStatusPaid
	o.UpdatedAt = now
	return nil
}

// MarkCanceled переводит pending → canceled.
func (o *Order) MarkCanceled(now time.Time) error {
	if o.Status != OrderStatusPending {
		return ErrOrderNotPending
	}
	o.Status = OrderStatusCanceled
	o.UpdatedAt = now
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.DiscountMinor < 0 {
		errs = append(errs, ErrDiscountNegative)
	}

	for _, item := range o.Items {
		if item.ProductID == "" {
			errs = append(errs, ErrProductIDRequired)
		}
		if item.Qty <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
	}

	if o.DiscountMinor > o.SubtotalMinor() {
		errs = append(errs, ErrDiscountExceedsSubtotal)
	}

	return errs
}
