package domain

import "time"

// DiscountType определяет способ расчёта скидки по шаблону купона.
type DiscountType string

const (
	// DiscountTypeFixed — фиксированная скидка в минимальных единицах.
	DiscountTypeFixed DiscountType = "fixed"
	// DiscountTypeRate — процентная скидка (Value трактуется как процент 0..100).
	DiscountTypeRate DiscountType = "rate"
)

// CouponTemplate — шаблон купона: правило расчёта скидки и окно действия.
type CouponTemplate struct {
	ID           string
	Name         string
	DiscountType DiscountType
	Value        int64
	ValidFrom    time.Time
	ValidUntil   time.Time
	CreatedAt    time.Time
}

// DiscountFor возвращает размер скидки для подытога subtotal.
// Скидка никогда не превышает подытог.
func (t *CouponTemplate) DiscountFor(subtotal int64) int64 {
	if subtotal <= 0 {
		return 0
	}

	var discount int64
	switch t.DiscountType {
	case DiscountTypeFixed:
		discount = t.Value
	case DiscountTypeRate:
		discount = subtotal * t.Value / 100
	default:
		return 0
	}

	if discount < 0 {
		discount = 0
	}
	if discount > subtotal {
		discount = subtotal
	}
	return discount
}

// GrantStatus описывает состояние выданного пользователю купона.
type GrantStatus string

const (
	// GrantStatusAvailable — купон доступен к применению.
	GrantStatusAvailable GrantStatus = "available"
	// GrantStatusReserved — купон зарезервирован под незавершённую карточную оплату.
	GrantStatusReserved GrantStatus = "reserved"
	// GrantStatusUsed — купон потрачен на подтверждённый заказ.
	GrantStatusUsed GrantStatus = "used"
	// GrantStatusExpired — окно действия истекло; терминальный статус.
	GrantStatusExpired GrantStatus = "expired"
)

// CouponGrant — экземпляр купона, выданный ровно одному пользователю.
// Переходы: available → reserved → used, с откатами reserved → available (cancel)
// и used → available (restore). Истечение срока проверяется на каждом переходе.
type CouponGrant struct {
	ID        string
	UserID    string
	CouponID  string
	Status    GrantStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ensureValid помечает просроченный купон как expired и возвращает ErrCouponExpired.
func (g *CouponGrant) ensureValid(now time.Time) error {
	if g.Status == GrantStatusExpired {
		return ErrCouponExpired
	}
	if !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt) {
		g.Status = GrantStatusExpired
		g.UpdatedAt = now
		return ErrCouponExpired
	}
	return nil
}

// Reserve переводит available → reserved (асинхронный карточный путь).
func (g *CouponGrant) Reserve(now time.Time) error {
	if err := g.ensureValid(now); err != nil {
		return err
	}
	if g.Status != GrantStatusAvailable {
		return ErrCouponUnavailable
	}
	g.Status = GrantStatusReserved
	g.UpdatedAt = now
	return nil
}

// Redeem переводит available → used напрямую.
// У балансовой оплаты нет промежуточного pending-состояния, поэтому резервирование пропускается.
func (g *CouponGrant) Redeem(now time.Time) error {
	if err := g.ensureValid(now); err != nil {
		return err
	}
	if g.Status != GrantStatusAvailable {
		return ErrCouponUnavailable
	}
	g.Status = GrantStatusUsed
	g.UpdatedAt = now
	return nil
}

// Confirm переводит reserved → used после подтверждения оплаты.
func (g *CouponGrant) Confirm(now time.Time) error {
	if err := g.ensureValid(now); err != nil {
		return err
	}
	if g.Status != GrantStatusReserved {
		return ErrCouponUnavailable
	}
	g.Status = GrantStatusUsed
	g.UpdatedAt = now
	return nil
}

// Cancel снимает резерв: reserved → available.
func (g *CouponGrant) Cancel(now time.Time) error {
	if err := g.ensureValid(now); err != nil {
		return err
	}
	if g.Status != GrantStatusReserved {
		return ErrCouponUnavailable
	}
	g.Status = GrantStatusAvailable
	g.UpdatedAt = now
	return nil
}

// Restore возвращает потраченный купон: used → available (компенсация).
// Просроченный купон восстановить нельзя — он остаётся expired.
func (g *CouponGrant) Restore(now time.Time) error {
	if err := g.ensureValid(now); err != nil {
		return err
	}
	if g.Status != GrantStatusUsed {
		return ErrCouponUnavailable
	}
	g.Status = GrantStatusAvailable
	g.UpdatedAt = now
	return nil
}

// Validate проверяет базовые инварианты выданного купона.
func (g *CouponGrant) Validate() []error {
	var errs []error

	if g.UserID == "" {
		errs = append(errs, ErrUserIDRequired)
	}
	if g.CouponID == "" {
		errs = append(errs, ErrCouponIDRequired)
	}

	return errs
}
