package domain

import "time"

// Balance — баллы пользователя в минимальных денежных единицах.
// Строка блокируется эксклюзивно (FOR UPDATE) на время резервирующей транзакции,
// поэтому параллельные списания одного пользователя сериализуются хранилищем.
type Balance struct {
	UserID      string
	AmountMinor int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Use списывает amount с баланса.
// Возвращает ErrInsufficientBalance, если средств не хватает.
func (b *Balance) Use(amount int64) error {
	if amount <= 0 {
		return ErrAmountInvalid
	}
	if amount > b.AmountMinor {
		return ErrInsufficientBalance
	}
	b.AmountMinor -= amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}

// Charge пополняет баланс на amount.
func (b *Balance) Charge(amount int64) error {
	if amount <= 0 {
		return ErrAmountInvalid
	}
	b.AmountMinor += amount
	b.UpdatedAt = time.Now().UTC()
	return nil
}
