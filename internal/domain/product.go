package domain

import "time"

// Product — товар каталога вместе с его складским остатком.
// Остаток мутируется оптимистично: Version увеличивается при каждом сохранении,
// конфликт версий означает параллельное списание и приводит к retry у вызывающего.
type Product struct {
	ID         string
	Name       string
	PriceMinor int64
	StockQty   int32
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DecreaseStock списывает qty единиц со склада.
// Возвращает ErrInsufficientStock, если остатка не хватает — частичного списания не бывает.
func (p *Product) DecreaseStock(qty int32) error {
	if qty <= 0 {
		return ErrQtyInvalid
	}
	if qty > p.StockQty {
		return ErrInsufficientStock
	}
	p.StockQty -= qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// IncreaseStock возвращает qty единиц на склад (компенсация или приёмка).
func (p *Product) IncreaseStock(qty int32) error {
	if qty <= 0 {
		return ErrQtyInvalid
	}
	p.StockQty += qty
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Validate проверяет базовые инварианты товара.
func (p *Product) Validate() []error {
	var errs []error

	if p.ID == "" {
		errs = append(errs, ErrProductIDRequired)
	}
	if p.PriceMinor < 0 {
		errs = append(errs, ErrPriceNegative)
	}
	if p.StockQty < 0 {
		errs = append(errs, ErrStockNegative)
	}

	return errs
}
