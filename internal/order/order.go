// Package order считает заказ по корзине. Корзина хранит только количество и единицу;
// итоговую цену даёт калькулятор цен и больше никто.
package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/pricing"
)

type Line struct {
	ProductID int64           `json:"product_id"`
	StockID   int64           `json:"stock_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Unit      pricing.Unit    `json:"unit"`
}

type Cart struct {
	Lines []Line `json:"lines"`
}

// Add добавляет позицию; одинаковые товар/склад/единица складываются в одну строку.
func (c *Cart) Add(l Line) error {
	if !l.Quantity.IsPositive() {
		return fmt.Errorf("quantity %s must be positive: %w", l.Quantity, apperr.ErrInvalidArgument)
	}
	u, err := pricing.ParseUnit(string(l.Unit))
	if err != nil {
		return err
	}
	l.Unit = u
	for i := range c.Lines {
		cur := &c.Lines[i]
		if cur.ProductID == l.ProductID && cur.StockID == l.StockID && cur.Unit == l.Unit {
			cur.Quantity = cur.Quantity.Add(l.Quantity)
			return nil
		}
	}
	c.Lines = append(c.Lines, l)
	return nil
}

type Quoter interface {
	Calculate(ctx context.Context, req pricing.Request) (pricing.Result, error)
}

type PricedLine struct {
	Line
	Price pricing.Result `json:"price"`
}

type Order struct {
	Lines    []PricedLine    `json:"lines"`
	Subtotal decimal.Decimal `json:"subtotal"` // по базовым ценам
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

// Quote пересчитывает каждую строку через калькулятор. Ошибка любой строки отменяет весь расчёт.
func Quote(ctx context.Context, q Quoter, lines []Line) (Order, error) {
	if len(lines) == 0 {
		return Order{}, fmt.Errorf("empty cart: %w", apperr.ErrInvalidArgument)
	}
	o := Order{Subtotal: decimal.Zero, Discount: decimal.Zero, Total: decimal.Zero}
	for i, l := range lines {
		res, err := q.Calculate(ctx, pricing.Request{
			ProductID: l.ProductID,
			StockID:   l.StockID,
			Quantity:  l.Quantity,
			Unit:      l.Unit,
		})
		if err != nil {
			return Order{}, fmt.Errorf("line %d (product %d): %w", i+1, l.ProductID, err)
		}
		o.Lines = append(o.Lines, PricedLine{Line: l, Price: res})
		o.Subtotal = o.Subtotal.Add(res.BasePrice)
		o.Total = o.Total.Add(res.FinalPrice)
	}
	o.Discount = o.Subtotal.Sub(o.Total)
	return o, nil
}
