package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/infra/metrics"
)

var hundred = decimal.NewFromInt(100)

// Catalog: чтение каталога. Get* возвращают nil, nil, если записи нет.
type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*catalog.Product, error)
	GetPrice(ctx context.Context, productID, stockID int64) (*catalog.Price, error)
	GetRemnant(ctx context.Context, productID, stockID int64) (*catalog.Remnant, error)
}

type Calculator struct {
	cat     Catalog
	metrics *metrics.Metrics
}

func NewCalculator(cat Catalog, m *metrics.Metrics) *Calculator {
	return &Calculator{cat: cat, metrics: m}
}

// Calculate считает цену партии с учётом ступеней скидки.
func (c *Calculator) Calculate(ctx context.Context, req Request) (Result, error) {
	res, err := c.calculate(ctx, req)
	switch {
	case err == nil:
		c.metrics.CountCalculation("ok")
	case errors.Is(err, apperr.ErrNotFound):
		c.metrics.CountCalculation("not_found")
	case errors.Is(err, apperr.ErrInvalidArgument):
		c.metrics.CountCalculation("invalid")
	default:
		c.metrics.CountCalculation("error")
	}
	return res, err
}

func (c *Calculator) calculate(ctx context.Context, req Request) (Result, error) {
	if !req.Quantity.IsPositive() {
		return Result{}, fmt.Errorf("quantity %s must be positive: %w", req.Quantity, apperr.ErrInvalidArgument)
	}
	if req.Unit != UnitLength && req.Unit != UnitWeight {
		return Result{}, fmt.Errorf("unit %q: %w", req.Unit, apperr.ErrInvalidArgument)
	}

	product, err := c.cat.GetProduct(ctx, req.ProductID)
	if err != nil {
		return Result{}, fmt.Errorf("get product %d: %w", req.ProductID, err)
	}
	if product == nil {
		return Result{}, fmt.Errorf("product %d: %w", req.ProductID, apperr.ErrNotFound)
	}
	price, err := c.cat.GetPrice(ctx, req.ProductID, req.StockID)
	if err != nil {
		return Result{}, fmt.Errorf("get price %s: %w", catalog.Key(req.ProductID, req.StockID), err)
	}
	if price == nil {
		return Result{}, fmt.Errorf("price for %s: %w", catalog.Key(req.ProductID, req.StockID), apperr.ErrNotFound)
	}
	remnant, err := c.cat.GetRemnant(ctx, req.ProductID, req.StockID)
	if err != nil {
		return Result{}, fmt.Errorf("get remnant %s: %w", catalog.Key(req.ProductID, req.StockID), err)
	}

	q := Quote(*price, req.Unit, req.Quantity)
	res := Result{
		ProductID:           req.ProductID,
		StockID:             req.StockID,
		Unit:                req.Unit,
		Quantity:            req.Quantity,
		Tier:                q.Tier,
		BaseUnitPrice:       q.BaseUnitPrice,
		UnitPrice:           q.UnitPrice,
		BasePrice:           q.BasePrice,
		FinalPrice:          q.FinalPrice,
		DiscountPercent:     q.DiscountPercent,
		DiscountedUnitPrice: q.DiscountedUnitPrice,
		NDS:                 price.NDS,
		Koef:                product.Koef,
		ConvertedQuantity:   req.Quantity,
		Conversion:          ConversionNone,
	}
	if remnant != nil {
		res.InStockT, res.InStockM = remnant.InStockT, remnant.InStockM
	}

	if req.Convert {
		res.ConvertedQuantity, res.Conversion, err = Convert(req.Quantity, req.Unit, product.Koef)
		if err != nil {
			return Result{}, fmt.Errorf("product %d: %w", req.ProductID, err)
		}
	}
	return res, nil
}

// TierQuote: результат выбора ступени для одной единицы.
type TierQuote struct {
	Tier                int
	BaseUnitPrice       decimal.Decimal
	UnitPrice           decimal.Decimal
	BasePrice           decimal.Decimal
	FinalPrice          decimal.Decimal
	DiscountPercent     decimal.Decimal
	DiscountedUnitPrice decimal.Decimal
}

// Quote выбирает самую высокую ступень, порог которой достигнут (порог включительно).
// qty должен быть положительным.
func Quote(p catalog.Price, unit Unit, qty decimal.Decimal) TierQuote {
	base := p.PriceT
	t1, t2 := p.TiersT()
	if unit == UnitLength {
		base = p.PriceM
		t1, t2 = p.TiersM()
	}

	q := TierQuote{BaseUnitPrice: base, UnitPrice: base}
	switch {
	case t2.Defined() && qty.GreaterThanOrEqual(t2.Limit.Decimal):
		q.Tier, q.UnitPrice = 2, t2.Price.Decimal
	case t1.Defined() && qty.GreaterThanOrEqual(t1.Limit.Decimal):
		q.Tier, q.UnitPrice = 1, t1.Price.Decimal
	}

	q.BasePrice = base.Mul(qty)
	q.FinalPrice = q.UnitPrice.Mul(qty)
	q.DiscountPercent = decimal.Zero
	if !q.BasePrice.IsZero() {
		q.DiscountPercent = q.BasePrice.Sub(q.FinalPrice).Div(q.BasePrice).Mul(hundred)
	}
	q.DiscountedUnitPrice = q.FinalPrice.Div(qty)
	return q
}

// Convert переводит количество метры→тонны (умножением на коэффициент) или тонны→метры (делением).
func Convert(qty decimal.Decimal, from Unit, koef decimal.Decimal) (decimal.Decimal, Conversion, error) {
	switch from {
	case UnitLength:
		return qty.Mul(koef), ConversionLengthToWeight, nil
	case UnitWeight:
		if koef.IsZero() {
			return decimal.Zero, ConversionNone, fmt.Errorf("zero coefficient, cannot convert weight to length: %w", apperr.ErrInvalidArgument)
		}
		return qty.Div(koef), ConversionWeightToLength, nil
	}
	return decimal.Zero, ConversionNone, fmt.Errorf("unit %q: %w", from, apperr.ErrInvalidArgument)
}
