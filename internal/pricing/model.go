package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/apperr"
)

// Unit: единица количества, метры или тонны.
type Unit string

const (
	UnitLength Unit = "m"
	UnitWeight Unit = "t"
)

func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "м", "length":
		return UnitLength, nil
	case "t", "т", "weight":
		return UnitWeight, nil
	}
	return "", fmt.Errorf("unit %q: %w", s, apperr.ErrInvalidArgument)
}

type Conversion string

const (
	ConversionNone           Conversion = "none"
	ConversionLengthToWeight Conversion = "m->t"
	ConversionWeightToLength Conversion = "t->m"
)

type Request struct {
	ProductID int64
	StockID   int64
	Quantity  decimal.Decimal
	Unit      Unit
	Convert   bool // пересчитать количество в другую единицу по коэффициенту товара
}

type Result struct {
	ProductID int64           `json:"product_id"`
	StockID   int64           `json:"stock_id"`
	Unit      Unit            `json:"unit"`
	Quantity  decimal.Decimal `json:"quantity"`

	Tier                int             `json:"tier"` // 0: базовая цена
	BaseUnitPrice       decimal.Decimal `json:"base_unit_price"`
	UnitPrice           decimal.Decimal `json:"unit_price"`
	BasePrice           decimal.Decimal `json:"base_price"`
	FinalPrice          decimal.Decimal `json:"final_price"`
	DiscountPercent     decimal.Decimal `json:"discount_percent"`
	DiscountedUnitPrice decimal.Decimal `json:"discounted_unit_price"`
	NDS                 decimal.Decimal `json:"nds"`

	InStockT decimal.Decimal `json:"in_stock_t"`
	InStockM decimal.Decimal `json:"in_stock_m"`

	Koef              decimal.Decimal `json:"koef"`
	ConvertedQuantity decimal.Decimal `json:"converted_quantity"`
	Conversion        Conversion      `json:"conversion"`
}
