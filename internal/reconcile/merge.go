package reconcile

import (
	"github.com/shopspring/decimal"

	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

// mergePrice накладывает заполненные поля дельты на текущую цену (или на новую запись, если cur == nil).
// Отрицательные цены из фида сохраняются по модулю. Значения округляются до точности хранилища.
func mergePrice(cur *catalog.Price, d staging.PriceDelta) catalog.Price {
	var p catalog.Price
	if cur != nil {
		p = *cur
	} else {
		p = catalog.Price{ProductID: d.ProductID, StockID: d.StockID, NDS: catalog.DefaultNDS}
	}

	setAbs(&p.PriceT, d.PriceT)
	setNull(&p.PriceLimitT1, d.PriceLimitT1, catalog.QuantityPlaces)
	setNullAbs(&p.PriceT1, d.PriceT1)
	setNull(&p.PriceLimitT2, d.PriceLimitT2, catalog.QuantityPlaces)
	setNullAbs(&p.PriceT2, d.PriceT2)

	setAbs(&p.PriceM, d.PriceM)
	setNull(&p.PriceLimitM1, d.PriceLimitM1, catalog.QuantityPlaces)
	setNullAbs(&p.PriceM1, d.PriceM1)
	setNull(&p.PriceLimitM2, d.PriceLimitM2, catalog.QuantityPlaces)
	setNullAbs(&p.PriceM2, d.PriceM2)

	set(&p.NDS, d.NDS, catalog.MoneyPlaces)
	return p
}

func mergeRemnant(cur *catalog.Remnant, d staging.RemnantDelta) catalog.Remnant {
	var rm catalog.Remnant
	if cur != nil {
		rm = *cur
	} else {
		rm = catalog.Remnant{ProductID: d.ProductID, StockID: d.StockID}
	}

	set(&rm.InStockT, d.InStockT, catalog.QuantityPlaces)
	set(&rm.InStockM, d.InStockM, catalog.QuantityPlaces)
	setNull(&rm.SoonArriveT, d.SoonArriveT, catalog.QuantityPlaces)
	setNull(&rm.SoonArriveM, d.SoonArriveM, catalog.QuantityPlaces)
	setNull(&rm.ReservedT, d.ReservedT, catalog.QuantityPlaces)
	setNull(&rm.ReservedM, d.ReservedM, catalog.QuantityPlaces)
	setNull(&rm.AvgTubeLength, d.AvgTubeLength, catalog.QuantityPlaces)
	setNull(&rm.AvgTubeWeight, d.AvgTubeWeight, catalog.QuantityPlaces)
	return rm
}

func mergeStock(cur *catalog.Stock, d staging.StockDelta) catalog.Stock {
	var s catalog.Stock
	if cur != nil {
		s = *cur
	} else {
		s = catalog.Stock{ID: d.StockID}
	}

	setStr(&s.Name, d.Name)
	setStr(&s.City, d.City)
	setStr(&s.Address, d.Address)
	setStr(&s.Schedule, d.Schedule)
	return s
}

func set(dst *decimal.Decimal, v decimal.NullDecimal, places int32) {
	if v.Valid {
		*dst = v.Decimal.Round(places)
	}
}

func setAbs(dst *decimal.Decimal, v decimal.NullDecimal) {
	if v.Valid {
		*dst = v.Decimal.Abs().Round(catalog.MoneyPlaces)
	}
}

func setNull(dst *decimal.NullDecimal, v decimal.NullDecimal, places int32) {
	if v.Valid {
		*dst = decimal.NewNullDecimal(v.Decimal.Round(places))
	}
}

func setNullAbs(dst *decimal.NullDecimal, v decimal.NullDecimal) {
	if v.Valid {
		*dst = decimal.NewNullDecimal(v.Decimal.Abs().Round(catalog.MoneyPlaces))
	}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
