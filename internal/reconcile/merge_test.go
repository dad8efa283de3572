package reconcile

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }

func TestMergePrice_NewRecordDefaults(t *testing.T) {
	p := mergePrice(nil, staging.PriceDelta{ProductID: 1, StockID: 7, PriceM: nd("100")})

	assert.Equal(t, int64(1), p.ProductID)
	assert.Equal(t, int64(7), p.StockID)
	assert.True(t, p.NDS.Equal(catalog.DefaultNDS))
	assert.True(t, p.PriceM.Equal(decimal.NewFromInt(100)))
	assert.True(t, p.PriceT.IsZero())
	assert.False(t, p.PriceLimitM1.Valid)
}

func TestMergePrice_OnlyProvidedFieldsChange(t *testing.T) {
	cur := &catalog.Price{
		ProductID: 1, StockID: 7,
		PriceT: decimal.NewFromInt(95000), PriceLimitT1: nd("5"), PriceT1: nd("90000"),
		PriceM: decimal.NewFromInt(100),
		NDS:    decimal.NewFromInt(10),
	}
	p := mergePrice(cur, staging.PriceDelta{ProductID: 1, StockID: 7, PriceM: nd("110")})

	assert.True(t, p.PriceM.Equal(decimal.NewFromInt(110)))
	assert.True(t, p.PriceT.Equal(decimal.NewFromInt(95000)))
	assert.Equal(t, "90000", p.PriceT1.Decimal.String())
	assert.True(t, p.NDS.Equal(decimal.NewFromInt(10)), "existing NDS must survive")
	assert.True(t, cur.PriceM.Equal(decimal.NewFromInt(100)), "current record must not be mutated")
}

func TestMergePrice_NegativePricesAreStoredAsAbsolute(t *testing.T) {
	p := mergePrice(nil, staging.PriceDelta{
		PriceT: nd("-95000"), PriceT1: nd("-90000"), PriceLimitT1: nd("-5"),
		PriceM: nd("-100.5"), PriceM2: nd("-80"),
	})
	assert.Equal(t, "95000", p.PriceT.String())
	assert.Equal(t, "90000", p.PriceT1.Decimal.String())
	assert.Equal(t, "100.5", p.PriceM.String())
	assert.Equal(t, "80", p.PriceM2.Decimal.String())
	// пороги берутся как есть
	assert.Equal(t, "-5", p.PriceLimitT1.Decimal.String())
}

func TestMerge_RoundsToStoragePrecision(t *testing.T) {
	p := mergePrice(nil, staging.PriceDelta{
		PriceM: nd("12.345"), PriceT1: nd("-90000.004"), PriceLimitM1: nd("50.0004"), NDS: nd("10.005"),
	})
	assert.Equal(t, "12.35", p.PriceM.String())
	assert.Equal(t, "90000", p.PriceT1.Decimal.String())
	assert.Equal(t, "50", p.PriceLimitM1.Decimal.String())
	assert.Equal(t, "10.01", p.NDS.String())

	rm := mergeRemnant(nil, staging.RemnantDelta{InStockT: nd("3.14159"), ReservedM: nd("0.0005")})
	assert.Equal(t, "3.142", rm.InStockT.String())
	assert.Equal(t, "0.001", rm.ReservedM.Decimal.String())
}

func TestMergeRemnant(t *testing.T) {
	rm := mergeRemnant(nil, staging.RemnantDelta{ProductID: 1, StockID: 7, InStockM: nd("690"), ReservedT: nd("0.5")})
	assert.True(t, rm.InStockT.IsZero())
	assert.Equal(t, "690", rm.InStockM.String())
	assert.Equal(t, "0.5", rm.ReservedT.Decimal.String())
	assert.False(t, rm.SoonArriveT.Valid)

	rm = mergeRemnant(&rm, staging.RemnantDelta{InStockT: nd("3.2")})
	assert.Equal(t, "3.2", rm.InStockT.String())
	assert.Equal(t, "690", rm.InStockM.String())
	assert.Equal(t, int64(7), rm.StockID)
}

func TestMergeStock(t *testing.T) {
	name, city := "Склад Север", "Санкт-Петербург"
	s := mergeStock(nil, staging.StockDelta{StockID: 7, Name: &name})
	assert.Equal(t, catalog.Stock{ID: 7, Name: name}, s)

	s = mergeStock(&s, staging.StockDelta{StockID: 7, City: &city})
	assert.Equal(t, name, s.Name)
	assert.Equal(t, city, s.City)
}

func TestSummary_Add(t *testing.T) {
	var s Summary
	for _, tag := range []Tag{TagApplied, TagApplied, TagDeleted, TagSkipped, TagRetry} {
		s.add(Result{Tag: tag})
	}
	assert.Equal(t, 2, s.Applied)
	assert.Equal(t, 1, s.Deleted)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Retried)
	assert.Equal(t, 3, s.Count())
	assert.Len(t, s.Results, 5)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, staging.OutcomeUpdate, outcomeOf(TagApplied))
	assert.Equal(t, staging.OutcomeDelete, outcomeOf(TagDeleted))
	assert.Equal(t, staging.OutcomeError, outcomeOf(TagSkipped))
	assert.Equal(t, staging.OutcomeError, outcomeOf(TagRetry))
}
