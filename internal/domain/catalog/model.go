package catalog

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultNDS ставка НДС для новой записи цены, если фид её не прислал.
var DefaultNDS = decimal.NewFromInt(20)

// Знаков после запятой в хранилище: цены и НДС до копеек, количества и пороги до трёх.
const (
	MoneyPlaces    int32 = 2
	QuantityPlaces int32 = 3
)

type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Gost      string          `json:"gost"`  // стандарт
	Steel     string          `json:"steel"` // марка стали
	Diameter  decimal.Decimal `json:"diameter"`
	Wall      decimal.Decimal `json:"wall"`
	Koef      decimal.Decimal `json:"koef"` // т/м: перевод метров в тонны
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Stock: склад.
type Stock struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	City      string    `json:"city"`
	Address   string    `json:"address"`
	Schedule  string    `json:"schedule"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Price: цены товара на складе, база и до двух ступеней скидки по тоннам (T) и метрам (M).
type Price struct {
	ProductID int64
	StockID   int64

	PriceT       decimal.Decimal
	PriceLimitT1 decimal.NullDecimal
	PriceT1      decimal.NullDecimal
	PriceLimitT2 decimal.NullDecimal
	PriceT2      decimal.NullDecimal

	PriceM       decimal.Decimal
	PriceLimitM1 decimal.NullDecimal
	PriceM1      decimal.NullDecimal
	PriceLimitM2 decimal.NullDecimal
	PriceM2      decimal.NullDecimal

	NDS       decimal.Decimal
	UpdatedAt time.Time
}

// Remnant: остаток товара на складе.
type Remnant struct {
	ProductID int64
	StockID   int64

	InStockT    decimal.Decimal
	InStockM    decimal.Decimal
	SoonArriveT decimal.NullDecimal
	SoonArriveM decimal.NullDecimal
	ReservedT   decimal.NullDecimal
	ReservedM   decimal.NullDecimal

	AvgTubeLength decimal.NullDecimal
	AvgTubeWeight decimal.NullDecimal
	UpdatedAt     time.Time
}

func Key(productID, stockID int64) string {
	return fmt.Sprintf("%d/%d", productID, stockID)
}

// Tier: одна ступень, от Limit включительно действует Price.
type Tier struct {
	Limit decimal.NullDecimal
	Price decimal.NullDecimal
}

func (t Tier) Defined() bool { return t.Limit.Valid && t.Price.Valid }

// TiersT ступени для тонн в порядке (первая, вторая).
func (p Price) TiersT() (Tier, Tier) {
	return Tier{p.PriceLimitT1, p.PriceT1}, Tier{p.PriceLimitT2, p.PriceT2}
}

// TiersM ступени для метров.
func (p Price) TiersM() (Tier, Tier) {
	return Tier{p.PriceLimitM1, p.PriceM1}, Tier{p.PriceLimitM2, p.PriceM2}
}

// TierIssues перечисляет подозрительные настройки ступеней. Хранению они не мешают.
func (p Price) TierIssues() []string {
	var out []string
	t1, t2 := p.TiersT()
	out = append(out, tierIssues("t", p.PriceT, t1, t2)...)
	m1, m2 := p.TiersM()
	out = append(out, tierIssues("m", p.PriceM, m1, m2)...)
	return out
}

func tierIssues(unit string, base decimal.Decimal, t1, t2 Tier) []string {
	var out []string
	for i, t := range []Tier{t1, t2} {
		if t.Limit.Valid != t.Price.Valid {
			out = append(out, fmt.Sprintf("%s tier %d: threshold and price must be set together", unit, i+1))
		}
	}
	if t1.Defined() && t2.Defined() && !t2.Limit.Decimal.GreaterThan(t1.Limit.Decimal) {
		out = append(out, fmt.Sprintf("%s tier 2 threshold %s is not above tier 1 threshold %s",
			unit, t2.Limit.Decimal, t1.Limit.Decimal))
	}
	if t1.Defined() && t1.Price.Decimal.GreaterThan(base) {
		out = append(out, fmt.Sprintf("%s tier 1 price %s is above base price %s", unit, t1.Price.Decimal, base))
	}
	if t1.Defined() && t2.Defined() && t2.Price.Decimal.GreaterThan(t1.Price.Decimal) {
		out = append(out, fmt.Sprintf("%s tier 2 price %s is above tier 1 price %s",
			unit, t2.Price.Decimal, t1.Price.Decimal))
	}
	return out
}
