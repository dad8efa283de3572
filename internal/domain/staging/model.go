package staging

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind: тип дельты и одновременно тип сущности в журнале.
type Kind string

const (
	KindStock   Kind = "stock"
	KindPrice   Kind = "price"
	KindRemnant Kind = "remnant"
)

// Kinds в порядке применения: склады раньше цен и остатков, которые на них ссылаются.
var Kinds = []Kind{KindStock, KindPrice, KindRemnant}

func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindStock, KindPrice, KindRemnant:
		return k, nil
	}
	return "", fmt.Errorf("unknown delta kind %q", s)
}

type Outcome string

const (
	OutcomeUpdate Outcome = "UPDATE"
	OutcomeDelete Outcome = "DELETE"
	OutcomeError  Outcome = "ERROR"
)

// PriceDelta: изменение цены из фида. Незаполненное поле означает «без изменений».
type PriceDelta struct {
	ID        int64 `json:"-"`
	ProductID int64 `json:"product_id" validate:"gt=0"`
	StockID   int64 `json:"stock_id" validate:"gt=0"`

	PriceT       decimal.NullDecimal `json:"price_t"`
	PriceLimitT1 decimal.NullDecimal `json:"price_limit_t1"`
	PriceT1      decimal.NullDecimal `json:"price_t1"`
	PriceLimitT2 decimal.NullDecimal `json:"price_limit_t2"`
	PriceT2      decimal.NullDecimal `json:"price_t2"`

	PriceM       decimal.NullDecimal `json:"price_m"`
	PriceLimitM1 decimal.NullDecimal `json:"price_limit_m1"`
	PriceM1      decimal.NullDecimal `json:"price_m1"`
	PriceLimitM2 decimal.NullDecimal `json:"price_limit_m2"`
	PriceM2      decimal.NullDecimal `json:"price_m2"`

	NDS decimal.NullDecimal `json:"nds"`

	ReceivedAt time.Time  `json:"-"`
	IsApplied  bool       `json:"-"`
	AppliedAt  *time.Time `json:"-"`
}

type RemnantDelta struct {
	ID        int64 `json:"-"`
	ProductID int64 `json:"product_id" validate:"gt=0"`
	StockID   int64 `json:"stock_id" validate:"gt=0"`

	InStockT    decimal.NullDecimal `json:"in_stock_t"`
	InStockM    decimal.NullDecimal `json:"in_stock_m"`
	SoonArriveT decimal.NullDecimal `json:"soon_arrive_t"`
	SoonArriveM decimal.NullDecimal `json:"soon_arrive_m"`
	ReservedT   decimal.NullDecimal `json:"reserved_t"`
	ReservedM   decimal.NullDecimal `json:"reserved_m"`

	AvgTubeLength decimal.NullDecimal `json:"avg_tube_length"`
	AvgTubeWeight decimal.NullDecimal `json:"avg_tube_weight"`

	ReceivedAt time.Time  `json:"-"`
	IsApplied  bool       `json:"-"`
	AppliedAt  *time.Time `json:"-"`
}

type StockDelta struct {
	ID      int64 `json:"-"`
	StockID int64 `json:"stock_id" validate:"gt=0"`

	Name     *string `json:"name,omitempty"`
	City     *string `json:"city,omitempty"`
	Address  *string `json:"address,omitempty"`
	Schedule *string `json:"schedule,omitempty"`

	IsRemoved  bool       `json:"is_removed"`
	ReceivedAt time.Time  `json:"-"`
	IsApplied  bool       `json:"-"`
	AppliedAt  *time.Time `json:"-"`
}

func (d PriceDelta) Key() string   { return fmt.Sprintf("%d/%d", d.ProductID, d.StockID) }
func (d RemnantDelta) Key() string { return fmt.Sprintf("%d/%d", d.ProductID, d.StockID) }
func (d StockDelta) Key() string   { return fmt.Sprintf("%d", d.StockID) }

// AuditEntry: запись журнала применения. Только добавляется.
type AuditEntry struct {
	ID        int64     `json:"id"`
	SweepID   uuid.UUID `json:"sweep_id"`
	Entity    Kind      `json:"entity"`
	EntityKey string    `json:"entity_key"`
	Outcome   Outcome   `json:"outcome"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}

type PurgeResult struct {
	Prices   int64 `json:"prices"`
	Remnants int64 `json:"remnants"`
	Stocks   int64 `json:"stocks"`
	Audit    int64 `json:"audit"`
}

func (p PurgeResult) Total() int64 { return p.Prices + p.Remnants + p.Stocks + p.Audit }

// Expired: правило очистки, удаляется всё строго раньше cutoff.
func Expired(at, cutoff time.Time) bool { return at.Before(cutoff) }
