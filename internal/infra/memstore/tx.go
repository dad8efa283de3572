package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) ProductExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.st.products[id]
	return ok, nil
}

func (t *tx) StockExists(_ context.Context, id int64) (bool, error) {
	_, ok := t.st.stocks[id]
	return ok, nil
}

func (t *tx) GetPrice(_ context.Context, productID, stockID int64) (*catalog.Price, error) {
	p, ok := t.st.prices[pair{productID, stockID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *tx) SavePrice(_ context.Context, p catalog.Price) error {
	p.UpdatedAt = t.now()
	t.st.prices[pair{p.ProductID, p.StockID}] = p
	return nil
}

func (t *tx) GetRemnant(_ context.Context, productID, stockID int64) (*catalog.Remnant, error) {
	rm, ok := t.st.remnants[pair{productID, stockID}]
	if !ok {
		return nil, nil
	}
	return &rm, nil
}

func (t *tx) SaveRemnant(_ context.Context, rm catalog.Remnant) error {
	rm.UpdatedAt = t.now()
	t.st.remnants[pair{rm.ProductID, rm.StockID}] = rm
	return nil
}

func (t *tx) GetStock(_ context.Context, id int64) (*catalog.Stock, error) {
	s, ok := t.st.stocks[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *tx) SaveStock(_ context.Context, s catalog.Stock) error {
	s.UpdatedAt = t.now()
	t.st.stocks[s.ID] = s
	return nil
}

// DeleteStock удаляет склад вместе с его ценами и остатками, как ON DELETE CASCADE в схеме.
func (t *tx) DeleteStock(_ context.Context, id int64) (bool, error) {
	if _, ok := t.st.stocks[id]; !ok {
		return false, nil
	}
	delete(t.st.stocks, id)
	for k := range t.st.prices {
		if k.stock == id {
			delete(t.st.prices, k)
		}
	}
	for k := range t.st.remnants {
		if k.stock == id {
			delete(t.st.remnants, k)
		}
	}
	return true, nil
}

func (t *tx) MarkApplied(_ context.Context, k staging.Kind, id int64, at time.Time) error {
	applied := at
	switch k {
	case staging.KindPrice:
		for i := range t.st.priceDeltas {
			if d := &t.st.priceDeltas[i]; d.ID == id && !d.IsApplied {
				d.IsApplied, d.AppliedAt = true, &applied
				return nil
			}
		}
	case staging.KindRemnant:
		for i := range t.st.remnantDeltas {
			if d := &t.st.remnantDeltas[i]; d.ID == id && !d.IsApplied {
				d.IsApplied, d.AppliedAt = true, &applied
				return nil
			}
		}
	case staging.KindStock:
		for i := range t.st.stockDeltas {
			if d := &t.st.stockDeltas[i]; d.ID == id && !d.IsApplied {
				d.IsApplied, d.AppliedAt = true, &applied
				return nil
			}
		}
	}
	return fmt.Errorf("%s delta %d is already applied or missing", k, id)
}

func (t *tx) AppendAudit(_ context.Context, entries ...staging.AuditEntry) error {
	appendAudit(t.st, entries)
	return nil
}
