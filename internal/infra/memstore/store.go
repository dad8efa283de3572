// Package memstore: хранилище каталога и очереди дельт в памяти процесса.
// Используется при store.driver=memory и в тестах.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

type pair struct{ product, stock int64 }

type state struct {
	products map[int64]catalog.Product
	stocks   map[int64]catalog.Stock
	prices   map[pair]catalog.Price
	remnants map[pair]catalog.Remnant

	priceDeltas   []staging.PriceDelta
	remnantDeltas []staging.RemnantDelta
	stockDeltas   []staging.StockDelta
	audit         []staging.AuditEntry

	seq int64
}

func newState() *state {
	return &state{
		products: map[int64]catalog.Product{},
		stocks:   map[int64]catalog.Stock{},
		prices:   map[pair]catalog.Price{},
		remnants: map[pair]catalog.Remnant{},
	}
}

func (s *state) clone() *state {
	c := &state{
		products:      make(map[int64]catalog.Product, len(s.products)),
		stocks:        make(map[int64]catalog.Stock, len(s.stocks)),
		prices:        make(map[pair]catalog.Price, len(s.prices)),
		remnants:      make(map[pair]catalog.Remnant, len(s.remnants)),
		priceDeltas:   append([]staging.PriceDelta(nil), s.priceDeltas...),
		remnantDeltas: append([]staging.RemnantDelta(nil), s.remnantDeltas...),
		stockDeltas:   append([]staging.StockDelta(nil), s.stockDeltas...),
		audit:         append([]staging.AuditEntry(nil), s.audit...),
		seq:           s.seq,
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.stocks {
		c.stocks[k] = v
	}
	for k, v := range s.prices {
		c.prices[k] = v
	}
	for k, v := range s.remnants {
		c.remnants[k] = v
	}
	return c
}

func (s *state) next() int64 {
	s.seq++
	return s.seq
}

type Store struct {
	mu  sync.Mutex
	st  *state
	now func() time.Time
}

func New() *Store { return &Store{st: newState(), now: time.Now} }

// InTx работает на копии состояния и подменяет его только при успехе fn.
// Транзакции выполняются строго по одной.
func (s *Store) InTx(_ context.Context, fn func(tx reconcile.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := s.st.clone()
	if err := fn(&tx{st: cp, now: s.now}); err != nil {
		return err
	}
	s.st = cp
	return nil
}

func (s *Store) view(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.st)
}

/* Catalog edits */

func (s *Store) CreateProduct(_ context.Context, p catalog.Product) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.products[p.ID]; ok {
		return nil, fmt.Errorf("product %d: %w", p.ID, apperr.ErrConflict)
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.st.products[p.ID] = p
	return &p, nil
}

func (s *Store) CreateStock(_ context.Context, st catalog.Stock) (*catalog.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.st.stocks[st.ID]; ok {
		return nil, fmt.Errorf("stock %d: %w", st.ID, apperr.ErrConflict)
	}
	st.UpdatedAt = s.now()
	s.st.stocks[st.ID] = st
	return &st, nil
}

func (s *Store) ListStocks(_ context.Context) ([]catalog.Stock, error) {
	var out []catalog.Stock
	s.view(func(st *state) {
		for _, v := range st.stocks {
			out = append(out, v)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

/* Catalog reads */

func (s *Store) GetProduct(_ context.Context, id int64) (*catalog.Product, error) {
	var out *catalog.Product
	s.view(func(st *state) {
		if p, ok := st.products[id]; ok {
			out = &p
		}
	})
	return out, nil
}

func (s *Store) GetStock(_ context.Context, id int64) (*catalog.Stock, error) {
	var out *catalog.Stock
	s.view(func(st *state) {
		if v, ok := st.stocks[id]; ok {
			out = &v
		}
	})
	return out, nil
}

func (s *Store) GetPrice(_ context.Context, productID, stockID int64) (*catalog.Price, error) {
	var out *catalog.Price
	s.view(func(st *state) {
		if p, ok := st.prices[pair{productID, stockID}]; ok {
			out = &p
		}
	})
	return out, nil
}

func (s *Store) GetRemnant(_ context.Context, productID, stockID int64) (*catalog.Remnant, error) {
	var out *catalog.Remnant
	s.view(func(st *state) {
		if rm, ok := st.remnants[pair{productID, stockID}]; ok {
			out = &rm
		}
	})
	return out, nil
}

/* Staging */

func (s *Store) AppendPrices(_ context.Context, ds []staging.PriceDelta) (int, error) {
	s.view(func(st *state) {
		for _, d := range ds {
			d.ID, d.IsApplied, d.AppliedAt = st.next(), false, nil
			st.priceDeltas = append(st.priceDeltas, d)
		}
	})
	return len(ds), nil
}

func (s *Store) AppendRemnants(_ context.Context, ds []staging.RemnantDelta) (int, error) {
	s.view(func(st *state) {
		for _, d := range ds {
			d.ID, d.IsApplied, d.AppliedAt = st.next(), false, nil
			st.remnantDeltas = append(st.remnantDeltas, d)
		}
	})
	return len(ds), nil
}

func (s *Store) AppendStocks(_ context.Context, ds []staging.StockDelta) (int, error) {
	s.view(func(st *state) {
		for _, d := range ds {
			d.ID, d.IsApplied, d.AppliedAt = st.next(), false, nil
			st.stockDeltas = append(st.stockDeltas, d)
		}
	})
	return len(ds), nil
}

func (s *Store) PendingPrices(_ context.Context) ([]staging.PriceDelta, error) {
	var out []staging.PriceDelta
	s.view(func(st *state) {
		for _, d := range st.priceDeltas {
			if !d.IsApplied {
				out = append(out, d)
			}
		}
	})
	return out, nil
}

func (s *Store) PendingRemnants(_ context.Context) ([]staging.RemnantDelta, error) {
	var out []staging.RemnantDelta
	s.view(func(st *state) {
		for _, d := range st.remnantDeltas {
			if !d.IsApplied {
				out = append(out, d)
			}
		}
	})
	return out, nil
}

func (s *Store) PendingStocks(_ context.Context) ([]staging.StockDelta, error) {
	var out []staging.StockDelta
	s.view(func(st *state) {
		for _, d := range st.stockDeltas {
			if !d.IsApplied {
				out = append(out, d)
			}
		}
	})
	return out, nil
}

// PriceDeltas возвращает все дельты цен, включая применённые.
func (s *Store) PriceDeltas() []staging.PriceDelta {
	var out []staging.PriceDelta
	s.view(func(st *state) { out = append(out, st.priceDeltas...) })
	return out
}

func (s *Store) AppendAudit(_ context.Context, entries ...staging.AuditEntry) error {
	s.view(func(st *state) { appendAudit(st, entries) })
	return nil
}

func appendAudit(st *state, entries []staging.AuditEntry) {
	for _, e := range entries {
		e.ID = st.next()
		st.audit = append(st.audit, e)
	}
}

func (s *Store) AuditLog(_ context.Context, from, to time.Time) ([]staging.AuditEntry, error) {
	var out []staging.AuditEntry
	s.view(func(st *state) {
		for _, e := range st.audit {
			if !e.CreatedAt.Before(from) && !e.CreatedAt.After(to) {
				out = append(out, e)
			}
		}
	})
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Store) PendingCounts(_ context.Context) (map[staging.Kind]int, error) {
	out := map[staging.Kind]int{}
	s.view(func(st *state) {
		for _, d := range st.priceDeltas {
			if !d.IsApplied {
				out[staging.KindPrice]++
			}
		}
		for _, d := range st.remnantDeltas {
			if !d.IsApplied {
				out[staging.KindRemnant]++
			}
		}
		for _, d := range st.stockDeltas {
			if !d.IsApplied {
				out[staging.KindStock]++
			}
		}
	})
	return out, nil
}

func (s *Store) LastAppliedAt(_ context.Context) (*time.Time, error) {
	var last *time.Time
	keep := func(at *time.Time) {
		if at != nil && (last == nil || at.After(*last)) {
			v := *at
			last = &v
		}
	}
	s.view(func(st *state) {
		for _, d := range st.priceDeltas {
			keep(d.AppliedAt)
		}
		for _, d := range st.remnantDeltas {
			keep(d.AppliedAt)
		}
		for _, d := range st.stockDeltas {
			keep(d.AppliedAt)
		}
	})
	return last, nil
}

func (s *Store) Purge(_ context.Context, cutoff time.Time) (staging.PurgeResult, error) {
	var res staging.PurgeResult
	s.view(func(st *state) {
		st.priceDeltas = keepIf(st.priceDeltas, func(d staging.PriceDelta) bool {
			return !(d.IsApplied && staging.Expired(d.ReceivedAt, cutoff))
		}, &res.Prices)
		st.remnantDeltas = keepIf(st.remnantDeltas, func(d staging.RemnantDelta) bool {
			return !(d.IsApplied && staging.Expired(d.ReceivedAt, cutoff))
		}, &res.Remnants)
		st.stockDeltas = keepIf(st.stockDeltas, func(d staging.StockDelta) bool {
			return !(d.IsApplied && staging.Expired(d.ReceivedAt, cutoff))
		}, &res.Stocks)
		st.audit = keepIf(st.audit, func(e staging.AuditEntry) bool {
			return !staging.Expired(e.CreatedAt, cutoff)
		}, &res.Audit)
	})
	return res, nil
}

func keepIf[T any](in []T, keep func(T) bool, removed *int64) []T {
	out := in[:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		} else {
			*removed++
		}
	}
	return out
}
