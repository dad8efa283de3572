// Package ingest принимает пачки дельт от внешнего фида и кладёт их в очередь без дедупликации.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

type Sink interface {
	AppendPrices(ctx context.Context, ds []staging.PriceDelta) (int, error)
	AppendRemnants(ctx context.Context, ds []staging.RemnantDelta) (int, error)
	AppendStocks(ctx context.Context, ds []staging.StockDelta) (int, error)
}

// Batch: содержимое одной выгрузки фида.
type Batch struct {
	Prices   []staging.PriceDelta
	Remnants []staging.RemnantDelta
	Stocks   []staging.StockDelta
}

type Counts struct {
	Prices   int `json:"prices"`
	Remnants int `json:"remnants"`
	Stocks   int `json:"stocks"`
}

func (c Counts) Total() int { return c.Prices + c.Remnants + c.Stocks }

type Service struct {
	sink     Sink
	validate *validator.Validate
	log      *slog.Logger
	now      func() time.Time
}

func NewService(sink Sink, log *slog.Logger) *Service {
	return &Service{sink: sink, validate: validator.New(), log: log, now: time.Now}
}

func (s *Service) EnqueuePrices(ctx context.Context, ds []staging.PriceDelta) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}
	ds = slices.Clone(ds) // пачка вызывающего не меняется
	now := s.now()
	for i := range ds {
		if err := s.validate.Struct(ds[i]); err != nil {
			return 0, fmt.Errorf("price delta #%d: %w: %v", i+1, apperr.ErrInvalidArgument, err)
		}
		stamp(&ds[i].ID, &ds[i].IsApplied, &ds[i].ReceivedAt, now)
		ds[i].AppliedAt = nil
	}
	n, err := s.sink.AppendPrices(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("enqueue price deltas: %w", err)
	}
	s.log.Info("price deltas enqueued", "count", n)
	return n, nil
}

func (s *Service) EnqueueRemnants(ctx context.Context, ds []staging.RemnantDelta) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}
	ds = slices.Clone(ds)
	now := s.now()
	for i := range ds {
		if err := s.validate.Struct(ds[i]); err != nil {
			return 0, fmt.Errorf("remnant delta #%d: %w: %v", i+1, apperr.ErrInvalidArgument, err)
		}
		stamp(&ds[i].ID, &ds[i].IsApplied, &ds[i].ReceivedAt, now)
		ds[i].AppliedAt = nil
	}
	n, err := s.sink.AppendRemnants(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("enqueue remnant deltas: %w", err)
	}
	s.log.Info("remnant deltas enqueued", "count", n)
	return n, nil
}

func (s *Service) EnqueueStocks(ctx context.Context, ds []staging.StockDelta) (int, error) {
	if len(ds) == 0 {
		return 0, nil
	}
	ds = slices.Clone(ds)
	now := s.now()
	for i := range ds {
		if err := s.validate.Struct(ds[i]); err != nil {
			return 0, fmt.Errorf("stock delta #%d: %w: %v", i+1, apperr.ErrInvalidArgument, err)
		}
		stamp(&ds[i].ID, &ds[i].IsApplied, &ds[i].ReceivedAt, now)
		ds[i].AppliedAt = nil
	}
	n, err := s.sink.AppendStocks(ctx, ds)
	if err != nil {
		return 0, fmt.Errorf("enqueue stock deltas: %w", err)
	}
	s.log.Info("stock deltas enqueued", "count", n)
	return n, nil
}

// Enqueue кладёт в очередь всю выгрузку: склады, цены, остатки.
func (s *Service) Enqueue(ctx context.Context, b Batch) (Counts, error) {
	var (
		c   Counts
		err error
	)
	if c.Stocks, err = s.EnqueueStocks(ctx, b.Stocks); err != nil {
		return c, err
	}
	if c.Prices, err = s.EnqueuePrices(ctx, b.Prices); err != nil {
		return c, err
	}
	if c.Remnants, err = s.EnqueueRemnants(ctx, b.Remnants); err != nil {
		return c, err
	}
	return c, nil
}

// stamp сбрасывает служебные поля: их заполняет только очередь.
func stamp(id *int64, applied *bool, receivedAt *time.Time, now time.Time) {
	*id = 0
	*applied = false
	if receivedAt.IsZero() {
		*receivedAt = now
	}
}
