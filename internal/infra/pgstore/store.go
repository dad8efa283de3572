// Package pgstore связывает репозитории каталога и очереди дельт в хранилище на PostgreSQL.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

type Store struct {
	pool    *pgxpool.Pool
	catalog *catalog.Repo
	staging *staging.Repo
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, catalog: catalog.NewRepo(pool), staging: staging.NewRepo(pool)}
}

// txRepos: оба репозитория поверх одной транзакции.
type txRepos struct {
	cat *catalog.Repo
	stg *staging.Repo
}

var _ reconcile.Tx = txRepos{}

func (r txRepos) ProductExists(ctx context.Context, id int64) (bool, error) {
	return r.cat.ProductExists(ctx, id)
}

func (r txRepos) StockExists(ctx context.Context, id int64) (bool, error) {
	return r.cat.StockExists(ctx, id)
}

func (r txRepos) GetPrice(ctx context.Context, productID, stockID int64) (*catalog.Price, error) {
	return r.cat.GetPrice(ctx, productID, stockID)
}

func (r txRepos) SavePrice(ctx context.Context, p catalog.Price) error { return r.cat.SavePrice(ctx, p) }

func (r txRepos) GetRemnant(ctx context.Context, productID, stockID int64) (*catalog.Remnant, error) {
	return r.cat.GetRemnant(ctx, productID, stockID)
}

func (r txRepos) SaveRemnant(ctx context.Context, rm catalog.Remnant) error {
	return r.cat.SaveRemnant(ctx, rm)
}

func (r txRepos) GetStock(ctx context.Context, id int64) (*catalog.Stock, error) {
	return r.cat.GetStock(ctx, id)
}

func (r txRepos) SaveStock(ctx context.Context, st catalog.Stock) error { return r.cat.SaveStock(ctx, st) }

func (r txRepos) DeleteStock(ctx context.Context, id int64) (bool, error) {
	return r.cat.DeleteStock(ctx, id)
}

func (r txRepos) MarkApplied(ctx context.Context, k staging.Kind, id int64, at time.Time) error {
	return r.stg.MarkApplied(ctx, k, id, at)
}

func (r txRepos) AppendAudit(ctx context.Context, entries ...staging.AuditEntry) error {
	return r.stg.AppendAudit(ctx, entries...)
}

func (s *Store) InTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return s.withTx(ctx, func(r txRepos) error { return fn(r) })
}

func (s *Store) withTx(ctx context.Context, fn func(r txRepos) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w: %w", apperr.ErrTransient, err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(txRepos{cat: s.catalog.WithTx(tx), stg: s.staging.WithTx(tx)}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w: %w", apperr.ErrTransient, err)
	}
	return nil
}

/* Staging */

func (s *Store) PendingPrices(ctx context.Context) ([]staging.PriceDelta, error) {
	return s.staging.PendingPrices(ctx)
}

func (s *Store) PendingRemnants(ctx context.Context) ([]staging.RemnantDelta, error) {
	return s.staging.PendingRemnants(ctx)
}

func (s *Store) PendingStocks(ctx context.Context) ([]staging.StockDelta, error) {
	return s.staging.PendingStocks(ctx)
}

func (s *Store) AppendAudit(ctx context.Context, entries ...staging.AuditEntry) error {
	return s.staging.AppendAudit(ctx, entries...)
}

func (s *Store) AuditLog(ctx context.Context, from, to time.Time) ([]staging.AuditEntry, error) {
	return s.staging.AuditLog(ctx, from, to)
}

func (s *Store) PendingCounts(ctx context.Context) (map[staging.Kind]int, error) {
	return s.staging.PendingCounts(ctx)
}

func (s *Store) LastAppliedAt(ctx context.Context) (*time.Time, error) {
	return s.staging.LastAppliedAt(ctx)
}

func (s *Store) Purge(ctx context.Context, cutoff time.Time) (staging.PurgeResult, error) {
	var res staging.PurgeResult
	err := s.withTx(ctx, func(r txRepos) error {
		var err error
		res, err = r.stg.Purge(ctx, cutoff)
		return err
	})
	return res, err
}

// Пачка из фида записывается целиком или не записывается вовсе.

func (s *Store) AppendPrices(ctx context.Context, ds []staging.PriceDelta) (n int, err error) {
	err = s.withTx(ctx, func(r txRepos) error {
		n, err = r.stg.AppendPrices(ctx, ds)
		return err
	})
	return n, err
}

func (s *Store) AppendRemnants(ctx context.Context, ds []staging.RemnantDelta) (n int, err error) {
	err = s.withTx(ctx, func(r txRepos) error {
		n, err = r.stg.AppendRemnants(ctx, ds)
		return err
	})
	return n, err
}

func (s *Store) AppendStocks(ctx context.Context, ds []staging.StockDelta) (n int, err error) {
	err = s.withTx(ctx, func(r txRepos) error {
		n, err = r.stg.AppendStocks(ctx, ds)
		return err
	})
	return n, err
}

/* Catalog */

func (s *Store) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	return s.catalog.GetProduct(ctx, id)
}

func (s *Store) GetPrice(ctx context.Context, productID, stockID int64) (*catalog.Price, error) {
	return s.catalog.GetPrice(ctx, productID, stockID)
}

func (s *Store) GetRemnant(ctx context.Context, productID, stockID int64) (*catalog.Remnant, error) {
	return s.catalog.GetRemnant(ctx, productID, stockID)
}

func (s *Store) CreateProduct(ctx context.Context, p catalog.Product) (*catalog.Product, error) {
	return s.catalog.CreateProduct(ctx, p)
}

func (s *Store) CreateStock(ctx context.Context, st catalog.Stock) (*catalog.Stock, error) {
	return s.catalog.CreateStock(ctx, st)
}

func (s *Store) ListStocks(ctx context.Context) ([]catalog.Stock, error) {
	return s.catalog.ListStocks(ctx)
}
