package reconcile

import (
	"context"
	"time"

	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

// Store: каталог и очередь дельт, как их видит процессор.
type Store interface {
	PendingPrices(ctx context.Context) ([]staging.PriceDelta, error)
	PendingRemnants(ctx context.Context) ([]staging.RemnantDelta, error)
	PendingStocks(ctx context.Context) ([]staging.StockDelta, error)

	// InTx выполняет fn в одной транзакции: при ошибке fn ничего из сделанного не сохраняется.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	AppendAudit(ctx context.Context, entries ...staging.AuditEntry) error
	AuditLog(ctx context.Context, from, to time.Time) ([]staging.AuditEntry, error)
	PendingCounts(ctx context.Context) (map[staging.Kind]int, error)
	LastAppliedAt(ctx context.Context) (*time.Time, error)
	Purge(ctx context.Context, cutoff time.Time) (staging.PurgeResult, error)
}

// Tx: операции над одной дельтой. Get* возвращают nil, nil при отсутствии записи.
type Tx interface {
	ProductExists(ctx context.Context, id int64) (bool, error)
	StockExists(ctx context.Context, id int64) (bool, error)

	GetPrice(ctx context.Context, productID, stockID int64) (*catalog.Price, error)
	SavePrice(ctx context.Context, p catalog.Price) error
	GetRemnant(ctx context.Context, productID, stockID int64) (*catalog.Remnant, error)
	SaveRemnant(ctx context.Context, rm catalog.Remnant) error
	GetStock(ctx context.Context, id int64) (*catalog.Stock, error)
	SaveStock(ctx context.Context, s catalog.Stock) error
	DeleteStock(ctx context.Context, id int64) (bool, error)

	MarkApplied(ctx context.Context, k staging.Kind, id int64, at time.Time) error
	AppendAudit(ctx context.Context, entries ...staging.AuditEntry) error
}
