package reconcile_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/catalog"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/infra/lock"
	"github.com/Spok95/pipe-catalog/internal/infra/memstore"
	"github.com/Spok95/pipe-catalog/internal/infra/metrics"
	"github.com/Spok95/pipe-catalog/internal/reconcile"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func nd(s string) decimal.NullDecimal { return decimal.NewNullDecimal(decimal.RequireFromString(s)) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// seeded: хранилище с товаром 1 и складом 7.
func seeded(t *testing.T) *memstore.Store {
	t.Helper()
	st := memstore.New()
	_, err := st.CreateProduct(context.Background(), catalog.Product{ID: 1, Name: "Труба 57x3.5", Koef: decimal.RequireFromString("0.00462")})
	require.NoError(t, err)
	_, err = st.CreateStock(context.Background(), catalog.Stock{ID: 7, Name: "Склад Север", City: "Санкт-Петербург"})
	require.NoError(t, err)
	return st
}

func newProcessor(st reconcile.Store, opts ...reconcile.Option) *reconcile.Processor {
	opts = append([]reconcile.Option{reconcile.WithClock(func() time.Time { return t0 })}, opts...)
	return reconcile.New(st, discard(), opts...)
}

func audit(t *testing.T, p *reconcile.Processor) []staging.AuditEntry {
	t.Helper()
	entries, err := p.AuditLog(context.Background(), t0.Add(-24*time.Hour), t0.Add(24*time.Hour))
	require.NoError(t, err)
	return entries
}

func TestApplyPending_PriceCreatedWithDefaults(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("100"), ReceivedAt: t0}})
	require.NoError(t, err)

	p := newProcessor(st)
	n, err := p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	require.NotNil(t, price)
	assert.True(t, price.NDS.Equal(decimal.NewFromInt(20)))
	assert.True(t, price.PriceM.Equal(decimal.NewFromInt(100)))

	pending, err := st.PendingPrices(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	entries := audit(t, p)
	require.Len(t, entries, 1)
	assert.Equal(t, staging.OutcomeUpdate, entries[0].Outcome)
	assert.Equal(t, "1/7", entries[0].EntityKey)
	assert.Equal(t, staging.KindPrice, entries[0].Entity)
}

func TestApplyPending_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("100"), ReceivedAt: t0}})
	require.NoError(t, err)

	p := newProcessor(st)
	n, err := p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	n, err = p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, audit(t, p), 1)
}

func TestApplyPending_PartialMergeKeepsOtherFields(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	p := newProcessor(st)

	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceT: nd("95000"), PriceM: nd("100"), NDS: nd("10")}})
	require.NoError(t, err)
	_, err = p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)

	_, err = st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("120")}})
	require.NoError(t, err)
	_, err = p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)

	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "120", price.PriceM.String())
	assert.Equal(t, "95000", price.PriceT.String())
	assert.Equal(t, "10", price.NDS.String())
}

func TestApplyPending_LaterDeltaWins(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{
		{ProductID: 1, StockID: 7, PriceM: nd("100")},
		{ProductID: 1, StockID: 7, PriceM: nd("105")},
	})
	require.NoError(t, err)

	n, err := newProcessor(st).ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "105", price.PriceM.String())
}

func TestApplyPending_MissingReferenceIsSkippedForGood(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 2, StockID: 7, PriceM: nd("100")}})
	require.NoError(t, err)
	_, err = st.AppendRemnants(ctx, []staging.RemnantDelta{{ProductID: 1, StockID: 9, InStockM: nd("5")}})
	require.NoError(t, err)

	p := newProcessor(st)
	sum, err := p.Sweep(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Zero(t, sum.Count())

	n, err := p.ApplyPending(ctx, staging.KindRemnant)
	require.NoError(t, err)
	assert.Zero(t, n)

	price, err := st.GetPrice(ctx, 2, 7)
	require.NoError(t, err)
	assert.Nil(t, price)
	rm, err := st.GetRemnant(ctx, 1, 9)
	require.NoError(t, err)
	assert.Nil(t, rm)

	counts, err := st.PendingCounts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[staging.KindPrice])
	assert.Zero(t, counts[staging.KindRemnant])

	entries := audit(t, p)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, staging.OutcomeError, e.Outcome)
	}
	details := []string{entries[0].Detail, entries[1].Detail}
	assert.Contains(t, details, "product 2 not found")
	assert.Contains(t, details, "stock 9 not found")
}

func TestApplyPending_RemnantDefaults(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendRemnants(ctx, []staging.RemnantDelta{{ProductID: 1, StockID: 7, InStockM: nd("690")}})
	require.NoError(t, err)

	_, err = newProcessor(st).ApplyPending(ctx, staging.KindRemnant)
	require.NoError(t, err)

	rm, err := st.GetRemnant(ctx, 1, 7)
	require.NoError(t, err)
	require.NotNil(t, rm)
	assert.True(t, rm.InStockT.IsZero())
	assert.Equal(t, "690", rm.InStockM.String())
}

func TestApplyPending_StockLifecycle(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	p := newProcessor(st)

	name := "Склад Юг"
	_, err := st.AppendStocks(ctx, []staging.StockDelta{{StockID: 8, Name: &name}})
	require.NoError(t, err)
	_, err = st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 8, PriceM: nd("99")}})
	require.NoError(t, err)

	n, err := p.ApplyAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "stocks are applied before prices that reference them")

	_, err = st.AppendStocks(ctx, []staging.StockDelta{{StockID: 8, IsRemoved: true}, {StockID: 8, IsRemoved: true}})
	require.NoError(t, err)
	sum, err := p.Sweep(ctx, staging.KindStock)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Deleted)
	assert.Equal(t, "deleted stock", sum.Results[0].Detail)
	assert.Equal(t, "stock already absent", sum.Results[1].Detail)

	s, err := st.GetStock(ctx, 8)
	require.NoError(t, err)
	assert.Nil(t, s)
	price, err := st.GetPrice(ctx, 1, 8)
	require.NoError(t, err)
	assert.Nil(t, price, "prices of a deleted stock go with it")

	var deletes int
	for _, e := range audit(t, p) {
		if e.Outcome == staging.OutcomeDelete {
			deletes++
		}
	}
	assert.Equal(t, 2, deletes)
}

func TestApplyPending_NegativePricesNormalized(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceT: nd("-95000"), PriceM: nd("-100")}})
	require.NoError(t, err)

	_, err = newProcessor(st).ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)

	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "95000", price.PriceT.String())
	assert.Equal(t, "100", price.PriceM.String())
}

func TestApplyPending_TierWarningIsStoredAndCounted(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	m := metrics.New(prometheus.NewRegistry())
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{
		ProductID: 1, StockID: 7, PriceM: nd("100"),
		PriceLimitM1: nd("200"), PriceM1: nd("90"), PriceLimitM2: nd("50"), PriceM2: nd("80"),
	}})
	require.NoError(t, err)

	p := newProcessor(st, reconcile.WithMetrics(m))
	sum, err := p.Sweep(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Applied)
	assert.NotEmpty(t, sum.Results[0].Warnings)
	assert.Contains(t, sum.Results[0].Detail, "tier warning")

	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, "50", price.PriceLimitM2.Decimal.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierWarnings))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Deltas.WithLabelValues("price", "applied")))
}

// flakyStore ломает запись цен и, по желанию, запись журнала.
type flakyStore struct {
	*memstore.Store
	savePrice   error
	panicOnSave bool
	audit       error
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx reconcile.Tx) error) error {
	return f.Store.InTx(ctx, func(tx reconcile.Tx) error {
		return fn(&flakyTx{Tx: tx, f: f})
	})
}

func (f *flakyStore) AppendAudit(ctx context.Context, entries ...staging.AuditEntry) error {
	if f.audit != nil {
		return f.audit
	}
	return f.Store.AppendAudit(ctx, entries...)
}

type flakyTx struct {
	reconcile.Tx
	f *flakyStore
}

func (t *flakyTx) SavePrice(ctx context.Context, p catalog.Price) error {
	if t.f.panicOnSave {
		panic("nil map")
	}
	if t.f.savePrice != nil {
		return t.f.savePrice
	}
	return t.Tx.SavePrice(ctx, p)
}

func TestSweep_FailedDeltaStaysPending(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: seeded(t), savePrice: errors.New("disk full")}
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("100")}})
	require.NoError(t, err)
	_, err = st.AppendRemnants(ctx, []staging.RemnantDelta{{ProductID: 1, StockID: 7, InStockM: nd("1")}})
	require.NoError(t, err)

	p := newProcessor(st)
	n, err := p.ApplyAllPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "remnant sweep runs even though the price failed")

	pending, err := st.PendingPrices(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	price, err := st.GetPrice(ctx, 1, 7)
	require.NoError(t, err)
	assert.Nil(t, price)

	var errs []staging.AuditEntry
	for _, e := range audit(t, p) {
		if e.Outcome == staging.OutcomeError {
			errs = append(errs, e)
		}
	}
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Detail, "disk full")

	// после восстановления дельта применяется следующим проходом
	st.savePrice = nil
	n, err = p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSweep_PanicIsRecoveredAsRetry(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: seeded(t), panicOnSave: true}
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("100")}})
	require.NoError(t, err)

	sum, err := newProcessor(st).Sweep(ctx, staging.KindPrice)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Retried)
	require.Len(t, sum.Results, 1)
	assert.Contains(t, sum.Results[0].Detail, "panic")
}

func TestSweep_FailureAuditWriteAbortsSweep(t *testing.T) {
	ctx := context.Background()
	st := &flakyStore{Store: seeded(t), savePrice: errors.New("disk full"), audit: errors.New("audit table locked")}
	_, err := st.AppendPrices(ctx, []staging.PriceDelta{
		{ProductID: 1, StockID: 7, PriceM: nd("100")},
		{ProductID: 1, StockID: 7, PriceM: nd("101")},
	})
	require.NoError(t, err)

	sum, err := newProcessor(st).Sweep(ctx, staging.KindPrice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit table locked")
	assert.Len(t, sum.Results, 1, "sweep stops at the first unrecordable failure")
}

func TestSweep_CancelledContext(t *testing.T) {
	st := seeded(t)
	_, err := st.AppendPrices(context.Background(), []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd("100")}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := newProcessor(st).ApplyPending(ctx, staging.KindPrice)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, n)

	pending, err := st.PendingPrices(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestSweep_RejectsConcurrentSweepOfSameKind(t *testing.T) {
	ctx := context.Background()
	locker := lock.NewLocal()
	lease, err := locker.Obtain(ctx, "catalog:sync:price", time.Minute)
	require.NoError(t, err)

	p := newProcessor(seeded(t), reconcile.WithLocker(locker))
	_, err = p.ApplyPending(ctx, staging.KindPrice)
	assert.ErrorIs(t, err, reconcile.ErrSweepInProgress)

	// другой вид не заблокирован
	_, err = p.ApplyPending(ctx, staging.KindStock)
	assert.NoError(t, err)

	require.NoError(t, lease.Release(ctx))
	_, err = p.ApplyPending(ctx, staging.KindPrice)
	assert.NoError(t, err)
}

type countingLease struct {
	refreshed int
	fail      error
}

func (l *countingLease) Refresh(context.Context, time.Duration) error {
	l.refreshed++
	return l.fail
}

func (l *countingLease) Release(context.Context) error { return nil }

type fixedLocker struct{ lease *countingLease }

func (f fixedLocker) Obtain(context.Context, string, time.Duration) (lock.Lease, error) {
	return f.lease, nil
}

func threePrices(t *testing.T, st *memstore.Store) {
	t.Helper()
	_, err := st.AppendPrices(context.Background(), []staging.PriceDelta{
		{ProductID: 1, StockID: 7, PriceM: nd("100"), ReceivedAt: t0},
		{ProductID: 1, StockID: 7, PriceM: nd("101"), ReceivedAt: t0},
		{ProductID: 1, StockID: 7, PriceM: nd("102"), ReceivedAt: t0},
	})
	require.NoError(t, err)
}

func TestSweep_RefreshesLockBetweenDeltas(t *testing.T) {
	st := seeded(t)
	threePrices(t, st)
	lease := &countingLease{}

	p := newProcessor(st, reconcile.WithLocker(fixedLocker{lease}), reconcile.WithLockTTL(time.Nanosecond))
	n, err := p.ApplyPending(context.Background(), staging.KindPrice)

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 3, lease.refreshed)
}

func TestSweep_StopsWhenLockIsLost(t *testing.T) {
	st := seeded(t)
	threePrices(t, st)
	lease := &countingLease{fail: lock.ErrLost}

	p := newProcessor(st, reconcile.WithLocker(fixedLocker{lease}), reconcile.WithLockTTL(time.Nanosecond))
	n, err := p.ApplyPending(context.Background(), staging.KindPrice)

	assert.ErrorIs(t, err, lock.ErrLost)
	assert.Zero(t, n)
	pending, err := st.PendingPrices(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	m := metrics.New(prometheus.NewRegistry())
	p := newProcessor(st, reconcile.WithMetrics(m))

	s, err := p.Status(ctx)
	require.NoError(t, err)
	assert.Zero(t, s.TotalPending)
	assert.Nil(t, s.LastAppliedAt)

	_, err = st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7}, {ProductID: 1, StockID: 7}})
	require.NoError(t, err)
	_, err = st.AppendRemnants(ctx, []staging.RemnantDelta{{ProductID: 1, StockID: 7}})
	require.NoError(t, err)

	s, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalPending)
	assert.Equal(t, 2, s.Pending[staging.KindPrice])
	assert.Equal(t, 0, s.Pending[staging.KindStock])
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Pending.WithLabelValues("price")))

	_, err = p.ApplyPending(ctx, staging.KindRemnant)
	require.NoError(t, err)
	s, err = p.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalPending)
	require.NotNil(t, s.LastAppliedAt)
	assert.True(t, s.LastAppliedAt.Equal(t0))
}

func TestAuditLog(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	now := t0
	p := reconcile.New(st, discard(), reconcile.WithClock(func() time.Time { return now }))

	for i, v := range []string{"100", "101", "102"} {
		now = t0.Add(time.Duration(i) * time.Hour)
		_, err := st.AppendPrices(ctx, []staging.PriceDelta{{ProductID: 1, StockID: 7, PriceM: nd(v)}})
		require.NoError(t, err)
		_, err = p.ApplyPending(ctx, staging.KindPrice)
		require.NoError(t, err)
	}

	entries, err := p.AuditLog(ctx, t0, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, entries, 2, "both range ends are inclusive")
	assert.True(t, entries[0].CreatedAt.Equal(t0.Add(time.Hour)), "newest first")
	assert.True(t, entries[1].CreatedAt.Equal(t0))

	_, err = p.AuditLog(ctx, t0.Add(time.Hour), t0)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestCleanup_Boundary(t *testing.T) {
	ctx := context.Background()
	st := seeded(t)
	p := newProcessor(st)
	cutoff := t0.Add(-7 * 24 * time.Hour)

	_, err := st.AppendPrices(ctx, []staging.PriceDelta{
		{ProductID: 1, StockID: 7, PriceM: nd("100"), ReceivedAt: cutoff.Add(-time.Second)},
		{ProductID: 1, StockID: 7, PriceM: nd("101"), ReceivedAt: cutoff},
	})
	require.NoError(t, err)
	_, err = p.ApplyPending(ctx, staging.KindPrice)
	require.NoError(t, err)

	// не применена: остаётся при любом возрасте
	_, err = st.AppendRemnants(ctx, []staging.RemnantDelta{{ProductID: 1, StockID: 7, ReceivedAt: cutoff.Add(-time.Hour)}})
	require.NoError(t, err)
	require.NoError(t, st.AppendAudit(ctx,
		staging.AuditEntry{Entity: staging.KindPrice, EntityKey: "old", Outcome: staging.OutcomeUpdate, CreatedAt: cutoff.Add(-time.Nanosecond)},
		staging.AuditEntry{Entity: staging.KindPrice, EntityKey: "edge", Outcome: staging.OutcomeUpdate, CreatedAt: cutoff},
	))

	res, err := p.Cleanup(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.True(t, res.Cutoff.Equal(cutoff))
	assert.Equal(t, int64(1), res.Prices)
	assert.Equal(t, int64(0), res.Remnants)
	assert.Equal(t, int64(1), res.Audit)
	assert.Equal(t, int64(2), res.Total())

	all := st.PriceDeltas()
	require.Len(t, all, 1)
	assert.True(t, all[0].ReceivedAt.Equal(cutoff))

	pending, err := st.PendingRemnants(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	kept, err := p.AuditLog(ctx, cutoff.Add(-time.Hour), t0)
	require.NoError(t, err)
	keys := map[string]bool{}
	for _, e := range kept {
		keys[e.EntityKey] = true
	}
	assert.True(t, keys["edge"])
	assert.False(t, keys["old"])
}

func TestCleanup_NegativeRetention(t *testing.T) {
	_, err := newProcessor(memstore.New()).Cleanup(context.Background(), -time.Hour)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
