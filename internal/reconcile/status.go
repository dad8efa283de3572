package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/domain/staging"
)

type Status struct {
	Pending       map[staging.Kind]int `json:"pending"`
	TotalPending  int                  `json:"total_pending"`
	LastAppliedAt *time.Time           `json:"last_applied_at"`
}

func (p *Processor) Status(ctx context.Context) (Status, error) {
	counts, err := p.store.PendingCounts(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("pending counts: %w", err)
	}
	last, err := p.store.LastAppliedAt(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("last applied: %w", err)
	}

	st := Status{Pending: make(map[staging.Kind]int, len(staging.Kinds)), LastAppliedAt: last}
	for _, k := range staging.Kinds {
		st.Pending[k] = counts[k]
		st.TotalPending += counts[k]
		p.metrics.SetPending(string(k), counts[k])
	}
	return st, nil
}

// AuditLog: журнал за [from, to], новые записи первыми.
func (p *Processor) AuditLog(ctx context.Context, from, to time.Time) ([]staging.AuditEntry, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("audit range %s..%s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), apperr.ErrInvalidArgument)
	}
	return p.store.AuditLog(ctx, from, to)
}

type CleanupResult struct {
	Cutoff time.Time `json:"cutoff"`
	staging.PurgeResult
}

// Cleanup удаляет применённые дельты и записи журнала старше olderThan.
func (p *Processor) Cleanup(ctx context.Context, olderThan time.Duration) (CleanupResult, error) {
	if olderThan < 0 {
		return CleanupResult{}, fmt.Errorf("negative retention %s: %w", olderThan, apperr.ErrInvalidArgument)
	}
	return p.CleanupBefore(ctx, p.now().Add(-olderThan))
}

// CleanupBefore: записи с меткой строго раньше cutoff удаляются, с меткой cutoff и позже остаются.
func (p *Processor) CleanupBefore(ctx context.Context, cutoff time.Time) (CleanupResult, error) {
	res, err := p.store.Purge(ctx, cutoff)
	if err != nil {
		return CleanupResult{Cutoff: cutoff}, fmt.Errorf("purge before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	p.log.Info("staging cleanup done", "cutoff", cutoff,
		"prices", res.Prices, "remnants", res.Remnants, "stocks", res.Stocks, "audit", res.Audit)
	return CleanupResult{Cutoff: cutoff, PurgeResult: res}, nil
}
