package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Runner запускает проходы по таймеру. Без него синхронизацию запускают снаружи (HTTP, бот).
type Runner struct {
	p         *Processor
	log       *slog.Logger
	interval  time.Duration
	retention time.Duration
}

func NewRunner(p *Processor, log *slog.Logger, interval, retention time.Duration) *Runner {
	return &Runner{p: p, log: log, interval: interval, retention: retention}
}

// Run блокируется до отмены ctx. При interval <= 0 сразу возвращает nil.
func (r *Runner) Run(ctx context.Context) error {
	if r.interval <= 0 {
		return nil
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	n, err := r.p.ApplyAllPending(ctx)
	switch {
	case errors.Is(err, ErrSweepInProgress):
		r.log.Info("scheduled sweep skipped: another sweep is running")
	case err != nil && ctx.Err() == nil:
		r.log.Error("scheduled sweep failed", "applied", n, "err", err)
	}
	if r.retention > 0 && ctx.Err() == nil {
		if _, err := r.p.Cleanup(ctx, r.retention); err != nil {
			r.log.Error("scheduled cleanup failed", "err", err)
		}
	}
}
