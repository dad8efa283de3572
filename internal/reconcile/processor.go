package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Spok95/pipe-catalog/internal/domain/staging"
	"github.com/Spok95/pipe-catalog/internal/infra/lock"
	"github.com/Spok95/pipe-catalog/internal/infra/metrics"
)

var ErrSweepInProgress = errors.New("reconcile: sweep already running")

// Tag: чем закончилась обработка одной дельты.
type Tag string

const (
	TagApplied Tag = "applied" // запись каталога создана или обновлена
	TagDeleted Tag = "deleted" // склад удалён (или его и не было)
	TagSkipped Tag = "skipped" // нет товара/склада: дельта помечена применённой, в журнале ERROR
	TagRetry   Tag = "retry"   // ошибка: дельта осталась в очереди до следующего прохода
)

type Result struct {
	DeltaID  int64        `json:"delta_id"`
	Kind     staging.Kind `json:"kind"`
	Key      string       `json:"key"`
	Tag      Tag          `json:"tag"`
	Detail   string       `json:"detail,omitempty"`
	Warnings []string     `json:"warnings,omitempty"`
	Err      error        `json:"-"`
}

type Summary struct {
	SweepID    uuid.UUID    `json:"sweep_id"`
	Kind       staging.Kind `json:"kind"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`

	Applied int `json:"applied"`
	Deleted int `json:"deleted"`
	Skipped int `json:"skipped"`
	Retried int `json:"retried"`

	Results []Result `json:"results"`
}

// Count: сколько дельт применено без ошибки.
func (s Summary) Count() int { return s.Applied + s.Deleted }

func (s *Summary) add(r Result) {
	switch r.Tag {
	case TagApplied:
		s.Applied++
	case TagDeleted:
		s.Deleted++
	case TagSkipped:
		s.Skipped++
	case TagRetry:
		s.Retried++
	}
	s.Results = append(s.Results, r)
}

type effect struct {
	tag      Tag
	detail   string
	warnings []string
}

// step: одна дельта, готовая к применению внутри транзакции.
type step struct {
	id  int64
	key string
	run func(ctx context.Context, tx Tx) (effect, error)
}

type Processor struct {
	store   Store
	locker  lock.Locker
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	lockTTL time.Duration
}

type Option func(*Processor)

func WithLocker(l lock.Locker) Option { return func(p *Processor) { p.locker = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

func WithClock(now func() time.Time) Option { return func(p *Processor) { p.now = now } }

// WithLockTTL: срок блокировки прохода. Нулевой и отрицательный игнорируются.
func WithLockTTL(ttl time.Duration) Option {
	return func(p *Processor) {
		if ttl > 0 {
			p.lockTTL = ttl
		}
	}
}

func New(store Store, log *slog.Logger, opts ...Option) *Processor {
	p := &Processor{
		store:   store,
		locker:  lock.NewLocal(),
		log:     log,
		now:     time.Now,
		lockTTL: 10 * time.Minute,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// ApplyPending применяет все неприменённые дельты одного вида и возвращает число применённых.
func (p *Processor) ApplyPending(ctx context.Context, kind staging.Kind) (int, error) {
	sum, err := p.Sweep(ctx, kind)
	return sum.Count(), err
}

// ApplyAllPending: склады, затем цены, затем остатки.
func (p *Processor) ApplyAllPending(ctx context.Context) (int, error) {
	total := 0
	for _, k := range staging.Kinds {
		n, err := p.ApplyPending(ctx, k)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Sweep: один проход по очереди вида kind. Ошибка одной дельты не прерывает проход;
// прерывают его только ошибки чтения очереди, записи в журнал и отмена ctx.
func (p *Processor) Sweep(ctx context.Context, kind staging.Kind) (Summary, error) {
	sum := Summary{SweepID: uuid.New(), Kind: kind, StartedAt: p.now()}

	lease, err := p.locker.Obtain(ctx, "catalog:sync:"+string(kind), p.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		return sum, fmt.Errorf("%s: %w", kind, ErrSweepInProgress)
	}
	if err != nil {
		return sum, fmt.Errorf("obtain %s sweep lock: %w", kind, err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			p.log.Warn("sweep lock release failed", "kind", kind, "err", err)
		}
	}()
	defer p.metrics.ObserveSweep(string(kind), time.Now())

	steps, err := p.pending(ctx, kind)
	if err != nil {
		return sum, fmt.Errorf("fetch pending %s deltas: %w", kind, err)
	}
	log := p.log.With("sweep_id", sum.SweepID, "kind", kind)
	log.Info("sweep started", "pending", len(steps))

	renewed := time.Now()
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			sum.FinishedAt = p.now()
			log.Warn("sweep aborted", "applied", sum.Count(), "err", err)
			return sum, err
		}
		// блокировку продлеваем на середине ttl, иначе второй экземпляр начнёт тот же вид
		if time.Since(renewed) >= p.lockTTL/2 {
			if err := lease.Refresh(ctx, p.lockTTL); err != nil {
				sum.FinishedAt = p.now()
				log.Warn("sweep lock lost", "applied", sum.Count(), "err", err)
				return sum, fmt.Errorf("refresh %s sweep lock: %w", kind, err)
			}
			renewed = time.Now()
		}

		res := p.applyOne(ctx, sum.SweepID, kind, s)
		if res.Tag == TagRetry {
			log.Warn("delta failed, will retry", "delta_id", res.DeltaID, "key", res.Key, "err", res.Err)
			entry := auditEntry(sum.SweepID, kind, res.Key, staging.OutcomeError, res.Detail, p.now())
			if err := p.store.AppendAudit(context.WithoutCancel(ctx), entry); err != nil {
				sum.add(res)
				sum.FinishedAt = p.now()
				return sum, fmt.Errorf("record failure of %s delta %d: %w", kind, res.DeltaID, err)
			}
		}
		if len(res.Warnings) > 0 {
			p.metrics.CountTierWarning()
			log.Warn("tier configuration looks inconsistent", "key", res.Key, "issues", res.Warnings)
		}
		p.metrics.CountDelta(string(kind), string(res.Tag))
		sum.add(res)
	}

	sum.FinishedAt = p.now()
	log.Info("sweep finished",
		"applied", sum.Applied, "deleted", sum.Deleted, "skipped", sum.Skipped, "retry", sum.Retried)
	return sum, nil
}

func (p *Processor) applyOne(ctx context.Context, sweepID uuid.UUID, kind staging.Kind, s step) Result {
	res := Result{DeltaID: s.id, Kind: kind, Key: s.key}
	err := p.store.InTx(ctx, func(tx Tx) error {
		eff, err := safeRun(ctx, tx, s)
		if err != nil {
			return err
		}
		now := p.now()
		if err := tx.MarkApplied(ctx, kind, s.id, now); err != nil {
			return fmt.Errorf("mark applied: %w", err)
		}
		if err := tx.AppendAudit(ctx, auditEntry(sweepID, kind, s.key, outcomeOf(eff.tag), eff.detail, now)); err != nil {
			return fmt.Errorf("append audit: %w", err)
		}
		res.Tag, res.Detail, res.Warnings = eff.tag, eff.detail, eff.warnings
		return nil
	})
	if err != nil {
		return Result{DeltaID: s.id, Kind: kind, Key: s.key, Tag: TagRetry, Detail: err.Error(), Err: err}
	}
	return res
}

func safeRun(ctx context.Context, tx Tx, s step) (eff effect, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.run(ctx, tx)
}

func outcomeOf(t Tag) staging.Outcome {
	switch t {
	case TagDeleted:
		return staging.OutcomeDelete
	case TagSkipped, TagRetry:
		return staging.OutcomeError
	}
	return staging.OutcomeUpdate
}

func auditEntry(sweepID uuid.UUID, kind staging.Kind, key string, o staging.Outcome, detail string, at time.Time) staging.AuditEntry {
	return staging.AuditEntry{SweepID: sweepID, Entity: kind, EntityKey: key, Outcome: o, Detail: detail, CreatedAt: at}
}

func (p *Processor) pending(ctx context.Context, kind staging.Kind) ([]step, error) {
	switch kind {
	case staging.KindPrice:
		ds, err := p.store.PendingPrices(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]step, 0, len(ds))
		for _, d := range ds {
			out = append(out, priceStep(d))
		}
		return out, nil
	case staging.KindRemnant:
		ds, err := p.store.PendingRemnants(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]step, 0, len(ds))
		for _, d := range ds {
			out = append(out, remnantStep(d))
		}
		return out, nil
	case staging.KindStock:
		ds, err := p.store.PendingStocks(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]step, 0, len(ds))
		for _, d := range ds {
			out = append(out, stockStep(d))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown delta kind %q", kind)
}

// checkRefs возвращает текст ошибки, если товара или склада нет в каталоге.
func checkRefs(ctx context.Context, tx Tx, productID, stockID int64) (string, error) {
	var missing []string
	ok, err := tx.ProductExists(ctx, productID)
	if err != nil {
		return "", err
	}
	if !ok {
		missing = append(missing, fmt.Sprintf("product %d not found", productID))
	}
	ok, err = tx.StockExists(ctx, stockID)
	if err != nil {
		return "", err
	}
	if !ok {
		missing = append(missing, fmt.Sprintf("stock %d not found", stockID))
	}
	return strings.Join(missing, "; "), nil
}

func priceStep(d staging.PriceDelta) step {
	return step{id: d.ID, key: d.Key(), run: func(ctx context.Context, tx Tx) (effect, error) {
		if missing, err := checkRefs(ctx, tx, d.ProductID, d.StockID); err != nil {
			return effect{}, err
		} else if missing != "" {
			return effect{tag: TagSkipped, detail: missing}, nil
		}

		cur, err := tx.GetPrice(ctx, d.ProductID, d.StockID)
		if err != nil {
			return effect{}, err
		}
		merged := mergePrice(cur, d)
		if err := tx.SavePrice(ctx, merged); err != nil {
			return effect{}, err
		}
		eff := effect{tag: TagApplied, detail: verb(cur != nil) + " price"}
		if issues := merged.TierIssues(); len(issues) > 0 {
			eff.warnings = issues
			eff.detail += "; tier warning: " + strings.Join(issues, "; ")
		}
		return eff, nil
	}}
}

func remnantStep(d staging.RemnantDelta) step {
	return step{id: d.ID, key: d.Key(), run: func(ctx context.Context, tx Tx) (effect, error) {
		if missing, err := checkRefs(ctx, tx, d.ProductID, d.StockID); err != nil {
			return effect{}, err
		} else if missing != "" {
			return effect{tag: TagSkipped, detail: missing}, nil
		}

		cur, err := tx.GetRemnant(ctx, d.ProductID, d.StockID)
		if err != nil {
			return effect{}, err
		}
		if err := tx.SaveRemnant(ctx, mergeRemnant(cur, d)); err != nil {
			return effect{}, err
		}
		return effect{tag: TagApplied, detail: verb(cur != nil) + " remnant"}, nil
	}}
}

func stockStep(d staging.StockDelta) step {
	return step{id: d.ID, key: d.Key(), run: func(ctx context.Context, tx Tx) (effect, error) {
		if d.IsRemoved {
			deleted, err := tx.DeleteStock(ctx, d.StockID)
			if err != nil {
				return effect{}, err
			}
			if !deleted {
				return effect{tag: TagDeleted, detail: "stock already absent"}, nil
			}
			return effect{tag: TagDeleted, detail: "deleted stock"}, nil
		}

		cur, err := tx.GetStock(ctx, d.StockID)
		if err != nil {
			return effect{}, err
		}
		if err := tx.SaveStock(ctx, mergeStock(cur, d)); err != nil {
			return effect{}, err
		}
		return effect{tag: TagApplied, detail: verb(cur != nil) + " stock"}, nil
	}}
}

func verb(existed bool) string {
	if existed {
		return "updated"
	}
	return "created"
}
