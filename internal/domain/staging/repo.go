package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Spok95/pipe-catalog/internal/infra/db"
)

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{q: tx} }

func table(k Kind) (string, error) {
	switch k {
	case KindPrice:
		return "price_deltas", nil
	case KindRemnant:
		return "remnant_deltas", nil
	case KindStock:
		return "stock_deltas", nil
	}
	return "", fmt.Errorf("unknown delta kind %q", k)
}

func sendAll(ctx context.Context, q db.Querier, b *pgx.Batch) error {
	br := q.SendBatch(ctx, b)
	for i := 0; i < b.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return br.Close()
}

/* Append */

func (r *Repo) AppendPrices(ctx context.Context, ds []PriceDelta) (int, error) {
	b := &pgx.Batch{}
	for _, d := range ds {
		b.Queue(`
			INSERT INTO price_deltas (product_id, stock_id,
				price_t, price_limit_t1, price_t1, price_limit_t2, price_t2,
				price_m, price_limit_m1, price_m1, price_limit_m2, price_m2,
				nds, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		`, d.ProductID, d.StockID,
			d.PriceT, d.PriceLimitT1, d.PriceT1, d.PriceLimitT2, d.PriceT2,
			d.PriceM, d.PriceLimitM1, d.PriceM1, d.PriceLimitM2, d.PriceM2,
			d.NDS, d.ReceivedAt)
	}
	if err := sendAll(ctx, r.q, b); err != nil {
		return 0, err
	}
	return len(ds), nil
}

func (r *Repo) AppendRemnants(ctx context.Context, ds []RemnantDelta) (int, error) {
	b := &pgx.Batch{}
	for _, d := range ds {
		b.Queue(`
			INSERT INTO remnant_deltas (product_id, stock_id, in_stock_t, in_stock_m,
				soon_arrive_t, soon_arrive_m, reserved_t, reserved_m,
				avg_tube_length, avg_tube_weight, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, d.ProductID, d.StockID, d.InStockT, d.InStockM,
			d.SoonArriveT, d.SoonArriveM, d.ReservedT, d.ReservedM,
			d.AvgTubeLength, d.AvgTubeWeight, d.ReceivedAt)
	}
	if err := sendAll(ctx, r.q, b); err != nil {
		return 0, err
	}
	return len(ds), nil
}

func (r *Repo) AppendStocks(ctx context.Context, ds []StockDelta) (int, error) {
	b := &pgx.Batch{}
	for _, d := range ds {
		b.Queue(`
			INSERT INTO stock_deltas (stock_id, name, city, address, schedule, is_removed, received_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, d.StockID, d.Name, d.City, d.Address, d.Schedule, d.IsRemoved, d.ReceivedAt)
	}
	if err := sendAll(ctx, r.q, b); err != nil {
		return 0, err
	}
	return len(ds), nil
}

/* Pending */

func (r *Repo) PendingPrices(ctx context.Context) ([]PriceDelta, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, product_id, stock_id,
		       price_t, price_limit_t1, price_t1, price_limit_t2, price_t2,
		       price_m, price_limit_m1, price_m1, price_limit_m2, price_m2,
		       nds, received_at
		FROM price_deltas
		WHERE NOT is_applied
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PriceDelta
	for rows.Next() {
		var d PriceDelta
		if err := rows.Scan(&d.ID, &d.ProductID, &d.StockID,
			&d.PriceT, &d.PriceLimitT1, &d.PriceT1, &d.PriceLimitT2, &d.PriceT2,
			&d.PriceM, &d.PriceLimitM1, &d.PriceM1, &d.PriceLimitM2, &d.PriceM2,
			&d.NDS, &d.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) PendingRemnants(ctx context.Context) ([]RemnantDelta, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, product_id, stock_id, in_stock_t, in_stock_m,
		       soon_arrive_t, soon_arrive_m, reserved_t, reserved_m,
		       avg_tube_length, avg_tube_weight, received_at
		FROM remnant_deltas
		WHERE NOT is_applied
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RemnantDelta
	for rows.Next() {
		var d RemnantDelta
		if err := rows.Scan(&d.ID, &d.ProductID, &d.StockID, &d.InStockT, &d.InStockM,
			&d.SoonArriveT, &d.SoonArriveM, &d.ReservedT, &d.ReservedM,
			&d.AvgTubeLength, &d.AvgTubeWeight, &d.ReceivedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *Repo) PendingStocks(ctx context.Context) ([]StockDelta, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, stock_id, name, city, address, schedule, is_removed, received_at
		FROM stock_deltas
		WHERE NOT is_applied
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockDelta
	for rows.Next() {
		var d StockDelta
		if err := rows.Scan(&d.ID, &d.StockID, &d.Name, &d.City, &d.Address, &d.Schedule,
			&d.IsRemoved, &d.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkApplied помечает дельту применённой. Повторная пометка даёт ошибку: запись уже обработал кто-то другой.
func (r *Repo) MarkApplied(ctx context.Context, k Kind, id int64, at time.Time) error {
	t, err := table(k)
	if err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, `UPDATE `+t+` SET is_applied=TRUE, applied_at=$2 WHERE id=$1 AND NOT is_applied`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s delta %d is already applied or missing", k, id)
	}
	return nil
}

/* Audit */

func (r *Repo) AppendAudit(ctx context.Context, entries ...AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for _, e := range entries {
		b.Queue(`
			INSERT INTO sync_audit (sweep_id, entity, entity_key, outcome, detail, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, e.SweepID, string(e.Entity), e.EntityKey, string(e.Outcome), e.Detail, e.CreatedAt)
	}
	return sendAll(ctx, r.q, b)
}

// AuditLog возвращает записи за [from, to], новые первыми.
func (r *Repo) AuditLog(ctx context.Context, from, to time.Time) ([]AuditEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, sweep_id, entity, entity_key, outcome, detail, created_at
		FROM sync_audit
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC, id DESC
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.SweepID, &e.Entity, &e.EntityKey, &e.Outcome, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

/* Status */

func (r *Repo) PendingCounts(ctx context.Context) (map[Kind]int, error) {
	var prices, remnants, stocks int
	err := r.q.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM price_deltas   WHERE NOT is_applied),
			(SELECT count(*) FROM remnant_deltas WHERE NOT is_applied),
			(SELECT count(*) FROM stock_deltas   WHERE NOT is_applied)
	`).Scan(&prices, &remnants, &stocks)
	if err != nil {
		return nil, err
	}
	return map[Kind]int{KindPrice: prices, KindRemnant: remnants, KindStock: stocks}, nil
}

// LastAppliedAt: время последнего применения по всем видам; nil, если ничего не применялось.
func (r *Repo) LastAppliedAt(ctx context.Context) (*time.Time, error) {
	var at *time.Time
	err := r.q.QueryRow(ctx, `
		SELECT max(at) FROM (
			SELECT max(applied_at) AS at FROM price_deltas
			UNION ALL SELECT max(applied_at) FROM remnant_deltas
			UNION ALL SELECT max(applied_at) FROM stock_deltas
		) s
	`).Scan(&at)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return at, nil
}

/* Cleanup */

// Purge удаляет применённые дельты и записи журнала строго старше cutoff.
func (r *Repo) Purge(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	var res PurgeResult
	targets := []struct {
		sql string
		n   *int64
	}{
		{`DELETE FROM price_deltas WHERE is_applied AND received_at < $1`, &res.Prices},
		{`DELETE FROM remnant_deltas WHERE is_applied AND received_at < $1`, &res.Remnants},
		{`DELETE FROM stock_deltas WHERE is_applied AND received_at < $1`, &res.Stocks},
		{`DELETE FROM sync_audit WHERE created_at < $1`, &res.Audit},
	}
	for _, t := range targets {
		tag, err := r.q.Exec(ctx, t.sql, cutoff)
		if err != nil {
			return res, err
		}
		*t.n = tag.RowsAffected()
	}
	return res, nil
}
