package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Spok95/pipe-catalog/internal/apperr"
	"github.com/Spok95/pipe-catalog/internal/infra/db"
)

type Repo struct{ q db.Querier }

func NewRepo(q db.Querier) *Repo { return &Repo{q: q} }

// WithTx возвращает репозиторий, работающий внутри транзакции.
func (r *Repo) WithTx(tx pgx.Tx) *Repo { return &Repo{q: tx} }

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

/* Products */

const productCols = `id, name, gost, steel, diameter, wall, koef, created_at, updated_at`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	if err := row.Scan(&p.ID, &p.Name, &p.Gost, &p.Steel, &p.Diameter, &p.Wall, &p.Koef, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) CreateProduct(ctx context.Context, p Product) (*Product, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO products (id, name, gost, steel, diameter, wall, koef)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING `+productCols,
		p.ID, p.Name, p.Gost, p.Steel, p.Diameter, p.Wall, p.Koef)
	out, err := scanProduct(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("product %d: %w", p.ID, apperr.ErrConflict)
		}
		return nil, err
	}
	return out, nil
}

// GetProduct возвращает nil, nil если товара нет.
func (r *Repo) GetProduct(ctx context.Context, id int64) (*Product, error) {
	return scanProduct(r.q.QueryRow(ctx, `SELECT `+productCols+` FROM products WHERE id=$1`, id))
}

func (r *Repo) ProductExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

/* Stocks */

const stockCols = `id, name, city, address, schedule, updated_at`

func scanStock(row pgx.Row) (*Stock, error) {
	var s Stock
	if err := row.Scan(&s.ID, &s.Name, &s.City, &s.Address, &s.Schedule, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *Repo) CreateStock(ctx context.Context, s Stock) (*Stock, error) {
	row := r.q.QueryRow(ctx, `
		INSERT INTO stocks (id, name, city, address, schedule)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING `+stockCols,
		s.ID, s.Name, s.City, s.Address, s.Schedule)
	out, err := scanStock(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("stock %d: %w", s.ID, apperr.ErrConflict)
		}
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetStock(ctx context.Context, id int64) (*Stock, error) {
	return scanStock(r.q.QueryRow(ctx, `SELECT `+stockCols+` FROM stocks WHERE id=$1`, id))
}

func (r *Repo) StockExists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stocks WHERE id=$1)`, id).Scan(&ok)
	return ok, err
}

func (r *Repo) ListStocks(ctx context.Context) ([]Stock, error) {
	rows, err := r.q.Query(ctx, `SELECT `+stockCols+` FROM stocks ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stock
	for rows.Next() {
		var s Stock
		if err := rows.Scan(&s.ID, &s.Name, &s.City, &s.Address, &s.Schedule, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) SaveStock(ctx context.Context, s Stock) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO stocks (id, name, city, address, schedule, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, city=EXCLUDED.city, address=EXCLUDED.address,
			schedule=EXCLUDED.schedule, updated_at=now()
	`, s.ID, s.Name, s.City, s.Address, s.Schedule)
	return err
}

// DeleteStock возвращает false, если склада не было.
func (r *Repo) DeleteStock(ctx context.Context, id int64) (bool, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM stocks WHERE id=$1`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

/* Prices */

const priceCols = `product_id, stock_id,
	price_t, price_limit_t1, price_t1, price_limit_t2, price_t2,
	price_m, price_limit_m1, price_m1, price_limit_m2, price_m2,
	nds, updated_at`

func (r *Repo) GetPrice(ctx context.Context, productID, stockID int64) (*Price, error) {
	row := r.q.QueryRow(ctx, `SELECT `+priceCols+` FROM prices WHERE product_id=$1 AND stock_id=$2`, productID, stockID)
	var p Price
	if err := row.Scan(
		&p.ProductID, &p.StockID,
		&p.PriceT, &p.PriceLimitT1, &p.PriceT1, &p.PriceLimitT2, &p.PriceT2,
		&p.PriceM, &p.PriceLimitM1, &p.PriceM1, &p.PriceLimitM2, &p.PriceM2,
		&p.NDS, &p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repo) SavePrice(ctx context.Context, p Price) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO prices (product_id, stock_id,
			price_t, price_limit_t1, price_t1, price_limit_t2, price_t2,
			price_m, price_limit_m1, price_m1, price_limit_m2, price_m2,
			nds, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (product_id, stock_id) DO UPDATE SET
			price_t=EXCLUDED.price_t, price_limit_t1=EXCLUDED.price_limit_t1, price_t1=EXCLUDED.price_t1,
			price_limit_t2=EXCLUDED.price_limit_t2, price_t2=EXCLUDED.price_t2,
			price_m=EXCLUDED.price_m, price_limit_m1=EXCLUDED.price_limit_m1, price_m1=EXCLUDED.price_m1,
			price_limit_m2=EXCLUDED.price_limit_m2, price_m2=EXCLUDED.price_m2,
			nds=EXCLUDED.nds, updated_at=now()
	`, p.ProductID, p.StockID,
		p.PriceT, p.PriceLimitT1, p.PriceT1, p.PriceLimitT2, p.PriceT2,
		p.PriceM, p.PriceLimitM1, p.PriceM1, p.PriceLimitM2, p.PriceM2,
		p.NDS)
	return err
}

/* Remnants */

func (r *Repo) GetRemnant(ctx context.Context, productID, stockID int64) (*Remnant, error) {
	row := r.q.QueryRow(ctx, `
		SELECT product_id, stock_id, in_stock_t, in_stock_m, soon_arrive_t, soon_arrive_m,
		       reserved_t, reserved_m, avg_tube_length, avg_tube_weight, updated_at
		FROM remnants WHERE product_id=$1 AND stock_id=$2
	`, productID, stockID)
	var rm Remnant
	if err := row.Scan(
		&rm.ProductID, &rm.StockID, &rm.InStockT, &rm.InStockM, &rm.SoonArriveT, &rm.SoonArriveM,
		&rm.ReservedT, &rm.ReservedM, &rm.AvgTubeLength, &rm.AvgTubeWeight, &rm.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rm, nil
}

func (r *Repo) SaveRemnant(ctx context.Context, rm Remnant) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO remnants (product_id, stock_id, in_stock_t, in_stock_m, soon_arrive_t, soon_arrive_m,
			reserved_t, reserved_m, avg_tube_length, avg_tube_weight, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
		ON CONFLICT (product_id, stock_id) DO UPDATE SET
			in_stock_t=EXCLUDED.in_stock_t, in_stock_m=EXCLUDED.in_stock_m,
			soon_arrive_t=EXCLUDED.soon_arrive_t, soon_arrive_m=EXCLUDED.soon_arrive_m,
			reserved_t=EXCLUDED.reserved_t, reserved_m=EXCLUDED.reserved_m,
			avg_tube_length=EXCLUDED.avg_tube_length, avg_tube_weight=EXCLUDED.avg_tube_weight,
			updated_at=now()
	`, rm.ProductID, rm.StockID, rm.InStockT, rm.InStockM, rm.SoonArriveT, rm.SoonArriveM,
		rm.ReservedT, rm.ReservedM, rm.AvgTubeLength, rm.AvgTubeWeight)
	return err
}
