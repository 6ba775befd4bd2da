package shipping

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists shipping areas.
type Repository interface {
	List(ctx context.Context) ([]Area, error)
	Get(ctx context.Context, id int64) (Area, error)
	Create(ctx context.Context, area Area) (Area, error)
	Update(ctx context.Context, id int64, area Area) error
	Delete(ctx context.Context, id int64) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context) ([]Area, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, cost FROM shipping_areas ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var areas []Area
	for rows.Next() {
		var a Area
		if err := rows.Scan(&a.ID, &a.Name, &a.Cost); err != nil {
			return nil, err
		}
		areas = append(areas, a)
	}
	return areas, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Area, error) {
	var a Area
	err := r.pool.QueryRow(ctx, `SELECT id, name, cost FROM shipping_areas WHERE id=$1`, id).
		Scan(&a.ID, &a.Name, &a.Cost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Area{}, ErrNotFound
		}
		return Area{}, err
	}
	return a, nil
}

func (r *repository) Create(ctx context.Context, area Area) (Area, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO shipping_areas (name, cost, created_at, updated_at) VALUES ($1,$2,NOW(),NOW()) RETURNING id`,
		area.Name, area.Cost).Scan(&area.ID)
	if err != nil {
		return Area{}, err
	}
	return area, nil
}

func (r *repository) Update(ctx context.Context, id int64, area Area) error {
	tag, err := r.pool.Exec(ctx, `UPDATE shipping_areas SET name=$2, cost=$3, updated_at=NOW() WHERE id=$1`,
		id, area.Name, area.Cost)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete checks for referencing orders and deletes in one transaction.
func (r *repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var refs int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE shipping_area_id=$1`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrReferencedByOrders
	}
	tag, err := tx.Exec(ctx, `DELETE FROM shipping_areas WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}
