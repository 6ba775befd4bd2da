package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stockpilot/stockpilot/internal/platform/db"
)

// Repository persists orders in PostgreSQL.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, filter ListFilter) ([]Order, int, error)
	Create(ctx context.Context, order Order) (int64, error)
	InsertItem(ctx context.Context, item Item) (int64, error)
	GetStatusForUpdate(ctx context.Context, id int64) (Status, error)
	UpdateStatus(ctx context.Context, id int64, status Status, actorID *int64) error
}

// ListFilter narrows the order listing.
type ListFilter struct {
	Status  *Status
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repository struct {
	q    dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{q: pool, pool: pool}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{q: tx, pool: r.pool})
	})
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	var o Order
	var status string
	err := r.q.QueryRow(ctx, `SELECT id, reference, status, shipping_area_id, customer_name, note, created_by, cancelled_by, cancelled_at, created_at, updated_at
FROM orders WHERE id=$1`, id).
		Scan(&o.ID, &o.Reference, &status, &o.ShippingAreaID, &o.CustomerName, &o.Note, &o.CreatedBy, &o.CancelledBy, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	o.Status = Status(status)

	rows, err := r.q.Query(ctx, `SELECT id, order_id, product_id, quantity FROM order_items WHERE order_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Order, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*filter.Status))
		argPos++
	}
	if !filter.From.IsZero() {
		where += fmt.Sprintf(" AND created_at >= $%d", argPos)
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		where += fmt.Sprintf(" AND created_at <= $%d", argPos)
		args = append(args, filter.To)
		argPos++
	}

	var total int
	if err := r.q.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := fmt.Sprintf(`SELECT id, reference, status, shipping_area_id, customer_name, note, created_by, cancelled_by, cancelled_at, created_at, updated_at
FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	result := []Order{}
	for rows.Next() {
		var o Order
		var status string
		if err := rows.Scan(&o.ID, &o.Reference, &status, &o.ShippingAreaID, &o.CustomerName, &o.Note, &o.CreatedBy, &o.CancelledBy, &o.CancelledAt, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, 0, err
		}
		o.Status = Status(status)
		result = append(result, o)
	}
	return result, total, rows.Err()
}

func (r *repository) Create(ctx context.Context, order Order) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO orders (reference, status, shipping_area_id, customer_name, note, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		order.Reference, string(order.Status), order.ShippingAreaID, order.CustomerName, order.Note, order.CreatedBy).Scan(&id)
	return id, err
}

func (r *repository) InsertItem(ctx context.Context, item Item) (int64, error) {
	var id int64
	err := r.q.QueryRow(ctx, `INSERT INTO order_items (order_id, product_id, quantity) VALUES ($1,$2,$3) RETURNING id`,
		item.OrderID, item.ProductID, item.Quantity).Scan(&id)
	return id, err
}

// GetStatusForUpdate locks the order row so the status check and the update
// happen against the same stored value.
func (r *repository) GetStatusForUpdate(ctx context.Context, id int64) (Status, error) {
	var status string
	err := r.q.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return Status(status), nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, actorID *int64) error {
	var tag pgconn.CommandTag
	var err error
	if status == StatusCancelled {
		tag, err = r.q.Exec(ctx, `UPDATE orders SET status=$2, cancelled_by=$3, cancelled_at=NOW(), updated_at=NOW() WHERE id=$1`, id, string(status), actorID)
	} else {
		tag, err = r.q.Exec(ctx, `UPDATE orders SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
