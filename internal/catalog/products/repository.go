package products

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists catalog products. Update deliberately has no stock
// column in its SET list: stock changes only land through movements.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Product, int, error)
	ListLowStock(ctx context.Context) ([]Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	Create(ctx context.Context, product Product) (Product, error)
	Update(ctx context.Context, id int64, product Product) error
	Delete(ctx context.Context, id int64) error
}

// ListFilters narrows the product listing.
type ListFilters struct {
	Search     string
	CategoryID *int64
	ActiveOnly bool
	SortBy     string
	SortDir    string
	Page       int
	Limit      int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	argCount := 0

	if filters.Search != "" {
		argCount++
		where += ` AND (name ILIKE $` + strconv.Itoa(argCount) + ` OR sku ILIKE $` + strconv.Itoa(argCount) + `)`
		args = append(args, "%"+filters.Search+"%")
	}
	if filters.CategoryID != nil {
		argCount++
		where += ` AND category_id = $` + strconv.Itoa(argCount)
		args = append(args, *filters.CategoryID)
	}
	if filters.ActiveOnly {
		where += ` AND active`
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, sku, name, category_id, price, stock, min_stock, active FROM products` + where +
		` ORDER BY ` + sortOrder(filters.SortBy, filters.SortDir)

	limit := filters.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	argCount++
	query += ` LIMIT $` + strconv.Itoa(argCount)
	args = append(args, limit)
	argCount++
	query += ` OFFSET $` + strconv.Itoa(argCount)
	args = append(args, (page-1)*limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.Stock, &p.MinStock, &p.Active); err != nil {
			return nil, 0, err
		}
		result = append(result, p)
	}
	return result, total, rows.Err()
}

// ListLowStock returns active products at or below their minimum stock level.
func (r *repository) ListLowStock(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, category_id, price, stock, min_stock, active
FROM products WHERE active AND stock <= min_stock ORDER BY stock - min_stock, sku`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.Stock, &p.MinStock, &p.Active); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, category_id, price, stock, min_stock, active FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.SKU, &p.Name, &p.CategoryID, &p.Price, &p.Stock, &p.MinStock, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *repository) Create(ctx context.Context, product Product) (Product, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO products (sku, name, category_id, price, stock, min_stock, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW()) RETURNING id`,
		product.SKU, product.Name, product.CategoryID, product.Price, product.Stock, product.MinStock, product.Active).
		Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return Product{}, ErrDuplicateSKU
		}
		return Product{}, err
	}
	return product, nil
}

func (r *repository) Update(ctx context.Context, id int64, product Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET sku=$2, name=$3, category_id=$4, price=$5, min_stock=$6, active=$7, updated_at=NOW() WHERE id=$1`,
		id, product.SKU, product.Name, product.CategoryID, product.Price, product.MinStock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSKU
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete refuses when order lines reference the product; the check and the
// delete run in one transaction so a concurrent order cannot slip between.
func (r *repository) Delete(ctx context.Context, id int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var refs int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM order_items WHERE product_id=$1`, id).Scan(&refs); err != nil {
		return err
	}
	if refs > 0 {
		return ErrReferencedByOrders
	}
	tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sortOrder(sortBy, sortDir string) string {
	dir := "ASC"
	if sortDir == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "sku":
		return "sku " + dir
	case "stock":
		return "stock " + dir
	case "price":
		return "price " + dir
	case "name":
		return "name " + dir
	default:
		return "name " + dir
	}
}
