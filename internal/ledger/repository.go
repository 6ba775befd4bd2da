package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgLockNotAvailable is raised when lock_timeout expires while waiting on a
// row lock.
const pgLockNotAvailable = "55P03"

// pgSerializationFailure is raised when a row-locking statement loses a
// concurrent-update race under a snapshot isolation level.
const pgSerializationFailure = "40001"

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// RepositoryConfig groups repository settings.
type RepositoryConfig struct {
	// LockTimeout bounds the wait for the per-product row lock. Zero keeps
	// the server default.
	LockTimeout time.Duration
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, cfg RepositoryConfig) *Repository {
	return &Repository{pool: pool, lockTimeout: cfg.LockTimeout}
}

// TxRepository exposes the transactional operations used by the mutator.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, productID int64) (Product, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	UpdateProductStock(ctx context.Context, productID, stock int64) error
}

type txRepository struct {
	tx          pgx.Tx
	lockTimeout time.Duration
}

// WithTx executes the callback inside a read-committed transaction. Read
// committed is load-bearing: a FOR UPDATE that blocks on the row lock must
// re-read the winner's committed row once the lock is released, which a
// snapshot isolation level turns into a serialization failure instead.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return &PersistenceError{Op: "begin tx", Err: err}
	}
	wrapper := &txRepository{tx: tx, lockTimeout: r.lockTimeout}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return &PersistenceError{Op: "commit tx", Err: err}
	}
	return nil
}

// GetProductForUpdate locks the product row for the remainder of the
// transaction. Waiting is bounded by the configured lock timeout.
func (r *txRepository) GetProductForUpdate(ctx context.Context, productID int64) (Product, error) {
	if r.lockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := r.tx.Exec(ctx, stmt); err != nil {
			return Product{}, &PersistenceError{Op: "set lock timeout", Err: err}
		}
	}
	var p Product
	err := r.tx.QueryRow(ctx, `SELECT id, sku, name, stock, min_stock, active FROM products WHERE id=$1 FOR UPDATE`, productID).
		Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.MinStock, &p.Active)
	if err != nil {
		return Product{}, mapLockError(err)
	}
	return p, nil
}

// mapLockError translates row-lock failures into retryable sentinels. 55P03 is
// the bounded lock_timeout expiring; 40001 is a serialization failure, kept as
// a retryable mapping in case a caller wraps the mutator in a stricter
// isolation level.
func mapLockError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrProductNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return ErrLockTimeout
		case pgSerializationFailure:
			return ErrSerialization
		}
	}
	return &PersistenceError{Op: "lock product", Err: err}
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, kind, quantity, stock_before, stock_after, reference_kind, reference_id, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW()) RETURNING id`,
		m.ProductID, string(m.Kind), m.Quantity, m.StockBefore, m.StockAfter, string(m.Reference), m.ReferenceID, m.Note, m.ActorID).Scan(&id)
	if err != nil {
		return 0, &PersistenceError{Op: "insert movement", Err: err}
	}
	return id, nil
}

func (r *txRepository) UpdateProductStock(ctx context.Context, productID, stock int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE products SET stock=$2, updated_at=NOW() WHERE id=$1`, productID, stock)
	if err != nil {
		return &PersistenceError{Op: "update stock", Err: err}
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// PurgeMovements removes movements created before cutoff whose reference kind
// is neither sale nor return, preserving the transactional audit trail.
func (r *Repository) PurgeMovements(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil {
		return 0, errors.New("ledger repository not initialised")
	}
	tag, err := r.pool.Exec(ctx, `DELETE FROM stock_movements WHERE created_at < $1 AND reference_kind NOT IN ($2, $3)`,
		cutoff, string(ReferenceSale), string(ReferenceReturn))
	if err != nil {
		return 0, &PersistenceError{Op: "purge movements", Err: err}
	}
	return tag.RowsAffected(), nil
}
