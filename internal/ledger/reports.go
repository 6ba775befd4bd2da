package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// HistoryFilter narrows the movement history listing.
type HistoryFilter struct {
	ProductID *int64
	Reference *ReferenceKind
	From      time.Time
	To        time.Time
	Page      int
	PerPage   int
}

// MovementRow is a movement joined with product display fields.
type MovementRow struct {
	Movement
	ProductSKU  string `json:"product_sku"`
	ProductName string `json:"product_name"`
}

// ProductSummary aggregates the ledger for a single product.
type ProductSummary struct {
	ProductID      int64      `json:"product_id"`
	SKU            string     `json:"sku"`
	CurrentStock   int64      `json:"current_stock"`
	TotalIn        int64      `json:"total_in"`
	TotalOut       int64      `json:"total_out"`
	MovementCount  int64      `json:"movement_count"`
	LastMovementAt *time.Time `json:"last_movement_at,omitempty"`
}

// PeriodTotals aggregates movements over a time window.
type PeriodTotals struct {
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
	TotalIn   int64     `json:"total_in"`
	TotalOut  int64     `json:"total_out"`
	Movements int64     `json:"movements"`
}

// ProductActivity describes a recently moved product.
type ProductActivity struct {
	ProductID   int64     `json:"product_id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Movements   int64     `json:"movements"`
	LastMovedAt time.Time `json:"last_moved_at"`
}

// AnomalyFilter configures the anomaly scan thresholds.
type AnomalyFilter struct {
	Since           time.Time
	AbsQtyThreshold int64
	CountThreshold  int64
}

// Anomaly flags a product with unusual movement volume.
type Anomaly struct {
	ProductID   int64  `json:"product_id"`
	SKU         string `json:"sku"`
	AbsQuantity int64  `json:"abs_quantity"`
	Movements   int64  `json:"movements"`
	Severity    string `json:"severity"`
}

// ListMovements returns movement history joined with product display fields,
// newest first. Plain snapshot reads; no product lock is taken.
func (r *Repository) ListMovements(ctx context.Context, filter HistoryFilter) ([]MovementRow, int, error) {
	if r == nil {
		return nil, 0, errors.New("ledger repository not initialised")
	}
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1
	if filter.ProductID != nil {
		where += fmt.Sprintf(" AND m.product_id = $%d", argPos)
		args = append(args, *filter.ProductID)
		argPos++
	}
	if filter.Reference != nil {
		where += fmt.Sprintf(" AND m.reference_kind = $%d", argPos)
		args = append(args, string(*filter.Reference))
		argPos++
	}
	if !filter.From.IsZero() {
		where += fmt.Sprintf(" AND m.created_at >= $%d", argPos)
		args = append(args, filter.From)
		argPos++
	}
	if !filter.To.IsZero() {
		where += fmt.Sprintf(" AND m.created_at <= $%d", argPos)
		args = append(args, filter.To)
		argPos++
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM stock_movements m %s", where)
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, &PersistenceError{Op: "count movements", Err: err}
	}

	perPage := filter.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	query := fmt.Sprintf(`SELECT m.id, m.product_id, m.kind, m.quantity, m.stock_before, m.stock_after,
       m.reference_kind, m.reference_id, m.note, m.actor_id, m.created_at,
       p.sku, p.name
FROM stock_movements m
JOIN products p ON p.id = m.product_id
%s
ORDER BY m.created_at DESC, m.id DESC
LIMIT $%d OFFSET $%d`, where, argPos, argPos+1)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, &PersistenceError{Op: "list movements", Err: err}
	}
	defer rows.Close()

	result := []MovementRow{}
	for rows.Next() {
		var row MovementRow
		var kind, reference string
		if err := rows.Scan(&row.ID, &row.ProductID, &kind, &row.Quantity, &row.StockBefore, &row.StockAfter,
			&reference, &row.ReferenceID, &row.Note, &row.ActorID, &row.CreatedAt,
			&row.ProductSKU, &row.ProductName); err != nil {
			return nil, 0, &PersistenceError{Op: "scan movement", Err: err}
		}
		row.Kind = MovementKind(kind)
		row.Reference = ReferenceKind(reference)
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, &PersistenceError{Op: "list movements", Err: err}
	}
	return result, total, nil
}

// ProductSummary aggregates the movement history of one product.
func (r *Repository) ProductSummary(ctx context.Context, productID int64) (ProductSummary, error) {
	if r == nil {
		return ProductSummary{}, errors.New("ledger repository not initialised")
	}
	var s ProductSummary
	err := r.pool.QueryRow(ctx, `SELECT p.id, p.sku, p.stock,
       COALESCE(SUM(m.quantity) FILTER (WHERE m.quantity > 0), 0),
       COALESCE(-SUM(m.quantity) FILTER (WHERE m.quantity < 0), 0),
       COUNT(m.id),
       MAX(m.created_at)
FROM products p
LEFT JOIN stock_movements m ON m.product_id = p.id
WHERE p.id = $1
GROUP BY p.id, p.sku, p.stock`, productID).
		Scan(&s.ProductID, &s.SKU, &s.CurrentStock, &s.TotalIn, &s.TotalOut, &s.MovementCount, &s.LastMovementAt)
	if err != nil {
		if isNoRows(err) {
			return ProductSummary{}, ErrProductNotFound
		}
		return ProductSummary{}, &PersistenceError{Op: "product summary", Err: err}
	}
	return s, nil
}

// PeriodTotals sums inbound and outbound quantities over a window.
func (r *Repository) PeriodTotals(ctx context.Context, from, to time.Time) (PeriodTotals, error) {
	if r == nil {
		return PeriodTotals{}, errors.New("ledger repository not initialised")
	}
	totals := PeriodTotals{From: from, To: to}
	err := r.pool.QueryRow(ctx, `SELECT
       COALESCE(SUM(quantity) FILTER (WHERE quantity > 0), 0),
       COALESCE(-SUM(quantity) FILTER (WHERE quantity < 0), 0),
       COUNT(*)
FROM stock_movements
WHERE created_at >= $1 AND created_at <= $2`, from, to).
		Scan(&totals.TotalIn, &totals.TotalOut, &totals.Movements)
	if err != nil {
		return PeriodTotals{}, &PersistenceError{Op: "period totals", Err: err}
	}
	return totals, nil
}

// RecentActivity lists the most recently moved products.
func (r *Repository) RecentActivity(ctx context.Context, limit int) ([]ProductActivity, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, p.name, COUNT(m.id), MAX(m.created_at)
FROM stock_movements m
JOIN products p ON p.id = m.product_id
GROUP BY p.id, p.sku, p.name
ORDER BY MAX(m.created_at) DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "recent activity", Err: err}
	}
	defer rows.Close()

	result := []ProductActivity{}
	for rows.Next() {
		var a ProductActivity
		if err := rows.Scan(&a.ProductID, &a.SKU, &a.Name, &a.Movements, &a.LastMovedAt); err != nil {
			return nil, &PersistenceError{Op: "scan activity", Err: err}
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "recent activity", Err: err}
	}
	return result, nil
}

// ScanAnomalies flags products whose absolute movement volume or movement
// count since the filter cutoff exceeds the configured thresholds.
func (r *Repository) ScanAnomalies(ctx context.Context, filter AnomalyFilter) ([]Anomaly, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.sku, COALESCE(SUM(ABS(m.quantity)), 0) AS abs_qty, COUNT(m.id) AS moves
FROM stock_movements m
JOIN products p ON p.id = m.product_id
WHERE m.created_at >= $1
GROUP BY p.id, p.sku
HAVING COALESCE(SUM(ABS(m.quantity)), 0) > $2 OR COUNT(m.id) > $3
ORDER BY abs_qty DESC`, filter.Since, filter.AbsQtyThreshold, filter.CountThreshold)
	if err != nil {
		return nil, &PersistenceError{Op: "scan anomalies", Err: err}
	}
	defer rows.Close()

	result := []Anomaly{}
	for rows.Next() {
		var a Anomaly
		if err := rows.Scan(&a.ProductID, &a.SKU, &a.AbsQuantity, &a.Movements); err != nil {
			return nil, &PersistenceError{Op: "scan anomaly row", Err: err}
		}
		a.Severity = classifySeverity(a, filter)
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "scan anomalies", Err: err}
	}
	return result, nil
}

func classifySeverity(a Anomaly, filter AnomalyFilter) string {
	if filter.AbsQtyThreshold > 0 && a.AbsQuantity > 2*filter.AbsQtyThreshold {
		return "HIGH"
	}
	if filter.CountThreshold > 0 && a.Movements > 2*filter.CountThreshold {
		return "HIGH"
	}
	return "MEDIUM"
}
