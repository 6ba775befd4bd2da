package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stockpilot/stockpilot/internal/shared"
)

// RepositoryPort abstracts ledger persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter HistoryFilter) ([]MovementRow, int, error)
	ProductSummary(ctx context.Context, productID int64) (ProductSummary, error)
	PeriodTotals(ctx context.Context, from, to time.Time) (PeriodTotals, error)
	RecentActivity(ctx context.Context, limit int) ([]ProductActivity, error)
	ScanAnomalies(ctx context.Context, filter AnomalyFilter) ([]Anomaly, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service is the stock mutator: the only code path that writes a product's
// stock quantity. All adjustments serialize on the per-product row lock.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit}
}

// AdjustStock applies a signed delta to a product's stock and records the
// matching movement in the same transaction. It returns the stock level
// before and after the movement.
//
// The primitive is deliberately not idempotent: the same reference id may
// legitimately appear on multiple movements (partial returns). Callers
// needing at-most-once semantics must gate the call on observed state.
func (s *Service) AdjustStock(ctx context.Context, input AdjustInput) (StockSnapshot, error) {
	if input.Delta == 0 {
		return StockSnapshot{}, fmt.Errorf("%w: zero delta", ErrInvalidMovement)
	}
	if !input.Reference.Valid() {
		return StockSnapshot{}, fmt.Errorf("%w: unknown reference kind %q", ErrInvalidMovement, input.Reference)
	}

	var snap StockSnapshot
	var movementID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.GetProductForUpdate(ctx, input.ProductID)
		if err != nil {
			return err
		}
		newStock := product.Stock + input.Delta
		if newStock < 0 {
			return fmt.Errorf("%w: product %d holds %d, delta %d", ErrInsufficientStock, product.ID, product.Stock, input.Delta)
		}
		kind := MovementIn
		if input.Delta < 0 {
			kind = MovementOut
		}
		movement := Movement{
			ProductID:   product.ID,
			Kind:        kind,
			Quantity:    input.Delta,
			StockBefore: product.Stock,
			StockAfter:  newStock,
			Reference:   input.Reference,
			ReferenceID: input.ReferenceID,
			Note:        input.Note,
			ActorID:     input.ActorID,
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		if err := tx.UpdateProductStock(ctx, product.ID, newStock); err != nil {
			return err
		}
		movementID = id
		snap = StockSnapshot{Previous: product.Stock, New: newStock}
		return nil
	})
	if err != nil {
		return StockSnapshot{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger:adjust",
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movementID),
			Meta: map[string]any{
				"product_id":     input.ProductID,
				"delta":          input.Delta,
				"reference_kind": string(input.Reference),
				"previous_stock": snap.Previous,
				"new_stock":      snap.New,
			},
		})
	}
	return snap, nil
}

// MovementHistory lists movements with pagination metadata. The page size is
// normalized once here so the repository limit and the metadata agree.
func (s *Service) MovementHistory(ctx context.Context, filter HistoryFilter) ([]MovementRow, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePageSize(filter.Page, filter.PerPage)
	rows, total, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// ProductMovementSummary aggregates one product's ledger.
func (s *Service) ProductMovementSummary(ctx context.Context, productID int64) (ProductSummary, error) {
	if productID <= 0 {
		return ProductSummary{}, ErrProductNotFound
	}
	return s.repo.ProductSummary(ctx, productID)
}

// PeriodSummary combines window totals with the most recently moved products.
type PeriodSummary struct {
	Totals PeriodTotals      `json:"totals"`
	Recent []ProductActivity `json:"recent"`
}

// GetPeriodSummary aggregates the window concurrently; both queries run on
// snapshot reads and never contend with the mutator's lock.
func (s *Service) GetPeriodSummary(ctx context.Context, from, to time.Time) (PeriodSummary, error) {
	if to.Before(from) {
		return PeriodSummary{}, errors.New("ledger: period end precedes start")
	}
	var summary PeriodSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		totals, err := s.repo.PeriodTotals(gctx, from, to)
		if err != nil {
			return err
		}
		summary.Totals = totals
		return nil
	})
	g.Go(func() error {
		recent, err := s.repo.RecentActivity(gctx, 10)
		if err != nil {
			return err
		}
		summary.Recent = recent
		return nil
	})
	if err := g.Wait(); err != nil {
		return PeriodSummary{}, err
	}
	return summary, nil
}

// Anomalies runs the anomaly scan over a trailing window.
func (s *Service) Anomalies(ctx context.Context, window time.Duration, absQtyThreshold, countThreshold int64) ([]Anomaly, error) {
	if window <= 0 {
		window = 7 * 24 * time.Hour
	}
	if absQtyThreshold <= 0 {
		absQtyThreshold = 500
	}
	if countThreshold <= 0 {
		countThreshold = 100
	}
	return s.repo.ScanAnomalies(ctx, AnomalyFilter{
		Since:           time.Now().UTC().Add(-window),
		AbsQtyThreshold: absQtyThreshold,
		CountThreshold:  countThreshold,
	})
}
