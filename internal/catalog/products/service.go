package products

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// StockAdjuster routes stock changes through the movement ledger.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, input ledger.AdjustInput) (ledger.StockSnapshot, error)
}

// Service owns product CRUD. Stock edits never hit the products table
// directly; they become ledger adjustments so history stays complete.
type Service struct {
	repo  Repository
	stock StockAdjuster
	audit AuditPort
}

// AuditPort records admin actions.
type AuditPort interface {
	Record(ctx context.Context, entry shared.AuditLog) error
}

// NewService constructs the product service.
func NewService(repo Repository, stock StockAdjuster, audit AuditPort) *Service {
	return &Service{repo: repo, stock: stock, audit: audit}
}

// SaveInput carries a create or update, including the desired stock level.
type SaveInput struct {
	SKU        string
	Name       string
	CategoryID *int64
	Price      int64
	Stock      int64
	MinStock   int64
	Active     bool
	Note       string
	ActorID    *int64
}

func (s *Service) List(ctx context.Context, filters ListFilters) ([]Product, int, error) {
	return s.repo.List(ctx, filters)
}

// ListLowStock returns active products at or below their minimum level.
func (s *Service) ListLowStock(ctx context.Context) ([]Product, error) {
	return s.repo.ListLowStock(ctx)
}

func (s *Service) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// Create inserts the product with its opening stock, then records the opening
// balance as an adjustment so the ledger replays from zero.
func (s *Service) Create(ctx context.Context, input SaveInput) (Product, error) {
	if err := validateSave(input); err != nil {
		return Product{}, err
	}
	created, err := s.repo.Create(ctx, Product{
		SKU:        input.SKU,
		Name:       input.Name,
		CategoryID: input.CategoryID,
		Price:      input.Price,
		MinStock:   input.MinStock,
		Active:     input.Active,
	})
	if err != nil {
		return Product{}, err
	}
	if input.Stock != 0 {
		if _, err := s.stock.AdjustStock(ctx, ledger.AdjustInput{
			ProductID: created.ID,
			Delta:     input.Stock,
			Reference: ledger.ReferenceAdjustment,
			Note:      "opening balance",
			ActorID:   input.ActorID,
		}); err != nil {
			return Product{}, fmt.Errorf("products: opening balance: %w", err)
		}
		created.Stock = input.Stock
	}
	s.recordAudit(ctx, input.ActorID, "product:create", created.ID)
	return created, nil
}

// Save updates catalog fields and, when the requested stock differs from the
// stored stock, routes the difference through the ledger as an adjustment.
// Equal stock means no mutator call and no movement.
func (s *Service) Save(ctx context.Context, id int64, input SaveInput) (Product, error) {
	if id <= 0 {
		return Product{}, ErrNotFound
	}
	if err := validateSave(input); err != nil {
		return Product{}, err
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}

	if err := s.repo.Update(ctx, id, Product{
		SKU:        input.SKU,
		Name:       input.Name,
		CategoryID: input.CategoryID,
		Price:      input.Price,
		MinStock:   input.MinStock,
		Active:     input.Active,
	}); err != nil {
		return Product{}, err
	}

	if delta := input.Stock - current.Stock; delta != 0 {
		note := input.Note
		if note == "" {
			note = "manual stock edit"
		}
		if _, err := s.stock.AdjustStock(ctx, ledger.AdjustInput{
			ProductID: id,
			Delta:     delta,
			Reference: ledger.ReferenceAdjustment,
			Note:      note,
			ActorID:   input.ActorID,
		}); err != nil {
			return Product{}, err
		}
	}
	s.recordAudit(ctx, input.ActorID, "product:update", id)
	return s.repo.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id int64, actorID *int64) error {
	if id <= 0 {
		return ErrNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "product:delete", id)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID *int64, action string, productID int64) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "product",
		EntityID: strconv.FormatInt(productID, 10),
	})
}

func validateSave(input SaveInput) error {
	if input.SKU == "" {
		return errors.New("products: sku required")
	}
	if input.Name == "" {
		return errors.New("products: name required")
	}
	if input.Price < 0 {
		return errors.New("products: price cannot be negative")
	}
	if input.Stock < 0 {
		return errors.New("products: stock cannot be negative")
	}
	if input.MinStock < 0 {
		return errors.New("products: min stock cannot be negative")
	}
	return nil
}
