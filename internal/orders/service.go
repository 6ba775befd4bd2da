package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/stockpilot/stockpilot/internal/ledger"
	"github.com/stockpilot/stockpilot/internal/shared"
)

// StockAdjuster is the coordinator's view of the stock mutator.
type StockAdjuster interface {
	AdjustStock(ctx context.Context, input ledger.AdjustInput) (ledger.StockSnapshot, error)
}

// IdempotencyPort guards duplicate order submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service drives stock mutation from order lifecycle transitions. The status
// guard, not the mutator, is what prevents double-restocking a cancelled
// order.
type Service struct {
	repo        Repository
	stock       StockAdjuster
	idempotency IdempotencyPort
	logger      *slog.Logger

	lockRetries    int
	lockRetryDelay time.Duration
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// LockRetries bounds automatic retries after a ledger lock timeout.
	LockRetries int
	// LockRetryDelay is the base backoff between lock retries.
	LockRetryDelay time.Duration
}

// NewService builds Service.
func NewService(repo Repository, stock StockAdjuster, idempotency IdempotencyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.LockRetries <= 0 {
		cfg.LockRetries = 3
	}
	if cfg.LockRetryDelay <= 0 {
		cfg.LockRetryDelay = 50 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:           repo,
		stock:          stock,
		idempotency:    idempotency,
		logger:         logger,
		lockRetries:    cfg.LockRetries,
		lockRetryDelay: cfg.LockRetryDelay,
	}
}

// PlaceInput describes an order placement request.
type PlaceInput struct {
	ShippingAreaID int64
	CustomerName   string
	Note           string
	Items          []PlaceItem
	IdempotencyKey string
	ActorID        *int64
}

// PlaceItem is one requested line.
type PlaceItem struct {
	ProductID int64
	Quantity  int64
}

// Place creates a pending order and consumes stock for every line. Stock is
// consumed per line in its own atomic unit; when a line fails, lines already
// consumed are restocked and the order is cancelled.
func (s *Service) Place(ctx context.Context, input PlaceInput) (*Order, error) {
	if len(input.Items) == 0 {
		return nil, errors.New("orders: at least one item required")
	}
	for _, item := range input.Items {
		if item.ProductID <= 0 || item.Quantity <= 0 {
			return nil, errors.New("orders: items need a product and a positive quantity")
		}
	}

	if s.idempotency != nil && input.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "orders"); err != nil {
			return nil, err
		}
	}

	order := Order{
		Reference:      uuid.NewString(),
		Status:         StatusPending,
		ShippingAreaID: input.ShippingAreaID,
		CustomerName:   input.CustomerName,
		Note:           input.Note,
		CreatedBy:      input.ActorID,
	}
	var orderID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		id, err := repo.Create(ctx, order)
		if err != nil {
			return fmt.Errorf("orders: create: %w", err)
		}
		orderID = id
		for _, item := range input.Items {
			if _, err := repo.InsertItem(ctx, Item{OrderID: id, ProductID: item.ProductID, Quantity: item.Quantity}); err != nil {
				return fmt.Errorf("orders: insert item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		s.releaseIdempotency(ctx, input.IdempotencyKey)
		return nil, err
	}

	consumed := make([]PlaceItem, 0, len(input.Items))
	for _, item := range input.Items {
		_, err := s.adjustWithRetry(ctx, ledger.AdjustInput{
			ProductID:   item.ProductID,
			Delta:       -item.Quantity,
			Reference:   ledger.ReferenceSale,
			ReferenceID: &orderID,
			ActorID:     input.ActorID,
		})
		if err != nil {
			s.abortPlacement(ctx, orderID, consumed, input.ActorID)
			s.releaseIdempotency(ctx, input.IdempotencyKey)
			return nil, fmt.Errorf("orders: consume stock for product %d: %w", item.ProductID, err)
		}
		consumed = append(consumed, item)
	}

	return s.repo.Get(ctx, orderID)
}

// abortPlacement compensates a failed placement: restocks the lines already
// consumed and marks the order cancelled.
func (s *Service) abortPlacement(ctx context.Context, orderID int64, consumed []PlaceItem, actorID *int64) {
	for _, item := range consumed {
		if _, err := s.adjustWithRetry(ctx, ledger.AdjustInput{
			ProductID:   item.ProductID,
			Delta:       item.Quantity,
			Reference:   ledger.ReferenceReturn,
			ReferenceID: &orderID,
			Note:        "placement aborted",
			ActorID:     actorID,
		}); err != nil {
			s.logger.Error("placement compensation failed",
				slog.Int64("order_id", orderID),
				slog.Int64("product_id", item.ProductID),
				slog.Any("error", err))
		}
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		if _, err := repo.GetStatusForUpdate(ctx, orderID); err != nil {
			return err
		}
		return repo.UpdateStatus(ctx, orderID, StatusCancelled, actorID)
	})
	if err != nil {
		s.logger.Error("abort placement", slog.Int64("order_id", orderID), slog.Any("error", err))
	}
}

// SetStatus applies a lifecycle transition. The stored status is read under
// lock in the same transaction as the update, so duplicate requests lose.
func (s *Service) SetStatus(ctx context.Context, orderID int64, newStatus Status, actorID *int64) (*Order, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, newStatus)
	}
	if newStatus == StatusCancelled {
		return s.Cancel(ctx, orderID, actorID)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.GetStatusForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current, newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, newStatus)
		}
		return repo.UpdateStatus(ctx, orderID, newStatus, actorID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, orderID)
}

// Cancel moves the order to cancelled and restocks every line item. The
// status transition commits first; restocking then proceeds per line, each
// its own atomic unit. A repeated cancel is rejected by the status guard
// before any mutator call.
func (s *Service) Cancel(ctx context.Context, orderID int64, actorID *int64) (*Order, error) {
	order, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo Repository) error {
		current, err := repo.GetStatusForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !CanTransition(current, StatusCancelled) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, StatusCancelled)
		}
		return repo.UpdateStatus(ctx, orderID, StatusCancelled, actorID)
	})
	if err != nil {
		return nil, err
	}

	restocked := 0
	var failed []RestockFailure
	for _, item := range order.Items {
		_, err := s.adjustWithRetry(ctx, ledger.AdjustInput{
			ProductID:   item.ProductID,
			Delta:       item.Quantity,
			Reference:   ledger.ReferenceReturn,
			ReferenceID: &orderID,
			Note:        "order cancelled",
			ActorID:     actorID,
		})
		if err != nil {
			failed = append(failed, RestockFailure{ProductID: item.ProductID, Quantity: item.Quantity, Err: err})
			continue
		}
		restocked++
	}
	if len(failed) > 0 {
		return nil, &PartialRestockError{OrderID: orderID, Restocked: restocked, Failed: failed}
	}

	return s.repo.Get(ctx, orderID)
}

// Get returns one order with its items.
func (s *Service) Get(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// List returns orders with pagination metadata. The page size is normalized
// once here so the repository limit and the metadata agree.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Order, shared.Pagination, error) {
	filter.Page, filter.PerPage = shared.NormalizePageSize(filter.Page, filter.PerPage)
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// adjustWithRetry calls the mutator, retrying lock timeouts and serialization
// conflicts with linear backoff. Every other failure is terminal for the
// request.
func (s *Service) adjustWithRetry(ctx context.Context, input ledger.AdjustInput) (ledger.StockSnapshot, error) {
	var lastErr error
	for attempt := 0; attempt <= s.lockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ledger.StockSnapshot{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * s.lockRetryDelay):
			}
		}
		snap, err := s.stock.AdjustStock(ctx, input)
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, ledger.ErrLockTimeout) && !errors.Is(err, ledger.ErrSerialization) {
			return ledger.StockSnapshot{}, err
		}
		lastErr = err
	}
	return ledger.StockSnapshot{}, lastErr
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency == nil || key == "" {
		return
	}
	if err := s.idempotency.Delete(ctx, key); err != nil {
		s.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}
