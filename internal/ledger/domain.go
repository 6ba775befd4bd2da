package ledger

import (
	"errors"
	"fmt"
	"time"
)

// MovementKind enumerates the direction of a stock movement. The kind is
// always derived from the sign of the applied quantity.
type MovementKind string

const (
	// MovementIn represents stock entering the warehouse.
	MovementIn MovementKind = "in"
	// MovementOut represents stock leaving the warehouse.
	MovementOut MovementKind = "out"
)

// ReferenceKind records the business reason behind a movement, preserved
// verbatim from the caller.
type ReferenceKind string

const (
	ReferencePurchase   ReferenceKind = "purchase"
	ReferenceSale       ReferenceKind = "sale"
	ReferenceAdjustment ReferenceKind = "adjustment"
	ReferenceReturn     ReferenceKind = "return"
)

// Valid reports whether the reference kind is one of the known values.
func (k ReferenceKind) Valid() bool {
	switch k {
	case ReferencePurchase, ReferenceSale, ReferenceAdjustment, ReferenceReturn:
		return true
	}
	return false
}

// Product is the ledger's view of a catalog product. The stock field is
// written exclusively through Service.AdjustStock.
type Product struct {
	ID       int64
	SKU      string
	Name     string
	Stock    int64
	MinStock int64
	Active   bool
}

// Movement is one immutable record of a stock change. StockAfter always
// equals StockBefore + Quantity.
type Movement struct {
	ID          int64
	ProductID   int64
	Kind        MovementKind
	Quantity    int64
	StockBefore int64
	StockAfter  int64
	Reference   ReferenceKind
	ReferenceID *int64
	Note        string
	ActorID     *int64
	CreatedAt   time.Time
}

// AdjustInput describes a single stock adjustment request.
type AdjustInput struct {
	ProductID   int64
	Delta       int64
	Reference   ReferenceKind
	ReferenceID *int64
	Note        string
	ActorID     *int64
}

// StockSnapshot reports the stock level around a committed movement.
type StockSnapshot struct {
	Previous int64 `json:"previous_stock"`
	New      int64 `json:"new_stock"`
}

var (
	// ErrProductNotFound indicates the product id did not resolve inside the
	// adjustment transaction.
	ErrProductNotFound = errors.New("ledger: product not found")
	// ErrInsufficientStock indicates the delta would drive stock negative.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidMovement indicates a zero delta or unknown reference kind.
	ErrInvalidMovement = errors.New("ledger: invalid movement")
	// ErrLockTimeout indicates the per-product lock could not be acquired
	// within the configured wait. Callers may retry with backoff.
	ErrLockTimeout = errors.New("ledger: lock wait timed out")
	// ErrSerialization indicates the adjustment lost a concurrent-update race.
	// The movement was not recorded; callers may retry with backoff.
	ErrSerialization = errors.New("ledger: serialization conflict")
)

// PersistenceError wraps an underlying storage failure during a ledger
// operation. The operation was rolled back; no movement is visible.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ledger: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
