package orders

import (
	"errors"
	"fmt"
	"time"
)

// Status enumerates the order lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// next holds the single allowed forward transition per state.
var next = map[Status]Status{
	StatusPending:    StatusConfirmed,
	StatusConfirmed:  StatusProcessing,
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// CanTransition reports whether from -> to is a legal transition. Cancellation
// is reachable from every non-terminal state; forward moves are single-step.
func CanTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return next[from] == to
}

// Order is a customer order consumed by the stock ledger. The ledger treats
// status transitions into cancelled as triggers, not data it owns.
type Order struct {
	ID             int64      `json:"id"`
	Reference      string     `json:"reference"`
	Status         Status     `json:"status"`
	ShippingAreaID int64      `json:"shipping_area_id"`
	CustomerName   string     `json:"customer_name"`
	Note           string     `json:"note,omitempty"`
	CreatedBy      *int64     `json:"created_by,omitempty"`
	CancelledBy    *int64     `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	Items          []Item     `json:"items,omitempty"`
}

// Item is one order line.
type Item struct {
	ID        int64 `json:"id"`
	OrderID   int64 `json:"order_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

var (
	// ErrNotFound indicates the order does not exist.
	ErrNotFound = errors.New("orders: order not found")
	// ErrInvalidTransition indicates the requested status change is not
	// allowed from the currently stored status.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
)

// RestockFailure records one line item whose restock failed.
type RestockFailure struct {
	ProductID int64
	Quantity  int64
	Err       error
}

// PartialRestockError reports a cancellation that updated the order status
// but could not restock every line item. Completed restocks stay committed;
// each item is its own atomic unit.
type PartialRestockError struct {
	OrderID   int64
	Restocked int
	Failed    []RestockFailure
}

func (e *PartialRestockError) Error() string {
	return fmt.Sprintf("orders: cancellation of order %d restocked %d items, %d failed", e.OrderID, e.Restocked, len(e.Failed))
}
