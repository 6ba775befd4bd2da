package shipping

import "errors"

// Area is a deliverable region with its flat shipping cost.
type Area struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Cost int64  `json:"cost"`
}

var (
	// ErrNotFound indicates the area does not exist.
	ErrNotFound = errors.New("shipping: area not found")
	// ErrReferencedByOrders blocks deleting an area that orders still
	// point at.
	ErrReferencedByOrders = errors.New("shipping: referenced by orders")
)
