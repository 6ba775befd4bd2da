package products

import "errors"

// Product is a catalog entry. Stock is owned by the ledger: listings read it,
// but every write goes through a recorded movement.
type Product struct {
	ID         int64  `json:"id"`
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	CategoryID *int64 `json:"category_id,omitempty"`
	Price      int64  `json:"price"`
	Stock      int64  `json:"stock"`
	MinStock   int64  `json:"min_stock"`
	Active     bool   `json:"active"`
}

var (
	// ErrNotFound indicates the product does not exist.
	ErrNotFound = errors.New("products: product not found")
	// ErrDuplicateSKU indicates another product already uses the SKU.
	ErrDuplicateSKU = errors.New("products: sku already in use")
	// ErrReferencedByOrders blocks deleting a product that order lines
	// still point at.
	ErrReferencedByOrders = errors.New("products: referenced by order items")
)
