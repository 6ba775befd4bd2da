package categories

import "errors"

// Category groups catalog products.
type Category struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

var (
	// ErrNotFound indicates the category does not exist.
	ErrNotFound = errors.New("categories: category not found")
	// ErrDuplicateCode indicates another category already uses the code.
	ErrDuplicateCode = errors.New("categories: code already in use")
	// ErrReferencedByProducts blocks deleting a category that products
	// still point at.
	ErrReferencedByProducts = errors.New("categories: referenced by products")
)
