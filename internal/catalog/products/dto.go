package products

// SaveRequest is the create/update payload.
type SaveRequest struct {
	SKU        string `json:"sku" validate:"required,max=64"`
	Name       string `json:"name" validate:"required,max=200"`
	CategoryID *int64 `json:"category_id" validate:"omitempty,gt=0"`
	Price      int64  `json:"price" validate:"gte=0"`
	Stock      int64  `json:"stock" validate:"gte=0"`
	MinStock   int64  `json:"min_stock" validate:"gte=0"`
	Active     bool   `json:"active"`
	Note       string `json:"note" validate:"max=500"`
}
