package ledger

// AdjustmentRequest is the payload for a manual stock adjustment.
type AdjustmentRequest struct {
	ProductID     int64  `json:"product_id" validate:"required,gt=0"`
	Delta         int64  `json:"delta" validate:"required"`
	ReferenceKind string `json:"reference_kind" validate:"omitempty,oneof=purchase sale adjustment return"`
	ReferenceID   *int64 `json:"reference_id,omitempty" validate:"omitempty,gt=0"`
	Note          string `json:"note" validate:"max=500"`
}

// AdjustmentResponse reports the committed stock change.
type AdjustmentResponse struct {
	ProductID     int64 `json:"product_id"`
	Delta         int64 `json:"delta"`
	PreviousStock int64 `json:"previous_stock"`
	NewStock      int64 `json:"new_stock"`
}
