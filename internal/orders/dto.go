package orders

// PlaceRequest is the order placement payload.
type PlaceRequest struct {
	ShippingAreaID int64              `json:"shipping_area_id" validate:"required,gt=0"`
	CustomerName   string             `json:"customer_name" validate:"required,max=200"`
	Note           string             `json:"note" validate:"max=500"`
	Items          []PlaceRequestItem `json:"items" validate:"required,min=1,dive"`
}

// PlaceRequestItem is one requested order line.
type PlaceRequestItem struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int64 `json:"quantity" validate:"required,gt=0"`
}

// StatusRequest is the status transition payload.
type StatusRequest struct {
	Status string `json:"status" validate:"required,oneof=pending confirmed processing shipped delivered cancelled"`
}
