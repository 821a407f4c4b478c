package transactions

type buyRequest struct {
	ProductID string   `json:"productId" validate:"required"`
	Price     *float64 `json:"price" validate:"required,gte=0"`
}

type rentRequest struct {
	ProductID string   `json:"productId" validate:"required"`
	Price     *float64 `json:"price" validate:"required,gte=0"`
	StartDate string   `json:"startDate"`
	EndDate   string   `json:"endDate"`
}
