package products

import "github.com/kinbay/kinbay/internal/domain"

type createProductRequest struct {
	Name        string             `json:"name" validate:"required,max=200"`
	Description string             `json:"description" validate:"required"`
	PriceBuy    *float64           `json:"priceBuy" validate:"omitempty,gte=0"`
	PriceRent   *float64           `json:"priceRent" validate:"omitempty,gte=0"`
	RentOption  *domain.RentOption `json:"rentOption" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	CategoryIDs []string           `json:"categoryIds" validate:"omitempty,dive,required"`
}

type updateProductRequest struct {
	Name        *string            `json:"name" validate:"omitempty,max=200"`
	Description *string            `json:"description"`
	PriceBuy    *float64           `json:"priceBuy" validate:"omitempty,gte=0"`
	PriceRent   *float64           `json:"priceRent" validate:"omitempty,gte=0"`
	RentOption  *domain.RentOption `json:"rentOption" validate:"omitempty,oneof=DAILY WEEKLY MONTHLY"`
	CategoryIDs *[]string          `json:"categoryIds" validate:"omitempty,dive,required"`
}

type createCategoryRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}
