package products

import (
	"fmt"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

func validate(p domain.Product) error {
	if p.Name == "" {
		return fmt.Errorf("product name is required: %w", shared.ErrInvalidInput)
	}
	if p.Description == "" {
		return fmt.Errorf("product description is required: %w", shared.ErrInvalidInput)
	}
	if p.PriceBuy != nil && *p.PriceBuy < 0 {
		return fmt.Errorf("priceBuy must not be negative: %w", shared.ErrInvalidInput)
	}
	if p.PriceRent != nil && *p.PriceRent < 0 {
		return fmt.Errorf("priceRent must not be negative: %w", shared.ErrInvalidInput)
	}
	if p.RentOption != nil && !p.RentOption.Valid() {
		return fmt.Errorf("unknown rent option %q: %w", *p.RentOption, shared.ErrInvalidInput)
	}
	if p.PriceRent != nil && p.RentOption == nil {
		return fmt.Errorf("rentOption is required with priceRent: %w", shared.ErrInvalidInput)
	}
	return nil
}
