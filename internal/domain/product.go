// Package domain holds the Kinbay data model shared by the catalogue,
// availability and transaction packages.
package domain

import "time"

// RentOption is the cadence a rental price is quoted in.
type RentOption string

const (
	RentDaily   RentOption = "DAILY"
	RentWeekly  RentOption = "WEEKLY"
	RentMonthly RentOption = "MONTHLY"
)

// Valid reports whether o is one of the known cadences.
func (o RentOption) Valid() bool {
	switch o {
	case RentDaily, RentWeekly, RentMonthly:
		return true
	}
	return false
}

// Days returns the number of days one rental period covers.
func (o RentOption) Days() int {
	switch o {
	case RentDaily:
		return 1
	case RentWeekly:
		return 7
	case RentMonthly:
		return 30
	}
	return 0
}

// Category tags a product.
type Category struct {
	ID   int64  `json:"id,string"`
	Name string `json:"name"`
}

// Product is an item offered by exactly one owner.
type Product struct {
	ID          int64       `json:"id,string"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	PriceBuy    *float64    `json:"priceBuy,omitempty"`
	PriceRent   *float64    `json:"priceRent,omitempty"`
	RentOption  *RentOption `json:"rentOption,omitempty"`
	OwnerID     int64       `json:"ownerId,string"`
	Owner       *User       `json:"owner,omitempty"`
	Categories  []Category  `json:"categories"`
	Deleted     bool        `json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ForSale reports whether the product carries a sale price.
func (p Product) ForSale() bool { return p.PriceBuy != nil }

// ForRent reports whether the product carries a rental price.
func (p Product) ForRent() bool { return p.PriceRent != nil }
