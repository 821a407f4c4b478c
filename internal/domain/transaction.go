package domain

import "time"

// TransactionType distinguishes a purchase from a rental.
type TransactionType string

const (
	TransactionBuy  TransactionType = "BUY"
	TransactionRent TransactionType = "RENT"
)

// Valid reports whether t is BUY or RENT.
func (t TransactionType) Valid() bool {
	return t == TransactionBuy || t == TransactionRent
}

// TransactionStatus is the approval state. PENDING is initial, COMPLETED terminal.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusCompleted TransactionStatus = "COMPLETED"
)

// Holds reports whether the status reserves the product.
func (s TransactionStatus) Holds() bool {
	return s == StatusPending || s == StatusCompleted
}

// Transaction records one user's attempt to buy or rent one product.
type Transaction struct {
	ID        int64             `json:"id,string"`
	ProductID int64             `json:"productId,string"`
	Product   *Product          `json:"product,omitempty"`
	UserID    int64             `json:"userId,string"`
	User      *User             `json:"user,omitempty"`
	Type      TransactionType   `json:"type"`
	Status    TransactionStatus `json:"status"`
	Price     float64           `json:"price"`
	StartDate *time.Time        `json:"startDate,omitempty"`
	EndDate   *time.Time        `json:"endDate,omitempty"`
	Deleted   bool              `json:"-"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// IsCompletedSale reports whether t is a completed purchase.
func (t Transaction) IsCompletedSale() bool {
	return t.Type == TransactionBuy && t.Status == StatusCompleted
}

// Period returns the rental window; ok is false when either bound is missing.
func (t Transaction) Period() (start, end time.Time, ok bool) {
	if t.StartDate == nil || t.EndDate == nil {
		return time.Time{}, time.Time{}, false
	}
	return *t.StartDate, *t.EndDate, true
}
