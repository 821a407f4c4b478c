// Package availability decides whether a product may be bought or rented for a
// requested window given its existing transactions. It performs no I/O.
package availability

import (
	"time"

	"github.com/kinbay/kinbay/internal/domain"
)

// Verdict reasons rendered verbatim by clients.
const (
	ReasonNotFound  = "Product not found or deleted"
	ReasonSold      = "Product has been sold"
	ReasonRented    = "Product is already rented during the selected time period"
	ReasonAvailable = "Product is available"
)

// Verdict is the answer to an availability check.
type Verdict struct {
	Available bool                 `json:"available"`
	Reason    string               `json:"reason"`
	Conflicts []domain.Transaction `json:"conflictingRentals,omitempty"`
}

// Window is a closed date interval [Start, End].
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow builds a window when both bounds are present.
func NewWindow(start, end *time.Time) (Window, bool) {
	if start == nil || end == nil {
		return Window{}, false
	}
	return Window{Start: *start, End: *end}, true
}

// Ordered reports whether Start <= End.
func (w Window) Ordered() bool {
	return !w.Start.After(w.End)
}

// Overlaps reports whether two closed intervals share at least one instant.
// Touching endpoints overlap.
func (w Window) Overlaps(o Window) bool {
	return !w.Start.After(o.End) && !o.Start.After(w.End)
}

// Statuses selects which transaction states count as holding a rental slot.
type Statuses func(domain.TransactionStatus) bool

var (
	// CompletedOnly is used by the read-only availability query.
	CompletedOnly Statuses = func(s domain.TransactionStatus) bool { return s == domain.StatusCompleted }
	// PendingOrCompleted is used when creating a transaction so that pending
	// requests cannot be double booked.
	PendingOrCompleted Statuses = func(s domain.TransactionStatus) bool { return s.Holds() }
)

// Sold reports whether any completed purchase exists in history.
func Sold(history []domain.Transaction) bool {
	for _, t := range history {
		if t.IsCompletedSale() {
			return true
		}
	}
	return false
}

// RentalConflicts returns the rentals in history whose window overlaps w and
// whose status is selected by holds. A malformed window yields no conflicts.
func RentalConflicts(history []domain.Transaction, w Window, holds Statuses) []domain.Transaction {
	if !w.Ordered() {
		return nil
	}
	var conflicts []domain.Transaction
	for _, t := range history {
		if t.Type != domain.TransactionRent || !holds(t.Status) {
			continue
		}
		start, end, ok := t.Period()
		if !ok {
			continue
		}
		if w.Overlaps(Window{Start: start, End: end}) {
			conflicts = append(conflicts, t)
		}
	}
	return conflicts
}

// Check is the read-only availability predicate. product is nil when the id
// did not resolve to a live product. window is nil for a purchase check.
// Only completed rentals block; see RentalConflicts with PendingOrCompleted
// for the stricter rule applied on creation.
func Check(product *domain.Product, history []domain.Transaction, window *Window) Verdict {
	if product == nil || product.Deleted {
		return Verdict{Reason: ReasonNotFound}
	}
	if Sold(history) {
		return Verdict{Reason: ReasonSold}
	}
	if window != nil {
		if conflicts := RentalConflicts(history, *window, CompletedOnly); len(conflicts) > 0 {
			return Verdict{Reason: ReasonRented, Conflicts: conflicts}
		}
	}
	return Verdict{Available: true, Reason: ReasonAvailable}
}

// ExcludedFromListing reports whether a product must be hidden from the public
// listing: any purchase that is pending or completed hides it. This is stricter
// than Check, which only blocks on completed purchases.
func ExcludedFromListing(history []domain.Transaction) bool {
	for _, t := range history {
		if t.Type == domain.TransactionBuy && t.Status.Holds() {
			return true
		}
	}
	return false
}
