package transactions

import (
	"context"
	"time"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

// CreateInput carries a buy or rent request from userID.
type CreateInput struct {
	ProductID      int64
	UserID         int64
	Type           domain.TransactionType
	Price          float64
	StartDate      *time.Time
	EndDate        *time.Time
	IdempotencyKey string
}

// Partitions groups a user's transactions by role and type.
type Partitions struct {
	Bought   []domain.Transaction `json:"bought"`
	Sold     []domain.Transaction `json:"sold"`
	Borrowed []domain.Transaction `json:"borrowed"`
	Lent     []domain.Transaction `json:"lent"`
}

// Role selects which side of a transaction a user is on.
type Role int

const (
	// RoleActor is the buyer or renter.
	RoleActor Role = iota
	// RoleOwner is the seller or lender.
	RoleOwner
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	FindProduct(ctx context.Context, productID int64) (*domain.Product, error)
	ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error)
	Get(ctx context.Context, id int64) (domain.Transaction, error)
	List(ctx context.Context, userID int64, role Role, typ domain.TransactionType) ([]domain.Transaction, error)
	ListPendingForOwner(ctx context.Context, ownerID int64) ([]domain.Transaction, error)
}

// TxRepository exposes the statements run inside the locked unit of work.
type TxRepository interface {
	// LockProduct takes a row lock on the product, including soft-deleted ones.
	LockProduct(ctx context.Context, productID int64) (domain.Product, error)
	ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error)
	Insert(ctx context.Context, t domain.Transaction) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (domain.Transaction, error)
	MarkCompleted(ctx context.Context, id int64) error
	ClaimIdempotencyKey(ctx context.Context, key string) error
	RecordAudit(ctx context.Context, log shared.AuditLog) error
}

// ListingInvalidator drops cached product listings.
type ListingInvalidator interface {
	Invalidate(ctx context.Context) error
}

// RefreshEnqueuer schedules a background listing refresh.
type RefreshEnqueuer interface {
	EnqueueListingRefresh(ctx context.Context) error
}

// MetricsPort records domain counters.
type MetricsPort interface {
	TransactionCreated(typ domain.TransactionType)
	TransactionCompleted(typ domain.TransactionType)
	TransactionRejected(op, kind string)
}

// Hooks are optional collaborators notified after a write commits.
type Hooks struct {
	Listing ListingInvalidator
	Jobs    RefreshEnqueuer
	Metrics MetricsPort
}
