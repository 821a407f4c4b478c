package transactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kinbay/kinbay/internal/availability"
	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

// Service mediates every transaction state change.
type Service struct {
	repo   RepositoryPort
	hooks  Hooks
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, hooks Hooks, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, hooks: hooks, logger: logger}
}

// CheckAvailability answers whether productID could be bought, or rented for
// [start, end] when both bounds are given. It never writes.
func (s *Service) CheckAvailability(ctx context.Context, productID int64, start, end *time.Time) (availability.Verdict, error) {
	product, err := s.repo.FindProduct(ctx, productID)
	if err != nil {
		return availability.Verdict{}, err
	}
	if product == nil {
		return availability.Check(nil, nil, nil), nil
	}
	history, err := s.repo.ListForProduct(ctx, productID)
	if err != nil {
		return availability.Verdict{}, err
	}
	var window *availability.Window
	if w, ok := availability.NewWindow(start, end); ok {
		window = &w
	}
	return availability.Check(product, history, window), nil
}

// Create records a PENDING buy or rent request. The conflict scan and insert
// run under a lock on the product row.
func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Transaction, error) {
	if err := validateCreate(in); err != nil {
		s.rejected("create", err)
		return domain.Transaction{}, err
	}
	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		product, err := tx.LockProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if product.Deleted {
			return fmt.Errorf("product %d: %w", in.ProductID, shared.ErrNotFound)
		}
		if product.OwnerID == in.UserID {
			return fmt.Errorf("cannot transact on own product: %w", shared.ErrForbidden)
		}
		history, err := tx.ListForProduct(ctx, in.ProductID)
		if err != nil {
			return err
		}
		if availability.Sold(history) {
			return fmt.Errorf("product has been sold: %w", shared.ErrConflict)
		}
		if in.Type == domain.TransactionRent {
			w, ok := availability.NewWindow(in.StartDate, in.EndDate)
			if !ok {
				return fmt.Errorf("startDate and endDate are required to rent: %w", shared.ErrInvalidInput)
			}
			if !w.Ordered() {
				return fmt.Errorf("startDate must not be after endDate: %w", shared.ErrInvalidInput)
			}
			if conflicts := availability.RentalConflicts(history, w, availability.PendingOrCompleted); len(conflicts) > 0 {
				return fmt.Errorf("product is already rented during the selected time period: %w", shared.ErrConflict)
			}
		}
		if in.IdempotencyKey != "" {
			if err := tx.ClaimIdempotencyKey(ctx, in.IdempotencyKey); err != nil {
				return err
			}
		}
		t := domain.Transaction{
			ProductID: in.ProductID,
			UserID:    in.UserID,
			Type:      in.Type,
			Status:    domain.StatusPending,
			Price:     in.Price,
		}
		if in.Type == domain.TransactionRent {
			t.StartDate, t.EndDate = in.StartDate, in.EndDate
		}
		id, err = tx.Insert(ctx, t)
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  in.UserID,
			Action:   "transaction.create",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"product_id": in.ProductID, "type": string(in.Type), "price": in.Price},
		})
	})
	if err != nil {
		s.rejected("create", err)
		return domain.Transaction{}, err
	}
	s.logger.Info("transaction created",
		slog.Int64("transaction_id", id),
		slog.Int64("product_id", in.ProductID),
		slog.Int64("user_id", in.UserID),
		slog.String("type", string(in.Type)),
	)
	if s.hooks.Metrics != nil {
		s.hooks.Metrics.TransactionCreated(in.Type)
	}
	s.afterWrite(ctx)
	return s.repo.Get(ctx, id)
}

// Complete moves a PENDING transaction to COMPLETED. Only the product owner
// may complete; completing twice is a no-op. Transactions on a deleted product
// can no longer be completed.
func (s *Service) Complete(ctx context.Context, actorID, id int64) (domain.Transaction, error) {
	if id <= 0 {
		return domain.Transaction{}, fmt.Errorf("transaction id: %w", shared.ErrInvalidInput)
	}
	changed := false
	var typ domain.TransactionType
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		product, err := tx.LockProduct(ctx, t.ProductID)
		if err != nil {
			return err
		}
		if product.Deleted {
			return fmt.Errorf("product %d: %w", t.ProductID, shared.ErrNotFound)
		}
		if product.OwnerID != actorID {
			return fmt.Errorf("only the product owner may complete a transaction: %w", shared.ErrForbidden)
		}
		if t.Status == domain.StatusCompleted {
			return nil
		}
		history, err := tx.ListForProduct(ctx, t.ProductID)
		if err != nil {
			return err
		}
		for _, other := range history {
			if other.ID != t.ID && other.IsCompletedSale() {
				return fmt.Errorf("product has been sold: %w", shared.ErrConflict)
			}
		}
		if err := tx.MarkCompleted(ctx, id); err != nil {
			return err
		}
		changed, typ = true, t.Type
		return tx.RecordAudit(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "transaction.complete",
			Entity:   "transaction",
			EntityID: strconv.FormatInt(id, 10),
			Meta:     map[string]any{"product_id": t.ProductID, "type": string(t.Type)},
		})
	})
	if err != nil {
		s.rejected("complete", err)
		return domain.Transaction{}, err
	}
	if changed {
		s.logger.Info("transaction completed", slog.Int64("transaction_id", id), slog.Int64("user_id", actorID))
		if s.hooks.Metrics != nil {
			s.hooks.Metrics.TransactionCompleted(typ)
		}
		s.afterWrite(ctx)
	}
	return s.repo.Get(ctx, id)
}

// Get returns a transaction visible to its actor or the product owner.
func (s *Service) Get(ctx context.Context, actorID, id int64) (domain.Transaction, error) {
	if id <= 0 {
		return domain.Transaction{}, fmt.Errorf("transaction id: %w", shared.ErrInvalidInput)
	}
	t, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.UserID != actorID && (t.Product == nil || t.Product.OwnerID != actorID) {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrForbidden)
	}
	return t, nil
}

// ListForUser returns the four partitions of userID's transactions.
func (s *Service) ListForUser(ctx context.Context, userID int64) (Partitions, error) {
	var out Partitions
	g, ctx := errgroup.WithContext(ctx)
	load := func(dst *[]domain.Transaction, role Role, typ domain.TransactionType) {
		g.Go(func() error {
			list, err := s.repo.List(ctx, userID, role, typ)
			if err != nil {
				return err
			}
			if list == nil {
				list = []domain.Transaction{}
			}
			*dst = list
			return nil
		})
	}
	load(&out.Bought, RoleActor, domain.TransactionBuy)
	load(&out.Sold, RoleOwner, domain.TransactionBuy)
	load(&out.Borrowed, RoleActor, domain.TransactionRent)
	load(&out.Lent, RoleOwner, domain.TransactionRent)
	if err := g.Wait(); err != nil {
		return Partitions{}, err
	}
	return out, nil
}

// ListPendingForOwner returns the owner's approval queue, newest first.
func (s *Service) ListPendingForOwner(ctx context.Context, ownerID int64) ([]domain.Transaction, error) {
	list, err := s.repo.ListPendingForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []domain.Transaction{}
	}
	return list, nil
}

func (s *Service) afterWrite(ctx context.Context) {
	if s.hooks.Listing != nil {
		if err := s.hooks.Listing.Invalidate(ctx); err != nil {
			s.logger.Warn("listing invalidate", slog.Any("error", err))
		}
	}
	if s.hooks.Jobs != nil {
		if err := s.hooks.Jobs.EnqueueListingRefresh(ctx); err != nil {
			s.logger.Warn("enqueue listing refresh", slog.Any("error", err))
		}
	}
}

func (s *Service) rejected(op string, err error) {
	if s.hooks.Metrics == nil {
		return
	}
	s.hooks.Metrics.TransactionRejected(op, errorKind(err))
}

func validateCreate(in CreateInput) error {
	if in.ProductID <= 0 {
		return fmt.Errorf("product id: %w", shared.ErrInvalidInput)
	}
	if in.UserID <= 0 {
		return fmt.Errorf("caller identity required: %w", shared.ErrUnauthorized)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown transaction type %q: %w", in.Type, shared.ErrInvalidInput)
	}
	if in.Price < 0 {
		return fmt.Errorf("price must not be negative: %w", shared.ErrInvalidInput)
	}
	return nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		return "not_found"
	case errors.Is(err, shared.ErrForbidden):
		return "forbidden"
	case errors.Is(err, shared.ErrConflict):
		return "conflict"
	case errors.Is(err, shared.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, shared.ErrUnauthorized):
		return "unauthorized"
	}
	return "internal"
}
