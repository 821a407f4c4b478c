package products

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/text/cases"

	"github.com/kinbay/kinbay/internal/availability"
	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (domain.Product, error)
	ListByOwner(ctx context.Context, ownerID int64) ([]domain.Product, error)
	ListLive(ctx context.Context) ([]domain.Product, error)
	ListSaleHistory(ctx context.Context) ([]domain.Transaction, error)
	Create(ctx context.Context, p domain.Product, categoryIDs []int64) (int64, error)
	Update(ctx context.Context, p domain.Product, categoryIDs *[]int64) error
	SoftDelete(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]domain.Category, error)
	CreateCategory(ctx context.Context, name, key string) (domain.Category, error)
}

// Service coordinates catalogue operations. Only owners mutate their products.
type Service struct {
	repo   RepositoryPort
	cache  *Cache
	logger *slog.Logger
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache *Cache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// CreateInput carries the fields of a new listing.
type CreateInput struct {
	Name        string
	Description string
	PriceBuy    *float64
	PriceRent   *float64
	RentOption  *domain.RentOption
	CategoryIDs []int64
}

// UpdateInput carries a partial update; nil fields are left untouched.
type UpdateInput struct {
	Name        *string
	Description *string
	PriceBuy    *float64
	PriceRent   *float64
	RentOption  *domain.RentOption
	CategoryIDs *[]int64
}

// Get returns a live product.
func (s *Service) Get(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, fmt.Errorf("product id: %w", shared.ErrInvalidInput)
	}
	return s.repo.Get(ctx, id)
}

// ListByOwner returns the owner's live products.
func (s *Service) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Product, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

// Create lists a new product owned by ownerID.
func (s *Service) Create(ctx context.Context, ownerID int64, in CreateInput) (domain.Product, error) {
	p := domain.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		PriceBuy:    in.PriceBuy,
		PriceRent:   in.PriceRent,
		RentOption:  in.RentOption,
		OwnerID:     ownerID,
	}
	if err := validate(p); err != nil {
		return domain.Product{}, err
	}
	id, err := s.repo.Create(ctx, p, in.CategoryIDs)
	if err != nil {
		return domain.Product{}, err
	}
	s.logger.Info("product created", slog.Int64("product_id", id), slog.Int64("owner_id", ownerID))
	s.invalidate(ctx)
	return s.repo.Get(ctx, id)
}

// Update applies a partial update. Only the owner may update.
func (s *Service) Update(ctx context.Context, actorID, id int64, in UpdateInput) (domain.Product, error) {
	p, err := s.ownedProduct(ctx, actorID, id)
	if err != nil {
		return domain.Product{}, err
	}
	if in.Name != nil {
		p.Name = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		p.Description = strings.TrimSpace(*in.Description)
	}
	if in.PriceBuy != nil {
		p.PriceBuy = in.PriceBuy
	}
	if in.PriceRent != nil {
		p.PriceRent = in.PriceRent
	}
	if in.RentOption != nil {
		p.RentOption = in.RentOption
	}
	if err := validate(p); err != nil {
		return domain.Product{}, err
	}
	if err := s.repo.Update(ctx, p, in.CategoryIDs); err != nil {
		return domain.Product{}, err
	}
	s.invalidate(ctx)
	return s.repo.Get(ctx, id)
}

// Delete soft deletes the product. Transactions referencing it are kept.
func (s *Service) Delete(ctx context.Context, actorID, id int64) error {
	if _, err := s.ownedProduct(ctx, actorID, id); err != nil {
		return err
	}
	if err := s.repo.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", slog.Int64("product_id", id), slog.Int64("owner_id", actorID))
	s.invalidate(ctx)
	return nil
}

// ListAvailable returns live products without a pending or completed
// purchase. Served from the listing cache when configured.
func (s *Service) ListAvailable(ctx context.Context) ([]domain.Product, error) {
	key, err := s.cache.BuildKey(ctx, "products", "available")
	if err != nil {
		s.logger.Warn("listing cache key", slog.Any("error", err))
		return s.loadAvailable(ctx)
	}
	var out []domain.Product
	if err := s.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (interface{}, error) {
		return s.loadAvailable(ctx)
	}); err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Product{}
	}
	return out, nil
}

// RefreshListing invalidates the listing cache and warms it again.
func (s *Service) RefreshListing(ctx context.Context) (int, error) {
	if err := s.cache.Bump(ctx); err != nil {
		return 0, err
	}
	list, err := s.ListAvailable(ctx)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Invalidate drops the cached listing. Called after transaction writes.
func (s *Service) Invalidate(ctx context.Context) error {
	return s.cache.Bump(ctx)
}

func (s *Service) loadAvailable(ctx context.Context) ([]domain.Product, error) {
	live, err := s.repo.ListLive(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSaleHistory(ctx)
	if err != nil {
		return nil, err
	}
	byProduct := make(map[int64][]domain.Transaction)
	for _, t := range sales {
		byProduct[t.ProductID] = append(byProduct[t.ProductID], t)
	}
	out := make([]domain.Product, 0, len(live))
	for _, p := range live {
		if availability.ExcludedFromListing(byProduct[p.ID]) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ListCategories returns every category.
func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

// CreateCategory adds a category; names differing only by case collide.
func (s *Service) CreateCategory(ctx context.Context, name string) (domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("category name is required: %w", shared.ErrInvalidInput)
	}
	return s.repo.CreateCategory(ctx, name, categoryKey(name))
}

func (s *Service) ownedProduct(ctx context.Context, actorID, id int64) (domain.Product, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	if p.OwnerID != actorID {
		return domain.Product{}, fmt.Errorf("product %d belongs to another user: %w", id, shared.ErrForbidden)
	}
	return p, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("listing cache bump", slog.Any("error", err))
	}
}

func categoryKey(name string) string {
	return cases.Fold().String(strings.Join(strings.Fields(name), " "))
}
