package transactions

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kinbay/kinbay/internal/availability"
	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/shared"
)

// memoryRepo serialises every unit of work behind one mutex, standing in for
// the product row lock, and rolls state back when fn fails.
type memoryRepo struct {
	mu       sync.Mutex
	products map[int64]domain.Product
	txs      map[int64]domain.Transaction
	keys     map[string]bool
	audits   []shared.AuditLog
	nextID   int64
	clock    time.Time
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products: make(map[int64]domain.Product),
		txs:      make(map[int64]domain.Transaction),
		keys:     make(map[string]bool),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (r *memoryRepo) addProduct(id, ownerID int64) {
	r.products[id] = domain.Product{ID: id, Name: fmt.Sprintf("product-%d", id), OwnerID: ownerID}
}

func (r *memoryRepo) deleteProduct(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.products[id]
	p.Deleted = true
	r.products[id] = p
}

func (r *memoryRepo) addTransaction(t domain.Transaction) int64 {
	r.nextID++
	t.ID = r.nextID
	r.clock = r.clock.Add(time.Minute)
	t.CreatedAt = r.clock
	r.txs[t.ID] = t
	return t.ID
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	txs := make(map[int64]domain.Transaction, len(r.txs))
	for k, v := range r.txs {
		txs[k] = v
	}
	keys := make(map[string]bool, len(r.keys))
	for k, v := range r.keys {
		keys[k] = v
	}
	audits, nextID := len(r.audits), r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.txs, r.keys, r.audits, r.nextID = txs, keys, r.audits[:audits], nextID
		return err
	}
	return nil
}

func (r *memoryRepo) FindProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.products[productID]
	if !ok || p.Deleted {
		return nil, nil
	}
	return &p, nil
}

func (r *memoryRepo) ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.forProduct(productID), nil
}

func (r *memoryRepo) forProduct(productID int64) []domain.Transaction {
	var out []domain.Transaction
	for _, t := range r.sorted() {
		if t.ProductID == productID {
			out = append(out, t)
		}
	}
	return out
}

func (r *memoryRepo) sorted() []domain.Transaction {
	out := make([]domain.Transaction, 0, len(r.txs))
	for _, t := range r.txs {
		if !t.Deleted {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memoryRepo) detailed(t domain.Transaction) domain.Transaction {
	p := r.products[t.ProductID]
	t.Product = &p
	t.User = &domain.User{ID: t.UserID}
	return t
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.txs[id]
	if !ok || t.Deleted {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return r.detailed(t), nil
}

func (r *memoryRepo) List(ctx context.Context, userID int64, role Role, typ domain.TransactionType) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, t := range r.sorted() {
		if t.Type != typ {
			continue
		}
		if (role == RoleActor && t.UserID == userID) || (role == RoleOwner && r.products[t.ProductID].OwnerID == userID) {
			out = append(out, r.detailed(t))
		}
	}
	return out, nil
}

func (r *memoryRepo) ListPendingForOwner(ctx context.Context, ownerID int64) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, t := range r.sorted() {
		if t.Status == domain.StatusPending && r.products[t.ProductID].OwnerID == ownerID {
			out = append(out, r.detailed(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (tx *memoryTx) LockProduct(ctx context.Context, productID int64) (domain.Product, error) {
	p, ok := tx.repo.products[productID]
	if !ok {
		return domain.Product{}, fmt.Errorf("product %d: %w", productID, shared.ErrNotFound)
	}
	return p, nil
}

func (tx *memoryTx) ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	return tx.repo.forProduct(productID), nil
}

func (tx *memoryTx) Insert(ctx context.Context, t domain.Transaction) (int64, error) {
	return tx.repo.addTransaction(t), nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (domain.Transaction, error) {
	t, ok := tx.repo.txs[id]
	if !ok || t.Deleted {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return t, nil
}

func (tx *memoryTx) MarkCompleted(ctx context.Context, id int64) error {
	t := tx.repo.txs[id]
	t.Status = domain.StatusCompleted
	tx.repo.txs[id] = t
	return nil
}

func (tx *memoryTx) ClaimIdempotencyKey(ctx context.Context, key string) error {
	if tx.repo.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	tx.repo.keys[key] = true
	return nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	tx.repo.audits = append(tx.repo.audits, log)
	return nil
}

type recordingHooks struct {
	mu          sync.Mutex
	invalidated int
	enqueued    int
	created     int
	completed   int
	rejected    []string
}

func (h *recordingHooks) Invalidate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invalidated++
	return nil
}

func (h *recordingHooks) EnqueueListingRefresh(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueued++
	return nil
}

func (h *recordingHooks) TransactionCreated(domain.TransactionType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.created++
}

func (h *recordingHooks) TransactionCompleted(domain.TransactionType) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed++
}

func (h *recordingHooks) TransactionRejected(op, kind string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected = append(h.rejected, op+":"+kind)
}

func newTestService(repo *memoryRepo) (*Service, *recordingHooks) {
	hooks := &recordingHooks{}
	return NewService(repo, Hooks{Listing: hooks, Jobs: hooks, Metrics: hooks}, nil), hooks
}

func day(s string) *time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return &t
}

const (
	owner    int64 = 1
	buyer    int64 = 2
	renter   int64 = 3
	stranger int64 = 4
)

func TestCheckAvailability(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addProduct(11, owner)
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Status: domain.StatusCompleted, StartDate: day("2024-01-01"), EndDate: day("2024-01-10")})
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: stranger, Type: domain.TransactionRent, Status: domain.StatusPending, StartDate: day("2024-02-01"), EndDate: day("2024-02-10")})
	repo.addTransaction(domain.Transaction{ProductID: 11, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusCompleted})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	v, err := svc.CheckAvailability(ctx, 99, nil, nil)
	require.NoError(t, err)
	require.False(t, v.Available)
	require.Equal(t, availability.ReasonNotFound, v.Reason)

	v, err = svc.CheckAvailability(ctx, 11, day("2024-05-01"), day("2024-05-02"))
	require.NoError(t, err)
	require.Equal(t, availability.ReasonSold, v.Reason)

	v, err = svc.CheckAvailability(ctx, 10, day("2024-01-10"), day("2024-01-15"))
	require.NoError(t, err)
	require.False(t, v.Available)
	require.Equal(t, availability.ReasonRented, v.Reason)
	require.Len(t, v.Conflicts, 1)

	v, err = svc.CheckAvailability(ctx, 10, day("2024-02-05"), day("2024-02-06"))
	require.NoError(t, err)
	require.True(t, v.Available, "pending rentals do not block the read-only check")

	v, err = svc.CheckAvailability(ctx, 10, nil, nil)
	require.NoError(t, err)
	require.True(t, v.Available)
	require.Equal(t, availability.ReasonAvailable, v.Reason)
}

func TestCreatePreconditionsInOrder(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addProduct(11, owner)
	repo.addProduct(12, owner)
	repo.deleteProduct(12)
	repo.addTransaction(domain.Transaction{ProductID: 11, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusCompleted})
	svc, hooks := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ProductID: 99, UserID: buyer, Type: domain.TransactionBuy})
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = svc.Create(ctx, CreateInput{ProductID: 12, UserID: buyer, Type: domain.TransactionBuy})
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Create(ctx, CreateInput{ProductID: 11, UserID: owner, Type: domain.TransactionRent})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Create(ctx, CreateInput{ProductID: 11, UserID: renter, Type: domain.TransactionRent})
	require.ErrorIs(t, err, shared.ErrConflict, "sold check precedes date validation")

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, StartDate: day("2024-01-01")})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, StartDate: day("2024-01-05"), EndDate: day("2024-01-01")})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: -5})
	require.ErrorIs(t, err, shared.ErrInvalidInput)
	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: "SWAP"})
	require.ErrorIs(t, err, shared.ErrInvalidInput)

	require.Zero(t, hooks.created)
	require.Len(t, repo.txs, 1, "failed preconditions write nothing")
	require.Empty(t, repo.audits)
}

func TestCreateBuyIsPendingWithDetails(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, hooks := newTestService(repo)

	tr, err := svc.Create(context.Background(), CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: 75, StartDate: day("2024-01-01")})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, tr.Status)
	require.Equal(t, 75.0, tr.Price)
	require.Nil(t, tr.StartDate, "purchases carry no window")
	require.NotNil(t, tr.Product)
	require.Equal(t, owner, tr.Product.OwnerID)
	require.Equal(t, 1, hooks.created)
	require.Equal(t, 1, hooks.invalidated)
	require.Equal(t, 1, hooks.enqueued)
	require.Len(t, repo.audits, 1)
	require.Equal(t, "transaction.create", repo.audits[0].Action)
}

func TestSaleBlocksRental(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	sale, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: 100})
	require.NoError(t, err)
	completed, err := svc.Complete(ctx, owner, sale.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, completed.Status)

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-03-01"), EndDate: day("2024-03-02")})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestTouchingBoundaryOverlaps(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: stranger, Type: domain.TransactionRent, Status: domain.StatusCompleted, StartDate: day("2024-01-01"), EndDate: day("2024-01-10")})
	svc, hooks := newTestService(repo)

	_, err := svc.Create(context.Background(), CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-01-10"), EndDate: day("2024-01-15")})
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, []string{"create:conflict"}, hooks.rejected)
}

func TestSequentialRentalsSucceed(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: stranger, Type: domain.TransactionRent, Status: domain.StatusCompleted, StartDate: day("2024-01-01"), EndDate: day("2024-01-05")})
	svc, _ := newTestService(repo)

	tr, err := svc.Create(context.Background(), CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-01-06"), EndDate: day("2024-01-10")})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, tr.Status)
	require.Equal(t, *day("2024-01-06"), *tr.StartDate)
}

func TestPendingRentalBlocksCreation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-01-01"), EndDate: day("2024-01-05")})
	require.NoError(t, err)

	v, err := svc.CheckAvailability(ctx, 10, day("2024-01-03"), day("2024-01-04"))
	require.NoError(t, err)
	require.True(t, v.Available)

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: stranger, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-01-03"), EndDate: day("2024-01-04")})
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestCompleteAuthorization(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, hooks := newTestService(repo)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: 50})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, buyer, tr.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Complete(ctx, stranger, tr.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Complete(ctx, owner, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	done, err := svc.Complete(ctx, owner, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, done.Status)

	again, err := svc.Complete(ctx, owner, tr.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, again.Status)
	require.Equal(t, 1, hooks.completed, "re-completing does not write")
}

func TestCompleteRejectsDeletedProduct(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, hooks := newTestService(repo)
	ctx := context.Background()

	tr, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: 50})
	require.NoError(t, err)
	repo.deleteProduct(10)

	_, err = svc.Complete(ctx, owner, tr.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Zero(t, hooks.completed)
	require.Equal(t, domain.StatusPending, repo.txs[tr.ID].Status)
}

func TestSecondSaleCannotComplete(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	first, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Price: 50})
	require.NoError(t, err)
	second, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: stranger, Type: domain.TransactionBuy, Price: 55})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, owner, first.ID)
	require.NoError(t, err)
	_, err = svc.Complete(ctx, owner, second.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestConcurrentPurchasesNeverDoubleSell(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			tr, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: user, Type: domain.TransactionBuy, Price: 10})
			if err == nil {
				_, _ = svc.Complete(ctx, owner, tr.ID)
			}
		}(int64(100 + i))
	}
	wg.Wait()

	completed := 0
	for _, tr := range repo.txs {
		if tr.IsCompletedSale() {
			completed++
		}
	}
	require.Equal(t, 1, completed)
}

func TestConcurrentOverlappingRentalsAdmitOne(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := svc.Create(ctx, CreateInput{ProductID: 10, UserID: user, Type: domain.TransactionRent, Price: 10, StartDate: day("2024-04-01"), EndDate: day("2024-04-07")})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(int64(100 + i))
	}
	wg.Wait()
	require.Equal(t, 1, succeeded)
}

func TestListForUserPartitions(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addProduct(20, buyer)
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusPending})
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: buyer, Type: domain.TransactionRent, Status: domain.StatusCompleted, StartDate: day("2024-01-01"), EndDate: day("2024-01-02")})
	repo.addTransaction(domain.Transaction{ProductID: 20, UserID: renter, Type: domain.TransactionBuy, Status: domain.StatusPending})
	repo.addTransaction(domain.Transaction{ProductID: 20, UserID: renter, Type: domain.TransactionRent, Status: domain.StatusPending, StartDate: day("2024-02-01"), EndDate: day("2024-02-02")})
	repo.addTransaction(domain.Transaction{ProductID: 20, UserID: stranger, Type: domain.TransactionRent, Status: domain.StatusPending, StartDate: day("2024-03-01"), EndDate: day("2024-03-02"), Deleted: true})
	svc, _ := newTestService(repo)

	parts, err := svc.ListForUser(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, parts.Bought, 1)
	require.Len(t, parts.Sold, 1)
	require.Len(t, parts.Borrowed, 1)
	require.Len(t, parts.Lent, 1, "soft-deleted transactions are excluded")

	empty, err := svc.ListForUser(context.Background(), stranger)
	require.NoError(t, err)
	require.NotNil(t, empty.Bought)
	require.Empty(t, empty.Lent)
}

func TestListPendingForOwnerNewestFirst(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	older := repo.addTransaction(domain.Transaction{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusPending})
	repo.addTransaction(domain.Transaction{ProductID: 10, UserID: renter, Type: domain.TransactionRent, Status: domain.StatusCompleted, StartDate: day("2024-01-01"), EndDate: day("2024-01-02")})
	newer := repo.addTransaction(domain.Transaction{ProductID: 10, UserID: stranger, Type: domain.TransactionBuy, Status: domain.StatusPending})
	svc, _ := newTestService(repo)

	list, err := svc.ListPendingForOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, newer, list[0].ID)
	require.Equal(t, older, list[1].ID)
}

func TestGetVisibleToParticipantsOnly(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	id := repo.addTransaction(domain.Transaction{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, Status: domain.StatusPending})
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Get(ctx, buyer, id)
	require.NoError(t, err)
	_, err = svc.Get(ctx, owner, id)
	require.NoError(t, err)
	_, err = svc.Get(ctx, stranger, id)
	require.ErrorIs(t, err, shared.ErrForbidden)
	_, err = svc.Get(ctx, owner, 404)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestIdempotencyKeyRejectsReplay(t *testing.T) {
	repo := newMemoryRepo()
	repo.addProduct(10, owner)
	repo.addProduct(11, owner)
	svc, _ := newTestService(repo)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateInput{ProductID: 11, UserID: owner, Type: domain.TransactionBuy, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, IdempotencyKey: "k1"})
	require.NoError(t, err, "a failed request does not consume its key")

	_, err = svc.Create(ctx, CreateInput{ProductID: 10, UserID: buyer, Type: domain.TransactionBuy, IdempotencyKey: "k1"})
	require.ErrorIs(t, err, shared.ErrConflict)
}
