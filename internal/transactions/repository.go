package transactions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/platform/db"
	"github.com/kinbay/kinbay/internal/shared"
)

const (
	idempotencyModule  = "transactions"
	completedSaleIndex = "uq_transactions_completed_sale"
)

const transactionColumns = `t.id, t.product_id, t.user_id, t.type::text, t.status::text, t.price::float8, t.start_date, t.end_date, t.created_at, t.updated_at`

const selectWithDetails = `
	SELECT ` + transactionColumns + `,
	       p.name, p.description, p.price_buy::float8, p.price_rent::float8, p.rent_option::text,
	       p.owner_id, p.deleted, p.created_at, p.updated_at,
	       u.email, u.firstname, u.lastname, u.created_at,
	       o.email, o.firstname, o.lastname, o.created_at
	FROM live_transactions t
	JOIN products p ON p.id = t.product_id
	JOIN users u ON u.id = t.user_id
	JOIN users o ON o.id = p.owner_id`

// Repository persists transactions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx runs fn in a READ COMMITTED transaction. Callers lock the product row
// first so every later statement sees competing writes committed before the
// lock was granted.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	switch {
	case err == nil:
		return nil
	case db.IsCode(err, db.CodeSerializationFailure):
		return fmt.Errorf("concurrent update, retry: %w", shared.ErrConflict)
	case db.IsCode(err, db.CodeUniqueViolation):
		return fmt.Errorf("duplicate transaction: %w", shared.ErrConflict)
	}
	return err
}

// FindProduct returns the live product or nil when it does not exist.
func (r *Repository) FindProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	var p domain.Product
	err := r.pool.QueryRow(ctx, `SELECT id, owner_id FROM live_products WHERE id = $1`, productID).Scan(&p.ID, &p.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListForProduct returns the live transactions of a product without details.
func (r *Repository) ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	return listForProduct(ctx, r.pool, productID)
}

// Get returns a live transaction with product, acting user and owner attached.
func (r *Repository) Get(ctx context.Context, id int64) (domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, selectWithDetails+` WHERE t.id = $1`, id)
	if err != nil {
		return domain.Transaction{}, err
	}
	list, err := collectDetailed(rows)
	if err != nil {
		return domain.Transaction{}, err
	}
	if len(list) == 0 {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return list[0], nil
}

// List returns userID's transactions of one type, as actor or as owner.
func (r *Repository) List(ctx context.Context, userID int64, role Role, typ domain.TransactionType) ([]domain.Transaction, error) {
	column := "t.user_id"
	if role == RoleOwner {
		column = "p.owner_id"
	}
	rows, err := r.pool.Query(ctx, selectWithDetails+` WHERE `+column+` = $1 AND t.type = $2::transaction_type ORDER BY t.created_at DESC, t.id DESC`, userID, string(typ))
	if err != nil {
		return nil, err
	}
	return collectDetailed(rows)
}

// ListPendingForOwner returns pending transactions on the owner's products.
func (r *Repository) ListPendingForOwner(ctx context.Context, ownerID int64) ([]domain.Transaction, error) {
	rows, err := r.pool.Query(ctx, selectWithDetails+` WHERE p.owner_id = $1 AND t.status = 'PENDING' ORDER BY t.created_at DESC, t.id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return collectDetailed(rows)
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) LockProduct(ctx context.Context, productID int64) (domain.Product, error) {
	var p domain.Product
	err := t.tx.QueryRow(ctx, `SELECT id, owner_id, deleted FROM products WHERE id = $1 FOR UPDATE`, productID).Scan(&p.ID, &p.OwnerID, &p.Deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("product %d: %w", productID, shared.ErrNotFound)
	}
	return p, err
}

func (t *txRepo) ListForProduct(ctx context.Context, productID int64) ([]domain.Transaction, error) {
	return listForProduct(ctx, t.tx, productID)
}

func (t *txRepo) Insert(ctx context.Context, tr domain.Transaction) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO transactions (product_id, user_id, type, status, price, start_date, end_date)
		VALUES ($1, $2, $3::transaction_type, $4::transaction_status, $5, $6, $7)
		RETURNING id`,
		tr.ProductID, tr.UserID, string(tr.Type), string(tr.Status), tr.Price, tr.StartDate, tr.EndDate,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert transaction: %w", err)
	}
	return id, nil
}

func (t *txRepo) GetForUpdate(ctx context.Context, id int64) (domain.Transaction, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM live_transactions t WHERE t.id = $1 FOR UPDATE`, id)
	tr, err := scanTransaction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, fmt.Errorf("transaction %d: %w", id, shared.ErrNotFound)
	}
	return tr, err
}

func (t *txRepo) MarkCompleted(ctx context.Context, id int64) error {
	_, err := t.tx.Exec(ctx, `UPDATE transactions SET status = 'COMPLETED', updated_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	if err != nil && db.ConstraintName(err) == completedSaleIndex {
		return fmt.Errorf("product has been sold: %w", shared.ErrConflict)
	}
	return err
}

func (t *txRepo) ClaimIdempotencyKey(ctx context.Context, key string) error {
	return shared.NewIdempotencyStore(t.tx).CheckAndInsert(ctx, key, idempotencyModule)
}

func (t *txRepo) RecordAudit(ctx context.Context, log shared.AuditLog) error {
	return shared.NewAuditLogger(t.tx).Record(ctx, log)
}

type querier interface {
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
}

func listForProduct(ctx context.Context, q querier, productID int64) ([]domain.Transaction, error) {
	rows, err := q.Query(ctx, `SELECT `+transactionColumns+` FROM live_transactions t WHERE t.product_id = $1 ORDER BY t.id`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		tr, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		tr          domain.Transaction
		typ, status string
	)
	err := row.Scan(&tr.ID, &tr.ProductID, &tr.UserID, &typ, &status, &tr.Price,
		&tr.StartDate, &tr.EndDate, &tr.CreatedAt, &tr.UpdatedAt)
	if err != nil {
		return domain.Transaction{}, err
	}
	tr.Type = domain.TransactionType(typ)
	tr.Status = domain.TransactionStatus(status)
	return tr, nil
}

func collectDetailed(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		var (
			tr               domain.Transaction
			p                domain.Product
			actor, owner     domain.User
			typ, status      string
			rentOption       pgtype.Text
			actorAt, ownerAt time.Time
		)
		if err := rows.Scan(
			&tr.ID, &tr.ProductID, &tr.UserID, &typ, &status, &tr.Price,
			&tr.StartDate, &tr.EndDate, &tr.CreatedAt, &tr.UpdatedAt,
			&p.Name, &p.Description, &p.PriceBuy, &p.PriceRent, &rentOption,
			&p.OwnerID, &p.Deleted, &p.CreatedAt, &p.UpdatedAt,
			&actor.Email, &actor.Firstname, &actor.Lastname, &actorAt,
			&owner.Email, &owner.Firstname, &owner.Lastname, &ownerAt,
		); err != nil {
			return nil, err
		}
		tr.Type = domain.TransactionType(typ)
		tr.Status = domain.TransactionStatus(status)
		if rentOption.Valid {
			opt := domain.RentOption(rentOption.String)
			p.RentOption = &opt
		}
		p.ID = tr.ProductID
		actor.ID, actor.CreatedAt = tr.UserID, actorAt
		owner.ID, owner.CreatedAt = p.OwnerID, ownerAt
		p.Owner = &owner
		tr.Product = &p
		tr.User = &actor
		out = append(out, tr)
	}
	return out, rows.Err()
}

var _ RepositoryPort = (*Repository)(nil)
