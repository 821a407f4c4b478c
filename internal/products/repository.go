package products

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kinbay/kinbay/internal/domain"
	"github.com/kinbay/kinbay/internal/platform/db"
	"github.com/kinbay/kinbay/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository persists products and categories in PostgreSQL. Reads go through
// the live_* views so soft-deleted rows never surface.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

const selectProduct = `
	SELECT p.id, p.name, p.description, p.price_buy::float8, p.price_rent::float8,
	       p.rent_option::text, p.owner_id, p.created_at, p.updated_at,
	       u.id, u.email, u.firstname, u.lastname, u.created_at
	FROM live_products p
	JOIN users u ON u.id = p.owner_id`

func (r *Repository) Get(ctx context.Context, id int64) (domain.Product, error) {
	rows, err := r.db.Query(ctx, selectProduct+` WHERE p.id = $1`, id)
	if err != nil {
		return domain.Product{}, err
	}
	list, err := r.collect(ctx, rows)
	if err != nil {
		return domain.Product{}, err
	}
	if len(list) == 0 {
		return domain.Product{}, fmt.Errorf("product %d: %w", id, shared.ErrNotFound)
	}
	return list[0], nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID int64) ([]domain.Product, error) {
	rows, err := r.db.Query(ctx, selectProduct+` WHERE p.owner_id = $1 ORDER BY p.created_at DESC, p.id DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

func (r *Repository) ListLive(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.Query(ctx, selectProduct+` ORDER BY p.created_at DESC, p.id DESC`)
	if err != nil {
		return nil, err
	}
	return r.collect(ctx, rows)
}

// ListSaleHistory returns every live BUY transaction. Used to derive the
// listing filter without duplicating its rule in SQL.
func (r *Repository) ListSaleHistory(ctx context.Context) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, product_id, user_id, status::text
		FROM live_transactions
		WHERE type = 'BUY'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{Type: domain.TransactionBuy}
		var status string
		if err := rows.Scan(&t.ID, &t.ProductID, &t.UserID, &status); err != nil {
			return nil, err
		}
		t.Status = domain.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) Create(ctx context.Context, p domain.Product, categoryIDs []int64) (int64, error) {
	var id int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO products (name, description, price_buy, price_rent, rent_option, owner_id)
			VALUES ($1, $2, $3, $4, $5::rent_option, $6)
			RETURNING id`,
			p.Name, p.Description, p.PriceBuy, p.PriceRent, rentOptionParam(p.RentOption), p.OwnerID,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("insert product: %w", err)
		}
		return replaceCategories(ctx, tx, id, categoryIDs)
	})
	return id, err
}

// Update overwrites the mutable columns. Categories are replaced when
// categoryIDs is non-nil.
func (r *Repository) Update(ctx context.Context, p domain.Product, categoryIDs *[]int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE products
			SET name = $2, description = $3, price_buy = $4, price_rent = $5,
			    rent_option = $6::rent_option, updated_at = NOW()
			WHERE id = $1 AND NOT deleted`,
			p.ID, p.Name, p.Description, p.PriceBuy, p.PriceRent, rentOptionParam(p.RentOption),
		)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("product %d: %w", p.ID, shared.ErrNotFound)
		}
		if categoryIDs == nil {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM product_categories WHERE product_id = $1`, p.ID); err != nil {
			return err
		}
		return replaceCategories(ctx, tx, p.ID, *categoryIDs)
	})
}

// SoftDelete flags the product deleted. Deleting twice is a no-op.
func (r *Repository) SoftDelete(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `UPDATE products SET deleted = TRUE, updated_at = NOW() WHERE id = $1 AND NOT deleted`, id)
	return err
}

func (r *Repository) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *Repository) CreateCategory(ctx context.Context, name, key string) (domain.Category, error) {
	c := domain.Category{Name: name}
	err := r.db.QueryRow(ctx, `INSERT INTO categories (name, name_key) VALUES ($1, $2) RETURNING id`, name, key).Scan(&c.ID)
	if err != nil {
		if db.IsCode(err, db.CodeUniqueViolation) {
			return domain.Category{}, fmt.Errorf("category %q already exists: %w", name, shared.ErrConflict)
		}
		return domain.Category{}, err
	}
	return c, nil
}

func replaceCategories(ctx context.Context, tx pgx.Tx, productID int64, categoryIDs []int64) error {
	if len(categoryIDs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, cid := range categoryIDs {
		batch.Queue(`INSERT INTO product_categories (product_id, category_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, productID, cid)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		if db.ConstraintName(err) != "" {
			return fmt.Errorf("unknown category: %w", shared.ErrInvalidInput)
		}
		return err
	}
	return nil
}

func (r *Repository) collect(ctx context.Context, rows pgx.Rows) ([]domain.Product, error) {
	defer rows.Close()

	var (
		list  []domain.Product
		index = make(map[int64]int)
	)
	for rows.Next() {
		var (
			p          domain.Product
			owner      domain.User
			rentOption pgtype.Text
			createdAt  time.Time
		)
		if err := rows.Scan(
			&p.ID, &p.Name, &p.Description, &p.PriceBuy, &p.PriceRent,
			&rentOption, &p.OwnerID, &p.CreatedAt, &p.UpdatedAt,
			&owner.ID, &owner.Email, &owner.Firstname, &owner.Lastname, &createdAt,
		); err != nil {
			return nil, err
		}
		if rentOption.Valid {
			opt := domain.RentOption(rentOption.String)
			p.RentOption = &opt
		}
		owner.CreatedAt = createdAt
		p.Owner = &owner
		p.Categories = []domain.Category{}
		index[p.ID] = len(list)
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return list, nil
	}

	ids := make([]int64, 0, len(list))
	for id := range index {
		ids = append(ids, id)
	}
	catRows, err := r.db.Query(ctx, `
		SELECT pc.product_id, c.id, c.name
		FROM product_categories pc
		JOIN categories c ON c.id = pc.category_id
		WHERE pc.product_id = ANY($1)
		ORDER BY c.name`, ids)
	if err != nil {
		return nil, err
	}
	defer catRows.Close()
	for catRows.Next() {
		var productID int64
		var c domain.Category
		if err := catRows.Scan(&productID, &c.ID, &c.Name); err != nil {
			return nil, err
		}
		if i, ok := index[productID]; ok {
			list[i].Categories = append(list[i].Categories, c)
		}
	}
	return list, catRows.Err()
}

func rentOptionParam(o *domain.RentOption) *string {
	if o == nil {
		return nil
	}
	s := string(*o)
	return &s
}
