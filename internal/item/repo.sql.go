package item

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists inventory items in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	audit *audit.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, auditRepo *audit.Repository) *Repository {
	return &Repository{pool: pool, audit: auditRepo}
}

// TxPort exposes the transactional operations used by the service.
type TxPort interface {
	GetForUpdate(ctx context.Context, businessID, id uuid.UUID) (Item, error)
	Insert(ctx context.Context, it Item) error
	UpdateData(ctx context.Context, id uuid.UUID, data map[string]any, updatedAt time.Time) error
	Delete(ctx context.Context, businessID, id uuid.UUID) error
	RecordLog(ctx context.Context, log audit.Log) error
}

type txRepository struct {
	tx    pgx.Tx
	audit *audit.Repository
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxPort) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, audit: r.audit})
	})
}

const selectItemSQL = `
SELECT id, business_id, data, created_by, created_at, updated_at
FROM items`

// Get loads one item scoped to a business.
func (r *Repository) Get(ctx context.Context, businessID, id uuid.UUID) (Item, error) {
	row := r.pool.QueryRow(ctx, selectItemSQL+` WHERE business_id = $1 AND id = $2`, businessID, id)
	return scanItem(row)
}

// List returns a page of items plus the total count.
func (r *Repository) List(ctx context.Context, businessID uuid.UUID, offset, limit int) ([]Item, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM items WHERE business_id = $1`, businessID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, selectItemSQL+` WHERE business_id = $1 ORDER BY created_at, id LIMIT $2 OFFSET $3`,
		businessID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// ListBelowMinimum returns items whose quantity column sits below the
// minQuantity column. Column ids come from the resolved schema.
func (r *Repository) ListBelowMinimum(ctx context.Context, businessID uuid.UUID, qtyColumnID, minColumnID string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, selectItemSQL+`
WHERE business_id = $1
  AND (data->>$2) ~ '^-?[0-9.]+$'
  AND (data->>$3) ~ '^-?[0-9.]+$'
  AND (data->>$2)::numeric < (data->>$3)::numeric`,
		businessID, qtyColumnID, minColumnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListBusinessIDs returns the distinct businesses holding items, for
// schedule-driven scans.
func (r *Repository) ListBusinessIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT business_id FROM items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txRepository) GetForUpdate(ctx context.Context, businessID, id uuid.UUID) (Item, error) {
	row := t.tx.QueryRow(ctx, selectItemSQL+` WHERE business_id = $1 AND id = $2 FOR UPDATE`, businessID, id)
	return scanItem(row)
}

func (t *txRepository) Insert(ctx context.Context, it Item) error {
	data, err := json.Marshal(it.Data)
	if err != nil {
		return fmt.Errorf("item: marshal data: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO items (id, business_id, data, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.BusinessID, data, it.CreatedBy, it.CreatedAt, it.UpdatedAt)
	return err
}

func (t *txRepository) UpdateData(ctx context.Context, id uuid.UUID, data map[string]any, updatedAt time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("item: marshal data: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE items SET data = $1, updated_at = $2 WHERE id = $3`, payload, updatedAt, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepository) Delete(ctx context.Context, businessID, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM items WHERE business_id = $1 AND id = $2`, businessID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepository) RecordLog(ctx context.Context, log audit.Log) error {
	return t.audit.Insert(ctx, t.tx, log)
}

func scanItem(row pgx.Row) (Item, error) {
	var (
		it   Item
		data []byte
	)
	err := row.Scan(&it.ID, &it.BusinessID, &data, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &it.Data); err != nil {
			return Item{}, fmt.Errorf("item: unmarshal data: %w", err)
		}
	}
	if it.Data == nil {
		it.Data = make(map[string]any)
	}
	return it, nil
}
