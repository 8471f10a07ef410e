package schema

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stocklane/stocklane/internal/platform/db"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists column definitions in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumnsSQL = `
SELECT id, business_id, name, col_type, role, options, required, sort_order, created_at
FROM columns
WHERE business_id = $1
ORDER BY sort_order, created_at`

// GetColumns loads the business's column definitions in schema order.
func (r *Repository) GetColumns(ctx context.Context, businessID uuid.UUID) ([]ColumnDefinition, error) {
	return getColumns(ctx, r.pool, businessID)
}

func getColumns(ctx context.Context, q DBTX, businessID uuid.UUID) ([]ColumnDefinition, error) {
	rows, err := q.Query(ctx, selectColumnsSQL, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []ColumnDefinition
	for rows.Next() {
		var (
			col     ColumnDefinition
			colType string
			role    *string
			options []byte
		)
		if err := rows.Scan(&col.ID, &col.BusinessID, &col.Name, &colType, &role,
			&options, &col.Required, &col.Order, &col.CreatedAt); err != nil {
			return nil, err
		}
		col.Type = ColumnType(colType)
		if role != nil {
			col.Role = Role(*role)
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &col.Options); err != nil {
				return nil, fmt.Errorf("schema: unmarshal options: %w", err)
			}
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// ReplaceColumns swaps the business's column set atomically. The record
// callback runs inside the same transaction so the audit entry commits with
// the change.
func (r *Repository) ReplaceColumns(ctx context.Context, businessID uuid.UUID, columns []ColumnDefinition, record func(ctx context.Context, q DBTX) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM columns WHERE business_id = $1`, businessID); err != nil {
			return err
		}
		for _, col := range columns {
			var options []byte
			if len(col.Options) > 0 {
				var err error
				options, err = json.Marshal(col.Options)
				if err != nil {
					return fmt.Errorf("schema: marshal options: %w", err)
				}
			}
			var role *string
			if col.Role != "" {
				s := string(col.Role)
				role = &s
			}
			_, err := tx.Exec(ctx, `
INSERT INTO columns (id, business_id, name, col_type, role, options, required, sort_order, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				col.ID, businessID, col.Name, string(col.Type), role, options, col.Required, col.Order, col.CreatedAt)
			if err != nil {
				return err
			}
		}
		if record != nil {
			return record(ctx, tx)
		}
		return nil
	})
}
