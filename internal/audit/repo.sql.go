package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx so log writes can join the
// mutation's transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists inventory logs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertLogSQL = `
INSERT INTO inventory_logs
  (id, business_id, action, item_id, item_name, snapshot, changes, schema_changes, undoable, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// Insert writes a log row using the supplied connection, typically a
// transaction shared with the mutation the log describes.
func (r *Repository) Insert(ctx context.Context, q DBTX, log Log) error {
	snapshot, err := marshalNullable(log.Snapshot)
	if err != nil {
		return fmt.Errorf("audit: marshal snapshot: %w", err)
	}
	var changes []byte
	if len(log.Changes) > 0 {
		changes, err = json.Marshal(log.Changes)
		if err != nil {
			return fmt.Errorf("audit: marshal changes: %w", err)
		}
	}
	schemaChanges, err := marshalNullable(log.SchemaChanges)
	if err != nil {
		return fmt.Errorf("audit: marshal schema changes: %w", err)
	}
	_, err = q.Exec(ctx, insertLogSQL,
		log.ID, log.BusinessID, string(log.Action), log.ItemID, log.ItemName,
		snapshot, changes, schemaChanges, log.Undoable, log.ActorID, log.CreatedAt)
	return err
}

const selectLogSQL = `
SELECT id, business_id, action, item_id, item_name, snapshot, changes, schema_changes,
       undoable, actor_id, created_at, undone_at, undone_by
FROM inventory_logs`

// Get loads one log scoped to a business.
func (r *Repository) Get(ctx context.Context, q DBTX, businessID, id uuid.UUID) (Log, error) {
	row := q.QueryRow(ctx, selectLogSQL+` WHERE business_id = $1 AND id = $2`, businessID, id)
	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Log{}, ErrLogNotFound
		}
		return Log{}, err
	}
	return log, nil
}

// GetForUpdate loads one log with a row lock so concurrent undo requests
// serialize on the record.
func (r *Repository) GetForUpdate(ctx context.Context, q DBTX, businessID, id uuid.UUID) (Log, error) {
	row := q.QueryRow(ctx, selectLogSQL+` WHERE business_id = $1 AND id = $2 FOR UPDATE`, businessID, id)
	log, err := scanLog(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Log{}, ErrLogNotFound
		}
		return Log{}, err
	}
	return log, nil
}

// MarkUndone stamps the log exactly once. Returns false when another request
// already claimed the undo.
func (r *Repository) MarkUndone(ctx context.Context, q DBTX, id, actorID uuid.UUID, at time.Time) (bool, error) {
	tag, err := q.Exec(ctx,
		`UPDATE inventory_logs SET undone_at = $1, undone_by = $2 WHERE id = $3 AND undone_at IS NULL`,
		at, actorID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// TimelineFilter narrows timeline listings.
type TimelineFilter struct {
	BusinessID uuid.UUID
	Action     Action
	ItemID     *uuid.UUID
	From       time.Time
	To         time.Time
	Offset     int
	Limit      int
}

// List returns logs newest-first for the timeline.
func (r *Repository) List(ctx context.Context, filter TimelineFilter) ([]Log, error) {
	sql := selectLogSQL + ` WHERE business_id = $1`
	args := []any{filter.BusinessID}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		sql += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if filter.ItemID != nil {
		args = append(args, *filter.ItemID)
		sql += fmt.Sprintf(" AND item_id = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		sql += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		sql += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, filter.Limit, filter.Offset)
	sql += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []Log
	for rows.Next() {
		log, err := scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanLog(row pgx.Row) (Log, error) {
	var (
		log           Log
		action        string
		snapshot      []byte
		changes       []byte
		schemaChanges []byte
	)
	err := row.Scan(&log.ID, &log.BusinessID, &action, &log.ItemID, &log.ItemName,
		&snapshot, &changes, &schemaChanges, &log.Undoable, &log.ActorID,
		&log.CreatedAt, &log.UndoneAt, &log.UndoneBy)
	if err != nil {
		return Log{}, err
	}
	log.Action = Action(action)
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &log.Snapshot); err != nil {
			return Log{}, fmt.Errorf("audit: unmarshal snapshot: %w", err)
		}
	}
	if len(changes) > 0 {
		if err := json.Unmarshal(changes, &log.Changes); err != nil {
			return Log{}, fmt.Errorf("audit: unmarshal changes: %w", err)
		}
	}
	if len(schemaChanges) > 0 {
		if err := json.Unmarshal(schemaChanges, &log.SchemaChanges); err != nil {
			return Log{}, fmt.Errorf("audit: unmarshal schema changes: %w", err)
		}
	}
	return log, nil
}

func marshalNullable(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
