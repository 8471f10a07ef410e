package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/platform/db"
)

// Repository persists operations in PostgreSQL and gives the service
// transactional access to items and logs.
type Repository struct {
	pool  *pgxpool.Pool
	audit *audit.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, auditRepo *audit.Repository) *Repository {
	return &Repository{pool: pool, audit: auditRepo}
}

// TxPort exposes the transactional operations used by the service. All item
// reads/writes and record writes of one business event go through a single
// TxPort instance, so either everything commits or nothing does.
type TxPort interface {
	GetItemForUpdate(ctx context.Context, businessID, itemID uuid.UUID) (item.Item, error)
	UpdateItemData(ctx context.Context, itemID uuid.UUID, data map[string]any, updatedAt time.Time) error
	InsertItem(ctx context.Context, it item.Item) error

	InsertOperation(ctx context.Context, op Operation) error
	GetOperationForUpdate(ctx context.Context, businessID, id uuid.UUID) (Operation, error)
	ListReturnsForSale(ctx context.Context, saleID uuid.UUID) ([]Operation, error)
	MarkOperationUndone(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error)

	GetLogForUpdate(ctx context.Context, businessID, id uuid.UUID) (audit.Log, error)
	MarkLogUndone(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxPort) error) error
	GetOperation(ctx context.Context, businessID, id uuid.UUID) (Operation, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]Operation, int, error)
	ListReturnsForSale(ctx context.Context, saleID uuid.UUID) ([]Operation, error)
}

// OperationFilter narrows operation listings.
type OperationFilter struct {
	BusinessID uuid.UUID
	Type       OperationType
	Offset     int
	Limit      int
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

// operationPayload carries everything outside the header columns.
type operationPayload struct {
	Lines         []OperationLine `json:"lines"`
	Supplier      string          `json:"supplier,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Customer      string          `json:"customer,omitempty"`
	Payments      []Payment       `json:"payments,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	TaxRate       decimal.Decimal `json:"taxRate"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
	Branding      *Branding       `json:"branding,omitempty"`
	ReturnReason  string          `json:"returnReason,omitempty"`
	RefundMethod  string          `json:"refundMethod,omitempty"`
	RefundTotal   decimal.Decimal `json:"refundTotal"`
}

const selectOperationSQL = `
SELECT id, business_id, op_type, op_date, total_qty, actor_id, original_sale_id,
       payload, created_at, undone_at, undone_by
FROM operations`

// GetOperation loads one operation scoped to a business.
func (r *Repository) GetOperation(ctx context.Context, businessID, id uuid.UUID) (Operation, error) {
	row := r.pool.QueryRow(ctx, selectOperationSQL+` WHERE business_id = $1 AND id = $2`, businessID, id)
	return scanOperation(row)
}

// ListOperations returns a page of operations newest-first plus the total.
func (r *Repository) ListOperations(ctx context.Context, filter OperationFilter) ([]Operation, int, error) {
	countSQL := `SELECT COUNT(*) FROM operations WHERE business_id = $1`
	listSQL := selectOperationSQL + ` WHERE business_id = $1`
	args := []any{filter.BusinessID}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		cond := fmt.Sprintf(" AND op_type = $%d", len(args))
		countSQL += cond
		listSQL += cond
	}
	var total int
	if err := r.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, filter.Limit, filter.Offset)
	listSQL += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, 0, err
		}
		ops = append(ops, op)
	}
	return ops, total, rows.Err()
}

const selectReturnsSQL = selectOperationSQL + `
WHERE original_sale_id = $1 AND op_type = 'RETURN' AND undone_at IS NULL`

// ListReturnsForSale returns the non-undone returns recorded against a sale.
func (r *Repository) ListReturnsForSale(ctx context.Context, saleID uuid.UUID) ([]Operation, error) {
	rows, err := r.pool.Query(ctx, selectReturnsSQL, saleID)
	if err != nil {
		return nil, err
	}
	return collectOperations(rows)
}

func (t *txRepository) GetItemForUpdate(ctx context.Context, businessID, itemID uuid.UUID) (item.Item, error) {
	row := t.tx.QueryRow(ctx, `
SELECT id, business_id, data, created_by, created_at, updated_at
FROM items WHERE business_id = $1 AND id = $2 FOR UPDATE`, businessID, itemID)
	var (
		it   item.Item
		data []byte
	)
	err := row.Scan(&it.ID, &it.BusinessID, &data, &it.CreatedBy, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return item.Item{}, item.ErrItemNotFound
		}
		return item.Item{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &it.Data); err != nil {
			return item.Item{}, fmt.Errorf("ledger: unmarshal item data: %w", err)
		}
	}
	if it.Data == nil {
		it.Data = make(map[string]any)
	}
	return it, nil
}

func (t *txRepository) UpdateItemData(ctx context.Context, itemID uuid.UUID, data map[string]any, updatedAt time.Time) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("ledger: marshal item data: %w", err)
	}
	tag, err := t.tx.Exec(ctx, `UPDATE items SET data = $1, updated_at = $2 WHERE id = $3`, payload, updatedAt, itemID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return item.ErrItemNotFound
	}
	return nil
}

func (t *txRepository) InsertItem(ctx context.Context, it item.Item) error {
	data, err := json.Marshal(it.Data)
	if err != nil {
		return fmt.Errorf("ledger: marshal item data: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO items (id, business_id, data, created_by, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		it.ID, it.BusinessID, data, it.CreatedBy, it.CreatedAt, it.UpdatedAt)
	return err
}

func (t *txRepository) InsertOperation(ctx context.Context, op Operation) error {
	payload, err := json.Marshal(operationPayload{
		Lines:         op.Lines,
		Supplier:      op.Supplier,
		Reference:     op.Reference,
		Customer:      op.Customer,
		Payments:      op.Payments,
		Subtotal:      op.Subtotal,
		TotalDiscount: op.TotalDiscount,
		TaxRate:       op.TaxRate,
		TaxAmount:     op.TaxAmount,
		GrandTotal:    op.GrandTotal,
		Branding:      op.Branding,
		ReturnReason:  op.ReturnReason,
		RefundMethod:  op.RefundMethod,
		RefundTotal:   op.RefundTotal,
	})
	if err != nil {
		return fmt.Errorf("ledger: marshal operation payload: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
INSERT INTO operations (id, business_id, op_type, op_date, total_qty, actor_id, original_sale_id, payload, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		op.ID, op.BusinessID, string(op.Type), op.Date, op.TotalQty, op.ActorID,
		op.OriginalSaleID, payload, op.CreatedAt)
	return err
}

func (t *txRepository) GetOperationForUpdate(ctx context.Context, businessID, id uuid.UUID) (Operation, error) {
	row := t.tx.QueryRow(ctx, selectOperationSQL+` WHERE business_id = $1 AND id = $2 FOR UPDATE`, businessID, id)
	return scanOperation(row)
}

func (t *txRepository) ListReturnsForSale(ctx context.Context, saleID uuid.UUID) ([]Operation, error) {
	rows, err := t.tx.Query(ctx, selectReturnsSQL, saleID)
	if err != nil {
		return nil, err
	}
	return collectOperations(rows)
}

func (t *txRepository) MarkOperationUndone(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`UPDATE operations SET undone_at = $1, undone_by = $2 WHERE id = $3 AND undone_at IS NULL`,
		at, actorID, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *txRepository) GetLogForUpdate(ctx context.Context, businessID, id uuid.UUID) (audit.Log, error) {
	return t.audit.GetForUpdate(ctx, t.tx, businessID, id)
}

func (t *txRepository) MarkLogUndone(ctx context.Context, id, actorID uuid.UUID, at time.Time) (bool, error) {
	return t.audit.MarkUndone(ctx, t.tx, id, actorID, at)
}

func collectOperations(rows pgx.Rows) ([]Operation, error) {
	defer rows.Close()
	var ops []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row pgx.Row) (Operation, error) {
	var (
		op      Operation
		opType  string
		payload []byte
	)
	err := row.Scan(&op.ID, &op.BusinessID, &opType, &op.Date, &op.TotalQty, &op.ActorID,
		&op.OriginalSaleID, &payload, &op.CreatedAt, &op.UndoneAt, &op.UndoneBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Operation{}, ErrOperationNotFound
		}
		return Operation{}, err
	}
	op.Type = OperationType(opType)
	var body operationPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &body); err != nil {
			return Operation{}, fmt.Errorf("ledger: unmarshal operation payload: %w", err)
		}
	}
	op.Lines = body.Lines
	op.Supplier = body.Supplier
	op.Reference = body.Reference
	op.Customer = body.Customer
	op.Payments = body.Payments
	op.Subtotal = body.Subtotal
	op.TotalDiscount = body.TotalDiscount
	op.TaxRate = body.TaxRate
	op.TaxAmount = body.TaxAmount
	op.GrandTotal = body.GrandTotal
	op.Branding = body.Branding
	op.ReturnReason = body.ReturnReason
	op.RefundMethod = body.RefundMethod
	op.RefundTotal = body.RefundTotal
	return op, nil
}
