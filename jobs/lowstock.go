package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/schema"
)

// TaskLowStockScan is the queue task type for the scheduled low-stock sweep.
const TaskLowStockScan = "inventory:low_stock_scan"

// NewLowStockScanTask builds the scheduled scan task.
func NewLowStockScanTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskLowStockScan, nil), nil
}

// SchemaResolver resolves a business schema for the scan.
type SchemaResolver interface {
	Resolve(ctx context.Context, businessID uuid.UUID) (schema.Schema, error)
}

// LowStockJob sweeps every business for items whose quantity fell below the
// minQuantity column and emits a lowStock event per item. Businesses without
// a minQuantity role are skipped.
type LowStockJob struct {
	items   *item.Repository
	schemas SchemaResolver
	sink    notify.Sink
	logger  *slog.Logger
}

// NewLowStockJob constructs the scan job.
func NewLowStockJob(items *item.Repository, schemas SchemaResolver, sink notify.Sink, logger *slog.Logger) *LowStockJob {
	return &LowStockJob{items: items, schemas: schemas, sink: sink, logger: logger}
}

// Handle runs one sweep across all businesses.
func (j *LowStockJob) Handle(ctx context.Context, task *asynq.Task) error {
	businessIDs, err := j.items.ListBusinessIDs(ctx)
	if err != nil {
		return err
	}
	for _, businessID := range businessIDs {
		if err := j.scanBusiness(ctx, businessID); err != nil {
			j.logger.Warn("low stock scan",
				slog.String("business", businessID.String()),
				slog.Any("error", err))
		}
	}
	return nil
}

func (j *LowStockJob) scanBusiness(ctx context.Context, businessID uuid.UUID) error {
	resolved, err := j.schemas.Resolve(ctx, businessID)
	if err != nil {
		return err
	}
	qtyCol, err := resolved.QuantityColumn()
	if err != nil {
		return nil
	}
	minCol, ok := resolved.Column(schema.RoleMinQuantity)
	if !ok {
		return nil
	}
	low, err := j.items.ListBelowMinimum(ctx, businessID, qtyCol.ID.String(), minCol.ID.String())
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, it := range low {
		itemID := it.ID
		j.sink.Publish(notify.ChangeEvent{
			Type:       notify.EventLowStock,
			BusinessID: businessID,
			ItemID:     &itemID,
			ItemName:   it.DisplayName(resolved),
			At:         now,
		})
	}
	if len(low) > 0 {
		j.logger.Info("low stock detected",
			slog.String("business", businessID.String()),
			slog.Int("items", len(low)))
	}
	return nil
}
