package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
)

// UndoOperation reverses a RECEIVING or SALE operation in one transaction:
// the inverse stock (and, for receivings, cost) adjustments plus the undo
// stamp commit together or not at all. RETURN operations are not undoable;
// issue a compensating sale instead.
func (s *Service) UndoOperation(ctx context.Context, businessID, operationID uuid.UUID, actor shared.Actor) (Operation, error) {
	resolved, err := s.schemas.Resolve(ctx, businessID)
	if err != nil {
		return Operation{}, err
	}
	qtyCol, err := resolved.QuantityColumn()
	if err != nil {
		return Operation{}, err
	}
	costCol, hasCost := resolved.Column(schema.RoleCost)

	now := time.Now().UTC()
	var op Operation
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		op, err = tx.GetOperationForUpdate(ctx, businessID, operationID)
		if err != nil {
			return err
		}
		if op.Undone() {
			return ErrAlreadyUndone
		}

		switch op.Type {
		case OperationReceiving:
			if err := s.reverseReceiving(ctx, tx, op, qtyCol, costCol, hasCost, now); err != nil {
				return err
			}
		case OperationSale:
			returns, err := tx.ListReturnsForSale(ctx, op.ID)
			if err != nil {
				return err
			}
			if len(returns) > 0 {
				return ErrSaleHasReturns
			}
			if err := s.reverseSale(ctx, tx, op, qtyCol, now); err != nil {
				return err
			}
		default:
			return ErrNotUndoable
		}

		stamped, err := tx.MarkOperationUndone(ctx, op.ID, actor.ID, now)
		if err != nil {
			return err
		}
		if !stamped {
			return ErrAlreadyUndone
		}
		op.UndoneAt = &now
		op.UndoneBy = &actor.ID
		return nil
	})
	if err != nil {
		return Operation{}, err
	}

	s.sink.Publish(notify.ChangeEvent{
		Type:        notify.EventOperationUndone,
		BusinessID:  businessID,
		OperationID: &op.ID,
		ActorID:     actor.ID,
		At:          now,
	})
	return op, nil
}

// reverseReceiving subtracts each line's received quantity (floored at zero)
// and reverse-solves the weighted-average cost. Items deleted since the
// receiving are skipped.
func (s *Service) reverseReceiving(ctx context.Context, tx TxPort, op Operation, qtyCol schema.ColumnDefinition, costCol schema.ColumnDefinition, hasCost bool, now time.Time) error {
	for _, line := range op.Lines {
		it, err := tx.GetItemForUpdate(ctx, op.BusinessID, line.ItemID)
		if err != nil {
			if errors.Is(err, item.ErrItemNotFound) {
				continue
			}
			return err
		}
		currentQty := intQuantity(it, qtyCol)
		newQty := currentQty - line.Quantity
		if newQty < 0 {
			newQty = 0
		}
		it.Data[qtyCol.ID.String()] = newQty
		if hasCost && line.CostPerItem != nil {
			currentCost, _ := it.Number(costCol)
			fallback := 0.0
			if line.PreviousCost != nil {
				fallback = *line.PreviousCost
			}
			it.Data[costCol.ID.String()] = ReverseCost(currentQty, currentCost, line.Quantity, *line.CostPerItem, fallback)
		}
		if err := tx.UpdateItemData(ctx, it.ID, it.Data, now); err != nil {
			return err
		}
	}
	return nil
}

// reverseSale adds each line's sold quantity back. Cost is untouched, sales
// never move it. Items deleted since the sale are skipped.
func (s *Service) reverseSale(ctx context.Context, tx TxPort, op Operation, qtyCol schema.ColumnDefinition, now time.Time) error {
	for _, line := range op.Lines {
		it, err := tx.GetItemForUpdate(ctx, op.BusinessID, line.ItemID)
		if err != nil {
			if errors.Is(err, item.ErrItemNotFound) {
				continue
			}
			return err
		}
		it.Data[qtyCol.ID.String()] = intQuantity(it, qtyCol) + line.Quantity
		if err := tx.UpdateItemData(ctx, it.ID, it.Data, now); err != nil {
			return err
		}
	}
	return nil
}

// UndoLog reverses a direct item mutation recorded in the audit timeline:
// deletions are recreated from their snapshot, updates have each changed
// field restored to its old value.
func (s *Service) UndoLog(ctx context.Context, businessID, logID uuid.UUID, actor shared.Actor) (audit.Log, error) {
	resolved, err := s.schemas.Resolve(ctx, businessID)
	if err != nil {
		return audit.Log{}, err
	}

	now := time.Now().UTC()
	var log audit.Log
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		log, err = tx.GetLogForUpdate(ctx, businessID, logID)
		if err != nil {
			return err
		}
		if log.UndoneAt != nil {
			return audit.ErrAlreadyUndone
		}
		if !log.Undoable || !log.Action.Undoable() {
			return audit.ErrNotUndoable
		}

		switch log.Action {
		case audit.ActionItemDeleted:
			if err := s.restoreDeletedItem(ctx, tx, resolved, log, now); err != nil {
				return err
			}
		case audit.ActionItemUpdated:
			if err := s.revertItemUpdate(ctx, tx, log, now); err != nil {
				return err
			}
		default:
			return audit.ErrNotUndoable
		}

		stamped, err := tx.MarkLogUndone(ctx, log.ID, actor.ID, now)
		if err != nil {
			return err
		}
		if !stamped {
			return audit.ErrAlreadyUndone
		}
		log.UndoneAt = &now
		log.UndoneBy = &actor.ID
		return nil
	})
	if err != nil {
		return audit.Log{}, err
	}

	evtType := notify.EventItemUpdated
	if log.Action == audit.ActionItemDeleted {
		evtType = notify.EventItemCreated
	}
	s.sink.Publish(notify.ChangeEvent{
		Type:       evtType,
		BusinessID: businessID,
		ItemID:     log.ItemID,
		ItemName:   log.ItemName,
		LogID:      &log.ID,
		ActorID:    actor.ID,
		At:         now,
	})
	return log, nil
}

// restoreDeletedItem recreates the item from the deletion snapshot. The
// schema may have changed since the deletion; incompatible snapshots refuse
// the undo rather than resurrect data the current schema cannot hold.
func (s *Service) restoreDeletedItem(ctx context.Context, tx TxPort, resolved schema.Schema, log audit.Log, now time.Time) error {
	if log.ItemID == nil || log.Snapshot == nil {
		return fmt.Errorf("%w: deletion log is missing its snapshot", ErrDataIntegrity)
	}
	if err := resolved.ValidateSnapshot(log.Snapshot); err != nil {
		return err
	}
	return tx.InsertItem(ctx, item.Item{
		ID:         *log.ItemID,
		BusinessID: log.BusinessID,
		Data:       log.Snapshot,
		CreatedBy:  log.ActorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// revertItemUpdate restores each changed field to its old value. Fields that
// did not exist before the update are removed again.
func (s *Service) revertItemUpdate(ctx context.Context, tx TxPort, log audit.Log, now time.Time) error {
	if log.ItemID == nil {
		return fmt.Errorf("%w: update log is missing its item id", ErrDataIntegrity)
	}
	it, err := tx.GetItemForUpdate(ctx, log.BusinessID, *log.ItemID)
	if err != nil {
		return err
	}
	for _, change := range log.Changes {
		if change.OldValue == nil {
			delete(it.Data, change.ColumnID)
			continue
		}
		it.Data[change.ColumnID] = change.OldValue
	}
	return tx.UpdateItemData(ctx, it.ID, it.Data, now)
}
