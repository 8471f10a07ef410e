package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/shared"
)

func TestUndoOperation(t *testing.T) {
	ctx := context.Background()
	actor := shared.Actor{ID: uuid.New(), Name: "Riley"}

	t.Run("receiving undo restores quantity and cost", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 12.00, 2.00)

		cost := 5.00
		op, err := svc.CreateReceiving(ctx, ReceivingInput{
			BusinessID: businessID,
			Lines:      []ReceivingLineInput{{ItemID: itemID, Quantity: 5, CostPerItem: &cost}},
		})
		require.NoError(t, err)
		require.InDelta(t, 3.00, itemCost(t, store, cols, itemID), 1e-9)

		undone, err := svc.UndoOperation(ctx, businessID, op.ID, actor)
		require.NoError(t, err)
		assert.True(t, undone.Undone())
		assert.Equal(t, actor.ID, *undone.UndoneBy)
		assert.Equal(t, int64(10), itemQty(t, store, cols, itemID))
		assert.InDelta(t, 2.00, itemCost(t, store, cols, itemID), 1e-9)
	})

	t.Run("receiving undo floors quantity at zero", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 0, 12.00, 0)

		op, err := svc.CreateReceiving(ctx, ReceivingInput{
			BusinessID: businessID,
			Lines:      []ReceivingLineInput{{ItemID: itemID, Quantity: 5}},
		})
		require.NoError(t, err)

		// Stock sold down below the received amount before the undo.
		it := store.items[itemID]
		it.Data[cols.qty.String()] = int64(3)
		store.items[itemID] = it

		_, err = svc.UndoOperation(ctx, businessID, op.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, int64(0), itemQty(t, store, cols, itemID))
	})

	t.Run("sale undo restores stock", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		sale, err := svc.CreateSale(ctx, SaleInput{
			BusinessID: businessID,
			Lines:      []SaleLineInput{{ItemID: itemID, Quantity: 3}},
		})
		require.NoError(t, err)
		require.Equal(t, int64(7), itemQty(t, store, cols, itemID))

		_, err = svc.UndoOperation(ctx, businessID, sale.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, int64(10), itemQty(t, store, cols, itemID))
	})

	t.Run("sale with active returns cannot be undone", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		sale, err := svc.CreateSale(ctx, SaleInput{
			BusinessID: businessID,
			Lines:      []SaleLineInput{{ItemID: itemID, Quantity: 5}},
		})
		require.NoError(t, err)
		_, err = svc.CreateReturn(ctx, ReturnInput{
			BusinessID:     businessID,
			OriginalSaleID: sale.ID,
			Lines:          []ReturnLineInput{{ItemID: itemID, Quantity: 1, Condition: ConditionDamaged}},
		})
		require.NoError(t, err)

		_, err = svc.UndoOperation(ctx, businessID, sale.ID, actor)
		assert.ErrorIs(t, err, ErrSaleHasReturns)
	})

	t.Run("returns are not undoable", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		sale, err := svc.CreateSale(ctx, SaleInput{
			BusinessID: businessID,
			Lines:      []SaleLineInput{{ItemID: itemID, Quantity: 5}},
		})
		require.NoError(t, err)
		ret, err := svc.CreateReturn(ctx, ReturnInput{
			BusinessID:     businessID,
			OriginalSaleID: sale.ID,
			Lines:          []ReturnLineInput{{ItemID: itemID, Quantity: 1, Condition: ConditionDamaged}},
		})
		require.NoError(t, err)

		_, err = svc.UndoOperation(ctx, businessID, ret.ID, actor)
		assert.ErrorIs(t, err, ErrNotUndoable)
	})

	t.Run("second undo is refused", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		sale, err := svc.CreateSale(ctx, SaleInput{
			BusinessID: businessID,
			Lines:      []SaleLineInput{{ItemID: itemID, Quantity: 3}},
		})
		require.NoError(t, err)

		_, err = svc.UndoOperation(ctx, businessID, sale.ID, actor)
		require.NoError(t, err)
		_, err = svc.UndoOperation(ctx, businessID, sale.ID, actor)
		assert.ErrorIs(t, err, ErrAlreadyUndone)
		// Stock adjusted exactly once.
		assert.Equal(t, int64(10), itemQty(t, store, cols, itemID))
	})

	t.Run("deleted item is skipped", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		sale, err := svc.CreateSale(ctx, SaleInput{
			BusinessID: businessID,
			Lines:      []SaleLineInput{{ItemID: itemID, Quantity: 3}},
		})
		require.NoError(t, err)
		delete(store.items, itemID)

		undone, err := svc.UndoOperation(ctx, businessID, sale.ID, actor)
		require.NoError(t, err)
		assert.True(t, undone.Undone())
	})
}

func TestUndoLog(t *testing.T) {
	ctx := context.Background()
	actor := shared.Actor{ID: uuid.New(), Name: "Riley"}

	seedLog := func(store *fakeStore, log audit.Log) audit.Log {
		if log.ID == uuid.Nil {
			log.ID = uuid.New()
		}
		if log.CreatedAt.IsZero() {
			log.CreatedAt = time.Now().UTC()
		}
		store.logs[log.ID] = log
		return log
	}

	t.Run("update undo restores old field values", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemUpdated,
			ItemID:     &itemID,
			Changes: []audit.FieldChange{
				{ColumnID: cols.name.String(), OldValue: "Gadget", NewValue: "Widget"},
				{ColumnID: cols.prc.String(), OldValue: 8.00, NewValue: 10.00},
			},
			Undoable: true,
		})

		undone, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		require.NoError(t, err)
		assert.NotNil(t, undone.UndoneAt)

		data := store.items[itemID].Data
		assert.Equal(t, "Gadget", data[cols.name.String()])
		assert.Equal(t, 8.00, data[cols.prc.String()])
		// Untouched fields survive.
		assert.Equal(t, int64(10), itemQty(t, store, cols, itemID))
	})

	t.Run("update undo removes fields that did not exist before", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemUpdated,
			ItemID:     &itemID,
			Changes: []audit.FieldChange{
				{ColumnID: cols.min.String(), OldValue: nil, NewValue: 4},
			},
			Undoable: true,
		})

		_, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		require.NoError(t, err)
		_, present := store.items[itemID].Data[cols.min.String()]
		assert.False(t, present)
	})

	t.Run("deletion undo recreates the item from its snapshot", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := uuid.New()
		snapshot := map[string]any{
			cols.name.String(): "Widget",
			cols.qty.String():  float64(6),
			cols.prc.String():  10.00,
		}
		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemDeleted,
			ItemID:     &itemID,
			Snapshot:   snapshot,
			Undoable:   true,
		})

		_, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		require.NoError(t, err)

		restored, ok := store.items[itemID]
		require.True(t, ok)
		assert.Equal(t, "Widget", restored.Data[cols.name.String()])
		assert.Equal(t, int64(6), itemQty(t, store, cols, itemID))
	})

	t.Run("non-undoable actions are refused", func(t *testing.T) {
		svc, store, _, businessID := newTestService(t)
		itemID := uuid.New()
		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemCreated,
			ItemID:     &itemID,
			Undoable:   false,
		})

		_, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		assert.ErrorIs(t, err, audit.ErrNotUndoable)
	})

	t.Run("second undo is refused", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := seedItem(store, businessID, cols, "Widget", 10, 10.00, 2.00)

		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemUpdated,
			ItemID:     &itemID,
			Changes:    []audit.FieldChange{{ColumnID: cols.prc.String(), OldValue: 9.00, NewValue: 10.00}},
			Undoable:   true,
		})

		_, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		require.NoError(t, err)
		_, err = svc.UndoLog(ctx, businessID, log.ID, actor)
		assert.ErrorIs(t, err, audit.ErrAlreadyUndone)
	})

	t.Run("unknown log", func(t *testing.T) {
		svc, _, _, businessID := newTestService(t)
		_, err := svc.UndoLog(ctx, businessID, uuid.New(), actor)
		assert.ErrorIs(t, err, audit.ErrLogNotFound)
	})

	t.Run("missing item on update undo surfaces not found", func(t *testing.T) {
		svc, store, cols, businessID := newTestService(t)
		itemID := uuid.New()
		log := seedLog(store, audit.Log{
			BusinessID: businessID,
			Action:     audit.ActionItemUpdated,
			ItemID:     &itemID,
			Changes:    []audit.FieldChange{{ColumnID: cols.prc.String(), OldValue: 9.00, NewValue: 10.00}},
			Undoable:   true,
		})
		_, err := svc.UndoLog(ctx, businessID, log.ID, actor)
		assert.ErrorIs(t, err, item.ErrItemNotFound)
	})
}
