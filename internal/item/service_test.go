package item

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/schema"
)

type mockRepo struct {
	items map[uuid.UUID]Item
	logs  []audit.Log
}

func newMockRepo() *mockRepo {
	return &mockRepo{items: make(map[uuid.UUID]Item)}
}

func (m *mockRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxPort) error) error {
	return fn(ctx, m)
}

func (m *mockRepo) Get(ctx context.Context, businessID, id uuid.UUID) (Item, error) {
	return m.GetForUpdate(ctx, businessID, id)
}

func (m *mockRepo) List(ctx context.Context, businessID uuid.UUID, offset, limit int) ([]Item, int, error) {
	var all []Item
	for _, it := range m.items {
		if it.BusinessID == businessID {
			all = append(all, it)
		}
	}
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *mockRepo) GetForUpdate(ctx context.Context, businessID, id uuid.UUID) (Item, error) {
	it, ok := m.items[id]
	if !ok || it.BusinessID != businessID {
		return Item{}, ErrItemNotFound
	}
	data := make(map[string]any, len(it.Data))
	for k, v := range it.Data {
		data[k] = v
	}
	it.Data = data
	return it, nil
}

func (m *mockRepo) Insert(ctx context.Context, it Item) error {
	m.items[it.ID] = it
	return nil
}

func (m *mockRepo) UpdateData(ctx context.Context, id uuid.UUID, data map[string]any, updatedAt time.Time) error {
	it, ok := m.items[id]
	if !ok {
		return ErrItemNotFound
	}
	it.Data = data
	it.UpdatedAt = updatedAt
	m.items[id] = it
	return nil
}

func (m *mockRepo) Delete(ctx context.Context, businessID, id uuid.UUID) error {
	it, ok := m.items[id]
	if !ok || it.BusinessID != businessID {
		return ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *mockRepo) RecordLog(ctx context.Context, log audit.Log) error {
	m.logs = append(m.logs, log)
	return nil
}

type staticSchema struct {
	s schema.Schema
}

func (s staticSchema) Resolve(ctx context.Context, businessID uuid.UUID) (schema.Schema, error) {
	return s.s, nil
}

type fixture struct {
	svc        *Service
	repo       *mockRepo
	businessID uuid.UUID
	actorID    uuid.UUID
	nameCol    uuid.UUID
	qtyCol     uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	businessID := uuid.New()
	nameCol := uuid.New()
	qtyCol := uuid.New()
	s, err := schema.Build([]schema.ColumnDefinition{
		{ID: nameCol, BusinessID: businessID, Name: "Name", Type: schema.ColumnTypeText, Role: schema.RoleName, Required: true},
		{ID: qtyCol, BusinessID: businessID, Name: "Quantity", Type: schema.ColumnTypeNumber, Role: schema.RoleQuantity},
	})
	require.NoError(t, err)
	repo := newMockRepo()
	return fixture{
		svc:        NewService(repo, staticSchema{s: s}, nil, nil),
		repo:       repo,
		businessID: businessID,
		actorID:    uuid.New(),
		nameCol:    nameCol,
		qtyCol:     qtyCol,
	}
}

func TestServiceCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("inserts item and records a creation log", func(t *testing.T) {
		f := newFixture(t)
		it, err := f.svc.Create(ctx, f.businessID, map[string]any{
			f.nameCol.String(): "Widget",
			f.qtyCol.String():  float64(4),
		}, f.actorID)
		require.NoError(t, err)

		stored, ok := f.repo.items[it.ID]
		require.True(t, ok)
		assert.Equal(t, "Widget", stored.Data[f.nameCol.String()])

		require.Len(t, f.repo.logs, 1)
		log := f.repo.logs[0]
		assert.Equal(t, audit.ActionItemCreated, log.Action)
		assert.Equal(t, "Widget", log.ItemName)
		assert.False(t, log.Undoable)
		assert.NotNil(t, log.Snapshot)
	})

	t.Run("rejects data violating the schema", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, f.businessID, map[string]any{
			f.qtyCol.String(): float64(4),
		}, f.actorID)
		assert.ErrorIs(t, err, schema.ErrSnapshotIncompatible)
		assert.Empty(t, f.repo.items)
		assert.Empty(t, f.repo.logs)
	})
}

func TestServiceUpdate(t *testing.T) {
	ctx := context.Background()

	seed := func(f fixture, qty float64) uuid.UUID {
		id := uuid.New()
		f.repo.items[id] = Item{
			ID:         id,
			BusinessID: f.businessID,
			Data: map[string]any{
				f.nameCol.String(): "Widget",
				f.qtyCol.String():  qty,
			},
		}
		return id
	}

	t.Run("records only changed fields with old values", func(t *testing.T) {
		f := newFixture(t)
		id := seed(f, 4)

		updated, err := f.svc.Update(ctx, f.businessID, id, map[string]any{
			f.nameCol.String(): "Gadget",
			f.qtyCol.String():  float64(4), // unchanged
		}, f.actorID)
		require.NoError(t, err)
		assert.Equal(t, "Gadget", updated.Data[f.nameCol.String()])

		require.Len(t, f.repo.logs, 1)
		log := f.repo.logs[0]
		assert.Equal(t, audit.ActionItemUpdated, log.Action)
		assert.True(t, log.Undoable)
		require.Len(t, log.Changes, 1)
		assert.Equal(t, f.nameCol.String(), log.Changes[0].ColumnID)
		assert.Equal(t, "Widget", log.Changes[0].OldValue)
		assert.Equal(t, "Gadget", log.Changes[0].NewValue)
	})

	t.Run("numerically equal values are not a change", func(t *testing.T) {
		f := newFixture(t)
		id := seed(f, 4)

		_, err := f.svc.Update(ctx, f.businessID, id, map[string]any{
			f.qtyCol.String(): int64(4),
		}, f.actorID)
		require.NoError(t, err)
		assert.Empty(t, f.repo.logs)
	})

	t.Run("merged result must satisfy the schema", func(t *testing.T) {
		f := newFixture(t)
		id := seed(f, 4)

		_, err := f.svc.Update(ctx, f.businessID, id, map[string]any{
			f.qtyCol.String(): "plenty",
		}, f.actorID)
		assert.ErrorIs(t, err, schema.ErrSnapshotIncompatible)
		assert.Empty(t, f.repo.logs)
	})

	t.Run("unknown item", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Update(ctx, f.businessID, uuid.New(), map[string]any{
			f.nameCol.String(): "Gadget",
		}, f.actorID)
		assert.ErrorIs(t, err, ErrItemNotFound)
	})
}

func TestServiceDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	id := uuid.New()
	f.repo.items[id] = Item{
		ID:         id,
		BusinessID: f.businessID,
		Data: map[string]any{
			f.nameCol.String(): "Widget",
			f.qtyCol.String():  float64(4),
		},
	}

	require.NoError(t, f.svc.Delete(ctx, f.businessID, id, f.actorID))
	assert.Empty(t, f.repo.items)

	require.Len(t, f.repo.logs, 1)
	log := f.repo.logs[0]
	assert.Equal(t, audit.ActionItemDeleted, log.Action)
	assert.True(t, log.Undoable)
	assert.Equal(t, "Widget", log.Snapshot[f.nameCol.String()])
}
