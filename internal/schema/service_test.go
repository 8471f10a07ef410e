package schema

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stocklane/stocklane/internal/audit"
)

type mockStore struct {
	columns  map[uuid.UUID][]ColumnDefinition
	getCalls int
}

func newMockStore() *mockStore {
	return &mockStore{columns: make(map[uuid.UUID][]ColumnDefinition)}
}

func (m *mockStore) GetColumns(ctx context.Context, businessID uuid.UUID) ([]ColumnDefinition, error) {
	m.getCalls++
	return m.columns[businessID], nil
}

func (m *mockStore) ReplaceColumns(ctx context.Context, businessID uuid.UUID, columns []ColumnDefinition, record func(ctx context.Context, q DBTX) error) error {
	if err := record(ctx, nil); err != nil {
		return err
	}
	m.columns[businessID] = columns
	return nil
}

type mockAudit struct {
	logs []audit.Log
}

func (m *mockAudit) Insert(ctx context.Context, q audit.DBTX, log audit.Log) error {
	m.logs = append(m.logs, log)
	return nil
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute)
}

func testColumns(businessID uuid.UUID) []ColumnDefinition {
	return []ColumnDefinition{
		{ID: uuid.New(), BusinessID: businessID, Name: "Name", Type: ColumnTypeText, Role: RoleName},
		{ID: uuid.New(), BusinessID: businessID, Name: "Quantity", Type: ColumnTypeNumber, Role: RoleQuantity},
		{ID: uuid.New(), BusinessID: businessID, Name: "Price", Type: ColumnTypeCurrency, Role: RolePrice},
	}
}

func TestServiceResolve(t *testing.T) {
	ctx := context.Background()
	businessID := uuid.New()

	t.Run("caches columns after first load", func(t *testing.T) {
		store := newMockStore()
		store.columns[businessID] = testColumns(businessID)
		svc := NewService(store, newTestCache(t), &mockAudit{}, nil, nil)

		first, err := svc.Resolve(ctx, businessID)
		require.NoError(t, err)
		_, err = svc.Resolve(ctx, businessID)
		require.NoError(t, err)

		assert.Equal(t, 1, store.getCalls)
		col, err := first.QuantityColumn()
		require.NoError(t, err)
		assert.Equal(t, "Quantity", col.Name)
	})

	t.Run("missing quantity role surfaces on use", func(t *testing.T) {
		store := newMockStore()
		store.columns[businessID] = []ColumnDefinition{
			{ID: uuid.New(), BusinessID: businessID, Name: "Name", Type: ColumnTypeText, Role: RoleName},
		}
		svc := NewService(store, newTestCache(t), &mockAudit{}, nil, nil)

		resolved, err := svc.Resolve(ctx, businessID)
		require.NoError(t, err)
		_, err = resolved.QuantityColumn()
		assert.ErrorIs(t, err, ErrNoQuantityColumn)
		_, err = resolved.PriceColumn()
		assert.ErrorIs(t, err, ErrNoPriceColumn)
	})
}

func TestServiceReplace(t *testing.T) {
	ctx := context.Background()
	businessID := uuid.New()
	actorID := uuid.New()

	t.Run("persists columns and records a log", func(t *testing.T) {
		store := newMockStore()
		auditPort := &mockAudit{}
		svc := NewService(store, newTestCache(t), auditPort, nil, nil)

		resolved, err := svc.Replace(ctx, businessID, []ColumnDefinition{
			{Name: "Name", Type: ColumnTypeText, Role: RoleName},
			{Name: "Quantity", Type: ColumnTypeNumber, Role: RoleQuantity},
		}, actorID)
		require.NoError(t, err)

		col, err := resolved.QuantityColumn()
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, col.ID)
		assert.Equal(t, businessID, col.BusinessID)

		require.Len(t, auditPort.logs, 1)
		assert.Equal(t, audit.ActionSchemaUpdated, auditPort.logs[0].Action)
		assert.False(t, auditPort.logs[0].Undoable)
		assert.ElementsMatch(t, []string{"Name", "Quantity"}, auditPort.logs[0].SchemaChanges["after"])
	})

	t.Run("rejects duplicate roles", func(t *testing.T) {
		store := newMockStore()
		svc := NewService(store, newTestCache(t), &mockAudit{}, nil, nil)

		_, err := svc.Replace(ctx, businessID, []ColumnDefinition{
			{Name: "Qty A", Type: ColumnTypeNumber, Role: RoleQuantity},
			{Name: "Qty B", Type: ColumnTypeNumber, Role: RoleQuantity},
		}, actorID)
		assert.ErrorIs(t, err, ErrDuplicateRole)
		assert.Empty(t, store.columns[businessID])
	})

	t.Run("invalidates the cache", func(t *testing.T) {
		store := newMockStore()
		store.columns[businessID] = testColumns(businessID)
		svc := NewService(store, newTestCache(t), &mockAudit{}, nil, nil)

		_, err := svc.Resolve(ctx, businessID)
		require.NoError(t, err)
		require.Equal(t, 1, store.getCalls)

		_, err = svc.Replace(ctx, businessID, []ColumnDefinition{
			{Name: "Quantity", Type: ColumnTypeNumber, Role: RoleQuantity},
		}, actorID)
		require.NoError(t, err)

		resolved, err := svc.Resolve(ctx, businessID)
		require.NoError(t, err)
		// Replace reads previous columns once, the re-resolve reads again.
		assert.Equal(t, 3, store.getCalls)
		_, ok := resolved.Column(RoleName)
		assert.False(t, ok)
	})
}

func TestValidateSnapshot(t *testing.T) {
	businessID := uuid.New()
	required := ColumnDefinition{ID: uuid.New(), BusinessID: businessID, Name: "Name", Type: ColumnTypeText, Role: RoleName, Required: true}
	qty := ColumnDefinition{ID: uuid.New(), BusinessID: businessID, Name: "Quantity", Type: ColumnTypeNumber, Role: RoleQuantity}
	s, err := Build([]ColumnDefinition{required, qty})
	require.NoError(t, err)

	t.Run("accepts a compatible snapshot", func(t *testing.T) {
		err := s.ValidateSnapshot(map[string]any{
			required.ID.String(): "Widget",
			qty.ID.String():      float64(3),
		})
		assert.NoError(t, err)
	})

	t.Run("missing required column", func(t *testing.T) {
		err := s.ValidateSnapshot(map[string]any{qty.ID.String(): float64(3)})
		assert.ErrorIs(t, err, ErrSnapshotIncompatible)
	})

	t.Run("type drift", func(t *testing.T) {
		err := s.ValidateSnapshot(map[string]any{
			required.ID.String(): "Widget",
			qty.ID.String():      "plenty",
		})
		assert.ErrorIs(t, err, ErrSnapshotIncompatible)
	})
}
