package item

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
)

// RepositoryPort abstracts item persistence for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxPort) error) error
	Get(ctx context.Context, businessID, id uuid.UUID) (Item, error)
	List(ctx context.Context, businessID uuid.UUID, offset, limit int) ([]Item, int, error)
}

// SchemaPort resolves the business schema.
type SchemaPort interface {
	Resolve(ctx context.Context, businessID uuid.UUID) (schema.Schema, error)
}

// Service handles direct item mutations outside ledger operations. Every
// mutation records an inventory log in the same transaction so the undo
// engine has data to act on.
type Service struct {
	repo    RepositoryPort
	schemas SchemaPort
	sink    notify.Sink
	logger  *slog.Logger
}

// NewService builds the item service.
func NewService(repo RepositoryPort, schemas SchemaPort, sink notify.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = notify.NoopSink{}
	}
	return &Service{repo: repo, schemas: schemas, sink: sink, logger: logger}
}

// Get loads one item.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (Item, error) {
	return s.repo.Get(ctx, businessID, id)
}

// List returns a page of items with pagination metadata.
func (s *Service) List(ctx context.Context, businessID uuid.UUID, page, perPage int) ([]Item, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	items, total, err := s.repo.List(ctx, businessID, (page-1)*perPage, perPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(page, perPage, total), nil
}

// Create inserts a new item after validating its data against the schema.
func (s *Service) Create(ctx context.Context, businessID uuid.UUID, data map[string]any, actorID uuid.UUID) (Item, error) {
	resolved, err := s.schemas.Resolve(ctx, businessID)
	if err != nil {
		return Item{}, err
	}
	if data == nil {
		data = make(map[string]any)
	}
	if err := resolved.ValidateSnapshot(data); err != nil {
		return Item{}, err
	}

	now := time.Now().UTC()
	it := Item{
		ID:         uuid.New(),
		BusinessID: businessID,
		Data:       data,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	log := audit.Log{
		ID:         uuid.New(),
		BusinessID: businessID,
		Action:     audit.ActionItemCreated,
		ItemID:     &it.ID,
		ItemName:   it.DisplayName(resolved),
		Snapshot:   data,
		Undoable:   false,
		ActorID:    actorID,
		CreatedAt:  now,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		if err := tx.Insert(ctx, it); err != nil {
			return err
		}
		return tx.RecordLog(ctx, log)
	})
	if err != nil {
		return Item{}, err
	}
	s.publish(notify.EventItemCreated, it, log, actorID, now)
	return it, nil
}

// Update applies a partial data change: provided fields replace current
// values, absent fields are untouched. The recorded diff contains only the
// fields that actually changed.
func (s *Service) Update(ctx context.Context, businessID, id uuid.UUID, patch map[string]any, actorID uuid.UUID) (Item, error) {
	resolved, err := s.schemas.Resolve(ctx, businessID)
	if err != nil {
		return Item{}, err
	}
	if len(patch) == 0 {
		return Item{}, fmt.Errorf("item: empty update")
	}

	now := time.Now().UTC()
	var (
		updated Item
		log     audit.Log
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		current, err := tx.GetForUpdate(ctx, businessID, id)
		if err != nil {
			return err
		}
		merged := make(map[string]any, len(current.Data)+len(patch))
		for k, v := range current.Data {
			merged[k] = v
		}
		var changes []audit.FieldChange
		for columnID, newValue := range patch {
			oldValue := current.Data[columnID]
			if equalValue(oldValue, newValue) {
				continue
			}
			changes = append(changes, audit.FieldChange{ColumnID: columnID, OldValue: oldValue, NewValue: newValue})
			if newValue == nil {
				delete(merged, columnID)
			} else {
				merged[columnID] = newValue
			}
		}
		if len(changes) == 0 {
			updated = current
			return nil
		}
		if err := resolved.ValidateSnapshot(merged); err != nil {
			return err
		}
		if err := tx.UpdateData(ctx, id, merged, now); err != nil {
			return err
		}
		updated = current
		updated.Data = merged
		updated.UpdatedAt = now
		log = audit.Log{
			ID:         uuid.New(),
			BusinessID: businessID,
			Action:     audit.ActionItemUpdated,
			ItemID:     &id,
			ItemName:   updated.DisplayName(resolved),
			Changes:    changes,
			Undoable:   true,
			ActorID:    actorID,
			CreatedAt:  now,
		}
		return tx.RecordLog(ctx, log)
	})
	if err != nil {
		return Item{}, err
	}
	if log.ID != uuid.Nil {
		s.publish(notify.EventItemUpdated, updated, log, actorID, now)
	}
	return updated, nil
}

// Delete removes an item, keeping a full snapshot on the log so the deletion
// can be undone.
func (s *Service) Delete(ctx context.Context, businessID, id uuid.UUID, actorID uuid.UUID) error {
	resolved, err := s.schemas.Resolve(ctx, businessID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	var log audit.Log
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
		current, err := tx.GetForUpdate(ctx, businessID, id)
		if err != nil {
			return err
		}
		if err := tx.Delete(ctx, businessID, id); err != nil {
			return err
		}
		log = audit.Log{
			ID:         uuid.New(),
			BusinessID: businessID,
			Action:     audit.ActionItemDeleted,
			ItemID:     &id,
			ItemName:   current.DisplayName(resolved),
			Snapshot:   current.Data,
			Undoable:   true,
			ActorID:    actorID,
			CreatedAt:  now,
		}
		return tx.RecordLog(ctx, log)
	})
	if err != nil {
		return err
	}
	s.publish(notify.EventItemDeleted, Item{ID: id, BusinessID: businessID}, log, actorID, now)
	return nil
}

func (s *Service) publish(event notify.EventType, it Item, log audit.Log, actorID uuid.UUID, at time.Time) {
	s.sink.Publish(notify.ChangeEvent{
		Type:       event,
		BusinessID: it.BusinessID,
		ItemID:     &it.ID,
		ItemName:   log.ItemName,
		ActorID:    actorID,
		At:         at,
	})
	s.sink.Publish(notify.ChangeEvent{
		Type:       notify.EventLogCreated,
		BusinessID: it.BusinessID,
		LogID:      &log.ID,
		ActorID:    actorID,
		At:         at,
	})
}

// equalValue compares schema-less values, treating numeric representations
// of the same number as equal regardless of their decoded Go type.
func equalValue(a, b any) bool {
	if na, aok := schema.NumberValue(a); aok {
		if nb, bok := schema.NumberValue(b); bok {
			return na == nb
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}
