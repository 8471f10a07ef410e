package schema

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/notify"
)

// StorePort abstracts column persistence for the service.
type StorePort interface {
	GetColumns(ctx context.Context, businessID uuid.UUID) ([]ColumnDefinition, error)
	ReplaceColumns(ctx context.Context, businessID uuid.UUID, columns []ColumnDefinition, record func(ctx context.Context, q DBTX) error) error
}

// AuditPort writes schema-change logs inside the replace transaction.
type AuditPort interface {
	Insert(ctx context.Context, q audit.DBTX, log audit.Log) error
}

// Service resolves business schemas with a cache in front of the store.
type Service struct {
	repo   StorePort
	cache  *Cache
	audit  AuditPort
	sink   notify.Sink
	logger *slog.Logger
	sf     singleflight.Group
}

// NewService builds the schema service.
func NewService(repo StorePort, cache *Cache, auditPort AuditPort, sink notify.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = notify.NoopSink{}
	}
	return &Service{repo: repo, cache: cache, audit: auditPort, sink: sink, logger: logger}
}

// Resolve returns the role-resolved schema for a business. Cache misses are
// collapsed through singleflight so a stampede hits the store once.
func (s *Service) Resolve(ctx context.Context, businessID uuid.UUID) (Schema, error) {
	if columns, ok := s.cache.Get(ctx, businessID); ok {
		return Build(columns)
	}
	v, err, _ := s.sf.Do(businessID.String(), func() (any, error) {
		columns, err := s.repo.GetColumns(ctx, businessID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, businessID, columns); err != nil && s.logger != nil {
			s.logger.Warn("schema cache set", slog.Any("error", err))
		}
		return columns, nil
	})
	if err != nil {
		return Schema{}, err
	}
	return Build(v.([]ColumnDefinition))
}

// Replace swaps the business's column definitions, records a SCHEMA_UPDATED
// log in the same transaction and invalidates the cache.
func (s *Service) Replace(ctx context.Context, businessID uuid.UUID, columns []ColumnDefinition, actorID uuid.UUID) (Schema, error) {
	now := time.Now().UTC()
	for i := range columns {
		if columns[i].ID == uuid.Nil {
			columns[i].ID = uuid.New()
		}
		columns[i].BusinessID = businessID
		if columns[i].CreatedAt.IsZero() {
			columns[i].CreatedAt = now
		}
	}
	resolved, err := Build(columns)
	if err != nil {
		return Schema{}, err
	}

	previous, err := s.repo.GetColumns(ctx, businessID)
	if err != nil {
		return Schema{}, err
	}

	log := audit.Log{
		ID:         uuid.New(),
		BusinessID: businessID,
		Action:     audit.ActionSchemaUpdated,
		SchemaChanges: map[string]any{
			"before": columnNames(previous),
			"after":  columnNames(columns),
		},
		Undoable:  false,
		ActorID:   actorID,
		CreatedAt: now,
	}
	err = s.repo.ReplaceColumns(ctx, businessID, columns, func(ctx context.Context, q DBTX) error {
		return s.audit.Insert(ctx, q, log)
	})
	if err != nil {
		return Schema{}, err
	}

	if err := s.cache.Invalidate(ctx, businessID); err != nil && s.logger != nil {
		s.logger.Warn("schema cache invalidate", slog.Any("error", err))
	}
	s.sink.Publish(notify.ChangeEvent{
		Type:       notify.EventLogCreated,
		BusinessID: businessID,
		LogID:      &log.ID,
		ActorID:    actorID,
		At:         now,
	})
	return resolved, nil
}

func columnNames(columns []ColumnDefinition) []string {
	names := make([]string, 0, len(columns))
	for _, col := range columns {
		names = append(names, col.Name)
	}
	return names
}
