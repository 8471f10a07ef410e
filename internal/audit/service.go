package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RepositoryPort abstracts log persistence for the timeline service.
type RepositoryPort interface {
	List(ctx context.Context, filter TimelineFilter) ([]Log, error)
	Get(ctx context.Context, q DBTX, businessID, id uuid.UUID) (Log, error)
}

// Result wraps timeline rows with paging information.
type Result struct {
	Rows    []Log
	Page    int
	PerPage int
	HasNext bool
}

// Service coordinates audit timeline reads.
type Service struct {
	repo RepositoryPort
	pool DBTX
}

// NewService builds the audit timeline service.
func NewService(repo RepositoryPort, pool DBTX) *Service {
	return &Service{repo: repo, pool: pool}
}

// TimelineQuery filters timeline listings.
type TimelineQuery struct {
	BusinessID uuid.UUID
	Action     Action
	ItemID     *uuid.UUID
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Timeline lists logs newest-first with paging.
func (s *Service) Timeline(ctx context.Context, query TimelineQuery) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	perPage := query.PerPage
	if perPage <= 0 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	page := query.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.List(ctx, TimelineFilter{
		BusinessID: query.BusinessID,
		Action:     query.Action,
		ItemID:     query.ItemID,
		From:       query.From,
		To:         query.To,
		Offset:     (page - 1) * perPage,
		Limit:      perPage + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > perPage
	if hasNext {
		rows = rows[:perPage]
	}
	return Result{Rows: rows, Page: page, PerPage: perPage, HasNext: hasNext}, nil
}

// Get loads one log scoped to the business.
func (s *Service) Get(ctx context.Context, businessID, id uuid.UUID) (Log, error) {
	return s.repo.Get(ctx, s.pool, businessID, id)
}
