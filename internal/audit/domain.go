package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Action enumerates recorded mutation kinds.
type Action string

const (
	ActionItemCreated   Action = "ITEM_CREATED"
	ActionItemUpdated   Action = "ITEM_UPDATED"
	ActionItemDeleted   Action = "ITEM_DELETED"
	ActionSchemaUpdated Action = "SCHEMA_UPDATED"
)

// Undoable reports whether logs with this action can be reversed. Creations
// and schema changes are recorded for the timeline only.
func (a Action) Undoable() bool {
	return a == ActionItemUpdated || a == ActionItemDeleted
}

// FieldChange captures one column's before/after values on an item update.
type FieldChange struct {
	ColumnID string `json:"columnId"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}

// Log is an immutable audit entry for a direct item mutation or schema
// change. Deletions carry a full data snapshot, updates a field diff. The
// only permitted post-creation mutation is the undo stamp, set at most once.
type Log struct {
	ID            uuid.UUID      `json:"id"`
	BusinessID    uuid.UUID      `json:"businessId"`
	Action        Action         `json:"action"`
	ItemID        *uuid.UUID     `json:"itemId,omitempty"`
	ItemName      string         `json:"itemName,omitempty"`
	Snapshot      map[string]any `json:"snapshot,omitempty"`
	Changes       []FieldChange  `json:"changes,omitempty"`
	SchemaChanges map[string]any `json:"schemaChanges,omitempty"`
	Undoable      bool           `json:"undoable"`
	ActorID       uuid.UUID      `json:"actorId"`
	CreatedAt     time.Time      `json:"createdAt"`
	UndoneAt      *time.Time     `json:"undoneAt,omitempty"`
	UndoneBy      *uuid.UUID     `json:"undoneById,omitempty"`
}

// ErrLogNotFound indicates an unknown log id for the business.
var ErrLogNotFound = errors.New("audit: log not found")

// ErrAlreadyUndone indicates a second undo attempt on the same record.
var ErrAlreadyUndone = errors.New("audit: log already undone")

// ErrNotUndoable indicates the log's action has no reverse procedure.
var ErrNotUndoable = errors.New("audit: log is not undoable")
