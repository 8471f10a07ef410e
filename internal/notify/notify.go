// Package notify emits fire-and-forget change notifications after ledger
// commits. Delivery failures are logged, never propagated: a lost
// notification must not fail or roll back a committed operation.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates published change kinds.
type EventType string

const (
	EventItemCreated       EventType = "itemCreated"
	EventItemUpdated       EventType = "itemUpdated"
	EventItemDeleted       EventType = "itemDeleted"
	EventOperationRecorded EventType = "operationRecorded"
	EventOperationUndone   EventType = "operationUndone"
	EventLogCreated        EventType = "logCreated"
	EventLowStock          EventType = "lowStock"
)

// ChangeEvent describes one committed mutation.
type ChangeEvent struct {
	Type        EventType  `json:"type"`
	BusinessID  uuid.UUID  `json:"businessId"`
	ItemID      *uuid.UUID `json:"itemId,omitempty"`
	ItemName    string     `json:"itemName,omitempty"`
	OperationID *uuid.UUID `json:"operationId,omitempty"`
	LogID       *uuid.UUID `json:"logId,omitempty"`
	ActorID     uuid.UUID  `json:"actorId"`
	At          time.Time  `json:"at"`
}

// Sink receives change events after successful commit.
type Sink interface {
	Publish(evt ChangeEvent)
}

// NoopSink discards all events. Used in tests.
type NoopSink struct{}

// Publish discards the event.
func (NoopSink) Publish(ChangeEvent) {}
