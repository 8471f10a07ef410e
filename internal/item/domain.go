package item

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stocklane/stocklane/internal/schema"
)

// Item is one inventory record. Data is schema-less storage keyed by column
// id; only columns with a recognized role participate in ledger arithmetic.
type Item struct {
	ID         uuid.UUID      `json:"id"`
	BusinessID uuid.UUID      `json:"businessId"`
	Data       map[string]any `json:"data"`
	CreatedBy  uuid.UUID      `json:"createdById"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// ErrItemNotFound indicates the item does not exist in the business.
var ErrItemNotFound = errors.New("item: not found")

// Number reads a numeric column value from the item data, returning 0 for
// absent values.
func (it Item) Number(col schema.ColumnDefinition) (float64, bool) {
	raw, present := it.Data[col.ID.String()]
	if !present || raw == nil {
		return 0, false
	}
	return schema.NumberValue(raw)
}

// RoleNumber reads a numeric value by role through the resolved schema.
func (it Item) RoleNumber(s schema.Schema, role schema.Role) (float64, bool) {
	col, ok := s.Column(role)
	if !ok {
		return 0, false
	}
	return it.Number(col)
}

// DisplayName returns the name-role column value, falling back to the id.
func (it Item) DisplayName(s schema.Schema) string {
	if col, ok := s.Column(schema.RoleName); ok {
		if v, ok := it.Data[col.ID.String()].(string); ok && v != "" {
			return v
		}
	}
	return it.ID.String()
}

// SetNumber writes a numeric value into the item data for the column.
func (it Item) SetNumber(col schema.ColumnDefinition, value float64) {
	it.Data[col.ID.String()] = value
}
