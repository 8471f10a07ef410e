package schema

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ColumnType enumerates supported value types for business-defined columns.
type ColumnType string

const (
	ColumnTypeText     ColumnType = "text"
	ColumnTypeNumber   ColumnType = "number"
	ColumnTypeCurrency ColumnType = "currency"
	ColumnTypeDate     ColumnType = "date"
	ColumnTypeSelect   ColumnType = "select"
)

// Role tags a column with a fixed semantic meaning used by ledger arithmetic.
type Role string

const (
	RoleName        Role = "name"
	RoleQuantity    Role = "quantity"
	RoleMinQuantity Role = "minQuantity"
	RolePrice       Role = "price"
	RoleCost        Role = "cost"
)

// ColumnDefinition describes one business-defined inventory field.
type ColumnDefinition struct {
	ID         uuid.UUID  `json:"id"`
	BusinessID uuid.UUID  `json:"businessId"`
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Role       Role       `json:"role,omitempty"`
	Options    []string   `json:"options,omitempty"`
	Required   bool       `json:"required"`
	Order      int        `json:"order"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// ErrDuplicateRole indicates two columns claim the same role.
var ErrDuplicateRole = errors.New("schema: role assigned to more than one column")

// ErrNoQuantityColumn indicates the business schema has no quantity role,
// which every stock-affecting operation requires.
var ErrNoQuantityColumn = errors.New("schema: no column configured with quantity role")

// ErrNoPriceColumn indicates the business schema has no price role.
var ErrNoPriceColumn = errors.New("schema: no column configured with price role")

// ErrSnapshotIncompatible indicates stored item data no longer fits the
// current schema (a required column was removed or a type changed).
var ErrSnapshotIncompatible = errors.New("schema: snapshot incompatible with current schema")

// Schema is the role-resolved view of one business's column definitions.
// Ledger arithmetic only ever touches role-resolved columns.
type Schema struct {
	columns []ColumnDefinition
	byRole  map[Role]ColumnDefinition
	byID    map[uuid.UUID]ColumnDefinition
}

// Build resolves column definitions into a Schema, enforcing that each role
// is assigned to at most one column.
func Build(columns []ColumnDefinition) (Schema, error) {
	s := Schema{
		columns: columns,
		byRole:  make(map[Role]ColumnDefinition, len(columns)),
		byID:    make(map[uuid.UUID]ColumnDefinition, len(columns)),
	}
	for _, col := range columns {
		if _, dup := s.byID[col.ID]; dup {
			return Schema{}, fmt.Errorf("schema: duplicate column id %s", col.ID)
		}
		s.byID[col.ID] = col
		if col.Role == "" {
			continue
		}
		if existing, dup := s.byRole[col.Role]; dup {
			return Schema{}, fmt.Errorf("%w: %q claimed by %q and %q", ErrDuplicateRole, col.Role, existing.Name, col.Name)
		}
		s.byRole[col.Role] = col
	}
	return s, nil
}

// Columns returns the column definitions in schema order.
func (s Schema) Columns() []ColumnDefinition {
	return s.columns
}

// Column looks up a column by role.
func (s Schema) Column(role Role) (ColumnDefinition, bool) {
	col, ok := s.byRole[role]
	return col, ok
}

// ColumnByID looks up a column by id.
func (s Schema) ColumnByID(id uuid.UUID) (ColumnDefinition, bool) {
	col, ok := s.byID[id]
	return col, ok
}

// QuantityColumn returns the quantity-role column or ErrNoQuantityColumn.
func (s Schema) QuantityColumn() (ColumnDefinition, error) {
	col, ok := s.byRole[RoleQuantity]
	if !ok {
		return ColumnDefinition{}, ErrNoQuantityColumn
	}
	return col, nil
}

// PriceColumn returns the price-role column or ErrNoPriceColumn.
func (s Schema) PriceColumn() (ColumnDefinition, error) {
	col, ok := s.byRole[RolePrice]
	if !ok {
		return ColumnDefinition{}, ErrNoPriceColumn
	}
	return col, nil
}

// ValidateSnapshot checks stored item data against the current schema before
// it is re-inserted, e.g. when undoing a deletion. Required columns must be
// present and typed values must still parse under the column's type.
func (s Schema) ValidateSnapshot(data map[string]any) error {
	for _, col := range s.columns {
		value, present := data[col.ID.String()]
		if !present || value == nil {
			if col.Required {
				return fmt.Errorf("%w: required column %q missing from snapshot", ErrSnapshotIncompatible, col.Name)
			}
			continue
		}
		switch col.Type {
		case ColumnTypeNumber, ColumnTypeCurrency:
			if _, ok := NumberValue(value); !ok {
				return fmt.Errorf("%w: column %q expects a numeric value", ErrSnapshotIncompatible, col.Name)
			}
		case ColumnTypeText, ColumnTypeDate, ColumnTypeSelect:
			if _, ok := value.(string); !ok {
				return fmt.Errorf("%w: column %q expects a string value", ErrSnapshotIncompatible, col.Name)
			}
		}
	}
	return nil
}
