package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyLines indicates an operation request without line items.
	ErrEmptyLines = errors.New("ledger: operation requires at least one line")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be a positive integer")
	// ErrInvalidUnitCost indicates a negative cost per item.
	ErrInvalidUnitCost = errors.New("ledger: cost per item must be >= 0")
	// ErrInvalidDiscount indicates a negative discount or unknown discount type.
	ErrInvalidDiscount = errors.New("ledger: invalid discount")
	// ErrDataIntegrity indicates stored item data violates a ledger
	// precondition, e.g. a negative price.
	ErrDataIntegrity = errors.New("ledger: item data integrity violation")
	// ErrOperationNotFound indicates an unknown operation for the business.
	ErrOperationNotFound = errors.New("ledger: operation not found")
	// ErrSaleNotFound indicates the referenced original sale does not exist
	// in the business.
	ErrSaleNotFound = errors.New("ledger: original sale not found")
	// ErrNotASale indicates the referenced operation is not of type SALE.
	ErrNotASale = errors.New("ledger: referenced operation is not a sale")
	// ErrSaleUndone indicates the referenced sale has been undone and can no
	// longer accept returns.
	ErrSaleUndone = errors.New("ledger: original sale has been undone")
	// ErrItemNotOnSale indicates a return line for an item absent from the
	// original sale.
	ErrItemNotOnSale = errors.New("ledger: item was not part of the original sale")
	// ErrSaleHasReturns indicates an undo attempt on a sale that still has
	// active returns referencing it.
	ErrSaleHasReturns = errors.New("ledger: sale has active returns and cannot be undone")
	// ErrAlreadyUndone indicates a second undo attempt on the same record.
	ErrAlreadyUndone = errors.New("ledger: record already undone")
	// ErrNotUndoable indicates the record has no reverse procedure. RETURN
	// operations are deliberately non-undoable.
	ErrNotUndoable = errors.New("ledger: record is not undoable")
)

// InsufficientStockError reports a sale line requesting more than available.
type InsufficientStockError struct {
	ItemID    uuid.UUID
	ItemName  string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("ledger: insufficient stock for %q: requested %d, available %d",
		e.ItemName, e.Requested, e.Available)
}

// OverReturnError reports a return line exceeding the remaining returnable
// quantity after prior non-undone returns.
type OverReturnError struct {
	ItemID     uuid.UUID
	ItemName   string
	Requested  int64
	Returnable int64
}

func (e *OverReturnError) Error() string {
	return fmt.Sprintf("ledger: over-return for %q: requested %d, returnable %d",
		e.ItemName, e.Requested, e.Returnable)
}

// DiscountExceedsTotalError reports a fixed discount larger than the line's
// gross total.
type DiscountExceedsTotalError struct {
	ItemID   uuid.UUID
	ItemName string
	Discount decimal.Decimal
	Gross    decimal.Decimal
}

func (e *DiscountExceedsTotalError) Error() string {
	return fmt.Sprintf("ledger: discount %s exceeds line total %s for %q",
		e.Discount.StringFixed(2), e.Gross.StringFixed(2), e.ItemName)
}

// FinancialMismatchError reports disagreement between client-submitted and
// server-computed totals beyond one cent. Treated as a tampering signal.
type FinancialMismatchError struct {
	Field  string
	Client decimal.Decimal
	Server decimal.Decimal
}

func (e *FinancialMismatchError) Error() string {
	return fmt.Sprintf("ledger: %s mismatch: client sent %s, server computed %s",
		e.Field, e.Client.StringFixed(2), e.Server.StringFixed(2))
}
