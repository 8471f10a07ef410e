package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OperationType enumerates stock-affecting business events.
type OperationType string

const (
	// OperationReceiving records goods arriving from a supplier.
	OperationReceiving OperationType = "RECEIVING"
	// OperationSale records goods sold to a customer.
	OperationSale OperationType = "SALE"
	// OperationReturn records goods coming back against a prior sale.
	// Returns are not undoable; see the undo engine.
	OperationReturn OperationType = "RETURN"
)

// DiscountType describes how a line discount is expressed.
type DiscountType string

const (
	DiscountPercent DiscountType = "percent"
	DiscountFixed   DiscountType = "fixed"
)

// ReturnCondition classifies returned goods. Only resellable lines restock.
type ReturnCondition string

const (
	ConditionResellable ReturnCondition = "resellable"
	ConditionDamaged    ReturnCondition = "damaged"
	ConditionDefective  ReturnCondition = "defective"
)

// Payment is one tender against a sale.
type Payment struct {
	Method string          `json:"method"`
	Amount decimal.Decimal `json:"amount"`
}

// Branding is the receipt branding captured at sale time so receipts can be
// reproduced later even after the business changes its branding.
type Branding struct {
	LogoURL string `json:"logoUrl,omitempty"`
	Header  string `json:"header,omitempty"`
	Footer  string `json:"footer,omitempty"`
}

// OperationLine is one item's movement within an operation. ItemName is a
// point-in-time snapshot; the underlying item may be renamed or deleted later.
type OperationLine struct {
	ItemID      uuid.UUID `json:"itemId"`
	ItemName    string    `json:"itemName"`
	Quantity    int64     `json:"quantity"`
	PreviousQty int64     `json:"previousQty"`
	NewQty      int64     `json:"newQty"`

	// SALE and RETURN lines.
	PricePerItem decimal.Decimal `json:"pricePerItem,omitempty"`
	Discount     decimal.Decimal `json:"discount,omitempty"`
	DiscountType DiscountType    `json:"discountType,omitempty"`
	LineTotal    decimal.Decimal `json:"lineTotal,omitempty"`

	// RECEIVING lines.
	CostPerItem  *float64 `json:"costPerItem,omitempty"`
	PreviousCost *float64 `json:"previousCost,omitempty"`
	NewCost      *float64 `json:"newCost,omitempty"`

	// RETURN lines.
	Condition    ReturnCondition `json:"condition,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	RefundAmount decimal.Decimal `json:"refundAmount,omitempty"`
	Restocked    bool            `json:"restocked,omitempty"`
}

// Operation is the immutable record of one business event. The only
// permitted post-creation mutation is the undo stamp, set at most once.
type Operation struct {
	ID         uuid.UUID       `json:"id"`
	BusinessID uuid.UUID       `json:"businessId"`
	Type       OperationType   `json:"type"`
	Date       time.Time       `json:"date"`
	Lines      []OperationLine `json:"items"`
	TotalQty   int64           `json:"totalQty"`
	ActorID    uuid.UUID       `json:"userId"`
	CreatedAt  time.Time       `json:"createdAt"`
	UndoneAt   *time.Time      `json:"undoneAt,omitempty"`
	UndoneBy   *uuid.UUID      `json:"undoneById,omitempty"`

	// RECEIVING.
	Supplier  string `json:"supplier,omitempty"`
	Reference string `json:"reference,omitempty"`

	// SALE.
	Customer      string          `json:"customer,omitempty"`
	Payments      []Payment       `json:"payments,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal,omitempty"`
	TotalDiscount decimal.Decimal `json:"totalDiscount,omitempty"`
	TaxRate       decimal.Decimal `json:"taxRate,omitempty"`
	TaxAmount     decimal.Decimal `json:"taxAmount,omitempty"`
	GrandTotal    decimal.Decimal `json:"grandTotal,omitempty"`
	Branding      *Branding       `json:"branding,omitempty"`

	// RETURN.
	OriginalSaleID *uuid.UUID `json:"originalSaleId,omitempty"`
	ReturnReason   string     `json:"returnReason,omitempty"`
	RefundMethod   string     `json:"refundMethod,omitempty"`

	RefundTotal decimal.Decimal `json:"refundTotal,omitempty"`
}

// Undone reports whether the operation has been reversed.
func (op Operation) Undone() bool {
	return op.UndoneAt != nil
}
