package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ReturnableLine describes what remains returnable for one original sale
// line, carrying the original pricing so refunds reflect what the customer
// actually paid.
type ReturnableLine struct {
	ItemID       uuid.UUID       `json:"itemId"`
	ItemName     string          `json:"itemName"`
	OriginalQty  int64           `json:"originalQty"`
	ReturnedQty  int64           `json:"returnedQty"`
	AvailableQty int64           `json:"availableQty"`
	PricePerItem decimal.Decimal `json:"pricePerItem"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType DiscountType    `json:"discountType,omitempty"`
}

// ReturnableLines computes per-item remaining returnable quantities for a
// sale given the returns recorded against it. Undone returns free their
// quantity again. This single computation backs both the "what can still be
// returned" view and server-side validation in return creation, so the two
// can never drift apart.
func ReturnableLines(sale Operation, returns []Operation) []ReturnableLine {
	returned := make(map[uuid.UUID]int64)
	for _, ret := range returns {
		if ret.Type != OperationReturn || ret.Undone() {
			continue
		}
		for _, line := range ret.Lines {
			returned[line.ItemID] += line.Quantity
		}
	}

	lines := make([]ReturnableLine, 0, len(sale.Lines))
	for _, line := range sale.Lines {
		r := returned[line.ItemID]
		lines = append(lines, ReturnableLine{
			ItemID:       line.ItemID,
			ItemName:     line.ItemName,
			OriginalQty:  line.Quantity,
			ReturnedQty:  r,
			AvailableQty: line.Quantity - r,
			PricePerItem: line.PricePerItem,
			Discount:     line.Discount,
			DiscountType: line.DiscountType,
		})
	}
	return lines
}

// AvailableReturnableLines filters to lines that still have quantity left.
func AvailableReturnableLines(sale Operation, returns []Operation) []ReturnableLine {
	all := ReturnableLines(sale, returns)
	available := all[:0]
	for _, line := range all {
		if line.AvailableQty > 0 {
			available = append(available, line)
		}
	}
	return available
}

// refundForReturn derives the per-line refund from the original sale's price
// and discount. Fixed discounts are prorated evenly across the original
// quantity; percent discounts apply uniformly per unit.
func refundForReturn(line ReturnableLine, quantity int64) decimal.Decimal {
	qty := decimal.NewFromInt(quantity)
	unitPrice := line.PricePerItem
	var unitDiscount decimal.Decimal
	switch line.DiscountType {
	case DiscountPercent:
		unitDiscount = unitPrice.Mul(line.Discount).Div(decimal.NewFromInt(100))
	case DiscountFixed:
		if line.OriginalQty > 0 {
			unitDiscount = line.Discount.Div(decimal.NewFromInt(line.OriginalQty))
		}
	}
	refund := unitPrice.Sub(unitDiscount).Mul(qty)
	if refund.IsNegative() {
		return decimal.Zero
	}
	return refund.Round(2)
}
