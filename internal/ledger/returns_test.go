package ledger

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saleWith(lines ...OperationLine) Operation {
	return Operation{
		ID:    uuid.New(),
		Type:  OperationSale,
		Lines: lines,
	}
}

func returnAgainst(sale Operation, itemID uuid.UUID, qty int64) Operation {
	return Operation{
		ID:             uuid.New(),
		Type:           OperationReturn,
		OriginalSaleID: &sale.ID,
		Lines:          []OperationLine{{ItemID: itemID, Quantity: qty}},
	}
}

func TestReturnableLines(t *testing.T) {
	itemID := uuid.New()
	sale := saleWith(OperationLine{
		ItemID:       itemID,
		ItemName:     "Widget",
		Quantity:     5,
		PricePerItem: decimal.NewFromInt(10),
	})

	t.Run("no prior returns", func(t *testing.T) {
		lines := ReturnableLines(sale, nil)
		require.Len(t, lines, 1)
		assert.Equal(t, int64(5), lines[0].AvailableQty)
		assert.Equal(t, int64(0), lines[0].ReturnedQty)
	})

	t.Run("prior returns reduce availability", func(t *testing.T) {
		lines := ReturnableLines(sale, []Operation{returnAgainst(sale, itemID, 2)})
		require.Len(t, lines, 1)
		assert.Equal(t, int64(3), lines[0].AvailableQty)
		assert.Equal(t, int64(2), lines[0].ReturnedQty)
	})

	t.Run("undone returns free their quantity", func(t *testing.T) {
		undone := returnAgainst(sale, itemID, 2)
		at := time.Now()
		undone.UndoneAt = &at
		lines := ReturnableLines(sale, []Operation{undone})
		require.Len(t, lines, 1)
		assert.Equal(t, int64(5), lines[0].AvailableQty)
	})

	t.Run("order of returns does not matter", func(t *testing.T) {
		a := returnAgainst(sale, itemID, 2)
		b := returnAgainst(sale, itemID, 1)
		forward := ReturnableLines(sale, []Operation{a, b})
		backward := ReturnableLines(sale, []Operation{b, a})
		assert.Equal(t, forward, backward)
		assert.Equal(t, int64(2), forward[0].AvailableQty)
	})
}

func TestAvailableReturnableLines(t *testing.T) {
	itemID := uuid.New()
	sale := saleWith(OperationLine{ItemID: itemID, Quantity: 2})
	lines := AvailableReturnableLines(sale, []Operation{returnAgainst(sale, itemID, 2)})
	assert.Empty(t, lines)
}

func TestRefundForReturn(t *testing.T) {
	t.Run("percent discount applies per unit", func(t *testing.T) {
		line := ReturnableLine{
			OriginalQty:  5,
			PricePerItem: decimal.NewFromInt(10),
			Discount:     decimal.NewFromInt(10),
			DiscountType: DiscountPercent,
		}
		// (10 - 1.00) * 2 = 18.00
		assert.True(t, refundForReturn(line, 2).Equal(decimal.NewFromFloat(18.00)))
	})

	t.Run("fixed discount prorates across the original quantity", func(t *testing.T) {
		line := ReturnableLine{
			OriginalQty:  5,
			PricePerItem: decimal.NewFromInt(10),
			Discount:     decimal.NewFromInt(5),
			DiscountType: DiscountFixed,
		}
		// unit discount 1.00 -> (10 - 1.00) * 2 = 18.00
		assert.True(t, refundForReturn(line, 2).Equal(decimal.NewFromFloat(18.00)))
	})

	t.Run("no discount refunds the full price", func(t *testing.T) {
		line := ReturnableLine{
			OriginalQty:  3,
			PricePerItem: decimal.NewFromFloat(4.50),
		}
		assert.True(t, refundForReturn(line, 3).Equal(decimal.NewFromFloat(13.50)))
	})

	t.Run("refund never goes negative", func(t *testing.T) {
		line := ReturnableLine{
			OriginalQty:  1,
			PricePerItem: decimal.NewFromInt(1),
			Discount:     decimal.NewFromInt(200),
			DiscountType: DiscountPercent,
		}
		assert.True(t, refundForReturn(line, 1).IsZero())
	})
}
