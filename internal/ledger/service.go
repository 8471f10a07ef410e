package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/notify"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
)

// SchemaPort resolves the business schema.
type SchemaPort interface {
	Resolve(ctx context.Context, businessID uuid.UUID) (schema.Schema, error)
}

// Service is the ledger's state-transition engine: it validates operation
// requests, computes per-item deltas, mutates items and produces immutable
// operation records, all within one transaction per business event.
type Service struct {
	repo        RepositoryPort
	schemas     SchemaPort
	idempotency *shared.IdempotencyStore
	sink        notify.Sink
	logger      *slog.Logger
	allowNeg    bool
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds the ledger service.
func NewService(repo RepositoryPort, schemas SchemaPort, idem *shared.IdempotencyStore, cfg ServiceConfig, sink notify.Sink, logger *slog.Logger) *Service {
	if sink == nil {
		sink = notify.NoopSink{}
	}
	return &Service{repo: repo, schemas: schemas, idempotency: idem, sink: sink, logger: logger, allowNeg: cfg.AllowNegativeStock}
}

// centTolerance is the allowed drift between client and server totals.
var centTolerance = decimal.New(1, -2)

// ReceivingLineInput is one requested receiving line.
type ReceivingLineInput struct {
	ItemID      uuid.UUID
	Quantity    int64
	CostPerItem *float64
}

// ReceivingInput is a request to record goods received.
type ReceivingInput struct {
	BusinessID     uuid.UUID
	Lines          []ReceivingLineInput
	Supplier       string
	Reference      string
	Date           time.Time
	ActorID        uuid.UUID
	IdempotencyKey string
}

// CreateReceiving applies a RECEIVING operation: quantities increase and,
// when a cost column exists and line costs are supplied, unit cost is
// blended to the new weighted average.
func (s *Service) CreateReceiving(ctx context.Context, input ReceivingInput) (Operation, error) {
	if len(input.Lines) == 0 {
		return Operation{}, ErrEmptyLines
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return Operation{}, ErrInvalidQuantity
		}
		if line.CostPerItem != nil && *line.CostPerItem < 0 {
			return Operation{}, ErrInvalidUnitCost
		}
	}

	resolved, err := s.schemas.Resolve(ctx, input.BusinessID)
	if err != nil {
		return Operation{}, err
	}
	qtyCol, err := resolved.QuantityColumn()
	if err != nil {
		return Operation{}, err
	}
	costCol, hasCost := resolved.Column(schema.RoleCost)

	now := time.Now().UTC()
	op := Operation{
		ID:         uuid.New(),
		BusinessID: input.BusinessID,
		Type:       OperationReceiving,
		Date:       orNow(input.Date, now),
		ActorID:    input.ActorID,
		CreatedAt:  now,
		Supplier:   input.Supplier,
		Reference:  input.Reference,
	}

	err = s.withIdempotency(ctx, input.IdempotencyKey, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
			for _, line := range input.Lines {
				it, err := tx.GetItemForUpdate(ctx, input.BusinessID, line.ItemID)
				if err != nil {
					if errors.Is(err, item.ErrItemNotFound) {
						return fmt.Errorf("%w: item %s", item.ErrItemNotFound, line.ItemID)
					}
					return err
				}
				previousQty := intQuantity(it, qtyCol)
				newQty := previousQty + line.Quantity
				opLine := OperationLine{
					ItemID:      it.ID,
					ItemName:    it.DisplayName(resolved),
					Quantity:    line.Quantity,
					PreviousQty: previousQty,
					NewQty:      newQty,
				}
				it.Data[qtyCol.ID.String()] = newQty
				if hasCost && line.CostPerItem != nil {
					previousCost, _ := it.Number(costCol)
					newCost := BlendCost(previousQty, previousCost, line.Quantity, *line.CostPerItem)
					opLine.CostPerItem = line.CostPerItem
					opLine.PreviousCost = &previousCost
					opLine.NewCost = &newCost
					it.Data[costCol.ID.String()] = newCost
				}
				if err := tx.UpdateItemData(ctx, it.ID, it.Data, now); err != nil {
					return err
				}
				op.Lines = append(op.Lines, opLine)
				op.TotalQty += line.Quantity
			}
			return tx.InsertOperation(ctx, op)
		})
	})
	if err != nil {
		return Operation{}, err
	}
	s.publishOperation(op)
	return op, nil
}

// SaleLineInput is one requested sale line.
type SaleLineInput struct {
	ItemID       uuid.UUID
	Quantity     int64
	Discount     decimal.Decimal
	DiscountType DiscountType
}

// SaleTotalsInput carries the client-computed totals for tamper checking.
type SaleTotalsInput struct {
	Subtotal      decimal.Decimal
	TotalDiscount decimal.Decimal
	TaxAmount     decimal.Decimal
	GrandTotal    decimal.Decimal
}

// SaleInput is a request to record a sale.
type SaleInput struct {
	BusinessID     uuid.UUID
	Lines          []SaleLineInput
	Customer       string
	Payments       []Payment
	TaxRate        decimal.Decimal
	ClientTotals   *SaleTotalsInput
	Branding       *Branding
	Date           time.Time
	ActorID        uuid.UUID
	IdempotencyKey string
}

// CreateSale applies a SALE operation. Quantities decrease; cost is never
// touched by sales. All financials are recomputed server-side and compared
// against the client's totals to within one cent.
func (s *Service) CreateSale(ctx context.Context, input SaleInput) (Operation, error) {
	if len(input.Lines) == 0 {
		return Operation{}, ErrEmptyLines
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return Operation{}, ErrInvalidQuantity
		}
		if line.Discount.IsNegative() {
			return Operation{}, ErrInvalidDiscount
		}
		if line.Discount.IsPositive() && line.DiscountType != DiscountPercent && line.DiscountType != DiscountFixed {
			return Operation{}, fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, line.DiscountType)
		}
	}
	if input.TaxRate.IsNegative() {
		return Operation{}, fmt.Errorf("%w: negative tax rate", ErrInvalidDiscount)
	}

	resolved, err := s.schemas.Resolve(ctx, input.BusinessID)
	if err != nil {
		return Operation{}, err
	}
	qtyCol, err := resolved.QuantityColumn()
	if err != nil {
		return Operation{}, err
	}
	priceCol, err := resolved.PriceColumn()
	if err != nil {
		return Operation{}, err
	}

	now := time.Now().UTC()
	op := Operation{
		ID:         uuid.New(),
		BusinessID: input.BusinessID,
		Type:       OperationSale,
		Date:       orNow(input.Date, now),
		ActorID:    input.ActorID,
		CreatedAt:  now,
		Customer:   input.Customer,
		Payments:   input.Payments,
		TaxRate:    input.TaxRate,
		Branding:   input.Branding,
	}

	err = s.withIdempotency(ctx, input.IdempotencyKey, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
			subtotal := decimal.Zero
			totalDiscount := decimal.Zero
			for _, line := range input.Lines {
				it, err := tx.GetItemForUpdate(ctx, input.BusinessID, line.ItemID)
				if err != nil {
					if errors.Is(err, item.ErrItemNotFound) {
						return fmt.Errorf("%w: item %s", item.ErrItemNotFound, line.ItemID)
					}
					return err
				}
				name := it.DisplayName(resolved)
				available := intQuantity(it, qtyCol)
				if !s.allowNeg && available < line.Quantity {
					return &InsufficientStockError{
						ItemID:    it.ID,
						ItemName:  name,
						Requested: line.Quantity,
						Available: available,
					}
				}
				price, _ := it.Number(priceCol)
				if price < 0 {
					return fmt.Errorf("%w: negative price on %q", ErrDataIntegrity, name)
				}

				gross := decimal.NewFromFloat(price).Mul(decimal.NewFromInt(line.Quantity))
				discountAmount, err := discountFor(line, gross, it.ID, name)
				if err != nil {
					return err
				}
				lineTotal := gross.Sub(discountAmount).Round(2)
				if lineTotal.IsNegative() {
					lineTotal = decimal.Zero
				}

				newQty := available - line.Quantity
				it.Data[qtyCol.ID.String()] = newQty
				if err := tx.UpdateItemData(ctx, it.ID, it.Data, now); err != nil {
					return err
				}

				op.Lines = append(op.Lines, OperationLine{
					ItemID:       it.ID,
					ItemName:     name,
					Quantity:     line.Quantity,
					PreviousQty:  available,
					NewQty:       newQty,
					PricePerItem: decimal.NewFromFloat(price),
					Discount:     line.Discount,
					DiscountType: line.DiscountType,
					LineTotal:    lineTotal,
				})
				op.TotalQty += line.Quantity
				subtotal = subtotal.Add(gross)
				totalDiscount = totalDiscount.Add(discountAmount)
			}

			op.Subtotal = subtotal.Round(2)
			op.TotalDiscount = totalDiscount.Round(2)
			taxable := op.Subtotal.Sub(op.TotalDiscount)
			op.TaxAmount = taxable.Mul(input.TaxRate).Div(decimal.NewFromInt(100)).Round(2)
			op.GrandTotal = taxable.Add(op.TaxAmount).Round(2)

			if err := verifyClientTotals(input.ClientTotals, op); err != nil {
				return err
			}
			return tx.InsertOperation(ctx, op)
		})
	})
	if err != nil {
		return Operation{}, err
	}
	s.publishOperation(op)
	return op, nil
}

// ReturnLineInput is one requested return line.
type ReturnLineInput struct {
	ItemID    uuid.UUID
	Quantity  int64
	Condition ReturnCondition
	Reason    string
}

// ReturnInput is a request to record a return against a prior sale.
type ReturnInput struct {
	BusinessID     uuid.UUID
	OriginalSaleID uuid.UUID
	Lines          []ReturnLineInput
	ReturnReason   string
	RefundMethod   string
	Date           time.Time
	ActorID        uuid.UUID
	IdempotencyKey string
}

// CreateReturn applies a RETURN operation against an earlier sale. Refunds
// derive from the original sale's pricing, never from current item prices.
// Only resellable lines restock; if the item was deleted since the sale the
// refund is still recorded and restocking is skipped.
func (s *Service) CreateReturn(ctx context.Context, input ReturnInput) (Operation, error) {
	if len(input.Lines) == 0 {
		return Operation{}, ErrEmptyLines
	}
	for _, line := range input.Lines {
		if line.Quantity <= 0 {
			return Operation{}, ErrInvalidQuantity
		}
		switch line.Condition {
		case ConditionResellable, ConditionDamaged, ConditionDefective:
		default:
			return Operation{}, fmt.Errorf("ledger: unknown return condition %q", line.Condition)
		}
	}

	resolved, err := s.schemas.Resolve(ctx, input.BusinessID)
	if err != nil {
		return Operation{}, err
	}
	qtyCol, err := resolved.QuantityColumn()
	if err != nil {
		return Operation{}, err
	}

	now := time.Now().UTC()
	op := Operation{
		ID:             uuid.New(),
		BusinessID:     input.BusinessID,
		Type:           OperationReturn,
		Date:           orNow(input.Date, now),
		ActorID:        input.ActorID,
		CreatedAt:      now,
		OriginalSaleID: &input.OriginalSaleID,
		ReturnReason:   input.ReturnReason,
		RefundMethod:   input.RefundMethod,
	}

	err = s.withIdempotency(ctx, input.IdempotencyKey, func() error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxPort) error {
			// Locking the sale row serializes concurrent returns against it,
			// so two requests cannot both pass the over-return check.
			sale, err := tx.GetOperationForUpdate(ctx, input.BusinessID, input.OriginalSaleID)
			if err != nil {
				if errors.Is(err, ErrOperationNotFound) {
					return ErrSaleNotFound
				}
				return err
			}
			if sale.Type != OperationSale {
				return ErrNotASale
			}
			if sale.Undone() {
				return ErrSaleUndone
			}
			priorReturns, err := tx.ListReturnsForSale(ctx, sale.ID)
			if err != nil {
				return err
			}
			returnable := make(map[uuid.UUID]ReturnableLine)
			for _, line := range ReturnableLines(sale, priorReturns) {
				returnable[line.ItemID] = line
			}

			refundTotal := decimal.Zero
			for _, line := range input.Lines {
				entry, ok := returnable[line.ItemID]
				if !ok {
					return fmt.Errorf("%w: item %s", ErrItemNotOnSale, line.ItemID)
				}
				if line.Quantity > entry.AvailableQty {
					return &OverReturnError{
						ItemID:     entry.ItemID,
						ItemName:   entry.ItemName,
						Requested:  line.Quantity,
						Returnable: entry.AvailableQty,
					}
				}
				refund := refundForReturn(entry, line.Quantity)

				opLine := OperationLine{
					ItemID:       entry.ItemID,
					ItemName:     entry.ItemName,
					Quantity:     line.Quantity,
					PricePerItem: entry.PricePerItem,
					Discount:     entry.Discount,
					DiscountType: entry.DiscountType,
					Condition:    line.Condition,
					Reason:       line.Reason,
					RefundAmount: refund,
				}
				if line.Condition == ConditionResellable {
					it, err := tx.GetItemForUpdate(ctx, input.BusinessID, line.ItemID)
					switch {
					case err == nil:
						previousQty := intQuantity(it, qtyCol)
						newQty := previousQty + line.Quantity
						it.Data[qtyCol.ID.String()] = newQty
						if err := tx.UpdateItemData(ctx, it.ID, it.Data, now); err != nil {
							return err
						}
						opLine.PreviousQty = previousQty
						opLine.NewQty = newQty
						opLine.Restocked = true
					case errors.Is(err, item.ErrItemNotFound):
						// Item deleted since the sale: refund stands,
						// restocking is skipped.
					default:
						return err
					}
				}
				op.Lines = append(op.Lines, opLine)
				op.TotalQty += line.Quantity
				refundTotal = refundTotal.Add(refund)
			}
			op.RefundTotal = refundTotal.Round(2)
			return tx.InsertOperation(ctx, op)
		})
	})
	if err != nil {
		return Operation{}, err
	}
	s.publishOperation(op)
	return op, nil
}

// ComputeReturnable reports what remains returnable per line of a sale.
func (s *Service) ComputeReturnable(ctx context.Context, businessID, saleID uuid.UUID) ([]ReturnableLine, error) {
	sale, err := s.repo.GetOperation(ctx, businessID, saleID)
	if err != nil {
		if errors.Is(err, ErrOperationNotFound) {
			return nil, ErrSaleNotFound
		}
		return nil, err
	}
	if sale.Type != OperationSale {
		return nil, ErrNotASale
	}
	if sale.Undone() {
		return nil, ErrSaleUndone
	}
	returns, err := s.repo.ListReturnsForSale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return AvailableReturnableLines(sale, returns), nil
}

// GetOperation loads one operation.
func (s *Service) GetOperation(ctx context.Context, businessID, id uuid.UUID) (Operation, error) {
	return s.repo.GetOperation(ctx, businessID, id)
}

// ListOperations returns a page of operations with pagination metadata.
func (s *Service) ListOperations(ctx context.Context, businessID uuid.UUID, opType OperationType, page, perPage int) ([]Operation, shared.Pagination, error) {
	if perPage <= 0 {
		perPage = 20
	}
	if page <= 0 {
		page = 1
	}
	ops, total, err := s.repo.ListOperations(ctx, OperationFilter{
		BusinessID: businessID,
		Type:       opType,
		Offset:     (page - 1) * perPage,
		Limit:      perPage,
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return ops, shared.NewPagination(page, perPage, total), nil
}

func discountFor(line SaleLineInput, gross decimal.Decimal, itemID uuid.UUID, name string) (decimal.Decimal, error) {
	if line.Discount.IsZero() {
		return decimal.Zero, nil
	}
	switch line.DiscountType {
	case DiscountPercent:
		return gross.Mul(line.Discount).Div(decimal.NewFromInt(100)), nil
	case DiscountFixed:
		if line.Discount.GreaterThan(gross) {
			return decimal.Zero, &DiscountExceedsTotalError{
				ItemID:   itemID,
				ItemName: name,
				Discount: line.Discount,
				Gross:    gross,
			}
		}
		return line.Discount, nil
	default:
		return decimal.Zero, fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, line.DiscountType)
	}
}

func verifyClientTotals(client *SaleTotalsInput, op Operation) error {
	if client == nil {
		return nil
	}
	checks := []struct {
		field  string
		client decimal.Decimal
		server decimal.Decimal
	}{
		{"subtotal", client.Subtotal, op.Subtotal},
		{"totalDiscount", client.TotalDiscount, op.TotalDiscount},
		{"taxAmount", client.TaxAmount, op.TaxAmount},
		{"grandTotal", client.GrandTotal, op.GrandTotal},
	}
	for _, c := range checks {
		if c.client.Sub(c.server).Abs().GreaterThan(centTolerance) {
			return &FinancialMismatchError{Field: c.field, Client: c.client, Server: c.server}
		}
	}
	return nil
}

func (s *Service) withIdempotency(ctx context.Context, key string, fn func() error) error {
	inserted := false
	if key != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "ledger"); err != nil {
			return err
		}
		inserted = true
	}
	if err := fn(); err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	return nil
}

func (s *Service) publishOperation(op Operation) {
	s.sink.Publish(notify.ChangeEvent{
		Type:        notify.EventOperationRecorded,
		BusinessID:  op.BusinessID,
		OperationID: &op.ID,
		ActorID:     op.ActorID,
		At:          op.CreatedAt,
	})
}

// intQuantity reads the quantity column as an integer count.
func intQuantity(it item.Item, qtyCol schema.ColumnDefinition) int64 {
	v, ok := it.Number(qtyCol)
	if !ok {
		return 0
	}
	return int64(math.Round(v))
}

func orNow(t, now time.Time) time.Time {
	if t.IsZero() {
		return now
	}
	return t
}
