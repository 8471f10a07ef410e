package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stocklane/stocklane/internal/audit"
	"github.com/stocklane/stocklane/internal/item"
	"github.com/stocklane/stocklane/internal/platform/db"
	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/schema"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler wires HTTP endpoints for ledger operations.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	authz    shared.AuthzMiddleware
	validate *validator.Validate
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, service *Service, authz shared.AuthzMiddleware) *Handler {
	return &Handler{logger: logger, service: service, authz: authz, validate: validator.New()}
}

// MountRoutes registers operation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("operations.view"))
		r.Get("/businesses/{businessID}/operations", h.handleList)
		r.Get("/businesses/{businessID}/operations/{operationID}", h.handleGet)
		r.Get("/businesses/{businessID}/sales/{saleID}/returnable", h.handleReturnable)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("operations.record"))
		r.Post("/businesses/{businessID}/operations/receivings", h.handleReceiving)
		r.Post("/businesses/{businessID}/operations/sales", h.handleSale)
		r.Post("/businesses/{businessID}/operations/returns", h.handleReturn)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.authz.Require("operations.undo"))
		r.Post("/businesses/{businessID}/operations/{operationID}/undo", h.handleUndoOperation)
		r.Post("/businesses/{businessID}/logs/{logID}/undo", h.handleUndoLog)
	})
}

type receivingLinePayload struct {
	ItemID      uuid.UUID `json:"itemId" validate:"required"`
	Quantity    int64     `json:"quantity" validate:"required"`
	CostPerItem *float64  `json:"costPerItem"`
}

type receivingPayload struct {
	Items     []receivingLinePayload `json:"items" validate:"required,min=1,dive"`
	Supplier  string                 `json:"supplier"`
	Reference string                 `json:"reference"`
	Date      time.Time              `json:"date"`
}

func (h *Handler) handleReceiving(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	var payload receivingPayload
	if !h.decode(w, r, &payload) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := ReceivingInput{
		BusinessID:     businessID,
		Supplier:       payload.Supplier,
		Reference:      payload.Reference,
		Date:           payload.Date,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range payload.Items {
		input.Lines = append(input.Lines, ReceivingLineInput(line))
	}
	op, err := h.service.CreateReceiving(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

type saleLinePayload struct {
	ItemID       uuid.UUID       `json:"itemId" validate:"required"`
	Quantity     int64           `json:"quantity" validate:"required"`
	Discount     decimal.Decimal `json:"discount"`
	DiscountType DiscountType    `json:"discountType" validate:"omitempty,oneof=percent fixed"`
}

type saleTotalsPayload struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	TotalDiscount decimal.Decimal `json:"totalDiscount"`
	TaxAmount     decimal.Decimal `json:"taxAmount"`
	GrandTotal    decimal.Decimal `json:"grandTotal"`
}

type salePayload struct {
	Items    []saleLinePayload  `json:"items" validate:"required,min=1,dive"`
	Customer string             `json:"customer"`
	Payments []Payment          `json:"payments"`
	TaxRate  decimal.Decimal    `json:"taxRate"`
	Totals   *saleTotalsPayload `json:"totals"`
	Branding *Branding          `json:"branding"`
	Date     time.Time          `json:"date"`
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	var payload salePayload
	if !h.decode(w, r, &payload) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := SaleInput{
		BusinessID:     businessID,
		Customer:       payload.Customer,
		Payments:       payload.Payments,
		TaxRate:        payload.TaxRate,
		Branding:       payload.Branding,
		Date:           payload.Date,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	if payload.Totals != nil {
		totals := SaleTotalsInput(*payload.Totals)
		input.ClientTotals = &totals
	}
	for _, line := range payload.Items {
		input.Lines = append(input.Lines, SaleLineInput(line))
	}
	op, err := h.service.CreateSale(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

type returnLinePayload struct {
	ItemID    uuid.UUID       `json:"itemId" validate:"required"`
	Quantity  int64           `json:"quantity" validate:"required"`
	Condition ReturnCondition `json:"condition" validate:"required,oneof=resellable damaged defective"`
	Reason    string          `json:"reason"`
}

type returnPayload struct {
	OriginalSaleID uuid.UUID           `json:"originalSaleId" validate:"required"`
	Items          []returnLinePayload `json:"items" validate:"required,min=1,dive"`
	ReturnReason   string              `json:"returnReason"`
	RefundMethod   string              `json:"refundMethod"`
	Date           time.Time           `json:"date"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	var payload returnPayload
	if !h.decode(w, r, &payload) {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	input := ReturnInput{
		BusinessID:     businessID,
		OriginalSaleID: payload.OriginalSaleID,
		ReturnReason:   payload.ReturnReason,
		RefundMethod:   payload.RefundMethod,
		Date:           payload.Date,
		ActorID:        actor.ID,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	}
	for _, line := range payload.Items {
		input.Lines = append(input.Lines, ReturnLineInput(line))
	}
	op, err := h.service.CreateReturn(r.Context(), input)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, op)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	opType := OperationType(r.URL.Query().Get("type"))
	switch opType {
	case "", OperationReceiving, OperationSale, OperationReturn:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown operation type")
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("perPage"))
	ops, pagination, err := h.service.ListOperations(r.Context(), businessID, opType, page, perPage)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if ops == nil {
		ops = []Operation{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"operations": ops, "pagination": pagination})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	operationID, ok := parseOpID(w, chi.URLParam(r, "operationID"), "operation")
	if !ok {
		return
	}
	op, err := h.service.GetOperation(r.Context(), businessID, operationID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) handleReturnable(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	saleID, ok := parseOpID(w, chi.URLParam(r, "saleID"), "sale")
	if !ok {
		return
	}
	lines, err := h.service.ComputeReturnable(r.Context(), businessID, saleID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	if lines == nil {
		lines = []ReturnableLine{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": lines})
}

func (h *Handler) handleUndoOperation(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	operationID, ok := parseOpID(w, chi.URLParam(r, "operationID"), "operation")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	op, err := h.service.UndoOperation(r.Context(), businessID, operationID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, op)
}

func (h *Handler) handleUndoLog(w http.ResponseWriter, r *http.Request) {
	businessID, ok := parseOpID(w, chi.URLParam(r, "businessID"), "business")
	if !ok {
		return
	}
	logID, ok := parseOpID(w, chi.URLParam(r, "logID"), "log")
	if !ok {
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	log, err := h.service.UndoLog(r.Context(), businessID, logID, actor)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, log)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, payload any) bool {
	if err := httpx.DecodeJSON(r, payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return false
	}
	if err := h.validate.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var (
		stockErr    *InsufficientStockError
		returnErr   *OverReturnError
		discountErr *DiscountExceedsTotalError
		moneyErr    *FinancialMismatchError
	)
	switch {
	case errors.As(err, &stockErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", err.Error())
	case errors.As(err, &returnErr):
		httpx.Problem(w, http.StatusConflict, "Over Return", err.Error())
	case errors.As(err, &discountErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &moneyErr):
		httpx.Problem(w, http.StatusBadRequest, "Financial Mismatch", err.Error())
	case errors.Is(err, ErrEmptyLines),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidUnitCost),
		errors.Is(err, ErrInvalidDiscount),
		errors.Is(err, ErrNotASale),
		errors.Is(err, ErrItemNotOnSale):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrOperationNotFound),
		errors.Is(err, ErrSaleNotFound),
		errors.Is(err, item.ErrItemNotFound),
		errors.Is(err, audit.ErrLogNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSaleUndone),
		errors.Is(err, ErrSaleHasReturns),
		errors.Is(err, ErrAlreadyUndone),
		errors.Is(err, audit.ErrAlreadyUndone):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNotUndoable), errors.Is(err, audit.ErrNotUndoable):
		httpx.Problem(w, http.StatusConflict, "Not Undoable", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, db.ErrConcurrentModification):
		httpx.Problem(w, http.StatusConflict, "Concurrent Modification", err.Error())
	case errors.Is(err, schema.ErrNoQuantityColumn),
		errors.Is(err, schema.ErrNoPriceColumn),
		errors.Is(err, schema.ErrSnapshotIncompatible):
		httpx.Problem(w, http.StatusBadRequest, "Schema Mismatch", err.Error())
	case errors.Is(err, ErrDataIntegrity):
		httpx.Problem(w, http.StatusConflict, "Data Integrity", err.Error())
	default:
		h.logger.Error("ledger request", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func parseOpID(w http.ResponseWriter, raw, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid "+label+" id")
		return uuid.Nil, false
	}
	return id, true
}
