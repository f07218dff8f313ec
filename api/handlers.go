/*
handlers.go - HTTP API handlers for the workshop

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP request/response
  and JSON serialization, and delegates every decision to the ledger.

ENDPOINTS:
  Mechanics:
    GET    /api/mechanics                     List (?all=true includes inactive)
    POST   /api/mechanics                     Create
    GET    /api/mechanics/{id}                Get
    PUT    /api/mechanics/{id}                Update name/phone
    POST   /api/mechanics/{id}/activate       Activate
    POST   /api/mechanics/{id}/deactivate     Deactivate

  Orders:
    GET    /api/orders                        List (?status&client&mechanic_id&from&to)
    POST   /api/orders                        Open an order
    GET    /api/orders/{id}                   Get with split preview
    PATCH  /api/orders/{id}                   Edit (re-settles completed orders)
    DELETE /api/orders/{id}                   Delete (reverses completed orders)
    POST   /api/orders/{id}/complete          Complete and settle
    POST   /api/orders/{id}/cancel            Cancel
    POST   /api/orders/{id}/parts             Add a part line
    DELETE /api/orders/{id}/parts/{partID}    Remove a part line
    GET    /api/orders/{id}/receipt           Text receipt (?copy=client|mechanic|shop)
    GET    /api/orders/{id}/whatsapp.png      QR code for the client's WhatsApp

  Wallets ({owner} is "shop" or a mechanic id):
    GET    /api/wallets                       List
    GET    /api/wallets/{owner}               Balance
    GET    /api/wallets/{owner}/movements     Movements (?from&to&sign)
    POST   /api/wallets/{owner}/movements     Manual deposit or withdrawal
    GET    /api/wallets/{owner}/summary       Credits, debits, net (?from&to)
    GET    /api/wallets/{owner}/statement     Text statement (?from&to)

  Parts:
    GET    /api/parts?q=                      Catalog search

  Health:
    GET    /healthz                           200 when the database answers, 503 otherwise

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input (with the offending field)
  - 404: Order, mechanic, wallet or part not found
  - 409: Invalid status transition, already settled, order closed
  - 500: Internal errors (details are logged, not returned)

SECURITY NOTE:
  No authentication. The API is meant for the shop's local network.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/monark/workshop/catalog"
	"github.com/monark/workshop/ledger"
	"github.com/monark/workshop/receipt"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *ledger.Engine
	Catalog  *catalog.Catalog
	Business receipt.Business
	Logger   *slog.Logger
	Metrics  *Metrics
	Pinger   Pinger // nil reports healthy
}

// NewHandler creates a handler. A nil catalog behaves as an empty one.
func NewHandler(engine *ledger.Engine, parts *catalog.Catalog, biz receipt.Business, logger *slog.Logger) *Handler {
	if parts == nil {
		parts = catalog.Empty()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Engine:   engine,
		Catalog:  parts,
		Business: biz,
		Logger:   logger,
		Metrics:  NewMetrics(),
	}
}

// =============================================================================
// MECHANIC HANDLERS
// =============================================================================

// ListMechanics returns active mechanics, or all with ?all=true.
func (h *Handler) ListMechanics(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	mechanics, err := h.Engine.ListMechanics(r.Context(), all)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]MechanicDTO, len(mechanics))
	for i, m := range mechanics {
		dtos[i] = toMechanicDTO(m)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateMechanic(w http.ResponseWriter, r *http.Request) {
	var req MechanicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.Engine.CreateMechanic(r.Context(), req.Name, req.Phone)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMechanicDTO(*m))
}

func (h *Handler) GetMechanic(w http.ResponseWriter, r *http.Request) {
	id, ok := mechanicIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.Engine.GetMechanic(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMechanicDTO(*m))
}

func (h *Handler) UpdateMechanic(w http.ResponseWriter, r *http.Request) {
	id, ok := mechanicIDParam(w, r)
	if !ok {
		return
	}
	var req MechanicRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.Engine.UpdateMechanic(r.Context(), id, req.Name, req.Phone)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMechanicDTO(*m))
}

func (h *Handler) ActivateMechanic(w http.ResponseWriter, r *http.Request) {
	h.setMechanicActive(w, r, true)
}

func (h *Handler) DeactivateMechanic(w http.ResponseWriter, r *http.Request) {
	h.setMechanicActive(w, r, false)
}

func (h *Handler) setMechanicActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := mechanicIDParam(w, r)
	if !ok {
		return
	}
	m, err := h.Engine.SetMechanicActive(r.Context(), id, active)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMechanicDTO(*m))
}

// =============================================================================
// ORDER HANDLERS
// =============================================================================

// ListOrders returns orders, newest first.
// GET /api/orders?status=open&client=ana&mechanic_id=2&from=2025-01-01&to=2025-01-31
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.OrderFilter{
		Status: ledger.OrderStatus(q.Get("status")),
		Client: q.Get("client"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeFieldError(w, "status", fmt.Errorf("unknown status %q", filter.Status))
		return
	}
	if v := q.Get("mechanic_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeFieldError(w, "mechanic_id", err)
			return
		}
		mid := ledger.MechanicID(id)
		filter.MechanicID = &mid
	}
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	filter.From, filter.To = from, to

	orders, err := h.Engine.ListOrders(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]OrderDTO, len(orders))
	for i, o := range orders {
		dtos[i] = toOrderDTO(o)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	in := ledger.OrderInput{
		ClientName:      req.ClientName,
		ClientPhone:     req.ClientPhone,
		Description:     req.Description,
		LaborPrice:      req.LaborPrice,
		MechanicPercent: req.MechanicPercent,
	}
	if req.MechanicID != nil {
		id := ledger.MechanicID(*req.MechanicID)
		in.MechanicID = &id
	}
	o, err := h.Engine.CreateOrder(r.Context(), in)
	h.Metrics.observeOperation("create", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderDTO(*o))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.Engine.GetOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*o))
}

// EditOrder applies a partial update.
// PATCH /api/orders/{id}
func (h *Handler) EditOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req EditOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	edit := ledger.OrderEdit{
		ClientName:      req.ClientName,
		ClientPhone:     req.ClientPhone,
		Description:     req.Description,
		LaborPrice:      req.LaborPrice,
		MechanicPercent: req.MechanicPercent,
	}
	if req.MechanicID != nil {
		mid := ledger.MechanicID(*req.MechanicID)
		edit.MechanicID = &mid
	}
	if req.Parts != nil {
		lines := make([]ledger.PartLine, 0, len(*req.Parts))
		for _, p := range *req.Parts {
			line, err := h.partLine(p)
			if err != nil {
				h.writeDomainError(w, r, err)
				return
			}
			lines = append(lines, line)
		}
		edit.Parts = &lines
	}

	o, err := h.Engine.Edit(r.Context(), id, edit)
	h.Metrics.observeOperation("edit", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*o))
}

func (h *Handler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	err := h.Engine.Delete(r.Context(), id)
	h.Metrics.observeOperation("delete", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteOrder settles the order.
// POST /api/orders/{id}/complete
func (h *Handler) CompleteOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	st, err := h.Engine.Complete(r.Context(), id)
	h.Metrics.observeOperation("complete", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observeSettlement(st.Split)
	writeJSON(w, http.StatusOK, SettlementDTO{
		Order:     toOrderDTO(st.Order),
		Split:     toSplitDTO(st.Split),
		Movements: toMovementDTOs(st.Movements),
	})
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.Engine.Cancel(r.Context(), id)
	h.Metrics.observeOperation("cancel", err)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*o))
}

// AddPart adds a part line to an open order.
// POST /api/orders/{id}/parts
func (h *Handler) AddPart(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req AddPartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	line, err := h.partLine(req)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	o, err := h.Engine.AddPart(r.Context(), id, line)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*o))
}

func (h *Handler) RemovePart(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.Engine.RemovePart(r.Context(), id, chi.URLParam(r, "partID"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(*o))
}

// partLine completes a request from the catalog when only the part id is given.
func (h *Handler) partLine(req AddPartRequest) (ledger.PartLine, error) {
	if req.Quantity == 0 {
		req.Quantity = 1
	}
	if req.UnitPrice == nil && req.Description == "" {
		p, ok := h.Catalog.ByID(req.PartID)
		if !ok {
			return ledger.PartLine{}, fmt.Errorf("catalog part %q: %w", req.PartID, ledger.ErrPartNotFound)
		}
		return p.Line(req.Quantity), nil
	}
	line := ledger.PartLine{
		PartID:      req.PartID,
		Description: req.Description,
		Barcode:     req.Barcode,
		Quantity:    req.Quantity,
		UnitPrice:   ledger.Zero(),
	}
	if req.UnitPrice != nil {
		line.UnitPrice = *req.UnitPrice
	}
	return line, nil
}

// Receipt renders a plain-text receipt.
// GET /api/orders/{id}/receipt?copy=client|mechanic|shop
func (h *Handler) Receipt(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	copyKind, err := receipt.ParseCopy(r.URL.Query().Get("copy"))
	if err != nil {
		writeFieldError(w, "copy", err)
		return
	}
	snap, err := h.Engine.Snapshot(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := receipt.Order(&buf, h.Business, snap, copyKind); err != nil {
		h.Logger.Error("receipt rendering failed", "order_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render receipt", nil)
		return
	}
	writeText(w, buf.Bytes())
}

// WhatsAppQR returns a PNG QR code linking to the client's WhatsApp.
// GET /api/orders/{id}/whatsapp.png
func (h *Handler) WhatsAppQR(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	o, err := h.Engine.GetOrder(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	if receipt.WhatsAppURL(o.ClientPhone) == "" {
		writeFieldError(w, "client_phone", errors.New("order has no client phone"))
		return
	}
	png, err := receipt.WhatsAppQR(o.ClientPhone, 256)
	if err != nil {
		h.Logger.Error("qr code generation failed", "order_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate QR code", nil)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// =============================================================================
// WALLET HANDLERS
// =============================================================================

func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.Engine.ListWallets(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	dtos := make([]WalletDTO, len(wallets))
	for i, wl := range wallets {
		dtos[i] = toWalletDTO(wl)
	}
	writeJSON(w, http.StatusOK, dtos)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	wl, err := h.Engine.Wallet(r.Context(), owner)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWalletDTO(*wl))
}

// ListMovements returns a wallet's movements in time order.
// GET /api/wallets/{owner}/movements?from=2025-01-01&to=2025-01-31&sign=debits
func (h *Handler) ListMovements(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	sign, err := ledger.ParseSign(r.URL.Query().Get("sign"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	movements, err := h.Engine.Statement(r.Context(), owner, ledger.StatementQuery{From: from, To: to, Sign: sign})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMovementDTOs(movements))
}

// PostMovement records a manual deposit or withdrawal.
// POST /api/wallets/{owner}/movements
func (h *Handler) PostMovement(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	var req ManualMovementRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := h.Engine.PostManual(r.Context(), owner, req.Amount, req.Reason)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.Metrics.observeManual(req.Amount)
	writeJSON(w, http.StatusCreated, toMovementDTOs([]ledger.Movement{*m})[0])
}

func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	sum, err := h.Engine.Summary(r.Context(), owner, from, to)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SummaryDTO{Credits: sum.Credits, Debits: sum.Debits, Net: sum.Net, Count: sum.Count})
}

// Statement renders a plain-text statement for the period.
// GET /api/wallets/{owner}/statement?from=2025-01-01&to=2025-01-31
func (h *Handler) Statement(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerParam(w, r)
	if !ok {
		return
	}
	from, to, ok := periodParams(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	movements, err := h.Engine.Statement(ctx, owner, ledger.StatementQuery{From: from, To: to})
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	label := "Shop"
	if owner.Kind == ledger.OwnerMechanic {
		m, err := h.Engine.GetMechanic(ctx, owner.MechanicID)
		if err != nil {
			h.writeDomainError(w, r, err)
			return
		}
		label = m.Name
	}

	var buf bytes.Buffer
	if err := receipt.Statement(&buf, h.Business, label, from, to, movements, ledger.Summarize(movements)); err != nil {
		h.Logger.Error("statement rendering failed", "owner", owner.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to render statement", nil)
		return
	}
	writeText(w, buf.Bytes())
}

// =============================================================================
// PARTS
// =============================================================================

// SearchParts looks parts up in the catalog.
// GET /api/parts?q=camara
func (h *Handler) SearchParts(w http.ResponseWriter, r *http.Request) {
	parts := h.Catalog.Search(r.URL.Query().Get("q"))
	if parts == nil {
		parts = []catalog.Part{}
	}
	writeJSON(w, http.StatusOK, parts)
}

// =============================================================================
// HEALTH
// =============================================================================

// Health checks the database.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Pinger != nil {
		if err := h.Pinger.Ping(r.Context()); err != nil {
			h.Logger.Error("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) ownerParam(w http.ResponseWriter, r *http.Request) (ledger.Owner, bool) {
	owner, err := ledger.ParseOwner(chi.URLParam(r, "owner"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return ledger.Owner{}, false
	}
	return owner, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (ledger.OrderID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeFieldError(w, "id", fmt.Errorf("invalid order id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return ledger.OrderID(id), true
}

func mechanicIDParam(w http.ResponseWriter, r *http.Request) (ledger.MechanicID, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeFieldError(w, "id", fmt.Errorf("invalid mechanic id %q", chi.URLParam(r, "id")))
		return 0, false
	}
	return ledger.MechanicID(id), true
}

// periodParams reads ?from and ?to as dates (2006-01-02, "to" inclusive of
// the whole day) or RFC3339 timestamps.
func periodParams(w http.ResponseWriter, r *http.Request) (from, to time.Time, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = parseTime(v, false); err != nil {
			writeFieldError(w, "from", err)
			return from, to, false
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseTime(v, true); err != nil {
			writeFieldError(w, "to", err)
			return from, to, false
		}
	}
	return from, to, true
}

func parseTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		return t, nil
	}
	return time.Parse(time.RFC3339, v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeText(w http.ResponseWriter, body []byte) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func writeFieldError(w http.ResponseWriter, field string, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid parameter", Details: err.Error(), Field: field})
}

// writeDomainError maps ledger errors onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ledger.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: verr.Message, Field: verr.Field})
	case ledger.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case ledger.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case ledger.IsConflict(err):
		writeError(w, http.StatusConflict, "Conflict", err)
	default:
		h.Logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "Internal error", nil)
	}
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
