/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Order lifecycle over HTTP (create, add catalog part, complete, balances)
- Error mapping (400 with field, 404, 409)
- Manual movements, summaries and statements
- Text receipts, WhatsApp QR, parts search and metrics
- Health check against the database
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monark/workshop/catalog"
	"github.com/monark/workshop/ledger"
	"github.com/monark/workshop/ledger/store"
	"github.com/monark/workshop/logging"
	"github.com/monark/workshop/receipt"
)

const testCatalog = "ID,DESCRICAO,PRECOVENDA,CODBARRAS\n" +
	"1021,CAMARA DE AR 26,\"35,90\",7891234567890\n" +
	"1022,Pneu aro 26,\"64,10\",NULL\n"

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	parts, err := catalog.Parse(strings.NewReader(testCatalog))
	require.NoError(t, err)

	logger := logging.Discard()
	engine := ledger.NewEngine(store.NewTxMemory(), logger)
	h := NewHandler(engine, parts, receipt.Business{Name: "Bike Shop", Phone: "(11) 3333-4444"}, logger)
	return &testServer{t: t, router: NewRouter(h, nil)}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(s.t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) createMechanic(name string) int64 {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/mechanics", MechanicRequest{Name: name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[MechanicDTO](s.t, rec).ID
}

func (s *testServer) createOrder(mechanicID int64, labor string, percent int) int64 {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/orders", map[string]any{
		"client_name":      "Carlos",
		"client_phone":     "(11) 98765-4321",
		"description":      "Tire change",
		"mechanic_id":      mechanicID,
		"labor_price":      labor,
		"mechanic_percent": percent,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[OrderDTO](s.t, rec).ID
}

// =============================================================================
// ORDER LIFECYCLE
// =============================================================================

func TestCompleteOrder_SettlesWallets(t *testing.T) {
	// GIVEN: An open order with labor 100.00 at 40% and one catalog part
	s := newTestServer(t)
	mech := s.createMechanic("Joao")
	id := s.createOrder(mech, "100.00", 40)

	rec := s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/parts", id), map[string]any{"part_id": "1021", "quantity": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	order := decode[OrderDTO](t, rec)
	require.Len(t, order.Parts, 1)
	assert.Equal(t, "CAMARA DE AR 26", order.Parts[0].Description)
	assert.Equal(t, "71.80", order.PartsValue.String())

	// WHEN: The order is completed
	rec = s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil)

	// THEN: The split is credited to both wallets
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	st := decode[SettlementDTO](t, rec)
	assert.Equal(t, "completed", st.Order.Status)
	assert.Equal(t, "40.00", st.Split.MechanicShare.String())
	assert.Equal(t, "131.80", st.Split.ShopTotalShare.String())
	assert.Len(t, st.Movements, 2)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/wallets/%d", mech), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "40.00", decode[WalletDTO](t, rec).Balance.String())

	rec = s.do(http.MethodGet, "/api/wallets/shop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	wallet := decode[WalletDTO](t, rec)
	assert.Equal(t, "shop", wallet.Owner)
	assert.Equal(t, "131.80", wallet.Balance.String())
}

func TestCompleteOrder_TwiceIsConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "50.00", 50)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil).Code)
	rec := s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = s.do(http.MethodGet, "/api/wallets/shop", nil)
	assert.Equal(t, "25.00", decode[WalletDTO](t, rec).Balance.String())
}

func TestEditCompletedOrder_Resettles(t *testing.T) {
	// GIVEN: A completed order with labor 100.00 at 40%
	s := newTestServer(t)
	mech := s.createMechanic("Joao")
	id := s.createOrder(mech, "100.00", 40)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil).Code)

	// WHEN: The labor price is raised
	rec := s.do(http.MethodPatch, fmt.Sprintf("/api/orders/%d", id), map[string]any{"labor_price": "150.00"})

	// THEN: Balances reflect only the new split
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "completed", decode[OrderDTO](t, rec).Status)

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/wallets/%d", mech), nil)
	assert.Equal(t, "60.00", decode[WalletDTO](t, rec).Balance.String())

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/wallets/%d/movements", mech), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]MovementDTO](t, rec), 3, "credit, reversal, new credit")
}

func TestDeleteCompletedOrder_ReversesBalances(t *testing.T) {
	s := newTestServer(t)
	mech := s.createMechanic("Joao")
	id := s.createOrder(mech, "80.00", 50)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil).Code)

	rec := s.do(http.MethodDelete, fmt.Sprintf("/api/orders/%d", id), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, fmt.Sprintf("/api/orders/%d", id), nil).Code)
	rec = s.do(http.MethodGet, fmt.Sprintf("/api/wallets/%d", mech), nil)
	assert.Equal(t, "0.00", decode[WalletDTO](t, rec).Balance.String())
}

func TestCancelOrder_ThenEditIsConflict(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "80.00", 50)

	rec := s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cancelled", decode[OrderDTO](t, rec).Status)

	rec = s.do(http.MethodPatch, fmt.Sprintf("/api/orders/%d", id), map[string]any{"description": "late"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRemovePart(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "10.00", 50)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/parts", id), map[string]any{"part_id": "1022"}).Code)

	rec := s.do(http.MethodDelete, fmt.Sprintf("/api/orders/%d/parts/1022", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[OrderDTO](t, rec).Parts)

	rec = s.do(http.MethodDelete, fmt.Sprintf("/api/orders/%d/parts/1022", id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListOrders_Filters(t *testing.T) {
	s := newTestServer(t)
	mech := s.createMechanic("Joao")
	first := s.createOrder(mech, "10.00", 50)
	s.createOrder(mech, "20.00", 50)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", first), nil).Code)

	rec := s.do(http.MethodGet, "/api/orders?status=completed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	orders := decode[[]OrderDTO](t, rec)
	require.Len(t, orders, 1)
	assert.Equal(t, first, orders[0].ID)

	rec = s.do(http.MethodGet, "/api/orders?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "status", decode[ErrorResponse](t, rec).Field)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrors_MapToStatus(t *testing.T) {
	s := newTestServer(t)
	mech := s.createMechanic("Joao")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		field  string
	}{
		{"percent out of range", http.MethodPost, "/api/orders",
			map[string]any{"client_name": "Ana", "mechanic_id": mech, "labor_price": "10.00", "mechanic_percent": 120},
			http.StatusBadRequest, "mechanic_percent"},
		{"missing client", http.MethodPost, "/api/orders",
			map[string]any{"client_name": " ", "mechanic_id": mech, "labor_price": "10.00", "mechanic_percent": 10},
			http.StatusBadRequest, "client_name"},
		{"unknown mechanic", http.MethodPost, "/api/orders",
			map[string]any{"client_name": "Ana", "mechanic_id": 999, "labor_price": "10.00", "mechanic_percent": 10},
			http.StatusNotFound, ""},
		{"unknown order", http.MethodGet, "/api/orders/42", nil, http.StatusNotFound, ""},
		{"bad order id", http.MethodGet, "/api/orders/abc", nil, http.StatusBadRequest, "id"},
		{"bad owner", http.MethodGet, "/api/wallets/bank", nil, http.StatusBadRequest, ""},
		{"unknown catalog part", http.MethodPost, "/api/orders/1/parts", map[string]any{"part_id": "777"}, http.StatusNotFound, ""},
		{"unknown field", http.MethodPost, "/api/mechanics", map[string]any{"nome": "x"}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.field != "" {
				assert.Equal(t, tt.field, decode[ErrorResponse](t, rec).Field)
			}
		})
	}
}

// =============================================================================
// WALLETS
// =============================================================================

func TestPostMovement_DepositAndWithdrawal(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/wallets/shop/movements", ManualMovementRequest{Amount: ledger.MustParseAmount("200.00")})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "Deposit", decode[MovementDTO](t, rec).Reason)

	rec = s.do(http.MethodPost, "/api/wallets/shop/movements", ManualMovementRequest{Amount: ledger.MustParseAmount("-50.00")})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decode[ErrorResponse](t, rec).Field)

	rec = s.do(http.MethodPost, "/api/wallets/shop/movements", ManualMovementRequest{Amount: ledger.MustParseAmount("-50.00"), Reason: "Rent"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodPost, "/api/wallets/shop/movements", ManualMovementRequest{Amount: ledger.Zero(), Reason: "noop"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/wallets/shop/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[SummaryDTO](t, rec)
	assert.Equal(t, "200.00", sum.Credits.String())
	assert.Equal(t, "50.00", sum.Debits.String())
	assert.Equal(t, "150.00", sum.Net.String())
	assert.Equal(t, 2, sum.Count)

	rec = s.do(http.MethodGet, "/api/wallets/shop/movements?sign=debits", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	debits := decode[[]MovementDTO](t, rec)
	require.Len(t, debits, 1)
	assert.Equal(t, "Rent", debits[0].Reason)
}

func TestStatement_TextAndPeriodValidation(t *testing.T) {
	s := newTestServer(t)
	mech := s.createMechanic("Joao")
	id := s.createOrder(mech, "100.00", 30)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil).Code)

	rec := s.do(http.MethodGet, fmt.Sprintf("/api/wallets/%d/statement", mech), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "Joao")
	assert.Contains(t, rec.Body.String(), "R$ 30,00")

	rec = s.do(http.MethodGet, "/api/wallets/shop/statement?from=2025-02-01&to=2025-01-01", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/wallets/shop/movements?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "from", decode[ErrorResponse](t, rec).Field)
}

func TestListWallets(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "100.00", 30)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil).Code)

	rec := s.do(http.MethodGet, "/api/wallets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]WalletDTO](t, rec), 2)
}

// =============================================================================
// RECEIPTS, PARTS, METRICS
// =============================================================================

func TestReceipt_Copies(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "100.00", 40)

	rec := s.do(http.MethodGet, fmt.Sprintf("/api/orders/%d/receipt?copy=mechanic", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("SERVICE REPORT - MECHANIC J%d", id))
	assert.Contains(t, rec.Body.String(), "R$ 40,00")

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/orders/%d/receipt", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SERVICE AUTHORIZATION")

	rec = s.do(http.MethodGet, fmt.Sprintf("/api/orders/%d/receipt?copy=boss", id), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWhatsAppQR(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "100.00", 40)

	rec := s.do(http.MethodGet, fmt.Sprintf("/api/orders/%d/whatsapp.png", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestSearchParts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/parts?q=pneu", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	parts := decode[[]catalog.Part](t, rec)
	require.Len(t, parts, 1)
	assert.Equal(t, "1022", parts[0].ID)

	rec = s.do(http.MethodGet, "/api/parts?q=", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestMetrics_CountOperations(t *testing.T) {
	s := newTestServer(t)
	id := s.createOrder(s.createMechanic("Joao"), "100.00", 40)
	s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil)
	s.do(http.MethodPost, fmt.Sprintf("/api/orders/%d/complete", id), nil)

	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `workshop_order_operations_total{operation="complete",result="ok"} 1`)
	assert.Contains(t, body, `workshop_order_operations_total{operation="complete",result="conflict"} 1`)
	assert.Contains(t, body, `workshop_settled_amount_count{party="mechanic"} 1`)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pinger     Pinger
		wantStatus int
		wantBody   string
	}{
		{"no database", nil, http.StatusOK, "ok"},
		{"database up", pingFunc(func(context.Context) error { return nil }), http.StatusOK, "ok"},
		{"database down", pingFunc(func(context.Context) error { return errors.New("database is closed") }), http.StatusServiceUnavailable, "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := logging.Discard()
			h := NewHandler(ledger.NewEngine(store.NewTxMemory(), logger), nil, receipt.Business{}, logger)
			h.Pinger = tt.pinger
			s := &testServer{t: t, router: NewRouter(h, nil)}

			rec := s.do(http.MethodGet, "/healthz", nil)
			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantBody, decode[HealthResponse](t, rec).Status)
		})
	}
}
