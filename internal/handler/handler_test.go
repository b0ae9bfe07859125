package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/laundry/internal/auth"
	authConfig "github.com/iurnickita/laundry/internal/auth/config"
	"github.com/iurnickita/laundry/internal/handler/config"
	"github.com/iurnickita/laundry/internal/model"
	"github.com/iurnickita/laundry/internal/reconcile"
	"github.com/iurnickita/laundry/internal/service"
	serviceConfig "github.com/iurnickita/laundry/internal/service/config"
	"github.com/iurnickita/laundry/internal/service/gatewayclient"
	"github.com/iurnickita/laundry/internal/store"
	"github.com/iurnickita/laundry/internal/token"
)

const (
	testSecret    = "test-secret"
	testServerKey = "server-key"
)

// gatewayStub emulates the status and Snap endpoints of the payment gateway.
type gatewayStub struct {
	mu     sync.Mutex
	status map[string]string
}

func (g *gatewayStub) set(gatewayOrderID, transactionStatus string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.status[gatewayOrderID] = transactionStatus
}

func (g *gatewayStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/snap/v1/transactions":
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"token":"snap-token","redirect_url":"https://pay.example/snap"}`))
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v2/"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/"), "/status")
		g.mu.Lock()
		status, ok := g.status[id]
		g.mu.Unlock()
		if !ok {
			w.Write([]byte(`{"status_code":"404","status_message":"Transaction doesn't exist."}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status_code":        "200",
			"order_id":           id,
			"transaction_id":     "TX-" + id,
			"transaction_status": status,
			"payment_type":       "bank_transfer",
			"gross_amount":       "21000.00",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type testEnv struct {
	router  http.Handler
	store   *store.MemoryStore
	gateway *gatewayStub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gw := &gatewayStub{status: make(map[string]string)}
	srv := httptest.NewServer(gw)
	t.Cleanup(srv.Close)

	st := store.NewMemoryStore()
	st.PutServiceType(model.ServiceType{Code: "wash_fold", Name: "Wash & Fold", PricePerKg: decimal.RequireFromString("7000")})

	svcCfg := serviceConfig.Config{
		Gateway: serviceConfig.GatewayConfig{
			ServerKey: testServerKey,
			BaseURL:   srv.URL,
			SnapURL:   srv.URL,
			Timeout:   2 * time.Second,
		},
		PollInterval: 30 * time.Second,
	}
	svc, err := service.NewService(svcCfg, st, gatewayclient.NewGatewayClient(svcCfg.Gateway), zap.NewNop())
	require.NoError(t, err)

	a := auth.NewAuth(authConfig.Config{TokenSecret: testSecret}, zap.NewNop())
	h := newHandler(config.Config{WriteTimeout: 5 * time.Second}, a, svc, zap.NewNop())
	return &testEnv{router: h.newRouter(), store: st, gateway: gw}
}

func bearer(t *testing.T, user string, role token.Role) string {
	t.Helper()
	signed, err := token.New(testSecret, user, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + signed
}

func (env *testEnv) do(t *testing.T, method, path, authorization string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	var payload map[string]any
	if rec.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	}
	return rec, payload
}

func (env *testEnv) seed(t *testing.T, customer string, state model.OrderState, gatewayOrderID string) model.Order {
	t.Helper()
	now := time.Now().UTC()
	order := model.Order{
		ID:             uuid.NewString(),
		Number:         "LDY-20261014-" + uuid.NewString()[:4],
		GatewayOrderID: gatewayOrderID,
		State:          state,
		Customer:       model.Customer{ID: customer, Name: "Rina", Phone: "0812"},
		Service:        model.ServiceSelection{ServiceType: "wash_fold"},
		TotalAmount:    decimal.RequireFromString("21000"),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	require.NoError(t, env.store.OrderCreate(context.Background(), order))
	return order
}

func signedWebhook(orderID, status string) map[string]string {
	return map[string]string{
		"order_id":           orderID,
		"transaction_status": status,
		"status_code":        "200",
		"gross_amount":       "21000.00",
		"signature_key":      gatewayclient.Signature(orderID, "200", "21000.00", testServerKey),
	}
}

var (
	statePending = model.OrderState{Status: model.OrderStatusPending, PaymentStatus: model.PaymentStatusPending}
	statePaid    = model.OrderState{Status: model.OrderStatusConfirmed, PaymentStatus: model.PaymentStatusPaid}
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, payload := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", payload["status"])
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t)
	customer := bearer(t, "cust-1", token.RoleCustomer)
	operator := bearer(t, "op-1", token.RoleOperator)

	rec, created := env.do(t, http.MethodPost, "/api/orders", customer, map[string]any{
		"customer":     map[string]string{"name": "Rina", "phone": "0812", "address": "Jl. Melati 3"},
		"service_type": "wash_fold",
		"weight_kg":    3,
		"pickup_date":  "2026-10-15",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Equal(t, "pending", created["status"])
	require.Equal(t, "21000", created["total_amount"])
	orderID := created["id"].(string)

	// оплата еще не начата
	rec, polled := env.do(t, http.MethodPost, "/api/orders/"+orderID+"/check-payment-status", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "not_applicable", polled["outcome"])
	require.Equal(t, false, polled["poll_again"])

	rec, paid := env.do(t, http.MethodPost, "/api/orders/"+orderID+"/pay", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "snap-token", paid["token"])
	gatewayOrderID := paid["order"].(map[string]any)["gateway_order_id"].(string)
	require.Equal(t, created["order_number"], gatewayOrderID)

	rec, polled = env.do(t, http.MethodPost, "/api/orders/"+orderID+"/check-payment-status", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "not_applicable", polled["outcome"])
	require.Equal(t, true, polled["poll_again"])

	env.gateway.set(gatewayOrderID, "settlement")
	rec, polled = env.do(t, http.MethodPost, "/api/orders/"+orderID+"/check-payment-status", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "reconciled", polled["outcome"])
	require.Equal(t, true, polled["applied"])
	require.Equal(t, false, polled["poll_again"])
	require.EqualValues(t, 30, polled["poll_interval_seconds"])
	require.Equal(t, "settlement", polled["gateway"].(map[string]any)["transaction_status"])
	order := polled["order"].(map[string]any)
	require.Equal(t, "confirmed", order["status"])
	require.Equal(t, "paid", order["payment_status"])

	for _, status := range []string{"in_process", "delivered"} {
		rec, moved := env.do(t, http.MethodPost, "/api/admin/orders/"+orderID+"/status", operator, map[string]string{"status": status})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.Equal(t, status, moved["status"])
	}

	rec, done := env.do(t, http.MethodPost, "/api/orders/"+orderID+"/feedback", customer, map[string]any{"rating": 5, "comment": "fresh"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "completed", done["status"])

	rec, tracked := env.do(t, http.MethodGet, "/api/orders/"+orderID+"/tracking", customer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "completed", tracked["effective_status"])
	require.Len(t, tracked["history"], 5)
}

func TestWebhook(t *testing.T) {
	env := newTestEnv(t)
	order := env.seed(t, "cust-1", statePending, "GX1")

	rec, payload := env.do(t, http.MethodPost, "/api/webhook", "", signedWebhook("GX1", "settlement"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "applied", payload["outcome"])
	require.Equal(t, "confirmed", payload["status"])
	require.Equal(t, "paid", payload["payment_status"])

	// запоздавший дубликат не откатывает оплату
	rec, payload = env.do(t, http.MethodPost, "/api/webhook", "", signedWebhook("GX1", "pending"))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, false, payload["applied"])
	require.Equal(t, "paid", payload["payment_status"])

	forged := signedWebhook("GX1", "expire")
	forged["signature_key"] = strings.Repeat("0", 128)
	rec, payload = env.do(t, http.MethodPost, "/api/webhook", "", forged)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "unauthorized", payload["error"])

	stored, err := env.store.OrderFind(context.Background(), model.OrderIdentifier{Kind: model.ByID, Value: order.ID})
	require.NoError(t, err)
	require.Equal(t, statePaid, stored.State)

	rec, _ = env.do(t, http.MethodPost, "/api/webhook", "", signedWebhook("GX-unknown", "settlement"))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/webhook", "", map[string]string{"order_id": "GX1"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookSignatureHeader(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "cust-1", statePending, "GX2")

	body := signedWebhook("GX2", "deny")
	signature := body["signature_key"]
	delete(body, "signature_key")
	raw, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(raw))
	req.Header.Set(headerSignature, signature)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	req = httptest.NewRequest(http.MethodPost, "/api/webhook", bytes.NewReader(raw))
	req.Header.Set(headerSignature, "bad")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	customer := bearer(t, "cust-1", token.RoleCustomer)
	pending := env.seed(t, "cust-1", statePending, "")
	delivered := env.seed(t, "cust-1", model.OrderState{Status: model.OrderStatusDelivered, PaymentStatus: model.PaymentStatusPaid}, "")

	rec, payload := env.do(t, http.MethodPost, "/api/orders/"+pending.ID+"/cancel", customer, map[string]string{"reason": "changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, "pending_cancellation", payload["status"])
	require.Contains(t, payload["notes"], "changed mind")

	rec, payload = env.do(t, http.MethodPost, "/api/orders/"+delivered.ID+"/cancel", customer, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "invalid_state", payload["error"])
	require.Equal(t, "delivered", payload["current_status"])
}

func TestOwnershipAndRoles(t *testing.T) {
	env := newTestEnv(t)
	order := env.seed(t, "cust-1", statePending, "GX3")
	other := bearer(t, "cust-2", token.RoleCustomer)

	rec, _ := env.do(t, http.MethodGet, "/api/orders/"+order.ID, "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/orders/"+order.ID, other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/orders/"+order.ID+"/check-payment-status", other, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/payment/manual-update", other,
		map[string]string{"orderIdentifier": "GX3", "targetStatus": "paid"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec, listed := env.do(t, http.MethodGet, "/api/orders", other, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Nil(t, listed)
	require.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestManualUpdateAndSearch(t *testing.T) {
	env := newTestEnv(t)
	operator := bearer(t, "op-1", token.RoleOperator)
	env.seed(t, "cust-1", statePending, "GX-DUP")
	env.seed(t, "cust-2", statePaid, "GX-DUP")

	rec, payload := env.do(t, http.MethodPost, "/api/payment/manual-update", operator,
		map[string]string{"orderIdentifier": "GX-DUP", "targetStatus": "paid"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.EqualValues(t, 2, payload["matched"])
	require.EqualValues(t, 1, payload["updated"])
	require.EqualValues(t, 1, payload["ignored"])

	rec, payload = env.do(t, http.MethodPost, "/api/payment/manual-update", operator,
		map[string]string{"orderIdentifier": "nothing-here", "targetStatus": "paid"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "not_found", payload["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/admin/orders/search?q=GX-DUP", nil)
	req.Header.Set("Authorization", operator)
	found := httptest.NewRecorder()
	env.router.ServeHTTP(found, req)
	require.Equal(t, http.StatusOK, found.Code)
	var orders []map[string]any
	require.NoError(t, json.Unmarshal(found.Body.Bytes(), &orders))
	require.Len(t, orders, 2)
	for _, order := range orders {
		require.Equal(t, "paid", order["payment_status"])
	}
}

func TestOperatorTransitionRejected(t *testing.T) {
	env := newTestEnv(t)
	operator := bearer(t, "op-1", token.RoleOperator)
	order := env.seed(t, "cust-1", statePaid, "")

	rec, payload := env.do(t, http.MethodPost, "/api/admin/orders/"+order.ID+"/status", operator, map[string]string{"status": "cancelled"})
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "conflict", payload["error"])

	rec, _ = env.do(t, http.MethodPost, "/api/admin/orders/"+order.ID+"/status", operator, map[string]string{"status": "bogus"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedBody(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("{not json"))
	req.Header.Set("Authorization", bearer(t, "cust-1", token.RoleCustomer))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "validation_error")
}

func TestTrackingWarningSurfaced(t *testing.T) {
	order := model.Order{ID: "o-1", State: model.OrderState{Status: model.OrderStatusConfirmed, PaymentStatus: model.PaymentStatusPaid}}
	partial := reconcile.Applied{Order: order, Outcome: reconcile.OutcomeApplied, TrackingErr: errors.New("tracking table unavailable")}

	webhook := webhookJSON(partial)
	require.True(t, webhook.Applied)
	require.NotEmpty(t, webhook.TrackingWarning)

	check := checkPaymentJSON(reconcile.PollResult{Outcome: reconcile.PollReconciled, Applied: partial}, 30*time.Second)
	require.NotEmpty(t, check.TrackingWarning)

	encoded, err := json.Marshal(webhookJSON(reconcile.Applied{Order: order, Outcome: reconcile.OutcomeApplied}))
	require.NoError(t, err)
	require.NotContains(t, string(encoded), "tracking_warning")
}
