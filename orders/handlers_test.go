package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"canteenhub/globals"

	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func call(h httprouter.Handle, method, target, body string, id *globals.Identity, ps httprouter.Params) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if id != nil {
		req = req.WithContext(globals.WithIdentity(req.Context(), *id))
	}
	rec := httptest.NewRecorder()
	h(rec, req, ps)
	return rec
}

type envelope struct {
	Success bool `json:"success"`
	Order   struct {
		ID          string `json:"id"`
		OrderNumber string `json:"orderNumber"`
		Status      string `json:"status"`
		TotalAmount string `json:"totalAmount"`
	} `json:"order"`
	Count int `json:"count"`
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func TestCreateOrderHandler(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)

	body := `{"canteenId":"c1","items":[{"dishId":"d1","quantity":2},{"dishId":"d2","quantity":1}]}`
	rec := call(h.CreateOrder, http.MethodPost, "/api/orders", body, &student, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	env := decode(t, rec)
	assert.True(t, env.Success)
	assert.Equal(t, "pending", env.Order.Status)
	assert.Equal(t, "200", env.Order.TotalAmount)
	assert.True(t, strings.HasPrefix(env.Order.OrderNumber, "ORD-"))
}

func TestHandlersRequireIdentity(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)
	rec := call(h.GetMyOrders, http.MethodGet, "/api/orders/my-orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandlerErrorMapping(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)
	o := place(t, m)
	ps := httprouter.Params{{Key: "id", Value: o.ID}}

	rec := call(h.UpdateOrderStatus, http.MethodPatch, "/", `{"status":"ready"}`, &owner, ps)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "InvalidTransition", decode(t, rec).Error.Kind)

	rec = call(h.UpdateOrderStatus, http.MethodPatch, "/", `{"status":"confirmed"}`, &student, ps)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Unauthorized", decode(t, rec).Error.Kind)

	rec = call(h.GetOrder, http.MethodGet, "/", "", &student, httprouter.Params{{Key: "id", Value: "missing"}})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(h.UpdateOrderStatus, http.MethodPatch, "/", `{not json`, &owner, ps)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(h.RateOrder, http.MethodPost, "/", `{"feedback":"x"}`, &student, ps)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusAndPaymentHandlers(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)
	o := place(t, m)
	ps := httprouter.Params{{Key: "id", Value: o.ID}}

	for _, s := range []string{"confirmed", "preparing", "ready"} {
		rec := call(h.UpdateOrderStatus, http.MethodPatch, "/", `{"status":"`+s+`"}`, &owner, ps)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	rec := call(h.UpdateOrderStatus, http.MethodPatch, "/", `{"status":"completed"}`, &owner, ps)
	assert.Equal(t, "PaymentNotSettled", decode(t, rec).Error.Kind)

	rec = call(h.UpdatePaymentStatus, http.MethodPatch, "/", `{"paymentStatus":"completed"}`, &owner, ps)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(h.UpdateOrderStatus, http.MethodPatch, "/", `{"status":"completed"}`, &owner, ps)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", decode(t, rec).Order.Status)

	rec = call(h.CancelOrder, http.MethodPost, "/", "", &student, ps)
	assert.Equal(t, "NotCancellable", decode(t, rec).Error.Kind)

	rec = call(h.RateOrder, http.MethodPost, "/", `{"rating":5}`, &student, ps)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = call(h.RateOrder, http.MethodPost, "/", `{"rating":4}`, &student, ps)
	assert.Equal(t, "AlreadyRated", decode(t, rec).Error.Kind)
}

func TestListHandlers(t *testing.T) {
	m, _, _ := newTestManager(t)
	h := NewHandlers(m)
	place(t, m)
	place(t, m)

	rec := call(h.GetCanteenOrders, http.MethodGet, "/api/orders/canteen/c1?status=pending", "", &owner,
		httprouter.Params{{Key: "canteenId", Value: "c1"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode(t, rec).Count)

	rec = call(h.GetAllOrders, http.MethodGet, "/api/orders?sortBy=oldest&limit=1", "", &admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(t, rec).Count)

	rec = call(h.GetAllOrders, http.MethodGet, "/api/orders", "", &student, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
