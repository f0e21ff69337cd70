package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCheckout struct {
	result *service.CheckoutResult
	err    error
	gotReq *service.CheckoutRequest
}

func (f *fakeCheckout) Checkout(ctx context.Context, req *service.CheckoutRequest) (*service.CheckoutResult, error) {
	f.gotReq = req
	return f.result, f.err
}

type fakeOrders struct {
	detail      *service.OrderDetail
	getErr      error
	orders      []models.Order
	total       int
	listErr     error
	cancelOrder *models.Order
	cancelErr   error
	advOrder    *models.Order
	advErr      error
	gotStatus   string
}

func (f *fakeOrders) GetOrder(ctx context.Context, orderID, actorUserID int64, admin bool) (*service.OrderDetail, error) {
	return f.detail, f.getErr
}

func (f *fakeOrders) ListOrders(ctx context.Context, userID int64, status string, limit, offset int) ([]models.Order, int, error) {
	return f.orders, f.total, f.listErr
}

func (f *fakeOrders) Cancel(ctx context.Context, orderID, actorUserID int64, admin bool) (*models.Order, error) {
	return f.cancelOrder, f.cancelErr
}

func (f *fakeOrders) AdvanceStatus(ctx context.Context, orderID int64, newStatus string) (*models.Order, error) {
	f.gotStatus = newStatus
	return f.advOrder, f.advErr
}

func testRouter(checkout CheckoutService, orders OrderService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewHandler(checkout, orders).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func userHeaders() map[string]string {
	return map[string]string{"X-User-ID": "42"}
}

func adminHeaders() map[string]string {
	return map[string]string{"X-User-ID": "1", "X-User-Role": "admin"}
}

const checkoutBody = `{
	"shipping_address": "1 Main St",
	"payment": {
		"method": "card",
		"card_number": "4532015112830366",
		"expiry_month": 12,
		"expiry_year": 2027,
		"cvv": "123"
	}
}`

func TestIdentityRequired(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodGet, "/api/v1/orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/orders", "", map[string]string{"X-User-ID": "abc"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/orders", "", map[string]string{"X-User-ID": "-5"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckoutCreated(t *testing.T) {
	checkout := &fakeCheckout{
		result: &service.CheckoutResult{
			Order:      &models.Order{ID: 7, UserID: 42, TotalAmount: 2500, Status: models.OrderStatusPending},
			PaymentRef: "AUTH-TEST0001",
		},
	}
	router := testRouter(checkout, &fakeOrders{})

	w := doRequest(router, http.MethodPost, "/api/v1/checkout", checkoutBody, userHeaders())
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(7), resp["order_id"])
	assert.Equal(t, float64(2500), resp["total_amount"])
	assert.Equal(t, "AUTH-TEST0001", resp["payment_reference"])

	require.NotNil(t, checkout.gotReq)
	assert.Equal(t, int64(42), checkout.gotReq.UserID)
	assert.Equal(t, "4532015112830366", checkout.gotReq.Payment.Number)
}

func TestCheckoutRejectsMalformedBody(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodPost, "/api/v1/checkout", `{"shipping_address": ""}`, userHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutErrorMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantKind string
	}{
		{"empty cart", service.ErrEmptyCart, http.StatusBadRequest, "empty_cart"},
		{"validation", &service.ValidationError{Field: "cvv", Reason: "must be 3-4 digits"}, http.StatusBadRequest, "validation"},
		{"insufficient stock", &service.InsufficientStockError{Products: []string{"Widget B"}}, http.StatusBadRequest, "insufficient_stock"},
		{"declined", &service.PaymentDeclinedError{Reason: "card_declined"}, http.StatusBadRequest, "payment_declined"},
		{"commit failure", &service.PostPaymentCommitError{RecoveryID: "rec-1", PaymentRef: "AUTH-X"}, http.StatusInternalServerError, "post_payment_commit_failure"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := testRouter(&fakeCheckout{err: tc.err}, &fakeOrders{})

			w := doRequest(router, http.MethodPost, "/api/v1/checkout", checkoutBody, userHeaders())
			assert.Equal(t, tc.wantCode, w.Code)

			var resp map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantKind, resp["kind"])
		})
	}
}

func TestCheckoutCommitFailureExposesRecoveryRef(t *testing.T) {
	checkout := &fakeCheckout{err: &service.PostPaymentCommitError{RecoveryID: "rec-1", PaymentRef: "AUTH-X"}}
	router := testRouter(checkout, &fakeOrders{})

	w := doRequest(router, http.MethodPost, "/api/v1/checkout", checkoutBody, userHeaders())
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "rec-1", resp["recovery_id"])
	assert.Equal(t, "AUTH-X", resp["payment_reference"])
}

func TestGetOrderMasksOwnership(t *testing.T) {
	// Both a missing order and another user's order read as 404
	for _, err := range []error{store.ErrOrderNotFound, service.ErrNotOrderOwner} {
		router := testRouter(&fakeCheckout{}, &fakeOrders{getErr: err})

		w := doRequest(router, http.MethodGet, "/api/v1/orders/10", "", userHeaders())
		assert.Equal(t, http.StatusNotFound, w.Code)
	}
}

func TestGetOrderOK(t *testing.T) {
	orders := &fakeOrders{detail: &service.OrderDetail{
		Order: &models.Order{ID: 10, UserID: 42, Status: models.OrderStatusPending},
		Lines: []models.OrderLine{{OrderID: 10, ProductID: 1, Quantity: 2}},
	}}
	router := testRouter(&fakeCheckout{}, orders)

	w := doRequest(router, http.MethodGet, "/api/v1/orders/10", "", userHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"items"`)
}

func TestOrderIDParamValidated(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodGet, "/api/v1/orders/notanumber", "", userHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListOrdersPagination(t *testing.T) {
	orders := &fakeOrders{
		orders: []models.Order{{ID: 1, UserID: 42}, {ID: 2, UserID: 42}},
		total:  12,
	}
	router := testRouter(&fakeCheckout{}, orders)

	w := doRequest(router, http.MethodGet, "/api/v1/orders?page=1&limit=5", "", userHeaders())
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Pagination struct {
			CurrentPage int `json:"current_page"`
			TotalPages  int `json:"total_pages"`
			TotalCount  int `json:"total_count"`
			Limit       int `json:"limit"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Pagination.CurrentPage)
	assert.Equal(t, 3, resp.Pagination.TotalPages)
	assert.Equal(t, 12, resp.Pagination.TotalCount)
	assert.Equal(t, 5, resp.Pagination.Limit)
}

func TestListOrdersRejectsUnknownStatusFilter(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodGet, "/api/v1/orders?status=teleported", "", userHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelOrderMapping(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
	}{
		{"not found", store.ErrOrderNotFound, http.StatusNotFound},
		{"not owner", service.ErrNotOrderOwner, http.StatusForbidden},
		{"already shipped", &models.InvalidTransitionError{From: models.OrderStatusShipped, To: models.OrderStatusCancelled}, http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := testRouter(&fakeCheckout{}, &fakeOrders{cancelErr: tc.err})

			w := doRequest(router, http.MethodPost, "/api/v1/orders/10/cancel", "", userHeaders())
			assert.Equal(t, tc.wantCode, w.Code)
		})
	}
}

func TestCancelOrderOK(t *testing.T) {
	orders := &fakeOrders{cancelOrder: &models.Order{ID: 10, UserID: 42, Status: models.OrderStatusCancelled}}
	router := testRouter(&fakeCheckout{}, orders)

	w := doRequest(router, http.MethodPost, "/api/v1/orders/10/cancel", "", userHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), models.OrderStatusCancelled)
}

func TestUpdateStatusRequiresAdmin(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodPut, "/api/v1/orders/10/status", `{"status":"shipped"}`, userHeaders())
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateStatusAsAdmin(t *testing.T) {
	orders := &fakeOrders{advOrder: &models.Order{ID: 10, Status: models.OrderStatusShipped}}
	router := testRouter(&fakeCheckout{}, orders)

	w := doRequest(router, http.MethodPut, "/api/v1/orders/10/status", `{"status":"shipped"}`, adminHeaders())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OrderStatusShipped, orders.gotStatus)
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	orders := &fakeOrders{advErr: &models.InvalidTransitionError{From: models.OrderStatusPending, To: models.OrderStatusDelivered}}
	router := testRouter(&fakeCheckout{}, orders)

	w := doRequest(router, http.MethodPut, "/api/v1/orders/10/status", `{"status":"delivered"}`, adminHeaders())
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := testRouter(&fakeCheckout{}, &fakeOrders{})

	w := doRequest(router, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
