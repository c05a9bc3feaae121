package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/atomic-storefront/internal/cart"
	"github.com/fjod/atomic-storefront/internal/checkout"
	"github.com/fjod/atomic-storefront/internal/domain"
	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/orders"
	"github.com/fjod/atomic-storefront/internal/remote"
)

type catalogMock struct {
	products []domain.Product
	err      error
}

func (m catalogMock) Products(context.Context) ([]domain.Product, error) {
	return m.products, m.err
}

type testAPI struct {
	handler http.Handler
	carts   *cart.Service
}

func newTestAPI(t *testing.T, catalog ProductCatalog) *testAPI {
	t.Helper()
	store := kvstore.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	locker := kvstore.NewLocker()
	carts := cart.NewStoreRepository(store)
	cartSvc := cart.NewService(carts, locker, nil)
	orderSvc := orders.NewService(orders.NewStoreRepository(store), carts, locker, nil)
	checkoutSvc := checkout.NewService(cartSvc, orderSvc, checkout.Options{
		Authorizer: checkout.NewSimulatedAuthorizer(0),
	})

	timeout := 5 * time.Second
	return &testAPI{
		handler: NewRouter(RouterConfig{RequestTimeout: timeout}, Handlers{
			Cart:     NewCartHandler(cartSvc, timeout, nil),
			Checkout: NewCheckoutHandler(checkoutSvc, timeout, nil),
			Orders:   NewOrdersHandler(orderSvc, timeout, nil),
			Products: NewProductHandler(catalog, timeout, nil),
		}),
		carts:   cartSvc,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	rec := api.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRequestID_Propagated(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	api.do(t, http.MethodGet, "/health", nil)

	rec := api.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "storefront_http_requests_total")
}

func TestProducts(t *testing.T) {
	api := newTestAPI(t, catalogMock{products: []domain.Product{{ID: 7, Name: "Lighter", Price: 500}}})
	rec := api.do(t, http.MethodGet, "/api/v1/products", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[ProductsResponse](t, rec)
	assert.Equal(t, []domain.Product{{ID: 7, Name: "Lighter", Price: 500}}, resp.Products)
}

func TestProducts_RemoteUnavailable(t *testing.T) {
	api := newTestAPI(t, catalogMock{err: fmt.Errorf("failed to fetch products: %w", remote.ErrUnavailable)})
	rec := api.do(t, http.MethodGet, "/api/v1/products", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", decode[ErrorResponse](t, rec).Code)
}

func TestCart_Lifecycle(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	lighter := AddItemRequestDTO{ID: 7, Name: "Lighter", Price: 500}

	rec := api.do(t, http.MethodPost, "/api/v1/cart/items", lighter)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = api.do(t, http.MethodPost, "/api/v1/cart/items", lighter)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/v1/cart/items/7/increase", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[CartResponseDTO](t, rec)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, 3, resp.Items[0].Quantity)
	assert.Equal(t, 1500.0, resp.Total)
	assert.Equal(t, 3, resp.Count)

	for i := 0; i < 5; i++ {
		rec = api.do(t, http.MethodPost, "/api/v1/cart/items/7/decrease", nil)
	}
	resp = decode[CartResponseDTO](t, rec)
	assert.Equal(t, 1, resp.Items[0].Quantity)

	rec = api.do(t, http.MethodDelete, "/api/v1/cart/items/7", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Items)

	api.do(t, http.MethodPost, "/api/v1/cart/items", lighter)
	rec = api.do(t, http.MethodDelete, "/api/v1/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Items)
}

func TestCart_BadRequests(t *testing.T) {
	api := newTestAPI(t, catalogMock{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		code   string
	}{
		{"zero id", http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{Name: "x"}, "invalid_product_id"},
		{"negative price", http.MethodPost, "/api/v1/cart/items", AddItemRequestDTO{ID: 1, Price: -1}, "invalid_price"},
		{"bad path id", http.MethodPost, "/api/v1/cart/items/abc/increase", nil, "invalid_product_id"},
		{"bad json", http.MethodPost, "/api/v1/cart/items", "not an object", "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestCheckout_EmptyCartConflict(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	rec := api.do(t, http.MethodPost, "/api/v1/checkout", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "empty_cart", decode[ErrorResponse](t, rec).Code)
}

func TestCheckout_UnknownSession(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	rec := api.do(t, http.MethodGet, "/api/v1/checkout/nope", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "checkout_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestCheckout_FullFlow(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	require.NoError(t, api.carts.AddOrIncrement(context.Background(), domain.Product{ID: 1, Name: "Jacket", Price: 1000}))

	rec := api.do(t, http.MethodPost, "/api/v1/checkout", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	state := decode[CheckoutResponseDTO](t, rec)
	require.NotEmpty(t, state.CheckoutID)
	assert.Equal(t, "CUSTOMER_INFO", state.Step)
	assert.Equal(t, 1, state.StepNumber)
	assert.Equal(t, "IN_PROGRESS", state.Status)
	base := "/api/v1/checkout/" + state.CheckoutID

	// an empty customer form keeps the wizard on step 1
	rec = api.do(t, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "validation_failed", errResp.Code)
	assert.Contains(t, errResp.Details, "email")

	rec = api.do(t, http.MethodGet, base, nil)
	state = decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, "CUSTOMER_INFO", state.Step)
	assert.Contains(t, state.Errors, "email")

	rec = api.do(t, http.MethodPut, base+"/customer", checkout.CustomerForm{
		FirstName: "Ana", LastName: "Petrova", Email: "ana@example.mk", Phone: "+389 70 123 456",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(t, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodPut, base+"/delivery", checkout.DeliveryForm{
		Address: "Partizanska 1", City: "Skopje", ZipCode: "1000",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.DeliveryMethodDelivery, decode[CheckoutResponseDTO](t, rec).Delivery.Method)
	require.Equal(t, http.StatusOK, api.do(t, http.MethodPost, base+"/next", nil).Code)

	rec = api.do(t, http.MethodPut, base+"/payment", checkout.PaymentForm{
		CardNumber: "4111 1111 1111 1111", ExpiryDate: "12/30", CVV: "123", CardName: "ANA PETROVA",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "4111 1111 1111 1111")
	assert.NotContains(t, rec.Body.String(), `"123"`)

	rec = api.do(t, http.MethodPost, base+"/next", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[CheckoutResponseDTO](t, rec)
	assert.Equal(t, "REVIEW", state.Step)
	assert.Equal(t, 1330.0, state.Totals.Total)
	assert.Equal(t, "**** **** **** 1111", state.Payment.CardNumber)

	rec = api.do(t, http.MethodPost, base+"/place", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	receipt := decode[checkout.Receipt](t, rec)
	assert.Equal(t, 1330.0, receipt.FinalTotal)
	assert.Regexp(t, `^ORD-\d+-[0-9A-Z]+$`, receipt.OrderID)

	rec = api.do(t, http.MethodPost, base+"/place", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_placed", decode[ErrorResponse](t, rec).Code)

	rec = api.do(t, http.MethodGet, "/api/v1/orders", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]domain.Order](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, receipt.OrderID, history[0].ID)

	rec = api.do(t, http.MethodGet, "/api/v1/orders/"+receipt.OrderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OrderStatusConfirmed, decode[domain.Order](t, rec).Status)

	rec = api.do(t, http.MethodGet, "/api/v1/cart", nil)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Items)
}

func TestCheckout_PlaceBeforeReview(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	require.NoError(t, api.carts.AddOrIncrement(context.Background(), domain.Product{ID: 1, Price: 10}))

	state := decode[CheckoutResponseDTO](t, api.do(t, http.MethodPost, "/api/v1/checkout", nil))
	rec := api.do(t, http.MethodPost, "/api/v1/checkout/"+state.CheckoutID+"/place", nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "not_in_review", decode[ErrorResponse](t, rec).Code)
}

func TestCheckout_StateFollowsCartEdits(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	ctx := context.Background()
	require.NoError(t, api.carts.AddOrIncrement(ctx, domain.Product{ID: 1, Name: "Jacket", Price: 1000}))

	state := decode[CheckoutResponseDTO](t, api.do(t, http.MethodPost, "/api/v1/checkout", nil))
	require.Len(t, state.Items, 1)

	require.NoError(t, api.carts.AddOrIncrement(ctx, domain.Product{ID: 2, Name: "Scarf", Price: 500}))
	rec := api.do(t, http.MethodGet, "/api/v1/checkout/"+state.CheckoutID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = decode[CheckoutResponseDTO](t, rec)
	assert.Len(t, state.Items, 2)
	assert.Equal(t, 1500.0, state.Totals.Subtotal)
}

func TestHandleServiceError_CartChanged(t *testing.T) {
	rec := httptest.NewRecorder()
	err := fmt.Errorf("%w: %w", checkout.ErrOrderFailed, orders.ErrCartChanged)
	handleServiceError(context.Background(), nil, rec, err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "cart_changed", decode[ErrorResponse](t, rec).Code)
}

func TestCheckout_ExpiredSessionsAreEvicted(t *testing.T) {
	h := NewCheckoutHandler(starterFunc(func(ctx context.Context) (*checkout.Workflow, error) {
		return nil, checkout.ErrEmptyCart
	}), time.Second, nil)
	now := time.Now()
	h.now = func() time.Time { return now }
	h.sessions["old"] = &checkoutSession{touched: now.Add(-time.Hour)}
	h.sessions["fresh"] = &checkoutSession{touched: now}

	h.mu.Lock()
	h.evictExpiredLocked()
	h.mu.Unlock()

	assert.NotContains(t, h.sessions, "old")
	assert.Contains(t, h.sessions, "fresh")
}

type starterFunc func(ctx context.Context) (*checkout.Workflow, error)

func (f starterFunc) Begin(ctx context.Context) (*checkout.Workflow, error) { return f(ctx) }

type failingOrders struct{ err error }

func (f failingOrders) List(context.Context) ([]domain.Order, error) { return nil, f.err }

func TestOrders_ErrorsAreNotLeaked(t *testing.T) {
	h := NewOrdersHandler(failingOrders{err: errors.New("disk on fire")}, time.Second, nil)
	rec := httptest.NewRecorder()
	h.ListOrders(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status code %d, got %d", http.StatusInternalServerError, rec.Code)
	}
	var response ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.Code != "internal_error" || response.Error != "internal server error" {
		t.Errorf("Unexpected error response: %+v", response)
	}
}

func TestOrders_EmptyHistoryIsArray(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	rec := api.do(t, http.MethodGet, "/api/v1/orders", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestOrders_UnknownOrder(t *testing.T) {
	api := newTestAPI(t, catalogMock{})
	rec := api.do(t, http.MethodGet, "/api/v1/orders/ORD-1-X", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
