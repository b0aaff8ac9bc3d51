package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/handler"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/router"
	"github.com/Zookegger/bus-ticket-booking/internal/service"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

type testApp struct {
	e     *echo.Echo
	store *storage.MemoryStore
	mock  *gateway.Mock
	trip  model.Trip
	seats []model.Seat
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	store := storage.NewMemoryStore()
	trip := store.AddTrip(model.Trip{Name: "HCMC - Vung Tau", DepartsAt: time.Now().Add(24 * time.Hour)})
	seats := []model.Seat{
		store.AddSeat(model.Seat{TripID: trip.ID, Number: "B1", Price: 85000}),
		store.AddSeat(model.Seat{TripID: trip.ID, Number: "B2", Price: 85000}),
	}

	mock := &gateway.Mock{}
	reg := gateway.NewRegistry(map[string]gateway.Gateway{"vnpay": mock})
	coupons := service.NewCouponService(store)
	reservations := service.NewReservationService(store, reg, coupons, 15*time.Minute)
	reconciler := service.NewReconcileService(store, reg, coupons, nil)
	refunds := service.NewRefundService(store, reg, coupons)

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterBooking(e, handler.NewBookingHandler(store, reservations, coupons), nil)
	router.RegisterPayments(e, handler.NewPaymentHandler(reconciler, refunds))
	return &testApp{e: e, store: store, mock: mock, trip: trip, seats: seats}
}

func (a *testApp) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

// reserveGuest creates a pending guest reservation and returns its ref.
func (a *testApp) reserveGuest(t *testing.T) string {
	t.Helper()
	rec := a.request(t, http.MethodPost, "/v1/reservations",
		`{"trip_id":1,"seat_ids":[2,3],"method_code":"vnpay","guest":{"name":"Le Thi B","phone":"0900000002"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Ref string `json:"merchant_order_ref"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.Ref)
	return out.Ref
}

func TestCreateReservationEndpoint(t *testing.T) {
	a := newTestApp(t)
	rec := a.request(t, http.MethodPost, "/v1/reservations",
		`{"trip_id":1,"seat_ids":[2,3],"method_code":"vnpay","guest":{"name":"Le Thi B","phone":"0900000002"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var out struct {
		Ref        string  `json:"merchant_order_ref"`
		Amount     float64 `json:"amount"`
		Status     string  `json:"status"`
		PaymentURL string  `json:"payment_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 170000.0, out.Amount)
	assert.Equal(t, "PENDING", out.Status)
	assert.NotEmpty(t, out.PaymentURL)

	// Second attempt on the same seats conflicts.
	rec = a.request(t, http.MethodPost, "/v1/reservations",
		`{"trip_id":1,"seat_ids":[2],"method_code":"vnpay","guest":{"name":"X","phone":"1"}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestReservationRejectsUnknownMethod(t *testing.T) {
	a := newTestApp(t)
	rec := a.request(t, http.MethodPost, "/v1/reservations",
		`{"trip_id":1,"seat_ids":[2],"method_code":"momo","guest":{"name":"X","phone":"1"}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIPNAcknowledgmentContract(t *testing.T) {
	a := newTestApp(t)
	ref := a.reserveGuest(t)

	// Invalid signature -> 97.
	a.mock.CallbackResult = gateway.CallbackResult{IsValid: false}
	rec := a.request(t, http.MethodGet, "/v1/payments/vnpay/ipn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"RspCode":"97"`)

	// Unknown order -> 01.
	a.mock.CallbackResult = gateway.CallbackResult{IsValid: true, Status: model.PaymentCompleted, MerchantOrderRef: "missing"}
	rec = a.request(t, http.MethodGet, "/v1/payments/vnpay/ipn", "")
	assert.Contains(t, rec.Body.String(), `"RspCode":"01"`)

	// First valid confirmation -> 00.
	a.mock.CallbackResult = gateway.CallbackResult{IsValid: true, Status: model.PaymentCompleted, MerchantOrderRef: ref, GatewayTransactionNo: "123"}
	rec = a.request(t, http.MethodGet, "/v1/payments/vnpay/ipn", "")
	assert.Contains(t, rec.Body.String(), `"RspCode":"00"`)

	// Replay -> 02.
	rec = a.request(t, http.MethodGet, "/v1/payments/vnpay/ipn", "")
	assert.Contains(t, rec.Body.String(), `"RspCode":"02"`)

	p, err := a.store.PaymentByRef(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, model.PaymentCompleted, p.Status)
}

func TestReturnEndpointShowsSettledPayment(t *testing.T) {
	a := newTestApp(t)
	ref := a.reserveGuest(t)
	a.mock.CallbackResult = gateway.CallbackResult{IsValid: true, Status: model.PaymentCompleted, MerchantOrderRef: ref}

	rec := a.request(t, http.MethodGet, "/v1/payments/vnpay/return", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"COMPLETED"`)
}

func TestTripSeatsEndpoint(t *testing.T) {
	a := newTestApp(t)
	rec := a.request(t, http.MethodGet, "/v1/trips/1/seats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"number":"B1"`)

	rec = a.request(t, http.MethodGet, "/v1/trips/99/seats", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	a := newTestApp(t)
	ref := a.reserveGuest(t)

	rec := a.request(t, http.MethodPost, "/v1/payments/"+ref+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)

	rec = a.request(t, http.MethodPost, "/v1/payments/"+ref+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}
