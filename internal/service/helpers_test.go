package service

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// capturedEvents records published payment events for assertions.
type capturedEvents struct {
	events []PaymentEvent
}

func (c *capturedEvents) PublishPaymentEvent(ctx context.Context, ev PaymentEvent) error {
	c.events = append(c.events, ev)
	return nil
}

// env wires every service against one in-memory store and one mock
// gateway registered under "vnpay".
type env struct {
	store        *storage.MemoryStore
	mock         *gateway.Mock
	events       *capturedEvents
	coupons      *CouponService
	reservations *ReservationService
	reconciler   *ReconcileService
	refunds      *RefundService

	trip  model.Trip
	seats []model.Seat
}

func newEnv(t *testing.T) *env {
	mock := &gateway.Mock{}
	return newEnvGateway(t, mock, mock)
}

// newEnvGateway registers gw under "vnpay" while keeping the scripted
// Mock accessible, for tests that wrap the mock with extra behavior.
func newEnvGateway(t *testing.T, gw gateway.Gateway, mock *gateway.Mock) *env {
	t.Helper()
	store := storage.NewMemoryStore()
	trip := store.AddTrip(model.Trip{
		Name:        "HCMC - Da Lat express",
		Origin:      "Ho Chi Minh City",
		Destination: "Da Lat",
		DepartsAt:   testNow.Add(48 * time.Hour),
	})
	seats := []model.Seat{
		store.AddSeat(model.Seat{TripID: trip.ID, Number: "A1", Price: 90000}),
		store.AddSeat(model.Seat{TripID: trip.ID, Number: "A2", Price: 90000}),
		store.AddSeat(model.Seat{TripID: trip.ID, Number: "A3", Price: 120000}),
	}

	reg := gateway.NewRegistry(map[string]gateway.Gateway{"vnpay": gw})
	events := &capturedEvents{}

	coupons := NewCouponService(store)
	coupons.now = func() time.Time { return testNow }
	reservations := NewReservationService(store, reg, coupons, 15*time.Minute)
	reservations.now = func() time.Time { return testNow }
	reconciler := NewReconcileService(store, reg, coupons, events)
	reconciler.now = func() time.Time { return testNow }
	refunds := NewRefundService(store, reg, coupons)

	return &env{
		store:        store,
		mock:         mock,
		events:       events,
		coupons:      coupons,
		reservations: reservations,
		reconciler:   reconciler,
		refunds:      refunds,
		trip:         trip,
		seats:        seats,
	}
}

// reserve books the first two seats for user u1 and returns the result.
func (e *env) reserve(t *testing.T, couponCode string) *ReserveResult {
	t.Helper()
	res, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID, e.seats[1].ID},
		UserID:     "u1",
		MethodCode: "vnpay",
		CouponCode: couponCode,
		ClientIP:   "203.0.113.9",
	})
	require.NoError(t, err)
	return res
}

// settle drives a reservation to COMPLETED through a scripted callback.
func (e *env) settle(t *testing.T, res *ReserveResult) *model.Payment {
	t.Helper()
	e.mock.CallbackResult = gateway.CallbackResult{
		IsValid:              true,
		Status:               model.PaymentCompleted,
		MerchantOrderRef:     res.Payment.MerchantOrderRef,
		GatewayTransactionNo: "14822590",
		ResponseCode:         "00",
		RawData:              "vnp_ResponseCode=00",
	}
	p, applied, err := e.reconciler.HandleCallback(context.Background(), "vnpay", url.Values{})
	require.NoError(t, err)
	require.True(t, applied)
	return p
}

// validCoupon seeds an active percentage coupon worth 10% with the given
// usage cap.
func (e *env) validCoupon(code string, maxUsage int) model.Coupon {
	return e.store.AddCoupon(model.Coupon{
		Code:        code,
		Type:        model.CouponPercentage,
		Value:       10,
		MaxUsage:    maxUsage,
		StartPeriod: testNow.Add(-time.Hour),
		EndPeriod:   testNow.Add(time.Hour),
		IsActive:    true,
	})
}
