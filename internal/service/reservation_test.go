package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

func TestReserveHappyPath(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")

	assert.Equal(t, model.PaymentPending, res.Payment.Status)
	assert.Equal(t, 180000.0, res.Payment.OrderTotal)
	assert.Equal(t, 180000.0, res.Payment.Amount)
	assert.NotEmpty(t, res.Payment.MerchantOrderRef)
	assert.Equal(t, testNow.Add(15*time.Minute), res.Payment.ExpiredAt)
	assert.NotEmpty(t, res.PaymentURL)
	require.Len(t, res.Tickets, 2)
	for _, tk := range res.Tickets {
		got, ok := e.store.Ticket(tk.ID)
		require.True(t, ok)
		assert.Equal(t, model.TicketPending, got.Status)
		assert.Equal(t, res.Payment.ID, got.PaymentID)
	}
	for _, id := range []uint64{e.seats[0].ID, e.seats[1].ID} {
		seat, _ := e.store.Seat(id)
		assert.Equal(t, model.SeatReserved, seat.Status)
		assert.Equal(t, "u1", seat.ReservedBy)
		require.NotNil(t, seat.ReservedUntil)
	}
	seat, _ := e.store.Seat(e.seats[2].ID)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}

func TestReserveWithCoupon(t *testing.T) {
	e := newEnv(t)
	c := e.validCoupon("SPRING10", 5)
	res := e.reserve(t, "SPRING10")

	assert.Equal(t, 18000.0, res.Payment.DiscountAmount)
	assert.Equal(t, 162000.0, res.Payment.Amount)
	got, _ := e.store.Coupon(c.ID)
	assert.Equal(t, 1, got.CurrentUsageCount)
	assert.Equal(t, 1, e.store.UsageCount(c.ID, "u1"))
}

func TestReserveRejectsHeldSeat(t *testing.T) {
	e := newEnv(t)
	e.reserve(t, "")

	_, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		UserID:     "u2",
		MethodCode: "vnpay",
	})
	assert.ErrorIs(t, err, ErrSeatUnavailable)
}

func TestReserveRejectsSeatWithActiveTicket(t *testing.T) {
	e := newEnv(t)
	// Seat row says AVAILABLE but a booked ticket still references it.
	err := e.store.RunInTx(context.Background(), func(tx storage.Tx) error {
		return tx.CreateTicket(context.Background(), &model.Ticket{
			Code: "TCK-OLD", TripID: e.trip.ID, SeatID: e.seats[0].ID,
			Status: model.TicketBooked, FinalPrice: 90000,
		})
	})
	require.NoError(t, err)

	_, err = e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		UserID:     "u1",
		MethodCode: "vnpay",
	})
	assert.ErrorIs(t, err, ErrTicketAlreadyPaid)
}

func TestReserveUnknownMethodHoldsNothing(t *testing.T) {
	e := newEnv(t)
	_, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		UserID:     "u1",
		MethodCode: "momo",
	})
	assert.ErrorIs(t, err, gateway.ErrNoGateway)
	seat, _ := e.store.Seat(e.seats[0].ID)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}

func TestReserveGuestNeedsContact(t *testing.T) {
	e := newEnv(t)
	_, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		MethodCode: "vnpay",
	})
	assert.ErrorIs(t, err, ErrGuestInfoRequired)

	res, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		Guest:      model.GuestInfo{Name: "Tran Van A", Phone: "0900000001"},
		MethodCode: "vnpay",
	})
	require.NoError(t, err)
	assert.Empty(t, res.Payment.UserID)
	assert.Equal(t, "Tran Van A", res.Payment.GuestName)
}

func TestReserveCompensatesWhenURLBuildFails(t *testing.T) {
	e := newEnv(t)
	c := e.validCoupon("SPRING10", 5)
	e.mock.URLErr = errors.New("provider down")

	_, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID, e.seats[1].ID},
		UserID:     "u1",
		MethodCode: "vnpay",
		CouponCode: "SPRING10",
		ClientIP:   "203.0.113.9",
	})
	require.Error(t, err)

	// Every effect of the reservation must be undone.
	for _, id := range []uint64{e.seats[0].ID, e.seats[1].ID} {
		seat, _ := e.store.Seat(id)
		assert.Equal(t, model.SeatAvailable, seat.Status)
		assert.Nil(t, seat.ReservedUntil)
	}
	got, _ := e.store.Coupon(c.ID)
	assert.Equal(t, 0, got.CurrentUsageCount)
	assert.Equal(t, 0, e.store.UsageCount(c.ID, ""))
	require.Len(t, e.mock.URLCalls, 1)
	_, lookupErr := e.store.PaymentByRef(context.Background(), e.mock.URLCalls[0].MerchantOrderRef)
	assert.ErrorIs(t, lookupErr, storage.ErrNotFound)
}

func TestReserveCouponFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	e.store.AddCoupon(model.Coupon{
		Code: "OFF", Type: model.CouponFixed, Value: 1000,
		StartPeriod: testNow.Add(-time.Hour), EndPeriod: testNow.Add(time.Hour),
	})

	_, err := e.reservations.Reserve(context.Background(), ReserveRequest{
		TripID:     e.trip.ID,
		SeatIDs:    []uint64{e.seats[0].ID},
		UserID:     "u1",
		MethodCode: "vnpay",
		CouponCode: "OFF",
	})
	assert.ErrorIs(t, err, ErrCouponInactive)
	seat, _ := e.store.Seat(e.seats[0].ID)
	assert.Equal(t, model.SeatAvailable, seat.Status)
}
