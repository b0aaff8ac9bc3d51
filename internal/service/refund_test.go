package service

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// holdingGateway parks every refund call until released, exposing the
// window between the eligibility check and the provider response.
type holdingGateway struct {
	*gateway.Mock
	entered chan struct{}
	release chan struct{}
	calls   int32
}

func newHoldingGateway() *holdingGateway {
	return &holdingGateway{
		Mock:    &gateway.Mock{},
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
}

func (g *holdingGateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	atomic.AddInt32(&g.calls, 1)
	g.entered <- struct{}{}
	<-g.release
	return gateway.RefundResult{IsSuccess: true, ResponseCode: "00"}, nil
}

func TestRefundOrderFull(t *testing.T) {
	e := newEnv(t)
	c := e.validCoupon("SPRING10", 5)
	res := e.reserve(t, "SPRING10")
	e.settle(t, res)
	e.mock.RefundResult = gateway.RefundResult{IsSuccess: true, ResponseCode: "00", ResponseData: "vnp_ResponseCode=00"}

	p, err := e.refunds.RefundOrder(context.Background(), res.Payment.MerchantOrderRef, "trip cancelled", "ops")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)

	require.Len(t, e.mock.RefundCalls, 1)
	call := e.mock.RefundCalls[0]
	assert.Equal(t, "02", call.TransactionType)
	assert.Equal(t, 162000.0, call.Amount)

	for _, tk := range res.Tickets {
		got, _ := e.store.Ticket(tk.ID)
		assert.Equal(t, model.TicketRefunded, got.Status)
		seat, _ := e.store.Seat(tk.SeatID)
		assert.Equal(t, model.SeatAvailable, seat.Status)
	}
	// Full refund hands the coupon usage back.
	got, _ := e.store.Coupon(c.ID)
	assert.Equal(t, 0, got.CurrentUsageCount)
}

func TestRefundOrderRequiresCompleted(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")

	_, err := e.refunds.RefundOrder(context.Background(), res.Payment.MerchantOrderRef, "", "ops")
	assert.ErrorIs(t, err, ErrRefundNotEligible)
}

func TestRefundOrderGatewayRejectionLeavesLedger(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")
	e.settle(t, res)
	e.mock.RefundResult = gateway.RefundResult{IsSuccess: false, ResponseCode: "94"}

	_, err := e.refunds.RefundOrder(context.Background(), res.Payment.MerchantOrderRef, "", "ops")
	assert.ErrorIs(t, err, ErrRefundRejected)

	p, _ := e.store.PaymentByRef(context.Background(), res.Payment.MerchantOrderRef)
	assert.Equal(t, model.PaymentCompleted, p.Status)
	for _, tk := range res.Tickets {
		got, _ := e.store.Ticket(tk.ID)
		assert.Equal(t, model.TicketBooked, got.Status)
	}
}

func TestRefundTicketsPartial(t *testing.T) {
	e := newEnv(t)
	c := e.validCoupon("SPRING10", 5)
	res := e.reserve(t, "SPRING10")
	e.settle(t, res)
	e.mock.RefundResult = gateway.RefundResult{IsSuccess: true, ResponseCode: "00"}

	refunded, kept := res.Tickets[0], res.Tickets[1]
	p, err := e.refunds.RefundTickets(context.Background(), res.Payment.MerchantOrderRef, []uint64{refunded.ID}, "seat change", "ops")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPartiallyRefunded, p.Status)

	require.Len(t, e.mock.RefundCalls, 1)
	call := e.mock.RefundCalls[0]
	assert.Equal(t, "03", call.TransactionType)
	assert.Equal(t, refunded.FinalPrice, call.Amount)

	got, _ := e.store.Ticket(refunded.ID)
	assert.Equal(t, model.TicketCancelled, got.Status)
	seat, _ := e.store.Seat(refunded.SeatID)
	assert.Equal(t, model.SeatAvailable, seat.Status)

	got, _ = e.store.Ticket(kept.ID)
	assert.Equal(t, model.TicketBooked, got.Status)
	seat, _ = e.store.Seat(kept.SeatID)
	assert.Equal(t, model.SeatBooked, seat.Status)

	// A per-ticket refund leaves the coupon consumed.
	gotCoupon, _ := e.store.Coupon(c.ID)
	assert.Equal(t, 1, gotCoupon.CurrentUsageCount)
}

func TestConcurrentRefundsReachGatewayOnce(t *testing.T) {
	hg := newHoldingGateway()
	e := newEnvGateway(t, hg, hg.Mock)
	res := e.reserve(t, "")
	e.settle(t, res)

	ref := res.Payment.MerchantOrderRef
	done := make(chan error, 1)
	go func() {
		_, err := e.refunds.RefundOrder(context.Background(), ref, "first", "ops")
		done <- err
	}()
	<-hg.entered // first refund is now in flight at the provider

	// The payment is claimed, so the second request must fail before
	// its own gateway call.
	_, err := e.refunds.RefundOrder(context.Background(), ref, "second", "ops")
	assert.ErrorIs(t, err, ErrRefundNotEligible)
	_, err = e.refunds.RefundTickets(context.Background(), ref, []uint64{res.Tickets[0].ID}, "second", "ops")
	assert.ErrorIs(t, err, ErrRefundNotEligible)

	close(hg.release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hg.calls))

	p, _ := e.store.PaymentByRef(context.Background(), ref)
	assert.Equal(t, model.PaymentRefunded, p.Status)
}

func TestRejectedRefundRestoresEligibility(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")
	e.settle(t, res)
	ref := res.Payment.MerchantOrderRef

	e.mock.RefundResult = gateway.RefundResult{IsSuccess: false, ResponseCode: "94"}
	_, err := e.refunds.RefundOrder(context.Background(), ref, "", "ops")
	assert.ErrorIs(t, err, ErrRefundRejected)
	p, _ := e.store.PaymentByRef(context.Background(), ref)
	assert.Equal(t, model.PaymentCompleted, p.Status)

	// A later attempt goes through once the provider accepts.
	e.mock.RefundResult = gateway.RefundResult{IsSuccess: true, ResponseCode: "00"}
	p, err = e.refunds.RefundOrder(context.Background(), ref, "", "ops")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentRefunded, p.Status)
}

func TestRefundTicketsRejectsForeignID(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")
	e.settle(t, res)

	_, err := e.refunds.RefundTickets(context.Background(), res.Payment.MerchantOrderRef, []uint64{9999}, "", "ops")
	assert.ErrorIs(t, err, ErrTicketNotRefundable)
	assert.Empty(t, e.mock.RefundCalls)
}

func TestRefundTicketsTwiceRejectsSettledTicket(t *testing.T) {
	e := newEnv(t)
	res := e.reserve(t, "")
	e.settle(t, res)
	e.mock.RefundResult = gateway.RefundResult{IsSuccess: true, ResponseCode: "00"}

	ref := res.Payment.MerchantOrderRef
	_, err := e.refunds.RefundTickets(context.Background(), ref, []uint64{res.Tickets[0].ID}, "", "ops")
	require.NoError(t, err)

	_, err = e.refunds.RefundTickets(context.Background(), ref, []uint64{res.Tickets[0].ID}, "", "ops")
	assert.ErrorIs(t, err, ErrTicketNotRefundable)
}
