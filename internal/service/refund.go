package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

var (
	ErrRefundNotEligible   = errors.New("payment is not eligible for refund")
	ErrRefundRejected      = errors.New("gateway rejected the refund")
	ErrTicketNotRefundable = errors.New("ticket is not refundable")
)

// Gateway transaction types for refunds.
const (
	refundFull    = "02"
	refundPartial = "03"
)

// RefundService orchestrates money-out flows.  The gateway call cannot
// run inside a ledger transaction, so the payment is claimed first: the
// opening transaction locks the row, checks eligibility and moves it to
// REFUNDING before the provider is contacted.  A concurrent refund of
// the same payment then fails eligibility instead of sending a second
// signed request.  A provider rejection restores the claimed status, so
// the refund can be retried.
//
// Coupon accounting is deliberately asymmetric: a full order refund
// returns the coupon usage, a per-ticket refund does not, since the
// order as a whole still happened.
type RefundService struct {
	store   storage.Store
	gw      *gateway.Registry
	coupons *CouponService
}

func NewRefundService(store storage.Store, gw *gateway.Registry, coupons *CouponService) *RefundService {
	return &RefundService{store: store, gw: gw, coupons: coupons}
}

// RefundOrder refunds a COMPLETED payment in full: the charged amount
// goes back, every ticket moves to REFUNDED, seats reopen, and the
// coupon usage is returned.
func (s *RefundService) RefundOrder(ctx context.Context, ref, reason, requestedBy string) (*model.Payment, error) {
	var payment *model.Payment
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		p, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if p.Status != model.PaymentCompleted {
			return ErrRefundNotEligible
		}
		p.Status = model.PaymentRefunding
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.sendRefund(ctx, payment, payment.Amount, refundFull, reason, requestedBy)
	if err != nil {
		s.unclaim(ctx, ref, model.PaymentCompleted)
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		locked.Status = model.PaymentRefunded
		locked.GatewayResponseData = res.ResponseData
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		tickets, err := tx.TicketsByPaymentID(ctx, locked.ID)
		if err != nil {
			return err
		}
		ticketIDs := make([]uint64, 0, len(tickets))
		seatIDs := make([]uint64, 0, len(tickets))
		for _, t := range tickets {
			ticketIDs = append(ticketIDs, t.ID)
			seatIDs = append(seatIDs, t.SeatID)
		}
		if err := tx.UpdateTicketStates(ctx, ticketIDs, model.TicketRefunded); err != nil {
			return err
		}
		if err := tx.UpdateSeatStates(ctx, seatIDs, model.SeatAvailable, "", nil); err != nil {
			return err
		}
		if err := s.coupons.ReleaseTx(ctx, tx, locked.ID); err != nil {
			return err
		}
		payment = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// RefundTickets refunds a subset of an order's tickets at their face
// price.  The payment moves to PARTIALLY_REFUNDED and the refunded seats
// reopen; the remaining tickets stay BOOKED.
func (s *RefundService) RefundTickets(ctx context.Context, ref string, ticketIDs []uint64, reason, requestedBy string) (*model.Payment, error) {
	if len(ticketIDs) == 0 {
		return nil, ErrTicketNotRefundable
	}
	requested := make(map[uint64]bool, len(ticketIDs))
	for _, id := range ticketIDs {
		requested[id] = true
	}

	// Claim the payment while validating and pricing; the claim is what
	// keeps a concurrent refund from reaching the gateway.
	var (
		payment    *model.Payment
		prevStatus model.PaymentStatus
		amount     float64
		seatIDs    []uint64
	)
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		p, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if p.Status != model.PaymentCompleted && p.Status != model.PaymentPartiallyRefunded {
			return ErrRefundNotEligible
		}
		tickets, err := tx.TicketsByPaymentID(ctx, p.ID)
		if err != nil {
			return err
		}
		amount, seatIDs = 0, seatIDs[:0]
		matched := 0
		for _, t := range tickets {
			if !requested[t.ID] {
				continue
			}
			if t.Status != model.TicketBooked {
				return fmt.Errorf("%w: ticket %s is %s", ErrTicketNotRefundable, t.Code, t.Status)
			}
			amount += t.FinalPrice
			seatIDs = append(seatIDs, t.SeatID)
			matched++
		}
		if matched != len(ticketIDs) {
			return ErrTicketNotRefundable
		}
		prevStatus = p.Status
		p.Status = model.PaymentRefunding
		if err := tx.UpdatePayment(ctx, p); err != nil {
			return err
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}

	res, err := s.sendRefund(ctx, payment, amount, refundPartial, reason, requestedBy)
	if err != nil {
		s.unclaim(ctx, ref, prevStatus)
		return nil, err
	}

	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		locked, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		locked.Status = model.PaymentPartiallyRefunded
		locked.GatewayResponseData = res.ResponseData
		if err := tx.UpdatePayment(ctx, locked); err != nil {
			return err
		}
		if err := tx.UpdateTicketStates(ctx, ticketIDs, model.TicketCancelled); err != nil {
			return err
		}
		if err := tx.UpdateSeatStates(ctx, seatIDs, model.SeatAvailable, "", nil); err != nil {
			return err
		}
		payment = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// sendRefund resolves the payment's gateway, sends the refund and turns
// a provider-side rejection into an error.
func (s *RefundService) sendRefund(ctx context.Context, p *model.Payment, amount float64, txnType, reason, requestedBy string) (gateway.RefundResult, error) {
	g, err := s.gw.Resolve(p.MethodCode)
	if err != nil {
		return gateway.RefundResult{}, err
	}
	res, err := g.Refund(ctx, gateway.RefundRequest{
		Payment:         p,
		Amount:          amount,
		TransactionType: txnType,
		Reason:          reason,
		RequestedBy:     requestedBy,
	})
	if err != nil {
		return gateway.RefundResult{}, err
	}
	if !res.IsSuccess {
		return gateway.RefundResult{}, fmt.Errorf("%w: code %s", ErrRefundRejected, res.ResponseCode)
	}
	return res, nil
}

// unclaim restores the status a failed refund claimed, so the payment
// becomes eligible again.  Failures are logged, not returned: the caller
// already carries the gateway error.
func (s *RefundService) unclaim(ctx context.Context, ref string, status model.PaymentStatus) {
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		p, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			return err
		}
		if p.Status != model.PaymentRefunding {
			return nil
		}
		p.Status = status
		return tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		log.Printf("[refund] restore status for ref=%s failed: %v", ref, err)
	}
}
