package service

import (
	"context"
	"errors"
	"log"
	"net/url"
	"time"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

var (
	ErrInvalidSignature = errors.New("callback signature is invalid")
	ErrPaymentNotFound  = errors.New("payment not found")
	ErrNotCancellable   = errors.New("payment is not pending")
)

// PaymentEvent is published after a payment reaches COMPLETED so that
// downstream consumers (notifications, audit) can react.
type PaymentEvent struct {
	MerchantOrderRef     string    `json:"merchant_order_ref"`
	Status               string    `json:"status"`
	GatewayTransactionNo string    `json:"gateway_transaction_no"`
	Amount               float64   `json:"amount"`
	OccurredAt           time.Time `json:"occurred_at"`
}

// EventPublisher delivers payment events to the message broker.  A nil
// publisher disables eventing; the reconcile path never fails on it.
type EventPublisher interface {
	PublishPaymentEvent(ctx context.Context, ev PaymentEvent) error
}

// ReconcileService settles pending payments from two inputs that race
// against each other: gateway callbacks (return and IPN hit the same
// path) and the expiry sweep.  Both funnel through one transition
// routine that locks the payment row first, so whichever arrives second
// sees a terminal state and becomes a no-op.
type ReconcileService struct {
	store   storage.Store
	gw      *gateway.Registry
	coupons *CouponService
	events  EventPublisher
	now     func() time.Time
}

func NewReconcileService(store storage.Store, gw *gateway.Registry, coupons *CouponService, events EventPublisher) *ReconcileService {
	return &ReconcileService{
		store:   store,
		gw:      gw,
		coupons: coupons,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// HandleCallback verifies and applies one inbound gateway callback.
// The returned bool reports whether this call changed the payment;
// false with a nil error means the payment was already settled and the
// callback was a replay.
func (s *ReconcileService) HandleCallback(ctx context.Context, methodCode string, params url.Values) (*model.Payment, bool, error) {
	g, err := s.gw.Resolve(methodCode)
	if err != nil {
		return nil, false, err
	}
	res := g.VerifyCallback(params)
	if !res.IsValid {
		log.Printf("[reconcile] rejected callback for ref=%q: bad signature, raw=%s", res.MerchantOrderRef, res.RawData)
		return nil, false, ErrInvalidSignature
	}

	var (
		payment *model.Payment
		applied bool
	)
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		p, err := tx.PaymentByRefForUpdate(ctx, res.MerchantOrderRef)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		payment = p
		if p.Status.Terminal() {
			return nil
		}
		applied = true
		return s.transitionTx(ctx, tx, p, res.Status, res.GatewayTransactionNo, res.RawData)
	})
	if err != nil {
		return nil, false, err
	}
	if applied && payment.Status == model.PaymentCompleted {
		s.publish(ctx, payment)
	}
	return payment, applied, nil
}

// ExpireStale settles PENDING payments whose reservation window has
// passed, releasing their seats.  Returns how many payments it expired.
func (s *ReconcileService) ExpireStale(ctx context.Context, limit int) (int, error) {
	var expired int
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		stale, err := tx.StalePendingPayments(ctx, s.now(), limit)
		if err != nil {
			return err
		}
		for i := range stale {
			// Re-read under lock; a callback may have settled the
			// payment between the scan and this point.
			p, err := tx.PaymentByRefForUpdate(ctx, stale[i].MerchantOrderRef)
			if err != nil {
				return err
			}
			if p.Status.Terminal() {
				continue
			}
			if err := s.transitionTx(ctx, tx, p, model.PaymentExpired, "", ""); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		log.Printf("[reconcile] expired %d stale pending payment(s)", expired)
	}
	return expired, nil
}

// transitionTx moves a locked payment to its new status and propagates
// the outcome to its tickets and seats in the same transaction.
func (s *ReconcileService) transitionTx(ctx context.Context, tx storage.Tx, p *model.Payment, status model.PaymentStatus, txnNo, raw string) error {
	p.Status = status
	if txnNo != "" {
		p.GatewayTransactionNo = txnNo
	}
	if raw != "" {
		p.GatewayResponseData = raw
	}
	if err := tx.UpdatePayment(ctx, p); err != nil {
		return err
	}

	outcome, ok := model.OutcomeFor(status)
	if !ok {
		return nil
	}
	tickets, err := tx.TicketsByPaymentID(ctx, p.ID)
	if err != nil {
		return err
	}
	if len(tickets) == 0 {
		return nil
	}
	ticketIDs := make([]uint64, 0, len(tickets))
	seatIDs := make([]uint64, 0, len(tickets))
	for _, t := range tickets {
		ticketIDs = append(ticketIDs, t.ID)
		seatIDs = append(seatIDs, t.SeatID)
	}
	if err := tx.UpdateTicketStates(ctx, ticketIDs, outcome.Ticket); err != nil {
		return err
	}
	if err := tx.UpdateSeatStates(ctx, seatIDs, outcome.Seat, "", nil); err != nil {
		return err
	}
	// A purchase that never completed hands its coupon usage back.
	if outcome.Ticket == model.TicketInvalid {
		return s.coupons.ReleaseTx(ctx, tx, p.ID)
	}
	return nil
}

// Cancel voids a still-PENDING payment at the purchaser's request,
// releasing its seats and coupon usage.  Settled payments cannot be
// cancelled; refunds handle those.
func (s *ReconcileService) Cancel(ctx context.Context, ref string) (*model.Payment, error) {
	var payment *model.Payment
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		p, err := tx.PaymentByRefForUpdate(ctx, ref)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return ErrPaymentNotFound
			}
			return err
		}
		if p.Status != model.PaymentPending {
			return ErrNotCancellable
		}
		payment = p
		return s.transitionTx(ctx, tx, p, model.PaymentCancelled, "", "")
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

func (s *ReconcileService) publish(ctx context.Context, p *model.Payment) {
	if s.events == nil {
		return
	}
	ev := PaymentEvent{
		MerchantOrderRef:     p.MerchantOrderRef,
		Status:               string(p.Status),
		GatewayTransactionNo: p.GatewayTransactionNo,
		Amount:               p.Amount,
		OccurredAt:           s.now(),
	}
	if err := s.events.PublishPaymentEvent(ctx, ev); err != nil {
		log.Printf("[reconcile] publish payment event ref=%s failed: %v", p.MerchantOrderRef, err)
	}
}
