package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

// Reservation failure vocabulary.
var (
	ErrNoSeats           = errors.New("no seats selected")
	ErrSeatNotFound      = errors.New("seat not found")
	ErrSeatUnavailable   = errors.New("seat is not available")
	ErrTicketAlreadyPaid = errors.New("seat already has an active ticket")
	ErrGuestInfoRequired = errors.New("guest contact info is required")
)

// ReserveRequest is one checkout attempt.  UserID empty means guest
// checkout, in which case Guest must carry contact details.
type ReserveRequest struct {
	TripID     uint64
	SeatIDs    []uint64
	UserID     string
	Guest      model.GuestInfo
	MethodCode string
	CouponCode string
	ClientIP   string
}

// ReserveResult is the committed reservation plus the redirect URL the
// purchaser is sent to.
type ReserveResult struct {
	Payment    *model.Payment
	Tickets    []model.Ticket
	PaymentURL string
}

// ReservationService owns the checkout path: it atomically holds seats,
// creates PENDING tickets and the PENDING payment, consumes the coupon,
// and then asks the gateway for a redirect URL.  The URL build happens
// after commit because it may call out to the provider; if it fails the
// service runs a compensating transaction that undoes every effect of
// the reservation.
type ReservationService struct {
	store   storage.Store
	gw      *gateway.Registry
	coupons *CouponService
	window  time.Duration
	now     func() time.Time
}

func NewReservationService(store storage.Store, gw *gateway.Registry, coupons *CouponService, window time.Duration) *ReservationService {
	return &ReservationService{
		store:   store,
		gw:      gw,
		coupons: coupons,
		window:  window,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reserve runs one checkout attempt end to end.
func (s *ReservationService) Reserve(ctx context.Context, req ReserveRequest) (*ReserveResult, error) {
	if len(req.SeatIDs) == 0 {
		return nil, ErrNoSeats
	}
	if req.UserID == "" && (req.Guest.Name == "" || req.Guest.Phone == "") {
		return nil, ErrGuestInfoRequired
	}
	// Resolve the gateway before touching the ledger so an unknown
	// method code fails without holding any seats.
	gw, err := s.gw.Resolve(req.MethodCode)
	if err != nil {
		return nil, err
	}

	now := s.now()
	expiresAt := now.Add(s.window)

	var (
		payment *model.Payment
		tickets []model.Ticket
	)
	err = s.store.RunInTx(ctx, func(tx storage.Tx) error {
		seats, err := tx.SeatsForUpdate(ctx, req.SeatIDs)
		if err != nil {
			return err
		}
		if len(seats) != len(req.SeatIDs) {
			return ErrSeatNotFound
		}
		var orderTotal float64
		for _, seat := range seats {
			if seat.TripID != req.TripID {
				return ErrSeatNotFound
			}
			if seat.Status != model.SeatAvailable {
				return fmt.Errorf("%w: seat %s", ErrSeatUnavailable, seat.Number)
			}
			orderTotal += seat.Price
		}
		// A seat row can be AVAILABLE while a just-paid ticket still
		// references it; the ticket ledger is the source of truth.
		active, err := tx.ActiveTicketsBySeatIDs(ctx, req.SeatIDs)
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return ErrTicketAlreadyPaid
		}

		var (
			coupon   *model.Coupon
			discount float64
		)
		if req.CouponCode != "" {
			coupon, discount, err = s.coupons.ApplyTx(ctx, tx, req.CouponCode, req.UserID, orderTotal)
			if err != nil {
				return err
			}
		}

		payment = &model.Payment{
			MerchantOrderRef: newOrderRef(now),
			UserID:           req.UserID,
			GuestName:        req.Guest.Name,
			GuestEmail:       req.Guest.Email,
			GuestPhone:       req.Guest.Phone,
			MethodCode:       req.MethodCode,
			OrderTotal:       orderTotal,
			DiscountAmount:   discount,
			Amount:           orderTotal - discount,
			Status:           model.PaymentPending,
			ExpiredAt:        expiresAt,
		}
		if err := tx.CreatePayment(ctx, payment); err != nil {
			return err
		}
		if coupon != nil {
			if err := s.coupons.ReserveTx(ctx, tx, coupon, payment.ID, req.UserID, discount); err != nil {
				return err
			}
		}

		holder := req.UserID
		if holder == "" {
			holder = payment.MerchantOrderRef
		}
		tickets = tickets[:0]
		for _, seat := range seats {
			t := model.Ticket{
				Code:       newTicketCode(),
				TripID:     seat.TripID,
				SeatID:     seat.ID,
				PaymentID:  payment.ID,
				Status:     model.TicketPending,
				FinalPrice: seat.Price,
			}
			if err := tx.CreateTicket(ctx, &t); err != nil {
				return err
			}
			if err := tx.LinkTicket(ctx, payment.ID, t.ID); err != nil {
				return err
			}
			tickets = append(tickets, t)
		}
		return tx.UpdateSeatStates(ctx, req.SeatIDs, model.SeatReserved, holder, &expiresAt)
	})
	if err != nil {
		return nil, err
	}

	payURL, err := gw.CreatePaymentURL(payment, tickets, req.ClientIP)
	if err != nil {
		s.compensate(ctx, payment, tickets, req.SeatIDs)
		return nil, fmt.Errorf("build payment url: %w", err)
	}
	return &ReserveResult{Payment: payment, Tickets: tickets, PaymentURL: payURL}, nil
}

// compensate unwinds a committed reservation whose payment URL could not
// be built: tickets are invalidated and unlinked, seats released, the
// coupon usage returned, and the payment row removed.  Failures here are
// logged, not returned, since the caller already has the original error.
func (s *ReservationService) compensate(ctx context.Context, payment *model.Payment, tickets []model.Ticket, seatIDs []uint64) {
	ticketIDs := make([]uint64, 0, len(tickets))
	for _, t := range tickets {
		ticketIDs = append(ticketIDs, t.ID)
	}
	err := s.store.RunInTx(ctx, func(tx storage.Tx) error {
		if err := tx.UpdateTicketStates(ctx, ticketIDs, model.TicketInvalid); err != nil {
			return err
		}
		if err := tx.UnlinkTickets(ctx, payment.ID); err != nil {
			return err
		}
		if err := tx.UpdateSeatStates(ctx, seatIDs, model.SeatAvailable, "", nil); err != nil {
			return err
		}
		if err := s.coupons.ReleaseTx(ctx, tx, payment.ID); err != nil {
			return err
		}
		return tx.DeletePayment(ctx, payment.ID)
	})
	if err != nil {
		log.Printf("[reservation] compensation failed for ref=%s: %v", payment.MerchantOrderRef, err)
	}
}

// newOrderRef builds the merchant order ref shared with the gateway.
// The millisecond prefix keeps refs roughly sortable; the random suffix
// makes collisions within one millisecond practically impossible, and a
// real collision still trips the unique index.
func newOrderRef(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

func newTicketCode() string {
	return "TCK-" + strings.ToUpper(uuid.NewString()[:8])
}
