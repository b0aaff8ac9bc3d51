// Package model defines the entities of the booking engine and the closed
// status sets that govern their lifecycles.  Status values are persisted as
// strings; the typed constants below are the only values the engine will
// ever write.
package model

// SeatStatus enumerates the lifecycle of a seat on a trip.
// AVAILABLE -> RESERVED (payment pending) -> BOOKED (payment completed)
// -> AVAILABLE again on refund, cancellation or expiry.
type SeatStatus string

const (
	SeatAvailable SeatStatus = "AVAILABLE"
	SeatReserved  SeatStatus = "RESERVED"
	SeatBooked    SeatStatus = "BOOKED"
)

// TicketStatus enumerates the lifecycle of a ticket.  A ticket is owned by
// the payment that created it and is only ever mutated by the engine.
type TicketStatus string

const (
	TicketPending   TicketStatus = "PENDING"
	TicketBooked    TicketStatus = "BOOKED"
	TicketCancelled TicketStatus = "CANCELLED"
	TicketCompleted TicketStatus = "COMPLETED"
	TicketRefunded  TicketStatus = "REFUNDED"
	TicketInvalid   TicketStatus = "INVALID"
	TicketExpired   TicketStatus = "EXPIRED"
)

// Active reports whether the ticket still claims its seat.  Tickets in a
// cancelled, invalid, expired or refunded state no longer block a new
// purchase of the same seat.
func (s TicketStatus) Active() bool {
	switch s {
	case TicketCancelled, TicketInvalid, TicketExpired, TicketRefunded:
		return false
	}
	return true
}

// PaymentStatus enumerates the states of a purchase attempt.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
	PaymentExpired   PaymentStatus = "EXPIRED"
	// REFUNDING marks a refund in flight at the gateway.  The payment is
	// claimed under its row lock before the provider is called, so a
	// concurrent refund of the same payment fails eligibility instead of
	// reaching the provider a second time.
	PaymentRefunding         PaymentStatus = "REFUNDING"
	PaymentRefunded          PaymentStatus = "REFUNDED"
	PaymentPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
)

// Terminal reports whether a payment may no longer transition through the
// callback reconciler.  Replayed callbacks against a terminal payment are
// no-ops.
func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

// CouponType selects the discount formula of a coupon.
type CouponType string

const (
	CouponFixed      CouponType = "FIXED"
	CouponPercentage CouponType = "PERCENTAGE"
)

// Outcome describes the ticket and seat state that accompany a payment
// status transition.  The callback reconciler and the expiry sweep both
// apply transitions through this single table so the two paths cannot
// drift apart.  Every transition out of PENDING ends the hold, so the
// reserved_by / reserved_until columns are always cleared alongside it.
type Outcome struct {
	Ticket TicketStatus // state applied to every linked ticket
	Seat   SeatStatus   // state applied to every linked seat
}

// paymentOutcomes maps each terminal payment status reachable from PENDING
// to its ticket/seat outcome.  FAILED, CANCELLED and EXPIRED share one
// branch: tickets become INVALID and seats return to the pool.
var paymentOutcomes = map[PaymentStatus]Outcome{
	PaymentCompleted: {Ticket: TicketBooked, Seat: SeatBooked},
	PaymentFailed:    {Ticket: TicketInvalid, Seat: SeatAvailable},
	PaymentCancelled: {Ticket: TicketInvalid, Seat: SeatAvailable},
	PaymentExpired:   {Ticket: TicketInvalid, Seat: SeatAvailable},
}

// OutcomeFor returns the ticket/seat outcome for a payment transition from
// PENDING to the given status.  The second return value is false for
// statuses the reconciler must not apply (including PENDING itself).
func OutcomeFor(s PaymentStatus) (Outcome, bool) {
	o, ok := paymentOutcomes[s]
	return o, ok
}
