package model

import "time"

// Ticket represents one seat within one purchase.  Tickets are created by
// the reservation manager, owned exclusively by the payment that created
// them and mutated only by the engine.
//
// Fields:
//  ID         – primary key identifier.
//  Code       – public ticket code printed on the ticket.
//  TripID     – trip the seat belongs to.
//  SeatID     – seat this ticket occupies.
//  PaymentID  – owning payment; zero until linked.
//  Status     – ticket lifecycle state.
//  FinalPrice – price charged for this seat.
//  CreatedAt  – creation timestamp.
//  UpdatedAt  – last update timestamp.
type Ticket struct {
	ID         uint64       // tickets.id
	Code       string       // tickets.code
	TripID     uint64       // tickets.trip_id
	SeatID     uint64       // tickets.seat_id
	PaymentID  uint64       // tickets.payment_id
	Status     TicketStatus // tickets.status
	FinalPrice float64      // tickets.final_price
	CreatedAt  time.Time    // tickets.created_at
	UpdatedAt  time.Time    // tickets.updated_at
}

// PaymentTicket links a payment to a ticket.  The linkage rows are the
// unit the compensation path deletes when a reservation has to be rolled
// back after partial persistence.
type PaymentTicket struct {
	PaymentID uint64 // payment_tickets.payment_id
	TicketID  uint64 // payment_tickets.ticket_id
}
