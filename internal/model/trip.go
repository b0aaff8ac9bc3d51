package model

import "time"

// Trip describes one scheduled bus departure.  Trips are managed outside
// the booking engine; the engine only reads them to list seats and to
// label payment descriptions.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – human readable label (e.g. route number).
//  Origin      – departure station.
//  Destination – arrival station.
//  DepartsAt   – scheduled departure time in UTC.
//  CreatedAt   – creation timestamp.
type Trip struct {
	ID          uint64    // trips.id
	Name        string    // trips.name
	Origin      string    // trips.origin
	Destination string    // trips.destination
	DepartsAt   time.Time // trips.departs_at
	CreatedAt   time.Time // trips.created_at
}

// Seat is one sellable seat on a trip.  A seat is BOOKED only while
// exactly one active ticket references it; RESERVED seats carry the
// purchaser and the hold deadline so the expiry sweep can return them
// to the pool.
//
// Fields:
//  ID            – primary key identifier.
//  TripID        – trip this seat belongs to.
//  Number        – seat label within the vehicle (e.g. "A12").
//  Price         – list price for this seat.
//  Status        – AVAILABLE, RESERVED or BOOKED.
//  ReservedBy    – purchaser holding the seat; empty when not held.
//  ReservedUntil – hold deadline; nil when not held.
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Seat struct {
	ID            uint64     // seats.id
	TripID        uint64     // seats.trip_id
	Number        string     // seats.number
	Price         float64    // seats.price
	Status        SeatStatus // seats.status
	ReservedBy    string     // seats.reserved_by (empty = none)
	ReservedUntil *time.Time // seats.reserved_until (nullable)
	CreatedAt     time.Time  // seats.created_at
	UpdatedAt     time.Time  // seats.updated_at
}
