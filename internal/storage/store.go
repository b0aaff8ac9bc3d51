// Package storage is the ledger store of the booking engine.  It exposes
// the atomic read/lock/write operations over seats, tickets, payments,
// coupons and coupon usages that the services compose into transactions.
// Two implementations exist: a MySQL store used in production and an
// in-memory store used by the test suite.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// Sentinel errors shared by both store implementations.  Services compare
// with errors.Is and translate to their own failure vocabulary.
var (
	ErrNotFound          = errors.New("storage: not found")
	ErrDuplicateOrderRef = errors.New("storage: duplicate merchant order ref")
)

// Tx is the set of ledger operations available inside one transaction.
// Methods with ForUpdate in the name acquire a row lock so that concurrent
// transactions against the same row serialize; locks are only taken on the
// two contended entities, coupons and payments, plus the seats being
// reserved.
type Tx interface {
	// Seats.
	SeatsForUpdate(ctx context.Context, ids []uint64) ([]model.Seat, error)
	UpdateSeatStates(ctx context.Context, ids []uint64, status model.SeatStatus, reservedBy string, reservedUntil *time.Time) error

	// Tickets.
	ActiveTicketsBySeatIDs(ctx context.Context, seatIDs []uint64) ([]model.Ticket, error)
	CreateTicket(ctx context.Context, t *model.Ticket) error
	TicketsByPaymentID(ctx context.Context, paymentID uint64) ([]model.Ticket, error)
	UpdateTicketStates(ctx context.Context, ids []uint64, status model.TicketStatus) error

	// Payments.
	CreatePayment(ctx context.Context, p *model.Payment) error
	PaymentByRefForUpdate(ctx context.Context, ref string) (*model.Payment, error)
	UpdatePayment(ctx context.Context, p *model.Payment) error
	DeletePayment(ctx context.Context, id uint64) error
	LinkTicket(ctx context.Context, paymentID, ticketID uint64) error
	UnlinkTickets(ctx context.Context, paymentID uint64) error
	StalePendingPayments(ctx context.Context, now time.Time, limit int) ([]model.Payment, error)

	// Coupons.
	CouponByCodeForUpdate(ctx context.Context, code string) (*model.Coupon, error)
	AdjustCouponUsageCount(ctx context.Context, couponID uint64, delta int) error
	CreateCouponUsage(ctx context.Context, u *model.CouponUsage) error
	CouponUsageByPaymentID(ctx context.Context, paymentID uint64) (*model.CouponUsage, error)
	DeleteCouponUsageByPaymentID(ctx context.Context, paymentID uint64) error
	CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error)
}

// Store opens transactions and serves the read-only paths that do not need
// locking (coupon preview, seat maps, payment lookups for display).
type Store interface {
	// RunInTx runs fn inside one transaction.  When fn returns an error
	// the transaction is rolled back and the error returned unchanged;
	// otherwise the transaction commits.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error

	CouponByCode(ctx context.Context, code string) (*model.Coupon, error)
	CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error)
	SeatsByTrip(ctx context.Context, tripID uint64) ([]model.Seat, error)
	TripByID(ctx context.Context, id uint64) (*model.Trip, error)
	PaymentByRef(ctx context.Context, ref string) (*model.Payment, error)

	Close() error
}
