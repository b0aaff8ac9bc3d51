package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// MySQLStore implements Store over a *sql.DB.  All timestamps are stored
// and compared in UTC; the DSN must carry parseTime=true&loc=UTC.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore wraps an open database handle.
func NewMySQLStore(db *sql.DB) *MySQLStore { return &MySQLStore{db: db} }

// Close releases the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

// RunInTx opens a transaction, runs fn and commits unless fn failed.  The
// rollback-on-error is handled here so callers never juggle tx state.
func (s *MySQLStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// mysqlTx implements Tx over one *sql.Tx.
type mysqlTx struct {
	tx *sql.Tx
}

// placeholders returns "?,?,?" with n entries for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func idArgs(ids []uint64) []interface{} {
	args := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}

const seatCols = `id, trip_id, number, price, status, reserved_by, reserved_until, created_at, updated_at`

func scanSeat(row interface{ Scan(...interface{}) error }) (model.Seat, error) {
	var st model.Seat
	var reservedBy sql.NullString
	var reservedUntil sql.NullTime
	var status string
	err := row.Scan(&st.ID, &st.TripID, &st.Number, &st.Price, &status,
		&reservedBy, &reservedUntil, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return model.Seat{}, err
	}
	st.Status = model.SeatStatus(status)
	if reservedBy.Valid {
		st.ReservedBy = reservedBy.String
	}
	if reservedUntil.Valid {
		t := reservedUntil.Time.UTC()
		st.ReservedUntil = &t
	}
	return st, nil
}

// SeatsForUpdate loads the requested seats with a row lock so that two
// concurrent reservations of the same seat serialize.  Seats are returned
// in a deterministic order; missing IDs simply do not appear.
func (t *mysqlTx) SeatsForUpdate(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	if len(ids) == 0 {
		return []model.Seat{}, nil
	}
	query := `SELECT ` + seatCols + ` FROM seats WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id FOR UPDATE`
	rows, err := t.tx.QueryContext(ctx, query, idArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := make([]model.Seat, 0, len(ids))
	for rows.Next() {
		st, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, st)
	}
	return seats, rows.Err()
}

// UpdateSeatStates sets status and hold columns for every given seat in one
// statement.  An empty reservedBy clears the hold owner; a nil
// reservedUntil clears the deadline.
func (t *mysqlTx) UpdateSeatStates(ctx context.Context, ids []uint64, status model.SeatStatus, reservedBy string, reservedUntil *time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	var by sql.NullString
	if reservedBy != "" {
		by = sql.NullString{String: reservedBy, Valid: true}
	}
	var until sql.NullTime
	if reservedUntil != nil {
		until = sql.NullTime{Time: reservedUntil.UTC(), Valid: true}
	}
	query := `UPDATE seats SET status = ?, reserved_by = ?, reserved_until = ?, updated_at = UTC_TIMESTAMP()
	          WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{string(status), by, until}, idArgs(ids)...)
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

const ticketCols = `id, code, trip_id, seat_id, payment_id, status, final_price, created_at, updated_at`

func scanTicket(row interface{ Scan(...interface{}) error }) (model.Ticket, error) {
	var tk model.Ticket
	var paymentID sql.NullInt64
	var status string
	err := row.Scan(&tk.ID, &tk.Code, &tk.TripID, &tk.SeatID, &paymentID,
		&status, &tk.FinalPrice, &tk.CreatedAt, &tk.UpdatedAt)
	if err != nil {
		return model.Ticket{}, err
	}
	tk.Status = model.TicketStatus(status)
	if paymentID.Valid {
		tk.PaymentID = uint64(paymentID.Int64)
	}
	return tk, nil
}

// ActiveTicketsBySeatIDs returns tickets that still claim one of the given
// seats, i.e. everything outside the cancelled/invalid/expired/refunded
// states.  The reservation manager uses this to detect seats that are
// already part of a live purchase.
func (t *mysqlTx) ActiveTicketsBySeatIDs(ctx context.Context, seatIDs []uint64) ([]model.Ticket, error) {
	if len(seatIDs) == 0 {
		return []model.Ticket{}, nil
	}
	query := `SELECT ` + ticketCols + ` FROM tickets
	          WHERE seat_id IN (` + placeholders(len(seatIDs)) + `)
	            AND status NOT IN ('CANCELLED','INVALID','EXPIRED','REFUNDED')`
	rows, err := t.tx.QueryContext(ctx, query, idArgs(seatIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tickets []model.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, tk)
	}
	return tickets, rows.Err()
}

// CreateTicket inserts one ticket and populates its generated ID.
func (t *mysqlTx) CreateTicket(ctx context.Context, tk *model.Ticket) error {
	var paymentID sql.NullInt64
	if tk.PaymentID != 0 {
		paymentID = sql.NullInt64{Int64: int64(tk.PaymentID), Valid: true}
	}
	const q = `INSERT INTO tickets (code, trip_id, seat_id, payment_id, status, final_price)
	           VALUES (?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, tk.Code, tk.TripID, tk.SeatID, paymentID, string(tk.Status), tk.FinalPrice)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	tk.ID = uint64(id)
	return nil
}

func (t *mysqlTx) TicketsByPaymentID(ctx context.Context, paymentID uint64) ([]model.Ticket, error) {
	const q = `SELECT ` + ticketCols + ` FROM tickets WHERE payment_id = ? ORDER BY id`
	rows, err := t.tx.QueryContext(ctx, q, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tickets []model.Ticket
	for rows.Next() {
		tk, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, tk)
	}
	return tickets, rows.Err()
}

func (t *mysqlTx) UpdateTicketStates(ctx context.Context, ids []uint64, status model.TicketStatus) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE tickets SET status = ?, updated_at = UTC_TIMESTAMP() WHERE id IN (` + placeholders(len(ids)) + `)`
	args := append([]interface{}{string(status)}, idArgs(ids)...)
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

const paymentCols = `id, merchant_order_ref, user_id, guest_name, guest_email, guest_phone, method_code,
	order_total, discount_amount, amount, status, gateway_transaction_no, gateway_response_data,
	expired_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...interface{}) error }) (*model.Payment, error) {
	var p model.Payment
	var userID, txnNo, respData sql.NullString
	var status string
	err := row.Scan(&p.ID, &p.MerchantOrderRef, &userID, &p.GuestName, &p.GuestEmail, &p.GuestPhone,
		&p.MethodCode, &p.OrderTotal, &p.DiscountAmount, &p.Amount, &status,
		&txnNo, &respData, &p.ExpiredAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Status = model.PaymentStatus(status)
	p.UserID = userID.String
	p.GatewayTransactionNo = txnNo.String
	p.GatewayResponseData = respData.String
	return &p, nil
}

// CreatePayment inserts one payment row.  A uniqueness violation on
// merchant_order_ref is reported as ErrDuplicateOrderRef so the caller can
// abort cleanly instead of silently overwriting an earlier attempt.
func (t *mysqlTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	var userID sql.NullString
	if p.UserID != "" {
		userID = sql.NullString{String: p.UserID, Valid: true}
	}
	const q = `INSERT INTO payments (merchant_order_ref, user_id, guest_name, guest_email, guest_phone,
	            method_code, order_total, discount_amount, amount, status, expired_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, p.MerchantOrderRef, userID, p.GuestName, p.GuestEmail, p.GuestPhone,
		p.MethodCode, p.OrderTotal, p.DiscountAmount, p.Amount, string(p.Status),
		p.ExpiredAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == 1062 {
			return ErrDuplicateOrderRef
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = uint64(id)
	return nil
}

// PaymentByRefForUpdate loads a payment by its merchant order ref with a
// row lock.  Concurrent callback deliveries for the same ref serialize on
// this lock; the second delivery then observes a terminal status.
func (t *mysqlTx) PaymentByRefForUpdate(ctx context.Context, ref string) (*model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE merchant_order_ref = ? FOR UPDATE`
	p, err := scanPayment(t.tx.QueryRowContext(ctx, q, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (t *mysqlTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	const q = `UPDATE payments SET status = ?, gateway_transaction_no = ?, gateway_response_data = ?,
	            updated_at = UTC_TIMESTAMP() WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, q, string(p.Status), p.GatewayTransactionNo, p.GatewayResponseData, p.ID)
	return err
}

func (t *mysqlTx) DeletePayment(ctx context.Context, id uint64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	return err
}

func (t *mysqlTx) LinkTicket(ctx context.Context, paymentID, ticketID uint64) error {
	const q = `INSERT INTO payment_tickets (payment_id, ticket_id) VALUES (?, ?)`
	if _, err := t.tx.ExecContext(ctx, q, paymentID, ticketID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(ctx, `UPDATE tickets SET payment_id = ? WHERE id = ?`, paymentID, ticketID)
	return err
}

func (t *mysqlTx) UnlinkTickets(ctx context.Context, paymentID uint64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM payment_tickets WHERE payment_id = ?`, paymentID)
	return err
}

// StalePendingPayments lists payments still PENDING past their reservation
// window.  The sweep locks each one individually afterwards, so no lock is
// taken here.
func (t *mysqlTx) StalePendingPayments(ctx context.Context, now time.Time, limit int) ([]model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments
	           WHERE status = 'PENDING' AND expired_at <= ? ORDER BY expired_at LIMIT ?`
	rows, err := t.tx.QueryContext(ctx, q, now.UTC().Format("2006-01-02 15:04:05"), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const couponCols = `id, code, type, value, max_usage, current_usage_count, start_period, end_period, is_active, created_at, updated_at`

func scanCoupon(row interface{ Scan(...interface{}) error }) (*model.Coupon, error) {
	var cp model.Coupon
	var typ string
	err := row.Scan(&cp.ID, &cp.Code, &typ, &cp.Value, &cp.MaxUsage, &cp.CurrentUsageCount,
		&cp.StartPeriod, &cp.EndPeriod, &cp.IsActive, &cp.CreatedAt, &cp.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cp.Type = model.CouponType(typ)
	return &cp, nil
}

// CouponByCodeForUpdate loads a coupon with a row lock.  This is the one
// cross-request contention point of the engine: every mutating coupon path
// serializes here.
func (t *mysqlTx) CouponByCodeForUpdate(ctx context.Context, code string) (*model.Coupon, error) {
	const q = `SELECT ` + couponCols + ` FROM coupons WHERE code = ? FOR UPDATE`
	cp, err := scanCoupon(t.tx.QueryRowContext(ctx, q, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

func (t *mysqlTx) AdjustCouponUsageCount(ctx context.Context, couponID uint64, delta int) error {
	const q = `UPDATE coupons SET current_usage_count = current_usage_count + ?, updated_at = UTC_TIMESTAMP() WHERE id = ?`
	_, err := t.tx.ExecContext(ctx, q, delta, couponID)
	return err
}

func (t *mysqlTx) CreateCouponUsage(ctx context.Context, u *model.CouponUsage) error {
	var userID sql.NullString
	if u.UserID != "" {
		userID = sql.NullString{String: u.UserID, Valid: true}
	}
	const q = `INSERT INTO coupon_usages (coupon_id, payment_id, user_id, discount_amount) VALUES (?, ?, ?, ?)`
	res, err := t.tx.ExecContext(ctx, q, u.CouponID, u.PaymentID, userID, u.DiscountAmount)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = uint64(id)
	return nil
}

func (t *mysqlTx) CouponUsageByPaymentID(ctx context.Context, paymentID uint64) (*model.CouponUsage, error) {
	const q = `SELECT id, coupon_id, payment_id, COALESCE(user_id, ''), discount_amount, created_at
	           FROM coupon_usages WHERE payment_id = ?`
	var u model.CouponUsage
	err := t.tx.QueryRowContext(ctx, q, paymentID).Scan(&u.ID, &u.CouponID, &u.PaymentID, &u.UserID, &u.DiscountAmount, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *mysqlTx) DeleteCouponUsageByPaymentID(ctx context.Context, paymentID uint64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM coupon_usages WHERE payment_id = ?`, paymentID)
	return err
}

func (t *mysqlTx) CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`
	var n int
	if err := t.tx.QueryRowContext(ctx, q, couponID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Read-only paths outside transactions.

func (s *MySQLStore) CouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	const q = `SELECT ` + couponCols + ` FROM coupons WHERE code = ?`
	cp, err := scanCoupon(s.db.QueryRowContext(ctx, q, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return cp, err
}

func (s *MySQLStore) CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error) {
	const q = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`
	var n int
	if err := s.db.QueryRowContext(ctx, q, couponID, userID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *MySQLStore) SeatsByTrip(ctx context.Context, tripID uint64) ([]model.Seat, error) {
	const q = `SELECT ` + seatCols + ` FROM seats WHERE trip_id = ? ORDER BY number`
	rows, err := s.db.QueryContext(ctx, q, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := make([]model.Seat, 0)
	for rows.Next() {
		st, err := scanSeat(rows)
		if err != nil {
			return nil, err
		}
		seats = append(seats, st)
	}
	return seats, rows.Err()
}

func (s *MySQLStore) TripByID(ctx context.Context, id uint64) (*model.Trip, error) {
	const q = `SELECT id, name, origin, destination, departs_at, created_at FROM trips WHERE id = ?`
	var tr model.Trip
	err := s.db.QueryRowContext(ctx, q, id).Scan(&tr.ID, &tr.Name, &tr.Origin, &tr.Destination, &tr.DepartsAt, &tr.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tr, nil
}

func (s *MySQLStore) PaymentByRef(ctx context.Context, ref string) (*model.Payment, error) {
	const q = `SELECT ` + paymentCols + ` FROM payments WHERE merchant_order_ref = ?`
	p, err := scanPayment(s.db.QueryRowContext(ctx, q, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}
