package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// MemoryStore is an in-memory Store used by the test suite.  A single
// mutex serializes transactions, which trivially satisfies the row-lock
// semantics the services rely on; rollback is implemented by restoring a
// snapshot taken when the transaction began.
type MemoryStore struct {
	mu sync.Mutex
	d  memData
}

type memData struct {
	trips    map[uint64]model.Trip
	seats    map[uint64]model.Seat
	tickets  map[uint64]model.Ticket
	payments map[uint64]model.Payment
	links    map[uint64][]uint64 // payment id -> ticket ids
	coupons  map[uint64]model.Coupon
	usages   map[uint64]model.CouponUsage
	nextID   uint64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{d: memData{
		trips:    map[uint64]model.Trip{},
		seats:    map[uint64]model.Seat{},
		tickets:  map[uint64]model.Ticket{},
		payments: map[uint64]model.Payment{},
		links:    map[uint64][]uint64{},
		coupons:  map[uint64]model.Coupon{},
		usages:   map[uint64]model.CouponUsage{},
		nextID:   1,
	}}
}

func (s *MemoryStore) Close() error { return nil }

func (d memData) clone() memData {
	c := memData{
		trips:    make(map[uint64]model.Trip, len(d.trips)),
		seats:    make(map[uint64]model.Seat, len(d.seats)),
		tickets:  make(map[uint64]model.Ticket, len(d.tickets)),
		payments: make(map[uint64]model.Payment, len(d.payments)),
		links:    make(map[uint64][]uint64, len(d.links)),
		coupons:  make(map[uint64]model.Coupon, len(d.coupons)),
		usages:   make(map[uint64]model.CouponUsage, len(d.usages)),
		nextID:   d.nextID,
	}
	for k, v := range d.trips {
		c.trips[k] = v
	}
	for k, v := range d.seats {
		if v.ReservedUntil != nil {
			t := *v.ReservedUntil
			v.ReservedUntil = &t
		}
		c.seats[k] = v
	}
	for k, v := range d.tickets {
		c.tickets[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.links {
		ids := make([]uint64, len(v))
		copy(ids, v)
		c.links[k] = ids
	}
	for k, v := range d.coupons {
		c.coupons[k] = v
	}
	for k, v := range d.usages {
		c.usages[k] = v
	}
	return c
}

// RunInTx serializes the whole transaction under the store mutex and
// restores the pre-transaction snapshot when fn fails.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.d.clone()
	if err := fn(&memTx{d: &s.d}); err != nil {
		s.d = snapshot
		return err
	}
	return ctx.Err()
}

// Seed helpers used by tests to set up fixtures.

func (s *MemoryStore) AddTrip(t model.Trip) model.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.ID == 0 {
		t.ID = s.d.nextID
		s.d.nextID++
	}
	s.d.trips[t.ID] = t
	return t
}

func (s *MemoryStore) AddSeat(st model.Seat) model.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.d.nextID
		s.d.nextID++
	}
	if st.Status == "" {
		st.Status = model.SeatAvailable
	}
	s.d.seats[st.ID] = st
	return st
}

func (s *MemoryStore) AddCoupon(cp model.Coupon) model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.ID == 0 {
		cp.ID = s.d.nextID
		s.d.nextID++
	}
	s.d.coupons[cp.ID] = cp
	return cp
}

// Seat returns a copy of one seat for assertions.
func (s *MemoryStore) Seat(id uint64) (model.Seat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.d.seats[id]
	return st, ok
}

// Ticket returns a copy of one ticket for assertions.
func (s *MemoryStore) Ticket(id uint64) (model.Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.d.tickets[id]
	return tk, ok
}

// Coupon returns a copy of one coupon for assertions.
func (s *MemoryStore) Coupon(id uint64) (model.Coupon, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.d.coupons[id]
	return cp, ok
}

// UsageCount reports how many usage rows exist for a coupon, optionally
// filtered by user.
func (s *MemoryStore) UsageCount(couponID uint64, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.d.usages {
		if u.CouponID == couponID && (userID == "" || u.UserID == userID) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) CouponByCode(ctx context.Context, code string) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cp := range s.d.coupons {
		if cp.Code == code {
			c := cp
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.d.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) SeatsByTrip(ctx context.Context, tripID uint64) ([]model.Seat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seats := make([]model.Seat, 0)
	for _, st := range s.d.seats {
		if st.TripID == tripID {
			seats = append(seats, st)
		}
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].Number < seats[j].Number })
	return seats, nil
}

func (s *MemoryStore) TripByID(ctx context.Context, id uint64) (*model.Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.d.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &tr, nil
}

func (s *MemoryStore) PaymentByRef(ctx context.Context, ref string) (*model.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.d.payments {
		if p.MerchantOrderRef == ref {
			c := p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// memTx implements Tx against the live data; the snapshot in RunInTx
// provides rollback.
type memTx struct {
	d *memData
}

func (t *memTx) alloc() uint64 {
	id := t.d.nextID
	t.d.nextID++
	return id
}

func (t *memTx) SeatsForUpdate(ctx context.Context, ids []uint64) ([]model.Seat, error) {
	seats := make([]model.Seat, 0, len(ids))
	for _, id := range ids {
		if st, ok := t.d.seats[id]; ok {
			seats = append(seats, st)
		}
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i].ID < seats[j].ID })
	return seats, nil
}

func (t *memTx) UpdateSeatStates(ctx context.Context, ids []uint64, status model.SeatStatus, reservedBy string, reservedUntil *time.Time) error {
	for _, id := range ids {
		st, ok := t.d.seats[id]
		if !ok {
			continue
		}
		st.Status = status
		st.ReservedBy = reservedBy
		if reservedUntil != nil {
			u := reservedUntil.UTC()
			st.ReservedUntil = &u
		} else {
			st.ReservedUntil = nil
		}
		st.UpdatedAt = time.Now().UTC()
		t.d.seats[id] = st
	}
	return nil
}

func (t *memTx) ActiveTicketsBySeatIDs(ctx context.Context, seatIDs []uint64) ([]model.Ticket, error) {
	want := make(map[uint64]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		want[id] = struct{}{}
	}
	var out []model.Ticket
	for _, tk := range t.d.tickets {
		if _, ok := want[tk.SeatID]; ok && tk.Status.Active() {
			out = append(out, tk)
		}
	}
	return out, nil
}

func (t *memTx) CreateTicket(ctx context.Context, tk *model.Ticket) error {
	tk.ID = t.alloc()
	tk.CreatedAt = time.Now().UTC()
	tk.UpdatedAt = tk.CreatedAt
	t.d.tickets[tk.ID] = *tk
	return nil
}

func (t *memTx) TicketsByPaymentID(ctx context.Context, paymentID uint64) ([]model.Ticket, error) {
	var out []model.Ticket
	for _, tk := range t.d.tickets {
		if tk.PaymentID == paymentID {
			out = append(out, tk)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateTicketStates(ctx context.Context, ids []uint64, status model.TicketStatus) error {
	for _, id := range ids {
		if tk, ok := t.d.tickets[id]; ok {
			tk.Status = status
			tk.UpdatedAt = time.Now().UTC()
			t.d.tickets[id] = tk
		}
	}
	return nil
}

func (t *memTx) CreatePayment(ctx context.Context, p *model.Payment) error {
	for _, existing := range t.d.payments {
		if existing.MerchantOrderRef == p.MerchantOrderRef {
			return ErrDuplicateOrderRef
		}
	}
	p.ID = t.alloc()
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	t.d.payments[p.ID] = *p
	return nil
}

func (t *memTx) PaymentByRefForUpdate(ctx context.Context, ref string) (*model.Payment, error) {
	for _, p := range t.d.payments {
		if p.MerchantOrderRef == ref {
			c := p
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) UpdatePayment(ctx context.Context, p *model.Payment) error {
	if _, ok := t.d.payments[p.ID]; !ok {
		return ErrNotFound
	}
	p.UpdatedAt = time.Now().UTC()
	t.d.payments[p.ID] = *p
	return nil
}

func (t *memTx) DeletePayment(ctx context.Context, id uint64) error {
	delete(t.d.payments, id)
	return nil
}

func (t *memTx) LinkTicket(ctx context.Context, paymentID, ticketID uint64) error {
	t.d.links[paymentID] = append(t.d.links[paymentID], ticketID)
	if tk, ok := t.d.tickets[ticketID]; ok {
		tk.PaymentID = paymentID
		t.d.tickets[ticketID] = tk
	}
	return nil
}

func (t *memTx) UnlinkTickets(ctx context.Context, paymentID uint64) error {
	delete(t.d.links, paymentID)
	return nil
}

func (t *memTx) StalePendingPayments(ctx context.Context, now time.Time, limit int) ([]model.Payment, error) {
	var out []model.Payment
	for _, p := range t.d.payments {
		if p.Status == model.PaymentPending && !p.ExpiredAt.After(now) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiredAt.Before(out[j].ExpiredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) CouponByCodeForUpdate(ctx context.Context, code string) (*model.Coupon, error) {
	for _, cp := range t.d.coupons {
		if cp.Code == code {
			c := cp
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) AdjustCouponUsageCount(ctx context.Context, couponID uint64, delta int) error {
	cp, ok := t.d.coupons[couponID]
	if !ok {
		return ErrNotFound
	}
	cp.CurrentUsageCount += delta
	cp.UpdatedAt = time.Now().UTC()
	t.d.coupons[couponID] = cp
	return nil
}

func (t *memTx) CreateCouponUsage(ctx context.Context, u *model.CouponUsage) error {
	u.ID = t.alloc()
	u.CreatedAt = time.Now().UTC()
	t.d.usages[u.ID] = *u
	return nil
}

func (t *memTx) CouponUsageByPaymentID(ctx context.Context, paymentID uint64) (*model.CouponUsage, error) {
	for _, u := range t.d.usages {
		if u.PaymentID == paymentID {
			c := u
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) DeleteCouponUsageByPaymentID(ctx context.Context, paymentID uint64) error {
	for id, u := range t.d.usages {
		if u.PaymentID == paymentID {
			delete(t.d.usages, id)
		}
	}
	return nil
}

func (t *memTx) CountCouponUsagesByUser(ctx context.Context, couponID uint64, userID string) (int, error) {
	n := 0
	for _, u := range t.d.usages {
		if u.CouponID == couponID && u.UserID == userID {
			n++
		}
	}
	return n, nil
}
