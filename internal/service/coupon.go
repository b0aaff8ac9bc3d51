// Package service implements the booking engine's business rules on top
// of the storage and gateway layers.  Each service is constructed once
// with its dependencies and is safe for concurrent use.
package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

// Coupon failure vocabulary.  Handlers map these to HTTP statuses.
var (
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrCouponInactive    = errors.New("coupon is not active")
	ErrCouponNotYetValid = errors.New("coupon is not valid yet")
	ErrCouponExpired     = errors.New("coupon has expired")
	ErrCouponUsageLimit  = errors.New("coupon usage limit reached")
	ErrCouponConfig      = errors.New("coupon is misconfigured")
)

// CouponService validates coupons and accounts for their usage.  All
// mutating paths run inside a caller-provided transaction and take a row
// lock on the coupon first, so the usage counter can never exceed the cap
// under concurrency.
type CouponService struct {
	store storage.Store
	now   func() time.Time
}

func NewCouponService(store storage.Store) *CouponService {
	return &CouponService{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// validate checks everything about the coupon that does not depend on the
// purchaser: active flag, validity window, global usage cap.
func validateCoupon(c *model.Coupon, now time.Time) error {
	if !c.IsActive {
		return ErrCouponInactive
	}
	if now.Before(c.StartPeriod) {
		return ErrCouponNotYetValid
	}
	if now.After(c.EndPeriod) {
		return ErrCouponExpired
	}
	if c.MaxUsage > 0 && c.CurrentUsageCount >= c.MaxUsage {
		return ErrCouponUsageLimit
	}
	return nil
}

// discountFor computes the discount a coupon grants on an order total.
// A coupon whose value is zero or negative is misconfigured, not a zero
// discount.  The result is clamped to [0, orderTotal] and rounded to 2
// decimals so a FIXED coupon larger than the order can never push the
// charge negative.
func discountFor(c *model.Coupon, orderTotal float64) (float64, error) {
	if c.Value <= 0 {
		return 0, ErrCouponConfig
	}
	var d float64
	switch c.Type {
	case model.CouponFixed:
		d = c.Value
	case model.CouponPercentage:
		d = orderTotal * c.Value / 100
	default:
		return 0, ErrCouponConfig
	}
	if d > orderTotal {
		d = orderTotal
	}
	return math.Round(d*100) / 100, nil
}

// PreviewDiscount runs the full eligibility check read-only, without
// locking anything, and returns the discount the coupon would grant.
// Used by the preview endpoint before checkout.
func (s *CouponService) PreviewDiscount(ctx context.Context, code, userID string, orderTotal float64) (float64, error) {
	c, err := s.store.CouponByCode(ctx, normalizeCode(code))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, ErrCouponNotFound
		}
		return 0, err
	}
	if err := validateCoupon(c, s.now()); err != nil {
		return 0, err
	}
	if userID != "" && c.MaxUsage > 0 {
		used, err := s.store.CountCouponUsagesByUser(ctx, c.ID, userID)
		if err != nil {
			return 0, err
		}
		if used >= c.MaxUsage {
			return 0, ErrCouponUsageLimit
		}
	}
	return discountFor(c, orderTotal)
}

// ApplyTx re-runs the eligibility check under a row lock inside the
// caller's transaction and returns the locked coupon plus the discount.
// Guests (empty userID) skip the per-user cap since there is no identity
// to count against.
func (s *CouponService) ApplyTx(ctx context.Context, tx storage.Tx, code, userID string, orderTotal float64) (*model.Coupon, float64, error) {
	c, err := tx.CouponByCodeForUpdate(ctx, normalizeCode(code))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, ErrCouponNotFound
		}
		return nil, 0, err
	}
	if err := validateCoupon(c, s.now()); err != nil {
		return nil, 0, err
	}
	if userID != "" && c.MaxUsage > 0 {
		used, err := tx.CountCouponUsagesByUser(ctx, c.ID, userID)
		if err != nil {
			return nil, 0, err
		}
		if used >= c.MaxUsage {
			return nil, 0, ErrCouponUsageLimit
		}
	}
	d, err := discountFor(c, orderTotal)
	if err != nil {
		return nil, 0, err
	}
	return c, d, nil
}

// ReserveTx records one consumption: the usage counter increments and the
// usage row is written in the same transaction, so the two can never
// drift apart.
func (s *CouponService) ReserveTx(ctx context.Context, tx storage.Tx, c *model.Coupon, paymentID uint64, userID string, discount float64) error {
	if err := tx.AdjustCouponUsageCount(ctx, c.ID, +1); err != nil {
		return err
	}
	return tx.CreateCouponUsage(ctx, &model.CouponUsage{
		CouponID:       c.ID,
		PaymentID:      paymentID,
		UserID:         userID,
		DiscountAmount: discount,
		CreatedAt:      s.now(),
	})
}

// ReleaseTx undoes the consumption recorded for a payment, if any.  A
// payment without a usage row is a no-op, which makes release safe to
// call unconditionally from compensation and refund paths.
func (s *CouponService) ReleaseTx(ctx context.Context, tx storage.Tx, paymentID uint64) error {
	u, err := tx.CouponUsageByPaymentID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if err := tx.DeleteCouponUsageByPaymentID(ctx, paymentID); err != nil {
		return err
	}
	return tx.AdjustCouponUsageCount(ctx, u.CouponID, -1)
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
