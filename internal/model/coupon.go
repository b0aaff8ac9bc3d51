package model

import "time"

// Coupon grants a FIXED or PERCENTAGE discount on an order.
//
// MaxUsage does double duty: when non-zero it caps both the global usage
// count and the number of CouponUsage rows any single user may accumulate
// for this coupon.  The per-user cap reusing the global field is existing
// behavior this engine preserves.  currentUsageCount <= MaxUsage is
// enforced under a row lock at all times.
//
// Fields:
//  ID                – primary key identifier.
//  Code              – coupon code entered by the purchaser.
//  Type              – FIXED or PERCENTAGE.
//  Value             – fixed amount, or percentage of the order total.
//  MaxUsage          – usage cap; zero means unlimited.
//  CurrentUsageCount – number of live usages.
//  StartPeriod       – first instant the coupon is valid.
//  EndPeriod         – last instant the coupon is valid.
//  IsActive          – administrative kill switch.
//  CreatedAt         – creation timestamp.
//  UpdatedAt         – last update timestamp.
type Coupon struct {
	ID                uint64     // coupons.id
	Code              string     // coupons.code (unique)
	Type              CouponType // coupons.type
	Value             float64    // coupons.value
	MaxUsage          int        // coupons.max_usage (0 = unlimited)
	CurrentUsageCount int        // coupons.current_usage_count
	StartPeriod       time.Time  // coupons.start_period
	EndPeriod         time.Time  // coupons.end_period
	IsActive          bool       // coupons.is_active
	CreatedAt         time.Time  // coupons.created_at
	UpdatedAt         time.Time  // coupons.updated_at
}

// CouponUsage is the durable record of one coupon consumption by one
// payment.  Usage rows are created together with the usage counter
// increment and deleted together with the decrement, always inside the
// same transaction.
type CouponUsage struct {
	ID             uint64    // coupon_usages.id
	CouponID       uint64    // coupon_usages.coupon_id
	PaymentID      uint64    // coupon_usages.payment_id
	UserID         string    // coupon_usages.user_id (empty = guest)
	DiscountAmount float64   // coupon_usages.discount_amount
	CreatedAt      time.Time // coupon_usages.created_at
}
