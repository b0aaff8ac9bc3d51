package model

import "time"

// GuestInfo carries contact details for purchases made without an account.
type GuestInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Payment is one purchase attempt.  MerchantOrderRef is globally unique
// and is the sole correlation key for inbound gateway callbacks; callbacks
// never carry the internal ID.
//
// Fields:
//  ID                   – primary key identifier.
//  MerchantOrderRef     – idempotency key shared with the gateway.
//  UserID               – purchaser account; empty for guest checkout.
//  GuestName/Email/Phone – guest contact details when UserID is empty.
//  MethodCode           – payment method code resolved against the registry.
//  OrderTotal           – sum of ticket prices before discount.
//  DiscountAmount       – coupon discount applied to the order.
//  Amount               – amount actually charged (OrderTotal - Discount).
//  Status               – payment lifecycle state.
//  GatewayTransactionNo – transaction number assigned by the gateway.
//  GatewayResponseData  – raw payload of the last gateway response.
//  ExpiredAt            – end of the reservation window.
//  CreatedAt            – creation timestamp.
//  UpdatedAt            – last update timestamp.
type Payment struct {
	ID                   uint64        // payments.id
	MerchantOrderRef     string        // payments.merchant_order_ref (unique)
	UserID               string        // payments.user_id (empty = guest)
	GuestName            string        // payments.guest_name
	GuestEmail           string        // payments.guest_email
	GuestPhone           string        // payments.guest_phone
	MethodCode           string        // payments.method_code
	OrderTotal           float64       // payments.order_total
	DiscountAmount       float64       // payments.discount_amount
	Amount               float64       // payments.amount
	Status               PaymentStatus // payments.status
	GatewayTransactionNo string        // payments.gateway_transaction_no
	GatewayResponseData  string        // payments.gateway_response_data
	ExpiredAt            time.Time     // payments.expired_at
	CreatedAt            time.Time     // payments.created_at
	UpdatedAt            time.Time     // payments.updated_at
}
