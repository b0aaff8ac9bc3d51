// Package gateway abstracts external payment providers behind a small
// interface and a registry keyed by payment-method code.  Gateways are
// registered once at startup; the registry is immutable afterwards and is
// injected into the services that need it.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// ErrNoGateway is returned when no gateway is registered for a
// payment-method code.
var ErrNoGateway = errors.New("gateway: no gateway registered for payment method")

// CallbackResult is the outcome of verifying an inbound gateway callback.
// When IsValid is false the caller must treat the callback as untrusted
// and apply no state change.
type CallbackResult struct {
	IsValid              bool
	Status               model.PaymentStatus // COMPLETED or FAILED
	MerchantOrderRef     string
	GatewayTransactionNo string
	ResponseCode         string
	RawData              string // raw query string for audit logging
}

// RefundRequest describes one outbound refund call.
type RefundRequest struct {
	Payment         *model.Payment
	Amount          float64
	TransactionType string // "02" full refund, "03" partial
	Reason          string
	RequestedBy     string
}

// RefundResult carries the provider's answer to a refund call.  Non-success
// response codes are surfaced here, never retried by the gateway itself.
type RefundResult struct {
	IsSuccess    bool
	ResponseCode string
	ResponseData string
}

// Gateway is one payment provider integration.
type Gateway interface {
	// CreatePaymentURL builds the signed redirect URL for a pending
	// payment.  clientIP is forwarded to providers that require it.
	CreatePaymentURL(p *model.Payment, tickets []model.Ticket, clientIP string) (string, error)

	// VerifyCallback authenticates inbound callback parameters and maps
	// the provider's response code to a payment status.
	VerifyCallback(params url.Values) CallbackResult

	// Refund issues one idempotent refund call against the provider.
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
}

// Registry maps payment-method codes to gateways.  Construct it once at
// startup with every supported method; it cannot be mutated afterwards.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry copies the given map so later changes to the argument cannot
// leak into the registry.
func NewRegistry(gateways map[string]Gateway) *Registry {
	m := make(map[string]Gateway, len(gateways))
	for code, gw := range gateways {
		m[code] = gw
	}
	return &Registry{gateways: m}
}

// Resolve returns the gateway for a payment-method code.
func (r *Registry) Resolve(methodCode string) (Gateway, error) {
	gw, ok := r.gateways[methodCode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoGateway, methodCode)
	}
	return gw, nil
}
