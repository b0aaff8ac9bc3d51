package gateway

import (
	"context"
	"net/url"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// Mock is a scriptable Gateway for tests.  Zero value returns empty
// results; set the fields to script outcomes and inspect the recorded
// calls afterwards.
type Mock struct {
	URL            string
	URLErr         error
	CallbackResult CallbackResult
	RefundResult   RefundResult
	RefundErr      error

	URLCalls    []*model.Payment
	RefundCalls []RefundRequest
}

func (m *Mock) CreatePaymentURL(p *model.Payment, tickets []model.Ticket, clientIP string) (string, error) {
	m.URLCalls = append(m.URLCalls, p)
	if m.URLErr != nil {
		return "", m.URLErr
	}
	if m.URL != "" {
		return m.URL, nil
	}
	return "https://pay.example.test/" + p.MerchantOrderRef, nil
}

func (m *Mock) VerifyCallback(params url.Values) CallbackResult {
	return m.CallbackResult
}

func (m *Mock) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	m.RefundCalls = append(m.RefundCalls, req)
	if m.RefundErr != nil {
		return RefundResult{}, m.RefundErr
	}
	return m.RefundResult, nil
}
