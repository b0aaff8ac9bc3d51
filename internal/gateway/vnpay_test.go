package gateway

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/config"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

func testVNPay() *VNPay {
	g := NewVNPay(config.VNPayConfig{
		TmnCode:    "TESTTMN1",
		HashSecret: "super-secret",
		PayURL:     "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://shop.example.com/v1/payments/vnpay/return",
		RefundURL:  "https://sandbox.vnpayment.vn/merchant_webapi/api/transaction",
	}, nil)
	g.now = func() time.Time {
		return time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC)
	}
	return g
}

func testPayment() *model.Payment {
	return &model.Payment{
		ID:                   7,
		MerchantOrderRef:     "1757900000000-ab12cd34",
		MethodCode:           "vnpay",
		Amount:               270000,
		Status:               model.PaymentPending,
		GatewayTransactionNo: "14822590",
		ExpiredAt:            time.Date(2026, 3, 14, 8, 45, 0, 0, time.UTC),
		CreatedAt:            time.Date(2026, 3, 14, 8, 30, 0, 0, time.UTC),
	}
}

func TestCanonicalizeSortsAndDropsEmpties(t *testing.T) {
	got := canonicalize(map[string]string{
		"vnp_TxnRef":    "abc",
		"vnp_Amount":    "100",
		"vnp_BankCode":  "",
		"vnp_OrderInfo": "don hang so 1",
	})
	assert.Equal(t, "vnp_Amount=100&vnp_OrderInfo=don+hang+so+1&vnp_TxnRef=abc", got)
}

func TestCanonicalizeEncodesSpecials(t *testing.T) {
	got := canonicalize(map[string]string{"k": "a!(b)*c d"})
	assert.Equal(t, "k=a%21%28b%29%2Ac+d", got)
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, "27000000", minorUnits(270000))
	assert.Equal(t, "1050", minorUnits(10.50))
	assert.Equal(t, "1", minorUnits(0.01))
}

func TestCreatePaymentURLRoundTrips(t *testing.T) {
	g := testVNPay()
	p := testPayment()

	raw, err := g.CreatePaymentURL(p, []model.Ticket{{ID: 1}, {ID: 2}}, "203.0.113.9")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "27000000", q.Get("vnp_Amount"))
	assert.Equal(t, p.MerchantOrderRef, q.Get("vnp_TxnRef"))
	// 08:30 UTC is 15:30 in the provider's zone.
	assert.Equal(t, "20260314153000", q.Get("vnp_CreateDate"))
	assert.Equal(t, "20260314154500", q.Get("vnp_ExpireDate"))
	assert.NotEmpty(t, q.Get("vnp_SecureHash"))

	res := g.VerifyCallback(q)
	assert.True(t, res.IsValid)
	assert.Equal(t, p.MerchantOrderRef, res.MerchantOrderRef)
}

func TestVerifyCallbackRejectsTamper(t *testing.T) {
	g := testVNPay()
	p := testPayment()

	raw, err := g.CreatePaymentURL(p, nil, "203.0.113.9")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	q.Set("vnp_Amount", "1")
	res := g.VerifyCallback(q)
	assert.False(t, res.IsValid)
}

func TestVerifyCallbackMissingHash(t *testing.T) {
	g := testVNPay()
	res := g.VerifyCallback(url.Values{"vnp_TxnRef": {"x"}})
	assert.False(t, res.IsValid)
}

func TestVerifyCallbackStatusMapping(t *testing.T) {
	g := testVNPay()

	params := map[string]string{
		"vnp_TxnRef":        "ref-1",
		"vnp_TransactionNo": "999",
		"vnp_ResponseCode":  "00",
	}
	_, hash := g.sign(params)
	vals := url.Values{}
	for k, v := range params {
		vals.Set(k, v)
	}
	vals.Set("vnp_SecureHash", hash)

	res := g.VerifyCallback(vals)
	require.True(t, res.IsValid)
	assert.Equal(t, model.PaymentCompleted, res.Status)
	assert.Equal(t, "999", res.GatewayTransactionNo)

	params["vnp_ResponseCode"] = "24"
	_, hash = g.sign(params)
	vals.Set("vnp_ResponseCode", "24")
	vals.Set("vnp_SecureHash", hash)
	res = g.VerifyCallback(vals)
	require.True(t, res.IsValid)
	assert.Equal(t, model.PaymentFailed, res.Status)
}

func TestRefundSignsAndParsesResponse(t *testing.T) {
	g := testVNPay()
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Write([]byte("vnp_ResponseCode=00&vnp_Message=Refund success"))
	}))
	defer srv.Close()
	g.cfg.RefundURL = srv.URL

	res, err := g.Refund(context.Background(), RefundRequest{
		Payment:         testPayment(),
		Amount:          270000,
		TransactionType: "02",
		Reason:          "customer cancelled",
		RequestedBy:     "ops",
	})
	require.NoError(t, err)
	assert.True(t, res.IsSuccess)
	assert.Equal(t, "00", res.ResponseCode)

	require.Contains(t, gotBody, "&vnp_SecureHash=")
	parts := strings.SplitN(gotBody, "&vnp_SecureHash=", 2)
	signed := map[string]string{}
	vals, err := url.ParseQuery(parts[0])
	require.NoError(t, err)
	for k := range vals {
		signed[k] = vals.Get(k)
	}
	_, want := g.sign(signed)
	assert.Equal(t, want, parts[1])
	assert.Equal(t, "02", signed["vnp_TransactionType"])
	assert.Equal(t, "27000000", signed["vnp_Amount"])
}

func TestRegistryResolve(t *testing.T) {
	mock := &Mock{}
	reg := NewRegistry(map[string]Gateway{"vnpay": mock})

	g, err := reg.Resolve("vnpay")
	require.NoError(t, err)
	assert.Same(t, Gateway(mock), g)

	_, err = reg.Resolve("momo")
	assert.ErrorIs(t, err, ErrNoGateway)
}
