package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Zookegger/bus-ticket-booking/internal/config"
	"github.com/Zookegger/bus-ticket-booking/internal/model"
)

// vnpLocation is the provider's local time zone.  vnp_CreateDate and
// vnp_ExpireDate must be rendered in this zone or the provider rejects
// the request as expired.
var vnpLocation = time.FixedZone("GMT+7", 7*60*60)

const vnpTimeLayout = "20060102150405"

// VNPay implements Gateway against the VNPay redirect/callback protocol.
// The hard requirement is bit-exact request signing: the provider
// recomputes HMAC-SHA512 over the same canonical string and rejects any
// mismatch, so the string that is hashed must be byte-for-byte the string
// that is transmitted.
type VNPay struct {
	cfg   config.VNPayConfig
	httpc *http.Client
	now   func() time.Time
}

// NewVNPay builds a VNPay gateway.  httpc may be nil; a client with a
// sane timeout is used then.
func NewVNPay(cfg config.VNPayConfig, httpc *http.Client) *VNPay {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &VNPay{cfg: cfg, httpc: httpc, now: func() time.Time { return time.Now() }}
}

// canonicalize builds the signed query string:
//  1. drop empty values,
//  2. sort keys by strict byte order,
//  3. encode values with url.QueryEscape (space -> '+', and '!', '(',
//     ')', '*' are escaped, matching the provider's component encoder),
//  4. join as key=value&... with the keys themselves unencoded.
func canonicalize(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(params[k]))
	}
	return b.String()
}

// sign returns the canonical string and its lowercase hex HMAC-SHA512.
func (g *VNPay) sign(params map[string]string) (canonical, hash string) {
	canonical = canonicalize(params)
	mac := hmac.New(sha512.New, []byte(g.cfg.HashSecret))
	mac.Write([]byte(canonical))
	return canonical, hex.EncodeToString(mac.Sum(nil))
}

// minorUnits renders an amount in the provider's x100 minor-unit
// convention (270000.00 -> "27000000").
func minorUnits(amount float64) string {
	return strconv.FormatInt(int64(math.Round(amount*100)), 10)
}

// CreatePaymentURL builds the signed redirect URL for a pending payment.
// The secure hash is appended to the exact string that was hashed; the
// parameters are never re-serialized afterwards.
func (g *VNPay) CreatePaymentURL(p *model.Payment, tickets []model.Ticket, clientIP string) (string, error) {
	if p.MerchantOrderRef == "" {
		return "", fmt.Errorf("vnpay: payment has no merchant order ref")
	}
	if clientIP == "" {
		clientIP = "127.0.0.1"
	}
	now := g.now().In(vnpLocation)
	params := map[string]string{
		"vnp_Version":    "2.1.0",
		"vnp_Command":    "pay",
		"vnp_TmnCode":    g.cfg.TmnCode,
		"vnp_Amount":     minorUnits(p.Amount),
		"vnp_CreateDate": now.Format(vnpTimeLayout),
		"vnp_ExpireDate": p.ExpiredAt.In(vnpLocation).Format(vnpTimeLayout),
		"vnp_CurrCode":   "VND",
		"vnp_IpAddr":     clientIP,
		"vnp_Locale":     "vn",
		"vnp_OrderInfo":  fmt.Sprintf("Bus ticket order %s (%d seats)", p.MerchantOrderRef, len(tickets)),
		"vnp_OrderType":  "other",
		"vnp_ReturnUrl":  g.cfg.ReturnURL,
		"vnp_TxnRef":     p.MerchantOrderRef,
	}
	canonical, hash := g.sign(params)
	return g.cfg.PayURL + "?" + canonical + "&vnp_SecureHash=" + hash, nil
}

// VerifyCallback recomputes the signature over the inbound parameters
// (minus the received hash fields) and compares byte-for-byte.  Response
// code "00" maps to COMPLETED; anything else maps to FAILED.
func (g *VNPay) VerifyCallback(params url.Values) CallbackResult {
	res := CallbackResult{
		MerchantOrderRef:     params.Get("vnp_TxnRef"),
		GatewayTransactionNo: params.Get("vnp_TransactionNo"),
		ResponseCode:         params.Get("vnp_ResponseCode"),
		RawData:              params.Encode(),
	}
	received := strings.ToLower(params.Get("vnp_SecureHash"))
	if received == "" {
		return res
	}
	flat := make(map[string]string, len(params))
	for k := range params {
		if k == "vnp_SecureHash" || k == "vnp_SecureHashType" {
			continue
		}
		flat[k] = params.Get(k)
	}
	_, expected := g.sign(flat)
	if !hmac.Equal([]byte(expected), []byte(received)) {
		return res
	}
	res.IsValid = true
	if res.ResponseCode == "00" {
		res.Status = model.PaymentCompleted
	} else {
		res.Status = model.PaymentFailed
	}
	return res
}

// Refund sends one signed, form-encoded refund request.  The call is
// idempotent on the provider side (vnp_RequestId); non-success response
// codes are surfaced to the caller, not retried here.
func (g *VNPay) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	if req.Payment == nil {
		return RefundResult{}, fmt.Errorf("vnpay: refund request has no payment")
	}
	txnType := req.TransactionType
	if txnType == "" {
		txnType = "02"
	}
	createBy := req.RequestedBy
	if createBy == "" {
		createBy = "system"
	}
	now := g.now().In(vnpLocation)
	params := map[string]string{
		"vnp_RequestId":       uuid.NewString(),
		"vnp_Version":         "2.1.0",
		"vnp_Command":         "refund",
		"vnp_TmnCode":         g.cfg.TmnCode,
		"vnp_TransactionType": txnType,
		"vnp_TxnRef":          req.Payment.MerchantOrderRef,
		"vnp_Amount":          minorUnits(req.Amount),
		"vnp_TransactionNo":   req.Payment.GatewayTransactionNo,
		"vnp_TransactionDate": req.Payment.CreatedAt.In(vnpLocation).Format(vnpTimeLayout),
		"vnp_CreateBy":        createBy,
		"vnp_CreateDate":      now.Format(vnpTimeLayout),
		"vnp_OrderInfo":       req.Reason,
	}
	canonical, hash := g.sign(params)
	body := canonical + "&vnp_SecureHash=" + hash

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.RefundURL, strings.NewReader(body))
	if err != nil {
		return RefundResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpc.Do(httpReq)
	if err != nil {
		return RefundResult{}, fmt.Errorf("vnpay: refund call failed: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return RefundResult{}, err
	}
	fields, err := url.ParseQuery(string(raw))
	if err != nil {
		return RefundResult{ResponseData: string(raw)}, fmt.Errorf("vnpay: unparseable refund response: %w", err)
	}
	code := fields.Get("vnp_ResponseCode")
	return RefundResult{
		IsSuccess:    code == "00",
		ResponseCode: code,
		ResponseData: string(raw),
	}, nil
}
