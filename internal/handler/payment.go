package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Zookegger/bus-ticket-booking/internal/service"
)

// PaymentHandler serves the gateway-facing callback endpoints and the
// money-out operations (cancel, refund, expiry sweep trigger).
type PaymentHandler struct {
	Reconciler *service.ReconcileService
	Refunds    *service.RefundService
}

func NewPaymentHandler(reconciler *service.ReconcileService, refunds *service.RefundService) *PaymentHandler {
	if reconciler == nil || refunds == nil {
		panic("nil dependency passed to NewPaymentHandler")
	}
	return &PaymentHandler{Reconciler: reconciler, Refunds: refunds}
}

// VNPayReturn handles GET /v1/payments/vnpay/return, the browser
// redirect after the purchaser finishes on the gateway.  It settles the
// payment (or observes the state the IPN already produced) and returns
// the result for the client to render.
func (h *PaymentHandler) VNPayReturn(c echo.Context) error {
	p, _, err := h.Reconciler.HandleCallback(c.Request().Context(), "vnpay", c.QueryParams())
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, paymentView(p))
}

// VNPayIPN handles GET /v1/payments/vnpay/ipn, the server-to-server
// notification.  The response body follows the gateway's acknowledgment
// contract: it expects an RspCode and retries until it sees "00" or a
// definitive rejection, so every outcome must map to the right code.
func (h *PaymentHandler) VNPayIPN(c echo.Context) error {
	_, applied, err := h.Reconciler.HandleCallback(c.Request().Context(), "vnpay", c.QueryParams())
	switch {
	case errors.Is(err, service.ErrInvalidSignature):
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "97", "Message": "Invalid signature"})
	case errors.Is(err, service.ErrPaymentNotFound):
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "01", "Message": "Order not found"})
	case err != nil:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "99", "Message": "Unknown error"})
	case !applied:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "02", "Message": "Order already confirmed"})
	default:
		return c.JSON(http.StatusOK, echo.Map{"RspCode": "00", "Message": "Confirm Success"})
	}
}

// Cancel handles POST /v1/payments/:ref/cancel.  Only PENDING payments
// can be cancelled; the hold is released immediately.
func (h *PaymentHandler) Cancel(c echo.Context) error {
	p, err := h.Reconciler.Cancel(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, paymentView(p))
}

type refundRequest struct {
	TicketIDs []uint64 `json:"ticket_ids"`
	Reason    string   `json:"reason"`
}

// Refund handles POST /v1/payments/:ref/refund and refunds the whole
// order at the charged amount.
func (h *PaymentHandler) Refund(c echo.Context) error {
	var body refundRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	p, err := h.Refunds.RefundOrder(c.Request().Context(), c.Param("ref"), body.Reason, refundActor(c))
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, paymentView(p))
}

// RefundTickets handles POST /v1/payments/:ref/refund-tickets and
// refunds the named tickets at face price, leaving the rest booked.
func (h *PaymentHandler) RefundTickets(c echo.Context) error {
	var body refundRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.TicketIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ticket_ids is required"})
	}
	p, err := h.Refunds.RefundTickets(c.Request().Context(), c.Param("ref"), body.TicketIDs, body.Reason, refundActor(c))
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, paymentView(p))
}

// ExpireStale handles POST /v1/payments/expire.  The sweep also runs on
// a timer; the endpoint exists so operators can trigger it on demand.
func (h *PaymentHandler) ExpireStale(c echo.Context) error {
	n, err := h.Reconciler.ExpireStale(c.Request().Context(), 500)
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expired": n})
}

func refundActor(c echo.Context) string {
	if id := currentUserID(c); id != "" {
		return id
	}
	return "system"
}
