package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Zookegger/bus-ticket-booking/internal/model"
	"github.com/Zookegger/bus-ticket-booking/internal/service"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

// BookingHandler serves the customer-facing purchase flow: browsing a
// trip's seat map, previewing a coupon and creating a reservation that
// redirects to the payment gateway.
type BookingHandler struct {
	Store        storage.Store
	Reservations *service.ReservationService
	Coupons      *service.CouponService
}

func NewBookingHandler(store storage.Store, reservations *service.ReservationService, coupons *service.CouponService) *BookingHandler {
	if store == nil || reservations == nil || coupons == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Store: store, Reservations: reservations, Coupons: coupons}
}

// TripSeats handles GET /v1/trips/:id/seats.  It returns the trip and
// its seat map so clients can render availability.
func (h *BookingHandler) TripSeats(c echo.Context) error {
	tripID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || tripID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	}
	ctx := c.Request().Context()
	trip, err := h.Store.TripByID(ctx, tripID)
	if err != nil {
		return failJSON(c, err)
	}
	seats, err := h.Store.SeatsByTrip(ctx, tripID)
	if err != nil {
		return failJSON(c, err)
	}
	type seatView struct {
		ID     uint64  `json:"id"`
		Number string  `json:"number"`
		Price  float64 `json:"price"`
		Status string  `json:"status"`
	}
	out := make([]seatView, 0, len(seats))
	for _, s := range seats {
		out = append(out, seatView{ID: s.ID, Number: s.Number, Price: s.Price, Status: string(s.Status)})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"trip": echo.Map{
			"id":          trip.ID,
			"name":        trip.Name,
			"origin":      trip.Origin,
			"destination": trip.Destination,
			"departs_at":  trip.DepartsAt,
		},
		"seats": out,
	})
}

// PreviewCoupon handles GET /v1/coupons/:code/preview?total=...  It runs
// the full eligibility check without consuming anything and returns the
// discount the coupon would grant on the given order total.
func (h *BookingHandler) PreviewCoupon(c echo.Context) error {
	code := c.Param("code")
	total, err := strconv.ParseFloat(c.QueryParam("total"), 64)
	if err != nil || total <= 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "total must be a positive number"})
	}
	discount, err := h.Coupons.PreviewDiscount(c.Request().Context(), code, currentUserID(c), total)
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"code":        code,
		"order_total": total,
		"discount":    discount,
		"payable":     total - discount,
	})
}

// reservationRequest is the body of POST /v1/reservations.
type reservationRequest struct {
	TripID     uint64          `json:"trip_id"`
	SeatIDs    []uint64        `json:"seat_ids"`
	MethodCode string          `json:"method_code"`
	CouponCode string          `json:"coupon_code"`
	Guest      model.GuestInfo `json:"guest"`
}

// CreateReservation handles POST /v1/reservations.  On success the
// seats are held, a PENDING payment exists and the response carries the
// gateway redirect URL the client must send the purchaser to.
func (h *BookingHandler) CreateReservation(c echo.Context) error {
	var body reservationRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.TripID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trip_id is required"})
	}
	// Drop zero and duplicate seat IDs before they reach the ledger.
	seen := make(map[uint64]struct{}, len(body.SeatIDs))
	seatIDs := make([]uint64, 0, len(body.SeatIDs))
	for _, id := range body.SeatIDs {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			seatIDs = append(seatIDs, id)
		}
	}

	res, err := h.Reservations.Reserve(c.Request().Context(), service.ReserveRequest{
		TripID:     body.TripID,
		SeatIDs:    seatIDs,
		UserID:     currentUserID(c),
		Guest:      body.Guest,
		MethodCode: body.MethodCode,
		CouponCode: body.CouponCode,
		ClientIP:   c.RealIP(),
	})
	if err != nil {
		return failJSON(c, err)
	}

	tickets := make([]echo.Map, 0, len(res.Tickets))
	for _, t := range res.Tickets {
		tickets = append(tickets, echo.Map{
			"id":          t.ID,
			"code":        t.Code,
			"seat_id":     t.SeatID,
			"final_price": t.FinalPrice,
			"status":      string(t.Status),
		})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"merchant_order_ref": res.Payment.MerchantOrderRef,
		"order_total":        res.Payment.OrderTotal,
		"discount_amount":    res.Payment.DiscountAmount,
		"amount":             res.Payment.Amount,
		"status":             string(res.Payment.Status),
		"expires_at":         res.Payment.ExpiredAt,
		"payment_url":        res.PaymentURL,
		"tickets":            tickets,
	})
}

// GetPayment handles GET /v1/payments/:ref and returns the current state
// of one payment for status polling after the gateway redirect.
func (h *BookingHandler) GetPayment(c echo.Context) error {
	p, err := h.Store.PaymentByRef(c.Request().Context(), c.Param("ref"))
	if err != nil {
		return failJSON(c, err)
	}
	return c.JSON(http.StatusOK, paymentView(p))
}

func paymentView(p *model.Payment) echo.Map {
	return echo.Map{
		"merchant_order_ref":     p.MerchantOrderRef,
		"method_code":            p.MethodCode,
		"order_total":            p.OrderTotal,
		"discount_amount":        p.DiscountAmount,
		"amount":                 p.Amount,
		"status":                 string(p.Status),
		"gateway_transaction_no": p.GatewayTransactionNo,
		"expires_at":             p.ExpiredAt,
		"created_at":             p.CreatedAt,
	}
}
