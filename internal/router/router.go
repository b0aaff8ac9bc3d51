// Package router defines how HTTP routes are registered for the API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/Zookegger/bus-ticket-booking/internal/handler"
)

// RegisterRoutes registers routes that do not belong to the booking or
// payment surface.  Currently it exposes only a health check used by
// load balancers and monitoring systems.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterBooking wires the purchase flow.  The optional cache
// middleware is applied only to the seat-map read, the one hot endpoint
// whose response is safe to serve slightly stale.
func RegisterBooking(e *echo.Echo, b *handler.BookingHandler, cache echo.MiddlewareFunc) {
	if cache != nil {
		e.GET("/v1/trips/:id/seats", b.TripSeats, cache)
	} else {
		e.GET("/v1/trips/:id/seats", b.TripSeats)
	}
	e.GET("/v1/coupons/:code/preview", b.PreviewCoupon)
	e.POST("/v1/reservations", b.CreateReservation)
	e.GET("/v1/payments/:ref", b.GetPayment)
}

// RegisterPayments wires the gateway callbacks and the money-out
// operations.  The return and IPN endpoints are GETs because the
// gateway delivers both as signed query strings.
func RegisterPayments(e *echo.Echo, p *handler.PaymentHandler) {
	e.GET("/v1/payments/vnpay/return", p.VNPayReturn)
	e.GET("/v1/payments/vnpay/ipn", p.VNPayIPN)
	e.POST("/v1/payments/:ref/cancel", p.Cancel)
	e.POST("/v1/payments/:ref/refund", p.Refund)
	e.POST("/v1/payments/:ref/refund-tickets", p.RefundTickets)
	e.POST("/v1/payments/expire", p.ExpireStale)
}
