// Package handler contains the HTTP handlers of the booking engine.
// Handlers bind and validate requests, call into the service layer and
// translate its failure vocabulary into HTTP statuses.  Authentication
// is optional on purchase paths: an authenticated user books against
// their account, a guest supplies contact details instead.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/service"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

// currentUserID returns the authenticated user's ID or the empty string
// for guests.  The identity middleware stores the claim when a valid
// token is presented; absence is not an error here.
func currentUserID(c echo.Context) string {
	if v, ok := c.Get("user_id").(string); ok {
		return v
	}
	return ""
}

// failJSON maps a service error to an HTTP response.  Unknown errors
// become opaque 500s so internals never leak to clients.
func failJSON(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, service.ErrCouponNotFound),
		errors.Is(err, service.ErrSeatNotFound),
		errors.Is(err, storage.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrSeatUnavailable),
		errors.Is(err, service.ErrTicketAlreadyPaid),
		errors.Is(err, service.ErrRefundNotEligible),
		errors.Is(err, service.ErrNotCancellable),
		errors.Is(err, storage.ErrDuplicateOrderRef):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrNoSeats),
		errors.Is(err, service.ErrGuestInfoRequired),
		errors.Is(err, service.ErrTicketNotRefundable),
		errors.Is(err, service.ErrCouponInactive),
		errors.Is(err, service.ErrCouponNotYetValid),
		errors.Is(err, service.ErrCouponExpired),
		errors.Is(err, service.ErrCouponUsageLimit),
		errors.Is(err, service.ErrCouponConfig),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, gateway.ErrNoGateway):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	case errors.Is(err, service.ErrRefundRejected):
		return c.JSON(http.StatusBadGateway, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}
