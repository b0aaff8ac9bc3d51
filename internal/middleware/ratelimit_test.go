package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zookegger/bus-ticket-booking/internal/config"
)

func limiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       30,
		RefillTokens:   1,
		RefillInterval: time.Second,
		WriteCost:      5,
		TTL:            time.Minute,
		KeyStrategy:    "ip_user_route",
		Prefix:         "booking:rl",
	}
}

func TestWritesCostMoreThanReads(t *testing.T) {
	cfg := limiterConfig()

	assert.Equal(t, 1, requestCost(cfg, http.MethodGet))
	assert.Equal(t, 1, requestCost(cfg, http.MethodHead))
	assert.Equal(t, 5, requestCost(cfg, http.MethodPost))
	assert.Equal(t, 5, requestCost(cfg, http.MethodDelete))
}

func TestRateKeySeparatesGuestsFromUsers(t *testing.T) {
	cfg := limiterConfig()
	e := echo.New()

	ctxFor := func(userID string) echo.Context {
		req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
		req.RemoteAddr = "203.0.113.7:51000"
		c := e.NewContext(req, httptest.NewRecorder())
		c.SetPath("/v1/reservations")
		if userID != "" {
			c.Set("user_id", userID)
		}
		return c
	}

	guest := buildRateKey(cfg, ctxFor(""))
	user := buildRateKey(cfg, ctxFor("u1"))

	assert.Equal(t, "booking:rl:ip:203.0.113.7:user:anon:route:POST /v1/reservations", guest)
	assert.Equal(t, "booking:rl:ip:203.0.113.7:user:u1:route:POST /v1/reservations", user)
	assert.NotEqual(t, guest, user)
}

func TestLimiterWithoutRedisPassesThrough(t *testing.T) {
	e := echo.New()
	mw := NewTokenBucket(limiterConfig(), nil)
	handler := mw(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
