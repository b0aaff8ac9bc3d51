package config

import "time"

// SeatCacheConfig tunes the Redis cache in front of the trip seat map.
// The seat map is the one hot read on a booking site, and it goes stale
// the moment somebody reserves, so the TTL defaults to a few seconds.
// A stale entry only ever overstates availability; the reservation
// transaction re-checks seats under a row lock, so a cached map can
// never cause a double sell.
type SeatCacheConfig struct {
	Enabled      bool
	TTL          time.Duration
	Prefix       string
	MaxBodyBytes int
}

func LoadSeatCacheConfig() SeatCacheConfig {
	cfg := SeatCacheConfig{
		Enabled:      envBool("SEAT_CACHE_ENABLED", true),
		TTL:          envDur("SEAT_CACHE_TTL", 5*time.Second),
		Prefix:       envStr("SEAT_CACHE_PREFIX", "booking:seatmap"),
		MaxBodyBytes: envInt("SEAT_CACHE_MAX_BODY_BYTES", 256*1024),
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Second
	}
	return cfg
}
