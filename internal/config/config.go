package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
)

// VNPayConfig groups the credentials and endpoints of the VNPay gateway.
// HashSecret signs every outbound request and verifies every inbound
// callback; the external service recomputes the same HMAC and rejects any
// mismatch, so both sides must be configured with the exact same secret.
type VNPayConfig struct {
	TmnCode    string // merchant terminal code issued by VNPay
	HashSecret string // HMAC-SHA512 key shared with VNPay
	PayURL     string // base URL the purchaser is redirected to
	ReturnURL  string // URL VNPay redirects the purchaser back to
	RefundURL  string // endpoint receiving signed refund requests
}

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  The types reflect how the values are used in
// the application: strings for identifiers and secrets, ints for durations.
type Config struct {
	Env                  string      // application environment (e.g. "dev", "prod")
	Port                 string      // HTTP port to listen on
	DBUser               string      // database username
	DBPass               string      // database password (optional)
	DBHost               string      // database host address
	DBPort               string      // database port number
	DBName               string      // database name
	JWTSecret            string      // secret used to verify access tokens
	ReservationWindowMin int         // minutes a PENDING payment holds its seats
	ExpirySweepSec       int         // seconds between expiry sweep runs
	AMQPURL              string      // RabbitMQ URL for payment events (optional)
	VNPay                VNPayConfig // VNPay gateway settings
}

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:                  must("APP_ENV"),      // environment (dev/test/prod)
		Port:                 must("APP_PORT"),     // port to bind the HTTP server
		DBUser:               must("DB_USER"),      // database user
		DBPass:               os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:               must("DB_HOST"),      // database host
		DBPort:               must("DB_PORT"),      // database port
		DBName:               must("DB_NAME"),      // database name
		JWTSecret:            must("JWT_SECRET"),   // secret used to verify JWTs
		ReservationWindowMin: mustInt("RESERVATION_WINDOW_MIN"),
		ExpirySweepSec:       envIntDefault("EXPIRY_SWEEP_SEC", 60),
		AMQPURL:              os.Getenv("RABBITMQ_URL"), // empty disables event publishing
		VNPay: VNPayConfig{
			TmnCode:    must("VNPAY_TMN_CODE"),
			HashSecret: must("VNPAY_HASH_SECRET"),
			PayURL:     must("VNPAY_PAY_URL"),
			ReturnURL:  must("VNPAY_RETURN_URL"),
			RefundURL:  must("VNPAY_REFUND_URL"),
		},
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
// If conversion fails, the application logs a fatal error and exits.
func mustInt(key string) int {
	s := must(key)
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// envIntDefault reads an optional integer variable, falling back to def
// when unset or malformed.
func envIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
