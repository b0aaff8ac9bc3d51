package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/Zookegger/bus-ticket-booking/internal/config"
	"github.com/Zookegger/bus-ticket-booking/internal/database"
	"github.com/Zookegger/bus-ticket-booking/internal/gateway"
	"github.com/Zookegger/bus-ticket-booking/internal/handler"
	"github.com/Zookegger/bus-ticket-booking/internal/middleware"
	"github.com/Zookegger/bus-ticket-booking/internal/queue"
	"github.com/Zookegger/bus-ticket-booking/internal/router"
	"github.com/Zookegger/bus-ticket-booking/internal/service"
	"github.com/Zookegger/bus-ticket-booking/internal/storage"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	store := storage.NewMySQLStore(db)
	defer store.Close()

	registry := gateway.NewRegistry(map[string]gateway.Gateway{
		"vnpay": gateway.NewVNPay(cfg.VNPay, nil),
	})

	// Event publishing degrades gracefully: without a broker the engine
	// still settles payments, it just emits no events.
	var events service.EventPublisher
	if cfg.AMQPURL != "" {
		pub, err := queue.NewPublisher(cfg.AMQPURL, queue.PaymentEventsQueue)
		if err != nil {
			log.Printf("rabbitmq unavailable: %v; payment events disabled", err)
		} else {
			defer pub.Close()
			events = pub
			go func() {
				if err := queue.StartPaymentConsumer(cfg.AMQPURL); err != nil {
					log.Printf("payment consumer stopped: %v", err)
				}
			}()
		}
	}

	coupons := service.NewCouponService(store)
	reservations := service.NewReservationService(store, registry, coupons,
		time.Duration(cfg.ReservationWindowMin)*time.Minute)
	reconciler := service.NewReconcileService(store, registry, coupons, events)
	refunds := service.NewRefundService(store, registry, coupons)

	// Background sweep releasing seats held by timed-out payments.
	go func() {
		tick := time.NewTicker(time.Duration(cfg.ExpirySweepSec) * time.Second)
		defer tick.Stop()
		for range tick.C {
			if _, err := reconciler.ExpireStale(context.Background(), 500); err != nil {
				log.Printf("expiry sweep: %v", err)
			}
		}
	}()

	e := echo.New()
	e.Use(middleware.OptionalAuth(cfg.JWTSecret))

	// Redis backs the rate limiter and the seat-map response cache; both
	// middlewares turn into pass-throughs when Redis is not configured.
	rdb := config.NewRedisClient()
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb))
	seatCache := middleware.NewSeatMapCache(config.LoadSeatCacheConfig(), rdb)

	router.RegisterRoutes(e)
	router.RegisterBooking(e, handler.NewBookingHandler(store, reservations, coupons), seatCache)
	router.RegisterPayments(e, handler.NewPaymentHandler(reconciler, refunds))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
