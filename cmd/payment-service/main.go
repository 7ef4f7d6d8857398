package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/bookstore-microservices/internal/config"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/db"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	paymentHttp "github.com/vasiliy-maslov/bookstore-microservices/internal/handler/http"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/payment"
)

const serviceName = "payment-service"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", serviceName).Logger()

	log.Info().Msg("Payment service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Postgres.MigrationsPath == "" {
		cfg.Postgres.MigrationsPath = "migrations/payment"
	}
	if cfg.Redis.Consumer == "" {
		cfg.Redis.Consumer, _ = os.Hostname()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer conn.Close()

	if err := db.ApplySQLMigrations(conn, cfg.Postgres); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	broker := messaging.NewRedisBroker(redisClient, messaging.RedisOptions{
		Consumer: cfg.Redis.Consumer,
		Block:    cfg.Redis.Block,
		MinIdle:  cfg.Redis.MinIdle,
	})

	paymentSvc := payment.NewService(
		payment.NewRepository(conn),
		payment.NewSimulatedGateway(cfg.Gateway),
		broker,
		cfg.Gateway.Timeout,
	)
	paymentHandler := paymentHttp.NewPaymentHandler(paymentSvc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	paymentHandler.RegisterRoutes(router)
	paymentHttp.RegisterHealth(router, serviceName)

	server := &http.Server{
		Addr:    ":" + cfg.App.Port,
		Handler: router,
		// POST /payments holds the request for the whole gateway round trip.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 10*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		if err := broker.Subscribe(ctx, events.TopicOrderPayment, serviceName, payment.OrderPaymentHandler(paymentSvc)); err != nil {
			log.Error().Err(err).Msg("Order payment consumer stopped")
		}
	}()

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	consumers.Wait()

	log.Info().Msg("Payment service stopped gracefully")
}
