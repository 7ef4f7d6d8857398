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

	"github.com/vasiliy-maslov/bookstore-microservices/internal/cart"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/catalog"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/config"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/db"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/events"
	orderHttp "github.com/vasiliy-maslov/bookstore-microservices/internal/handler/http"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/messaging"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/order"
	"github.com/vasiliy-maslov/bookstore-microservices/internal/sagalog/sqlite"
)

const serviceName = "order-service"

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	log.Logger = log.With().Str("service", serviceName).Logger()

	log.Info().Msg("Order service starting...")

	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.App.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	if cfg.Postgres.MigrationsPath == "" {
		cfg.Postgres.MigrationsPath = "migrations/order"
	}
	if cfg.Redis.Consumer == "" {
		cfg.Redis.Consumer, _ = os.Hostname()
	}
	log.Debug().Interface("config_loaded", cfg).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPool, err := db.New(ctx, cfg.Postgres)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := dbPool.ApplyMigrations(); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply migrations")
	}

	journal, err := sqlite.Open(cfg.JournalPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open checkout journal")
	}
	defer journal.Close()

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

	orderRepository := order.NewRepository(dbPool.Pool)
	orderSvc := order.NewService(
		orderRepository,
		catalog.NewClient(cfg.Catalog.BaseURL, cfg.Catalog.Timeout),
		cart.NewClient(cfg.Cart.BaseURL, cfg.Cart.Timeout),
		broker,
		journal,
	)
	orderHandler := orderHttp.NewOrderHandler(orderSvc)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	orderHandler.RegisterRoutes(router)
	orderHttp.RegisterHealth(router, serviceName)

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	var consumers sync.WaitGroup
	consumers.Add(1)
	go func() {
		defer consumers.Done()
		if err := broker.Subscribe(ctx, events.TopicPaymentStatus, serviceName, order.PaymentStatusHandler(orderSvc)); err != nil {
			log.Error().Err(err).Msg("Payment status consumer stopped")
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

	log.Info().Msg("Order service stopped gracefully")
}
