package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-raffle/internal/auth"
	"ms-raffle/internal/config"
	"ms-raffle/internal/database"
	"ms-raffle/internal/database/migrations"
	"ms-raffle/internal/kafka"
	"ms-raffle/internal/logger"
	"ms-raffle/internal/raffle"
	raffledb "ms-raffle/internal/raffle/db"
	"ms-raffle/internal/raffle/raffle_api"
	rediswrap "ms-raffle/internal/raffle/redis"
	"ms-raffle/internal/raffle/tickets"
	"ms-raffle/internal/receipts"
	"ms-raffle/internal/sse"
	"ms-raffle/internal/upload"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
)

func prepareSchema(ctx context.Context, cfg *config.Config, bunDB *bun.DB, store *raffledb.DB, log *logger.Logger) {
	if cfg.Database.Driver == "sqlite" {
		if err := store.CreateSchema(ctx); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to create SQLite schema: %v", err))
		}
		log.Info("DATABASE", "SQLite schema ready")
		return
	}

	if !cfg.Migrations.AutoMigrate {
		log.Info("MIGRATE", "AUTO_MIGRATE disabled, skipping migrations")
		return
	}

	runner := migrations.NewRunner(bunDB.DB, log)
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to run migrations: %v", err))
	}
	log.Info("MIGRATE", "✅ Migrations applied")
}

func connectRedis(ctx context.Context, addr string, log *logger.Logger) *redis.Client {
	if addr == "" {
		log.Warn("REDIS", "REDIS_ADDR not set, ticket reservations and session revocation disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", addr, client.Options().DB))
	return client
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Raffle Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	log.SetLevel(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	store := &raffledb.DB{Bun: bunDB}
	prepareSchema(ctx, cfg, bunDB, store, log)

	var (
		locker      raffle.TicketLocker
		revocations *auth.RedisRevocations
	)
	if redisClient := connectRedis(ctx, cfg.Redis.Addr, log); redisClient != nil {
		defer redisClient.Close()
		locker = rediswrap.NewRedis(redisClient, cfg.Redis.LockTTL, log)
		revocations = auth.NewRedisRevocations(redisClient)
	}

	emitter := sse.NewAvailabilityEmitter()
	var notifier raffle.Notifier = emitter

	if cfg.Kafka.Enabled {
		log.Info("KAFKA", fmt.Sprintf("Using Kafka brokers: %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, []string{cfg.Kafka.AvailabilityTopic}, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AvailabilityTopic, log)
		defer producer.Close()
		notifier = producer

		// every replica fans the topic out to its own SSE clients
		groupID := fmt.Sprintf("%s-%s", cfg.Kafka.GroupID, uuid.NewString()[:8])
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.AvailabilityTopic, groupID, log)
		defer consumer.Close()
		go func() {
			if err := consumer.Start(ctx, emitter.Emit); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Availability consumer stopped: %v", err))
			}
		}()
		log.Info("KAFKA", "Kafka producer and consumer initialized successfully")
	} else {
		log.Info("KAFKA", "Kafka disabled, availability events delivered in-process")
	}

	prices := tickets.PriceList{
		USD: tickets.Price{Single: cfg.Raffle.PriceUSD, TenPack: cfg.Raffle.PriceUSDTenPack},
		Bs:  tickets.Price{Single: cfg.Raffle.PriceBs, TenPack: cfg.Raffle.PriceBsTenPack},
	}
	raffleService := raffle.NewRaffleService(store, locker, notifier, log, prices, cfg.Raffle.LuckyPickMax)

	sessionSecret := cfg.Session.Secret
	if sessionSecret == "" {
		log.Warn("CONFIG", "SESSION_SECRET not set, using a random secret; sessions end on restart")
		sessionSecret = uuid.NewString() + uuid.NewString()
	}
	sessions := auth.NewSessions(sessionSecret, cfg.Session.TTL, cfg.Session.Secure)

	guard := &auth.Guard{Sessions: sessions, Logger: log}
	if revocations != nil {
		guard.Revocations = revocations
	}
	if cfg.OIDC.Issuer != "" {
		verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDC.Issuer)
		if err != nil {
			log.Fatal("AUTH", fmt.Sprintf("Failed to initialize OIDC verifier: %v", err))
		}
		guard.Verifier = verifier
		log.Info("AUTH", fmt.Sprintf("Bearer tokens accepted from %s", cfg.OIDC.Issuer))
	}

	handler := &raffle_api.Handler{
		Service:  raffleService,
		Auth:     auth.NewAuthenticator(store, log),
		Sessions: sessions,
		Guard:    guard,
		Uploader: upload.NewImageKit(
			cfg.ImageKit.PublicKey,
			cfg.ImageKit.PrivateKey,
			cfg.ImageKit.URLEndpoint,
			cfg.ImageKit.UploadURL,
			cfg.ImageKit.Folder,
			log,
		),
		Events: emitter,
		Logger: log,
	}
	if revocations != nil {
		handler.Revocations = revocations
	}
	if cfg.Receipt.Secret != "" {
		qr, err := receipts.NewQRGenerator(cfg.Receipt.Secret)
		if err != nil {
			log.Fatal("CONFIG", fmt.Sprintf("Invalid receipt secret: %v", err))
		}
		handler.QR = qr
	} else {
		log.Warn("CONFIG", "QR_SECRET_KEY not set, receipts disabled")
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(log.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	handler.RegisterRoutes(r)
	log.Info("ROUTER", "Raffle routes registered under /api")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	server.RegisterOnShutdown(emitter.Close)

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Raffle Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Raffle Service shutdown complete")
	}
}
