package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-ticket-transfer/internal/auth"
	"ms-ticket-transfer/internal/clock"
	"ms-ticket-transfer/internal/config"
	"ms-ticket-transfer/internal/database/migrations"
	"ms-ticket-transfer/internal/events"
	"ms-ticket-transfer/internal/kafka"
	"ms-ticket-transfer/internal/logger"
	"ms-ticket-transfer/internal/notify"
	"ms-ticket-transfer/internal/sse"
	ticket_db "ms-ticket-transfer/internal/tickets/db"
	"ms-ticket-transfer/internal/tickets/entrytoken"
	tickets "ms-ticket-transfer/internal/tickets/service"
	"ms-ticket-transfer/internal/tickets/ticket_api"
	"ms-ticket-transfer/internal/transfer"
	transfer_db "ms-ticket-transfer/internal/transfer/db"
	transfer_redis "ms-ticket-transfer/internal/transfer/redis"
	"ms-ticket-transfer/internal/transfer/transfer_api"
	"ms-ticket-transfer/internal/utils"
)

func connectPostgres(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}

		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

// connectRedis returns nil when no address is configured. Transfers then
// rely on the database checks alone.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log *logger.Logger) *redis.Client {
	if cfg.Addr == "" {
		log.Warn("REDIS", "REDIS_ADDR not set, per-ticket transfer lock disabled")
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("Redis connection successful to %s (DB: %d)", cfg.Addr, client.Options().DB))
	return client
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, log *logger.Logger) auth.Verifier {
	if cfg.Insecure {
		log.Warn("AUTH", "AUTH_INSECURE is set, bearer tokens are NOT verified")
		return auth.InsecureVerifier{}
	}
	verifier, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer)
	if err != nil {
		log.Fatal("AUTH", fmt.Sprintf("OIDC discovery failed for %s: %v", cfg.OIDCIssuer, err))
	}
	return verifier
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Ticket Transfer Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal("CONFIG", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bunDB := connectPostgres(cfg.Database, log)
	defer bunDB.Close()

	if cfg.Database.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Database.MigrationsDir,
			AutoMigrate:   true,
		}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
		}
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// --- Notification sinks ---
	hub := sse.NewTransferEventHub()
	sinks := []notify.Sink{hub}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.TransferEvents, cfg.Kafka.Topics.AccountsVerified, cfg.Kafka.Topics.TicketsIssued}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers)
		defer producer.Close()
		sinks = append(sinks, notify.NewKafkaSink(producer, cfg.Kafka.Topics.TransferEvents))
		log.Info("KAFKA", "Kafka producer initialized successfully")
	}

	if cfg.RabbitMQ.Enabled {
		amqpSink := notify.NewAMQPSink(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue)
		defer amqpSink.Close()
		sinks = append(sinks, amqpSink)
		log.Info("RABBITMQ", fmt.Sprintf("Publishing transfer notifications to queue %s", cfg.RabbitMQ.Queue))
	}

	dispatcher := notify.NewDispatcher(notify.Options{
		Workers:      cfg.Notify.Workers,
		QueueSize:    cfg.Notify.QueueSize,
		MaxRetryTime: cfg.Notify.MaxRetryTime,
	}, log, sinks...)

	// --- Services ---
	var locker transfer.Locker
	if redisClient != nil {
		locker = transfer_redis.NewLocker(redisClient)
	}

	transferStore := &transfer_db.DB{Bun: bunDB}
	transferService := transfer.NewService(transferStore, transfer.Policy{
		BlockFreeTickets:   cfg.Transfer.BlockFreeTickets,
		DefaultPhoneRegion: cfg.Transfer.DefaultPhoneRegion,
		LockTTL:            cfg.Redis.LockTTL,
		LockWait:           cfg.Transfer.LockWait,
	}, locker, dispatcher, log)

	codec, err := entrytoken.NewCodec(cfg.Token.Secret, cfg.Token.FreshnessWindow, clock.Real())
	if err != nil {
		log.Fatal("CONFIG", fmt.Sprintf("Entry token codec: %v", err))
	}
	ticketService := tickets.NewTicketService(&ticket_db.DB{Bun: bunDB}, codec, log)

	// --- Consumers ---
	var consumers sync.WaitGroup
	if cfg.Kafka.Enabled {
		accountHandler := events.NewAccountHandler(transferStore, transferService, cfg.Transfer.DefaultPhoneRegion, log)
		ticketHandler := events.NewTicketHandler(ticketService, log)

		for topic, handle := range map[string]kafka.Handler{
			cfg.Kafka.Topics.AccountsVerified: accountHandler.Handle,
			cfg.Kafka.Topics.TicketsIssued:    ticketHandler.Handle,
		} {
			consumer := kafka.NewConsumer(cfg.Kafka.Brokers, topic, kafka.GroupIDFor(cfg.Kafka.GroupID, topic), log)
			consumers.Add(1)
			go func(topic string, handle kafka.Handler) {
				defer consumers.Done()
				defer consumer.Close()
				if err := consumer.Start(ctx, handle); err != nil {
					log.Error("KAFKA", fmt.Sprintf("Consumer for %s stopped: %v", topic, err))
				}
			}(topic, handle)
		}
	}

	// --- HTTP ---
	transferHandler := transfer_api.NewHandler(transferService, log)
	transferHandler.AdminRole = cfg.Auth.AdminRole
	sseHandler := transfer_api.NewSSEHandler(log, hub)
	ticketHandler := ticket_api.NewHandler(ticketService, log, codec.Window(), cfg.Token.QRSize)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(utils.RequestLogger(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(newVerifier(ctx, cfg.Auth, log)))
		log.Info("AUTH", "Token middleware applied to protected API routes")

		r.Route("/api", func(r chi.Router) {
			r.Get("/transfers/events", sseHandler.HandleTransferEvents)
			transferHandler.Routes(r)
			ticketHandler.Routes(r)
		})
		log.Info("ROUTER", "Transfer, ticket and gate routes registered under /api")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: 0, // SSE streams stay open
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	server.RegisterOnShutdown(sseHandler.Close)

	go func() {
		log.Info("HTTP", fmt.Sprintf("Ticket Transfer Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	consumers.Wait()
	dispatcher.Close(ctxShutdown)
	log.Info("APP", "Ticket Transfer Service shutdown complete")
}
