/**
 * @description
 * Main entry point for the renewal-service. It loads configuration, connects
 * to PostgreSQL and the optional Redis and RabbitMQ brokers, wires the
 * notification checker, scheduler and HTTP API, and handles graceful shutdown.
 *
 * @dependencies
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - github.com/redis/go-redis/v9: Cross-replica run lock for the notification pass.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/mailer, pkg/rabbitmq: SMTP delivery and event transport.
 */
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/subtrack/renewal-service/internal/api"
	"github.com/subtrack/renewal-service/internal/app"
	"github.com/subtrack/renewal-service/internal/config"
	"github.com/subtrack/renewal-service/internal/domain"
	"github.com/subtrack/renewal-service/internal/logging"
	"github.com/subtrack/renewal-service/internal/store"
	"github.com/subtrack/renewal-service/pkg/mailer"
	"github.com/subtrack/renewal-service/pkg/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("cannot load config: %v", err)
	}

	logger, closeLog := logging.New(cfg.LogLevel, cfg.LogFile)
	defer closeLog()
	slog.SetDefault(logger)
	logger.Info("starting renewal-service", "port", cfg.ServerPort, "check_time", cfg.NotificationCheckTime)

	ctx := context.Background()

	dbpool, err := store.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connected")

	repository := store.NewRepository(dbpool)
	if cfg.AutoMigrate {
		if err := repository.Migrate(ctx); err != nil {
			logger.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
	}
	if cfg.SeedRates {
		seeded, err := repository.SeedCurrencyRates(ctx, domain.DefaultRates())
		if err != nil {
			logger.Warn("currency rate seeding failed", "error", err)
		} else {
			logger.Info("currency rates seeded", "inserted", seeded)
		}
	}

	// The run lock is optional; without Redis only in-process exclusion applies.
	var runLock app.RunLock
	if cfg.RedisURL != "" {
		if redisClient := connectRedis(logger, cfg.RedisURL); redisClient != nil {
			defer redisClient.Close()
			runLock = app.NewRedisRunLock(redisClient, cfg.RunLockPrefix, cfg.PassTimeout()+time.Minute)
		}
	} else {
		logger.Info("REDIS_URL not set; cross-replica run lock disabled")
	}

	var events app.EventPublisher
	var consumer *rabbitmq.Consumer
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.EventsExchange, logger)
		if err != nil {
			logger.Warn("rabbitmq producer unavailable; notification events disabled", "error", err)
		} else {
			defer producer.Close()
			events = producer
		}

		consumer, err = rabbitmq.NewConsumer(cfg.RabbitMQURL, logger)
		if err != nil {
			logger.Warn("rabbitmq consumer unavailable; price change events will not be consumed", "error", err)
			consumer = nil
		} else {
			defer consumer.Close()
		}
	} else {
		logger.Info("RABBITMQ_URL not set; event publishing and consumption disabled")
	}

	emailSender := mailer.New(mailer.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		Sender:   cfg.SMTPSender,
		SSL:      cfg.SMTPSSL,
		Timeout:  cfg.EmailSendTimeout(),
	})
	if !emailSender.Enabled() {
		logger.Warn("SMTP_HOST not set; email alerts disabled")
	}

	currencyService := app.NewCurrencyService(repository, logger)
	checker := app.NewChecker(repository, currencyService, emailSender, events, logger, *cfg)

	consumerCtx, stopConsumers := context.WithCancel(ctx)
	defer stopConsumers()
	if consumer != nil {
		priceChanges := app.NewPriceChangeEventHandler(checker, logger)
		bindings := map[string]rabbitmq.Handler{
			domain.RoutingKeyPriceChanged: priceChanges.HandlePriceChanged,
		}
		if err := consumer.ConsumeWithBindings(consumerCtx, cfg.EventsExchange, cfg.PriceChangeQueue, bindings); err != nil {
			logger.Error("failed to start price change consumer", "error", err)
		}
	}

	scheduler := app.NewScheduler(checker, runLock, logger, *cfg)
	if cfg.SchedulerEnabled {
		if err := scheduler.Start(); err != nil {
			logger.Error("scheduler failed to start; running in degraded mode", "error", err)
		}
	} else {
		logger.Warn("scheduler disabled by configuration; only manual checks will run")
	}

	handler := api.NewHandler(scheduler, checker, logger)
	router := api.NewRouter(handler, cfg.InternalAPIKey)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not listen", "addr", server.Addr, "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down renewal-service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	stopConsumers()
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown did not complete", "error", err)
	}

	logger.Info("renewal-service stopped")
}

func connectRedis(logger *slog.Logger, redisURL string) *redis.Client {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url parse failed; cross-replica run lock disabled", "error", err)
		return nil
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis ping failed; cross-replica run lock disabled", "error", err)
		client.Close()
		return nil
	}
	logger.Info("redis connected")
	return client
}
