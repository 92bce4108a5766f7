package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/api"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/circuitbreaker"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/config"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/db"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/metrics"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/observ"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/redis"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/scheduler"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/sqs"
	"github.com/Bytemaster121/Prepsales-Notification-Service/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notification service",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("workers", cfg.WorkerCount),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	logger.Info("database connection established",
		zap.String("host", cfg.DBHost),
		zap.Int("port", cfg.DBPort),
		zap.String("database", cfg.DBName),
	)

	repo := db.NewRepository(database, logger)

	// Initialize Redis for idempotency and the in-app inbox
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency and inbox disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	}

	var idempotencyService *redis.IdempotencyService
	var inbox *redis.Inbox
	if redisClient != nil {
		idempotencyService = redis.NewIdempotencyService(redisClient, logger)
		inbox = redis.NewInbox(redisClient, cfg.InboxSize, logger)
		defer redisClient.Close()
	}

	// The queue is the backbone of the delivery pipeline, not optional.
	if cfg.SQSQueueURL == "" || cfg.SQSDLQURL == "" {
		return fmt.Errorf("SQS_QUEUE_URL and SQS_DLQ_URL must be set")
	}

	sqsCfg := sqs.Config{
		Region:   cfg.SQSRegion,
		QueueURL: cfg.SQSQueueURL,
		DLQURL:   cfg.SQSDLQURL,
	}
	producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create sqs producer: %w", err)
	}
	defer producer.Close()

	consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create sqs consumer: %w", err)
	}

	// Delivery providers, each behind its own circuit breaker
	emailSender, err := worker.NewSESSender(ctx, worker.SESConfig{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
		Subject:   cfg.SESSubject,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SES email sender: %w", err)
	}

	smsSender, err := worker.NewSNSSender(ctx, worker.SNSConfig{
		Region: cfg.SNSRegion,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create SNS sms sender: %w", err)
	}

	senders := []worker.Sender{
		circuitbreaker.NewProtectedSender(emailSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("ses"), logger), logger),
		circuitbreaker.NewProtectedSender(smsSender,
			circuitbreaker.New(circuitbreaker.DefaultConfig("sns"), logger), logger),
	}

	if inbox != nil {
		senders = append(senders, worker.NewInAppSender(inbox, logger))
	} else {
		// Keep in_app deliverable in dev setups without Redis.
		senders = append(senders, worker.NewLogSender(logger))
	}

	dispatcher := worker.NewDispatcher(logger, senders...)

	logger.Info("delivery channels initialized",
		zap.Bool("email_enabled", true),
		zap.Bool("sms_enabled", true),
		zap.Bool("inbox_enabled", inbox != nil),
	)

	w := worker.New(repo, consumer, producer, dispatcher, worker.Config{
		AttemptTimeout: cfg.AttemptTimeout,
	}, logger)

	sched := scheduler.New(repo, producer, scheduler.Config{
		Interval:           cfg.SchedulerInterval,
		PendingGracePeriod: cfg.PendingGracePeriod,
	}, logger)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var wg sync.WaitGroup
	for i := 0; i < cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Start(workerCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(workerCtx)
	}()

	logger.Info("delivery workers and retry scheduler started")

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	var handler *api.Handler
	if idempotencyService != nil {
		handler = api.NewHandlerWithRedis(logger, repo, producer, idempotencyService, inbox)
	} else {
		handler = api.NewHandler(logger, repo, producer)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Post("/notifications", handler.CreateNotification)
		r.Get("/notifications/{id}", handler.GetNotification)
		r.Post("/notifications/{id}/retry", handler.RetryNotification)

		r.Get("/users/{user_id}/notifications", handler.ListUserNotifications)
		r.Get("/users/{user_id}/inbox", handler.GetInbox)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		// Drain workers and scheduler before connections close. In-flight
		// messages return to the queue via visibility timeout either way.
		workerCancel()
		wg.Wait()

		logger.Info("server stopped gracefully")
	}

	return nil
}
