package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/adapter"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/application"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/config"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/events"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/handler"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/repository"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/scheduler"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/database"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/kafka"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/logger"
)

const serviceName = "service-escrow"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zlog, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer zlog.Sync() //nolint:errcheck

	db, err := database.Connect(cfg.DBConfig, zlog)
	if err != nil {
		zlog.Fatal("database connection failed", zap.Error(err))
	}
	if err := database.RunMigrations(cfg.DBConfig.DatabaseURL(), "migrations", zlog); err != nil {
		zlog.Fatal("migrations failed", zap.Error(err))
	}

	// Repositories.
	escrowRepo := repository.NewEscrowRepository(db)
	eventRepo := repository.NewEventRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	sourceRepo := repository.NewSourceRepository(db)

	// Payment provider: real Paystack when a key is configured, the mock
	// otherwise.
	var provider adapter.PaymentProvider
	if cfg.Paystack.SecretKey != "" {
		provider = adapter.NewPaystackAdapter(
			cfg.Paystack.BaseURL, cfg.Paystack.SecretKey, cfg.Escrow.Currency,
			cfg.Paystack.CallTimeout, zlog)
	} else {
		zlog.Warn("PAYSTACK_SECRET_KEY not set, using mock provider")
		provider = adapter.NewMockProvider(zlog)
	}

	// Event bus.
	producer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zlog)
	defer producer.Close() //nolint:errcheck
	publisher := events.NewPublisher(producer, zlog)

	// Application services.
	notifier := application.NewNotifier(notificationRepo, zlog)
	escrowService := application.NewEscrowService(
		escrowRepo, eventRepo, payoutRepo, sourceRepo, sourceRepo, provider,
		notifier, publisher,
		application.EscrowConfig{
			FeeRate:            cfg.Escrow.FeeRate,
			Currency:           cfg.Escrow.Currency,
			InspectionDays:     cfg.Escrow.AutoReleaseDays,
			PaymentCallbackURL: cfg.FrontendURL + "/payments/complete",
		},
		zlog,
	)
	payoutService := application.NewPayoutService(payoutRepo, sourceRepo, provider, zlog)
	webhookService := application.NewWebhookService(
		escrowRepo, webhookRepo, notifier, publisher, cfg.Paystack.SecretKey, zlog)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background workers.
	worker := scheduler.NewAutoReleaseWorker(
		escrowRepo, notificationRepo, escrowService, notifier,
		cfg.Escrow.SchedulerInterval, zlog)
	go worker.Run(rootCtx)

	consumer := kafka.NewConsumer(
		cfg.KafkaConfig.Brokers,
		cfg.KafkaConfig.GroupPrefix+serviceName,
		events.TopicMarketplaceEvents,
		zlog,
	)
	defer consumer.Close() //nolint:errcheck
	go func() {
		if err := events.NewMarketplaceConsumer(consumer, escrowService, zlog).Run(rootCtx); err != nil &&
			!errors.Is(err, context.Canceled) {
			zlog.Error("marketplace consumer stopped", zap.Error(err))
		}
	}()

	// HTTP surface.
	jwtManager := auth.NewJWTManager(cfg.JWTConfig.Secret, 15*time.Minute, 7*24*time.Hour)
	router := handler.Router{
		Escrows:       handler.NewEscrowHandler(escrowService, cfg.FrontendURL),
		Payouts:       handler.NewPayoutHandler(payoutService),
		Webhooks:      handler.NewWebhookHandler(webhookService),
		Notifications: handler.NewNotificationHandler(notificationRepo),
	}

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           router.Build(db, jwtManager, cfg.AppEnv, zlog),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zlog.Info("escrow service listening", zap.String("addr", cfg.Port), zap.String("env", cfg.AppEnv))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-rootCtx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}
	zlog.Info("stopped")
}
