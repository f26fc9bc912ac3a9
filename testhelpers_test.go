//go:build integration

package main_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/adapter"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/application"
	escrowEvents "github.com/Sanaa-Creator-Market/service-escrow/internal/events"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/repository"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/scheduler"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/kafka"
)

const testWebhookSecret = "whsec_integration"

// testInfra holds shared test infrastructure.
type testInfra struct {
	DB           *gorm.DB
	KafkaBrokers []string
	Cleanup      func()
}

// escrowStack holds wired-up escrow service components.
type escrowStack struct {
	Service         *application.EscrowService
	Webhooks        *application.WebhookService
	Consumer        *kafka.Consumer
	Marketplace     *escrowEvents.MarketplaceConsumer
	Worker          *scheduler.AutoReleaseWorker
	CleanupProducer func()
}

// setupContainers starts PostgreSQL and Kafka testcontainers and returns a connected GORM DB.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_escrow",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=test password=test dbname=test_escrow sslmode=disable", pgHost, pgPort.Port())

	// Poll until GORM can actually connect and ping.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
		if err != nil {
			return false
		}
		sqlDB, err := db.DB()
		if err != nil {
			return false
		}
		return sqlDB.Ping() == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	// Enable uuid-ossp extension and auto-migrate.
	require.NoError(t, db.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp"`).Error)
	require.NoError(t, db.AutoMigrate(
		&repository.EscrowModel{},
		&repository.MilestoneModel{},
		&repository.EscrowEventModel{},
		&repository.PayoutAccountModel{},
		&repository.WebhookLogModel{},
		&repository.NotificationModel{},
	))

	// Start Kafka container using confluent-local (supports KRaft natively).
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Pre-create required topics.
	createTopics(t, kafkaBrokers, escrowEvents.TopicEscrowEvents, escrowEvents.TopicMarketplaceEvents)

	cleanup := func() {
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupEscrowStack wires up the full escrow service stack against the
// containers, with the mock payment provider standing in for Paystack.
func setupEscrowStack(t *testing.T, db *gorm.DB, brokers []string) *escrowStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	escrowRepo := repository.NewEscrowRepository(db)
	eventRepo := repository.NewEventRepository(db)
	payoutRepo := repository.NewPayoutRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	sourceRepo := repository.NewSourceRepository(db)

	provider := adapter.NewMockProvider(logger)
	producer := kafka.NewProducer(brokers, logger)
	publisher := escrowEvents.NewPublisher(producer, logger)
	notifier := application.NewNotifier(notificationRepo, logger)

	escrowSvc := application.NewEscrowService(
		escrowRepo, eventRepo, payoutRepo, sourceRepo, sourceRepo,
		provider, notifier, publisher,
		application.EscrowConfig{
			FeeRate:            0.02,
			Currency:           "KES",
			InspectionDays:     7,
			PaymentCallbackURL: "http://localhost:3000/payments/complete",
		},
		logger,
	)
	webhookSvc := application.NewWebhookService(escrowRepo, webhookRepo, notifier, publisher, testWebhookSecret, logger)

	groupID := fmt.Sprintf("test-escrow-%s", uuid.New().String()[:8])
	consumer := kafka.NewConsumer(brokers, groupID, escrowEvents.TopicMarketplaceEvents, logger)
	marketplace := escrowEvents.NewMarketplaceConsumer(consumer, escrowSvc, logger)
	worker := scheduler.NewAutoReleaseWorker(escrowRepo, notificationRepo, escrowSvc, notifier, time.Second, logger)

	return &escrowStack{
		Service:         escrowSvc,
		Webhooks:        webhookSvc,
		Consumer:        consumer,
		Marketplace:     marketplace,
		Worker:          worker,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// seedPendingEscrow inserts a PENDING escrow opened from a job proposal.
func seedPendingEscrow(t *testing.T, db *gorm.DB, proposalID uuid.UUID) repository.EscrowModel {
	t.Helper()
	now := time.Now().UTC()
	paymentRef := fmt.Sprintf("PAY-%s-%d-inttest", uuid.New(), now.UnixMilli())
	model := repository.EscrowModel{
		ID:                   uuid.New(),
		BuyerID:              uuid.New(),
		SellerID:             uuid.New(),
		SourceType:           "job_proposal",
		JobProposalID:        &proposalID,
		Title:                "Launch video",
		Currency:             "KES",
		TotalAmount:          500000,
		FeeAmount:            10000,
		SellerAmount:         490000,
		Status:               "PENDING",
		InspectionPeriodDays: 7,
		PaymentRef:           &paymentRef,
		Metadata:             "{}",
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed escrow")
	return model
}

// seedFundedCampaignEscrow inserts a FUNDED escrow opened from a campaign.
func seedFundedCampaignEscrow(t *testing.T, db *gorm.DB, campaignID uuid.UUID) repository.EscrowModel {
	t.Helper()
	now := time.Now().UTC()
	paymentRef := fmt.Sprintf("PAY-%s-%d-inttest", uuid.New(), now.UnixMilli())
	model := repository.EscrowModel{
		ID:                   uuid.New(),
		BuyerID:              uuid.New(),
		SellerID:             uuid.New(),
		SourceType:           "campaign",
		CampaignID:           &campaignID,
		Title:                "Summer campaign",
		Currency:             "KES",
		TotalAmount:          500000,
		FeeAmount:            10000,
		SellerAmount:         490000,
		Status:               "FUNDED",
		InspectionPeriodDays: 7,
		PaymentRef:           &paymentRef,
		Metadata:             "{}",
		PaymentConfirmedAt:   &now,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed escrow")
	return model
}

// seedDeliveredEscrow inserts a DELIVERED escrow whose auto-release deadline
// already passed.
func seedDeliveredEscrow(t *testing.T, db *gorm.DB, sellerID uuid.UUID) repository.EscrowModel {
	t.Helper()
	now := time.Now().UTC()
	proposalID := uuid.New()
	paymentRef := fmt.Sprintf("PAY-%s-%d-inttest", uuid.New(), now.UnixMilli())
	delivered := now.Add(-8 * 24 * time.Hour)
	due := now.Add(-time.Hour)
	model := repository.EscrowModel{
		ID:                   uuid.New(),
		BuyerID:              uuid.New(),
		SellerID:             sellerID,
		SourceType:           "job_proposal",
		JobProposalID:        &proposalID,
		Title:                "Launch video",
		Currency:             "KES",
		TotalAmount:          500000,
		FeeAmount:            10000,
		SellerAmount:         490000,
		Status:               "DELIVERED",
		InspectionPeriodDays: 7,
		PaymentRef:           &paymentRef,
		Metadata:             "{}",
		PaymentConfirmedAt:   &delivered,
		DeliveryConfirmedAt:  &delivered,
		AutoReleaseAt:        &due,
		CreatedAt:            delivered,
		UpdatedAt:            delivered,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed escrow")
	return model
}

// seedPayoutAccount inserts an active mobile-money payout account.
func seedPayoutAccount(t *testing.T, db *gorm.DB, userID uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	model := repository.PayoutAccountModel{
		ID:                    uuid.New(),
		UserID:                userID,
		PayoutMethod:          "MOBILE_MONEY",
		MobileMoneyNumber:     "+254700000001",
		ProviderRecipientCode: "RCP_inttest",
		IsActive:              true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	require.NoError(t, db.Create(&model).Error, "failed to seed payout account")
}

// signWebhook computes the provider's HMAC-SHA512 hex signature.
func signWebhook(body []byte) string {
	mac := hmac.New(sha512.New, []byte(testWebhookSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// publishTestEvent publishes a CloudEvent to Kafka.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForEscrowStatus polls the escrows table until the status matches.
func waitForEscrowStatus(t *testing.T, db *gorm.DB, escrowID uuid.UUID, expectedStatus string, timeout time.Duration) repository.EscrowModel {
	t.Helper()
	var result repository.EscrowModel
	require.Eventually(t, func() bool {
		var model repository.EscrowModel
		err := db.Where("id = ?", escrowID).First(&model).Error
		if err != nil {
			return false
		}
		if model.Status == expectedStatus {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "escrow did not transition to %s", expectedStatus)
	return result
}

// countEvents counts audit-log rows of one event type for an escrow.
func countEvents(t *testing.T, db *gorm.DB, escrowID uuid.UUID, eventType string) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&repository.EscrowEventModel{}).
		Where("escrow_id = ? AND event_type = ?", escrowID, eventType).
		Count(&count).Error)
	return count
}

// consumeOneEvent reads from a Kafka topic until it finds an event of the expected type.
func consumeOneEvent(t *testing.T, brokers []string, topic, expectedType string, timeout time.Duration) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event type %q on topic %q", expectedType, topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if ce.Type == expectedType {
			return ce
		}
	}
}

// createTopics pre-creates Kafka topics so producers don't fail with "Unknown Topic".
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
