//go:build integration

package main_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	escrowEvents "github.com/Sanaa-Creator-Market/service-escrow/internal/events"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/repository"
)

// TestProposalWithdrawn_CancelsPendingEscrow verifies that when a
// proposal.withdrawn event is published to marketplace.events, the escrow
// service picks it up, voids the PENDING escrow opened from the proposal, and
// publishes an escrow.cancelled event.
func TestProposalWithdrawn_CancelsPendingEscrow(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupEscrowStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	proposalID := uuid.New()
	seeded := seedPendingEscrow(t, infra.DB, proposalID)

	// Start the marketplace consumer.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Marketplace.Run(ctx) }()
	time.Sleep(3 * time.Second) // Wait for consumer group join.

	publishTestEvent(t, infra.KafkaBrokers, escrowEvents.TopicMarketplaceEvents,
		"service-marketplace", escrowEvents.TypeProposalWithdrawn,
		escrowEvents.ProposalWithdrawnData{ProposalID: proposalID})

	// Assert: DB transitions to CANCELLED.
	model := waitForEscrowStatus(t, infra.DB, seeded.ID, "CANCELLED", 15*time.Second)
	assert.NotNil(t, model.CancelledAt, "cancelled_at should be set")
	assert.Contains(t, model.CancellationReason, "proposal withdrawn")
	assert.Equal(t, int64(1), countEvents(t, infra.DB, seeded.ID, "cancelled"))

	// Assert: escrow.cancelled on escrow.events.
	ce := consumeOneEvent(t, infra.KafkaBrokers, escrowEvents.TopicEscrowEvents,
		escrowEvents.TypeEscrowCancelled, 15*time.Second)

	var data escrowEvents.EscrowEventData
	require.NoError(t, ce.ParseData(&data))
	assert.Equal(t, seeded.ID, data.EscrowID)
	assert.Equal(t, "CANCELLED", data.Status)
	assert.Equal(t, int64(500000), data.TotalAmount)
	assert.Equal(t, "KES", data.Currency)
}

// TestCampaignCancelled_FundedEscrowUntouched verifies that a cancelled
// campaign never voids an escrow that already holds money.
func TestCampaignCancelled_FundedEscrowUntouched(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupEscrowStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	campaignID := uuid.New()
	seeded := seedFundedCampaignEscrow(t, infra.DB, campaignID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = stack.Marketplace.Run(ctx) }()
	time.Sleep(3 * time.Second)

	publishTestEvent(t, infra.KafkaBrokers, escrowEvents.TopicMarketplaceEvents,
		"service-marketplace", escrowEvents.TypeCampaignCancelled,
		escrowEvents.CampaignCancelledData{CampaignID: campaignID})

	// Give the consumer time to process. The funded escrow must stay put.
	time.Sleep(5 * time.Second)
	var model repository.EscrowModel
	require.NoError(t, infra.DB.Where("id = ?", seeded.ID).First(&model).Error)
	assert.Equal(t, "FUNDED", model.Status, "funded escrow should survive campaign cancellation")
}

// TestWebhookChargeSuccess_FundsEscrow verifies the provider webhook path:
// a signed charge.success delivery funds the PENDING escrow exactly once,
// even when the provider re-delivers.
func TestWebhookChargeSuccess_FundsEscrow(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupEscrowStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	seeded := seedPendingEscrow(t, infra.DB, uuid.New())

	body := []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":500000}}`,
		*seeded.PaymentRef))
	ctx := context.Background()
	require.NoError(t, stack.Webhooks.Ingest(ctx, body, signWebhook(body)))

	// Assert: DB transitions to FUNDED.
	model := waitForEscrowStatus(t, infra.DB, seeded.ID, "FUNDED", 15*time.Second)
	assert.NotNil(t, model.PaymentConfirmedAt, "payment_confirmed_at should be set")

	// Re-deliver the same event: idempotency log swallows it.
	require.NoError(t, stack.Webhooks.Ingest(ctx, body, signWebhook(body)))
	time.Sleep(2 * time.Second)
	assert.Equal(t, int64(1), countEvents(t, infra.DB, seeded.ID, "funded"))

	var logs int64
	require.NoError(t, infra.DB.Model(&repository.WebhookLogModel{}).
		Where("reference = ?", *seeded.PaymentRef).Count(&logs).Error)
	assert.Equal(t, int64(1), logs, "one webhook log per delivery tuple")

	// Assert: escrow.funded on escrow.events.
	ce := consumeOneEvent(t, infra.KafkaBrokers, escrowEvents.TopicEscrowEvents,
		escrowEvents.TypeEscrowFunded, 15*time.Second)

	var data escrowEvents.EscrowEventData
	require.NoError(t, ce.ParseData(&data))
	assert.Equal(t, seeded.ID, data.EscrowID)
	assert.Equal(t, "FUNDED", data.Status)
}

// TestWebhook_BadSignatureRejected verifies a forged delivery registers
// nothing.
func TestWebhook_BadSignatureRejected(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupEscrowStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	seeded := seedPendingEscrow(t, infra.DB, uuid.New())
	body := []byte(fmt.Sprintf(
		`{"event":"charge.success","data":{"reference":%q,"status":"success","amount":500000}}`,
		*seeded.PaymentRef))

	err := stack.Webhooks.Ingest(context.Background(), body, "forged")
	require.Error(t, err)

	var model repository.EscrowModel
	require.NoError(t, infra.DB.Where("id = ?", seeded.ID).First(&model).Error)
	assert.Equal(t, "PENDING", model.Status)

	var logs int64
	require.NoError(t, infra.DB.Model(&repository.WebhookLogModel{}).Count(&logs).Error)
	assert.Equal(t, int64(0), logs)
}

// TestAutoReleaseWorker_ReleasesDueEscrow verifies the scheduler end to end:
// a DELIVERED escrow past its inspection deadline is released, the seller
// share is transferred, and escrow.released goes out on the bus.
func TestAutoReleaseWorker_ReleasesDueEscrow(t *testing.T) {
	infra := setupContainers(t)
	defer infra.Cleanup()

	stack := setupEscrowStack(t, infra.DB, infra.KafkaBrokers)
	defer stack.CleanupProducer()
	defer func() { _ = stack.Consumer.Close() }()

	sellerID := uuid.New()
	seedPayoutAccount(t, infra.DB, sellerID)
	seeded := seedDeliveredEscrow(t, infra.DB, sellerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stack.Worker.Run(ctx)

	// Assert: DB transitions to RELEASED with the recipient snapshotted.
	model := waitForEscrowStatus(t, infra.DB, seeded.ID, "RELEASED", 15*time.Second)
	assert.Equal(t, "RCP_inttest", model.SellerRecipientCode)
	assert.NotNil(t, model.TransferRef, "transfer_ref should be set")
	assert.NotNil(t, model.FundsReleasedAt, "funds_released_at should be set")
	assert.Equal(t, int64(1), countEvents(t, infra.DB, seeded.ID, "auto_released"))

	// Assert: escrow.released on escrow.events.
	ce := consumeOneEvent(t, infra.KafkaBrokers, escrowEvents.TopicEscrowEvents,
		escrowEvents.TypeEscrowReleased, 15*time.Second)

	var data escrowEvents.EscrowEventData
	require.NoError(t, ce.ParseData(&data))
	assert.Equal(t, seeded.ID, data.EscrowID)
	assert.Equal(t, int64(490000), data.SellerAmount)
}
