package escrow

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

func newTestEscrow(t *testing.T) *Escrow {
	t.Helper()
	proposalID := uuid.New()
	jobID := uuid.New()
	e, err := NewEscrow(NewEscrowParams{
		BuyerID:              uuid.New(),
		SellerID:             uuid.New(),
		SourceType:           SourceJobProposal,
		JobProposalID:        &proposalID,
		JobID:                &jobID,
		Title:                "Logo design sprint",
		Currency:             "KES",
		TotalAmount:          500000,
		FeeAmount:            10000,
		SellerAmount:         490000,
		InspectionPeriodDays: 7,
	})
	require.NoError(t, err)
	return e
}

func TestNewEscrow_Invariants(t *testing.T) {
	same := uuid.New()
	proposalID := uuid.New()

	base := NewEscrowParams{
		BuyerID:              uuid.New(),
		SellerID:             uuid.New(),
		SourceType:           SourceJobProposal,
		JobProposalID:        &proposalID,
		Title:                "t",
		Currency:             "KES",
		TotalAmount:          100,
		FeeAmount:            2,
		SellerAmount:         98,
		InspectionPeriodDays: 7,
	}

	t.Run("buyer equals seller", func(t *testing.T) {
		p := base
		p.BuyerID, p.SellerID = same, same
		_, err := NewEscrow(p)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("amounts must sum", func(t *testing.T) {
		p := base
		p.FeeAmount = 3
		_, err := NewEscrow(p)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("no source", func(t *testing.T) {
		p := base
		p.JobProposalID = nil
		_, err := NewEscrow(p)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("two sources", func(t *testing.T) {
		p := base
		campaignID := uuid.New()
		p.CampaignID = &campaignID
		_, err := NewEscrow(p)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("non-positive amount", func(t *testing.T) {
		p := base
		p.TotalAmount, p.FeeAmount, p.SellerAmount = 0, 0, 0
		_, err := NewEscrow(p)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusFunded}:        true,
		{StatusPending, StatusCancelled}:     true,
		{StatusFunded, StatusInProgress}:     true,
		{StatusFunded, StatusDelivered}:      true,
		{StatusFunded, StatusDisputed}:       true,
		{StatusFunded, StatusRefunded}:       true,
		{StatusInProgress, StatusDelivered}:  true,
		{StatusInProgress, StatusDisputed}:   true,
		{StatusInProgress, StatusRefunded}:   true,
		{StatusDelivered, StatusReleased}:    true,
		{StatusDelivered, StatusDisputed}:    true,
		{StatusDisputed, StatusReleased}:     true,
		{StatusDisputed, StatusRefunded}:     true,
	}

	all := []Status{
		StatusPending, StatusFunded, StatusInProgress, StatusDelivered,
		StatusReleased, StatusDisputed, StatusRefunded, StatusCancelled,
	}
	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]Status{from, to}], CanTransition(from, to),
				"%s -> %s", from, to)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	assert.True(t, IsTerminal(StatusReleased))
	assert.True(t, IsTerminal(StatusRefunded))
	assert.True(t, IsTerminal(StatusCancelled))
	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusDisputed))
}

func TestLifecycle_HappyPath(t *testing.T) {
	e := newTestEscrow(t)
	assert.Equal(t, StatusPending, e.Status())

	require.NoError(t, e.Fund())
	assert.Equal(t, StatusFunded, e.Status())
	assert.NotNil(t, e.PaymentConfirmedAt())

	require.NoError(t, e.StartWork())
	require.NoError(t, e.MarkDelivered("final assets uploaded"))
	assert.Equal(t, StatusDelivered, e.Status())
	require.NotNil(t, e.AutoReleaseAt())
	assert.Equal(t, e.DeliveryConfirmedAt().AddDate(0, 0, 7), *e.AutoReleaseAt())

	ref := NewTransferReference(e.ID())
	require.NoError(t, e.Release("RCP_A", PayoutMobileMoney, ref))
	assert.Equal(t, StatusReleased, e.Status())
	assert.Equal(t, "RCP_A", e.SellerRecipientCode())
	assert.Equal(t, ref, e.TransferRef())
	assert.NotNil(t, e.FundsReleasedAt())
}

func TestDeliverWithoutStart(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	// FUNDED -> DELIVERED without an explicit start is allowed.
	require.NoError(t, e.MarkDelivered(""))
	assert.Equal(t, StatusDelivered, e.Status())
}

func TestFund_Idempotent(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	err := e.Fund()
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestRevertRelease(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	require.NoError(t, e.MarkDelivered(""))
	require.NoError(t, e.Release("RCP_A", PayoutMobileMoney, "TRF-x"))

	require.NoError(t, e.RevertRelease("transfer rejected by provider"))
	assert.Equal(t, StatusFunded, e.Status())
	assert.Nil(t, e.FundsReleasedAt())
	assert.NotNil(t, e.TransferFailedAt())
	assert.Equal(t, "transfer rejected by provider", e.TransferFailReason())

	// Releasable again after the revert.
	require.NoError(t, e.MarkDelivered(""))
	require.NoError(t, e.Release("RCP_A", PayoutMobileMoney, "TRF-y"))
}

func TestDisputeResolution(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	require.NoError(t, e.MarkDelivered(""))

	buyer := e.BuyerID()
	require.NoError(t, e.RaiseDispute(buyer, "work does not match the brief"))
	assert.Equal(t, StatusDisputed, e.Status())

	split := 40
	require.NoError(t, e.RecordResolution(ResolutionPartialSplit, &split))
	assert.Equal(t, ResolutionPartialSplit, e.DisputeResolution())
	require.NotNil(t, e.SplitPercent())
	assert.Equal(t, 40, *e.SplitPercent())

	require.NoError(t, e.Release("RCP_A", PayoutMobileMoney, "TRF-z"))
	assert.Equal(t, StatusReleased, e.Status())
}

func TestRecordResolution_SplitBounds(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	require.NoError(t, e.RaiseDispute(e.SellerID(), "payment at risk"))

	bad := 101
	err := e.RecordResolution(ResolutionPartialSplit, &bad)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	err = e.RecordResolution(ResolutionPartialSplit, nil)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestCancel_OnlyPending(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Cancel(e.BuyerID(), "changed my mind"))
	assert.Equal(t, StatusCancelled, e.Status())
	assert.Equal(t, "changed my mind", e.CancellationReason())

	e2 := newTestEscrow(t)
	require.NoError(t, e2.Fund())
	err := e2.Cancel(e2.BuyerID(), "too late")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newTestEscrow(t)
	require.NoError(t, e.Fund())
	require.NoError(t, e.MarkDelivered("note"))

	rebuilt := Reconstitute(e.Snapshot())
	assert.Equal(t, e.Snapshot(), rebuilt.Snapshot())
	assert.Equal(t, StatusDelivered, rebuilt.Status())
}

func TestMilestoneLifecycle(t *testing.T) {
	escrowID := uuid.New()
	m, err := NewMilestone(escrowID, 3, "Concept drafts", 200000, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, MilestonePending, m.Status())

	require.NoError(t, m.Deliver("drafts attached"))
	assert.Equal(t, MilestoneDelivered, m.Status())

	require.NoError(t, m.Release("MTRF-abc"))
	assert.Equal(t, MilestoneReleased, m.Status())
	assert.NotNil(t, m.ReleasedAt())

	require.NoError(t, m.RevertRelease("transfer reversed"))
	assert.Equal(t, MilestoneDelivered, m.Status())
	assert.Nil(t, m.ReleasedAt())
}

func TestMilestone_InvalidTransitions(t *testing.T) {
	m, err := NewMilestone(uuid.New(), 1, "m", 100, 0, nil)
	require.NoError(t, err)

	err = m.Release("MTRF-x")
	assert.Equal(t, domain.KindInvalidState, domain.KindOf(err))
}
