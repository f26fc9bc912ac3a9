// Package escrow holds the aggregates, state machine, and persistence
// contracts of the escrow engine.
package escrow

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// Status is the escrow lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusFunded     Status = "FUNDED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDelivered  Status = "DELIVERED"
	StatusReleased   Status = "RELEASED"
	StatusDisputed   Status = "DISPUTED"
	StatusRefunded   Status = "REFUNDED"
	StatusCancelled  Status = "CANCELLED"
)

// Resolution is an admin's dispute verdict.
type Resolution string

const (
	ResolutionReleaseToSeller Resolution = "RELEASE_TO_SELLER"
	ResolutionRefundBuyer     Resolution = "REFUND_BUYER"
	ResolutionPartialSplit    Resolution = "PARTIAL_SPLIT"
)

// PayoutMethod identifies a seller payout destination class.
type PayoutMethod string

const (
	PayoutMobileMoney PayoutMethod = "MOBILE_MONEY"
	PayoutBank        PayoutMethod = "BANK"
)

// transitions is the complete set of allowed state changes. Anything outside
// this table is rejected. FUNDED → DELIVERED is deliberate: a seller may
// deliver without an explicit start.
var transitions = map[Status][]Status{
	StatusPending:    {StatusFunded, StatusCancelled},
	StatusFunded:     {StatusInProgress, StatusDelivered, StatusDisputed, StatusRefunded},
	StatusInProgress: {StatusDelivered, StatusDisputed, StatusRefunded},
	StatusDelivered:  {StatusReleased, StatusDisputed},
	StatusDisputed:   {StatusReleased, StatusRefunded},
	// RELEASED → FUNDED is the transfer-failure revert, handled by RevertRelease
	// rather than the public table.
}

// CanTransition reports whether the table allows from → to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s admits no further public transitions.
func IsTerminal(s Status) bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusCancelled
}

// Escrow is the aggregate root: a single hold of funds for one unit of work.
// It mutates only through its transition methods; persistence rebuilds it via
// Reconstitute.
type Escrow struct {
	id       uuid.UUID
	buyerID  uuid.UUID
	sellerID uuid.UUID

	sourceType       SourceType
	jobProposalID    *uuid.UUID
	jobID            *uuid.UUID
	campaignID       *uuid.UUID
	serviceRequestID *uuid.UUID

	title    string
	currency string

	totalAmount  int64
	feeAmount    int64
	sellerAmount int64

	status               Status
	inspectionPeriodDays int

	paymentRef        string
	paymentAccessCode string
	transferRef       string

	sellerRecipientCode string
	sellerPayoutMethod  PayoutMethod

	disputeReason     string
	disputeRaisedBy   *uuid.UUID
	disputeResolution Resolution
	splitPercent      *int

	cancelledBy        *uuid.UUID
	cancellationReason string

	deliveryNote       string
	terms              string
	metadata           string
	transferFailReason string

	createdAt           time.Time
	updatedAt           time.Time
	paymentConfirmedAt  *time.Time
	deliveryConfirmedAt *time.Time
	autoReleaseAt       *time.Time
	fundsReleasedAt     *time.Time
	transferConfirmedAt *time.Time
	transferFailedAt    *time.Time
	refundConfirmedAt   *time.Time
	cancelledAt         *time.Time
	disputeResolvedAt   *time.Time
}

// NewEscrowParams carries everything needed to open an escrow in PENDING.
type NewEscrowParams struct {
	BuyerID              uuid.UUID
	SellerID             uuid.UUID
	SourceType           SourceType
	JobProposalID        *uuid.UUID
	JobID                *uuid.UUID
	CampaignID           *uuid.UUID
	ServiceRequestID     *uuid.UUID
	Title                string
	Currency             string
	TotalAmount          int64
	FeeAmount            int64
	SellerAmount         int64
	InspectionPeriodDays int
	Terms                string
}

// NewEscrow validates the creation invariants and returns a PENDING escrow.
func NewEscrow(p NewEscrowParams) (*Escrow, error) {
	if p.BuyerID == p.SellerID {
		return nil, domain.NewValidationError("buyer and seller must be different users")
	}
	if p.TotalAmount <= 0 {
		return nil, domain.NewValidationError("escrow amount must be positive")
	}
	if p.FeeAmount < 0 || p.SellerAmount < 0 || p.FeeAmount+p.SellerAmount != p.TotalAmount {
		return nil, domain.NewValidationError("fee and seller amounts must sum to the total")
	}
	if p.InspectionPeriodDays <= 0 {
		return nil, domain.NewValidationError("inspection period must be at least one day")
	}
	if p.Title == "" {
		return nil, domain.NewValidationError("title is required")
	}

	sources := 0
	if p.JobProposalID != nil {
		sources++
	}
	if p.CampaignID != nil {
		sources++
	}
	if p.ServiceRequestID != nil {
		sources++
	}
	if sources != 1 {
		return nil, domain.NewValidationError("exactly one source reference is required")
	}
	if p.SourceType == "" {
		return nil, domain.NewValidationError("source type is required")
	}

	now := time.Now().UTC()
	return &Escrow{
		id:                   uuid.New(),
		buyerID:              p.BuyerID,
		sellerID:             p.SellerID,
		sourceType:           p.SourceType,
		jobProposalID:        p.JobProposalID,
		jobID:                p.JobID,
		campaignID:           p.CampaignID,
		serviceRequestID:     p.ServiceRequestID,
		title:                p.Title,
		currency:             p.Currency,
		totalAmount:          p.TotalAmount,
		feeAmount:            p.FeeAmount,
		sellerAmount:         p.SellerAmount,
		status:               StatusPending,
		inspectionPeriodDays: p.InspectionPeriodDays,
		terms:                p.Terms,
		createdAt:            now,
		updatedAt:            now,
	}, nil
}

// --- Getters ---

func (e *Escrow) ID() uuid.UUID                    { return e.id }
func (e *Escrow) BuyerID() uuid.UUID               { return e.buyerID }
func (e *Escrow) SellerID() uuid.UUID              { return e.sellerID }
func (e *Escrow) SourceType() SourceType           { return e.sourceType }
func (e *Escrow) JobProposalID() *uuid.UUID        { return e.jobProposalID }
func (e *Escrow) JobID() *uuid.UUID                { return e.jobID }
func (e *Escrow) CampaignID() *uuid.UUID           { return e.campaignID }
func (e *Escrow) ServiceRequestID() *uuid.UUID     { return e.serviceRequestID }
func (e *Escrow) Title() string                    { return e.title }
func (e *Escrow) Currency() string                 { return e.currency }
func (e *Escrow) TotalAmount() int64               { return e.totalAmount }
func (e *Escrow) FeeAmount() int64                 { return e.feeAmount }
func (e *Escrow) SellerAmount() int64              { return e.sellerAmount }
func (e *Escrow) Status() Status                   { return e.status }
func (e *Escrow) InspectionPeriodDays() int        { return e.inspectionPeriodDays }
func (e *Escrow) PaymentRef() string               { return e.paymentRef }
func (e *Escrow) PaymentAccessCode() string        { return e.paymentAccessCode }
func (e *Escrow) TransferRef() string              { return e.transferRef }
func (e *Escrow) SellerRecipientCode() string      { return e.sellerRecipientCode }
func (e *Escrow) SellerPayoutMethod() PayoutMethod { return e.sellerPayoutMethod }
func (e *Escrow) DisputeReason() string            { return e.disputeReason }
func (e *Escrow) DisputeRaisedBy() *uuid.UUID      { return e.disputeRaisedBy }
func (e *Escrow) DisputeResolution() Resolution    { return e.disputeResolution }
func (e *Escrow) SplitPercent() *int               { return e.splitPercent }
func (e *Escrow) CancelledBy() *uuid.UUID          { return e.cancelledBy }
func (e *Escrow) CancellationReason() string       { return e.cancellationReason }
func (e *Escrow) DeliveryNote() string             { return e.deliveryNote }
func (e *Escrow) Terms() string                    { return e.terms }
func (e *Escrow) Metadata() string                 { return e.metadata }
func (e *Escrow) TransferFailReason() string       { return e.transferFailReason }
func (e *Escrow) CreatedAt() time.Time             { return e.createdAt }
func (e *Escrow) UpdatedAt() time.Time             { return e.updatedAt }
func (e *Escrow) PaymentConfirmedAt() *time.Time   { return e.paymentConfirmedAt }
func (e *Escrow) DeliveryConfirmedAt() *time.Time  { return e.deliveryConfirmedAt }
func (e *Escrow) AutoReleaseAt() *time.Time        { return e.autoReleaseAt }
func (e *Escrow) FundsReleasedAt() *time.Time      { return e.fundsReleasedAt }
func (e *Escrow) TransferConfirmedAt() *time.Time  { return e.transferConfirmedAt }
func (e *Escrow) TransferFailedAt() *time.Time     { return e.transferFailedAt }
func (e *Escrow) RefundConfirmedAt() *time.Time    { return e.refundConfirmedAt }
func (e *Escrow) CancelledAt() *time.Time          { return e.cancelledAt }
func (e *Escrow) DisputeResolvedAt() *time.Time    { return e.disputeResolvedAt }

// --- Transitions ---

func (e *Escrow) guard(to Status) error {
	if !CanTransition(e.status, to) {
		return domain.NewInvalidStateError(string(e.status), string(to))
	}
	return nil
}

func (e *Escrow) touch() { e.updatedAt = time.Now().UTC() }

// AttachPayment records the provider's payment initialization result.
func (e *Escrow) AttachPayment(reference, accessCode string) {
	e.paymentRef = reference
	e.paymentAccessCode = accessCode
	e.touch()
}

// Fund confirms payment and moves PENDING → FUNDED.
func (e *Escrow) Fund() error {
	if err := e.guard(StatusFunded); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.status = StatusFunded
	e.paymentConfirmedAt = &now
	e.touch()
	return nil
}

// StartWork moves FUNDED → IN_PROGRESS.
func (e *Escrow) StartWork() error {
	if err := e.guard(StatusInProgress); err != nil {
		return err
	}
	e.status = StatusInProgress
	e.touch()
	return nil
}

// MarkDelivered moves FUNDED or IN_PROGRESS → DELIVERED and arms the
// auto-release clock.
func (e *Escrow) MarkDelivered(note string) error {
	if err := e.guard(StatusDelivered); err != nil {
		return err
	}
	now := time.Now().UTC()
	autoReleaseAt := now.AddDate(0, 0, e.inspectionPeriodDays)
	e.status = StatusDelivered
	e.deliveryNote = note
	e.deliveryConfirmedAt = &now
	e.autoReleaseAt = &autoReleaseAt
	e.touch()
	return nil
}

// Release moves DELIVERED or DISPUTED → RELEASED, snapshotting the seller's
// payout destination so later account changes never affect this escrow.
func (e *Escrow) Release(recipientCode string, method PayoutMethod, transferRef string) error {
	if err := e.guard(StatusReleased); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.status = StatusReleased
	e.sellerRecipientCode = recipientCode
	e.sellerPayoutMethod = method
	e.transferRef = transferRef
	e.fundsReleasedAt = &now
	e.touch()
	return nil
}

// RevertRelease undoes a release whose transfer failed: RELEASED → FUNDED.
// The funds are still on the provider balance, so the escrow becomes
// releasable again.
func (e *Escrow) RevertRelease(reason string) error {
	if e.status != StatusReleased {
		return domain.NewInvalidStateError(string(e.status), string(StatusFunded))
	}
	now := time.Now().UTC()
	e.status = StatusFunded
	e.transferFailedAt = &now
	e.transferFailReason = reason
	e.fundsReleasedAt = nil
	e.touch()
	return nil
}

// SettleFromMilestones closes a milestone escrow once every milestone has
// released. The money already moved milestone by milestone, so this is a
// bookkeeping transition; like RevertRelease it sits outside the public table.
func (e *Escrow) SettleFromMilestones(recipientCode string, method PayoutMethod) error {
	switch e.status {
	case StatusFunded, StatusInProgress, StatusDelivered:
	default:
		return domain.NewInvalidStateError(string(e.status), string(StatusReleased))
	}
	now := time.Now().UTC()
	e.status = StatusReleased
	e.sellerRecipientCode = recipientCode
	e.sellerPayoutMethod = method
	e.fundsReleasedAt = &now
	e.touch()
	return nil
}

// ConfirmTransfer records provider confirmation of the payout.
func (e *Escrow) ConfirmTransfer() {
	now := time.Now().UTC()
	e.transferConfirmedAt = &now
	e.touch()
}

// RaiseDispute moves FUNDED, IN_PROGRESS or DELIVERED → DISPUTED.
func (e *Escrow) RaiseDispute(raisedBy uuid.UUID, reason string) error {
	if err := e.guard(StatusDisputed); err != nil {
		return err
	}
	e.status = StatusDisputed
	e.disputeReason = reason
	e.disputeRaisedBy = &raisedBy
	e.touch()
	return nil
}

// RecordResolution stamps the admin verdict on a disputed escrow. The status
// change itself happens through Release or MarkRefunded.
func (e *Escrow) RecordResolution(r Resolution, splitPercent *int) error {
	if e.status != StatusDisputed {
		return domain.NewInvalidStateError(string(e.status), string(StatusReleased))
	}
	if r == ResolutionPartialSplit {
		if splitPercent == nil || *splitPercent < 0 || *splitPercent > 100 {
			return domain.NewValidationError("split percent must be between 0 and 100")
		}
		e.splitPercent = splitPercent
	}
	now := time.Now().UTC()
	e.disputeResolution = r
	e.disputeResolvedAt = &now
	e.touch()
	return nil
}

// MarkRefunded moves FUNDED, IN_PROGRESS or DISPUTED → REFUNDED.
func (e *Escrow) MarkRefunded() error {
	if err := e.guard(StatusRefunded); err != nil {
		return err
	}
	e.status = StatusRefunded
	e.touch()
	return nil
}

// ConfirmRefund records provider confirmation of the refund.
func (e *Escrow) ConfirmRefund() {
	now := time.Now().UTC()
	e.refundConfirmedAt = &now
	e.touch()
}

// Cancel moves PENDING → CANCELLED.
func (e *Escrow) Cancel(by uuid.UUID, reason string) error {
	if err := e.guard(StatusCancelled); err != nil {
		return err
	}
	now := time.Now().UTC()
	e.status = StatusCancelled
	e.cancelledBy = &by
	e.cancellationReason = reason
	e.cancelledAt = &now
	e.touch()
	return nil
}
