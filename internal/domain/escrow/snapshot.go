package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Snapshot is the flat image of an Escrow used to cross the persistence
// boundary in both directions.
type Snapshot struct {
	ID       uuid.UUID
	BuyerID  uuid.UUID
	SellerID uuid.UUID

	SourceType       SourceType
	JobProposalID    *uuid.UUID
	JobID            *uuid.UUID
	CampaignID       *uuid.UUID
	ServiceRequestID *uuid.UUID

	Title    string
	Currency string

	TotalAmount  int64
	FeeAmount    int64
	SellerAmount int64

	Status               Status
	InspectionPeriodDays int

	PaymentRef        string
	PaymentAccessCode string
	TransferRef       string

	SellerRecipientCode string
	SellerPayoutMethod  PayoutMethod

	DisputeReason     string
	DisputeRaisedBy   *uuid.UUID
	DisputeResolution Resolution
	SplitPercent      *int

	CancelledBy        *uuid.UUID
	CancellationReason string

	DeliveryNote       string
	Terms              string
	Metadata           string
	TransferFailReason string

	CreatedAt           time.Time
	UpdatedAt           time.Time
	PaymentConfirmedAt  *time.Time
	DeliveryConfirmedAt *time.Time
	AutoReleaseAt       *time.Time
	FundsReleasedAt     *time.Time
	TransferConfirmedAt *time.Time
	TransferFailedAt    *time.Time
	RefundConfirmedAt   *time.Time
	CancelledAt         *time.Time
	DisputeResolvedAt   *time.Time
}

// Reconstitute rebuilds an Escrow from persisted data. It performs no
// validation; the row is trusted.
func Reconstitute(s Snapshot) *Escrow {
	return &Escrow{
		id:                   s.ID,
		buyerID:              s.BuyerID,
		sellerID:             s.SellerID,
		sourceType:           s.SourceType,
		jobProposalID:        s.JobProposalID,
		jobID:                s.JobID,
		campaignID:           s.CampaignID,
		serviceRequestID:     s.ServiceRequestID,
		title:                s.Title,
		currency:             s.Currency,
		totalAmount:          s.TotalAmount,
		feeAmount:            s.FeeAmount,
		sellerAmount:         s.SellerAmount,
		status:               s.Status,
		inspectionPeriodDays: s.InspectionPeriodDays,
		paymentRef:           s.PaymentRef,
		paymentAccessCode:    s.PaymentAccessCode,
		transferRef:          s.TransferRef,
		sellerRecipientCode:  s.SellerRecipientCode,
		sellerPayoutMethod:   s.SellerPayoutMethod,
		disputeReason:        s.DisputeReason,
		disputeRaisedBy:      s.DisputeRaisedBy,
		disputeResolution:    s.DisputeResolution,
		splitPercent:         s.SplitPercent,
		cancelledBy:          s.CancelledBy,
		cancellationReason:   s.CancellationReason,
		deliveryNote:         s.DeliveryNote,
		terms:                s.Terms,
		metadata:             s.Metadata,
		transferFailReason:   s.TransferFailReason,
		createdAt:            s.CreatedAt,
		updatedAt:            s.UpdatedAt,
		paymentConfirmedAt:   s.PaymentConfirmedAt,
		deliveryConfirmedAt:  s.DeliveryConfirmedAt,
		autoReleaseAt:        s.AutoReleaseAt,
		fundsReleasedAt:      s.FundsReleasedAt,
		transferConfirmedAt:  s.TransferConfirmedAt,
		transferFailedAt:     s.TransferFailedAt,
		refundConfirmedAt:    s.RefundConfirmedAt,
		cancelledAt:          s.CancelledAt,
		disputeResolvedAt:    s.DisputeResolvedAt,
	}
}

// Snapshot flattens the aggregate for persistence.
func (e *Escrow) Snapshot() Snapshot {
	return Snapshot{
		ID:                   e.id,
		BuyerID:              e.buyerID,
		SellerID:             e.sellerID,
		SourceType:           e.sourceType,
		JobProposalID:        e.jobProposalID,
		JobID:                e.jobID,
		CampaignID:           e.campaignID,
		ServiceRequestID:     e.serviceRequestID,
		Title:                e.title,
		Currency:             e.currency,
		TotalAmount:          e.totalAmount,
		FeeAmount:            e.feeAmount,
		SellerAmount:         e.sellerAmount,
		Status:               e.status,
		InspectionPeriodDays: e.inspectionPeriodDays,
		PaymentRef:           e.paymentRef,
		PaymentAccessCode:    e.paymentAccessCode,
		TransferRef:          e.transferRef,
		SellerRecipientCode:  e.sellerRecipientCode,
		SellerPayoutMethod:   e.sellerPayoutMethod,
		DisputeReason:        e.disputeReason,
		DisputeRaisedBy:      e.disputeRaisedBy,
		DisputeResolution:    e.disputeResolution,
		SplitPercent:         e.splitPercent,
		CancelledBy:          e.cancelledBy,
		CancellationReason:   e.cancellationReason,
		DeliveryNote:         e.deliveryNote,
		Terms:                e.terms,
		Metadata:             e.metadata,
		TransferFailReason:   e.transferFailReason,
		CreatedAt:            e.createdAt,
		UpdatedAt:            e.updatedAt,
		PaymentConfirmedAt:   e.paymentConfirmedAt,
		DeliveryConfirmedAt:  e.deliveryConfirmedAt,
		AutoReleaseAt:        e.autoReleaseAt,
		FundsReleasedAt:      e.fundsReleasedAt,
		TransferConfirmedAt:  e.transferConfirmedAt,
		TransferFailedAt:     e.transferFailedAt,
		RefundConfirmedAt:    e.refundConfirmedAt,
		CancelledAt:          e.cancelledAt,
		DisputeResolvedAt:    e.disputeResolvedAt,
	}
}
