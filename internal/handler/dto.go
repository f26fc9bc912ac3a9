package handler

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/payout"
)

// EscrowDTO is the wire shape of an escrow. Amounts are integer minor units.
type EscrowDTO struct {
	ID       uuid.UUID `json:"id"`
	BuyerID  uuid.UUID `json:"buyer_id"`
	SellerID uuid.UUID `json:"seller_id"`

	SourceType       string     `json:"source_type"`
	JobProposalID    *uuid.UUID `json:"job_proposal_id,omitempty"`
	JobID            *uuid.UUID `json:"job_id,omitempty"`
	CampaignID       *uuid.UUID `json:"campaign_id,omitempty"`
	ServiceRequestID *uuid.UUID `json:"service_request_id,omitempty"`

	Title    string `json:"title"`
	Currency string `json:"currency"`

	TotalAmount  int64 `json:"total_amount"`
	FeeAmount    int64 `json:"fee_amount"`
	SellerAmount int64 `json:"seller_amount"`

	Status               string `json:"status"`
	InspectionPeriodDays int    `json:"inspection_period_days"`

	PaymentRef  string `json:"payment_ref,omitempty"`
	TransferRef string `json:"transfer_ref,omitempty"`

	DisputeReason     string     `json:"dispute_reason,omitempty"`
	DisputeRaisedBy   *uuid.UUID `json:"dispute_raised_by,omitempty"`
	DisputeResolution string     `json:"dispute_resolution,omitempty"`
	SplitPercent      *int       `json:"split_percent,omitempty"`

	DeliveryNote string `json:"delivery_note,omitempty"`
	Terms        string `json:"terms,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	PaymentConfirmedAt  *time.Time `json:"payment_confirmed_at,omitempty"`
	DeliveryConfirmedAt *time.Time `json:"delivery_confirmed_at,omitempty"`
	AutoReleaseAt       *time.Time `json:"auto_release_at,omitempty"`
	FundsReleasedAt     *time.Time `json:"funds_released_at,omitempty"`
	TransferConfirmedAt *time.Time `json:"transfer_confirmed_at,omitempty"`
	RefundConfirmedAt   *time.Time `json:"refund_confirmed_at,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`

	Milestones []MilestoneDTO `json:"milestones,omitempty"`
}

// MilestoneDTO is the wire shape of one milestone.
type MilestoneDTO struct {
	ID           uuid.UUID  `json:"id"`
	Title        string     `json:"title"`
	Amount       int64      `json:"amount"`
	OrderIndex   int        `json:"order_index"`
	Status       string     `json:"status"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	ReleasedAt   *time.Time `json:"released_at,omitempty"`
	DeliveryNote string     `json:"delivery_note,omitempty"`
}

// EventDTO is one audit-log entry. A null actor marks the system.
type EventDTO struct {
	ID          uuid.UUID  `json:"id"`
	MilestoneID *uuid.UUID `json:"milestone_id,omitempty"`
	ActorID     *uuid.UUID `json:"actor_id"`
	EventType   string     `json:"event_type"`
	Description string     `json:"description,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PayoutAccountDTO is the wire shape of a payout account. Destination numbers
// are returned as stored; clients mask them.
type PayoutAccountDTO struct {
	ID                uuid.UUID `json:"id"`
	PayoutMethod      string    `json:"payout_method"`
	MobileMoneyNumber string    `json:"mobile_money_number,omitempty"`
	BankAccountNumber string    `json:"bank_account_number,omitempty"`
	BankCode          string    `json:"bank_code,omitempty"`
	BankAccountName   string    `json:"bank_account_name,omitempty"`
	IsActive          bool      `json:"is_active"`
	CreatedAt         time.Time `json:"created_at"`
}

// NotificationDTO is the wire shape of one notification.
type NotificationDTO struct {
	ID        uuid.UUID  `json:"id"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	EscrowID  *uuid.UUID `json:"escrow_id,omitempty"`
	IsRead    bool       `json:"is_read"`
	CreatedAt time.Time  `json:"created_at"`
}

func toEscrowDTO(e *escrow.Escrow, milestones []*escrow.Milestone) EscrowDTO {
	dto := EscrowDTO{
		ID:                   e.ID(),
		BuyerID:              e.BuyerID(),
		SellerID:             e.SellerID(),
		SourceType:           string(e.SourceType()),
		JobProposalID:        e.JobProposalID(),
		JobID:                e.JobID(),
		CampaignID:           e.CampaignID(),
		ServiceRequestID:     e.ServiceRequestID(),
		Title:                e.Title(),
		Currency:             e.Currency(),
		TotalAmount:          e.TotalAmount(),
		FeeAmount:            e.FeeAmount(),
		SellerAmount:         e.SellerAmount(),
		Status:               string(e.Status()),
		InspectionPeriodDays: e.InspectionPeriodDays(),
		PaymentRef:           e.PaymentRef(),
		TransferRef:          e.TransferRef(),
		DisputeReason:        e.DisputeReason(),
		DisputeRaisedBy:      e.DisputeRaisedBy(),
		DisputeResolution:    string(e.DisputeResolution()),
		SplitPercent:         e.SplitPercent(),
		DeliveryNote:         e.DeliveryNote(),
		Terms:                e.Terms(),
		CreatedAt:            e.CreatedAt(),
		UpdatedAt:            e.UpdatedAt(),
		PaymentConfirmedAt:   e.PaymentConfirmedAt(),
		DeliveryConfirmedAt:  e.DeliveryConfirmedAt(),
		AutoReleaseAt:        e.AutoReleaseAt(),
		FundsReleasedAt:      e.FundsReleasedAt(),
		TransferConfirmedAt:  e.TransferConfirmedAt(),
		RefundConfirmedAt:    e.RefundConfirmedAt(),
		CancelledAt:          e.CancelledAt(),
	}
	for _, m := range milestones {
		dto.Milestones = append(dto.Milestones, toMilestoneDTO(m))
	}
	return dto
}

func toMilestoneDTO(m *escrow.Milestone) MilestoneDTO {
	return MilestoneDTO{
		ID:           m.ID(),
		Title:        m.Title(),
		Amount:       m.Amount(),
		OrderIndex:   m.OrderIndex(),
		Status:       string(m.Status()),
		DueDate:      m.DueDate(),
		DeliveredAt:  m.DeliveredAt(),
		ReleasedAt:   m.ReleasedAt(),
		DeliveryNote: m.DeliveryNote(),
	}
}

func toEventDTO(ev *escrow.Event) EventDTO {
	return EventDTO{
		ID:          ev.ID,
		MilestoneID: ev.MilestoneID,
		ActorID:     ev.ActorID,
		EventType:   ev.EventType,
		Description: ev.Description,
		CreatedAt:   ev.CreatedAt,
	}
}

func toPayoutAccountDTO(a *payout.Account) PayoutAccountDTO {
	return PayoutAccountDTO{
		ID:                a.ID(),
		PayoutMethod:      string(a.PayoutMethod()),
		MobileMoneyNumber: a.MobileMoneyNumber(),
		BankAccountNumber: a.BankAccountNumber(),
		BankCode:          a.BankCode(),
		BankAccountName:   a.BankAccountName(),
		IsActive:          a.IsActive(),
		CreatedAt:         a.CreatedAt(),
	}
}

func toNotificationDTO(n *notification.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		EscrowID:  n.EscrowID,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}
}
