// Package events connects the escrow engine to the platform event bus:
// lifecycle transitions go out on escrow.events, marketplace changes come in
// on marketplace.events.
package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	// TopicEscrowEvents carries this service's lifecycle announcements.
	TopicEscrowEvents = "escrow.events"

	// TopicMarketplaceEvents carries source-object changes from the
	// marketplace services.
	TopicMarketplaceEvents = "marketplace.events"

	// Source identifies this service in outbound CloudEvents.
	Source = "service-escrow"
)

// Outbound event types.
const (
	TypeEscrowCreated   = "escrow.created"
	TypeEscrowFunded    = "escrow.funded"
	TypeEscrowStarted   = "escrow.started"
	TypeEscrowDelivered = "escrow.delivered"
	TypeEscrowReleased  = "escrow.released"
	TypeEscrowDisputed  = "escrow.disputed"
	TypeEscrowResolved  = "escrow.resolved"
	TypeEscrowRefunded  = "escrow.refunded"
	TypeEscrowCancelled = "escrow.cancelled"
)

// Inbound event types the engine reacts to.
const (
	TypeProposalWithdrawn = "proposal.withdrawn"
	TypeCampaignCancelled = "campaign.cancelled"
)

// EscrowEventData is the payload of every outbound escrow event. Amounts are
// minor units.
type EscrowEventData struct {
	EscrowID     uuid.UUID  `json:"escrow_id"`
	BuyerID      uuid.UUID  `json:"buyer_id"`
	SellerID     uuid.UUID  `json:"seller_id"`
	SourceType   string     `json:"source_type"`
	Status       string     `json:"status"`
	Currency     string     `json:"currency"`
	TotalAmount  int64      `json:"total_amount"`
	SellerAmount int64      `json:"seller_amount"`
	OccurredAt   time.Time  `json:"occurred_at"`
	MilestoneID  *uuid.UUID `json:"milestone_id,omitempty"`
}

// ProposalWithdrawnData is the inbound proposal.withdrawn payload.
type ProposalWithdrawnData struct {
	ProposalID uuid.UUID `json:"proposal_id"`
}

// CampaignCancelledData is the inbound campaign.cancelled payload.
type CampaignCancelledData struct {
	CampaignID uuid.UUID `json:"campaign_id"`
}
