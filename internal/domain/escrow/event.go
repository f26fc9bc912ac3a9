package escrow

import (
	"time"

	"github.com/google/uuid"
)

// Audit event types. snake_case, stable: these are written to the immutable
// event log and mirrored onto the event stream.
const (
	EventCreated            = "created"
	EventFunded             = "funded"
	EventWorkStarted        = "work_started"
	EventDelivered          = "delivered"
	EventReleased           = "released"
	EventAutoReleased       = "auto_released"
	EventTransferConfirmed  = "transfer_confirmed"
	EventTransferFailed     = "transfer_failed"
	EventDisputeRaised      = "dispute_raised"
	EventDisputeResolved    = "dispute_resolved"
	EventRefunded           = "refunded"
	EventRefundConfirmed    = "refund_confirmed"
	EventCancelled          = "cancelled"
	EventMilestoneDelivered = "milestone_delivered"
	EventMilestoneReleased  = "milestone_released"
)

// Event is one append-only audit record. Rows are INSERT-only; a nil ActorID
// marks a system actor (auto-release, webhook).
type Event struct {
	ID          uuid.UUID
	EscrowID    uuid.UUID
	MilestoneID *uuid.UUID
	ActorID     *uuid.UUID
	EventType   string
	Description string
	Metadata    string
	IPAddress   string
	CreatedAt   time.Time
}

// NewEvent builds an audit event for an escrow transition.
func NewEvent(escrowID uuid.UUID, actorID *uuid.UUID, eventType, description string) *Event {
	return &Event{
		ID:          uuid.New(),
		EscrowID:    escrowID,
		ActorID:     actorID,
		EventType:   eventType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
}

// ForMilestone attaches a milestone id to the event.
func (ev *Event) ForMilestone(milestoneID uuid.UUID) *Event {
	ev.MilestoneID = &milestoneID
	return ev
}

// WithMetadata attaches free-form JSON metadata.
func (ev *Event) WithMetadata(metadata string) *Event {
	ev.Metadata = metadata
	return ev
}

// WithIP records the caller's address.
func (ev *Event) WithIP(ip string) *Event {
	ev.IPAddress = ip
	return ev
}
