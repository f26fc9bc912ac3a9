package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SourceType names the marketplace object an escrow was opened from.
type SourceType string

const (
	SourceJobProposal    SourceType = "job_proposal"
	SourceCampaign       SourceType = "campaign"
	SourceServiceRequest SourceType = "service_request"
)

// SourceMilestone is one entry of a campaign's milestone schedule, snapshotted
// at escrow creation. The schedule is immutable once an escrow references it.
type SourceMilestone struct {
	ID         int
	Title      string
	Amount     string // major units, as recorded by the source
	OrderIndex int
	DueDate    *time.Time
}

// SourceInfo is the projection of a source object the engine needs to open an
// escrow: the parties, a title, and the agreed amount.
type SourceInfo struct {
	Type       SourceType
	BuyerID    uuid.UUID
	SellerID   uuid.UUID
	JobID      *uuid.UUID // parent job, job proposals only
	Title      string
	Amount     string // major units
	Milestones []SourceMilestone
}

// SourceResolver reads source objects owned by the wider platform. Job and
// campaign CRUD is out of scope; the engine only ever reads these
// projections.
type SourceResolver interface {
	// JobProposal resolves an accepted proposal. Buyer is the job's brand,
	// seller the proposing creator, amount the proposed budget.
	JobProposal(ctx context.Context, id uuid.UUID) (*SourceInfo, error)

	// Campaign resolves a campaign plus its milestone schedule for the given
	// creator.
	Campaign(ctx context.Context, id, sellerID uuid.UUID) (*SourceInfo, error)

	// ServiceRequest resolves a direct service request for the given creator.
	ServiceRequest(ctx context.Context, id, sellerID uuid.UUID) (*SourceInfo, error)
}
