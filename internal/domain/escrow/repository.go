package escrow

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows escrow list queries.
type ListFilter struct {
	Status   *Status
	BuyerID  *uuid.UUID
	SellerID *uuid.UUID
	Page     int
	Limit    int
}

// StatsFilter scopes dashboard statistics. A nil UserID means platform-wide.
type StatsFilter struct {
	UserID *uuid.UUID
}

// Stats is the dashboard aggregate.
type Stats struct {
	CountByStatus map[Status]int64 `json:"count_by_status"`
	TotalHeld     int64            `json:"total_held"`
	TotalReleased int64            `json:"total_released"`
	FeesEarned    int64            `json:"fees_earned"`
}

// Tx is the unit of work passed to InTx callbacks. Everything written through
// it commits or rolls back atomically with the escrow row lock; in particular
// a state change can never commit without its audit event.
type Tx interface {
	// Update persists the mutated aggregate.
	Update(e *Escrow) error

	// Milestones loads the escrow's milestones under the same lock scope.
	Milestones() ([]*Milestone, error)

	// FindMilestone loads one milestone of this escrow.
	FindMilestone(id uuid.UUID) (*Milestone, error)

	// UpdateMilestone persists a mutated milestone.
	UpdateMilestone(m *Milestone) error

	// AppendEvent writes an audit event in the same transaction.
	AppendEvent(ev *Event) error
}

// Repository is the persistence contract for escrows, milestones, and the
// audit log's transactional append.
type Repository interface {
	// Create inserts a new escrow, its milestone snapshot, and the created
	// event in one transaction.
	Create(ctx context.Context, e *Escrow, milestones []*Milestone, ev *Event) error

	// Update persists non-transition mutations (payment reference attachment)
	// without a row lock.
	Update(ctx context.Context, e *Escrow) error

	FindByID(ctx context.Context, id uuid.UUID) (*Escrow, error)
	FindByPaymentRef(ctx context.Context, ref string) (*Escrow, error)
	FindByTransferRef(ctx context.Context, ref string) (*Escrow, error)

	// FindPendingBySource returns PENDING escrows opened from the given source
	// object. Used to void escrows when the source is withdrawn.
	FindPendingBySource(ctx context.Context, st SourceType, sourceID uuid.UUID) ([]*Escrow, error)

	Milestones(ctx context.Context, escrowID uuid.UUID) ([]*Milestone, error)
	FindMilestone(ctx context.Context, id uuid.UUID) (*Milestone, error)
	FindMilestoneByTransferRef(ctx context.Context, ref string) (*Milestone, error)

	List(ctx context.Context, f ListFilter) ([]*Escrow, int64, error)
	Stats(ctx context.Context, f StatsFilter) (*Stats, error)

	// DueForAutoRelease returns ids of DELIVERED escrows whose auto-release
	// deadline has passed.
	DueForAutoRelease(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	// ApproachingAutoRelease returns DELIVERED escrows whose deadline falls
	// inside (now, now+window].
	ApproachingAutoRelease(ctx context.Context, now time.Time, window time.Duration) ([]*Escrow, error)

	// InTx opens a transaction, locks the escrow row (SELECT ... FOR UPDATE),
	// re-reads it, and runs fn. fn returning an error rolls everything back.
	InTx(ctx context.Context, escrowID uuid.UUID, fn func(tx Tx, e *Escrow) error) error
}

// EventRepository reads the append-only audit log.
type EventRepository interface {
	ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*Event, error)
}
