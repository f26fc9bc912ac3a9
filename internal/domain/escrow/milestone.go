package escrow

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// MilestoneStatus is the per-milestone lifecycle state. It moves independently
// of the parent escrow except that the parent releases when every milestone is
// released.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "PENDING"
	MilestoneInProgress MilestoneStatus = "IN_PROGRESS"
	MilestoneDelivered  MilestoneStatus = "DELIVERED"
	MilestoneReleased   MilestoneStatus = "RELEASED"
	MilestoneDisputed   MilestoneStatus = "DISPUTED"
	MilestoneRefunded   MilestoneStatus = "REFUNDED"
)

var milestoneTransitions = map[MilestoneStatus][]MilestoneStatus{
	MilestonePending:    {MilestoneInProgress, MilestoneDelivered, MilestoneRefunded},
	MilestoneInProgress: {MilestoneDelivered, MilestoneDisputed, MilestoneRefunded},
	MilestoneDelivered:  {MilestoneReleased, MilestoneDisputed},
	MilestoneDisputed:   {MilestoneReleased, MilestoneRefunded},
}

func canTransitionMilestone(from, to MilestoneStatus) bool {
	for _, s := range milestoneTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Milestone is a sub-ledger entry for one milestone of a campaign escrow.
type Milestone struct {
	id                uuid.UUID
	escrowID          uuid.UUID
	sourceMilestoneID int
	title             string
	amount            int64
	orderIndex        int
	status            MilestoneStatus
	dueDate           *time.Time
	deliveredAt       *time.Time
	releasedAt        *time.Time
	deliveryNote      string
	rejectionReason   string
	transferRef       string
	createdAt         time.Time
	updatedAt         time.Time
}

// NewMilestone creates a PENDING milestone snapshotted from the source schedule.
func NewMilestone(escrowID uuid.UUID, sourceMilestoneID int, title string, amount int64, orderIndex int, dueDate *time.Time) (*Milestone, error) {
	if amount <= 0 {
		return nil, domain.NewValidationError("milestone amount must be positive")
	}
	if title == "" {
		return nil, domain.NewValidationError("milestone title is required")
	}
	now := time.Now().UTC()
	return &Milestone{
		id:                uuid.New(),
		escrowID:          escrowID,
		sourceMilestoneID: sourceMilestoneID,
		title:             title,
		amount:            amount,
		orderIndex:        orderIndex,
		status:            MilestonePending,
		dueDate:           dueDate,
		createdAt:         now,
		updatedAt:         now,
	}, nil
}

func (m *Milestone) ID() uuid.UUID           { return m.id }
func (m *Milestone) EscrowID() uuid.UUID     { return m.escrowID }
func (m *Milestone) SourceMilestoneID() int  { return m.sourceMilestoneID }
func (m *Milestone) Title() string           { return m.title }
func (m *Milestone) Amount() int64           { return m.amount }
func (m *Milestone) OrderIndex() int         { return m.orderIndex }
func (m *Milestone) Status() MilestoneStatus { return m.status }
func (m *Milestone) DueDate() *time.Time     { return m.dueDate }
func (m *Milestone) DeliveredAt() *time.Time { return m.deliveredAt }
func (m *Milestone) ReleasedAt() *time.Time  { return m.releasedAt }
func (m *Milestone) DeliveryNote() string    { return m.deliveryNote }
func (m *Milestone) RejectionReason() string { return m.rejectionReason }
func (m *Milestone) TransferRef() string     { return m.transferRef }
func (m *Milestone) CreatedAt() time.Time    { return m.createdAt }
func (m *Milestone) UpdatedAt() time.Time    { return m.updatedAt }

func (m *Milestone) guard(to MilestoneStatus) error {
	if !canTransitionMilestone(m.status, to) {
		return domain.NewInvalidStateError(string(m.status), string(to))
	}
	return nil
}

// Deliver marks the milestone DELIVERED with the seller's note.
func (m *Milestone) Deliver(note string) error {
	if err := m.guard(MilestoneDelivered); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.status = MilestoneDelivered
	m.deliveryNote = note
	m.deliveredAt = &now
	m.updatedAt = now
	return nil
}

// Release marks the milestone RELEASED and records its transfer reference.
func (m *Milestone) Release(transferRef string) error {
	if err := m.guard(MilestoneReleased); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.status = MilestoneReleased
	m.transferRef = transferRef
	m.releasedAt = &now
	m.updatedAt = now
	return nil
}

// RevertRelease undoes a milestone release whose transfer failed:
// RELEASED → DELIVERED.
func (m *Milestone) RevertRelease(reason string) error {
	if m.status != MilestoneReleased {
		return domain.NewInvalidStateError(string(m.status), string(MilestoneDelivered))
	}
	m.status = MilestoneDelivered
	m.rejectionReason = reason
	m.releasedAt = nil
	m.updatedAt = time.Now().UTC()
	return nil
}

// MilestoneSnapshot crosses the persistence boundary.
type MilestoneSnapshot struct {
	ID                uuid.UUID
	EscrowID          uuid.UUID
	SourceMilestoneID int
	Title             string
	Amount            int64
	OrderIndex        int
	Status            MilestoneStatus
	DueDate           *time.Time
	DeliveredAt       *time.Time
	ReleasedAt        *time.Time
	DeliveryNote      string
	RejectionReason   string
	TransferRef       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ReconstituteMilestone rebuilds a Milestone from persisted data.
func ReconstituteMilestone(s MilestoneSnapshot) *Milestone {
	return &Milestone{
		id:                s.ID,
		escrowID:          s.EscrowID,
		sourceMilestoneID: s.SourceMilestoneID,
		title:             s.Title,
		amount:            s.Amount,
		orderIndex:        s.OrderIndex,
		status:            s.Status,
		dueDate:           s.DueDate,
		deliveredAt:       s.DeliveredAt,
		releasedAt:        s.ReleasedAt,
		deliveryNote:      s.DeliveryNote,
		rejectionReason:   s.RejectionReason,
		transferRef:       s.TransferRef,
		createdAt:         s.CreatedAt,
		updatedAt:         s.UpdatedAt,
	}
}

// Snapshot flattens the milestone for persistence.
func (m *Milestone) Snapshot() MilestoneSnapshot {
	return MilestoneSnapshot{
		ID:                m.id,
		EscrowID:          m.escrowID,
		SourceMilestoneID: m.sourceMilestoneID,
		Title:             m.title,
		Amount:            m.amount,
		OrderIndex:        m.orderIndex,
		Status:            m.status,
		DueDate:           m.dueDate,
		DeliveredAt:       m.deliveredAt,
		ReleasedAt:        m.releasedAt,
		DeliveryNote:      m.deliveryNote,
		RejectionReason:   m.rejectionReason,
		TransferRef:       m.transferRef,
		CreatedAt:         m.createdAt,
		UpdatedAt:         m.updatedAt,
	}
}
