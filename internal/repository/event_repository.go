package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	escrowDomain "github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
)

// EventRepositoryImpl reads the append-only audit log. Writes go through the
// escrow repository's unit of work so an event can never outlive its
// transition.
type EventRepositoryImpl struct {
	db *gorm.DB
}

// NewEventRepository creates a GORM-backed audit log reader.
func NewEventRepository(db *gorm.DB) *EventRepositoryImpl {
	return &EventRepositoryImpl{db: db}
}

// ListByEscrow returns the escrow's audit trail, oldest first.
func (r *EventRepositoryImpl) ListByEscrow(ctx context.Context, escrowID uuid.UUID) ([]*escrowDomain.Event, error) {
	var models []EscrowEventModel
	if err := r.db.WithContext(ctx).
		Where("escrow_id = ?", escrowID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]*escrowDomain.Event, len(models))
	for i := range models {
		m := &models[i]
		out[i] = &escrowDomain.Event{
			ID:          m.ID,
			EscrowID:    m.EscrowID,
			MilestoneID: m.MilestoneID,
			ActorID:     m.ActorID,
			EventType:   m.EventType,
			Description: m.Description,
			Metadata:    m.Metadata,
			IPAddress:   m.IPAddress,
			CreatedAt:   m.CreatedAt,
		}
	}
	return out, nil
}
