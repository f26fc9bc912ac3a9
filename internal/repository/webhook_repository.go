package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/webhook"
)

// WebhookLogModel is the GORM persistence model for webhook_logs. The
// composite unique index is the idempotency guard: a redelivered event hits
// the constraint instead of being processed twice.
type WebhookLogModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Provider    string     `gorm:"type:varchar(30);not null;uniqueIndex:idx_webhook_delivery"`
	EventType   string     `gorm:"type:varchar(50);not null;uniqueIndex:idx_webhook_delivery"`
	Reference   string     `gorm:"type:varchar(100);not null;uniqueIndex:idx_webhook_delivery"`
	Payload     string     `gorm:"type:jsonb;not null"`
	Processed   bool       `gorm:"not null;default:false"`
	Error       string     `gorm:"type:text"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;not null;default:now()"`
	ProcessedAt *time.Time `gorm:"type:timestamptz"`
}

func (WebhookLogModel) TableName() string { return "webhook_logs" }

// WebhookRepositoryImpl is the GORM-based webhook log repository.
type WebhookRepositoryImpl struct {
	db *gorm.DB
}

// NewWebhookRepository creates a GORM-backed webhook log repository.
func NewWebhookRepository(db *gorm.DB) *WebhookRepositoryImpl {
	return &WebhookRepositoryImpl{db: db}
}

// Register inserts the delivery. A duplicate (provider, event_type, reference)
// tuple returns created=false and no error.
func (r *WebhookRepositoryImpl) Register(ctx context.Context, l *webhook.Log) (bool, error) {
	model := &WebhookLogModel{
		ID:        l.ID,
		Provider:  l.Provider,
		EventType: l.EventType,
		Reference: l.Reference,
		Payload:   l.Payload,
		Processed: l.Processed,
		Error:     l.Error,
		CreatedAt: l.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkProcessed records the processing outcome.
func (r *WebhookRepositoryImpl) MarkProcessed(ctx context.Context, id uuid.UUID, procErr string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).Model(&WebhookLogModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"processed":    procErr == "",
			"error":        procErr,
			"processed_at": now,
		}).Error
}
