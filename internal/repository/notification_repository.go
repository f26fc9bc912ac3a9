package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
)

// NotificationModel is the GORM persistence model for notifications.
type NotificationModel struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	Type      string     `gorm:"type:varchar(50);not null"`
	Title     string     `gorm:"type:varchar(255);not null"`
	Message   string     `gorm:"type:text"`
	EscrowID  *uuid.UUID `gorm:"type:uuid;index"`
	Metadata  string     `gorm:"type:jsonb;default:'{}'"`
	IsRead    bool       `gorm:"not null;default:false"`
	CreatedAt time.Time  `gorm:"type:timestamptz;not null;default:now()"`
}

func (NotificationModel) TableName() string { return "notifications" }

// NotificationRepositoryImpl is the GORM-based notification repository.
type NotificationRepositoryImpl struct {
	db *gorm.DB
}

// NewNotificationRepository creates a GORM-backed notification repository.
func NewNotificationRepository(db *gorm.DB) *NotificationRepositoryImpl {
	return &NotificationRepositoryImpl{db: db}
}

func (r *NotificationRepositoryImpl) Create(ctx context.Context, n *notification.Notification) error {
	metadata := n.Metadata
	if metadata == "" {
		metadata = "{}"
	}
	return r.db.WithContext(ctx).Create(&NotificationModel{
		ID:        n.ID,
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Message:   n.Message,
		EscrowID:  n.EscrowID,
		Metadata:  metadata,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt,
	}).Error
}

func (r *NotificationRepositoryImpl) ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]*notification.Notification, int64, error) {
	q := r.db.WithContext(ctx).Model(&NotificationModel{}).Where("user_id = ?", userID)
	if unreadOnly {
		q = q.Where("is_read = false")
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var models []NotificationModel
	if err := q.Order("created_at DESC").Offset((page - 1) * limit).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	out := make([]*notification.Notification, len(models))
	for i := range models {
		m := &models[i]
		out[i] = &notification.Notification{
			ID:        m.ID,
			UserID:    m.UserID,
			Type:      m.Type,
			Title:     m.Title,
			Message:   m.Message,
			EscrowID:  m.EscrowID,
			Metadata:  m.Metadata,
			IsRead:    m.IsRead,
			CreatedAt: m.CreatedAt,
		}
	}
	return out, total, nil
}

// MarkRead scopes the update to the owning user so one user cannot mark
// another's notifications.
func (r *NotificationRepositoryImpl) MarkRead(ctx context.Context, userID, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true).Error
}

func (r *NotificationRepositoryImpl) ExistsForEscrowSince(ctx context.Context, userID, escrowID uuid.UUID, ntype string, since time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&NotificationModel{}).
		Where("user_id = ? AND escrow_id = ? AND type = ? AND created_at > ?", userID, escrowID, ntype, since).
		Count(&count).Error
	return count > 0, err
}
