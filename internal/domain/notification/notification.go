// Package notification holds the in-app notification records the engine
// writes as best-effort side effects.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notification types, dot-delimited category.subject.
const (
	TypeEscrowCreated      = "escrow.created"
	TypeEscrowFunded       = "escrow.funded"
	TypeEscrowStarted      = "escrow.started"
	TypeEscrowDelivered    = "escrow.delivered"
	TypeEscrowReleased     = "escrow.released"
	TypeEscrowDisputed     = "escrow.disputed"
	TypeEscrowResolved     = "escrow.resolved"
	TypeEscrowRefunded     = "escrow.refunded"
	TypeEscrowCancelled    = "escrow.cancelled"
	TypeAutoReleaseWarning = "escrow.auto_release_warning"
	TypePaymentConfirmed   = "payment.confirmed"
	TypePayoutSent         = "payout.sent"
	TypePayoutFailed       = "payout.failed"
	TypeMilestoneDelivered = "milestone.delivered"
	TypeMilestoneReleased  = "milestone.released"
)

// Notification is one in-app notification record.
type Notification struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Type      string
	Title     string
	Message   string
	EscrowID  *uuid.UUID
	Metadata  string
	IsRead    bool
	CreatedAt time.Time
}

// New builds an unread notification.
func New(userID uuid.UUID, ntype, title, message string, escrowID *uuid.UUID) *Notification {
	return &Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      ntype,
		Title:     title,
		Message:   message,
		EscrowID:  escrowID,
		CreatedAt: time.Now().UTC(),
	}
}

// Repository persists notifications.
type Repository interface {
	Create(ctx context.Context, n *Notification) error
	ListByUser(ctx context.Context, userID uuid.UUID, unreadOnly bool, page, limit int) ([]*Notification, int64, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) error

	// ExistsForEscrowSince reports whether the user already has a
	// notification of this type for the escrow newer than since. Used to
	// suppress duplicate auto-release warnings.
	ExistsForEscrowSince(ctx context.Context, userID, escrowID uuid.UUID, ntype string, since time.Time) (bool, error)
}
