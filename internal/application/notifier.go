package application

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/money"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
)

// Notifier writes in-app notifications as best-effort side effects. It is
// called after the state change committed; a failed insert is logged and
// swallowed, never propagated into the calling operation.
type Notifier struct {
	repo   notification.Repository
	logger *zap.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(repo notification.Repository, logger *zap.Logger) *Notifier {
	return &Notifier{repo: repo, logger: logger}
}

// Notify writes one notification.
func (n *Notifier) Notify(ctx context.Context, userID uuid.UUID, ntype, title, message string, escrowID *uuid.UUID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := n.repo.Create(ctx, notification.New(userID, ntype, title, message, escrowID)); err != nil {
		n.logger.Warn("notification write failed",
			zap.Error(err),
			zap.String("type", ntype),
			zap.String("user_id", userID.String()),
		)
	}
}

// NotifyParties writes the same notification to both sides of an escrow.
func (n *Notifier) NotifyParties(ctx context.Context, e *escrow.Escrow, ntype, title, message string) {
	id := e.ID()
	n.Notify(ctx, e.BuyerID(), ntype, title, message, &id)
	n.Notify(ctx, e.SellerID(), ntype, title, message, &id)
}

// amountLine renders the escrow total for notification copy.
func amountLine(e *escrow.Escrow) string {
	return money.Format(e.TotalAmount(), e.Currency())
}
