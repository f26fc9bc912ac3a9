// Package scheduler runs the auto-release worker: delivered escrows whose
// inspection window lapsed are released to the seller without buyer action.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
)

// warningWindow is how far ahead of the deadline the buyer gets warned.
const warningWindow = 24 * time.Hour

// Releaser is the slice of the escrow service the worker drives.
type Releaser interface {
	AutoRelease(ctx context.Context, escrowID uuid.UUID) (*escrow.Escrow, error)
}

// WarningNotifier writes the approaching-deadline warning.
type WarningNotifier interface {
	Notify(ctx context.Context, userID uuid.UUID, ntype, title, message string, escrowID *uuid.UUID)
}

// AutoReleaseWorker scans on a fixed interval. It never exits on its own; a
// pass that fails logs and waits for the next tick.
type AutoReleaseWorker struct {
	repo          escrow.Repository
	notifications notification.Repository
	releaser      Releaser
	notifier      WarningNotifier
	interval      time.Duration
	logger        *zap.Logger
}

// NewAutoReleaseWorker creates the worker.
func NewAutoReleaseWorker(
	repo escrow.Repository,
	notifications notification.Repository,
	releaser Releaser,
	notifier WarningNotifier,
	interval time.Duration,
	logger *zap.Logger,
) *AutoReleaseWorker {
	return &AutoReleaseWorker{
		repo:          repo,
		notifications: notifications,
		releaser:      releaser,
		notifier:      notifier,
		interval:      interval,
		logger:        logger,
	}
}

// Run blocks until the context is cancelled. The first pass happens
// immediately.
func (w *AutoReleaseWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.pass(ctx)
		}
	}
}

// pass runs one scan, isolated from panics so a bad row cannot kill the loop.
func (w *AutoReleaseWorker) pass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("auto-release pass panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()

	now := time.Now().UTC()
	w.releaseDue(ctx, now)
	w.warnApproaching(ctx, now)
}

// releaseDue releases every delivered escrow past its deadline. Each escrow
// fails independently; one seller without a payout account must not block the
// rest of the batch.
func (w *AutoReleaseWorker) releaseDue(ctx context.Context, now time.Time) {
	ids, err := w.repo.DueForAutoRelease(ctx, now)
	if err != nil {
		w.logger.Error("auto-release scan failed", zap.Error(err))
		return
	}
	if len(ids) == 0 {
		return
	}

	w.logger.Info("auto-release pass", zap.Int("due", len(ids)))
	for _, id := range ids {
		if _, err := w.releaser.AutoRelease(ctx, id); err != nil {
			w.logger.Error("auto-release failed",
				zap.Error(err),
				zap.String("escrow_id", id.String()),
			)
		}
	}
}

// warnApproaching notifies buyers whose inspection window closes within the
// warning window. The notification log suppresses repeats across passes.
func (w *AutoReleaseWorker) warnApproaching(ctx context.Context, now time.Time) {
	approaching, err := w.repo.ApproachingAutoRelease(ctx, now, warningWindow)
	if err != nil {
		w.logger.Error("auto-release warning scan failed", zap.Error(err))
		return
	}

	for _, e := range approaching {
		since := now.Add(-2 * warningWindow)
		exists, err := w.notifications.ExistsForEscrowSince(
			ctx, e.BuyerID(), e.ID(), notification.TypeAutoReleaseWarning, since)
		if err != nil {
			w.logger.Error("warning dedupe check failed", zap.Error(err), zap.String("escrow_id", e.ID().String()))
			continue
		}
		if exists {
			continue
		}

		id := e.ID()
		w.notifier.Notify(ctx, e.BuyerID(), notification.TypeAutoReleaseWarning,
			"Escrow releases soon",
			fmt.Sprintf("Funds for %q release automatically on %s unless you dispute.",
				e.Title(), e.AutoReleaseAt().Format("2 Jan 2006 15:04 MST")),
			&id)
	}
}
