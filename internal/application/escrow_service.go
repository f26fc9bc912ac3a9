// Package application implements the engine's use cases: it composes the
// domain aggregates, the persistence layer, and the payment provider into the
// operations the HTTP surface and the background workers call.
package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/adapter"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/money"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/payout"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/user"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/events"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

const minDisputeReasonLen = 10

// Actor is the authenticated caller of an operation, extracted from the
// request token. A nil *Actor marks the system (scheduler, webhook).
type Actor struct {
	ID    uuid.UUID
	Email string
	Role  auth.Role
	IP    string
}

// IsAdmin reports whether the actor carries the admin role.
func (a *Actor) IsAdmin() bool { return a != nil && a.Role == auth.RoleAdmin }

// EventPublisher announces committed transitions on the event bus.
type EventPublisher interface {
	Publish(ctx context.Context, eventType string, e *escrow.Escrow)
}

// EscrowConfig carries the engine's business parameters.
type EscrowConfig struct {
	FeeRate            float64
	Currency           string
	InspectionDays     int
	PaymentCallbackURL string
}

// EscrowService orchestrates the escrow lifecycle. Provider calls always
// happen outside the locked transaction; a transfer that fails after a
// release commit is compensated by reverting the release.
type EscrowService struct {
	repo      escrow.Repository
	eventsLog escrow.EventRepository
	payouts   payout.Repository
	users     user.Directory
	sources   escrow.SourceResolver
	provider  adapter.PaymentProvider
	notifier  *Notifier
	publisher EventPublisher
	cfg       EscrowConfig
	logger    *zap.Logger
}

// NewEscrowService wires the escrow use cases.
func NewEscrowService(
	repo escrow.Repository,
	eventsLog escrow.EventRepository,
	payouts payout.Repository,
	users user.Directory,
	sources escrow.SourceResolver,
	provider adapter.PaymentProvider,
	notifier *Notifier,
	publisher EventPublisher,
	cfg EscrowConfig,
	logger *zap.Logger,
) *EscrowService {
	return &EscrowService{
		repo:      repo,
		eventsLog: eventsLog,
		payouts:   payouts,
		users:     users,
		sources:   sources,
		provider:  provider,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// CreateResult is the outcome of opening an escrow: the PENDING aggregate plus
// the hosted-payment handle the buyer completes the charge with.
type CreateResult struct {
	Escrow           *escrow.Escrow
	Milestones       []*escrow.Milestone
	AuthorizationURL string
}

// CreateFromJobProposal opens an escrow for an accepted job proposal.
func (s *EscrowService) CreateFromJobProposal(ctx context.Context, actor *Actor, proposalID uuid.UUID, terms string) (*CreateResult, error) {
	src, err := s.sources.JobProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, actor, src, escrow.NewEscrowParams{
		SourceType:    escrow.SourceJobProposal,
		JobProposalID: &proposalID,
		JobID:         src.JobID,
		Terms:         terms,
	})
}

// CreateFromCampaign opens a milestone escrow for a campaign and one creator.
func (s *EscrowService) CreateFromCampaign(ctx context.Context, actor *Actor, campaignID, creatorID uuid.UUID, terms string) (*CreateResult, error) {
	src, err := s.sources.Campaign(ctx, campaignID, creatorID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, actor, src, escrow.NewEscrowParams{
		SourceType: escrow.SourceCampaign,
		CampaignID: &campaignID,
		Terms:      terms,
	})
}

// CreateFromServiceRequest opens an escrow for an accepted service request.
func (s *EscrowService) CreateFromServiceRequest(ctx context.Context, actor *Actor, requestID, creatorID uuid.UUID, terms string) (*CreateResult, error) {
	src, err := s.sources.ServiceRequest(ctx, requestID, creatorID)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, actor, src, escrow.NewEscrowParams{
		SourceType:       escrow.SourceServiceRequest,
		ServiceRequestID: &requestID,
		Terms:            terms,
	})
}

func (s *EscrowService) create(ctx context.Context, actor *Actor, src *escrow.SourceInfo, params escrow.NewEscrowParams) (*CreateResult, error) {
	if actor == nil || (actor.ID != src.BuyerID && !actor.IsAdmin()) {
		return nil, domain.NewAuthorizationError("only the buyer can open this escrow")
	}

	total, err := money.Parse(src.Amount)
	if err != nil {
		return nil, err
	}
	fee, sellerShare, err := money.Split(total, s.cfg.FeeRate)
	if err != nil {
		return nil, err
	}

	params.BuyerID = src.BuyerID
	params.SellerID = src.SellerID
	params.Title = src.Title
	params.Currency = s.cfg.Currency
	params.TotalAmount = total
	params.FeeAmount = fee
	params.SellerAmount = sellerShare
	params.InspectionPeriodDays = s.cfg.InspectionDays

	e, err := escrow.NewEscrow(params)
	if err != nil {
		return nil, err
	}

	milestones, err := s.snapshotMilestones(e, src, total)
	if err != nil {
		return nil, err
	}

	created := escrow.NewEvent(e.ID(), &actor.ID, escrow.EventCreated,
		fmt.Sprintf("escrow opened for %s", amountLine(e))).WithIP(actor.IP)
	if err := s.repo.Create(ctx, e, milestones, created); err != nil {
		return nil, err
	}

	buyerEmail := actor.Email
	if actor.ID != src.BuyerID {
		buyer, err := s.users.ByID(ctx, src.BuyerID)
		if err != nil {
			return nil, err
		}
		buyerEmail = buyer.Email
	}

	ref := escrow.NewPaymentReference(e.ID())
	init, err := s.provider.InitializePayment(ctx, adapter.InitializePaymentRequest{
		Email:       buyerEmail,
		Amount:      e.TotalAmount(),
		Currency:    e.Currency(),
		Reference:   ref,
		CallbackURL: s.cfg.PaymentCallbackURL,
		Metadata:    map[string]any{"escrow_id": e.ID().String()},
	})
	if err != nil {
		// The PENDING escrow stands; the buyer can retry the charge through
		// payment re-initialization on verify.
		s.logger.Error("payment initialization failed",
			zap.Error(err), zap.String("escrow_id", e.ID().String()))
		return nil, err
	}

	e.AttachPayment(init.Reference, init.AccessCode)
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowCreated,
		"Escrow opened", fmt.Sprintf("%s is held in escrow for %q pending payment.", amountLine(e), e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowCreated, e)

	return &CreateResult{Escrow: e, Milestones: milestones, AuthorizationURL: init.AuthorizationURL}, nil
}

// snapshotMilestones copies the source schedule onto the escrow, checking that
// the schedule sums exactly to the escrow total.
func (s *EscrowService) snapshotMilestones(e *escrow.Escrow, src *escrow.SourceInfo, total int64) ([]*escrow.Milestone, error) {
	if len(src.Milestones) == 0 {
		return nil, nil
	}

	var sum int64
	milestones := make([]*escrow.Milestone, 0, len(src.Milestones))
	for _, sm := range src.Milestones {
		amount, err := money.Parse(sm.Amount)
		if err != nil {
			return nil, err
		}
		m, err := escrow.NewMilestone(e.ID(), sm.ID, sm.Title, amount, sm.OrderIndex, sm.DueDate)
		if err != nil {
			return nil, err
		}
		sum += amount
		milestones = append(milestones, m)
	}
	if sum != total {
		return nil, domain.NewValidationError("milestone schedule sums to %d, escrow total is %d", sum, total)
	}
	return milestones, nil
}

// VerifyPayment confirms the buyer's charge with the provider and funds the
// escrow. Safe to call repeatedly; concurrent calls serialize on the row lock
// and only the first one transitions.
func (s *EscrowService) VerifyPayment(ctx context.Context, actor *Actor, escrowID uuid.UUID) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyBuyer); err != nil {
		return nil, err
	}

	// Already funded or further along: report current state, charge nothing.
	if e.Status() != escrow.StatusPending {
		if e.Status() == escrow.StatusCancelled {
			return nil, domain.NewInvalidStateError(string(e.Status()), string(escrow.StatusFunded))
		}
		return e, nil
	}
	if e.PaymentRef() == "" {
		return nil, domain.NewValidationError("payment was never initialized for this escrow")
	}

	verification, err := s.provider.VerifyPayment(ctx, e.PaymentRef())
	if err != nil {
		return nil, err
	}
	switch verification.Status {
	case adapter.PaymentSuccess:
	case adapter.PaymentPending:
		return nil, domain.NewValidationError("payment is still pending with the provider")
	default:
		return nil, domain.NewValidationError("payment did not complete")
	}
	if verification.Amount != e.TotalAmount() {
		return nil, domain.NewConflictError(
			fmt.Sprintf("charged amount %d does not match escrow total %d", verification.Amount, e.TotalAmount()))
	}

	var funded bool
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() != escrow.StatusPending {
			// Lost the race to another verify or the webhook; nothing to do.
			e = locked
			return nil
		}
		if err := locked.Fund(); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		funded = true
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventFunded,
			fmt.Sprintf("payment of %s confirmed", amountLine(locked))).WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	if funded {
		s.notifier.NotifyParties(ctx, e, notification.TypePaymentConfirmed,
			"Escrow funded", fmt.Sprintf("%s is now held in escrow for %q.", amountLine(e), e.Title()))
		s.publisher.Publish(ctx, events.TypeEscrowFunded, e)
	}
	return e, nil
}

// StartWork moves the escrow to IN_PROGRESS on the seller's signal.
func (s *EscrowService) StartWork(ctx context.Context, actor *Actor, escrowID uuid.UUID) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partySeller); err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.StartWork(); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventWorkStarted,
			"seller started work").WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, e.BuyerID(), notification.TypeEscrowStarted,
		"Work started", fmt.Sprintf("Work has started on %q.", e.Title()), ptr(e.ID()))
	s.publisher.Publish(ctx, events.TypeEscrowStarted, e)
	return e, nil
}

// Deliver marks the work delivered and arms the auto-release clock.
func (s *EscrowService) Deliver(ctx context.Context, actor *Actor, escrowID uuid.UUID, note string) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partySeller); err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.MarkDelivered(note); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventDelivered,
			"seller delivered the work").WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, e.BuyerID(), notification.TypeEscrowDelivered,
		"Work delivered",
		fmt.Sprintf("%q was delivered. Funds release automatically on %s unless you act.",
			e.Title(), e.AutoReleaseAt().Format("2 Jan 2006")),
		ptr(e.ID()))
	s.publisher.Publish(ctx, events.TypeEscrowDelivered, e)
	return e, nil
}

// Release pays the seller: DELIVERED or DISPUTED → RELEASED, then a provider
// transfer of the seller share. A failed transfer reverts the release.
func (s *EscrowService) Release(ctx context.Context, actor *Actor, escrowID uuid.UUID) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyBuyer); err != nil {
		return nil, err
	}
	return s.release(ctx, actor, e, escrow.EventReleased)
}

// release is the shared path for buyer releases and the auto-release worker.
// The caller did the pre-lock read; InTx re-reads under the lock. actor nil
// marks the system.
func (s *EscrowService) release(ctx context.Context, actor *Actor, e *escrow.Escrow, eventType string) (*escrow.Escrow, error) {
	escrowID := e.ID()
	if e.Status() == escrow.StatusReleased {
		return e, nil
	}

	account, err := s.activePayoutAccount(ctx, e.SellerID())
	if err != nil {
		return nil, err
	}

	transferRef := escrow.NewTransferReference(escrowID)
	var released bool
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() == escrow.StatusReleased {
			e = locked
			return nil
		}
		milestones, err := tx.Milestones()
		if err != nil {
			return err
		}
		if len(milestones) > 0 {
			return domain.NewValidationError("milestone escrows release per milestone")
		}
		if err := locked.Release(account.ProviderRecipientCode(), account.PayoutMethod(), transferRef); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		released = true
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), eventType,
			fmt.Sprintf("release of %s to seller", money.Format(locked.SellerAmount(), locked.Currency()))).WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}
	if !released {
		return e, nil
	}

	if err := s.transferToSeller(ctx, e, account, transferRef, e.SellerAmount()); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutSent,
		"Payout on the way", fmt.Sprintf("%s for %q is being transferred to you.",
			money.Format(e.SellerAmount(), e.Currency()), e.Title()), ptr(e.ID()))
	s.notifier.Notify(ctx, e.BuyerID(), notification.TypeEscrowReleased,
		"Escrow released", fmt.Sprintf("Funds for %q were released to the seller.", e.Title()), ptr(e.ID()))
	s.publisher.Publish(ctx, events.TypeEscrowReleased, e)
	return e, nil
}

// transferToSeller runs the provider transfer after the release committed and
// compensates on failure: RELEASED reverts to FUNDED so the escrow stays
// releasable.
func (s *EscrowService) transferToSeller(ctx context.Context, e *escrow.Escrow, account *payout.Account, transferRef string, amount int64) error {
	_, err := s.provider.InitiateTransfer(ctx, adapter.TransferRequest{
		Amount:        amount,
		RecipientCode: account.ProviderRecipientCode(),
		Reference:     transferRef,
		Reason:        fmt.Sprintf("escrow release: %s", e.Title()),
	})
	if err == nil {
		return nil
	}

	s.logger.Error("transfer failed, reverting release",
		zap.Error(err),
		zap.String("escrow_id", e.ID().String()),
		zap.String("transfer_ref", transferRef),
	)
	revertErr := s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() != escrow.StatusReleased {
			return nil
		}
		if err := locked.RevertRelease(err.Error()); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		return tx.AppendEvent(escrow.NewEvent(e.ID(), nil, escrow.EventTransferFailed,
			"payout transfer failed, release reverted"))
	})
	if revertErr != nil {
		s.logger.Error("release revert failed", zap.Error(revertErr), zap.String("escrow_id", e.ID().String()))
	}

	s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutFailed,
		"Payout failed", fmt.Sprintf("The transfer for %q failed. Check your payout account.", e.Title()), ptr(e.ID()))
	s.notifyAdmin(ctx, e, fmt.Sprintf("Transfer %s failed for escrow %s.", transferRef, e.ID()))
	return err
}

// RaiseDispute freezes the escrow pending an admin verdict.
func (s *EscrowService) RaiseDispute(ctx context.Context, actor *Actor, escrowID uuid.UUID, reason string) (*escrow.Escrow, error) {
	if len(reason) < minDisputeReasonLen {
		return nil, domain.NewValidationError("dispute reason must be at least %d characters", minDisputeReasonLen)
	}

	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyEither); err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.RaiseDispute(actor.ID, reason); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, &actor.ID, escrow.EventDisputeRaised, reason).WithIP(actor.IP))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowDisputed,
		"Escrow disputed", fmt.Sprintf("A dispute was raised on %q. Funds are frozen pending review.", e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowDisputed, e)
	return e, nil
}

// ResolveInput is an admin's dispute verdict.
type ResolveInput struct {
	Resolution   escrow.Resolution
	SplitPercent *int
	Note         string
}

// ResolveDispute applies an admin verdict to a DISPUTED escrow.
func (s *EscrowService) ResolveDispute(ctx context.Context, actor *Actor, escrowID uuid.UUID, in ResolveInput) (*escrow.Escrow, error) {
	if !actor.IsAdmin() {
		return nil, domain.NewAuthorizationError("only an admin can resolve disputes")
	}

	switch in.Resolution {
	case escrow.ResolutionReleaseToSeller:
		return s.resolveReleaseToSeller(ctx, actor, escrowID, in)
	case escrow.ResolutionRefundBuyer:
		return s.resolveRefundBuyer(ctx, actor, escrowID, in)
	case escrow.ResolutionPartialSplit:
		return s.resolvePartialSplit(ctx, actor, escrowID, in)
	default:
		return nil, domain.NewValidationError("unknown resolution %q", in.Resolution)
	}
}

func (s *EscrowService) resolveReleaseToSeller(ctx context.Context, actor *Actor, escrowID uuid.UUID, in ResolveInput) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	account, err := s.activePayoutAccount(ctx, e.SellerID())
	if err != nil {
		return nil, err
	}

	transferRef := escrow.NewTransferReference(escrowID)
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.RecordResolution(in.Resolution, nil); err != nil {
			return err
		}
		if err := locked.Release(account.ProviderRecipientCode(), account.PayoutMethod(), transferRef); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, &actor.ID, escrow.EventDisputeResolved,
			resolutionNote(in, "released to seller")).WithIP(actor.IP))
	})
	if err != nil {
		return nil, err
	}

	if err := s.transferToSeller(ctx, e, account, transferRef, e.SellerAmount()); err != nil {
		return nil, err
	}

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowResolved,
		"Dispute resolved", fmt.Sprintf("The dispute on %q was resolved in the seller's favour.", e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowResolved, e)
	return e, nil
}

func (s *EscrowService) resolveRefundBuyer(ctx context.Context, actor *Actor, escrowID uuid.UUID, in ResolveInput) (*escrow.Escrow, error) {
	var e *escrow.Escrow
	err := s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.RecordResolution(in.Resolution, nil); err != nil {
			return err
		}
		if err := locked.MarkRefunded(); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, &actor.ID, escrow.EventDisputeResolved,
			resolutionNote(in, "refunded to buyer")).WithIP(actor.IP))
	})
	if err != nil {
		return nil, err
	}

	s.refundCharge(ctx, e, 0)

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowResolved,
		"Dispute resolved", fmt.Sprintf("The dispute on %q was resolved in the buyer's favour.", e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowResolved, e)
	return e, nil
}

// resolvePartialSplit settles a dispute both ways: the seller's share of the
// total goes out as a transfer (net of the platform fee on that share), the
// remainder goes back to the buyer as a partial refund.
func (s *EscrowService) resolvePartialSplit(ctx context.Context, actor *Actor, escrowID uuid.UUID, in ResolveInput) (*escrow.Escrow, error) {
	if in.SplitPercent == nil {
		return nil, domain.NewValidationError("split percent is required for a partial split")
	}

	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	account, err := s.activePayoutAccount(ctx, e.SellerID())
	if err != nil {
		return nil, err
	}

	grossSeller, err := money.Portion(e.TotalAmount(), *in.SplitPercent)
	if err != nil {
		return nil, err
	}
	_, netSeller, err := money.Split(grossSeller, s.cfg.FeeRate)
	if err != nil {
		return nil, err
	}
	buyerShare := e.TotalAmount() - grossSeller

	transferRef := escrow.NewTransferReference(escrowID)
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if err := locked.RecordResolution(in.Resolution, in.SplitPercent); err != nil {
			return err
		}
		if err := locked.Release(account.ProviderRecipientCode(), account.PayoutMethod(), transferRef); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, &actor.ID, escrow.EventDisputeResolved,
			resolutionNote(in, fmt.Sprintf("split %d%% to seller", *in.SplitPercent))).WithIP(actor.IP))
	})
	if err != nil {
		return nil, err
	}

	if netSeller > 0 {
		if err := s.transferToSeller(ctx, e, account, transferRef, netSeller); err != nil {
			return nil, err
		}
	}
	if buyerShare > 0 {
		s.refundCharge(ctx, e, buyerShare)
	}

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowResolved,
		"Dispute resolved", fmt.Sprintf("The dispute on %q was settled with a %d%% split to the seller.",
			e.Title(), *in.SplitPercent))
	s.publisher.Publish(ctx, events.TypeEscrowResolved, e)
	return e, nil
}

// Refund returns the funds to the buyer before delivery.
func (s *EscrowService) Refund(ctx context.Context, actor *Actor, escrowID uuid.UUID, reason string) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyBuyer); err != nil {
		return nil, err
	}

	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() == escrow.StatusDisputed {
			// Disputed escrows refund only through an admin verdict.
			return domain.NewInvalidStateError(string(locked.Status()), string(escrow.StatusRefunded))
		}
		if err := locked.MarkRefunded(); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventRefunded, reason).WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	s.refundCharge(ctx, e, 0)

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowRefunded,
		"Escrow refunded", fmt.Sprintf("%s for %q is being returned to the buyer.", amountLine(e), e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowRefunded, e)
	return e, nil
}

// refundCharge asks the provider to return money to the buyer's card or
// wallet. The state change already committed; a failed call is surfaced to
// operations rather than unwound, and the refund webhook reconciles the
// confirmation timestamp.
func (s *EscrowService) refundCharge(ctx context.Context, e *escrow.Escrow, amount int64) {
	if e.PaymentRef() == "" {
		return
	}
	if _, err := s.provider.RefundTransaction(ctx, e.PaymentRef(), amount); err != nil {
		s.logger.Error("provider refund failed",
			zap.Error(err),
			zap.String("escrow_id", e.ID().String()),
			zap.Int64("amount", amount),
		)
		s.notifyAdmin(ctx, e, fmt.Sprintf("Refund for escrow %s failed and needs manual processing.", e.ID()))
	}
}

// Cancel voids a PENDING escrow before any money moved.
func (s *EscrowService) Cancel(ctx context.Context, actor *Actor, escrowID uuid.UUID, reason string) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyBuyer); err != nil {
		return nil, err
	}
	return s.cancel(ctx, actor, escrowID, reason)
}

func (s *EscrowService) cancel(ctx context.Context, actor *Actor, escrowID uuid.UUID, reason string) (*escrow.Escrow, error) {
	var e *escrow.Escrow
	err := s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		by := uuid.Nil
		if actor != nil {
			by = actor.ID
		}
		if err := locked.Cancel(by, reason); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventCancelled, reason).WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyParties(ctx, e, notification.TypeEscrowCancelled,
		"Escrow cancelled", fmt.Sprintf("The escrow for %q was cancelled before funding.", e.Title()))
	s.publisher.Publish(ctx, events.TypeEscrowCancelled, e)
	return e, nil
}

// CancelBySource voids PENDING escrows whose source object was withdrawn.
// Called by the marketplace event consumer; funded escrows are untouched.
func (s *EscrowService) CancelBySource(ctx context.Context, st escrow.SourceType, sourceID uuid.UUID, reason string) error {
	pending, err := s.repo.FindPendingBySource(ctx, st, sourceID)
	if err != nil {
		return err
	}
	for _, e := range pending {
		if _, err := s.cancel(ctx, nil, e.ID(), reason); err != nil {
			// A concurrent funding beats the cancellation; skip and move on.
			if domain.KindOf(err) == domain.KindInvalidState {
				continue
			}
			return err
		}
	}
	return nil
}

// AutoRelease releases a DELIVERED escrow whose inspection window lapsed.
// Called by the scheduler with no human actor.
func (s *EscrowService) AutoRelease(ctx context.Context, escrowID uuid.UUID) (*escrow.Escrow, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	return s.release(ctx, nil, e, escrow.EventAutoReleased)
}

// --- Milestones ---

// DeliverMilestone marks one milestone delivered.
func (s *EscrowService) DeliverMilestone(ctx context.Context, actor *Actor, escrowID, milestoneID uuid.UUID, note string) (*escrow.Milestone, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partySeller); err != nil {
		return nil, err
	}

	var m *escrow.Milestone
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() != escrow.StatusFunded && locked.Status() != escrow.StatusInProgress {
			return domain.NewInvalidStateError(string(locked.Status()), string(escrow.MilestoneDelivered))
		}
		found, err := tx.FindMilestone(milestoneID)
		if err != nil {
			return err
		}
		if err := found.Deliver(note); err != nil {
			return err
		}
		if err := tx.UpdateMilestone(found); err != nil {
			return err
		}
		m = found
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventMilestoneDelivered,
			fmt.Sprintf("milestone %q delivered", found.Title())).ForMilestone(milestoneID).WithIP(actorIP(actor)))
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, e.BuyerID(), notification.TypeMilestoneDelivered,
		"Milestone delivered", fmt.Sprintf("Milestone %q of %q was delivered.", m.Title(), e.Title()), ptr(e.ID()))
	return m, nil
}

// ReleaseMilestone pays out one delivered milestone. When it is the last one,
// the parent escrow settles in the same transaction.
func (s *EscrowService) ReleaseMilestone(ctx context.Context, actor *Actor, escrowID, milestoneID uuid.UUID) (*escrow.Milestone, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyBuyer); err != nil {
		return nil, err
	}

	account, err := s.activePayoutAccount(ctx, e.SellerID())
	if err != nil {
		return nil, err
	}

	transferRef := escrow.NewMilestoneTransferReference(milestoneID)
	var (
		m         *escrow.Milestone
		netAmount int64
		released  bool
		settled   bool
	)
	err = s.repo.InTx(ctx, escrowID, func(tx escrow.Tx, locked *escrow.Escrow) error {
		found, err := tx.FindMilestone(milestoneID)
		if err != nil {
			return err
		}
		if found.Status() == escrow.MilestoneReleased {
			m = found
			return nil
		}
		if err := found.Release(transferRef); err != nil {
			return err
		}
		if err := tx.UpdateMilestone(found); err != nil {
			return err
		}

		_, net, err := money.Split(found.Amount(), s.cfg.FeeRate)
		if err != nil {
			return err
		}
		netAmount = net
		m = found
		released = true

		if err := tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventMilestoneReleased,
			fmt.Sprintf("milestone %q released", found.Title())).ForMilestone(milestoneID).WithIP(actorIP(actor))); err != nil {
			return err
		}

		all, err := tx.Milestones()
		if err != nil {
			return err
		}
		for _, other := range all {
			if other.Status() != escrow.MilestoneReleased {
				return nil
			}
		}
		if err := locked.SettleFromMilestones(account.ProviderRecipientCode(), account.PayoutMethod()); err != nil {
			return err
		}
		if err := tx.Update(locked); err != nil {
			return err
		}
		settled = true
		e = locked
		return tx.AppendEvent(escrow.NewEvent(escrowID, actorID(actor), escrow.EventReleased,
			"all milestones released, escrow settled"))
	})
	if err != nil {
		return nil, err
	}
	if !released {
		return m, nil
	}

	if err := s.transferMilestone(ctx, e, m, account, transferRef, netAmount); err != nil {
		return nil, err
	}

	s.notifier.Notify(ctx, e.SellerID(), notification.TypeMilestoneReleased,
		"Milestone paid", fmt.Sprintf("Milestone %q of %q was released to you.", m.Title(), e.Title()), ptr(e.ID()))
	if settled {
		s.notifier.NotifyParties(ctx, e, notification.TypeEscrowReleased,
			"Escrow settled", fmt.Sprintf("All milestones of %q are released.", e.Title()))
		s.publisher.Publish(ctx, events.TypeEscrowReleased, e)
	}
	return m, nil
}

// transferMilestone mirrors transferToSeller for one milestone, reverting the
// milestone (and a just-settled parent) when the transfer fails.
func (s *EscrowService) transferMilestone(ctx context.Context, e *escrow.Escrow, m *escrow.Milestone, account *payout.Account, transferRef string, amount int64) error {
	_, err := s.provider.InitiateTransfer(ctx, adapter.TransferRequest{
		Amount:        amount,
		RecipientCode: account.ProviderRecipientCode(),
		Reference:     transferRef,
		Reason:        fmt.Sprintf("milestone release: %s", m.Title()),
	})
	if err == nil {
		return nil
	}

	s.logger.Error("milestone transfer failed, reverting",
		zap.Error(err),
		zap.String("escrow_id", e.ID().String()),
		zap.String("milestone_id", m.ID().String()),
	)
	revertErr := s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		found, ferr := tx.FindMilestone(m.ID())
		if ferr != nil {
			return ferr
		}
		if found.Status() == escrow.MilestoneReleased {
			if rerr := found.RevertRelease(err.Error()); rerr != nil {
				return rerr
			}
			if uerr := tx.UpdateMilestone(found); uerr != nil {
				return uerr
			}
		}
		if locked.Status() == escrow.StatusReleased {
			if rerr := locked.RevertRelease(err.Error()); rerr != nil {
				return rerr
			}
			if uerr := tx.Update(locked); uerr != nil {
				return uerr
			}
		}
		return tx.AppendEvent(escrow.NewEvent(e.ID(), nil, escrow.EventTransferFailed,
			"milestone transfer failed, release reverted").ForMilestone(m.ID()))
	})
	if revertErr != nil {
		s.logger.Error("milestone revert failed", zap.Error(revertErr), zap.String("milestone_id", m.ID().String()))
	}

	s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutFailed,
		"Payout failed", fmt.Sprintf("The transfer for milestone %q failed.", m.Title()), ptr(e.ID()))
	s.notifyAdmin(ctx, e, fmt.Sprintf("Milestone transfer %s failed for escrow %s.", transferRef, e.ID()))
	return err
}

// --- Queries ---

// Get returns one escrow with its milestones, visible to its parties and
// admins.
func (s *EscrowService) Get(ctx context.Context, actor *Actor, escrowID uuid.UUID) (*escrow.Escrow, []*escrow.Milestone, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireParty(actor, e, partyEither); err != nil {
		return nil, nil, err
	}
	milestones, err := s.repo.Milestones(ctx, escrowID)
	if err != nil {
		return nil, nil, err
	}
	return e, milestones, nil
}

// ListInput filters the escrow list.
type ListInput struct {
	Status string
	Page   int
	Limit  int
}

// List returns the actor's escrows, or everything for admins.
func (s *EscrowService) List(ctx context.Context, actor *Actor, in ListInput) ([]*escrow.Escrow, int64, error) {
	f := escrow.ListFilter{Page: in.Page, Limit: in.Limit}
	if in.Status != "" {
		st := escrow.Status(in.Status)
		f.Status = &st
	}
	if !actor.IsAdmin() {
		f.BuyerID = &actor.ID
		f.SellerID = &actor.ID
	}
	return s.repo.List(ctx, f)
}

// Events returns the escrow's audit trail.
func (s *EscrowService) Events(ctx context.Context, actor *Actor, escrowID uuid.UUID) ([]*escrow.Event, error) {
	e, err := s.repo.FindByID(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if err := s.requireParty(actor, e, partyEither); err != nil {
		return nil, err
	}
	return s.eventsLog.ListByEscrow(ctx, escrowID)
}

// Stats returns the dashboard aggregate: platform-wide for admins, scoped to
// the actor otherwise.
func (s *EscrowService) Stats(ctx context.Context, actor *Actor) (*escrow.Stats, error) {
	f := escrow.StatsFilter{}
	if !actor.IsAdmin() {
		f.UserID = &actor.ID
	}
	return s.repo.Stats(ctx, f)
}

// --- Helpers ---

type party int

const (
	partyBuyer party = iota
	partySeller
	partyEither
)

// requireParty enforces the per-operation authorization rule. Admins pass
// every check.
func (s *EscrowService) requireParty(actor *Actor, e *escrow.Escrow, p party) error {
	if actor == nil {
		return domain.NewAuthorizationError("authentication required")
	}
	if actor.IsAdmin() {
		return nil
	}
	switch p {
	case partyBuyer:
		if actor.ID == e.BuyerID() {
			return nil
		}
		return domain.NewAuthorizationError("only the buyer can perform this action")
	case partySeller:
		if actor.ID == e.SellerID() {
			return nil
		}
		return domain.NewAuthorizationError("only the seller can perform this action")
	default:
		if actor.ID == e.BuyerID() || actor.ID == e.SellerID() {
			return nil
		}
		return domain.NewAuthorizationError("not a party to this escrow")
	}
}

func (s *EscrowService) activePayoutAccount(ctx context.Context, sellerID uuid.UUID) (*payout.Account, error) {
	account, err := s.payouts.ActiveByUser(ctx, sellerID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return nil, domain.NewValidationError("seller has no active payout account")
		}
		return nil, err
	}
	return account, nil
}

// notifyAdmin alerts an operator. Best effort; missing admin is only logged.
func (s *EscrowService) notifyAdmin(ctx context.Context, e *escrow.Escrow, message string) {
	admin, err := s.users.FirstAdmin(ctx)
	if err != nil {
		s.logger.Warn("no admin to notify", zap.Error(err))
		return
	}
	s.notifier.Notify(ctx, admin.ID, notification.TypePayoutFailed, "Action required", message, ptr(e.ID()))
}

func resolutionNote(in ResolveInput, verdict string) string {
	if in.Note == "" {
		return verdict
	}
	return fmt.Sprintf("%s: %s", verdict, in.Note)
}

func actorID(a *Actor) *uuid.UUID {
	if a == nil {
		return nil
	}
	return &a.ID
}

func actorIP(a *Actor) string {
	if a == nil {
		return ""
	}
	return a.IP
}

func ptr[T any](v T) *T { return &v }
