package application

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/money"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/notification"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/webhook"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/events"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

const providerName = "paystack"

// WebhookService ingests provider webhooks. Deliveries are acknowledged as
// soon as they are authenticated and registered; processing happens
// asynchronously so a slow database never makes the provider re-deliver.
type WebhookService struct {
	repo      escrow.Repository
	webhooks  webhook.Repository
	notifier  *Notifier
	publisher EventPublisher
	secret    []byte
	logger    *zap.Logger
}

// NewWebhookService wires webhook ingestion.
func NewWebhookService(
	repo escrow.Repository,
	webhooks webhook.Repository,
	notifier *Notifier,
	publisher EventPublisher,
	secret string,
	logger *zap.Logger,
) *WebhookService {
	return &WebhookService{
		repo:      repo,
		webhooks:  webhooks,
		notifier:  notifier,
		publisher: publisher,
		secret:    []byte(secret),
		logger:    logger,
	}
}

// webhookPayload is the subset of the provider's webhook body the engine
// reads.
type webhookPayload struct {
	Event string `json:"event"`
	Data  struct {
		Reference            string `json:"reference"`
		TransactionReference string `json:"transaction_reference"`
		Status               string `json:"status"`
		Amount               int64  `json:"amount"`
	} `json:"data"`
}

// reference picks the identifying reference for the event class.
func (p webhookPayload) reference() string {
	if p.Data.Reference != "" {
		return p.Data.Reference
	}
	return p.Data.TransactionReference
}

// VerifySignature checks the HMAC-SHA512 hex signature over the raw body.
func (s *WebhookService) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha512.New, s.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Ingest authenticates and registers a delivery, then hands processing to a
// background goroutine. Returns authorization error on a bad signature and
// nil for duplicates.
func (s *WebhookService) Ingest(ctx context.Context, body []byte, signature string) error {
	if !s.VerifySignature(body, signature) {
		return domain.NewAuthorizationError("invalid webhook signature")
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Event == "" {
		return domain.NewValidationError("malformed webhook body")
	}
	if payload.reference() == "" {
		return domain.NewValidationError("webhook carries no reference")
	}

	log := webhook.NewLog(providerName, payload.Event, payload.reference(), string(body))
	created, err := s.webhooks.Register(ctx, log)
	if err != nil {
		return err
	}
	if !created {
		s.logger.Info("duplicate webhook ignored",
			zap.String("event", payload.Event),
			zap.String("reference", payload.reference()),
		)
		return nil
	}

	go func() {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		s.process(pctx, log, payload)
	}()
	return nil
}

// process applies one registered delivery and records the outcome.
func (s *WebhookService) process(ctx context.Context, log *webhook.Log, payload webhookPayload) {
	var err error
	switch payload.Event {
	case "charge.success":
		err = s.handleChargeSuccess(ctx, payload)
	case "transfer.success":
		err = s.handleTransferSuccess(ctx, payload)
	case "transfer.failed", "transfer.reversed":
		err = s.handleTransferFailed(ctx, payload)
	case "refund.processed":
		err = s.handleRefundProcessed(ctx, payload)
	default:
		s.logger.Debug("webhook event ignored", zap.String("event", payload.Event))
	}

	procErr := ""
	if err != nil {
		procErr = err.Error()
		s.logger.Error("webhook processing failed",
			zap.Error(err),
			zap.String("event", payload.Event),
			zap.String("reference", payload.reference()),
		)
	}
	if merr := s.webhooks.MarkProcessed(ctx, log.ID, procErr); merr != nil {
		s.logger.Error("webhook outcome not recorded", zap.Error(merr), zap.String("id", log.ID.String()))
	}
}

// handleChargeSuccess funds the escrow from the provider's push notification.
// Races with VerifyPayment resolve on the row lock; whoever locks second sees
// FUNDED and does nothing.
func (s *WebhookService) handleChargeSuccess(ctx context.Context, payload webhookPayload) error {
	e, err := s.repo.FindByPaymentRef(ctx, payload.reference())
	if err != nil {
		return err
	}
	if payload.Data.Amount != 0 && payload.Data.Amount != e.TotalAmount() {
		return domain.NewConflictError(
			fmt.Sprintf("charged amount %d does not match escrow total %d", payload.Data.Amount, e.TotalAmount()))
	}

	var funded bool
	err = s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.Status() != escrow.StatusPending {
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
		return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventFunded,
			fmt.Sprintf("payment of %s confirmed by provider webhook", amountLine(locked))))
	})
	if err != nil {
		return err
	}

	if funded {
		s.notifier.NotifyParties(ctx, e, notification.TypePaymentConfirmed,
			"Escrow funded", fmt.Sprintf("%s is now held in escrow for %q.", amountLine(e), e.Title()))
		s.publisher.Publish(ctx, events.TypeEscrowFunded, e)
	}
	return nil
}

func (s *WebhookService) handleTransferSuccess(ctx context.Context, payload webhookPayload) error {
	ref := payload.reference()
	e, err := s.repo.FindByTransferRef(ctx, ref)
	if err == nil {
		var confirmed bool
		err = s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
			if locked.TransferConfirmedAt() != nil {
				return nil
			}
			locked.ConfirmTransfer()
			if err := tx.Update(locked); err != nil {
				return err
			}
			confirmed = true
			e = locked
			return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventTransferConfirmed,
				"provider confirmed the payout transfer"))
		})
		if err != nil {
			return err
		}
		if confirmed {
			s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutSent,
				"Payout completed", fmt.Sprintf("The transfer of %s for %q reached your account.",
					money.Format(e.SellerAmount(), e.Currency()), e.Title()), ptr(e.ID()))
		}
		return nil
	}
	if domain.KindOf(err) != domain.KindNotFound {
		return err
	}

	m, err := s.repo.FindMilestoneByTransferRef(ctx, ref)
	if err != nil {
		return err
	}
	var confirmed bool
	err = s.repo.InTx(ctx, m.EscrowID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		found, err := tx.FindMilestone(m.ID())
		if err != nil {
			return err
		}
		// A reverted milestone no longer owns this transfer.
		if found.Status() != escrow.MilestoneReleased {
			return nil
		}
		confirmed = true
		e = locked
		m = found
		return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventTransferConfirmed,
			fmt.Sprintf("provider confirmed the payout transfer for milestone %q", found.Title())).
			ForMilestone(found.ID()))
	})
	if err != nil {
		return err
	}
	if confirmed {
		s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutSent,
			"Payout completed", fmt.Sprintf("The transfer of %s for milestone %q of %q reached your account.",
				money.Format(m.Amount(), e.Currency()), m.Title(), e.Title()), ptr(e.ID()))
	}
	return nil
}

// handleTransferFailed reverts the release the failed transfer belonged to,
// for both full and milestone payouts.
func (s *WebhookService) handleTransferFailed(ctx context.Context, payload webhookPayload) error {
	ref := payload.reference()
	reason := fmt.Sprintf("provider reported %s", payload.Event)

	e, err := s.repo.FindByTransferRef(ctx, ref)
	if err == nil {
		var reverted bool
		err = s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
			if locked.Status() != escrow.StatusReleased {
				return nil
			}
			if err := locked.RevertRelease(reason); err != nil {
				return err
			}
			if err := tx.Update(locked); err != nil {
				return err
			}
			reverted = true
			e = locked
			return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventTransferFailed, reason))
		})
		if err != nil {
			return err
		}
		if reverted {
			s.notifier.Notify(ctx, e.SellerID(), notification.TypePayoutFailed,
				"Payout failed", fmt.Sprintf("The transfer for %q failed. Check your payout account.", e.Title()), ptr(e.ID()))
		}
		return nil
	}
	if domain.KindOf(err) != domain.KindNotFound {
		return err
	}

	m, err := s.repo.FindMilestoneByTransferRef(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.InTx(ctx, m.EscrowID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		found, err := tx.FindMilestone(m.ID())
		if err != nil {
			return err
		}
		if found.Status() == escrow.MilestoneReleased {
			if err := found.RevertRelease(reason); err != nil {
				return err
			}
			if err := tx.UpdateMilestone(found); err != nil {
				return err
			}
		}
		if locked.Status() == escrow.StatusReleased {
			if err := locked.RevertRelease(reason); err != nil {
				return err
			}
			if err := tx.Update(locked); err != nil {
				return err
			}
		}
		return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventTransferFailed, reason).ForMilestone(m.ID()))
	})
}

func (s *WebhookService) handleRefundProcessed(ctx context.Context, payload webhookPayload) error {
	e, err := s.repo.FindByPaymentRef(ctx, payload.reference())
	if err != nil {
		return err
	}
	var confirmed bool
	err = s.repo.InTx(ctx, e.ID(), func(tx escrow.Tx, locked *escrow.Escrow) error {
		if locked.RefundConfirmedAt() != nil {
			return nil
		}
		locked.ConfirmRefund()
		if err := tx.Update(locked); err != nil {
			return err
		}
		confirmed = true
		e = locked
		return tx.AppendEvent(escrow.NewEvent(locked.ID(), nil, escrow.EventRefundConfirmed,
			"provider confirmed the refund"))
	})
	if err != nil {
		return err
	}
	if confirmed {
		s.notifier.Notify(ctx, e.BuyerID(), notification.TypeEscrowRefunded,
			"Refund completed", fmt.Sprintf("Your refund of %s for %q was processed.",
				amountLine(e), e.Title()), ptr(e.ID()))
	}
	return nil
}
