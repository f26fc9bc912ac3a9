package application

import (
	"context"

	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/adapter"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/payout"
	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/user"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/auth"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// PayoutService manages seller payout accounts: the saved destination plus the
// provider recipient registered for it. Only creators hold payout accounts.
type PayoutService struct {
	accounts payout.Repository
	users    user.Directory
	provider adapter.PaymentProvider
	logger   *zap.Logger
}

// NewPayoutService wires the payout-account use cases.
func NewPayoutService(accounts payout.Repository, users user.Directory, provider adapter.PaymentProvider, logger *zap.Logger) *PayoutService {
	return &PayoutService{accounts: accounts, users: users, provider: provider, logger: logger}
}

// SetupInput is the destination a creator wants payouts sent to.
type SetupInput struct {
	Method            escrow.PayoutMethod
	MobileMoneyNumber string
	BankAccountNumber string
	BankCode          string
	AccountName       string
}

// Setup registers the destination with the provider and stores the account.
// An existing active account is deactivated first; its provider recipient is
// removed best-effort.
func (s *PayoutService) Setup(ctx context.Context, actor *Actor, in SetupInput) (*payout.Account, error) {
	if err := s.requireCreator(ctx, actor); err != nil {
		return nil, err
	}

	var (
		recipientCode string
		err           error
	)
	switch in.Method {
	case escrow.PayoutMobileMoney:
		if in.MobileMoneyNumber == "" {
			return nil, domain.NewValidationError("mobile money number is required")
		}
		recipientCode, err = s.provider.CreateMobileMoneyRecipient(ctx, in.AccountName, in.MobileMoneyNumber)
	case escrow.PayoutBank:
		if in.BankAccountNumber == "" || in.BankCode == "" {
			return nil, domain.NewValidationError("bank account number and bank code are required")
		}
		if in.AccountName == "" {
			in.AccountName, err = s.provider.ResolveAccount(ctx, in.BankAccountNumber, in.BankCode)
			if err != nil {
				return nil, err
			}
		}
		recipientCode, err = s.provider.CreateBankRecipient(ctx, in.AccountName, in.BankAccountNumber, in.BankCode)
	default:
		return nil, domain.NewValidationError("unknown payout method %q", in.Method)
	}
	if err != nil {
		return nil, err
	}

	account, err := payout.NewAccount(payout.NewAccountParams{
		UserID:                actor.ID,
		Method:                in.Method,
		MobileMoneyNumber:     in.MobileMoneyNumber,
		BankAccountNumber:     in.BankAccountNumber,
		BankCode:              in.BankCode,
		BankAccountName:       in.AccountName,
		ProviderRecipientCode: recipientCode,
	})
	if err != nil {
		return nil, err
	}

	if existing, ferr := s.accounts.ActiveByUser(ctx, actor.ID); ferr == nil {
		existing.Deactivate()
		if uerr := s.accounts.Update(ctx, existing); uerr != nil {
			return nil, uerr
		}
		s.removeRecipient(ctx, existing.ProviderRecipientCode())
	} else if domain.KindOf(ferr) != domain.KindNotFound {
		return nil, ferr
	}

	if err := s.accounts.Save(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Active returns the actor's active payout account.
func (s *PayoutService) Active(ctx context.Context, actor *Actor) (*payout.Account, error) {
	return s.accounts.ActiveByUser(ctx, actor.ID)
}

// Remove deactivates the actor's active account. Escrows already released
// keep their snapshotted recipient and are unaffected.
func (s *PayoutService) Remove(ctx context.Context, actor *Actor) error {
	account, err := s.accounts.ActiveByUser(ctx, actor.ID)
	if err != nil {
		return err
	}
	account.Deactivate()
	if err := s.accounts.Update(ctx, account); err != nil {
		return err
	}
	s.removeRecipient(ctx, account.ProviderRecipientCode())
	return nil
}

// Banks lists the payout banks for the platform currency.
func (s *PayoutService) Banks(ctx context.Context) ([]adapter.Bank, error) {
	return s.provider.ListBanks(ctx)
}

// ResolveAccount returns the holder name for a bank account, for client-side
// confirmation before setup.
func (s *PayoutService) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	if accountNumber == "" || bankCode == "" {
		return "", domain.NewValidationError("account number and bank code are required")
	}
	return s.provider.ResolveAccount(ctx, accountNumber, bankCode)
}

func (s *PayoutService) requireCreator(ctx context.Context, actor *Actor) error {
	if actor == nil {
		return domain.NewAuthorizationError("authentication required")
	}
	u, err := s.users.ByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if u.AccountType != auth.AccountCreator {
		return domain.NewAuthorizationError("only creators hold payout accounts")
	}
	return nil
}

// removeRecipient deletes a provider recipient best-effort; a stale recipient
// on the provider side is harmless.
func (s *PayoutService) removeRecipient(ctx context.Context, code string) {
	if code == "" {
		return
	}
	if err := s.provider.DeleteRecipient(ctx, code); err != nil {
		s.logger.Warn("recipient cleanup failed", zap.Error(err), zap.String("recipient_code", code))
	}
}
