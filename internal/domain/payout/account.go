// Package payout holds the seller payout-account aggregate.
package payout

import (
	"time"

	"github.com/google/uuid"

	"github.com/Sanaa-Creator-Market/service-escrow/internal/domain/escrow"
	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

// Account is a seller's payout destination plus the provider recipient handle
// issued for it. At most one account per user is active; deactivated rows are
// retained for audit.
type Account struct {
	id                    uuid.UUID
	userID                uuid.UUID
	payoutMethod          escrow.PayoutMethod
	mobileMoneyNumber     string
	bankAccountNumber     string
	bankCode              string
	bankAccountName       string
	providerRecipientCode string
	isActive              bool
	createdAt             time.Time
	updatedAt             time.Time
}

// NewAccountParams carries the method-specific destination details.
type NewAccountParams struct {
	UserID                uuid.UUID
	Method                escrow.PayoutMethod
	MobileMoneyNumber     string
	BankAccountNumber     string
	BankCode              string
	BankAccountName       string
	ProviderRecipientCode string
}

// NewAccount validates and creates an active payout account.
func NewAccount(p NewAccountParams) (*Account, error) {
	if p.ProviderRecipientCode == "" {
		return nil, domain.NewValidationError("provider recipient code is required")
	}
	switch p.Method {
	case escrow.PayoutMobileMoney:
		if p.MobileMoneyNumber == "" {
			return nil, domain.NewValidationError("mobile money number is required")
		}
	case escrow.PayoutBank:
		if p.BankAccountNumber == "" || p.BankCode == "" {
			return nil, domain.NewValidationError("bank account number and bank code are required")
		}
	default:
		return nil, domain.NewValidationError("unknown payout method %q", p.Method)
	}

	now := time.Now().UTC()
	return &Account{
		id:                    uuid.New(),
		userID:                p.UserID,
		payoutMethod:          p.Method,
		mobileMoneyNumber:     p.MobileMoneyNumber,
		bankAccountNumber:     p.BankAccountNumber,
		bankCode:              p.BankCode,
		bankAccountName:       p.BankAccountName,
		providerRecipientCode: p.ProviderRecipientCode,
		isActive:              true,
		createdAt:             now,
		updatedAt:             now,
	}, nil
}

func (a *Account) ID() uuid.UUID                     { return a.id }
func (a *Account) UserID() uuid.UUID                 { return a.userID }
func (a *Account) PayoutMethod() escrow.PayoutMethod { return a.payoutMethod }
func (a *Account) MobileMoneyNumber() string         { return a.mobileMoneyNumber }
func (a *Account) BankAccountNumber() string         { return a.bankAccountNumber }
func (a *Account) BankCode() string                  { return a.bankCode }
func (a *Account) BankAccountName() string           { return a.bankAccountName }
func (a *Account) ProviderRecipientCode() string     { return a.providerRecipientCode }
func (a *Account) IsActive() bool                    { return a.isActive }
func (a *Account) CreatedAt() time.Time              { return a.createdAt }
func (a *Account) UpdatedAt() time.Time              { return a.updatedAt }

// Deactivate soft-deletes the account. The row stays for audit.
func (a *Account) Deactivate() {
	a.isActive = false
	a.updatedAt = time.Now().UTC()
}

// Snapshot is the persistence image of an Account.
type Snapshot struct {
	ID                    uuid.UUID
	UserID                uuid.UUID
	PayoutMethod          escrow.PayoutMethod
	MobileMoneyNumber     string
	BankAccountNumber     string
	BankCode              string
	BankAccountName       string
	ProviderRecipientCode string
	IsActive              bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Reconstitute rebuilds an Account from persisted data.
func Reconstitute(s Snapshot) *Account {
	return &Account{
		id:                    s.ID,
		userID:                s.UserID,
		payoutMethod:          s.PayoutMethod,
		mobileMoneyNumber:     s.MobileMoneyNumber,
		bankAccountNumber:     s.BankAccountNumber,
		bankCode:              s.BankCode,
		bankAccountName:       s.BankAccountName,
		providerRecipientCode: s.ProviderRecipientCode,
		isActive:              s.IsActive,
		createdAt:             s.CreatedAt,
		updatedAt:             s.UpdatedAt,
	}
}

// Snapshot flattens the account for persistence.
func (a *Account) Snapshot() Snapshot {
	return Snapshot{
		ID:                    a.id,
		UserID:                a.userID,
		PayoutMethod:          a.payoutMethod,
		MobileMoneyNumber:     a.mobileMoneyNumber,
		BankAccountNumber:     a.bankAccountNumber,
		BankCode:              a.bankCode,
		BankAccountName:       a.bankAccountName,
		ProviderRecipientCode: a.providerRecipientCode,
		IsActive:              a.isActive,
		CreatedAt:             a.createdAt,
		UpdatedAt:             a.updatedAt,
	}
}
