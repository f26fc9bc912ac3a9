// Package adapter is the anti-corruption layer in front of the payment
// provider. The engine depends only on PaymentProvider; implementations are
// swappable and must be stateless and safe for concurrent use.
package adapter

import (
	"context"
)

// PaymentStatus is the provider's view of a charge or transfer.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "success"
	PaymentPending PaymentStatus = "pending"
	PaymentFailed  PaymentStatus = "failed"
)

// InitializePaymentRequest starts a hosted-payment session. Amount is in
// minor units.
type InitializePaymentRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	CallbackURL string
	Metadata    map[string]any
}

// InitializePaymentResult carries the hosted-payment handles.
type InitializePaymentResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// PaymentVerification is the result of verifying a charge. Safe to request
// repeatedly.
type PaymentVerification struct {
	Status PaymentStatus
	ID     string
	Amount int64
}

// Bank is one payout bank option.
type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// TransferRequest initiates a payout to a stored recipient. Amount in minor
// units; Reference is the idempotency key — the provider never re-initiates
// on a duplicate.
type TransferRequest struct {
	Amount        int64
	RecipientCode string
	Reference     string
	Reason        string
}

// TransferResult is the provider's acknowledgement of a transfer.
type TransferResult struct {
	TransferCode string
	Status       PaymentStatus
}

// PaymentProvider is the full adapter contract. Every method is idempotent on
// its reference key; failures surface as DomainError with kind provider,
// flagged retryable or permanent.
type PaymentProvider interface {
	InitializePayment(ctx context.Context, req InitializePaymentRequest) (*InitializePaymentResult, error)
	VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error)

	CreateMobileMoneyRecipient(ctx context.Context, name, phoneNumber string) (recipientCode string, err error)
	CreateBankRecipient(ctx context.Context, name, accountNumber, bankCode string) (recipientCode string, err error)
	DeleteRecipient(ctx context.Context, recipientCode string) error

	ListBanks(ctx context.Context) ([]Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (accountName string, err error)

	InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error)

	// RefundTransaction refunds a charge. amount in minor units; 0 refunds the
	// full charge.
	RefundTransaction(ctx context.Context, paymentReference string, amount int64) (status string, err error)
}
