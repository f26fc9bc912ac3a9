package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MockProvider is a development implementation of PaymentProvider. It
// simulates the provider without a real account: every charge verifies as
// success, every transfer is acknowledged pending. It remembers references it
// has seen so duplicate transfers are not re-initiated.
type MockProvider struct {
	logger *zap.Logger

	mu        sync.Mutex
	transfers map[string]*TransferResult
}

// NewMockProvider creates a mock provider for development and tests.
func NewMockProvider(logger *zap.Logger) *MockProvider {
	return &MockProvider{
		logger:    logger,
		transfers: make(map[string]*TransferResult),
	}
}

func (m *MockProvider) InitializePayment(_ context.Context, req InitializePaymentRequest) (*InitializePaymentResult, error) {
	accessCode := fmt.Sprintf("ac_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK PAYSTACK] payment initialized",
		zap.String("reference", req.Reference),
		zap.Int64("amount", req.Amount),
		zap.String("email", req.Email),
	)
	return &InitializePaymentResult{
		AuthorizationURL: "https://checkout.mock.paystack.co/" + accessCode,
		AccessCode:       accessCode,
		Reference:        req.Reference,
	}, nil
}

func (m *MockProvider) VerifyPayment(_ context.Context, reference string) (*PaymentVerification, error) {
	m.logger.Info("[MOCK PAYSTACK] payment verified", zap.String("reference", reference))
	return &PaymentVerification{Status: PaymentSuccess, ID: uuid.New().String()[:8]}, nil
}

func (m *MockProvider) CreateMobileMoneyRecipient(_ context.Context, name, phoneNumber string) (string, error) {
	code := fmt.Sprintf("RCP_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK PAYSTACK] mobile money recipient created",
		zap.String("name", name),
		zap.String("phone", phoneNumber),
		zap.String("recipient_code", code),
	)
	return code, nil
}

func (m *MockProvider) CreateBankRecipient(_ context.Context, name, accountNumber, bankCode string) (string, error) {
	code := fmt.Sprintf("RCP_mock_%s", uuid.New().String()[:8])
	m.logger.Info("[MOCK PAYSTACK] bank recipient created",
		zap.String("name", name),
		zap.String("account", accountNumber),
		zap.String("bank_code", bankCode),
		zap.String("recipient_code", code),
	)
	return code, nil
}

func (m *MockProvider) DeleteRecipient(_ context.Context, recipientCode string) error {
	m.logger.Info("[MOCK PAYSTACK] recipient deleted", zap.String("recipient_code", recipientCode))
	return nil
}

func (m *MockProvider) ListBanks(_ context.Context) ([]Bank, error) {
	return []Bank{
		{Code: "01", Name: "KCB Bank Kenya"},
		{Code: "03", Name: "Absa Bank Kenya"},
		{Code: "11", Name: "Co-operative Bank of Kenya"},
		{Code: "68", Name: "Equity Bank Kenya"},
	}, nil
}

func (m *MockProvider) ResolveAccount(_ context.Context, accountNumber, _ string) (string, error) {
	return "MOCK HOLDER " + accountNumber, nil
}

func (m *MockProvider) InitiateTransfer(_ context.Context, req TransferRequest) (*TransferResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.transfers[req.Reference]; ok {
		m.logger.Info("[MOCK PAYSTACK] duplicate transfer reference, returning original",
			zap.String("reference", req.Reference),
		)
		return existing, nil
	}

	result := &TransferResult{
		TransferCode: fmt.Sprintf("TRF_mock_%s", uuid.New().String()[:8]),
		Status:       PaymentPending,
	}
	m.transfers[req.Reference] = result

	m.logger.Info("[MOCK PAYSTACK] transfer initiated",
		zap.String("reference", req.Reference),
		zap.Int64("amount", req.Amount),
		zap.String("recipient_code", req.RecipientCode),
	)
	return result, nil
}

func (m *MockProvider) RefundTransaction(_ context.Context, paymentReference string, amount int64) (string, error) {
	m.logger.Info("[MOCK PAYSTACK] refund created",
		zap.String("reference", paymentReference),
		zap.Int64("amount", amount),
	)
	return "processed", nil
}
