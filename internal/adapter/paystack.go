package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

const maxAttempts = 3

// PaystackAdapter implements PaymentProvider against the Paystack REST API.
// It holds no mutable state and is safe for concurrent use.
type PaystackAdapter struct {
	baseURL   string
	secretKey string
	currency  string
	http      *http.Client
	logger    *zap.Logger
}

// NewPaystackAdapter creates a Paystack client. timeout bounds every call.
func NewPaystackAdapter(baseURL, secretKey, currency string, timeout time.Duration, logger *zap.Logger) *PaystackAdapter {
	return &PaystackAdapter{
		baseURL:   baseURL,
		secretKey: secretKey,
		currency:  currency,
		http:      &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// envelope is Paystack's standard response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call performs one HTTP round trip, classifying failures as retryable
// (network, 429, 5xx) or permanent (4xx, malformed response), and retries the
// retryable class with backoff.
func (p *PaystackAdapter) call(ctx context.Context, method, path string, body any, out any) error {
	return retry.Do(
		func() error { return p.callOnce(ctx, method, path, body, out) },
		retry.Attempts(maxAttempts),
		retry.Context(ctx),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(domain.IsRetryable),
		retry.LastErrorOnly(true),
	)
}

func (p *PaystackAdapter) callOnce(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return domain.NewProviderError("encode request", false, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return domain.NewProviderError("build request", false, err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return domain.NewProviderError("provider unreachable", true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.NewProviderError("read response", true, err)
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		p.logger.Warn("paystack call failed, retryable",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return domain.NewProviderError(fmt.Sprintf("provider returned %d", resp.StatusCode), true, nil)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return domain.NewProviderError("malformed provider response", false, err)
	}
	if resp.StatusCode >= 400 || !env.Status {
		msg := env.Message
		if msg == "" {
			msg = fmt.Sprintf("provider returned %d", resp.StatusCode)
		}
		return domain.NewProviderError(msg, false, nil)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return domain.NewProviderError("decode provider data", false, err)
		}
	}
	return nil
}

// InitializePayment creates a hosted-payment session.
func (p *PaystackAdapter) InitializePayment(ctx context.Context, req InitializePaymentRequest) (*InitializePaymentResult, error) {
	payload := map[string]any{
		"email":     req.Email,
		"amount":    req.Amount,
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		payload["metadata"] = req.Metadata
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.call(ctx, http.MethodPost, "/transaction/initialize", payload, &data); err != nil {
		return nil, err
	}
	return &InitializePaymentResult{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

// VerifyPayment fetches the charge status for a reference.
func (p *PaystackAdapter) VerifyPayment(ctx context.Context, reference string) (*PaymentVerification, error) {
	var data struct {
		ID     int64  `json:"id"`
		Status string `json:"status"`
		Amount int64  `json:"amount"`
	}
	if err := p.call(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}

	status := PaymentPending
	switch data.Status {
	case "success":
		status = PaymentSuccess
	case "failed", "abandoned", "reversed":
		status = PaymentFailed
	}
	return &PaymentVerification{
		Status: status,
		ID:     fmt.Sprintf("%d", data.ID),
		Amount: data.Amount,
	}, nil
}

// CreateMobileMoneyRecipient registers a mobile-money payout destination.
func (p *PaystackAdapter) CreateMobileMoneyRecipient(ctx context.Context, name, phoneNumber string) (string, error) {
	payload := map[string]any{
		"type":           "mobile_money",
		"name":           name,
		"account_number": phoneNumber,
		"bank_code":      "MPESA",
		"currency":       p.currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.call(ctx, http.MethodPost, "/transferrecipient", payload, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

// CreateBankRecipient registers a bank payout destination.
func (p *PaystackAdapter) CreateBankRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	payload := map[string]any{
		"type":           "kepss",
		"name":           name,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       p.currency,
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.call(ctx, http.MethodPost, "/transferrecipient", payload, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

// DeleteRecipient removes a payout destination from the provider.
func (p *PaystackAdapter) DeleteRecipient(ctx context.Context, recipientCode string) error {
	return p.call(ctx, http.MethodDelete, "/transferrecipient/"+url.PathEscape(recipientCode), nil, nil)
}

// ListBanks returns the payout banks for the platform currency.
func (p *PaystackAdapter) ListBanks(ctx context.Context) ([]Bank, error) {
	var data []Bank
	if err := p.call(ctx, http.MethodGet, "/bank?currency="+url.QueryEscape(p.currency), nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// ResolveAccount returns the account holder name for a bank account.
func (p *PaystackAdapter) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (string, error) {
	var data struct {
		AccountName string `json:"account_name"`
	}
	q := url.Values{"account_number": {accountNumber}, "bank_code": {bankCode}}
	if err := p.call(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &data); err != nil {
		return "", err
	}
	return data.AccountName, nil
}

// InitiateTransfer moves funds from the platform balance to a recipient. The
// reference is the idempotency key; Paystack returns the original transfer on
// a duplicate.
func (p *PaystackAdapter) InitiateTransfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	payload := map[string]any{
		"source":    "balance",
		"amount":    req.Amount,
		"recipient": req.RecipientCode,
		"reference": req.Reference,
		"reason":    req.Reason,
	}
	var data struct {
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "/transfer", payload, &data); err != nil {
		return nil, err
	}

	status := PaymentPending
	switch data.Status {
	case "success":
		status = PaymentSuccess
	case "failed", "reversed":
		status = PaymentFailed
	}
	return &TransferResult{TransferCode: data.TransferCode, Status: status}, nil
}

// RefundTransaction refunds a charged payment, fully when amount is 0.
func (p *PaystackAdapter) RefundTransaction(ctx context.Context, paymentReference string, amount int64) (string, error) {
	payload := map[string]any{"transaction": paymentReference}
	if amount > 0 {
		payload["amount"] = amount
	}
	var data struct {
		Status string `json:"status"`
	}
	if err := p.call(ctx, http.MethodPost, "/refund", payload, &data); err != nil {
		return "", err
	}
	return data.Status, nil
}
