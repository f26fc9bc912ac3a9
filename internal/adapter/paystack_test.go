package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Sanaa-Creator-Market/service-escrow/pkg/domain"
)

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *PaystackAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPaystackAdapter(srv.URL, "sk_test_secret", "KES", 5*time.Second, zap.NewNop())
}

func TestInitializePayment(t *testing.T) {
	var gotAuth string
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/transaction/initialize", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "buyer@example.com", body["email"])
		assert.EqualValues(t, 500000, body["amount"])

		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.com/abc",
				"access_code":       "abc",
				"reference":         body["reference"],
			},
		})
	})

	res, err := a.InitializePayment(context.Background(), InitializePaymentRequest{
		Email:     "buyer@example.com",
		Amount:    500000,
		Currency:  "KES",
		Reference: "PAY-x-1-aaaaaa",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_test_secret", gotAuth)
	assert.Equal(t, "https://checkout.paystack.com/abc", res.AuthorizationURL)
	assert.Equal(t, "PAY-x-1-aaaaaa", res.Reference)
}

func TestVerifyPayment_StatusMapping(t *testing.T) {
	for provider, want := range map[string]PaymentStatus{
		"success":   PaymentSuccess,
		"failed":    PaymentFailed,
		"abandoned": PaymentFailed,
		"ongoing":   PaymentPending,
	} {
		a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transaction/verify/PAY-1", r.URL.Path)
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data":   map[string]any{"id": 42, "status": provider, "amount": 500000},
			})
		})
		v, err := a.VerifyPayment(context.Background(), "PAY-1")
		require.NoError(t, err)
		assert.Equal(t, want, v.Status, "provider status %q", provider)
		assert.Equal(t, int64(500000), v.Amount)
	}
}

func TestCall_PermanentErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Invalid key"})
	})

	_, err := a.VerifyPayment(context.Background(), "PAY-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindProvider, domain.KindOf(err))
	assert.False(t, domain.IsRetryable(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestCall_RetryableErrorRetried(t *testing.T) {
	var calls atomic.Int32
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"id": 1, "status": "success", "amount": 100},
		})
	})

	v, err := a.VerifyPayment(context.Background(), "PAY-1")
	require.NoError(t, err)
	assert.Equal(t, PaymentSuccess, v.Status)
	assert.EqualValues(t, 3, calls.Load())
}

func TestInitiateTransfer(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transfer", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "balance", body["source"])
		assert.Equal(t, "RCP_A", body["recipient"])

		json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data":   map[string]any{"transfer_code": "TRF_code", "status": "pending"},
		})
	})

	res, err := a.InitiateTransfer(context.Background(), TransferRequest{
		Amount:        490000,
		RecipientCode: "RCP_A",
		Reference:     "TRF-x",
		Reason:        "escrow release",
	})
	require.NoError(t, err)
	assert.Equal(t, "TRF_code", res.TransferCode)
	assert.Equal(t, PaymentPending, res.Status)
}

func TestListBanksAndResolve(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bank":
			assert.Equal(t, "KES", r.URL.Query().Get("currency"))
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data":   []map[string]any{{"code": "68", "name": "Equity Bank Kenya"}},
			})
		case "/bank/resolve":
			assert.Equal(t, "0123456789", r.URL.Query().Get("account_number"))
			json.NewEncoder(w).Encode(map[string]any{
				"status": true,
				"data":   map[string]any{"account_name": "WANJIKU N"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	})

	banks, err := a.ListBanks(context.Background())
	require.NoError(t, err)
	require.Len(t, banks, 1)
	assert.Equal(t, "68", banks[0].Code)

	name, err := a.ResolveAccount(context.Background(), "0123456789", "68")
	require.NoError(t, err)
	assert.Equal(t, "WANJIKU N", name)
}

func TestMockProvider_DuplicateTransferNotReinitiated(t *testing.T) {
	m := NewMockProvider(zap.NewNop())

	first, err := m.InitiateTransfer(context.Background(), TransferRequest{Reference: "TRF-dup", Amount: 100})
	require.NoError(t, err)
	second, err := m.InitiateTransfer(context.Background(), TransferRequest{Reference: "TRF-dup", Amount: 100})
	require.NoError(t, err)
	assert.Equal(t, first.TransferCode, second.TransferCode)
}
