package controller_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cassiomorais/daraja/internal/controller"
	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/cassiomorais/daraja/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayStub implements service.GatewayClient with per-call overrides.
// Calls without an override fail the test.
type gatewayStub struct {
	t       *testing.T
	stkPush func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	b2c     func(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error)
}

func (s *gatewayStub) STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	if s.stkPush == nil {
		s.t.Fatal("unexpected STKPush call")
	}
	return s.stkPush(ctx, req)
}

func (s *gatewayStub) B2C(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error) {
	if s.b2c == nil {
		s.t.Fatal("unexpected B2C call")
	}
	return s.b2c(ctx, req)
}

func (s *gatewayStub) STKQuery(ctx context.Context, req mpesa.STKQueryRequest) (*mpesa.STKQueryResponse, error) {
	s.t.Fatal("unexpected STKQuery call")
	return nil, nil
}

func (s *gatewayStub) RegisterC2BURL(ctx context.Context, req mpesa.C2BRegisterRequest) (*mpesa.C2BRegisterResponse, error) {
	s.t.Fatal("unexpected RegisterC2BURL call")
	return nil, nil
}

func (s *gatewayStub) B2B(ctx context.Context, req mpesa.B2BRequest) (*mpesa.B2BResponse, error) {
	s.t.Fatal("unexpected B2B call")
	return nil, nil
}

func (s *gatewayStub) AccountBalance(ctx context.Context, req mpesa.AccountBalanceRequest) (*mpesa.AccountBalanceResponse, error) {
	s.t.Fatal("unexpected AccountBalance call")
	return nil, nil
}

func (s *gatewayStub) TransactionStatus(ctx context.Context, req mpesa.TransactionStatusRequest) (*mpesa.TransactionStatusResponse, error) {
	s.t.Fatal("unexpected TransactionStatus call")
	return nil, nil
}

func (s *gatewayStub) Reversal(ctx context.Context, req mpesa.ReversalRequest) (*mpesa.ReversalResponse, error) {
	s.t.Fatal("unexpected Reversal call")
	return nil, nil
}

func (s *gatewayStub) DynamicQR(ctx context.Context, req mpesa.DynamicQRRequest) (*mpesa.DynamicQRResponse, error) {
	s.t.Fatal("unexpected DynamicQR call")
	return nil, nil
}

func newGatewayRouter(t *testing.T, stub *gatewayStub, repo *testutil.MockTransactionRepository) http.Handler {
	t.Helper()
	ctrl := controller.NewGatewayController(service.NewGatewayService(stub, repo))

	r := chi.NewRouter()
	r.Post("/stk/push", ctrl.STKPush)
	r.Post("/b2c", ctrl.B2C)
	r.Get("/transactions", ctrl.ListTransactions)
	r.Get("/transactions/{id}", ctrl.GetTransaction)
	return r
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestSTKPush_Accepted(t *testing.T) {
	stub := &gatewayStub{t: t}
	stub.stkPush = func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
		return &mpesa.STKPushResponse{
			MerchantRequestID: "29115-34620561-1",
			CheckoutRequestID: "ws_CO_191220191020363925",
			ResponseCode:      "0",
		}, nil
	}
	repo := testutil.NewMockTransactionRepository()
	h := newGatewayRouter(t, stub, repo)

	rec := postJSON(t, h, "/stk/push", map[string]any{
		"amount":            100.50,
		"phone_number":      "0712345678",
		"account_reference": "INV-001",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[controller.InitiatedResponse](t, rec)
	require.NotNil(t, resp.Transaction)
	assert.Equal(t, "stk_push", resp.Transaction.Operation)
	assert.Equal(t, "pending", resp.Transaction.Status)
	assert.Equal(t, 100.50, resp.Transaction.Amount)
	require.NotNil(t, resp.Transaction.CheckoutRequestID)
	assert.Equal(t, "ws_CO_191220191020363925", *resp.Transaction.CheckoutRequestID)
}

func TestSTKPush_ValidationErrorDoesNotReachGateway(t *testing.T) {
	stub := &gatewayStub{t: t} // any gateway call fails the test
	h := newGatewayRouter(t, stub, testutil.NewMockTransactionRepository())

	rec := postJSON(t, h, "/stk/push", map[string]any{
		"amount":       0,
		"phone_number": "0712345678",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
}

func TestSTKPush_MalformedJSON(t *testing.T) {
	h := newGatewayRouter(t, &gatewayStub{t: t}, testutil.NewMockTransactionRepository())

	req := httptest.NewRequest(http.MethodPost, "/stk/push", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "validation", resp.Code)
}

func TestSTKPush_RateLimitSetsRetryAfterHeader(t *testing.T) {
	stub := &gatewayStub{t: t}
	stub.stkPush = func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
		return nil, domainErrors.NewRateLimit("request quota exhausted", 30*time.Second)
	}
	h := newGatewayRouter(t, stub, testutil.NewMockTransactionRepository())

	rec := postJSON(t, h, "/stk/push", map[string]any{
		"amount":            10,
		"phone_number":      "0712345678",
		"account_reference": "INV-001",
	})

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "30", rec.Header().Get("Retry-After"))
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "rate_limit", resp.Code)
}

func TestSTKPush_DuplicateTransactionConflict(t *testing.T) {
	stub := &gatewayStub{t: t}
	stub.stkPush = func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
		return &mpesa.STKPushResponse{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}, nil
	}
	repo := testutil.NewMockTransactionRepository()
	repo.CreateFunc = func(ctx context.Context, txn *transaction.Transaction) error {
		return domainErrors.ErrDuplicateTransaction
	}
	h := newGatewayRouter(t, stub, repo)

	rec := postJSON(t, h, "/stk/push", map[string]any{
		"amount":            10,
		"phone_number":      "0712345678",
		"account_reference": "INV-001",
	})

	require.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "duplicate_transaction", resp.Code)
}

func TestB2C_Accepted(t *testing.T) {
	stub := &gatewayStub{t: t}
	stub.b2c = func(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error) {
		return &mpesa.B2CResponse{
			ConversationID:           "AG_20191219_00005797af5d7d75f652",
			OriginatorConversationID: "16740-34861180-1",
			ResponseCode:             "0",
		}, nil
	}
	h := newGatewayRouter(t, stub, testutil.NewMockTransactionRepository())

	rec := postJSON(t, h, "/b2c", map[string]any{
		"amount":       250,
		"phone_number": "254712345678",
		"remarks":      "Refund",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	resp := decodeBody[controller.InitiatedResponse](t, rec)
	require.NotNil(t, resp.Transaction.ConversationID)
	assert.Equal(t, "AG_20191219_00005797af5d7d75f652", *resp.Transaction.ConversationID)
}

func TestGetTransaction_InvalidID(t *testing.T) {
	h := newGatewayRouter(t, &gatewayStub{t: t}, testutil.NewMockTransactionRepository())

	req := httptest.NewRequest(http.MethodGet, "/transactions/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "invalid_id", resp.Code)
}

func TestGetTransaction_NotFound(t *testing.T) {
	h := newGatewayRouter(t, &gatewayStub{t: t}, testutil.NewMockTransactionRepository())

	req := httptest.NewRequest(http.MethodGet, "/transactions/0b37dfc1-2c7f-4c43-9b3e-5a8d6f1a2b3c", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeBody[controller.ErrorResponse](t, rec)
	assert.Equal(t, "not_found", resp.Code)
}

func TestGetTransaction_Found(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	txn := testutil.NewSTKTransaction("29115-1", "ws_CO_1")
	repo.Add(txn)
	h := newGatewayRouter(t, &gatewayStub{t: t}, repo)

	req := httptest.NewRequest(http.MethodGet, "/transactions/"+txn.ID.String(), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[controller.TransactionResponse](t, rec)
	assert.Equal(t, txn.ID.String(), resp.ID)
	assert.Equal(t, 10.00, resp.Amount)
}

func TestListTransactions_FiltersByOperation(t *testing.T) {
	repo := testutil.NewMockTransactionRepository()
	repo.Add(testutil.NewSTKTransaction("29115-1", "ws_CO_1"))
	repo.Add(testutil.NewTestTransaction(transaction.OpB2C, "254712345678", 5000))
	h := newGatewayRouter(t, &gatewayStub{t: t}, repo)

	req := httptest.NewRequest(http.MethodGet, "/transactions?operation=b2c", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[[]*controller.TransactionResponse](t, rec)
	require.Len(t, resp, 1)
	assert.Equal(t, "b2c", resp[0].Operation)
}
