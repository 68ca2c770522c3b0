package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/cassiomorais/daraja/internal/callback"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/cassiomorais/daraja/internal/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCallbackService(t *testing.T) (*service.CallbackService, *testutil.MockTransactionRepository, *testutil.MockPublisher, *testutil.MockDedupeStore) {
	t.Helper()
	repo := testutil.NewMockTransactionRepository()
	publisher := testutil.NewMockPublisher()
	dedupe := testutil.NewMockDedupeStore()
	svc := service.NewCallbackService(repo, testutil.NewMockTxManager(), publisher, dedupe, zerolog.Nop())
	return svc, repo, publisher, dedupe
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestHandler_STKCallbackPublishesOutcome(t *testing.T) {
	svc, _, publisher, _ := newCallbackService(t)
	h, err := svc.Handler(callback.WithoutIPValidation())
	require.NoError(t, err)

	raw := testutil.STKSuccessCallback("29115-1", "ws_CO_1", "NLJ7RT61SV")
	ack, err := h.HandleSTK(context.Background(), raw, "")
	require.NoError(t, err)
	assert.Equal(t, 0, ack.ResultCode)

	published := publisher.Published()
	require.Len(t, published, 1)
	assert.Equal(t, "stk", published[0].Kind)
	assert.Equal(t, "ws_CO_1", published[0].Key)
}

func TestHandler_PublishFailureReleasesDedupeMarker(t *testing.T) {
	svc, _, publisher, dedupe := newCallbackService(t)
	publisher.PublishCallbackFunc = func(ctx context.Context, kind, key string, outcome any) error {
		return errors.New("stream down")
	}
	h, err := svc.Handler(callback.WithoutIPValidation())
	require.NoError(t, err)

	raw := testutil.STKSuccessCallback("29115-1", "ws_CO_2", "NLJ7RT61SV")
	_, err = h.HandleSTK(context.Background(), raw, "")
	require.Error(t, err)

	// The marker claimed during the duplicate check must be released so
	// the gateway's redelivery is processed, not dropped.
	assert.False(t, dedupe.Has("ws_CO_2"))
}

func TestSettle_STKSuccessCompletesTransaction(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	txn := testutil.NewSTKTransaction("29115-1", "ws_CO_3")
	repo.Add(txn)

	outcome := &callback.STKResult{
		CheckoutRequestID:  "ws_CO_3",
		ResultCode:         0,
		ResultDescription:  "The service request is processed successfully.",
		MpesaReceiptNumber: "NLJ7RT61SV",
		IsSuccess:          true,
	}
	err := svc.Settle(context.Background(), "stk", "ws_CO_3", mustJSON(t, outcome))
	require.NoError(t, err)

	stored := repo.Get(txn.ID)
	assert.Equal(t, transaction.StatusCompleted, stored.Status)
	require.NotNil(t, stored.MpesaReceipt)
	assert.Equal(t, "NLJ7RT61SV", *stored.MpesaReceipt)
}

func TestSettle_STKFailureMarksFailed(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	txn := testutil.NewSTKTransaction("29115-1", "ws_CO_4")
	repo.Add(txn)

	outcome := &callback.STKResult{
		CheckoutRequestID: "ws_CO_4",
		ResultCode:        1032,
		ErrorMessage:      "Request cancelled by user",
	}
	err := svc.Settle(context.Background(), "stk", "ws_CO_4", mustJSON(t, outcome))
	require.NoError(t, err)

	stored := repo.Get(txn.ID)
	assert.Equal(t, transaction.StatusFailed, stored.Status)
	require.NotNil(t, stored.ResultCode)
	assert.Equal(t, 1032, *stored.ResultCode)
	require.NotNil(t, stored.ResultDesc)
	assert.Equal(t, "Request cancelled by user", *stored.ResultDesc)
}

func TestSettle_STKUnknownTransactionErrors(t *testing.T) {
	svc, _, _, _ := newCallbackService(t)

	outcome := &callback.STKResult{CheckoutRequestID: "ws_CO_missing", IsSuccess: true}
	err := svc.Settle(context.Background(), "stk", "ws_CO_missing", mustJSON(t, outcome))
	require.Error(t, err)
}

func TestSettle_C2BCreatesCompletedTransaction(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	payment := &callback.C2BPayment{
		TransactionID: "RKTQDM7W6S",
		Amount:        150.00,
		MSISDN:        "254712345678",
		BillRefNumber: "INV-001",
		FirstName:     "JOHN",
	}
	err := svc.Settle(context.Background(), "c2b", "RKTQDM7W6S", mustJSON(t, payment))
	require.NoError(t, err)

	stored, err := repo.GetByMpesaReceipt(context.Background(), "RKTQDM7W6S")
	require.NoError(t, err)
	assert.Equal(t, transaction.OpC2B, stored.Operation)
	assert.Equal(t, transaction.StatusCompleted, stored.Status)
	assert.Equal(t, int64(15000), stored.Amount.ValueCents)
	assert.Equal(t, "INV-001", stored.Metadata["bill_ref_number"])
}

func TestSettle_C2BRedeliveryIsNotAnError(t *testing.T) {
	svc, _, _, _ := newCallbackService(t)

	payment := &callback.C2BPayment{
		TransactionID: "RKTQDM7W6S",
		Amount:        150.00,
		MSISDN:        "254712345678",
	}
	raw := mustJSON(t, payment)
	require.NoError(t, svc.Settle(context.Background(), "c2b", "RKTQDM7W6S", raw))
	require.NoError(t, svc.Settle(context.Background(), "c2b", "RKTQDM7W6S", raw))
}

func TestSettle_B2CResultCompletes(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	txn := testutil.NewResultTransaction(transaction.OpB2C, "AG_1")
	repo.Add(txn)

	outcome := &callback.B2CResult{
		IsSuccess:      true,
		ResultCode:     0,
		ResultDesc:     "Success",
		ConversationID: "AG_1",
		TransactionID:  "NLJ41HAY6Q",
	}
	err := svc.Settle(context.Background(), "b2c", "AG_1", mustJSON(t, outcome))
	require.NoError(t, err)

	stored := repo.Get(txn.ID)
	assert.Equal(t, transaction.StatusCompleted, stored.Status)
	require.NotNil(t, stored.MpesaReceipt)
	assert.Equal(t, "NLJ41HAY6Q", *stored.MpesaReceipt)
}

func TestSettle_BalanceResultStashesDetails(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	txn := testutil.NewResultTransaction(transaction.OpAccountBalance, "AG_2")
	txn.Amount.ValueCents = 0
	repo.Add(txn)

	outcome := &callback.BalanceResult{
		IsSuccess:        true,
		ConversationID:   "AG_2",
		WorkingBalance:   481.00,
		AvailableBalance: 350.50,
	}
	err := svc.Settle(context.Background(), "balance", "AG_2", mustJSON(t, outcome))
	require.NoError(t, err)

	stored := repo.Get(txn.ID)
	assert.Equal(t, transaction.StatusCompleted, stored.Status)
	details, ok := stored.Metadata["balance_result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 481.00, details["working_balance"])
}

func TestSettle_ReversalFlipsOriginalTransaction(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	// The original completed payment, found by its receipt.
	original := testutil.NewSTKTransaction("29115-1", "ws_CO_5")
	receipt := "NLJ7RT61SV"
	require.NoError(t, original.MarkCompleted(&receipt, 0, "Success"))
	repo.Add(original)

	// The reversal the service initiated.
	rev := testutil.NewResultTransaction(transaction.OpReversal, "AG_3")
	rev.Metadata["reversed_transaction_id"] = "NLJ7RT61SV"
	repo.Add(rev)

	outcome := &callback.ReversalResult{
		IsSuccess:      true,
		ResultCode:     0,
		ResultDesc:     "Success",
		ConversationID: "AG_3",
	}
	err := svc.Settle(context.Background(), "reversal", "AG_3", mustJSON(t, outcome))
	require.NoError(t, err)

	assert.Equal(t, transaction.StatusCompleted, repo.Get(rev.ID).Status)
	assert.Equal(t, transaction.StatusReversed, repo.Get(original.ID).Status)
}

func TestSettle_ResultFailureUsesErrorMessage(t *testing.T) {
	svc, repo, _, _ := newCallbackService(t)

	txn := testutil.NewResultTransaction(transaction.OpB2B, "AG_4")
	repo.Add(txn)

	outcome := &callback.B2BResult{
		IsSuccess:      false,
		ResultCode:     2001,
		ResultDesc:     "The initiator information is invalid.",
		ConversationID: "AG_4",
		ErrorMessage:   "Wrong PIN entered",
	}
	err := svc.Settle(context.Background(), "b2b", "AG_4", mustJSON(t, outcome))
	require.NoError(t, err)

	stored := repo.Get(txn.ID)
	assert.Equal(t, transaction.StatusFailed, stored.Status)
	require.NotNil(t, stored.ResultDesc)
	assert.Equal(t, "Wrong PIN entered", *stored.ResultDesc)
}

func TestSettle_UnknownKind(t *testing.T) {
	svc, _, _, _ := newCallbackService(t)

	err := svc.Settle(context.Background(), "bogus", "k", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown callback kind")
}
