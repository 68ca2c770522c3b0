package service_test

import (
	"context"
	"testing"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/cassiomorais/daraja/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClient implements service.GatewayClient with overridable fields.
type stubClient struct {
	stkPush   func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	stkQuery  func(ctx context.Context, req mpesa.STKQueryRequest) (*mpesa.STKQueryResponse, error)
	c2bReg    func(ctx context.Context, req mpesa.C2BRegisterRequest) (*mpesa.C2BRegisterResponse, error)
	b2c       func(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error)
	b2b       func(ctx context.Context, req mpesa.B2BRequest) (*mpesa.B2BResponse, error)
	balance   func(ctx context.Context, req mpesa.AccountBalanceRequest) (*mpesa.AccountBalanceResponse, error)
	status    func(ctx context.Context, req mpesa.TransactionStatusRequest) (*mpesa.TransactionStatusResponse, error)
	reversal  func(ctx context.Context, req mpesa.ReversalRequest) (*mpesa.ReversalResponse, error)
	dynamicQR func(ctx context.Context, req mpesa.DynamicQRRequest) (*mpesa.DynamicQRResponse, error)
}

func (s *stubClient) STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	return s.stkPush(ctx, req)
}

func (s *stubClient) STKQuery(ctx context.Context, req mpesa.STKQueryRequest) (*mpesa.STKQueryResponse, error) {
	return s.stkQuery(ctx, req)
}

func (s *stubClient) RegisterC2BURL(ctx context.Context, req mpesa.C2BRegisterRequest) (*mpesa.C2BRegisterResponse, error) {
	return s.c2bReg(ctx, req)
}

func (s *stubClient) B2C(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error) {
	return s.b2c(ctx, req)
}

func (s *stubClient) B2B(ctx context.Context, req mpesa.B2BRequest) (*mpesa.B2BResponse, error) {
	return s.b2b(ctx, req)
}

func (s *stubClient) AccountBalance(ctx context.Context, req mpesa.AccountBalanceRequest) (*mpesa.AccountBalanceResponse, error) {
	return s.balance(ctx, req)
}

func (s *stubClient) TransactionStatus(ctx context.Context, req mpesa.TransactionStatusRequest) (*mpesa.TransactionStatusResponse, error) {
	return s.status(ctx, req)
}

func (s *stubClient) Reversal(ctx context.Context, req mpesa.ReversalRequest) (*mpesa.ReversalResponse, error) {
	return s.reversal(ctx, req)
}

func (s *stubClient) DynamicQR(ctx context.Context, req mpesa.DynamicQRRequest) (*mpesa.DynamicQRResponse, error) {
	return s.dynamicQR(ctx, req)
}

func TestInitiateSTKPush_RecordsPendingTransaction(t *testing.T) {
	var gotReq mpesa.STKPushRequest
	client := &stubClient{
		stkPush: func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
			gotReq = req
			return &mpesa.STKPushResponse{
				MerchantRequestID: "29115-34620561-1",
				CheckoutRequestID: "ws_CO_1",
				ResponseCode:      "0",
			}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	resp, err := svc.InitiateSTKPush(context.Background(), service.InitiateSTKPushRequest{
		AmountCents:      10050,
		PhoneNumber:      "0712345678",
		AccountReference: "INV-001",
		TransactionDesc:  "Order payment",
	})
	require.NoError(t, err)
	assert.Equal(t, 100.50, gotReq.Amount, "cents are converted to whole units for the gateway")

	txn := resp.Transaction
	require.NotNil(t, txn)
	assert.Equal(t, transaction.OpSTKPush, txn.Operation)
	assert.Equal(t, transaction.StatusPending, txn.Status)
	require.NotNil(t, txn.CheckoutRequestID)
	assert.Equal(t, "ws_CO_1", *txn.CheckoutRequestID)
	require.NotNil(t, txn.Phone)
	assert.Equal(t, "254712345678", *txn.Phone)
	assert.Equal(t, int64(10050), txn.Amount.ValueCents)
	assert.Equal(t, "INV-001", txn.Metadata["account_reference"])

	stored, err := repo.GetByCheckoutRequestID(context.Background(), "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, txn.ID, stored.ID)
}

func TestInitiateSTKPush_GatewayErrorLeavesNoRow(t *testing.T) {
	client := &stubClient{
		stkPush: func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
			return nil, domainErrors.NewRateLimit("rate limit exceeded", 0)
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	_, err := svc.InitiateSTKPush(context.Background(), service.InitiateSTKPushRequest{
		AmountCents:      100,
		PhoneNumber:      "0712345678",
		AccountReference: "INV-001",
		TransactionDesc:  "x",
	})
	require.Error(t, err)

	rows, err := repo.List(context.Background(), transaction.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestInitiateB2C_TracksConversationID(t *testing.T) {
	client := &stubClient{
		b2c: func(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error) {
			return &mpesa.B2CResponse{
				ConversationID:           "AG_1",
				OriginatorConversationID: "10571-1",
			}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	resp, err := svc.InitiateB2C(context.Background(), service.InitiateB2CRequest{
		AmountCents: 50000,
		PhoneNumber: "254712345678",
		CommandID:   mpesa.BusinessPayment,
		Remarks:     "Payout",
	})
	require.NoError(t, err)
	assert.Equal(t, transaction.OpB2C, resp.Transaction.Operation)

	stored, err := repo.GetByConversationID(context.Background(), "AG_1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), stored.Amount.ValueCents)
}

func TestInitiateB2B_NoPhoneKeepsPartyB(t *testing.T) {
	client := &stubClient{
		b2b: func(ctx context.Context, req mpesa.B2BRequest) (*mpesa.B2BResponse, error) {
			return &mpesa.B2BResponse{ConversationID: "AG_2"}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	resp, err := svc.InitiateB2B(context.Background(), service.InitiateB2BRequest{
		AmountCents:      100000,
		PartyB:           "600000",
		CommandID:        mpesa.BusinessPayBill,
		AccountReference: "ACC-1",
		Remarks:          "Settlement",
	})
	require.NoError(t, err)
	assert.Nil(t, resp.Transaction.Phone)
	assert.Equal(t, "600000", resp.Transaction.Metadata["party_b"])
}

func TestQueryBalance_ZeroAmountRow(t *testing.T) {
	client := &stubClient{
		balance: func(ctx context.Context, req mpesa.AccountBalanceRequest) (*mpesa.AccountBalanceResponse, error) {
			return &mpesa.AccountBalanceResponse{ConversationID: "AG_3"}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	txn, resp, err := svc.QueryBalance(context.Background(), "EOD check")
	require.NoError(t, err)
	assert.Equal(t, "AG_3", resp.ConversationID)
	assert.Equal(t, transaction.OpAccountBalance, txn.Operation)
	assert.Zero(t, txn.Amount.ValueCents, "balance queries carry no amount")
}

func TestQueryTransactionStatus_KeepsQueriedID(t *testing.T) {
	client := &stubClient{
		status: func(ctx context.Context, req mpesa.TransactionStatusRequest) (*mpesa.TransactionStatusResponse, error) {
			assert.Equal(t, "NLJ7RT61SV", req.TransactionID)
			return &mpesa.TransactionStatusResponse{ConversationID: "AG_4"}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	txn, _, err := svc.QueryTransactionStatus(context.Background(), "NLJ7RT61SV", "audit")
	require.NoError(t, err)
	assert.Equal(t, "NLJ7RT61SV", txn.Metadata["queried_transaction_id"])
}

func TestInitiateReversal_LinksOriginalReceipt(t *testing.T) {
	client := &stubClient{
		reversal: func(ctx context.Context, req mpesa.ReversalRequest) (*mpesa.ReversalResponse, error) {
			return &mpesa.ReversalResponse{ConversationID: "AG_5"}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	svc := service.NewGatewayService(client, repo)

	resp, err := svc.InitiateReversal(context.Background(), service.InitiateReversalRequest{
		TransactionID: "NLJ7RT61SV",
		AmountCents:   10000,
		Remarks:       "Customer complaint",
	})
	require.NoError(t, err)
	assert.Equal(t, transaction.OpReversal, resp.Transaction.Operation)
	assert.Equal(t, "NLJ7RT61SV", resp.Transaction.Metadata["reversed_transaction_id"])
}

func TestInitiateSTKPush_RepositoryErrorSurfaces(t *testing.T) {
	client := &stubClient{
		stkPush: func(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
			return &mpesa.STKPushResponse{CheckoutRequestID: "ws_CO_9"}, nil
		},
	}
	repo := testutil.NewMockTransactionRepository()
	repo.CreateFunc = func(ctx context.Context, txn *transaction.Transaction) error {
		return domainErrors.ErrDuplicateTransaction
	}
	svc := service.NewGatewayService(client, repo)

	_, err := svc.InitiateSTKPush(context.Background(), service.InitiateSTKPushRequest{
		AmountCents:      100,
		PhoneNumber:      "0712345678",
		AccountReference: "INV-001",
		TransactionDesc:  "x",
	})
	assert.ErrorIs(t, err, domainErrors.ErrDuplicateTransaction)
}
