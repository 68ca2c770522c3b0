package service

import (
	"context"

	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/google/uuid"
)

// GatewayClient is the slice of the M-Pesa client the service uses.
type GatewayClient interface {
	STKPush(ctx context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error)
	STKQuery(ctx context.Context, req mpesa.STKQueryRequest) (*mpesa.STKQueryResponse, error)
	RegisterC2BURL(ctx context.Context, req mpesa.C2BRegisterRequest) (*mpesa.C2BRegisterResponse, error)
	B2C(ctx context.Context, req mpesa.B2CRequest) (*mpesa.B2CResponse, error)
	B2B(ctx context.Context, req mpesa.B2BRequest) (*mpesa.B2BResponse, error)
	AccountBalance(ctx context.Context, req mpesa.AccountBalanceRequest) (*mpesa.AccountBalanceResponse, error)
	TransactionStatus(ctx context.Context, req mpesa.TransactionStatusRequest) (*mpesa.TransactionStatusResponse, error)
	Reversal(ctx context.Context, req mpesa.ReversalRequest) (*mpesa.ReversalResponse, error)
	DynamicQR(ctx context.Context, req mpesa.DynamicQRRequest) (*mpesa.DynamicQRResponse, error)
}

// GatewayService initiates gateway operations and records a pending
// transaction for each one that produces an asynchronous result, so the
// callback settler has a row to reconcile against.
type GatewayService struct {
	client       GatewayClient
	transactions transaction.Repository
}

// NewGatewayService creates a new GatewayService.
func NewGatewayService(client GatewayClient, transactions transaction.Repository) *GatewayService {
	return &GatewayService{
		client:       client,
		transactions: transactions,
	}
}

// InitiateSTKPushRequest holds the input for an STK push.
type InitiateSTKPushRequest struct {
	AmountCents      int64
	PhoneNumber      string
	AccountReference string
	TransactionDesc  string
}

// InitiateSTKPushResponse pairs the gateway acceptance with the pending
// transaction tracking it.
type InitiateSTKPushResponse struct {
	Transaction *transaction.Transaction
	Gateway     *mpesa.STKPushResponse
}

// InitiateSTKPush sends the prompt and persists a pending transaction
// keyed by the returned CheckoutRequestID.
func (s *GatewayService) InitiateSTKPush(ctx context.Context, req InitiateSTKPushRequest) (*InitiateSTKPushResponse, error) {
	// 1. Send the push; the client validates and normalizes the phone.
	resp, err := s.client.STKPush(ctx, mpesa.STKPushRequest{
		Amount:           centsToAmount(req.AmountCents),
		PhoneNumber:      req.PhoneNumber,
		AccountReference: req.AccountReference,
		TransactionDesc:  req.TransactionDesc,
	})
	if err != nil {
		return nil, err
	}

	// 2. Record the pending transaction for callback reconciliation.
	phone, err := mpesa.FormatPhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	txn, err := transaction.New(transaction.OpSTKPush, &phone, kes(req.AmountCents))
	if err != nil {
		return nil, err
	}
	txn.SetSTKCorrelation(resp.MerchantRequestID, resp.CheckoutRequestID)
	if req.AccountReference != "" {
		txn.Metadata["account_reference"] = req.AccountReference
	}

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	return &InitiateSTKPushResponse{Transaction: txn, Gateway: resp}, nil
}

// QuerySTK asks the gateway for the current state of an STK push.
func (s *GatewayService) QuerySTK(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return s.client.STKQuery(ctx, mpesa.STKQueryRequest{CheckoutRequestID: checkoutRequestID})
}

// RegisterC2B registers the validation and confirmation URLs. No
// transaction row: registration has no asynchronous result to settle.
func (s *GatewayService) RegisterC2B(ctx context.Context, req mpesa.C2BRegisterRequest) (*mpesa.C2BRegisterResponse, error) {
	return s.client.RegisterC2BURL(ctx, req)
}

// InitiateB2CRequest holds the input for a B2C payout.
type InitiateB2CRequest struct {
	AmountCents int64
	PhoneNumber string
	CommandID   mpesa.B2CCommandID
	Remarks     string
	Occasion    string
}

// InitiateB2CResponse pairs the gateway acceptance with the pending
// transaction tracking it.
type InitiateB2CResponse struct {
	Transaction *transaction.Transaction
	Gateway     *mpesa.B2CResponse
}

// InitiateB2C pays out to a customer and records a pending transaction
// keyed by the returned ConversationID.
func (s *GatewayService) InitiateB2C(ctx context.Context, req InitiateB2CRequest) (*InitiateB2CResponse, error) {
	resp, err := s.client.B2C(ctx, mpesa.B2CRequest{
		Amount:      centsToAmount(req.AmountCents),
		PhoneNumber: req.PhoneNumber,
		CommandID:   req.CommandID,
		Remarks:     req.Remarks,
		Occasion:    req.Occasion,
	})
	if err != nil {
		return nil, err
	}

	phone, err := mpesa.FormatPhone(req.PhoneNumber)
	if err != nil {
		return nil, err
	}
	txn, err := transaction.New(transaction.OpB2C, &phone, kes(req.AmountCents))
	if err != nil {
		return nil, err
	}
	txn.SetConversation(resp.ConversationID, resp.OriginatorConversationID)

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	return &InitiateB2CResponse{Transaction: txn, Gateway: resp}, nil
}

// InitiateB2BRequest holds the input for a B2B transfer.
type InitiateB2BRequest struct {
	AmountCents      int64
	PartyB           string
	CommandID        mpesa.B2BCommandID
	AccountReference string
	Remarks          string
}

// InitiateB2BResponse pairs the gateway acceptance with the pending
// transaction tracking it.
type InitiateB2BResponse struct {
	Transaction *transaction.Transaction
	Gateway     *mpesa.B2BResponse
}

// InitiateB2B transfers to another shortcode and records a pending
// transaction keyed by the returned ConversationID.
func (s *GatewayService) InitiateB2B(ctx context.Context, req InitiateB2BRequest) (*InitiateB2BResponse, error) {
	resp, err := s.client.B2B(ctx, mpesa.B2BRequest{
		Amount:           centsToAmount(req.AmountCents),
		PartyB:           req.PartyB,
		CommandID:        req.CommandID,
		AccountReference: req.AccountReference,
		Remarks:          req.Remarks,
	})
	if err != nil {
		return nil, err
	}

	txn, err := transaction.New(transaction.OpB2B, nil, kes(req.AmountCents))
	if err != nil {
		return nil, err
	}
	txn.SetConversation(resp.ConversationID, resp.OriginatorConversationID)
	txn.Metadata["party_b"] = req.PartyB

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	return &InitiateB2BResponse{Transaction: txn, Gateway: resp}, nil
}

// QueryBalance requests the shortcode balances; the figures arrive on
// the result callback, tracked by a pending transaction.
func (s *GatewayService) QueryBalance(ctx context.Context, remarks string) (*transaction.Transaction, *mpesa.AccountBalanceResponse, error) {
	resp, err := s.client.AccountBalance(ctx, mpesa.AccountBalanceRequest{Remarks: remarks})
	if err != nil {
		return nil, nil, err
	}

	txn, err := transaction.New(transaction.OpAccountBalance, nil, kes(0))
	if err != nil {
		return nil, nil, err
	}
	txn.SetConversation(resp.ConversationID, resp.OriginatorConversationID)

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, nil, err
	}
	return txn, resp, nil
}

// QueryTransactionStatus requests the status of a completed gateway
// transaction by its M-Pesa receipt number.
func (s *GatewayService) QueryTransactionStatus(ctx context.Context, transactionID, remarks string) (*transaction.Transaction, *mpesa.TransactionStatusResponse, error) {
	resp, err := s.client.TransactionStatus(ctx, mpesa.TransactionStatusRequest{
		TransactionID: transactionID,
		Remarks:       remarks,
	})
	if err != nil {
		return nil, nil, err
	}

	txn, err := transaction.New(transaction.OpTransactionStatus, nil, kes(0))
	if err != nil {
		return nil, nil, err
	}
	txn.SetConversation(resp.ConversationID, resp.OriginatorConversationID)
	txn.Metadata["queried_transaction_id"] = transactionID

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, nil, err
	}
	return txn, resp, nil
}

// InitiateReversalRequest holds the input for reversing a transaction.
type InitiateReversalRequest struct {
	TransactionID string
	AmountCents   int64
	Remarks       string
	Occasion      string
}

// InitiateReversalResponse pairs the gateway acceptance with the pending
// transaction tracking it.
type InitiateReversalResponse struct {
	Transaction *transaction.Transaction
	Gateway     *mpesa.ReversalResponse
}

// InitiateReversal asks the gateway to reverse a completed transaction.
func (s *GatewayService) InitiateReversal(ctx context.Context, req InitiateReversalRequest) (*InitiateReversalResponse, error) {
	resp, err := s.client.Reversal(ctx, mpesa.ReversalRequest{
		TransactionID: req.TransactionID,
		Amount:        centsToAmount(req.AmountCents),
		Remarks:       req.Remarks,
		Occasion:      req.Occasion,
	})
	if err != nil {
		return nil, err
	}

	txn, err := transaction.New(transaction.OpReversal, nil, kes(req.AmountCents))
	if err != nil {
		return nil, err
	}
	txn.SetConversation(resp.ConversationID, resp.OriginatorConversationID)
	txn.Metadata["reversed_transaction_id"] = req.TransactionID

	if err := s.transactions.Create(ctx, txn); err != nil {
		return nil, err
	}

	return &InitiateReversalResponse{Transaction: txn, Gateway: resp}, nil
}

// GenerateQR produces a scannable payment QR code. Synchronous, no
// transaction row.
func (s *GatewayService) GenerateQR(ctx context.Context, req mpesa.DynamicQRRequest) (*mpesa.DynamicQRResponse, error) {
	return s.client.DynamicQR(ctx, req)
}

// GetTransaction fetches a tracked transaction by ID.
func (s *GatewayService) GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	return s.transactions.GetByID(ctx, id)
}

// ListTransactions lists tracked transactions with filters.
func (s *GatewayService) ListTransactions(ctx context.Context, filter transaction.ListFilter) ([]*transaction.Transaction, error) {
	return s.transactions.List(ctx, filter)
}

func kes(cents int64) transaction.Amount {
	return transaction.Amount{ValueCents: cents, Currency: "KES"}
}

// centsToAmount converts stored cents to the whole-unit amount the
// gateway expects.
func centsToAmount(cents int64) float64 {
	return float64(cents) / 100
}
