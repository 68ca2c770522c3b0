package controller

import (
	"math"
	"time"

	"github.com/cassiomorais/daraja/internal/domain/transaction"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (float64 for money, validation
// tags). Controllers convert these to service layer DTOs before calling
// business logic.

// STKPushRequest holds the input for initiating an STK push.
type STKPushRequest struct {
	Amount           float64 `json:"amount" validate:"required,gt=0"`
	PhoneNumber      string  `json:"phone_number" validate:"required"`
	AccountReference string  `json:"account_reference" validate:"required,max=12"`
	TransactionDesc  string  `json:"transaction_desc" validate:"max=13"`
}

// STKQueryRequest holds the input for querying an STK push.
type STKQueryRequest struct {
	CheckoutRequestID string `json:"checkout_request_id" validate:"required"`
}

// C2BRegisterRequest holds the input for registering C2B URLs.
type C2BRegisterRequest struct {
	ShortCode       string `json:"short_code"`
	ResponseType    string `json:"response_type" validate:"omitempty,oneof=Completed Cancelled"`
	ConfirmationURL string `json:"confirmation_url" validate:"required,url"`
	ValidationURL   string `json:"validation_url" validate:"required,url"`
}

// B2CRequest holds the input for a B2C payout.
type B2CRequest struct {
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	PhoneNumber string  `json:"phone_number" validate:"required"`
	CommandID   string  `json:"command_id" validate:"omitempty,oneof=BusinessPayment SalaryPayment PromotionPayment"`
	Remarks     string  `json:"remarks" validate:"max=100"`
	Occasion    string  `json:"occasion" validate:"max=100"`
}

// B2BRequest holds the input for a B2B transfer.
type B2BRequest struct {
	Amount           float64 `json:"amount" validate:"required,gt=0"`
	PartyB           string  `json:"party_b" validate:"required"`
	CommandID        string  `json:"command_id" validate:"omitempty,oneof=BusinessPayBill BusinessBuyGoods DisburseFundsToBusiness BusinessToBusinessTransfer MerchantToMerchantTransfer"`
	AccountReference string  `json:"account_reference" validate:"max=12"`
	Remarks          string  `json:"remarks" validate:"max=100"`
}

// BalanceRequest holds the input for an account balance query.
type BalanceRequest struct {
	Remarks string `json:"remarks" validate:"max=100"`
}

// TransactionStatusRequest holds the input for a status query.
type TransactionStatusRequest struct {
	TransactionID string `json:"transaction_id" validate:"required"`
	Remarks       string `json:"remarks" validate:"max=100"`
}

// ReversalRequest holds the input for reversing a transaction.
type ReversalRequest struct {
	TransactionID string  `json:"transaction_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"required,gt=0"`
	Remarks       string  `json:"remarks" validate:"max=100"`
	Occasion      string  `json:"occasion" validate:"max=100"`
}

// DynamicQRRequest holds the input for generating a payment QR code.
type DynamicQRRequest struct {
	MerchantName          string  `json:"merchant_name" validate:"required"`
	RefNo                 string  `json:"ref_no" validate:"required"`
	Amount                float64 `json:"amount" validate:"required,gt=0"`
	TrxCode               string  `json:"trx_code" validate:"required,oneof=BG WA PB SM"`
	CreditPartyIdentifier string  `json:"credit_party_identifier" validate:"required"`
	Size                  string  `json:"size" validate:"omitempty,oneof=300 500"`
}

// --- Response DTOs ---

// TransactionResponse represents a tracked transaction in API responses.
type TransactionResponse struct {
	ID                       string         `json:"id"`
	Operation                string         `json:"operation"`
	Status                   string         `json:"status"`
	MerchantRequestID        *string        `json:"merchant_request_id,omitempty"`
	CheckoutRequestID        *string        `json:"checkout_request_id,omitempty"`
	ConversationID           *string        `json:"conversation_id,omitempty"`
	OriginatorConversationID *string        `json:"originator_conversation_id,omitempty"`
	Phone                    *string        `json:"phone,omitempty"`
	Amount                   float64        `json:"amount"`
	Currency                 string         `json:"currency"`
	MpesaReceipt             *string        `json:"mpesa_receipt,omitempty"`
	ResultCode               *int           `json:"result_code,omitempty"`
	ResultDesc               *string        `json:"result_desc,omitempty"`
	Metadata                 map[string]any `json:"metadata,omitempty"`
	CreatedAt                time.Time      `json:"created_at"`
	UpdatedAt                time.Time      `json:"updated_at"`
	CompletedAt              *time.Time     `json:"completed_at,omitempty"`
}

// InitiatedResponse pairs the tracked transaction with the gateway's
// acceptance of an asynchronous operation.
type InitiatedResponse struct {
	Transaction *TransactionResponse `json:"transaction"`
	Gateway     any                  `json:"gateway"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromTransaction converts a domain transaction to API response.
func FromTransaction(t *transaction.Transaction) *TransactionResponse {
	return &TransactionResponse{
		ID:                       t.ID.String(),
		Operation:                string(t.Operation),
		Status:                   string(t.Status),
		MerchantRequestID:        t.MerchantRequestID,
		CheckoutRequestID:        t.CheckoutRequestID,
		ConversationID:           t.ConversationID,
		OriginatorConversationID: t.OriginatorConversationID,
		Phone:                    t.Phone,
		Amount:                   centsToFloat(t.Amount.ValueCents),
		Currency:                 t.Amount.Currency,
		MpesaReceipt:             t.MpesaReceipt,
		ResultCode:               t.ResultCode,
		ResultDesc:               t.ResultDesc,
		Metadata:                 t.Metadata,
		CreatedAt:                t.CreatedAt,
		UpdatedAt:                t.UpdatedAt,
		CompletedAt:              t.CompletedAt,
	}
}

// floatToCents converts a whole-unit amount to cents. Rounding absorbs
// float representation error (0.99*100 is 98.999...).
func floatToCents(f float64) int64 {
	return int64(math.Round(f * 100))
}

// centsToFloat converts cents to a whole-unit amount.
func centsToFloat(cents int64) float64 {
	return float64(cents) / 100.0
}
