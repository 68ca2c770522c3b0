package callback

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// errorMessages maps gateway result codes to their documented meanings.
// Codes absent from the table fall back to a generic message.
var errorMessages = map[int]string{
	0:    "Success",
	1:    "Insufficient funds in M-Pesa account",
	17:   "User cancelled the transaction",
	26:   "System internal error",
	1001: "Unable to lock subscriber, a transaction is already in process",
	1019: "Transaction expired. No response from user",
	1032: "Request cancelled by user",
	1037: "Timeout in sending PIN request",
	2001: "Wrong PIN entered",
	9999: "Request cancelled by user",
}

// ErrorMessage returns the documented meaning of a gateway result code.
func ErrorMessage(code int) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return fmt.Sprintf("Transaction failed with code: %d", code)
}

// --- Parsed outcomes ---

// STKResult is a reconciled STK push callback.
type STKResult struct {
	MerchantRequestID  string  `json:"merchant_request_id"`
	CheckoutRequestID  string  `json:"checkout_request_id"`
	ResultCode         int     `json:"result_code"`
	ResultDescription  string  `json:"result_description"`
	Amount             float64 `json:"amount,omitempty"`
	MpesaReceiptNumber string  `json:"mpesa_receipt_number,omitempty"`
	TransactionDate    string  `json:"transaction_date,omitempty"`
	PhoneNumber        string  `json:"phone_number,omitempty"`
	IsSuccess          bool    `json:"is_success"`
	ErrorMessage       string  `json:"error_message,omitempty"`
}

// C2BPayment is a customer-initiated payment, delivered to both the
// validation and confirmation webhooks.
type C2BPayment struct {
	TransactionType   string  `json:"transaction_type"`
	TransactionID     string  `json:"transaction_id"`
	TransactionTime   string  `json:"transaction_time"`
	Amount            float64 `json:"amount"`
	BusinessShortCode string  `json:"business_short_code"`
	BillRefNumber     string  `json:"bill_ref_number"`
	MSISDN            string  `json:"msisdn"`
	InvoiceNumber     string  `json:"invoice_number,omitempty"`
	FirstName         string  `json:"first_name,omitempty"`
	MiddleName        string  `json:"middle_name,omitempty"`
	LastName          string  `json:"last_name,omitempty"`
}

// B2CResult is a reconciled B2C payout result.
type B2CResult struct {
	IsSuccess                bool    `json:"is_success"`
	ResultCode               int     `json:"result_code"`
	ResultDesc               string  `json:"result_desc,omitempty"`
	ConversationID           string  `json:"conversation_id,omitempty"`
	OriginatorConversationID string  `json:"originator_conversation_id,omitempty"`
	TransactionID            string  `json:"transaction_id,omitempty"`
	Amount                   float64 `json:"amount,omitempty"`
	RecipientPhone           string  `json:"recipient_phone,omitempty"`
	Charges                  float64 `json:"charges,omitempty"`
	ErrorMessage             string  `json:"error_message,omitempty"`
}

// B2BResult is a reconciled B2B transfer result.
type B2BResult struct {
	IsSuccess                bool    `json:"is_success"`
	ResultCode               int     `json:"result_code"`
	ResultDesc               string  `json:"result_desc,omitempty"`
	ConversationID           string  `json:"conversation_id,omitempty"`
	OriginatorConversationID string  `json:"originator_conversation_id,omitempty"`
	TransactionID            string  `json:"transaction_id,omitempty"`
	Amount                   float64 `json:"amount,omitempty"`
	ErrorMessage             string  `json:"error_message,omitempty"`
}

// BalanceResult is a reconciled account balance query result.
type BalanceResult struct {
	IsSuccess                bool    `json:"is_success"`
	ResultCode               int     `json:"result_code"`
	ResultDesc               string  `json:"result_desc,omitempty"`
	ConversationID           string  `json:"conversation_id,omitempty"`
	OriginatorConversationID string  `json:"originator_conversation_id,omitempty"`
	WorkingBalance           float64 `json:"working_balance,omitempty"`
	AvailableBalance         float64 `json:"available_balance,omitempty"`
	BookedBalance            float64 `json:"booked_balance,omitempty"`
	ErrorMessage             string  `json:"error_message,omitempty"`
}

// TransactionStatusResult is a reconciled transaction status query result.
type TransactionStatusResult struct {
	IsSuccess                bool    `json:"is_success"`
	ResultCode               int     `json:"result_code"`
	ResultDesc               string  `json:"result_desc,omitempty"`
	ConversationID           string  `json:"conversation_id,omitempty"`
	OriginatorConversationID string  `json:"originator_conversation_id,omitempty"`
	ReceiptNo                string  `json:"receipt_no,omitempty"`
	Amount                   float64 `json:"amount,omitempty"`
	CompletedTime            string  `json:"completed_time,omitempty"`
	ErrorMessage             string  `json:"error_message,omitempty"`
}

// ReversalResult is a reconciled reversal result.
type ReversalResult struct {
	IsSuccess                bool   `json:"is_success"`
	ResultCode               int    `json:"result_code"`
	ResultDesc               string `json:"result_desc,omitempty"`
	ConversationID           string `json:"conversation_id,omitempty"`
	OriginatorConversationID string `json:"originator_conversation_id,omitempty"`
	TransactionID            string `json:"transaction_id,omitempty"`
	ErrorMessage             string `json:"error_message,omitempty"`
}

// --- Wire shapes ---

// param is one loosely-typed Name-or-Key/Value pair from callback
// metadata. Values arrive as strings or numbers depending on the field.
type param struct {
	Name  string `json:"Name"`
	Key   string `json:"Key"`
	Value any    `json:"Value"`
}

func (p param) name() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Key
}

type stkEnvelope struct {
	Body struct {
		STKCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []param `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type c2bEnvelope struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         string `json:"TransTime"`
	TransAmount       string `json:"TransAmount"`
	BusinessShortCode string `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	MSISDN            string `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
	MiddleName        string `json:"MiddleName"`
	LastName          string `json:"LastName"`
}

// resultEnvelope is the shared shape of B2C, B2B, balance, status and
// reversal result callbacks.
type resultEnvelope struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
		ResultParameters         *struct {
			ResultParameter []param `json:"ResultParameter"`
		} `json:"ResultParameters"`
	} `json:"Result"`
}

func (e *resultEnvelope) params() []param {
	if e.Result.ResultParameters == nil {
		return nil
	}
	return e.Result.ResultParameters.ResultParameter
}

// --- Parsers ---

// ParseSTK extracts the typed outcome from an STK push callback body.
// Metadata is projected only on success; a non-zero result code carries
// the mapped error message instead.
func ParseSTK(raw []byte) (*STKResult, error) {
	var env stkEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse stk callback: %w", err)
	}
	cb := env.Body.STKCallback
	if cb.CheckoutRequestID == "" {
		return nil, fmt.Errorf("parse stk callback: missing CheckoutRequestID")
	}

	result := &STKResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
		IsSuccess:         cb.ResultCode == 0,
	}
	if cb.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(cb.ResultCode)
		return result, nil
	}

	if cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.name() {
			case "Amount":
				result.Amount = asFloat(item.Value)
			case "MpesaReceiptNumber":
				result.MpesaReceiptNumber = asString(item.Value)
			case "TransactionDate":
				result.TransactionDate = formatTransactionDate(asString(item.Value))
			case "PhoneNumber":
				result.PhoneNumber = asString(item.Value)
			}
		}
	}
	return result, nil
}

// ParseC2B extracts the typed payment from a C2B validation or
// confirmation body.
func ParseC2B(raw []byte) (*C2BPayment, error) {
	var env c2bEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse c2b callback: %w", err)
	}
	if env.TransID == "" {
		return nil, fmt.Errorf("parse c2b callback: missing TransID")
	}

	amount, _ := strconv.ParseFloat(env.TransAmount, 64)
	return &C2BPayment{
		TransactionType:   env.TransactionType,
		TransactionID:     env.TransID,
		TransactionTime:   env.TransTime,
		Amount:            amount,
		BusinessShortCode: env.BusinessShortCode,
		BillRefNumber:     env.BillRefNumber,
		MSISDN:            env.MSISDN,
		InvoiceNumber:     env.InvoiceNumber,
		FirstName:         env.FirstName,
		MiddleName:        env.MiddleName,
		LastName:          env.LastName,
	}, nil
}

// ParseB2C extracts the typed result from a B2C result body.
func ParseB2C(raw []byte) (*B2CResult, error) {
	env, err := parseResult(raw, "b2c")
	if err != nil {
		return nil, err
	}
	result := &B2CResult{
		IsSuccess:                env.Result.ResultCode == 0,
		ResultCode:               env.Result.ResultCode,
		ResultDesc:               env.Result.ResultDesc,
		ConversationID:           env.Result.ConversationID,
		OriginatorConversationID: env.Result.OriginatorConversationID,
	}
	if env.Result.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(env.Result.ResultCode)
		return result, nil
	}
	for _, p := range env.params() {
		switch p.name() {
		case "TransactionReceipt":
			result.TransactionID = asString(p.Value)
		case "TransactionAmount":
			result.Amount = asFloat(p.Value)
		case "ReceiverPartyPublicName":
			result.RecipientPhone = asString(p.Value)
		case "B2CChargesPaidAccountAvailableFunds":
			result.Charges = asFloat(p.Value)
		}
	}
	return result, nil
}

// ParseB2B extracts the typed result from a B2B result body.
func ParseB2B(raw []byte) (*B2BResult, error) {
	env, err := parseResult(raw, "b2b")
	if err != nil {
		return nil, err
	}
	result := &B2BResult{
		IsSuccess:                env.Result.ResultCode == 0,
		ResultCode:               env.Result.ResultCode,
		ResultDesc:               env.Result.ResultDesc,
		ConversationID:           env.Result.ConversationID,
		OriginatorConversationID: env.Result.OriginatorConversationID,
	}
	if env.Result.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(env.Result.ResultCode)
		return result, nil
	}
	for _, p := range env.params() {
		switch p.name() {
		case "TransactionReceipt":
			result.TransactionID = asString(p.Value)
		case "TransactionAmount":
			result.Amount = asFloat(p.Value)
		}
	}
	return result, nil
}

// ParseBalance extracts the typed result from an account balance body.
func ParseBalance(raw []byte) (*BalanceResult, error) {
	env, err := parseResult(raw, "balance")
	if err != nil {
		return nil, err
	}
	result := &BalanceResult{
		IsSuccess:                env.Result.ResultCode == 0,
		ResultCode:               env.Result.ResultCode,
		ResultDesc:               env.Result.ResultDesc,
		ConversationID:           env.Result.ConversationID,
		OriginatorConversationID: env.Result.OriginatorConversationID,
	}
	if env.Result.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(env.Result.ResultCode)
		return result, nil
	}
	for _, p := range env.params() {
		switch p.name() {
		case "WorkingAccountAvailableFunds":
			result.WorkingBalance = asFloat(p.Value)
		case "AvailableBalance":
			result.AvailableBalance = asFloat(p.Value)
		case "BookedBalance":
			result.BookedBalance = asFloat(p.Value)
		}
	}
	return result, nil
}

// ParseTransactionStatus extracts the typed result from a transaction
// status body.
func ParseTransactionStatus(raw []byte) (*TransactionStatusResult, error) {
	env, err := parseResult(raw, "status")
	if err != nil {
		return nil, err
	}
	result := &TransactionStatusResult{
		IsSuccess:                env.Result.ResultCode == 0,
		ResultCode:               env.Result.ResultCode,
		ResultDesc:               env.Result.ResultDesc,
		ConversationID:           env.Result.ConversationID,
		OriginatorConversationID: env.Result.OriginatorConversationID,
	}
	if env.Result.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(env.Result.ResultCode)
		return result, nil
	}
	for _, p := range env.params() {
		switch p.name() {
		case "ReceiptNo":
			result.ReceiptNo = asString(p.Value)
		case "TransactionAmount":
			result.Amount = asFloat(p.Value)
		case "TransCompletedTime":
			result.CompletedTime = asString(p.Value)
		}
	}
	return result, nil
}

// ParseReversal extracts the typed result from a reversal body.
func ParseReversal(raw []byte) (*ReversalResult, error) {
	env, err := parseResult(raw, "reversal")
	if err != nil {
		return nil, err
	}
	result := &ReversalResult{
		IsSuccess:                env.Result.ResultCode == 0,
		ResultCode:               env.Result.ResultCode,
		ResultDesc:               env.Result.ResultDesc,
		ConversationID:           env.Result.ConversationID,
		OriginatorConversationID: env.Result.OriginatorConversationID,
		TransactionID:            env.Result.TransactionID,
	}
	if env.Result.ResultCode != 0 {
		result.ErrorMessage = ErrorMessage(env.Result.ResultCode)
	}
	return result, nil
}

func parseResult(raw []byte, kind string) (*resultEnvelope, error) {
	var env resultEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("parse %s callback: %w", kind, err)
	}
	if env.Result.ConversationID == "" && env.Result.OriginatorConversationID == "" {
		return nil, fmt.Errorf("parse %s callback: missing Result", kind)
	}
	return &env, nil
}

// formatTransactionDate reformats the gateway's YYYYMMDDHHMMSS stamp to
// YYYY-MM-DDTHH:MM:SS. Shorter values pass through untouched.
func formatTransactionDate(s string) string {
	if len(s) < 14 {
		return s
	}
	return fmt.Sprintf("%s-%s-%sT%s:%s:%s", s[0:4], s[4:6], s[6:8], s[8:10], s[10:12], s[12:14])
}

// asFloat coerces a metadata value to float64. String-typed amounts are
// parsed; anything else yields zero.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	default:
		return 0
	}
}

// asString renders a metadata value in its string form. Numeric receipt
// and phone values are formatted without an exponent.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
