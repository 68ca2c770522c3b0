package testutil

import (
	"fmt"
	"time"

	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/google/uuid"
)

// TrustedIP is a Safaricom callback source address accepted by the
// default allow list.
const TrustedIP = "196.201.214.200"

func NewTestTransaction(op transaction.Operation, phone string, amountCents int64) *transaction.Transaction {
	now := time.Now()
	var phonePtr *string
	if phone != "" {
		phonePtr = &phone
	}
	return &transaction.Transaction{
		ID:        uuid.New(),
		Operation: op,
		Status:    transaction.StatusPending,
		Phone:     phonePtr,
		Amount:    transaction.Amount{ValueCents: amountCents, Currency: "KES"},
		Metadata:  make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewSTKTransaction returns a pending STK transaction with correlation
// identifiers set, ready to be settled by a callback.
func NewSTKTransaction(merchantRequestID, checkoutRequestID string) *transaction.Transaction {
	txn := NewTestTransaction(transaction.OpSTKPush, "254712345678", 10_00)
	txn.SetSTKCorrelation(merchantRequestID, checkoutRequestID)
	return txn
}

// NewResultTransaction returns a pending transaction with gateway
// conversation identifiers set.
func NewResultTransaction(op transaction.Operation, conversationID string) *transaction.Transaction {
	txn := NewTestTransaction(op, "254712345678", 10_00)
	txn.SetConversation(conversationID, "AG_"+conversationID)
	return txn
}

func StrPtr(s string) *string { return &s }

// --- Callback payloads ---

// STKSuccessCallback builds a successful STK callback body in the
// gateway's envelope format.
func STKSuccessCallback(merchantRequestID, checkoutRequestID, receipt string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": %q,
				"CheckoutRequestID": %q,
				"ResultCode": 0,
				"ResultDesc": "The service request is processed successfully.",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": 10.00},
						{"Name": "MpesaReceiptNumber", "Value": %q},
						{"Name": "TransactionDate", "Value": 20260115103045},
						{"Name": "PhoneNumber", "Value": 254712345678}
					]
				}
			}
		}
	}`, merchantRequestID, checkoutRequestID, receipt))
}

// STKFailureCallback builds a failed STK callback body with the given
// result code.
func STKFailureCallback(merchantRequestID, checkoutRequestID string, resultCode int, resultDesc string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"MerchantRequestID": %q,
				"CheckoutRequestID": %q,
				"ResultCode": %d,
				"ResultDesc": %q
			}
		}
	}`, merchantRequestID, checkoutRequestID, resultCode, resultDesc))
}

// C2BCallback builds a C2B confirmation (or validation) body.
func C2BCallback(transactionID, billRef string) []byte {
	return []byte(fmt.Sprintf(`{
		"TransactionType": "Pay Bill",
		"TransID": %q,
		"TransTime": "20260115104512",
		"TransAmount": "150.00",
		"BusinessShortCode": "600998",
		"BillRefNumber": %q,
		"MSISDN": "254712345678",
		"FirstName": "JOHN"
	}`, transactionID, billRef))
}

// ResultCallback builds a result-style body (B2C, B2B, balance, status,
// reversal) with the given result code.
func ResultCallback(conversationID string, resultCode int, resultDesc string) []byte {
	return []byte(fmt.Sprintf(`{
		"Result": {
			"ResultType": 0,
			"ResultCode": %d,
			"ResultDesc": %q,
			"OriginatorConversationID": "AG_%s",
			"ConversationID": %q,
			"TransactionID": "NLJ41HAY6Q"
		}
	}`, resultCode, resultDesc, conversationID, conversationID))
}
