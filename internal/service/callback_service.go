package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/cassiomorais/daraja/internal/callback"
	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/rs/zerolog"
)

// CallbackPublisher appends parsed callback outcomes to the settlement
// stream.
type CallbackPublisher interface {
	PublishCallback(ctx context.Context, kind, key string, outcome any) error
}

// DedupeStore remembers processed callback keys.
type DedupeStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// CallbackService connects the callback engine to the settlement
// pipeline: inbound callbacks are deduplicated, published to the stream
// and acknowledged immediately; the worker later calls Settle to update
// the transaction rows.
type CallbackService struct {
	transactions transaction.Repository
	txm          TransactionManager
	publisher    CallbackPublisher
	dedupe       DedupeStore
	logger       zerolog.Logger
}

// NewCallbackService creates a new CallbackService.
func NewCallbackService(
	transactions transaction.Repository,
	txm TransactionManager,
	publisher CallbackPublisher,
	dedupe DedupeStore,
	logger zerolog.Logger,
) *CallbackService {
	return &CallbackService{
		transactions: transactions,
		txm:          txm,
		publisher:    publisher,
		dedupe:       dedupe,
		logger:       logger,
	}
}

// Handler builds the callback engine wired into the settlement pipeline.
// Extra options (allow-list overrides, metrics) are applied on top.
func (s *CallbackService) Handler(opts ...callback.Option) (*callback.Handler, error) {
	base := []callback.Option{
		callback.WithLogger(s.logger),
		callback.WithDuplicateCheck(s.dedupe.Seen),
		callback.OnSuccess(func(ctx context.Context, r *callback.STKResult) error {
			return s.publishSTK(ctx, r)
		}),
		callback.OnFailure(func(ctx context.Context, r *callback.STKResult) error {
			return s.publishSTK(ctx, r)
		}),
		callback.OnC2BConfirmation(func(ctx context.Context, p *callback.C2BPayment) error {
			return s.publisher.PublishCallback(ctx, "c2b", p.TransactionID, p)
		}),
		callback.OnB2CResult(func(ctx context.Context, r *callback.B2CResult) error {
			return s.publisher.PublishCallback(ctx, "b2c", r.ConversationID, r)
		}),
		callback.OnB2BResult(func(ctx context.Context, r *callback.B2BResult) error {
			return s.publisher.PublishCallback(ctx, "b2b", r.ConversationID, r)
		}),
		callback.OnBalanceResult(func(ctx context.Context, r *callback.BalanceResult) error {
			return s.publisher.PublishCallback(ctx, "balance", r.ConversationID, r)
		}),
		callback.OnTransactionStatusResult(func(ctx context.Context, r *callback.TransactionStatusResult) error {
			return s.publisher.PublishCallback(ctx, "status", r.ConversationID, r)
		}),
		callback.OnReversalResult(func(ctx context.Context, r *callback.ReversalResult) error {
			return s.publisher.PublishCallback(ctx, "reversal", r.ConversationID, r)
		}),
	}
	return callback.New(append(base, opts...)...)
}

// publishSTK forwards an STK outcome to the stream. The dedupe marker
// was claimed during the duplicate check, so a failed publish releases
// it to let the gateway's redelivery through.
func (s *CallbackService) publishSTK(ctx context.Context, r *callback.STKResult) error {
	if err := s.publisher.PublishCallback(ctx, "stk", r.CheckoutRequestID, r); err != nil {
		if ferr := s.dedupe.Forget(ctx, r.CheckoutRequestID); ferr != nil {
			s.logger.Error().Err(ferr).Str("checkout_request_id", r.CheckoutRequestID).
				Msg("failed to release dedupe marker")
		}
		return err
	}
	return nil
}

// Settle applies one streamed callback outcome to its transaction row.
// Unknown transactions are not an error for gateway-initiated callbacks
// (C2B), but are for result callbacks, which always follow a request
// this service initiated.
func (s *CallbackService) Settle(ctx context.Context, kind, key string, payload []byte) error {
	switch kind {
	case "stk":
		return s.settleSTK(ctx, payload)
	case "c2b":
		return s.settleC2B(ctx, payload)
	case "b2c", "b2b", "balance", "status":
		return s.settleResult(ctx, kind, payload)
	case "reversal":
		return s.settleReversal(ctx, payload)
	default:
		return fmt.Errorf("unknown callback kind %q", kind)
	}
}

func (s *CallbackService) settleSTK(ctx context.Context, payload []byte) error {
	var r callback.STKResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("unmarshal stk outcome: %w", err)
	}

	txn, err := s.transactions.GetByCheckoutRequestID(ctx, r.CheckoutRequestID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", r.CheckoutRequestID, err)
	}

	if r.IsSuccess {
		var receipt *string
		if r.MpesaReceiptNumber != "" {
			receipt = &r.MpesaReceiptNumber
		}
		if err := txn.MarkCompleted(receipt, r.ResultCode, r.ResultDescription); err != nil {
			return err
		}
	} else {
		if err := txn.MarkFailed(r.ResultCode, r.ErrorMessage); err != nil {
			return err
		}
	}

	return s.transactions.Update(ctx, txn)
}

// settleC2B records a customer-initiated payment. There is no pending
// row to reconcile, so a completed transaction is created directly.
func (s *CallbackService) settleC2B(ctx context.Context, payload []byte) error {
	var p callback.C2BPayment
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("unmarshal c2b outcome: %w", err)
	}

	phone := p.MSISDN
	txn, err := transaction.New(transaction.OpC2B, &phone, transaction.Amount{
		ValueCents: int64(math.Round(p.Amount * 100)),
		Currency:   "KES",
	})
	if err != nil {
		return err
	}
	receipt := p.TransactionID
	if err := txn.MarkCompleted(&receipt, 0, "C2B payment received"); err != nil {
		return err
	}
	txn.Metadata["bill_ref_number"] = p.BillRefNumber
	txn.Metadata["first_name"] = p.FirstName

	err = s.transactions.Create(ctx, txn)
	if errors.Is(err, domainErrors.ErrDuplicateTransaction) {
		// Redelivered confirmation that slipped past the dedupe store.
		s.logger.Warn().Str("transaction_id", p.TransactionID).Msg("c2b payment already recorded")
		return nil
	}
	return err
}

// resultOutcome is the shared shape of the result-style outcomes.
type resultOutcome struct {
	ConversationID string `json:"conversation_id"`
	ResultCode     int    `json:"result_code"`
	ResultDesc     string `json:"result_desc"`
	IsSuccess      bool   `json:"is_success"`
	ReceiptNumber  string `json:"transaction_id"`
	ErrorMessage   string `json:"error_message"`
}

func (s *CallbackService) settleResult(ctx context.Context, kind string, payload []byte) error {
	var r resultOutcome
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("unmarshal %s outcome: %w", kind, err)
	}

	txn, err := s.transactions.GetByConversationID(ctx, r.ConversationID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", r.ConversationID, err)
	}

	if r.IsSuccess {
		var receipt *string
		if r.ReceiptNumber != "" {
			receipt = &r.ReceiptNumber
		}
		if err := txn.MarkCompleted(receipt, r.ResultCode, r.ResultDesc); err != nil {
			return err
		}
		s.stashResultDetails(txn, kind, payload)
	} else {
		desc := r.ErrorMessage
		if desc == "" {
			desc = r.ResultDesc
		}
		if err := txn.MarkFailed(r.ResultCode, desc); err != nil {
			return err
		}
	}

	return s.transactions.Update(ctx, txn)
}

// stashResultDetails keeps the informational payloads (balances, status
// parameters) on the transaction row.
func (s *CallbackService) stashResultDetails(txn *transaction.Transaction, kind string, payload []byte) {
	if kind != "balance" && kind != "status" {
		return
	}
	var details map[string]any
	if err := json.Unmarshal(payload, &details); err != nil {
		return
	}
	txn.Metadata[kind+"_result"] = details
}

func (s *CallbackService) settleReversal(ctx context.Context, payload []byte) error {
	var r callback.ReversalResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return fmt.Errorf("unmarshal reversal outcome: %w", err)
	}

	txn, err := s.transactions.GetByConversationID(ctx, r.ConversationID)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", r.ConversationID, err)
	}

	if r.IsSuccess {
		if err := txn.MarkCompleted(nil, r.ResultCode, r.ResultDesc); err != nil {
			return err
		}
	} else {
		if err := txn.MarkFailed(r.ResultCode, r.ErrorMessage); err != nil {
			return err
		}
	}

	// Completing the reversal and flipping the original row must land
	// together, otherwise a crash between the two leaves a reversed
	// payment still showing as completed.
	return s.txm.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.transactions.Update(ctx, txn); err != nil {
			return err
		}
		if r.IsSuccess {
			if id, ok := txn.Metadata["reversed_transaction_id"].(string); ok && id != "" {
				return s.markOriginalReversed(ctx, id)
			}
		}
		return nil
	})
}

// markOriginalReversed flips the reversed payment's row. An original
// that is untracked or not in a reversible state is logged and skipped;
// the gateway already executed the reversal either way.
func (s *CallbackService) markOriginalReversed(ctx context.Context, mpesaReceipt string) error {
	original, err := s.transactions.GetByMpesaReceipt(ctx, mpesaReceipt)
	if err != nil {
		if errors.Is(err, domainErrors.ErrTransactionNotFound) {
			s.logger.Warn().Str("mpesa_receipt", mpesaReceipt).
				Msg("reversed transaction is not tracked")
			return nil
		}
		return fmt.Errorf("load reversed transaction %s: %w", mpesaReceipt, err)
	}
	if err := original.MarkReversed(); err != nil {
		s.logger.Warn().Err(err).Str("mpesa_receipt", mpesaReceipt).
			Msg("original transaction not in a reversible state")
		return nil
	}
	return s.transactions.Update(ctx, original)
}
