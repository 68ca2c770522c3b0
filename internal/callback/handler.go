// Package callback reconciles asynchronous gateway callbacks with the
// requests that triggered them: it authenticates the caller by source
// IP, classifies the payload into a typed outcome, rejects duplicate
// deliveries and dispatches to registered handlers. Every inbound
// callback yields a valid acknowledgment regardless of internal failure,
// because the gateway retries anything else.
package callback

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/daraja/internal/domain/errors"
	"github.com/cassiomorais/daraja/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// SafaricomIPs is the gateway's published set of callback egress
// addresses, used as the default allow-list.
var SafaricomIPs = []string{
	"196.201.214.200",
	"196.201.214.206",
	"196.201.213.114",
	"196.201.214.207",
	"196.201.214.208",
	"196.201.213.44",
	"196.201.212.127",
	"196.201.212.138",
	"196.201.212.129",
	"196.201.212.136",
	"196.201.212.74",
	"196.201.212.69",
}

// Ack is the fixed acknowledgment shape the gateway expects. ResultCode
// 0 acknowledges the delivery, 1 rejects it; the HTTP status is always
// 200 either way.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func ackSuccess() Ack            { return Ack{ResultCode: 0, ResultDesc: "Accepted"} }
func ackFailure(desc string) Ack { return Ack{ResultCode: 1, ResultDesc: desc} }

// DuplicateFunc reports whether the given idempotency key has already
// been processed.
type DuplicateFunc func(ctx context.Context, key string) (bool, error)

// Handler reconciles inbound callbacks. Construct with New; zero value
// is not usable.
type Handler struct {
	validateIP bool
	allowedIPs map[string]struct{}

	isDuplicate DuplicateFunc

	onReceived        func(ctx context.Context, r *STKResult) error
	onSuccess         func(ctx context.Context, r *STKResult) error
	onFailure         func(ctx context.Context, r *STKResult) error
	onC2BValidation   func(ctx context.Context, p *C2BPayment) (bool, error)
	onC2BConfirmation func(ctx context.Context, p *C2BPayment) error
	onB2CResult       func(ctx context.Context, r *B2CResult) error
	onB2BResult       func(ctx context.Context, r *B2BResult) error
	onBalanceResult   func(ctx context.Context, r *BalanceResult) error
	onStatusResult    func(ctx context.Context, r *TransactionStatusResult) error
	onReversalResult  func(ctx context.Context, r *ReversalResult) error

	logger  zerolog.Logger
	metrics *observability.Metrics
}

// Option customizes a Handler.
type Option func(*Handler)

// WithAllowedIPs replaces the default Safaricom allow-list.
func WithAllowedIPs(ips []string) Option {
	return func(h *Handler) {
		h.allowedIPs = make(map[string]struct{}, len(ips))
		for _, ip := range ips {
			h.allowedIPs[ip] = struct{}{}
		}
	}
}

// WithoutIPValidation disables the source-address trust check entirely.
// Every caller, Safaricom or not, is then trusted; only use this behind
// infrastructure that enforces origin some other way.
func WithoutIPValidation() Option {
	return func(h *Handler) { h.validateIP = false }
}

// WithDuplicateCheck installs the idempotency predicate consulted for
// STK callbacks. A key reported as duplicate produces zero dispatches
// and a success acknowledgment.
func WithDuplicateCheck(fn DuplicateFunc) Option {
	return func(h *Handler) { h.isDuplicate = fn }
}

// OnReceived registers a handler invoked for every STK callback before
// the success/failure-specific handler.
func OnReceived(fn func(ctx context.Context, r *STKResult) error) Option {
	return func(h *Handler) { h.onReceived = fn }
}

// OnSuccess registers the handler for successful STK callbacks.
func OnSuccess(fn func(ctx context.Context, r *STKResult) error) Option {
	return func(h *Handler) { h.onSuccess = fn }
}

// OnFailure registers the handler for failed STK callbacks.
func OnFailure(fn func(ctx context.Context, r *STKResult) error) Option {
	return func(h *Handler) { h.onFailure = fn }
}

// OnC2BValidation registers the accept/reject decision for C2B
// validation requests. Without one every payment is accepted.
func OnC2BValidation(fn func(ctx context.Context, p *C2BPayment) (bool, error)) Option {
	return func(h *Handler) { h.onC2BValidation = fn }
}

// OnC2BConfirmation registers the handler for confirmed C2B payments.
func OnC2BConfirmation(fn func(ctx context.Context, p *C2BPayment) error) Option {
	return func(h *Handler) { h.onC2BConfirmation = fn }
}

// OnB2CResult registers the handler for B2C results, success or failure.
func OnB2CResult(fn func(ctx context.Context, r *B2CResult) error) Option {
	return func(h *Handler) { h.onB2CResult = fn }
}

// OnB2BResult registers the handler for B2B results.
func OnB2BResult(fn func(ctx context.Context, r *B2BResult) error) Option {
	return func(h *Handler) { h.onB2BResult = fn }
}

// OnBalanceResult registers the handler for balance query results.
func OnBalanceResult(fn func(ctx context.Context, r *BalanceResult) error) Option {
	return func(h *Handler) { h.onBalanceResult = fn }
}

// OnTransactionStatusResult registers the handler for status query results.
func OnTransactionStatusResult(fn func(ctx context.Context, r *TransactionStatusResult) error) Option {
	return func(h *Handler) { h.onStatusResult = fn }
}

// OnReversalResult registers the handler for reversal results.
func OnReversalResult(fn func(ctx context.Context, r *ReversalResult) error) Option {
	return func(h *Handler) { h.onReversalResult = fn }
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Handler) { h.logger = logger }
}

// WithMetrics records callback counts, durations and duplicates.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New builds a callback handler. IP validation defaults to on against
// the Safaricom allow-list; an empty allow-list with validation enabled
// is a configuration error rather than a silent trust-everything.
func New(opts ...Option) (*Handler, error) {
	h := &Handler{
		validateIP: true,
		logger:     zerolog.Nop(),
	}
	WithAllowedIPs(SafaricomIPs)(h)
	for _, o := range opts {
		o(h)
	}
	if h.validateIP && len(h.allowedIPs) == 0 {
		return nil, fmt.Errorf("callback: IP validation enabled with an empty allow-list; use WithoutIPValidation to trust all sources")
	}
	return h, nil
}

// trusted reports whether sourceIP may deliver callbacks. An empty
// source address skips the check, matching deployments where the
// transport strips the peer address.
func (h *Handler) trusted(sourceIP string) bool {
	if !h.validateIP || sourceIP == "" {
		return true
	}
	_, ok := h.allowedIPs[sourceIP]
	return ok
}

// rejectUntrusted is the shared pre-parse refusal: nothing is parsed and
// nothing is dispatched for an untrusted source.
func (h *Handler) rejectUntrusted(kind, sourceIP string) (Ack, error) {
	h.logger.Warn().Str("source_ip", sourceIP).Str("callback", kind).Msg("callback from untrusted source")
	h.count(kind, "untrusted")
	return ackFailure("Rejected"), domainErrors.NewAuth("callback source " + sourceIP + " not in allow-list")
}

// HandleSTK reconciles an STK push callback: trust check, parse,
// duplicate check, dispatch, acknowledge. The returned Ack is always
// valid for the gateway; the error reports the internal root cause for
// logging and is nil on clean processing or a detected duplicate.
func (h *Handler) HandleSTK(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	start := time.Now()
	defer h.observe("stk", start)

	if !h.trusted(sourceIP) {
		return h.rejectUntrusted("stk", sourceIP)
	}

	result, err := ParseSTK(raw)
	if err != nil {
		h.logger.Error().Err(err).Msg("malformed stk callback")
		h.count("stk", "malformed")
		return ackFailure("Internal Error"), err
	}

	h.logger.Info().
		Str("checkout_request_id", result.CheckoutRequestID).
		Int("result_code", result.ResultCode).
		Msg("processing stk callback")

	if h.isDuplicate != nil {
		dupe, err := h.isDuplicate(ctx, result.CheckoutRequestID)
		if err != nil {
			h.logger.Error().Err(err).Str("checkout_request_id", result.CheckoutRequestID).
				Msg("duplicate check failed")
			h.count("stk", "error")
			return ackFailure("Internal Error"), err
		}
		if dupe {
			h.logger.Warn().Str("checkout_request_id", result.CheckoutRequestID).
				Msg("duplicate stk callback ignored")
			h.count("stk", "duplicate")
			if h.metrics != nil {
				h.metrics.DuplicateCallbacks.Inc()
			}
			return ackSuccess(), nil
		}
	}

	if err := h.dispatchSTK(ctx, result); err != nil {
		h.logger.Error().Err(err).Str("checkout_request_id", result.CheckoutRequestID).
			Msg("stk handler failed")
		h.count("stk", "error")
		return ackFailure("Internal Error"), err
	}

	h.count("stk", outcomeLabel(result.IsSuccess))
	return ackSuccess(), nil
}

func (h *Handler) dispatchSTK(ctx context.Context, result *STKResult) (err error) {
	defer recoverToError(&err)

	if h.onReceived != nil {
		if err := h.onReceived(ctx, result); err != nil {
			return err
		}
	}
	switch {
	case result.IsSuccess && h.onSuccess != nil:
		return h.onSuccess(ctx, result)
	case !result.IsSuccess && h.onFailure != nil:
		return h.onFailure(ctx, result)
	}
	return nil
}

// HandleC2BValidation asks the registered handler whether to accept the
// payment. Without a handler every payment is accepted.
func (h *Handler) HandleC2BValidation(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	start := time.Now()
	defer h.observe("c2b_validation", start)

	if !h.trusted(sourceIP) {
		return h.rejectUntrusted("c2b_validation", sourceIP)
	}

	payment, err := ParseC2B(raw)
	if err != nil {
		h.count("c2b_validation", "malformed")
		return ackFailure("Validation Failed"), err
	}

	h.logger.Info().Str("transaction_id", payment.TransactionID).Msg("processing c2b validation")

	accepted, err := h.validateC2B(ctx, payment)
	if err != nil {
		h.logger.Error().Err(err).Str("transaction_id", payment.TransactionID).
			Msg("c2b validation handler failed")
		h.count("c2b_validation", "error")
		return ackFailure("Validation Failed"), err
	}
	if !accepted {
		h.count("c2b_validation", "rejected")
		return ackFailure("Rejected"), nil
	}
	h.count("c2b_validation", "accepted")
	return ackSuccess(), nil
}

func (h *Handler) validateC2B(ctx context.Context, payment *C2BPayment) (accepted bool, err error) {
	defer recoverToError(&err)
	if h.onC2BValidation == nil {
		return true, nil
	}
	return h.onC2BValidation(ctx, payment)
}

// HandleC2BConfirmation dispatches a confirmed customer payment.
func (h *Handler) HandleC2BConfirmation(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	start := time.Now()
	defer h.observe("c2b_confirmation", start)

	if !h.trusted(sourceIP) {
		return h.rejectUntrusted("c2b_confirmation", sourceIP)
	}

	payment, err := ParseC2B(raw)
	if err != nil {
		h.count("c2b_confirmation", "malformed")
		return ackFailure("Processing Failed"), err
	}

	h.logger.Info().Str("transaction_id", payment.TransactionID).Msg("processing c2b confirmation")

	if err := h.confirmC2B(ctx, payment); err != nil {
		h.logger.Error().Err(err).Str("transaction_id", payment.TransactionID).
			Msg("c2b confirmation handler failed")
		h.count("c2b_confirmation", "error")
		return ackFailure("Processing Failed"), err
	}
	h.count("c2b_confirmation", "success")
	return ackSuccess(), nil
}

func (h *Handler) confirmC2B(ctx context.Context, payment *C2BPayment) (err error) {
	defer recoverToError(&err)
	if h.onC2BConfirmation == nil {
		return nil
	}
	return h.onC2BConfirmation(ctx, payment)
}

// HandleB2C reconciles a B2C result callback. The single registered
// handler receives both successes and failures and inspects IsSuccess.
func (h *Handler) HandleB2C(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	return handleResult(h, ctx, raw, sourceIP, "b2c", ParseB2C, h.onB2CResult,
		func(r *B2CResult) bool { return r.IsSuccess })
}

// HandleB2B reconciles a B2B result callback.
func (h *Handler) HandleB2B(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	return handleResult(h, ctx, raw, sourceIP, "b2b", ParseB2B, h.onB2BResult,
		func(r *B2BResult) bool { return r.IsSuccess })
}

// HandleBalance reconciles an account balance result callback.
func (h *Handler) HandleBalance(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	return handleResult(h, ctx, raw, sourceIP, "balance", ParseBalance, h.onBalanceResult,
		func(r *BalanceResult) bool { return r.IsSuccess })
}

// HandleTransactionStatus reconciles a status query result callback.
func (h *Handler) HandleTransactionStatus(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	return handleResult(h, ctx, raw, sourceIP, "status", ParseTransactionStatus, h.onStatusResult,
		func(r *TransactionStatusResult) bool { return r.IsSuccess })
}

// HandleReversal reconciles a reversal result callback.
func (h *Handler) HandleReversal(ctx context.Context, raw []byte, sourceIP string) (Ack, error) {
	return handleResult(h, ctx, raw, sourceIP, "reversal", ParseReversal, h.onReversalResult,
		func(r *ReversalResult) bool { return r.IsSuccess })
}

// handleResult is the shared trust-parse-dispatch-ack pass for the
// result-style callbacks (B2C, B2B, balance, status, reversal).
func handleResult[T any](
	h *Handler,
	ctx context.Context,
	raw []byte,
	sourceIP string,
	kind string,
	parse func([]byte) (*T, error),
	handler func(context.Context, *T) error,
	success func(*T) bool,
) (Ack, error) {
	start := time.Now()
	defer h.observe(kind, start)

	if !h.trusted(sourceIP) {
		return h.rejectUntrusted(kind, sourceIP)
	}

	result, err := parse(raw)
	if err != nil {
		h.logger.Error().Err(err).Str("callback", kind).Msg("malformed result callback")
		h.count(kind, "malformed")
		return ackFailure("Processing Failed"), err
	}

	if err := dispatchResult(ctx, handler, result); err != nil {
		h.logger.Error().Err(err).Str("callback", kind).Msg("result handler failed")
		h.count(kind, "error")
		return ackFailure("Processing Failed"), err
	}

	h.count(kind, outcomeLabel(success(result)))
	return ackSuccess(), nil
}

func dispatchResult[T any](ctx context.Context, handler func(context.Context, *T) error, result *T) (err error) {
	defer recoverToError(&err)
	if handler == nil {
		return nil
	}
	return handler(ctx, result)
}

func (h *Handler) count(kind, outcome string) {
	if h.metrics != nil {
		h.metrics.CallbacksTotal.WithLabelValues(kind, outcome).Inc()
	}
}

func (h *Handler) observe(kind string, start time.Time) {
	if h.metrics != nil {
		h.metrics.CallbackDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// recoverToError converts a handler panic into an error so a buggy
// registered handler still yields a valid acknowledgment.
func recoverToError(err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("callback handler panic: %v", r)
	}
}
