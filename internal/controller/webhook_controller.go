package controller

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/cassiomorais/daraja/internal/callback"
	"github.com/rs/zerolog"
)

// maxCallbackBodySize bounds inbound callback payloads.
const maxCallbackBodySize = 1 << 20

// WebhookController receives gateway callbacks. Every endpoint answers
// 200 with a gateway-shaped acknowledgment; rejections and processing
// failures surface only in the ack body and the logs, never as HTTP
// errors, because the gateway retries anything else.
type WebhookController struct {
	handler *callback.Handler
	logger  zerolog.Logger
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(handler *callback.Handler, logger zerolog.Logger) *WebhookController {
	return &WebhookController{handler: handler, logger: logger}
}

// STK handles POST /webhooks/mpesa/stk
func (h *WebhookController) STK(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleSTK)
}

// C2BValidation handles POST /webhooks/mpesa/c2b/validation
func (h *WebhookController) C2BValidation(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleC2BValidation)
}

// C2BConfirmation handles POST /webhooks/mpesa/c2b/confirmation
func (h *WebhookController) C2BConfirmation(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleC2BConfirmation)
}

// B2C handles POST /webhooks/mpesa/b2c
func (h *WebhookController) B2C(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleB2C)
}

// B2B handles POST /webhooks/mpesa/b2b
func (h *WebhookController) B2B(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleB2B)
}

// Balance handles POST /webhooks/mpesa/balance
func (h *WebhookController) Balance(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleBalance)
}

// TransactionStatus handles POST /webhooks/mpesa/status
func (h *WebhookController) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleTransactionStatus)
}

// Reversal handles POST /webhooks/mpesa/reversal
func (h *WebhookController) Reversal(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.handler.HandleReversal)
}

func (h *WebhookController) serve(
	w http.ResponseWriter,
	r *http.Request,
	handle func(ctx context.Context, raw []byte, sourceIP string) (callback.Ack, error),
) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBodySize))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read callback body")
		writeJSON(w, http.StatusOK, callback.Ack{ResultCode: 1, ResultDesc: "Internal Error"})
		return
	}

	ack, err := handle(r.Context(), raw, sourceIP(r))
	if err != nil {
		h.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("callback not processed")
	}
	writeJSON(w, http.StatusOK, ack)
}

// sourceIP extracts the peer address; the RealIP middleware has already
// resolved forwarding headers into RemoteAddr.
func sourceIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
