package controller

import (
	"net/http"
	"strconv"

	"github.com/cassiomorais/daraja/internal/domain/transaction"
	"github.com/cassiomorais/daraja/internal/mpesa"
	"github.com/cassiomorais/daraja/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// GatewayController handles gateway operation HTTP requests.
type GatewayController struct {
	gatewayService *service.GatewayService
}

// NewGatewayController creates a new GatewayController.
func NewGatewayController(gatewayService *service.GatewayService) *GatewayController {
	return &GatewayController{gatewayService: gatewayService}
}

// STKPush handles POST /api/v1/stk/push
func (h *GatewayController) STKPush(w http.ResponseWriter, r *http.Request) {
	var req STKPushRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.InitiateSTKPush(r.Context(), service.InitiateSTKPushRequest{
		AmountCents:      floatToCents(req.Amount),
		PhoneNumber:      req.PhoneNumber,
		AccountReference: req.AccountReference,
		TransactionDesc:  req.TransactionDesc,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(resp.Transaction),
		Gateway:     resp.Gateway,
	})
}

// STKQuery handles POST /api/v1/stk/query
func (h *GatewayController) STKQuery(w http.ResponseWriter, r *http.Request) {
	var req STKQueryRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.QuerySTK(r.Context(), req.CheckoutRequestID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterC2B handles POST /api/v1/c2b/register
func (h *GatewayController) RegisterC2B(w http.ResponseWriter, r *http.Request) {
	var req C2BRegisterRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.RegisterC2B(r.Context(), mpesa.C2BRegisterRequest{
		ShortCode:       req.ShortCode,
		ResponseType:    req.ResponseType,
		ConfirmationURL: req.ConfirmationURL,
		ValidationURL:   req.ValidationURL,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// B2C handles POST /api/v1/b2c
func (h *GatewayController) B2C(w http.ResponseWriter, r *http.Request) {
	var req B2CRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.InitiateB2C(r.Context(), service.InitiateB2CRequest{
		AmountCents: floatToCents(req.Amount),
		PhoneNumber: req.PhoneNumber,
		CommandID:   mpesa.B2CCommandID(req.CommandID),
		Remarks:     req.Remarks,
		Occasion:    req.Occasion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(resp.Transaction),
		Gateway:     resp.Gateway,
	})
}

// B2B handles POST /api/v1/b2b
func (h *GatewayController) B2B(w http.ResponseWriter, r *http.Request) {
	var req B2BRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.InitiateB2B(r.Context(), service.InitiateB2BRequest{
		AmountCents:      floatToCents(req.Amount),
		PartyB:           req.PartyB,
		CommandID:        mpesa.B2BCommandID(req.CommandID),
		AccountReference: req.AccountReference,
		Remarks:          req.Remarks,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(resp.Transaction),
		Gateway:     resp.Gateway,
	})
}

// Balance handles POST /api/v1/balance
func (h *GatewayController) Balance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	txn, resp, err := h.gatewayService.QueryBalance(r.Context(), req.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(txn),
		Gateway:     resp,
	})
}

// TransactionStatus handles POST /api/v1/transactions/status
func (h *GatewayController) TransactionStatus(w http.ResponseWriter, r *http.Request) {
	var req TransactionStatusRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	txn, resp, err := h.gatewayService.QueryTransactionStatus(r.Context(), req.TransactionID, req.Remarks)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(txn),
		Gateway:     resp,
	})
}

// Reversal handles POST /api/v1/reversal
func (h *GatewayController) Reversal(w http.ResponseWriter, r *http.Request) {
	var req ReversalRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.InitiateReversal(r.Context(), service.InitiateReversalRequest{
		TransactionID: req.TransactionID,
		AmountCents:   floatToCents(req.Amount),
		Remarks:       req.Remarks,
		Occasion:      req.Occasion,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, InitiatedResponse{
		Transaction: FromTransaction(resp.Transaction),
		Gateway:     resp.Gateway,
	})
}

// DynamicQR handles POST /api/v1/qr
func (h *GatewayController) DynamicQR(w http.ResponseWriter, r *http.Request) {
	var req DynamicQRRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, err)
		return
	}

	resp, err := h.gatewayService.GenerateQR(r.Context(), mpesa.DynamicQRRequest{
		MerchantName:          req.MerchantName,
		RefNo:                 req.RefNo,
		Amount:                req.Amount,
		TrxCode:               mpesa.QRTrxCode(req.TrxCode),
		CreditPartyIdentifier: req.CreditPartyIdentifier,
		Size:                  req.Size,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction handles GET /api/v1/transactions/{id}
func (h *GatewayController) GetTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid transaction id", Code: "invalid_id"})
		return
	}

	txn, err := h.gatewayService.GetTransaction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FromTransaction(txn))
}

// ListTransactions handles GET /api/v1/transactions
func (h *GatewayController) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter := transaction.ListFilter{}

	if s := r.URL.Query().Get("status"); s != "" {
		status := transaction.Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("operation"); s != "" {
		op := transaction.Operation(s)
		filter.Operation = &op
	}
	if s := r.URL.Query().Get("phone"); s != "" {
		filter.Phone = &s
	}
	filter.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	filter.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	filter.SortBy = r.URL.Query().Get("sort_by")
	filter.SortOrder = r.URL.Query().Get("sort_order")

	transactions, err := h.gatewayService.ListTransactions(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := make([]*TransactionResponse, 0, len(transactions))
	for _, t := range transactions {
		resp = append(resp, FromTransaction(t))
	}
	writeJSON(w, http.StatusOK, resp)
}
