package metering

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vitalog-health/vitalog/internal/api"
	"github.com/vitalog-health/vitalog/internal/ledger"
	"github.com/vitalog-health/vitalog/internal/pricing"
)

// accountHeader carries the caller's account identity. Authentication
// happens upstream; this service trusts the gateway.
const accountHeader = "X-Account-ID"

type Handler struct {
	svc      *Service
	validate *validator.Validate
}

func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

func accountID(r *http.Request) (uuid.UUID, error) {
	raw := r.Header.Get(accountHeader)
	if raw == "" {
		return uuid.Nil, api.ErrMissingAccount
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, api.NewBadRequestError("malformed account id")
	}
	return id, nil
}

type checkRequest struct {
	Feature         string `json:"feature" validate:"required"`
	Endpoint        string `json:"endpoint"`
	DedupKey        string `json:"dedup_key"`
	FixedCents      int64  `json:"fixed_cents" validate:"gte=0"`
	Model           string `json:"model"`
	PromptText      string `json:"prompt_text"`
	MaxOutputTokens int    `json:"max_output_tokens" validate:"gte=0"`
}

type decisionResponse struct {
	Allowed         bool   `json:"allowed"`
	UsedFree        bool   `json:"used_free"`
	SkipCharge      bool   `json:"skip_charge"`
	CappedMaxOutput int    `json:"capped_max_output,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	cost := FixedCost(req.FixedCents)
	if req.Model != "" {
		cost = VariableCost(req.Model, req.PromptText, req.MaxOutputTokens)
	}

	dec, err := h.svc.MeterAction(r.Context(), MeterRequest{
		AccountID: account,
		Feature:   req.Feature,
		Endpoint:  req.Endpoint,
		DedupKey:  req.DedupKey,
		Cost:      cost,
	})
	if err != nil {
		h.handleServiceError(w, "metering check", err)
		return
	}

	resp := decisionResponse{
		Allowed:         dec.Allowed,
		UsedFree:        dec.UsedFree,
		SkipCharge:      dec.SkipCharge,
		CappedMaxOutput: dec.CappedMaxOutput,
		Reason:          string(dec.Reason),
	}
	if !dec.Allowed {
		api.JSON(w, http.StatusPaymentRequired, resp)
		return
	}
	api.JSON(w, http.StatusOK, resp)
}

type settleRequest struct {
	Feature          string `json:"feature" validate:"required"`
	Endpoint         string `json:"endpoint"`
	Model            string `json:"model"`
	DedupKey         string `json:"dedup_key"`
	UsedFree         bool   `json:"used_free"`
	SkipCharge       bool   `json:"skip_charge"`
	PromptTokens     int    `json:"prompt_tokens" validate:"gte=0"`
	CompletionTokens int    `json:"completion_tokens" validate:"gte=0"`
	ActualCostCents  int64  `json:"actual_cost_cents" validate:"gte=0"`
	Success          bool   `json:"success"`
	ErrorMessage     string `json:"error_message"`
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	err = h.svc.SettleAction(r.Context(), SettleRequest{
		AccountID:        account,
		Feature:          req.Feature,
		Endpoint:         req.Endpoint,
		Model:            req.Model,
		DedupKey:         req.DedupKey,
		UsedFree:         req.UsedFree,
		SkipCharge:       req.SkipCharge,
		PromptTokens:     req.PromptTokens,
		CompletionTokens: req.CompletionTokens,
		ActualCostCents:  req.ActualCostCents,
		Success:          req.Success,
		ErrorMessage:     req.ErrorMessage,
	})
	if err != nil {
		h.handleServiceError(w, "metering settle", err)
		return
	}

	api.JSONMessage(w, http.StatusOK, "settled")
}

func (h *Handler) CreditStatus(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	status, err := h.svc.CreditStatus(r.Context(), account)
	if err != nil {
		h.handleServiceError(w, "credit status", err)
		return
	}

	api.JSON(w, http.StatusOK, status)
}

func (h *Handler) UsageBreakdown(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	breakdown, err := h.svc.UsageBreakdown(r.Context(), account)
	if err != nil {
		h.handleServiceError(w, "usage breakdown", err)
		return
	}

	api.JSON(w, http.StatusOK, breakdown)
}

type addTopUpRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// AddTopUp records a purchased credit pool. Payment capture happens in an
// external purchase flow; this endpoint only books the result.
func (h *Handler) AddTopUp(w http.ResponseWriter, r *http.Request) {
	account, err := accountID(r)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	var req addTopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.HandleError(w, api.NewValidationError(err.Error()))
		return
	}

	topUp, err := h.svc.AddTopUp(r.Context(), account, req.AmountCents)
	if err != nil {
		h.handleServiceError(w, "adding top-up", err)
		return
	}

	api.JSON(w, http.StatusCreated, topUp)
}

func (h *Handler) handleServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		api.HandleError(w, api.ErrAccountNotFound)
	case errors.Is(err, pricing.ErrUnknownModel), errors.Is(err, ErrUnknownFeature):
		// Misconfiguration, operator-facing. Alert via log, do not leak.
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	default:
		slog.Error(op, "error", err)
		api.HandleError(w, api.ErrInternalServer)
	}
}
