package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/httpx"
	"github.com/plateful/api/internal/services"
)

const maxPaymentMethodBodySize = 8 * 1024

type createPaymentMethodRequest struct {
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id"`
	Type      string `json:"type"`
	Provider  string `json:"provider"`
	Last4     string `json:"last4"`
	IsDefault bool   `json:"is_default"`
}

type updatePaymentMethodRequest struct {
	IsDefault *bool `json:"is_default"`
}

// PaymentMethodHandlers exposes tenant payment-method administration.
type PaymentMethodHandlers struct {
	requireAuth func(http.Handler) http.Handler
	methods     services.PaymentMethodService
}

// NewPaymentMethodHandlers constructs a new PaymentMethodHandlers instance.
func NewPaymentMethodHandlers(requireAuth func(http.Handler) http.Handler, methods services.PaymentMethodService) *PaymentMethodHandlers {
	return &PaymentMethodHandlers{
		requireAuth: requireAuth,
		methods:     methods,
	}
}

// Routes registers the /payment-methods endpoints.
func (h *PaymentMethodHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.requireAuth != nil {
		r.Use(h.requireAuth)
	}
	r.Post("/", h.createMethod)
	r.Get("/", h.listMethods)
	r.Get("/{methodID}", h.getMethod)
	r.Patch("/{methodID}", h.updateMethod)
	r.Delete("/{methodID}", h.deleteMethod)
}

func (h *PaymentMethodHandlers) createMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req createPaymentMethodRequest
	if err := decodeBody(r, maxPaymentMethodBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	method, err := h.methods.Create(ctx, services.CreatePaymentMethodCommand{
		Caller:    identity,
		TenantID:  req.TenantID,
		UserID:    req.UserID,
		Type:      domain.PaymentMethodType(strings.ToLower(strings.TrimSpace(req.Type))),
		Provider:  domain.PaymentProvider(strings.ToLower(strings.TrimSpace(req.Provider))),
		Last4:     strings.TrimSpace(req.Last4),
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentMethodResponse{PaymentMethod: buildPaymentMethodPayload(method)})
}

func (h *PaymentMethodHandlers) listMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := services.PaymentMethodFilter{
		TenantID: strings.TrimSpace(query.Get("tenant_id")),
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("type"))); raw != "" {
		switch methodType := domain.PaymentMethodType(raw); methodType {
		case domain.PaymentMethodTypeCreditCard, domain.PaymentMethodTypeDebitCard, domain.PaymentMethodTypeWallet:
			filter.Type = &methodType
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "type filter contains an unknown method type", http.StatusBadRequest))
			return
		}
	}

	methods, err := h.methods.List(ctx, identity, filter)
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	items := make([]paymentMethodPayload, 0, len(methods))
	for _, method := range methods {
		items = append(items, buildPaymentMethodPayload(method))
	}

	writeJSONResponse(w, http.StatusOK, paymentMethodListResponse{Items: items})
}

func (h *PaymentMethodHandlers) getMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	methodID := strings.TrimSpace(chi.URLParam(r, "methodID"))
	if methodID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment method id is required", http.StatusBadRequest))
		return
	}

	method, err := h.methods.Get(ctx, identity, methodID)
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentMethodResponse{PaymentMethod: buildPaymentMethodPayload(method)})
}

func (h *PaymentMethodHandlers) updateMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	methodID := strings.TrimSpace(chi.URLParam(r, "methodID"))
	if methodID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment method id is required", http.StatusBadRequest))
		return
	}

	var req updatePaymentMethodRequest
	if err := decodeBody(r, maxPaymentMethodBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	method, err := h.methods.Update(ctx, services.UpdatePaymentMethodCommand{
		Caller:    identity,
		MethodID:  methodID,
		IsDefault: req.IsDefault,
	})
	if err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentMethodResponse{PaymentMethod: buildPaymentMethodPayload(method)})
}

func (h *PaymentMethodHandlers) deleteMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	methodID := strings.TrimSpace(chi.URLParam(r, "methodID"))
	if methodID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment method id is required", http.StatusBadRequest))
		return
	}

	if err := h.methods.Delete(ctx, services.DeletePaymentMethodCommand{
		Caller:   identity,
		MethodID: methodID,
	}); err != nil {
		writePaymentMethodError(ctx, w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writePaymentMethodError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeAccessError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentMethodInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentMethodNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_found", "payment method not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentMethodConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_error", "failed to process payment method request", http.StatusInternalServerError))
	}
}

type paymentMethodListResponse struct {
	Items []paymentMethodPayload `json:"items"`
}

type paymentMethodResponse struct {
	PaymentMethod paymentMethodPayload `json:"payment_method"`
}

type paymentMethodPayload struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	UserID    string `json:"user_id,omitempty"`
	Type      string `json:"type"`
	Provider  string `json:"provider"`
	Last4     string `json:"last4"`
	IsDefault bool   `json:"is_default"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func buildPaymentMethodPayload(method services.PaymentMethod) paymentMethodPayload {
	return paymentMethodPayload{
		ID:        method.ID,
		TenantID:  method.TenantID,
		UserID:    method.UserID,
		Type:      string(method.Type),
		Provider:  string(method.Provider),
		Last4:     method.Last4,
		IsDefault: method.IsDefault,
		CreatedAt: formatTime(method.CreatedAt),
		UpdatedAt: formatTime(method.UpdatedAt),
	}
}
