package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/httpx"
	"github.com/plateful/api/internal/platform/pagination"
	"github.com/plateful/api/internal/services"
)

const maxPaymentBodySize = 8 * 1024

type processPaymentRequest struct {
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id"`
	Amount          int64  `json:"amount"`
}

// PaymentHandlers exposes settlement and payment read endpoints.
type PaymentHandlers struct {
	requireAuth func(http.Handler) http.Handler
	payments    services.PaymentService
	pageOpts    pagination.Options
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(requireAuth func(http.Handler) http.Handler, payments services.PaymentService, pageOpts pagination.Options) *PaymentHandlers {
	return &PaymentHandlers{
		requireAuth: requireAuth,
		payments:    payments,
		pageOpts:    pageOpts,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.requireAuth != nil {
		r.Use(h.requireAuth)
	}
	r.Post("/", h.processPayment)
	r.Get("/", h.listPayments)
	r.Get("/{paymentID}", h.getPayment)
}

func (h *PaymentHandlers) processPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	var req processPaymentRequest
	if err := decodeBody(r, maxPaymentBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	payment, err := h.payments.ProcessPayment(ctx, services.ProcessPaymentCommand{
		Caller:          identity,
		OrderID:         req.OrderID,
		PaymentMethodID: req.PaymentMethodID,
		Amount:          req.Amount,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func (h *PaymentHandlers) listPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	params, err := pagination.Parse(r, h.pageOpts)
	if err != nil {
		if !writePaginationError(ctx, w, err) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return
	}

	query := r.URL.Query()

	var statuses []domain.PaymentStatus
	for _, raw := range parseFilterValues(query["status"]) {
		switch status := domain.PaymentStatus(raw); status {
		case domain.PaymentStatusPending, domain.PaymentStatusCompleted, domain.PaymentStatusFailed:
			statuses = append(statuses, status)
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status filter contains an unknown status", http.StatusBadRequest))
			return
		}
	}

	page, err := h.payments.ListPayments(ctx, identity, services.PaymentListFilter{
		UserID:   strings.TrimSpace(query.Get("user_id")),
		TenantID: strings.TrimSpace(query.Get("tenant_id")),
		Status:   statuses,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	items := make([]paymentPayload, 0, len(page.Items))
	for _, payment := range page.Items {
		items = append(items, buildPaymentPayload(payment))
	}

	writeJSONResponse(w, http.StatusOK, paymentListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *PaymentHandlers) getPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := identityFromRequest(w, r)
	if !ok {
		return
	}

	paymentID := strings.TrimSpace(chi.URLParam(r, "paymentID"))
	if paymentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment id is required", http.StatusBadRequest))
		return
	}

	payment, err := h.payments.GetPayment(ctx, identity, paymentID)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, paymentResponse{Payment: buildPaymentPayload(payment)})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	if writeAccessError(ctx, w, err) {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderAlreadyPaid):
		httpx.WriteError(ctx, w, httpx.NewError("order_already_paid", "order already has a payment", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentAmountMismatch):
		httpx.WriteError(ctx, w, httpx.NewError("amount_mismatch", "payment amount does not match order total", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentMethodNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_method_not_found", "payment method not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

type paymentListResponse struct {
	Items         []paymentPayload `json:"items"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type paymentResponse struct {
	Payment paymentPayload `json:"payment"`
}

type paymentPayload struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	PaymentMethodID string `json:"payment_method_id,omitempty"`
	UserID          string `json:"user_id"`
	TenantID        string `json:"tenant_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	TransactionRef  string `json:"transaction_ref"`
	CreatedAt       string `json:"created_at"`
}

func buildPaymentPayload(payment services.Payment) paymentPayload {
	return paymentPayload{
		ID:              payment.ID,
		OrderID:         payment.OrderID,
		PaymentMethodID: payment.PaymentMethodID,
		UserID:          payment.UserID,
		TenantID:        payment.TenantID,
		Amount:          payment.Amount,
		Currency:        payment.Currency,
		Status:          string(payment.Status),
		TransactionRef:  payment.TransactionRef,
		CreatedAt:       formatTime(payment.CreatedAt),
	}
}
