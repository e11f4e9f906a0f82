package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/httpx"
	"github.com/plateful/api/internal/platform/pagination"
	"github.com/plateful/api/internal/services"
)

// AdminHandlers exposes operator-only endpoints: the audit trail and a
// detailed health report.
type AdminHandlers struct {
	requireAuth func(http.Handler) http.Handler
	system      services.SystemService
	pageOpts    pagination.Options
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(requireAuth func(http.Handler) http.Handler, system services.SystemService, pageOpts pagination.Options) *AdminHandlers {
	return &AdminHandlers{
		requireAuth: requireAuth,
		system:      system,
		pageOpts:    pageOpts,
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.requireAuth != nil {
		r.Use(h.requireAuth)
	}
	r.Get("/audit-logs", h.listAuditLogs)
}

func (h *AdminHandlers) listAuditLogs(w http.ResponseWriter, r *http.Request) {
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
	filter := services.AuditLogFilter{
		TargetRef: strings.TrimSpace(query.Get("target_ref")),
		Actor:     strings.TrimSpace(query.Get("actor")),
		Action:    strings.TrimSpace(query.Get("action")),
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	}

	if raw := strings.TrimSpace(query.Get("occurred_after")); raw != "" {
		after, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "occurred_after must be an RFC 3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.From = &after
	}
	if raw := strings.TrimSpace(query.Get("occurred_before")); raw != "" {
		before, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "occurred_before must be an RFC 3339 timestamp", http.StatusBadRequest))
			return
		}
		filter.DateRange.To = &before
	}

	page, err := h.system.ListAuditLogs(ctx, identity, filter)
	if err != nil {
		if writeAccessError(ctx, w, err) {
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("audit_log_error", "failed to list audit logs", http.StatusInternalServerError))
		return
	}

	items := make([]auditLogPayload, 0, len(page.Items))
	for _, entry := range page.Items {
		items = append(items, buildAuditLogPayload(entry))
	}

	writeJSONResponse(w, http.StatusOK, auditLogListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

type auditLogListResponse struct {
	Items         []auditLogPayload `json:"items"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type auditLogPayload struct {
	ID        string         `json:"id"`
	Actor     string         `json:"actor"`
	ActorRole string         `json:"actor_role"`
	Action    string         `json:"action"`
	TargetRef string         `json:"target_ref"`
	Outcome   string         `json:"outcome"`
	Reason    string         `json:"reason,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt string         `json:"created_at"`
}

func buildAuditLogPayload(entry domain.AuditLogEntry) auditLogPayload {
	return auditLogPayload{
		ID:        entry.ID,
		Actor:     entry.Actor,
		ActorRole: entry.ActorRole,
		Action:    entry.Action,
		TargetRef: entry.TargetRef,
		Outcome:   entry.Outcome,
		Reason:    entry.Reason,
		Metadata:  entry.Metadata,
		CreatedAt: formatTime(entry.CreatedAt),
	}
}
