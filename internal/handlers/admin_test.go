package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/platform/pagination"
	"github.com/plateful/api/internal/services"
)

func newAdminRouter(svc services.SystemService) chi.Router {
	r := chi.NewRouter()
	NewAdminHandlers(nil, svc, pagination.Options{}).Routes(r)
	return r
}

func TestListAuditLogsParsesFilters(t *testing.T) {
	entry := domain.AuditLogEntry{
		ID:        "alg_1",
		Actor:     "admin-1",
		ActorRole: "admin",
		Action:    "payment.process",
		TargetRef: "order/ord_1",
		Outcome:   "success",
		CreatedAt: time.Date(2026, 3, 14, 10, 31, 0, 0, time.UTC),
	}

	var captured services.AuditLogFilter
	svc := &stubSystemService{
		listFn: func(_ context.Context, _ *auth.Identity, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
			captured = filter
			return domain.CursorPage[services.AuditLogEntry]{Items: []services.AuditLogEntry{entry}, NextPageToken: "tok"}, nil
		},
	}
	router := newAdminRouter(svc)

	target := "/audit-logs?action=payment.process&actor=admin-1&target_ref=order/ord_1&occurred_after=2026-03-01T00:00:00Z&pageSize=5"
	req := authedRequest(http.MethodGet, target, "", adminCaller())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}
	if captured.Action != "payment.process" || captured.Actor != "admin-1" || captured.TargetRef != "order/ord_1" {
		t.Fatalf("unexpected filter: %+v", captured)
	}
	if captured.Pagination.PageSize != 5 {
		t.Fatalf("unexpected page size: %d", captured.Pagination.PageSize)
	}
	if captured.DateRange.From == nil || !captured.DateRange.From.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date range: %+v", captured.DateRange)
	}

	var resp auditLogListResponse
	decodeJSONBody(t, rec, &resp)
	if len(resp.Items) != 1 || resp.NextPageToken != "tok" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.Items[0].Action != "payment.process" || resp.Items[0].Outcome != "success" {
		t.Fatalf("unexpected entry payload: %+v", resp.Items[0])
	}
}

func TestListAuditLogsRejectsBadTimestamp(t *testing.T) {
	router := newAdminRouter(&stubSystemService{})

	req := authedRequest(http.MethodGet, "/audit-logs?occurred_after=yesterday", "", adminCaller())
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestListAuditLogsForwardsAccessErrors(t *testing.T) {
	svc := &stubSystemService{
		listFn: func(context.Context, *auth.Identity, services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
			return domain.CursorPage[services.AuditLogEntry]{}, fmt.Errorf("%w: admins only", authz.ErrForbidden)
		},
	}
	router := newAdminRouter(svc)

	req := authedRequest(http.MethodGet, "/audit-logs", "", memberCaller("user-1", "tenant-1"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestListAuditLogsRequiresIdentity(t *testing.T) {
	router := newAdminRouter(&stubSystemService{})

	req := authedRequest(http.MethodGet, "/audit-logs", "", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
