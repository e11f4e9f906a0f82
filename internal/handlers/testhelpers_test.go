package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/services"
)

type stubOrderService struct {
	createFn     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn        func(ctx context.Context, caller *auth.Identity, orderID string) (services.Order, error)
	listFn       func(ctx context.Context, caller *auth.Identity, filter services.OrderListFilter) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) Get(ctx context.Context, caller *auth.Identity, orderID string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, nil
	}
	return s.getFn(ctx, caller, orderID)
}

func (s *stubOrderService) List(ctx context.Context, caller *auth.Identity, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, nil
	}
	return s.listFn(ctx, caller, filter)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, nil
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, nil
	}
	return s.cancelFn(ctx, cmd)
}

type stubPaymentService struct {
	processFn func(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error)
	getFn     func(ctx context.Context, caller *auth.Identity, paymentID string) (services.Payment, error)
	listFn    func(ctx context.Context, caller *auth.Identity, filter services.PaymentListFilter) (domain.CursorPage[services.Payment], error)
}

func (s *stubPaymentService) ProcessPayment(ctx context.Context, cmd services.ProcessPaymentCommand) (services.Payment, error) {
	if s.processFn == nil {
		return services.Payment{}, nil
	}
	return s.processFn(ctx, cmd)
}

func (s *stubPaymentService) GetPayment(ctx context.Context, caller *auth.Identity, paymentID string) (services.Payment, error) {
	if s.getFn == nil {
		return services.Payment{}, nil
	}
	return s.getFn(ctx, caller, paymentID)
}

func (s *stubPaymentService) ListPayments(ctx context.Context, caller *auth.Identity, filter services.PaymentListFilter) (domain.CursorPage[services.Payment], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Payment]{}, nil
	}
	return s.listFn(ctx, caller, filter)
}

type stubPaymentMethodService struct {
	createFn func(ctx context.Context, cmd services.CreatePaymentMethodCommand) (services.PaymentMethod, error)
	getFn    func(ctx context.Context, caller *auth.Identity, methodID string) (services.PaymentMethod, error)
	listFn   func(ctx context.Context, caller *auth.Identity, filter services.PaymentMethodFilter) ([]services.PaymentMethod, error)
	updateFn func(ctx context.Context, cmd services.UpdatePaymentMethodCommand) (services.PaymentMethod, error)
	deleteFn func(ctx context.Context, cmd services.DeletePaymentMethodCommand) error
}

func (s *stubPaymentMethodService) Create(ctx context.Context, cmd services.CreatePaymentMethodCommand) (services.PaymentMethod, error) {
	if s.createFn == nil {
		return services.PaymentMethod{}, nil
	}
	return s.createFn(ctx, cmd)
}

func (s *stubPaymentMethodService) Get(ctx context.Context, caller *auth.Identity, methodID string) (services.PaymentMethod, error) {
	if s.getFn == nil {
		return services.PaymentMethod{}, nil
	}
	return s.getFn(ctx, caller, methodID)
}

func (s *stubPaymentMethodService) List(ctx context.Context, caller *auth.Identity, filter services.PaymentMethodFilter) ([]services.PaymentMethod, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, caller, filter)
}

func (s *stubPaymentMethodService) Update(ctx context.Context, cmd services.UpdatePaymentMethodCommand) (services.PaymentMethod, error) {
	if s.updateFn == nil {
		return services.PaymentMethod{}, nil
	}
	return s.updateFn(ctx, cmd)
}

func (s *stubPaymentMethodService) Delete(ctx context.Context, cmd services.DeletePaymentMethodCommand) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, cmd)
}

type stubSystemService struct {
	healthFn func(ctx context.Context) (services.SystemHealthReport, error)
	listFn   func(ctx context.Context, caller *auth.Identity, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (services.SystemHealthReport, error) {
	if s.healthFn == nil {
		return services.SystemHealthReport{}, nil
	}
	return s.healthFn(ctx)
}

func (s *stubSystemService) ListAuditLogs(ctx context.Context, caller *auth.Identity, filter services.AuditLogFilter) (domain.CursorPage[services.AuditLogEntry], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.AuditLogEntry]{}, nil
	}
	return s.listFn(ctx, caller, filter)
}

func authedRequest(method, target string, body string, identity *auth.Identity) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response body: %v (body %q)", err, rec.Body.String())
	}
}

func adminCaller() *auth.Identity {
	return &auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}
}

func memberCaller(userID, tenantID string) *auth.Identity {
	return &auth.Identity{UserID: userID, Role: auth.RoleMember, TenantID: tenantID}
}
