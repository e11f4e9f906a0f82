package services

import (
	"context"
	"time"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderLineItem      = domain.OrderLineItem
	OrderStatus        = domain.OrderStatus
	MenuItem           = domain.MenuItem
	Payment            = domain.Payment
	PaymentStatus      = domain.PaymentStatus
	PaymentMethod      = domain.PaymentMethod
	PaymentMethodType  = domain.PaymentMethodType
	PaymentProvider    = domain.PaymentProvider
	AuditLogEntry      = domain.AuditLogEntry
	SystemHealthReport = domain.SystemHealthReport
	Identity           = auth.Identity
)

// OrderService encapsulates order creation, reads, and lifecycle transitions.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	Get(ctx context.Context, caller *Identity, orderID string) (Order, error)
	List(ctx context.Context, caller *Identity, filter OrderListFilter) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
}

// PaymentService coordinates settlement against the payment ledger. An order
// settles at most once; a second attempt fails instead of duplicating.
type PaymentService interface {
	ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error)
	GetPayment(ctx context.Context, caller *Identity, paymentID string) (Payment, error)
	ListPayments(ctx context.Context, caller *Identity, filter PaymentListFilter) (domain.CursorPage[Payment], error)
}

// PaymentMethodService administers tenant payment methods, including the
// single-default-per-tenant flag.
type PaymentMethodService interface {
	Create(ctx context.Context, cmd CreatePaymentMethodCommand) (PaymentMethod, error)
	Get(ctx context.Context, caller *Identity, methodID string) (PaymentMethod, error)
	List(ctx context.Context, caller *Identity, filter PaymentMethodFilter) ([]PaymentMethod, error)
	Update(ctx context.Context, cmd UpdatePaymentMethodCommand) (PaymentMethod, error)
	Delete(ctx context.Context, cmd DeletePaymentMethodCommand) error
}

// AuditLogService centralizes immutable audit log persistence and retrieval.
type AuditLogService interface {
	Record(ctx context.Context, record AuditLogRecord)
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// SystemService aggregates utility endpoints (health checks, audit logs).
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
	ListAuditLogs(ctx context.Context, caller *Identity, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error)
}

// Command and DTO definitions ------------------------------------------------

// OrderListFilter mirrors the repository filter; services narrow it to the
// caller's scope before delegating.
type OrderListFilter = repositories.OrderListFilter

// PaymentListFilter mirrors the repository filter for payment listings.
type PaymentListFilter = repositories.PaymentListFilter

// PaymentMethodFilter mirrors the repository filter for payment methods.
type PaymentMethodFilter = repositories.PaymentMethodListFilter

// AuditLogFilter mirrors the repository filter for audit trail queries.
type AuditLogFilter = repositories.AuditLogFilter

// OrderItemInput selects one menu item for an order being placed.
type OrderItemInput struct {
	MenuItemID string
	Quantity   int
	Note       string
}

type CreateOrderCommand struct {
	Caller       *Identity
	TenantID     string
	Items        []OrderItemInput
	Phone        string
	Instructions string
	Currency     string
}

type OrderStatusTransitionCommand struct {
	Caller       *Identity
	OrderID      string
	TargetStatus OrderStatus
	Reason       string
}

type CancelOrderCommand struct {
	Caller  *Identity
	OrderID string
	Reason  string
}

type ProcessPaymentCommand struct {
	Caller          *Identity
	OrderID         string
	PaymentMethodID string
	Amount          int64
}

type CreatePaymentMethodCommand struct {
	Caller    *Identity
	TenantID  string
	UserID    string
	Type      PaymentMethodType
	Provider  PaymentProvider
	Last4     string
	IsDefault bool
}

type UpdatePaymentMethodCommand struct {
	Caller    *Identity
	MethodID  string
	IsDefault *bool
}

type DeletePaymentMethodCommand struct {
	Caller   *Identity
	MethodID string
}

// AuditLogRecord captures one mutation attempt for the audit trail.
type AuditLogRecord struct {
	Actor      string
	ActorRole  string
	Action     string
	TargetRef  string
	Outcome    string
	Reason     string
	Metadata   map[string]any
	OccurredAt time.Time
}
