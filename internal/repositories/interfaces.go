package repositories

import (
	"context"
	"time"

	domain "github.com/plateful/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Payments() PaymentRepository
	PaymentMethods() PaymentMethodRepository
	MenuItems() MenuItemRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates (header plus line items) and
// provides query helpers for members, managers, and admins.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus moves the order from one status to another and fails with a
	// conflict when the stored status no longer matches the expected one.
	UpdateStatus(ctx context.Context, update OrderStatusUpdate) (domain.Order, error)
}

// OrderStatusUpdate carries a compare-and-swap status change for an order.
type OrderStatusUpdate struct {
	OrderID      string
	From         domain.OrderStatus
	To           domain.OrderStatus
	At           time.Time
	CancelReason *string
}

// PaymentRepository stores the immutable payment ledger. Insert must reject a
// second payment for the same order with a conflict.
type PaymentRepository interface {
	Insert(ctx context.Context, payment domain.Payment) error
	FindByID(ctx context.Context, paymentID string) (domain.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error)
	List(ctx context.Context, filter PaymentListFilter) (domain.CursorPage[domain.Payment], error)
}

// PaymentMethodRepository stores tenant-configured payment methods.
type PaymentMethodRepository interface {
	Insert(ctx context.Context, method domain.PaymentMethod) error
	Get(ctx context.Context, methodID string) (domain.PaymentMethod, error)
	List(ctx context.Context, filter PaymentMethodListFilter) ([]domain.PaymentMethod, error)
	Delete(ctx context.Context, methodID string) error
	// SetDefault atomically clears the previous default within the tenant and
	// marks the given method as default.
	SetDefault(ctx context.Context, tenantID string, methodID string, now time.Time) (domain.PaymentMethod, error)
}

// MenuItemRepository reads menu items used to price incoming orders.
type MenuItemRepository interface {
	GetByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.MenuItem, error)
}

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}

// Filter DTOs shared across repositories ------------------------------------

type OrderListFilter struct {
	UserID     string
	TenantID   string
	Status     []domain.OrderStatus
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}

type PaymentListFilter struct {
	UserID     string
	TenantID   string
	Status     []domain.PaymentStatus
	Pagination domain.Pagination
}

type PaymentMethodListFilter struct {
	TenantID string
	Type     *domain.PaymentMethodType
}

type AuditLogFilter struct {
	TargetRef  string
	Actor      string
	Action     string
	DateRange  domain.RangeQuery[time.Time]
	Pagination domain.Pagination
}
