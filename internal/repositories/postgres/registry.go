package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/plateful/api/internal/repositories"
)

// Registry bundles Postgres repositories behind the repositories.Registry
// interface and provides the shared transactional boundary.
type Registry struct {
	pool *pgxpool.Pool

	orders         *OrderRepository
	payments       *PaymentRepository
	paymentMethods *PaymentMethodRepository
	menuItems      *MenuItemRepository
	auditLogs      *AuditLogRepository
	health         repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repository registry for a shared pool. The
// health repository is injected so the caller controls which dependencies it
// probes.
func NewRegistry(pool *pgxpool.Pool, health repositories.HealthRepository) (*Registry, error) {
	if pool == nil {
		return nil, errors.New("registry requires a connection pool")
	}
	if health == nil {
		return nil, errors.New("registry requires a health repository")
	}

	orders, err := NewOrderRepository(pool)
	if err != nil {
		return nil, err
	}
	payments, err := NewPaymentRepository(pool)
	if err != nil {
		return nil, err
	}
	paymentMethods, err := NewPaymentMethodRepository(pool)
	if err != nil {
		return nil, err
	}
	menuItems, err := NewMenuItemRepository(pool)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(pool)
	if err != nil {
		return nil, err
	}

	return &Registry{
		pool:           pool,
		orders:         orders,
		payments:       payments,
		paymentMethods: paymentMethods,
		menuItems:      menuItems,
		auditLogs:      auditLogs,
		health:         health,
	}, nil
}

// RunInTx executes fn within a single database transaction. Repository calls
// made with the derived context join that transaction.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

// Close releases the underlying pool.
func (r *Registry) Close(context.Context) error {
	r.pool.Close()
	return nil
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Payments() repositories.PaymentRepository { return r.payments }

func (r *Registry) PaymentMethods() repositories.PaymentMethodRepository { return r.paymentMethods }

func (r *Registry) MenuItems() repositories.MenuItemRepository { return r.menuItems }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
