package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/plateful/api/internal/domain"
	pg "github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
)

// PaymentMethodRepository persists tenant-configured payment methods.
type PaymentMethodRepository struct {
	q querier
}

var _ repositories.PaymentMethodRepository = (*PaymentMethodRepository)(nil)

// NewPaymentMethodRepository constructs a Postgres-backed payment method repository.
func NewPaymentMethodRepository(pool *pgxpool.Pool) (*PaymentMethodRepository, error) {
	if pool == nil {
		return nil, errors.New("payment method repository requires a connection pool")
	}
	return &PaymentMethodRepository{q: querier{pool: pool}}, nil
}

const paymentMethodColumns = `id, tenant_id, user_id, type, provider, last4, is_default, created_at, updated_at`

// Insert stores a new payment method. When the method is flagged as default,
// the previous tenant default is cleared in the same transaction; the partial
// unique index on (tenant_id) WHERE is_default guards against races.
func (r *PaymentMethodRepository) Insert(ctx context.Context, method domain.PaymentMethod) error {
	err := withTx(ctx, r.q.pool, func(ctx context.Context) error {
		if method.IsDefault {
			if err := r.clearDefault(ctx, method.TenantID, method.UpdatedAt); err != nil {
				return err
			}
		}

		const stmt = `
INSERT INTO payment_methods (id, tenant_id, user_id, type, provider, last4, is_default, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

		_, err := r.q.exec(ctx, stmt,
			method.ID, method.TenantID, method.UserID, string(method.Type), string(method.Provider),
			method.Last4, method.IsDefault, method.CreatedAt, method.UpdatedAt,
		)
		return err
	})
	return pg.WrapError("payment_methods.insert", err)
}

// Get loads a single payment method.
func (r *PaymentMethodRepository) Get(ctx context.Context, methodID string) (domain.PaymentMethod, error) {
	query := fmt.Sprintf(`SELECT %s FROM payment_methods WHERE id = $1`, paymentMethodColumns)

	method, err := scanPaymentMethod(r.q.queryRow(ctx, query, methodID))
	if err != nil {
		return domain.PaymentMethod{}, pg.WrapError("payment_methods.get", err)
	}
	return method, nil
}

// List returns payment methods for a tenant, default first, then newest.
func (r *PaymentMethodRepository) List(ctx context.Context, filter repositories.PaymentMethodListFilter) ([]domain.PaymentMethod, error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = "+arg(filter.TenantID))
	}
	if filter.Type != nil {
		conditions = append(conditions, "type = "+arg(string(*filter.Type)))
	}

	query := fmt.Sprintf(`SELECT %s FROM payment_methods`, paymentMethodColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY is_default DESC, created_at DESC, id DESC"

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return nil, pg.WrapError("payment_methods.list", err)
	}
	defer rows.Close()

	var methods []domain.PaymentMethod
	for rows.Next() {
		method, err := scanPaymentMethod(rows)
		if err != nil {
			return nil, pg.WrapError("payment_methods.list", err)
		}
		methods = append(methods, method)
	}
	if err := rows.Err(); err != nil {
		return nil, pg.WrapError("payment_methods.list", err)
	}
	return methods, nil
}

// Delete removes a payment method. Existing payments keep their reference
// through ON DELETE SET NULL on the ledger side.
func (r *PaymentMethodRepository) Delete(ctx context.Context, methodID string) error {
	tag, err := r.q.exec(ctx, `DELETE FROM payment_methods WHERE id = $1`, methodID)
	if err != nil {
		return pg.WrapError("payment_methods.delete", err)
	}
	if tag.RowsAffected() == 0 {
		return pg.NotFoundError("payment_methods.delete", fmt.Errorf("payment method %s not found", methodID))
	}
	return nil
}

// SetDefault atomically demotes the current tenant default and promotes the
// given method. At most one method per tenant carries the default flag.
func (r *PaymentMethodRepository) SetDefault(ctx context.Context, tenantID string, methodID string, now time.Time) (domain.PaymentMethod, error) {
	var method domain.PaymentMethod
	err := withTx(ctx, r.q.pool, func(ctx context.Context) error {
		var belongs string
		err := r.q.queryRow(ctx, `SELECT tenant_id FROM payment_methods WHERE id = $1 FOR UPDATE`, methodID).Scan(&belongs)
		if errors.Is(err, pgx.ErrNoRows) {
			return pg.NotFoundError("payment_methods.set_default", fmt.Errorf("payment method %s not found", methodID))
		}
		if err != nil {
			return err
		}
		if belongs != tenantID {
			return pg.NotFoundError("payment_methods.set_default", fmt.Errorf("payment method %s not found in tenant %s", methodID, tenantID))
		}

		if err := r.clearDefault(ctx, tenantID, now); err != nil {
			return err
		}

		const promote = `
UPDATE payment_methods
SET is_default = TRUE, updated_at = $3
WHERE id = $1 AND tenant_id = $2
RETURNING ` + paymentMethodColumns

		method, err = scanPaymentMethod(r.q.queryRow(ctx, promote, methodID, tenantID, now))
		return err
	})
	if err != nil {
		return domain.PaymentMethod{}, pg.WrapError("payment_methods.set_default", err)
	}
	return method, nil
}

func (r *PaymentMethodRepository) clearDefault(ctx context.Context, tenantID string, now time.Time) error {
	const demote = `
UPDATE payment_methods
SET is_default = FALSE, updated_at = $2
WHERE tenant_id = $1 AND is_default`

	_, err := r.q.exec(ctx, demote, tenantID, now)
	return err
}

func scanPaymentMethod(row pgx.Row) (domain.PaymentMethod, error) {
	var (
		method       domain.PaymentMethod
		methodType   string
		providerName string
	)
	err := row.Scan(&method.ID, &method.TenantID, &method.UserID, &methodType, &providerName,
		&method.Last4, &method.IsDefault, &method.CreatedAt, &method.UpdatedAt)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	method.Type = domain.PaymentMethodType(methodType)
	method.Provider = domain.PaymentProvider(providerName)
	return method, nil
}
