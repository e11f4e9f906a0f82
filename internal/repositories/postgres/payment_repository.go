package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/pagination"
	pg "github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
)

// PaymentRepository persists the immutable payment ledger in Postgres.
type PaymentRepository struct {
	q querier
}

var _ repositories.PaymentRepository = (*PaymentRepository)(nil)

// NewPaymentRepository constructs a Postgres-backed payment repository.
func NewPaymentRepository(pool *pgxpool.Pool) (*PaymentRepository, error) {
	if pool == nil {
		return nil, errors.New("payment repository requires a connection pool")
	}
	return &PaymentRepository{q: querier{pool: pool}}, nil
}

const paymentColumns = `id, order_id, payment_method_id, user_id, tenant_id, amount, currency, status, transaction_ref, created_at`

// Insert appends a payment row. The UNIQUE constraint on order_id is the
// final backstop for the one-payment-per-order rule; a violation surfaces as
// a conflict.
func (r *PaymentRepository) Insert(ctx context.Context, payment domain.Payment) error {
	const stmt = `
INSERT INTO payments (id, order_id, payment_method_id, user_id, tenant_id, amount, currency, status, transaction_ref, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.q.exec(ctx, stmt,
		payment.ID, payment.OrderID, nullIfEmpty(payment.PaymentMethodID), payment.UserID, payment.TenantID,
		payment.Amount, payment.Currency, string(payment.Status), payment.TransactionRef, payment.CreatedAt,
	)
	return pg.WrapError("payments.insert", err)
}

// FindByID loads a single payment.
func (r *PaymentRepository) FindByID(ctx context.Context, paymentID string) (domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE id = $1`, paymentColumns)

	payment, err := scanPayment(r.q.queryRow(ctx, query, paymentID))
	if err != nil {
		return domain.Payment{}, pg.WrapError("payments.find", err)
	}
	return payment, nil
}

// FindByOrderID loads the payment recorded against an order, if any.
func (r *PaymentRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Payment, error) {
	query := fmt.Sprintf(`SELECT %s FROM payments WHERE order_id = $1`, paymentColumns)

	payment, err := scanPayment(r.q.queryRow(ctx, query, orderID))
	if err != nil {
		return domain.Payment{}, pg.WrapError("payments.find_by_order", err)
	}
	return payment, nil
}

// List returns payments matching the filter, newest first, keyset paginated.
func (r *PaymentRepository) List(ctx context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.UserID != "" {
		conditions = append(conditions, "user_id = "+arg(filter.UserID))
	}
	if filter.TenantID != "" {
		conditions = append(conditions, "tenant_id = "+arg(filter.TenantID))
	}
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, status := range filter.Status {
			statuses = append(statuses, string(status))
		}
		conditions = append(conditions, "status = ANY("+arg(statuses)+")")
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, pg.WrapError("payments.list", err)
	}
	if !cursor.IsZero() {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := fmt.Sprintf(`SELECT %s FROM payments`, paymentColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %s", arg(pageSize+1))

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Payment]{}, pg.WrapError("payments.list", err)
	}
	defer rows.Close()

	var payments []domain.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return domain.CursorPage[domain.Payment]{}, pg.WrapError("payments.list", err)
		}
		payments = append(payments, payment)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Payment]{}, pg.WrapError("payments.list", err)
	}

	page := domain.CursorPage[domain.Payment]{Items: payments}
	if len(payments) > pageSize {
		page.Items = payments[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Payment]{}, pg.WrapError("payments.list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

func scanPayment(row pgx.Row) (domain.Payment, error) {
	var (
		payment  domain.Payment
		status   string
		methodID *string
	)
	err := row.Scan(&payment.ID, &payment.OrderID, &methodID,
		&payment.UserID, &payment.TenantID, &payment.Amount, &payment.Currency,
		&status, &payment.TransactionRef, &payment.CreatedAt)
	if err != nil {
		return domain.Payment{}, err
	}
	payment.Status = domain.PaymentStatus(status)
	if methodID != nil {
		payment.PaymentMethodID = *methodID
	}
	return payment, nil
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
