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
	"github.com/plateful/api/internal/platform/pagination"
	pg "github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
)

// OrderRepository persists order aggregates in Postgres.
type OrderRepository struct {
	q querier
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Postgres-backed order repository.
func NewOrderRepository(pool *pgxpool.Pool) (*OrderRepository, error) {
	if pool == nil {
		return nil, errors.New("order repository requires a connection pool")
	}
	return &OrderRepository{q: querier{pool: pool}}, nil
}

const orderColumns = `id, user_id, tenant_id, status, total, currency, phone, instructions, created_at, updated_at, cancelled_at, cancel_reason`

// Insert stores the order header and its line items in one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	err := withTx(ctx, r.q.pool, func(ctx context.Context) error {
		const headerStmt = `
INSERT INTO orders (id, user_id, tenant_id, status, total, currency, phone, instructions, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

		_, err := r.q.exec(ctx, headerStmt,
			order.ID, order.UserID, order.TenantID, string(order.Status),
			order.Total, order.Currency, order.Phone, order.Instructions,
			order.CreatedAt, order.UpdatedAt,
		)
		if err != nil {
			return err
		}

		const itemStmt = `
INSERT INTO order_line_items (id, order_id, menu_item_id, name, quantity, unit_price, total, note)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

		for _, item := range order.Items {
			if _, err := r.q.exec(ctx, itemStmt,
				item.ID, order.ID, item.MenuItemID, item.Name,
				item.Quantity, item.UnitPrice, item.Total, item.Note,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return pg.WrapError("orders.insert", err)
}

// FindByID loads the order header and all of its line items.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE id = $1`, orderColumns)

	order, err := scanOrder(r.q.queryRow(ctx, query, orderID))
	if err != nil {
		return domain.Order{}, pg.WrapError("orders.find", err)
	}

	items, err := r.loadItems(ctx, orderID)
	if err != nil {
		return domain.Order{}, pg.WrapError("orders.find", err)
	}
	order.Items = items
	return order, nil
}

// List returns orders matching the filter, newest first, keyset paginated.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
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
	if filter.DateRange.From != nil {
		conditions = append(conditions, "created_at >= "+arg(*filter.DateRange.From))
	}
	if filter.DateRange.To != nil {
		conditions = append(conditions, "created_at <= "+arg(*filter.DateRange.To))
	}

	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = pagination.DefaultPageSize
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
	}
	if !cursor.IsZero() {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := fmt.Sprintf(`SELECT %s FROM orders`, orderColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %s", arg(pageSize+1))

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: orders}
	if len(orders) > pageSize {
		page.Items = orders[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
		}
		page.NextPageToken = token
	}

	for i := range page.Items {
		items, err := r.loadItems(ctx, page.Items[i].ID)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, pg.WrapError("orders.list", err)
		}
		page.Items[i].Items = items
	}
	return page, nil
}

// UpdateStatus performs a compare-and-swap on the order status. A row that no
// longer carries the expected status yields a conflict; a missing order yields
// not found.
func (r *OrderRepository) UpdateStatus(ctx context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	const stmt = `
UPDATE orders
SET status = $3,
    updated_at = $4,
    cancelled_at = CASE WHEN $3 = 'cancelled' THEN $4 ELSE cancelled_at END,
    cancel_reason = COALESCE($5, cancel_reason)
WHERE id = $1 AND status = $2
RETURNING ` + orderColumns

	order, err := scanOrder(r.q.queryRow(ctx, stmt,
		update.OrderID, string(update.From), string(update.To), update.At, update.CancelReason,
	))
	if err == nil {
		items, itemErr := r.loadItems(ctx, order.ID)
		if itemErr != nil {
			return domain.Order{}, pg.WrapError("orders.update_status", itemErr)
		}
		order.Items = items
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, pg.WrapError("orders.update_status", err)
	}

	// Distinguish a missing order from a stale expected status.
	var current string
	probeErr := r.q.queryRow(ctx, `SELECT status FROM orders WHERE id = $1`, update.OrderID).Scan(&current)
	if errors.Is(probeErr, pgx.ErrNoRows) {
		return domain.Order{}, pg.NotFoundError("orders.update_status", fmt.Errorf("order %s not found", update.OrderID))
	}
	if probeErr != nil {
		return domain.Order{}, pg.WrapError("orders.update_status", probeErr)
	}
	return domain.Order{}, pg.ConflictError("orders.update_status",
		fmt.Errorf("order %s is %s, expected %s", update.OrderID, current, update.From))
}

func (r *OrderRepository) loadItems(ctx context.Context, orderID string) ([]domain.OrderLineItem, error) {
	const query = `
SELECT id, order_id, menu_item_id, name, quantity, unit_price, total, note
FROM order_line_items
WHERE order_id = $1
ORDER BY id`

	rows, err := r.q.query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderLineItem
	for rows.Next() {
		var item domain.OrderLineItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.MenuItemID, &item.Name,
			&item.Quantity, &item.UnitPrice, &item.Total, &item.Note); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order       domain.Order
		status      string
		cancelledAt *time.Time
		reason      *string
	)
	err := row.Scan(&order.ID, &order.UserID, &order.TenantID, &status,
		&order.Total, &order.Currency, &order.Phone, &order.Instructions,
		&order.CreatedAt, &order.UpdatedAt, &cancelledAt, &reason)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	order.CancelledAt = cancelledAt
	order.CancelReason = reason
	return order, nil
}
