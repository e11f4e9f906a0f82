package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/plateful/api/internal/domain"
	pg "github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
)

// MenuItemRepository reads menu items used to price incoming orders.
type MenuItemRepository struct {
	q querier
}

var _ repositories.MenuItemRepository = (*MenuItemRepository)(nil)

// NewMenuItemRepository constructs a Postgres-backed menu item repository.
func NewMenuItemRepository(pool *pgxpool.Pool) (*MenuItemRepository, error) {
	if pool == nil {
		return nil, errors.New("menu item repository requires a connection pool")
	}
	return &MenuItemRepository{q: querier{pool: pool}}, nil
}

// GetByIDs loads the requested menu items scoped to a tenant. Absent IDs are
// simply missing from the result map; the caller decides whether that is an
// error.
func (r *MenuItemRepository) GetByIDs(ctx context.Context, tenantID string, itemIDs []string) (map[string]domain.MenuItem, error) {
	result := make(map[string]domain.MenuItem, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	const query = `
SELECT id, tenant_id, name, price, available, created_at, updated_at
FROM menu_items
WHERE tenant_id = $1 AND id = ANY($2)`

	rows, err := r.q.query(ctx, query, tenantID, itemIDs)
	if err != nil {
		return nil, pg.WrapError("menu_items.get_by_ids", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.MenuItem
		if err := rows.Scan(&item.ID, &item.TenantID, &item.Name, &item.Price,
			&item.Available, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, pg.WrapError("menu_items.get_by_ids", err)
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		return nil, pg.WrapError("menu_items.get_by_ids", err)
	}
	return result, nil
}
