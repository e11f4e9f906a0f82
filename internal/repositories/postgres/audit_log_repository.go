package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/pagination"
	pg "github.com/plateful/api/internal/platform/postgres"
	"github.com/plateful/api/internal/repositories"
)

// AuditLogRepository persists immutable audit trail entries.
type AuditLogRepository struct {
	q querier
}

var _ repositories.AuditLogRepository = (*AuditLogRepository)(nil)

// NewAuditLogRepository constructs a Postgres-backed audit log repository.
func NewAuditLogRepository(pool *pgxpool.Pool) (*AuditLogRepository, error) {
	if pool == nil {
		return nil, errors.New("audit log repository requires a connection pool")
	}
	return &AuditLogRepository{q: querier{pool: pool}}, nil
}

// Append stores a new audit entry. Entries are never updated or deleted.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return pg.WrapError("audit_logs.append", err)
		}
		metadata = encoded
	}

	const stmt = `
INSERT INTO audit_logs (id, actor, actor_role, action, target_ref, outcome, reason, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.q.exec(ctx, stmt,
		entry.ID, entry.Actor, entry.ActorRole, entry.Action, entry.TargetRef,
		entry.Outcome, entry.Reason, metadata, entry.CreatedAt,
	)
	return pg.WrapError("audit_logs.append", err)
}

// List returns audit entries matching the filter, newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	var (
		conditions []string
		args       []any
	)
	arg := func(value any) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TargetRef != "" {
		conditions = append(conditions, "target_ref = "+arg(filter.TargetRef))
	}
	if filter.Actor != "" {
		conditions = append(conditions, "actor = "+arg(filter.Actor))
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = "+arg(filter.Action))
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
		return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
	}
	if !cursor.IsZero() {
		conditions = append(conditions, fmt.Sprintf("(created_at, id) < (%s, %s)", arg(cursor.CreatedAt), arg(cursor.ID)))
	}

	query := `SELECT id, actor, actor_role, action, target_ref, outcome, reason, metadata, created_at FROM audit_logs`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %s", arg(pageSize+1))

	rows, err := r.q.query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var (
			entry    domain.AuditLogEntry
			metadata []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActorRole, &entry.Action,
			&entry.TargetRef, &entry.Outcome, &entry.Reason, &metadata, &entry.CreatedAt); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &entry.Metadata); err != nil {
				return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
			}
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: entries}
	if len(entries) > pageSize {
		page.Items = entries[:pageSize]
		last := page.Items[len(page.Items)-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, pg.WrapError("audit_logs.list", err)
		}
		page.NextPageToken = token
	}
	return page, nil
}
