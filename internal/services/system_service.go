package services

import (
	"context"
	"errors"
	"time"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/repositories"
)

// SystemServiceDeps bundles collaborators required to construct a system service.
type SystemServiceDeps struct {
	HealthRepository repositories.HealthRepository
	Audit            AuditLogService
	Clock            func() time.Time
}

type systemService struct {
	healthRepo repositories.HealthRepository
	audit      AuditLogService
	clock      func() time.Time
}

var _ SystemService = (*systemService)(nil)

// NewSystemService assembles the utility service providing health reports and
// audit trail access.
func NewSystemService(deps SystemServiceDeps) (SystemService, error) {
	if deps.HealthRepository == nil {
		return nil, errors.New("system service: health repository is required")
	}
	if deps.Audit == nil {
		return nil, errors.New("system service: audit log service is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &systemService{
		healthRepo: deps.HealthRepository,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

func (s *systemService) HealthReport(ctx context.Context) (SystemHealthReport, error) {
	if ctx == nil {
		return SystemHealthReport{}, errors.New("system service: context is required")
	}

	report, err := s.healthRepo.Collect(ctx)
	if err != nil {
		return SystemHealthReport{}, err
	}

	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = s.clock()
	}

	return report, nil
}

func (s *systemService) ListAuditLogs(ctx context.Context, caller *Identity, filter AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	if err := authz.Authorize(caller, authz.OpAuditLogList, authz.Target{}); err != nil {
		return domain.CursorPage[AuditLogEntry]{}, err
	}
	return s.audit.List(ctx, filter)
}
