package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/plateful/api/internal/authz"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/repositories"
)

const (
	paymentMethodIDPrefix = "pm_"

	auditActionPaymentMethodCreate = "payment_method.create"
	auditActionPaymentMethodUpdate = "payment_method.update"
	auditActionPaymentMethodDelete = "payment_method.delete"
)

var (
	// ErrPaymentMethodInvalidInput signals the caller provided invalid data.
	ErrPaymentMethodInvalidInput = errors.New("payment method: invalid input")
	// ErrPaymentMethodConflict indicates a concurrent modification collided.
	ErrPaymentMethodConflict = errors.New("payment method: conflict")
)

var knownMethodTypes = map[PaymentMethodType]bool{
	"credit_card": true,
	"debit_card":  true,
	"wallet":      true,
}

var knownProviders = map[PaymentProvider]bool{
	"visa":       true,
	"mastercard": true,
	"amex":       true,
	"paypal":     true,
}

// PaymentMethodServiceDeps bundles collaborators for the payment method service.
type PaymentMethodServiceDeps struct {
	Methods     repositories.PaymentMethodRepository
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
}

type paymentMethodService struct {
	methods repositories.PaymentMethodRepository
	audit   AuditLogService
	clock   func() time.Time
	newID   func() string
}

// NewPaymentMethodService wires dependencies into a concrete PaymentMethodService.
func NewPaymentMethodService(deps PaymentMethodServiceDeps) (PaymentMethodService, error) {
	if deps.Methods == nil {
		return nil, errors.New("payment method service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	return &paymentMethodService{
		methods: deps.Methods,
		audit:   deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID: idGen,
	}, nil
}

func (s *paymentMethodService) Create(ctx context.Context, cmd CreatePaymentMethodCommand) (PaymentMethod, error) {
	tenantID := strings.TrimSpace(cmd.TenantID)

	if err := authz.Authorize(cmd.Caller, authz.OpPaymentMethodCreate, authz.Target{TenantID: tenantID}); err != nil {
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodCreate, "payment_methods", auditOutcomeDenied, err.Error())
		return PaymentMethod{}, err
	}
	if tenantID == "" {
		return PaymentMethod{}, fmt.Errorf("%w: tenant id is required", ErrPaymentMethodInvalidInput)
	}
	if !knownMethodTypes[cmd.Type] {
		return PaymentMethod{}, fmt.Errorf("%w: unknown type %q", ErrPaymentMethodInvalidInput, cmd.Type)
	}
	if !knownProviders[cmd.Provider] {
		return PaymentMethod{}, fmt.Errorf("%w: unknown provider %q", ErrPaymentMethodInvalidInput, cmd.Provider)
	}
	last4 := strings.TrimSpace(cmd.Last4)
	if len(last4) != 4 || strings.Trim(last4, "0123456789") != "" {
		return PaymentMethod{}, fmt.Errorf("%w: last4 must be exactly four digits", ErrPaymentMethodInvalidInput)
	}

	now := s.clock()
	method := PaymentMethod{
		ID:        paymentMethodIDPrefix + s.newID(),
		TenantID:  tenantID,
		UserID:    strings.TrimSpace(cmd.UserID),
		Type:      cmd.Type,
		Provider:  cmd.Provider,
		Last4:     last4,
		IsDefault: cmd.IsDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.methods.Insert(ctx, method); err != nil {
		mapped := s.mapRepositoryError(err)
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodCreate, "payment_methods/"+method.ID, auditOutcomeFailed, mapped.Error())
		return PaymentMethod{}, mapped
	}

	s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodCreate, "payment_methods/"+method.ID, auditOutcomeSuccess, "")
	return method, nil
}

func (s *paymentMethodService) Get(ctx context.Context, caller *Identity, methodID string) (PaymentMethod, error) {
	methodID = strings.TrimSpace(methodID)
	if methodID == "" {
		return PaymentMethod{}, fmt.Errorf("%w: method id is required", ErrPaymentMethodInvalidInput)
	}

	method, err := s.methods.Get(ctx, methodID)
	if err != nil {
		return PaymentMethod{}, s.mapRepositoryError(err)
	}

	if err := authz.Authorize(caller, authz.OpPaymentMethodRead, authz.Target{TenantID: method.TenantID}); err != nil {
		return PaymentMethod{}, err
	}

	return method, nil
}

func (s *paymentMethodService) List(ctx context.Context, caller *Identity, filter PaymentMethodFilter) ([]PaymentMethod, error) {
	if caller == nil || caller.UserID == "" {
		return nil, authz.ErrUnauthenticated
	}

	switch caller.Role {
	case auth.RoleAdmin:
		// Admins query any tenant but must name one; an unfiltered listing
		// across tenants is never served.
		if strings.TrimSpace(filter.TenantID) == "" {
			return nil, fmt.Errorf("%w: tenant filter is required", ErrPaymentMethodInvalidInput)
		}
	case auth.RoleManager:
		filter.TenantID = caller.TenantID
	default:
		return nil, fmt.Errorf("%w: role %q may not list payment methods", authz.ErrForbidden, caller.Role)
	}

	if err := authz.Authorize(caller, authz.OpPaymentMethodList, authz.Target{TenantID: filter.TenantID}); err != nil {
		return nil, err
	}

	methods, err := s.methods.List(ctx, filter)
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return methods, nil
}

// Update toggles the default flag. Promoting a method atomically clears the
// previous default; clearing without naming a successor is rejected so the
// tenant is never left mid-toggle.
func (s *paymentMethodService) Update(ctx context.Context, cmd UpdatePaymentMethodCommand) (PaymentMethod, error) {
	methodID := strings.TrimSpace(cmd.MethodID)
	if methodID == "" {
		return PaymentMethod{}, fmt.Errorf("%w: method id is required", ErrPaymentMethodInvalidInput)
	}
	if cmd.IsDefault == nil {
		return PaymentMethod{}, fmt.Errorf("%w: isDefault is required", ErrPaymentMethodInvalidInput)
	}

	method, err := s.methods.Get(ctx, methodID)
	if err != nil {
		return PaymentMethod{}, s.mapRepositoryError(err)
	}

	if err := authz.Authorize(cmd.Caller, authz.OpPaymentMethodUpdate, authz.Target{TenantID: method.TenantID}); err != nil {
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodUpdate, "payment_methods/"+methodID, auditOutcomeDenied, err.Error())
		return PaymentMethod{}, err
	}

	if !*cmd.IsDefault {
		return PaymentMethod{}, fmt.Errorf("%w: a default is cleared by promoting another method", ErrPaymentMethodInvalidInput)
	}

	updated, err := s.methods.SetDefault(ctx, method.TenantID, methodID, s.clock())
	if err != nil {
		mapped := s.mapRepositoryError(err)
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodUpdate, "payment_methods/"+methodID, auditOutcomeFailed, mapped.Error())
		return PaymentMethod{}, mapped
	}

	s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodUpdate, "payment_methods/"+methodID, auditOutcomeSuccess, "")
	return updated, nil
}

func (s *paymentMethodService) Delete(ctx context.Context, cmd DeletePaymentMethodCommand) error {
	methodID := strings.TrimSpace(cmd.MethodID)
	if methodID == "" {
		return fmt.Errorf("%w: method id is required", ErrPaymentMethodInvalidInput)
	}

	method, err := s.methods.Get(ctx, methodID)
	if err != nil {
		return s.mapRepositoryError(err)
	}

	if err := authz.Authorize(cmd.Caller, authz.OpPaymentMethodDelete, authz.Target{TenantID: method.TenantID}); err != nil {
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodDelete, "payment_methods/"+methodID, auditOutcomeDenied, err.Error())
		return err
	}

	if err := s.methods.Delete(ctx, methodID); err != nil {
		mapped := s.mapRepositoryError(err)
		s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodDelete, "payment_methods/"+methodID, auditOutcomeFailed, mapped.Error())
		return mapped
	}

	s.recordAudit(ctx, cmd.Caller, auditActionPaymentMethodDelete, "payment_methods/"+methodID, auditOutcomeSuccess, "")
	return nil
}

func (s *paymentMethodService) recordAudit(ctx context.Context, caller *Identity, action, targetRef, outcome, reason string) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      callerID(caller),
		ActorRole:  callerRole(caller),
		Action:     action,
		TargetRef:  targetRef,
		Outcome:    outcome,
		Reason:     reason,
		OccurredAt: s.clock(),
	})
}

func (s *paymentMethodService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentMethodNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentMethodConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment method: repository unavailable: %w", err)
		}
	}

	return err
}
