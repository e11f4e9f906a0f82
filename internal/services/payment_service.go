package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/cache"
	"github.com/plateful/api/internal/repositories"
	"github.com/plateful/api/internal/settlement"
)

const (
	paymentIDPrefix = "pay_"

	auditActionPaymentProcess = "payment.process"

	// Amounts are minor currency units; the rounding tolerance of one unit
	// absorbs fractional-cent currency conversion artefacts.
	amountTolerance = int64(1)
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment could not be located.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentConflict indicates the order was settled concurrently.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrOrderAlreadyPaid indicates a payment already exists for the order.
	ErrOrderAlreadyPaid = errors.New("payment: order already has a payment")
	// ErrPaymentAmountMismatch indicates the submitted amount deviates from
	// the order total beyond the rounding tolerance.
	ErrPaymentAmountMismatch = errors.New("payment: amount does not match order total")
	// ErrPaymentMethodNotFound indicates the referenced payment method is
	// missing or outside the order's tenant.
	ErrPaymentMethodNotFound = errors.New("payment method: not found")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Payments       repositories.PaymentRepository
	Orders         repositories.OrderRepository
	PaymentMethods repositories.PaymentMethodRepository
	UnitOfWork     repositories.UnitOfWork
	Provider       settlement.Provider
	Audit          AuditLogService
	Cache          cache.Store
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	payments   repositories.PaymentRepository
	orders     repositories.OrderRepository
	methods    repositories.PaymentMethodRepository
	unitOfWork repositories.UnitOfWork
	provider   settlement.Provider
	audit      AuditLogService
	cache      cache.Store
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Payments == nil {
		return nil, errors.New("payment service: payment repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.PaymentMethods == nil {
		return nil, errors.New("payment service: payment method repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: settlement provider is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	store := deps.Cache
	if store == nil {
		store = cache.NewNoopStore()
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

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &paymentService{
		payments:   deps.Payments,
		orders:     deps.Orders,
		methods:    deps.PaymentMethods,
		unitOfWork: unit,
		provider:   deps.Provider,
		audit:      deps.Audit,
		cache:      store,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

// ProcessPayment settles an order. Preconditions are verified in a fixed
// order, each with a distinct failure mode; the ledger insert and the order
// status change then commit as one transaction. The unique constraint on the
// ledger's order id is the backstop for concurrent attempts racing past the
// existence pre-check.
func (s *paymentService) ProcessPayment(ctx context.Context, cmd ProcessPaymentCommand) (Payment, error) {
	caller := cmd.Caller
	orderID := strings.TrimSpace(cmd.OrderID)
	methodID := strings.TrimSpace(cmd.PaymentMethodID)

	if caller == nil || caller.UserID == "" {
		return Payment{}, authz.ErrUnauthenticated
	}
	if !authz.Allowed(caller.Role, authz.OpPaymentProcess) {
		err := fmt.Errorf("%w: only admins and managers can process payments", authz.ErrForbidden)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeDenied, err.Error(), nil)
		return Payment{}, err
	}

	if orderID == "" {
		err := fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, err.Error(), nil)
		return Payment{}, err
	}
	if methodID == "" {
		err := fmt.Errorf("%w: payment method id is required", ErrPaymentInvalidInput)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, err.Error(), nil)
		return Payment{}, err
	}
	if cmd.Amount <= 0 {
		err := fmt.Errorf("%w: amount must be positive", ErrPaymentInvalidInput)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, err.Error(), nil)
		return Payment{}, err
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		mapped := s.mapOrderLookupError(err)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, mapped.Error(), nil)
		return Payment{}, mapped
	}

	// A scope miss reads as absence so callers cannot probe other tenants'
	// orders.
	if err := authz.Authorize(caller, authz.OpPaymentProcess, authz.Target{TenantID: order.TenantID}); err != nil {
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeDenied, err.Error(), nil)
		return Payment{}, fmt.Errorf("%w: order %s", ErrOrderNotFound, orderID)
	}

	method, err := s.methods.Get(ctx, methodID)
	if err != nil || method.TenantID != order.TenantID {
		reason := fmt.Sprintf("payment method %s not found", methodID)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		if err != nil && !isNotFound(err) {
			return Payment{}, s.mapRepositoryError(err)
		}
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentMethodNotFound, methodID)
	}

	if existing, err := s.payments.FindByOrderID(ctx, orderID); err == nil {
		reason := fmt.Sprintf("order already settled by payment %s", existing.ID)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		return Payment{}, fmt.Errorf("%w: order %s", ErrOrderAlreadyPaid, orderID)
	} else if !isNotFound(err) {
		return Payment{}, s.mapRepositoryError(err)
	}

	if order.Status != domain.OrderStatusPending {
		reason := fmt.Sprintf("order in status %s cannot be settled", order.Status)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentInvalidInput, reason)
	}

	if diff := cmd.Amount - order.Total; diff > amountTolerance || diff < -amountTolerance {
		reason := fmt.Sprintf("submitted %d, order total %d", cmd.Amount, order.Total)
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		return Payment{}, fmt.Errorf("%w: %s", ErrPaymentAmountMismatch, reason)
	}

	result, err := s.provider.Settle(ctx, settlement.Request{
		OrderID:  order.ID,
		UserID:   order.UserID,
		TenantID: order.TenantID,
		Amount:   cmd.Amount,
		Currency: order.Currency,
		Method:   method,
	})
	if err != nil {
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, err.Error(), nil)
		if errors.Is(err, settlement.ErrDeclined) {
			return Payment{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
		}
		return Payment{}, fmt.Errorf("payment: settlement failed: %w", err)
	}

	now := s.clock()
	payment := Payment{
		ID:              paymentIDPrefix + s.newID(),
		OrderID:         order.ID,
		PaymentMethodID: method.ID,
		UserID:          order.UserID,
		TenantID:        order.TenantID,
		Amount:          cmd.Amount,
		Currency:        order.Currency,
		Status:          result.Status,
		TransactionRef:  result.TransactionRef,
		CreatedAt:       now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.payments.Insert(txCtx, payment); err != nil {
			return err
		}
		if _, err := s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID: order.ID,
			From:    domain.OrderStatusPending,
			To:      domain.OrderStatusConfirmed,
			At:      now,
		}); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrPaymentConflict) {
			mapped = fmt.Errorf("%w: order %s", ErrOrderAlreadyPaid, orderID)
		}
		s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeFailed, mapped.Error(), nil)
		return Payment{}, mapped
	}

	s.invalidatePaymentViews(ctx, payment)
	s.recordAudit(ctx, caller, "orders/"+orderID, auditOutcomeSuccess, "", map[string]any{
		"paymentId":      payment.ID,
		"amount":         payment.Amount,
		"transactionRef": payment.TransactionRef,
	})

	return payment, nil
}

func (s *paymentService) GetPayment(ctx context.Context, caller *Identity, paymentID string) (Payment, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("%w: payment id is required", ErrPaymentInvalidInput)
	}

	payment, err := s.payments.FindByID(ctx, paymentID)
	if err != nil {
		return Payment{}, s.mapRepositoryError(err)
	}

	if err := authz.Authorize(caller, authz.OpPaymentRead, authz.Target{OwnerID: payment.UserID, TenantID: payment.TenantID}); err != nil {
		return Payment{}, err
	}

	return payment, nil
}

func (s *paymentService) ListPayments(ctx context.Context, caller *Identity, filter PaymentListFilter) (domain.CursorPage[Payment], error) {
	if caller == nil || caller.UserID == "" {
		return domain.CursorPage[Payment]{}, authz.ErrUnauthenticated
	}
	if err := authz.Authorize(caller, authz.OpPaymentList, authz.Target{}); err != nil {
		return domain.CursorPage[Payment]{}, err
	}

	page, err := s.payments.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Payment]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *paymentService) invalidatePaymentViews(ctx context.Context, payment Payment) {
	patterns := []string{
		"orders:" + payment.OrderID,
		"orders:user:" + payment.UserID + ":*",
		"orders:tenant:" + payment.TenantID + ":*",
		"payments:order:" + payment.OrderID,
	}
	if err := s.cache.Invalidate(ctx, patterns...); err != nil {
		s.logger(ctx, "payment.cache.invalidate.failed", map[string]any{
			"payment": payment.ID,
			"error":   err.Error(),
		})
	}
}

func (s *paymentService) recordAudit(ctx context.Context, caller *Identity, targetRef, outcome, reason string, metadata map[string]any) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, AuditLogRecord{
		Actor:      callerID(caller),
		ActorRole:  callerRole(caller),
		Action:     auditActionPaymentProcess,
		TargetRef:  targetRef,
		Outcome:    outcome,
		Reason:     reason,
		Metadata:   metadata,
		OccurredAt: s.clock(),
	})
}

func (s *paymentService) mapOrderLookupError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
	}
	return s.mapRepositoryError(err)
}

func (s *paymentService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *paymentService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
