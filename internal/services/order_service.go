package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/platform/cache"
	"github.com/plateful/api/internal/repositories"
)

const (
	orderIDPrefix    = "ord_"
	lineItemIDPrefix = "oli_"

	defaultCurrency = "usd"

	orderCacheTTL = 5 * time.Minute

	auditActionOrderCreate     = "order.create"
	auditActionOrderTransition = "order.status.transition"
	auditActionOrderCancel     = "order.cancel"

	auditOutcomeSuccess = "success"
	auditOutcomeDenied  = "denied"
	auditOutcomeFailed  = "failed"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the order changed underneath the caller.
	ErrOrderConflict = errors.New("order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	MenuItems   repositories.MenuItemRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Cache       cache.Store
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	menuItems  repositories.MenuItemRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	cache      cache.Store
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.MenuItems == nil {
		return nil, errors.New("order service: menu item repository is required")
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

	return &orderService{
		orders:     deps.Orders,
		menuItems:  deps.MenuItems,
		unitOfWork: unit,
		audit:      deps.Audit,
		cache:      store,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	caller := cmd.Caller
	tenantID := strings.TrimSpace(cmd.TenantID)

	if err := authz.Authorize(caller, authz.OpOrderCreate, authz.Target{OwnerID: callerID(caller)}); err != nil {
		s.recordAudit(ctx, caller, auditActionOrderCreate, "orders/"+tenantID, auditOutcomeDenied, err.Error(), nil)
		return Order{}, err
	}
	if tenantID == "" {
		return Order{}, fmt.Errorf("%w: tenant id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: order must contain at least one item", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Phone) == "" {
		return Order{}, fmt.Errorf("%w: contact phone is required", ErrOrderInvalidInput)
	}

	itemIDs := make([]string, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		id := strings.TrimSpace(item.MenuItemID)
		if id == "" {
			return Order{}, fmt.Errorf("%w: menu item id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return Order{}, fmt.Errorf("%w: quantity for item %s must be positive", ErrOrderInvalidInput, id)
		}
		itemIDs = append(itemIDs, id)
	}

	catalog, err := s.menuItems.GetByIDs(ctx, tenantID, itemIDs)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	orderID := orderIDPrefix + s.newID()

	// Prices come from the current catalog; client-submitted amounts are
	// never trusted.
	var total int64
	lines := make([]OrderLineItem, 0, len(cmd.Items))
	for _, input := range cmd.Items {
		menuItem, ok := catalog[strings.TrimSpace(input.MenuItemID)]
		if !ok {
			return Order{}, fmt.Errorf("%w: menu item %s", ErrOrderNotFound, input.MenuItemID)
		}
		if !menuItem.Available {
			return Order{}, fmt.Errorf("%w: menu item %s is unavailable", ErrOrderInvalidInput, menuItem.ID)
		}
		lineTotal := menuItem.Price * int64(input.Quantity)
		lines = append(lines, OrderLineItem{
			ID:         lineItemIDPrefix + s.newID(),
			OrderID:    orderID,
			MenuItemID: menuItem.ID,
			Name:       menuItem.Name,
			Quantity:   input.Quantity,
			UnitPrice:  menuItem.Price,
			Total:      lineTotal,
			Note:       strings.TrimSpace(input.Note),
		})
		total += lineTotal
	}

	currency := strings.ToLower(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	order := Order{
		ID:           orderID,
		UserID:       caller.UserID,
		TenantID:     tenantID,
		Status:       domain.OrderStatusPending,
		Total:        total,
		Currency:     currency,
		Phone:        strings.TrimSpace(cmd.Phone),
		Instructions: strings.TrimSpace(cmd.Instructions),
		Items:        lines,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		s.recordAudit(ctx, caller, auditActionOrderCreate, "orders/"+orderID, auditOutcomeFailed, err.Error(), nil)
		return Order{}, err
	}

	s.invalidateOrderViews(ctx, order)
	s.recordAudit(ctx, caller, auditActionOrderCreate, "orders/"+orderID, auditOutcomeSuccess, "", map[string]any{
		"tenantId": tenantID,
		"total":    total,
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, caller *Identity, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, hit := s.cachedOrder(ctx, orderID)
	if !hit {
		fetched, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return Order{}, s.mapRepositoryError(err)
		}
		order = fetched
		s.storeCachedOrder(ctx, order)
	}

	if err := authz.Authorize(caller, authz.OpOrderRead, authz.Target{OwnerID: order.UserID, TenantID: order.TenantID}); err != nil {
		return Order{}, err
	}

	return order, nil
}

func (s *orderService) List(ctx context.Context, caller *Identity, filter OrderListFilter) (domain.CursorPage[Order], error) {
	scoped, err := s.scopeListFilter(caller, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, err
	}

	page, err := s.orders.List(ctx, scoped)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target, ok := domain.ParseOrderStatus(string(cmd.TargetStatus))
	if !ok {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.TargetStatus)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := authz.Authorize(cmd.Caller, authz.OpOrderTransition, authz.Target{OwnerID: order.UserID, TenantID: order.TenantID}); err != nil {
		s.recordAudit(ctx, cmd.Caller, auditActionOrderTransition, "orders/"+orderID, auditOutcomeDenied, err.Error(), nil)
		return Order{}, err
	}

	if !order.Status.CanTransitionTo(target) {
		reason := fmt.Sprintf("invalid status transition: %s to %s", order.Status, target)
		s.recordAudit(ctx, cmd.Caller, auditActionOrderTransition, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		return Order{}, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, order.Status, target)
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      orderID,
		From:         order.Status,
		To:           target,
		At:           s.clock(),
		CancelReason: cancelReason(target, cmd.Reason),
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		s.recordAudit(ctx, cmd.Caller, auditActionOrderTransition, "orders/"+orderID, auditOutcomeFailed, mapped.Error(), nil)
		return Order{}, mapped
	}

	s.invalidateOrderViews(ctx, updated)
	s.recordAudit(ctx, cmd.Caller, auditActionOrderTransition, "orders/"+orderID, auditOutcomeSuccess, "", map[string]any{
		"from": string(order.Status),
		"to":   string(target),
	})

	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}

	if err := authz.Authorize(cmd.Caller, authz.OpOrderCancel, authz.Target{OwnerID: order.UserID, TenantID: order.TenantID}); err != nil {
		s.recordAudit(ctx, cmd.Caller, auditActionOrderCancel, "orders/"+orderID, auditOutcomeDenied, err.Error(), nil)
		return Order{}, err
	}

	// Members may only back out before the kitchen is involved; staff can
	// cancel any order that is still cancellable.
	if cmd.Caller.HasRole(auth.RoleMember) && order.Status != domain.OrderStatusPending {
		reason := "members may only cancel pending orders"
		s.recordAudit(ctx, cmd.Caller, auditActionOrderCancel, "orders/"+orderID, auditOutcomeDenied, reason, nil)
		return Order{}, fmt.Errorf("%w: %s", authz.ErrForbidden, reason)
	}

	if !order.Status.Cancellable() {
		reason := fmt.Sprintf("order in status %s cannot be cancelled", order.Status)
		s.recordAudit(ctx, cmd.Caller, auditActionOrderCancel, "orders/"+orderID, auditOutcomeFailed, reason, nil)
		return Order{}, fmt.Errorf("%w: %s", ErrOrderInvalidState, reason)
	}

	updated, err := s.orders.UpdateStatus(ctx, repositories.OrderStatusUpdate{
		OrderID:      orderID,
		From:         order.Status,
		To:           domain.OrderStatusCancelled,
		At:           s.clock(),
		CancelReason: cancelReason(domain.OrderStatusCancelled, cmd.Reason),
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		s.recordAudit(ctx, cmd.Caller, auditActionOrderCancel, "orders/"+orderID, auditOutcomeFailed, mapped.Error(), nil)
		return Order{}, mapped
	}

	s.invalidateOrderViews(ctx, updated)
	s.recordAudit(ctx, cmd.Caller, auditActionOrderCancel, "orders/"+orderID, auditOutcomeSuccess, "", map[string]any{
		"from": string(order.Status),
	})

	return updated, nil
}

func (s *orderService) scopeListFilter(caller *Identity, filter OrderListFilter) (OrderListFilter, error) {
	if caller == nil || caller.UserID == "" {
		return OrderListFilter{}, authz.ErrUnauthenticated
	}

	switch caller.Role {
	case auth.RoleAdmin:
		// Admins may list across tenants and users.
	case auth.RoleManager:
		if err := authz.Authorize(caller, authz.OpOrderList, authz.Target{TenantID: caller.TenantID}); err != nil {
			return OrderListFilter{}, err
		}
		filter.TenantID = caller.TenantID
	default:
		if err := authz.Authorize(caller, authz.OpOrderList, authz.Target{OwnerID: caller.UserID}); err != nil {
			return OrderListFilter{}, err
		}
		filter.UserID = caller.UserID
	}

	return filter, nil
}

// cachedOrder serves reads from the cache when a fresh copy exists. Cache
// failures degrade to a repository read, never to an error.
func (s *orderService) cachedOrder(ctx context.Context, orderID string) (Order, bool) {
	raw, err := s.cache.Get(ctx, orderCacheKey(orderID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger(ctx, "order.cache.read.failed", map[string]any{
				"order": orderID,
				"error": err.Error(),
			})
		}
		return Order{}, false
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		s.logger(ctx, "order.cache.decode.failed", map[string]any{
			"order": orderID,
			"error": err.Error(),
		})
		return Order{}, false
	}
	return order, true
}

func (s *orderService) storeCachedOrder(ctx context.Context, order Order) {
	raw, err := json.Marshal(order)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, orderCacheKey(order.ID), raw, orderCacheTTL); err != nil {
		s.logger(ctx, "order.cache.write.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func orderCacheKey(orderID string) string {
	return "orders:" + orderID
}

func (s *orderService) invalidateOrderViews(ctx context.Context, order Order) {
	patterns := []string{
		orderCacheKey(order.ID),
		"orders:user:" + order.UserID + ":*",
		"orders:tenant:" + order.TenantID + ":*",
	}
	if err := s.cache.Invalidate(ctx, patterns...); err != nil {
		s.logger(ctx, "order.cache.invalidate.failed", map[string]any{
			"order": order.ID,
			"error": err.Error(),
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, caller *Identity, action, targetRef, outcome, reason string, metadata map[string]any) {
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
		Metadata:   metadata,
		OccurredAt: s.clock(),
	})
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func cancelReason(target OrderStatus, reason string) *string {
	if target != domain.OrderStatusCancelled {
		return nil
	}
	trimmed := strings.TrimSpace(reason)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func callerID(caller *Identity) string {
	if caller == nil {
		return ""
	}
	return caller.UserID
}

func callerRole(caller *Identity) string {
	if caller == nil {
		return ""
	}
	return caller.Role
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
