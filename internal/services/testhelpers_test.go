package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/platform/auth"
	"github.com/plateful/api/internal/platform/cache"
	"github.com/plateful/api/internal/repositories"
)

// repoErr satisfies repositories.RepositoryError for fakes.
type repoErr struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoErr) Error() string       { return e.msg }
func (e repoErr) IsNotFound() bool    { return e.notFound }
func (e repoErr) IsConflict() bool    { return e.conflict }
func (e repoErr) IsUnavailable() bool { return e.unavailable }

func notFoundErr(format string, args ...any) error {
	return repoErr{msg: fmt.Sprintf(format, args...), notFound: true}
}

func conflictErr(format string, args ...any) error {
	return repoErr{msg: fmt.Sprintf(format, args...), conflict: true}
}

func adminIdentity() *Identity {
	return &Identity{UserID: "admin-1", Role: auth.RoleAdmin}
}

func managerIdentity(tenantID string) *Identity {
	return &Identity{UserID: "mgr-1", Role: auth.RoleManager, TenantID: tenantID}
}

func memberIdentity(userID, tenantID string) *Identity {
	return &Identity{UserID: userID, Role: auth.RoleMember, TenantID: tenantID}
}

// memCacheStore is an in-memory cache.Store. Invalidate supports the trailing
// glob the services emit by deleting on prefix.
type memCacheStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func newMemCacheStore() *memCacheStore {
	return &memCacheStore{entries: make(map[string][]byte)}
}

func (s *memCacheStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return value, nil
}

func (s *memCacheStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = append([]byte(nil), value...)
	return nil
}

func (s *memCacheStore) Invalidate(_ context.Context, patterns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pattern := range patterns {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			for key := range s.entries {
				if strings.HasPrefix(key, prefix) {
					delete(s.entries, key)
				}
			}
			continue
		}
		delete(s.entries, pattern)
	}
	return nil
}

func (s *memCacheStore) Ping(context.Context) error { return nil }

func (s *memCacheStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// memOrderRepo is a mutex-guarded in-memory order store with CAS semantics on
// status updates, mirroring the Postgres implementation.
type memOrderRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
}

func newMemOrderRepo(orders ...domain.Order) *memOrderRepo {
	repo := &memOrderRepo{orders: make(map[string]domain.Order)}
	for _, order := range orders {
		repo.orders[order.ID] = order
	}
	return repo
}

func (r *memOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return conflictErr("order %s already exists", order.ID)
	}
	r.orders[order.ID] = order
	return nil
}

func (r *memOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, notFoundErr("order %s", orderID)
	}
	return order, nil
}

func (r *memOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Order
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if filter.TenantID != "" && order.TenantID != filter.TenantID {
			continue
		}
		items = append(items, order)
	}
	return domain.CursorPage[domain.Order]{Items: items}, nil
}

func (r *memOrderRepo) UpdateStatus(_ context.Context, update repositories.OrderStatusUpdate) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[update.OrderID]
	if !ok {
		return domain.Order{}, notFoundErr("order %s", update.OrderID)
	}
	if order.Status != update.From {
		return domain.Order{}, conflictErr("order %s status is %s, expected %s", update.OrderID, order.Status, update.From)
	}
	order.Status = update.To
	order.UpdatedAt = update.At
	if update.To == domain.OrderStatusCancelled {
		at := update.At
		order.CancelledAt = &at
		order.CancelReason = update.CancelReason
	}
	r.orders[update.OrderID] = order
	return order, nil
}

// memPaymentRepo enforces the one-payment-per-order uniqueness the schema
// guarantees in production.
type memPaymentRepo struct {
	mu       sync.Mutex
	payments map[string]domain.Payment
	byOrder  map[string]string
}

func newMemPaymentRepo(payments ...domain.Payment) *memPaymentRepo {
	repo := &memPaymentRepo{
		payments: make(map[string]domain.Payment),
		byOrder:  make(map[string]string),
	}
	for _, payment := range payments {
		repo.payments[payment.ID] = payment
		repo.byOrder[payment.OrderID] = payment.ID
	}
	return repo
}

func (r *memPaymentRepo) Insert(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byOrder[payment.OrderID]; exists {
		return conflictErr("duplicate payment for order %s", payment.OrderID)
	}
	r.payments[payment.ID] = payment
	r.byOrder[payment.OrderID] = payment.ID
	return nil
}

func (r *memPaymentRepo) FindByID(_ context.Context, paymentID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[paymentID]
	if !ok {
		return domain.Payment{}, notFoundErr("payment %s", paymentID)
	}
	return payment, nil
}

func (r *memPaymentRepo) FindByOrderID(_ context.Context, orderID string) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byOrder[orderID]
	if !ok {
		return domain.Payment{}, notFoundErr("payment for order %s", orderID)
	}
	return r.payments[id], nil
}

func (r *memPaymentRepo) List(_ context.Context, filter repositories.PaymentListFilter) (domain.CursorPage[domain.Payment], error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.Payment
	for _, payment := range r.payments {
		if filter.UserID != "" && payment.UserID != filter.UserID {
			continue
		}
		if filter.TenantID != "" && payment.TenantID != filter.TenantID {
			continue
		}
		items = append(items, payment)
	}
	return domain.CursorPage[domain.Payment]{Items: items}, nil
}

type memMethodRepo struct {
	mu      sync.Mutex
	methods map[string]domain.PaymentMethod
}

func newMemMethodRepo(methods ...domain.PaymentMethod) *memMethodRepo {
	repo := &memMethodRepo{methods: make(map[string]domain.PaymentMethod)}
	for _, method := range methods {
		repo.methods[method.ID] = method
	}
	return repo
}

func (r *memMethodRepo) Insert(_ context.Context, method domain.PaymentMethod) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if method.IsDefault {
		r.clearDefaultLocked(method.TenantID)
	}
	r.methods[method.ID] = method
	return nil
}

func (r *memMethodRepo) Get(_ context.Context, methodID string) (domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	method, ok := r.methods[methodID]
	if !ok {
		return domain.PaymentMethod{}, notFoundErr("payment method %s", methodID)
	}
	return method, nil
}

func (r *memMethodRepo) List(_ context.Context, filter repositories.PaymentMethodListFilter) ([]domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []domain.PaymentMethod
	for _, method := range r.methods {
		if filter.TenantID != "" && method.TenantID != filter.TenantID {
			continue
		}
		if filter.Type != nil && method.Type != *filter.Type {
			continue
		}
		items = append(items, method)
	}
	return items, nil
}

func (r *memMethodRepo) Delete(_ context.Context, methodID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.methods[methodID]; !ok {
		return notFoundErr("payment method %s", methodID)
	}
	delete(r.methods, methodID)
	return nil
}

func (r *memMethodRepo) SetDefault(_ context.Context, tenantID, methodID string, now time.Time) (domain.PaymentMethod, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	method, ok := r.methods[methodID]
	if !ok || method.TenantID != tenantID {
		return domain.PaymentMethod{}, notFoundErr("payment method %s in tenant %s", methodID, tenantID)
	}
	r.clearDefaultLocked(tenantID)
	method.IsDefault = true
	method.UpdatedAt = now
	r.methods[methodID] = method
	return method, nil
}

func (r *memMethodRepo) clearDefaultLocked(tenantID string) {
	for id, method := range r.methods {
		if method.TenantID == tenantID && method.IsDefault {
			method.IsDefault = false
			r.methods[id] = method
		}
	}
}

type memMenuRepo struct {
	items map[string]domain.MenuItem
}

func newMemMenuRepo(items ...domain.MenuItem) *memMenuRepo {
	repo := &memMenuRepo{items: make(map[string]domain.MenuItem)}
	for _, item := range items {
		repo.items[item.ID] = item
	}
	return repo
}

func (r *memMenuRepo) GetByIDs(_ context.Context, tenantID string, itemIDs []string) (map[string]domain.MenuItem, error) {
	found := make(map[string]domain.MenuItem)
	for _, id := range itemIDs {
		item, ok := r.items[id]
		if ok && item.TenantID == tenantID {
			found[id] = item
		}
	}
	return found, nil
}

// recordingAudit captures audit records for assertions.
type recordingAudit struct {
	mu      sync.Mutex
	records []AuditLogRecord
}

func (a *recordingAudit) Record(_ context.Context, record AuditLogRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, record)
}

func (a *recordingAudit) List(context.Context, AuditLogFilter) (domain.CursorPage[AuditLogEntry], error) {
	return domain.CursorPage[AuditLogEntry]{}, nil
}

func (a *recordingAudit) outcomes(action string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var outcomes []string
	for _, record := range a.records {
		if record.Action == action {
			outcomes = append(outcomes, record.Outcome)
		}
	}
	return outcomes
}

func sequentialIDs(prefix string) func() string {
	var mu sync.Mutex
	counter := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("%s%03d", prefix, counter)
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func containsOutcome(outcomes []string, want string) bool {
	for _, outcome := range outcomes {
		if strings.EqualFold(outcome, want) {
			return true
		}
	}
	return false
}
