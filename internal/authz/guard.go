// Package authz enforces role-based access rules for order, payment, and
// payment-method operations. Every protected service call passes through
// Authorize before touching storage.
package authz

import (
	"errors"
	"fmt"

	"github.com/plateful/api/internal/platform/auth"
)

var (
	// ErrUnauthenticated indicates the caller identity is missing.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
	// ErrForbidden indicates the caller is authenticated but not permitted.
	ErrForbidden = errors.New("authz: forbidden")
)

// Operation identifies a protected action within the platform.
type Operation string

const (
	OpOrderCreate         Operation = "order.create"
	OpOrderRead           Operation = "order.read"
	OpOrderList           Operation = "order.list"
	OpOrderTransition     Operation = "order.transition"
	OpOrderCancel         Operation = "order.cancel"
	OpPaymentProcess      Operation = "payment.process"
	OpPaymentRead         Operation = "payment.read"
	OpPaymentList         Operation = "payment.list"
	OpPaymentMethodCreate Operation = "payment_method.create"
	OpPaymentMethodRead   Operation = "payment_method.read"
	OpPaymentMethodList   Operation = "payment_method.list"
	OpPaymentMethodUpdate Operation = "payment_method.update"
	OpPaymentMethodDelete Operation = "payment_method.delete"
	OpAuditLogList        Operation = "audit_log.list"
)

// Scope narrows an allowed operation to a subset of targets.
type Scope int

const (
	// ScopeAny grants access to any target.
	ScopeAny Scope = iota
	// ScopeOwn restricts access to targets the caller owns.
	ScopeOwn
	// ScopeTenant restricts access to targets within the caller's tenant.
	ScopeTenant
)

// Target describes the resource an operation acts on. Zero-value fields are
// treated as "not applicable" for scope checks that do not need them.
type Target struct {
	OwnerID  string
	TenantID string
}

type ruleKey struct {
	op   Operation
	role string
}

// rules is the complete permission table. An absent entry means the role may
// not perform the operation at all.
var rules = map[ruleKey]Scope{
	{OpOrderCreate, auth.RoleAdmin}:   ScopeOwn,
	{OpOrderCreate, auth.RoleManager}: ScopeOwn,
	{OpOrderCreate, auth.RoleMember}:  ScopeOwn,

	{OpOrderRead, auth.RoleAdmin}:   ScopeAny,
	{OpOrderRead, auth.RoleManager}: ScopeTenant,
	{OpOrderRead, auth.RoleMember}:  ScopeOwn,

	{OpOrderList, auth.RoleAdmin}:   ScopeAny,
	{OpOrderList, auth.RoleManager}: ScopeTenant,
	{OpOrderList, auth.RoleMember}:  ScopeOwn,

	{OpOrderTransition, auth.RoleAdmin}:   ScopeAny,
	{OpOrderTransition, auth.RoleManager}: ScopeTenant,

	{OpOrderCancel, auth.RoleAdmin}:   ScopeAny,
	{OpOrderCancel, auth.RoleManager}: ScopeTenant,
	{OpOrderCancel, auth.RoleMember}:  ScopeOwn,

	{OpPaymentProcess, auth.RoleAdmin}:   ScopeAny,
	{OpPaymentProcess, auth.RoleManager}: ScopeTenant,

	{OpPaymentRead, auth.RoleAdmin}:   ScopeAny,
	{OpPaymentRead, auth.RoleManager}: ScopeOwn,
	{OpPaymentRead, auth.RoleMember}:  ScopeOwn,

	{OpPaymentList, auth.RoleAdmin}: ScopeAny,

	{OpPaymentMethodCreate, auth.RoleAdmin}: ScopeAny,

	{OpPaymentMethodRead, auth.RoleAdmin}:   ScopeAny,
	{OpPaymentMethodRead, auth.RoleManager}: ScopeTenant,

	{OpPaymentMethodList, auth.RoleAdmin}:   ScopeAny,
	{OpPaymentMethodList, auth.RoleManager}: ScopeTenant,

	{OpPaymentMethodUpdate, auth.RoleAdmin}: ScopeAny,

	{OpPaymentMethodDelete, auth.RoleAdmin}: ScopeAny,

	{OpAuditLogList, auth.RoleAdmin}: ScopeAny,
}

// Authorize checks whether the caller may perform op against target. It
// returns ErrUnauthenticated when the caller is nil and ErrForbidden when the
// permission table or scope check denies the action.
func Authorize(caller *auth.Identity, op Operation, target Target) error {
	if caller == nil || caller.UserID == "" {
		return ErrUnauthenticated
	}

	scope, ok := rules[ruleKey{op, caller.Role}]
	if !ok {
		return fmt.Errorf("%w: role %q may not perform %s", ErrForbidden, caller.Role, op)
	}

	switch scope {
	case ScopeAny:
		return nil
	case ScopeOwn:
		if target.OwnerID != "" && target.OwnerID == caller.UserID {
			return nil
		}
		return fmt.Errorf("%w: %s is limited to the caller's own resources", ErrForbidden, op)
	case ScopeTenant:
		if caller.TenantID != "" && target.TenantID != "" && target.TenantID == caller.TenantID {
			return nil
		}
		return fmt.Errorf("%w: %s is limited to the caller's tenant", ErrForbidden, op)
	default:
		return ErrForbidden
	}
}

// Allowed reports whether the role has any grant for op, regardless of scope.
// Handlers use it to gate routes before a target is known.
func Allowed(role string, op Operation) bool {
	_, ok := rules[ruleKey{op, role}]
	return ok
}
