package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// Order is the durable record produced from a cart of menu selections.
// Total is denominated in minor currency units and equals the sum of the
// line item totals at creation time; it never changes afterwards.
type Order struct {
	ID           string
	UserID       string
	TenantID     string
	Status       OrderStatus
	Total        int64
	Currency     string
	Phone        string
	Instructions string
	Items        []OrderLineItem
	CreatedAt    time.Time
	UpdatedAt    time.Time
	CancelledAt  *time.Time
	CancelReason *string
}

// OrderLineItem snapshots one menu selection. UnitPrice is copied from the
// catalog at order creation; later catalog price changes do not touch it.
type OrderLineItem struct {
	ID         string
	OrderID    string
	MenuItemID string
	Name       string
	Quantity   int
	UnitPrice  int64
	Total      int64
	Note       string
}

// MenuItem is the catalog entry referenced by order line items.
type MenuItem struct {
	ID        string
	TenantID  string
	Name      string
	Price     int64
	Available bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentMethodType enumerates the supported instrument kinds.
type PaymentMethodType string

const (
	PaymentMethodTypeCreditCard PaymentMethodType = "credit_card"
	PaymentMethodTypeDebitCard  PaymentMethodType = "debit_card"
	PaymentMethodTypeWallet     PaymentMethodType = "wallet"
)

// PaymentProvider enumerates the upstream processors a method can belong to.
type PaymentProvider string

const (
	PaymentProviderVisa       PaymentProvider = "visa"
	PaymentProviderMastercard PaymentProvider = "mastercard"
	PaymentProviderAmex       PaymentProvider = "amex"
	PaymentProviderPaypal     PaymentProvider = "paypal"
)

// PaymentMethod stores a tokenised instrument reference without sensitive
// card data; Last4 is the only card detail ever persisted. At most one method
// per tenant carries IsDefault.
type PaymentMethod struct {
	ID        string
	TenantID  string
	UserID    string
	Type      PaymentMethodType
	Provider  PaymentProvider
	Last4     string
	IsDefault bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentStatus describes the settlement state of a payment record.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// Payment records a settlement against exactly one order. The order
// relationship is 1:1, enforced by a uniqueness constraint on OrderID; a
// payment is never updated in place.
type Payment struct {
	ID              string
	OrderID         string
	PaymentMethodID string
	UserID          string
	TenantID        string
	Amount          int64
	Currency        string
	Status          PaymentStatus
	TransactionRef  string
	CreatedAt       time.Time
}

// AuditLogEntry is an immutable record of a settlement or order mutation
// attempt, successful or not.
type AuditLogEntry struct {
	ID        string
	Actor     string
	ActorRole string
	Action    string
	TargetRef string
	Outcome   string
	Reason    string
	Metadata  map[string]any
	CreatedAt time.Time
}
