// Package settlement abstracts the payment settlement step so the service
// layer stays ignorant of how a charge is actually executed.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/plateful/api/internal/domain"
)

// ErrDeclined indicates the provider refused the charge. The caller records a
// failed attempt and surfaces the decline to the client.
var ErrDeclined = errors.New("settlement: declined")

// Request carries everything a provider needs to settle an order.
type Request struct {
	OrderID  string
	UserID   string
	TenantID string
	Amount   int64
	Currency string
	Method   domain.PaymentMethod
}

// Result reports the provider's settlement outcome.
type Result struct {
	TransactionRef string
	Status         domain.PaymentStatus
}

// Provider executes a settlement. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Settle(ctx context.Context, req Request) (Result, error)
}

// New resolves a provider by its configured name.
func New(name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "immediate":
		return NewImmediateProvider(), nil
	default:
		return nil, fmt.Errorf("settlement: unknown provider %q", name)
	}
}
