package settlement

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	domain "github.com/plateful/api/internal/domain"
)

// ImmediateProvider settles every charge synchronously and unconditionally.
// It stands in for an external processor in deployments where payment is
// collected on delivery or handled out of band.
type ImmediateProvider struct {
	newRef func() string
}

var _ Provider = (*ImmediateProvider)(nil)

// ImmediateOption customises the provider, primarily for tests.
type ImmediateOption func(*ImmediateProvider)

// WithReferenceGenerator overrides transaction reference generation.
func WithReferenceGenerator(fn func() string) ImmediateOption {
	return func(p *ImmediateProvider) {
		if fn != nil {
			p.newRef = fn
		}
	}
}

// NewImmediateProvider constructs the synchronous provider.
func NewImmediateProvider(opts ...ImmediateOption) *ImmediateProvider {
	p := &ImmediateProvider{
		newRef: func() string {
			return "txn_" + uuid.NewString()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Name identifies the provider in configuration and logs.
func (p *ImmediateProvider) Name() string { return "immediate" }

// Settle completes the charge immediately with a fresh transaction reference.
func (p *ImmediateProvider) Settle(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if req.Amount < 0 {
		return Result{}, fmt.Errorf("settlement: negative amount %d for order %s", req.Amount, req.OrderID)
	}

	return Result{
		TransactionRef: p.newRef(),
		Status:         domain.PaymentStatusCompleted,
	}, nil
}
