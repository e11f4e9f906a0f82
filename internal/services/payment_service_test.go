package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
	"github.com/plateful/api/internal/settlement"
)

type paymentFixture struct {
	orders   *memOrderRepo
	payments *memPaymentRepo
	methods  *memMethodRepo
	audit    *recordingAudit
	svc      PaymentService
}

func newPaymentFixture(t *testing.T, orders ...domain.Order) *paymentFixture {
	t.Helper()

	if len(orders) == 0 {
		orders = []domain.Order{{
			ID:       "ord_1",
			UserID:   "user-1",
			TenantID: "tenant-1",
			Status:   domain.OrderStatusPending,
			Total:    4599,
			Currency: "usd",
		}}
	}

	fixture := &paymentFixture{
		orders:   newMemOrderRepo(orders...),
		payments: newMemPaymentRepo(),
		methods: newMemMethodRepo(domain.PaymentMethod{
			ID:       "pm_1",
			TenantID: "tenant-1",
			Type:     domain.PaymentMethodTypeCreditCard,
			Provider: domain.PaymentProviderVisa,
			Last4:    "4242",
		}),
		audit: &recordingAudit{},
	}

	svc, err := NewPaymentService(PaymentServiceDeps{
		Payments:       fixture.payments,
		Orders:         fixture.orders,
		PaymentMethods: fixture.methods,
		Provider:       settlement.NewImmediateProvider(),
		Audit:          fixture.audit,
		Clock:          fixedClock(testTime),
		IDGenerator:    sequentialIDs("p"),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}
	fixture.svc = svc
	return fixture
}

func TestProcessPaymentSettlesOrder(t *testing.T) {
	fixture := newPaymentFixture(t)

	payment, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
		Caller:          managerIdentity("tenant-1"),
		OrderID:         "ord_1",
		PaymentMethodID: "pm_1",
		Amount:          4599,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if payment.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected completed payment, got %s", payment.Status)
	}
	if payment.TransactionRef == "" {
		t.Fatal("expected a generated transaction reference")
	}
	if payment.OrderID != "ord_1" || payment.Amount != 4599 {
		t.Fatalf("unexpected payment: %+v", payment)
	}

	order, _ := fixture.orders.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed after settlement, got %s", order.Status)
	}

	stored, err := fixture.payments.FindByOrderID(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("payment not in ledger: %v", err)
	}
	if stored.ID != payment.ID {
		t.Fatalf("ledger holds %s, expected %s", stored.ID, payment.ID)
	}
	if !containsOutcome(fixture.audit.outcomes("payment.process"), "success") {
		t.Fatal("expected a success audit record")
	}
}

func TestProcessPaymentPreconditionOrder(t *testing.T) {
	t.Run("unauthenticated", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, authz.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("member forbidden", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          memberIdentity("user-1", "tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, authz.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("invalid input leaves an audit trail", func(t *testing.T) {
		cases := []struct {
			name string
			cmd  ProcessPaymentCommand
		}{
			{"empty order id", ProcessPaymentCommand{Caller: managerIdentity("tenant-1"), PaymentMethodID: "pm_1", Amount: 4599}},
			{"empty method id", ProcessPaymentCommand{Caller: managerIdentity("tenant-1"), OrderID: "ord_1", Amount: 4599}},
			{"non-positive amount", ProcessPaymentCommand{Caller: managerIdentity("tenant-1"), OrderID: "ord_1", PaymentMethodID: "pm_1"}},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				fixture := newPaymentFixture(t)
				_, err := fixture.svc.ProcessPayment(context.Background(), tc.cmd)
				if !errors.Is(err, ErrPaymentInvalidInput) {
					t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
				}
				if !containsOutcome(fixture.audit.outcomes("payment.process"), "failed") {
					t.Fatalf("expected a failed audit entry, records: %v", fixture.audit.outcomes("payment.process"))
				}
			})
		}
	})

	t.Run("missing order", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_missing",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("cross-tenant order reads as missing", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-2"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("missing payment method", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_missing",
			Amount:          4599,
		})
		if !errors.Is(err, ErrPaymentMethodNotFound) {
			t.Fatalf("expected ErrPaymentMethodNotFound, got %v", err)
		}
	})

	t.Run("method from another tenant reads as missing", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		fixture.methods.Insert(context.Background(), domain.PaymentMethod{
			ID: "pm_other", TenantID: "tenant-2",
			Type: domain.PaymentMethodTypeCreditCard, Provider: domain.PaymentProviderVisa, Last4: "1111",
		})
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_other",
			Amount:          4599,
		})
		if !errors.Is(err, ErrPaymentMethodNotFound) {
			t.Fatalf("expected ErrPaymentMethodNotFound, got %v", err)
		}
	})

	t.Run("already paid", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		if _, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		}); err != nil {
			t.Fatalf("first settlement failed: %v", err)
		}

		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, ErrOrderAlreadyPaid) {
			t.Fatalf("expected ErrOrderAlreadyPaid, got %v", err)
		}
	})

	t.Run("non-pending order", func(t *testing.T) {
		fixture := newPaymentFixture(t, domain.Order{
			ID: "ord_1", UserID: "user-1", TenantID: "tenant-1",
			Status: domain.OrderStatusPreparing, Total: 4599, Currency: "usd",
		})
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4599,
		})
		if !errors.Is(err, ErrPaymentInvalidInput) {
			t.Fatalf("expected ErrPaymentInvalidInput, got %v", err)
		}
	})

	t.Run("amount mismatch", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4602,
		})
		if !errors.Is(err, ErrPaymentAmountMismatch) {
			t.Fatalf("expected ErrPaymentAmountMismatch, got %v", err)
		}
	})

	t.Run("amount within tolerance", func(t *testing.T) {
		fixture := newPaymentFixture(t)
		payment, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
			Caller:          managerIdentity("tenant-1"),
			OrderID:         "ord_1",
			PaymentMethodID: "pm_1",
			Amount:          4600,
		})
		if err != nil {
			t.Fatalf("one minor unit over should settle: %v", err)
		}
		if payment.Amount != 4600 {
			t.Fatalf("expected submitted amount on ledger, got %d", payment.Amount)
		}
	})
}

func TestProcessPaymentConcurrentAttempts(t *testing.T) {
	fixture := newPaymentFixture(t)

	const attempts = 8
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fixture.svc.ProcessPayment(context.Background(), ProcessPaymentCommand{
				Caller:          managerIdentity("tenant-1"),
				OrderID:         "ord_1",
				PaymentMethodID: "pm_1",
				Amount:          4599,
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var succeeded, rejected int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrOrderAlreadyPaid), errors.Is(err, ErrPaymentInvalidInput):
			rejected++
		default:
			t.Fatalf("unexpected error kind: %v", err)
		}
	}

	if succeeded != 1 {
		t.Fatalf("expected exactly one settlement to win, got %d", succeeded)
	}
	if rejected != attempts-1 {
		t.Fatalf("expected %d rejections, got %d", attempts-1, rejected)
	}

	order, _ := fixture.orders.FindByID(context.Background(), "ord_1")
	if order.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed order, got %s", order.Status)
	}
}

func TestGetPayment(t *testing.T) {
	payment := domain.Payment{
		ID: "pay_1", OrderID: "ord_1", UserID: "user-1", TenantID: "tenant-1",
		Amount: 4599, Status: domain.PaymentStatusCompleted,
	}
	fixture := newPaymentFixture(t)
	fixture.payments.Insert(context.Background(), payment)

	if _, err := fixture.svc.GetPayment(context.Background(), adminIdentity(), "pay_1"); err != nil {
		t.Fatalf("admin should read any payment: %v", err)
	}
	if _, err := fixture.svc.GetPayment(context.Background(), memberIdentity("user-1", "tenant-1"), "pay_1"); err != nil {
		t.Fatalf("owner should read own payment: %v", err)
	}
	if _, err := fixture.svc.GetPayment(context.Background(), memberIdentity("user-2", "tenant-1"), "pay_1"); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another member, got %v", err)
	}
	if _, err := fixture.svc.GetPayment(context.Background(), managerIdentity("tenant-1"), "pay_1"); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for a manager who does not own the payment, got %v", err)
	}
	if _, err := fixture.svc.GetPayment(context.Background(), adminIdentity(), "pay_missing"); !errors.Is(err, ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestGetPaymentOwningManager(t *testing.T) {
	fixture := newPaymentFixture(t)
	fixture.payments.Insert(context.Background(), domain.Payment{
		ID: "pay_2", OrderID: "ord_2", UserID: "mgr-1", TenantID: "tenant-1",
		Amount: 2100, Status: domain.PaymentStatusCompleted,
	})

	payment, err := fixture.svc.GetPayment(context.Background(), managerIdentity("tenant-1"), "pay_2")
	if err != nil {
		t.Fatalf("manager should read a payment on their own order: %v", err)
	}
	if payment.UserID != "mgr-1" {
		t.Fatalf("unexpected payment owner: %q", payment.UserID)
	}
}

func TestListPaymentsAdminOnly(t *testing.T) {
	fixture := newPaymentFixture(t)
	fixture.payments.Insert(context.Background(), domain.Payment{
		ID: "pay_1", OrderID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Amount: 4599,
	})

	page, err := fixture.svc.ListPayments(context.Background(), adminIdentity(), PaymentListFilter{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(page.Items))
	}

	if _, err := fixture.svc.ListPayments(context.Background(), managerIdentity("tenant-1"), PaymentListFilter{}); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for manager, got %v", err)
	}
	if _, err := fixture.svc.ListPayments(context.Background(), nil, PaymentListFilter{}); !errors.Is(err, authz.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}
