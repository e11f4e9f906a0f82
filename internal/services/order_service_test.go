package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plateful/api/internal/authz"
	domain "github.com/plateful/api/internal/domain"
)

var testTime = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

func newTestOrderService(t *testing.T, orders *memOrderRepo, menu *memMenuRepo, audit AuditLogService) OrderService {
	t.Helper()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		MenuItems:   menu,
		Audit:       audit,
		Clock:       fixedClock(testTime),
		IDGenerator: sequentialIDs("id"),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}
	return svc
}

func testMenu() *memMenuRepo {
	return newMemMenuRepo(
		domain.MenuItem{ID: "mi_1", TenantID: "tenant-1", Name: "Margherita", Price: 1250, Available: true},
		domain.MenuItem{ID: "mi_2", TenantID: "tenant-1", Name: "Tiramisu", Price: 650, Available: true},
		domain.MenuItem{ID: "mi_3", TenantID: "tenant-1", Name: "Seasonal Special", Price: 1800, Available: false},
	)
}

func TestNewOrderService(t *testing.T) {
	if _, err := NewOrderService(OrderServiceDeps{MenuItems: testMenu()}); err == nil {
		t.Fatal("expected error when order repository missing")
	}
	if _, err := NewOrderService(OrderServiceDeps{Orders: newMemOrderRepo()}); err == nil {
		t.Fatal("expected error when menu item repository missing")
	}
}

func TestOrderServiceCreate(t *testing.T) {
	member := memberIdentity("user-1", "tenant-1")

	t.Run("prices from catalog", func(t *testing.T) {
		orders := newMemOrderRepo()
		audit := &recordingAudit{}
		svc := newTestOrderService(t, orders, testMenu(), audit)

		order, err := svc.Create(context.Background(), CreateOrderCommand{
			Caller:   member,
			TenantID: "tenant-1",
			Items: []OrderItemInput{
				{MenuItemID: "mi_1", Quantity: 2},
				{MenuItemID: "mi_2", Quantity: 1, Note: "extra cocoa"},
			},
			Phone: "+1 555 0100",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if order.Status != domain.OrderStatusPending {
			t.Fatalf("expected pending status, got %s", order.Status)
		}
		if order.Total != 2*1250+650 {
			t.Fatalf("expected total 3150, got %d", order.Total)
		}
		if len(order.Items) != 2 {
			t.Fatalf("expected 2 line items, got %d", len(order.Items))
		}
		if order.Items[0].UnitPrice != 1250 || order.Items[0].Total != 2500 {
			t.Fatalf("unexpected line pricing: %+v", order.Items[0])
		}
		if order.UserID != "user-1" || order.TenantID != "tenant-1" {
			t.Fatalf("unexpected ownership: %+v", order)
		}
		if order.CreatedAt != testTime {
			t.Fatalf("expected clock timestamp, got %v", order.CreatedAt)
		}

		stored, err := orders.FindByID(context.Background(), order.ID)
		if err != nil {
			t.Fatalf("order was not persisted: %v", err)
		}
		if stored.Total != order.Total {
			t.Fatalf("persisted total %d differs from returned %d", stored.Total, order.Total)
		}
		if !containsOutcome(audit.outcomes("order.create"), "success") {
			t.Fatal("expected a success audit record")
		}
	})

	t.Run("rejects empty cart", func(t *testing.T) {
		svc := newTestOrderService(t, newMemOrderRepo(), testMenu(), nil)
		_, err := svc.Create(context.Background(), CreateOrderCommand{
			Caller:   member,
			TenantID: "tenant-1",
			Phone:    "+1 555 0100",
		})
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
		}
	})

	t.Run("rejects unknown menu item", func(t *testing.T) {
		svc := newTestOrderService(t, newMemOrderRepo(), testMenu(), nil)
		_, err := svc.Create(context.Background(), CreateOrderCommand{
			Caller:   member,
			TenantID: "tenant-1",
			Items:    []OrderItemInput{{MenuItemID: "mi_999", Quantity: 1}},
			Phone:    "+1 555 0100",
		})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("rejects unavailable menu item", func(t *testing.T) {
		svc := newTestOrderService(t, newMemOrderRepo(), testMenu(), nil)
		_, err := svc.Create(context.Background(), CreateOrderCommand{
			Caller:   member,
			TenantID: "tenant-1",
			Items:    []OrderItemInput{{MenuItemID: "mi_3", Quantity: 1}},
			Phone:    "+1 555 0100",
		})
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
		}
	})

	t.Run("rejects item from another tenant", func(t *testing.T) {
		svc := newTestOrderService(t, newMemOrderRepo(), testMenu(), nil)
		_, err := svc.Create(context.Background(), CreateOrderCommand{
			Caller:   member,
			TenantID: "tenant-2",
			Items:    []OrderItemInput{{MenuItemID: "mi_1", Quantity: 1}},
			Phone:    "+1 555 0100",
		})
		if !errors.Is(err, ErrOrderNotFound) {
			t.Fatalf("expected ErrOrderNotFound, got %v", err)
		}
	})

	t.Run("requires authentication", func(t *testing.T) {
		svc := newTestOrderService(t, newMemOrderRepo(), testMenu(), nil)
		_, err := svc.Create(context.Background(), CreateOrderCommand{
			TenantID: "tenant-1",
			Items:    []OrderItemInput{{MenuItemID: "mi_1", Quantity: 1}},
			Phone:    "+1 555 0100",
		})
		if !errors.Is(err, authz.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})
}

func TestOrderServiceGet(t *testing.T) {
	order := domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending}
	orders := newMemOrderRepo(order)
	svc := newTestOrderService(t, orders, testMenu(), nil)

	if _, err := svc.Get(context.Background(), memberIdentity("user-1", "tenant-1"), "ord_1"); err != nil {
		t.Fatalf("owner should read own order: %v", err)
	}
	if _, err := svc.Get(context.Background(), adminIdentity(), "ord_1"); err != nil {
		t.Fatalf("admin should read any order: %v", err)
	}
	if _, err := svc.Get(context.Background(), memberIdentity("user-2", "tenant-1"), "ord_1"); !errors.Is(err, authz.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another member, got %v", err)
	}
	if _, err := svc.Get(context.Background(), adminIdentity(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestOrderServiceGetServesCachedReads(t *testing.T) {
	order := domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending, Total: 1250, Currency: "usd"}
	orders := newMemOrderRepo(order)
	store := newMemCacheStore()
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:      orders,
		MenuItems:   testMenu(),
		Cache:       store,
		Clock:       fixedClock(testTime),
		IDGenerator: sequentialIDs("id"),
	})
	if err != nil {
		t.Fatalf("unexpected error constructing service: %v", err)
	}

	if _, err := svc.Get(context.Background(), adminIdentity(), "ord_1"); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if !store.has("orders:ord_1") {
		t.Fatal("expected the order to be cached after the first read")
	}

	// A warm cache answers reads without touching the repository.
	delete(orders.orders, "ord_1")
	got, err := svc.Get(context.Background(), adminIdentity(), "ord_1")
	if err != nil {
		t.Fatalf("cached read failed: %v", err)
	}
	if got.Total != 1250 {
		t.Fatalf("cached order total = %d, want 1250", got.Total)
	}

	// Writes drop the cached copy so the next read sees fresh state.
	orders.orders["ord_1"] = order
	if _, err := svc.Cancel(context.Background(), CancelOrderCommand{Caller: adminIdentity(), OrderID: "ord_1"}); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if store.has("orders:ord_1") {
		t.Fatal("expected cancellation to invalidate the cached order")
	}
}

func TestOrderServiceListScoping(t *testing.T) {
	orders := newMemOrderRepo(
		domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1"},
		domain.Order{ID: "ord_2", UserID: "user-2", TenantID: "tenant-1"},
		domain.Order{ID: "ord_3", UserID: "user-3", TenantID: "tenant-2"},
	)
	svc := newTestOrderService(t, orders, testMenu(), nil)

	t.Run("member sees only own orders", func(t *testing.T) {
		page, err := svc.List(context.Background(), memberIdentity("user-1", "tenant-1"), OrderListFilter{UserID: "user-2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Items) != 1 || page.Items[0].ID != "ord_1" {
			t.Fatalf("expected only ord_1, got %+v", page.Items)
		}
	})

	t.Run("manager scoped to tenant", func(t *testing.T) {
		page, err := svc.List(context.Background(), managerIdentity("tenant-1"), OrderListFilter{TenantID: "tenant-2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Items) != 2 {
			t.Fatalf("expected 2 tenant-1 orders, got %d", len(page.Items))
		}
	})

	t.Run("admin unrestricted", func(t *testing.T) {
		page, err := svc.List(context.Background(), adminIdentity(), OrderListFilter{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(page.Items) != 3 {
			t.Fatalf("expected all 3 orders, got %d", len(page.Items))
		}
	})

	t.Run("anonymous denied", func(t *testing.T) {
		if _, err := svc.List(context.Background(), nil, OrderListFilter{}); !errors.Is(err, authz.ErrUnauthenticated) {
			t.Fatalf("expected ErrUnauthenticated, got %v", err)
		}
	})
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	t.Run("manager advances status", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusConfirmed})
		audit := &recordingAudit{}
		svc := newTestOrderService(t, orders, testMenu(), audit)

		updated, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			Caller:       managerIdentity("tenant-1"),
			OrderID:      "ord_1",
			TargetStatus: domain.OrderStatusPreparing,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Status != domain.OrderStatusPreparing {
			t.Fatalf("expected preparing, got %s", updated.Status)
		}
		if updated.UpdatedAt != testTime {
			t.Fatalf("expected update timestamp from clock, got %v", updated.UpdatedAt)
		}
		if !containsOutcome(audit.outcomes("order.status.transition"), "success") {
			t.Fatal("expected a success audit record")
		}
	})

	t.Run("illegal transition leaves order untouched", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			Caller:       managerIdentity("tenant-1"),
			OrderID:      "ord_1",
			TargetStatus: domain.OrderStatusDelivered,
		})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState, got %v", err)
		}

		stored, _ := orders.FindByID(context.Background(), "ord_1")
		if stored.Status != domain.OrderStatusPending {
			t.Fatalf("order status mutated on failed transition: %s", stored.Status)
		}
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			Caller:       managerIdentity("tenant-1"),
			OrderID:      "ord_1",
			TargetStatus: "shipped",
		})
		if !errors.Is(err, ErrOrderInvalidInput) {
			t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
		}
	})

	t.Run("member denied", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		_, err := svc.TransitionStatus(context.Background(), OrderStatusTransitionCommand{
			Caller:       memberIdentity("user-1", "tenant-1"),
			OrderID:      "ord_1",
			TargetStatus: domain.OrderStatusConfirmed,
		})
		if !errors.Is(err, authz.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})
}

func TestOrderServiceCancel(t *testing.T) {
	t.Run("member cancels pending order", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPending})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		updated, err := svc.Cancel(context.Background(), CancelOrderCommand{
			Caller:  memberIdentity("user-1", "tenant-1"),
			OrderID: "ord_1",
			Reason:  "changed my mind",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled, got %s", updated.Status)
		}
		if updated.CancelReason == nil || *updated.CancelReason != "changed my mind" {
			t.Fatalf("expected cancel reason to persist, got %v", updated.CancelReason)
		}
		if updated.CancelledAt == nil {
			t.Fatal("expected cancelled timestamp")
		}
	})

	t.Run("member cannot cancel after confirmation", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusConfirmed})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		_, err := svc.Cancel(context.Background(), CancelOrderCommand{
			Caller:  memberIdentity("user-1", "tenant-1"),
			OrderID: "ord_1",
		})
		if !errors.Is(err, authz.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
	})

	t.Run("manager cancels preparing order", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusPreparing})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		updated, err := svc.Cancel(context.Background(), CancelOrderCommand{
			Caller:  managerIdentity("tenant-1"),
			OrderID: "ord_1",
			Reason:  "kitchen closed early",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.Status != domain.OrderStatusCancelled {
			t.Fatalf("expected cancelled, got %s", updated.Status)
		}
	})

	t.Run("terminal order cannot be cancelled", func(t *testing.T) {
		orders := newMemOrderRepo(domain.Order{ID: "ord_1", UserID: "user-1", TenantID: "tenant-1", Status: domain.OrderStatusDelivered})
		svc := newTestOrderService(t, orders, testMenu(), nil)

		_, err := svc.Cancel(context.Background(), CancelOrderCommand{
			Caller:  managerIdentity("tenant-1"),
			OrderID: "ord_1",
		})
		if !errors.Is(err, ErrOrderInvalidState) {
			t.Fatalf("expected ErrOrderInvalidState, got %v", err)
		}
	})
}
