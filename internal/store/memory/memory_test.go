package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/store"
)

func seedAccountShop(t *testing.T, s *Store) (domain.Account, domain.Shop) {
	t.Helper()
	ctx := context.Background()

	account, err := s.CreateAccount(ctx, domain.Account{
		Email:        "kadai@example.in",
		PasswordHash: "$2a$10$not-a-real-hash",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	shop, err := s.CreateShop(ctx, domain.Shop{
		AccountID: account.ID,
		ShopName:  "Kadai Stores",
		OwnerName: "Kadai",
		Email:     account.Email,
		Status:    domain.ShopStatusApproved,
	})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}
	return *account, *shop
}

func pendingOrder(shopID string, totalPaise int64) domain.Order {
	return domain.Order{
		ShopID:           shopID,
		OrderNumber:      "ORD001001",
		Status:           domain.OrderStatusPending,
		TotalAmountPaise: totalPaise,
		Items: []domain.OrderItem{{
			ProductID:   "prd-1",
			ProductName: "Sweet Mixture",
			Quantity:    1,
			RatePaise:   totalPaise,
			UnitType:    domain.UnitKg,
			TotalPaise:  totalPaise,
		}},
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAccountRejectsDuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateAccount(ctx, domain.Account{Email: "Kadai@Example.IN", PasswordHash: "$2a$10$x"}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := s.CreateAccount(ctx, domain.Account{Email: "kadai@example.in", PasswordHash: "$2a$10$y"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate email must conflict, got %v", err)
	}

	// Lookup is case-insensitive.
	if _, err := s.GetAccountByEmail(ctx, "KADAI@example.in"); err != nil {
		t.Fatalf("case-insensitive lookup: %v", err)
	}
}

func TestCreateShopRejectsDuplicateNamePerAccount(t *testing.T) {
	s := New()
	account, shop := seedAccountShop(t, s)
	ctx := context.Background()

	_, err := s.CreateShop(ctx, domain.Shop{
		AccountID: account.ID,
		ShopName:  "kadai stores",
		OwnerName: "Kadai",
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("same name under one account must conflict, got %v", err)
	}

	// A different account may reuse the name.
	other, err := s.CreateAccount(ctx, domain.Account{Email: "other@example.in", PasswordHash: "$2a$10$z"})
	if err != nil {
		t.Fatalf("create other account: %v", err)
	}
	if _, err := s.CreateShop(ctx, domain.Shop{
		AccountID: other.ID,
		ShopName:  shop.ShopName,
		OwnerName: "Other",
	}); err != nil {
		t.Fatalf("name reuse across accounts: %v", err)
	}
}

func TestNextOrderSeqIsMonotonic(t *testing.T) {
	s := New()
	ctx := context.Background()

	var prev int64
	for i := 0; i < 5; i++ {
		seq, err := s.NextOrderSeq(ctx)
		if err != nil {
			t.Fatalf("next seq: %v", err)
		}
		if seq <= prev {
			t.Fatalf("sequence must strictly increase: %d after %d", seq, prev)
		}
		prev = seq
	}
}

func TestGetOrderReturnsIsolatedCopy(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()

	created, err := s.CreateOrder(ctx, pendingOrder(shop.ID, 14500))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	fetched, err := s.GetOrderByID(ctx, created.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	fetched.Status = domain.OrderStatusCancelled
	fetched.Items[0].Quantity = 99

	again, _ := s.GetOrderByID(ctx, created.ID)
	if again.Status != domain.OrderStatusPending || again.Items[0].Quantity != 1 {
		t.Fatalf("store state leaked through returned copy: %+v", again)
	}
}

func TestAdvanceOrderStatusSentinels(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := s.CreateOrder(ctx, pendingOrder(shop.ID, 14500))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	if _, err := s.AdvanceOrderStatus(ctx, "missing", domain.OrderStatusConfirmed, now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing order: got %v", err)
	}
	if _, err := s.AdvanceOrderStatus(ctx, created.ID, "shipped", now); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("unknown status: got %v", err)
	}
	if _, err := s.AdvanceOrderStatus(ctx, created.ID, domain.OrderStatusDelivered, now); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if _, err := s.AdvanceOrderStatus(ctx, created.ID, domain.OrderStatusCancelled, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("terminal transition: got %v", err)
	}
}

func TestCancelPendingOrderGuardsUnderLock(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := s.CreateOrder(ctx, pendingOrder(shop.ID, 14500))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	cancelled, err := s.CancelPendingOrder(ctx, created.ID, now)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("not cancelled: %+v", cancelled)
	}

	// A confirmed order is a legal cancel target for the generic transition,
	// but CancelPendingOrder must still refuse it: the pending check is part
	// of the operation, not a caller-side precondition.
	second, err := s.CreateOrder(ctx, pendingOrder(shop.ID, 14500))
	if err != nil {
		t.Fatalf("create second order: %v", err)
	}
	if _, err := s.AdvanceOrderStatus(ctx, second.ID, domain.OrderStatusConfirmed, now); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := s.CancelPendingOrder(ctx, second.ID, now); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("confirmed order must conflict, got %v", err)
	}
	fetched, _ := s.GetOrderByID(ctx, second.ID)
	if fetched.Status != domain.OrderStatusConfirmed {
		t.Fatalf("rejected cancel mutated the order: %s", fetched.Status)
	}

	if _, err := s.CancelPendingOrder(ctx, "missing", now); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing order: got %v", err)
	}
}

func TestDeliverOrderWithPaymentValidatesShop(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()
	now := time.Now().UTC()

	created, err := s.CreateOrder(ctx, pendingOrder(shop.ID, 14500))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	_, _, err = s.DeliverOrderWithPayment(ctx, created.ID, domain.Payment{
		ShopID:      "someone-else",
		AmountPaise: 14500,
		Mode:        domain.PaymentModeCash,
		CreatedAt:   now,
	}, now)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("payment for another shop must be rejected, got %v", err)
	}

	// The rejection must leave no trace.
	payments, _ := s.ListPayments(ctx, "", 0)
	if len(payments) != 0 {
		t.Fatalf("payment persisted after rejection")
	}
	fetched, _ := s.GetOrderByID(ctx, created.ID)
	if fetched.Status != domain.OrderStatusPending {
		t.Fatalf("order advanced after rejection: %s", fetched.Status)
	}
}

func TestListOrdersFilterAndLimit(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		order := pendingOrder(shop.ID, 10000)
		order.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if i == 2 {
			order.Status = domain.OrderStatusConfirmed
		}
		if _, err := s.CreateOrder(ctx, order); err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}

	pending, err := s.ListOrders(ctx, store.OrderFilter{ShopID: shop.ID, Status: domain.OrderStatusPending})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending count = %d, want 2", len(pending))
	}

	limited, err := s.ListOrders(ctx, store.OrderFilter{ShopID: shop.ID, Limit: 1})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("limit not applied, got %d", len(limited))
	}
	// Newest first.
	if !limited[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected newest order first, got %v", limited[0].CreatedAt)
	}
}

func TestCreatePaymentDebitsBalance(t *testing.T) {
	s := New()
	_, shop := seedAccountShop(t, s)
	ctx := context.Background()

	if err := s.SetShopBalance(ctx, shop.ID, 50000); err != nil {
		t.Fatalf("set balance: %v", err)
	}
	if _, err := s.CreatePayment(ctx, domain.Payment{
		ShopID:      shop.ID,
		AmountPaise: 20000,
		Mode:        domain.PaymentModeCash,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	updated, _ := s.GetShopByID(ctx, shop.ID)
	if updated.PendingBalancePaise != 30000 {
		t.Fatalf("balance = %d, want 30000", updated.PendingBalancePaise)
	}

	if _, err := s.CreatePayment(ctx, domain.Payment{ShopID: "missing", AmountPaise: 100}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown shop: got %v", err)
	}
}

func TestAdminDashboardOutstandingClampsPerShop(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	_, shopA := seedAccountShop(t, s)
	accountB, err := s.CreateAccount(ctx, domain.Account{Email: "b@example.in", PasswordHash: "$2a$10$b"})
	if err != nil {
		t.Fatalf("account b: %v", err)
	}
	shopB, err := s.CreateShop(ctx, domain.Shop{
		AccountID: accountB.ID, ShopName: "B Stores", OwnerName: "B", Status: domain.ShopStatusApproved,
	})
	if err != nil {
		t.Fatalf("shop b: %v", err)
	}

	// Shop A owes 30000; shop B overpaid by 10000. Outstanding must be 30000,
	// not 20000: one shop's credit cannot offset another's debt.
	orderA, err := s.CreateOrder(ctx, pendingOrder(shopA.ID, 30000))
	if err != nil {
		t.Fatalf("order a: %v", err)
	}
	if _, err := s.AdvanceOrderStatus(ctx, orderA.ID, domain.OrderStatusDelivered, now); err != nil {
		t.Fatalf("deliver a: %v", err)
	}
	if _, err := s.CreatePayment(ctx, domain.Payment{
		ShopID: shopB.ID, AmountPaise: 10000, Mode: domain.PaymentModeUPI, CreatedAt: now,
	}); err != nil {
		t.Fatalf("payment b: %v", err)
	}

	dash, err := s.GetAdminDashboard(ctx, monthStart)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if dash.OutstandingPaise != 30000 {
		t.Fatalf("outstanding = %d, want 30000", dash.OutstandingPaise)
	}
	if dash.ActiveShops != 2 {
		t.Fatalf("active shops = %d, want 2", dash.ActiveShops)
	}
}

func TestSeededStoreHasCatalogAndDemoShop(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	products, err := s.ListProducts(ctx, "", false)
	if err != nil {
		t.Fatalf("list products: %v", err)
	}
	if len(products) == 0 {
		t.Fatalf("seeded store must carry a catalog")
	}

	account, err := s.GetAccountByEmail(ctx, "demo@snackmandi.in")
	if err != nil {
		t.Fatalf("demo account missing: %v", err)
	}
	shops, err := s.ListShopsByAccount(ctx, account.ID)
	if err != nil || len(shops) != 1 {
		t.Fatalf("demo shop missing: %v (%d shops)", err, len(shops))
	}
	if shops[0].Status != domain.ShopStatusApproved {
		t.Fatalf("demo shop must be approved, got %s", shops[0].Status)
	}
}
