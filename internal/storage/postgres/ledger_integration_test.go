package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

func seedCatalog(t *testing.T, store *Store) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := store.DB().ExecContext(ctx, `
		INSERT INTO vendors (id, name, email, mtn_phone) VALUES
			('vendor-a', 'Vendor A', 'a@example.com', '670000001'),
			('vendor-b', 'Vendor B', 'b@example.com', '')
	`); err != nil {
		t.Fatalf("seed vendors: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		INSERT INTO products (id, vendor_id, name, stock, base_price_minor, sale_price_minor) VALUES
			('prod-a', 'vendor-a', 'Basket', 2, 1000, 1200),
			('prod-b', 'vendor-b', 'Fabric', 10, 2000, 2400)
	`); err != nil {
		t.Fatalf("seed products: %v", err)
	}
}

func integrationOrder(id string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:              id,
		CustomerID:      "customer-1",
		CustomerEmail:   "customer@example.com",
		Status:          domain.OrderStatusPending,
		PaymentStatus:   domain.PaymentStatusCompleted,
		Currency:        "XAF",
		TotalMinor:      3600,
		ShippingAddress: domain.Address{FullName: "A. Customer", Line1: "Rue 1", City: "Douala", Country: "CM"},
		BillingAddress:  domain.Address{FullName: "A. Customer", Line1: "Rue 1", City: "Douala", Country: "CM"},
		Items: []domain.OrderItem{
			{ID: id + "-a", VendorID: "vendor-a", ProductID: "prod-a", Qty: 1, UnitPriceMinor: 1200, BasePriceMinor: 1000, LineTotalMinor: 1200, Status: domain.OrderStatusPending, CreatedAt: createdAt, UpdatedAt: createdAt},
			{ID: id + "-b", VendorID: "vendor-b", ProductID: "prod-b", Qty: 1, UnitPriceMinor: 2400, BasePriceMinor: 2000, LineTotalMinor: 2400, Status: domain.OrderStatusPending, CreatedAt: createdAt, UpdatedAt: createdAt},
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestLedger_PostgresOrderPayoutRefundFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalog(t, store)

	ctx := context.Background()
	orders := NewOrderRepository(store)
	payouts := NewPayoutRepository(store)
	refunds := NewRefundRepository(store)
	vendors := NewVendorRepository(store)

	now := time.Now().UTC().Round(time.Microsecond)
	order := integrationOrder("order-1", now.Add(-4*24*time.Hour))
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	got, err := orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].ID != "order-1-a" || got.ShippingAddress.City != "Douala" {
		t.Fatalf("unexpected order: %+v", got)
	}

	p, err := payouts.Reserve(ctx, domain.Payout{
		VendorID: "vendor-a", OrderID: order.ID, OrderItemID: "order-1-a",
		TargetStatus: domain.OrderStatusProcessing, AmountMinor: 1000,
	})
	if err != nil {
		t.Fatalf("reserve payout: %v", err)
	}
	if _, err := payouts.Reserve(ctx, domain.Payout{
		VendorID: "vendor-a", OrderID: order.ID, OrderItemID: "order-1-a", TargetStatus: domain.OrderStatusProcessing,
	}); !errors.Is(err, domain.ErrPayoutAlreadyExists) {
		t.Fatalf("expected ErrPayoutAlreadyExists, got %v", err)
	}
	if err := payouts.Complete(ctx, domain.PayoutCompletion{
		PayoutID: p.ID, VendorID: "vendor-a", AmountMinor: 1000, Reference: "REF-1", CompletedAt: now,
	}); err != nil {
		t.Fatalf("complete payout: %v", err)
	}
	vendor, err := vendors.Get(ctx, "vendor-a")
	if err != nil {
		t.Fatalf("get vendor: %v", err)
	}
	if vendor.BalanceMinor != 1000 || vendor.TotalEarningsMinor != 1000 {
		t.Fatalf("unexpected vendor ledger: %+v", vendor)
	}

	stale, err := orders.ListStalePaid(ctx, now.Add(-72*time.Hour), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != order.ID {
		t.Fatalf("unexpected stale orders: %+v", stale)
	}

	rf, err := refunds.Claim(ctx, domain.Refund{
		OrderID: order.ID, CustomerID: order.CustomerID, AmountMinor: order.TotalMinor,
		Method: domain.RefundMethodAutomatic, ClaimedUntil: now.Add(10 * time.Minute),
	}, now)
	if err != nil {
		t.Fatalf("claim refund: %v", err)
	}
	if err := refunds.Settle(ctx, rf.ID, now); err != nil {
		t.Fatalf("settle refund: %v", err)
	}
	if _, err := refunds.Claim(ctx, domain.Refund{OrderID: order.ID, CustomerID: order.CustomerID}, now.Add(time.Hour)); !errors.Is(err, domain.ErrRefundAlreadyExists) {
		t.Fatalf("expected ErrRefundAlreadyExists, got %v", err)
	}

	got, err = orders.Get(ctx, order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled || got.PaymentStatus != domain.PaymentStatusRefunded {
		t.Fatalf("unexpected refunded order: %s/%s", got.Status, got.PaymentStatus)
	}
}

func TestLedger_PostgresConcurrentItemTransitionSingleWinner(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalog(t, store)

	ctx := context.Background()
	orders := NewOrderRepository(store)
	if err := orders.Create(ctx, integrationOrder("order-2", time.Now().UTC())); err != nil {
		t.Fatalf("create order: %v", err)
	}

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := orders.CompareAndSetItemStatus(ctx, "order-2-a", domain.OrderStatusPending, domain.OrderStatusProcessing)
			switch {
			case err == nil:
				winners.Add(1)
			case !errors.Is(err, domain.ErrItemStatusConflict):
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestLedger_PostgresStockClamp(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	seedCatalog(t, store)

	ctx := context.Background()
	products := NewProductRepository(store)

	stock, err := products.DecrementStock(ctx, "prod-a", 5)
	if err != nil {
		t.Fatalf("decrement: %v", err)
	}
	if stock != 0 {
		t.Fatalf("expected clamp to 0, got %d", stock)
	}

	now := time.Now().UTC()
	won, err := products.ClaimStockNotification(ctx, "prod-a", now, time.Hour)
	if err != nil || !won {
		t.Fatalf("first claim: %v (%v)", won, err)
	}
	won, err = products.ClaimStockNotification(ctx, "prod-a", now.Add(time.Minute), time.Hour)
	if err != nil || won {
		t.Fatalf("claim inside window must lose: %v (%v)", won, err)
	}
}
