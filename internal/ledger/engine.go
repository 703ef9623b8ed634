// Package ledger derives a shop's financial position from source records.
// The stored pendingBalance on the shop row is only a cache; everything in
// this package recomputes from delivered orders and payments, which are the
// ground truth.
package ledger

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"snackmandi/backend/internal/cache"
	"snackmandi/backend/internal/domain"
)

// Reconcile sums delivered orders against payments and clamps at zero. A shop
// that has overpaid shows zero due, not negative credit. The sum is plain
// integer addition, so it is deterministic regardless of input order.
func Reconcile(deliveredOrders []domain.Order, payments []domain.Payment) domain.BalanceSummary {
	var ordersTotal, paymentsTotal int64
	for _, order := range deliveredOrders {
		ordersTotal += order.TotalAmountPaise
	}
	for _, payment := range payments {
		paymentsTotal += payment.AmountPaise
	}

	pending := ordersTotal - paymentsTotal
	if pending < 0 {
		pending = 0
	}

	return domain.BalanceSummary{
		PendingBalancePaise: pending,
		TotalOrdersPaise:    ordersTotal,
		TotalPaymentsPaise:  paymentsTotal,
	}
}

// Build merges delivered orders and payments into one chronological view,
// newest first, with a running balance computed oldest-to-newest. The ledger
// is assembled on every read and never persisted.
func Build(deliveredOrders []domain.Order, payments []domain.Payment) []domain.LedgerEntry {
	entries := make([]domain.LedgerEntry, 0, len(deliveredOrders)+len(payments))

	for _, order := range deliveredOrders {
		date := order.CreatedAt
		if order.DeliveredAt != nil {
			date = *order.DeliveredAt
		}
		entries = append(entries, domain.LedgerEntry{
			Type:        domain.LedgerEntryOrder,
			Date:        date,
			Description: "Order #" + order.OrderNumber,
			AmountPaise: order.TotalAmountPaise,
			Reference:   order.OrderNumber,
		})
	}
	for _, payment := range payments {
		entries = append(entries, domain.LedgerEntry{
			Type:        domain.LedgerEntryPayment,
			Date:        payment.CreatedAt,
			Description: fmt.Sprintf("Payment (%s)", strings.ToUpper(payment.Mode)),
			AmountPaise: -payment.AmountPaise,
			Reference:   payment.Reference,
		})
	}

	// Sort descending directly; a reverse after an ascending sort would flip
	// the relative order of same-instant entries.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Date.After(entries[j].Date)
	})

	// Running balance accumulates oldest-to-newest, i.e. from the tail up.
	var running int64
	for i := len(entries) - 1; i >= 0; i-- {
		running += entries[i].AmountPaise
		entries[i].RunningBalancePaise = running
	}
	return entries
}

// Engine fronts reconciliation with a short-lived cache of summaries. Cache
// failures are logged and ignored: the cache only saves a recompute, it is
// never authoritative.
type Engine struct {
	cache cache.BalanceCache
	ttl   time.Duration
}

func NewEngine(balanceCache cache.BalanceCache, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Engine{cache: balanceCache, ttl: ttl}
}

func cacheKey(shopID string) string {
	return "balance:" + shopID
}

func (e *Engine) CachedSummary(ctx context.Context, shopID string) (*domain.BalanceSummary, bool) {
	summary, found, err := e.cache.Get(ctx, cacheKey(shopID))
	if err != nil {
		log.Printf("[ledger] WARN: balance cache get shop=%s: %v", shopID, err)
		return nil, false
	}
	return summary, found
}

func (e *Engine) StoreSummary(ctx context.Context, shopID string, summary domain.BalanceSummary) {
	if err := e.cache.Set(ctx, cacheKey(shopID), &summary, e.ttl); err != nil {
		log.Printf("[ledger] WARN: balance cache set shop=%s: %v", shopID, err)
	}
}

// Invalidate drops the cached summary after a balance-affecting mutation so
// the next read recomputes.
func (e *Engine) Invalidate(ctx context.Context, shopID string) {
	if err := e.cache.Delete(ctx, cacheKey(shopID)); err != nil {
		log.Printf("[ledger] WARN: balance cache delete shop=%s: %v", shopID, err)
	}
}
