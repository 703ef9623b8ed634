package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/ledger"
	"snackmandi/backend/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo               store.Repository
	ledger             *ledger.Engine
	enforceCreditLimit bool
}

func New(repo store.Repository, ledgerEngine *ledger.Engine, enforceCreditLimit bool) *Service {
	return &Service{
		repo:               repo,
		ledger:             ledgerEngine,
		enforceCreditLimit: enforceCreditLimit,
	}
}

func (s *Service) ListProducts(ctx context.Context, category string, includeInactive bool) ([]domain.Product, error) {
	if includeInactive {
		actor, ok := ActorFromContext(ctx)
		if !ok || actor.Role != domain.RoleAdmin {
			includeInactive = false
		}
	}
	if category != "" && !domain.ValidProductCategory(category) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListProducts(ctx, category, includeInactive)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)
	if req.Name == "" || !domain.ValidProductCategory(req.Category) {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.RatePaise < 1 || !domain.ValidUnitType(req.UnitType) {
		return domain.Product{}, store.ErrInvalidInput
	}
	if req.DefaultQuantity <= 0 {
		req.DefaultQuantity = 1
	}

	now := time.Now().UTC()
	product := domain.Product{
		Name:            req.Name,
		NameTamil:       strings.TrimSpace(req.NameTamil),
		Category:        req.Category,
		RatePaise:       req.RatePaise,
		UnitType:        req.UnitType,
		DefaultQuantity: req.DefaultQuantity,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	existing, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Name = name
	}
	if req.NameTamil != nil {
		updated.NameTamil = strings.TrimSpace(*req.NameTamil)
	}
	if req.Category != nil {
		if !domain.ValidProductCategory(*req.Category) {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.Category = *req.Category
	}
	if req.RatePaise != nil {
		if *req.RatePaise < 1 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.RatePaise = *req.RatePaise
	}
	if req.UnitType != nil {
		if !domain.ValidUnitType(*req.UnitType) {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.UnitType = *req.UnitType
	}
	if req.DefaultQuantity != nil {
		if *req.DefaultQuantity <= 0 {
			return domain.Product{}, store.ErrInvalidInput
		}
		updated.DefaultQuantity = *req.DefaultQuantity
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}
	updated.UpdatedAt = time.Now().UTC()

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

// lineTotalPaise rounds a fractional-quantity line to whole paise. Rounding
// happens per line, then lines sum exactly; the order total is never
// recomputed from floats again.
func lineTotalPaise(quantity float64, ratePaise int64) int64 {
	return int64(math.Round(quantity * float64(ratePaise)))
}

// FormatOrderNumber renders a sequence value as a customer-facing order
// number. Numbering starts at ORD001001 so early orders do not advertise how
// new the business is.
func FormatOrderNumber(seq int64) string {
	return fmt.Sprintf("ORD%06d", seq+1000)
}

func (s *Service) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("authentication required")
	}

	shop, err := s.resolveOrderShop(ctx, actor, req.ShopID)
	if err != nil {
		return domain.Order{}, err
	}
	if shop.Status != domain.ShopStatusApproved {
		return domain.Order{}, fmt.Errorf("%w: shop is not approved for ordering", store.ErrConflict)
	}

	if len(req.Items) == 0 {
		return domain.Order{}, fmt.Errorf("%w: order needs at least one item", store.ErrInvalidInput)
	}

	productIDs := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, fmt.Errorf("%w: quantity must be positive", store.ErrInvalidInput)
		}
		productIDs = append(productIDs, item.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, productIDs)
	if err != nil {
		return domain.Order{}, err
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	var total int64
	for _, item := range req.Items {
		product, exists := products[item.ProductID]
		if !exists || !product.Active {
			return domain.Order{}, fmt.Errorf("%w: product %s unavailable", store.ErrInvalidInput, item.ProductID)
		}
		lineTotal := lineTotalPaise(item.Quantity, product.RatePaise)
		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    item.Quantity,
			RatePaise:   product.RatePaise,
			UnitType:    product.UnitType,
			TotalPaise:  lineTotal,
		})
		total += lineTotal
	}

	if s.enforceCreditLimit && shop.CreditLimitPaise > 0 {
		summary, err := s.reconciledSummary(ctx, shop.ID)
		if err != nil {
			return domain.Order{}, err
		}
		if summary.PendingBalancePaise+total > shop.CreditLimitPaise {
			return domain.Order{}, fmt.Errorf("%w: credit limit exceeded", store.ErrConflict)
		}
	}

	seq, err := s.repo.NextOrderSeq(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	address := shop.Address
	if req.DeliveryAddress != nil {
		address = *req.DeliveryAddress
	}

	order := domain.Order{
		OrderNumber:           FormatOrderNumber(seq),
		ShopID:                shop.ID,
		Items:                 items,
		TotalAmountPaise:      total,
		Status:                domain.OrderStatusPending,
		Notes:                 strings.TrimSpace(req.Notes),
		PreferredDeliveryDate: req.PreferredDeliveryDate,
		DeliveryAddress:       address,
		CreatedAt:             time.Now().UTC(),
	}

	created, err := s.repo.CreateOrder(ctx, order)
	if err != nil {
		return domain.Order{}, err
	}
	return *created, nil
}

// resolveOrderShop picks the shop an order is placed for. A shop actor may
// only order for shops on its own account; when the account owns exactly one
// shop the shop_id field is optional.
func (s *Service) resolveOrderShop(ctx context.Context, actor domain.Actor, shopID string) (*domain.Shop, error) {
	if actor.Role == domain.RoleAdmin {
		if shopID == "" {
			return nil, fmt.Errorf("%w: shop_id required", store.ErrInvalidInput)
		}
		return s.repo.GetShopByID(ctx, shopID)
	}

	shops, err := s.repo.ListShopsByAccount(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	if len(shops) == 0 {
		return nil, store.ErrNotFound
	}
	if shopID == "" {
		if len(shops) == 1 {
			return &shops[0], nil
		}
		return nil, fmt.Errorf("%w: shop_id required when account owns several shops", store.ErrInvalidInput)
	}
	for i := range shops {
		if shops[i].ID == shopID {
			return &shops[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Service) ListOrders(ctx context.Context, shopID string, status string, limit int) ([]domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}
	if status != "" && !domain.ValidOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}

	if actor.Role != domain.RoleAdmin {
		shop, err := s.resolveOrderShop(ctx, actor, shopID)
		if err != nil {
			return nil, err
		}
		shopID = shop.ID
	}

	return s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shopID, Status: status, Limit: limit})
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("authentication required")
	}

	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	if actor.Role != domain.RoleAdmin {
		if err := s.assertShopOwnership(ctx, actor, order.ShopID); err != nil {
			return domain.Order{}, err
		}
	}
	return *order, nil
}

func (s *Service) assertShopOwnership(ctx context.Context, actor domain.Actor, shopID string) error {
	shop, err := s.repo.GetShopByID(ctx, shopID)
	if err != nil {
		return err
	}
	if shop.AccountID != actor.ID {
		// Not-found rather than forbidden: existence of other shops' orders
		// is not disclosed.
		return store.ErrNotFound
	}
	return nil
}

func (s *Service) AdvanceOrderStatus(ctx context.Context, orderID string, status string) (domain.Order, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Order{}, fmt.Errorf("authentication required")
	}
	if !domain.ValidOrderStatus(status) {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", store.ErrInvalidInput, status)
	}

	if actor.Role != domain.RoleAdmin {
		// A shop may cancel its own order while it is still pending; every
		// other transition is admin-only.
		if status != domain.OrderStatusCancelled {
			return domain.Order{}, fmt.Errorf("admin role required")
		}
		order, err := s.repo.GetOrderByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if err := s.assertShopOwnership(ctx, actor, order.ShopID); err != nil {
			return domain.Order{}, err
		}
		// The pending-only guard runs inside the store operation, under its
		// lock, not on the stale read above.
		cancelled, err := s.repo.CancelPendingOrder(ctx, orderID, time.Now().UTC())
		if err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.Order{}, fmt.Errorf("%w: only pending orders can be cancelled by the shop", store.ErrConflict)
			}
			return domain.Order{}, err
		}
		return *cancelled, nil
	}

	updated, err := s.repo.AdvanceOrderStatus(ctx, orderID, status, time.Now().UTC())
	if err != nil {
		return domain.Order{}, err
	}

	if status == domain.OrderStatusDelivered {
		s.ledger.Invalidate(ctx, updated.ShopID)
	}
	return *updated, nil
}

// DeliverOrder marks an order delivered, optionally collecting a payment in
// the same atomic operation.
func (s *Service) DeliverOrder(ctx context.Context, orderID string, req domain.DeliverOrderRequest) (domain.Order, *domain.Payment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Order{}, nil, fmt.Errorf("admin role required")
	}

	now := time.Now().UTC()

	if req.Payment == nil {
		updated, err := s.repo.AdvanceOrderStatus(ctx, orderID, domain.OrderStatusDelivered, now)
		if err != nil {
			return domain.Order{}, nil, err
		}
		s.ledger.Invalidate(ctx, updated.ShopID)
		return *updated, nil, nil
	}

	existing, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, nil, err
	}

	payment, err := s.buildPayment(actor, domain.PaymentCreateRequest{
		ShopID:      existing.ShopID,
		AmountPaise: req.Payment.AmountPaise,
		Mode:        req.Payment.Mode,
		Reference:   req.Payment.Reference,
		Notes:       req.Payment.Notes,
	}, now)
	if err != nil {
		return domain.Order{}, nil, err
	}

	order, created, err := s.repo.DeliverOrderWithPayment(ctx, orderID, payment, now)
	if err != nil {
		return domain.Order{}, nil, err
	}
	s.ledger.Invalidate(ctx, order.ShopID)
	return *order, created, nil
}

func (s *Service) buildPayment(actor domain.Actor, req domain.PaymentCreateRequest, at time.Time) (domain.Payment, error) {
	if req.ShopID == "" || req.AmountPaise < 1 {
		return domain.Payment{}, store.ErrInvalidInput
	}
	if !domain.ValidPaymentMode(req.Mode) {
		return domain.Payment{}, fmt.Errorf("%w: unknown payment mode %q", store.ErrInvalidInput, req.Mode)
	}
	return domain.Payment{
		ShopID:      req.ShopID,
		AmountPaise: req.AmountPaise,
		Mode:        req.Mode,
		Reference:   strings.TrimSpace(req.Reference),
		Notes:       strings.TrimSpace(req.Notes),
		ReceivedBy:  actor.Email,
		CreatedAt:   at,
	}, nil
}

func (s *Service) RecordPayment(ctx context.Context, req domain.PaymentCreateRequest) (domain.Payment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Payment{}, fmt.Errorf("admin role required")
	}

	if _, err := s.repo.GetShopByID(ctx, req.ShopID); err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.buildPayment(actor, req, time.Now().UTC())
	if err != nil {
		return domain.Payment{}, err
	}

	created, err := s.repo.CreatePayment(ctx, payment)
	if err != nil {
		return domain.Payment{}, err
	}
	s.ledger.Invalidate(ctx, req.ShopID)
	return *created, nil
}

func (s *Service) ListPayments(ctx context.Context, shopID string, limit int) ([]domain.Payment, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("authentication required")
	}

	if actor.Role != domain.RoleAdmin {
		shop, err := s.resolveOrderShop(ctx, actor, shopID)
		if err != nil {
			return nil, err
		}
		shopID = shop.ID
	}
	return s.repo.ListPayments(ctx, shopID, limit)
}

// reconciledSummary recomputes the balance from delivered orders and payments
// and writes the result back onto the shop row. The stored balance is a cache
// warmed by incremental updates; this recompute is the authoritative value.
func (s *Service) reconciledSummary(ctx context.Context, shopID string) (domain.BalanceSummary, error) {
	if cached, found := s.ledger.CachedSummary(ctx, shopID); found {
		return *cached, nil
	}

	delivered, err := s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shopID, Status: domain.OrderStatusDelivered})
	if err != nil {
		return domain.BalanceSummary{}, err
	}
	payments, err := s.repo.ListPayments(ctx, shopID, 0)
	if err != nil {
		return domain.BalanceSummary{}, err
	}

	summary := ledger.Reconcile(delivered, payments)
	if err := s.repo.SetShopBalance(ctx, shopID, summary.PendingBalancePaise); err != nil {
		log.Printf("[service] WARN: balance write-back shop=%s: %v", shopID, err)
	}
	s.ledger.StoreSummary(ctx, shopID, summary)
	return summary, nil
}

func (s *Service) ShopBalance(ctx context.Context, shopID string) (domain.ShopBalanceResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShopBalanceResponse{}, fmt.Errorf("authentication required")
	}
	if actor.Role != domain.RoleAdmin {
		shop, err := s.resolveOrderShop(ctx, actor, shopID)
		if err != nil {
			return domain.ShopBalanceResponse{}, err
		}
		shopID = shop.ID
	} else if _, err := s.repo.GetShopByID(ctx, shopID); err != nil {
		return domain.ShopBalanceResponse{}, err
	}

	delivered, err := s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shopID, Status: domain.OrderStatusDelivered})
	if err != nil {
		return domain.ShopBalanceResponse{}, err
	}
	payments, err := s.repo.ListPayments(ctx, shopID, 0)
	if err != nil {
		return domain.ShopBalanceResponse{}, err
	}

	summary := ledger.Reconcile(delivered, payments)
	if err := s.repo.SetShopBalance(ctx, shopID, summary.PendingBalancePaise); err != nil {
		log.Printf("[service] WARN: balance write-back shop=%s: %v", shopID, err)
	}
	s.ledger.StoreSummary(ctx, shopID, summary)

	resp := domain.ShopBalanceResponse{
		BalanceSummary: summary,
		Ledger:         ledger.Build(delivered, payments),
	}
	if len(payments) > 0 {
		// ListPayments returns newest first.
		last := payments[0]
		resp.LastPayment = &domain.PaymentSnapshot{
			AmountPaise: last.AmountPaise,
			Mode:        last.Mode,
			Date:        last.CreatedAt,
		}
	}
	return resp, nil
}

func (s *Service) ShopDashboard(ctx context.Context, shopID string) (domain.ShopDashboard, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.ShopDashboard{}, fmt.Errorf("authentication required")
	}
	shop, err := s.resolveOrderShop(ctx, actor, shopID)
	if err != nil {
		return domain.ShopDashboard{}, err
	}

	summary, err := s.reconciledSummary(ctx, shop.ID)
	if err != nil {
		return domain.ShopDashboard{}, err
	}

	count, err := s.repo.CountOrdersByShop(ctx, shop.ID)
	if err != nil {
		return domain.ShopDashboard{}, err
	}

	dash := domain.ShopDashboard{
		PendingBalancePaise: summary.PendingBalancePaise,
		TotalOrders:         count,
	}

	recent, err := s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shop.ID, Limit: 1})
	if err != nil {
		return domain.ShopDashboard{}, err
	}
	if len(recent) > 0 {
		dash.LastOrderStatus = recent[0].Status
		at := recent[0].CreatedAt
		dash.LastOrderDate = &at
	}
	return dash, nil
}

func (s *Service) AdminDashboard(ctx context.Context) (domain.AdminDashboard, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.AdminDashboard{}, fmt.Errorf("admin role required")
	}

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return s.repo.GetAdminDashboard(ctx, monthStart)
}

func (s *Service) ListShopsWithStats(ctx context.Context, status string) ([]domain.ShopWithStats, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("admin role required")
	}
	if status != "" && !domain.ValidShopStatus(status) {
		return nil, store.ErrInvalidInput
	}

	shops, err := s.repo.ListShops(ctx, status)
	if err != nil {
		return nil, err
	}

	result := make([]domain.ShopWithStats, 0, len(shops))
	for _, shop := range shops {
		summary, err := s.reconciledSummary(ctx, shop.ID)
		if err != nil {
			return nil, err
		}
		shop.PendingBalancePaise = summary.PendingBalancePaise

		count, err := s.repo.CountOrdersByShop(ctx, shop.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, domain.ShopWithStats{Shop: shop, OrderCount: count})
	}
	return result, nil
}

func (s *Service) ShopDetail(ctx context.Context, shopID string) (domain.ShopDetail, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ShopDetail{}, fmt.Errorf("admin role required")
	}

	shop, err := s.repo.GetShopByID(ctx, shopID)
	if err != nil {
		return domain.ShopDetail{}, err
	}

	delivered, err := s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shopID, Status: domain.OrderStatusDelivered})
	if err != nil {
		return domain.ShopDetail{}, err
	}
	payments, err := s.repo.ListPayments(ctx, shopID, 0)
	if err != nil {
		return domain.ShopDetail{}, err
	}

	summary := ledger.Reconcile(delivered, payments)
	shop.PendingBalancePaise = summary.PendingBalancePaise

	count, err := s.repo.CountOrdersByShop(ctx, shopID)
	if err != nil {
		return domain.ShopDetail{}, err
	}
	recentOrders, err := s.repo.ListOrders(ctx, store.OrderFilter{ShopID: shopID, Limit: 10})
	if err != nil {
		return domain.ShopDetail{}, err
	}
	recentPayments := payments
	if len(recentPayments) > 10 {
		recentPayments = recentPayments[:10]
	}

	return domain.ShopDetail{
		Shop:               *shop,
		OrderCount:         count,
		TotalOrdersPaise:   summary.TotalOrdersPaise,
		TotalPaymentsPaise: summary.TotalPaymentsPaise,
		RecentOrders:       recentOrders,
		RecentPayments:     recentPayments,
	}, nil
}

func (s *Service) UpdateShop(ctx context.Context, shopID string, req domain.ShopUpdateRequest) (domain.Shop, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.Shop{}, fmt.Errorf("admin role required")
	}

	var updated *domain.Shop
	var err error

	if req.Status != nil {
		if !domain.ValidShopStatus(*req.Status) {
			return domain.Shop{}, fmt.Errorf("%w: unknown shop status %q", store.ErrInvalidInput, *req.Status)
		}
		updated, err = s.repo.UpdateShopStatus(ctx, shopID, *req.Status)
		if err != nil {
			return domain.Shop{}, err
		}
	}
	if req.CreditLimitPaise != nil {
		if *req.CreditLimitPaise < 0 {
			return domain.Shop{}, store.ErrInvalidInput
		}
		updated, err = s.repo.UpdateShopCreditLimit(ctx, shopID, *req.CreditLimitPaise)
		if err != nil {
			return domain.Shop{}, err
		}
	}
	if updated == nil {
		return domain.Shop{}, fmt.Errorf("%w: nothing to update", store.ErrInvalidInput)
	}
	return *updated, nil
}
