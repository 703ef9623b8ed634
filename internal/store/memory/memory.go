package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/store"
	"snackmandi/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	accountsByID    map[string]domain.Account
	accountsByEmail map[string]string
	shopsByID       map[string]domain.Shop
	productsByID    map[string]domain.Product
	ordersByID      map[string]*domain.Order
	paymentsByID    map[string]domain.Payment
	orderSeq        int64
}

func New() *Store {
	return &Store{
		accountsByID:    make(map[string]domain.Account),
		accountsByEmail: make(map[string]string),
		shopsByID:       make(map[string]domain.Shop),
		productsByID:    make(map[string]domain.Product),
		ordersByID:      make(map[string]*domain.Order),
		paymentsByID:    make(map[string]domain.Payment),
	}
}

// NewSeeded builds a store preloaded with a slice of the wholesale catalog
// and one approved demo shop for dev/demo mode. The demo credential comes
// from SEED_SHOP_PASSWORD; a hardcoded dev default is used (with a warning)
// when unset. Production deployments set DATABASE_URL and never hit this.
func NewSeeded() *Store {
	s := New()

	seeds := []struct {
		name     string
		category string
		rate     int64 // paise
		unit     string
	}{
		{"Sweet Mixture", "mixture", 14500, domain.UnitKg},
		{"Lasoon Mixture", "mixture", 14500, domain.UnitKg},
		{"Karam Bhel", "bhel", 14500, domain.UnitKg},
		{"Sadha Chev", "chevda", 14500, domain.UnitKg},
		{"Zero Chev", "chevda", 14500, domain.UnitKg},
		{"Dhaal Mottu", "dhal", 14500, domain.UnitKg},
		{"Masala Kallai", "dhal", 17000, domain.UnitKg},
		{"Sabudana Sweet", "sabudana", 14000, domain.UnitKg},
		{"Nendharam Chips CO", "chips", 30000, domain.UnitKg},
		{"Banana Chips", "chips", 21000, domain.UnitKg},
		{"Bhajini Murukku", "murukku", 18000, domain.UnitKg},
		{"Thenkullal Murukku (Ordinary)", "murukku", 5000, domain.UnitPacket},
		{"Boondi Salt", "boondi", 24500, domain.UnitKg},
	}

	now := time.Now().UTC()
	for _, seed := range seeds {
		id := xid.New("prd")
		s.productsByID[id] = domain.Product{
			ID:              id,
			Name:            seed.name,
			Category:        seed.category,
			RatePaise:       seed.rate,
			UnitType:        seed.unit,
			DefaultQuantity: 1,
			Active:          true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	password := envOr("SEED_SHOP_PASSWORD", "shop12345")
	if os.Getenv("SEED_SHOP_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev shop credentials. Set SEED_SHOP_PASSWORD to override.")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("[memory-store] failed to hash seed password: %v", err)
	}

	account := domain.Account{
		ID:           xid.New("acc"),
		Email:        "demo@snackmandi.in",
		PasswordHash: string(hash),
		CreatedAt:    now,
	}
	s.accountsByID[account.ID] = account
	s.accountsByEmail[account.Email] = account.ID

	shop := domain.Shop{
		ID:        xid.New("shop"),
		AccountID: account.ID,
		ShopName:  "Demo Provision Store",
		OwnerName: "Demo Owner",
		Email:     account.Email,
		Mobile:    "9876543210",
		Address:   domain.Address{Street: "12 Market Road", Area: "T Nagar", City: "Chennai"},
		Status:    domain.ShopStatusApproved,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.shopsByID[shop.ID] = shop

	return s
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (s *Store) CreateAccount(_ context.Context, account domain.Account) (*domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(strings.TrimSpace(account.Email))
	if email == "" || account.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.accountsByEmail[email]; exists {
		return nil, store.ErrConflict
	}

	if account.ID == "" {
		account.ID = xid.New("acc")
	}
	account.Email = email
	s.accountsByID[account.ID] = account
	s.accountsByEmail[email] = account.ID

	created := account
	return &created, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, store.ErrNotFound
	}
	account := s.accountsByID[id]
	return &account, nil
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accountsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &account, nil
}

func (s *Store) UpdateAccountPassword(_ context.Context, accountID string, passwordHash string, mustChange bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	account, ok := s.accountsByID[accountID]
	if !ok {
		return store.ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.MustChange = mustChange
	s.accountsByID[accountID] = account
	return nil
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shop.AccountID == "" || shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.accountsByID[shop.AccountID]; !ok {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.shopsByID {
		if existing.AccountID == shop.AccountID && strings.EqualFold(existing.ShopName, shop.ShopName) {
			return nil, store.ErrConflict
		}
	}

	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	s.shopsByID[shop.ID] = shop

	created := shop
	return &created, nil
}

func (s *Store) GetShopByID(_ context.Context, id string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, ok := s.shopsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &shop, nil
}

func (s *Store) ListShops(_ context.Context, status string) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shops := make([]domain.Shop, 0, len(s.shopsByID))
	for _, shop := range s.shopsByID {
		if status != "" && shop.Status != status {
			continue
		}
		shops = append(shops, shop)
	}

	slices.SortFunc(shops, func(a, b domain.Shop) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return shops, nil
}

func (s *Store) ListShopsByAccount(_ context.Context, accountID string) ([]domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shops := make([]domain.Shop, 0, 2)
	for _, shop := range s.shopsByID {
		if shop.AccountID == accountID {
			shops = append(shops, shop)
		}
	}

	slices.SortFunc(shops, func(a, b domain.Shop) int {
		return strings.Compare(a.ShopName, b.ShopName)
	})
	return shops, nil
}

func (s *Store) UpdateShopStatus(_ context.Context, shopID string, status string) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shopsByID[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shop.Status = status
	shop.UpdatedAt = time.Now().UTC()
	s.shopsByID[shopID] = shop

	updated := shop
	return &updated, nil
}

func (s *Store) UpdateShopCreditLimit(_ context.Context, shopID string, creditLimitPaise int64) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shopsByID[shopID]
	if !ok {
		return nil, store.ErrNotFound
	}
	shop.CreditLimitPaise = creditLimitPaise
	shop.UpdatedAt = time.Now().UTC()
	s.shopsByID[shopID] = shop

	updated := shop
	return &updated, nil
}

func (s *Store) AddShopBalance(_ context.Context, shopID string, deltaPaise int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addShopBalanceLocked(shopID, deltaPaise)
}

func (s *Store) addShopBalanceLocked(shopID string, deltaPaise int64) error {
	shop, ok := s.shopsByID[shopID]
	if !ok {
		return store.ErrNotFound
	}
	shop.PendingBalancePaise += deltaPaise
	shop.UpdatedAt = time.Now().UTC()
	s.shopsByID[shopID] = shop
	return nil
}

func (s *Store) SetShopBalance(_ context.Context, shopID string, balancePaise int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shop, ok := s.shopsByID[shopID]
	if !ok {
		return store.ErrNotFound
	}
	shop.PendingBalancePaise = balancePaise
	shop.UpdatedAt = time.Now().UTC()
	s.shopsByID[shopID] = shop
	return nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.Category == "" || product.RatePaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	s.productsByID[product.ID] = product

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if product, ok := s.productsByID[id]; ok {
			result[id] = product
		}
	}
	return result, nil
}

func (s *Store) ListProducts(_ context.Context, category string, includeInactive bool) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, product := range s.productsByID {
		if !includeInactive && !product.Active {
			continue
		}
		if category != "" && product.Category != category {
			continue
		}
		products = append(products, product)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return strings.Compare(a.Name, b.Name)
		}
		return strings.Compare(a.Category, b.Category)
	})
	return products, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.productsByID[product.ID]; !ok {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.Category == "" || product.RatePaise < 1 {
		return nil, store.ErrInvalidInput
	}
	s.productsByID[product.ID] = product

	updated := product
	return &updated, nil
}

func (s *Store) NextOrderSeq(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orderSeq++
	return s.orderSeq, nil
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if order.ShopID == "" || len(order.Items) == 0 || order.OrderNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}

	stored := order
	stored.Items = slices.Clone(order.Items)
	s.ordersByID[stored.ID] = &stored

	created := stored
	created.Items = slices.Clone(stored.Items)
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.ordersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	copied := *order
	copied.Items = slices.Clone(order.Items)
	return &copied, nil
}

func (s *Store) ListOrders(_ context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orders := make([]domain.Order, 0, len(s.ordersByID))
	for _, order := range s.ordersByID {
		if filter.ShopID != "" && order.ShopID != filter.ShopID {
			continue
		}
		if filter.Status != "" && order.Status != filter.Status {
			continue
		}
		copied := *order
		copied.Items = slices.Clone(order.Items)
		orders = append(orders, copied)
	}

	slices.SortFunc(orders, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if filter.Limit > 0 && len(orders) > filter.Limit {
		orders = orders[:filter.Limit]
	}
	return orders, nil
}

func (s *Store) CountOrdersByShop(_ context.Context, shopID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, order := range s.ordersByID {
		if order.ShopID == shopID {
			count++
		}
	}
	return count, nil
}

func (s *Store) AdvanceOrderStatus(_ context.Context, orderID string, status string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advanceOrderStatusLocked(orderID, status, at)
}

func (s *Store) advanceOrderStatusLocked(orderID string, status string, at time.Time) (*domain.Order, error) {
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !domain.ValidOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}
	if !domain.CanTransition(order.Status, status) {
		return nil, store.ErrConflict
	}

	wasDelivered := order.Status == domain.OrderStatusDelivered
	domain.ApplyStatus(order, status, at)

	// The balance credit fires exactly once, on the transition into
	// delivered. CanTransition already forbids leaving a terminal state, so
	// wasDelivered is belt and braces against double-counting.
	if status == domain.OrderStatusDelivered && !wasDelivered {
		if err := s.addShopBalanceLocked(order.ShopID, order.TotalAmountPaise); err != nil {
			return nil, err
		}
	}

	copied := *order
	copied.Items = slices.Clone(order.Items)
	return &copied, nil
}

func (s *Store) CancelPendingOrder(_ context.Context, orderID string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Checked under the same lock as the transition below.
	if order.Status != domain.OrderStatusPending {
		return nil, store.ErrConflict
	}
	return s.advanceOrderStatusLocked(orderID, domain.OrderStatusCancelled, at)
}

func (s *Store) DeliverOrderWithPayment(_ context.Context, orderID string, payment domain.Payment, at time.Time) (*domain.Order, *domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// One lock covers the whole compound action; either everything below
	// lands or the caller sees an error and no mutation.
	order, ok := s.ordersByID[orderID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}
	if payment.AmountPaise < 1 || payment.ShopID != order.ShopID {
		return nil, nil, store.ErrInvalidInput
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusDelivered) {
		return nil, nil, store.ErrConflict
	}

	delivered, err := s.advanceOrderStatusLocked(orderID, domain.OrderStatusDelivered, at)
	if err != nil {
		return nil, nil, err
	}

	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	s.paymentsByID[payment.ID] = payment
	if err := s.addShopBalanceLocked(payment.ShopID, -payment.AmountPaise); err != nil {
		return nil, nil, err
	}

	created := payment
	return delivered, &created, nil
}

func (s *Store) CreatePayment(_ context.Context, payment domain.Payment) (*domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if payment.ShopID == "" || payment.AmountPaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if _, ok := s.shopsByID[payment.ShopID]; !ok {
		return nil, store.ErrNotFound
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	s.paymentsByID[payment.ID] = payment

	if err := s.addShopBalanceLocked(payment.ShopID, -payment.AmountPaise); err != nil {
		return nil, err
	}

	created := payment
	return &created, nil
}

func (s *Store) ListPayments(_ context.Context, shopID string, limit int) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payments := make([]domain.Payment, 0, len(s.paymentsByID))
	for _, payment := range s.paymentsByID {
		if shopID != "" && payment.ShopID != shopID {
			continue
		}
		payments = append(payments, payment)
	}

	slices.SortFunc(payments, func(a, b domain.Payment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(payments) > limit {
		payments = payments[:limit]
	}
	return payments, nil
}

func (s *Store) GetAdminDashboard(_ context.Context, monthStart time.Time) (domain.AdminDashboard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var dash domain.AdminDashboard

	deliveredByShop := make(map[string]int64)
	paidByShop := make(map[string]int64)

	for _, order := range s.ordersByID {
		if order.Status == domain.OrderStatusPending {
			dash.PendingOrders++
		}
		if order.Status == domain.OrderStatusDelivered {
			deliveredByShop[order.ShopID] += order.TotalAmountPaise
			if order.DeliveredAt != nil && !order.DeliveredAt.Before(monthStart) {
				dash.SalesThisMonthPaise += order.TotalAmountPaise
			}
		}
		if !order.CreatedAt.Before(monthStart) {
			dash.OrdersThisMonth++
		}
	}
	for _, payment := range s.paymentsByID {
		paidByShop[payment.ShopID] += payment.AmountPaise
		if !payment.CreatedAt.Before(monthStart) {
			dash.PaymentsThisMonthPaise += payment.AmountPaise
		}
	}
	for shopID, shop := range s.shopsByID {
		if shop.Status == domain.ShopStatusApproved {
			dash.ActiveShops++
		}
		due := deliveredByShop[shopID] - paidByShop[shopID]
		if due > 0 {
			dash.OutstandingPaise += due
		}
	}

	return dash, nil
}
