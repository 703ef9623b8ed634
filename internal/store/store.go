package store

import (
	"context"
	"errors"
	"time"

	"snackmandi/backend/internal/domain"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// OrderFilter narrows order listings. Zero values mean "all"; Limit <= 0
// means no limit.
type OrderFilter struct {
	ShopID string
	Status string
	Limit  int
}

type Repository interface {
	CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
	UpdateAccountPassword(ctx context.Context, accountID string, passwordHash string, mustChange bool) error

	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	GetShopByID(ctx context.Context, id string) (*domain.Shop, error)
	ListShops(ctx context.Context, status string) ([]domain.Shop, error)
	ListShopsByAccount(ctx context.Context, accountID string) ([]domain.Shop, error)
	UpdateShopStatus(ctx context.Context, shopID string, status string) (*domain.Shop, error)
	UpdateShopCreditLimit(ctx context.Context, shopID string, creditLimitPaise int64) (*domain.Shop, error)
	// AddShopBalance applies an atomic relative update to the cached balance.
	AddShopBalance(ctx context.Context, shopID string, deltaPaise int64) error
	// SetShopBalance overwrites the cached balance with a reconciled value.
	SetShopBalance(ctx context.Context, shopID string, balancePaise int64) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	ListProducts(ctx context.Context, category string, includeInactive bool) ([]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)

	// NextOrderSeq returns the next value of the persistent order-number
	// sequence. The increment is atomic; two concurrent placements can never
	// observe the same value.
	NextOrderSeq(ctx context.Context) (int64, error)
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]domain.Order, error)
	CountOrdersByShop(ctx context.Context, shopID string) (int, error)
	// AdvanceOrderStatus applies a validated status transition, stamping the
	// matching timestamp once and, on the transition into delivered, crediting
	// the shop's cached balance in the same operation. Rejected transitions
	// return ErrConflict without mutating anything.
	AdvanceOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.Order, error)
	// CancelPendingOrder cancels an order only if it is still pending at the
	// moment of the update. The guard runs inside the store's lock/statement,
	// so a transition racing in between cannot be cancelled over; a non-pending
	// order returns ErrConflict.
	CancelPendingOrder(ctx context.Context, orderID string, at time.Time) (*domain.Order, error)
	// DeliverOrderWithPayment is the compound deliver-and-collect action as a
	// single atomic operation: delivered transition, balance credit, payment
	// insert and balance debit all commit or none do.
	DeliverOrderWithPayment(ctx context.Context, orderID string, payment domain.Payment, at time.Time) (*domain.Order, *domain.Payment, error)

	CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error)
	ListPayments(ctx context.Context, shopID string, limit int) ([]domain.Payment, error)

	GetAdminDashboard(ctx context.Context, monthStart time.Time) (domain.AdminDashboard, error)
}
