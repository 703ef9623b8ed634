package domain

import "time"

// Money is stored in integer paise throughout. Quantities are fractional
// (orders in part-kilograms are legal) and line totals round to whole paise.

type Address struct {
	Street string `json:"street"`
	Area   string `json:"area"`
	City   string `json:"city"`
}

// Account is one login identity. Several shops may belong to the same
// account; the credential lives here, not on the shop.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	MustChange   bool
	CreatedAt    time.Time
}

type Shop struct {
	ID                  string    `json:"id"`
	AccountID           string    `json:"account_id"`
	ShopName            string    `json:"shop_name"`
	OwnerName           string    `json:"owner_name"`
	Email               string    `json:"email"`
	Mobile              string    `json:"mobile"`
	Address             Address   `json:"address"`
	GSTNumber           string    `json:"gst_number,omitempty"`
	Status              string    `json:"status"`
	CreditLimitPaise    int64     `json:"credit_limit_paise"`
	PendingBalancePaise int64     `json:"pending_balance_paise"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type Product struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	NameTamil       string    `json:"name_tamil,omitempty"`
	Category        string    `json:"category"`
	RatePaise       int64     `json:"rate_paise"`
	UnitType        string    `json:"unit_type"`
	DefaultQuantity float64   `json:"default_quantity"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type ProductCreateRequest struct {
	Name            string  `json:"name"`
	NameTamil       string  `json:"name_tamil,omitempty"`
	Category        string  `json:"category"`
	RatePaise       int64   `json:"rate_paise"`
	UnitType        string  `json:"unit_type"`
	DefaultQuantity float64 `json:"default_quantity"`
}

type ProductUpdateRequest struct {
	Name            *string  `json:"name,omitempty"`
	NameTamil       *string  `json:"name_tamil,omitempty"`
	Category        *string  `json:"category,omitempty"`
	RatePaise       *int64   `json:"rate_paise,omitempty"`
	UnitType        *string  `json:"unit_type,omitempty"`
	DefaultQuantity *float64 `json:"default_quantity,omitempty"`
	Active          *bool    `json:"active,omitempty"`
}

type CartItem struct {
	ProductID string  `json:"product_id"`
	Quantity  float64 `json:"quantity"`
}

// OrderItem is a snapshot of the product at placement time. Later rate or
// name edits never reach back into an existing order.
type OrderItem struct {
	ProductID   string  `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    float64 `json:"quantity"`
	RatePaise   int64   `json:"rate_paise"`
	UnitType    string  `json:"unit_type"`
	TotalPaise  int64   `json:"total_paise"`
}

type Order struct {
	ID                    string      `json:"id"`
	OrderNumber           string      `json:"order_number"`
	ShopID                string      `json:"shop_id"`
	Items                 []OrderItem `json:"items"`
	TotalAmountPaise      int64       `json:"total_amount_paise"`
	Status                string      `json:"status"`
	Notes                 string      `json:"notes,omitempty"`
	PreferredDeliveryDate *time.Time  `json:"preferred_delivery_date,omitempty"`
	DeliveryAddress       Address     `json:"delivery_address"`
	CreatedAt             time.Time   `json:"created_at"`
	ConfirmedAt           *time.Time  `json:"confirmed_at,omitempty"`
	PackedAt              *time.Time  `json:"packed_at,omitempty"`
	OutForDeliveryAt      *time.Time  `json:"out_for_delivery_at,omitempty"`
	DeliveredAt           *time.Time  `json:"delivered_at,omitempty"`
	CancelledAt           *time.Time  `json:"cancelled_at,omitempty"`
}

type PlaceOrderRequest struct {
	ShopID                string     `json:"shop_id,omitempty"`
	Items                 []CartItem `json:"items"`
	Notes                 string     `json:"notes,omitempty"`
	DeliveryAddress       *Address   `json:"delivery_address,omitempty"`
	PreferredDeliveryDate *time.Time `json:"preferred_delivery_date,omitempty"`
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

type Payment struct {
	ID          string    `json:"id"`
	ShopID      string    `json:"shop_id"`
	AmountPaise int64     `json:"amount_paise"`
	Mode        string    `json:"mode"`
	Reference   string    `json:"reference,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	ReceivedBy  string    `json:"received_by"`
	CreatedAt   time.Time `json:"created_at"`
}

type PaymentCreateRequest struct {
	ShopID      string `json:"shop_id"`
	AmountPaise int64  `json:"amount_paise"`
	Mode        string `json:"mode"`
	Reference   string `json:"reference,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// DeliverOrderRequest marks an order delivered, optionally collecting a
// payment in the same operation.
type DeliverOrderRequest struct {
	Payment *PaymentCreateRequest `json:"payment,omitempty"`
}

type BalanceSummary struct {
	PendingBalancePaise int64 `json:"pending_balance_paise"`
	TotalOrdersPaise    int64 `json:"total_orders_paise"`
	TotalPaymentsPaise  int64 `json:"total_payments_paise"`
}

type LedgerEntry struct {
	Type                string    `json:"type"`
	Date                time.Time `json:"date"`
	Description         string    `json:"description"`
	AmountPaise         int64     `json:"amount_paise"`
	Reference           string    `json:"reference,omitempty"`
	RunningBalancePaise int64     `json:"running_balance_paise"`
}

type PaymentSnapshot struct {
	AmountPaise int64     `json:"amount_paise"`
	Mode        string    `json:"mode"`
	Date        time.Time `json:"date"`
}

type ShopBalanceResponse struct {
	BalanceSummary
	LastPayment *PaymentSnapshot `json:"last_payment,omitempty"`
	Ledger      []LedgerEntry    `json:"ledger"`
}

type ShopDashboard struct {
	PendingBalancePaise int64      `json:"pending_balance_paise"`
	TotalOrders         int        `json:"total_orders"`
	LastOrderStatus     string     `json:"last_order_status,omitempty"`
	LastOrderDate       *time.Time `json:"last_order_date,omitempty"`
}

type AdminDashboard struct {
	SalesThisMonthPaise    int64 `json:"sales_this_month_paise"`
	OrdersThisMonth        int   `json:"orders_this_month"`
	PaymentsThisMonthPaise int64 `json:"payments_this_month_paise"`
	OutstandingPaise       int64 `json:"outstanding_paise"`
	PendingOrders          int   `json:"pending_orders"`
	ActiveShops            int   `json:"active_shops"`
}

type ShopWithStats struct {
	Shop
	OrderCount int `json:"order_count"`
}

type ShopDetail struct {
	Shop
	OrderCount         int       `json:"order_count"`
	TotalOrdersPaise   int64     `json:"total_orders_paise"`
	TotalPaymentsPaise int64     `json:"total_payments_paise"`
	RecentOrders       []Order   `json:"recent_orders"`
	RecentPayments     []Payment `json:"recent_payments"`
}

type ShopUpdateRequest struct {
	Status           *string `json:"status,omitempty"`
	CreditLimitPaise *int64  `json:"credit_limit_paise,omitempty"`
}

type RegisterShopRequest struct {
	ShopName  string  `json:"shop_name"`
	OwnerName string  `json:"owner_name"`
	Email     string  `json:"email"`
	Mobile    string  `json:"mobile"`
	Password  string  `json:"password"`
	Address   Address `json:"address"`
	GSTNumber string  `json:"gst_number,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	Shops       []Shop `json:"shops,omitempty"`
	MustChange  bool   `json:"must_change_password,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type ResetPasswordResponse struct {
	TempPassword string `json:"temp_password"`
}

// Actor is the verified request identity. For shops the ID is the account id,
// so one login can act for every shop it owns.
type Actor struct {
	ID    string
	Email string
	Role  string
}

const (
	RoleAdmin = "admin"
	RoleShop  = "shop"
)

const (
	ShopStatusPending  = "pending"
	ShopStatusApproved = "approved"
	ShopStatusBlocked  = "blocked"
)

const (
	OrderStatusPending        = "pending"
	OrderStatusConfirmed      = "confirmed"
	OrderStatusPacked         = "packed"
	OrderStatusOutForDelivery = "out_for_delivery"
	OrderStatusDelivered      = "delivered"
	OrderStatusCancelled      = "cancelled"
)

const (
	PaymentModeCash         = "cash"
	PaymentModeUPI          = "upi"
	PaymentModeBank         = "bank"
	PaymentModeBankTransfer = "bank_transfer"
	PaymentModeCredit       = "credit"
)

const (
	UnitKg     = "kg"
	UnitPacket = "packet"
	UnitBox    = "box"
)

const (
	LedgerEntryOrder   = "order"
	LedgerEntryPayment = "payment"
)

// ProductCategories is the closed set of catalog groupings. Categories are
// display tags only; no business rule branches on them.
var ProductCategories = []string{
	"mixture", "bhel", "chevda", "dhal", "chips", "murukku",
	"boondi", "papdi", "sabudana", "sweets", "biscuits", "others",
}

func ValidProductCategory(category string) bool {
	for _, c := range ProductCategories {
		if c == category {
			return true
		}
	}
	return false
}

func ValidUnitType(unit string) bool {
	switch unit {
	case UnitKg, UnitPacket, UnitBox:
		return true
	default:
		return false
	}
}

func ValidPaymentMode(mode string) bool {
	switch mode {
	case PaymentModeCash, PaymentModeUPI, PaymentModeBank, PaymentModeBankTransfer, PaymentModeCredit:
		return true
	default:
		return false
	}
}

func ValidShopStatus(status string) bool {
	switch status {
	case ShopStatusPending, ShopStatusApproved, ShopStatusBlocked:
		return true
	default:
		return false
	}
}
