package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/store"
	"snackmandi/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema bootstraps the tables on startup. Statements are idempotent so
// repeated startups are safe.
func (s *Store) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			must_change BOOLEAN NOT NULL DEFAULT false,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS shops (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			shop_name TEXT NOT NULL,
			owner_name TEXT NOT NULL,
			email TEXT NOT NULL,
			mobile TEXT NOT NULL DEFAULT '',
			street TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			gst_number TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			credit_limit_paise BIGINT NOT NULL DEFAULT 0,
			pending_balance_paise BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (account_id, shop_name)
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			name_tamil TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL,
			rate_paise BIGINT NOT NULL,
			unit_type TEXT NOT NULL,
			default_quantity DOUBLE PRECISION NOT NULL DEFAULT 1,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			order_number TEXT NOT NULL UNIQUE,
			shop_id TEXT NOT NULL REFERENCES shops(id),
			items JSONB NOT NULL,
			total_amount_paise BIGINT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			notes TEXT NOT NULL DEFAULT '',
			preferred_delivery_date TIMESTAMPTZ,
			street TEXT NOT NULL DEFAULT '',
			area TEXT NOT NULL DEFAULT '',
			city TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			confirmed_at TIMESTAMPTZ,
			packed_at TIMESTAMPTZ,
			out_for_delivery_at TIMESTAMPTZ,
			delivered_at TIMESTAMPTZ,
			cancelled_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_shop_created ON orders (shop_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS payments (
			id TEXT PRIMARY KEY,
			shop_id TEXT NOT NULL REFERENCES shops(id),
			amount_paise BIGINT NOT NULL,
			mode TEXT NOT NULL,
			reference TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			received_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_shop_created ON payments (shop_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS counters (
			name TEXT PRIMARY KEY,
			value BIGINT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateAccount(ctx context.Context, account domain.Account) (*domain.Account, error) {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	if account.Email == "" || account.PasswordHash == "" {
		return nil, store.ErrInvalidInput
	}
	if account.ID == "" {
		account.ID = xid.New("acc")
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, must_change, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, account.ID, account.Email, account.PasswordHash, account.MustChange, account.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := account
	return &created, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.findAccount(ctx, "email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	return s.findAccount(ctx, "id", id)
}

func (s *Store) findAccount(ctx context.Context, column string, value string) (*domain.Account, error) {
	if column != "id" && column != "email" {
		return nil, store.ErrInvalidInput
	}

	var account domain.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, must_change, created_at
		FROM accounts
		WHERE `+column+` = $1
	`, value).Scan(&account.ID, &account.Email, &account.PasswordHash, &account.MustChange, &account.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	account.CreatedAt = account.CreatedAt.UTC()
	return &account, nil
}

func (s *Store) UpdateAccountPassword(ctx context.Context, accountID string, passwordHash string, mustChange bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = $2, must_change = $3
		WHERE id = $1
	`, accountID, passwordHash, mustChange)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const shopColumns = `id, account_id, shop_name, owner_name, email, mobile, street, area, city,
	gst_number, status, credit_limit_paise, pending_balance_paise, created_at, updated_at`

func scanShop(row interface{ Scan(dest ...any) error }) (domain.Shop, error) {
	var shop domain.Shop
	err := row.Scan(
		&shop.ID,
		&shop.AccountID,
		&shop.ShopName,
		&shop.OwnerName,
		&shop.Email,
		&shop.Mobile,
		&shop.Address.Street,
		&shop.Address.Area,
		&shop.Address.City,
		&shop.GSTNumber,
		&shop.Status,
		&shop.CreditLimitPaise,
		&shop.PendingBalancePaise,
		&shop.CreatedAt,
		&shop.UpdatedAt,
	)
	if err != nil {
		return shop, err
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	shop.UpdatedAt = shop.UpdatedAt.UTC()
	return shop, nil
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if shop.AccountID == "" || shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrInvalidInput
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	now := time.Now().UTC()
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = now
	}
	shop.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (
			id, account_id, shop_name, owner_name, email, mobile, street, area, city,
			gst_number, status, credit_limit_paise, pending_balance_paise, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, shop.ID, shop.AccountID, shop.ShopName, shop.OwnerName, shop.Email, shop.Mobile,
		shop.Address.Street, shop.Address.Area, shop.Address.City, shop.GSTNumber,
		shop.Status, shop.CreditLimitPaise, shop.PendingBalancePaise, shop.CreatedAt, shop.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := shop
	return &created, nil
}

func (s *Store) GetShopByID(ctx context.Context, id string) (*domain.Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shop, nil
}

func (s *Store) ListShops(ctx context.Context, status string) ([]domain.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
	`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, 32)
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) ListShopsByAccount(ctx context.Context, accountID string) ([]domain.Shop, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+shopColumns+`
		FROM shops
		WHERE account_id = $1
		ORDER BY shop_name ASC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	shops := make([]domain.Shop, 0, 2)
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, shop)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return shops, nil
}

func (s *Store) UpdateShopStatus(ctx context.Context, shopID string, status string) (*domain.Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `
		UPDATE shops
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+shopColumns+`
	`, shopID, status))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shop, nil
}

func (s *Store) UpdateShopCreditLimit(ctx context.Context, shopID string, creditLimitPaise int64) (*domain.Shop, error) {
	shop, err := scanShop(s.db.QueryRowContext(ctx, `
		UPDATE shops
		SET credit_limit_paise = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+shopColumns+`
	`, shopID, creditLimitPaise))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shop, nil
}

func (s *Store) AddShopBalance(ctx context.Context, shopID string, deltaPaise int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET pending_balance_paise = pending_balance_paise + $2, updated_at = now()
		WHERE id = $1
	`, shopID, deltaPaise)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) SetShopBalance(ctx context.Context, shopID string, balancePaise int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET pending_balance_paise = $2, updated_at = now()
		WHERE id = $1
	`, shopID, balancePaise)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

const productColumns = `id, name, name_tamil, category, rate_paise, unit_type, default_quantity, active, created_at, updated_at`

func scanProduct(row interface{ Scan(dest ...any) error }) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.NameTamil,
		&p.Category,
		&p.RatePaise,
		&p.UnitType,
		&p.DefaultQuantity,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return p, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.RatePaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, name_tamil, category, rate_paise, unit_type, default_quantity, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, product.ID, product.Name, product.NameTamil, product.Category, product.RatePaise,
		product.UnitType, product.DefaultQuantity, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[product.ID] = product
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListProducts(ctx context.Context, category string, includeInactive bool) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE ($1 = '' OR category = $1)
			AND ($2 OR active = true)
		ORDER BY category, name
	`, category, includeInactive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.Category == "" || product.RatePaise < 1 {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, name_tamil = $3, category = $4, rate_paise = $5, unit_type = $6,
			default_quantity = $7, active = $8, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.NameTamil, product.Category, product.RatePaise,
		product.UnitType, product.DefaultQuantity, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	updated := product
	return &updated, nil
}

func (s *Store) NextOrderSeq(ctx context.Context) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO counters (name, value)
		VALUES ('order_seq', 1)
		ON CONFLICT (name)
		DO UPDATE SET value = counters.value + 1
		RETURNING value
	`).Scan(&next)
	if err != nil {
		return 0, err
	}
	return next, nil
}

const orderColumns = `id, order_number, shop_id, items, total_amount_paise, status, notes,
	preferred_delivery_date, street, area, city, created_at,
	confirmed_at, packed_at, out_for_delivery_at, delivered_at, cancelled_at`

func scanOrder(row interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var order domain.Order
	var itemsRaw []byte
	var preferred, confirmed, packed, outForDelivery, delivered, cancelled sql.NullTime

	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.ShopID,
		&itemsRaw,
		&order.TotalAmountPaise,
		&order.Status,
		&order.Notes,
		&preferred,
		&order.DeliveryAddress.Street,
		&order.DeliveryAddress.Area,
		&order.DeliveryAddress.City,
		&order.CreatedAt,
		&confirmed,
		&packed,
		&outForDelivery,
		&delivered,
		&cancelled,
	)
	if err != nil {
		return order, err
	}
	if err := json.Unmarshal(itemsRaw, &order.Items); err != nil {
		return order, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.PreferredDeliveryDate = timePtr(preferred)
	order.ConfirmedAt = timePtr(confirmed)
	order.PackedAt = timePtr(packed)
	order.OutForDeliveryAt = timePtr(outForDelivery)
	order.DeliveredAt = timePtr(delivered)
	order.CancelledAt = timePtr(cancelled)
	return order, nil
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if order.ShopID == "" || len(order.Items) == 0 || order.OrderNumber == "" {
		return nil, store.ErrInvalidInput
	}
	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	itemsRaw, err := json.Marshal(order.Items)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, order_number, shop_id, items, total_amount_paise, status, notes,
			preferred_delivery_date, street, area, city, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, order.ID, order.OrderNumber, order.ShopID, itemsRaw, order.TotalAmountPaise,
		order.Status, order.Notes, nullTime(order.PreferredDeliveryDate),
		order.DeliveryAddress.Street, order.DeliveryAddress.Area, order.DeliveryAddress.City,
		order.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := order
	return &created, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter store.OrderFilter) ([]domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE ($1 = '' OR shop_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`
	args := []any{filter.ShopID, filter.Status}
	query, args = appendLimit(query, args, filter.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, 64)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

func (s *Store) CountOrdersByShop(ctx context.Context, shopID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM orders WHERE shop_id = $1
	`, shopID).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) AdvanceOrderStatus(ctx context.Context, orderID string, status string, at time.Time) (*domain.Order, error) {
	if !domain.ValidOrderStatus(status) {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.advanceOrderStatusTx(ctx, tx, orderID, status, at)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return order, nil
}

// advanceOrderStatusTx does the locked transition inside the caller's
// transaction: row lock, CanTransition check, timestamp stamping and the
// delivered balance credit.
func (s *Store) advanceOrderStatusTx(ctx context.Context, tx *sql.Tx, orderID string, status string, at time.Time) (*domain.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if !domain.CanTransition(order.Status, status) {
		return nil, store.ErrConflict
	}

	wasDelivered := order.Status == domain.OrderStatusDelivered
	domain.ApplyStatus(&order, status, at)

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2, confirmed_at = $3, packed_at = $4, out_for_delivery_at = $5,
			delivered_at = $6, cancelled_at = $7
		WHERE id = $1
	`, order.ID, order.Status, nullTime(order.ConfirmedAt), nullTime(order.PackedAt),
		nullTime(order.OutForDeliveryAt), nullTime(order.DeliveredAt), nullTime(order.CancelledAt))
	if err != nil {
		return nil, err
	}

	if status == domain.OrderStatusDelivered && !wasDelivered {
		_, err = tx.ExecContext(ctx, `
			UPDATE shops
			SET pending_balance_paise = pending_balance_paise + $2, updated_at = now()
			WHERE id = $1
		`, order.ShopID, order.TotalAmountPaise)
		if err != nil {
			return nil, err
		}
	}

	return &order, nil
}

// CancelPendingOrder relies on a conditional UPDATE: the pending check and the
// cancellation are one statement, so no concurrent transition can land in
// between.
func (s *Store) CancelPendingOrder(ctx context.Context, orderID string, at time.Time) (*domain.Order, error) {
	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2, cancelled_at = $3
		WHERE id = $1 AND status = $4
		RETURNING `+orderColumns+`
	`, orderID, domain.OrderStatusCancelled, at, domain.OrderStatusPending))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetOrderByID(ctx, orderID); getErr != nil {
				return nil, getErr
			}
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &order, nil
}

func (s *Store) DeliverOrderWithPayment(ctx context.Context, orderID string, payment domain.Payment, at time.Time) (*domain.Order, *domain.Payment, error) {
	if payment.AmountPaise < 1 {
		return nil, nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = at
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = tx.Rollback() }()

	order, err := s.advanceOrderStatusTx(ctx, tx, orderID, domain.OrderStatusDelivered, at)
	if err != nil {
		return nil, nil, err
	}
	if payment.ShopID != order.ShopID {
		return nil, nil, store.ErrInvalidInput
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, shop_id, amount_paise, mode, reference, notes, received_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.ShopID, payment.AmountPaise, payment.Mode, payment.Reference,
		payment.Notes, payment.ReceivedBy, payment.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shops
		SET pending_balance_paise = pending_balance_paise - $2, updated_at = now()
		WHERE id = $1
	`, payment.ShopID, payment.AmountPaise)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}

	created := payment
	return order, &created, nil
}

func (s *Store) CreatePayment(ctx context.Context, payment domain.Payment) (*domain.Payment, error) {
	if payment.ShopID == "" || payment.AmountPaise < 1 {
		return nil, store.ErrInvalidInput
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payments (id, shop_id, amount_paise, mode, reference, notes, received_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, payment.ID, payment.ShopID, payment.AmountPaise, payment.Mode, payment.Reference,
		payment.Notes, payment.ReceivedBy, payment.CreatedAt)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE shops
		SET pending_balance_paise = pending_balance_paise - $2, updated_at = now()
		WHERE id = $1
	`, payment.ShopID, payment.AmountPaise)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	created := payment
	return &created, nil
}

func (s *Store) ListPayments(ctx context.Context, shopID string, limit int) ([]domain.Payment, error) {
	query := `
		SELECT id, shop_id, amount_paise, mode, reference, notes, received_by, created_at
		FROM payments
		WHERE ($1 = '' OR shop_id = $1)
		ORDER BY created_at DESC`
	args := []any{shopID}
	query, args = appendLimit(query, args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 64)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.ShopID, &p.AmountPaise, &p.Mode, &p.Reference, &p.Notes, &p.ReceivedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return payments, nil
}

func (s *Store) GetAdminDashboard(ctx context.Context, monthStart time.Time) (domain.AdminDashboard, error) {
	var dash domain.AdminDashboard

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN status = $2 AND delivered_at >= $1 THEN total_amount_paise ELSE 0 END),0)::bigint,
			COALESCE(SUM(CASE WHEN created_at >= $1 THEN 1 ELSE 0 END),0)::int,
			COALESCE(SUM(CASE WHEN status = $3 THEN 1 ELSE 0 END),0)::int
		FROM orders
	`, monthStart, domain.OrderStatusDelivered, domain.OrderStatusPending).Scan(
		&dash.SalesThisMonthPaise,
		&dash.OrdersThisMonth,
		&dash.PendingOrders,
	)
	if err != nil {
		return dash, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_paise),0)::bigint
		FROM payments
		WHERE created_at >= $1
	`, monthStart).Scan(&dash.PaymentsThisMonthPaise)
	if err != nil {
		return dash, err
	}

	// Outstanding sums positive per-shop dues only; an overpaid shop does not
	// offset another shop's debt.
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(GREATEST(due, 0)),0)::bigint
		FROM (
			SELECT
				COALESCE((SELECT SUM(total_amount_paise) FROM orders o WHERE o.shop_id = s.id AND o.status = $1),0)
				- COALESCE((SELECT SUM(amount_paise) FROM payments p WHERE p.shop_id = s.id),0) AS due
			FROM shops s
		) dues
	`, domain.OrderStatusDelivered).Scan(&dash.OutstandingPaise)
	if err != nil {
		return dash, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM shops WHERE status = $1
	`, domain.ShopStatusApproved).Scan(&dash.ActiveShops)
	if err != nil {
		return dash, err
	}

	return dash, nil
}

// appendLimit adds a LIMIT clause for positive limits. Limit <= 0 means no
// limit: reconciliation reads every delivered order and payment, and a
// truncated read would be persisted as the shop's balance.
func appendLimit(query string, args []any, limit int) (string, []any) {
	if limit < 1 {
		return query, args
	}
	args = append(args, limit)
	return query + fmt.Sprintf(" LIMIT $%d", len(args)), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}
