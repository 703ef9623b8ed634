package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"snackmandi/backend/internal/cache"
	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/ledger"
	"snackmandi/backend/internal/service"
	"snackmandi/backend/internal/store/memory"
)

type apiFixture struct {
	api  *API
	repo *memory.Store
	auth *AuthManager
}

func newTestAPI(t *testing.T) apiFixture {
	t.Helper()
	repo := memory.New()
	engine := ledger.NewEngine(cache.NoopBalanceCache{}, 5*time.Second)
	svc := service.New(repo, engine, false)
	auth := NewAuthManager(testSecret, time.Hour, "admin@snackmandi.in", "long-admin-secret", repo)
	return apiFixture{api: New(svc, auth, "http://127.0.0.1:3000"), repo: repo, auth: auth}
}

func (f apiFixture) adminToken(t *testing.T) string {
	t.Helper()
	resp, err := f.auth.Login(context.Background(), domain.LoginRequest{
		Email:    "admin@snackmandi.in",
		Password: "long-admin-secret",
	})
	if err != nil {
		t.Fatalf("admin login: %v", err)
	}
	return resp.AccessToken
}

// seedApprovedShop registers a shop through the auth manager, approves it
// directly on the repo, and returns the shop plus a bearer token for its owner.
func (f apiFixture) seedApprovedShop(t *testing.T) (domain.Shop, string) {
	t.Helper()
	ctx := context.Background()

	shop, err := f.auth.Register(ctx, registerRequest("annai@example.in"))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := f.repo.UpdateShopStatus(ctx, shop.ID, domain.ShopStatusApproved); err != nil {
		t.Fatalf("approve shop: %v", err)
	}

	login, err := f.auth.Login(ctx, domain.LoginRequest{Email: shop.Email, Password: "strongpass"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return shop, login.AccessToken
}

func (f apiFixture) seedProduct(t *testing.T, ratePaise int64) domain.Product {
	t.Helper()
	product, err := f.repo.CreateProduct(context.Background(), domain.Product{
		Name:            "Sweet Mixture",
		Category:        "mixture",
		RatePaise:       ratePaise,
		UnitType:        domain.UnitKg,
		DefaultQuantity: 1,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return *product
}

func doRequest(t *testing.T, handler http.Handler, method, path, token, csrf string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dest); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	f := newTestAPI(t)
	rec := doRequest(t, f.api.Handler(), http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	f := newTestAPI(t)
	rec := doRequest(t, f.api.Handler(), http.MethodGet, "/healthz", "", "", nil)

	for header, want := range map[string]string{
		"X-Content-Type-Options":      "nosniff",
		"X-Frame-Options":             "DENY",
		"Referrer-Policy":             "strict-origin-when-cross-origin",
		"Access-Control-Allow-Origin": "http://127.0.0.1:3000",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/products", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token = %d, want 401", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/products", "garbage-token", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token = %d, want 401", rec.Code)
	}
}

func TestShopTokenCannotReachAdminRoutes(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()
	_, shopToken := f.seedApprovedShop(t)

	rec := doRequest(t, handler, http.MethodGet, "/api/v1/admin/dashboard", shopToken, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("shop on admin route = %d, want 403", rec.Code)
	}
}

func TestMutationsRequireCSRFToken(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()
	_, shopToken := f.seedApprovedShop(t)
	product := f.seedProduct(t, 14500)

	body := domain.PlaceOrderRequest{Items: []domain.CartItem{{ProductID: product.ID, Quantity: 1}}}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/orders", shopToken, "", body)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("mutation without CSRF token = %d, want 403", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/auth/csrf-token", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf-token = %d", rec.Code)
	}
	var tokenResp struct {
		CSRFToken string `json:"csrf_token"`
	}
	decodeBody(t, rec, &tokenResp)

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/orders", shopToken, tokenResp.CSRFToken, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mutation with CSRF token = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterAndLoginOverHTTP(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()

	// Register and login are CSRF-exempt: no token fetch has happened yet.
	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/register", "", "", registerRequest("kumar@example.in"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Email:    "kumar@example.in",
		Password: "strongpass",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d, body %s", rec.Code, rec.Body.String())
	}
	var login domain.LoginResponse
	decodeBody(t, rec, &login)
	if login.AccessToken == "" || login.Role != domain.RoleShop {
		t.Fatalf("unexpected login response: %+v", login)
	}
}

func TestOrderLifecycleOverHTTP(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()
	shop, shopToken := f.seedApprovedShop(t)
	product := f.seedProduct(t, 14500)
	adminToken := f.adminToken(t)
	csrf := f.api.generateCSRFToken()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/orders", shopToken, csrf, domain.PlaceOrderRequest{
		Items: []domain.CartItem{{ProductID: product.ID, Quantity: 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order = %d, body %s", rec.Code, rec.Body.String())
	}
	var placed struct {
		Order domain.Order `json:"order"`
	}
	decodeBody(t, rec, &placed)
	if placed.Order.TotalAmountPaise != 29000 {
		t.Fatalf("total = %d, want 29000", placed.Order.TotalAmountPaise)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/v1/orders/"+placed.Order.ID, adminToken, csrf, domain.OrderStatusUpdateRequest{
		Status: domain.OrderStatusConfirmed,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, handler, http.MethodPost, "/api/v1/orders/"+placed.Order.ID+"/deliver", adminToken, csrf, domain.DeliverOrderRequest{
		Payment: &domain.PaymentCreateRequest{AmountPaise: 20000, Mode: domain.PaymentModeCash},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver = %d, body %s", rec.Code, rec.Body.String())
	}
	var delivered struct {
		Order   domain.Order   `json:"order"`
		Payment domain.Payment `json:"payment"`
	}
	decodeBody(t, rec, &delivered)
	if delivered.Order.Status != domain.OrderStatusDelivered || delivered.Order.DeliveredAt == nil {
		t.Fatalf("order not delivered: %+v", delivered.Order)
	}
	if delivered.Payment.AmountPaise != 20000 {
		t.Fatalf("payment not recorded: %+v", delivered.Payment)
	}

	// 29000 delivered minus 20000 collected.
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/shop/balance?shop_id="+shop.ID, shopToken, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("balance = %d, body %s", rec.Code, rec.Body.String())
	}
	var balance domain.ShopBalanceResponse
	decodeBody(t, rec, &balance)
	if balance.PendingBalancePaise != 9000 {
		t.Fatalf("pending = %d, want 9000", balance.PendingBalancePaise)
	}
}

func TestStatusUpdateConflictsMapTo409(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()
	_, shopToken := f.seedApprovedShop(t)
	product := f.seedProduct(t, 14500)
	adminToken := f.adminToken(t)
	csrf := f.api.generateCSRFToken()

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/orders", shopToken, csrf, domain.PlaceOrderRequest{
		Items: []domain.CartItem{{ProductID: product.ID, Quantity: 1}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order = %d", rec.Code)
	}
	var placed struct {
		Order domain.Order `json:"order"`
	}
	decodeBody(t, rec, &placed)

	rec = doRequest(t, handler, http.MethodPatch, "/api/v1/orders/"+placed.Order.ID, adminToken, csrf, domain.OrderStatusUpdateRequest{
		Status: domain.OrderStatusDelivered,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("deliver = %d", rec.Code)
	}

	rec = doRequest(t, handler, http.MethodPatch, "/api/v1/orders/"+placed.Order.ID, adminToken, csrf, domain.OrderStatusUpdateRequest{
		Status: domain.OrderStatusDelivered,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("re-deliver = %d, want 409", rec.Code)
	}
}

func TestLoginRateLimit(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()

	for i := 0; i < 5; i++ {
		rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
			Email:    fmt.Sprintf("probe%d@example.in", i),
			Password: "wrongwrong",
		})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i, rec.Code)
		}
	}

	rec := doRequest(t, handler, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{
		Email:    "probe@example.in",
		Password: "wrongwrong",
	})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth attempt = %d, want 429", rec.Code)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	f := newTestAPI(t)
	handler := f.api.Handler()
	_, shopToken := f.seedApprovedShop(t)
	csrf := f.api.generateCSRFToken()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewReader([]byte(`{"bogus_field":1}`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+shopToken)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", rec.Code)
	}
}

func TestCSRFTokenWindow(t *testing.T) {
	f := newTestAPI(t)

	current := f.api.generateCSRFToken()
	if !f.api.validateCSRFToken(current) {
		t.Fatalf("current-hour token must validate")
	}

	prevBucket := time.Now().UTC().Truncate(time.Hour).Unix() - 3600
	if !f.api.validateCSRFToken(f.api.csrfTokenForHour(prevBucket)) {
		t.Fatalf("previous-hour token must still validate")
	}

	staleBucket := prevBucket - 3600
	if f.api.validateCSRFToken(f.api.csrfTokenForHour(staleBucket)) {
		t.Fatalf("two-hour-old token must be rejected")
	}
	if f.api.validateCSRFToken("") {
		t.Fatalf("empty token must be rejected")
	}
}
