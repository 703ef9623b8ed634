package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"snackmandi/backend/internal/domain"
	"snackmandi/backend/internal/store"
)

// AuthManager issues and verifies access tokens. The admin credential comes
// from the environment and never touches the database; shop credentials live
// on account rows in the repository.
type AuthManager struct {
	secret        []byte
	tokenTTL      time.Duration
	adminEmail    string
	adminPassHash string
	repo          store.Repository
}

type apiCustomClaims struct {
	jwtlib.RegisteredClaims
	Role  string `json:"role"`
	Email string `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, adminEmail string, adminPassword string, repo store.Repository) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	adminPassHash := ""
	if strings.TrimSpace(adminPassword) != "" {
		if hashed, err := hashPassword(adminPassword); err == nil {
			adminPassHash = hashed
		}
	}

	return &AuthManager{
		secret:        []byte(secret),
		tokenTTL:      tokenTTL,
		adminEmail:    strings.ToLower(strings.TrimSpace(adminEmail)),
		adminPassHash: adminPassHash,
		repo:          repo,
	}
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	if email == a.adminEmail && a.adminPassHash != "" {
		if !verifyPassword(a.adminPassHash, req.Password) {
			return domain.LoginResponse{}, errors.New("invalid credentials")
		}
		expiresAt := time.Now().UTC().Add(a.tokenTTL)
		token, err := a.sign("admin", email, domain.RoleAdmin, expiresAt)
		if err != nil {
			return domain.LoginResponse{}, err
		}
		return domain.LoginResponse{
			AccessToken: token,
			Role:        domain.RoleAdmin,
			ExpiresAt:   expiresAt.Format(time.RFC3339),
		}, nil
	}

	account, err := a.repo.GetAccountByEmail(ctx, email)
	if err != nil {
		// Same message whether the account is missing or the password is
		// wrong, so login attempts cannot probe for registered emails.
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}
	if !verifyPassword(account.PasswordHash, req.Password) {
		return domain.LoginResponse{}, errors.New("invalid credentials")
	}

	shops, err := a.repo.ListShopsByAccount(ctx, account.ID)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(account.ID, account.Email, domain.RoleShop, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        domain.RoleShop,
		Shops:       shops,
		MustChange:  account.MustChange,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

// Register creates a shop under a new or existing account. When the email is
// already registered the supplied password must match the existing credential;
// the new shop then joins that account. New shops start pending and cannot
// order until an admin approves them.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterShopRequest) (domain.Shop, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	req.ShopName = strings.TrimSpace(req.ShopName)
	req.OwnerName = strings.TrimSpace(req.OwnerName)

	if email == "" || !strings.Contains(email, "@") {
		return domain.Shop{}, fmt.Errorf("%w: valid email required", store.ErrInvalidInput)
	}
	if email == a.adminEmail {
		return domain.Shop{}, fmt.Errorf("%w: email already registered", store.ErrConflict)
	}
	if req.ShopName == "" || req.OwnerName == "" {
		return domain.Shop{}, fmt.Errorf("%w: shop name and owner name required", store.ErrInvalidInput)
	}
	if len(req.Password) < 8 {
		return domain.Shop{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	account, err := a.repo.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if !verifyPassword(account.PasswordHash, req.Password) {
			return domain.Shop{}, fmt.Errorf("%w: email already registered", store.ErrConflict)
		}
	case errors.Is(err, store.ErrNotFound):
		passwordHash, hashErr := hashPassword(req.Password)
		if hashErr != nil {
			return domain.Shop{}, hashErr
		}
		account, err = a.repo.CreateAccount(ctx, domain.Account{
			Email:        email,
			PasswordHash: passwordHash,
			CreatedAt:    time.Now().UTC(),
		})
		if err != nil {
			return domain.Shop{}, err
		}
	default:
		return domain.Shop{}, err
	}

	now := time.Now().UTC()
	shop, err := a.repo.CreateShop(ctx, domain.Shop{
		AccountID: account.ID,
		ShopName:  req.ShopName,
		OwnerName: req.OwnerName,
		Email:     email,
		Mobile:    strings.TrimSpace(req.Mobile),
		Address:   req.Address,
		GSTNumber: strings.TrimSpace(req.GSTNumber),
		Status:    domain.ShopStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

func (a *AuthManager) ChangePassword(ctx context.Context, actor domain.Actor, req domain.ChangePasswordRequest) error {
	if actor.Role != domain.RoleShop {
		return errors.New("only shop accounts can change password here")
	}
	if len(req.NewPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", store.ErrInvalidInput)
	}

	account, err := a.repo.GetAccountByID(ctx, actor.ID)
	if err != nil {
		return err
	}
	if !verifyPassword(account.PasswordHash, req.CurrentPassword) {
		return errors.New("current password is incorrect")
	}

	passwordHash, err := hashPassword(req.NewPassword)
	if err != nil {
		return err
	}
	return a.repo.UpdateAccountPassword(ctx, account.ID, passwordHash, false)
}

// ResetPassword generates a temporary password for a shop's account and flags
// it for mandatory change on next login. The temp password is returned once
// and never stored in the clear.
func (a *AuthManager) ResetPassword(ctx context.Context, shopID string) (domain.ResetPasswordResponse, error) {
	shop, err := a.repo.GetShopByID(ctx, shopID)
	if err != nil {
		return domain.ResetPasswordResponse{}, err
	}

	temp, err := tempPassword()
	if err != nil {
		return domain.ResetPasswordResponse{}, err
	}
	passwordHash, err := hashPassword(temp)
	if err != nil {
		return domain.ResetPasswordResponse{}, err
	}

	if err := a.repo.UpdateAccountPassword(ctx, shop.AccountID, passwordHash, true); err != nil {
		return domain.ResetPasswordResponse{}, err
	}
	return domain.ResetPasswordResponse{TempPassword: temp}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &apiCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{ID: sub, Email: claims.Email, Role: claims.Role}, nil
}

func (a *AuthManager) sign(subject string, email string, role string, expiresAt time.Time) (string, error) {
	claims := apiCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "snackmandi",
		},
		Role:  role,
		Email: email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func tempPassword() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
