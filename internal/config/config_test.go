package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR", "REDIS_PASSWORD",
		"REDIS_DB", "AUTH_SECRET", "ACCESS_TOKEN_TTL_MINUTES", "ADMIN_EMAIL",
		"ADMIN_NAME", "ADMIN_PASSWORD", "ENFORCE_CREDIT_LIMIT", "BALANCE_CACHE_TTL_SECONDS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.AllowedOrigin != "http://127.0.0.1:3000" {
		t.Errorf("AllowedOrigin = %q", cfg.AllowedOrigin)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 480", cfg.AccessTokenTTLMinutes)
	}
	if cfg.BalanceCacheTTLSeconds != 15 {
		t.Errorf("BalanceCacheTTLSeconds = %d, want 15", cfg.BalanceCacheTTLSeconds)
	}
	if cfg.AdminEmail != "admin@snackmandi.in" {
		t.Errorf("AdminEmail = %q", cfg.AdminEmail)
	}
	if cfg.EnforceCreditLimit {
		t.Errorf("EnforceCreditLimit must default to false")
	}
}

// Secrets must never get invented defaults: startup validation is what decides
// whether the process can run without them.
func TestLoadLeavesSecretsEmpty(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Errorf("AuthSecret = %q, want empty", cfg.AuthSecret)
	}
	if cfg.AdminPassword != "" {
		t.Errorf("AdminPassword = %q, want empty", cfg.AdminPassword)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("ADMIN_EMAIL", "  Boss@SnackMandi.IN  ")
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "60")
	t.Setenv("ENFORCE_CREDIT_LIMIT", "true")

	cfg := Load()
	if cfg.Port != "9000" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if cfg.Address() != ":9000" {
		t.Errorf("Address() = %q", cfg.Address())
	}
	if cfg.AdminEmail != "boss@snackmandi.in" {
		t.Errorf("AdminEmail must be trimmed and lowercased, got %q", cfg.AdminEmail)
	}
	if cfg.AccessTokenTTLMinutes != 60 {
		t.Errorf("AccessTokenTTLMinutes = %d", cfg.AccessTokenTTLMinutes)
	}
	if !cfg.EnforceCreditLimit {
		t.Errorf("EnforceCreditLimit = false, want true")
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	clearEnv(t)
	t.Setenv("ACCESS_TOKEN_TTL_MINUTES", "not-a-number")
	t.Setenv("BALANCE_CACHE_TTL_SECONDS", "-5")

	cfg := Load()
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Errorf("bad TTL must fall back to 480, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.BalanceCacheTTLSeconds != 15 {
		t.Errorf("negative cache TTL must fall back to 15, got %d", cfg.BalanceCacheTTLSeconds)
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, " TRUE ": true,
		"false": false, "0": false, "": false, "yes": false,
	}
	for raw, want := range cases {
		if got := parseBool(raw); got != want {
			t.Errorf("parseBool(%q) = %v, want %v", raw, got, want)
		}
	}
}
