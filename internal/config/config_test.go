package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "ENV", "LOG_LEVEL", "SESSION_STORE", "SESSION_TTL", "PAYMENT_CURRENCY", "CORS_ALLOWED_ORIGINS", "MARKETPLACE_BASE_URL"} {
		t.Setenv(key, "")
	}
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.SessionStore != "memory" {
		t.Fatalf("expected memory session store by default, got %s", cfg.SessionStore)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("expected default session ttl, got %s", cfg.SessionTTL)
	}
	if cfg.PaymentCurrency != "usd" {
		t.Fatalf("expected usd, got %s", cfg.PaymentCurrency)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("expected wildcard cors origins, got %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MarketplaceBaseURL != "http://localhost:5000" {
		t.Fatalf("unexpected marketplace url %s", cfg.MarketplaceBaseURL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("MARKETPLACE_BASE_URL", "https://api.urbanassist.test/")
	t.Setenv("MARKETPLACE_TIMEOUT", "3s")
	t.Setenv("DISPLAY_TIMEZONE", "America/New_York")
	t.Setenv("PAYMENT_CURRENCY", "EUR")
	t.Setenv("SESSION_STORE", " Redis ")
	t.Setenv("SESSION_TTL", "10m")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://app.urbanassist.test, ,https://admin.urbanassist.test")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("RATE_LIMIT_BURST", "5")
	t.Setenv("ALLOW_FAKE_PAYMENTS", "true")

	cfg := Load()
	if cfg.Port != "9090" || cfg.Env != "production" {
		t.Fatalf("unexpected port/env %s/%s", cfg.Port, cfg.Env)
	}
	if cfg.MarketplaceBaseURL != "https://api.urbanassist.test" {
		t.Fatalf("expected trailing slash trimmed, got %s", cfg.MarketplaceBaseURL)
	}
	if cfg.MarketplaceTimeout != 3*time.Second {
		t.Fatalf("expected 3s timeout, got %s", cfg.MarketplaceTimeout)
	}
	if cfg.DisplayTimezone != "America/New_York" {
		t.Fatalf("unexpected timezone %s", cfg.DisplayTimezone)
	}
	if cfg.PaymentCurrency != "eur" {
		t.Fatalf("expected lowercased currency, got %s", cfg.PaymentCurrency)
	}
	if cfg.SessionStore != "redis" || cfg.SessionTTL != 10*time.Minute {
		t.Fatalf("unexpected session config %s %s", cfg.SessionStore, cfg.SessionTTL)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://admin.urbanassist.test" {
		t.Fatalf("unexpected cors origins %v", cfg.CORSAllowedOrigins)
	}
	if cfg.RateLimitRPS != 2.5 || cfg.RateLimitBurst != 5 {
		t.Fatalf("unexpected rate limit %v/%d", cfg.RateLimitRPS, cfg.RateLimitBurst)
	}
	if !cfg.AllowFakePayments {
		t.Fatal("expected fake payments enabled")
	}
}

func TestInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_BURST", "lots")
	t.Setenv("MARKETPLACE_TIMEOUT", "soon")
	cfg := Load()
	if cfg.RateLimitBurst != 20 {
		t.Fatalf("expected default burst, got %d", cfg.RateLimitBurst)
	}
	if cfg.MarketplaceTimeout != 15*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.MarketplaceTimeout)
	}
}
