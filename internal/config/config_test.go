package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.ProviderTimeout != 90*time.Second {
		t.Errorf("expected 90s provider timeout, got %s", cfg.ProviderTimeout)
	}
	if cfg.RateLimit.Requests != 10 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("unexpected rate limit defaults: %+v", cfg.RateLimit)
	}
	if !cfg.IsDevelopment() {
		t.Error("empty FRONTEND_URL should be development")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("PORT", "9090")
	t.Setenv("PROVIDER_TIMEOUT", "5s")
	t.Setenv("FRONTEND_URL", "https://chat.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9090" || cfg.ProviderTimeout != 5*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.IsDevelopment() {
		t.Error("public frontend should not be development")
	}
	if got := cfg.AllowedOrigins(); len(got) != 1 || got[0] != "https://chat.example.com" {
		t.Errorf("unexpected origins %v", got)
	}
}

func TestLoadRejectsRedisWithoutURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REDIS_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for redis store without REDIS_URL")
	}
}

func TestLoadRejectsUnknownStore(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown store backend")
	}
}

func TestSlogLevel(t *testing.T) {
	c := &Config{LogLevel: "DEBUG"}
	if c.SlogLevel() != slog.LevelDebug {
		t.Errorf("expected debug, got %v", c.SlogLevel())
	}
	c.LogLevel = "bogus"
	if c.SlogLevel() != slog.LevelInfo {
		t.Errorf("expected info fallback, got %v", c.SlogLevel())
	}
}
