package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("ARCHBOARD_ACCESS_TTL_SECONDS", "")
	t.Setenv("MINIO_USE_SSL", "")
	t.Setenv("DB_MAX_OPEN_CONNS", "")
	t.Setenv("ARCHBOARD_EXPORT_PAPER", "")
	t.Setenv("ARCHBOARD_TRUSTED_PROXIES", "")
	t.Setenv("ARCHBOARD_LOGIN_EMAIL_RATE_PER_MINUTE", "")

	cfg := Load()
	if len(cfg.TrustedProxies) != 0 || cfg.LoginEmailRatePerMin != 60 {
		t.Fatalf("unexpected login defaults: %v %d", cfg.TrustedProxies, cfg.LoginEmailRatePerMin)
	}
	if cfg.DBMaxOpen != 20 || cfg.ExportPaper != "letter" {
		t.Fatalf("unexpected pool/paper defaults: %d %q", cfg.DBMaxOpen, cfg.ExportPaper)
	}
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr :8787, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL to default to false")
	}
	if cfg.MinioBucket != "decision-exports" {
		t.Fatalf("unexpected bucket %q", cfg.MinioBucket)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9000")
	t.Setenv("ARCHBOARD_ACCESS_TTL_SECONDS", "60")
	t.Setenv("ARCHBOARD_SITE_URL", "https://app.example.com/")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("ARCHBOARD_TRUSTED_PROXIES", " 10.0.0.0/8, ,127.0.0.1 ")

	cfg := Load()
	if len(cfg.TrustedProxies) != 2 || cfg.TrustedProxies[0] != "10.0.0.0/8" || cfg.TrustedProxies[1] != "127.0.0.1" {
		t.Fatalf("unexpected trusted proxies %q", cfg.TrustedProxies)
	}
	if cfg.Addr != ":9000" {
		t.Fatalf("expected :9000, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != time.Minute {
		t.Fatalf("expected 1m access ttl, got %s", cfg.AccessTTL)
	}
	if cfg.SiteURL != "https://app.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.SiteURL)
	}
	if !cfg.MinioUseSSL {
		t.Fatal("expected MinioUseSSL true")
	}
}

func TestGetenvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("ARCHBOARD_LOGIN_RATE_PER_MINUTE", "many")
	if got := Load().LoginRatePerMin; got != 20 {
		t.Fatalf("expected fallback 20, got %d", got)
	}
}
