package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "ALLOWED_ORIGIN", "DATABASE_URL", "REDIS_ADDR",
		"ANALYTICS_CACHE_TTL_SECONDS", "AUTH_SECRET",
		"ACCESS_TOKEN_TTL_MINUTES", "LOGIN_ATTEMPT_LIMIT", "NOTIFICATION_SWEEP_AT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.AnalyticsTTLSeconds != 60 {
		t.Fatalf("expected default analytics TTL 60s, got %d", cfg.AnalyticsTTLSeconds)
	}
	if cfg.AccessTokenTTLMinutes != 480 {
		t.Fatalf("expected default token TTL 480m, got %d", cfg.AccessTokenTTLMinutes)
	}
	if cfg.LoginAttemptLimit != 10 {
		t.Fatalf("expected default attempt limit 10, got %d", cfg.LoginAttemptLimit)
	}
	if cfg.SweepHour != "01:00" {
		t.Fatalf("expected default sweep time 01:00, got %q", cfg.SweepHour)
	}
}

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadRejectsGarbageNumbers(t *testing.T) {
	t.Setenv("ANALYTICS_CACHE_TTL_SECONDS", "not-a-number")
	t.Setenv("LOGIN_ATTEMPT_LIMIT", "-3")

	cfg := Load()
	if cfg.AnalyticsTTLSeconds != 60 {
		t.Fatalf("expected TTL fallback 60, got %d", cfg.AnalyticsTTLSeconds)
	}
	if cfg.LoginAttemptLimit != 10 {
		t.Fatalf("expected attempt limit fallback 10, got %d", cfg.LoginAttemptLimit)
	}
}

func TestAddressFormatsPort(t *testing.T) {
	cfg := Config{Port: "9000"}
	if got := cfg.Address(); got != ":9000" {
		t.Fatalf("expected :9000, got %q", got)
	}
}
