package gateway

import "testing"

func TestConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := Config{SessionSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.BackendBaseURL != "http://localhost:8000" {
		t.Fatalf("expected default backend url, got %q", cfg.BackendBaseURL)
	}
	if cfg.SessionIssuer != "rendertool" || cfg.SessionCookieName != "rt_session" {
		t.Fatalf("expected session defaults, got %+v", cfg)
	}
}

func TestConfigValidateRequiresSigningKey(t *testing.T) {
	t.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing signing key")
	}
}
