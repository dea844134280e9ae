package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.DatabaseDriver != DriverSQLite {
		t.Fatalf("expected sqlite driver by default, got %q", cfg.DatabaseDriver)
	}
	if cfg.DatabasePath != defaultDatabasePath {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.ClaimMaxAttempts != defaultClaimMaxAttempts {
		t.Fatalf("unexpected claim attempts %d", cfg.ClaimMaxAttempts)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("unexpected sweep interval %s", cfg.SweepInterval)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("unexpected token ttl %s", cfg.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   interface{}
		message string
	}{
		{name: "unknown-driver", key: "database.driver", value: "mysql", message: "not supported"},
		{name: "postgres-without-dsn", key: "database.driver", value: "postgres", message: "database.dsn"},
		{name: "empty-path", key: "database.path", value: " ", message: "database.path"},
		{name: "zero-attempts", key: "rewards.claim_max_attempts", value: 0, message: "claim_max_attempts"},
		{name: "fast-sweep", key: "rewards.sweep_interval", value: "10ms", message: "sweep_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configViper := NewViper()
			configViper.Set(tt.key, tt.value)
			_, err := Load(configViper)
			if err == nil {
				t.Fatalf("expected load to fail")
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Fatalf("expected error to mention %q, got %v", tt.message, err)
			}
		})
	}
}

func TestLoadSplitsCommaSeparatedOrigins(t *testing.T) {
	configViper := NewViper()
	configViper.Set("http.allowed_origins", "https://admin.koli.io, https://ops.koli.io,")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	expected := []string{"https://admin.koli.io", "https://ops.koli.io"}
	if len(cfg.AllowedOrigins) != len(expected) {
		t.Fatalf("expected %d origins, got %v", len(expected), cfg.AllowedOrigins)
	}
	for index, origin := range expected {
		if cfg.AllowedOrigins[index] != origin {
			t.Fatalf("unexpected origin at %d: %q", index, cfg.AllowedOrigins[index])
		}
	}
}

func TestValidateAuthRequiresSigningSecret(t *testing.T) {
	cfg, err := Load(NewViper())
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if err := cfg.ValidateAuth(); err == nil {
		t.Fatalf("expected missing signing secret to be rejected")
	}
	cfg.SigningSecret = "secret"
	if err := cfg.ValidateAuth(); err != nil {
		t.Fatalf("unexpected auth validation error: %v", err)
	}
}
