package config

import (
	"strings"
	"testing"
	"time"
)

const (
	testKey = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"
)

func validConfig() *Config {
	return &Config{
		Env:          "development",
		StoreBackend: BackendMemory,
		LevelDBPath:  "./data/ledger",
		GenesisAdmin: "0xadmin",
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("CORS_ORIGINS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("expected default max conns 20, got %d", cfg.DBMaxConns)
	}
	if cfg.EventStream != "medledger:events" {
		t.Errorf("unexpected event stream %q", cfg.EventStream)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected 30s request timeout, got %s", cfg.RequestTimeout)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_BACKEND", " LevelDB ")
	t.Setenv("GENESIS_ADMIN", "0xroot")
	t.Setenv("AUDIT_RELAY", "true")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("AUTH_TOKEN_TTL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.StoreBackend != BackendLevelDB {
		t.Errorf("expected leveldb, got %q", cfg.StoreBackend)
	}
	if cfg.GenesisAdmin != "0xroot" || !cfg.AuditRelay {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "http://b.test" {
		t.Errorf("unexpected origins %v", cfg.CORSOrigins)
	}
	if cfg.AuthTokenTTL != 15*time.Minute {
		t.Errorf("expected 15m, got %s", cfg.AuthTokenTTL)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}
	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid development", func(c *Config) {}, ""},
		{"unknown backend", func(c *Config) { c.StoreBackend = "mongo" }, "STORE_BACKEND"},
		{"postgres without url", func(c *Config) { c.StoreBackend = BackendPostgres }, "DATABASE_URL"},
		{"postgres with url", func(c *Config) {
			c.StoreBackend = BackendPostgres
			c.DatabaseURL = "postgres://localhost/ledger"
		}, ""},
		{"missing genesis", func(c *Config) { c.GenesisAdmin = " " }, "GENESIS_ADMIN"},
		{"production needs signing key", func(c *Config) {
			c.Env = "production"
			c.EncryptionKey = testKey
		}, "AUTH_SIGNING_KEY"},
		{"short signing key", func(c *Config) { c.AuthSigningKey = "abcd" }, "at least 32 bytes"},
		{"production needs encryption key", func(c *Config) {
			c.Env = "production"
			c.AuthSigningKey = testKey
		}, "ENCRYPTION_KEY is required"},
		{"bad encryption key", func(c *Config) { c.EncryptionKey = "zz" }, "not valid hex"},
		{"valid production", func(c *Config) {
			c.Env = "production"
			c.AuthSigningKey = testKey
			c.EncryptionKey = testKey
		}, ""},
		{"tls without cert", func(c *Config) { c.TLSEnabled = true }, "TLS_CERT_FILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSigningKey_DevelopmentFallback(t *testing.T) {
	c := validConfig()
	key, err := c.SigningKey()
	if err != nil || len(key) == 0 {
		t.Fatalf("expected fallback key, got %v", err)
	}
	c.AuthSigningKey = testKey
	key, _ = c.SigningKey()
	if len(key) != 32 {
		t.Errorf("expected 32-byte key, got %d", len(key))
	}
}
