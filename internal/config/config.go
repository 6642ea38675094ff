package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendLevelDB  = "leveldb"
)

type Config struct {
	Port            string        `mapstructure:"PORT"`
	Env             string        `mapstructure:"ENV"`
	StoreBackend    string        `mapstructure:"STORE_BACKEND"`
	DatabaseURL     string        `mapstructure:"DATABASE_URL"`
	DBSchema        string        `mapstructure:"DB_SCHEMA"`
	DBMaxConns      int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns      int32         `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir   string        `mapstructure:"MIGRATIONS_DIR"`
	LevelDBPath     string        `mapstructure:"LEVELDB_PATH"`
	RedisURL        string        `mapstructure:"REDIS_URL"`
	EventStream     string        `mapstructure:"EVENT_STREAM"`
	EventStreamMax  int64         `mapstructure:"EVENT_STREAM_MAXLEN"`
	AuditRelay      bool          `mapstructure:"AUDIT_RELAY"`
	AuditReads      bool          `mapstructure:"AUDIT_READS"`
	MetricsEnabled  bool          `mapstructure:"METRICS_ENABLED"`
	GenesisAdmin    string        `mapstructure:"GENESIS_ADMIN"`
	AuthSigningKey  string        `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer      string        `mapstructure:"AUTH_ISSUER"`
	AuthAudience    string        `mapstructure:"AUTH_AUDIENCE"`
	AuthTokenTTL    time.Duration `mapstructure:"AUTH_TOKEN_TTL"`
	EncryptionKey   string        `mapstructure:"ENCRYPTION_KEY"`
	CORSOrigins     []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS    float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst  int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit       string        `mapstructure:"BODY_LIMIT"`
	UploadLimit     string        `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout  time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
	TLSEnabled      bool          `mapstructure:"TLS_ENABLED"`
	TLSCertFile     string        `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile      string        `mapstructure:"TLS_KEY_FILE"`
}

var defaults = map[string]interface{}{
	"PORT":                "8000",
	"ENV":                 "development",
	"STORE_BACKEND":       BackendMemory,
	"DB_SCHEMA":           "public",
	"DB_MAX_CONNS":        20,
	"DB_MIN_CONNS":        5,
	"MIGRATIONS_DIR":      "migrations",
	"LEVELDB_PATH":        "./data/ledger",
	"EVENT_STREAM":        "medledger:events",
	"EVENT_STREAM_MAXLEN": 100000,
	"AUDIT_RELAY":         false,
	"AUDIT_READS":         false,
	"METRICS_ENABLED":     true,
	"AUTH_TOKEN_TTL":      "1h",
	"CORS_ORIGINS":        "http://localhost:3000",
	"RATE_LIMIT_RPS":      100,
	"RATE_LIMIT_BURST":    200,
	"BODY_LIMIT":          "1M",
	"UPLOAD_LIMIT":        "10M",
	"REQUEST_TIMEOUT":     "30s",
	"SHUTDOWN_TIMEOUT":    "10s",
}

var envKeys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS",
	"DB_MIN_CONNS", "MIGRATIONS_DIR", "LEVELDB_PATH", "REDIS_URL", "EVENT_STREAM",
	"EVENT_STREAM_MAXLEN", "AUDIT_RELAY", "AUDIT_READS", "METRICS_ENABLED", "GENESIS_ADMIN",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_TOKEN_TTL",
	"ENCRYPTION_KEY", "CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"BODY_LIMIT", "UPLOAD_LIMIT", "REQUEST_TIMEOUT", "SHUTDOWN_TIMEOUT",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads configuration from the environment and an optional .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	// Bind explicitly so Unmarshal sees env-only keys.
	for _, k := range envKeys {
		v.BindEnv(k)
	}

	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// SigningKey decodes AUTH_SIGNING_KEY. Development runs without one get a
// fixed key so that locally issued tokens survive restarts.
func (c *Config) SigningKey() ([]byte, error) {
	if c.AuthSigningKey == "" {
		if c.IsDev() {
			return []byte("medledger-development-signing-key"), nil
		}
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is required outside development")
	}
	key, err := hex.DecodeString(c.AuthSigningKey)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
	}
	if len(key) < 32 {
		return nil, fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes (64 hex chars), got %d bytes", len(key))
	}
	return key, nil
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendLevelDB:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q, %q or %q, got %q",
			BackendMemory, BackendPostgres, BackendLevelDB, c.StoreBackend)
	}
	if c.StoreBackend == BackendLevelDB && c.LevelDBPath == "" {
		return fmt.Errorf("LEVELDB_PATH is required when STORE_BACKEND is %q", BackendLevelDB)
	}

	if strings.TrimSpace(c.GenesisAdmin) == "" {
		return fmt.Errorf("GENESIS_ADMIN is required")
	}

	if _, err := c.SigningKey(); err != nil {
		return err
	}

	if c.IsProduction() && c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required in production")
	}
	if c.EncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
