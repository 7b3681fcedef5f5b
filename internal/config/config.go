package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Port          string `mapstructure:"PORT"`
	Env           string `mapstructure:"ENV"`
	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	DBMaxConns    int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns    int32  `mapstructure:"DB_MIN_CONNS"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR"`

	RedisURL     string   `mapstructure:"REDIS_URL"`
	NotifyStream string   `mapstructure:"NOTIFY_STREAM"`
	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	AuditTopic   string   `mapstructure:"AUDIT_TOPIC"`

	WebhookURLs   []string `mapstructure:"WEBHOOK_URLS"`
	WebhookSecret string   `mapstructure:"WEBHOOK_SECRET"`
	WebhookEvents []string `mapstructure:"WEBHOOK_EVENTS"`

	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string   `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`

	RequestTimeout      time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	CleaningTurnaround  time.Duration `mapstructure:"CLEANING_TURNAROUND"`
	WaitlistMaxAge      time.Duration `mapstructure:"WAITLIST_MAX_AGE"`
	WaitlistInterval    time.Duration `mapstructure:"WAITLIST_INTERVAL"`
	OverdueScanInterval time.Duration `mapstructure:"OVERDUE_SCAN_INTERVAL"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "STORE_BACKEND", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "MIGRATIONS_DIR",
	"REDIS_URL", "NOTIFY_STREAM", "KAFKA_BROKERS", "AUDIT_TOPIC",
	"WEBHOOK_URLS", "WEBHOOK_SECRET", "WEBHOOK_EVENTS",
	"AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY", "CORS_ORIGINS", "BODY_LIMIT",
	"REQUEST_TIMEOUT", "CLEANING_TURNAROUND", "WAITLIST_MAX_AGE", "WAITLIST_INTERVAL", "OVERDUE_SCAN_INTERVAL",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

// Load reads .env (if present) and the environment. It does not validate;
// call Validate before using the result to start anything.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("MIGRATIONS_DIR", "migrations")
	v.SetDefault("NOTIFY_STREAM", "bedengine:notices")
	v.SetDefault("AUDIT_TOPIC", "bedengine.audit")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CLEANING_TURNAROUND", "4h")
	v.SetDefault("WAITLIST_MAX_AGE", "2160h")
	v.SetDefault("WAITLIST_INTERVAL", "0s")
	v.SetDefault("OVERDUE_SCAN_INTERVAL", "0s")

	for _, k := range keys {
		v.BindEnv(k)
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma lists arrive from the environment as one string.
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.WebhookURLs = splitList(v.GetString("WEBHOOK_URLS"))
	cfg.WebhookEvents = splitList(v.GetString("WEBHOOK_EVENTS"))
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) UsePostgres() bool {
	return c.StoreBackend == BackendPostgres
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is %q", BackendPostgres)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendMemory, BackendPostgres, c.StoreBackend)
	}

	if !c.IsDev() && c.AuthJWKSURL == "" && c.AuthSigningKey == "" {
		return fmt.Errorf("AUTH_JWKS_URL or AUTH_SIGNING_KEY must be set outside development (ENV=%q)", c.Env)
	}

	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	for name, d := range map[string]time.Duration{
		"REQUEST_TIMEOUT":       c.RequestTimeout,
		"CLEANING_TURNAROUND":   c.CleaningTurnaround,
		"WAITLIST_MAX_AGE":      c.WaitlistMaxAge,
		"WAITLIST_INTERVAL":     c.WaitlistInterval,
		"OVERDUE_SCAN_INTERVAL": c.OverdueScanInterval,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, d)
		}
	}
	if c.CleaningTurnaround == 0 {
		return fmt.Errorf("CLEANING_TURNAROUND must be positive")
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
