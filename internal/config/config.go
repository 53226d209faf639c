package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	JWTSecret   string   `mapstructure:"JWT_SECRET"`
	BodyLimit   string   `mapstructure:"BODY_LIMIT"`

	// Webhook ingestion. The signature header carries a hex-encoded
	// HMAC-SHA256 of the raw request body under WebhookSecret.
	WebhookSecret          string `mapstructure:"WEBHOOK_SECRET"`
	WebhookSignatureHeader string `mapstructure:"WEBHOOK_SIGNATURE_HEADER"`

	// AckOnWriteFailure controls the acknowledgment policy when the
	// ledger transaction fails: true returns 200 to the provider and
	// relies on internal alerting (avoids retry storms); false returns
	// 500 so the provider redelivers the event.
	AckOnWriteFailure bool `mapstructure:"ACK_ON_WRITE_FAILURE"`

	AuditBufferSize    int `mapstructure:"AUDIT_BUFFER_SIZE"`
	RateLimitPerMinute int `mapstructure:"RATE_LIMIT_PER_MINUTE"`

	// PHIEncryptionKey is a 64-char hex string (32 bytes) for at-rest
	// encryption of patient reference fields. Optional in development.
	PHIEncryptionKey string `mapstructure:"PHI_ENCRYPTION_KEY"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("WEBHOOK_SIGNATURE_HEADER", "Clinic-Signature")
	v.SetDefault("ACK_ON_WRITE_FAILURE", false)
	v.SetDefault("AUDIT_BUFFER_SIZE", 256)
	v.SetDefault("RATE_LIMIT_PER_MINUTE", 300)

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("JWT_SECRET")
	v.BindEnv("BODY_LIMIT")
	v.BindEnv("WEBHOOK_SECRET")
	v.BindEnv("WEBHOOK_SIGNATURE_HEADER")
	v.BindEnv("ACK_ON_WRITE_FAILURE")
	v.BindEnv("AUDIT_BUFFER_SIZE")
	v.BindEnv("RATE_LIMIT_PER_MINUTE")
	v.BindEnv("PHI_ENCRYPTION_KEY")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks that the configuration is safe to run. Outside development
// the webhook secret and JWT secret must be set: without them the service
// would accept unauthenticated payment notifications.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.WebhookSecret == "" {
			return fmt.Errorf("WEBHOOK_SECRET is required when ENV=%q", c.Env)
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required when ENV=%q", c.Env)
		}
	}
	if c.WebhookSignatureHeader == "" {
		return fmt.Errorf("WEBHOOK_SIGNATURE_HEADER must not be empty")
	}

	if c.IsProduction() && c.PHIEncryptionKey == "" {
		return fmt.Errorf("PHI_ENCRYPTION_KEY is required in production")
	}
	if c.PHIEncryptionKey != "" {
		keyBytes, err := hex.DecodeString(c.PHIEncryptionKey)
		if err != nil {
			return fmt.Errorf("PHI_ENCRYPTION_KEY is not valid hex: %w", err)
		}
		if len(keyBytes) != 32 {
			return fmt.Errorf("PHI_ENCRYPTION_KEY must be 32 bytes (64 hex chars), got %d bytes", len(keyBytes))
		}
	}

	if c.AuditBufferSize <= 0 {
		return fmt.Errorf("AUDIT_BUFFER_SIZE must be positive, got %d", c.AuditBufferSize)
	}

	return nil
}
