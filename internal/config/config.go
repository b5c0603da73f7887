package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DeliveryGmail = "gmail"
	DeliverySMTP  = "smtp"
)

type Config struct {
	// ----------------------------
	// Database
	// ----------------------------
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`

	// ----------------------------
	// HTTP API
	// ----------------------------
	APIPort     string `envconfig:"API_PORT" default:"8080"`
	WorkerToken string `envconfig:"WORKER_TOKEN" required:"true"`

	// ----------------------------
	// Metrics
	// ----------------------------
	MetricsPort string `envconfig:"METRICS_PORT" default:"9090"`

	// ----------------------------
	// Dispatcher
	// ----------------------------
	DispatchInterval time.Duration `envconfig:"DISPATCH_INTERVAL" default:"1m"`
	BatchSize        int           `envconfig:"BATCH_SIZE" default:"10"`
	WorkerCount      int           `envconfig:"WORKER_COUNT" default:"4"`
	RateLimit        int           `envconfig:"RATE_LIMIT" default:"10"`
	RetryAttempts    int           `envconfig:"RETRY_ATTEMPTS" default:"2"`
	SendTimeout      time.Duration `envconfig:"SEND_TIMEOUT" default:"15s"`
	ClaimTimeout     time.Duration `envconfig:"CLAIM_TIMEOUT" default:"10m"`

	// ----------------------------
	// Delivery
	// ----------------------------
	DeliveryMode string `envconfig:"DELIVERY_MODE" default:"gmail"`
	GmailSendURL string `envconfig:"GMAIL_SEND_URL" default:"https://gmail.googleapis.com/gmail/v1/users/me/messages/send"`
	SMTPHost     string `envconfig:"SMTP_HOST" default:"localhost"`
	SMTPPort     int    `envconfig:"SMTP_PORT" default:"1025"`
	SMTPUser     string `envconfig:"SMTP_USER" default:""`
	SMTPPassword string `envconfig:"SMTP_PASSWORD" default:""`

	// ----------------------------
	// Credential Vault
	// ----------------------------
	VaultMode       string `envconfig:"VAULT_MODE" default:"base64"`
	VaultKey        string `envconfig:"VAULT_KEY" default:""`
	KeyringDir      string `envconfig:"KEYRING_DIR" default:""`
	KeyringPassword string `envconfig:"KEYRING_PASSWORD" default:""`

	// ----------------------------
	// Logging
	// ----------------------------
	LogDevelopment bool `envconfig:"LOG_DEVELOPMENT" default:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DeliveryMode {
	case DeliveryGmail, DeliverySMTP:
	default:
		return fmt.Errorf("DELIVERY_MODE must be %q or %q, got %q", DeliveryGmail, DeliverySMTP, c.DeliveryMode)
	}

	if c.WorkerToken == "" {
		return fmt.Errorf("WORKER_TOKEN must not be empty")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("WORKER_COUNT must be positive, got %d", c.WorkerCount)
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", c.RateLimit)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("RETRY_ATTEMPTS must not be negative, got %d", c.RetryAttempts)
	}
	if c.DispatchInterval < 0 {
		return fmt.Errorf("DISPATCH_INTERVAL must not be negative, got %s", c.DispatchInterval)
	}

	return nil
}
