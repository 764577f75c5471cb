package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/caarlos0/env/v11"
)

type BrokerConfig struct {
	Host     string `env:"AMQP_HOST" envDefault:"localhost"`
	Port     int    `env:"AMQP_PORT" envDefault:"5672"`
	User     string `env:"AMQP_USER" envDefault:"guest"`
	Password string `env:"AMQP_PASSWORD" envDefault:"guest"`
	VHost    string `env:"AMQP_VHOST" envDefault:"/"`
	Exchange string `env:"AMQP_EXCHANGE" envDefault:"sync.events"`
}

// URL renders the AMQP connection URL. The vhost is path-escaped so the
// default "/" becomes "%2F".
func (b BrokerConfig) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(b.User, b.Password),
		Host:   fmt.Sprintf("%s:%d", b.Host, b.Port),
		Path:   "/" + b.VHost,
	}
	u.RawPath = "/" + url.PathEscape(b.VHost)
	return u.String()
}

type EngineConfig struct {
	BaseURL string        `env:"ENGINE_URL"`
	Token   string        `env:"ENGINE_TOKEN"`
	Timeout time.Duration `env:"ENGINE_TIMEOUT" envDefault:"10s"`
}

type LegacyConfig struct {
	BaseURL  string        `env:"LEGACY_URL"`
	Username string        `env:"LEGACY_USERNAME"`
	Password string        `env:"LEGACY_PASSWORD"`
	Timeout  time.Duration `env:"LEGACY_TIMEOUT" envDefault:"10s"`
}

// Configured reports whether enough is set to talk to the legacy system.
func (l LegacyConfig) Configured() bool {
	return l.BaseURL != "" && l.Username != "" && l.Password != ""
}

type ReconnectConfig struct {
	BaseDelay   time.Duration `env:"RECONNECT_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"RECONNECT_MAX_DELAY" envDefault:"30s"`
	MaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"10"`
}

type Config struct {
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`

	// Optional: empty disables the audit log / uses the in-process snapshot cache.
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL"`

	Broker    BrokerConfig
	Engine    EngineConfig
	Legacy    LegacyConfig
	Reconnect ReconnectConfig

	StreamBuffer      int           `env:"STREAM_BUFFER" envDefault:"1024"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15m"`
	ReconcileOnStart  bool          `env:"RECONCILE_ON_START" envDefault:"true"`

	// FingerprintKey keys the credential fingerprint. Without it a legacy
	// reader could test guessed tokens against the stored digest.
	FingerprintKey string `env:"FINGERPRINT_KEY"`

	LogEnv   string `env:"LOG_ENV" envDefault:"dev"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate mirrors the required-field checks done at startup.
func (c *Config) Validate() error {
	if c.Engine.BaseURL == "" {
		return errors.New("ENGINE_URL is required")
	}
	if _, err := url.ParseRequestURI(c.Engine.BaseURL); err != nil {
		return fmt.Errorf("invalid ENGINE_URL: %w", err)
	}
	if c.Engine.Token == "" {
		return errors.New("ENGINE_TOKEN is required")
	}
	if c.FingerprintKey == "" {
		return errors.New("FINGERPRINT_KEY is required")
	}
	if c.ReconcileInterval < 0 {
		return errors.New("RECONCILE_INTERVAL must not be negative")
	}
	if c.Legacy.BaseURL != "" {
		if _, err := url.ParseRequestURI(c.Legacy.BaseURL); err != nil {
			return fmt.Errorf("invalid LEGACY_URL: %w", err)
		}
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return errors.New("RECONNECT_MAX_ATTEMPTS must be positive")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return errors.New("RECONNECT_BASE_DELAY must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return errors.New("RECONNECT_MAX_DELAY must not be below RECONNECT_BASE_DELAY")
	}
	if c.StreamBuffer <= 0 {
		return errors.New("STREAM_BUFFER must be positive")
	}
	return nil
}
