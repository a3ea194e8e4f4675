package app

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/odyssey-commerce/console/internal/guard"
)

// Store drivers for the credential store.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
	StoreNoop   = "noop"
)

// Config holds runtime configuration for the console.
type Config struct {
	AppEnv            string        `envconfig:"APP_ENV" default:"development"`
	AppAddr           string        `envconfig:"APP_ADDR" default:":8080"`
	AppReadTimeout    time.Duration `envconfig:"APP_READ_TIMEOUT" default:"15s"`
	AppWriteTimeout   time.Duration `envconfig:"APP_WRITE_TIMEOUT" default:"15s"`
	AppRequestTimeout time.Duration `envconfig:"APP_REQUEST_TIMEOUT" default:"30s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"pretty"`

	APIBaseURL string        `envconfig:"API_BASE_URL" required:"true"`
	APITimeout time.Duration `envconfig:"API_TIMEOUT" default:"15s"`

	RedisAddr   string `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	StoreDriver string `envconfig:"STORE_DRIVER" default:"redis"`

	SessionCookie string        `envconfig:"SESSION_COOKIE" default:"console_session"`
	SessionTTL    time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	CSRFSecret    string        `envconfig:"CSRF_SECRET" required:"true"`

	LoginPath           string        `envconfig:"LOGIN_PATH" default:"/login"`
	LandingPath         string        `envconfig:"LANDING_PATH" default:"/dashboard"`
	GuardRoutesFile     string        `envconfig:"GUARD_ROUTES_FILE"`
	GuardSuppressPolicy string        `envconfig:"GUARD_SUPPRESS_POLICY" default:"unauthenticated"`
	WatchTimeout        time.Duration `envconfig:"WATCH_TIMEOUT" default:"10s"`

	RateLimitPerMinute int `envconfig:"RATE_LIMIT_PER_MINUTE" default:"120"`
}

// LoadConfig reads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("API_BASE_URL %q must be an absolute URL", c.APIBaseURL))
	}
	switch c.StoreDriver {
	case StoreRedis, StoreMemory, StoreNoop:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if _, err := guard.ParseSuppressPolicy(c.GuardSuppressPolicy); err != nil {
		errs = append(errs, err)
	}
	if c.CSRFSecret == "" {
		errs = append(errs, errors.New("csrf secret must be provided"))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}
	if c.WatchTimeout <= 0 || (c.AppRequestTimeout > 0 && c.WatchTimeout >= c.AppRequestTimeout) {
		errs = append(errs, errors.New("WATCH_TIMEOUT must be positive and shorter than APP_REQUEST_TIMEOUT"))
	}
	return errors.Join(errs...)
}

// SuppressPolicy returns the validated guard notification policy.
func (c *Config) SuppressPolicy() guard.SuppressPolicy {
	p, _ := guard.ParseSuppressPolicy(c.GuardSuppressPolicy)
	return p
}

// IsProduction returns true when the console runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
