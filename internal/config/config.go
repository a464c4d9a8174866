package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the MailMind dashboard service.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Backend   BackendConfig
	Dashboard DashboardConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
	SessionTTL      time.Duration
	// BootstrapAdminKey names an admin key created at startup when none exist.
	BootstrapAdminKey string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BackendConfig describes the MailMind analysis API the dashboard talks to.
type BackendConfig struct {
	BaseURL string
	// Timeout is the default per-request timeout of the shared HTTP client.
	Timeout time.Duration
	// MaxRPS caps outbound requests per second; zero disables the limiter.
	MaxRPS float64
}

// DashboardConfig tunes the screen controller and the poller.
type DashboardConfig struct {
	PollInterval     time.Duration
	AccountsTimeout  time.Duration
	AccountsRetries  int
	AccountsBackoff  time.Duration
	StartTimeout     time.Duration
	StatusTimeout    time.Duration
	InsightsCacheTTL time.Duration
	IdleTTL          time.Duration
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:              envInt("MAILMIND_PORT", 8080),
			Env:               envString("MAILMIND_ENV", "development"),
			RateLimitPerMin:   envInt("MAILMIND_RATE_LIMIT_RPM", 60),
			SessionTTL:        envDuration("MAILMIND_SESSION_TTL", 30*24*time.Hour),
			BootstrapAdminKey: strings.TrimSpace(os.Getenv("MAILMIND_BOOTSTRAP_ADMIN_KEY")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Backend:   loadBackend(),
		Dashboard: loadDashboard(),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ClientConfig is the subset used by the command-line client.
type ClientConfig struct {
	Backend   BackendConfig
	Dashboard DashboardConfig
}

// LoadClient reads only what the CLI needs. The API URL defaults to a
// local backend.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		Backend:   loadBackend(),
		Dashboard: loadDashboard(),
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8000"
	}
	if err := validateBackend(cfg.Backend); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadBackend() BackendConfig {
	return BackendConfig{
		BaseURL: strings.TrimRight(os.Getenv("MAILMIND_API_URL"), "/"),
		Timeout: envDuration("MAILMIND_API_TIMEOUT", 30*time.Second),
		MaxRPS:  envFloat("MAILMIND_API_MAX_RPS", 0),
	}
}

func loadDashboard() DashboardConfig {
	return DashboardConfig{
		PollInterval:     envDuration("MAILMIND_POLL_INTERVAL", 2*time.Second),
		AccountsTimeout:  envDuration("MAILMIND_ACCOUNTS_TIMEOUT", 30*time.Second),
		AccountsRetries:  envInt("MAILMIND_ACCOUNTS_RETRIES", 2),
		AccountsBackoff:  envDuration("MAILMIND_ACCOUNTS_BACKOFF", 2*time.Second),
		StartTimeout:     envDuration("MAILMIND_START_TIMEOUT", 60*time.Second),
		StatusTimeout:    envDuration("MAILMIND_STATUS_TIMEOUT", 60*time.Second),
		InsightsCacheTTL: envDuration("MAILMIND_INSIGHTS_CACHE_TTL", 5*time.Minute),
		IdleTTL:          envDuration("MAILMIND_DASHBOARD_IDLE_TTL", 30*time.Minute),
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Backend.BaseURL == "" {
		return fmt.Errorf("MAILMIND_API_URL is required")
	}
	if err := validateBackend(c.Backend); err != nil {
		return err
	}

	if c.Server.RateLimitPerMin <= 0 {
		return fmt.Errorf("MAILMIND_RATE_LIMIT_RPM must be positive, got %d", c.Server.RateLimitPerMin)
	}

	if c.Dashboard.PollInterval <= 0 {
		return fmt.Errorf("MAILMIND_POLL_INTERVAL must be positive, got %s", c.Dashboard.PollInterval)
	}
	if c.Dashboard.AccountsRetries < 0 {
		return fmt.Errorf("MAILMIND_ACCOUNTS_RETRIES must not be negative, got %d", c.Dashboard.AccountsRetries)
	}

	return nil
}

func validateBackend(b BackendConfig) error {
	if !strings.HasPrefix(b.BaseURL, "http://") && !strings.HasPrefix(b.BaseURL, "https://") {
		return fmt.Errorf("MAILMIND_API_URL must start with http:// or https://, got %q", b.BaseURL)
	}
	if b.MaxRPS < 0 {
		return fmt.Errorf("MAILMIND_API_MAX_RPS must not be negative, got %v", b.MaxRPS)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
