package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Config struct {
	APIBaseURL     string `validate:"required,url"`
	APIToken       string `validate:"required"`
	HTTPListenAddr string
	ServiceName    string
	LogLevel       string

	// Scope filtering. Empty allow-lists allow everything; the empty
	// denylist denies nothing.
	AccountAllowlist []string
	ZoneAllowlist    []string
	MetricDenylist   []string
	ExcludeLabels    []string

	// Plan IDs classified as restricted tier (no full-tier analytics).
	RestrictedPlanIDs []string

	RefreshInterval time.Duration `validate:"gt=0"`
	AccountListTTL  time.Duration `validate:"gt=0"`
	ZoneListTTL     time.Duration `validate:"gt=0"`
	ScrapeDelay     time.Duration `validate:"gte=0"`
	TimeWindow      time.Duration `validate:"gt=0"`

	// Upstream admission budget, shared by every actor in the process.
	RateLimitRPS   float64 `validate:"gt=0"`
	RateLimitBurst int     `validate:"gt=0"`
	MaxRetries     int     `validate:"gt=0"`

	// State persistence backend: memory, postgres, or redis.
	StateBackend string `validate:"oneof=memory postgres redis"`
	DatabaseURL  string
	RedisAddr    string

	// Basic auth for the metrics feed. Empty username leaves it open.
	MetricsUsername string
	MetricsPassword string

	// Optional YAML file overriding the built-in query catalogue and lists.
	CataloguePath string
}

func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "https://api.cloudprovider.example/v4"),
		APIToken:          getEnv("API_TOKEN", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		ServiceName:       getEnv("SERVICE_NAME", "edgemetrics"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		AccountAllowlist:  splitList(getEnv("ACCOUNT_ALLOWLIST", "")),
		ZoneAllowlist:     splitList(getEnv("ZONE_ALLOWLIST", "")),
		MetricDenylist:    splitList(getEnv("METRIC_DENYLIST", "")),
		ExcludeLabels:     splitList(getEnv("EXCLUDE_LABELS", "")),
		RestrictedPlanIDs: splitList(getEnv("RESTRICTED_PLAN_IDS", "free")),
		StateBackend:      getEnv("STATE_BACKEND", "memory"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		MetricsUsername:   getEnv("METRICS_USERNAME", ""),
		MetricsPassword:   getEnv("METRICS_PASSWORD", ""),
		CataloguePath:     getEnv("CATALOGUE_PATH", ""),
	}

	var err error
	if cfg.RefreshInterval, err = getDuration("REFRESH_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if cfg.AccountListTTL, err = getDuration("ACCOUNT_LIST_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ZoneListTTL, err = getDuration("ZONE_LIST_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScrapeDelay, err = getDuration("SCRAPE_DELAY", time.Minute); err != nil {
		return nil, err
	}
	if cfg.TimeWindow, err = getDuration("TIME_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	if cfg.RateLimitRPS, err = getFloat("RATE_LIMIT_RPS", 4); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getInt("RATE_LIMIT_BURST", 4); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = getInt("MAX_RETRIES", 5); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and value constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.StateBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("STATE_BACKEND=postgres requires DATABASE_URL")
	}
	return nil
}

// RestrictedPlans returns the restricted plan IDs as a lookup set.
func (c *Config) RestrictedPlans() map[string]bool {
	set := make(map[string]bool, len(c.RestrictedPlanIDs))
	for _, id := range c.RestrictedPlanIDs {
		set[id] = true
	}
	return set
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

// splitList parses a comma-separated value, trimming whitespace and
// dropping empty entries. An empty input yields nil.
func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
