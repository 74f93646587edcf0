package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	// Backend
	BaseURL        string        `env:"SMARTCAL_BASE_URL"`
	APIKey         string        `env:"SMARTCAL_API_KEY"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	AuthTimeout    time.Duration `env:"AUTH_TIMEOUT" envDefault:"20s"`

	// Tables
	EventsTable        string `env:"EVENTS_TABLE" envDefault:"events"`
	ScheduleTable      string `env:"SCHEDULE_TABLE" envDefault:"event_schedules"`
	AnnouncementsTable string `env:"ANNOUNCEMENTS_TABLE" envDefault:"announcements"`
	CancelledStatusID  int    `env:"CANCELLED_STATUS_ID" envDefault:"4"`

	// Category groups
	CategoryTargetMarker    string `env:"CATEGORY_TARGET_MARKER" envDefault:"smart"`
	CategorySecondaryMarker string `env:"CATEGORY_SECONDARY_MARKER" envDefault:"kpi"`
	Timezone                string `env:"TIMEZONE"`

	// Settings storage
	SettingsKey     string `env:"SETTINGS_KEY" envDefault:"smartcal.settings"`
	StoragePrimary  string `env:"STORAGE_PRIMARY" envDefault:"sqlite"`
	StorageFallback string `env:"STORAGE_FALLBACK" envDefault:"file"`
	SQLiteDBPath    string `env:"SQLITE_DB_PATH" envDefault:"./data/smartcal.db"`
	RedisURL        string `env:"REDIS_URL"`
	RedisPrefix     string `env:"REDIS_PREFIX" envDefault:"smartcal:"`
	SettingsFile    string `env:"SETTINGS_FILE" envDefault:"./data/settings.json"`

	// HTTP facade
	HTTPAddr       string        `env:"HTTP_ADDR" envDefault:":8081"`
	MonthCacheTTL  time.Duration `env:"MONTH_CACHE_TTL" envDefault:"5m"`
	MonthCacheSize int           `env:"MONTH_CACHE_SIZE" envDefault:"64"`

	// Worker
	AnnouncementsRefreshCron string `env:"ANNOUNCEMENTS_REFRESH_CRON" envDefault:"*/15 * * * *"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
}

var (
	storageBackends = []string{"sqlite", "redis", "file", "memory"}
	logLevels       = []string{"debug", "info", "warn", "warning", "error"}
	logFormats      = []string{"text", "json"}
)

// Load reads the given dotenv files (".env" when none is given) into the
// process environment without overriding variables already set, then parses
// the environment. Missing dotenv files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// LoadFromEnvironment parses environ instead of the process environment.
func LoadFromEnvironment(environ map[string]string) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// Location resolves Timezone, defaulting to the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate backend URL
	if c.BaseURL == "" {
		errors = append(errors, "SMARTCAL_BASE_URL is required")
	} else if u, err := url.Parse(c.BaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': %v", c.BaseURL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid base URL scheme '%s': must be 'http' or 'https'", u.Scheme))
	} else if u.Host == "" {
		errors = append(errors, fmt.Sprintf("invalid base URL '%s': missing host", c.BaseURL))
	}

	// Validate timeouts
	if c.RequestTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at least 1 second", c.RequestTimeout))
	} else if c.RequestTimeout > 5*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid request timeout %v: must be at most 5 minutes", c.RequestTimeout))
	}
	if c.AuthTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid auth timeout %v: must be at least 1 second", c.AuthTimeout))
	}

	// Validate tables
	for name, v := range map[string]string{
		"EVENTS_TABLE":        c.EventsTable,
		"SCHEDULE_TABLE":      c.ScheduleTable,
		"ANNOUNCEMENTS_TABLE": c.AnnouncementsTable,
		"SETTINGS_KEY":        c.SettingsKey,
	} {
		if strings.TrimSpace(v) == "" {
			errors = append(errors, fmt.Sprintf("%s cannot be empty", name))
		}
	}
	if c.CancelledStatusID < 1 {
		errors = append(errors, fmt.Sprintf("invalid cancelled status id %d: must be positive", c.CancelledStatusID))
	}

	// Validate category markers
	target := strings.ToLower(strings.TrimSpace(c.CategoryTargetMarker))
	secondary := strings.ToLower(strings.TrimSpace(c.CategorySecondaryMarker))
	if target == "" || secondary == "" {
		errors = append(errors, "category markers cannot be empty")
	} else if target == secondary {
		errors = append(errors, fmt.Sprintf("category markers must differ, both are '%s'", target))
	}

	if _, err := c.Location(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	// Validate storage backends
	if !slices.Contains(storageBackends, c.StoragePrimary) {
		errors = append(errors, fmt.Sprintf("invalid primary storage '%s': must be one of %v", c.StoragePrimary, storageBackends))
	}
	if c.StorageFallback != "" && c.StorageFallback != "none" {
		if !slices.Contains(storageBackends, c.StorageFallback) {
			errors = append(errors, fmt.Sprintf("invalid fallback storage '%s': must be one of %v or 'none'", c.StorageFallback, storageBackends))
		} else if c.StorageFallback == c.StoragePrimary {
			errors = append(errors, fmt.Sprintf("fallback storage must differ from primary storage '%s'", c.StoragePrimary))
		}
	}
	if c.usesStorage("sqlite") && c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty when using sqlite storage")
	}
	if c.usesStorage("file") && c.SettingsFile == "" {
		errors = append(errors, "settings file path cannot be empty when using file storage")
	}
	if c.usesStorage("redis") {
		if c.RedisURL == "" {
			errors = append(errors, "REDIS_URL is required when using redis storage")
		} else if u, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", u.Scheme))
		}
	}

	// Validate HTTP facade
	if c.HTTPAddr == "" {
		errors = append(errors, "HTTP_ADDR cannot be empty")
	}
	if c.MonthCacheTTL < 0 {
		errors = append(errors, fmt.Sprintf("invalid month cache TTL %v: must not be negative", c.MonthCacheTTL))
	}
	if c.MonthCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid month cache size %d: must be at least 1", c.MonthCacheSize))
	}

	// Validate worker schedule
	if _, err := cron.ParseStandard(c.AnnouncementsRefreshCron); err != nil {
		errors = append(errors, fmt.Sprintf("invalid announcements refresh schedule '%s': %v", c.AnnouncementsRefreshCron, err))
	}

	// Validate logging
	if !slices.Contains(logLevels, strings.ToLower(c.LogLevel)) {
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of %v", c.LogLevel, logLevels))
	}
	if !slices.Contains(logFormats, strings.ToLower(c.LogFormat)) {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be one of %v", c.LogFormat, logFormats))
	}

	// Return combined errors
	if len(errors) > 0 {
		slices.Sort(errors)
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func (c *Config) usesStorage(name string) bool {
	return c.StoragePrimary == name || c.StorageFallback == name
}
