package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables prefixed with PEFSCHED_ override
// file values after loading.

const envPrefix = "PEFSCHED_"

// ICSConfig describes a remote ICS feed imported as sessions.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// LocationID and ClassID attach imported sessions to existing records.
	LocationID int64 `yaml:"location_id" json:"location_id"`
	ClassID    int64 `yaml:"class_id" json:"class_id"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for write endpoints.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// CalendarSettings are passed through to the calendar widget.
type CalendarSettings struct {
	SlotDuration      string `yaml:"slot_duration" json:"slot_duration" env:"SLOT_DURATION"`
	SnapDuration      string `yaml:"snap_duration" json:"snap_duration" env:"SNAP_DURATION"`
	SlotLabelInterval string `yaml:"slot_label_interval" json:"slot_label_interval" env:"SLOT_LABEL_INTERVAL"`
	PopoverWidth      int    `yaml:"popover_width" json:"popover_width" env:"POPOVER_WIDTH"`
	PopoverHeight     int    `yaml:"popover_height" json:"popover_height" env:"POPOVER_HEIGHT"`
	WindowPadding     int    `yaml:"window_padding" json:"window_padding" env:"WINDOW_PADDING"`
}

// Limits bound the size of date-range responses.
type Limits struct {
	WarnRows             int `yaml:"warn_rows" json:"warn_rows" env:"WARN_ROWS"`
	MaxRows              int `yaml:"max_rows" json:"max_rows" env:"MAX_ROWS"`
	MaxOccurrencesPerRow int `yaml:"max_occurrences_per_row" json:"max_occurrences_per_row" env:"MAX_OCCURRENCES_PER_ROW"`
}

// CacheConfig selects the date-range response cache backend.
type CacheConfig struct {
	// Backend is one of "memory" (default), "redis" or "none".
	Backend       string        `yaml:"backend" json:"backend" env:"BACKEND"`
	TTL           time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	RedisAddr     string        `yaml:"redis_addr" json:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" json:"-" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" json:"redis_db" env:"REDIS_DB"`
	KeyPrefix     string        `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
}

// CronConfig holds cron-style schedules for background jobs. The value
// "off" disables a job.
type CronConfig struct {
	Rebuild string `yaml:"rebuild" json:"rebuild" env:"REBUILD"`
	ICSSync string `yaml:"ics_sync" json:"ics_sync" env:"ICS_SYNC"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level" json:"level" env:"LEVEL"`
	Format string `yaml:"format" json:"format" env:"FORMAT"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"LISTEN"`

	// Timezone is the IANA site timezone. Stored times are UTC; all
	// request parsing and response formatting happens in this zone.
	Timezone string `yaml:"timezone" json:"timezone" env:"TIMEZONE"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start" env:"WEEK_START"`

	// DatabasePath is the SQLite file holding the schedule.
	DatabasePath string `yaml:"database_path" json:"database_path" env:"DB_PATH"`

	// DefaultColor is used for events whose activity has no color.
	DefaultColor string `yaml:"default_color" json:"default_color" env:"DEFAULT_COLOR"`

	// ClassPathPrefix builds class_info.path ("/class/" + id).
	ClassPathPrefix string `yaml:"class_path_prefix" json:"class_path_prefix" env:"CLASS_PATH_PREFIX"`

	// ICSCacheDir stores fetched ICS bodies and HTTP cache metadata.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir" env:"ICS_CACHE_DIR"`

	// WriteRatePerSec throttles create/update/import requests. Zero disables.
	WriteRatePerSec int `yaml:"write_rate_per_sec" json:"write_rate_per_sec" env:"WRITE_RATE_PER_SEC"`

	Calendar CalendarSettings `yaml:"calendar" json:"calendar" envPrefix:"CALENDAR_"`
	Limits   Limits           `yaml:"limits" json:"limits" envPrefix:"LIMITS_"`
	Cache    CacheConfig      `yaml:"cache" json:"cache" envPrefix:"CACHE_"`
	Cron     CronConfig       `yaml:"cron" json:"cron" envPrefix:"CRON_"`
	Log      LogConfig        `yaml:"log" json:"log" envPrefix:"LOG_"`

	// ICS is the list of remote feeds imported on the ICS sync schedule.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, protects write endpoints.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "/var/lib/pefsched/schedule.db"
	}
	if c.DefaultColor == "" {
		c.DefaultColor = "#3a87ad"
	}
	if c.ClassPathPrefix == "" {
		c.ClassPathPrefix = "/class/"
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = "/var/lib/pefsched/ics-cache"
	}
	if c.WriteRatePerSec < 0 {
		c.WriteRatePerSec = 0
	}

	if c.Calendar.SlotDuration == "" {
		c.Calendar.SlotDuration = "00:30:00"
	}
	if c.Calendar.SnapDuration == "" {
		c.Calendar.SnapDuration = "00:15:00"
	}
	if c.Calendar.SlotLabelInterval == "" {
		c.Calendar.SlotLabelInterval = "01:00"
	}
	if c.Calendar.PopoverWidth == 0 {
		c.Calendar.PopoverWidth = 300
	}
	if c.Calendar.PopoverHeight == 0 {
		c.Calendar.PopoverHeight = 200
	}
	if c.Calendar.WindowPadding < 0 {
		c.Calendar.WindowPadding = 0
	}

	if c.Limits.WarnRows <= 0 {
		c.Limits.WarnRows = 1000
	}
	if c.Limits.MaxRows <= 0 {
		c.Limits.MaxRows = 5000
	}
	if c.Limits.MaxOccurrencesPerRow <= 0 {
		c.Limits.MaxOccurrencesPerRow = 1000
	}

	switch strings.ToLower(c.Cache.Backend) {
	case "memory", "redis", "none":
		c.Cache.Backend = strings.ToLower(c.Cache.Backend)
	default:
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 30 * time.Second
	}
	if c.Cache.RedisAddr == "" {
		c.Cache.RedisAddr = "127.0.0.1:6379"
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "pefsched"
	}

	if c.Cron.Rebuild == "" {
		c.Cron.Rebuild = "0 3 * * *"
	}
	if c.Cron.ICSSync == "" {
		c.Cron.ICSSync = "*/30 * * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

var (
	hmsPattern   = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	hmPattern    = regexp.MustCompile(`^\d{2}:\d{2}$`)
	colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	if !colorPattern.MatchString(c.DefaultColor) {
		return fmt.Errorf("default_color %q must be a #rgb or #rrggbb hex color", c.DefaultColor)
	}
	if err := c.Calendar.Validate(); err != nil {
		return err
	}
	if c.Limits.MaxRows < c.Limits.WarnRows {
		return fmt.Errorf("limits.max_rows (%d) must be >= limits.warn_rows (%d)", c.Limits.MaxRows, c.Limits.WarnRows)
	}
	for i, src := range c.ICS {
		if strings.TrimSpace(src.URL) == "" {
			return fmt.Errorf("ics[%d]: url is required", i)
		}
	}
	return nil
}

// Validate checks the widget settings the same way the admin form does.
func (s CalendarSettings) Validate() error {
	if !hmsPattern.MatchString(s.SlotDuration) {
		return errors.New(`slot_duration must be in the format of "HH:MM:SS"`)
	}
	if !hmsPattern.MatchString(s.SnapDuration) {
		return errors.New(`snap_duration must be in the format of "HH:MM:SS"`)
	}
	if !hmPattern.MatchString(s.SlotLabelInterval) {
		return errors.New(`slot_label_interval must be in the format of "HH:MM"`)
	}
	if s.PopoverWidth < 100 {
		return errors.New("popover_width must be at least 100")
	}
	if s.PopoverHeight < 100 {
		return errors.New("popover_height must be at least 100")
	}
	if s.WindowPadding < 0 {
		return errors.New("window_padding must not be negative")
	}
	return nil
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overrides fields from PEFSCHED_* environment variables.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
//
// Environment overrides are applied last, then the result is validated.
func Load(path string) (*Config, error) {
	cfg, err := loadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".pefsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Clone returns a deep copy safe to mutate independently.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.ICS = append([]ICSConfig(nil), c.ICS...)
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		out.BasicAuth = &ba
	}
	return &out
}
