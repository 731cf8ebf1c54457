package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lmplayground/model-store/internal/domain/vo"
)

// EnvPrefix prefixes environment overrides, e.g. MODEL_STORE_HTTP_BIND_ADDR
const EnvPrefix = "MODEL_STORE"

// Config represents the entire application configuration
type Config struct {
	Storage     StorageConfig     `mapstructure:"storage"`
	Downloads   DownloadsConfig   `mapstructure:"downloads"`
	S3          S3Config          `mapstructure:"s3"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// StorageConfig contains local directory settings
type StorageConfig struct {
	LegacyDir           string  `mapstructure:"legacy_dir"`
	StagingDir          string  `mapstructure:"staging_dir"`
	TempDir             string  `mapstructure:"temp_dir"`
	BufferSizeKB        int     `mapstructure:"buffer_size_kb"`
	Reserve             string  `mapstructure:"reserve"`
	MaxDiskUsagePercent float64 `mapstructure:"max_disk_usage_percent"`
}

// DownloadsConfig contains download subsystem and orchestrator settings
type DownloadsConfig struct {
	PollInterval     string `mapstructure:"poll_interval"`
	Workers          int    `mapstructure:"workers"`
	MaxRetries       int    `mapstructure:"max_retries"`
	ProgressInterval string `mapstructure:"progress_interval"`
	UserAgent        string `mapstructure:"user_agent"`
	HTTPTimeout      string `mapstructure:"http_timeout"`
	MaxRedirects     int    `mapstructure:"max_redirects"`
}

// S3Config contains settings for s3:// storage locations
type S3Config struct {
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// CatalogConfig contains asset catalog settings
type CatalogConfig struct {
	// Path of a YAML catalog; empty uses the built-in catalog
	Path string `mapstructure:"path"`
}

// HTTPConfig contains HTTP server configuration
type HTTPConfig struct {
	BindAddr      string `mapstructure:"bind_addr"`
	AdminUsername string `mapstructure:"admin_username"`
	AdminPassword string `mapstructure:"admin_password"`
	ReadTimeout   string `mapstructure:"read_timeout"`
	WriteTimeout  string `mapstructure:"write_timeout"`
	IdleTimeout   string `mapstructure:"idle_timeout"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// MaintenanceConfig contains periodic cleanup settings
type MaintenanceConfig struct {
	StaleCheckInterval string `mapstructure:"stale_check_interval"`
	StaleTimeout       string `mapstructure:"stale_timeout"`
	CleanupInterval    string `mapstructure:"cleanup_interval"`
	FinishedMaxAge     string `mapstructure:"finished_max_age"`
	PartialMaxAge      string `mapstructure:"partial_max_age"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.legacy_dir", "")
	v.SetDefault("storage.staging_dir", "/var/lib/model-store/staging")
	v.SetDefault("storage.temp_dir", "")
	v.SetDefault("storage.buffer_size_kb", 8)
	v.SetDefault("storage.reserve", "512MB")
	v.SetDefault("storage.max_disk_usage_percent", 95)
	v.SetDefault("downloads.poll_interval", "250ms")
	v.SetDefault("downloads.workers", 2)
	v.SetDefault("downloads.max_retries", 3)
	v.SetDefault("downloads.progress_interval", "1s")
	v.SetDefault("downloads.user_agent", "model-store/1.0")
	v.SetDefault("downloads.http_timeout", "30s")
	v.SetDefault("downloads.max_redirects", 10)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("catalog.path", "")
	v.SetDefault("http.bind_addr", "127.0.0.1:8080")
	v.SetDefault("http.admin_username", "")
	v.SetDefault("http.admin_password", "")
	v.SetDefault("http.read_timeout", "30s")
	v.SetDefault("http.write_timeout", "0s")
	v.SetDefault("http.idle_timeout", "60s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "/var/lib/model-store/model-store.db")
	v.SetDefault("maintenance.stale_check_interval", "1m")
	v.SetDefault("maintenance.stale_timeout", "30m")
	v.SetDefault("maintenance.cleanup_interval", "1h")
	v.SetDefault("maintenance.finished_max_age", "24h")
	v.SetDefault("maintenance.partial_max_age", "168h")
}

// Load loads configuration from the specified file path. An empty path
// uses defaults and environment overrides only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Storage.StagingDir == "" {
		return fmt.Errorf("storage.staging_dir is required")
	}
	if c.Storage.BufferSizeKB < 0 {
		return fmt.Errorf("storage.buffer_size_kb must not be negative")
	}
	if c.Storage.Reserve != "" {
		if _, err := vo.ParseByteSize(c.Storage.Reserve); err != nil {
			return fmt.Errorf("invalid storage.reserve: %w", err)
		}
	}
	if c.Storage.MaxDiskUsagePercent < 0 || c.Storage.MaxDiskUsagePercent > 100 {
		return fmt.Errorf("storage.max_disk_usage_percent must be between 0 and 100")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Downloads.Workers < 1 || c.Downloads.Workers > 10 {
		return fmt.Errorf("downloads.workers must be between 1 and 10")
	}
	if c.Downloads.MaxRetries < 0 {
		return fmt.Errorf("downloads.max_retries must not be negative")
	}
	if c.Downloads.MaxRedirects < 0 {
		return fmt.Errorf("downloads.max_redirects must not be negative")
	}

	durations := map[string]string{
		"downloads.poll_interval":          c.Downloads.PollInterval,
		"downloads.progress_interval":      c.Downloads.ProgressInterval,
		"downloads.http_timeout":           c.Downloads.HTTPTimeout,
		"http.read_timeout":                c.HTTP.ReadTimeout,
		"http.write_timeout":               c.HTTP.WriteTimeout,
		"http.idle_timeout":                c.HTTP.IdleTimeout,
		"maintenance.stale_check_interval": c.Maintenance.StaleCheckInterval,
		"maintenance.stale_timeout":        c.Maintenance.StaleTimeout,
		"maintenance.cleanup_interval":     c.Maintenance.CleanupInterval,
		"maintenance.finished_max_age":     c.Maintenance.FinishedMaxAge,
		"maintenance.partial_max_age":      c.Maintenance.PartialMaxAge,
	}
	var errs []error
	for key, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	if (c.HTTP.AdminUsername == "") != (c.HTTP.AdminPassword == "") {
		return fmt.Errorf("http.admin_username and http.admin_password must be set together")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}

	return nil
}

// durationOr parses s, returning def when s is empty or zero
func durationOr(s string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(s)
	if d == 0 {
		return def
	}
	return d
}

// GetLegacyDir returns the legacy downloads directory, defaulting to
// ~/Downloads
func (c *StorageConfig) GetLegacyDir() string {
	if c.LegacyDir != "" {
		return c.LegacyDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Downloads")
}

// GetTempDir returns the directory for spooling remote uploads
func (c *StorageConfig) GetTempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return os.TempDir()
}

// GetBufferSize returns the copy buffer size in bytes
func (c *StorageConfig) GetBufferSize() int {
	if c.BufferSizeKB <= 0 {
		return 8 * 1024
	}
	return c.BufferSizeKB * 1024
}

// GetReserveBytes returns the free space kept in reserve on staging
func (c *StorageConfig) GetReserveBytes() int64 {
	size, err := vo.ParseByteSize(c.Reserve)
	if err != nil {
		return 0
	}
	return size.Bytes()
}

// GetPollInterval returns the orchestrator poll interval
func (c *DownloadsConfig) GetPollInterval() time.Duration {
	return durationOr(c.PollInterval, 250*time.Millisecond)
}

// GetProgressInterval returns the progress persistence interval
func (c *DownloadsConfig) GetProgressInterval() time.Duration {
	return durationOr(c.ProgressInterval, time.Second)
}

// GetHTTPTimeout returns the per-request response header timeout
func (c *DownloadsConfig) GetHTTPTimeout() time.Duration {
	return durationOr(c.HTTPTimeout, 30*time.Second)
}

// GetReadTimeout returns the read timeout as time.Duration
func (c *HTTPConfig) GetReadTimeout() time.Duration {
	return durationOr(c.ReadTimeout, 30*time.Second)
}

// GetWriteTimeout returns the write timeout. Zero disables it.
func (c *HTTPConfig) GetWriteTimeout() time.Duration {
	d, _ := time.ParseDuration(c.WriteTimeout)
	return d
}

// GetIdleTimeout returns the idle timeout as time.Duration
func (c *HTTPConfig) GetIdleTimeout() time.Duration {
	return durationOr(c.IdleTimeout, 60*time.Second)
}

// GetStaleCheckInterval returns how often stale records are released
func (c *MaintenanceConfig) GetStaleCheckInterval() time.Duration {
	return durationOr(c.StaleCheckInterval, time.Minute)
}

// GetStaleTimeout returns how long a running record may go without progress
func (c *MaintenanceConfig) GetStaleTimeout() time.Duration {
	return durationOr(c.StaleTimeout, 30*time.Minute)
}

// GetCleanupInterval returns how often cleanup runs
func (c *MaintenanceConfig) GetCleanupInterval() time.Duration {
	return durationOr(c.CleanupInterval, time.Hour)
}

// GetFinishedMaxAge returns the age after which finished records are removed
func (c *MaintenanceConfig) GetFinishedMaxAge() time.Duration {
	return durationOr(c.FinishedMaxAge, 24*time.Hour)
}

// GetPartialMaxAge returns the age after which partial transfers are removed
func (c *MaintenanceConfig) GetPartialMaxAge() time.Duration {
	return durationOr(c.PartialMaxAge, 7*24*time.Hour)
}
