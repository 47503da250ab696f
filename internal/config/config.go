// Package config loads the proxy's configuration from a YAML file with
// environment variable overrides, following the same pattern used across
// the rest of the fleet's services.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the proxy's full runtime configuration.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"  env:"IMGPROXY_LISTEN_ADDR"`
	MetricsAddr string `yaml:"metrics_addr" env:"IMGPROXY_METRICS_ADDR"`

	CacheDir  string `yaml:"cache_dir"  env:"IMGPROXY_CACHE_DIR"`
	AssetsDir string `yaml:"assets_dir" env:"IMGPROXY_ASSETS_DIR"`
	TempDir   string `yaml:"temp_dir"   env:"IMGPROXY_TEMP_DIR"`

	MaxSizeBytes int64         `yaml:"max_size_bytes" env:"IMGPROXY_MAX_SIZE_BYTES"`
	CacheTTL     time.Duration `yaml:"cache_ttl"       env:"IMGPROXY_CACHE_TTL"`

	UpstreamTimeout time.Duration `yaml:"upstream_timeout" env:"IMGPROXY_UPSTREAM_TIMEOUT"`
	OuterDeadline   time.Duration `yaml:"outer_deadline"   env:"IMGPROXY_OUTER_DEADLINE"`

	RefererPatterns []string `yaml:"referer_patterns" env:"IMGPROXY_REFERER_PATTERNS"`
	BypassHosts     []string `yaml:"bypass_hosts"     env:"IMGPROXY_BYPASS_HOSTS"`

	ResizePoolSize    int `yaml:"resize_pool_size"    env:"IMGPROXY_RESIZE_POOL_SIZE"`
	ResizeRecycleJobs int `yaml:"resize_recycle_jobs" env:"IMGPROXY_RESIZE_RECYCLE_JOBS"`

	UpstreamRetryAttempts int           `yaml:"upstream_retry_attempts" env:"IMGPROXY_UPSTREAM_RETRY_ATTEMPTS"`
	UpstreamRetryDelay    time.Duration `yaml:"upstream_retry_delay"    env:"IMGPROXY_UPSTREAM_RETRY_DELAY"`

	BreakerFailureThreshold int           `yaml:"breaker_failure_threshold" env:"IMGPROXY_BREAKER_FAILURE_THRESHOLD"`
	BreakerCooldown         time.Duration `yaml:"breaker_cooldown"          env:"IMGPROXY_BREAKER_COOLDOWN"`

	LogLevel  string `yaml:"log_level"  env:"IMGPROXY_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"IMGPROXY_LOG_FORMAT"`

	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"IMGPROXY_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"IMGPROXY_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"IMGPROXY_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"IMGPROXY_SHUTDOWN_TIMEOUT"`
}

// SetDefaults fills in zero-valued fields with the proxy's defaults.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = c.ListenAddr
	}
	if c.CacheDir == "" {
		c.CacheDir = "/var/cache/imgproxy"
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "/etc/imgproxy/assets"
	}
	if c.TempDir == "" {
		c.TempDir = "/var/cache/imgproxy/tmp"
	}
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = 4 * 1024 * 1024
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 30 * 24 * time.Hour
	}
	if c.UpstreamTimeout == 0 {
		c.UpstreamTimeout = 60 * time.Second
	}
	if c.OuterDeadline == 0 {
		c.OuterDeadline = 61 * time.Second
	}
	if c.ResizePoolSize == 0 {
		c.ResizePoolSize = 4
	}
	if c.ResizeRecycleJobs == 0 {
		c.ResizeRecycleJobs = 250
	}
	if c.UpstreamRetryAttempts == 0 {
		c.UpstreamRetryAttempts = 3
	}
	if c.UpstreamRetryDelay == 0 {
		c.UpstreamRetryDelay = 100 * time.Millisecond
	}
	if c.BreakerFailureThreshold == 0 {
		c.BreakerFailureThreshold = 5
	}
	if c.BreakerCooldown == 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 65 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
}

// loadEnvFiles loads .env files in priority order, same as the shared
// config package: ENV_FILE, then .env.local, then .env. Missing files are
// not an error.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	if err := godotenv.Load(".env.local"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env.local: %w", err)
	}
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// Load reads the YAML file at path (if it exists), applies defaults, then
// applies environment variable overrides. A missing path is not an error —
// the proxy is expected to run from defaults and env vars alone in most
// deployments.
func Load(path string) (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, fmt.Errorf("load environment files: %w", err)
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if unmarshalErr := yaml.Unmarshal(data, &cfg); unmarshalErr != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, unmarshalErr)
			}
		case os.IsNotExist(err):
			// fall through to defaults + env
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides walks the struct's `env` tags and overrides matching
// fields from the process environment. Env vars always win over YAML and
// defaults.
func applyEnvOverrides(cfg *Config) {
	v := reflect.ValueOf(cfg).Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" {
			continue
		}
		envVal, ok := os.LookupEnv(envTag)
		if !ok || envVal == "" {
			continue
		}
		setFieldFromString(field, envVal)
	}
}

func setFieldFromString(field reflect.Value, val string) {
	switch {
	case field.Type() == reflect.TypeOf(time.Duration(0)):
		if d, err := time.ParseDuration(val); err == nil {
			field.SetInt(int64(d))
		}
	case field.Kind() == reflect.String:
		field.SetString(val)
	case field.Kind() == reflect.Int || field.Kind() == reflect.Int64:
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			field.SetInt(i)
		}
	case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
		parts := strings.Split(val, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		field.Set(reflect.ValueOf(parts))
	}
}
