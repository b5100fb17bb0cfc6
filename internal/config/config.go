// Package config loads the service's configuration: viper for
// environment/file precedence, mapstructure decode hooks for byte
// sizes and durations, struct tags for
// github.com/go-playground/validator/v10.
package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/marmos91/mokuro-online/internal/bytesize"
)

// EnvPrefix is the environment variable prefix every configuration key is
// read under: MOKURO_ONLINE_OCR_CACHE_TYPE, MOKURO_ONLINE_SECRET_KEY, etc.
const EnvPrefix = "MOKURO_ONLINE"

// Environment selects the deployment profile: MOKURO_ONLINE_ENV selects
// production|development|testing|local.
type Environment string

const (
	Production  Environment = "production"
	Development Environment = "development"
	Testing     Environment = "testing"
	Local       Environment = "local"
)

// CacheBackend selects the C1 storage engine OCR_CACHE_TYPE names.
type CacheBackend string

const (
	// CacheSQLite matches the source's app.db.SqliteCache.
	CacheSQLite CacheBackend = "sqlite"
	// CacheBadger is an embedded-KV alternative with no SQL dependency.
	CacheBadger CacheBackend = "badger"
	// CachePostgres is a durable alternative for deployments that
	// already run Postgres.
	CachePostgres CacheBackend = "postgres"
	// CacheMemory matches the source's SimpleCache/FileSystemCache
	// in-process option.
	CacheMemory CacheBackend = "memory"
)

// Config is the service's full static configuration.
type Config struct {
	Env Environment `mapstructure:"env" yaml:"env" validate:"required,oneof=production development testing local"`

	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Cache   CacheConfig   `mapstructure:"ocr_cache" yaml:"ocr_cache"`

	// MaxImageSize is MAX_IMAGE_SIZE: the largest accepted upload, in
	// bytes.
	MaxImageSize int64 `mapstructure:"max_image_size" yaml:"max_image_size" validate:"required,gt=0"`
	// StrictNewImages is STRICT_NEW_IMAGES.
	StrictNewImages bool `mapstructure:"strict_new_images" yaml:"strict_new_images"`
	// ExecutorMaxWorkers is EXECUTOR_MAX_WORKERS; 0 defaults to 1 in
	// internal/executor.
	ExecutorMaxWorkers int `mapstructure:"executor_max_workers" yaml:"executor_max_workers" validate:"gte=0"`
	// OCRCommand is the external program internal/ocr/execmodel invokes
	// per page; OCRCommandArgs are fixed arguments prepended before the
	// staged image path. serve wires execmodel in every environment;
	// without a command the model load fails, production warm-up logs
	// that error, and every OCR job reports it.
	OCRCommand     string   `mapstructure:"ocr_command" yaml:"ocr_command"`
	OCRCommandArgs []string `mapstructure:"ocr_command_args" yaml:"ocr_command_args"`

	// SecretKey must be non-empty at startup; its only use in this
	// module is the startup presence check itself (no session signing
	// surface is in scope).
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" validate:"required"`

	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// CacheConfig maps the OCR_CACHE_* keys onto a concrete backend.
type CacheConfig struct {
	Type CacheBackend `mapstructure:"type" yaml:"type" validate:"required,oneof=sqlite badger postgres memory"`
	// Path is OCR_CACHE_PATH: the sqlite database file. The postgres
	// backend is configured through Postgres, not Path.
	Path string `mapstructure:"path" yaml:"path"`
	// Dir is OCR_CACHE_DIR: the badger data directory.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSize is OCR_CACHE_MAX_SIZE in bytes.
	MaxSize bytesize.ByteSize `mapstructure:"max_size" yaml:"max_size"`
	// Threshold is OCR_CACHE_THRESHOLD, an entry count.
	Threshold int64 `mapstructure:"threshold" yaml:"threshold"`
	// DefaultTimeout is OCR_CACHE_DEFAULT_TIMEOUT in seconds; 0 means
	// entries never expire.
	DefaultTimeout time.Duration `mapstructure:"default_timeout" yaml:"default_timeout"`
	// IgnoreErrors is OCR_CACHE_IGNORE_ERRORS.
	IgnoreErrors bool `mapstructure:"ignore_errors" yaml:"ignore_errors"`
	// Postgres configures the postgres backend; only consulted when
	// Type is CachePostgres.
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// PostgresConfig configures the postgres cache backend for deployments
// that select OCR_CACHE_TYPE=postgres.
type PostgresConfig struct {
	Host         string `mapstructure:"host" yaml:"host"`
	Port         int    `mapstructure:"port" yaml:"port"`
	Database     string `mapstructure:"database" yaml:"database"`
	User         string `mapstructure:"user" yaml:"user"`
	Password     string `mapstructure:"password" yaml:"password"`
	SSLMode      string `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// ServerConfig controls the HTTP listener and static asset location.
type ServerConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr" validate:"required"`
	StaticDir string `mapstructure:"static_dir" yaml:"static_dir"`
}

// MetricsConfig controls the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// TelemetryConfig controls optional OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate" validate:"omitempty,gte=0,lte=1"`
}

// ProfilingConfig controls optional Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled      bool     `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string   `mapstructure:"endpoint" yaml:"endpoint"`
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// Load reads configuration from environment variables (MOKURO_ONLINE_*),
// an optional config file, and defaults, in that precedence order, then
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configPath, err)
		}
	}

	cfg := defaultConfig()
	if err := v.Unmarshal(cfg, viper.DecodeHook(decodeHooks())); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	for key, def := range defaultsMap() {
		v.SetDefault(key, def)
	}
}

func defaultsMap() map[string]any {
	return map[string]any{
		"env":                       string(Development),
		"logging.level":             "INFO",
		"logging.format":            "text",
		"logging.output":            "stdout",
		"ocr_cache.type":            string(CacheSQLite),
		"ocr_cache.path":            "mokuro-online.db",
		"ocr_cache.max_size":        "1Gi",
		"ocr_cache.threshold":       10000,
		"ocr_cache.default_timeout": "0s",
		"max_image_size":              "20Mi",
		"executor_max_workers":        1,
		"server.addr":                 ":8000",
		"ocr_cache.postgres.port":     5432,
		"ocr_cache.postgres.ssl_mode": "disable",
		"profiling.profile_types":     []string{"cpu", "alloc_objects", "alloc_space", "inuse_objects", "inuse_space", "goroutines"},
	}
}

func defaultConfig() *Config {
	return &Config{}
}

// decodeHooks composes the mapstructure decode hooks Load needs: byte
// sizes (OCR_CACHE_MAX_SIZE, MAX_IMAGE_SIZE) and durations
// (OCR_CACHE_DEFAULT_TIMEOUT).
func decodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to == reflect.TypeOf(int64(0)) {
			if s, ok := data.(string); ok {
				size, err := bytesize.ParseByteSize(s)
				if err != nil {
					return nil, err
				}
				return int64(size), nil
			}
			return data, nil
		}
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
			return time.ParseDuration(v)
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v) * time.Second, nil
		default:
			return data, nil
		}
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over cfg, including the startup
// SECRET_KEY presence check.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config: validation failed: %w", err)
	}
	return nil
}
