// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Tap() TapConfig
	Cache() CacheConfig
	Store() StoreConfig
	Behavior() BehaviorConfig
	Sequencer() SequencerConfig
	Device() DeviceConfig
	OCR() OCRConfig

	SetSequencerAppContext(string)
	SetDeviceSerials([]string)
	SetStoreDriver(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	TapCfg       TapConfig       `mapstructure:"tap" yaml:"tap"`
	CacheCfg     CacheConfig     `mapstructure:"cache" yaml:"cache"`
	StoreCfg     StoreConfig     `mapstructure:"store" yaml:"store"`
	BehaviorCfg  BehaviorConfig  `mapstructure:"behavior" yaml:"behavior"`
	SequencerCfg SequencerConfig `mapstructure:"sequencer" yaml:"sequencer"`
	DeviceCfg    DeviceConfig    `mapstructure:"device" yaml:"device"`
	OCRCfg       OCRConfig       `mapstructure:"ocr" yaml:"ocr"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Tap() TapConfig             { return c.TapCfg }
func (c *Config) Cache() CacheConfig         { return c.CacheCfg }
func (c *Config) Store() StoreConfig         { return c.StoreCfg }
func (c *Config) Behavior() BehaviorConfig   { return c.BehaviorCfg }
func (c *Config) Sequencer() SequencerConfig { return c.SequencerCfg }
func (c *Config) Device() DeviceConfig       { return c.DeviceCfg }
func (c *Config) OCR() OCRConfig             { return c.OCRCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetSequencerAppContext(s string) { c.SequencerCfg.AppContext = s }
func (c *Config) SetDeviceSerials(s []string)     { c.DeviceCfg.Serials = s }
func (c *Config) SetStoreDriver(d string)         { c.StoreCfg.Driver = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// SafeZoneConfig expresses the tappable area as fractional screen margins.
type SafeZoneConfig struct {
	Left   float64 `mapstructure:"left" yaml:"left"`
	Right  float64 `mapstructure:"right" yaml:"right"`
	Top    float64 `mapstructure:"top" yaml:"top"`
	Bottom float64 `mapstructure:"bottom" yaml:"bottom"`
}

// TapConfig tunes tap coordinate planning.
type TapConfig struct {
	RandomizationEnabled bool           `mapstructure:"randomization_enabled" yaml:"randomization_enabled"`
	RandomizationRadius  int            `mapstructure:"randomization_radius" yaml:"randomization_radius"`
	MinTapInterval       time.Duration  `mapstructure:"min_tap_interval" yaml:"min_tap_interval"`
	SafeZone             SafeZoneConfig `mapstructure:"safe_zone" yaml:"safe_zone"`
}

// CacheConfig tunes the position cache memory tier.
type CacheConfig struct {
	ConfidenceThreshold   float64       `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`
	VerificationThreshold time.Duration `mapstructure:"verification_threshold" yaml:"verification_threshold"`
	MemoryCapacity        int           `mapstructure:"memory_capacity" yaml:"memory_capacity"`
	MaxAgeDays            int           `mapstructure:"max_age_days" yaml:"max_age_days"`
	// Fuzzy makes near-match cache lookups the default for every text tap.
	Fuzzy bool `mapstructure:"fuzzy" yaml:"fuzzy"`
}

// StoreConfig selects and configures the persistent cache tier.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver" yaml:"driver"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type PostgresConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	Password  string `mapstructure:"password" yaml:"-"`
	DB        int    `mapstructure:"db" yaml:"db"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// DurationRange is an inclusive [Min, Max] sampling interval.
type DurationRange struct {
	Min time.Duration `mapstructure:"min" yaml:"min"`
	Max time.Duration `mapstructure:"max" yaml:"max"`
}

// BehaviorConfig parameterizes the human behavior delay model.
type BehaviorConfig struct {
	ReadingDelay            DurationRange `mapstructure:"reading_delay" yaml:"reading_delay"`
	ReadingPerChar          time.Duration `mapstructure:"reading_per_char" yaml:"reading_per_char"`
	ThinkingDelay           DurationRange `mapstructure:"thinking_delay" yaml:"thinking_delay"`
	ActionDelay             DurationRange `mapstructure:"action_delay" yaml:"action_delay"`
	TapDelay                DurationRange `mapstructure:"tap_delay" yaml:"tap_delay"`
	FatigueThresholdActions int           `mapstructure:"fatigue_threshold_actions" yaml:"fatigue_threshold_actions"`
	FatigueStep             float64       `mapstructure:"fatigue_step" yaml:"fatigue_step"`
}

// SequencerConfig tunes the automation sequencer.
type SequencerConfig struct {
	MaxRetriesPerAction  int           `mapstructure:"max_retries_per_action" yaml:"max_retries_per_action"`
	DefaultActionTimeout time.Duration `mapstructure:"default_action_timeout" yaml:"default_action_timeout"`
	DefaultGlobalTimeout time.Duration `mapstructure:"default_global_timeout" yaml:"default_global_timeout"`
	AppContext           string        `mapstructure:"app_context" yaml:"app_context"`
	DomainFilter         string        `mapstructure:"domain_filter" yaml:"domain_filter"`
}

// DeviceConfig configures the screen provider and input injector backend.
type DeviceConfig struct {
	Driver            string        `mapstructure:"driver" yaml:"driver"`
	ADBPath           string        `mapstructure:"adb_path" yaml:"adb_path"`
	Serials           []string      `mapstructure:"serials" yaml:"serials"`
	CaptureRetries    int           `mapstructure:"capture_retries" yaml:"capture_retries"`
	CaptureRetryDelay time.Duration `mapstructure:"capture_retry_delay" yaml:"capture_retry_delay"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// OCRConfig configures the text detector backend.
type OCRConfig struct {
	Engine        string  `mapstructure:"engine" yaml:"engine"`
	TesseractPath string  `mapstructure:"tesseract_path" yaml:"tesseract_path"`
	Language      string  `mapstructure:"language" yaml:"language"`
	MinConfidence float64 `mapstructure:"min_confidence" yaml:"min_confidence"`
	FixturePath   string  `mapstructure:"fixture_path" yaml:"fixture_path"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "tapwise")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Tap --
	v.SetDefault("tap.randomization_enabled", true)
	v.SetDefault("tap.randomization_radius", 5)
	v.SetDefault("tap.min_tap_interval", "500ms")
	v.SetDefault("tap.safe_zone.left", 0.05)
	v.SetDefault("tap.safe_zone.right", 0.05)
	v.SetDefault("tap.safe_zone.top", 0.10)
	v.SetDefault("tap.safe_zone.bottom", 0.10)

	// -- Cache --
	v.SetDefault("cache.confidence_threshold", 0.7)
	v.SetDefault("cache.verification_threshold", "300s")
	v.SetDefault("cache.memory_capacity", 1000)
	v.SetDefault("cache.max_age_days", 7)
	v.SetDefault("cache.fuzzy", false)

	// -- Store --
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite.path", "~/.tapwise/position_cache.db")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("store.redis.db", 0)
	v.SetDefault("store.redis.key_prefix", "tapwise")

	// -- Behavior --
	v.SetDefault("behavior.reading_delay.min", "500ms")
	v.SetDefault("behavior.reading_delay.max", "2s")
	v.SetDefault("behavior.reading_per_char", "50ms")
	v.SetDefault("behavior.thinking_delay.min", "1s")
	v.SetDefault("behavior.thinking_delay.max", "3s")
	v.SetDefault("behavior.action_delay.min", "300ms")
	v.SetDefault("behavior.action_delay.max", "1s")
	v.SetDefault("behavior.tap_delay.min", "100ms")
	v.SetDefault("behavior.tap_delay.max", "500ms")
	v.SetDefault("behavior.fatigue_threshold_actions", 50)
	v.SetDefault("behavior.fatigue_step", 0.02)

	// -- Sequencer --
	v.SetDefault("sequencer.max_retries_per_action", 3)
	v.SetDefault("sequencer.default_action_timeout", "30s")
	v.SetDefault("sequencer.default_global_timeout", "5m")
	v.SetDefault("sequencer.app_context", "default")
	v.SetDefault("sequencer.domain_filter", "")

	// -- Device --
	v.SetDefault("device.driver", "adb")
	v.SetDefault("device.adb_path", "adb")
	v.SetDefault("device.capture_retries", 3)
	v.SetDefault("device.capture_retry_delay", "500ms")
	v.SetDefault("device.command_timeout", "10s")

	// -- OCR --
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.min_confidence", 0.3)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	v.SetEnvPrefix("TAPWISE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Secrets are only ever read from the environment.
	_ = v.BindEnv("store.postgres.url", "TAPWISE_STORE_POSTGRES_URL")
	_ = v.BindEnv("store.redis.password", "TAPWISE_STORE_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.TapCfg.Validate(); err != nil {
		return fmt.Errorf("tap configuration invalid: %w", err)
	}
	if err := c.CacheCfg.Validate(); err != nil {
		return fmt.Errorf("cache configuration invalid: %w", err)
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.BehaviorCfg.Validate(); err != nil {
		return fmt.Errorf("behavior configuration invalid: %w", err)
	}
	if c.SequencerCfg.MaxRetriesPerAction <= 0 {
		return fmt.Errorf("%w: sequencer.max_retries_per_action must be a positive integer", ErrInvalidConfig)
	}
	if c.DeviceCfg.CaptureRetries <= 0 {
		return fmt.Errorf("%w: device.capture_retries must be a positive integer", ErrInvalidConfig)
	}
	return nil
}

// Validate checks radius, interval and safe-zone margins.
func (t *TapConfig) Validate() error {
	if t.RandomizationRadius < 0 {
		return fmt.Errorf("%w: randomization_radius must not be negative", ErrInvalidConfig)
	}
	if t.MinTapInterval < 0 {
		return fmt.Errorf("%w: min_tap_interval must not be negative", ErrInvalidConfig)
	}
	sz := t.SafeZone
	for name, m := range map[string]float64{"left": sz.Left, "right": sz.Right, "top": sz.Top, "bottom": sz.Bottom} {
		if m < 0 || m >= 0.5 {
			return fmt.Errorf("%w: safe_zone.%s must be in [0, 0.5)", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Validate checks the cache thresholds.
func (cc *CacheConfig) Validate() error {
	if cc.ConfidenceThreshold < 0 || cc.ConfidenceThreshold > 1 {
		return fmt.Errorf("%w: confidence_threshold must be between 0.0 and 1.0", ErrInvalidConfig)
	}
	if cc.MemoryCapacity <= 0 {
		return fmt.Errorf("%w: memory_capacity must be a positive integer", ErrInvalidConfig)
	}
	if cc.VerificationThreshold < 0 {
		return fmt.Errorf("%w: verification_threshold must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Validate checks that the selected driver has what it needs.
func (s *StoreConfig) Validate() error {
	switch s.Driver {
	case "", "none":
	case "sqlite":
		if s.SQLite.Path == "" {
			return fmt.Errorf("%w: store.sqlite.path is required for the sqlite driver", ErrInvalidConfig)
		}
	case "postgres":
		if s.Postgres.URL == "" {
			return fmt.Errorf("%w: store.postgres.url is required for the postgres driver", ErrInvalidConfig)
		}
	case "redis":
		if s.Redis.Addr == "" {
			return fmt.Errorf("%w: store.redis.addr is required for the redis driver", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, s.Driver)
	}
	return nil
}

// Validate checks that every delay range is ordered and non-negative.
func (b *BehaviorConfig) Validate() error {
	ranges := map[string]DurationRange{
		"reading_delay":  b.ReadingDelay,
		"thinking_delay": b.ThinkingDelay,
		"action_delay":   b.ActionDelay,
		"tap_delay":      b.TapDelay,
	}
	for name, r := range ranges {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("%w: %s must satisfy 0 <= min <= max", ErrInvalidConfig, name)
		}
	}
	if b.FatigueThresholdActions < 0 {
		return fmt.Errorf("%w: fatigue_threshold_actions must not be negative", ErrInvalidConfig)
	}
	return nil
}
