package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "PRICING"

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OTel      OTelConfig      `mapstructure:"otel"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	NodeID   int64  `mapstructure:"node_id"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, EnvDevelopment)
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// CacheConfig controls the resolution cache. Backend is "memory", "redis" or "none".
type CacheConfig struct {
	Backend    string        `mapstructure:"backend"`
	TTL        time.Duration `mapstructure:"ttl"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	MaxEntries int           `mapstructure:"max_entries"`
}

type PricingConfig struct {
	SupportedCurrencies []string      `mapstructure:"supported_currencies"`
	QueryTimeout        time.Duration `mapstructure:"query_timeout"`
	DefaultEntityType   string        `mapstructure:"default_entity_type"`
	MaxBulkVariants     int           `mapstructure:"max_bulk_variants"`
}

type SchedulerConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	WindowSweepEvery    time.Duration `mapstructure:"window_sweep_every"`
	WindowSweepLookback time.Duration `mapstructure:"window_sweep_lookback"`
}

// AuthConfig maps raw API keys to casbin roles.
type AuthConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	APIKeys map[string]string `mapstructure:"api_keys"`
}

type OTelConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pricing")
	v.SetDefault("app.env", EnvProduction)
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.node_id", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 10*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.log_queries", false)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 2*time.Second)
	v.SetDefault("redis.write_timeout", 2*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.key_prefix", "price")
	v.SetDefault("cache.max_entries", 100000)

	v.SetDefault("pricing.supported_currencies", []string{"USD", "EUR", "GBP", "JPY", "IDR", "SGD", "AUD", "CAD"})
	v.SetDefault("pricing.query_timeout", 3*time.Second)
	v.SetDefault("pricing.default_entity_type", "variant")
	v.SetDefault("pricing.max_bulk_variants", 500)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.window_sweep_every", 30*time.Second)
	v.SetDefault("scheduler.window_sweep_lookback", 5*time.Minute)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("otel.endpoint", "")
	v.SetDefault("otel.insecure", false)
	v.SetDefault("otel.sample_ratio", 0.1)
}

// Source owns the viper instance so the running process can react to config
// file edits.
type Source struct {
	v *viper.Viper

	mu        sync.Mutex
	listeners []func(Config)
	watching  bool
}

// NewSource reads configuration from an optional .env file, an optional
// pricing.{yaml,json,toml} file and PRICING_* environment variables, in
// increasing precedence.
func NewSource() (*Source, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("pricing")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/pricing")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return &Source{v: v}, nil
}

func (s *Source) Config() (Config, error) {
	return decode(s.v)
}

// OnChange invokes fn with the re-decoded config whenever the config file is
// modified. Invalid edits are ignored.
func (s *Source) OnChange(fn func(Config)) {
	if s.v.ConfigFileUsed() == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	if s.watching {
		return
	}
	s.watching = true
	s.v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := decode(s.v)
		if err != nil {
			return
		}
		s.mu.Lock()
		listeners := append([]func(Config){}, s.listeners...)
		s.mu.Unlock()
		for _, l := range listeners {
			l(cfg)
		}
	})
	s.v.WatchConfig()
}

func Load() (Config, error) {
	src, err := NewSource()
	if err != nil {
		return Config{}, err
	}
	return src.Config()
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	for i, code := range c.Pricing.SupportedCurrencies {
		c.Pricing.SupportedCurrencies[i] = strings.ToUpper(strings.TrimSpace(code))
	}
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.Cache.Backend {
	case "memory", "redis", "none":
	default:
		return fmt.Errorf("unsupported cache backend %q", c.Cache.Backend)
	}
	if len(c.Pricing.SupportedCurrencies) == 0 {
		return errors.New("pricing.supported_currencies must not be empty")
	}
	if c.App.NodeID < 0 || c.App.NodeID > 1023 {
		return fmt.Errorf("app.node_id must be between 0 and 1023, got %d", c.App.NodeID)
	}
	return nil
}
