package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OpenRouter OpenRouterConfig `mapstructure:"openrouter"`
	Batch      BatchConfig      `mapstructure:"batch"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Models     []ModelOverride  `mapstructure:"models"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

// StorageConfig selects where conversation session documents live.
// Images, references and history always live under DataDir.
type StorageConfig struct {
	Driver     string `mapstructure:"driver"` // file, sqlite or postgres
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Host      string          `mapstructure:"host"`
	Port      int             `mapstructure:"port"`
	Password  string          `mapstructure:"password"`
	DB        int             `mapstructure:"db"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type OpenRouterConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Referer     string        `mapstructure:"referer"`
	Title       string        `mapstructure:"title"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BackoffUnit time.Duration `mapstructure:"backoff_unit"`
}

type BatchConfig struct {
	StaggerDelay         time.Duration `mapstructure:"stagger_delay"`
	MaxVariationAttempts int           `mapstructure:"max_variation_attempts"`
}

type CacheConfig struct {
	ReferenceCapacity int `mapstructure:"reference_capacity"`
}

// SecretsConfig controls where the provider API key comes from. APIKey,
// when set (usually through OPENROUTER_API_KEY), wins over the encrypted
// key file.
type SecretsConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Passphrase string `mapstructure:"passphrase"`
	File       string `mapstructure:"file"`
}

// ModelOverride adjusts a built-in model registry entry.
type ModelOverride struct {
	ID              string `mapstructure:"id"`
	MaxRequestBytes int    `mapstructure:"max_request_bytes"`
	ContextLimit    int    `mapstructure:"context_limit"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	ErrorLogDir  string        `mapstructure:"error_log_dir"`
	MaxAge       time.Duration `mapstructure:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// SetConfigFile reports a missing file as a path error, not ConfigFileNotFoundError
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Logging.ErrorLogDir == "" {
		cfg.Logging.ErrorLogDir = filepath.Join(cfg.Storage.DataDir, "logs")
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = filepath.Join(cfg.Storage.DataDir, "sessions.db")
	}
	if cfg.Secrets.File == "" {
		cfg.Secrets.File = filepath.Join(cfg.Storage.DataDir, "secrets.json")
	}

	return &cfg, nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".imagegen"
	}
	return filepath.Join(home, ".imagegen")
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.middleware_timeout", "10m")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})

	// Storage
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.data_dir", defaultDataDir())

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "imagegen")
	v.SetDefault("database.database", "imagegen")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_idle_time", "5m")
	v.SetDefault("database.connect_timeout", "10s")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.rate_limit.requests_per_minute", 30)
	v.SetDefault("redis.rate_limit.burst", 5)

	// OpenRouter
	v.SetDefault("openrouter.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter.timeout", "120s")
	v.SetDefault("openrouter.referer", "http://localhost:8000")
	v.SetDefault("openrouter.title", "Punchy Image")
	v.SetDefault("openrouter.max_attempts", 3)
	v.SetDefault("openrouter.backoff_unit", "1s")

	// Batch
	v.SetDefault("batch.stagger_delay", "5s")
	v.SetDefault("batch.max_variation_attempts", 2)

	// Cache
	v.SetDefault("cache.reference_capacity", 20)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.max_age", "168h") // 7 days
	v.SetDefault("logging.rotation_time", "24h")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.host", "POSTGRES_HOST")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")

	// Storage
	v.BindEnv("storage.driver", "STORAGE_DRIVER")
	v.BindEnv("storage.data_dir", "IMAGEGEN_DATA_DIR")

	// Secrets
	v.BindEnv("secrets.api_key", "OPENROUTER_API_KEY")
	v.BindEnv("secrets.passphrase", "IMAGEGEN_SECRET_PASSPHRASE")

	// Logging
	v.BindEnv("logging.level", "LOG_LEVEL")
}
