// Package config loads the environment-driven service configuration
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Logging    LoggingConfig    `json:"logging"`
	Cache      CacheConfig      `json:"cache"`
	Kafka      KafkaConfig      `json:"kafka"`
	Metrics    MetricsConfig    `json:"metrics"`
	Investment InvestmentConfig `json:"investment"`
	Profit     ProfitConfig     `json:"profit"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
	AllowedOrigins  []string      `json:"allowed_origins"`
}

type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
	MigrationsDir   string        `json:"migrations_dir"`
}

// DSN renders the key/value connection string understood by both pgx and lib/pq
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

type LoggingConfig struct {
	Level            string `json:"level"`  // debug, info, warn, error
	Format           string `json:"format"` // json, console
	FilePath         string `json:"file_path"`
	MaxSize          int    `json:"max_size"` // MB
	MaxBackups       int    `json:"max_backups"`
	MaxAge           int    `json:"max_age"` // days
	Compress         bool   `json:"compress"`
	EnableCaller     bool   `json:"enable_caller"`
	EnableStacktrace bool   `json:"enable_stacktrace"`
}

type CacheConfig struct {
	Enabled     bool          `json:"enabled"`
	RedisURL    string        `json:"redis_url"`
	RedisPrefix string        `json:"redis_prefix"`
	DefaultTTL  time.Duration `json:"default_ttl"`
}

type KafkaConfig struct {
	Enabled      bool          `json:"enabled"`
	Brokers      []string      `json:"brokers"`
	Topic        string        `json:"topic"`
	BatchTimeout time.Duration `json:"batch_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// InvestmentConfig bounds and defaults for new investments
type InvestmentConfig struct {
	MinAmount             decimal.Decimal `json:"min_amount"`
	MaxAmount             decimal.Decimal `json:"max_amount"`
	DefaultReturnRate     decimal.Decimal `json:"default_return_rate"` // Percent over the full term
	DefaultMaturityDays   int             `json:"default_maturity_days"`
	DefaultLockPeriodDays int             `json:"default_lock_period_days"` // Used when a plot has none
	Currency              string          `json:"currency"`
}

// ProfitConfig drives sale profit splitting
type ProfitConfig struct {
	DefaultCompanyPercentage decimal.Decimal `json:"default_company_percentage"`
	CurrencyPrecision        int32           `json:"currency_precision"`
}

type SchedulerConfig struct {
	Enabled          bool          `json:"enabled"`
	SweepInterval    time.Duration `json:"sweep_interval"`
	MaturityInterval time.Duration `json:"maturity_interval"`
	LockTTL          time.Duration `json:"lock_ttl"`
	BatchSize        int           `json:"batch_size"`
}

// Load reads .env when present and builds the configuration from the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1024*1024),
			AllowedOrigins:  getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "plotshare"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 50),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 10),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", time.Second),
			MigrationsDir:   getEnvString("DB_MIGRATIONS_DIR", "migrations"),
		},
		Logging: LoggingConfig{
			Level:            getEnvString("LOG_LEVEL", "info"),
			Format:           getEnvString("LOG_FORMAT", "json"),
			FilePath:         getEnvString("LOG_FILE", ""),
			MaxSize:          getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:       getEnvInt("LOG_MAX_BACKUPS", 5),
			MaxAge:           getEnvInt("LOG_MAX_AGE", 30),
			Compress:         getEnvBool("LOG_COMPRESS", true),
			EnableCaller:     getEnvBool("LOG_ENABLE_CALLER", true),
			EnableStacktrace: getEnvBool("LOG_ENABLE_STACKTRACE", false),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379/0"),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "plotshare:"),
			DefaultTTL:  getEnvDuration("CACHE_DEFAULT_TTL", 5*time.Minute),
		},
		Kafka: KafkaConfig{
			Enabled:      getEnvBool("KAFKA_ENABLED", false),
			Brokers:      getEnvStringSlice("KAFKA_BROKERS", []string{"localhost:9092"}),
			Topic:        getEnvString("KAFKA_TOPIC", "plotshare.ledger"),
			BatchTimeout: getEnvDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
			WriteTimeout: getEnvDuration("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Investment: InvestmentConfig{
			MinAmount:             getEnvDecimal("INVESTMENT_MIN_AMOUNT", decimal.NewFromInt(1000)),
			MaxAmount:             getEnvDecimal("INVESTMENT_MAX_AMOUNT", decimal.NewFromInt(100000000)),
			DefaultReturnRate:     getEnvDecimal("INVESTMENT_DEFAULT_RETURN_RATE", decimal.NewFromInt(12)),
			DefaultMaturityDays:   getEnvInt("INVESTMENT_DEFAULT_MATURITY_DAYS", 365),
			DefaultLockPeriodDays: getEnvInt("INVESTMENT_DEFAULT_LOCK_PERIOD_DAYS", 90),
			Currency:              getEnvString("LEDGER_CURRENCY", "IRR"),
		},
		Profit: ProfitConfig{
			DefaultCompanyPercentage: getEnvDecimal("PROFIT_DEFAULT_COMPANY_PERCENTAGE", decimal.NewFromInt(20)),
			CurrencyPrecision:        int32(getEnvInt("PROFIT_CURRENCY_PRECISION", 2)),
		},
		Scheduler: SchedulerConfig{
			Enabled:          getEnvBool("SCHEDULER_ENABLED", true),
			SweepInterval:    getEnvDuration("SCHEDULER_SWEEP_INTERVAL", time.Minute),
			MaturityInterval: getEnvDuration("SCHEDULER_MATURITY_INTERVAL", 10*time.Minute),
			LockTTL:          getEnvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
			BatchSize:        getEnvInt("SCHEDULER_BATCH_SIZE", 500),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate collects every configuration problem into one error
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Host == "" {
		errs = append(errs, "DB_HOST is required")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, "DB_PORT must be between 1 and 65535")
	}
	if c.Database.Name == "" {
		errs = append(errs, "DB_NAME is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, "LOG_LEVEL must be one of: debug, info, warn, error")
	}

	if c.Cache.Enabled && c.Cache.RedisURL == "" {
		errs = append(errs, "CACHE_REDIS_URL is required when cache is enabled")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		errs = append(errs, "KAFKA_BROKERS and KAFKA_TOPIC are required when kafka is enabled")
	}

	if !c.Investment.MinAmount.IsPositive() {
		errs = append(errs, "INVESTMENT_MIN_AMOUNT must be positive")
	}
	if c.Investment.MaxAmount.LessThan(c.Investment.MinAmount) {
		errs = append(errs, "INVESTMENT_MAX_AMOUNT must not be below INVESTMENT_MIN_AMOUNT")
	}
	if c.Investment.DefaultReturnRate.IsNegative() {
		errs = append(errs, "INVESTMENT_DEFAULT_RETURN_RATE must not be negative")
	}
	if c.Investment.DefaultMaturityDays <= 0 {
		errs = append(errs, "INVESTMENT_DEFAULT_MATURITY_DAYS must be positive")
	}
	if c.Investment.DefaultLockPeriodDays < 0 {
		errs = append(errs, "INVESTMENT_DEFAULT_LOCK_PERIOD_DAYS must not be negative")
	}
	if len(c.Investment.Currency) != 3 {
		errs = append(errs, "LEDGER_CURRENCY must be a 3 letter code")
	}

	if c.Profit.DefaultCompanyPercentage.IsNegative() || c.Profit.DefaultCompanyPercentage.GreaterThan(decimal.NewFromInt(100)) {
		errs = append(errs, "PROFIT_DEFAULT_COMPANY_PERCENTAGE must be between 0 and 100")
	}
	if c.Profit.CurrencyPrecision < 0 || c.Profit.CurrencyPrecision > 4 {
		errs = append(errs, "PROFIT_CURRENCY_PRECISION must be between 0 and 4")
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.SweepInterval <= 0 || c.Scheduler.MaturityInterval <= 0 {
			errs = append(errs, "SCHEDULER intervals must be positive")
		}
		if c.Scheduler.BatchSize <= 0 {
			errs = append(errs, "SCHEDULER_BATCH_SIZE must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, item := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}
