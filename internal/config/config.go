package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Negotiation   NegotiationConfig   `mapstructure:"negotiation"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Alerts        AlertsConfig        `mapstructure:"alerts"`
	API           APIConfig           `mapstructure:"api"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RedisConfig contains Redis settings (seller registry cache)
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	CacheTTL int    `mapstructure:"cache_ttl"` // seconds
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"` // subject prefix for negotiation events
}

// NegotiationConfig contains negotiation engine settings
type NegotiationConfig struct {
	MinIncrementBps int    `mapstructure:"min_increment_bps"` // bracket width below this snaps to a final offer
	DefaultStyle    string `mapstructure:"default_style"`     // firm, friendly, flexible
	OfferBuffer     int    `mapstructure:"offer_buffer"`      // per-session inbound offer queue depth
	StoreTimeout    int    `mapstructure:"store_timeout"`     // ms, bound on conditional-update waits
}

// SchedulerConfig contains deadline scheduler settings
type SchedulerConfig struct {
	PollInterval int `mapstructure:"poll_interval"` // seconds between due-deadline scans
	BatchSize    int `mapstructure:"batch_size"`    // max deadlines fired per scan
}

// NotificationsConfig contains push delivery settings
type NotificationsConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	FCMCredentialsPath  string `mapstructure:"fcm_credentials_path"`
	BreakerMinRequests  int    `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64 `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout  int    `mapstructure:"breaker_open_timeout"` // seconds
}

// AlertsConfig contains operator alerting settings
type AlertsConfig struct {
	TelegramBotToken string  `mapstructure:"telegram_bot_token"`
	TelegramChatIDs  []int64 `mapstructure:"telegram_chat_ids"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Host          string  `mapstructure:"host"`
	Port          int     `mapstructure:"port"`
	RateLimitRPS  float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int    `mapstructure:"rate_limit_burst"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// Enable environment variable overrides
	v.AutomaticEnv()
	v.SetEnvPrefix("KALAIKATHA")

	// Set defaults
	setDefaults(v)

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found; using defaults and environment variables
	}

	// Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "kalaikatha-commissions")
	v.SetDefault("app.version", Version)
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "commissions")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 120)

	// NATS defaults
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "commissions.")

	// Negotiation defaults
	v.SetDefault("negotiation.min_increment_bps", 100)
	v.SetDefault("negotiation.default_style", "friendly")
	v.SetDefault("negotiation.offer_buffer", 32)
	v.SetDefault("negotiation.store_timeout", 5000)

	// Scheduler defaults
	v.SetDefault("scheduler.poll_interval", 30)
	v.SetDefault("scheduler.batch_size", 100)

	// Notifications defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.fcm_credentials_path", "")
	v.SetDefault("notifications.breaker_min_requests", 5)
	v.SetDefault("notifications.breaker_failure_ratio", 0.6)
	v.SetDefault("notifications.breaker_open_timeout", 30)

	// API defaults
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.rate_limit_rps", 20.0)
	v.SetDefault("api.rate_limit_burst", 40)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// Validate checks configuration invariants that would otherwise surface as
// runtime faults deep inside the engine
func (c *Config) Validate() error {
	if c.Negotiation.MinIncrementBps <= 0 || c.Negotiation.MinIncrementBps > 10000 {
		return fmt.Errorf("negotiation.min_increment_bps must be in (0, 10000], got %d", c.Negotiation.MinIncrementBps)
	}
	switch c.Negotiation.DefaultStyle {
	case "firm", "friendly", "flexible":
	default:
		return fmt.Errorf("negotiation.default_style must be firm, friendly or flexible, got %q", c.Negotiation.DefaultStyle)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive, got %d", c.Scheduler.PollInterval)
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive, got %d", c.Scheduler.BatchSize)
	}
	if c.Database.PoolSize <= 0 {
		return fmt.Errorf("database.pool_size must be positive, got %d", c.Database.PoolSize)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port must be a valid port, got %d", c.API.Port)
	}
	if c.Notifications.BreakerFailureRatio <= 0 || c.Notifications.BreakerFailureRatio > 1 {
		return fmt.Errorf("notifications.breaker_failure_ratio must be in (0, 1], got %f", c.Notifications.BreakerFailureRatio)
	}
	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetCacheTTL returns the registry cache TTL as time.Duration
func (c *RedisConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetPollInterval returns the scheduler poll interval as time.Duration
func (c *SchedulerConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

// GetStoreTimeout returns the store-operation bound as time.Duration
func (c *NegotiationConfig) GetStoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeout) * time.Millisecond
}

// GetBreakerOpenTimeout returns the push breaker open interval
func (c *NotificationsConfig) GetBreakerOpenTimeout() time.Duration {
	return time.Duration(c.BreakerOpenTimeout) * time.Second
}
