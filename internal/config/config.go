package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/healthbridge/pkg/messaging/redis"
	"github.com/jwalitptl/healthbridge/pkg/worker"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Mongo      MongoConfig      `mapstructure:"mongo"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Extractors ExtractorsConfig `mapstructure:"extractors"`
	Analytics  AnalyticsConfig  `mapstructure:"analytics"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	TimeoutSeconds int      `mapstructure:"timeout_seconds"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst"`
	CORSOrigins    []string `mapstructure:"cors_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Name         string `mapstructure:"name"`
	SSLMode      string `mapstructure:"sslmode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LogConfig struct {
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type UploadConfig struct {
	MaxSizeBytes int64 `mapstructure:"max_size_bytes"`
}

type ProcessingConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type ExtractorsConfig struct {
	EkaBaseURL      string        `mapstructure:"eka_base_url"`
	EkaScribeURL    string        `mapstructure:"ekascribe_url"`
	GeminiModel     string        `mapstructure:"gemini_model"`
	OpenAIModel     string        `mapstructure:"openai_model"`
	OpenAIBaseURL   string        `mapstructure:"openai_base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	EkaPollInterval time.Duration `mapstructure:"eka_poll_interval"`
	EkaMaxPolls     int           `mapstructure:"eka_max_polls"`

	// Filled from the environment only.
	EkaAPIKey    string `mapstructure:"-"`
	GeminiAPIKey string `mapstructure:"-"`
	OpenAIAPIKey string `mapstructure:"-"`
}

type AnalyticsConfig struct {
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	WarningRatio        float64       `mapstructure:"warning_ratio"`
	CriticalRatio       float64       `mapstructure:"critical_ratio"`
	LookbackDays        int           `mapstructure:"lookback_days"`
	BaselineDays        int           `mapstructure:"baseline_days"`
	ClusterMinCases     int           `mapstructure:"cluster_min_cases"`
	AgeConcentrationMin float64       `mapstructure:"age_concentration_min"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	RetentionDays int           `mapstructure:"retention_days"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type WorkerConfig struct {
	HealthPort int `mapstructure:"health_port"`
}

type AlertsConfig struct {
	SMTPHost   string        `mapstructure:"smtp_host"`
	SMTPPort   int           `mapstructure:"smtp_port"`
	SMTPUser   string        `mapstructure:"smtp_user"`
	Password   string        `mapstructure:"-"`
	From       string        `mapstructure:"from"`
	Recipients []string      `mapstructure:"recipients"`
	Interval   time.Duration `mapstructure:"interval"`
}

func (c AlertsConfig) Enabled() bool {
	return c.SMTPHost != "" && len(c.Recipients) > 0
}

// Secrets never live in config.yaml; they are read from the environment.
type Secrets struct {
	EkaAPIKey        string `envconfig:"EKA_API_KEY"`
	GeminiAPIKey     string `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY"`
	SMTPPassword     string `envconfig:"SMTP_PASSWORD"`
	DatabasePassword string `envconfig:"DB_PASSWORD"`
	MongoURI         string `envconfig:"MONGODB_URI"`
	RedisURL         string `envconfig:"REDIS_URL"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.timeout_seconds", 300)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "healthbridge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "healthbridge")

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "500ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("log.level", "info")

	v.SetDefault("upload.max_size_bytes", 10<<20)
	v.SetDefault("processing.concurrency", 4)

	v.SetDefault("extractors.eka_base_url", "https://api.eka.care")
	v.SetDefault("extractors.gemini_model", "gemini-2.5-flash")
	v.SetDefault("extractors.openai_model", "gpt-4o")
	v.SetDefault("extractors.timeout", "120s")
	v.SetDefault("extractors.eka_poll_interval", "3s")
	v.SetDefault("extractors.eka_max_polls", 80)

	v.SetDefault("analytics.cache_ttl", "5m")
	v.SetDefault("analytics.warning_ratio", 1.3)
	v.SetDefault("analytics.critical_ratio", 2.0)
	v.SetDefault("analytics.lookback_days", 7)
	v.SetDefault("analytics.baseline_days", 30)
	v.SetDefault("analytics.cluster_min_cases", 1)
	v.SetDefault("analytics.age_concentration_min", 0)

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", "2s")
	v.SetDefault("outbox.retry_attempts", 3)
	v.SetDefault("outbox.retry_delay", "1s")
	v.SetDefault("outbox.retention_days", 7)
	v.SetDefault("outbox.cleanup_interval", "1h")

	v.SetDefault("worker.health_port", 8081)

	v.SetDefault("alerts.smtp_port", 587)
	v.SetDefault("alerts.interval", "1h")
}

// LoadConfig reads config.yaml from the given paths (default "." and
// "./config"), applies environment overrides and then overlays secrets.
// A missing config file is not an error; defaults apply.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process("", &secrets); err != nil {
		return nil, fmt.Errorf("failed to read secrets from environment: %w", err)
	}
	cfg.applySecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	c.Extractors.EkaAPIKey = s.EkaAPIKey
	c.Extractors.GeminiAPIKey = s.GeminiAPIKey
	c.Extractors.OpenAIAPIKey = s.OpenAIAPIKey
	c.Alerts.Password = s.SMTPPassword
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
	if s.MongoURI != "" {
		c.Mongo.URI = s.MongoURI
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
	}
}

func (c *Config) Validate() error {
	a := c.Analytics
	if a.WarningRatio <= 1 || a.CriticalRatio < a.WarningRatio {
		return fmt.Errorf("analytics: need 1 < warning_ratio <= critical_ratio, got %.2f and %.2f", a.WarningRatio, a.CriticalRatio)
	}
	if a.LookbackDays <= 0 || a.BaselineDays <= a.LookbackDays {
		return fmt.Errorf("analytics: baseline_days (%d) must exceed lookback_days (%d)", a.BaselineDays, a.LookbackDays)
	}
	if c.Processing.Concurrency <= 0 {
		return fmt.Errorf("processing.concurrency must be positive")
	}
	if c.Upload.MaxSizeBytes <= 0 {
		return fmt.Errorf("upload.max_size_bytes must be positive")
	}
	return nil
}

func (c *OutboxConfig) ToWorkerConfig() worker.OutboxProcessorConfig {
	return worker.OutboxProcessorConfig{
		BatchSize:     c.BatchSize,
		PollInterval:  c.PollInterval,
		RetryAttempts: c.RetryAttempts,
		RetryDelay:    c.RetryDelay,
	}
}

func (c *RedisConfig) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:          c.URL,
		MaxRetries:   c.MaxRetries,
		RetryBackoff: c.RetryBackoff,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}
}
