package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/samstikhin/ulearn-notifier/internal/email"
	"github.com/samstikhin/ulearn-notifier/internal/repository/postgres"
	"github.com/samstikhin/ulearn-notifier/internal/service/course"
	"github.com/samstikhin/ulearn-notifier/internal/service/planner"
	"github.com/samstikhin/ulearn-notifier/pkg/logger"
	"github.com/samstikhin/ulearn-notifier/pkg/messaging/redis"
	"github.com/samstikhin/ulearn-notifier/pkg/worker"
)

const envPrefix = "NOTIFIER"

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// EnsureSchema creates missing tables on start.
	EnsureSchema bool `mapstructure:"ensure_schema"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Storage is "postgres" or "memory".
	Storage           string        `mapstructure:"storage"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	KeepAliveInterval time.Duration `mapstructure:"keep_alive_interval"`
	Lease             time.Duration `mapstructure:"lease"`
	BatchLimit        int           `mapstructure:"batch_limit"`
	Workers           int           `mapstructure:"workers"`
	MaxFailures       int           `mapstructure:"max_failures"`
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	SendDelay         time.Duration `mapstructure:"send_delay"`
	PlanLimit         int           `mapstructure:"plan_limit"`
	CourseCacheTTL    time.Duration `mapstructure:"course_cache_ttl"`
	// Retention of sent and abandoned deliveries; zero keeps them forever.
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type EmailConfig struct {
	Provider      string  `mapstructure:"provider"`
	SenderEmail   string  `mapstructure:"sender_email"`
	SenderName    string  `mapstructure:"sender_name"`
	SupportEmail  string  `mapstructure:"support_email"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	BaseURL       string  `mapstructure:"base_url"`
	SMTP          struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
	} `mapstructure:"smtp"`
	Postmark struct {
		ServerToken  string `mapstructure:"server_token"`
		AccountToken string `mapstructure:"account_token"`
	} `mapstructure:"postmark"`
}

type ChatBotConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Channel         string        `mapstructure:"channel"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerTimeout  time.Duration `mapstructure:"breaker_timeout"`
}

type OneTimeEmailConfig struct {
	AddressesFile string  `mapstructure:"addresses_file"`
	ContentFile   string  `mapstructure:"content_file"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Config struct {
	Service       string              `mapstructure:"service"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Log           LogConfig           `mapstructure:"log"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Email         EmailConfig         `mapstructure:"email"`
	ChatBot       ChatBotConfig       `mapstructure:"chat_bot"`
	OneTimeEmail  OneTimeEmailConfig  `mapstructure:"one_time_email"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

// Secrets come from the environment only, prefixed with NOTIFIER_.
type Secrets struct {
	DatabaseHost         string `envconfig:"DB_HOST"`
	DatabasePassword     string `envconfig:"DB_PASSWORD"`
	RedisURL             string `envconfig:"REDIS_URL"`
	SMTPPassword         string `envconfig:"SMTP_PASSWORD"`
	PostmarkServerToken  string `envconfig:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `envconfig:"POSTMARK_ACCOUNT_TOKEN"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service", "ulearn.notifier")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "ulearn")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.storage", "postgres")
	v.SetDefault("notifications.poll_interval", time.Second)
	v.SetDefault("notifications.send_timeout", 30*time.Second)
	v.SetDefault("notifications.keep_alive_interval", 30*time.Second)
	v.SetDefault("notifications.lease", 5*time.Minute)
	v.SetDefault("notifications.batch_limit", 1000)
	v.SetDefault("notifications.workers", 1)
	v.SetDefault("notifications.max_failures", 0)
	v.SetDefault("notifications.suppression_window", 0)
	v.SetDefault("notifications.send_delay", 0)
	v.SetDefault("notifications.plan_limit", 1000)
	v.SetDefault("notifications.course_cache_ttl", 5*time.Minute)
	v.SetDefault("notifications.retention", 0)
	v.SetDefault("notifications.cleanup_interval", time.Hour)

	v.SetDefault("email.provider", "log")
	v.SetDefault("email.smtp.port", 587)

	v.SetDefault("chat_bot.channel", "notifications.chat_bot")
	v.SetDefault("chat_bot.breaker_failures", 5)
	v.SetDefault("chat_bot.breaker_timeout", 10*time.Second)

	v.SetDefault("one_time_email.addresses_file", "emails.txt")
	v.SetDefault("one_time_email.content_file", "content.txt")
	v.SetDefault("one_time_email.rate_per_second", 5)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 100)
	v.SetDefault("rate_limit.burst", 200)
}

// LoadConfig reads .env, then config.yml from paths (or CONFIG_FILE), then
// secrets from NOTIFIER_* variables. A missing config file is not an error.
func LoadConfig(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		if len(paths) == 0 {
			paths = []string{".", "./config", "/app", "/app/config"}
		}
		for _, p := range paths {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var secrets Secrets
	if err := envconfig.Process(envPrefix, &secrets); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.applySecrets(secrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applySecrets(s Secrets) {
	if s.DatabaseHost != "" {
		c.Database.Host = s.DatabaseHost
	}
	if s.DatabasePassword != "" {
		c.Database.Password = s.DatabasePassword
	}
	if s.RedisURL != "" {
		c.Redis.URL = s.RedisURL
	}
	if s.SMTPPassword != "" {
		c.Email.SMTP.Password = s.SMTPPassword
	}
	if s.PostmarkServerToken != "" {
		c.Email.Postmark.ServerToken = s.PostmarkServerToken
	}
	if s.PostmarkAccountToken != "" {
		c.Email.Postmark.AccountToken = s.PostmarkAccountToken
	}
}

func (c *Config) Validate() error {
	n := c.Notifications
	switch {
	case n.Storage != "postgres" && n.Storage != "memory":
		return fmt.Errorf("notifications.storage must be postgres or memory, got %q", n.Storage)
	case n.PollInterval <= 0:
		return errors.New("notifications.poll_interval must be positive")
	case n.SendTimeout <= 0:
		return errors.New("notifications.send_timeout must be positive")
	case n.KeepAliveInterval <= 0:
		return errors.New("notifications.keep_alive_interval must be positive")
	case n.Lease < n.SendTimeout:
		return errors.New("notifications.lease must not be shorter than notifications.send_timeout")
	case n.MaxFailures < 0:
		return errors.New("notifications.max_failures must not be negative")
	case n.Retention < 0:
		return errors.New("notifications.retention must not be negative")
	case n.Retention > 0 && n.CleanupInterval <= 0:
		return errors.New("notifications.cleanup_interval must be positive when retention is set")
	case n.SuppressionWindow < 0 || n.SendDelay < 0:
		return errors.New("notifications.suppression_window and send_delay must not be negative")
	case c.ChatBot.Enabled && c.Redis.URL == "":
		return errors.New("chat_bot requires redis.url")
	}
	switch email.Provider(c.Email.Provider) {
	case email.ProviderSMTP, email.ProviderPostmark, email.ProviderLog:
	default:
		return fmt.Errorf("email.provider must be smtp, postmark or log, got %q", c.Email.Provider)
	}
	return nil
}

func (c *Config) ToLoggerConfig() *logger.Config {
	return &logger.Config{
		Level: logger.ParseLevel(c.Log.Level),
		JSON:  c.Log.Format == "json",
	}
}

func (c *Config) ToDBConfig() postgres.Config {
	return postgres.Config{
		Host:            c.Database.Host,
		Port:            c.Database.Port,
		User:            c.Database.User,
		Password:        c.Database.Password,
		Name:            c.Database.Name,
		SSLMode:         c.Database.SSLMode,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetime,
	}
}

func (c *Config) ToBrokerConfig() redis.Config {
	return redis.Config{
		URL:             c.Redis.URL,
		MaxRetries:      c.Redis.MaxRetries,
		RetryBackoff:    c.Redis.RetryBackoff,
		PoolSize:        c.Redis.PoolSize,
		MinIdleConns:    c.Redis.MinIdleConns,
		BreakerFailures: c.ChatBot.BreakerFailures,
		BreakerTimeout:  c.ChatBot.BreakerTimeout,
	}
}

func (c *Config) ToDispatcherConfig() worker.DispatcherConfig {
	return worker.DispatcherConfig{
		PollInterval:      c.Notifications.PollInterval,
		SendTimeout:       c.Notifications.SendTimeout,
		KeepAliveInterval: c.Notifications.KeepAliveInterval,
		Lease:             c.Notifications.Lease,
		BatchLimit:        c.Notifications.BatchLimit,
		Workers:           c.Notifications.Workers,
	}
}

func (c *Config) ToPlannerConfig() planner.Config {
	return planner.Config{
		SuppressionWindow: c.Notifications.SuppressionWindow,
		SendDelay:         c.Notifications.SendDelay,
		Limit:             c.Notifications.PlanLimit,
	}
}

func (c *Config) ToCourseConfig() course.Config {
	return course.Config{
		CacheDuration:   c.Notifications.CourseCacheTTL,
		CleanupInterval: 2 * c.Notifications.CourseCacheTTL,
	}
}

func (c *Config) ToEmailConfig() email.Config {
	return email.Config{
		Provider:             email.Provider(c.Email.Provider),
		SenderEmail:          c.Email.SenderEmail,
		SenderName:           c.Email.SenderName,
		SupportEmail:         c.Email.SupportEmail,
		SMTPHost:             c.Email.SMTP.Host,
		SMTPPort:             c.Email.SMTP.Port,
		SMTPUser:             c.Email.SMTP.User,
		SMTPPassword:         c.Email.SMTP.Password,
		PostmarkServerToken:  c.Email.Postmark.ServerToken,
		PostmarkAccountToken: c.Email.Postmark.AccountToken,
	}
}

func (c *Config) ToBulkConfig() email.BulkConfig {
	return email.BulkConfig{
		AddressesFile: c.OneTimeEmail.AddressesFile,
		ContentFile:   c.OneTimeEmail.ContentFile,
		RatePerSecond: c.OneTimeEmail.RatePerSecond,
		Tag:           "one-time",
	}
}
