package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	"github.com/jwalitptl/peoli-api/internal/email"
	"github.com/jwalitptl/peoli-api/internal/service/delivery"
	"github.com/jwalitptl/peoli-api/internal/service/notification"
	"github.com/jwalitptl/peoli-api/pkg/messaging/redis"
	"github.com/jwalitptl/peoli-api/pkg/push"
	"github.com/jwalitptl/peoli-api/pkg/worker"
)

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN builds a lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

// JWTConfig validates tokens issued by the account service. PublicKey is a
// base64 encoded PEM block (RS512); Secret enables HS256 instead.
type JWTConfig struct {
	PublicKey string `mapstructure:"public_key"`
	Secret    string `mapstructure:"secret"`
	Issuer    string `mapstructure:"issuer"`
}

// PushConfig holds VAPID credentials. VAPID_SUBJECT, VAPID_PUBLIC_KEY and
// VAPID_PRIVATE_KEY override the file values.
type PushConfig struct {
	Subject         string        `mapstructure:"subject" envconfig:"VAPID_SUBJECT"`
	PublicKey       string        `mapstructure:"public_key" envconfig:"VAPID_PUBLIC_KEY"`
	PrivateKey      string        `mapstructure:"private_key" envconfig:"VAPID_PRIVATE_KEY"`
	TTL             int           `mapstructure:"ttl" ignored:"true"`
	Urgency         string        `mapstructure:"urgency" ignored:"true"`
	BreakerFailures int           `mapstructure:"breaker_failures" ignored:"true"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown" ignored:"true"`
}

type SchedulerConfig struct {
	Embedded             bool          `mapstructure:"embedded"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	BatchSize            int           `mapstructure:"batch_size"`
	ClaimLease           time.Duration `mapstructure:"claim_lease"`
	DeliveryTimeout      time.Duration `mapstructure:"delivery_timeout"`
	MaxConcurrency       int           `mapstructure:"max_concurrency"`
	StatusWriteAttempts  int           `mapstructure:"status_write_attempts"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	DeliveryLogRetention time.Duration `mapstructure:"delivery_log_retention"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	HealthAddr           string        `mapstructure:"health_addr"`
}

type NotificationsConfig struct {
	FinishReminderDelay time.Duration `mapstructure:"finish_reminder_delay"`
	DefaultURL          string        `mapstructure:"default_url"`
	RestTitle           string        `mapstructure:"rest_title"`
	RestBody            string        `mapstructure:"rest_body"`
	FinishTitle         string        `mapstructure:"finish_title"`
	FinishBody          string        `mapstructure:"finish_body"`
	TestTitle           string        `mapstructure:"test_title"`
	TestBody            string        `mapstructure:"test_body"`
}

type EmailConfig struct {
	FallbackEnabled bool   `mapstructure:"fallback_enabled"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	From            string `mapstructure:"from"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Push          PushConfig          `mapstructure:"push"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Email         EmailConfig         `mapstructure:"email"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
	Log           LogConfig           `mapstructure:"log"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "peoli")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.channel", "notifications.events")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "")

	v.SetDefault("push.subject", "")
	v.SetDefault("push.public_key", "")
	v.SetDefault("push.private_key", "")
	v.SetDefault("push.ttl", 86400)
	v.SetDefault("push.urgency", "high")
	v.SetDefault("push.breaker_failures", 20)
	v.SetDefault("push.breaker_cooldown", 30*time.Second)

	v.SetDefault("scheduler.embedded", true)
	v.SetDefault("scheduler.tick_interval", time.Second)
	v.SetDefault("scheduler.batch_size", 100)
	v.SetDefault("scheduler.claim_lease", 2*time.Minute)
	v.SetDefault("scheduler.delivery_timeout", 10*time.Second)
	v.SetDefault("scheduler.max_concurrency", 16)
	v.SetDefault("scheduler.status_write_attempts", 3)
	v.SetDefault("scheduler.retry_delay", 200*time.Millisecond)
	v.SetDefault("scheduler.delivery_log_retention", 720*time.Hour)
	v.SetDefault("scheduler.cleanup_interval", time.Hour)
	v.SetDefault("scheduler.health_addr", ":8081")

	v.SetDefault("notifications.finish_reminder_delay", 60*time.Minute)
	v.SetDefault("notifications.default_url", "/")
	v.SetDefault("notifications.rest_title", "Acabou a moleza!")
	v.SetDefault("notifications.rest_body", "O descanso encerrou, execute a próxima série!")
	v.SetDefault("notifications.finish_title", "Treino em andamento")
	v.SetDefault("notifications.finish_body", "Não esqueça de finalizar seu treino!")
	v.SetDefault("notifications.test_title", "Notificações ativadas")
	v.SetDefault("notifications.test_body", "Você receberá avisos de descanso neste dispositivo.")

	v.SetDefault("email.fallback_enabled", false)
	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.rps", 5)
	v.SetDefault("rate_limit.burst", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.namespace", "peoli")
}

// LoadConfig reads config.yml from the usual locations, or the file named by
// CONFIG_FILE. A missing file is not an error; defaults and environment apply.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(".")           // current directory
		v.AddConfigPath("./config")    // config subdirectory
		v.AddConfigPath("/app")        // container root directory
		v.AddConfigPath("/app/config") // container config directory
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// VAPID_* variables keep the names the web client deployment already uses
	if err := envconfig.Process("", &config.Push); err != nil {
		return nil, fmt.Errorf("failed to read push credentials: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	if c.Scheduler.BatchSize <= 0 {
		return fmt.Errorf("scheduler.batch_size must be positive")
	}
	if c.Scheduler.ClaimLease <= c.Scheduler.DeliveryTimeout {
		return fmt.Errorf("scheduler.claim_lease must exceed scheduler.delivery_timeout")
	}
	if c.Scheduler.MaxConcurrency <= 0 || c.Scheduler.StatusWriteAttempts <= 0 {
		return fmt.Errorf("scheduler.max_concurrency and scheduler.status_write_attempts must be positive")
	}
	if c.Email.FallbackEnabled && (c.Email.Host == "" || c.Email.From == "") {
		return fmt.Errorf("email.host and email.from are required when email.fallback_enabled is set")
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("invalid redis.url: %w", err)
		}
	}
	return nil
}

// Add conversion methods to convert config types
func (c *SchedulerConfig) ToWorkerConfig() worker.SchedulerConfig {
	return worker.SchedulerConfig{
		BatchSize:      c.BatchSize,
		TickInterval:   c.TickInterval,
		ClaimLease:     c.ClaimLease,
		MaxConcurrency: c.MaxConcurrency,
	}
}

func (c *SchedulerConfig) ToDispatcherConfig() delivery.DispatcherConfig {
	return delivery.DispatcherConfig{
		DeliveryTimeout:     c.DeliveryTimeout,
		MaxConcurrency:      c.MaxConcurrency,
		StatusWriteAttempts: c.StatusWriteAttempts,
		RetryDelay:          c.RetryDelay,
	}
}

func (c *NotificationsConfig) ToServiceConfig() notification.Config {
	return notification.Config{
		FinishReminderDelay: c.FinishReminderDelay,
		DefaultURL:          c.DefaultURL,
		RestTitle:           c.RestTitle,
		RestBody:            c.RestBody,
		FinishTitle:         c.FinishTitle,
		FinishBody:          c.FinishBody,
		TestTitle:           c.TestTitle,
		TestBody:            c.TestBody,
	}
}

func (c *EmailConfig) ToMailerConfig() email.Config {
	return email.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
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

func (c *PushConfig) ToSenderConfig() push.Config {
	return push.Config{
		Subject:         c.Subject,
		VAPIDPublicKey:  c.PublicKey,
		VAPIDPrivateKey: c.PrivateKey,
		TTL:             c.TTL,
		Urgency:         c.Urgency,
		BreakerFailures: c.BreakerFailures,
		BreakerCooldown: c.BreakerCooldown,
	}
}
