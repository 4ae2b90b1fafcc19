package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// EnvPrefix — префикс переменных окружения: MARKETPLACE_POSTGRES_DSN и т.д.
const EnvPrefix = "MARKETPLACE"

// Драйверы хранилища.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config — полная конфигурация сервиса маркетплейса.
type Config struct {
	HTTP           HTTPConfig           `mapstructure:"http"`
	Log            LogConfig            `mapstructure:"log"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Postgres       PostgresConfig       `mapstructure:"postgres"`
	Redis          RedisConfig          `mapstructure:"redis"`
	Kafka          KafkaConfig          `mapstructure:"kafka"`
	Gateway        GatewayConfig        `mapstructure:"gateway"`
	Stock          StockConfig          `mapstructure:"stock"`
	Reconciliation ReconciliationConfig `mapstructure:"reconciliation"`
	Payout         PayoutConfig         `mapstructure:"payout"`
	Outbox         OutboxConfig         `mapstructure:"outbox"`
	Idempotency    IdempotencyConfig    `mapstructure:"idempotency"`
	Tracing        TracingConfig        `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig: SeedFile заполняет каталог in-memory хранилища при старте.
type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	SeedFile string `mapstructure:"seed_file"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// RedisConfig: пустой Addr означает блокировку внутри процесса.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// KafkaConfig: без брокеров outbox пишет уведомления в лог.
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
	DLQTopic           string   `mapstructure:"dlq_topic"`
	ConsumerGroup      string   `mapstructure:"consumer_group"`
}

type GatewayConfig struct {
	Mode             string        `mapstructure:"mode"`
	BaseURL          string        `mapstructure:"base_url"`
	Token            string        `mapstructure:"token"`
	CountryCode      string        `mapstructure:"country_code"`
	SandboxMaxAmount int64         `mapstructure:"sandbox_max_amount"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RetryCount       int           `mapstructure:"retry_count"`
	RetryWait        time.Duration `mapstructure:"retry_wait"`
	RetryMaxWait     time.Duration `mapstructure:"retry_max_wait"`
}

type StockConfig struct {
	SuppressionWindow time.Duration `mapstructure:"suppression_window"`
	LowThreshold      int           `mapstructure:"low_threshold"`
}

type ReconciliationConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Interval   time.Duration `mapstructure:"interval"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	Throttle   time.Duration `mapstructure:"throttle"`
	BatchSize  int           `mapstructure:"batch_size"`
	Lease      time.Duration `mapstructure:"lease"`
}

type PayoutConfig struct {
	DisburseTimeout  time.Duration `mapstructure:"disburse_timeout"`
	RetryInterval    time.Duration `mapstructure:"retry_interval"`
	RetryMaxAttempts int           `mapstructure:"retry_max_attempts"`
	RetryBaseDelay   time.Duration `mapstructure:"retry_base_delay"`
}

type OutboxConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
}

type IdempotencyConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatchSize int           `mapstructure:"cleanup_batch_size"`
}

// TracingConfig: пустой Endpoint отключает экспорт трасс.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"service_name"`
	Insecure    bool   `mapstructure:"insecure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("storage.driver", StorageMemory)
	v.SetDefault("storage.seed_file", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.auto_migrate", true)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.key_prefix", "marketplace:lock:")
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.notifications_topic", "marketplace.notifications")
	v.SetDefault("kafka.dlq_topic", "marketplace.notifications.dlq")
	v.SetDefault("kafka.consumer_group", "marketplace-notifier")
	v.SetDefault("gateway.mode", "sandbox")
	v.SetDefault("gateway.base_url", "https://demo.campay.net/api")
	v.SetDefault("gateway.token", "")
	v.SetDefault("gateway.country_code", "237")
	v.SetDefault("gateway.sandbox_max_amount", 100)
	v.SetDefault("gateway.timeout", 15*time.Second)
	v.SetDefault("gateway.retry_count", 2)
	v.SetDefault("gateway.retry_wait", 500*time.Millisecond)
	v.SetDefault("gateway.retry_max_wait", 3*time.Second)
	v.SetDefault("stock.suppression_window", time.Hour)
	v.SetDefault("stock.low_threshold", 1)
	v.SetDefault("reconciliation.enabled", true)
	v.SetDefault("reconciliation.interval", time.Hour)
	v.SetDefault("reconciliation.stale_after", 72*time.Hour)
	v.SetDefault("reconciliation.throttle", time.Second)
	v.SetDefault("reconciliation.batch_size", 100)
	v.SetDefault("reconciliation.lease", 10*time.Minute)
	v.SetDefault("payout.disburse_timeout", 30*time.Second)
	v.SetDefault("payout.retry_interval", 5*time.Minute)
	v.SetDefault("payout.retry_max_attempts", 5)
	v.SetDefault("payout.retry_base_delay", time.Minute)
	v.SetDefault("outbox.poll_interval", time.Second)
	v.SetDefault("outbox.batch_size", 100)
	v.SetDefault("outbox.max_attempts", 3)
	v.SetDefault("outbox.retry_delay", 50*time.Millisecond)
	v.SetDefault("idempotency.ttl", 24*time.Hour)
	v.SetDefault("idempotency.cleanup_interval", 10*time.Minute)
	v.SetDefault("idempotency.cleanup_batch_size", 500)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.service_name", "marketplace")
	v.SetDefault("tracing.insecure", true)
}

// Default возвращает конфигурацию только из значений по умолчанию.
func Default() Config {
	cfg, _ := load(viper.New(), "")
	return cfg
}

// Load читает значения по умолчанию, затем YAML-файл (если path не пуст),
// затем переменные окружения с префиксом MARKETPLACE_.
func Load(path string) (Config, error) {
	cfg, err := load(viper.New(), path)
	if err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func load(v *viper.Viper, path string) (Config, error) {
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = cleanList(cfg.Kafka.Brokers)
	return cfg, nil
}

// cleanList раскладывает "a, b" из переменной окружения и убирает пустые элементы.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			errs = append(errs, errors.New("postgres.dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(c.Gateway.Mode)) {
	case "live", "sandbox", "simulated":
	default:
		errs = append(errs, fmt.Errorf("gateway.mode %q is not supported", c.Gateway.Mode))
	}
	if c.Gateway.SandboxMaxAmount <= 0 {
		errs = append(errs, errors.New("gateway.sandbox_max_amount must be positive"))
	}
	if c.Stock.LowThreshold < 0 {
		errs = append(errs, errors.New("stock.low_threshold must be non-negative"))
	}
	if len(c.Kafka.Brokers) > 0 && strings.TrimSpace(c.Kafka.NotificationsTopic) == "" {
		errs = append(errs, errors.New("kafka.notifications_topic is required when brokers are set"))
	}

	for name, d := range map[string]time.Duration{
		"gateway.timeout":              c.Gateway.Timeout,
		"stock.suppression_window":     c.Stock.SuppressionWindow,
		"reconciliation.interval":      c.Reconciliation.Interval,
		"reconciliation.stale_after":   c.Reconciliation.StaleAfter,
		"reconciliation.lease":         c.Reconciliation.Lease,
		"payout.disburse_timeout":      c.Payout.DisburseTimeout,
		"payout.retry_interval":        c.Payout.RetryInterval,
		"outbox.poll_interval":         c.Outbox.PollInterval,
		"idempotency.ttl":              c.Idempotency.TTL,
		"idempotency.cleanup_interval": c.Idempotency.CleanupInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	for name, n := range map[string]int{
		"reconciliation.batch_size":      c.Reconciliation.BatchSize,
		"payout.retry_max_attempts":      c.Payout.RetryMaxAttempts,
		"outbox.batch_size":              c.Outbox.BatchSize,
		"outbox.max_attempts":            c.Outbox.MaxAttempts,
		"idempotency.cleanup_batch_size": c.Idempotency.CleanupBatchSize,
	} {
		if n <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}

	return errors.Join(errs...)
}

// LogLevel возвращает уровень logrus; некорректное значение даёт info.
func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// KafkaEnabled сообщает, настроены ли брокеры.
func (c Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
