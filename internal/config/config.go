package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	StoreMySQL  = "mysql"
	StoreMemory = "memory"
)

type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	Store           string        `yaml:"store"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MySQL   MySQLConfig   `yaml:"mysql"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Reviews ReviewsConfig `yaml:"reviews"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

type MySQLConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// RedisConfig with an empty Addr selects the in-process cache.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	PoolSize       int           `yaml:"pool_size"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	RatingCacheTTL time.Duration `yaml:"rating_cache_ttl"`
}

// KafkaConfig with no brokers leaves the outbox relay off.
type KafkaConfig struct {
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	RelayInterval time.Duration `yaml:"relay_interval"`
	RelayBatch    int           `yaml:"relay_batch"`
}

type ReviewsConfig struct {
	RequirePurchase bool `yaml:"require_purchase"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

func Default() Config {
	return Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		Store:           StoreMySQL,
		ShutdownTimeout: 10 * time.Second,
		MySQL: MySQLConfig{
			DSN:             "root:root@tcp(localhost:3306)/bookstore?parseTime=true",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
			Migrate:         true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       100,
			IdempotencyTTL: 24 * time.Hour,
			RatingCacheTTL: 10 * time.Minute,
		},
		Kafka: KafkaConfig{
			Topic:         "bookstore.orders",
			RelayInterval: 500 * time.Millisecond,
			RelayBatch:    100,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads defaults, then the YAML file named by CONFIG_FILE if set, then
// environment overrides.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := lookup(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := lookup(name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("GRPC_ADDR", &c.GRPCAddr)
	str("STORE", &c.Store)
	dur("SHUTDOWN_TIMEOUT", &c.ShutdownTimeout)

	str("MYSQL_DSN", &c.MySQL.DSN)
	num("MYSQL_MAX_OPEN_CONNS", &c.MySQL.MaxOpenConns)
	num("MYSQL_MAX_IDLE_CONNS", &c.MySQL.MaxIdleConns)
	dur("MYSQL_CONN_MAX_LIFETIME", &c.MySQL.ConnMaxLifetime)
	flag("MYSQL_MIGRATE", &c.MySQL.Migrate)

	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	num("REDIS_DB", &c.Redis.DB)
	num("REDIS_POOL_SIZE", &c.Redis.PoolSize)
	dur("IDEMPOTENCY_TTL", &c.Redis.IdempotencyTTL)
	dur("RATING_CACHE_TTL", &c.Redis.RatingCacheTTL)

	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	dur("OUTBOX_RELAY_INTERVAL", &c.Kafka.RelayInterval)
	num("OUTBOX_RELAY_BATCH", &c.Kafka.RelayBatch)

	flag("REVIEWS_REQUIRE_PURCHASE", &c.Reviews.RequirePurchase)
	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEVELOPMENT", &c.Log.Development)
	flag("TRACING_ENABLED", &c.Tracing.Enabled)

	return errors.Join(errs...)
}

func (c Config) Validate() error {
	var errs []error
	if c.HTTPAddr == "" && c.GRPCAddr == "" {
		errs = append(errs, errors.New("at least one of http_addr or grpc_addr is required"))
	}
	switch c.Store {
	case StoreMySQL:
		if c.MySQL.DSN == "" {
			errs = append(errs, errors.New("mysql.dsn is required for the mysql store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown_timeout must be positive"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka.topic is required when brokers are set"))
	}
	if c.Kafka.RelayInterval <= 0 || c.Kafka.RelayBatch <= 0 {
		errs = append(errs, errors.New("kafka relay interval and batch must be positive"))
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
