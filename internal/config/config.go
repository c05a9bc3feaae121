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
	"gopkg.in/yaml.v3"

	"github.com/fjod/atomic-storefront/internal/kvstore"
	"github.com/fjod/atomic-storefront/internal/remote"
)

// Config is the whole application configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Store     StoreConfig     `yaml:"store"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	HTTP      HTTPConfig      `yaml:"http"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Log       LogConfig       `yaml:"log"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// APIConfig points at the remote commerce API.
type APIConfig struct {
	BaseURL         string        `yaml:"base_url"`
	Timeout         time.Duration `yaml:"timeout"`
	RateLimit       float64       `yaml:"rate_limit"`
	Burst           int           `yaml:"burst"`
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

// StoreConfig selects the key-value backend and its connection settings.
type StoreConfig struct {
	Driver string `yaml:"driver"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	RedisPrefix   string `yaml:"redis_prefix"`

	SQLitePath string `yaml:"sqlite_path"`

	PostgresHost     string `yaml:"postgres_host"`
	PostgresPort     int    `yaml:"postgres_port"`
	PostgresUser     string `yaml:"postgres_user"`
	PostgresPassword string `yaml:"postgres_password"`
	PostgresDB       string `yaml:"postgres_db"`

	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	MongoCollection string `yaml:"mongo_collection"`
}

type CheckoutConfig struct {
	PaymentDelay time.Duration `yaml:"payment_delay"`
	DeliveryFee  float64       `yaml:"delivery_fee"`
	TaxRate      float64       `yaml:"tax_rate"`
	Currency     string        `yaml:"currency"`
	Locale       string        `yaml:"locale"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

type KafkaConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Brokers        []string      `yaml:"brokers"`
	Topic          string        `yaml:"topic"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Default returns the configuration used when no file or env override is set.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:         "http://localhost:3000",
			Timeout:         10 * time.Second,
			RateLimit:       10,
			Burst:           5,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			RedisAddr:       "localhost:6379",
			RedisPrefix:     "storefront",
			SQLitePath:      "storefront.db",
			PostgresHost:    "localhost",
			PostgresPort:    5432,
			PostgresUser:    "storefront",
			PostgresDB:      "storefront",
			MongoURI:        "mongodb://localhost:27017",
			MongoDatabase:   "storefront",
			MongoCollection: "kv_entries",
		},
		Checkout: CheckoutConfig{
			PaymentDelay: 3 * time.Second,
			DeliveryFee:  150,
			TaxRate:      0.18,
			Currency:     "MKD",
			Locale:       "mk",
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			RequestTimeout:  30 * time.Second,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20, // 1MB
		},
		Kafka: KafkaConfig{
			Brokers:        []string{"localhost:9092"},
			Topic:          "storefront-orders",
			PublishTimeout: 2 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Telemetry: TelemetryConfig{
			Exporter: "stdout",
		},
	}
}

// Load reads STOREFRONT_CONFIG (default storefront.yaml) and .env from the
// working directory.
func Load() (*Config, error) {
	path := getEnv("STOREFRONT_CONFIG", "")
	return LoadFiles(path, ".env")
}

// LoadFiles layers defaults, the YAML file, the env file and the process
// environment, later sources winning. An empty configPath falls back to
// storefront.yaml and tolerates its absence; missing env files are ignored.
// Variables already set in the environment are not overwritten by envFile.
func LoadFiles(configPath, envFile string) (*Config, error) {
	cfg := Default()

	explicit := configPath != ""
	if !explicit {
		configPath = "storefront.yaml"
	}
	if err := cfg.readYAML(configPath); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	c.API.BaseURL = getEnv("STOREFRONT_API_URL", c.API.BaseURL)
	c.API.Timeout = pick(c.API.Timeout, "STOREFRONT_API_TIMEOUT", time.ParseDuration, collect)
	c.API.RateLimit = pick(c.API.RateLimit, "STOREFRONT_API_RATE_LIMIT", parseFloat, collect)

	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.RedisAddr = getEnv("REDIS_ADDR", c.Store.RedisAddr)
	c.Store.RedisPassword = getEnv("REDIS_PASSWORD", c.Store.RedisPassword)
	c.Store.RedisDB = pick(c.Store.RedisDB, "REDIS_DB", strconv.Atoi, collect)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Store.PostgresHost = getEnv("POSTGRES_HOST", c.Store.PostgresHost)
	c.Store.PostgresPort = pick(c.Store.PostgresPort, "POSTGRES_PORT", strconv.Atoi, collect)
	c.Store.PostgresUser = getEnv("POSTGRES_USER", c.Store.PostgresUser)
	c.Store.PostgresPassword = getEnv("POSTGRES_PASSWORD", c.Store.PostgresPassword)
	c.Store.PostgresDB = getEnv("POSTGRES_DB", c.Store.PostgresDB)
	c.Store.MongoURI = getEnv("MONGO_URI", c.Store.MongoURI)
	c.Store.MongoDatabase = getEnv("MONGO_DB_NAME", c.Store.MongoDatabase)

	c.Checkout.PaymentDelay = pick(c.Checkout.PaymentDelay, "PAYMENT_DELAY", time.ParseDuration, collect)
	c.Checkout.DeliveryFee = pick(c.Checkout.DeliveryFee, "DELIVERY_FEE", parseFloat, collect)
	c.Checkout.TaxRate = pick(c.Checkout.TaxRate, "TAX_RATE", parseFloat, collect)
	c.Checkout.Currency = getEnv("CURRENCY", c.Checkout.Currency)

	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)

	c.Kafka.Enabled = pick(c.Kafka.Enabled, "KAFKA_ENABLED", strconv.ParseBool, collect)
	if brokers := getEnv("KAFKA_BROKERS", ""); brokers != "" {
		c.Kafka.Brokers = splitList(brokers)
	}
	c.Kafka.Topic = getEnv("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.PublishTimeout = pick(c.Kafka.PublishTimeout, "KAFKA_PUBLISH_TIMEOUT", time.ParseDuration, collect)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Telemetry.Enabled = pick(c.Telemetry.Enabled, "OTEL_ENABLED", strconv.ParseBool, collect)
	c.Telemetry.Exporter = getEnv("OTEL_EXPORTER", c.Telemetry.Exporter)

	return errors.Join(errs...)
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "redis", "sqlite", "postgres", "mongo":
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver))
	}
	if c.Checkout.TaxRate < 0 || c.Checkout.TaxRate > 1 {
		errs = append(errs, fmt.Errorf("checkout.tax_rate: %v is outside [0, 1]", c.Checkout.TaxRate))
	}
	if c.Checkout.DeliveryFee < 0 {
		errs = append(errs, fmt.Errorf("checkout.delivery_fee: must not be negative"))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka.brokers: required when kafka is enabled"))
	}
	return errors.Join(errs...)
}

// StoreOptions maps the store section onto the backend options.
func (c *Config) StoreOptions() kvstore.Options {
	s := c.Store
	return kvstore.Options{
		Driver:        s.Driver,
		RedisAddr:     s.RedisAddr,
		RedisPassword: s.RedisPassword,
		RedisDB:       s.RedisDB,
		RedisPrefix:   s.RedisPrefix,
		SQLitePath:    s.SQLitePath,
		Postgres: kvstore.Credentials{
			Host:     s.PostgresHost,
			Port:     s.PostgresPort,
			User:     s.PostgresUser,
			Password: s.PostgresPassword,
			DBName:   s.PostgresDB,
		},
		MongoURI:        s.MongoURI,
		MongoDatabase:   s.MongoDatabase,
		MongoCollection: s.MongoCollection,
	}
}

// RemoteConfig converts the API section into client settings.
func (c *Config) RemoteConfig() remote.Config {
	return remote.Config{
		BaseURL:         c.API.BaseURL,
		Timeout:         c.API.Timeout,
		RateLimit:       c.API.RateLimit,
		Burst:           c.API.Burst,
		BreakerFailures: c.API.BreakerFailures,
		BreakerTimeout:  c.API.BreakerTimeout,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// pick parses the variable when it is set and keeps current otherwise.
func pick[T any](current T, key string, parse func(string) (T, error), collect func(error)) T {
	raw := os.Getenv(key)
	if raw == "" {
		return current
	}
	v, err := parse(raw)
	if err != nil {
		collect(fmt.Errorf("%s: %w", key, err))
		return current
	}
	return v
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
