package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	Name     string `yaml:"name"`
	Port     string `yaml:"port" validate:"required,numeric"`
	LogLevel string `yaml:"log_level" validate:"oneof=trace debug info warn error"`
}

type PostgresConfig struct {
	Host            string        `yaml:"host" validate:"required"`
	Port            string        `yaml:"port" validate:"required"`
	User            string        `yaml:"user" validate:"required"`
	Password        string        `yaml:"password" json:"-"`
	DBName          string        `yaml:"dbname" validate:"required"`
	SSLMode         string        `yaml:"sslmode"`
	MaxConns        int32         `yaml:"max_conns" validate:"gte=1"`
	MinConns        int32         `yaml:"min_conns" validate:"gte=0"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MigrationsPath  string        `yaml:"migrations_path"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"required"`
	Password string        `yaml:"password" json:"-"`
	DB       int           `yaml:"db"`
	Consumer string        `yaml:"consumer"`
	Block    time.Duration `yaml:"block"`
	MinIdle  time.Duration `yaml:"min_idle"`
}

type ClientConfig struct {
	BaseURL string        `yaml:"base_url" validate:"required,url"`
	Timeout time.Duration `yaml:"timeout"`
}

type GatewayConfig struct {
	SuccessRate float64       `yaml:"success_rate" validate:"gte=0,lte=1"`
	MinDelay    time.Duration `yaml:"min_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gtefield=MinDelay"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
}

type Config struct {
	App         AppConfig      `yaml:"app"`
	Postgres    PostgresConfig `yaml:"postgres"`
	Redis       RedisConfig    `yaml:"redis"`
	Catalog     ClientConfig   `yaml:"catalog"`
	Cart        ClientConfig   `yaml:"cart"`
	Gateway     GatewayConfig  `yaml:"gateway"`
	JournalPath string         `yaml:"journal_path"`
}

func defaults() Config {
	return Config{
		App: AppConfig{Port: "8080", LogLevel: "info"},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            "5432",
			User:            "postgres",
			DBName:          "bookstore",
			SSLMode:         "disable",
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 30 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Block:   5 * time.Second,
			MinIdle: 30 * time.Second,
		},
		Catalog: ClientConfig{BaseURL: "http://localhost:8081", Timeout: 5 * time.Second},
		Cart:    ClientConfig{BaseURL: "http://localhost:8082", Timeout: 5 * time.Second},
		Gateway: GatewayConfig{
			SuccessRate: 0.9,
			MinDelay:    500 * time.Millisecond,
			MaxDelay:    2 * time.Second,
			Timeout:     10 * time.Second,
		},
		JournalPath: "checkout-journal.db",
	}
}

// NewConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_PATH) and environment variables, in that order of precedence.
func NewConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to load .env: %w", err)
	}

	cfg := defaults()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := loadYAML(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return &cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: failed to open %s: %w", path, err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
		return fmt.Errorf("config: invalid config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.App.Name, "APP_NAME")
	setString(&cfg.App.Port, "APP_PORT")
	setString(&cfg.App.LogLevel, "LOG_LEVEL")

	setString(&cfg.Postgres.Host, "DB_HOST")
	setString(&cfg.Postgres.Port, "DB_PORT")
	setString(&cfg.Postgres.User, "DB_USER")
	setString(&cfg.Postgres.Password, "DB_PASSWORD")
	setString(&cfg.Postgres.DBName, "DB_NAME")
	setString(&cfg.Postgres.SSLMode, "DB_SSLMODE")
	setString(&cfg.Postgres.MigrationsPath, "DB_MIGRATIONS_PATH")

	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Redis.Password, "REDIS_PASSWORD")
	setString(&cfg.Redis.Consumer, "REDIS_CONSUMER")

	setString(&cfg.Catalog.BaseURL, "CATALOG_URL")
	setString(&cfg.Cart.BaseURL, "CART_URL")
	setString(&cfg.JournalPath, "JOURNAL_PATH")

	var errs []error
	errs = append(errs,
		setInt32(&cfg.Postgres.MaxConns, "DB_MAX_CONNS"),
		setInt32(&cfg.Postgres.MinConns, "DB_MIN_CONNS"),
		setDuration(&cfg.Postgres.MaxConnLifetime, "DB_MAX_CONN_LIFETIME"),
		setInt(&cfg.Redis.DB, "REDIS_DB"),
		setDuration(&cfg.Redis.Block, "REDIS_BLOCK"),
		setDuration(&cfg.Redis.MinIdle, "REDIS_MIN_IDLE"),
		setDuration(&cfg.Catalog.Timeout, "CATALOG_TIMEOUT"),
		setDuration(&cfg.Cart.Timeout, "CART_TIMEOUT"),
		setFloat(&cfg.Gateway.SuccessRate, "GATEWAY_SUCCESS_RATE"),
		setDuration(&cfg.Gateway.MinDelay, "GATEWAY_MIN_DELAY"),
		setDuration(&cfg.Gateway.MaxDelay, "GATEWAY_MAX_DELAY"),
		setDuration(&cfg.Gateway.Timeout, "GATEWAY_TIMEOUT"),
	)
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}

func setInt32(dst *int32, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return fmt.Errorf("config: %s must be an integer: %w", key, err)
	}
	*dst = int32(n)
	return nil
}

func setFloat(dst *float64, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("config: %s must be a number: %w", key, err)
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("config: %s must be a duration: %w", key, err)
	}
	*dst = d
	return nil
}
