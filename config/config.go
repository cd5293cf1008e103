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

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	Keys        KeysConfig        `yaml:"keys"`
	BloomFilter BloomFilterConfig `yaml:"bloom_filter"`
	Snowflake   SnowflakeConfig   `yaml:"snowflake"`
	Analytics   AnalyticsConfig   `yaml:"analytics"`
	QR          QRConfig          `yaml:"qr"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
	// BaseURL is prefixed to keys in returned links. Empty means derive it from the request.
	BaseURL         string        `yaml:"base_url"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	TrustedProxies  []string      `yaml:"trusted_proxies"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig represents the relational store configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver"` // mysql, postgres or sqlite
	DSN          string `yaml:"dsn"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	LogLevel     string `yaml:"log_level"`
}

// RedisConfig represents Redis configuration
type RedisConfig struct {
	// URL takes precedence over the discrete fields when set, e.g. redis://localhost:6379/0
	URL      string        `yaml:"url"`
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"pool_size"`
	URLTTL   time.Duration `yaml:"url_ttl"`
}

// RateLimitConfig bounds URL creation per client IP
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`
}

// KeysConfig controls generated key lengths
type KeysConfig struct {
	ShortLength  int `yaml:"short_length"`
	SecretLength int `yaml:"secret_length"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// BloomFilterConfig represents Bloom filter configuration
type BloomFilterConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Capacity          uint    `yaml:"capacity"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
	// RefreshSpec is a 5-field cron expression for rebuilding the filter from the store
	RefreshSpec string `yaml:"refresh_spec"`
}

// SnowflakeConfig represents Snowflake ID generator configuration
type SnowflakeConfig struct {
	DatacenterID int64 `yaml:"datacenter_id"`
	WorkerID     int64 `yaml:"worker_id"`
}

// AnalyticsConfig controls the background click recorder
type AnalyticsConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	GeoProvider string        `yaml:"geo_provider"`
	GeoTimeout  time.Duration `yaml:"geo_timeout"`
}

// QRConfig controls QR image rendering
type QRConfig struct {
	Size int `yaml:"size"`
}

// Default returns the configuration used for every value the file leaves unset
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Mode: "release",
			CORSOrigins: []string{
				"http://localhost:8080",
				"http://127.0.0.1:8080",
			},
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "mysql",
			Host:         "localhost",
			Port:         3306,
			Username:     "root",
			Database:     "short_it",
			MaxIdleConns: 10,
			MaxOpenConns: 60,
			LogLevel:     "warn",
		},
		Redis: RedisConfig{
			Host:     "localhost",
			Port:     6379,
			PoolSize: 20,
			URLTTL:   3 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Limit:   5,
			Window:  60 * time.Second,
		},
		Keys: KeysConfig{
			ShortLength:  5,
			SecretLength: 8,
			MaxAttempts:  3,
		},
		BloomFilter: BloomFilterConfig{
			Enabled:           true,
			Capacity:          1000000,
			FalsePositiveRate: 0.001,
			RefreshSpec:       "*/10 * * * *",
		},
		Analytics: AnalyticsConfig{
			Workers:     4,
			QueueSize:   1024,
			GeoProvider: "http://ip-api.com/json",
			GeoTimeout:  3 * time.Second,
		},
		QR: QRConfig{
			Size: 256,
		},
	}
}

// DataSource returns the driver-specific data source name
func (d *DatabaseConfig) DataSource() string {
	if d.DSN != "" {
		return d.DSN
	}
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			d.Host, d.Port, d.Username, d.Password, d.Database)
	case "sqlite":
		return d.Database
	default:
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
			d.Username, d.Password, d.Host, d.Port, d.Database)
	}
}

// Addr returns Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// Load loads configuration from file on top of Default
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Override with environment variables if present
func (c *Config) applyEnv() error {
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		c.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("MYSQL_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Redis.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		c.Server.BaseURL = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate rejects configurations the service cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Redis.URLTTL <= 0 {
		errs = append(errs, errors.New("redis.url_ttl must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.limit and rate_limit.window must be positive"))
	}
	if c.Keys.ShortLength <= 0 || c.Keys.SecretLength <= 0 {
		errs = append(errs, errors.New("keys.short_length and keys.secret_length must be positive"))
	}
	if c.Keys.MaxAttempts <= 0 {
		errs = append(errs, errors.New("keys.max_attempts must be positive"))
	}
	if c.BloomFilter.Enabled && (c.BloomFilter.Capacity == 0 ||
		c.BloomFilter.FalsePositiveRate <= 0 || c.BloomFilter.FalsePositiveRate >= 1) {
		errs = append(errs, errors.New("bloom_filter needs a capacity and a false_positive_rate in (0,1)"))
	}
	if c.Analytics.Workers <= 0 || c.Analytics.QueueSize <= 0 {
		errs = append(errs, errors.New("analytics.workers and analytics.queue_size must be positive"))
	}
	if c.QR.Size <= 0 {
		errs = append(errs, errors.New("qr.size must be positive"))
	}
	return errors.Join(errs...)
}

func splitAndTrim(s string) []string {
	var parts []string
	for _, p := range strings.Split(s, ",") {
		if pt := strings.TrimSpace(p); pt != "" {
			parts = append(parts, pt)
		}
	}
	return parts
}
