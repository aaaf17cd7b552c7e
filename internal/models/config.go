package models

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	ServerAddr     string   `yaml:"server_addr"`
	CORSOrigins    []string `yaml:"cors_origins"`
	TrustedProxies []string `yaml:"trusted_proxies"`

	StorageDriver string        `yaml:"storage_driver"` // postgres, memory
	DatabaseURL   string        `yaml:"database_url"`
	DBTimeout     time.Duration `yaml:"db_timeout"`

	Blob    BlobConfig    `yaml:"blob"`
	Upload  UploadConfig  `yaml:"upload"`
	Listing ListingConfig `yaml:"listing"`

	RedisAddr     string          `yaml:"redis_addr"`
	RedisPassword string          `yaml:"redis_password"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`

	KafkaBroker string `yaml:"kafka_broker"`
	KafkaTopic  string `yaml:"kafka_topic"`

	Log LogConfig `yaml:"log"`
}

type BlobConfig struct {
	Endpoint    string `yaml:"endpoint"`
	AccessKey   string `yaml:"access_key"`
	SecretKey   string `yaml:"secret_key"`
	Bucket      string `yaml:"bucket"`
	UseSSL      bool   `yaml:"use_ssl"`
	PublicURL   string `yaml:"public_url"`
	MaxAttempts int    `yaml:"max_attempts"`
}

type UploadConfig struct {
	MaxFiles     int           `yaml:"max_files"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
	Workers      int           `yaml:"workers"`
	ItemTimeout  time.Duration `yaml:"item_timeout"`
	MaxPixels    int64         `yaml:"max_pixels"`
}

type ListingConfig struct {
	PageSize       int `yaml:"page_size"`
	MaxPageSize    int `yaml:"max_page_size"`
	BackendPageCap int `yaml:"backend_page_cap"`
}

type RateLimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

type LogConfig struct {
	Level    string         `yaml:"level"`
	File     string         `yaml:"file"`
	Rotation RotationConfig `yaml:"rotation"`
}

type RotationConfig struct {
	MaxSize    int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAge     int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// LoadConfig reads the yaml file at path, loads .env when present and lets
// the environment override addresses and secrets.
func LoadConfig(path string) (*Config, error) {
	const op = "models.LoadConfig"

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: load .env: %w", op, err)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// env-only deployments are allowed
	default:
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setFromEnv(&c.DatabaseURL, "DATABASE_URL")
	setFromEnv(&c.ServerAddr, "SERVER_ADDR")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("SERVER_ADDR") == "" {
		c.ServerAddr = ":" + port
	}
	setFromEnv(&c.StorageDriver, "STORAGE_DRIVER")
	setFromEnv(&c.Blob.Endpoint, "MINIO_ENDPOINT")
	setFromEnv(&c.Blob.AccessKey, "MINIO_ACCESS_KEY")
	setFromEnv(&c.Blob.SecretKey, "MINIO_SECRET_KEY")
	setFromEnv(&c.Blob.Bucket, "MINIO_BUCKET")
	setFromEnv(&c.Blob.PublicURL, "MINIO_PUBLIC_URL")
	setFromEnv(&c.RedisAddr, "REDIS_ADDR")
	setFromEnv(&c.RedisPassword, "REDIS_PASSWORD")
	setFromEnv(&c.KafkaBroker, "KAFKA_BROKER")
	setFromEnv(&c.Log.Level, "LOG_LEVEL")
}

func setFromEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func (c *Config) applyDefaults() {
	if c.ServerAddr == "" {
		c.ServerAddr = ":5000"
	}
	if len(c.CORSOrigins) == 0 {
		c.CORSOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	if c.StorageDriver == "" {
		c.StorageDriver = "postgres"
	}
	if c.DBTimeout <= 0 {
		c.DBTimeout = 5 * time.Second
	}
	if c.Blob.Bucket == "" {
		c.Blob.Bucket = "images"
	}
	if c.Blob.MaxAttempts <= 0 {
		c.Blob.MaxAttempts = 3
	}
	if c.Upload.MaxFiles <= 0 {
		c.Upload.MaxFiles = 10
	}
	if c.Upload.MaxFileBytes <= 0 {
		c.Upload.MaxFileBytes = 10 << 20
	}
	if c.Upload.Workers <= 0 {
		c.Upload.Workers = 4
	}
	if c.Upload.ItemTimeout <= 0 {
		c.Upload.ItemTimeout = 30 * time.Second
	}
	if c.Upload.MaxPixels <= 0 {
		c.Upload.MaxPixels = 40_000_000
	}
	if c.Listing.PageSize <= 0 {
		c.Listing.PageSize = 20
	}
	if c.Listing.MaxPageSize <= 0 {
		c.Listing.MaxPageSize = 100
	}
	if c.Listing.BackendPageCap <= 0 {
		c.Listing.BackendPageCap = 500
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 60
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.KafkaTopic == "" {
		c.KafkaTopic = "image-events"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks settings that have no sane default.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("database_url is required for the postgres storage driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage_driver %q", c.StorageDriver)
	}
	if c.Blob.Endpoint == "" {
		return errors.New("blob.endpoint is required")
	}
	if c.RateLimit.Window < time.Millisecond {
		return fmt.Errorf("rate_limit.window %s is shorter than 1ms", c.RateLimit.Window)
	}
	if c.Listing.PageSize > c.Listing.MaxPageSize {
		return fmt.Errorf("listing.page_size %d exceeds listing.max_page_size %d", c.Listing.PageSize, c.Listing.MaxPageSize)
	}
	return nil
}
