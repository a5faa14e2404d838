package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendSQLite   = "sqlite"
	BackendJSONFile = "jsonfile"
)

type Config struct {
	Port         int
	DataDir      string
	StoreBackend string
	LogLevel     string
	BehindProxy  bool

	AuthSecret string

	// An empty WebhookSecret or WorkerEndpoint does not stop the service;
	// each hand-off fails with stage trigger instead.
	WebhookSecret  string
	WorkerEndpoint string
	WorkerTimeout  time.Duration

	S3 S3Config

	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
	MaxPartCount   int
	StaleLockAfter time.Duration

	RetentionFailed    time.Duration
	RetentionReady     time.Duration
	RetentionAbandoned time.Duration
	SweepInterval      time.Duration

	DispatchWorkers     int
	DispatchMaxAttempts int
}

type S3Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Load reads .env files (if present) and then the environment.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	authSecret := os.Getenv("AUTH_SECRET")
	if authSecret == "" {
		return nil, fmt.Errorf("AUTH_SECRET is required")
	}

	p := &parser{}
	cfg := &Config{
		Port:           p.int("PORT", 7890),
		DataDir:        getEnv("DATA_DIR", "/data"),
		StoreBackend:   strings.ToLower(getEnv("STORE_BACKEND", BackendSQLite)),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		BehindProxy:    p.bool("BEHIND_PROXY", false),
		AuthSecret:     authSecret,
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		WorkerEndpoint: os.Getenv("WORKER_ENDPOINT"),
		WorkerTimeout:  p.duration("WORKER_TIMEOUT", 30*time.Second),
		S3: S3Config{
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			Region:          getEnv("S3_REGION", "auto"),
			Bucket:          os.Getenv("S3_BUCKET"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		UploadURLTTL:        p.duration("UPLOAD_URL_TTL", time.Hour),
		DownloadURLTTL:      p.duration("DOWNLOAD_URL_TTL", 6*time.Hour),
		MaxPartCount:        p.int("MAX_PART_COUNT", 10000),
		StaleLockAfter:      p.duration("STALE_LOCK_AFTER", 30*time.Minute),
		RetentionFailed:     p.duration("RETENTION_FAILED", 7*24*time.Hour),
		RetentionReady:      p.duration("RETENTION_READY", 30*24*time.Hour),
		RetentionAbandoned:  p.duration("RETENTION_ABANDONED", 24*time.Hour),
		SweepInterval:       p.duration("SWEEP_INTERVAL", time.Hour),
		DispatchWorkers:     p.int("DISPATCH_WORKERS", 2),
		DispatchMaxAttempts: p.int("DISPATCH_MAX_ATTEMPTS", 5),
	}
	if p.err != nil {
		return nil, p.err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendSQLite, BackendJSONFile:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want %s or %s", c.StoreBackend, BackendSQLite, BackendJSONFile)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY_ID and S3_SECRET_ACCESS_KEY must be set together")
	}
	if c.MaxPartCount < 1 || c.MaxPartCount > 10000 {
		return fmt.Errorf("invalid MAX_PART_COUNT: %d (1-10000)", c.MaxPartCount)
	}
	if c.DispatchWorkers < 1 {
		return fmt.Errorf("invalid DISPATCH_WORKERS: %d", c.DispatchWorkers)
	}
	if c.DispatchMaxAttempts < 1 {
		return fmt.Errorf("invalid DISPATCH_MAX_ATTEMPTS: %d", c.DispatchMaxAttempts)
	}

	for name, d := range map[string]time.Duration{
		"WORKER_TIMEOUT":      c.WorkerTimeout,
		"UPLOAD_URL_TTL":      c.UploadURLTTL,
		"DOWNLOAD_URL_TTL":    c.DownloadURLTTL,
		"STALE_LOCK_AFTER":    c.StaleLockAfter,
		"RETENTION_FAILED":    c.RetentionFailed,
		"RETENTION_READY":     c.RetentionReady,
		"RETENTION_ABANDONED": c.RetentionAbandoned,
		"SWEEP_INTERVAL":      c.SweepInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s: must be positive", name)
		}
	}
	return nil
}

// loadEnvFiles loads .env, then .env.<ENV>, then .env.local. Later files
// override earlier ones; variables already in the environment win over .env.
func loadEnvFiles() error {
	if fileExists(".env") {
		if err := godotenv.Load(".env"); err != nil {
			return fmt.Errorf("failed to load .env: %w", err)
		}
	}

	if env := os.Getenv("ENV"); env != "" {
		envFile := ".env." + env
		if fileExists(envFile) {
			if err := godotenv.Overload(envFile); err != nil {
				return fmt.Errorf("failed to load %s: %w", envFile, err)
			}
		}
	}

	if fileExists(".env.local") {
		if err := godotenv.Overload(".env.local"); err != nil {
			return fmt.Errorf("failed to load .env.local: %w", err)
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parser keeps the first conversion error so Load can read every variable
// in one pass.
type parser struct {
	err error
}

func (p *parser) int(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return def
	}
	return v
}

func (p *parser) bool(key string, def bool) bool {
	raw := os.Getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return def
	}
	return v
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" || p.err != nil {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		p.err = fmt.Errorf("invalid %s: %w", key, err)
		return def
	}
	return v
}
