package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"

	defaultPort     = 3100
	defaultEnv      = "development"
	defaultDSN      = "root:password@tcp(127.0.0.1:3306)/publora?charset=utf8mb4&parseTime=True&loc=Local"
	defaultRedisURL = "redis://localhost:6379/0"
)

// AppConfig holds runtime startup configuration loaded from YAML with
// environment variable overrides.
type AppConfig struct {
	Port           int      `yaml:"port"`
	Env            string   `yaml:"env"` // "development" | "production"
	DSN            string   `yaml:"dsn"` // MySQL DSN
	RedisURL       string   `yaml:"redis_url"`
	JWTSecret      string   `yaml:"jwt_secret"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	Graph GraphConfig `yaml:"graph"`
	S3    S3Config    `yaml:"s3"`
	Queue QueueConfig `yaml:"queue"`
}

// GraphConfig points the platform adapters at the Meta Graph API.
type GraphConfig struct {
	BaseURL   string `yaml:"base_url"` // override for tests/sandboxes
	Version   string `yaml:"version"`
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`
}

// S3Config configures the media resolver (presigned public URLs).
type S3Config struct {
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PresignTTLMin   int    `yaml:"presign_ttl_minutes"`
}

// QueueConfig tunes the per-platform publish queues.
type QueueConfig struct {
	Concurrency       int `yaml:"concurrency"`
	MaxAttempts       int `yaml:"max_attempts"`
	BackoffSeconds    int `yaml:"backoff_seconds"`
	VisibilitySeconds int `yaml:"visibility_seconds"`
}

// IsDev reports whether the app runs in development mode.
func (c *AppConfig) IsDev() bool { return c.Env != "production" }

// Load reads the YAML config file (optional) and applies environment
// overrides and defaults.
func Load(path string) (*AppConfig, error) {
	cfg := &AppConfig{}

	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *AppConfig) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Port = port
		}
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitAndTrim(v)
	}
	if v := os.Getenv("GRAPH_BASE_URL"); v != "" {
		cfg.Graph.BaseURL = v
	}
	if v := os.Getenv("GRAPH_APP_ID"); v != "" {
		cfg.Graph.AppID = v
	}
	if v := os.Getenv("GRAPH_APP_SECRET"); v != "" {
		cfg.Graph.AppSecret = v
	}
	if v := os.Getenv("S3_ENDPOINT"); v != "" {
		cfg.S3.Endpoint = v
	}
	if v := os.Getenv("S3_REGION"); v != "" {
		cfg.S3.Region = v
	}
	if v := os.Getenv("S3_BUCKET"); v != "" {
		cfg.S3.Bucket = v
	}
	if v := os.Getenv("S3_ACCESS_KEY_ID"); v != "" {
		cfg.S3.AccessKeyID = v
	}
	if v := os.Getenv("S3_SECRET_ACCESS_KEY"); v != "" {
		cfg.S3.SecretAccessKey = v
	}
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Env == "" {
		cfg.Env = defaultEnv
	}
	if cfg.DSN == "" {
		cfg.DSN = defaultDSN
	}
	if cfg.RedisURL == "" {
		cfg.RedisURL = defaultRedisURL
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
	if cfg.S3.PresignTTLMin <= 0 {
		cfg.S3.PresignTTLMin = 60
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 4
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = 3
	}
	if cfg.Queue.BackoffSeconds <= 0 {
		cfg.Queue.BackoffSeconds = 5
	}
	if cfg.Queue.VisibilitySeconds <= 0 {
		cfg.Queue.VisibilitySeconds = 120
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if next := strings.TrimSpace(p); next != "" {
			out = append(out, next)
		}
	}
	return out
}
