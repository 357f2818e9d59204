package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// LoggingConfig holds logging-related configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Pretty     bool   `yaml:"pretty"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AxiomConfig holds Axiom logging configuration.
type AxiomConfig struct {
	Send          bool          `yaml:"send"`
	APIKey        string        `yaml:"api_key"`
	OrgID         string        `yaml:"org_id"`
	Dataset       string        `yaml:"dataset"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Port            string        `yaml:"port"`
	MaxUploadMB     int           `yaml:"max_upload_mb"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects where source and extracted documents are kept.
type StorageConfig struct {
	Backend         string `yaml:"backend"` // "local"|"s3"
	Dir             string `yaml:"dir"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	EncryptionKey   string `yaml:"encryption_key"`
	AllowRefs       bool   `yaml:"allow_refs"`
	MaxFetchMB      int    `yaml:"max_fetch_mb"`
}

// RedisConfig holds session record persistence. Empty URL keeps records in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// SessionConfig controls session lifetime.
type SessionConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// FeaturesConfig toggles optional behaviour.
type FeaturesConfig struct {
	Booklet bool `yaml:"booklet"`
}

// LimitsConfig bounds concurrent document work.
type LimitsConfig struct {
	Concurrency int `yaml:"concurrency"` // per operation; 0 = GOMAXPROCS
}

// PreviewConfig controls page previews and text snippets.
type PreviewConfig struct {
	DPI          int `yaml:"dpi"`
	Quality      int `yaml:"quality"`
	SnippetPages int `yaml:"snippet_pages"`
	SnippetLen   int `yaml:"snippet_len"`
}

// Config is the top-level configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Axiom    AxiomConfig    `yaml:"axiom"`
	HTTP     HTTPConfig     `yaml:"http"`
	Storage  StorageConfig  `yaml:"storage"`
	Redis    RedisConfig    `yaml:"redis"`
	Session  SessionConfig  `yaml:"session"`
	Features FeaturesConfig `yaml:"features"`
	Limits   LimitsConfig   `yaml:"limits"`
	Preview  PreviewConfig  `yaml:"preview"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		Logging: LoggingConfig{
			Level:      "info",
			Pretty:     parseBool(devDefaultPretty(), false),
			File:       "logs/pagepicker.log",
			MaxSizeMB:  100,
			MaxBackups: 10,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Axiom: AxiomConfig{
			Dataset:       "dev",
			FlushInterval: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Port:            "8080",
			MaxUploadMB:     64,
			ReadTimeout:     60 * time.Second,
			WriteTimeout:    120 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Backend:    "local",
			Dir:        "data",
			Region:     "us-east-1",
			Prefix:     "pagepicker",
			AllowRefs:  true,
			MaxFetchMB: 64,
		},
		Session: SessionConfig{
			TTL:           2 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Preview: PreviewConfig{
			DPI:          72,
			Quality:      80,
			SnippetPages: 50,
			SnippetLen:   80,
		},
	}
}

// Load reads .env (when present), then CONFIG_FILE (when set), then the
// environment. Later sources win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		if cfg, err = FromFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg = applyEnv(cfg)
	return cfg, cfg.Validate()
}

// FromEnv loads configuration from environment with sensible defaults.
func FromEnv() Config { return applyEnv(Defaults()) }

// FromFile reads a YAML configuration file on top of the defaults.
func FromFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg := Defaults()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports settings that cannot work together.
func (c Config) Validate() error {
	switch c.Storage.Backend {
	case "local":
		if c.Storage.Dir == "" {
			return errors.New("STORAGE_DIR is required for the local storage backend")
		}
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("AWS_S3_BUCKET is required for the s3 storage backend")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.Storage.Backend)
	}
	if c.HTTP.MaxUploadMB <= 0 {
		return errors.New("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

func applyEnv(cfg Config) Config {
	l := &cfg.Logging
	l.Level = getEnv("LOG_LEVEL", l.Level)
	l.Pretty = parseBool(os.Getenv("LOG_PRETTY"), l.Pretty)
	l.File = getEnv("LOG_FILE", l.File)
	l.MaxSizeMB = parseInt(os.Getenv("LOG_MAX_SIZE_MB"), l.MaxSizeMB)
	l.MaxBackups = parseInt(os.Getenv("LOG_MAX_BACKUPS"), l.MaxBackups)
	l.MaxAgeDays = parseInt(os.Getenv("LOG_MAX_AGE_DAYS"), l.MaxAgeDays)
	l.Compress = parseBool(os.Getenv("LOG_COMPRESS"), l.Compress)

	a := &cfg.Axiom
	a.Send = parseBool(os.Getenv("SEND_LOGS_TO_AXIOM"), a.Send)
	a.APIKey = getEnv("AXIOM_API_KEY", a.APIKey)
	a.OrgID = getEnv("AXIOM_ORG_ID", a.OrgID)
	a.Dataset = getEnv("AXIOM_DATASET", a.Dataset)
	if !strings.HasSuffix(a.Dataset, "_pagepicker") {
		a.Dataset += "_pagepicker"
	}
	a.FlushInterval = parseDuration(os.Getenv("AXIOM_FLUSH_INTERVAL"), a.FlushInterval)

	h := &cfg.HTTP
	h.Port = getEnv("PORT", h.Port)
	h.MaxUploadMB = parseInt(os.Getenv("MAX_UPLOAD_MB"), h.MaxUploadMB)
	h.ReadTimeout = parseDuration(os.Getenv("HTTP_READ_TIMEOUT"), h.ReadTimeout)
	h.WriteTimeout = parseDuration(os.Getenv("HTTP_WRITE_TIMEOUT"), h.WriteTimeout)
	h.IdleTimeout = parseDuration(os.Getenv("HTTP_IDLE_TIMEOUT"), h.IdleTimeout)
	h.ShutdownTimeout = parseDuration(os.Getenv("SHUTDOWN_TIMEOUT"), h.ShutdownTimeout)

	s := &cfg.Storage
	s.Backend = strings.ToLower(getEnv("STORAGE_BACKEND", s.Backend))
	s.Dir = getEnv("STORAGE_DIR", s.Dir)
	s.Bucket = getEnv("AWS_S3_BUCKET", s.Bucket)
	s.Region = getEnv("AWS_REGION", s.Region)
	s.Endpoint = getEnv("AWS_ENDPOINT_URL", s.Endpoint)
	s.Prefix = getEnv("S3_PREFIX", s.Prefix)
	s.AccessKeyID = getEnv("AWS_ACCESS_KEY_ID", s.AccessKeyID)
	s.SecretAccessKey = getEnv("AWS_SECRET_ACCESS_KEY", s.SecretAccessKey)
	s.EncryptionKey = getEnv("STORAGE_ENCRYPTION_KEY", s.EncryptionKey)
	s.AllowRefs = parseBool(os.Getenv("ALLOW_DOCUMENT_REFS"), s.AllowRefs)
	s.MaxFetchMB = parseInt(os.Getenv("MAX_FETCH_MB"), s.MaxFetchMB)

	cfg.Redis.URL = getEnv("REDIS_URL", cfg.Redis.URL)

	cfg.Session.TTL = parseDuration(os.Getenv("SESSION_TTL"), cfg.Session.TTL)
	cfg.Session.SweepInterval = parseDuration(os.Getenv("SESSION_SWEEP_INTERVAL"), cfg.Session.SweepInterval)

	cfg.Features.Booklet = parseBool(os.Getenv("FEATURE_BOOKLET"), cfg.Features.Booklet)
	cfg.Limits.Concurrency = parseInt(os.Getenv("WORKER_CONCURRENCY"), cfg.Limits.Concurrency)

	p := &cfg.Preview
	p.DPI = parseInt(os.Getenv("PREVIEW_DPI"), p.DPI)
	p.Quality = parseInt(os.Getenv("PREVIEW_QUALITY"), p.Quality)
	p.SnippetPages = parseInt(os.Getenv("SNIPPET_PAGES"), p.SnippetPages)
	p.SnippetLen = parseInt(os.Getenv("SNIPPET_LEN"), p.SnippetLen)
	return cfg
}

// Helpers
func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

func parseBool(s string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(s))
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func devDefaultPretty() string {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))
	if env == "dev" || env == "development" || env == "local" {
		return "true"
	}
	return "false"
}
