package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DispatchInline = "inline"
	DispatchQueued = "queued"

	StorageMemory = "memory"
	StorageFile   = "file"
	StorageCloud  = "cloud-storage"
	StoragePG     = "postgres"

	LedgerMemory = "memory"
	LedgerSQLite = "sqlite"
	LedgerPG     = "postgres"

	FetcherHTTP     = "http"
	FetcherChromedp = "chromedp"
)

type Config struct {
	Env      string         `yaml:"env"`
	Port     string         `yaml:"port"`
	AppURL   string         `yaml:"app_url"`
	Storage  StorageConfig  `yaml:"storage"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	AI       AIConfig       `yaml:"ai"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Payments PaymentsConfig `yaml:"payments"`
	HTTP     HTTPConfig     `yaml:"http"`
}

type StorageConfig struct {
	JobBackend     string        `yaml:"job_backend"`
	LedgerBackend  string        `yaml:"ledger_backend"`
	DataDir        string        `yaml:"data_dir"`
	SQLitePath     string        `yaml:"sqlite_path"`
	DatabaseURL    string        `yaml:"database_url"`
	MaxDBConns     int           `yaml:"max_db_conns"`
	Bucket         string        `yaml:"bucket"`
	BucketRegion   string        `yaml:"bucket_region"`
	BucketEndpoint string        `yaml:"bucket_endpoint"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
}

type DispatchConfig struct {
	Mode                string        `yaml:"mode"`
	InlineTimeout       time.Duration `yaml:"inline_timeout"`
	ProjectID           string        `yaml:"project_id"`
	Location            string        `yaml:"location"`
	Queue               string        `yaml:"queue"`
	CallbackToken       string        `yaml:"callback_token"`
	ServiceAccountEmail string        `yaml:"service_account_email"`
	MaxAttempts         int           `yaml:"max_attempts"`
	MinBackoff          time.Duration `yaml:"min_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
	MaxDispatchesPerSec float64       `yaml:"max_dispatches_per_second"`
	MaxConcurrent       int           `yaml:"max_concurrent"`
}

type AIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"-"`
	Model   string `yaml:"model"`
}

type PipelineConfig struct {
	Fetcher         string        `yaml:"fetcher"`
	ChromePath      string        `yaml:"chrome_path"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	KeywordsTimeout time.Duration `yaml:"keywords_timeout"`
	RefineTimeout   time.Duration `yaml:"refine_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"`
	StaleAfter      time.Duration `yaml:"stale_after"`
}

type PaymentsConfig struct {
	WebhookSecret string `yaml:"-"`
	CheckoutURL   string `yaml:"checkout_url"`
	BundleURL     string `yaml:"bundle_checkout_url"`
	BundleCredits int    `yaml:"bundle_credits"`
}

type HTTPConfig struct {
	AllowDirectRefine bool          `yaml:"allow_direct_refine"`
	AllowedOrigins    string        `yaml:"allowed_origins"`
	RateLimitMax      int           `yaml:"rate_limit_max"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	AdminAPIKey       string        `yaml:"-"`
	SecureCookies     bool          `yaml:"secure_cookies"`
}

func defaults() Config {
	return Config{
		Env:    "development",
		Port:   "3000",
		AppURL: "http://localhost:3000",
		Storage: StorageConfig{
			JobBackend:     StorageMemory,
			LedgerBackend:  LedgerMemory,
			DataDir:        "./data",
			SQLitePath:     "./data/ledger.db",
			MaxDBConns:     10,
			IdempotencyTTL: 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			Mode:                DispatchInline,
			InlineTimeout:       10 * time.Minute,
			Location:            "us-central1",
			Queue:               "refinement-queue",
			MaxAttempts:         3,
			MinBackoff:          time.Minute,
			MaxBackoff:          5 * time.Minute,
			MaxDispatchesPerSec: 10,
			MaxConcurrent:       5,
		},
		AI: AIConfig{BaseURL: "https://api.openai.com/v1", Model: "o4-mini"},
		Pipeline: PipelineConfig{
			Fetcher:         FetcherHTTP,
			FetchTimeout:    30 * time.Second,
			KeywordsTimeout: 60 * time.Second,
			RefineTimeout:   3 * time.Minute,
			RetryAttempts:   3,
			RetryBaseDelay:  time.Second,
			RetryMaxDelay:   10 * time.Second,
			StaleAfter:      5 * time.Minute,
		},
		Payments: PaymentsConfig{BundleCredits: 10},
		HTTP: HTTPConfig{
			AllowDirectRefine: true,
			AllowedOrigins:    "*",
			RateLimitMax:      10,
			RateLimitWindow:   5 * time.Minute,
		},
	}
}

// Load applies defaults, then the YAML file named by CONFIG_FILE, then
// environment variables.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.AppURL = strings.TrimRight(getEnv("APP_URL", cfg.AppURL), "/")

	s := &cfg.Storage
	s.JobBackend = getEnv("DATA_STORAGE_TYPE", s.JobBackend)
	s.LedgerBackend = getEnv("LEDGER_BACKEND", s.LedgerBackend)
	s.DataDir = getEnv("DATA_DIR", s.DataDir)
	s.SQLitePath = getEnv("SQLITE_PATH", s.SQLitePath)
	s.DatabaseURL = getEnv("JOBS_DATABASE_URL", s.DatabaseURL)
	s.MaxDBConns = getEnvAsInt("DB_MAX_CONNS", s.MaxDBConns)
	s.Bucket = getEnv("STORAGE_BUCKET", s.Bucket)
	s.BucketRegion = getEnv("STORAGE_REGION", s.BucketRegion)
	s.BucketEndpoint = getEnv("STORAGE_ENDPOINT", s.BucketEndpoint)
	s.IdempotencyTTL = getEnvAsDuration("IDEMPOTENCY_TTL", s.IdempotencyTTL)

	d := &cfg.Dispatch
	d.Mode = getEnv("DISPATCH_MODE", d.Mode)
	d.InlineTimeout = getEnvAsDuration("INLINE_RUN_TIMEOUT", d.InlineTimeout)
	d.ProjectID = getEnv("GOOGLE_CLOUD_PROJECT", d.ProjectID)
	d.Location = getEnv("TASKS_LOCATION", d.Location)
	d.Queue = getEnv("TASKS_QUEUE", d.Queue)
	d.CallbackToken = getEnv("TASKS_CALLBACK_TOKEN", d.CallbackToken)
	d.ServiceAccountEmail = getEnv("TASKS_SERVICE_ACCOUNT", d.ServiceAccountEmail)
	d.MaxAttempts = getEnvAsInt("TASKS_MAX_ATTEMPTS", d.MaxAttempts)
	d.MinBackoff = getEnvAsDuration("TASKS_MIN_BACKOFF", d.MinBackoff)
	d.MaxBackoff = getEnvAsDuration("TASKS_MAX_BACKOFF", d.MaxBackoff)

	cfg.AI.BaseURL = getEnv("OPENAI_BASE_URL", cfg.AI.BaseURL)
	cfg.AI.APIKey = getEnv("OPENAI_API_KEY", cfg.AI.APIKey)
	cfg.AI.Model = getEnv("OPENAI_MODEL", cfg.AI.Model)

	p := &cfg.Pipeline
	p.Fetcher = getEnv("PAGE_FETCHER", p.Fetcher)
	p.ChromePath = getEnv("CHROME_PATH", p.ChromePath)
	p.FetchTimeout = getEnvAsDuration("FETCH_TIMEOUT", p.FetchTimeout)
	p.KeywordsTimeout = getEnvAsDuration("KEYWORDS_TIMEOUT", p.KeywordsTimeout)
	p.RefineTimeout = getEnvAsDuration("REFINE_TIMEOUT", p.RefineTimeout)
	p.RetryAttempts = getEnvAsInt("RETRY_ATTEMPTS", p.RetryAttempts)
	p.RetryBaseDelay = getEnvAsDuration("RETRY_BASE_DELAY", p.RetryBaseDelay)
	p.RetryMaxDelay = getEnvAsDuration("RETRY_MAX_DELAY", p.RetryMaxDelay)
	p.StaleAfter = getEnvAsDuration("STALE_AFTER", p.StaleAfter)

	pay := &cfg.Payments
	pay.WebhookSecret = getEnv("LEMON_SQUEEZY_WEBHOOK_SECRET", pay.WebhookSecret)
	pay.CheckoutURL = getEnv("CHECKOUT_URL", pay.CheckoutURL)
	pay.BundleURL = getEnv("BUNDLE_CHECKOUT_URL", pay.BundleURL)
	pay.BundleCredits = getEnvAsInt("BUNDLE_CREDITS", pay.BundleCredits)

	h := &cfg.HTTP
	h.AllowDirectRefine = getEnvAsBool("ALLOW_DIRECT_REFINE", h.AllowDirectRefine && !cfg.IsProduction())
	h.AllowedOrigins = getEnv("ALLOWED_ORIGINS", h.AllowedOrigins)
	h.RateLimitMax = getEnvAsInt("RATE_LIMIT_MAX", h.RateLimitMax)
	h.RateLimitWindow = getEnvAsDuration("RATE_LIMIT_WINDOW", h.RateLimitWindow)
	h.AdminAPIKey = getEnv("ADMIN_API_KEY", h.AdminAPIKey)
	h.SecureCookies = getEnvAsBool("SECURE_COOKIES", h.SecureCookies || cfg.IsProduction())

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) IsProduction() bool { return c.Env == "production" }

// CallbackURL is where queued tasks post back to.
func (c *Config) CallbackURL() string { return c.AppURL + "/api/process-refinement-task" }

func (c *Config) Validate() error {
	switch c.Storage.JobBackend {
	case StorageMemory, StorageFile:
	case StorageCloud:
		if c.Storage.Bucket == "" {
			return fmt.Errorf("STORAGE_BUCKET is required for %s storage", StorageCloud)
		}
	case StoragePG:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("JOBS_DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown DATA_STORAGE_TYPE %q", c.Storage.JobBackend)
	}
	switch c.Storage.LedgerBackend {
	case LedgerMemory, LedgerSQLite:
	case LedgerPG:
		if c.Storage.DatabaseURL == "" {
			return fmt.Errorf("JOBS_DATABASE_URL is required for the postgres ledger")
		}
	default:
		return fmt.Errorf("unknown LEDGER_BACKEND %q", c.Storage.LedgerBackend)
	}
	switch c.Dispatch.Mode {
	case DispatchInline:
	case DispatchQueued:
		if c.Dispatch.ProjectID == "" {
			return fmt.Errorf("GOOGLE_CLOUD_PROJECT is required for queued dispatch")
		}
	default:
		return fmt.Errorf("unknown DISPATCH_MODE %q", c.Dispatch.Mode)
	}
	switch c.Pipeline.Fetcher {
	case FetcherHTTP, FetcherChromedp:
	default:
		return fmt.Errorf("unknown PAGE_FETCHER %q", c.Pipeline.Fetcher)
	}
	if c.Pipeline.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
