// Package config loads service settings from an optional YAML file and the
// environment. Environment variables override values from the file.
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

// FileEnv names the environment variable holding the YAML config path.
const FileEnv = "BILLINGSYNC_CONFIG"

// Ledger backends.
const (
	LedgerMemory    = "memory"
	LedgerRedis     = "redis"
	LedgerPostgres  = "postgres"
	LedgerFirestore = "firestore"
	LedgerTiered    = "tiered"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Billing  BillingConfig  `yaml:"billing"`
	Commerce CommerceConfig `yaml:"commerce"`
	Sync     SyncConfig     `yaml:"sync"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// WebhookToken guards the push endpoint. Empty disables the check.
	WebhookToken string `yaml:"webhookToken"`
	// AdminToken guards /admin. Empty disables the admin API.
	AdminToken string `yaml:"adminToken"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BillingConfig holds the billing platform credentials
type BillingConfig struct {
	BaseURL      string `yaml:"baseURL"`
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
}

// CommerceConfig holds the commerce platform credentials
type CommerceConfig struct {
	ProjectKey   string   `yaml:"projectKey"`
	APIURL       string   `yaml:"apiURL"`
	AuthURL      string   `yaml:"authURL"`
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
}

// SyncConfig holds reconciliation settings
type SyncConfig struct {
	Locale             string `yaml:"locale"`
	Currency           string `yaml:"currency"`
	VariantConcurrency int    `yaml:"variantConcurrency"`

	// ClaimLease is how long one delivery owns a message before a
	// redelivery may take it over. Keep it above the HTTP write timeout.
	ClaimLease time.Duration `yaml:"claimLease"`
}

// LedgerConfig selects and configures the event ledger
type LedgerConfig struct {
	Backend string `yaml:"backend"`

	// ColdBackend is the durable tier behind redis when Backend is "tiered"
	ColdBackend     string `yaml:"coldBackend"`
	AsyncColdWrites bool   `yaml:"asyncColdWrites"`

	RecordTTL time.Duration `yaml:"recordTTL"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`

	PostgresDSN string `yaml:"postgresDSN"`

	FirestoreProjectID  string `yaml:"firestoreProjectID"`
	FirestoreCollection string `yaml:"firestoreCollection"`
}

// MetricsConfig holds metrics settings
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Sync: SyncConfig{
			Locale:             "en-US",
			Currency:           "USD",
			VariantConcurrency: 4,
			ClaimLease:         2 * time.Minute,
		},
		Ledger: LedgerConfig{
			Backend:     LedgerMemory,
			ColdBackend: LedgerPostgres,
			RecordTTL:   7 * 24 * time.Hour,
			RedisAddr:   "localhost:6379",
		},
		Metrics: MetricsConfig{Enabled: true, Namespace: "billingsync"},
	}
}

// Load builds the configuration from defaults, the file named by
// BILLINGSYNC_CONFIG (if set) and the environment, then validates it.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv(FileEnv, ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides every field whose environment variable is set
func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("HTTP_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = getEnvDuration("HTTP_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("HTTP_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.WebhookToken = getEnv("WEBHOOK_TOKEN", c.Server.WebhookToken)
	c.Server.AdminToken = getEnv("ADMIN_TOKEN", c.Server.AdminToken)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.Billing.BaseURL = getEnv("ZUORA_BASEURL", c.Billing.BaseURL)
	c.Billing.ClientID = getEnv("ZUORA_CLIENT_ID", c.Billing.ClientID)
	c.Billing.ClientSecret = getEnv("ZUORA_CLIENT_SECRET", c.Billing.ClientSecret)

	c.Commerce.ProjectKey = getEnv("CTP_PROJECT_KEY", c.Commerce.ProjectKey)
	c.Commerce.APIURL = getEnv("CTP_API_URL", c.Commerce.APIURL)
	c.Commerce.AuthURL = getEnv("CTP_AUTH_URL", c.Commerce.AuthURL)
	c.Commerce.ClientID = getEnv("CTP_CLIENT_ID", c.Commerce.ClientID)
	c.Commerce.ClientSecret = getEnv("CTP_CLIENT_SECRET", c.Commerce.ClientSecret)
	c.Commerce.Scopes = getEnvList("CTP_SCOPES", c.Commerce.Scopes)

	c.Sync.Locale = getEnv("LOCALE", c.Sync.Locale)
	c.Sync.Currency = getEnv("CURRENCY", c.Sync.Currency)
	c.Sync.VariantConcurrency = getEnvInt("VARIANT_CONCURRENCY", c.Sync.VariantConcurrency)
	c.Sync.ClaimLease = getEnvDuration("CLAIM_LEASE", c.Sync.ClaimLease)

	c.Ledger.Backend = strings.ToLower(getEnv("LEDGER_BACKEND", c.Ledger.Backend))
	c.Ledger.ColdBackend = strings.ToLower(getEnv("LEDGER_COLD_BACKEND", c.Ledger.ColdBackend))
	c.Ledger.AsyncColdWrites = getEnvBool("LEDGER_ASYNC_COLD_WRITES", c.Ledger.AsyncColdWrites)
	c.Ledger.RecordTTL = getEnvDuration("LEDGER_RECORD_TTL", c.Ledger.RecordTTL)
	c.Ledger.RedisAddr = getEnv("REDIS_ADDR", c.Ledger.RedisAddr)
	c.Ledger.RedisPassword = getEnv("REDIS_PASSWORD", c.Ledger.RedisPassword)
	c.Ledger.RedisDB = getEnvInt("REDIS_DB", c.Ledger.RedisDB)
	c.Ledger.PostgresDSN = getEnv("POSTGRES_DSN", c.Ledger.PostgresDSN)
	c.Ledger.FirestoreProjectID = getEnv("FIRESTORE_PROJECT_ID", c.Ledger.FirestoreProjectID)
	c.Ledger.FirestoreCollection = getEnv("FIRESTORE_COLLECTION", c.Ledger.FirestoreCollection)

	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)
	c.Metrics.Namespace = getEnv("METRICS_NAMESPACE", c.Metrics.Namespace)
}

// Validate checks if the configuration is valid. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("HTTP address is required"))
	}
	if c.Billing.BaseURL == "" || c.Billing.ClientID == "" || c.Billing.ClientSecret == "" {
		errs = append(errs, errors.New("billing base URL, client id and client secret are required"))
	}
	if c.Commerce.ProjectKey == "" {
		errs = append(errs, errors.New("commerce project key is required"))
	}
	if c.Commerce.APIURL == "" || c.Commerce.AuthURL == "" || c.Commerce.ClientID == "" || c.Commerce.ClientSecret == "" {
		errs = append(errs, errors.New("commerce API URL, auth URL, client id and client secret are required"))
	}
	if c.Sync.VariantConcurrency < 1 {
		errs = append(errs, fmt.Errorf("variant concurrency must be positive, got %d", c.Sync.VariantConcurrency))
	}
	if c.Sync.ClaimLease <= 0 {
		errs = append(errs, fmt.Errorf("claim lease must be positive, got %s", c.Sync.ClaimLease))
	}

	errs = append(errs, c.validateLedger(c.Ledger.Backend)...)
	if c.Ledger.Backend == LedgerTiered {
		switch c.Ledger.ColdBackend {
		case LedgerPostgres, LedgerFirestore:
			errs = append(errs, c.validateLedger(c.Ledger.ColdBackend)...)
		default:
			errs = append(errs, fmt.Errorf("invalid cold ledger backend: %q (must be postgres or firestore)", c.Ledger.ColdBackend))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validateLedger(backend string) []error {
	switch backend {
	case LedgerMemory:
	case LedgerRedis, LedgerTiered:
		if c.Ledger.RedisAddr == "" {
			return []error{fmt.Errorf("redis address is required for %s ledger", backend)}
		}
	case LedgerPostgres:
		if c.Ledger.PostgresDSN == "" {
			return []error{errors.New("postgres DSN is required for postgres ledger")}
		}
	case LedgerFirestore:
		if c.Ledger.FirestoreProjectID == "" {
			return []error{errors.New("firestore project id is required for firestore ledger")}
		}
	default:
		return []error{fmt.Errorf("invalid ledger backend: %q (must be memory, redis, postgres, firestore or tiered)", backend)}
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma or space separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return defaultValue
	}
	return strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' })
}
