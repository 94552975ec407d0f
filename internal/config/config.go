// Package config provides configuration management for Flockbridge.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SYNC_CALLBACK_BASE_URL)
// 3. Default values
//
// Import Path: flockbridge.io/flockbridge/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	River    RiverConfig    `mapstructure:"river"`
	Security SecurityConfig `mapstructure:"security"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	Sync     SyncConfig     `mapstructure:"sync"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORS for the operator API. Webhook ingress is not browser-facing.
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`

	// MaxWebhookBodyBytes caps inbound webhook payloads.
	MaxWebhookBodyBytes int64 `mapstructure:"max_webhook_body_bytes"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pgx pool is shared by the repository layer and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console

	// Optional rotating file output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
	JobTimeout                  time.Duration `mapstructure:"job_timeout"`
}

// SecurityConfig contains security-related settings.
// The JWT signing key is auto-generated on first boot if missing.
type SecurityConfig struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	JWTExpiresIn  time.Duration `mapstructure:"jwt_expires_in"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize   int `mapstructure:"general_pool_size"`
	TransformPoolSize int `mapstructure:"transform_pool_size"`
}

// SyncConfig contains adapter synchronization settings.
type SyncConfig struct {
	// Adapter is the source tag written into links, custom fields and edge metadata.
	Adapter string `mapstructure:"adapter"`
	// APIBaseURL is the provider API root, e.g. https://api.planningcenteronline.com.
	APIBaseURL string `mapstructure:"api_base_url"`
	// CallbackBaseURL is this deployment's public URL used for webhook subscriptions.
	CallbackBaseURL string `mapstructure:"callback_base_url"`
	// Schedule is a standard cron expression for periodic pull sync. Empty disables it.
	Schedule string `mapstructure:"schedule"`
	// StepDelay is inserted between dependent workflow activities.
	StepDelay time.Duration `mapstructure:"step_delay"`
	// RequestTimeout bounds a single provider HTTP call.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	// MaxActivityAttempts bounds in-workflow retries of one activity.
	MaxActivityAttempts int `mapstructure:"max_activity_attempts"`

	Orgs []OrgConfig `mapstructure:"orgs"`

	// Org is a single-org shortcut settable purely from env (SYNC_ORG_ID, ...).
	Org OrgConfig `mapstructure:"org"`
}

// OrgConfig holds one organization's provider credentials.
type OrgConfig struct {
	ID             string   `mapstructure:"id"`
	AppID          string   `mapstructure:"app_id"`
	Secret         string   `mapstructure:"secret"`
	WebhookSecrets []string `mapstructure:"webhook_secrets"`
}

// AllOrgs returns the configured orgs, including the single-org shortcut.
func (c SyncConfig) AllOrgs() []OrgConfig {
	orgs := make([]OrgConfig, 0, len(c.Orgs)+1)
	orgs = append(orgs, c.Orgs...)
	if c.Org.ID != "" {
		dup := false
		for _, o := range c.Orgs {
			if o.ID == c.Org.ID {
				dup = true
				break
			}
		}
		if !dup {
			orgs = append(orgs, c.Org)
		}
	}
	return orgs
}

// FindOrg looks up an org by id.
func (c SyncConfig) FindOrg(id string) (OrgConfig, bool) {
	for _, o := range c.AllOrgs() {
		if o.ID == id {
			return o, true
		}
	}
	return OrgConfig{}, false
}

var adapterNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// No env prefix: nested keys map with "." → "_" (sync.callback_base_url → SYNC_CALLBACK_BASE_URL).
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file path. An empty path searches
// the default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/flockbridge")
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Comma separated env lists arrive as a single element.
	cfg.Sync.Org.WebhookSecrets = splitList(cfg.Sync.Org.WebhookSecrets)
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	if !adapterNamePattern.MatchString(c.Sync.Adapter) {
		return fmt.Errorf("sync.adapter %q must match %s", c.Sync.Adapter, adapterNamePattern)
	}
	if c.Sync.MaxActivityAttempts < 1 {
		return fmt.Errorf("sync.max_activity_attempts must be positive")
	}
	seen := make(map[string]struct{})
	for i, o := range c.Sync.AllOrgs() {
		if o.ID == "" {
			return fmt.Errorf("sync.orgs[%d].id must not be empty", i)
		}
		if _, ok := seen[o.ID]; ok {
			return fmt.Errorf("sync.orgs: duplicate org id %q", o.ID)
		}
		seen[o.ID] = struct{}{}
	}
	return nil
}

// ensureSecrets auto-generates a missing JWT signing key.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.max_webhook_body_bytes", 5<<20)

	// Database
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "flockbridge")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "flockbridge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", true)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.completed_job_retention_period", "24h")
	v.SetDefault("river.job_timeout", "30m")

	// Security
	v.SetDefault("security.jwt_signing_key", "")
	v.SetDefault("security.jwt_issuer", "flockbridge")
	v.SetDefault("security.jwt_expires_in", "1h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 50)
	v.SetDefault("worker.transform_pool_size", 200)

	// Sync
	v.SetDefault("sync.adapter", "pco")
	v.SetDefault("sync.api_base_url", "https://api.planningcenteronline.com")
	v.SetDefault("sync.callback_base_url", "")
	v.SetDefault("sync.schedule", "0 */6 * * *")
	v.SetDefault("sync.step_delay", "2s")
	v.SetDefault("sync.request_timeout", "30s")
	v.SetDefault("sync.max_activity_attempts", 3)
	v.SetDefault("sync.org.id", "")
	v.SetDefault("sync.org.app_id", "")
	v.SetDefault("sync.org.secret", "")
	v.SetDefault("sync.org.webhook_secrets", []string{})
}
