package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/backoffice/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Mail          MailConfig          `yaml:"mail"`
	Invitations   InvitationsConfig   `yaml:"invitations"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig selects and configures the store backend
type DatabaseConfig struct {
	// Driver is "postgres" or "memory"
	Driver      string        `yaml:"driver"`
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	TxTimeout   time.Duration `yaml:"tx_timeout"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// RedisConfig configures the shared re-authentication tracker. Empty URL keeps
// the tracker in process.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MailConfig configures invitation delivery
type MailConfig struct {
	// Transport is "smtp" or "log"
	Transport          string `yaml:"transport"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	TLSMode            string `yaml:"tls_mode"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	AcceptURL          string `yaml:"accept_url"`
}

// InvitationsConfig holds invitation lifecycle settings
type InvitationsConfig struct {
	TTL                time.Duration `yaml:"ttl"`
	ResendCooldown     time.Duration `yaml:"resend_cooldown"`
	CheckSeatsOnCreate bool          `yaml:"check_seats_on_create"`
	SweepSchedule      string        `yaml:"sweep_schedule"`
	SweepBatchSize     int           `yaml:"sweep_batch_size"`
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	ReauthWindow  time.Duration `yaml:"reauth_window"`
	SensitiveKeys []string      `yaml:"sensitive_keys"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"` // Use insecure gRPC connection
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			Driver:    "postgres",
			MaxConns:  20,
			MinConns:  2,
			Timeout:   5 * time.Second,
			TxTimeout: 5 * time.Second,
		},
		Mail: MailConfig{
			Transport: "log",
			Port:      587,
			From:      "no-reply@localhost",
			TLSMode:   "starttls",
			AcceptURL: "http://localhost:8080/invitations/accept",
		},
		Invitations: InvitationsConfig{
			TTL:            7 * 24 * time.Hour,
			ResendCooldown: 5 * time.Minute,
			SweepSchedule:  "@every 15m",
			SweepBatchSize: 500,
		},
		Audit: AuditConfig{
			ReauthWindow: 10 * time.Minute,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "backoffice",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// LoadConfig builds the configuration from defaults, the YAML file named by
// BACKOFFICE_CONFIG_FILE if set, and BACKOFFICE_* environment variables, in
// that order of precedence
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := getEnv("BACKOFFICE_CONFIG_FILE", ""); path != "" {
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

// loadFile overlays the YAML file at path. Keys absent from the file keep
// their current value.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("BACKOFFICE_HOST", s.Host)
	s.Port = getEnv("BACKOFFICE_PORT", s.Port)
	s.ReadTimeout = getEnvDuration("BACKOFFICE_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("BACKOFFICE_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("BACKOFFICE_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("BACKOFFICE_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.HealthPort = getEnv("BACKOFFICE_HEALTH_PORT", s.HealthPort)

	d := &c.Database
	d.Driver = getEnv("BACKOFFICE_DB_DRIVER", d.Driver)
	d.URL = getEnv("BACKOFFICE_DATABASE_URL", d.URL)
	d.MaxConns = getEnvInt("BACKOFFICE_DB_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvInt("BACKOFFICE_DB_MIN_CONNS", d.MinConns)
	d.Timeout = getEnvDuration("BACKOFFICE_DB_TIMEOUT", d.Timeout)
	d.TxTimeout = getEnvDuration("BACKOFFICE_DB_TX_TIMEOUT", d.TxTimeout)
	d.AutoMigrate = getEnvBool("BACKOFFICE_DB_AUTO_MIGRATE", d.AutoMigrate)

	c.Redis.URL = getEnv("BACKOFFICE_REDIS_URL", c.Redis.URL)

	m := &c.Mail
	m.Transport = getEnv("BACKOFFICE_MAIL_TRANSPORT", m.Transport)
	m.Host = getEnv("BACKOFFICE_SMTP_HOST", m.Host)
	m.Port = getEnvInt("BACKOFFICE_SMTP_PORT", m.Port)
	m.Username = getEnv("BACKOFFICE_SMTP_USERNAME", m.Username)
	m.Password = getEnv("BACKOFFICE_SMTP_PASSWORD", m.Password)
	m.From = getEnv("BACKOFFICE_MAIL_FROM", m.From)
	m.TLSMode = getEnv("BACKOFFICE_SMTP_TLS_MODE", m.TLSMode)
	m.InsecureSkipVerify = getEnvBool("BACKOFFICE_SMTP_INSECURE_SKIP_VERIFY", m.InsecureSkipVerify)
	m.AcceptURL = getEnv("BACKOFFICE_INVITE_ACCEPT_URL", m.AcceptURL)

	i := &c.Invitations
	i.TTL = getEnvDuration("BACKOFFICE_INVITE_TTL", i.TTL)
	i.ResendCooldown = getEnvDuration("BACKOFFICE_INVITE_RESEND_COOLDOWN", i.ResendCooldown)
	i.CheckSeatsOnCreate = getEnvBool("BACKOFFICE_INVITE_CHECK_SEATS_ON_CREATE", i.CheckSeatsOnCreate)
	i.SweepSchedule = getEnv("BACKOFFICE_INVITE_SWEEP_SCHEDULE", i.SweepSchedule)
	i.SweepBatchSize = getEnvInt("BACKOFFICE_INVITE_SWEEP_BATCH_SIZE", i.SweepBatchSize)

	c.Audit.ReauthWindow = getEnvDuration("BACKOFFICE_REAUTH_WINDOW", c.Audit.ReauthWindow)
	if keys := getEnv("BACKOFFICE_AUDIT_SENSITIVE_KEYS", ""); keys != "" {
		c.Audit.SensitiveKeys = splitList(keys)
	}

	o := &c.Observability
	o.LogLevel = getEnv("BACKOFFICE_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("BACKOFFICE_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("BACKOFFICE_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("BACKOFFICE_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("BACKOFFICE_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("BACKOFFICE_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("BACKOFFICE_OTEL_INSECURE", o.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or memory)", c.Database.Driver)
	}

	switch c.Mail.Transport {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.Port <= 0 {
			return fmt.Errorf("SMTP host and port are required for the smtp transport")
		}
		if c.Mail.From == "" {
			return fmt.Errorf("sender address is required for the smtp transport")
		}
		switch c.Mail.TLSMode {
		case "starttls", "ssl", "none":
		default:
			return fmt.Errorf("invalid SMTP TLS mode: %s (must be starttls, ssl or none)", c.Mail.TLSMode)
		}
	default:
		return fmt.Errorf("invalid mail transport: %s (must be smtp or log)", c.Mail.Transport)
	}
	if c.Mail.AcceptURL == "" {
		return fmt.Errorf("invitation accept URL is required")
	}

	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Invitations.ResendCooldown < 0 {
		return fmt.Errorf("resend cooldown cannot be negative")
	}
	if c.Invitations.ResendCooldown >= c.Invitations.TTL {
		return fmt.Errorf("resend cooldown must be shorter than the invitation TTL")
	}
	if c.Invitations.SweepBatchSize <= 0 {
		return fmt.Errorf("sweep batch size must be positive")
	}
	if c.Audit.ReauthWindow <= 0 {
		return fmt.Errorf("re-authentication window must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
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
