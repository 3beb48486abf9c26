// Package config provides application configuration from an optional YAML file
// and environment variables.
//
// # Overview
//
// LoadConfig starts from built-in defaults, overlays the YAML file named by
// BACKOFFICE_CONFIG_FILE when it is set, then applies BACKOFFICE_* environment
// variables. The result is validated before it is returned.
//
// # Configuration Structure
//
// Server settings:
//
//	BACKOFFICE_HOST="0.0.0.0"
//	BACKOFFICE_PORT="8080"
//	BACKOFFICE_HEALTH_PORT="9090"
//	BACKOFFICE_READ_TIMEOUT="15s"
//	BACKOFFICE_SHUTDOWN_TIMEOUT="30s"
//
// Database settings:
//
//	BACKOFFICE_DB_DRIVER="postgres"  # postgres, memory
//	BACKOFFICE_DATABASE_URL="postgres://localhost/backoffice?sslmode=disable"
//	BACKOFFICE_DB_MAX_CONNS="20"
//	BACKOFFICE_DB_AUTO_MIGRATE="false"
//
// Re-authentication tracking (in process when unset):
//
//	BACKOFFICE_REDIS_URL="redis://localhost:6379/0"
//	BACKOFFICE_REAUTH_WINDOW="10m"
//
// Invitation delivery and lifecycle:
//
//	BACKOFFICE_MAIL_TRANSPORT="smtp"  # smtp, log
//	BACKOFFICE_SMTP_HOST="smtp.example.com"
//	BACKOFFICE_SMTP_TLS_MODE="starttls"  # starttls, ssl, none
//	BACKOFFICE_INVITE_ACCEPT_URL="https://app.example.com/invitations/accept"
//	BACKOFFICE_INVITE_TTL="168h"
//	BACKOFFICE_INVITE_RESEND_COOLDOWN="5m"
//	BACKOFFICE_INVITE_CHECK_SEATS_ON_CREATE="false"
//	BACKOFFICE_INVITE_SWEEP_SCHEDULE="@every 15m"
//
// Audit and observability:
//
//	BACKOFFICE_AUDIT_SENSITIVE_KEYS="tax_id,api_key"
//	BACKOFFICE_LOG_LEVEL="info"  # debug, info, warn, error
//	BACKOFFICE_METRICS_ENABLED="true"
//	BACKOFFICE_OTEL_ENABLED="true"
//	BACKOFFICE_OTEL_ENDPOINT="otel-collector:4317"
//
// The same keys in YAML use the struct tags, for example:
//
//	invitations:
//	  ttl: 72h
//	  check_seats_on_create: true
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// # Related Packages
//
//   - pkg/store/postgres: Uses database configuration
//   - pkg/mail: Uses mail configuration
//   - pkg/observability: Uses observability configuration
package config
