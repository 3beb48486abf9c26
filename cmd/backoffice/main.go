package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/backoffice/pkg/api"
	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/config"
	"github.com/platinummonkey/backoffice/pkg/invitations"
	"github.com/platinummonkey/backoffice/pkg/mail"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/reauth"
	"github.com/platinummonkey/backoffice/pkg/seats"
	"github.com/platinummonkey/backoffice/pkg/secrets"
	"github.com/platinummonkey/backoffice/pkg/store"
	"github.com/platinummonkey/backoffice/pkg/store/memory"
	"github.com/platinummonkey/backoffice/pkg/store/postgres"
	"github.com/platinummonkey/backoffice/pkg/tenants"
	"github.com/platinummonkey/backoffice/pkg/users"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// reauthCacheSize bounds the in-process step-up tracker
const reauthCacheSize = 10000

func main() {
	bootstrapEmail := flag.String("bootstrap-admin", os.Getenv("BACKOFFICE_BOOTSTRAP_ADMIN_EMAIL"),
		"Create a platform super admin with this email if it does not exist (password from BACKOFFICE_BOOTSTRAP_ADMIN_PASSWORD)")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "backoffice")
	if err := run(cfg, logger, *bootstrapEmail); err != nil {
		logger.WithError(err).Error("backoffice stopped with an error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, bootstrapEmail string) error {
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	st, db, err := openStore(ctx, cfg.Database, metrics, logger)
	if err != nil {
		return err
	}

	tracker, redisClient, err := newReauthTracker(ctx, cfg, logger)
	if err != nil {
		return err
	}

	dispatcher, err := newDispatcher(cfg.Mail, logger)
	if err != nil {
		return err
	}

	hasher := secrets.NewHasher(bcrypt.DefaultCost)
	writer := audit.NewWriter(
		audit.WithReauthChecker(tracker),
		audit.WithSensitiveKeys(cfg.Audit.SensitiveKeys...),
		audit.WithLogger(logger),
		audit.WithMetrics(metrics),
	)

	if bootstrapEmail != "" {
		if err := bootstrapAdmin(ctx, st, writer, hasher, bootstrapEmail, os.Getenv("BACKOFFICE_BOOTSTRAP_ADMIN_PASSWORD"), logger); err != nil {
			return err
		}
	}

	services := api.Services{
		Tenants: tenants.NewService(st, writer,
			tenants.WithLogger(logger),
			tenants.WithMetrics(metrics)),
		Users: users.NewService(st, writer,
			users.WithReauthTracker(tracker),
			users.WithHasher(hasher),
			users.WithLogger(logger),
			users.WithMetrics(metrics)),
		Invitations: invitations.NewService(st, dispatcher, writer,
			invitations.WithTTL(cfg.Invitations.TTL),
			invitations.WithCooldown(cfg.Invitations.ResendCooldown),
			invitations.WithSeatCheckOnCreate(cfg.Invitations.CheckSeatsOnCreate),
			invitations.WithHasher(hasher),
			invitations.WithLogger(logger),
			invitations.WithMetrics(metrics)),
		Seats: seats.NewService(st, seats.NewAccountant(metrics)),
	}
	if db != nil {
		reader, err := audit.NewReader(db)
		if err != nil {
			return fmt.Errorf("failed to create audit reader: %w", err)
		}
		services.Audit = reader
	} else if source, ok := st.(audit.Source); ok {
		services.Audit = source
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewServer(st, services, api.WithLogger(logger), api.WithMetrics(metrics)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.MetricsHandler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})
	if db != nil {
		shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	serveErrs := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, healthServer} {
		srv := srv
		go func() {
			defer observability.RecoverPanic(logger, "http server "+srv.Addr)
			logger.Infof("Listening on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErrs <- fmt.Errorf("server %s failed: %w", srv.Addr, err)
			}
		}()
	}

	go func() {
		select {
		case err := <-serveErrs:
			cancel(err)
		case <-waitCtx.Done():
		}
	}()

	logger.WithFields(map[string]interface{}{
		"version": version,
		"store":   cfg.Database.Driver,
		"mail":    cfg.Mail.Transport,
	}).Info("backoffice started")

	shutdownErr := shutdown.WaitForShutdown(waitCtx)
	return errors.Join(context.Cause(waitCtx), shutdownErr)
}

// openStore returns the configured store. db is nil for the memory driver.
func openStore(ctx context.Context, cfg config.DatabaseConfig, metrics *observability.Metrics, logger *observability.Logger) (store.Store, *sql.DB, error) {
	if cfg.Driver == "memory" {
		logger.Warn("Using the in-memory store; data is lost on restart")
		return memory.New(memory.WithTxTimeout(cfg.TxTimeout), memory.WithMetrics(metrics)), nil, nil
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:      cfg.URL,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
		Timeout:  cfg.Timeout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		logger.Info("Database migrations applied")
	}
	return postgres.New(db, postgres.WithTxTimeout(cfg.TxTimeout), postgres.WithMetrics(metrics)), db, nil
}

// newReauthTracker shares step-up windows through Redis when configured and
// keeps them in process otherwise
func newReauthTracker(ctx context.Context, cfg *config.Config, logger *observability.Logger) (reauth.Tracker, *redis.Client, error) {
	if cfg.Redis.URL == "" {
		logger.Info("Redis is not configured; re-authentication is tracked per process")
		return reauth.NewLRUTracker(cfg.Audit.ReauthWindow, reauthCacheSize, clockwork.NewRealClock()), nil, nil
	}
	client, err := reauth.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	return reauth.NewRedisTracker(client, cfg.Audit.ReauthWindow), client, nil
}

func newDispatcher(cfg config.MailConfig, logger *observability.Logger) (mail.Dispatcher, error) {
	renderer, err := mail.NewRenderer(cfg.AcceptURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail renderer: %w", err)
	}
	if cfg.Transport != "smtp" {
		return mail.NewLogDispatcher(renderer, logger), nil
	}
	return mail.NewSMTPDispatcher(mail.SMTPConfig{
		Host:               cfg.Host,
		Port:               cfg.Port,
		Username:           cfg.Username,
		Password:           cfg.Password,
		From:               cfg.From,
		TLSMode:            cfg.TLSMode,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}, renderer, logger), nil
}
