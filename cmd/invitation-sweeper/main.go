package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/backoffice/pkg/audit"
	"github.com/platinummonkey/backoffice/pkg/config"
	"github.com/platinummonkey/backoffice/pkg/invitations"
	"github.com/platinummonkey/backoffice/pkg/mail"
	"github.com/platinummonkey/backoffice/pkg/observability"
	"github.com/platinummonkey/backoffice/pkg/session"
	"github.com/platinummonkey/backoffice/pkg/store/postgres"
)

var version = "dev"

// maxBatchesPerRun stops one run from draining an unbounded backlog
const maxBatchesPerRun = 100

// expirer is the part of the invitation service the sweeper drives
type expirer interface {
	ExpireStale(ctx context.Context, sess session.Session, limit int) (int, error)
}

// Sweeper marks pending invitations past their expiry as expired
type Sweeper struct {
	invitations expirer
	batchSize   int
	metrics     *observability.OTelMetrics
	logger      *logrus.Logger
}

// Run expires stale invitations batch by batch until a batch comes back short
func (s *Sweeper) Run(ctx context.Context) (total int, err error) {
	start := time.Now()
	runID := "sweep-" + uuid.NewString()
	logger := s.logger.WithField("run_id", runID)

	defer func() {
		if r := recover(); r != nil {
			err = observability.MustRecover(r)
			logger.WithField("stack", string(debug.Stack())).Errorf("Invitation sweep panicked: %v", r)
		}
	}()

	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = invitations.DefaultSweepBatch
	}

	for i := 0; i < maxBatchesPerRun; i++ {
		if err = ctx.Err(); err != nil {
			break
		}
		var n int
		n, err = s.invitations.ExpireStale(ctx, session.System(runID), batchSize)
		total += n
		if err != nil || n < batchSize {
			break
		}
		logger.Debugf("Batch %d expired %d invitations, continuing", i+1, n)
	}

	s.metrics.RecordSweep(ctx, total, time.Since(start), err)
	if err != nil {
		logger.WithError(err).WithField("expired", total).Error("Invitation sweep failed")
		return total, err
	}
	logger.WithFields(logrus.Fields{
		"expired":  total,
		"duration": time.Since(start).String(),
	}).Info("Invitation sweep completed")
	return total, nil
}

func main() {
	runOnce := flag.Bool("run-once", false, "Run one sweep and exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	logger := setupLogger(cfg.Observability.LogLevel)
	if cfg.Database.Driver != "postgres" {
		logger.Fatalf("The invitation sweeper needs the postgres store, got %q", cfg.Database.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *runOnce); err != nil {
		logger.Fatalf("Invitation sweeper failed: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, runOnce bool) error {
	serviceLogger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("service", "invitation-sweeper")

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName + "-sweeper",
		ServiceVersion: version,
		Insecure:       cfg.Observability.OTelInsecure,
	}, serviceLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := observability.ShutdownOTel(shutdownCtx, providers, serviceLogger); err != nil {
			logger.Warnf("OpenTelemetry shutdown failed: %v", err)
		}
	}()

	sweepMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create sweep metrics: %w", err)
	}

	db, err := postgres.Open(ctx, postgres.ConnectionConfig{
		URL:      cfg.Database.URL,
		MaxConns: 2,
		Timeout:  cfg.Database.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()
	st := postgres.New(db, postgres.WithTxTimeout(cfg.Database.TxTimeout))

	// Expiry never sends mail; the dispatcher only satisfies the service.
	renderer, err := mail.NewRenderer(cfg.Mail.AcceptURL)
	if err != nil {
		return fmt.Errorf("failed to create mail renderer: %w", err)
	}
	svc := invitations.NewService(st, mail.NewLogDispatcher(renderer, serviceLogger),
		audit.NewWriter(audit.WithLogger(serviceLogger)),
		invitations.WithLogger(serviceLogger))

	sweeper := &Sweeper{
		invitations: svc,
		batchSize:   cfg.Invitations.SweepBatchSize,
		metrics:     sweepMetrics,
		logger:      logger,
	}

	if runOnce {
		_, err := sweeper.Run(ctx)
		return err
	}

	c := cron.New(cron.WithChain(
		cron.Recover(cron.PrintfLogger(logger)),
		cron.SkipIfStillRunning(cron.PrintfLogger(logger)),
	))
	if _, err := c.AddFunc(cfg.Invitations.SweepSchedule, func() {
		sweeper.Run(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule invitation sweep: %w", err)
	}

	c.Start()
	logger.Infof("Invitation sweeper started (schedule %q, batch %d)", cfg.Invitations.SweepSchedule, cfg.Invitations.SweepBatchSize)

	<-ctx.Done()
	logger.Info("Shutting down, waiting for a running sweep to finish...")
	<-c.Stop().Done()
	logger.Info("Invitation sweeper stopped")
	return nil
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}
