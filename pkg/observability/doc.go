// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry setup, health checks and graceful shutdown.
//
// # Overview
//
// Every service in the module takes a *Logger and a *Metrics through options.
// Both are nil-safe where it matters: a nil *Metrics records nothing, and
// NopLogger discards output for tests.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("tenant_id", 42).Info("seat limit raised")
//
// Request-scoped fields travel in the context:
//
//	ctx = observability.WithRequestID(ctx, reqID)
//	logger.WithContext(ctx).Warn("invitation resend throttled")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordDecision("update_role", false, "insufficient_rank")
//	http.Handle("/metrics", observability.MetricsHandler(registry))
//
// Batch jobs without a scrape endpoint push through OTelMetrics instead.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(mux, checker)
//
// The database is required; an unreachable Redis only degrades readiness.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "backoffice",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// # Shutdown
//
//	sm := observability.NewShutdownManager(logger, 30*time.Second, apiServer, healthServer)
//	sm.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
//	err := sm.WaitForShutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/api: Request logging and metrics middleware
package observability
