// Copyright 2026 © The Tempo Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jllopis/tempo/pkg/audit"
	"github.com/jllopis/tempo/pkg/config"
	"github.com/jllopis/tempo/pkg/resilience"
	"github.com/jllopis/tempo/pkg/telemetry"
)

// runtime holds the ambient services shared by the commands.
type runtime struct {
	opts     config.Options
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *telemetry.ArbiterMetrics
	stats    *telemetry.TickStats
	shutdown telemetry.ShutdownFunc
}

func loadConfig(global globalFlags) (config.Options, *config.Config, error) {
	opts, _, err := config.ParseArgs(global.ConfigArgs)
	if err != nil {
		return config.Options{}, nil, NewInvalidArgumentError("config flags", err.Error())
	}
	cfg, err := config.LoadOptions(opts)
	if err != nil {
		return opts, nil, NewConfigError(err, opts.Path)
	}
	return opts, cfg, nil
}

func setupRuntime(ctx context.Context, global globalFlags) (*runtime, error) {
	opts, cfg, err := loadConfig(global)
	if err != nil {
		return nil, err
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	shutdown, err := telemetry.InitWithConfig(cfg.Telemetry.ServiceName, version, telemetry.Config{
		Exporter:           cfg.Telemetry.Exporter,
		OTLPEndpoint:       cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:       cfg.Telemetry.OTLPInsecure,
		OTLPTimeoutSeconds: cfg.Telemetry.OTLPTimeoutSeconds,
		OTLPHeaders:        cfg.Telemetry.OTLPHeaders,
		Writer:             os.Stderr,
	})
	if err != nil {
		return nil, NewConfigError(err, opts.Path)
	}
	metrics, err := telemetry.NewArbiterMetrics(ctx)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	rt := &runtime{
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		shutdown: shutdown,
	}
	if cfg.Stats.Enabled {
		rt.stats = telemetry.NewTickStats("tick", "ms", cfg.Stats.Interval, cfg.Stats.Startup, logger)
	}
	return rt, nil
}

// auditTarget resolves the store to open: the --audit flag wins over the
// audit section of the configuration. ok is false when auditing is off.
func auditTarget(flagValue string, cfg *config.Config) (driver, dsn string, ok bool) {
	if flagValue != "" {
		driver, dsn = audit.ParseTarget(flagValue)
		return driver, dsn, true
	}
	if cfg != nil && cfg.Audit.Enabled {
		return cfg.Audit.Driver, cfg.Audit.DSN, true
	}
	return "", "", false
}

// openAudit opens the audit store behind a circuit breaker. It returns a nil
// store when auditing is off.
func (rt *runtime) openAudit(ctx context.Context, flagValue string) (audit.Store, func() error, error) {
	driver, dsn, ok := auditTarget(flagValue, rt.cfg)
	if !ok {
		return nil, func() error { return nil }, nil
	}
	store, closeFn, err := audit.Open(ctx, driver, dsn)
	if err != nil {
		return nil, nil, NewAuditError(err, driver+":"+dsn)
	}
	guarded := audit.NewGuarded(store, resilience.CircuitBreakerConfig{
		Name:             "audit",
		FailureThreshold: rt.cfg.Audit.BreakerFailures,
		Timeout:          time.Duration(rt.cfg.Audit.BreakerCooldownSeconds) * time.Second,
		OnStateChange: func(name string, _, to resilience.CircuitBreakerState) {
			rt.metrics.RecordBreakerState(context.Background(), name, to.Value())
		},
	}, rt.logger)
	rt.logger.InfoContext(ctx, "audit.open", slog.String("driver", driver))
	return guarded, closeFn, nil
}

func (rt *runtime) Close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rt.shutdown(ctx); err != nil {
		rt.logger.WarnContext(ctx, "telemetry.shutdown.failed", slog.String("error", err.Error()))
	}
}
