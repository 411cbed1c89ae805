package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/commerce-sync/internal/application/pipeline"
	"github.com/erp/commerce-sync/internal/domain/checkpoint"
	"github.com/erp/commerce-sync/internal/domain/deadletter"
	"github.com/erp/commerce-sync/internal/domain/integration"
	"github.com/erp/commerce-sync/internal/domain/mapping"
	"github.com/erp/commerce-sync/internal/domain/transform"
	"github.com/erp/commerce-sync/internal/domain/validation"
	"github.com/erp/commerce-sync/internal/infrastructure/cache"
	"github.com/erp/commerce-sync/internal/infrastructure/config"
	"github.com/erp/commerce-sync/internal/infrastructure/connector"
	"github.com/erp/commerce-sync/internal/infrastructure/filestore"
	"github.com/erp/commerce-sync/internal/infrastructure/logger"
	"github.com/erp/commerce-sync/internal/infrastructure/migration"
	"github.com/erp/commerce-sync/internal/infrastructure/persistence"
	"github.com/erp/commerce-sync/internal/infrastructure/retry"
	"github.com/erp/commerce-sync/internal/infrastructure/storage"
	"github.com/erp/commerce-sync/internal/infrastructure/telemetry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// app holds everything a command needs once configuration is loaded
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	checkpoints checkpoint.Repository
	dlq         deadletter.Repository
	runs        checkpoint.RunRepository
	locker      integration.EntityLocker
	db          *persistence.Database

	recorder telemetry.PipelineRecorder
	prom     *telemetry.PromMetrics
	tracer   *telemetry.TracerProvider

	closers []func(context.Context) error
}

// newApp bootstraps logging, telemetry and the state stores
func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}
	if err := a.initLogger(ctx); err != nil {
		return nil, err
	}
	if err := a.initTelemetry(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initStorage(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil && a.logger != nil {
			a.logger.Warn("Shutdown step failed", zap.Error(err))
		}
	}
	a.closers = nil
}

func (a *app) initLogger(ctx context.Context) error {
	logCfg := &logger.Config{
		Level:      a.cfg.Log.Level,
		Format:     a.cfg.Log.Format,
		Output:     a.cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	}
	base, err := logger.NewCore(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.logger = zap.New(base, zap.AddCaller())
	a.onClose(func(context.Context) error {
		_ = a.logger.Sync()
		return nil
	})

	if !a.cfg.Telemetry.LogsEnabled {
		return nil
	}
	lp, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           true,
		CollectorEndpoint: a.cfg.Telemetry.CollectorEndpoint,
		ServiceName:       a.cfg.Telemetry.ServiceName,
		Insecure:          a.cfg.Telemetry.Insecure,
	}, a.logger)
	if err != nil {
		return err
	}
	a.onClose(lp.Shutdown)
	otelCore := telemetry.NewZapOTELCore(a.cfg.Telemetry.ServiceName, lp, logger.ParseLevel(a.cfg.Log.Level))
	a.logger = telemetry.NewBridgedLogger(base, otelCore, zap.AddCaller())
	return nil
}

func (a *app) initTelemetry(ctx context.Context) error {
	tc := a.cfg.Telemetry
	tp, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		SamplingRatio:     tc.SamplingRatio,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.logger)
	if err != nil {
		return err
	}
	a.tracer = tp
	a.onClose(tp.Shutdown)

	mp, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           tc.Enabled,
		CollectorEndpoint: tc.CollectorEndpoint,
		ServiceName:       tc.ServiceName,
		Insecure:          tc.Insecure,
	}, a.logger)
	if err != nil {
		return err
	}
	a.onClose(mp.Shutdown)

	var recorders telemetry.Recorders
	if mp.IsEnabled() {
		pm, err := telemetry.NewPipelineMetrics(mp.Meter("commerce-sync/pipeline"))
		if err != nil {
			return err
		}
		recorders = append(recorders, pm)
	}
	if tc.PrometheusEnabled {
		a.prom = telemetry.NewPromMetrics("sync")
		recorders = append(recorders, a.prom)
	}
	a.recorder = recorders

	if tc.ProfilingEnabled {
		profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
			Enabled:         true,
			ServerAddress:   tc.PyroscopeURL,
			ApplicationName: tc.ServiceName,
			ProfileHeap:     true,
		}, a.logger)
		if err != nil {
			return err
		}
		a.onClose(func(context.Context) error { return profiler.Stop() })
		if tp.IsEnabled() {
			tp.EnableSpanProfiles()
		}
	}
	return nil
}

func (a *app) initStorage() error {
	switch a.cfg.Storage.Backend {
	case "database":
		return a.initDatabase()
	default:
		return a.initFilestore()
	}
}

func (a *app) initFilestore() error {
	dir := a.cfg.Storage.Dir
	checkpoints, err := filestore.NewCheckpointStore(dir)
	if err != nil {
		return err
	}
	dlq, err := filestore.NewDLQStore(dir, a.logger)
	if err != nil {
		return err
	}
	runs, err := filestore.NewRunStore(dir, a.logger)
	if err != nil {
		return err
	}
	a.checkpoints, a.dlq, a.runs = checkpoints, dlq, runs
	return a.initLocker(dir)
}

func (a *app) initDatabase() error {
	db, err := persistence.NewDatabase(&a.cfg.Database, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	a.onClose(func(context.Context) error { return db.Close() })

	if a.cfg.Telemetry.DBTraceEnabled {
		dbCfg := telemetry.DefaultDBTracingConfig()
		dbCfg.Enabled = true
		if db.Driver() == "sqlite" {
			dbCfg.DBSystem = "sqlite"
		}
		if err := telemetry.RegisterDBTracing(db.DB, dbCfg, a.logger); err != nil {
			return err
		}
	}
	// SQLite has no versioned migrations; its schema follows the models.
	if db.Driver() == "sqlite" {
		if err := db.AutoMigrate(); err != nil {
			return err
		}
	}

	a.checkpoints = persistence.NewGormCheckpointRepository(db.DB)
	a.dlq = persistence.NewGormDLQRepository(db.DB)
	a.runs = persistence.NewGormRunRepository(db.DB)
	return a.initLocker(a.cfg.Storage.Dir)
}

// initLocker prefers Redis and falls back to lock files under dir
func (a *app) initLocker(dir string) error {
	fileLocker, err := filestore.NewFileLocker(dir)
	if err != nil {
		return err
	}
	locker, err := cache.NewLockerFactory(a.cfg.Redis,
		cache.WithLogger(a.logger),
		cache.WithFallback(fileLocker, a.cfg.App.Env != "production"),
	).Create()
	if err != nil {
		return err
	}
	if closer, ok := locker.(interface{ Close() error }); ok {
		a.onClose(func(context.Context) error { return closer.Close() })
	}
	a.locker = locker
	return nil
}

// migrator opens the versioned schema migrator for the postgres backend
func (a *app) migrator() (*migration.Migrator, error) {
	if a.cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("%w: versioned migrations require database.driver = \"postgres\"", config.ErrInvalid)
	}
	return migration.NewFromDSN(a.cfg.Database.DSN(), a.logger)
}

func (a *app) catalog() (*mapping.Catalog, error) {
	var (
		specs map[integration.EntityType]*mapping.MappingSpec
		err   error
	)
	if a.cfg.Sync.MappingDir != "" {
		specs, err = mapping.LoadSpecDir(a.cfg.Sync.MappingDir)
	} else {
		specs, err = mapping.DefaultSpecs()
	}
	if err != nil {
		return nil, err
	}
	return mapping.NewCatalog(specs, transform.NewDefaultRegistry())
}

func (a *app) validator() *validation.Validator {
	return validation.New(nil, validation.Options{
		Tolerance:  decimal.NewFromFloat(a.cfg.Sync.Tolerance),
		MinorUnits: 2,
	})
}

func (a *app) retryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries: a.cfg.Sync.MaxRetries,
		BaseDelay:  a.cfg.Sync.RetryBaseDelay,
		MaxDelay:   a.cfg.Sync.RetryMaxDelay,
		Jitter:     a.cfg.Sync.RetryJitter,
		Retryable:  retry.DefaultRetryable,
	}
}

func (a *app) limiter() *retry.RateLimiter {
	if a.cfg.Sync.RequestsPerMinute <= 0 {
		return retry.Unlimited()
	}
	return retry.NewRateLimiter(a.cfg.Sync.RequestsPerMinute, a.cfg.Sync.Burst)
}

func (a *app) loader() (integration.Loader, error) {
	return connector.NewLoader(a.cfg.Target, connector.WithLogger(a.logger))
}

func (a *app) media() (integration.MediaUploader, error) {
	if !a.cfg.Media.Enabled {
		return nil, nil
	}
	return storage.NewS3MediaUploader(a.cfg.Media, storage.WithLogger(a.logger))
}

// orchestrator wires the full pipeline. The loader is omitted on dry runs.
func (a *app) orchestrator(dryRun bool) (*pipeline.Orchestrator, error) {
	if err := a.cfg.ValidateForMigration(dryRun); err != nil {
		return nil, err
	}
	extractor, err := connector.NewExtractor(a.cfg.Source, connector.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}

	deps := pipeline.Dependencies{
		Extractor:   extractor,
		Catalog:     catalog,
		Validator:   a.validator(),
		Checkpoints: a.checkpoints,
		DLQ:         a.dlq,
		Locker:      a.locker,
		Runs:        a.runs,
	}
	if !dryRun {
		if deps.Loader, err = a.loader(); err != nil {
			return nil, err
		}
		if deps.Media, err = a.media(); err != nil {
			return nil, err
		}
	}

	// Source and target are separate hosts with separate quotas.
	cfg := pipeline.Config{
		BatchSize:     a.cfg.Sync.BatchSize,
		Concurrency:   a.cfg.Sync.Concurrency,
		Retry:         a.retryPolicy(),
		SourceLimiter: a.limiter(),
		TargetLimiter: a.limiter(),
	}
	return pipeline.NewOrchestrator(deps, cfg,
		pipeline.WithLogger(a.logger),
		pipeline.WithRecorder(a.recorder),
	)
}

// dlqService builds the DLQ service. Reprocessing is only wired when a target
// is configured.
func (a *app) dlqService() (*pipeline.DLQService, error) {
	opts := []pipeline.DLQOption{
		pipeline.WithDLQLogger(a.logger),
		pipeline.WithDLQRecorder(a.recorder),
		pipeline.WithDLQLocker(a.locker),
	}
	if a.cfg.Target.BaseURL == "" {
		return pipeline.NewDLQService(a.dlq, opts...), nil
	}

	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	loader, err := a.loader()
	if err != nil {
		return nil, err
	}
	exec := retry.New(a.retryPolicy(), retry.WithLimiter(a.limiter()), retry.WithLogger(a.logger))
	opts = append(opts, pipeline.WithReprocessing(catalog, a.validator(), loader, exec))

	media, err := a.media()
	if err != nil {
		return nil, err
	}
	if media != nil {
		opts = append(opts, pipeline.WithDLQMedia(media))
	}
	return pipeline.NewDLQService(a.dlq, opts...), nil
}

func (a *app) reportService() *pipeline.ReportService {
	return pipeline.NewReportService(a.runs, a.checkpoints, a.dlq)
}

// storagePing checks the state backend for the health endpoint
func (a *app) storagePing(ctx context.Context) error {
	if a.db != nil {
		return a.db.Ping()
	}
	_, err := a.checkpoints.List(ctx)
	return err
}

var errNoTokenSecret = errors.New("admin.jwt_secret is not set")
