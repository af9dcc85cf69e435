package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/folio-org/mod-data-export/internal/config"
	"github.com/folio-org/mod-data-export/pkg/exporter"
	"github.com/folio-org/mod-data-export/pkg/exportstore"
	"github.com/folio-org/mod-data-export/pkg/fetch"
	"github.com/folio-org/mod-data-export/pkg/gateway"
	"github.com/folio-org/mod-data-export/pkg/ingest"
	"github.com/folio-org/mod-data-export/pkg/mappingprofile"
	"github.com/folio-org/mod-data-export/pkg/marc"
	"github.com/folio-org/mod-data-export/pkg/objectstore"
	"github.com/folio-org/mod-data-export/pkg/objectstore/local"
	"github.com/folio-org/mod-data-export/pkg/objectstore/s3"
	"github.com/folio-org/mod-data-export/pkg/pipeline"
	"github.com/folio-org/mod-data-export/pkg/retry"
	"github.com/folio-org/mod-data-export/pkg/slicer"
	"github.com/folio-org/mod-data-export/pkg/sweeper"
)

// app holds the wired collaborators shared by the commands.
type app struct {
	cfg     *config.Config
	tenant  string
	logger  *zap.Logger
	store   *exportstore.Store
	objects objectstore.Storage
	gateway *gateway.Client
	runner  *pipeline.Runner
	sweeper *sweeper.Sweeper
}

// loadConfig applies the --tenant flag on top of the layered config.
func loadConfig(ctx context.Context) (*config.Config, error) {
	var overrides []map[string]any
	if t := strings.TrimSpace(tenantFlag); t != "" {
		overrides = append(overrides, map[string]any{"tenant": map[string]any{"default": t}})
	}
	return config.Load(ctx, overrides...)
}

// openStore opens only the database, for commands that need nothing else.
func openStore(ctx context.Context, cfg *config.Config) (*exportstore.Store, error) {
	return exportstore.OpenStore(ctx, exportstore.Config{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
}

func openObjects(ctx context.Context, cfg config.StorageConfig) (objectstore.Storage, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return local.New(local.Config{BaseDir: cfg.Local.BaseDir})
	case "s3":
		return s3.New(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Profile:         cfg.S3.Profile,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// newApp wires the full export pipeline from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &app{cfg: cfg, tenant: cfg.Tenant.Default, logger: logger}

	var err error
	if a.store, err = openStore(ctx, cfg); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if a.objects, err = openObjects(ctx, cfg.Storage); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("open object storage: %w", err)
	}

	a.gateway, err = gateway.New(gateway.Config{
		URL:       cfg.Gateway.URL,
		Tenant:    a.tenant,
		Token:     cfg.Gateway.Token,
		Timeout:   cfg.Gateway.Timeout,
		RateLimit: cfg.Gateway.RateLimit,
		Burst:     cfg.Gateway.Burst,
		Logger:    logger.Named("gateway"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("gateway client: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxRetries = cfg.Retry.MaxRetries
	if cfg.Retry.InitialInterval > 0 {
		retryCfg.InitialInterval = cfg.Retry.InitialInterval
	}
	if cfg.Retry.MaxInterval > 0 {
		retryCfg.MaxInterval = cfg.Retry.MaxInterval
	}

	var source fetch.RecordSource = a.gateway
	if strings.EqualFold(cfg.Fetch.Source, "catalog") {
		source = fetch.CatalogSource{Reader: a.store}
	}
	fetcher, err := fetch.New(source, fetch.NewPool(cfg.Fetch.Concurrency), a.store, fetch.Config{
		ChunkSize: cfg.Fetch.ChunkSize,
		Timeout:   cfg.Fetch.Timeout,
		Retry:     retryCfg,
		Retryable: gateway.IsRetryable,
		Logger:    logger.Named("fetch"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("fetch client: %w", err)
	}

	engine, err := exporter.New(a.store, fetcher, marc.NewConverter(), a.objects, exporter.Config{
		Workers:      cfg.Export.Workers,
		SliceTimeout: cfg.Export.SliceTimeout,
		StagingDir:   cfg.Staging.Dir,
		Retry:        retryCfg,
		Logger:       logger.Named("exporter"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("export engine: %w", err)
	}

	profiles := mappingprofile.NewRegistry()
	if dir := strings.TrimSpace(cfg.Profiles.Dir); dir != "" {
		if profiles, err = mappingprofile.LoadRegistry(dir); err != nil {
			_ = a.Close(ctx)
			return nil, fmt.Errorf("load profiles: %w", err)
		}
	}

	gw := a.gateway
	a.runner, err = pipeline.New(pipeline.Deps{
		Store:   a.store,
		Objects: a.objects,
		Ingester: ingest.New(a.store, a.objects, a.gateway, ingest.Config{
			BatchSize:    cfg.Export.BatchSize,
			PollInterval: cfg.Search.PollInterval,
			PollTimeout:  cfg.Search.PollTimeout,
			Logger:       logger.Named("ingest"),
		}),
		Slicer:    slicer.New(a.store, cfg.Export.SliceSize, logger.Named("slicer")),
		Engine:    engine,
		Profiles:  profiles,
		Users:     gw,
		Reference: func(tenant string) marc.ReferenceSource { return gw.WithTenant(tenant) },
	}, pipeline.Config{
		CentralTenant:    cfg.Tenant.Central,
		ProgressInterval: cfg.Export.ProgressInterval,
		Logger:           logger.Named("pipeline"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	a.sweeper, err = sweeper.New(a.store, a.objects, sweeper.Config{
		StaleAfter:        cfg.Sweeper.StaleAfter,
		FileDefinitionTTL: cfg.Sweeper.FileDefinitionTTL,
		StagingDir:        cfg.Staging.Dir,
		OnExpire:          a.runner.Cancel,
		Logger:            logger.Named("sweeper"),
	})
	if err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("sweeper: %w", err)
	}
	return a, nil
}

// Close stops the runner, waiting for running jobs until ctx is done, and
// releases storage handles.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if err := a.runner.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown runner: %w", err))
		}
	}
	if a.objects != nil {
		if err := a.objects.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close object storage: %w", err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
