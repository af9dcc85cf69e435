package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/folio-org/mod-data-export/internal/observability"
	"github.com/folio-org/mod-data-export/internal/server"
	"github.com/folio-org/mod-data-export/internal/server/handlers"
	"github.com/folio-org/mod-data-export/internal/server/middleware"
	"github.com/folio-org/mod-data-export/pkg/sweeper"
)

var (
	serveHost     string
	servePort     int
	serveNoSweeps bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the data export HTTP service",
	Long: `Run the HTTP service with the /data-export routes, health probes and
the periodic expiration and cleanup sweeps.

Examples:
  mod-data-export serve
  mod-data-export serve --port 9000 --tenant diku`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Listen host (overrides server.host)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveNoSweeps, "no-sweeps", false, "Disable the periodic expiration and cleanup sweeps")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = serveHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = servePort
	}

	logger, err := observability.NewLogger(observability.LoggingConfig{
		Level:   cfg.Logging.Level,
		Profile: cfg.Logging.Profile,
	}, appName())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("tenant", cfg.Tenant.Default))

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to initialize", err)
	}

	handlers.SetVersionInfo(handlers.VersionInfo{
		Version:   versionInfo.Version,
		Commit:    versionInfo.Commit,
		BuildDate: versionInfo.BuildDate,
	})
	handlers.SetLogger(logger)
	middleware.SetLogger(logger)

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("signal", signalHealthChecker{})
	health.RegisterChecker("store", storeHealthChecker{pinger: a.store})
	if id := GetAppIdentity(); id != nil {
		health.RegisterChecker("identity", identityHealthChecker{
			binaryName: id.BinaryName,
			envPrefix:  id.EnvPrefix,
			configName: id.ConfigName,
		})
	}

	api := handlers.NewAPI(a.runner, a.store, a.sweeper, handlers.APIConfig{Tenant: a.tenant})
	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithAPI(api),
		server.WithLogger(logger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.Server.ShutdownTimeout)
	})
	if !serveNoSweeps {
		g.Go(func() error {
			return a.sweeper.Run(gctx, sweeper.Schedule{
				ExpirationInterval: cfg.Sweeper.ExpirationInterval,
				CleanupInterval:    cfg.Sweeper.CleanupInterval,
			})
		})
	}

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	closeErr := a.Close(closeCtx)
	if closeErr != nil {
		logger.Warn("shutdown incomplete", zap.Error(closeErr))
	}
	if runErr != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Server stopped", runErr)
	}
	logger.Info("server stopped")
	return nil
}

// signalHealthChecker reports the process as able to receive signals.
type signalHealthChecker struct{}

func (signalHealthChecker) CheckHealth(context.Context) error { return nil }

type pinger interface {
	Ping(ctx context.Context) error
}

// storeHealthChecker pings the export database.
type storeHealthChecker struct {
	pinger pinger
}

func (c storeHealthChecker) CheckHealth(ctx context.Context) error {
	if c.pinger == nil {
		return errors.New("store not initialized")
	}
	if err := c.pinger.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

// identityHealthChecker verifies the application identity is complete.
type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("missing binary name")
	case c.envPrefix == "":
		return errors.New("missing env prefix")
	case c.configName == "":
		return errors.New("missing config name")
	}
	return nil
}
