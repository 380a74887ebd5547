package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/flowtriage/internal/auth"
	"github.com/rsclarke/flowtriage/internal/capture"
	"github.com/rsclarke/flowtriage/internal/logging"
	"github.com/rsclarke/flowtriage/internal/metrics"
	"github.com/rsclarke/flowtriage/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the flowtriage API server.

The artifact trio is loaded (or synthesized) before the listener starts,
so a server that is up can always classify. Analysis runs are limited
to server.max_concurrent_runs; further requests get 429.

Capturing requires tshark with permission to open the interface
(root or 'setcap cap_net_raw,cap_net_admin').`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "address to listen on (default :8000)")
	serveCmd.Flags().Int64("max-runs", 0, "maximum concurrent analysis runs")
	serveCmd.Flags().String("db-driver", "", "history database driver (sqlite, pgx, mysql)")
	serveCmd.Flags().String("db-dsn", "", "history database DSN")
	serveCmd.Flags().String("artifacts-dir", "", "directory holding the artifact trio")
	bindFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	bindFlag("server.max_concurrent_runs", serveCmd.Flags().Lookup("max-runs"))
	bindFlag("database.driver", serveCmd.Flags().Lookup("db-driver"))
	bindFlag("database.dsn", serveCmd.Flags().Lookup("db-dsn"))
	bindFlag("artifacts.dir", serveCmd.Flags().Lookup("artifacts-dir"))
}

func runServe(cmd *cobra.Command, args []string) error {
	keys, err := auth.NewKeyring(cfg.Server.APIKeys)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}

	rt, err := buildApp(true, true)
	if err != nil {
		return err
	}
	defer rt.close()

	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx, stop := exitOnSignal()
	defer stop()

	a, err := rt.provider.Get(ctx)
	if err != nil {
		logger.Error("no usable artifacts", zap.Error(err))
		return fmt.Errorf("load artifacts: %w", err)
	}
	logger.Info("artifacts ready", logging.Origin(string(a.Origin)))

	if err := rt.tshark.Available(); err != nil {
		logger.Warn("capture tool unavailable, analyze requests will fail", zap.Error(err))
	}

	apiSrv := server.NewAPIServer(cfg.Server.MaxConcurrentRuns, logger.Named("api"))
	apiSrv.Analyzer = rt.orch
	apiSrv.Artifacts = rt.provider
	apiSrv.Lister = capture.NetlinkLister{}
	apiSrv.Keys = keys
	apiSrv.Metrics = metrics.Handler(rt.registry)
	if rt.store != nil {
		apiSrv.History = rt.store
	}
	if !keys.Enabled() {
		logger.Warn("no api keys configured, API is unauthenticated")
	}

	scfg := server.DefaultServerConfig(cfg.Server.Addr, apiSrv.Handler(), runLimits(), logger.Named("http"))
	scfg.Drainer = apiSrv
	if cfg.Server.ReadTimeout > 0 {
		scfg.ReadTimeout = cfg.Server.ReadTimeout
	}
	if cfg.Server.WriteTimeout > 0 {
		scfg.WriteTimeout = cfg.Server.WriteTimeout
	}
	srv := server.NewManagedServer("api", scfg)
	srv.Start()
	if err := srv.WaitForStartup(500 * time.Millisecond); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-srv.Errors():
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	srv.Shutdown(shutdownCtx)
	return nil
}

func runLimits() server.RunLimits {
	return server.RunLimits{
		MaxCapture:   cfg.Capture.MaxDuration,
		CaptureGrace: cfg.Capture.Grace,
		Extraction:   cfg.Extract.Timeout,
		PollAttempts: cfg.Extract.PollAttempts,
		PollInterval: cfg.Extract.PollInterval,
		RunTimeout:   cfg.Pipeline.RunTimeout,
	}
}

func exitOnSignal() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
