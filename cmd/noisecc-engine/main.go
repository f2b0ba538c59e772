package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ambientstack/noisecc/internal/config"
	"github.com/ambientstack/noisecc/internal/metrics"
	"github.com/ambientstack/noisecc/internal/pipeline"
	"github.com/ambientstack/noisecc/internal/specio"
	"github.com/ambientstack/noisecc/internal/utils"
)

func main() {
	var (
		configPath string
		stage      string
	)
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.StringVar(&stage, "stage", pipeline.StageAll, "Pipeline stage to run (correlate, stack or all)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting noisecc-engine",
		slog.String("stage", stage),
		slog.String("dataDir", cfg.Paths.DataDir),
		slog.Int("workers", cfg.Workers))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	source, err := specio.NewDir(cfg.Paths.DataDir)
	if err != nil {
		logger.Error("failed to open spectrum directory", slog.Any("error", err))
		os.Exit(1)
	}

	p, err := pipeline.New(logger, cfg, source)
	if err != nil {
		logger.Error("failed to build pipeline", slog.Any("error", err))
		os.Exit(1)
	}
	defer p.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Metrics.Address,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Metrics.Address))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	runErr := p.Run(ctx, stage)
	if runErr != nil {
		logger.Error("pipeline failed",
			slog.String("stage", stage),
			slog.Bool("fatal", utils.IsFatal(runErr)),
			slog.Any("error", runErr))
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancel()
	}

	if runErr != nil {
		os.Exit(1)
	}
	logger.Info("noisecc-engine finished", slog.String("stage", stage))
}
