package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ogurasousui/codex-userstore/internal/app"
	"github.com/ogurasousui/codex-userstore/internal/platform/config"
	"github.com/ogurasousui/codex-userstore/internal/platform/logging"
	"github.com/ogurasousui/codex-userstore/internal/platform/observability"
	"github.com/ogurasousui/codex-userstore/internal/platform/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file (defaults to CONFIG_PATH env or assets/local.yaml)")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(effectiveConfigPath(*configPath))
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	metrics := observability.NewMetrics()
	users := observability.Instrument(rt.Store, metrics)

	opsServer := &http.Server{
		Addr:              cfg.Server.MetricsAddr,
		Handler:           observability.NewRouter(metrics, rt.Ping, users),
		ReadHeaderTimeout: 5 * time.Second,
	}
	grpcServer := server.New(cfg.Server.ListenAddr, rt.Ping, server.WithLogger(logger))

	logger.Info("servers starting",
		slog.String("grpc_addr", cfg.Server.ListenAddr),
		slog.String("ops_addr", cfg.Server.MetricsAddr),
	)
	return serve(ctx, logger, opsServer, grpcServer)
}

type runner interface {
	Run(ctx context.Context) error
}

// serve は運用 HTTP と gRPC を並行して動かし、どちらかが失敗するか ctx が終了すると両方を停止します。
func serve(ctx context.Context, logger *slog.Logger, opsServer *http.Server, grpcServer runner) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opsErr := make(chan error, 1)
	go func() {
		defer close(opsErr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			opsErr <- fmt.Errorf("serve ops http: %w", err)
			cancel()
		}
	}()

	serveErr := grpcServer.Run(ctx)
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("ops http shutdown", slog.Any("error", err))
	}

	return errors.Join(serveErr, <-opsErr)
}

func effectiveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONFIG_PATH"); env != "" {
		return env
	}
	return "assets/local.yaml"
}
