package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/listiago/atendechat/internal/config"
	"github.com/listiago/atendechat/internal/logging"
	httpadapter "github.com/listiago/atendechat/pkg/adapters/http"
	"github.com/listiago/atendechat/pkg/observability"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server and the wait scheduler",
	Long:  `Starts the engine with the configured stores and gateway, serving webhooks over HTTP while the scheduler fires due waits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		cfg := config.Load(envFile)
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTPAddr = addr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Listen address (overrides ATENDECHAT_HTTP_ADDR)")
}

func serve(ctx context.Context, cfg config.Config) error {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.New(level)

	metrics := observability.NewMetrics("")
	streams := httpadapter.NewStreamManager(logger.With("component", "sse"))

	eng, closeAll, err := buildEngine(cfg, logger, metrics, streams.Observe)
	if err != nil {
		return fmt.Errorf("failed to init engine: %w", err)
	}
	defer func() {
		if err := closeAll(); err != nil {
			logger.Error("shutdown: close failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpadapter.NewHandler(eng,
			httpadapter.WithStreams(streams),
			httpadapter.WithMetrics(metrics.Registry()),
			httpadapter.WithLogger(logger.With("component", "http")),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "store", cfg.Store, "flows", cfg.FlowsDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown did not complete", "error", err)
			return srv.Close()
		}
		return nil
	})

	err = g.Wait()
	eng.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}
