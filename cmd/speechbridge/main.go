package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/speechbridge/internal/app"
	"github.com/ent0n29/speechbridge/internal/capability"
	"github.com/ent0n29/speechbridge/internal/config"
	"github.com/ent0n29/speechbridge/internal/dispatch"
	"github.com/ent0n29/speechbridge/internal/observability"
	"github.com/ent0n29/speechbridge/internal/portalloc"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "speechbridge",
		Short:        "Expose the host's speech synthesis and recognition over HTTP and tool calls",
		Version:      app.Version,
		SilenceUsage: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")
	root.AddCommand(newServeCmd(), newMCPCmd(), newVoicesCmd())
	return root
}

// loadDotEnv never overrides variables already set in the environment.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// setup loads configuration and builds the shared core.
func setup() (*app.BuildResult, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	res, err := app.Build(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, err
	}
	return res, logger, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST and WebSocket API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return serveHTTP(cmd.Context(), res, logger)
		},
	}
}

func serveHTTP(parent context.Context, res *app.BuildResult, logger *zap.Logger) error {
	cfg := res.Config
	port, err := portalloc.Allocate(cfg.Host, cfg.Port, cfg.PortScanWindow)
	if err != nil {
		logger.Error("no port available", zap.Int("preferred", cfg.Port), zap.Int("window", cfg.PortScanWindow), zap.Error(err))
		return err
	}
	if port != cfg.Port {
		logger.Warn("preferred port busy", zap.Int("preferred", cfg.Port), zap.Int("port", port))
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           res.HTTP(logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", addr), zap.String("url", "http://"+addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve tool calls over stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := res.ToolCall(logger).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newVoicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "Print the voices the speech engine reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := dispatch.WithTransport(cmd.Context(), dispatch.TransportCLI)
			out, err := res.Dispatcher.Dispatch(ctx, capability.OpListVoices, capability.Args{})
			if err != nil {
				return err
			}
			for _, v := range out.Payload.(dispatch.VoicesPayload).Voices {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}
