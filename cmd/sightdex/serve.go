package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/sightdex/internal/config"
	chiTransport "github.com/kailas-cloud/sightdex/internal/transport/chi"
	"github.com/kailas-cloud/sightdex/internal/version"
)

var (
	servePort    int
	serveMigrate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := cfg.HTTP.Port
		if servePort > 0 {
			port = servePort
		}
		logger.Info("Starting sightdex API server",
			zap.String("version", version.Version),
			zap.String("commit", version.Commit),
			zap.String("env", env),
			zap.Int("http_port", port),
		)

		a, err := openApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), config.Seconds(cfg.HTTP.ShutdownSec))
			defer cancel()
			a.Close(closeCtx)
		}()

		if serveMigrate {
			if err := a.Migrate(ctx); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}

		server := chiTransport.NewServer(a.Services(), logger)
		handler := server.Router(chiTransport.RouterOptions{
			APIKeys:        cfg.Auth.APIKeys,
			AllowedOrigins: cfg.Auth.AllowedOrigins,
			Limiter:        a.RateLimiter(),
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler,
			ReadTimeout:       config.Seconds(cfg.HTTP.ReadTimeoutSec),
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      config.Seconds(cfg.HTTP.WriteTimeoutSec),
		}
		return runServer(ctx, srv, config.Seconds(cfg.HTTP.ShutdownSec))
	},
}

// runServer serves until ctx is cancelled, then shuts down gracefully.
func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (default from config)")
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "create the index and schemas before serving")
	rootCmd.AddCommand(serveCmd)
}
