package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentforge/platform/internal/auth"
	"github.com/agentforge/platform/internal/config"
	"github.com/agentforge/platform/internal/gateway"
	"github.com/agentforge/platform/internal/lifecycle"
	"github.com/agentforge/platform/internal/observability"
	"github.com/agentforge/platform/internal/sessions"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentd gateway server",
		Long: `Start the gateway server: load configuration, connect to the
database, run the Agent Lifecycle Manager's startup scan, and serve the
HTTP, duplex chat socket, webhook, and /metrics surfaces from one listener.

Graceful shutdown runs on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "agentd.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	logger.Info("starting agentd", "version", version, "commit", commit, "config", configPath)

	sessionStore, err := sessions.NewPostgresStoreFromDSN(cfg.DatabaseDSN(), cfg.SessionsConfig())
	if err != nil {
		return fmt.Errorf("open sessions store: %w", err)
	}
	defer sessionStore.Close()

	agentStore, err := lifecycle.NewPostgresAgentStore(sessionStore.DB())
	if err != nil {
		return fmt.Errorf("open agent store: %w", err)
	}
	defer agentStore.Close()

	catalog := lifecycle.NewMemoryToolCatalog()

	mgr := lifecycle.NewManager(agentStore, catalog, lifecycle.Config{
		ProviderDefaults:            cfg.ProviderDefaults(),
		TelegramToolServerURL:       cfg.Channels.Telegram.ToolServerURL,
		TelegramToolServerTransport: cfg.Channels.Telegram.Transport,
		DiscordToolServerURL:        cfg.Channels.Discord.ToolServerURL,
		DiscordToolServerTransport:  cfg.Channels.Discord.Transport,
		Logger:                      logger,
	})
	if err := mgr.Startup(ctx); err != nil {
		return fmt.Errorf("lifecycle startup scan: %w", err)
	}

	authService := auth.NewService(auth.Config{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenExpiry: cfg.Auth.TokenExpiry,
		APIKeys:     convertAPIKeys(cfg.Auth.APIKeys),
	})

	metrics := observability.NewMetrics()
	srv := gateway.NewServer(mgr, sessionStore, authService, logger, metrics)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Mux()}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("shutdown signal received, shutting down gracefully")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("agentd stopped gracefully")
	return nil
}

func convertAPIKeys(keys []config.APIKeyConfig) []auth.APIKeyConfig {
	out := make([]auth.APIKeyConfig, 0, len(keys))
	for _, k := range keys {
		out = append(out, auth.APIKeyConfig{Key: k.Key, UserID: k.UserID, Email: k.Email, Name: k.Name})
	}
	return out
}
