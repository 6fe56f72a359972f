package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/gamewatch"
	"github.com/loykin/gamewatch/internal/logger"
)

func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the dashboard API server",
		Long: `Start the HTTP API. Status and player snapshots are cached for the
configured TTLs; with cache.poll_interval set they are also refreshed in the
background so lifecycle and player transitions reach history and metrics.

Examples:
  gamewatch serve                       # defaults, HYTALE_DIR honored
  gamewatch serve gamewatch.toml
  gamewatch serve --listen 127.0.0.1:9000 --base-path /dash`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := globalFlags.ConfigPath
			if len(args) > 0 {
				path = args[0]
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, path, serveFlags, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&serveFlags.Listen, "listen", "", "override server.listen")
	cmd.Flags().StringVar(&serveFlags.BasePath, "base-path", "", "override server.base_path")
	return cmd
}

func runServe(ctx context.Context, configPath string, flags *ServeFlags, stderr io.Writer) error {
	cfg, err := gamewatch.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}
	if flags.BasePath != "" {
		cfg.Server.BasePath = flags.BasePath
	}

	log, closer := logger.New(cfg.Log, stderr)
	defer func() { _ = closer.Close() }()

	app, err := gamewatch.Open(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Warn("close", "error", err)
		}
	}()

	srv, err := app.NewServer()
	if err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gamewatch.ListenAndServe(srv) }()
	log.Info("gamewatch listening",
		"addr", srv.Addr,
		"base_path", app.Router.BasePath(),
		"tls", app.TLS(),
		"program", cfg.Supervisor.Program,
		"game_dir", cfg.Game.Dir)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
