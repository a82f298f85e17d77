package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	httpserver "github.com/fyrsmithlabs/loremaster/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveWorlds  []string
	serveCatalog string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the session and lore HTTP API.

With sync.enabled the catalog publishes every write to NATS and the node
applies writes from other nodes to its local index.

Examples:
  # Serve with defaults on 127.0.0.1:8787
  loremaster serve

  # Seed the catalog from a world document
  loremaster serve --world aeloria.json

  # Keep the catalog across restarts
  loremaster serve --catalog lore.json

  # Override the port from the environment
  LOREMASTER_SERVER_PORT=9000 loremaster serve`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringSliceVar(&serveWorlds, "world", nil, "world document to import at startup (repeatable)")
	serveCmd.Flags().StringVar(&serveCatalog, "catalog", "", "catalog snapshot loaded at startup and saved on shutdown")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, appOptions{sync: true})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", cerr)
		}
	}()

	a.logger.Info("starting loremaster",
		zap.String("version", version),
		zap.String("session_store", cfg.Session.Store),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.String("generation", cfg.Generation.Provider),
		zap.Bool("sync", cfg.Sync.Enabled),
	)

	if err := a.startSync(); err != nil {
		return err
	}
	if err := a.loadCatalog(ctx, serveCatalog); err != nil {
		return err
	}
	if err := a.importWorlds(ctx, serveWorlds); err != nil {
		return err
	}

	srv, err := httpserver.NewServer(a.orch, a.catalog, a.logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	err = errors.Join(srv.Shutdown(shutdownCtx), a.saveCatalog(serveCatalog))
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.logger.Info("server shutdown complete")
	return nil
}
