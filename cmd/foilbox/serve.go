package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/foilbox/foilbox/internal/library"
	"github.com/foilbox/foilbox/internal/server"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the library HTTP server",
		Long: `Start the HTTP server that serves the Tinfoil index, streams game
files, and exposes the rescan, import and download-queue APIs.

By default the server listens on the address from the config file. Use
--listen to override.`,
		Example: `  foilbox serve
  foilbox serve --listen 127.0.0.1:9000`,
		RunE: serveRun,
	}

	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	comps, err := buildComponents()
	if err != nil {
		return err
	}
	defer comps.store.Close()

	listen := serveListen
	if listen == "" {
		listen = globalCfg.Server.Listen
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if globalCfg.Scan.OnStartup {
		go func() {
			if _, err := comps.scanner.FullRescan(ctx, false); err != nil && !errors.Is(err, library.ErrScanInFlight) {
				logger.Error("startup rescan failed", "error", err)
			}
		}()
	}

	if globalCfg.Scan.Watch {
		go func() {
			if err := comps.watcher.Watch(ctx, globalCfg.Server.LibraryDir); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("library watch stopped", "error", err)
			}
		}()
	}

	srv := server.NewServer(
		comps.store, comps.queue, comps.scanner,
		comps.registry, comps.processor, globalCfg, logger,
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("received shutdown signal")
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
