package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/foilbox/foilbox/internal/archive"
	"github.com/foilbox/foilbox/internal/config"
	"github.com/foilbox/foilbox/internal/download"
	"github.com/foilbox/foilbox/internal/importer"
	"github.com/foilbox/foilbox/internal/library"
	"github.com/foilbox/foilbox/internal/store"
)

var version = "dev"

var (
	cfgPath   string
	logLevel  string
	logFormat string

	globalCfg *config.Config
	logger    *slog.Logger
)

// components is the explicitly constructed shared state handed to the
// server and the commands. Lifetime = process; no global singletons beyond
// this wiring point.
type components struct {
	store     *store.Store
	queue     *download.Manager
	scanner   *library.Scanner
	watcher   *library.Watcher
	registry  *importer.Registry
	processor *importer.Processor
}

// buildComponents wires store, queue, scanner and importers from the config.
func buildComponents() (*components, error) {
	if globalCfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	st, err := store.New(globalCfg.Server.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	client := download.NewClient(logger)
	client.SetUserAgent(globalCfg.Download.UserAgent)
	client.SetMaxRedirects(globalCfg.Download.MaxRedirects)
	queue := download.NewManager(client, st, logger)

	extractor := archive.NewExtractor(globalCfg.Server.TempDir, logger)
	processor := importer.NewProcessor(queue, extractor, globalCfg.Server.TempDir, logger)

	registry := importer.NewRegistry()
	registry.Register(importer.URLImporter{})
	registry.Register(importer.NewTitleIDImporter(globalCfg.Importers.SiteURL, logger))

	scanner := library.NewScanner(st, library.FilenameParser{}, globalCfg.Server.LibraryDir, logger)
	watcher := library.NewWatcher(scanner, logger)

	return &components{
		store:     st,
		queue:     queue,
		scanner:   scanner,
		watcher:   watcher,
		registry:  registry,
		processor: processor,
	}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "foilbox",
		Short:   "Self-hosted game library server",
		Long:    "foilbox serves a Tinfoil-compatible index of a game library,\nimports titles from remote sources, and keeps package metadata in sync\nwith the filesystem.",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogger()

			path := cfgPath
			if path == "" {
				found, err := config.FindConfigFile()
				if err != nil {
					// No config file: run on defaults.
					globalCfg = config.DefaultConfig()
					return globalCfg.Validate()
				}
				path = found
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			globalCfg = cfg
			logger.Debug("config loaded", "path", path)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newScanCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newQueueCmd())

	return cmd
}

func setupLogger() {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
