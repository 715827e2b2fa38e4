package main

import (
	"chaptersniffer/config"
	"chaptersniffer/metrics"
	"chaptersniffer/scraper"
	"chaptersniffer/storage"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

// app carries state shared by every subcommand.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	configPath string
}

func newRootCommand() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "chaptersniffer",
		Short:         "Announce new manga chapter releases on Discord",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Configuration file path (default "+config.DefaultConfigFile+" if present)")

	rootCmd.AddCommand(newServeCommand(a))
	rootCmd.AddCommand(newCheckCommand(a))
	rootCmd.AddCommand(newSubsCommand(a))
	rootCmd.AddCommand(newCatalogCommand(a))
	return rootCmd
}

func newServeCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot, poll scheduler and status server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

// load reads configuration and builds the logger. The long-running bot logs
// to stdout; one-shot commands keep stdout for their output.
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	level, err := cfg.LogLevel()
	if err != nil {
		return err
	}
	w := cmd.ErrOrStderr()
	if cmd.Name() == "serve" || !cmd.HasParent() {
		w = cmd.OutOrStdout()
	}
	a.cfg = cfg
	a.logger = newLogger(w, level)
	slog.SetDefault(a.logger)
	return nil
}

// newLogger writes human-readable text to a terminal and JSON elsewhere.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && isTerminal(f.Fd()) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func isTerminal(fd uintptr) bool {
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func (a *app) newScraper(recorder scraper.Recorder) *scraper.Scraper {
	return scraper.New(&scraper.Config{
		Client:      &http.Client{Timeout: 30 * time.Second},
		Logger:      a.logger,
		Recorder:    recorder,
		CatalogURL:  a.cfg.Sources.CatalogURL,
		ReleasesURL: a.cfg.Sources.ReleasesURL,
	})
}

// openStore loads subscriptions from Cloud Storage when a bucket is
// configured, otherwise from the local state file. The returned func
// releases the storage client.
func (a *app) openStore(ctx context.Context, recorder *metrics.Collector) (*storage.Store, func(), error) {
	state := a.cfg.State
	var backend storage.Backend
	closeFn := func() {}

	if state.Bucket != "" {
		var opts []option.ClientOption
		if state.CredentialsJSON != "" {
			opts = append(opts, option.WithCredentialsJSON([]byte(state.CredentialsJSON)))
		}
		client, err := gcs.NewClient(ctx, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("create storage client: %w", err)
		}
		closeFn = func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("Failed to close storage client", "error", err)
			}
		}
		backend = storage.NewGCSBackend(client, state.Bucket, state.Object, state.Snapshots, a.logger)
	} else {
		backend = storage.NewLocalBackend(state.File)
	}

	var rec storage.PersistRecorder
	if recorder != nil {
		rec = recorder
	}
	store, err := storage.Open(ctx, backend, rec, a.logger)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return store, closeFn, nil
}
