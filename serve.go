package main

import (
	"chaptersniffer/commands"
	"chaptersniffer/discord"
	"chaptersniffer/metrics"
	"chaptersniffer/notify"
	"chaptersniffer/poll"
	"chaptersniffer/scraper"
	"chaptersniffer/server"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// errRestart is the cancellation cause set by the restart command.
var errRestart = errors.New("restart requested")

// serve runs the bot until ctx ends. A restart request shuts everything down
// and returns errRestart.
func (a *app) serve(parent context.Context) error {
	cfg := a.cfg
	logger := a.logger
	if cfg.Discord.Token == "" {
		return errors.New("DISCORD_TOKEN must be set")
	}

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(reg)

	store, closeStore, err := a.openStore(ctx, collector)
	if err != nil {
		return err
	}
	defer closeStore()

	sc := a.newScraper(collector)
	handler := commands.New(store, func() commands.Summary { return store.Snapshot() }, sc, logger)

	bot, err := discord.New(&discord.Config{
		Token:   cfg.Discord.Token,
		Handler: handler,
		Restart: func() { cancel(errRestart) },
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	monitor := poll.New(&poll.Config{
		Fetcher:    sc,
		Extract:    scraper.Extract,
		Platform:   bot,
		Dispatcher: notify.New(bot, store, logger),
		Tracker:    poll.NewTracker(cfg.Poll.Cooldown.Std()),
		Recorder:   collector,
		Logger:     logger,
	})

	if err := bot.Open(); err != nil {
		return err
	}
	defer func() {
		if err := bot.Close(); err != nil {
			logger.Warn("Failed to close Discord session", "error", err)
		}
	}()

	scheduler := poll.NewScheduler(monitor, cfg.Poll.Interval.Std(), logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	var wg sync.WaitGroup
	wg.Go(func() {
		// The recurring trigger waits a full interval; check once right away.
		if err := monitor.RunCycle(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Initial check cycle failed", "error", err)
		}
	})

	errCh := make(chan error, 1)
	if cfg.HTTPEnabled() {
		srv := server.New(&server.Config{
			Poller:       monitor,
			Subs:         store,
			Metrics:      metrics.Handler(reg),
			Logger:       logger,
			PollInterval: server.DefaultPollInterval,
		})
		wg.Go(func() {
			if err := srv.Serve(ctx, ":"+cfg.HTTP.Port); err != nil {
				errCh <- err
			}
		})
	}

	logger.Info("Bot running",
		"releases_url", cfg.Sources.ReleasesURL,
		"interval", cfg.Poll.Interval.Std().String(),
		"cooldown", cfg.Poll.Cooldown.Std().String())

	select {
	case <-ctx.Done():
	case err = <-errCh:
		cancel(err)
	}
	wg.Wait()

	if errors.Is(context.Cause(ctx), errRestart) {
		logger.Warn("Restarting process")
		return errRestart
	}
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("Shutting down")
	return nil
}

// reexec replaces the running process with a fresh copy of the same binary.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", exe, err)
	}
	return nil
}
