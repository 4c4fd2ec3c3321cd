package cmd

import (
	"context"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/logsift/logsift/internal/ingest"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var watchSchedule string

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Continuously ingest newly arriving log files",
	Long: `Ingest the directory once, then keep watching it and ingest new or
changed .gz files as they arrive. Ingestion is idempotent, so a rescan only
touches files whose content changed. An optional cron schedule forces
periodic full rescans even without file events.

Examples:
  logsift watch /var/log/archive
  logsift watch --schedule "0 * * * *" /var/log/archive`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "cron expression for periodic full rescans")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ing, repo, err := buildIngestor()
	if err != nil {
		return err
	}
	defer repo.Close()

	// Initial pass before watching.
	if _, err := ing.Run(ctx, dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return err
	}

	// rescan is a coalescing trigger: at most one pending rescan at a time.
	rescan := make(chan struct{}, 1)
	kick := func() {
		select {
		case rescan <- struct{}{}:
		default:
		}
	}

	schedule := envCfg.WatchSchedule
	if watchSchedule != "" {
		schedule = watchSchedule
	}
	if schedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(schedule, kick); err != nil {
			return err
		}
		c.Start()
		defer c.Stop()
		log.Info().Str("schedule", schedule).Msg("periodic rescan enabled")
	}

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}

	log.Info().Str("dir", dir).Msg("watching")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("shutting down")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, ".gz") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				log.Debug().Str("file", filepath.Base(ev.Name)).Str("op", ev.Op.String()).Msg("file event")
				debounce.Reset(envCfg.WatchDebounce)
			}

		case <-debounce.C:
			kick()

		case <-rescan:
			if err := runRescan(ctx, ing, dir); err != nil {
				return err
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		}
	}
}

func runRescan(ctx context.Context, ing *ingest.Ingestor, dir string) error {
	run, err := ing.Run(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		// A failed rescan is not fatal for the daemon.
		log.Warn().Err(err).Msg("rescan failed")
		return nil
	}
	if run.FilesIngested > 0 {
		log.Info().
			Str("run_id", run.ID).
			Int64("files_ingested", run.FilesIngested).
			Int64("entries", run.Entries).
			Int64("errors", run.Errors).
			Msg("rescan finished")
	}
	return nil
}
