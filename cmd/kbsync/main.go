package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/alexjbarnes/kbsync/internal/config"
	"github.com/alexjbarnes/kbsync/internal/directory"
	"github.com/alexjbarnes/kbsync/internal/engine"
	"github.com/alexjbarnes/kbsync/internal/logging"
	"github.com/alexjbarnes/kbsync/internal/notes"
	"github.com/alexjbarnes/kbsync/internal/remote"
	"github.com/alexjbarnes/kbsync/internal/scheduler"
	"github.com/alexjbarnes/kbsync/internal/state"
)

var Version = "dev"

func main() {
	// "kbsync once" runs a single pass and exits; default is the daemon.
	once := len(os.Args) > 1 && os.Args[1] == "once"

	if err := run(once); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(once bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("kbsync starting",
		slog.String("version", Version),
		slog.String("notes_dir", cfg.NotesDir),
		slog.Bool("watch", cfg.WatchNotes),
		slog.Duration("interval", cfg.SyncInterval),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.Load()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	corpus, err := notes.NewCorpus(cfg.NotesDir)
	if err != nil {
		return fmt.Errorf("opening notes corpus: %w", err)
	}

	client := remote.NewClient(cfg.Endpoint, cfg.APIKey)
	dir := directory.New(client, logger)
	eng := engine.New(corpus, notes.Transform, client, dir, appState, logger)

	sched := scheduler.New(cfg, corpus, eng, appState,
		scheduler.NewNetworkProber(), scheduler.NewPowerProber(), logger)

	if once {
		return sched.TrySync(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return sched.Start(gctx)
	})

	// SIGUSR1 clears the flight flag, recovering a wedged pass without a
	// restart.
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-usr1:
				logger.Warn("force-releasing sync flight flag")
				sched.ForceRelease()
			}
		}
	})

	if cfg.WatchNotes {
		watcher := notes.NewWatcher(corpus, logger, func() {
			if err := sched.TrySync(gctx); err != nil && !errors.Is(err, scheduler.ErrPassInProgress) {
				logger.Error("watcher-triggered pass failed", slog.String("error", err.Error()))
			}
		})

		g.Go(func() error {
			return watcher.Watch(gctx)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		logger.Info("kbsync stopped")
		return nil
	}

	return err
}
