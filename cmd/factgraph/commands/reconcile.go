package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/am"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/logger"
)

// ReconcileCmd rebuilds the search index from the primary store
var ReconcileCmd = &cobra.Command{
	Use:   "reconcile [fact-id...]",
	Short: "Rebuild the search index from the primary store",
	Long: `Re-derive search index documents from the primary store.

Without arguments every document is rebuilt and documents of facts that no
longer exist are dropped. With fact ids only those documents are repaired.

With --watch the full rebuild repeats every reconcile.interval_seconds. Edits
to ~/.factgraph/am.toml change the interval without a restart.`,
	RunE: runReconcile,
}

var reconcileWatch bool

func init() {
	ReconcileCmd.Flags().BoolVarP(&reconcileWatch, "watch", "w", false, "Keep rebuilding every reconcile.interval_seconds")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	ids, err := parseUUIDs("fact", args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withApp(ctx, func(ctx context.Context, app *App) error {
		if len(ids) > 0 {
			for _, id := range ids {
				if err := app.Reconciler.ReindexFact(ctx, id); err != nil {
					return err
				}
			}
			pterm.Success.Printfln("Reindexed %d facts", len(ids))
			return nil
		}

		if !reconcileWatch {
			stats, err := app.Reconciler.Rebuild(ctx)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Indexed %d facts, removed %d stale documents", stats.Indexed, stats.Removed)
			return nil
		}

		intervals := make(chan time.Duration, 1)
		if watcher := watchConfig(intervals); watcher != nil {
			defer watcher.Stop()
		}
		return reconcileLoop(ctx, app.Reconciler, app.Config.Reconcile.Interval(), intervals, logger.Logger)
	})
}

// watchConfig forwards reconcile interval changes from the user config file.
// Returns nil when there is no user config to watch.
func watchConfig(intervals chan<- time.Duration) *am.ConfigWatcher {
	path := am.UserConfigPath()
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config watcher unavailable, interval changes need a restart", logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		select {
		case intervals <- cfg.Reconcile.Interval():
		default:
		}
		return nil
	})
	am.SetGlobalWatcher(watcher)
	watcher.Start()
	return watcher
}

type rebuilder interface {
	Rebuild(ctx context.Context) (index.RebuildStats, error)
}

// reconcileLoop rebuilds immediately and then every interval until ctx ends.
// A failed rebuild is logged and retried on the next tick.
func reconcileLoop(ctx context.Context, r rebuilder, interval time.Duration, intervals <-chan time.Duration, log *zap.SugaredLogger) error {
	log = logger.OrNop(log).Named("reconcile")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if stats, err := r.Rebuild(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Errorw("Index rebuild failed", logger.FieldError, err)
		} else {
			log.Infow("Index rebuilt", "indexed", stats.Indexed, "removed", stats.Removed)
		}

		select {
		case <-ctx.Done():
			return nil
		case d := <-intervals:
			if d > 0 && d != interval {
				log.Infow("Reconcile interval changed", "from", interval, "to", d)
				interval = d
				ticker.Reset(interval)
			}
		case <-ticker.C:
		}
	}
}
