package commands

import (
	"context"
	"io"
	"sort"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/db"
	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/cache"
	"github.com/teranos/factgraph/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the factgraph database",
	Long: `Manage the SQLite primary store and the search index.

Examples:
  factgraph db migrate      # Apply pending schema migrations
  factgraph db migrate --dry-run
  factgraph db stats        # Show fact counts, index size and cache statistics`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database and index statistics",
	RunE:  runDbStats,
}

var migrateDryRun bool

func init() {
	dbMigrateCmd.Flags().BoolVar(&migrateDryRun, "dry-run", false, "List pending migrations without applying them")
	addJSONFlag(dbStatsCmd)

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return err
	}
	defer database.Close()

	var migrations []db.Migration
	if migrateDryRun {
		migrations, err = db.Pending(database)
	} else {
		migrations, err = db.Migrate(database, logger.Logger)
	}
	if err != nil {
		return err
	}

	if len(migrations) == 0 {
		pterm.Success.Printfln("Database %s is up to date", cfg.Database.Path)
		return nil
	}
	data := pterm.TableData{{"Version", "File"}}
	for _, m := range migrations {
		data = append(data, []string{m.Version, m.File})
	}
	if migrateDryRun {
		pterm.Info.Printfln("%d pending migrations", len(migrations))
	} else {
		pterm.Success.Printfln("Applied %d migrations", len(migrations))
	}
	return renderTable(cmd.OutOrStdout(), data)
}

// DbStats summarizes the stores behind an App.
type DbStats struct {
	DatabasePath   string                 `json:"database_path"`
	IndexPath      string                 `json:"index_path,omitempty"`
	Facts          int                    `json:"facts"`
	IndexDocuments int                    `json:"index_documents"`
	Caches         map[string]cache.Stats `json:"caches"`
}

func collectStats(ctx context.Context, app *App) (*DbStats, error) {
	facts, err := app.Store.CountFacts(ctx)
	if err != nil {
		return nil, err
	}
	docs, err := app.Index.DocumentIDs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &DbStats{
		DatabasePath:   app.Config.Database.Path,
		Facts:          facts,
		IndexDocuments: len(docs),
		Caches:         make(map[string]cache.Stats),
	}
	if !app.Config.Index.InMemory {
		stats.IndexPath = app.Config.Index.Path
	}
	for name, s := range app.Facts.CacheStats() {
		stats.Caches[name] = s
	}
	for name, s := range app.Objects.CacheStats() {
		stats.Caches[name] = s
	}
	return stats, nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		stats, err := collectStats(ctx, app)
		if err != nil {
			return err
		}
		return render(cmd, stats, func(w io.Writer) error {
			data := pterm.TableData{
				{"Statistic", "Value"},
				{"Database path", stats.DatabasePath},
				{"Index path", stats.IndexPath},
				{"Facts", strconv.Itoa(stats.Facts)},
				{"Index documents", strconv.Itoa(stats.IndexDocuments)},
			}
			names := make([]string, 0, len(stats.Caches))
			for name := range stats.Caches {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				s := stats.Caches[name]
				data = append(data, []string{
					"Cache " + name,
					strconv.Itoa(s.Entries) + " entries, " + strconv.FormatInt(s.Hits, 10) + " hits, " + strconv.FormatInt(s.Misses, 10) + " misses",
				})
			}
			return renderTable(w, data)
		})
	})
}
