package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/cmd/factgraph/commands"
	"github.com/teranos/factgraph/logger"
)

var jsonLogs bool

var rootCmd = &cobra.Command{
	Use:   "factgraph",
	Short: "factgraph - threat intelligence fact graph",
	Long: `factgraph - threat intelligence fact graph.

Stores typed facts about objects (addresses, domains, hashes, ...) with
per-fact access control, keeps a search index consistent with the primary
store, and retracts facts by recording new facts about them.

Available commands:
  am        - Show and persist configuration
  db        - Migrate the database and show statistics
  type      - Manage object and fact types
  source    - Register fact sources
  fact      - Create, retract and query facts
  reconcile - Rebuild the search index from the primary store

Examples:
  factgraph type add-object ipv4 --validator TagValidator --validator-param ipv4
  factgraph type add-fact seen --binding ipv4
  factgraph fact add seen --object ipv4=198.51.100.7
  factgraph fact search --type seen`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false, "Write logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.TypeCmd)
	rootCmd.AddCommand(commands.SourceCmd)
	rootCmd.AddCommand(commands.FactCmd)
	rootCmd.AddCommand(commands.ReconcileCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
