package commands

import (
	"fmt"
	"io"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/am"
	"github.com/teranos/factgraph/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage factgraph configuration",
	Long: `Display and manage factgraph configuration.

Configuration sources (in order of precedence):
1. Environment variables (FACTGRAPH_* prefix)
2. Project config (am.toml in the working directory or a parent)
3. User config (~/.factgraph/am.toml)
4. System config (/etc/factgraph/config.toml)
5. Default values

Examples:
  factgraph am show                         # Show every setting and where it came from
  factgraph am show --format toml           # Show the effective configuration as TOML
  factgraph am set index.in_memory true     # Persist a setting to ~/.factgraph/am.toml`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value to ~/.factgraph/am.toml",
	Long: `Persist a configuration value using dot notation.

The previous file is kept as am.toml.back1 (up to three backups).
Lists are comma separated: factgraph am set security.functions viewFactObjects,viewTypes`,
	Args: cobra.ExactArgs(2),
	RunE: runAmSet,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "table", "Output format: table, toml, json")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amSetCmd)
}

func runAmShow(cmd *cobra.Command, args []string) error {
	switch configFormat {
	case "table":
		settings, err := am.GetConfigIntrospection()
		if err != nil {
			return err
		}
		data := pterm.TableData{{"Key", "Value", "Source", "From"}}
		for _, s := range settings {
			data = append(data, []string{s.Key, fmt.Sprint(s.Value), string(s.Source), s.SourcePath})
		}
		return renderTable(cmd.OutOrStdout(), data)

	case "json", "toml":
		cfg, err := loadConfig()
		if err != nil {
			return errors.Wrap(err, "failed to load config")
		}
		if configFormat == "json" {
			return printJSON(cmd.OutOrStdout(), cfg)
		}
		data, err := toml.Marshal(cfg)
		if err != nil {
			return errors.Wrap(err, "failed to marshal config to TOML")
		}
		_, err = io.WriteString(cmd.OutOrStdout(), "# factgraph configuration\n"+string(data))
		return err

	default:
		return errors.Newf("unsupported format: %s (supported: table, toml, json)", configFormat)
	}
}

func runAmSet(cmd *cobra.Command, args []string) error {
	value, err := am.SetValue(args[0], args[1])
	if err != nil {
		return err
	}
	pterm.Success.Printfln("%s = %v (written to %s)", args[0], value, am.UserConfigPath())
	return nil
}
