package commands

import (
	"context"
	"io"
	"strconv"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// SourceCmd registers fact sources such as input ports and analysis modules
var SourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Register and show fact sources",
	Long: `Register the sources facts can be attributed to with --source.

Examples:
  factgraph source add passive-dns --type InputPort --trust 80
  factgraph source get <source-id>`,
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Register a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceAdd,
}

var sourceGetCmd = &cobra.Command{
	Use:   "get <source-id>",
	Short: "Show a registered source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceGet,
}

var (
	sourceType  string
	sourceTrust int
)

func init() {
	sourceAddCmd.Flags().StringVar(&sourceType, "type", types.SourceTypeInputPort.String(), "User, InputPort or AnalysisModule")
	sourceAddCmd.Flags().IntVar(&sourceTrust, "trust", 0, "Trust level")
	addJSONFlag(sourceAddCmd)
	addJSONFlag(sourceGetCmd)

	SourceCmd.AddCommand(sourceAddCmd)
	SourceCmd.AddCommand(sourceGetCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	st, ok := types.ParseSourceType(sourceType)
	if !ok {
		return errors.NewInvalidArgumentError("unknown source type", "cli.sourceType", "type", sourceType)
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		src, err := app.Sources.SaveSource(ctx, &types.Source{
			ID:         uuid.New(),
			CustomerID: app.subject.OrganizationID,
			Name:       args[0],
			Type:       st,
			TrustLevel: sourceTrust,
		})
		if err != nil {
			return err
		}
		return render(cmd, src, sourceTable(src))
	})
}

func runSourceGet(cmd *cobra.Command, args []string) error {
	id, err := parseUUID("source", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		src, err := app.Sources.GetSource(ctx, id)
		if err != nil {
			return err
		}
		if src == nil {
			return errors.NewObjectNotFoundError("source %s not found", id)
		}
		return render(cmd, src, sourceTable(src))
	})
}

func sourceTable(src *types.Source) func(io.Writer) error {
	return func(w io.Writer) error {
		return renderTable(w, pterm.TableData{
			{"ID", "Name", "Type", "Trust"},
			{src.ID.String(), src.Name, src.Type.String(), strconv.Itoa(src.TrustLevel)},
		})
	}
}
