package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/fact/model"
)

var jsonOutput bool

func addJSONFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// render writes v as JSON when --json is set, otherwise calls table.
func render(cmd *cobra.Command, v interface{}, table func(w io.Writer) error) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), v)
	}
	return table(cmd.OutOrStdout())
}

func renderTable(w io.Writer, data pterm.TableData) error {
	return pterm.DefaultTable.WithHasHeader().WithWriter(w).WithData(data).Render()
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

func factObjects(f *model.Fact) string {
	parts := make([]string, 0, len(f.Objects))
	for _, b := range f.Objects {
		parts = append(parts, fmt.Sprintf("%s:%s=%s", b.Direction, b.Object.Type.Name, b.Object.Value))
	}
	return strings.Join(parts, ", ")
}

func factsTable(facts []*model.Fact) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{{"ID", "Type", "Value", "Objects", "Access", "Last seen"}}
		for _, f := range facts {
			data = append(data, []string{
				f.ID.String(), f.Type.Name, f.Value, factObjects(f), f.AccessMode, formatMillis(f.LastSeenTimestamp),
			})
		}
		return renderTable(w, data)
	}
}

func factDetail(f *model.Fact) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{
			{"Field", "Value"},
			{"ID", f.ID.String()},
			{"Type", f.Type.Name},
			{"Value", f.Value},
			{"Organization", f.OrganizationID.String()},
			{"Source", f.Source.ID.String()},
			{"Access mode", f.AccessMode},
			{"Confidence", strconv.Itoa(f.ConfidenceLevel)},
			{"Created", formatMillis(f.Timestamp)},
			{"Last seen", formatMillis(f.LastSeenTimestamp)},
			{"Objects", factObjects(f)},
		}
		if f.InReferenceTo != nil {
			ref := f.InReferenceTo.ID.String()
			if f.InReferenceTo.Type.Name != "" {
				ref += " (" + f.InReferenceTo.Type.Name + ")"
			}
			data = append(data, []string{"In reference to", ref})
		}
		return renderTable(w, data)
	}
}
