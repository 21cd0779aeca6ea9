package commands

import (
	"context"
	"io"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/types"
)

// TypeCmd manages object and fact types
var TypeCmd = &cobra.Command{
	Use:   "type",
	Short: "Manage object and fact types",
	Long: `Define the object types facts can bind to and the fact types facts are created with.

Examples:
  factgraph type add-object ipv4 --validator TagValidator --validator-param ipv4
  factgraph type add-object domain --validator RegexValidator --validator-param '^[a-z0-9.-]+$'
  factgraph type add-fact resolvesTo --binding domain:FactIsSource --binding ipv4:FactIsDestination
  factgraph type ls`,
}

var typeAddObjectCmd = &cobra.Command{
	Use:   "add-object <name>",
	Short: "Create an object type",
	Args:  cobra.ExactArgs(1),
	RunE:  runTypeAddObject,
}

var typeAddFactCmd = &cobra.Command{
	Use:   "add-fact <name>",
	Short: "Create a fact type",
	Long: `Create a fact type.

Each --binding allows facts of this type to bind an object of the named
object type in the given direction (None, FactIsSource, FactIsDestination,
BiDirectional). The direction defaults to None.`,
	Args: cobra.ExactArgs(1),
	RunE: runTypeAddFact,
}

var typeLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List object and fact types",
	RunE:  runTypeLs,
}

var (
	typeValidator      string
	typeValidatorParam string
	typeHandler        string
	typeHandlerParam   string
	typeBindings       []string
)

func init() {
	for _, cmd := range []*cobra.Command{typeAddObjectCmd, typeAddFactCmd} {
		cmd.Flags().StringVar(&typeValidator, "validator", "", "Value validator (TrueValidator, RegexValidator, TagValidator)")
		cmd.Flags().StringVar(&typeValidatorParam, "validator-param", "", "Validator parameter")
		cmd.Flags().StringVar(&typeHandler, "handler", "", "Entity handler (IdentityHandler, Base58Handler)")
		cmd.Flags().StringVar(&typeHandlerParam, "handler-param", "", "Entity handler parameter")
		addJSONFlag(cmd)
	}
	typeAddFactCmd.Flags().StringArrayVar(&typeBindings, "binding", nil, "Allowed binding as objectType[:direction] (repeatable)")
	addJSONFlag(typeLsCmd)

	TypeCmd.AddCommand(typeAddObjectCmd)
	TypeCmd.AddCommand(typeAddFactCmd)
	TypeCmd.AddCommand(typeLsCmd)
}

func runTypeAddObject(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		ot, err := app.Service.CreateObjectType(ctx, &model.CreateObjectTypeRequest{
			Name:                   args[0],
			Validator:              typeValidator,
			ValidatorParameter:     typeValidatorParam,
			EntityHandler:          typeHandler,
			EntityHandlerParameter: typeHandlerParam,
		})
		if err != nil {
			return err
		}
		return render(cmd, ot, objectTypesTable([]*model.ObjectType{ot}))
	})
}

func runTypeAddFact(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		bindings, err := parseTypeBindings(ctx, app, typeBindings)
		if err != nil {
			return err
		}
		ft, err := app.Service.CreateFactType(ctx, &model.CreateFactTypeRequest{
			Name:                   args[0],
			Validator:              typeValidator,
			ValidatorParameter:     typeValidatorParam,
			EntityHandler:          typeHandler,
			EntityHandlerParameter: typeHandlerParam,
			RelevantObjectBindings: bindings,
		})
		if err != nil {
			return err
		}
		return render(cmd, ft, factTypesTable([]*model.FactType{ft}))
	})
}

// parseTypeBindings turns objectType[:direction] flags into binding requests,
// resolving object type names through the service.
func parseTypeBindings(ctx context.Context, app *App, flags []string) ([]model.RelevantObjectBindingRequest, error) {
	if len(flags) == 0 {
		return nil, nil
	}
	all, err := app.Service.SearchObjectTypes(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]*model.ObjectType, len(all.Values))
	for _, ot := range all.Values {
		byName[ot.Name] = ot
	}

	out := make([]model.RelevantObjectBindingRequest, 0, len(flags))
	for _, flag := range flags {
		name, dirName, _ := strings.Cut(flag, ":")
		ot, ok := byName[name]
		if !ok {
			return nil, errors.NewObjectNotFoundError("object type %q not found", name)
		}
		direction := types.DirectionNone
		if dirName != "" {
			if direction, ok = types.ParseDirection(dirName); !ok {
				return nil, errors.Newf("unknown direction %q in binding %q", dirName, flag)
			}
		}
		out = append(out, model.RelevantObjectBindingRequest{ObjectType: ot.ID, Direction: direction})
	}
	return out, nil
}

type typeListing struct {
	ObjectTypes []*model.ObjectType `json:"objectTypes"`
	FactTypes   []*model.FactType   `json:"factTypes"`
}

func runTypeLs(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		objectTypes, err := app.Service.SearchObjectTypes(ctx)
		if err != nil {
			return err
		}
		factTypes, err := app.Service.SearchFactTypes(ctx)
		if err != nil {
			return err
		}
		listing := typeListing{ObjectTypes: objectTypes.Values, FactTypes: factTypes.Values}
		return render(cmd, listing, func(w io.Writer) error {
			if err := objectTypesTable(listing.ObjectTypes)(w); err != nil {
				return err
			}
			return factTypesTable(listing.FactTypes)(w)
		})
	})
}

func objectTypesTable(ots []*model.ObjectType) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{{"Object type", "ID", "Validator", "Handler"}}
		for _, ot := range ots {
			data = append(data, []string{
				ot.Name, ot.ID.String(),
				strategy(ot.Validator, ot.ValidatorParameter),
				strategy(ot.EntityHandler, ot.EntityHandlerParameter),
			})
		}
		return renderTable(w, data)
	}
}

func factTypesTable(fts []*model.FactType) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{{"Fact type", "ID", "Validator", "Bindings"}}
		for _, ft := range fts {
			bindings := make([]string, 0, len(ft.RelevantObjectBindings))
			for _, b := range ft.RelevantObjectBindings {
				bindings = append(bindings, b.ObjectType.Name+":"+b.Direction)
			}
			data = append(data, []string{
				ft.Name, ft.ID.String(),
				strategy(ft.Validator, ft.ValidatorParameter),
				strings.Join(bindings, ", "),
			})
		}
		return renderTable(w, data)
	}
}

func strategy(name, parameter string) string {
	if parameter == "" {
		return name
	}
	return name + "(" + parameter + ")"
}
