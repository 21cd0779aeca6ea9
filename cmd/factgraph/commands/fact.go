package commands

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/internal/util"
)

// FactCmd creates, retracts and queries facts
var FactCmd = &cobra.Command{
	Use:   "fact",
	Short: "Create, retract and query facts",
	Long: `Create, retract and query facts as the configured operator (security.* settings).

Objects are given as [direction/]objectType=value or [direction/]objectID.

Examples:
  factgraph fact add seen --object ipv4=198.51.100.7 --access-mode Public
  factgraph fact add resolvesTo --object FactIsSource/domain=example.org --object FactIsDestination/ipv4=198.51.100.7
  factgraph fact search --type resolvesTo --since 2024-01-01T00:00:00Z
  factgraph fact search --object ipv4=198.51.100.7
  factgraph fact retract <fact-id> --comment "sinkholed"
  factgraph fact grant <fact-id> <subject-id>`,
}

var factAddCmd = &cobra.Command{
	Use:   "add <type> [value]",
	Short: "Create a fact, or refresh an identical existing one",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runFactAdd,
}

var factRetractCmd = &cobra.Command{
	Use:   "retract <fact-id>",
	Short: "Retract a fact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactRetract,
}

var factGetCmd = &cobra.Command{
	Use:   "get <fact-id>",
	Short: "Show one fact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactGet,
}

var factSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search facts visible to the operator, newest first",
	Args:  cobra.NoArgs,
	RunE:  runFactSearch,
}

var factAclCmd = &cobra.Command{
	Use:   "acl <fact-id>",
	Short: "List the subjects granted access to a fact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactAcl,
}

var factGrantCmd = &cobra.Command{
	Use:   "grant <fact-id> <subject-id>",
	Short: "Grant a subject read access to a fact",
	Args:  cobra.ExactArgs(2),
	RunE:  runFactGrant,
}

var factCommentCmd = &cobra.Command{
	Use:   "comment <fact-id> <comment>",
	Short: "Comment on a fact",
	Args:  cobra.ExactArgs(2),
	RunE:  runFactComment,
}

var factCommentsCmd = &cobra.Command{
	Use:   "comments <fact-id>",
	Short: "List the comments on a fact",
	Args:  cobra.ExactArgs(1),
	RunE:  runFactComments,
}

var (
	factBindings     []string
	factAccessMode   string
	factConfidence   int
	factReference    string
	factAcl          []string
	factComment      string
	factOrganization string
	factSource       string
	factReplyTo      string

	searchTypes         []string
	searchValues        []string
	searchObjectIDs     []string
	searchOrganizations []string
	searchSources       []string
	searchAccessModes   []string
	searchReferences    []string
	searchSince         string
	searchUntil         string
	searchLimit         int
	searchObject        string
)

func init() {
	for _, cmd := range []*cobra.Command{factAddCmd, factRetractCmd} {
		cmd.Flags().StringVar(&factAccessMode, "access-mode", "", "Public, RoleBased or Explicit")
		cmd.Flags().StringArrayVar(&factAcl, "acl", nil, "Subject id to grant access (repeatable)")
		cmd.Flags().StringVar(&factComment, "comment", "", "Comment to attach")
		cmd.Flags().StringVar(&factOrganization, "organization", "", "Organization id (defaults to the operator's)")
		cmd.Flags().StringVar(&factSource, "source", "", "Registered source id (defaults to the operator)")
	}
	factAddCmd.Flags().StringArrayVar(&factBindings, "object", nil, "Bound object as [direction/]type=value or [direction/]id (repeatable)")
	factAddCmd.Flags().IntVar(&factConfidence, "confidence", 0, "Confidence level")
	factAddCmd.Flags().StringVar(&factReference, "ref", "", "Id of the fact this fact is about")

	factSearchCmd.Flags().StringArrayVar(&searchTypes, "type", nil, "Fact type name (repeatable)")
	factSearchCmd.Flags().StringArrayVar(&searchValues, "value", nil, "Fact value (repeatable)")
	factSearchCmd.Flags().StringArrayVar(&searchObjectIDs, "object-id", nil, "Bound object id (repeatable)")
	factSearchCmd.Flags().StringVar(&searchObject, "object", "", "Only facts bound to this object, as type=value or id")
	factSearchCmd.Flags().StringArrayVar(&searchOrganizations, "organization", nil, "Organization id (repeatable)")
	factSearchCmd.Flags().StringArrayVar(&searchSources, "source", nil, "Source id (repeatable)")
	factSearchCmd.Flags().StringArrayVar(&searchAccessModes, "access-mode", nil, "Access mode (repeatable)")
	factSearchCmd.Flags().StringArrayVar(&searchReferences, "ref", nil, "Referenced fact id (repeatable)")
	factSearchCmd.Flags().StringVar(&searchSince, "since", "", "Last seen at or after (RFC3339 or epoch millis)")
	factSearchCmd.Flags().StringVar(&searchUntil, "until", "", "Last seen at or before (RFC3339 or epoch millis)")
	factSearchCmd.Flags().IntVar(&searchLimit, "limit", 0, "Maximum results (default 25)")

	factCommentCmd.Flags().StringVar(&factReplyTo, "reply-to", "", "Id of the comment this one answers")

	for _, cmd := range []*cobra.Command{
		factAddCmd, factRetractCmd, factGetCmd, factSearchCmd,
		factAclCmd, factGrantCmd, factCommentCmd, factCommentsCmd,
	} {
		addJSONFlag(cmd)
		FactCmd.AddCommand(cmd)
	}
}

func runFactAdd(cmd *cobra.Command, args []string) error {
	req := &model.CreateFactRequest{Type: args[0], ConfidenceLevel: factConfidence, Comment: factComment}
	if len(args) == 2 {
		req.Value = args[1]
	}

	var err error
	if req.AccessMode, err = parseAccessMode(factAccessMode); err != nil {
		return err
	}
	if req.OrganizationID, err = parseOptionalUUID("organization", factOrganization); err != nil {
		return err
	}
	if req.SourceID, err = parseOptionalUUID("source", factSource); err != nil {
		return err
	}
	if req.InReferenceTo, err = parseOptionalUUID("ref", factReference); err != nil {
		return err
	}
	if req.Acl, err = parseUUIDs("acl", factAcl); err != nil {
		return err
	}
	for _, flag := range factBindings {
		b, err := parseObjectBinding(flag)
		if err != nil {
			return err
		}
		req.Bindings = append(req.Bindings, b)
	}

	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		f, err := app.Service.CreateFact(ctx, req)
		if err != nil {
			return err
		}
		return render(cmd, f, factDetail(f))
	})
}

func runFactRetract(cmd *cobra.Command, args []string) error {
	req := &model.RetractFactRequest{Comment: factComment}

	var err error
	if req.FactID, err = parseUUID("fact", args[0]); err != nil {
		return err
	}
	if req.AccessMode, err = parseAccessMode(factAccessMode); err != nil {
		return err
	}
	if req.OrganizationID, err = parseOptionalUUID("organization", factOrganization); err != nil {
		return err
	}
	if req.SourceID, err = parseOptionalUUID("source", factSource); err != nil {
		return err
	}
	if req.Acl, err = parseUUIDs("acl", factAcl); err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		f, err := app.Service.RetractFact(ctx, req)
		if err != nil {
			return err
		}
		return render(cmd, f, factDetail(f))
	})
}

func runFactGet(cmd *cobra.Command, args []string) error {
	id, err := parseUUID("fact", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		f, err := app.Service.GetFact(ctx, id)
		if err != nil {
			return err
		}
		return render(cmd, f, factDetail(f))
	})
}

func searchRequest() (*model.SearchFactRequest, error) {
	req := &model.SearchFactRequest{FactTypes: searchTypes, FactValues: searchValues, Limit: searchLimit}

	var err error
	if req.ObjectIDs, err = parseUUIDs("object-id", searchObjectIDs); err != nil {
		return nil, err
	}
	if req.OrganizationIDs, err = parseUUIDs("organization", searchOrganizations); err != nil {
		return nil, err
	}
	if req.SourceIDs, err = parseUUIDs("source", searchSources); err != nil {
		return nil, err
	}
	if req.InReferenceTo, err = parseUUIDs("ref", searchReferences); err != nil {
		return nil, err
	}
	for _, name := range searchAccessModes {
		mode, err := parseAccessMode(name)
		if err != nil {
			return nil, err
		}
		req.AccessModes = append(req.AccessModes, *mode)
	}
	if req.StartTimestamp, err = parseTimestamp("since", searchSince); err != nil {
		return nil, err
	}
	if req.EndTimestamp, err = parseTimestamp("until", searchUntil); err != nil {
		return nil, err
	}
	return req, nil
}

func runFactSearch(cmd *cobra.Command, args []string) error {
	req, err := searchRequest()
	if err != nil {
		return err
	}

	var objectReq *model.SearchObjectFactsRequest
	if searchObject != "" {
		b, err := parseObjectBinding(searchObject)
		if err != nil {
			return err
		}
		objectReq = &model.SearchObjectFactsRequest{
			ObjectID:          b.ObjectID,
			ObjectType:        b.ObjectType,
			ObjectValue:       b.ObjectValue,
			SearchFactRequest: *req,
		}
	}

	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		var rs *model.ResultSet[*model.Fact]
		if objectReq != nil {
			rs, err = app.Service.SearchObjectFacts(ctx, objectReq)
		} else {
			rs, err = app.Service.SearchFacts(ctx, req)
		}
		if err != nil {
			return err
		}
		return render(cmd, rs, func(w io.Writer) error {
			if err := factsTable(rs.Values)(w); err != nil {
				return err
			}
			pterm.Info.Printfln("%d of %d matching facts (limit %d)", len(rs.Values), rs.Count, rs.Limit)
			return nil
		})
	})
}

func runFactAcl(cmd *cobra.Command, args []string) error {
	id, err := parseUUID("fact", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		acl, err := app.Service.GetFactAcl(ctx, id)
		if err != nil {
			return err
		}
		return render(cmd, acl, aclTable(acl))
	})
}

func runFactGrant(cmd *cobra.Command, args []string) error {
	factID, err := parseUUID("fact", args[0])
	if err != nil {
		return err
	}
	subjectID, err := parseUUID("subject", args[1])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		entry, err := app.Service.GrantFactAccess(ctx, &model.GrantFactAccessRequest{FactID: factID, SubjectID: subjectID})
		if err != nil {
			return err
		}
		return render(cmd, entry, aclTable([]*model.AclEntry{entry}))
	})
}

func runFactComment(cmd *cobra.Command, args []string) error {
	factID, err := parseUUID("fact", args[0])
	if err != nil {
		return err
	}
	replyTo, err := parseOptionalUUID("reply-to", factReplyTo)
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		c, err := app.Service.CreateFactComment(ctx, &model.CreateFactCommentRequest{
			FactID:  factID,
			Comment: args[1],
			ReplyTo: replyTo,
		})
		if err != nil {
			return err
		}
		return render(cmd, c, commentsTable([]*model.FactComment{c}))
	})
}

func runFactComments(cmd *cobra.Command, args []string) error {
	id, err := parseUUID("fact", args[0])
	if err != nil {
		return err
	}
	return withApp(cmd.Context(), func(ctx context.Context, app *App) error {
		comments, err := app.Service.GetFactComments(ctx, id)
		if err != nil {
			return err
		}
		return render(cmd, comments, commentsTable(comments))
	})
}

func aclTable(acl []*model.AclEntry) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{{"ID", "Subject", "Granted by", "Granted"}}
		for _, e := range acl {
			data = append(data, []string{e.ID.String(), e.SubjectID.String(), e.Source.ID.String(), formatMillis(e.Timestamp)})
		}
		return renderTable(w, data)
	}
}

func commentsTable(comments []*model.FactComment) func(io.Writer) error {
	return func(w io.Writer) error {
		data := pterm.TableData{{"ID", "Reply to", "Author", "Time", "Comment"}}
		for _, c := range comments {
			replyTo := ""
			if c.ReplyToID != uuid.Nil {
				replyTo = c.ReplyToID.String()
			}
			data = append(data, []string{c.ID.String(), replyTo, c.Source.ID.String(), formatMillis(c.Timestamp), c.Comment})
		}
		return renderTable(w, data)
	}
}

func parseUUID(name, s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, errors.NewInvalidArgumentError("invalid "+name+" id", "cli.uuid", name, s)
	}
	return id, nil
}

func parseOptionalUUID(name, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, nil
	}
	return parseUUID(name, s)
}

func parseUUIDs(name string, values []string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, s := range values {
		id, err := parseUUID(name, s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func parseAccessMode(name string) (*types.AccessMode, error) {
	if name == "" {
		return nil, nil
	}
	mode, ok := types.ParseAccessMode(name)
	if !ok {
		return nil, errors.NewInvalidArgumentError("unknown access mode", "cli.accessMode", "access-mode", name)
	}
	return util.Ptr(mode), nil
}

// parseObjectBinding parses [direction/]type=value or [direction/]id.
func parseObjectBinding(flag string) (model.BindingRequest, error) {
	var b model.BindingRequest
	rest := flag
	if dir, tail, ok := strings.Cut(flag, "/"); ok {
		if d, known := types.ParseDirection(dir); known {
			b.Direction = d
			rest = tail
		}
	}
	if typeName, value, ok := strings.Cut(rest, "="); ok {
		b.ObjectType, b.ObjectValue = typeName, value
		return b, nil
	}
	id, err := parseUUID("object", rest)
	if err != nil {
		return b, err
	}
	b.ObjectID = id
	return b, nil
}

// parseTimestamp accepts RFC3339 or epoch milliseconds.
func parseTimestamp(name, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, errors.NewInvalidArgumentError("expected RFC3339 or epoch millis", "cli.timestamp", name, s)
	}
	return t.UnixMilli(), nil
}
