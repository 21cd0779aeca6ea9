package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factgraph/am"
	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/types"
)

func testConfig(t *testing.T) *am.Config {
	t.Helper()
	dir := t.TempDir()

	v := viper.New()
	am.SetDefaults(v)
	v.Set("database.path", filepath.Join(dir, "facts.db"))
	v.Set("index.path", filepath.Join(dir, "index"))
	v.Set("index.gc_interval_seconds", 0)
	v.Set("trigger.workers", 1)

	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestOpenAppWiring(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.InMemory = true

	app, err := openApp(context.Background(), cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer app.Close()

	ctx := app.Context(context.Background())

	ipv4, err := app.Service.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "ipv4", Validator: "TagValidator", ValidatorParameter: "ipv4"})
	require.NoError(t, err)
	_, err = app.Service.CreateFactType(ctx, &model.CreateFactTypeRequest{
		Name:                   "seen",
		RelevantObjectBindings: []model.RelevantObjectBindingRequest{{ObjectType: ipv4.ID}},
	})
	require.NoError(t, err)

	f, err := app.Service.CreateFact(ctx, &model.CreateFactRequest{
		Type:     "seen",
		Bindings: []model.BindingRequest{{ObjectType: "ipv4", ObjectValue: "198.51.100.7"}},
	})
	require.NoError(t, err)
	assert.Equal(t, am.DefaultSubjectID, f.Source.ID)
	assert.Equal(t, am.DefaultOrganizationID, f.OrganizationID)

	stats, err := collectStats(context.Background(), app)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Facts)
	assert.Equal(t, 1, stats.IndexDocuments)
	assert.Empty(t, stats.IndexPath)
	assert.Contains(t, stats.Caches, "fact_by_id")
	assert.Contains(t, stats.Caches, "object_by_value")

	// The index is derived data: dropping it and rebuilding restores search.
	require.NoError(t, app.Index.DeleteDocument(context.Background(), f.ID))
	rebuilt, err := app.Reconciler.Rebuild(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rebuilt.Indexed)

	rs, err := app.Service.SearchFacts(ctx, &model.SearchFactRequest{FactTypes: []string{"seen"}})
	require.NoError(t, err)
	require.Len(t, rs.Values, 1)
	assert.Equal(t, f.ID, rs.Values[0].ID)
}

func TestOpenAppOperatorWithoutFunctions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.InMemory = true
	cfg.Security.Functions = nil

	app, err := openApp(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer app.Close()

	_, err = app.Service.CreateObjectType(app.Context(context.Background()), &model.CreateObjectTypeRequest{Name: "ipv4"})
	assert.True(t, errors.IsAccessDenied(err))
}

func TestOpenAppBadSecurityConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.InMemory = true
	cfg.Security.SubjectID = "operator"

	_, err := openApp(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "invalid security configuration")
}

func TestParseObjectBinding(t *testing.T) {
	id := uuid.New()
	tests := []struct {
		flag string
		want model.BindingRequest
	}{
		{"ipv4=198.51.100.7", model.BindingRequest{ObjectType: "ipv4", ObjectValue: "198.51.100.7"}},
		{"FactIsSource/domain=example.org", model.BindingRequest{ObjectType: "domain", ObjectValue: "example.org", Direction: types.DirectionFactIsSource}},
		{"url=https://example.org/a=b", model.BindingRequest{ObjectType: "url", ObjectValue: "https://example.org/a=b"}},
		{id.String(), model.BindingRequest{ObjectID: id}},
		{"BiDirectional/" + id.String(), model.BindingRequest{ObjectID: id, Direction: types.DirectionBiDirectional}},
	}
	for _, tt := range tests {
		t.Run(tt.flag, func(t *testing.T) {
			got, err := parseObjectBinding(tt.flag)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := parseObjectBinding("not-an-id")
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestParseTimestamp(t *testing.T) {
	ms, err := parseTimestamp("since", "")
	require.NoError(t, err)
	assert.Zero(t, ms)

	ms, err = parseTimestamp("since", "1700000000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), ms)

	ms, err = parseTimestamp("since", "2024-01-02T03:04:05Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixMilli(), ms)

	_, err = parseTimestamp("until", "yesterday")
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestParseAccessMode(t *testing.T) {
	mode, err := parseAccessMode("")
	require.NoError(t, err)
	assert.Nil(t, mode)

	mode, err = parseAccessMode("Explicit")
	require.NoError(t, err)
	assert.Equal(t, types.AccessModeExplicit, *mode)

	_, err = parseAccessMode("Secret")
	assert.True(t, errors.IsInvalidArgument(err))
}

type countingRebuilder struct {
	mu    sync.Mutex
	calls int
	fail  bool
	done  chan struct{}
}

func (r *countingRebuilder) Rebuild(ctx context.Context) (index.RebuildStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.calls == 3 {
		close(r.done)
	}
	if r.fail {
		return index.RebuildStats{}, errors.New("index unavailable")
	}
	return index.RebuildStats{Indexed: r.calls}, nil
}

func TestReconcileLoop(t *testing.T) {
	for _, fail := range []bool{false, true} {
		r := &countingRebuilder{fail: fail, done: make(chan struct{})}
		ctx, cancel := context.WithCancel(context.Background())

		intervals := make(chan time.Duration, 1)
		// Start slow and speed up through a config change.
		intervals <- 5 * time.Millisecond

		result := make(chan error, 1)
		go func() {
			result <- reconcileLoop(ctx, r, time.Hour, intervals, zaptest.NewLogger(t).Sugar())
		}()

		select {
		case <-r.done:
		case <-time.After(5 * time.Second):
			t.Fatal("interval change did not take effect")
		}
		cancel()
		assert.NoError(t, <-result, "failed rebuilds are retried, not returned")
	}
}

var commandRootOnce sync.Once
var commandRoot *cobra.Command

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	commandRootOnce.Do(func() {
		commandRoot = &cobra.Command{Use: "factgraph", SilenceUsage: true, SilenceErrors: true}
		commandRoot.AddCommand(TypeCmd, FactCmd, DbCmd, SourceCmd, VersionCmd)
	})

	var out bytes.Buffer
	commandRoot.SetOut(&out)
	commandRoot.SetArgs(args)
	require.NoError(t, commandRoot.Execute(), "factgraph %v", args)
	return out.Bytes()
}

func TestCommandsEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	loadConfig = func() (*am.Config, error) { return cfg, nil }
	t.Cleanup(func() { loadConfig = am.Load })

	run(t, "type", "add-object", "ipv4", "--validator", "TagValidator", "--validator-param", "ipv4", "--json")
	run(t, "type", "add-fact", "seen", "--binding", "ipv4:FactIsDestination", "--json")

	var listing typeListing
	require.NoError(t, json.Unmarshal(run(t, "type", "ls", "--json"), &listing))
	require.Len(t, listing.ObjectTypes, 1)
	names := make([]string, 0, len(listing.FactTypes))
	for _, ft := range listing.FactTypes {
		names = append(names, ft.Name)
	}
	assert.ElementsMatch(t, []string{"seen", "Retraction"}, names)

	var created model.Fact
	require.NoError(t, json.Unmarshal(run(t, "fact", "add", "seen", "--object", "FactIsDestination/ipv4=198.51.100.7", "--comment", "honeypot hit", "--json"), &created))
	require.Len(t, created.Objects, 1)
	assert.Equal(t, "198.51.100.7", created.Objects[0].Object.Value)
	assert.Equal(t, "RoleBased", created.AccessMode)

	// A separate invocation opens the stores again and finds the fact.
	var found model.ResultSet[*model.Fact]
	require.NoError(t, json.Unmarshal(run(t, "fact", "search", "--type", "seen", "--json"), &found))
	require.Len(t, found.Values, 1)
	assert.Equal(t, created.ID, found.Values[0].ID)

	var got model.Fact
	require.NoError(t, json.Unmarshal(run(t, "fact", "get", created.ID.String(), "--json"), &got))
	assert.Equal(t, created.ID, got.ID)

	var comments []*model.FactComment
	require.NoError(t, json.Unmarshal(run(t, "fact", "comments", created.ID.String(), "--json"), &comments))
	require.Len(t, comments, 1)
	assert.Equal(t, "honeypot hit", comments[0].Comment)

	var retraction model.Fact
	require.NoError(t, json.Unmarshal(run(t, "fact", "retract", created.ID.String(), "--json"), &retraction))
	require.NotNil(t, retraction.InReferenceTo)
	assert.Equal(t, created.ID, retraction.InReferenceTo.ID)

	var stats DbStats
	require.NoError(t, json.Unmarshal(run(t, "db", "stats", "--json"), &stats))
	assert.Equal(t, 2, stats.Facts)
	assert.Equal(t, 2, stats.IndexDocuments)
}
