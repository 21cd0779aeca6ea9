package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factgraph/fact/security"
)

// isolate points HOME and the working directory at fresh temp dirs so no
// real config files leak into a test.
func isolate(t *testing.T) (home, project string) {
	t.Helper()
	home = t.TempDir()
	project = t.TempDir()
	t.Setenv("HOME", home)
	t.Chdir(project)
	Reset()
	t.Cleanup(Reset)
	return home, project
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "factgraph.db", cfg.Database.Path)
	assert.Equal(t, "factgraph.index", cfg.Index.Path)
	assert.False(t, cfg.Index.InMemory)
	assert.Equal(t, 5*time.Minute, cfg.Index.GCInterval())
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 10000, cfg.Cache.MaxEntries)
	assert.Equal(t, 2, cfg.Trigger.Workers)
	assert.Equal(t, 256, cfg.Trigger.QueueSize)
	assert.Zero(t, cfg.Trigger.MaxEventsPerSecond)
	assert.False(t, cfg.Service.SerializeIdenticalFacts)
	assert.Equal(t, time.Minute, cfg.Reconcile.Interval())

	subject, org, err := cfg.Security.Subject()
	require.NoError(t, err)
	assert.Equal(t, DefaultSubjectID, subject)
	assert.Equal(t, DefaultOrganizationID, org)
	assert.Len(t, cfg.Security.Functions, len(security.AllFunctions))

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, cfg, again, "Load caches until Reset")
}

func TestLoad_Precedence(t *testing.T) {
	home, project := isolate(t)

	writeFile(t, filepath.Join(home, ".factgraph", "am.toml"), `
[database]
path = "user.db"

[trigger]
workers = 4
queue_size = 64
`)
	writeFile(t, filepath.Join(project, "am.toml"), `
[trigger]
workers = 8
`)
	t.Setenv("FACTGRAPH_TRIGGER_QUEUE_SIZE", "512")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "user.db", cfg.Database.Path, "user file over default")
	assert.Equal(t, 8, cfg.Trigger.Workers, "project file over user file")
	assert.Equal(t, 512, cfg.Trigger.QueueSize, "environment over files")
	assert.Equal(t, 10000, cfg.Cache.MaxEntries, "untouched keys keep defaults")

	assert.Equal(t, SourceUser, ConfigSources["database.path"].Source)
	assert.Equal(t, SourceProject, ConfigSources["trigger.workers"].Source)
}

func TestLoad_ProjectConfigFoundInParent(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, "am.toml"), `
[index]
in_memory = true
`)
	nested := filepath.Join(project, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	t.Chdir(nested)

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Index.InMemory)
}

func TestLoad_InvalidConfig(t *testing.T) {
	_, project := isolate(t)

	writeFile(t, filepath.Join(project, "am.toml"), `
[security]
subject_id = "not-a-uuid"
`)

	_, err := Load()
	assert.ErrorContains(t, err, "security.subject_id")
}

func TestLoadFromFile(t *testing.T) {
	isolate(t)
	t.Setenv("FACTGRAPH_DATABASE_PATH", "ignored.db")

	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[database]
path = "/var/lib/factgraph/facts.db"

[service]
serialize_identical_facts = true

[security]
functions = ["viewFactObjects", "viewTypes"]
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/factgraph/facts.db", cfg.Database.Path)
	assert.True(t, cfg.Service.SerializeIdenticalFacts)
	assert.Equal(t, []string{"viewFactObjects", "viewTypes"}, cfg.Security.Functions)

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestSetDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	for _, key := range []string{
		"database.path",
		"index.path",
		"index.in_memory",
		"cache.enabled",
		"cache.max_entries",
		"trigger.workers",
		"service.serialize_identical_facts",
		"security.subject_id",
		"security.functions",
		"reconcile.interval_seconds",
	} {
		assert.True(t, v.IsSet(key), key)
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"empty index path", func(c *Config) { c.Index.Path = "" }, "index.path"},
		{"in-memory index needs no path", func(c *Config) { c.Index.Path = ""; c.Index.InMemory = true }, ""},
		{"negative gc interval", func(c *Config) { c.Index.GCIntervalSeconds = -1 }, "index.gc_interval_seconds"},
		{"zero gc interval disables gc", func(c *Config) { c.Index.GCIntervalSeconds = 0 }, ""},
		{"negative cache size", func(c *Config) { c.Cache.MaxEntries = -1 }, "cache.max_entries"},
		{"unbounded cache", func(c *Config) { c.Cache.MaxEntries = 0 }, ""},
		{"no workers", func(c *Config) { c.Trigger.Workers = 0 }, "trigger.workers"},
		{"no queue", func(c *Config) { c.Trigger.QueueSize = 0 }, "trigger.queue_size"},
		{"negative rate", func(c *Config) { c.Trigger.MaxEventsPerSecond = -1 }, "trigger.max_events_per_second"},
		{"bad organization", func(c *Config) { c.Security.OrganizationID = "x" }, "security.organization_id"},
		{"unknown function", func(c *Config) { c.Security.Functions = []string{"deleteEverything"} }, "deleteEverything"},
		{"no functions", func(c *Config) { c.Security.Functions = nil }, ""},
		{"zero reconcile interval", func(c *Config) { c.Reconcile.IntervalSeconds = 0 }, "reconcile.interval_seconds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
