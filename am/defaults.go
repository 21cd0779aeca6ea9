package am

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/teranos/factgraph/fact/security"
)

// DefaultDirPermissions is used for ~/.factgraph
const DefaultDirPermissions = 0750

// Operator identity used when security.* is not configured. Stable across
// processes so facts created from the CLI stay readable by the next invocation.
var (
	DefaultSubjectID      = uuid.NewSHA1(uuid.NameSpaceOID, []byte("factgraph/operator"))
	DefaultOrganizationID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("factgraph/organization"))
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "factgraph.db")

	v.SetDefault("index.path", "factgraph.index")
	v.SetDefault("index.in_memory", false)
	v.SetDefault("index.sync_writes", false)
	v.SetDefault("index.gc_interval_seconds", 300)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_entries", 10000)

	v.SetDefault("trigger.workers", 2)
	v.SetDefault("trigger.queue_size", 256)
	v.SetDefault("trigger.max_events_per_second", 0.0)

	v.SetDefault("service.serialize_identical_facts", false)

	v.SetDefault("security.subject_id", DefaultSubjectID.String())
	v.SetDefault("security.organization_id", DefaultOrganizationID.String())
	functions := make([]string, 0, len(security.AllFunctions))
	for _, fn := range security.AllFunctions {
		functions = append(functions, string(fn))
	}
	v.SetDefault("security.functions", functions)

	v.SetDefault("reconcile.interval_seconds", 60)
}

// BindSensitiveEnvVars binds settings that are commonly injected by deployment tooling
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "FACTGRAPH_DATABASE_PATH")
	v.BindEnv("index.path", "FACTGRAPH_INDEX_PATH")
	v.BindEnv("security.subject_id", "FACTGRAPH_SECURITY_SUBJECT_ID")
	v.BindEnv("security.organization_id", "FACTGRAPH_SECURITY_ORGANIZATION_ID")
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Index: {Path: %s, InMemory: %t}, Cache: {Enabled: %t}, Subject: %s}",
		c.Database.Path, c.Index.Path, c.Index.InMemory, c.Cache.Enabled, c.Security.SubjectID)
}
