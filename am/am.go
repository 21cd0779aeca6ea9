package am

import (
	"time"

	"github.com/google/uuid"
)

// Config represents the factgraph configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Index     IndexConfig     `mapstructure:"index"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Trigger   TriggerConfig   `mapstructure:"trigger"`
	Service   ServiceConfig   `mapstructure:"service"`
	Security  SecurityConfig  `mapstructure:"security"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
}

// DatabaseConfig configures the SQLite primary store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// IndexConfig configures the Badger search index
type IndexConfig struct {
	Path              string `mapstructure:"path"`
	InMemory          bool   `mapstructure:"in_memory"`   // index lives in RAM; rebuilt by `reconcile`
	SyncWrites        bool   `mapstructure:"sync_writes"` // fsync every commit
	GCIntervalSeconds int    `mapstructure:"gc_interval_seconds"`
}

// GCInterval returns the value log GC interval. 0 disables GC.
func (c IndexConfig) GCInterval() time.Duration {
	return time.Duration(c.GCIntervalSeconds) * time.Second
}

// CacheConfig configures the manager caches
type CacheConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	MaxEntries int  `mapstructure:"max_entries"` // per cache, 0 = unbounded
}

// TriggerConfig sizes the trigger event dispatcher
type TriggerConfig struct {
	Workers            int     `mapstructure:"workers"`
	QueueSize          int     `mapstructure:"queue_size"`
	MaxEventsPerSecond float64 `mapstructure:"max_events_per_second"` // per sink, 0 = unlimited
}

// ServiceConfig tunes the fact orchestrator
type ServiceConfig struct {
	// SerializeIdenticalFacts serializes concurrent creates of the same fingerprint in one process
	SerializeIdenticalFacts bool `mapstructure:"serialize_identical_facts"`
}

// SecurityConfig is the operator identity the CLI acts as
type SecurityConfig struct {
	SubjectID      string   `mapstructure:"subject_id"`
	OrganizationID string   `mapstructure:"organization_id"`
	Functions      []string `mapstructure:"functions"`
}

// Subject parses the configured subject and organization ids.
func (c SecurityConfig) Subject() (subjectID, organizationID uuid.UUID, err error) {
	if subjectID, err = uuid.Parse(c.SubjectID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	if organizationID, err = uuid.Parse(c.OrganizationID); err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return subjectID, organizationID, nil
}

// ReconcileConfig configures `factgraph reconcile --watch`
type ReconcileConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// Interval returns the pause between two index rebuilds.
func (c ReconcileConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
