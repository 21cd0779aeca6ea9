package am

import (
	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/security"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database.path cannot be empty")
	}

	// Index path only matters for a persistent index
	if !c.Index.InMemory && c.Index.Path == "" {
		return errors.New("index.path cannot be empty unless index.in_memory is set")
	}
	if c.Index.GCIntervalSeconds < 0 {
		return errors.Newf("index.gc_interval_seconds must be >= 0, got %d", c.Index.GCIntervalSeconds)
	}

	// 0 = unbounded
	if c.Cache.MaxEntries < 0 {
		return errors.Newf("cache.max_entries must be >= 0, got %d", c.Cache.MaxEntries)
	}

	if c.Trigger.Workers < 1 {
		return errors.Newf("trigger.workers must be >= 1, got %d", c.Trigger.Workers)
	}
	if c.Trigger.QueueSize < 1 {
		return errors.Newf("trigger.queue_size must be >= 1, got %d", c.Trigger.QueueSize)
	}
	if c.Trigger.MaxEventsPerSecond < 0 {
		return errors.Newf("trigger.max_events_per_second must be >= 0, got %f", c.Trigger.MaxEventsPerSecond)
	}

	if _, err := uuid.Parse(c.Security.SubjectID); err != nil {
		return errors.Wrapf(err, "security.subject_id %q", c.Security.SubjectID)
	}
	if _, err := uuid.Parse(c.Security.OrganizationID); err != nil {
		return errors.Wrapf(err, "security.organization_id %q", c.Security.OrganizationID)
	}
	known := make(map[string]bool, len(security.AllFunctions))
	for _, fn := range security.AllFunctions {
		known[string(fn)] = true
	}
	for _, fn := range c.Security.Functions {
		if !known[fn] {
			return errors.Newf("security.functions: unknown function %q", fn)
		}
	}

	if c.Reconcile.IntervalSeconds < 1 {
		return errors.Newf("reconcile.interval_seconds must be >= 1, got %d", c.Reconcile.IntervalSeconds)
	}

	return nil
}
