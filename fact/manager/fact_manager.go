package manager

import (
	"context"
	"iter"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/cache"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/storage"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/logger"
)

// FactManager caches FactTypes and Facts and owns the append-only ACL and
// comment records attached to Facts.
type FactManager struct {
	store    *storage.Store
	handlers *handler.Factory
	clock    Clock
	logger   *zap.SugaredLogger

	typesByID   *cache.Cache[uuid.UUID, *types.FactType]
	typesByName *cache.Cache[string, *types.FactType]
	facts       *cache.Cache[uuid.UUID, *types.Fact]
}

// NewFactManager creates a FactManager over store.
func NewFactManager(store *storage.Store, opts Options) *FactManager {
	opts = opts.withDefaults()
	return &FactManager{
		store:       store,
		handlers:    opts.Handlers,
		clock:       opts.Clock,
		logger:      opts.Logger.Named("fact-manager"),
		typesByID:   cache.New[uuid.UUID, *types.FactType](opts.MaxEntries, opts.CacheEnabled),
		typesByName: cache.New[string, *types.FactType](opts.MaxEntries, opts.CacheEnabled),
		facts:       cache.New[uuid.UUID, *types.Fact](opts.MaxEntries, opts.CacheEnabled),
	}
}

// Now returns the manager clock's current time in Unix milliseconds.
func (m *FactManager) Now() int64 {
	return m.clock().UnixMilli()
}

// GetFactType returns nil for uuid.Nil or an unknown id.
func (m *FactManager) GetFactType(ctx context.Context, id uuid.UUID) (*types.FactType, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t, _, err := m.typesByID.Get(ctx, id, func(ctx context.Context) (*types.FactType, bool, error) {
		t, err := m.store.GetFactTypeByID(ctx, id)
		return t, t != nil, err
	})
	return t, err
}

// GetFactTypeByName returns nil for "" or an unknown name.
func (m *FactManager) GetFactTypeByName(ctx context.Context, name string) (*types.FactType, error) {
	if name == "" {
		return nil, nil
	}
	t, _, err := m.typesByName.Get(ctx, name, func(ctx context.Context) (*types.FactType, bool, error) {
		t, err := m.store.GetFactTypeByName(ctx, name)
		return t, t != nil, err
	})
	return t, err
}

// SaveFactType persists t and evicts it from both caches.
// A duplicate name yields an invalid-argument error.
func (m *FactManager) SaveFactType(ctx context.Context, t *types.FactType) (*types.FactType, error) {
	if t == nil {
		return nil, nil
	}

	previous, err := m.store.GetFactTypeByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveFactType(ctx, t); err != nil {
		return nil, err
	}

	m.typesByID.Invalidate(t.ID)
	if previous != nil && previous.Name != t.Name {
		m.typesByName.Invalidate(previous.Name, t.Name)
	} else {
		m.typesByName.Invalidate(t.Name)
	}

	m.logger.Debugw("Saved fact type", logger.FieldFactType, t.Name, "id", t.ID)
	return t, nil
}

// FetchFactTypes lists every fact type. The list is not cached.
func (m *FactManager) FetchFactTypes(ctx context.Context) ([]*types.FactType, error) {
	return m.store.ListFactTypes(ctx)
}

// GetFact returns the decoded fact, or nil for uuid.Nil or an unknown id.
// Repeated calls return the same instance until the fact is written again.
func (m *FactManager) GetFact(ctx context.Context, id uuid.UUID) (*types.Fact, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	f, _, err := m.facts.Get(ctx, id, func(ctx context.Context) (*types.Fact, bool, error) {
		stored, err := m.store.GetFactByID(ctx, id)
		if err != nil || stored == nil {
			return nil, false, err
		}
		f, err := m.decode(ctx, stored)
		return f, f != nil, err
	})
	return f, err
}

// GetFacts fetches the stored rows for ids at call time and returns a
// sequence that decodes each fact only as it is consumed. Unknown ids are
// skipped. Iteration stops at the first decode error.
func (m *FactManager) GetFacts(ctx context.Context, ids []uuid.UUID) (iter.Seq2[*types.Fact, error], error) {
	stored, err := m.store.GetFactsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	return func(yield func(*types.Fact, error) bool) {
		for _, raw := range stored {
			f, err := m.decode(ctx, raw)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}, nil
}

// ListFactIDs pages through stored fact ids in ascending order.
func (m *FactManager) ListFactIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	return m.store.ListFactIDs(ctx, after, limit)
}

// SaveFact persists a new fact. The fact's type must exist. A fact id that is
// already stored cannot be saved again.
func (m *FactManager) SaveFact(ctx context.Context, f *types.Fact) (*types.Fact, error) {
	if f == nil {
		return nil, nil
	}

	t, err := m.GetFactType(ctx, f.TypeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Fact type does not exist.", "fact.type.not.exist", "typeID", f.TypeID.String()))
	}

	encoded, err := encodeValue(m.handlers, t.EntityHandler, t.EntityHandlerParameter, f.Value)
	if err != nil {
		return nil, err
	}
	row := *f
	row.Value = encoded

	inserted, err := m.store.InsertFact(ctx, &row)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errors.NewImmutableViolationError("fact %s already exists", f.ID)
	}

	m.facts.Invalidate(f.ID)
	m.logger.Debugw("Saved fact",
		logger.FieldFactID, f.ID,
		logger.FieldFactType, t.Name,
		logger.FieldOrganizationID, f.OrganizationID,
	)
	return f, nil
}

// RefreshFact sets the fact's last-seen timestamp to the clock's current
// time and returns the refreshed fact. Every other field is left unchanged.
func (m *FactManager) RefreshFact(ctx context.Context, id uuid.UUID) (*types.Fact, error) {
	existing, err := m.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Fact does not exist.", "fact.not.exist", "id", id.String()))
	}

	lastSeen := m.Now()
	updated, err := m.store.UpdateFactLastSeen(ctx, id, lastSeen)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Fact does not exist.", "fact.not.exist", "id", id.String()))
	}
	m.facts.Invalidate(id)

	return existing.WithLastSeen(lastSeen), nil
}

// SaveFactAclEntry appends e to its fact's ACL.
func (m *FactManager) SaveFactAclEntry(ctx context.Context, e *types.FactAclEntry) (*types.FactAclEntry, error) {
	if e == nil {
		return nil, nil
	}
	if err := m.requireFact(ctx, e.FactID); err != nil {
		return nil, err
	}

	inserted, err := m.store.InsertFactAclEntry(ctx, e)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errors.NewImmutableViolationError("acl entry %s of fact %s already exists", e.ID, e.FactID)
	}
	return e, nil
}

// FetchFactAcl returns the fact's ACL in insertion order.
func (m *FactManager) FetchFactAcl(ctx context.Context, factID uuid.UUID) ([]*types.FactAclEntry, error) {
	if factID == uuid.Nil {
		return nil, nil
	}
	return m.store.ListFactAcl(ctx, factID)
}

// SaveFactComment appends c to its fact's comments.
func (m *FactManager) SaveFactComment(ctx context.Context, c *types.FactComment) (*types.FactComment, error) {
	if c == nil {
		return nil, nil
	}
	if err := m.requireFact(ctx, c.FactID); err != nil {
		return nil, err
	}

	inserted, err := m.store.InsertFactComment(ctx, c)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errors.NewImmutableViolationError("comment %s of fact %s already exists", c.ID, c.FactID)
	}
	return c, nil
}

// FetchFactComments returns the fact's comments in insertion order.
func (m *FactManager) FetchFactComments(ctx context.Context, factID uuid.UUID) ([]*types.FactComment, error) {
	if factID == uuid.Nil {
		return nil, nil
	}
	return m.store.ListFactComments(ctx, factID)
}

// CacheStats reports per-cache counters keyed by cache name.
func (m *FactManager) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"fact_type_by_id":   m.typesByID.Stats(),
		"fact_type_by_name": m.typesByName.Stats(),
		"fact_by_id":        m.facts.Stats(),
	}
}

func (m *FactManager) requireFact(ctx context.Context, id uuid.UUID) error {
	f, err := m.GetFact(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return errors.WithStack(errors.NewInvalidArgumentError(
			"Fact does not exist.", "fact.not.exist", "factID", id.String()))
	}
	return nil
}

func (m *FactManager) decode(ctx context.Context, stored *types.Fact) (*types.Fact, error) {
	t, err := m.GetFactType(ctx, stored.TypeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf("fact %s references missing fact type %s", stored.ID, stored.TypeID)
	}
	value, err := decodeValue(m.handlers, t.EntityHandler, t.EntityHandlerParameter, stored.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "decode fact %s", stored.ID)
	}
	f := *stored
	f.Value = value
	return &f, nil
}
