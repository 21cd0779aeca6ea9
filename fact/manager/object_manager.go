package manager

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/cache"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/storage"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/logger"
)

type typeValueKey struct {
	typeID uuid.UUID
	value  string
}

// ObjectManager caches ObjectTypes and Objects.
type ObjectManager struct {
	store    *storage.Store
	handlers *handler.Factory
	logger   *zap.SugaredLogger

	typesByID   *cache.Cache[uuid.UUID, *types.ObjectType]
	typesByName *cache.Cache[string, *types.ObjectType]
	objectsByID *cache.Cache[uuid.UUID, *types.Object]
	objectsByTV *cache.Cache[typeValueKey, *types.Object]
}

// NewObjectManager creates an ObjectManager over store.
func NewObjectManager(store *storage.Store, opts Options) *ObjectManager {
	opts = opts.withDefaults()
	return &ObjectManager{
		store:       store,
		handlers:    opts.Handlers,
		logger:      opts.Logger.Named("object-manager"),
		typesByID:   cache.New[uuid.UUID, *types.ObjectType](opts.MaxEntries, opts.CacheEnabled),
		typesByName: cache.New[string, *types.ObjectType](opts.MaxEntries, opts.CacheEnabled),
		objectsByID: cache.New[uuid.UUID, *types.Object](opts.MaxEntries, opts.CacheEnabled),
		objectsByTV: cache.New[typeValueKey, *types.Object](opts.MaxEntries, opts.CacheEnabled),
	}
}

// GetObjectType returns nil for uuid.Nil or an unknown id.
func (m *ObjectManager) GetObjectType(ctx context.Context, id uuid.UUID) (*types.ObjectType, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	t, _, err := m.typesByID.Get(ctx, id, func(ctx context.Context) (*types.ObjectType, bool, error) {
		t, err := m.store.GetObjectTypeByID(ctx, id)
		return t, t != nil, err
	})
	return t, err
}

// GetObjectTypeByName returns nil for "" or an unknown name.
func (m *ObjectManager) GetObjectTypeByName(ctx context.Context, name string) (*types.ObjectType, error) {
	if name == "" {
		return nil, nil
	}
	t, _, err := m.typesByName.Get(ctx, name, func(ctx context.Context) (*types.ObjectType, bool, error) {
		t, err := m.store.GetObjectTypeByName(ctx, name)
		return t, t != nil, err
	})
	return t, err
}

// SaveObjectType persists t and evicts it from both caches.
// A duplicate name yields an invalid-argument error.
func (m *ObjectManager) SaveObjectType(ctx context.Context, t *types.ObjectType) (*types.ObjectType, error) {
	if t == nil {
		return nil, nil
	}

	previous, err := m.store.GetObjectTypeByID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	if err := m.store.SaveObjectType(ctx, t); err != nil {
		return nil, err
	}

	m.typesByID.Invalidate(t.ID)
	if previous != nil && previous.Name != t.Name {
		m.typesByName.Invalidate(previous.Name, t.Name)
	} else {
		m.typesByName.Invalidate(t.Name)
	}

	m.logger.Debugw("Saved object type", logger.FieldObjectType, t.Name, "id", t.ID)
	return t, nil
}

// FetchObjectTypes lists every object type. The list is not cached.
func (m *ObjectManager) FetchObjectTypes(ctx context.Context) ([]*types.ObjectType, error) {
	return m.store.ListObjectTypes(ctx)
}

// GetObject returns the decoded object, or nil for uuid.Nil or an unknown id.
func (m *ObjectManager) GetObject(ctx context.Context, id uuid.UUID) (*types.Object, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	o, _, err := m.objectsByID.Get(ctx, id, func(ctx context.Context) (*types.Object, bool, error) {
		stored, err := m.store.GetObjectByID(ctx, id)
		if err != nil || stored == nil {
			return nil, false, err
		}
		o, err := m.decode(ctx, stored)
		return o, o != nil, err
	})
	return o, err
}

// GetObjectByTypeValue returns the object of typeID holding the (decoded)
// value, or nil when there is none.
func (m *ObjectManager) GetObjectByTypeValue(ctx context.Context, typeID uuid.UUID, value string) (*types.Object, error) {
	if typeID == uuid.Nil {
		return nil, nil
	}
	key := typeValueKey{typeID: typeID, value: value}
	o, _, err := m.objectsByTV.Get(ctx, key, func(ctx context.Context) (*types.Object, bool, error) {
		t, err := m.GetObjectType(ctx, typeID)
		if err != nil || t == nil {
			return nil, false, err
		}
		encoded, err := encodeValue(m.handlers, t.EntityHandler, t.EntityHandlerParameter, value)
		if err != nil {
			return nil, false, err
		}
		stored, err := m.store.GetObjectByTypeValue(ctx, typeID, encoded)
		if err != nil || stored == nil {
			return nil, false, err
		}
		return &types.Object{ID: stored.ID, TypeID: stored.TypeID, Value: value}, true, nil
	})
	return o, err
}

// SaveObject persists a new object. The object's type must exist. Saving an
// object whose id, or whose type and value, is already stored fails with an
// immutable-violation error.
func (m *ObjectManager) SaveObject(ctx context.Context, o *types.Object) (*types.Object, error) {
	if o == nil {
		return nil, nil
	}

	t, err := m.GetObjectType(ctx, o.TypeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Object type does not exist.", "object.type.not.exist", "typeID", o.TypeID.String()))
	}

	encoded, err := encodeValue(m.handlers, t.EntityHandler, t.EntityHandlerParameter, o.Value)
	if err != nil {
		return nil, err
	}
	inserted, err := m.store.InsertObject(ctx, &types.Object{ID: o.ID, TypeID: o.TypeID, Value: encoded})
	if err != nil {
		return nil, err
	}
	if !inserted {
		return nil, errors.NewImmutableViolationError("object %s (%s=%q) already exists", o.ID, t.Name, o.Value)
	}

	m.objectsByID.Invalidate(o.ID)
	m.objectsByTV.Invalidate(typeValueKey{typeID: o.TypeID, value: o.Value})
	return o, nil
}

// GetOrCreateObject resolves (typeID, value) to an object, creating it when
// absent. Concurrent callers racing on the same pair all end up with the
// object that won the insert.
func (m *ObjectManager) GetOrCreateObject(ctx context.Context, typeID uuid.UUID, value string) (*types.Object, error) {
	existing, err := m.GetObjectByTypeValue(ctx, typeID, value)
	if err != nil || existing != nil {
		return existing, err
	}

	created, err := m.SaveObject(ctx, &types.Object{ID: uuid.New(), TypeID: typeID, Value: value})
	if err == nil {
		m.logger.Debugw("Created object", logger.FieldObjectID, created.ID, "type_id", typeID)
		return created, nil
	}
	if !errors.IsImmutableViolation(err) {
		return nil, err
	}

	existing, err = m.GetObjectByTypeValue(ctx, typeID, value)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.Newf("object %s=%q lost insert race but is not readable", typeID, value)
	}
	return existing, nil
}

// SaveObjectFactBinding records the object -> fact traversal edge.
func (m *ObjectManager) SaveObjectFactBinding(ctx context.Context, b *types.ObjectFactBinding) (*types.ObjectFactBinding, error) {
	if b == nil {
		return nil, nil
	}
	if err := m.store.InsertObjectFactBinding(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// FetchObjectFactBindings returns every fact bound to objectID. Unknown or
// nil ids yield an empty result.
func (m *ObjectManager) FetchObjectFactBindings(ctx context.Context, objectID uuid.UUID) ([]*types.ObjectFactBinding, error) {
	if objectID == uuid.Nil {
		return nil, nil
	}
	return m.store.ListObjectFactBindings(ctx, objectID)
}

// CacheStats reports per-cache counters keyed by cache name.
func (m *ObjectManager) CacheStats() map[string]cache.Stats {
	return map[string]cache.Stats{
		"object_type_by_id":   m.typesByID.Stats(),
		"object_type_by_name": m.typesByName.Stats(),
		"object_by_id":        m.objectsByID.Stats(),
		"object_by_value":     m.objectsByTV.Stats(),
	}
}

func (m *ObjectManager) decode(ctx context.Context, stored *types.Object) (*types.Object, error) {
	t, err := m.GetObjectType(ctx, stored.TypeID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.Newf("object %s references missing object type %s", stored.ID, stored.TypeID)
	}
	value, err := decodeValue(m.handlers, t.EntityHandler, t.EntityHandlerParameter, stored.Value)
	if err != nil {
		return nil, errors.Wrapf(err, "decode object %s", stored.ID)
	}
	return &types.Object{ID: stored.ID, TypeID: stored.TypeID, Value: value}, nil
}
