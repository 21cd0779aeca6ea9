package manager

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/fact/cache"
	"github.com/teranos/factgraph/fact/storage"
	"github.com/teranos/factgraph/fact/types"
)

// SourceManager caches Sources by id.
type SourceManager struct {
	store   *storage.Store
	sources *cache.Cache[uuid.UUID, *types.Source]
}

// NewSourceManager creates a SourceManager over store.
func NewSourceManager(store *storage.Store, opts Options) *SourceManager {
	return &SourceManager{
		store:   store,
		sources: cache.New[uuid.UUID, *types.Source](opts.MaxEntries, opts.CacheEnabled),
	}
}

// GetSource returns nil for uuid.Nil or an unknown id.
func (m *SourceManager) GetSource(ctx context.Context, id uuid.UUID) (*types.Source, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	s, _, err := m.sources.Get(ctx, id, func(ctx context.Context) (*types.Source, bool, error) {
		s, err := m.store.GetSourceByID(ctx, id)
		return s, s != nil, err
	})
	return s, err
}

// SaveSource persists s and evicts its cache entry.
func (m *SourceManager) SaveSource(ctx context.Context, s *types.Source) (*types.Source, error) {
	if s == nil {
		return nil, nil
	}
	if err := m.store.SaveSource(ctx, s); err != nil {
		return nil, err
	}
	m.sources.Invalidate(s.ID)
	return s, nil
}
