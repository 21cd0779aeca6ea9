package index

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/logger"
)

// rebuildPageSize is how many fact ids a rebuild reads per page.
const rebuildPageSize = 500

// FactSource is the primary-store view a Reconciler derives documents from.
type FactSource interface {
	ListFactIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error)
	GetFact(ctx context.Context, id uuid.UUID) (*types.Fact, error)
	FetchFactAcl(ctx context.Context, factID uuid.UUID) ([]*types.FactAclEntry, error)
}

// RebuildStats summarizes a rebuild.
type RebuildStats struct {
	Indexed int
	Removed int
}

// Reconciler repairs the index from the primary store. Every operation is
// idempotent: running it twice leaves the same documents.
type Reconciler struct {
	source FactSource
	index  *Store
	logger *zap.SugaredLogger
}

// NewReconciler creates a reconciler.
func NewReconciler(source FactSource, index *Store, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		source: source,
		index:  index,
		logger: logger.OrNop(log).Named("reconciler"),
	}
}

// ReindexFact re-derives one document. A fact that no longer exists in the
// primary store has its document removed.
func (r *Reconciler) ReindexFact(ctx context.Context, id uuid.UUID) error {
	f, err := r.source.GetFact(ctx, id)
	if err != nil {
		return err
	}
	if f == nil {
		return r.index.DeleteDocument(ctx, id)
	}

	acl, err := r.source.FetchFactAcl(ctx, id)
	if err != nil {
		return err
	}
	subjects := make([]uuid.UUID, 0, len(acl))
	for _, e := range acl {
		subjects = append(subjects, e.SubjectID)
	}
	return r.index.IndexFact(ctx, NewFactDocument(f, subjects))
}

// Rebuild re-derives every document from the primary store and drops
// documents whose fact is gone.
func (r *Reconciler) Rebuild(ctx context.Context) (RebuildStats, error) {
	var stats RebuildStats
	live := make(map[uuid.UUID]struct{})

	after := uuid.Nil
	for {
		ids, err := r.source.ListFactIDs(ctx, after, rebuildPageSize)
		if err != nil {
			return stats, errors.Wrap(err, "list facts for rebuild")
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			if err := r.ReindexFact(ctx, id); err != nil {
				return stats, errors.Wrapf(err, "rebuild fact %s", id)
			}
			live[id] = struct{}{}
			stats.Indexed++
		}
		after = ids[len(ids)-1]
	}

	indexed, err := r.index.DocumentIDs(ctx)
	if err != nil {
		return stats, err
	}
	for _, id := range indexed {
		if _, ok := live[id]; ok {
			continue
		}
		// Facts created while the rebuild ran are not in live yet but still exist.
		f, err := r.source.GetFact(ctx, id)
		if err != nil {
			return stats, err
		}
		if f != nil {
			continue
		}
		if err := r.index.DeleteDocument(ctx, id); err != nil {
			return stats, err
		}
		stats.Removed++
	}

	r.logger.Infow("Rebuilt fact index", "indexed", stats.Indexed, "removed", stats.Removed)
	return stats, nil
}
