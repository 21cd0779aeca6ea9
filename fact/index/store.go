// Package index is the search index: a Badger-backed, denormalized document
// per Fact, used to find existing facts by fingerprint and to run
// access-filtered searches.
//
// The index is never authoritative. Documents may lag the primary store, and
// a Reconciler can re-derive any of them from it at any time.
//
// Key layout:
//
//	doc/<factID>                   JSON FactDocument
//	fp/<fingerprint>/<factID>      empty, dedup lookup
//	obj/<objectID>/<factID>        empty, object -> facts lookup
package index

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/logger"
)

const (
	docPrefix = "doc/"
	fpPrefix  = "fp/"
	objPrefix = "obj/"

	// maxConflictRetries bounds retries of a read-modify-write that lost an
	// optimistic transaction race.
	maxConflictRetries = 5
)

func docKey(id uuid.UUID) []byte { return []byte(docPrefix + id.String()) }

func fpKey(fp string, id uuid.UUID) []byte { return []byte(fpPrefix + fp + "/" + id.String()) }

func objKey(objectID, factID uuid.UUID) []byte {
	return []byte(objPrefix + objectID.String() + "/" + factID.String())
}

// Store is the Badger-backed fact index.
//
// Thread Safety: safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *zap.SugaredLogger

	stopGC context.CancelFunc
	wg     sync.WaitGroup
}

// Open opens (or creates) an index with cfg and starts value log GC when
// configured. Close releases both.
func Open(cfg Config, log *zap.SugaredLogger) (*Store, error) {
	log = logger.OrNop(log).Named("index")
	db, err := openBadger(cfg, log)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, logger: log}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		ctx, cancel := context.WithCancel(context.Background())
		s.stopGC = cancel
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			runGC(ctx, db, cfg.GCInterval, cfg.GCDiscardRatio, log)
		}()
	}

	log.Infow("Opened fact index", "in_memory", cfg.InMemory, logger.FieldPath, cfg.Path)
	return s, nil
}

// Close stops GC and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		s.stopGC()
	}
	s.wg.Wait()
	return errors.Wrap(s.db.Close(), "close fact index")
}

// IndexFact writes doc in full, replacing any previous document for the id.
func (s *Store) IndexFact(ctx context.Context, doc *FactDocument) error {
	if doc == nil {
		return nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "marshal document %s", doc.ID)
	}

	err = s.update(func(txn *badger.Txn) error {
		if err := txn.Set(docKey(doc.ID), raw); err != nil {
			return err
		}
		if err := txn.Set(fpKey(doc.Fingerprint().Key(), doc.ID), nil); err != nil {
			return err
		}
		for _, b := range doc.BoundObjects {
			if err := txn.Set(objKey(b.ObjectID, doc.ID), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "index fact %s", doc.ID)
	}

	s.logger.Debugw("Indexed fact", logger.FieldFactID, doc.ID, logger.FieldCount, len(doc.BoundObjects))
	return nil
}

// ReindexExistingFact applies mutate to the stored document and writes the
// result back. Fields mutate does not touch are preserved. mutate must not
// change fingerprint fields. A missing document yields an object-not-found
// error.
func (s *Store) ReindexExistingFact(ctx context.Context, factID uuid.UUID, mutate func(*FactDocument)) error {
	err := s.update(func(txn *badger.Txn) error {
		doc, err := getDocument(txn, factID)
		if err != nil {
			return err
		}
		if doc == nil {
			return errors.NewObjectNotFoundError("no index document for fact %s", factID)
		}
		mutate(doc)
		doc.ID = factID

		raw, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrapf(err, "marshal document %s", factID)
		}
		return txn.Set(docKey(factID), raw)
	})
	return errors.Wrapf(err, "reindex fact %s", factID)
}

// RetrieveExistingFacts returns every document whose fingerprint equals fp.
func (s *Store) RetrieveExistingFacts(ctx context.Context, fp Fingerprint) ([]*FactDocument, error) {
	var docs []*FactDocument
	err := s.db.View(func(txn *badger.Txn) error {
		ids := scanIDs(txn, []byte(fpPrefix+fp.Key()+"/"))
		for _, id := range ids {
			doc, err := getDocument(txn, id)
			if err != nil {
				return err
			}
			if doc != nil {
				docs = append(docs, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "retrieve existing facts")
	}
	return docs, nil
}

// GetDocument returns the document for factID, or nil.
func (s *Store) GetDocument(ctx context.Context, factID uuid.UUID) (*FactDocument, error) {
	var doc *FactDocument
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = getDocument(txn, factID)
		return err
	})
	return doc, errors.Wrapf(err, "get document %s", factID)
}

// DeleteDocument removes a document and its lookup keys.
func (s *Store) DeleteDocument(ctx context.Context, factID uuid.UUID) error {
	err := s.update(func(txn *badger.Txn) error {
		doc, err := getDocument(txn, factID)
		if err != nil || doc == nil {
			return err
		}
		if err := txn.Delete(fpKey(doc.Fingerprint().Key(), factID)); err != nil {
			return err
		}
		for _, b := range doc.BoundObjects {
			if err := txn.Delete(objKey(b.ObjectID, factID)); err != nil {
				return err
			}
		}
		return txn.Delete(docKey(factID))
	})
	return errors.Wrapf(err, "delete document %s", factID)
}

// DocumentIDs returns the ids of every indexed fact.
func (s *Store) DocumentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.View(func(txn *badger.Txn) error {
		ids = scanIDs(txn, []byte(docPrefix))
		return nil
	})
	return ids, errors.Wrap(err, "list document ids")
}

// update runs fn in a read-write transaction, retrying when another writer
// committed a conflicting change first.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debugw("Index transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func getDocument(txn *badger.Txn, id uuid.UUID) (*FactDocument, error) {
	item, err := txn.Get(docKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var doc FactDocument
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return nil, errors.Wrapf(err, "decode document %s", id)
	}
	return &doc, nil
}

// scanIDs collects the trailing fact id of every key under prefix.
func scanIDs(txn *badger.Txn, prefix []byte) []uuid.UUID {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []uuid.UUID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().Key()
		id, err := uuid.ParseBytes(key[len(prefix):])
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
