package index

import (
	"context"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// DefaultSearchLimit applies when SearchCriteria.Limit is zero.
const DefaultSearchLimit = 25

// SearchCriteria selects documents. Empty fields do not filter. Multiple
// values in one field are alternatives; different fields must all match.
type SearchCriteria struct {
	FactTypeIDs     []uuid.UUID
	FactValues      []string
	ObjectIDs       []uuid.UUID
	OrganizationIDs []uuid.UUID
	SourceIDs       []uuid.UUID
	AccessModes     []types.AccessMode
	InReferenceTo   []uuid.UUID
	// StartTimestamp and EndTimestamp bound LastSeenTimestamp (Unix ms, inclusive). 0 means open.
	StartTimestamp int64
	EndTimestamp   int64
	Limit          int
}

// AccessFilter restricts results to documents a subject may see:
// Public documents, RoleBased documents of the given organizations, and any
// document whose ACL contains the subject.
type AccessFilter struct {
	SubjectID       uuid.UUID
	OrganizationIDs []uuid.UUID
}

// ResultSet is one page of search results.
type ResultSet struct {
	Values []*FactDocument
	// Count is the number of matching documents before the limit.
	Count int
	Limit int
}

// Visible reports whether the filter admits doc.
func (a AccessFilter) Visible(doc *FactDocument) bool {
	switch doc.AccessMode {
	case types.AccessModePublic:
		return true
	case types.AccessModeRoleBased:
		if slices.Contains(a.OrganizationIDs, doc.OrganizationID) {
			return true
		}
	}
	return doc.HasAclSubject(a.SubjectID)
}

type matcher struct {
	types     mapset.Set[uuid.UUID]
	values    mapset.Set[string]
	objects   mapset.Set[uuid.UUID]
	orgs      mapset.Set[uuid.UUID]
	sources   mapset.Set[uuid.UUID]
	modes     mapset.Set[types.AccessMode]
	reference mapset.Set[uuid.UUID]
	start     int64
	end       int64
}

func newMatcher(c SearchCriteria) *matcher {
	return &matcher{
		types:     mapset.NewThreadUnsafeSet(c.FactTypeIDs...),
		values:    mapset.NewThreadUnsafeSet(c.FactValues...),
		objects:   mapset.NewThreadUnsafeSet(c.ObjectIDs...),
		orgs:      mapset.NewThreadUnsafeSet(c.OrganizationIDs...),
		sources:   mapset.NewThreadUnsafeSet(c.SourceIDs...),
		modes:     mapset.NewThreadUnsafeSet(c.AccessModes...),
		reference: mapset.NewThreadUnsafeSet(c.InReferenceTo...),
		start:     c.StartTimestamp,
		end:       c.EndTimestamp,
	}
}

func admits[T comparable](set mapset.Set[T], v T) bool {
	return set.Cardinality() == 0 || set.Contains(v)
}

func (m *matcher) match(doc *FactDocument) bool {
	if !admits(m.types, doc.TypeID) ||
		!admits(m.values, doc.Value) ||
		!admits(m.orgs, doc.OrganizationID) ||
		!admits(m.sources, doc.SourceID) ||
		!admits(m.modes, doc.AccessMode) ||
		!admits(m.reference, doc.InReferenceToID) {
		return false
	}
	if m.start > 0 && doc.LastSeenTimestamp < m.start {
		return false
	}
	if m.end > 0 && doc.LastSeenTimestamp > m.end {
		return false
	}
	if m.objects.Cardinality() > 0 {
		for _, b := range doc.BoundObjects {
			if m.objects.Contains(b.ObjectID) {
				return true
			}
		}
		return false
	}
	return true
}

// SearchFacts returns documents matching criteria that access admits, newest
// LastSeenTimestamp first.
func (s *Store) SearchFacts(ctx context.Context, criteria SearchCriteria, access AccessFilter) (*ResultSet, error) {
	limit := criteria.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	m := newMatcher(criteria)

	var matched []*FactDocument
	err := s.db.View(func(txn *badger.Txn) error {
		for _, id := range candidateIDs(txn, criteria.ObjectIDs) {
			if err := ctx.Err(); err != nil {
				return err
			}
			doc, err := getDocument(txn, id)
			if err != nil {
				return err
			}
			if doc != nil && m.match(doc) && access.Visible(doc) {
				matched = append(matched, doc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "search facts")
	}

	slices.SortStableFunc(matched, func(a, b *FactDocument) int {
		switch {
		case a.LastSeenTimestamp > b.LastSeenTimestamp:
			return -1
		case a.LastSeenTimestamp < b.LastSeenTimestamp:
			return 1
		}
		return 0
	})

	rs := &ResultSet{Count: len(matched), Limit: limit, Values: matched}
	if len(matched) > limit {
		rs.Values = matched[:limit]
	}
	return rs, nil
}

// candidateIDs narrows the scan through the object lookup keys when the
// search is anchored on objects, and falls back to every document otherwise.
func candidateIDs(txn *badger.Txn, objectIDs []uuid.UUID) []uuid.UUID {
	if len(objectIDs) == 0 {
		return scanIDs(txn, []byte(docPrefix))
	}
	seen := mapset.NewThreadUnsafeSet[uuid.UUID]()
	var out []uuid.UUID
	for _, objectID := range objectIDs {
		for _, id := range scanIDs(txn, []byte(objPrefix+objectID.String()+"/")) {
			if seen.Add(id) {
				out = append(out, id)
			}
		}
	}
	return out
}
