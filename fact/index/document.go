package index

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/teranos/factgraph/fact/types"
)

// FactDocument is the index projection of a Fact.
type FactDocument struct {
	ID                uuid.UUID                 `json:"id"`
	TypeID            uuid.UUID                 `json:"typeID"`
	Value             string                    `json:"value"`
	InReferenceToID   uuid.UUID                 `json:"inReferenceToID"`
	OrganizationID    uuid.UUID                 `json:"organizationID"`
	SourceID          uuid.UUID                 `json:"sourceID"`
	AccessMode        types.AccessMode          `json:"accessMode"`
	ConfidenceLevel   int                       `json:"confidenceLevel"`
	Timestamp         int64                     `json:"timestamp"`
	LastSeenTimestamp int64                     `json:"lastSeenTimestamp"`
	ACL               []uuid.UUID               `json:"acl"`
	BoundObjects      []types.FactObjectBinding `json:"boundObjects"`
}

// NewFactDocument projects f, with acl as the document's subject set.
func NewFactDocument(f *types.Fact, acl []uuid.UUID) *FactDocument {
	doc := &FactDocument{
		ID:                f.ID,
		TypeID:            f.TypeID,
		Value:             f.Value,
		InReferenceToID:   f.InReferenceToID,
		OrganizationID:    f.OrganizationID,
		SourceID:          f.SourceID,
		AccessMode:        f.AccessMode,
		ConfidenceLevel:   f.ConfidenceLevel,
		Timestamp:         f.Timestamp,
		LastSeenTimestamp: f.LastSeenTimestamp,
		BoundObjects:      canonicalBindings(f.Bindings),
	}
	doc.AddAcl(acl...)
	return doc
}

// AddAcl unions subjects into the document's ACL. Order is canonical.
func (d *FactDocument) AddAcl(subjects ...uuid.UUID) {
	set := mapset.NewThreadUnsafeSet(d.ACL...)
	set.Append(subjects...)
	d.ACL = sortedIDs(set)
}

// HasAclSubject reports whether subject is in the document's ACL.
func (d *FactDocument) HasAclSubject(subject uuid.UUID) bool {
	return slices.Contains(d.ACL, subject)
}

// Fingerprint returns the dedup key of the document.
func (d *FactDocument) Fingerprint() Fingerprint {
	return Fingerprint{
		FactTypeID:      d.TypeID,
		Value:           d.Value,
		InReferenceToID: d.InReferenceToID,
		SourceID:        d.SourceID,
		OrganizationID:  d.OrganizationID,
		AccessMode:      d.AccessMode,
		BoundObjects:    d.BoundObjects,
	}
}

// Fingerprint identifies a logical fact. Two create requests with the same
// fingerprint describe the same fact; the second one refreshes the first.
// InReferenceToID keeps meta facts about different facts apart.
type Fingerprint struct {
	FactTypeID      uuid.UUID
	Value           string
	InReferenceToID uuid.UUID
	SourceID        uuid.UUID
	OrganizationID  uuid.UUID
	AccessMode      types.AccessMode
	BoundObjects    []types.FactObjectBinding
}

// Key returns a stable hex digest of the fingerprint. Bound objects are
// treated as a set: order and duplicates do not change the key.
func (fp Fingerprint) Key() string {
	canonical := struct {
		T uuid.UUID                 `json:"t"`
		V string                    `json:"v"`
		R uuid.UUID                 `json:"r"`
		S uuid.UUID                 `json:"s"`
		O uuid.UUID                 `json:"o"`
		A types.AccessMode          `json:"a"`
		B []types.FactObjectBinding `json:"b"`
	}{fp.FactTypeID, fp.Value, fp.InReferenceToID, fp.SourceID, fp.OrganizationID, fp.AccessMode, canonicalBindings(fp.BoundObjects)}

	// Marshalling plain ids, strings and ints cannot fail.
	raw, _ := json.Marshal(canonical)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalBindings dedupes and sorts bindings by (object id, direction).
func canonicalBindings(bindings []types.FactObjectBinding) []types.FactObjectBinding {
	if len(bindings) == 0 {
		return nil
	}
	out := mapset.NewThreadUnsafeSet(bindings...).ToSlice()
	slices.SortFunc(out, func(a, b types.FactObjectBinding) int {
		if c := bytes.Compare(a.ObjectID[:], b.ObjectID[:]); c != 0 {
			return c
		}
		return int(a.Direction) - int(b.Direction)
	})
	return out
}

func sortedIDs(set mapset.Set[uuid.UUID]) []uuid.UUID {
	if set.Cardinality() == 0 {
		return nil
	}
	out := set.ToSlice()
	slices.SortFunc(out, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })
	return out
}
