// Package types defines the entities persisted by the primary store.
//
// Entities are plain values. Once handed to a manager they are treated as
// immutable: the only field that ever changes after a Fact has been saved is
// LastSeenTimestamp, and that change happens through a refresh which produces
// a new instance.
package types

import (
	"github.com/google/uuid"
)

// Direction describes how a Fact is bound to an Object.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionFactIsSource
	DirectionFactIsDestination
	DirectionBiDirectional
)

var directionNames = map[Direction]string{
	DirectionNone:              "None",
	DirectionFactIsSource:      "FactIsSource",
	DirectionFactIsDestination: "FactIsDestination",
	DirectionBiDirectional:     "BiDirectional",
}

func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return "Unknown"
}

// ParseDirection maps a direction name back to its value.
func ParseDirection(name string) (Direction, bool) {
	for d, n := range directionNames {
		if n == name {
			return d, true
		}
	}
	return DirectionNone, false
}

// AccessMode controls who may read a Fact.
// Values are ordered from least to most restrictive.
type AccessMode int

const (
	AccessModePublic AccessMode = iota
	AccessModeRoleBased
	AccessModeExplicit
)

var accessModeNames = map[AccessMode]string{
	AccessModePublic:    "Public",
	AccessModeRoleBased: "RoleBased",
	AccessModeExplicit:  "Explicit",
}

func (a AccessMode) String() string {
	if name, ok := accessModeNames[a]; ok {
		return name
	}
	return "Unknown"
}

// ParseAccessMode maps an access mode name back to its value.
func ParseAccessMode(name string) (AccessMode, bool) {
	for a, n := range accessModeNames {
		if n == name {
			return a, true
		}
	}
	return AccessModePublic, false
}

// LessRestrictiveThan reports whether a grants wider read access than other.
func (a AccessMode) LessRestrictiveThan(other AccessMode) bool {
	return a < other
}

// ObjectBinding is one (object type, direction) pair a FactType allows.
type ObjectBinding struct {
	ObjectTypeID uuid.UUID `json:"objectTypeID"`
	Direction    Direction `json:"direction"`
}

// ObjectType describes a kind of Object, e.g. "ipv4" or "domain".
type ObjectType struct {
	ID                     uuid.UUID `json:"id"`
	NamespaceID            uuid.UUID `json:"namespaceID"`
	Name                   string    `json:"name"`
	Validator              string    `json:"validator"`
	ValidatorParameter     string    `json:"validatorParameter"`
	EntityHandler          string    `json:"entityHandler"`
	EntityHandlerParameter string    `json:"entityHandlerParameter"`
}

// FactType describes a kind of Fact. RelevantObjectBindings is the schema
// restricting which object types a Fact of this type may bind, and how.
type FactType struct {
	ID                     uuid.UUID       `json:"id"`
	NamespaceID            uuid.UUID       `json:"namespaceID"`
	Name                   string          `json:"name"`
	Validator              string          `json:"validator"`
	ValidatorParameter     string          `json:"validatorParameter"`
	EntityHandler          string          `json:"entityHandler"`
	EntityHandlerParameter string          `json:"entityHandlerParameter"`
	RelevantObjectBindings []ObjectBinding `json:"relevantObjectBindings"`
}

// AllowsBinding reports whether objectTypeID may be bound with direction.
func (t *FactType) AllowsBinding(objectTypeID uuid.UUID, direction Direction) bool {
	for _, b := range t.RelevantObjectBindings {
		if b.ObjectTypeID == objectTypeID && b.Direction == direction {
			return true
		}
	}
	return false
}

// Object is a typed value referenced by Facts.
type Object struct {
	ID     uuid.UUID `json:"id"`
	TypeID uuid.UUID `json:"typeID"`
	Value  string    `json:"value"`
}

// FactObjectBinding attaches an Object to a Fact.
type FactObjectBinding struct {
	ObjectID  uuid.UUID `json:"objectID"`
	Direction Direction `json:"direction"`
}

// Fact is a typed assertion connecting zero or more Objects.
// Timestamps are Unix milliseconds.
type Fact struct {
	ID                uuid.UUID           `json:"id"`
	TypeID            uuid.UUID           `json:"typeID"`
	Value             string              `json:"value"`
	InReferenceToID   uuid.UUID           `json:"inReferenceToID"` // uuid.Nil when absent
	OrganizationID    uuid.UUID           `json:"organizationID"`
	SourceID          uuid.UUID           `json:"sourceID"`
	AccessMode        AccessMode          `json:"accessMode"`
	ConfidenceLevel   int                 `json:"confidenceLevel"`
	Timestamp         int64               `json:"timestamp"`
	LastSeenTimestamp int64               `json:"lastSeenTimestamp"`
	Bindings          []FactObjectBinding `json:"bindings"`
}

// HasReference reports whether the Fact refers to another Fact.
func (f *Fact) HasReference() bool {
	return f.InReferenceToID != uuid.Nil
}

// WithLastSeen returns a copy of f with LastSeenTimestamp replaced.
// The binding slice is copied so the two instances share no state.
func (f *Fact) WithLastSeen(ts int64) *Fact {
	cp := *f
	cp.Bindings = append([]FactObjectBinding(nil), f.Bindings...)
	cp.LastSeenTimestamp = ts
	return &cp
}

// ObjectFactBinding is the reciprocal Object -> Fact record used for traversal.
type ObjectFactBinding struct {
	ObjectID  uuid.UUID `json:"objectID"`
	FactID    uuid.UUID `json:"factID"`
	Direction Direction `json:"direction"`
}

// FactAclEntry grants a subject read access to a non-public Fact.
type FactAclEntry struct {
	ID        uuid.UUID `json:"id"`
	FactID    uuid.UUID `json:"factID"`
	SubjectID uuid.UUID `json:"subjectID"`
	SourceID  uuid.UUID `json:"sourceID"`
	Timestamp int64     `json:"timestamp"`
}

// FactComment is free text attached to a Fact.
type FactComment struct {
	ID        uuid.UUID `json:"id"`
	FactID    uuid.UUID `json:"factID"`
	ReplyToID uuid.UUID `json:"replyToID"` // uuid.Nil when not a reply
	SourceID  uuid.UUID `json:"sourceID"`
	Comment   string    `json:"comment"`
	Timestamp int64     `json:"timestamp"`
}
