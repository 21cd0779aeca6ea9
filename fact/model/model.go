// Package model holds the external representation of facts, objects and
// types returned to callers, and the request structs callers send in.
package model

import (
	"github.com/google/uuid"
)

// FactTypeInfo is the short form of a FactType embedded in other models.
type FactTypeInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ObjectTypeInfo is the short form of an ObjectType.
type ObjectTypeInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// FactInfo is the short form of a Fact.
type FactInfo struct {
	ID    uuid.UUID    `json:"id"`
	Type  FactTypeInfo `json:"type"`
	Value string       `json:"value"`
}

// ObjectInfo is the short form of an Object.
type ObjectInfo struct {
	ID    uuid.UUID      `json:"id"`
	Type  ObjectTypeInfo `json:"type"`
	Value string         `json:"value"`
}

// SourceInfo is the short form of a Source. Name is empty when the source is
// not registered, as for plain users.
type SourceInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

// FactObjectBinding is one bound object of a Fact.
type FactObjectBinding struct {
	Object    ObjectInfo `json:"object"`
	Direction string     `json:"direction"`
}

// Fact is the external representation of a Fact.
type Fact struct {
	ID                uuid.UUID           `json:"id"`
	Type              FactTypeInfo        `json:"type"`
	Value             string              `json:"value"`
	InReferenceTo     *FactInfo           `json:"inReferenceTo,omitempty"`
	OrganizationID    uuid.UUID           `json:"organizationID"`
	Source            SourceInfo          `json:"source"`
	AccessMode        string              `json:"accessMode"`
	ConfidenceLevel   int                 `json:"confidenceLevel"`
	Timestamp         int64               `json:"timestamp"`
	LastSeenTimestamp int64               `json:"lastSeenTimestamp"`
	Objects           []FactObjectBinding `json:"objects"`
}

// ObjectType is the external representation of an ObjectType.
type ObjectType struct {
	ID                     uuid.UUID `json:"id"`
	NamespaceID            uuid.UUID `json:"namespaceID"`
	Name                   string    `json:"name"`
	Validator              string    `json:"validator"`
	ValidatorParameter     string    `json:"validatorParameter"`
	EntityHandler          string    `json:"entityHandler"`
	EntityHandlerParameter string    `json:"entityHandlerParameter"`
}

// RelevantObjectBinding is one allowed (object type, direction) pair.
type RelevantObjectBinding struct {
	ObjectType ObjectTypeInfo `json:"objectType"`
	Direction  string         `json:"direction"`
}

// FactType is the external representation of a FactType.
type FactType struct {
	ID                     uuid.UUID               `json:"id"`
	NamespaceID            uuid.UUID               `json:"namespaceID"`
	Name                   string                  `json:"name"`
	Validator              string                  `json:"validator"`
	ValidatorParameter     string                  `json:"validatorParameter"`
	EntityHandler          string                  `json:"entityHandler"`
	EntityHandlerParameter string                  `json:"entityHandlerParameter"`
	RelevantObjectBindings []RelevantObjectBinding `json:"relevantObjectBindings"`
}

// Object is the external representation of an Object.
type Object struct {
	ID    uuid.UUID      `json:"id"`
	Type  ObjectTypeInfo `json:"type"`
	Value string         `json:"value"`
}

// AclEntry is one grant on a Fact.
type AclEntry struct {
	ID        uuid.UUID  `json:"id"`
	FactID    uuid.UUID  `json:"factID"`
	SubjectID uuid.UUID  `json:"subjectID"`
	Source    SourceInfo `json:"source"`
	Timestamp int64      `json:"timestamp"`
}

// FactComment is one comment on a Fact.
type FactComment struct {
	ID        uuid.UUID  `json:"id"`
	FactID    uuid.UUID  `json:"factID"`
	ReplyToID uuid.UUID  `json:"replyToID,omitempty"`
	Source    SourceInfo `json:"source"`
	Comment   string     `json:"comment"`
	Timestamp int64      `json:"timestamp"`
}

// ResultSet is one page of results. Count is the total before the limit.
type ResultSet[T any] struct {
	Values []T `json:"values"`
	Count  int `json:"count"`
	Limit  int `json:"limit"`
}
