package types

import "github.com/google/uuid"

// SourceType classifies where Facts come from. Stored as its integer code.
type SourceType int

const (
	SourceTypeUser SourceType = iota
	SourceTypeInputPort
	SourceTypeAnalysisModule
)

var sourceTypeNames = map[SourceType]string{
	SourceTypeUser:           "User",
	SourceTypeInputPort:      "InputPort",
	SourceTypeAnalysisModule: "AnalysisModule",
}

func (s SourceType) String() string {
	if name, ok := sourceTypeNames[s]; ok {
		return name
	}
	return "Unknown"
}

// ParseSourceType maps a source type name back to its value.
func ParseSourceType(name string) (SourceType, bool) {
	for s, n := range sourceTypeNames {
		if n == name {
			return s, true
		}
	}
	return SourceTypeUser, false
}

// Source is the provenance of a Fact.
type Source struct {
	ID          uuid.UUID  `json:"id"`
	NamespaceID uuid.UUID  `json:"namespaceID"`
	CustomerID  uuid.UUID  `json:"customerID"`
	Name        string     `json:"name"`
	Type        SourceType `json:"type"`
	// TODO: switch to a typed enum once trust levels are defined.
	TrustLevel int `json:"trustLevel"`
}
