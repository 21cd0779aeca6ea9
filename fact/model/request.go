package model

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// requestValidate validates every request struct. Field names in errors are
// the json names so they match what callers sent.
var requestValidate *validator.Validate

func init() {
	requestValidate = validator.New(validator.WithRequiredStructEnabled())
	requestValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks req's validation tags. Every failing field is reported in
// one invalid-argument error.
func Validate(req any) error {
	err := requestValidate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return errors.Wrap(err, "validate request")
	}

	invalid := &errors.InvalidArgumentError{}
	for _, fe := range fieldErrs {
		property := fe.Namespace()
		if i := strings.IndexByte(property, '.'); i >= 0 {
			property = property[i+1:]
		}
		invalid.AddValidationError(fe.Error(), "request.field."+fe.Tag(), property, stringValue(fe.Value()))
	}
	return invalid.ErrorOrNil()
}

func stringValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case uuid.UUID:
		return x.String()
	case nil:
		return ""
	}
	return ""
}

// BindingRequest names an object either by id or by type and value.
type BindingRequest struct {
	ObjectID    uuid.UUID       `json:"objectID"`
	ObjectType  string          `json:"objectType" validate:"required_without=ObjectID"`
	ObjectValue string          `json:"objectValue" validate:"required_with=ObjectType"`
	Direction   types.Direction `json:"direction" validate:"gte=0,lte=3"`
}

// CreateFactRequest creates a fact, or refreshes an identical existing one.
type CreateFactRequest struct {
	Type  string `json:"type" validate:"required"`
	Value string `json:"value"`
	// OrganizationID defaults to the caller's organization.
	OrganizationID uuid.UUID `json:"organization"`
	// SourceID defaults to the caller.
	SourceID uuid.UUID `json:"source"`
	// AccessMode defaults to RoleBased.
	AccessMode      *types.AccessMode `json:"accessMode" validate:"omitnil,gte=0,lte=2"`
	ConfidenceLevel int               `json:"confidenceLevel" validate:"gte=0"`
	InReferenceTo   uuid.UUID         `json:"inReferenceTo"`
	Bindings        []BindingRequest  `json:"bindings" validate:"dive"`
	Acl             []uuid.UUID       `json:"acl"`
	Comment         string            `json:"comment"`
}

// RetractFactRequest retracts an existing fact.
type RetractFactRequest struct {
	FactID         uuid.UUID `json:"fact" validate:"required"`
	OrganizationID uuid.UUID `json:"organization"`
	SourceID       uuid.UUID `json:"source"`
	// AccessMode defaults to the retracted fact's mode and may not be less restrictive.
	AccessMode *types.AccessMode `json:"accessMode" validate:"omitnil,gte=0,lte=2"`
	Acl        []uuid.UUID       `json:"acl"`
	Comment    string            `json:"comment"`
}

// SearchFactRequest selects facts. Empty fields do not filter.
type SearchFactRequest struct {
	FactTypes       []string           `json:"factType"`
	FactValues      []string           `json:"factValue"`
	ObjectIDs       []uuid.UUID        `json:"objectID"`
	OrganizationIDs []uuid.UUID        `json:"organization"`
	SourceIDs       []uuid.UUID        `json:"source"`
	AccessModes     []types.AccessMode `json:"accessMode" validate:"dive,gte=0,lte=2"`
	InReferenceTo   []uuid.UUID        `json:"inReferenceTo"`
	StartTimestamp  int64              `json:"startTimestamp" validate:"gte=0"`
	EndTimestamp    int64              `json:"endTimestamp" validate:"omitempty,gtefield=StartTimestamp"`
	Limit           int                `json:"limit" validate:"gte=0,lte=10000"`
}

// SearchObjectFactsRequest selects facts bound to one object.
type SearchObjectFactsRequest struct {
	ObjectID    uuid.UUID `json:"object"`
	ObjectType  string    `json:"objectType" validate:"required_without=ObjectID"`
	ObjectValue string    `json:"objectValue" validate:"required_with=ObjectType"`
	SearchFactRequest
}

// GrantFactAccessRequest adds a subject to a fact's ACL.
type GrantFactAccessRequest struct {
	FactID    uuid.UUID `json:"fact" validate:"required"`
	SubjectID uuid.UUID `json:"subject" validate:"required"`
}

// CreateFactCommentRequest comments on a fact.
type CreateFactCommentRequest struct {
	FactID  uuid.UUID `json:"fact" validate:"required"`
	Comment string    `json:"comment" validate:"required"`
	ReplyTo uuid.UUID `json:"replyTo"`
}

// CreateObjectTypeRequest defines an object type.
type CreateObjectTypeRequest struct {
	Name        string    `json:"name" validate:"required,max=256"`
	NamespaceID uuid.UUID `json:"namespace"`
	// Validator defaults to TrueValidator.
	Validator          string `json:"validator"`
	ValidatorParameter string `json:"validatorParameter"`
	// EntityHandler defaults to IdentityHandler.
	EntityHandler          string `json:"entityHandler"`
	EntityHandlerParameter string `json:"entityHandlerParameter"`
}

// RelevantObjectBindingRequest allows one (object type, direction) pair.
type RelevantObjectBindingRequest struct {
	ObjectType uuid.UUID       `json:"objectType" validate:"required"`
	Direction  types.Direction `json:"direction" validate:"gte=0,lte=3"`
}

// CreateFactTypeRequest defines a fact type.
type CreateFactTypeRequest struct {
	Name                   string                         `json:"name" validate:"required,max=256"`
	NamespaceID            uuid.UUID                      `json:"namespace"`
	Validator              string                         `json:"validator"`
	ValidatorParameter     string                         `json:"validatorParameter"`
	EntityHandler          string                         `json:"entityHandler"`
	EntityHandlerParameter string                         `json:"entityHandlerParameter"`
	RelevantObjectBindings []RelevantObjectBindingRequest `json:"relevantObjectBindings" validate:"dive"`
}

// UpdateObjectTypeRequest renames an object type.
type UpdateObjectTypeRequest struct {
	ID   uuid.UUID `json:"id" validate:"required"`
	Name string    `json:"name" validate:"omitempty,max=256"`
}

// UpdateFactTypeRequest renames a fact type and/or allows more bindings.
type UpdateFactTypeRequest struct {
	ID                        uuid.UUID                      `json:"id" validate:"required"`
	Name                      string                         `json:"name" validate:"omitempty,max=256"`
	AddRelevantObjectBindings []RelevantObjectBindingRequest `json:"addRelevantObjectBindings" validate:"dive"`
}
