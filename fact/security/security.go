// Package security provides the security context consulted by every fact
// operation: function permissions scoped to an organization, and read access
// to individual facts.
//
// Read access rules:
//
//	Public     everyone
//	RoleBased  subjects in the fact's ACL, or holding viewFactObjects for the fact's organization
//	Explicit   subjects in the fact's ACL only
package security

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// Function names a permission that can be granted per organization.
type Function string

const (
	AddFactObjects   Function = "addFactObjects"
	ViewFactObjects  Function = "viewFactObjects"
	AddTypes         Function = "addTypes"
	ViewTypes        Function = "viewTypes"
	GrantFactAccess  Function = "grantFactAccess"
	AddFactComments  Function = "addFactComments"
	ViewFactComments Function = "viewFactComments"
)

// AllFunctions lists every known function.
var AllFunctions = []Function{
	AddFactObjects, ViewFactObjects,
	AddTypes, ViewTypes,
	GrantFactAccess,
	AddFactComments, ViewFactComments,
}

// SecurityContext answers permission questions for the current caller.
type SecurityContext interface {
	// CurrentUserID is the acting subject.
	CurrentUserID() uuid.UUID
	// CurrentUserOrganizationID is the subject's home organization.
	CurrentUserOrganizationID() uuid.UUID
	// AvailableOrganizationIDs lists organizations where the subject may view facts.
	AvailableOrganizationIDs() []uuid.UUID

	// CheckPermission fails with an access-denied error unless the subject
	// holds fn for organizationID. uuid.Nil means any organization.
	CheckPermission(fn Function, organizationID uuid.UUID) error
	HasReadPermission(ctx context.Context, fact *types.Fact) (bool, error)
	CheckReadPermission(ctx context.Context, fact *types.Fact) error
}

type contextKey struct{}

// NewContext attaches sc to ctx.
func NewContext(ctx context.Context, sc SecurityContext) context.Context {
	return context.WithValue(ctx, contextKey{}, sc)
}

// FromContext returns the security context carried by ctx. A request without
// one has no established identity and fails with an authentication error.
func FromContext(ctx context.Context) (SecurityContext, error) {
	sc, ok := ctx.Value(contextKey{}).(SecurityContext)
	if !ok || sc == nil {
		return nil, errors.NewAuthenticationFailedError("no security context on request")
	}
	return sc, nil
}
