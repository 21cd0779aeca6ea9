package security

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// AclResolver returns the subject ids in a fact's ACL.
type AclResolver func(ctx context.Context, factID uuid.UUID) ([]uuid.UUID, error)

// Subject is an authenticated caller and the functions it holds per organization.
type Subject struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Grants         map[uuid.UUID]mapset.Set[Function]
}

// NewSubject creates a subject without grants.
func NewSubject(id, organizationID uuid.UUID) *Subject {
	return &Subject{
		ID:             id,
		OrganizationID: organizationID,
		Grants:         make(map[uuid.UUID]mapset.Set[Function]),
	}
}

// Grant gives the subject functions within organizationID.
func (s *Subject) Grant(organizationID uuid.UUID, fns ...Function) *Subject {
	set, ok := s.Grants[organizationID]
	if !ok {
		set = mapset.NewSet[Function]()
		s.Grants[organizationID] = set
	}
	for _, fn := range fns {
		set.Add(fn)
	}
	return s
}

// Context is the SecurityContext for one subject. ACL membership is looked up
// through the resolver on demand.
type Context struct {
	subject *Subject
	acl     AclResolver
}

// NewSecurityContext creates a context for subject. A nil resolver treats
// every ACL as empty.
func NewSecurityContext(subject *Subject, acl AclResolver) *Context {
	if acl == nil {
		acl = func(context.Context, uuid.UUID) ([]uuid.UUID, error) { return nil, nil }
	}
	return &Context{subject: subject, acl: acl}
}

var _ SecurityContext = (*Context)(nil)

func (c *Context) CurrentUserID() uuid.UUID {
	return c.subject.ID
}

func (c *Context) CurrentUserOrganizationID() uuid.UUID {
	return c.subject.OrganizationID
}

func (c *Context) AvailableOrganizationIDs() []uuid.UUID {
	var out []uuid.UUID
	for org, fns := range c.subject.Grants {
		if fns.Contains(ViewFactObjects) {
			out = append(out, org)
		}
	}
	return out
}

func (c *Context) hasPermission(fn Function, organizationID uuid.UUID) bool {
	if organizationID == uuid.Nil {
		for _, fns := range c.subject.Grants {
			if fns.Contains(fn) {
				return true
			}
		}
		return false
	}
	fns, ok := c.subject.Grants[organizationID]
	return ok && fns.Contains(fn)
}

func (c *Context) CheckPermission(fn Function, organizationID uuid.UUID) error {
	if c.hasPermission(fn, organizationID) {
		return nil
	}
	if organizationID == uuid.Nil {
		return errors.NewAccessDeniedError("subject %s lacks %s", c.subject.ID, fn)
	}
	return errors.NewAccessDeniedError("subject %s lacks %s for organization %s", c.subject.ID, fn, organizationID)
}

func (c *Context) HasReadPermission(ctx context.Context, fact *types.Fact) (bool, error) {
	if fact == nil {
		return false, nil
	}

	switch fact.AccessMode {
	case types.AccessModePublic:
		return c.hasPermission(ViewFactObjects, uuid.Nil), nil
	case types.AccessModeRoleBased:
		if c.hasPermission(ViewFactObjects, fact.OrganizationID) {
			return true, nil
		}
		return c.inAcl(ctx, fact.ID)
	case types.AccessModeExplicit:
		return c.inAcl(ctx, fact.ID)
	default:
		return false, nil
	}
}

func (c *Context) CheckReadPermission(ctx context.Context, fact *types.Fact) error {
	ok, err := c.HasReadPermission(ctx, fact)
	if err != nil {
		return err
	}
	if !ok {
		id := uuid.Nil
		if fact != nil {
			id = fact.ID
		}
		return errors.NewAccessDeniedError("subject %s may not read fact %s", c.subject.ID, id)
	}
	return nil
}

func (c *Context) inAcl(ctx context.Context, factID uuid.UUID) (bool, error) {
	subjects, err := c.acl(ctx, factID)
	if err != nil {
		return false, errors.Wrapf(err, "resolve acl of fact %s", factID)
	}
	return mapset.NewThreadUnsafeSet(subjects...).Contains(c.subject.ID), nil
}
