package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/types"
)

// resolveOrganization defaults to the caller's organization. A caller without
// a home organization must name one.
func resolveOrganization(sc security.SecurityContext, requested uuid.UUID) (uuid.UUID, error) {
	if requested != uuid.Nil {
		return requested, nil
	}
	if org := sc.CurrentUserOrganizationID(); org != uuid.Nil {
		return org, nil
	}
	return uuid.Nil, errors.WithStack(errors.NewInvalidArgumentError(
		"Organization is required.", "organization.required", "organization", ""))
}

// resolveSource defaults to the caller. An explicit source must be registered.
func (s *Service) resolveSource(ctx context.Context, sc security.SecurityContext, requested uuid.UUID) (uuid.UUID, error) {
	if requested == uuid.Nil || requested == sc.CurrentUserID() {
		return sc.CurrentUserID(), nil
	}
	src, err := s.sources.GetSource(ctx, requested)
	if err != nil {
		return uuid.Nil, err
	}
	if src == nil {
		return uuid.Nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Source does not exist.", "source.not.exist", "source", requested.String()))
	}
	return src.ID, nil
}

// resolveFactType looks a fact type up by name.
func (s *Service) resolveFactType(ctx context.Context, name string) (*types.FactType, error) {
	ft, err := s.facts.GetFactTypeByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if ft == nil {
		return nil, errors.NewObjectNotFoundError("fact type %q does not exist", name)
	}
	return ft, nil
}

// validateFactValue runs the type's validator over value.
func (s *Service) validateFactValue(ft *types.FactType, value string) error {
	v, err := s.validators.Get(ft.Validator, ft.ValidatorParameter)
	if err != nil {
		return err
	}
	if !v.Validate(value) {
		return errors.WithStack(errors.NewInvalidArgumentError(
			"Fact did not pass validation against FactType.", "fact.not.valid", "value", value))
	}
	return nil
}

// resolveObject turns one binding request into an Object, creating it when it
// is named by type and value and does not exist yet.
func (s *Service) resolveObject(ctx context.Context, b model.BindingRequest) (*types.Object, error) {
	if b.ObjectID != uuid.Nil {
		o, err := s.objects.GetObject(ctx, b.ObjectID)
		if err != nil {
			return nil, err
		}
		if o == nil {
			return nil, errors.NewObjectNotFoundError("object %s does not exist", b.ObjectID)
		}
		return o, nil
	}

	ot, err := s.objects.GetObjectTypeByName(ctx, b.ObjectType)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, errors.NewObjectNotFoundError("object type %q does not exist", b.ObjectType)
	}
	v, err := s.validators.Get(ot.Validator, ot.ValidatorParameter)
	if err != nil {
		return nil, err
	}
	if !v.Validate(b.ObjectValue) {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Object did not pass validation against ObjectType.", "object.not.valid", "objectValue", b.ObjectValue))
	}
	return s.objects.GetOrCreateObject(ctx, ot.ID, b.ObjectValue)
}

// resolveBindings resolves every binding and checks it against the fact
// type's schema. All offending bindings are reported together, one
// validation error per binding index. Failures that are not about the
// request itself abort immediately.
func (s *Service) resolveBindings(ctx context.Context, ft *types.FactType, requested []model.BindingRequest) ([]types.FactObjectBinding, error) {
	invalid := &errors.InvalidArgumentError{}
	bindings := make([]types.FactObjectBinding, 0, len(requested))

	for i, b := range requested {
		property := fmt.Sprintf("bindings[%d]", i)

		o, err := s.resolveObject(ctx, b)
		if err != nil {
			if errors.IsObjectNotFound(err) || errors.IsInvalidArgument(err) {
				invalid.AddValidationError(err.Error(), "fact.binding.unresolved", property, bindingValue(b))
				continue
			}
			return nil, err
		}

		if !ft.AllowsBinding(o.TypeID, b.Direction) {
			invalid.AddValidationError(
				fmt.Sprintf("Requested binding between Fact and Object is not allowed (direction %s).", b.Direction),
				"invalid.fact.object.binding", property, o.ID.String())
			continue
		}
		bindings = append(bindings, types.FactObjectBinding{ObjectID: o.ID, Direction: b.Direction})
	}

	if err := invalid.ErrorOrNil(); err != nil {
		return nil, err
	}
	return bindings, nil
}

func bindingValue(b model.BindingRequest) string {
	if b.ObjectID != uuid.Nil {
		return b.ObjectID.String()
	}
	return b.ObjectType + "/" + b.ObjectValue
}

// resolveReferencedFact loads the fact a new fact refers to. It must exist
// and be readable by the caller.
func (s *Service) resolveReferencedFact(ctx context.Context, sc security.SecurityContext, id uuid.UUID) (*types.Fact, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	f, err := s.facts.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Referenced Fact does not exist.", "referenced.fact.not.exist", "inReferenceTo", id.String()))
	}
	if err := sc.CheckReadPermission(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// fetchFact loads a fact for a read or write on it: unknown ids fail with
// object-not-found, unreadable facts with access-denied.
func (s *Service) fetchFact(ctx context.Context, sc security.SecurityContext, id uuid.UUID) (*types.Fact, error) {
	f, err := s.facts.GetFact(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, errors.NewObjectNotFoundError("fact %s does not exist", id)
	}
	if err := sc.CheckReadPermission(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// aclSubjects returns the subject ids of a fact's ACL.
func (s *Service) aclSubjects(ctx context.Context, factID uuid.UUID) ([]uuid.UUID, error) {
	acl, err := s.facts.FetchFactAcl(ctx, factID)
	if err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0, len(acl))
	for _, e := range acl {
		out = append(out, e.SubjectID)
	}
	return out, nil
}
