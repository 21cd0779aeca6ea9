package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/fact/types"
)

// RetractFact records that a fact no longer holds by storing a Retraction
// fact referring to it. The retracted fact itself is left untouched.
func (s *Service) RetractFact(ctx context.Context, req *model.RetractFactRequest) (*model.Fact, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError("Request is required.", "request.required", "request", ""))
	}
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	original, err := s.facts.GetFact(ctx, req.FactID)
	if err != nil {
		return nil, err
	}
	if original == nil {
		return nil, errors.NewObjectNotFoundError("fact %s does not exist", req.FactID)
	}
	if err := sc.CheckPermission(security.AddFactObjects, original.OrganizationID); err != nil {
		return nil, err
	}
	if err := sc.CheckReadPermission(ctx, original); err != nil {
		return nil, err
	}

	retraction, err := s.facts.GetFactTypeByName(ctx, RetractionTypeName)
	if err != nil {
		return nil, err
	}
	if retraction == nil {
		return nil, errors.Newf("fact type %s is missing, system types were not ensured", RetractionTypeName)
	}

	mode := original.AccessMode
	if req.AccessMode != nil {
		if req.AccessMode.LessRestrictiveThan(original.AccessMode) {
			return nil, errors.WithStack(errors.NewInvalidArgumentError(
				"Retraction cannot be less restrictive than the retracted Fact.", "fact.retraction.access.mode",
				"accessMode", req.AccessMode.String()))
		}
		mode = *req.AccessMode
	}

	organizationID := original.OrganizationID
	if req.OrganizationID != uuid.Nil {
		organizationID = req.OrganizationID
		if err := sc.CheckPermission(security.AddFactObjects, organizationID); err != nil {
			return nil, err
		}
	}
	sourceID, err := s.resolveSource(ctx, sc, req.SourceID)
	if err != nil {
		return nil, err
	}

	stored, err := s.createOrRefresh(ctx, sc, &draft{
		fact: &types.Fact{
			TypeID:          retraction.ID,
			InReferenceToID: original.ID,
			OrganizationID:  organizationID,
			SourceID:        sourceID,
			AccessMode:      mode,
		},
		factType: retraction,
		acl:      req.Acl,
		comment:  req.Comment,
	})
	if err != nil {
		return nil, err
	}

	conv := s.converter(sc)
	out, err := conv.fact(ctx, stored)
	if err != nil {
		return nil, err
	}
	retracted, err := conv.fact(ctx, original)
	if err != nil {
		return nil, err
	}

	s.emit(ctx, trigger.Event{
		Name:           trigger.FactRetracted,
		OrganizationID: stored.OrganizationID,
		AccessMode:     stored.AccessMode,
		Parameters: map[string]any{
			trigger.ParamRetraction:    out,
			trigger.ParamRetractedFact: retracted,
		},
	})
	return out, nil
}
