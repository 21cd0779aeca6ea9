package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/logger"
)

// GetFact returns one fact the caller may read.
func (s *Service) GetFact(ctx context.Context, id uuid.UUID) (*model.Fact, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactObjects, uuid.Nil); err != nil {
		return nil, err
	}
	f, err := s.fetchFact(ctx, sc, id)
	if err != nil {
		return nil, err
	}
	return s.converter(sc).fact(ctx, f)
}

// SearchFacts searches the index and returns the matching facts the caller
// may read, newest first. Count is the number of index matches before the
// limit was applied.
func (s *Service) SearchFacts(ctx context.Context, req *model.SearchFactRequest) (*model.ResultSet[*model.Fact], error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactObjects, uuid.Nil); err != nil {
		return nil, err
	}
	if req == nil {
		req = &model.SearchFactRequest{}
	}
	if err := model.Validate(req); err != nil {
		return nil, err
	}
	return s.search(ctx, sc, req, nil)
}

// SearchObjectFacts searches the facts bound to one object, named by id or by
// type and value.
func (s *Service) SearchObjectFacts(ctx context.Context, req *model.SearchObjectFactsRequest) (*model.ResultSet[*model.Fact], error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactObjects, uuid.Nil); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, errors.WithStack(errors.NewInvalidArgumentError("Request is required.", "request.required", "request", ""))
	}
	if err := model.Validate(req); err != nil {
		return nil, err
	}

	objectID := req.ObjectID
	if objectID == uuid.Nil {
		o, err := s.objectByTypeValue(ctx, req.ObjectType, req.ObjectValue)
		if err != nil {
			return nil, err
		}
		objectID = o.ID
	}
	return s.search(ctx, sc, &req.SearchFactRequest, []uuid.UUID{objectID})
}

func (s *Service) search(ctx context.Context, sc security.SecurityContext, req *model.SearchFactRequest, objectIDs []uuid.UUID) (*model.ResultSet[*model.Fact], error) {
	log := s.log(ctx, "search_facts")

	limit := req.Limit
	if limit <= 0 {
		limit = index.DefaultSearchLimit
	}
	empty := &model.ResultSet[*model.Fact]{Limit: limit}

	typeIDs, known, err := s.factTypeIDs(ctx, req.FactTypes)
	if err != nil {
		return nil, err
	}
	if !known {
		return empty, nil
	}
	if objectIDs == nil {
		objectIDs = req.ObjectIDs
	}

	rs, err := s.index.SearchFacts(ctx, index.SearchCriteria{
		FactTypeIDs:     typeIDs,
		FactValues:      req.FactValues,
		ObjectIDs:       objectIDs,
		OrganizationIDs: req.OrganizationIDs,
		SourceIDs:       req.SourceIDs,
		AccessModes:     req.AccessModes,
		InReferenceTo:   req.InReferenceTo,
		StartTimestamp:  req.StartTimestamp,
		EndTimestamp:    req.EndTimestamp,
		Limit:           limit,
	}, index.AccessFilter{
		SubjectID:       sc.CurrentUserID(),
		OrganizationIDs: sc.AvailableOrganizationIDs(),
	})
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(rs.Values))
	for _, doc := range rs.Values {
		ids = append(ids, doc.ID)
	}
	facts, err := s.facts.GetFacts(ctx, ids)
	if err != nil {
		return nil, err
	}

	conv := s.converter(sc)
	out := &model.ResultSet[*model.Fact]{Count: rs.Count, Limit: rs.Limit}
	for f, err := range facts {
		if err != nil {
			return nil, err
		}
		// The index may lag behind ACL changes in the primary store.
		readable, err := sc.HasReadPermission(ctx, f)
		if err != nil {
			return nil, err
		}
		if !readable {
			continue
		}
		m, err := conv.fact(ctx, f)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, m)
	}

	log.Debugw("Searched facts", logger.FieldCount, len(out.Values), "matched", rs.Count)
	return out, nil
}

// factTypeIDs resolves type names. known is false when names were given but
// none of them exists, in which case nothing can match.
func (s *Service) factTypeIDs(ctx context.Context, names []string) (ids []uuid.UUID, known bool, err error) {
	if len(names) == 0 {
		return nil, true, nil
	}
	for _, name := range names {
		ft, err := s.facts.GetFactTypeByName(ctx, name)
		if err != nil {
			return nil, false, err
		}
		if ft != nil {
			ids = append(ids, ft.ID)
		}
	}
	return ids, len(ids) > 0, nil
}

// GetFactAcl lists the ACL of a fact the caller may read.
func (s *Service) GetFactAcl(ctx context.Context, factID uuid.UUID) ([]*model.AclEntry, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.fetchFact(ctx, sc, factID); err != nil {
		return nil, err
	}

	acl, err := s.facts.FetchFactAcl(ctx, factID)
	if err != nil {
		return nil, err
	}
	conv := s.converter(sc)
	out := make([]*model.AclEntry, 0, len(acl))
	for _, e := range acl {
		m, err := conv.aclEntry(ctx, e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// GetFactComments lists the comments on a fact the caller may read, oldest first.
func (s *Service) GetFactComments(ctx context.Context, factID uuid.UUID) ([]*model.FactComment, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	f, err := s.fetchFact(ctx, sc, factID)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactComments, f.OrganizationID); err != nil {
		return nil, err
	}

	comments, err := s.facts.FetchFactComments(ctx, factID)
	if err != nil {
		return nil, err
	}
	conv := s.converter(sc)
	out := make([]*model.FactComment, 0, len(comments))
	for _, c := range comments {
		m, err := conv.comment(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
