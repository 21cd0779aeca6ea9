package service

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/logger"
)

// GrantFactAccess adds a subject to the ACL of a non-public fact. Granting a
// subject that is already present returns the existing entry.
func (s *Service) GrantFactAccess(ctx context.Context, req *model.GrantFactAccessRequest) (*model.AclEntry, error) {
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

	f, err := s.fetchFact(ctx, sc, req.FactID)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.GrantFactAccess, f.OrganizationID); err != nil {
		return nil, err
	}
	if f.AccessMode == types.AccessModePublic {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Cannot grant explicit access to a public Fact.", "fact.is.public", "fact", f.ID.String()))
	}

	conv := s.converter(sc)
	acl, err := s.facts.FetchFactAcl(ctx, f.ID)
	if err != nil {
		return nil, err
	}
	if i := slices.IndexFunc(acl, func(e *types.FactAclEntry) bool { return e.SubjectID == req.SubjectID }); i >= 0 {
		return conv.aclEntry(ctx, acl[i])
	}

	entry, err := s.facts.SaveFactAclEntry(ctx, &types.FactAclEntry{
		ID:        uuid.New(),
		FactID:    f.ID,
		SubjectID: req.SubjectID,
		SourceID:  sc.CurrentUserID(),
		Timestamp: s.facts.Now(),
	})
	if err != nil {
		return nil, err
	}

	log := s.log(ctx, "grant_fact_access")
	err = s.index.ReindexExistingFact(ctx, f.ID, func(doc *index.FactDocument) {
		doc.AddAcl(req.SubjectID)
	})
	if errors.IsObjectNotFound(err) {
		log.Warnw("Fact had no index document, indexing in full", logger.FieldFactID, f.ID)
		err = s.indexInFull(ctx, f)
	}
	if err != nil {
		return nil, err
	}

	log.Infow("Granted fact access", logger.FieldFactID, f.ID, logger.FieldSubjectID, req.SubjectID)
	return conv.aclEntry(ctx, entry)
}

// CreateFactComment comments on a fact, optionally replying to an earlier
// comment on the same fact.
func (s *Service) CreateFactComment(ctx context.Context, req *model.CreateFactCommentRequest) (*model.FactComment, error) {
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

	f, err := s.fetchFact(ctx, sc, req.FactID)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.AddFactComments, f.OrganizationID); err != nil {
		return nil, err
	}

	if req.ReplyTo != uuid.Nil {
		comments, err := s.facts.FetchFactComments(ctx, f.ID)
		if err != nil {
			return nil, err
		}
		if !slices.ContainsFunc(comments, func(c *types.FactComment) bool { return c.ID == req.ReplyTo }) {
			return nil, errors.WithStack(errors.NewInvalidArgumentError(
				"Comment replied to does not exist on this Fact.", "fact.comment.reply.not.exist", "replyTo", req.ReplyTo.String()))
		}
	}

	comment, err := s.facts.SaveFactComment(ctx, &types.FactComment{
		ID:        uuid.New(),
		FactID:    f.ID,
		ReplyToID: req.ReplyTo,
		SourceID:  sc.CurrentUserID(),
		Comment:   req.Comment,
		Timestamp: s.facts.Now(),
	})
	if err != nil {
		return nil, err
	}

	s.log(ctx, "create_fact_comment").Debugw("Commented on fact", logger.FieldFactID, f.ID)
	return s.converter(sc).comment(ctx, comment)
}
