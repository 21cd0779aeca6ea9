package service

import (
	"context"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/logger"
)

// draft is a fully resolved fact that has not been stored yet.
type draft struct {
	fact     *types.Fact
	factType *types.FactType
	acl      []uuid.UUID
	comment  string
}

func (d *draft) fingerprint() index.Fingerprint {
	return index.Fingerprint{
		FactTypeID:      d.fact.TypeID,
		Value:           d.fact.Value,
		InReferenceToID: d.fact.InReferenceToID,
		SourceID:        d.fact.SourceID,
		OrganizationID:  d.fact.OrganizationID,
		AccessMode:      d.fact.AccessMode,
		BoundObjects:    d.fact.Bindings,
	}
}

// CreateFact stores a new fact, or refreshes the existing fact with the same
// fingerprint when the caller can read it. Either way the returned fact is
// the one now stored.
func (s *Service) CreateFact(ctx context.Context, req *model.CreateFactRequest) (*model.Fact, error) {
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

	organizationID, err := resolveOrganization(sc, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.AddFactObjects, organizationID); err != nil {
		return nil, err
	}

	ft, err := s.resolveFactType(ctx, req.Type)
	if err != nil {
		return nil, err
	}
	if ft.Name == RetractionTypeName {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"Retraction facts can only be created by retracting a fact.", "fact.type.reserved", "type", req.Type))
	}

	sourceID, err := s.resolveSource(ctx, sc, req.SourceID)
	if err != nil {
		return nil, err
	}
	if err := s.validateFactValue(ft, req.Value); err != nil {
		return nil, err
	}
	bindings, err := s.resolveBindings(ctx, ft, req.Bindings)
	if err != nil {
		return nil, err
	}
	ref, err := s.resolveReferencedFact(ctx, sc, req.InReferenceTo)
	if err != nil {
		return nil, err
	}

	mode := types.AccessModeRoleBased
	if req.AccessMode != nil {
		mode = *req.AccessMode
	}
	f := &types.Fact{
		TypeID:          ft.ID,
		Value:           req.Value,
		OrganizationID:  organizationID,
		SourceID:        sourceID,
		AccessMode:      mode,
		ConfidenceLevel: req.ConfidenceLevel,
		Bindings:        bindings,
	}
	if ref != nil {
		f.InReferenceToID = ref.ID
	}

	stored, err := s.createOrRefresh(ctx, sc, &draft{fact: f, factType: ft, acl: req.Acl, comment: req.Comment})
	if err != nil {
		return nil, err
	}

	out, err := s.converter(sc).fact(ctx, stored)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, trigger.Event{
		Name:           trigger.FactAdded,
		OrganizationID: stored.OrganizationID,
		AccessMode:     stored.AccessMode,
		Parameters:     map[string]any{trigger.ParamAddedFact: out},
	})
	return out, nil
}

// createOrRefresh runs the dedup lookup and then either refreshes the first
// readable match or stores d as a new fact. The comment is attached on both
// paths.
func (s *Service) createOrRefresh(ctx context.Context, sc security.SecurityContext, d *draft) (*types.Fact, error) {
	fp := d.fingerprint()
	key := fp.Key()
	log := s.log(ctx, "create_fact").With(logger.FieldFingerprint, key, logger.FieldFactType, d.factType.Name)

	if s.fingerprintLock != nil {
		unlock := s.fingerprintLock.Lock(key)
		defer unlock()
	}

	existing, err := s.findExisting(ctx, sc, fp)
	if err != nil {
		return nil, err
	}

	var stored *types.Fact
	if existing != nil {
		stored, err = s.refresh(ctx, sc, log, existing, d.acl)
	} else {
		stored, err = s.insert(ctx, sc, log, d)
	}
	if err != nil {
		return nil, err
	}

	if d.comment != "" {
		if _, err := s.facts.SaveFactComment(ctx, &types.FactComment{
			ID:        uuid.New(),
			FactID:    stored.ID,
			SourceID:  sc.CurrentUserID(),
			Comment:   d.comment,
			Timestamp: s.facts.Now(),
		}); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// findExisting returns the first fact with fingerprint fp the caller can
// read, or nil.
func (s *Service) findExisting(ctx context.Context, sc security.SecurityContext, fp index.Fingerprint) (*types.Fact, error) {
	docs, err := s.index.RetrieveExistingFacts(ctx, fp)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(docs))
	for _, doc := range docs {
		ids = append(ids, doc.ID)
	}
	candidates, err := s.facts.GetFacts(ctx, ids)
	if err != nil {
		return nil, err
	}
	for f, err := range candidates {
		if err != nil {
			return nil, err
		}
		readable, err := sc.HasReadPermission(ctx, f)
		if err != nil {
			return nil, err
		}
		if readable {
			return f, nil
		}
	}
	return nil, nil
}

func (s *Service) refresh(ctx context.Context, sc security.SecurityContext, log *zap.SugaredLogger, existing *types.Fact, acl []uuid.UUID) (*types.Fact, error) {
	refreshed, err := s.facts.RefreshFact(ctx, existing.ID)
	if err != nil {
		return nil, err
	}

	var added []uuid.UUID
	if refreshed.AccessMode != types.AccessModePublic && len(acl) > 0 {
		present, err := s.aclSubjects(ctx, refreshed.ID)
		if err != nil {
			return nil, err
		}
		for _, subject := range dedupe(acl) {
			if slices.Contains(present, subject) {
				continue
			}
			if err := s.saveAclEntry(ctx, sc, refreshed.ID, subject); err != nil {
				return nil, err
			}
			added = append(added, subject)
		}
	}

	err = s.index.ReindexExistingFact(ctx, refreshed.ID, func(doc *index.FactDocument) {
		doc.LastSeenTimestamp = refreshed.LastSeenTimestamp
		doc.AddAcl(added...)
	})
	if errors.IsObjectNotFound(err) {
		log.Warnw("Refreshed fact had no index document, indexing in full", logger.FieldFactID, refreshed.ID)
		err = s.indexInFull(ctx, refreshed)
	}
	if err != nil {
		return nil, err
	}

	log.Infow("Refreshed fact",
		logger.FieldFactID, refreshed.ID,
		logger.FieldCount, len(added),
	)
	return refreshed, nil
}

func (s *Service) insert(ctx context.Context, sc security.SecurityContext, log *zap.SugaredLogger, d *draft) (*types.Fact, error) {
	now := s.facts.Now()
	f := *d.fact
	f.ID = uuid.New()
	f.Timestamp = now
	f.LastSeenTimestamp = now

	saved, err := s.facts.SaveFact(ctx, &f)
	if err != nil {
		return nil, err
	}

	for _, b := range saved.Bindings {
		if _, err := s.objects.SaveObjectFactBinding(ctx, &types.ObjectFactBinding{
			ObjectID:  b.ObjectID,
			FactID:    saved.ID,
			Direction: b.Direction,
		}); err != nil {
			return nil, err
		}
	}

	var subjects []uuid.UUID
	if saved.AccessMode != types.AccessModePublic {
		subjects = dedupe(append(slices.Clone(d.acl), sc.CurrentUserID()))
		for _, subject := range subjects {
			if err := s.saveAclEntry(ctx, sc, saved.ID, subject); err != nil {
				return nil, err
			}
		}
	}

	if err := s.index.IndexFact(ctx, index.NewFactDocument(saved, subjects)); err != nil {
		return nil, err
	}

	log.Infow("Created fact",
		logger.FieldFactID, saved.ID,
		logger.FieldOrganizationID, saved.OrganizationID,
		logger.FieldAccessMode, saved.AccessMode.String(),
	)
	return saved, nil
}

func (s *Service) saveAclEntry(ctx context.Context, sc security.SecurityContext, factID, subject uuid.UUID) error {
	_, err := s.facts.SaveFactAclEntry(ctx, &types.FactAclEntry{
		ID:        uuid.New(),
		FactID:    factID,
		SubjectID: subject,
		SourceID:  sc.CurrentUserID(),
		Timestamp: s.facts.Now(),
	})
	return err
}

// indexInFull re-derives the document of f from the primary store.
func (s *Service) indexInFull(ctx context.Context, f *types.Fact) error {
	subjects, err := s.aclSubjects(ctx, f.ID)
	if err != nil {
		return err
	}
	return s.index.IndexFact(ctx, index.NewFactDocument(f, subjects))
}

// dedupe drops repeated and nil ids, keeping first occurrences in order.
func dedupe(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}
