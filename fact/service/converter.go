package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/types"
)

// converter turns stored entities into their external models. It memoizes
// lookups for the lifetime of one request so a page of search results does
// not repeat type and source reads.
type converter struct {
	s  *Service
	sc security.SecurityContext

	factTypes   map[uuid.UUID]model.FactTypeInfo
	objectTypes map[uuid.UUID]model.ObjectTypeInfo
	sources     map[uuid.UUID]model.SourceInfo
}

func (s *Service) converter(sc security.SecurityContext) *converter {
	return &converter{
		s:           s,
		sc:          sc,
		factTypes:   make(map[uuid.UUID]model.FactTypeInfo),
		objectTypes: make(map[uuid.UUID]model.ObjectTypeInfo),
		sources:     make(map[uuid.UUID]model.SourceInfo),
	}
}

func (c *converter) factTypeInfo(ctx context.Context, id uuid.UUID) (model.FactTypeInfo, error) {
	if info, ok := c.factTypes[id]; ok {
		return info, nil
	}
	info := model.FactTypeInfo{ID: id}
	ft, err := c.s.facts.GetFactType(ctx, id)
	if err != nil {
		return info, err
	}
	if ft != nil {
		info.Name = ft.Name
	}
	c.factTypes[id] = info
	return info, nil
}

func (c *converter) objectTypeInfo(ctx context.Context, id uuid.UUID) (model.ObjectTypeInfo, error) {
	if info, ok := c.objectTypes[id]; ok {
		return info, nil
	}
	info := model.ObjectTypeInfo{ID: id}
	ot, err := c.s.objects.GetObjectType(ctx, id)
	if err != nil {
		return info, err
	}
	if ot != nil {
		info.Name = ot.Name
	}
	c.objectTypes[id] = info
	return info, nil
}

func (c *converter) sourceInfo(ctx context.Context, id uuid.UUID) (model.SourceInfo, error) {
	if info, ok := c.sources[id]; ok {
		return info, nil
	}
	info := model.SourceInfo{ID: id}
	src, err := c.s.sources.GetSource(ctx, id)
	if err != nil {
		return info, err
	}
	if src != nil {
		info.Name = src.Name
	}
	c.sources[id] = info
	return info, nil
}

func (c *converter) fact(ctx context.Context, f *types.Fact) (*model.Fact, error) {
	typeInfo, err := c.factTypeInfo(ctx, f.TypeID)
	if err != nil {
		return nil, err
	}
	source, err := c.sourceInfo(ctx, f.SourceID)
	if err != nil {
		return nil, err
	}

	out := &model.Fact{
		ID:                f.ID,
		Type:              typeInfo,
		Value:             f.Value,
		OrganizationID:    f.OrganizationID,
		Source:            source,
		AccessMode:        f.AccessMode.String(),
		ConfidenceLevel:   f.ConfidenceLevel,
		Timestamp:         f.Timestamp,
		LastSeenTimestamp: f.LastSeenTimestamp,
	}

	if f.HasReference() {
		ref, err := c.referencedFact(ctx, f.InReferenceToID)
		if err != nil {
			return nil, err
		}
		out.InReferenceTo = ref
	}

	for _, b := range f.Bindings {
		o, err := c.s.objects.GetObject(ctx, b.ObjectID)
		if err != nil {
			return nil, err
		}
		info := model.ObjectInfo{ID: b.ObjectID}
		if o != nil {
			if info.Type, err = c.objectTypeInfo(ctx, o.TypeID); err != nil {
				return nil, err
			}
			info.Value = o.Value
		}
		out.Objects = append(out.Objects, model.FactObjectBinding{Object: info, Direction: b.Direction.String()})
	}
	return out, nil
}

// referencedFact shows the referenced fact in full only when the caller may
// read it. Otherwise only its id is revealed.
func (c *converter) referencedFact(ctx context.Context, id uuid.UUID) (*model.FactInfo, error) {
	info := &model.FactInfo{ID: id}
	ref, err := c.s.facts.GetFact(ctx, id)
	if err != nil || ref == nil {
		return info, err
	}
	readable, err := c.sc.HasReadPermission(ctx, ref)
	if err != nil || !readable {
		return info, err
	}
	if info.Type, err = c.factTypeInfo(ctx, ref.TypeID); err != nil {
		return nil, err
	}
	info.Value = ref.Value
	return info, nil
}

func (c *converter) object(ctx context.Context, o *types.Object) (*model.Object, error) {
	typeInfo, err := c.objectTypeInfo(ctx, o.TypeID)
	if err != nil {
		return nil, err
	}
	return &model.Object{ID: o.ID, Type: typeInfo, Value: o.Value}, nil
}

func (c *converter) aclEntry(ctx context.Context, e *types.FactAclEntry) (*model.AclEntry, error) {
	source, err := c.sourceInfo(ctx, e.SourceID)
	if err != nil {
		return nil, err
	}
	return &model.AclEntry{
		ID:        e.ID,
		FactID:    e.FactID,
		SubjectID: e.SubjectID,
		Source:    source,
		Timestamp: e.Timestamp,
	}, nil
}

func (c *converter) comment(ctx context.Context, cm *types.FactComment) (*model.FactComment, error) {
	source, err := c.sourceInfo(ctx, cm.SourceID)
	if err != nil {
		return nil, err
	}
	return &model.FactComment{
		ID:        cm.ID,
		FactID:    cm.FactID,
		ReplyToID: cm.ReplyToID,
		Source:    source,
		Comment:   cm.Comment,
		Timestamp: cm.Timestamp,
	}, nil
}

func toModelObjectType(t *types.ObjectType) *model.ObjectType {
	return &model.ObjectType{
		ID:                     t.ID,
		NamespaceID:            t.NamespaceID,
		Name:                   t.Name,
		Validator:              t.Validator,
		ValidatorParameter:     t.ValidatorParameter,
		EntityHandler:          t.EntityHandler,
		EntityHandlerParameter: t.EntityHandlerParameter,
	}
}

func (c *converter) factType(ctx context.Context, t *types.FactType) (*model.FactType, error) {
	out := &model.FactType{
		ID:                     t.ID,
		NamespaceID:            t.NamespaceID,
		Name:                   t.Name,
		Validator:              t.Validator,
		ValidatorParameter:     t.ValidatorParameter,
		EntityHandler:          t.EntityHandler,
		EntityHandlerParameter: t.EntityHandlerParameter,
	}
	for _, b := range t.RelevantObjectBindings {
		info, err := c.objectTypeInfo(ctx, b.ObjectTypeID)
		if err != nil {
			return nil, err
		}
		out.RelevantObjectBindings = append(out.RelevantObjectBindings, model.RelevantObjectBinding{
			ObjectType: info,
			Direction:  b.Direction.String(),
		})
	}
	return out, nil
}
