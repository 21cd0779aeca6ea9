package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/fact/validator"
	"github.com/teranos/factgraph/logger"
)

// CreateObjectType defines a new object type. Names are unique.
func (s *Service) CreateObjectType(ctx context.Context, req *model.CreateObjectTypeRequest) (*model.ObjectType, error) {
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
	if err := sc.CheckPermission(security.AddTypes, uuid.Nil); err != nil {
		return nil, err
	}

	existing, err := s.objects.GetObjectTypeByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nameTakenError("ObjectType", req.Name)
	}

	t := &types.ObjectType{
		ID:                     uuid.New(),
		NamespaceID:            req.NamespaceID,
		Name:                   req.Name,
		Validator:              orDefault(req.Validator, validator.True),
		ValidatorParameter:     req.ValidatorParameter,
		EntityHandler:          orDefault(req.EntityHandler, handler.Identity),
		EntityHandlerParameter: req.EntityHandlerParameter,
	}
	if err := s.checkStrategies(t.Validator, t.ValidatorParameter, t.EntityHandler, t.EntityHandlerParameter); err != nil {
		return nil, err
	}

	saved, err := s.objects.SaveObjectType(ctx, t)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "create_object_type").Infow("Created object type", logger.FieldObjectType, saved.Name)
	return toModelObjectType(saved), nil
}

// CreateFactType defines a new fact type and the object bindings it allows.
func (s *Service) CreateFactType(ctx context.Context, req *model.CreateFactTypeRequest) (*model.FactType, error) {
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
	if err := sc.CheckPermission(security.AddTypes, uuid.Nil); err != nil {
		return nil, err
	}

	existing, err := s.facts.GetFactTypeByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, nameTakenError("FactType", req.Name)
	}

	bindings, err := s.relevantBindings(ctx, "relevantObjectBindings", req.RelevantObjectBindings, nil)
	if err != nil {
		return nil, err
	}

	t := &types.FactType{
		ID:                     uuid.New(),
		NamespaceID:            req.NamespaceID,
		Name:                   req.Name,
		Validator:              orDefault(req.Validator, validator.True),
		ValidatorParameter:     req.ValidatorParameter,
		EntityHandler:          orDefault(req.EntityHandler, handler.Identity),
		EntityHandlerParameter: req.EntityHandlerParameter,
		RelevantObjectBindings: bindings,
	}
	if err := s.checkStrategies(t.Validator, t.ValidatorParameter, t.EntityHandler, t.EntityHandlerParameter); err != nil {
		return nil, err
	}

	saved, err := s.facts.SaveFactType(ctx, t)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "create_fact_type").Infow("Created fact type",
		logger.FieldFactType, saved.Name,
		logger.FieldCount, len(saved.RelevantObjectBindings),
	)
	return s.converter(sc).factType(ctx, saved)
}

// UpdateObjectType renames an object type.
func (s *Service) UpdateObjectType(ctx context.Context, req *model.UpdateObjectTypeRequest) (*model.ObjectType, error) {
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
	if err := sc.CheckPermission(security.AddTypes, uuid.Nil); err != nil {
		return nil, err
	}

	existing, err := s.objects.GetObjectType(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.NewObjectNotFoundError("object type %s does not exist", req.ID)
	}
	if req.Name == "" || req.Name == existing.Name {
		return toModelObjectType(existing), nil
	}

	taken, err := s.objects.GetObjectTypeByName(ctx, req.Name)
	if err != nil {
		return nil, err
	}
	if taken != nil {
		return nil, nameTakenError("ObjectType", req.Name)
	}

	// Cached instances are shared, so the update works on a copy.
	updated := *existing
	updated.Name = req.Name
	saved, err := s.objects.SaveObjectType(ctx, &updated)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "update_object_type").Infow("Renamed object type", "from", existing.Name, "to", saved.Name)
	return toModelObjectType(saved), nil
}

// UpdateFactType renames a fact type and/or allows additional bindings.
// Bindings are never removed. The Retraction type cannot be changed.
func (s *Service) UpdateFactType(ctx context.Context, req *model.UpdateFactTypeRequest) (*model.FactType, error) {
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
	if err := sc.CheckPermission(security.AddTypes, uuid.Nil); err != nil {
		return nil, err
	}

	existing, err := s.facts.GetFactType(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.NewObjectNotFoundError("fact type %s does not exist", req.ID)
	}
	if existing.Name == RetractionTypeName {
		return nil, errors.WithStack(errors.NewInvalidArgumentError(
			"System fact types cannot be changed.", "fact.type.reserved", "id", req.ID.String()))
	}

	updated := *existing
	updated.RelevantObjectBindings = append([]types.ObjectBinding(nil), existing.RelevantObjectBindings...)

	if req.Name != "" && req.Name != existing.Name {
		taken, err := s.facts.GetFactTypeByName(ctx, req.Name)
		if err != nil {
			return nil, err
		}
		if taken != nil {
			return nil, nameTakenError("FactType", req.Name)
		}
		updated.Name = req.Name
	}

	added, err := s.relevantBindings(ctx, "addRelevantObjectBindings", req.AddRelevantObjectBindings, &updated)
	if err != nil {
		return nil, err
	}
	updated.RelevantObjectBindings = append(updated.RelevantObjectBindings, added...)

	saved, err := s.facts.SaveFactType(ctx, &updated)
	if err != nil {
		return nil, err
	}
	s.log(ctx, "update_fact_type").Infow("Updated fact type",
		logger.FieldFactType, saved.Name,
		logger.FieldCount, len(added),
	)
	return s.converter(sc).factType(ctx, saved)
}

// GetObjectType returns one object type.
func (s *Service) GetObjectType(ctx context.Context, id uuid.UUID) (*model.ObjectType, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewTypes, uuid.Nil); err != nil {
		return nil, err
	}
	t, err := s.objects.GetObjectType(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewObjectNotFoundError("object type %s does not exist", id)
	}
	return toModelObjectType(t), nil
}

// GetFactType returns one fact type.
func (s *Service) GetFactType(ctx context.Context, id uuid.UUID) (*model.FactType, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewTypes, uuid.Nil); err != nil {
		return nil, err
	}
	t, err := s.facts.GetFactType(ctx, id)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, errors.NewObjectNotFoundError("fact type %s does not exist", id)
	}
	return s.converter(sc).factType(ctx, t)
}

// SearchObjectTypes lists every object type.
func (s *Service) SearchObjectTypes(ctx context.Context) (*model.ResultSet[*model.ObjectType], error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewTypes, uuid.Nil); err != nil {
		return nil, err
	}
	all, err := s.objects.FetchObjectTypes(ctx)
	if err != nil {
		return nil, err
	}
	out := &model.ResultSet[*model.ObjectType]{Count: len(all), Limit: len(all)}
	for _, t := range all {
		out.Values = append(out.Values, toModelObjectType(t))
	}
	return out, nil
}

// SearchFactTypes lists every fact type.
func (s *Service) SearchFactTypes(ctx context.Context) (*model.ResultSet[*model.FactType], error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewTypes, uuid.Nil); err != nil {
		return nil, err
	}
	all, err := s.facts.FetchFactTypes(ctx)
	if err != nil {
		return nil, err
	}
	conv := s.converter(sc)
	out := &model.ResultSet[*model.FactType]{Count: len(all), Limit: len(all)}
	for _, t := range all {
		m, err := conv.factType(ctx, t)
		if err != nil {
			return nil, err
		}
		out.Values = append(out.Values, m)
	}
	return out, nil
}

// GetObject returns one object.
func (s *Service) GetObject(ctx context.Context, id uuid.UUID) (*model.Object, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactObjects, uuid.Nil); err != nil {
		return nil, err
	}
	o, err := s.objects.GetObject(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errors.NewObjectNotFoundError("object %s does not exist", id)
	}
	return s.converter(sc).object(ctx, o)
}

// GetObjectByTypeValue returns the object of the named type with value.
func (s *Service) GetObjectByTypeValue(ctx context.Context, typeName, value string) (*model.Object, error) {
	sc, err := securityContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := sc.CheckPermission(security.ViewFactObjects, uuid.Nil); err != nil {
		return nil, err
	}
	o, err := s.objectByTypeValue(ctx, typeName, value)
	if err != nil {
		return nil, err
	}
	return s.converter(sc).object(ctx, o)
}

func (s *Service) objectByTypeValue(ctx context.Context, typeName, value string) (*types.Object, error) {
	ot, err := s.objects.GetObjectTypeByName(ctx, typeName)
	if err != nil {
		return nil, err
	}
	if ot == nil {
		return nil, errors.NewObjectNotFoundError("object type %q does not exist", typeName)
	}
	o, err := s.objects.GetObjectByTypeValue(ctx, ot.ID, value)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, errors.NewObjectNotFoundError("object %s/%s does not exist", typeName, value)
	}
	return o, nil
}

// relevantBindings resolves requested bindings. Every unknown object type is
// reported. Pairs already allowed by into, or repeated in the request, are
// dropped.
func (s *Service) relevantBindings(ctx context.Context, field string, requested []model.RelevantObjectBindingRequest, into *types.FactType) ([]types.ObjectBinding, error) {
	invalid := &errors.InvalidArgumentError{}
	var out []types.ObjectBinding
	for i, b := range requested {
		ot, err := s.objects.GetObjectType(ctx, b.ObjectType)
		if err != nil {
			return nil, err
		}
		if ot == nil {
			invalid.AddValidationError("ObjectType does not exist.", "object.type.not.exist",
				fmt.Sprintf("%s[%d].objectType", field, i), b.ObjectType.String())
			continue
		}
		if into != nil && into.AllowsBinding(ot.ID, b.Direction) {
			continue
		}
		pending := &types.FactType{RelevantObjectBindings: out}
		if pending.AllowsBinding(ot.ID, b.Direction) {
			continue
		}
		out = append(out, types.ObjectBinding{ObjectTypeID: ot.ID, Direction: b.Direction})
	}
	if err := invalid.ErrorOrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// checkStrategies makes sure a type only names known validators and handlers.
func (s *Service) checkStrategies(validatorName, validatorParameter, handlerName, handlerParameter string) error {
	if _, err := s.validators.Get(validatorName, validatorParameter); err != nil {
		return err
	}
	if !s.handlers.Has(handlerName) {
		return errors.WithStack(errors.NewInvalidArgumentError(
			"Entity handler does not exist.", "entity.handler.not.exist", "entityHandler", handlerName))
	}
	if _, err := s.handlers.Get(handlerName, handlerParameter); err != nil {
		return errors.WithStack(errors.NewInvalidArgumentError(
			"Entity handler parameter is invalid.", "entity.handler.parameter.invalid", "entityHandlerParameter", handlerParameter))
	}
	return nil
}

func nameTakenError(kind, name string) error {
	return errors.WithStack(errors.NewInvalidArgumentError(
		kind+" with the same name already exists.", "type.name.exist", "name", name))
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
