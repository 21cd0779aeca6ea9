// Package service is the fact lifecycle orchestrator. It composes the cache
// managers, the search index, the security context and the trigger emitter
// into the operations callers use: create or refresh a fact, retract it,
// read and search facts, grant access, comment, and administer types.
//
// Every operation expects a security.SecurityContext on its context.Context.
// No operation spans a transaction across the primary store and the index;
// see the package index for the consistency contract.
package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/manager"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/fact/validator"
	"github.com/teranos/factgraph/logger"
)

// RetractionTypeName is the reserved FactType every retraction uses.
const RetractionTypeName = "Retraction"

// retractionTypeID is fixed so every process ensures the same type.
var retractionTypeID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("factgraph/FactType/Retraction"))

// Config tunes orchestrator behavior.
type Config struct {
	// SerializeIdenticalFacts makes concurrent create requests with the same
	// fingerprint run one after the other inside this process, so the second
	// one refreshes the fact the first one created instead of duplicating it.
	// Off by default: identical concurrent requests may both create a fact.
	SerializeIdenticalFacts bool
}

// Deps are the collaborators a Service composes.
type Deps struct {
	Facts      *manager.FactManager
	Objects    *manager.ObjectManager
	Sources    *manager.SourceManager
	Index      *index.Store
	Validators *validator.Factory
	Handlers   *handler.Factory
	Emitter    trigger.Emitter
	Logger     *zap.SugaredLogger
}

// Service implements the fact operations.
type Service struct {
	facts      *manager.FactManager
	objects    *manager.ObjectManager
	sources    *manager.SourceManager
	index      *index.Store
	validators *validator.Factory
	handlers   *handler.Factory
	emitter    trigger.Emitter
	logger     *zap.SugaredLogger

	fingerprintLock *keyedMutex
}

// New creates a Service. Nil Validators, Handlers and Emitter get defaults.
func New(deps Deps, cfg Config) *Service {
	s := &Service{
		facts:      deps.Facts,
		objects:    deps.Objects,
		sources:    deps.Sources,
		index:      deps.Index,
		validators: deps.Validators,
		handlers:   deps.Handlers,
		emitter:    deps.Emitter,
		logger:     logger.OrNop(deps.Logger).Named("fact-service"),
	}
	if s.validators == nil {
		s.validators = validator.NewFactory()
	}
	if s.handlers == nil {
		s.handlers = handler.NewFactory()
	}
	if s.emitter == nil {
		s.emitter = trigger.NopEmitter{}
	}
	if cfg.SerializeIdenticalFacts {
		s.fingerprintLock = newKeyedMutex()
	}
	return s
}

// EnsureSystemTypes creates the reserved Retraction fact type if it is missing.
// Safe to call from several processes at once.
func (s *Service) EnsureSystemTypes(ctx context.Context) error {
	existing, err := s.facts.GetFactTypeByName(ctx, RetractionTypeName)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	_, err = s.facts.SaveFactType(ctx, &types.FactType{
		ID:            retractionTypeID,
		Name:          RetractionTypeName,
		Validator:     validator.True,
		EntityHandler: handler.Identity,
	})
	if err != nil && !errors.IsInvalidArgument(err) {
		return errors.Wrap(err, "ensure retraction fact type")
	}

	s.logger.Infow("Ensured system fact types", logger.FieldFactType, RetractionTypeName)
	return nil
}

// AclResolver resolves fact ACLs through the fact manager, for building a
// security.Context.
func (s *Service) AclResolver() security.AclResolver {
	return s.aclSubjects
}

func (s *Service) log(ctx context.Context, operation string) *zap.SugaredLogger {
	return logger.FromContext(ctx, s.logger).With(logger.FieldOperation, operation)
}

func securityContext(ctx context.Context) (security.SecurityContext, error) {
	return security.FromContext(ctx)
}

func (s *Service) emit(ctx context.Context, event trigger.Event) {
	s.emitter.Emit(ctx, event)
}
