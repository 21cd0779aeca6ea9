package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/handler"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/manager"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/storage"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/fact/validator"
	fgtest "github.com/teranos/factgraph/internal/testing"
	"github.com/teranos/factgraph/internal/util"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []trigger.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e trigger.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEmitter) names() []trigger.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []trigger.EventName
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

func (r *recordingEmitter) last() trigger.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	svc     *Service
	facts   *manager.FactManager
	objects *manager.ObjectManager
	sources *manager.SourceManager
	index   *index.Store
	events  *recordingEmitter
	now     time.Time

	orgA, orgB uuid.UUID
	// admin holds every function in orgA, analyst every function in orgB,
	// reader only viewFactObjects in orgA.
	admin, analyst, reader *security.Subject

	ipv4   *model.ObjectType
	domain *model.ObjectType
	seen   *model.FactType
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	fx := &fixture{
		now:    time.UnixMilli(1_700_000_000_000),
		events: &recordingEmitter{},
		orgA:   uuid.New(),
		orgB:   uuid.New(),
	}

	handlers := handler.NewFactory()
	store := storage.NewStore(fgtest.CreateTestDB(t), log)
	opts := manager.Options{
		CacheEnabled: true,
		Handlers:     handlers,
		Clock:        func() time.Time { return fx.now },
		Logger:       log,
	}
	fx.facts = manager.NewFactManager(store, opts)
	fx.objects = manager.NewObjectManager(store, opts)
	fx.sources = manager.NewSourceManager(store, opts)

	idx, err := index.Open(index.InMemoryConfig(), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	fx.index = idx

	fx.svc = New(Deps{
		Facts:      fx.facts,
		Objects:    fx.objects,
		Sources:    fx.sources,
		Index:      idx,
		Validators: validator.NewFactory(),
		Handlers:   handlers,
		Emitter:    fx.events,
		Logger:     log,
	}, cfg)
	require.NoError(t, fx.svc.EnsureSystemTypes(context.Background()))

	fx.admin = security.NewSubject(uuid.New(), fx.orgA).Grant(fx.orgA, security.AllFunctions...)
	fx.analyst = security.NewSubject(uuid.New(), fx.orgB).Grant(fx.orgB, security.AllFunctions...)
	fx.reader = security.NewSubject(uuid.New(), fx.orgA).Grant(fx.orgA, security.ViewFactObjects)

	ctx := fx.as(fx.admin)
	fx.ipv4, err = fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{
		Name:               "ipv4",
		Validator:          validator.Tag,
		ValidatorParameter: "ipv4",
	})
	require.NoError(t, err)
	fx.domain, err = fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "domain"})
	require.NoError(t, err)
	fx.seen, err = fx.svc.CreateFactType(ctx, &model.CreateFactTypeRequest{
		Name: "seen",
		RelevantObjectBindings: []model.RelevantObjectBindingRequest{
			{ObjectType: fx.ipv4.ID, Direction: types.DirectionNone},
			{ObjectType: fx.domain.ID, Direction: types.DirectionFactIsDestination},
		},
	})
	require.NoError(t, err)
	return fx
}

func (fx *fixture) as(subject *security.Subject) context.Context {
	return security.NewContext(context.Background(), security.NewSecurityContext(subject, fx.svc.AclResolver()))
}

func (fx *fixture) advance(d time.Duration) {
	fx.now = fx.now.Add(d)
}

func (fx *fixture) nowMillis() int64 {
	return fx.now.UnixMilli()
}

func seenRequest(ip string, mode types.AccessMode) *model.CreateFactRequest {
	return &model.CreateFactRequest{
		Type:       "seen",
		Value:      ip,
		AccessMode: util.Ptr(mode),
		Bindings: []model.BindingRequest{
			{ObjectType: "ipv4", ObjectValue: ip, Direction: types.DirectionNone},
		},
	}
}

func (fx *fixture) mustCreate(t *testing.T, ctx context.Context, req *model.CreateFactRequest) *model.Fact {
	t.Helper()
	f, err := fx.svc.CreateFact(ctx, req)
	require.NoError(t, err)
	return f
}

func properties(err error) []string {
	var out []string
	for _, v := range errors.ValidationErrorsOf(err) {
		out = append(out, v.Property)
	}
	return out
}

func TestEnsureSystemTypesIsIdempotent(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	require.NoError(t, fx.svc.EnsureSystemTypes(ctx))

	ft, err := fx.facts.GetFactTypeByName(ctx, RetractionTypeName)
	require.NoError(t, err)
	require.NotNil(t, ft)
	assert.Equal(t, retractionTypeID, ft.ID)
}

func TestOperationsRequireSecurityContext(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := context.Background()

	_, err := fx.svc.CreateFact(ctx, seenRequest("1.2.3.4", types.AccessModePublic))
	assert.True(t, errors.IsAuthenticationFailed(err))

	_, err = fx.svc.GetFact(ctx, uuid.New())
	assert.True(t, errors.IsAuthenticationFailed(err))

	_, err = fx.svc.SearchFactTypes(ctx)
	assert.True(t, errors.IsAuthenticationFailed(err))
}

func TestCreateTypes(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	assert.Equal(t, validator.Tag, fx.ipv4.Validator)
	assert.Equal(t, handler.Identity, fx.ipv4.EntityHandler)
	assert.Equal(t, validator.True, fx.domain.Validator)

	require.Len(t, fx.seen.RelevantObjectBindings, 2)
	assert.Equal(t, "ipv4", fx.seen.RelevantObjectBindings[0].ObjectType.Name)
	assert.Equal(t, "FactIsDestination", fx.seen.RelevantObjectBindings[1].Direction)

	t.Run("duplicate name", func(t *testing.T) {
		_, err := fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "ipv4"})
		assert.True(t, errors.IsInvalidArgument(err))
		_, err = fx.svc.CreateFactType(ctx, &model.CreateFactTypeRequest{Name: "seen"})
		assert.True(t, errors.IsInvalidArgument(err))
		_, err = fx.svc.CreateFactType(ctx, &model.CreateFactTypeRequest{Name: RetractionTypeName})
		assert.True(t, errors.IsInvalidArgument(err))
	})

	t.Run("unknown strategies", func(t *testing.T) {
		_, err := fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "x", Validator: "NoSuchValidator"})
		assert.True(t, errors.IsInvalidArgument(err))
		_, err = fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "x", EntityHandler: "NoSuchHandler"})
		assert.True(t, errors.IsInvalidArgument(err))
		_, err = fx.svc.CreateObjectType(ctx, &model.CreateObjectTypeRequest{Name: "x", Validator: validator.Regex, ValidatorParameter: "("})
		assert.True(t, errors.IsInvalidArgument(err))
	})

	t.Run("unknown binding object types are all reported", func(t *testing.T) {
		_, err := fx.svc.CreateFactType(ctx, &model.CreateFactTypeRequest{
			Name: "resolves",
			RelevantObjectBindings: []model.RelevantObjectBindingRequest{
				{ObjectType: uuid.New()},
				{ObjectType: fx.domain.ID},
				{ObjectType: uuid.New()},
			},
		})
		require.Error(t, err)
		assert.Equal(t, []string{
			"relevantObjectBindings[0].objectType",
			"relevantObjectBindings[2].objectType",
		}, properties(err))
	})

	t.Run("requires addTypes", func(t *testing.T) {
		_, err := fx.svc.CreateObjectType(fx.as(fx.reader), &model.CreateObjectTypeRequest{Name: "url"})
		assert.True(t, errors.IsAccessDenied(err))
	})
}

func TestUpdateTypes(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	renamed, err := fx.svc.UpdateObjectType(ctx, &model.UpdateObjectTypeRequest{ID: fx.domain.ID, Name: "fqdn"})
	require.NoError(t, err)
	assert.Equal(t, "fqdn", renamed.Name)

	got, err := fx.svc.GetObjectType(ctx, fx.domain.ID)
	require.NoError(t, err)
	assert.Equal(t, "fqdn", got.Name)

	_, err = fx.svc.UpdateObjectType(ctx, &model.UpdateObjectTypeRequest{ID: fx.domain.ID, Name: "ipv4"})
	assert.True(t, errors.IsInvalidArgument(err))
	_, err = fx.svc.UpdateObjectType(ctx, &model.UpdateObjectTypeRequest{ID: uuid.New(), Name: "y"})
	assert.True(t, errors.IsObjectNotFound(err))

	before, err := fx.facts.GetFactType(context.Background(), fx.seen.ID)
	require.NoError(t, err)

	updated, err := fx.svc.UpdateFactType(ctx, &model.UpdateFactTypeRequest{
		ID: fx.seen.ID,
		AddRelevantObjectBindings: []model.RelevantObjectBindingRequest{
			{ObjectType: fx.ipv4.ID, Direction: types.DirectionNone},
			{ObjectType: fx.ipv4.ID, Direction: types.DirectionFactIsSource},
			{ObjectType: fx.ipv4.ID, Direction: types.DirectionFactIsSource},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "seen", updated.Name)
	assert.Len(t, updated.RelevantObjectBindings, 3)
	assert.Len(t, before.RelevantObjectBindings, 2, "cached instance must not be mutated")

	_, err = fx.svc.UpdateFactType(ctx, &model.UpdateFactTypeRequest{ID: retractionTypeID, Name: "Undo"})
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestGetAndSearchTypes(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.reader)

	_, err := fx.svc.GetFactType(ctx, fx.seen.ID)
	assert.True(t, errors.IsAccessDenied(err))

	ctx = fx.as(fx.admin)
	ft, err := fx.svc.GetFactType(ctx, fx.seen.ID)
	require.NoError(t, err)
	assert.Equal(t, "seen", ft.Name)

	_, err = fx.svc.GetFactType(ctx, uuid.New())
	assert.True(t, errors.IsObjectNotFound(err))

	factTypes, err := fx.svc.SearchFactTypes(ctx)
	require.NoError(t, err)
	var names []string
	for _, v := range factTypes.Values {
		names = append(names, v.Name)
	}
	assert.ElementsMatch(t, []string{"seen", RetractionTypeName}, names)

	objectTypes, err := fx.svc.SearchObjectTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, objectTypes.Count)
}

func TestObjectReads(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	f := fx.mustCreate(t, ctx, seenRequest("10.0.0.1", types.AccessModePublic))
	require.Len(t, f.Objects, 1)

	byID, err := fx.svc.GetObject(ctx, f.Objects[0].Object.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", byID.Value)
	assert.Equal(t, "ipv4", byID.Type.Name)

	byValue, err := fx.svc.GetObjectByTypeValue(ctx, "ipv4", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, byID.ID, byValue.ID)

	_, err = fx.svc.GetObjectByTypeValue(ctx, "ipv4", "10.0.0.2")
	assert.True(t, errors.IsObjectNotFound(err))
	_, err = fx.svc.GetObjectByTypeValue(ctx, "mac", "aa")
	assert.True(t, errors.IsObjectNotFound(err))
	_, err = fx.svc.GetObject(ctx, uuid.New())
	assert.True(t, errors.IsObjectNotFound(err))
}
