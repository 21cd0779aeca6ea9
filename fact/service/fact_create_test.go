package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/trigger"
	"github.com/teranos/factgraph/fact/types"
	"github.com/teranos/factgraph/fact/validator"
	"github.com/teranos/factgraph/internal/util"
)

func TestCreateFactThenRefresh(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	created := fx.mustCreate(t, ctx, seenRequest("1.2.3.4", types.AccessModePublic))
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "seen", created.Type.Name)
	assert.Equal(t, fx.nowMillis(), created.Timestamp)
	assert.Equal(t, created.Timestamp, created.LastSeenTimestamp)
	assert.Equal(t, fx.orgA, created.OrganizationID)
	assert.Equal(t, fx.admin.ID, created.Source.ID)
	assert.Equal(t, "Public", created.AccessMode)
	require.Len(t, created.Objects, 1)
	assert.Equal(t, "1.2.3.4", created.Objects[0].Object.Value)
	assert.Equal(t, "ipv4", created.Objects[0].Object.Type.Name)
	assert.Equal(t, "None", created.Objects[0].Direction)

	fx.advance(time.Minute)
	refreshed := fx.mustCreate(t, ctx, seenRequest("1.2.3.4", types.AccessModePublic))
	assert.Equal(t, created.ID, refreshed.ID)
	assert.Equal(t, created.Timestamp, refreshed.Timestamp)
	assert.Equal(t, fx.nowMillis(), refreshed.LastSeenTimestamp)
	assert.Greater(t, refreshed.LastSeenTimestamp, created.LastSeenTimestamp)

	doc, err := fx.index.GetDocument(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, refreshed.LastSeenTimestamp, doc.LastSeenTimestamp)
	assert.Equal(t, created.Timestamp, doc.Timestamp)

	ids, err := fx.facts.ListFactIDs(context.Background(), uuid.Nil, 10)
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	assert.Equal(t, []trigger.EventName{trigger.FactAdded, trigger.FactAdded}, fx.events.names())
	event := fx.events.last()
	assert.Equal(t, fx.orgA, event.OrganizationID)
	assert.Equal(t, types.AccessModePublic, event.AccessMode)
	assert.Equal(t, refreshed, event.Parameters[trigger.ParamAddedFact])
}

func TestCreateFactDifferentFingerprints(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	a := fx.mustCreate(t, ctx, seenRequest("1.2.3.4", types.AccessModePublic))
	b := fx.mustCreate(t, ctx, seenRequest("1.2.3.4", types.AccessModeRoleBased))
	c := fx.mustCreate(t, ctx, seenRequest("5.6.7.8", types.AccessModePublic))

	assert.NotEqual(t, a.ID, b.ID)
	assert.NotEqual(t, a.ID, c.ID)
	assert.NotEqual(t, a.Objects[0].Object.ID, c.Objects[0].Object.ID)
	assert.Equal(t, a.Objects[0].Object.ID, b.Objects[0].Object.ID, "objects are resolved by value")
}

func TestCreateFactRejectsDisallowedBindings(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	_, err := fx.svc.CreateFact(ctx, &model.CreateFactRequest{
		Type:  "seen",
		Value: "x",
		Bindings: []model.BindingRequest{
			{ObjectType: "ipv4", ObjectValue: "1.2.3.4", Direction: types.DirectionNone},
			{ObjectType: "ipv4", ObjectValue: "1.2.3.4", Direction: types.DirectionFactIsSource},
			{ObjectType: "url", ObjectValue: "http://x"},
			{ObjectType: "ipv4", ObjectValue: "not-an-ip"},
			{ObjectID: uuid.New()},
		},
	})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Equal(t, []string{"bindings[1]", "bindings[2]", "bindings[3]", "bindings[4]"}, properties(err))

	ids, err := fx.facts.ListFactIDs(context.Background(), uuid.Nil, 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, fx.events.names())
}

func TestCreateFactWithUnreadableReference(t *testing.T) {
	fx := newFixture(t, Config{})

	hidden := fx.mustCreate(t, fx.as(fx.analyst), seenRequest("9.9.9.9", types.AccessModeRoleBased))

	_, err := fx.svc.CreateFact(fx.as(fx.admin), &model.CreateFactRequest{
		Type:          "seen",
		Value:         "see also",
		AccessMode:    util.Ptr(types.AccessModePublic),
		InReferenceTo: hidden.ID,
	})
	assert.True(t, errors.IsAccessDenied(err))

	_, err = fx.svc.CreateFact(fx.as(fx.admin), &model.CreateFactRequest{
		Type:          "seen",
		InReferenceTo: uuid.New(),
	})
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Equal(t, []string{"inReferenceTo"}, properties(err))
}

func TestCreateFactReferenceIsRedactedWhenUnreadable(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	secret := fx.mustCreate(t, ctx, seenRequest("10.1.1.1", types.AccessModeExplicit))
	note := fx.mustCreate(t, ctx, &model.CreateFactRequest{
		Type:          "seen",
		Value:         "note",
		AccessMode:    util.Ptr(types.AccessModePublic),
		InReferenceTo: secret.ID,
	})
	require.NotNil(t, note.InReferenceTo)
	assert.Equal(t, "seen", note.InReferenceTo.Type.Name)
	assert.Equal(t, "10.1.1.1", note.InReferenceTo.Value)

	seenByAnalyst, err := fx.svc.GetFact(fx.as(fx.analyst), note.ID)
	require.NoError(t, err)
	require.NotNil(t, seenByAnalyst.InReferenceTo)
	assert.Equal(t, secret.ID, seenByAnalyst.InReferenceTo.ID)
	assert.Empty(t, seenByAnalyst.InReferenceTo.Value)
	assert.Empty(t, seenByAnalyst.InReferenceTo.Type.Name)
}

func TestCreateFactPreconditions(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	_, err := fx.svc.CreateFactType(ctx, &model.CreateFactTypeRequest{
		Name:               "score",
		Validator:          validator.Regex,
		ValidatorParameter: "[0-9]{1,3}",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		ctx   context.Context
		req   *model.CreateFactRequest
		check func(error) bool
		props []string
	}{
		{
			name:  "nil request",
			ctx:   ctx,
			check: errors.IsInvalidArgument,
		},
		{
			name:  "missing type",
			ctx:   ctx,
			req:   &model.CreateFactRequest{},
			check: errors.IsInvalidArgument,
			props: []string{"type"},
		},
		{
			name:  "unknown type",
			ctx:   ctx,
			req:   &model.CreateFactRequest{Type: "resolves"},
			check: errors.IsObjectNotFound,
		},
		{
			name:  "reserved type",
			ctx:   ctx,
			req:   &model.CreateFactRequest{Type: RetractionTypeName},
			check: errors.IsInvalidArgument,
			props: []string{"type"},
		},
		{
			name:  "invalid value",
			ctx:   ctx,
			req:   &model.CreateFactRequest{Type: "score", Value: "high"},
			check: errors.IsInvalidArgument,
			props: []string{"value"},
		},
		{
			name:  "unknown source",
			ctx:   ctx,
			req:   &model.CreateFactRequest{Type: "score", Value: "7", SourceID: uuid.New()},
			check: errors.IsInvalidArgument,
			props: []string{"source"},
		},
		{
			name:  "no addFactObjects",
			ctx:   fx.as(fx.reader),
			req:   &model.CreateFactRequest{Type: "score", Value: "7"},
			check: errors.IsAccessDenied,
		},
		{
			name:  "foreign organization",
			ctx:   ctx,
			req:   &model.CreateFactRequest{Type: "score", Value: "7", OrganizationID: fx.orgB},
			check: errors.IsAccessDenied,
		},
		{
			name:  "no organization to default to",
			ctx:   fx.as(security.NewSubject(uuid.New(), uuid.Nil).Grant(fx.orgA, security.AllFunctions...)),
			req:   &model.CreateFactRequest{Type: "score", Value: "7"},
			check: errors.IsInvalidArgument,
			props: []string{"organization"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.svc.CreateFact(tt.ctx, tt.req)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			if tt.props != nil {
				assert.Equal(t, tt.props, properties(err))
			}
		})
	}
}

func TestCreateFactWithRegisteredSource(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	src, err := fx.sources.SaveSource(context.Background(), &types.Source{
		ID:   uuid.New(),
		Name: "passive-dns",
		Type: types.SourceTypeInputPort,
	})
	require.NoError(t, err)

	req := seenRequest("1.2.3.4", types.AccessModePublic)
	req.SourceID = src.ID
	f := fx.mustCreate(t, ctx, req)
	assert.Equal(t, src.ID, f.Source.ID)
	assert.Equal(t, "passive-dns", f.Source.Name)
}

func TestCreateFactAcl(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)
	partner, other := uuid.New(), uuid.New()

	public := seenRequest("1.2.3.4", types.AccessModePublic)
	public.Acl = []uuid.UUID{partner}
	p := fx.mustCreate(t, ctx, public)
	acl, err := fx.svc.GetFactAcl(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, acl, "public facts carry no acl")

	explicit := seenRequest("1.2.3.4", types.AccessModeExplicit)
	explicit.Acl = []uuid.UUID{partner, partner}
	e := fx.mustCreate(t, ctx, explicit)

	acl, err = fx.svc.GetFactAcl(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, acl, 2)
	assert.Equal(t, partner, acl[0].SubjectID)
	assert.Equal(t, fx.admin.ID, acl[1].SubjectID)
	assert.Equal(t, fx.admin.ID, acl[0].Source.ID)

	fx.advance(time.Second)
	explicit.Acl = []uuid.UUID{partner, other}
	refreshed := fx.mustCreate(t, ctx, explicit)
	assert.Equal(t, e.ID, refreshed.ID)

	acl, err = fx.svc.GetFactAcl(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, acl, 3)
	assert.Equal(t, other, acl[2].SubjectID)

	doc, err := fx.index.GetDocument(context.Background(), e.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{partner, other, fx.admin.ID}, doc.ACL)
	assert.Equal(t, refreshed.LastSeenTimestamp, doc.LastSeenTimestamp)
}

func TestCreateFactSkipsUnreadableDuplicates(t *testing.T) {
	fx := newFixture(t, Config{})
	peer := fx.reader

	src, err := fx.sources.SaveSource(context.Background(), &types.Source{ID: uuid.New(), Name: "sensor"})
	require.NoError(t, err)
	req := seenRequest("1.2.3.4", types.AccessModeExplicit)
	req.SourceID = src.ID

	first := fx.mustCreate(t, fx.as(fx.admin), req)

	// The peer may add facts in orgA but is not on the first fact's ACL.
	peer.Grant(fx.orgA, security.AddFactObjects)
	second := fx.mustCreate(t, fx.as(peer), req)
	assert.NotEqual(t, first.ID, second.ID)

	again := fx.mustCreate(t, fx.as(fx.admin), req)
	assert.Equal(t, first.ID, again.ID)
}

func TestCreateFactCommentOnBothPaths(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := fx.as(fx.admin)

	req := seenRequest("1.2.3.4", types.AccessModeRoleBased)
	req.Comment = "first sighting"
	f := fx.mustCreate(t, ctx, req)

	fx.advance(time.Second)
	req.Comment = "seen again"
	fx.mustCreate(t, ctx, req)

	comments, err := fx.svc.GetFactComments(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first sighting", comments[0].Comment)
	assert.Equal(t, "seen again", comments[1].Comment)
}

func TestCreateFactSerializesIdenticalRequests(t *testing.T) {
	fx := newFixture(t, Config{SerializeIdenticalFacts: true})
	ctx := fx.as(fx.admin)

	const workers = 8
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := fx.svc.CreateFact(ctx, seenRequest("1.2.3.4", types.AccessModePublic))
			errs[i] = err
			if err == nil {
				ids[i] = f.ID
			}
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Zero(t, fx.svc.fingerprintLock.size())

	stored, err := fx.facts.ListFactIDs(context.Background(), uuid.Nil, 100)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
