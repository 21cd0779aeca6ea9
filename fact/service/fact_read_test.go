package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/index"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/security"
	"github.com/teranos/factgraph/fact/types"
)

func factIDs(rs *model.ResultSet[*model.Fact]) []uuid.UUID {
	var out []uuid.UUID
	for _, f := range rs.Values {
		out = append(out, f.ID)
	}
	return out
}

func TestGetFact(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	roleBased := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeRoleBased))
	public := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModePublic))

	got, err := fx.svc.GetFact(fx.as(fx.reader), roleBased.ID)
	require.NoError(t, err)
	assert.Equal(t, roleBased, got)

	_, err = fx.svc.GetFact(fx.as(fx.analyst), roleBased.ID)
	assert.True(t, errors.IsAccessDenied(err))

	_, err = fx.svc.GetFact(fx.as(fx.analyst), public.ID)
	assert.NoError(t, err)

	_, err = fx.svc.GetFact(admin, uuid.New())
	assert.True(t, errors.IsObjectNotFound(err))
}

func TestSearchFacts(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	old := fx.mustCreate(t, admin, seenRequest("1.1.1.1", types.AccessModePublic))
	fx.advance(time.Minute)
	internal := fx.mustCreate(t, admin, seenRequest("2.2.2.2", types.AccessModeRoleBased))
	fx.advance(time.Minute)
	secret := fx.mustCreate(t, admin, seenRequest("3.3.3.3", types.AccessModeExplicit))
	fx.advance(time.Minute)
	foreign := fx.mustCreate(t, fx.as(fx.analyst), seenRequest("4.4.4.4", types.AccessModeRoleBased))

	t.Run("newest first within caller visibility", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(admin, &model.SearchFactRequest{})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{secret.ID, internal.ID, old.ID}, factIDs(rs))
		assert.Equal(t, 3, rs.Count)
	})

	t.Run("other organization sees only public", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(fx.as(fx.analyst), nil)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{foreign.ID, old.ID}, factIDs(rs))
	})

	t.Run("explicit facts need acl membership", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(fx.as(fx.reader), &model.SearchFactRequest{})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{internal.ID, old.ID}, factIDs(rs))
	})

	t.Run("filters", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(admin, &model.SearchFactRequest{FactValues: []string{"2.2.2.2"}})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{internal.ID}, factIDs(rs))

		rs, err = fx.svc.SearchFacts(admin, &model.SearchFactRequest{
			AccessModes: []types.AccessMode{types.AccessModePublic, types.AccessModeExplicit},
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{secret.ID, old.ID}, factIDs(rs))

		rs, err = fx.svc.SearchFacts(admin, &model.SearchFactRequest{
			StartTimestamp: internal.LastSeenTimestamp,
			EndTimestamp:   internal.LastSeenTimestamp,
		})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{internal.ID}, factIDs(rs))
	})

	t.Run("limit keeps total count", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(admin, &model.SearchFactRequest{Limit: 1})
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{secret.ID}, factIDs(rs))
		assert.Equal(t, 3, rs.Count)
		assert.Equal(t, 1, rs.Limit)
	})

	t.Run("fact type names", func(t *testing.T) {
		rs, err := fx.svc.SearchFacts(admin, &model.SearchFactRequest{FactTypes: []string{"seen"}})
		require.NoError(t, err)
		assert.Len(t, rs.Values, 3)

		rs, err = fx.svc.SearchFacts(admin, &model.SearchFactRequest{FactTypes: []string{"resolves"}})
		require.NoError(t, err)
		assert.Empty(t, rs.Values)
		assert.Zero(t, rs.Count)
	})

	t.Run("invalid request", func(t *testing.T) {
		_, err := fx.svc.SearchFacts(admin, &model.SearchFactRequest{StartTimestamp: 10, EndTimestamp: 5})
		assert.True(t, errors.IsInvalidArgument(err))
	})
}

func TestPublicFactsNeedViewPermission(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	public := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModePublic))
	nobody := fx.as(security.NewSubject(uuid.New(), uuid.New()))

	_, err := fx.svc.GetFact(nobody, public.ID)
	assert.True(t, errors.IsAccessDenied(err), "GetFact: %v", err)

	_, err = fx.svc.SearchFacts(nobody, &model.SearchFactRequest{})
	assert.True(t, errors.IsAccessDenied(err), "SearchFacts: %v", err)

	_, err = fx.svc.SearchObjectFacts(nobody, &model.SearchObjectFactsRequest{ObjectID: public.Objects[0].Object.ID})
	assert.True(t, errors.IsAccessDenied(err), "SearchObjectFacts: %v", err)

	_, err = fx.svc.GetFactAcl(nobody, public.ID)
	assert.True(t, errors.IsAccessDenied(err), "GetFactAcl: %v", err)

	_, err = fx.svc.GetFactComments(nobody, public.ID)
	assert.True(t, errors.IsAccessDenied(err), "GetFactComments: %v", err)

	// viewFactObjects in an unrelated organization is enough for public facts.
	viewer := fx.as(security.NewSubject(uuid.New(), uuid.New()).Grant(uuid.New(), security.ViewFactObjects))
	got, err := fx.svc.GetFact(viewer, public.ID)
	require.NoError(t, err)
	assert.Equal(t, public.ID, got.ID)

	rs, err := fx.svc.SearchFacts(viewer, &model.SearchFactRequest{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{public.ID}, factIDs(rs))
}

func TestSearchFactsDropsFactsNoLongerReadable(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	f := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeExplicit))

	// A stale index document that still lists the analyst.
	require.NoError(t, fx.index.ReindexExistingFact(admin, f.ID, func(doc *index.FactDocument) {
		doc.AddAcl(fx.analyst.ID)
	}))

	rs, err := fx.svc.SearchFacts(fx.as(fx.analyst), &model.SearchFactRequest{})
	require.NoError(t, err)
	assert.Empty(t, rs.Values)
	assert.Equal(t, 1, rs.Count)
}

func TestSearchObjectFacts(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	a := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModePublic))
	fx.advance(time.Second)
	b := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeRoleBased))
	fx.mustCreate(t, admin, seenRequest("5.6.7.8", types.AccessModePublic))

	rs, err := fx.svc.SearchObjectFacts(admin, &model.SearchObjectFactsRequest{ObjectType: "ipv4", ObjectValue: "1.2.3.4"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b.ID, a.ID}, factIDs(rs))

	byID, err := fx.svc.SearchObjectFacts(admin, &model.SearchObjectFactsRequest{ObjectID: a.Objects[0].Object.ID})
	require.NoError(t, err)
	assert.Equal(t, factIDs(rs), factIDs(byID))

	filtered, err := fx.svc.SearchObjectFacts(admin, &model.SearchObjectFactsRequest{
		ObjectID:          a.Objects[0].Object.ID,
		SearchFactRequest: model.SearchFactRequest{AccessModes: []types.AccessMode{types.AccessModePublic}},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{a.ID}, factIDs(filtered))

	_, err = fx.svc.SearchObjectFacts(admin, &model.SearchObjectFactsRequest{ObjectType: "ipv4", ObjectValue: "9.9.9.9"})
	assert.True(t, errors.IsObjectNotFound(err))

	_, err = fx.svc.SearchObjectFacts(admin, &model.SearchObjectFactsRequest{})
	assert.True(t, errors.IsInvalidArgument(err))
}
