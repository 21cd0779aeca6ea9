package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/model"
	"github.com/teranos/factgraph/fact/types"
)

func TestGrantFactAccess(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	f := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeRoleBased))

	_, err := fx.svc.GetFact(fx.as(fx.analyst), f.ID)
	require.True(t, errors.IsAccessDenied(err))

	entry, err := fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{FactID: f.ID, SubjectID: fx.analyst.ID})
	require.NoError(t, err)
	assert.Equal(t, fx.analyst.ID, entry.SubjectID)
	assert.Equal(t, fx.admin.ID, entry.Source.ID)

	again, err := fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{FactID: f.ID, SubjectID: fx.analyst.ID})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)

	_, err = fx.svc.GetFact(fx.as(fx.analyst), f.ID)
	assert.NoError(t, err)

	doc, err := fx.index.GetDocument(context.Background(), f.ID)
	require.NoError(t, err)
	assert.True(t, doc.HasAclSubject(fx.analyst.ID))

	rs, err := fx.svc.SearchFacts(fx.as(fx.analyst), &model.SearchFactRequest{})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.ID}, factIDs(rs))
}

func TestGrantFactAccessRejections(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	public := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModePublic))
	roleBased := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeRoleBased))

	_, err := fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{FactID: public.ID, SubjectID: uuid.New()})
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = fx.svc.GrantFactAccess(fx.as(fx.reader), &model.GrantFactAccessRequest{FactID: roleBased.ID, SubjectID: uuid.New()})
	assert.True(t, errors.IsAccessDenied(err))

	_, err = fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{FactID: uuid.New(), SubjectID: uuid.New()})
	assert.True(t, errors.IsObjectNotFound(err))

	_, err = fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{})
	assert.Equal(t, []string{"fact", "subject"}, properties(err))
}

func TestGrantFactAccessRepairsMissingDocument(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	f := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeExplicit))
	require.NoError(t, fx.index.DeleteDocument(context.Background(), f.ID))

	_, err := fx.svc.GrantFactAccess(admin, &model.GrantFactAccessRequest{FactID: f.ID, SubjectID: fx.analyst.ID})
	require.NoError(t, err)

	doc, err := fx.index.GetDocument(context.Background(), f.ID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.ElementsMatch(t, []uuid.UUID{fx.admin.ID, fx.analyst.ID}, doc.ACL)
}

func TestFactComments(t *testing.T) {
	fx := newFixture(t, Config{})
	admin := fx.as(fx.admin)

	f := fx.mustCreate(t, admin, seenRequest("1.2.3.4", types.AccessModeRoleBased))

	first, err := fx.svc.CreateFactComment(admin, &model.CreateFactCommentRequest{FactID: f.ID, Comment: "looks like a scanner"})
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, first.ReplyToID)

	reply, err := fx.svc.CreateFactComment(admin, &model.CreateFactCommentRequest{FactID: f.ID, Comment: "confirmed", ReplyTo: first.ID})
	require.NoError(t, err)
	assert.Equal(t, first.ID, reply.ReplyToID)

	comments, err := fx.svc.GetFactComments(admin, f.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, first.ID, comments[0].ID)
	assert.Equal(t, reply.ID, comments[1].ID)

	t.Run("reply must be on the same fact", func(t *testing.T) {
		other := fx.mustCreate(t, admin, seenRequest("5.6.7.8", types.AccessModeRoleBased))
		_, err := fx.svc.CreateFactComment(admin, &model.CreateFactCommentRequest{FactID: other.ID, Comment: "x", ReplyTo: first.ID})
		assert.True(t, errors.IsInvalidArgument(err))
		assert.Equal(t, []string{"replyTo"}, properties(err))
	})

	t.Run("permissions", func(t *testing.T) {
		_, err := fx.svc.CreateFactComment(fx.as(fx.reader), &model.CreateFactCommentRequest{FactID: f.ID, Comment: "x"})
		assert.True(t, errors.IsAccessDenied(err))

		_, err = fx.svc.GetFactComments(fx.as(fx.reader), f.ID)
		assert.True(t, errors.IsAccessDenied(err))

		_, err = fx.svc.GetFactComments(fx.as(fx.analyst), f.ID)
		assert.True(t, errors.IsAccessDenied(err))
	})

	t.Run("empty comment", func(t *testing.T) {
		_, err := fx.svc.CreateFactComment(admin, &model.CreateFactCommentRequest{FactID: f.ID})
		assert.Equal(t, []string{"comment"}, properties(err))
	})
}
