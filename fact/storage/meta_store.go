package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

const (
	FactAclInsertQuery = `
		INSERT INTO fact_acl (fact_id, id, subject_id, source_id, timestamp)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(fact_id, id) DO NOTHING`

	FactAclListQuery = `
		SELECT id, fact_id, subject_id, source_id, timestamp FROM fact_acl
		WHERE fact_id = ? ORDER BY seq`

	FactCommentInsertQuery = `
		INSERT INTO fact_comment (fact_id, id, reply_to_id, source_id, comment, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(fact_id, id) DO NOTHING`

	FactCommentListQuery = `
		SELECT id, fact_id, reply_to_id, source_id, comment, timestamp FROM fact_comment
		WHERE fact_id = ? ORDER BY seq`

	SourceUpsertQuery = `
		INSERT INTO source (id, namespace_id, customer_id, name, type, trust_level)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace_id = excluded.namespace_id,
			customer_id = excluded.customer_id,
			name = excluded.name,
			type = excluded.type,
			trust_level = excluded.trust_level`

	SourceByIDQuery = `SELECT id, namespace_id, customer_id, name, type, trust_level FROM source WHERE id = ?`
)

// InsertFactAclEntry appends an ACL entry. It returns false without error when
// the fact already has an entry with the same id.
func (s *Store) InsertFactAclEntry(ctx context.Context, e *types.FactAclEntry) (bool, error) {
	res, err := s.db.ExecContext(ctx, FactAclInsertQuery, e.FactID, e.ID, e.SubjectID, e.SourceID, e.Timestamp)
	if err != nil {
		return false, errors.Wrapf(err, "failed to insert acl entry %s", e.ID)
	}
	return rowsAffected(res)
}

// ListFactAcl returns a fact's ACL in insertion order.
func (s *Store) ListFactAcl(ctx context.Context, factID uuid.UUID) ([]*types.FactAclEntry, error) {
	rows, err := s.db.QueryContext(ctx, FactAclListQuery, factID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fact acl")
	}
	defer rows.Close()

	var out []*types.FactAclEntry
	for rows.Next() {
		var e types.FactAclEntry
		if err := rows.Scan(&e.ID, &e.FactID, &e.SubjectID, &e.SourceID, &e.Timestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan acl entry")
		}
		out = append(out, &e)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate fact acl")
}

// InsertFactComment appends a comment. It returns false without error when
// the fact already has a comment with the same id.
func (s *Store) InsertFactComment(ctx context.Context, c *types.FactComment) (bool, error) {
	res, err := s.db.ExecContext(ctx, FactCommentInsertQuery,
		c.FactID, c.ID, optionalID(c.ReplyToID), c.SourceID, c.Comment, c.Timestamp)
	if err != nil {
		return false, errors.Wrapf(err, "failed to insert comment %s", c.ID)
	}
	return rowsAffected(res)
}

// ListFactComments returns a fact's comments in insertion order.
func (s *Store) ListFactComments(ctx context.Context, factID uuid.UUID) ([]*types.FactComment, error) {
	rows, err := s.db.QueryContext(ctx, FactCommentListQuery, factID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fact comments")
	}
	defer rows.Close()

	var out []*types.FactComment
	for rows.Next() {
		var c types.FactComment
		if err := rows.Scan(&c.ID, &c.FactID, &c.ReplyToID, &c.SourceID, &c.Comment, &c.Timestamp); err != nil {
			return nil, errors.Wrap(err, "failed to scan comment")
		}
		out = append(out, &c)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate fact comments")
}

// SaveSource inserts or replaces a source by id.
func (s *Store) SaveSource(ctx context.Context, src *types.Source) error {
	_, err := s.db.ExecContext(ctx, SourceUpsertQuery,
		src.ID, src.NamespaceID, src.CustomerID, src.Name, int(src.Type), src.TrustLevel)
	if err != nil {
		return errors.Wrapf(err, "failed to save source %s", src.ID)
	}
	return nil
}

// GetSourceByID returns nil when no source has the id.
func (s *Store) GetSourceByID(ctx context.Context, id uuid.UUID) (*types.Source, error) {
	var src types.Source
	var sourceType int
	err := s.db.QueryRowContext(ctx, SourceByIDQuery, id).Scan(
		&src.ID, &src.NamespaceID, &src.CustomerID, &src.Name, &sourceType, &src.TrustLevel)
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get source by id")
	}
	src.Type = types.SourceType(sourceType)
	return &src, nil
}
