package storage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

const (
	// FactInsertQuery never overwrites: an existing id leaves the row untouched
	// and RowsAffected reports zero.
	FactInsertQuery = `
		INSERT INTO fact (id, type_id, value, in_reference_to_id, organization_id, source_id,
			access_mode, confidence_level, timestamp, last_seen_timestamp, bindings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`

	factColumns = `id, type_id, value, in_reference_to_id, organization_id, source_id,
		access_mode, confidence_level, timestamp, last_seen_timestamp, bindings`

	FactByIDQuery = `SELECT ` + factColumns + ` FROM fact WHERE id = ?`

	FactUpdateLastSeenQuery = `UPDATE fact SET last_seen_timestamp = ? WHERE id = ?`

	// FactIDPageQuery pages through fact ids in a stable order for rebuilds.
	FactIDPageQuery = `SELECT id FROM fact WHERE id > ? ORDER BY id LIMIT ?`

	FactCountQuery = `SELECT COUNT(*) FROM fact`

	ObjectInsertQuery = `
		INSERT INTO object (id, type_id, value) VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING`

	ObjectByIDQuery        = `SELECT id, type_id, value FROM object WHERE id = ?`
	ObjectByTypeValueQuery = `SELECT id, type_id, value FROM object WHERE type_id = ? AND value = ?`

	ObjectFactBindingInsertQuery = `
		INSERT INTO object_fact_binding (object_id, fact_id, direction) VALUES (?, ?, ?)
		ON CONFLICT(object_id, fact_id) DO NOTHING`

	ObjectFactBindingListQuery = `
		SELECT object_id, fact_id, direction FROM object_fact_binding
		WHERE object_id = ? ORDER BY fact_id`
)

// InsertFact writes a new fact row. It returns false without error when a
// fact with the same id already exists.
func (s *Store) InsertFact(ctx context.Context, f *types.Fact) (bool, error) {
	bindings := f.Bindings
	if bindings == nil {
		bindings = []types.FactObjectBinding{}
	}
	bindingsJSON, err := marshalJSON(bindings, "fact bindings")
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx, FactInsertQuery,
		f.ID, f.TypeID, f.Value, optionalID(f.InReferenceToID),
		f.OrganizationID, f.SourceID,
		int(f.AccessMode), f.ConfidenceLevel,
		f.Timestamp, f.LastSeenTimestamp,
		bindingsJSON,
	)
	if err != nil {
		return false, errors.Wrapf(err, "failed to insert fact %s", f.ID)
	}
	return rowsAffected(res)
}

func scanFact(row rowScanner) (*types.Fact, error) {
	var f types.Fact
	var accessMode int
	var bindingsJSON string
	err := row.Scan(&f.ID, &f.TypeID, &f.Value, &f.InReferenceToID,
		&f.OrganizationID, &f.SourceID,
		&accessMode, &f.ConfidenceLevel,
		&f.Timestamp, &f.LastSeenTimestamp,
		&bindingsJSON)
	if err != nil {
		return nil, err
	}
	f.AccessMode = types.AccessMode(accessMode)
	if err := json.Unmarshal([]byte(bindingsJSON), &f.Bindings); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal bindings of fact %s", f.ID)
	}
	if len(f.Bindings) == 0 {
		f.Bindings = nil
	}
	return &f, nil
}

// GetFactByID returns nil when no fact has the id.
func (s *Store) GetFactByID(ctx context.Context, id uuid.UUID) (*types.Fact, error) {
	f, err := scanFact(s.db.QueryRowContext(ctx, FactByIDQuery, id))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get fact by id")
	}
	return f, nil
}

// GetFactsByIDs returns the stored rows for ids, in the order of ids.
// Unknown ids are skipped. Values are returned exactly as stored.
func (s *Store) GetFactsByIDs(ctx context.Context, ids []uuid.UUID) ([]*types.Fact, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	query := `SELECT ` + factColumns + ` FROM fact WHERE id IN (` + placeholders + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get facts by ids")
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*types.Fact, len(ids))
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fact")
		}
		byID[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate facts")
	}

	out := make([]*types.Fact, 0, len(byID))
	for _, id := range ids {
		if f, ok := byID[id]; ok {
			out = append(out, f)
		}
	}
	return out, nil
}

// UpdateFactLastSeen sets last_seen_timestamp. It returns false when the fact
// does not exist.
func (s *Store) UpdateFactLastSeen(ctx context.Context, id uuid.UUID, lastSeen int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, FactUpdateLastSeenQuery, lastSeen, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to update last seen of fact %s", id)
	}
	return rowsAffected(res)
}

// ListFactIDs returns up to limit fact ids strictly greater than after,
// in ascending order. Pass uuid.Nil to start from the beginning.
func (s *Store) ListFactIDs(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, FactIDPageQuery, after.String(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fact ids")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan fact id")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "failed to iterate fact ids")
}

// CountFacts returns the number of stored facts.
func (s *Store) CountFacts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, FactCountQuery).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count facts")
	}
	return n, nil
}

// InsertObject writes a new object. It returns false without error when an
// object with the same id, or the same type and value, already exists.
func (s *Store) InsertObject(ctx context.Context, o *types.Object) (bool, error) {
	res, err := s.db.ExecContext(ctx, ObjectInsertQuery, o.ID, o.TypeID, o.Value)
	if err != nil {
		return false, errors.Wrapf(err, "failed to insert object %s", o.ID)
	}
	return rowsAffected(res)
}

func scanObject(row rowScanner) (*types.Object, error) {
	var o types.Object
	if err := row.Scan(&o.ID, &o.TypeID, &o.Value); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetObjectByID returns nil when no object has the id.
func (s *Store) GetObjectByID(ctx context.Context, id uuid.UUID) (*types.Object, error) {
	o, err := scanObject(s.db.QueryRowContext(ctx, ObjectByIDQuery, id))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get object by id")
	}
	return o, nil
}

// GetObjectByTypeValue looks an object up by its type and stored (encoded) value.
func (s *Store) GetObjectByTypeValue(ctx context.Context, typeID uuid.UUID, value string) (*types.Object, error) {
	o, err := scanObject(s.db.QueryRowContext(ctx, ObjectByTypeValueQuery, typeID, value))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get object by type and value")
	}
	return o, nil
}

// InsertObjectFactBinding records the object -> fact edge. Writing the same
// edge twice is a no-op.
func (s *Store) InsertObjectFactBinding(ctx context.Context, b *types.ObjectFactBinding) error {
	_, err := s.db.ExecContext(ctx, ObjectFactBindingInsertQuery, b.ObjectID, b.FactID, int(b.Direction))
	if err != nil {
		return errors.Wrapf(err, "failed to bind object %s to fact %s", b.ObjectID, b.FactID)
	}
	return nil
}

// ListObjectFactBindings returns every fact bound to objectID.
func (s *Store) ListObjectFactBindings(ctx context.Context, objectID uuid.UUID) ([]*types.ObjectFactBinding, error) {
	rows, err := s.db.QueryContext(ctx, ObjectFactBindingListQuery, objectID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list object fact bindings")
	}
	defer rows.Close()

	var out []*types.ObjectFactBinding
	for rows.Next() {
		var b types.ObjectFactBinding
		var direction int
		if err := rows.Scan(&b.ObjectID, &b.FactID, &direction); err != nil {
			return nil, errors.Wrap(err, "failed to scan object fact binding")
		}
		b.Direction = types.Direction(direction)
		out = append(out, &b)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate object fact bindings")
}
