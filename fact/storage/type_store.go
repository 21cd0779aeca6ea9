package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/fact/types"
)

// Query constants
const (
	ObjectTypeUpsertQuery = `
		INSERT INTO object_type (id, namespace_id, name, validator, validator_parameter, entity_handler, entity_handler_parameter)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace_id = excluded.namespace_id,
			name = excluded.name,
			validator = excluded.validator,
			validator_parameter = excluded.validator_parameter,
			entity_handler = excluded.entity_handler,
			entity_handler_parameter = excluded.entity_handler_parameter`

	objectTypeColumns = `id, namespace_id, name, validator, validator_parameter, entity_handler, entity_handler_parameter`

	ObjectTypeByIDQuery   = `SELECT ` + objectTypeColumns + ` FROM object_type WHERE id = ?`
	ObjectTypeByNameQuery = `SELECT ` + objectTypeColumns + ` FROM object_type WHERE name = ?`
	ObjectTypeListQuery   = `SELECT ` + objectTypeColumns + ` FROM object_type ORDER BY name`

	FactTypeUpsertQuery = `
		INSERT INTO fact_type (id, namespace_id, name, validator, validator_parameter, entity_handler, entity_handler_parameter, relevant_object_bindings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			namespace_id = excluded.namespace_id,
			name = excluded.name,
			validator = excluded.validator,
			validator_parameter = excluded.validator_parameter,
			entity_handler = excluded.entity_handler,
			entity_handler_parameter = excluded.entity_handler_parameter,
			relevant_object_bindings = excluded.relevant_object_bindings`

	factTypeColumns = objectTypeColumns + `, relevant_object_bindings`

	FactTypeByIDQuery   = `SELECT ` + factTypeColumns + ` FROM fact_type WHERE id = ?`
	FactTypeByNameQuery = `SELECT ` + factTypeColumns + ` FROM fact_type WHERE name = ?`
	FactTypeListQuery   = `SELECT ` + factTypeColumns + ` FROM fact_type ORDER BY name`
)

// SaveObjectType inserts or replaces an object type by id.
// A name already used by another type yields an invalid-argument error.
func (s *Store) SaveObjectType(ctx context.Context, t *types.ObjectType) error {
	_, err := s.db.ExecContext(ctx, ObjectTypeUpsertQuery,
		t.ID, t.NamespaceID, t.Name,
		t.Validator, t.ValidatorParameter,
		t.EntityHandler, t.EntityHandlerParameter,
	)
	if err != nil {
		return errors.Wrapf(uniqueNameError(err, "ObjectType", t.Name), "failed to save object type %s", t.ID)
	}
	return nil
}

func scanObjectType(row rowScanner) (*types.ObjectType, error) {
	var t types.ObjectType
	err := row.Scan(&t.ID, &t.NamespaceID, &t.Name,
		&t.Validator, &t.ValidatorParameter,
		&t.EntityHandler, &t.EntityHandlerParameter)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetObjectTypeByID returns nil when no type has the id.
func (s *Store) GetObjectTypeByID(ctx context.Context, id uuid.UUID) (*types.ObjectType, error) {
	t, err := scanObjectType(s.db.QueryRowContext(ctx, ObjectTypeByIDQuery, id))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get object type by id")
	}
	return t, nil
}

// GetObjectTypeByName returns nil when no type has the name.
func (s *Store) GetObjectTypeByName(ctx context.Context, name string) (*types.ObjectType, error) {
	t, err := scanObjectType(s.db.QueryRowContext(ctx, ObjectTypeByNameQuery, name))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get object type by name")
	}
	return t, nil
}

// ListObjectTypes returns all object types ordered by name.
func (s *Store) ListObjectTypes(ctx context.Context) ([]*types.ObjectType, error) {
	rows, err := s.db.QueryContext(ctx, ObjectTypeListQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list object types")
	}
	defer rows.Close()

	var out []*types.ObjectType
	for rows.Next() {
		t, err := scanObjectType(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan object type")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate object types")
}

// SaveFactType inserts or replaces a fact type by id.
// A name already used by another type yields an invalid-argument error.
func (s *Store) SaveFactType(ctx context.Context, t *types.FactType) error {
	bindings := t.RelevantObjectBindings
	if bindings == nil {
		bindings = []types.ObjectBinding{}
	}
	bindingsJSON, err := marshalJSON(bindings, "relevant object bindings")
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, FactTypeUpsertQuery,
		t.ID, t.NamespaceID, t.Name,
		t.Validator, t.ValidatorParameter,
		t.EntityHandler, t.EntityHandlerParameter,
		bindingsJSON,
	)
	if err != nil {
		return errors.Wrapf(uniqueNameError(err, "FactType", t.Name), "failed to save fact type %s", t.ID)
	}
	return nil
}

func scanFactType(row rowScanner) (*types.FactType, error) {
	var t types.FactType
	var bindingsJSON string
	err := row.Scan(&t.ID, &t.NamespaceID, &t.Name,
		&t.Validator, &t.ValidatorParameter,
		&t.EntityHandler, &t.EntityHandlerParameter,
		&bindingsJSON)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(bindingsJSON), &t.RelevantObjectBindings); err != nil {
		return nil, errors.Wrapf(err, "failed to unmarshal relevant bindings of fact type %s", t.ID)
	}
	// Empty lists come back as nil so round trips compare equal.
	if len(t.RelevantObjectBindings) == 0 {
		t.RelevantObjectBindings = nil
	}
	return &t, nil
}

// GetFactTypeByID returns nil when no type has the id.
func (s *Store) GetFactTypeByID(ctx context.Context, id uuid.UUID) (*types.FactType, error) {
	t, err := scanFactType(s.db.QueryRowContext(ctx, FactTypeByIDQuery, id))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get fact type by id")
	}
	return t, nil
}

// GetFactTypeByName returns nil when no type has the name.
func (s *Store) GetFactTypeByName(ctx context.Context, name string) (*types.FactType, error) {
	t, err := scanFactType(s.db.QueryRowContext(ctx, FactTypeByNameQuery, name))
	if missing, err := noRows(err); missing || err != nil {
		return nil, errors.Wrap(err, "failed to get fact type by name")
	}
	return t, nil
}

// ListFactTypes returns all fact types ordered by name.
func (s *Store) ListFactTypes(ctx context.Context) ([]*types.FactType, error) {
	rows, err := s.db.QueryContext(ctx, FactTypeListQuery)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list fact types")
	}
	defer rows.Close()

	var out []*types.FactType
	for rows.Next() {
		t, err := scanFactType(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan fact type")
		}
		out = append(out, t)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate fact types")
}
