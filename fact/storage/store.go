// Package storage is the SQLite-backed primary store: the source of truth for
// types, objects, facts, bindings, ACL entries, comments and sources.
//
// The store is deliberately dumb. It persists and reads rows, reports whether
// a conflict-guarded insert actually wrote, and maps UNIQUE violations on type
// names to invalid-argument errors. Caching, value encoding and immutability
// rules live one layer up in package manager.
package storage

import (
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/factgraph/db"
	"github.com/teranos/factgraph/errors"
	"github.com/teranos/factgraph/logger"
)

// Store implements primary-store access on top of a migrated SQLite database.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

// NewStore creates a store. A nil logger disables logging.
func NewStore(database *sql.DB, log *zap.SugaredLogger) *Store {
	return &Store{
		db:     database,
		logger: logger.OrNop(log).Named("storage"),
	}
}

// DB exposes the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalJSON(v any, what string) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrapf(err, "failed to marshal %s", what)
	}
	return string(b), nil
}

func uniqueNameError(err error, kind, name string) error {
	if db.IsUniqueViolation(err) {
		return errors.WithStack(errors.NewInvalidArgumentError(
			kind+" with the same name already exists.", "type.name.exist", "name", name))
	}
	return err
}

// optionalID stores uuid.Nil as the empty string the NOT NULL DEFAULT ''
// reference columns expect.
func optionalID(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// rowsAffected returns true when the statement wrote at least one row.
func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to read affected rows")
	}
	return n > 0, nil
}

// noRows converts sql.ErrNoRows into a nil error so lookups stay total.
func noRows(err error) (bool, error) {
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	return false, err
}
