// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3" // sqlite driver.
)

// Store snapshots the server's state map at process boundaries. It is a
// collaborator layered on top of the core: the engine itself stays
// memory-only and never touches it between restore and save.
type Store struct {
	db *sqlx.DB
}

const ddl = `
CREATE TABLE IF NOT EXISTS state (
	key   TEXT NOT NULL PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;`

func New(target string) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", target)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open snapshot database %v", target)
	}
	if _, err = db.Exec(ddl); err != nil {
		return nil, errors.Wrapf(err, "failed to apply snapshot DDL to %v", target)
	}

	return &Store{db: db}, nil
}

// Save replaces the stored snapshot with the given state, atomically.
func (s *Store) Save(ctx context.Context, state map[string]json.RawMessage) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin snapshot tx")
	}
	defer tx.Rollback() //nolint:errcheck // No-op after commit.

	if _, err = tx.ExecContext(ctx, `DELETE FROM state`); err != nil {
		return errors.Wrap(err, "failed to clear previous snapshot")
	}
	for key, value := range state {
		if _, err = tx.ExecContext(ctx, `INSERT INTO state(key,value) VALUES(?,?)`, key, []byte(value)); err != nil {
			return errors.Wrapf(err, "failed to snapshot key %v", key)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit snapshot")
	}

	return nil
}

// Load reads the last saved snapshot. An empty database yields an empty map.
func (s *Store) Load(ctx context.Context) (map[string]json.RawMessage, error) {
	rows := []struct {
		Key   string `db:"key"`
		Value []byte `db:"value"`
	}{}
	if err := s.db.SelectContext(ctx, &rows, `SELECT key, value FROM state`); err != nil {
		return nil, errors.Wrap(err, "failed to load snapshot")
	}
	state := make(map[string]json.RawMessage, len(rows))
	for i := range rows {
		state[rows[i].Key] = json.RawMessage(rows[i].Value)
	}

	return state, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "failed to close snapshot database")
	}

	return nil
}
