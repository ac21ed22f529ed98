package storage

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	pkgerrors "github.com/pkg/errors"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS jstp_storage (
	name       TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`

// SQLite stores values in a single key-value table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at path. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "open database")
	}

	// SQLite only supports one writer at a time; one connection also keeps
	// an in-memory database alive between queries
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "connect to database")
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, pkgerrors.Wrap(err, "create schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Put(ctx context.Context, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jstp_storage (name, data, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, value)
	return pkgerrors.Wrap(err, "put")
}

func (s *SQLite) Get(ctx context.Context, key string, def []byte) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jstp_storage WHERE name = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "get")
	}
	return v, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jstp_storage WHERE name = ?`, key)
	return pkgerrors.Wrap(err, "delete")
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
