// Package sqlite implements storage.Repository on a single SQLite file.
//
// Every bucket shares one records table keyed by (bucket, key), mirroring
// the key space of the bbolt and in-memory backends.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/pagelock/storage"
)

//go:embed schema.sql
var schemaSQL string

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepositoryFromFile opens (or creates) the database at path and ensures
// the schema exists.
func NewRepositoryFromFile(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Put(ctx context.Context, bucket, key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (bucket, record_key, value) VALUES (?, ?, ?)
		 ON CONFLICT (bucket, record_key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("sqlite put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM records WHERE bucket = ? AND record_key = ?`,
		bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, bucket, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE bucket = ? AND record_key = ?`, bucket, key)
	if err != nil {
		return fmt.Errorf("sqlite delete %s/%s: %w", bucket, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s/%s: %w", bucket, key, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) List(ctx context.Context, bucket string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_key FROM records WHERE bucket = ? ORDER BY record_key`, bucket)
	if err != nil {
		return nil, fmt.Errorf("sqlite list %s: %w", bucket, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
