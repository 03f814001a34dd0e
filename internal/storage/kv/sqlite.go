package kv

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wzl2223096755/AFitness-sub001/internal/db"
)

// SQLiteStore persists entries in the kv table of the application database.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLite wraps an opened, migrated database.
func NewSQLite(database *db.DB) *SQLiteStore {
	return &SQLiteStore{db: database}
}

// OpenSQLite opens the database inside dataDir and wraps it.
func OpenSQLite(dataDir string) (*SQLiteStore, error) {
	database, err := db.Open(dataDir)
	if err != nil {
		return nil, err
	}
	return NewSQLite(database), nil
}

func (s *SQLiteStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return value, nil
}

func (s *SQLiteStore) Set(key string, value []byte) error {
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.Exec(`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		if isFull(err) {
			return fmt.Errorf("failed to write %s: %w", key, ErrQuotaExceeded)
		}
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) List(prefix string) ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT key, value FROM kv WHERE substr(key, 1, ?) = ? ORDER BY key",
		len(prefix), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isFull reports SQLITE_FULL ("database or disk is full").
func isFull(err error) bool {
	return strings.Contains(err.Error(), "disk is full") || strings.Contains(err.Error(), "SQLITE_FULL")
}
