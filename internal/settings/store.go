// Package settings provides the per-(user, module, key) configuration
// store backed by SQLite.
//
// Each entry is an independent JSON value. Writes are last-write-wins
// and there is no cross-key atomicity; the store is a file-shaped
// key/value surface, not a transactional database.
package settings

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the process-wide settings store. It is safe for concurrent
// use; database/sql serializes access to the underlying connection.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the settings database at dbPath.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// migrate creates the schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS settings (
		user_id    TEXT NOT NULL,
		module     TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		PRIMARY KEY (user_id, module, key)
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores value (JSON-encoded) under (user, module, key),
// replacing any previous value.
func (s *Store) Save(user, module, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s/%s/%s: %w", user, module, key, err)
	}

	_, err = s.db.Exec(`
		INSERT INTO settings (user_id, module, key, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id, module, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		user, module, key, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save setting %s/%s/%s: %w", user, module, key, err)
	}
	return nil
}

// Load reads the value under (user, module, key) into out. If the key
// is missing, def is written back to the store and decoded into out,
// so first reads establish the default durably.
func (s *Store) Load(user, module, key string, def any, out any) error {
	var raw string
	err := s.db.QueryRow(`
		SELECT value FROM settings
		WHERE user_id = ? AND module = ? AND key = ?`,
		user, module, key).Scan(&raw)

	if err == sql.ErrNoRows {
		if saveErr := s.Save(user, module, key, def); saveErr != nil {
			return saveErr
		}
		data, err := json.Marshal(def)
		if err != nil {
			return fmt.Errorf("encode default %s/%s/%s: %w", user, module, key, err)
		}
		raw = string(data)
	} else if err != nil {
		return fmt.Errorf("load setting %s/%s/%s: %w", user, module, key, err)
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode setting %s/%s/%s: %w", user, module, key, err)
	}
	return nil
}

// Scope returns the store narrowed to one (user, module) pair, the
// view handed to a capability module at setup.
func (s *Store) Scope(user, module string) *Scope {
	return &Scope{store: s, user: user, module: module}
}

// Scope is a module's view of the settings store.
type Scope struct {
	store  *Store
	user   string
	module string
}

// Load reads key into out, writing def back on miss.
func (sc *Scope) Load(key string, def any, out any) error {
	return sc.store.Load(sc.user, sc.module, key, def, out)
}

// Save stores value under key.
func (sc *Scope) Save(key string, value any) error {
	return sc.store.Save(sc.user, sc.module, key, value)
}
