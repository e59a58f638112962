package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB is a profile's local mirror of Twilio traffic: messages, read
// positions, chat metadata and the outbox. A single daemon owns it while it
// holds the profile lock.
type DB struct {
	*sql.DB
	path string
}

// pragmas are passed through the mattn/go-sqlite3 DSN so every pooled
// connection gets them.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// Open opens the mirror at path, creating the profile directory on first use.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// OpenMirror opens the mirror and brings its schema up to date.
func OpenMirror(path string) (*DB, *MigrateResult, error) {
	db, err := Open(path)
	if err != nil {
		return nil, nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if result.Dirty {
		_ = db.Close()
		return nil, nil, fmt.Errorf("store %s: schema version %d is dirty", path, result.Version)
	}
	return db, result, nil
}

// Path returns the file backing the mirror.
func (db *DB) Path() string { return db.path }
