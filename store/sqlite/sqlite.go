package sqlite

import (
	"database/sql"
	"log"

	_ "github.com/mattn/go-sqlite3"

	"codocs/store"
)

// Config represents the SQLite store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// SQLite represents the SQLite implementation of the Store interface.
type SQLite struct {
	cfg *Config
	db  *sql.DB
	log *log.Logger
}

// New returns a new SQLite store, creating the documents table if needed.
func New(cfg Config, l *log.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content BLOB NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT ''
	)`)
	if err != nil {
		return nil, err
	}
	return &SQLite{cfg: &cfg, db: db, log: l}, nil
}

// Get gets a document from the store.
func (s *SQLite) Get(id string) (store.Document, error) {
	out := store.Document{ID: id}

	err := s.db.QueryRow("SELECT content, title FROM documents WHERE id = ?", id).
		Scan(&out.Content, &out.Title)
	if err == sql.ErrNoRows {
		return out, store.ErrDocNotFound
	}
	if err != nil {
		return out, err
	}
	return out, nil
}

// Put writes a document's content and title to the store.
func (s *SQLite) Put(id string, content []byte, title string) error {
	_, err := s.db.Exec(`INSERT INTO documents (id, content, title) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, title = excluded.title`,
		id, content, title)
	return err
}

// PutTitle overwrites a document's title, creating the record if absent.
func (s *SQLite) PutTitle(id, title string) error {
	_, err := s.db.Exec(`INSERT INTO documents (id, title) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET title = excluded.title`,
		id, title)
	return err
}
