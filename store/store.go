package store

import "errors"

// DefaultTitle is assigned to documents that have never been named.
const DefaultTitle = "Untitled Document"

// ErrDocNotFound indicates that the requested document was not found.
var ErrDocNotFound = errors.New("document not found")

// Document represents the persisted state of a document: the latest content
// snapshot and title for an id. Content is an opaque blob produced by the
// editing surface and is never interpreted here.
type Document struct {
	ID      string `json:"id"`
	Content []byte `json:"content"`
	Title   string `json:"title"`
}

// Store represents a backend document store.
type Store interface {
	// Get returns the persisted document or ErrDocNotFound. It never creates.
	Get(id string) (Document, error)

	// Put overwrites the stored content and title for the given id, creating
	// the record if absent. Safe to call repeatedly with the same values and
	// concurrently for different ids.
	Put(id string, content []byte, title string) error

	// PutTitle overwrites only the title, leaving content untouched. The
	// record is created with empty content if absent.
	PutTitle(id, title string) error
}
