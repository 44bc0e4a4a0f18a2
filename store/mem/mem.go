package mem

import (
	"sync"

	"codocs/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

// InMemory represents the in-memory implementation of the Store interface.
// Documents don't survive a restart; meant for tests and throwaway setups.
type InMemory struct {
	cfg  *Config
	docs map[string]store.Document
	mu   sync.Mutex
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	return &InMemory{
		cfg:  &cfg,
		docs: map[string]store.Document{},
	}, nil
}

// Get gets a document from the store.
func (m *InMemory) Get(id string) (store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		return store.Document{}, store.ErrDocNotFound
	}

	out := d
	out.Content = append([]byte(nil), d.Content...)
	return out, nil
}

// Put writes a document's content and title to the store.
func (m *InMemory) Put(id string, content []byte, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.docs[id] = store.Document{
		ID:      id,
		Content: append([]byte(nil), content...),
		Title:   title,
	}
	return nil
}

// PutTitle overwrites a document's title, creating the record if absent.
func (m *InMemory) PutTitle(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[id]
	if !ok {
		d = store.Document{ID: id}
	}
	d.Title = title
	m.docs[id] = d
	return nil
}
