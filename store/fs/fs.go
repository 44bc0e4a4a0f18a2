package fs

import (
	"encoding/json"
	"io/ioutil"
	"log"
	"os"
	"sync"

	"codocs/store"
)

// Config represents the file store config structure.
type Config struct {
	Path string `koanf:"path"`
}

// File represents the file implementation of the Store interface. The whole
// document set is kept in memory and written through to a single JSON file
// on every update.
type File struct {
	cfg  *Config
	docs map[string]store.Document
	mu   sync.Mutex
	log  *log.Logger
}

// New returns a new file store.
func New(cfg Config, l *log.Logger) (*File, error) {
	f := &File{
		cfg:  &cfg,
		docs: map[string]store.Document{},
		log:  l,
	}
	return f, f.load()
}

// Get gets a document from the store.
func (f *File) Get(id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.docs[id]
	if !ok {
		return store.Document{}, store.ErrDocNotFound
	}

	out := d
	out.Content = append([]byte(nil), d.Content...)
	return out, nil
}

// Put writes a document's content and title to the store.
func (f *File) Put(id string, content []byte, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.docs[id] = store.Document{
		ID:      id,
		Content: append([]byte(nil), content...),
		Title:   title,
	}
	return f.save()
}

// PutTitle overwrites a document's title, creating the record if absent.
func (f *File) PutTitle(id, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d, ok := f.docs[id]
	if !ok {
		d = store.Document{ID: id}
	}
	d.Title = title
	f.docs[id] = d
	return f.save()
}

// load reads the data from the file system.
func (f *File) load() error {
	b, err := ioutil.ReadFile(f.cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	docs := map[string]store.Document{}
	if err := json.Unmarshal(b, &docs); err != nil {
		return err
	}
	f.docs = docs
	return nil
}

// save writes the data to the file system. The caller must hold the lock.
func (f *File) save() error {
	b, err := json.Marshal(f.docs)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(f.cfg.Path, b, 0644)
}
