package fs

import (
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"

	"codocs/store"
)

func TestStore(t *testing.T) {
	var (
		path = filepath.Join(t.TempDir(), "docs.json")
		l    = log.New(io.Discard, "", 0)
	)

	s, err := New(Config{Path: path}, l)
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}

	if _, err := s.Get("doc-1"); !errors.Is(err, store.ErrDocNotFound) {
		t.Fatalf("expected ErrDocNotFound, got %v", err)
	}

	if err := s.Put("doc-1", []byte(`"hello"`), "Notes"); err != nil {
		t.Fatalf("error putting document: %v", err)
	}
	if err := s.PutTitle("doc-2", "Fresh"); err != nil {
		t.Fatalf("error putting title: %v", err)
	}

	// Data survives a reopen.
	s2, err := New(Config{Path: path}, l)
	if err != nil {
		t.Fatalf("error reopening store: %v", err)
	}
	d, err := s2.Get("doc-1")
	if err != nil || string(d.Content) != `"hello"` || d.Title != "Notes" {
		t.Fatalf("unexpected document after reopen: %+v (%v)", d, err)
	}
	d, err = s2.Get("doc-2")
	if err != nil || len(d.Content) != 0 || d.Title != "Fresh" {
		t.Fatalf("unexpected document after reopen: %+v (%v)", d, err)
	}
}
