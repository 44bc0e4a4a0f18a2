package hub

import (
	"crypto/rand"
	"log"
	"runtime"
	"sync"
	"time"

	"codocs/store"
)

// Types of protocol events exchanged with sessions.
const (
	TypeGetDocument    = "get-document"
	TypeSendChanges    = "send-changes"
	TypeSaveDocument   = "save-document"
	TypeUpdateTitle    = "update-title"
	TypeLoadDocument   = "load-document"
	TypeReceiveChanges = "receive-changes"
	TypeReceiveTitle   = "receive-title"
)

// Config represents the app configuration.
type Config struct {
	Address string `koanf:"address"`
	RootURL string `koanf:"root_url"`

	Name            string        `koanf:"name"`
	WSTimeout       time.Duration `koanf:"websocket_timeout"`
	MaxMessageLen   int           `koanf:"max_message_length"`
	MaxMessageQueue int           `koanf:"max_message_queue"`

	// Cadence at which editing clients are expected to push save-document
	// events. Advertised over /api/config; the hub itself runs no save timer.
	SaveInterval time.Duration `koanf:"save_interval"`
}

// Hub acts as the registry of all active rooms, keyed by document id.
type Hub struct {
	Store store.Store
	rooms map[string]*Room

	cfg *Config
	mut sync.RWMutex
	log *log.Logger
}

// NewHub returns a new instance of Hub.
func NewHub(cfg *Config, st store.Store, l *log.Logger) *Hub {
	return &Hub{
		rooms: make(map[string]*Room),

		cfg:   cfg,
		Store: st,
		log:   l,
	}
}

// JoinRoom adds a session to the room for the given document id, creating and
// activating the room if it's not running. The room replies to the session
// with a load-document event once the join is processed. Rooms for different
// documents never block each other; the registry lock is only held for the
// map lookup, never across store I/O.
func (h *Hub) JoinRoom(docID string, s *Session) *Room {
	for {
		h.mut.Lock()
		r, ok := h.rooms[docID]
		if !ok {
			r = newRoom(docID, h)
			h.rooms[docID] = r
			go r.run()
		}
		h.mut.Unlock()

		if r.queueJoin(s) {
			return r
		}

		// The room wound down between the lookup and the join. Once its
		// eviction completes the lookup starts a fresh room.
		runtime.Gosched()
	}
}

// GetRoom retrieves an active room from the hub.
func (h *Hub) GetRoom(docID string) *Room {
	h.mut.RLock()
	r := h.rooms[docID]
	h.mut.RUnlock()
	return r
}

// NumRooms returns the number of active rooms.
func (h *Hub) NumRooms() int {
	h.mut.RLock()
	n := len(h.rooms)
	h.mut.RUnlock()
	return n
}

// Snapshot returns the latest known state of a document: the live room state
// if the document is currently being edited, the persisted record otherwise.
func (h *Hub) Snapshot(docID string) (store.Document, error) {
	if r := h.GetRoom(docID); r != nil {
		if content, title, ok := r.snapshot(); ok {
			return store.Document{ID: docID, Content: content, Title: title}, nil
		}
	}
	return h.Store.Get(docID)
}

// Shutdown flushes the latest snapshot of every active room to the store.
// Each flush goes through the room's own write lock so it can't be undone by
// a store write already in flight.
func (h *Hub) Shutdown() {
	h.mut.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mut.RUnlock()

	for _, r := range rooms {
		r.flush()
	}
}

// removeRoom evicts a room from the hub.
func (h *Hub) removeRoom(docID string, r *Room) {
	h.mut.Lock()
	if h.rooms[docID] == r {
		delete(h.rooms, docID)
	}
	h.mut.Unlock()
}

// GenerateGUID generates a cryptographically random, alphanumeric string of length n.
func GenerateGUID(n int) (string, error) {
	const dictionary = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	var bytes = make([]byte, n)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	for k, v := range bytes {
		bytes[k] = dictionary[v%byte(len(dictionary))]
	}
	return string(bytes), nil
}
