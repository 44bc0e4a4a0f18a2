package hub

import (
	"errors"
	"sync"

	"codocs/store"
)

// Types of session requests processed by a Room.
const (
	reqJoin = iota
	reqLeave
)

// sessReq represents a session join / leave request.
type sessReq struct {
	reqType int
	sess    *Session
}

// castReq is an event fanned out to every member except its origin.
type castReq struct {
	origin *Session
	data   []byte
}

// stateReq carries a member's latest known document state into the room.
// A nil content means a title-only update. cast, when set, is a pre-built
// payload broadcast to the origin's siblings along with the update.
type stateReq struct {
	origin  *Session
	content []byte
	title   string
	cast    []byte
}

// Room is the broadcast group of all sessions currently editing one document.
// A single goroutine (run) owns membership and serializes every mutation for
// the document, so a first join can never race a second room into existence
// and a last leave always flushes exactly once.
type Room struct {
	ID  string
	hub *Hub

	mut    sync.Mutex
	closed bool
	loaded bool

	// Latest known snapshot, authoritative for the next flush.
	content []byte
	title   string

	// Connected sessions.
	sessions map[*Session]struct{}

	sessQ  chan sessReq
	castQ  chan castReq
	stateQ chan stateReq

	// flushMut serializes store writes for the room; flushWG tracks in-flight
	// ones so dispose can wait them out before the final flush.
	flushMut sync.Mutex
	flushWG  sync.WaitGroup
}

// newRoom returns a new instance of Room (which has to be .run() on a
// goroutine then).
func newRoom(id string, h *Hub) *Room {
	return &Room{
		ID:       id,
		hub:      h,
		title:    store.DefaultTitle,
		sessions: make(map[*Session]struct{}, 8),
		sessQ:    make(chan sessReq, 64),
		castQ:    make(chan castReq, 256),
		stateQ:   make(chan stateReq, 64),
	}
}

// run is a blocking function that starts the main event loop for a room. It
// loads the document before touching any queued request, so the registry is
// never blocked on store I/O. This should be invoked as a goroutine.
func (r *Room) run() {
	r.load()

	for {
		select {
		case req := <-r.sessQ:
			switch req.reqType {
			case reqJoin:
				// A session that closed while its join was in flight never
				// becomes a member; its leave has already run.
				if req.sess.State() == StateClosed {
					r.mut.Lock()
					n := len(r.sessions)
					r.mut.Unlock()
					if n == 0 {
						r.dispose()
						return
					}
					continue
				}

				r.mut.Lock()
				r.sessions[req.sess] = struct{}{}
				n := len(r.sessions)
				content := append([]byte(nil), r.content...)
				title := r.title
				r.mut.Unlock()

				req.sess.sendLoadDocument(content, title)
				r.hub.log.Printf("session %s joined %s (%d members)", req.sess.ID, r.ID, n)

			case reqLeave:
				r.mut.Lock()
				_, ok := r.sessions[req.sess]
				if ok {
					delete(r.sessions, req.sess)
				}
				n := len(r.sessions)
				r.mut.Unlock()

				if !ok {
					continue
				}
				r.hub.log.Printf("session %s left %s (%d members)", req.sess.ID, r.ID, n)
				if n == 0 {
					r.dispose()
					return
				}
			}

		case m := <-r.castQ:
			r.mut.Lock()
			for s := range r.sessions {
				if s == m.origin {
					continue
				}
				s.send(m.data)
			}
			r.mut.Unlock()

		case u := <-r.stateQ:
			r.mut.Lock()
			if u.content != nil {
				r.content = u.content
			}
			r.title = u.title

			if u.cast != nil {
				for s := range r.sessions {
					if s == u.origin {
						continue
					}
					s.send(u.cast)
				}
			}
			r.mut.Unlock()

			// Flush off-loop so store latency never blocks joins or relays.
			if u.content != nil {
				r.spawnFlush(r.flush)
			} else {
				r.spawnFlush(r.flushTitle)
			}
		}
	}
}

// NumMembers returns the number of sessions currently in the room.
func (r *Room) NumMembers() int {
	r.mut.Lock()
	n := len(r.sessions)
	r.mut.Unlock()
	return n
}

// queueJoin queues a join request. It reports false if the room has wound
// down, in which case the caller must go back to the registry.
func (r *Room) queueJoin(s *Session) bool {
	r.mut.Lock()
	defer r.mut.Unlock()
	if r.closed {
		return false
	}
	select {
	case r.sessQ <- sessReq{reqType: reqJoin, sess: s}:
		return true
	default:
		return false
	}
}

// queueLeave removes a session from the room's membership. Leaves are never
// dropped: as long as the session is a member, the run loop keeps draining
// sessQ, and a closed room has no membership left to correct.
func (r *Room) queueLeave(s *Session) {
	r.mut.Lock()
	closed := r.closed
	r.mut.Unlock()
	if closed {
		return
	}
	r.sessQ <- sessReq{reqType: reqLeave, sess: s}
}

// relay queues an event for fan-out to every member except origin. Fire and
// forget: if the room is gone or saturated, the event is dropped.
func (r *Room) relay(origin *Session, data []byte) {
	r.mut.Lock()
	closed := r.closed
	r.mut.Unlock()
	if closed {
		return
	}
	select {
	case r.castQ <- castReq{origin: origin, data: data}:
	default:
	}
}

// updateState queues a snapshot / title update from a member. A dropped
// update is corrected by the client's next periodic save.
func (r *Room) updateState(u stateReq) {
	r.mut.Lock()
	closed := r.closed
	r.mut.Unlock()
	if closed {
		return
	}
	select {
	case r.stateQ <- u:
	default:
	}
}

// snapshot returns a copy of the room's latest known state. ok is false until
// the initial store load has completed.
func (r *Room) snapshot() (content []byte, title string, ok bool) {
	r.mut.Lock()
	defer r.mut.Unlock()
	if !r.loaded {
		return nil, "", false
	}
	return append([]byte(nil), r.content...), r.title, true
}

// load pulls the persisted document into the room. Unknown documents start
// out empty with the default title and get their store record only from the
// first flush. A failing store is treated like an unknown document; the room
// must come up either way.
func (r *Room) load() {
	doc, err := r.hub.Store.Get(r.ID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrDocNotFound):
		doc = store.Document{ID: r.ID, Title: store.DefaultTitle}
	default:
		r.hub.log.Printf("error loading document %s: %v", r.ID, err)
		doc = store.Document{ID: r.ID, Title: store.DefaultTitle}
	}

	r.mut.Lock()
	r.content = doc.Content
	r.title = doc.Title
	r.loaded = true
	r.mut.Unlock()
}

// spawnFlush runs a store write on its own goroutine. dispose waits out every
// spawned write before running the final one.
func (r *Room) spawnFlush(fn func()) {
	r.flushWG.Add(1)
	go func() {
		defer r.flushWG.Done()
		fn()
	}()
}

// flush persists the room's latest state. The snapshot is read under
// flushMut, which serializes all store writes for the room: a write that
// started early but finishes late still carries the state current at write
// time, never an older one. Failures are logged and left for the next flush
// to retry; they never touch the room's in-memory state.
func (r *Room) flush() {
	r.flushMut.Lock()
	defer r.flushMut.Unlock()

	r.mut.Lock()
	if !r.loaded {
		r.mut.Unlock()
		return
	}
	content := append([]byte(nil), r.content...)
	title := r.title
	r.mut.Unlock()

	if err := r.hub.Store.Put(r.ID, content, title); err != nil {
		r.hub.log.Printf("error persisting document %s: %v", r.ID, err)
	}
}

// flushTitle persists a title-only update through the same write lock.
func (r *Room) flushTitle() {
	r.flushMut.Lock()
	defer r.flushMut.Unlock()

	r.mut.Lock()
	if !r.loaded {
		r.mut.Unlock()
		return
	}
	title := r.title
	r.mut.Unlock()

	if err := r.hub.Store.PutTitle(r.ID, title); err != nil {
		r.hub.log.Printf("error persisting title of document %s: %v", r.ID, err)
	}
}

// dispose winds the room down: apply any state updates still queued, wait out
// in-flight store writes, run the final flush, then evict the room. Joins
// that raced the teardown are re-dispatched to the registry only after the
// flush has landed, so the fresh room they start loads it.
func (r *Room) dispose() {
	r.mut.Lock()
	r.closed = true
	r.mut.Unlock()

	var raced []*Session
drain:
	for {
		select {
		case req := <-r.sessQ:
			if req.reqType == reqJoin && req.sess.State() != StateClosed {
				raced = append(raced, req.sess)
			}
		case u := <-r.stateQ:
			r.mut.Lock()
			if u.content != nil {
				r.content = u.content
			}
			r.title = u.title
			r.mut.Unlock()
		default:
			break drain
		}
	}

	r.flushWG.Wait()
	r.flush()

	r.hub.removeRoom(r.ID, r)
	for _, s := range raced {
		go r.hub.JoinRoom(r.ID, s)
	}
	r.hub.log.Printf("disposed room %s", r.ID)
}
