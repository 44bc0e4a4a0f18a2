package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Session states. A session moves strictly forward except that a re-join
// bounces Editing back through AwaitingDocument.
const (
	StateConnecting int32 = iota
	StateAwaitingDocument
	StateEditing
	StateClosed
)

// msgWrap is the envelope for all inbound protocol messages.
type msgWrap struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// msgOut is the envelope for all outbound protocol messages.
type msgOut struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// msgDocument is the payload of load-document and save-document events.
// Content is carried verbatim; the relay never looks inside it.
type msgDocument struct {
	Content json.RawMessage `json:"content"`
	Title   string          `json:"title"`
}

// Session represents an individual connection editing one document. Inbound
// events are read and processed sequentially by RunListener; outbound events
// are queued on dataQ and written by RunWriter.
type Session struct {
	ID string

	hub *Hub
	ws  *websocket.Conn

	state int32

	// Id of the document currently joined, owned by the RunListener
	// goroutine. The room itself is always resolved through the registry so
	// a stale pointer can't outlive an evicted room.
	docID string

	// Channel for outbound messages.
	dataQ chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewSession returns a new Session over the given WS connection.
func NewSession(h *Hub, ws *websocket.Conn) *Session {
	id, _ := GenerateGUID(16)
	return &Session{
		ID:    id,
		hub:   h,
		ws:    ws,
		dataQ: make(chan []byte, h.cfg.MaxMessageQueue),
		done:  make(chan struct{}),
	}
}

// State returns the session's current state.
func (s *Session) State() int32 {
	return atomic.LoadInt32(&s.state)
}

// RunListener is a blocking function that reads incoming messages from the
// session's WS connection until it's dropped or there's an error. This should
// be invoked as a goroutine.
func (s *Session) RunListener() {
	s.ws.SetReadLimit(int64(s.hub.cfg.MaxMessageLen))
	for {
		_, m, err := s.ws.ReadMessage()
		if err != nil {
			break
		}
		s.processMessage(m)
	}
	s.Close()
}

// RunWriter is a blocking function that writes messages in the session's
// queue to the WS connection. This should be invoked as a goroutine.
func (s *Session) RunWriter() {
	defer s.ws.Close()
	for {
		select {
		case m := <-s.dataQ:
			if err := s.writeWS(websocket.TextMessage, m); err != nil {
				return
			}
		case <-s.done:
			s.writeWS(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// Close runs the session's terminal transition: leave the room, stop the
// writer, drop the connection. It runs exactly once no matter how the
// connection ended.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		atomic.StoreInt32(&s.state, StateClosed)
		s.leaveCurrent()
		close(s.done)
		if s.ws != nil {
			s.ws.Close()
		}
	})
}

// processMessage handles a single inbound protocol event. Events arrive
// sequentially per connection, so one author's edit stream is relayed in
// order end to end.
func (s *Session) processMessage(b []byte) {
	var m msgWrap
	if err := json.Unmarshal(b, &m); err != nil {
		return
	}

	switch m.Type {
	case TypeGetDocument:
		var docID string
		if err := json.Unmarshal(m.Data, &docID); err != nil {
			return
		}

		// A join without a document id is ignored; the connection stays
		// where it is.
		if docID == "" {
			return
		}

		// A re-join supersedes the current room.
		s.leaveCurrent()
		atomic.StoreInt32(&s.state, StateAwaitingDocument)
		s.docID = docID
		s.hub.JoinRoom(docID, s)

	case TypeSendChanges:
		r := s.editingRoom()
		if r == nil {
			return
		}
		r.relay(s, makePayload(TypeReceiveChanges, m.Data))

	case TypeSaveDocument:
		r := s.editingRoom()
		if r == nil {
			return
		}
		var d msgDocument
		if err := json.Unmarshal(m.Data, &d); err != nil {
			return
		}
		content := []byte(d.Content)
		if content == nil {
			content = []byte{}
		}
		r.updateState(stateReq{origin: s, content: content, title: d.Title})

	case TypeUpdateTitle:
		r := s.editingRoom()
		if r == nil {
			return
		}
		var title string
		if err := json.Unmarshal(m.Data, &title); err != nil {
			return
		}
		r.updateState(stateReq{
			origin: s,
			title:  title,
			cast:   makePayload(TypeReceiveTitle, title),
		})
	}
}

// editingRoom returns the session's active room, or nil if the session isn't
// in the Editing state.
func (s *Session) editingRoom() *Room {
	if s.State() != StateEditing {
		return nil
	}
	return s.hub.GetRoom(s.docID)
}

// leaveCurrent queues a leave for the session's current room, if any.
func (s *Session) leaveCurrent() {
	if s.docID == "" {
		return
	}
	if r := s.hub.GetRoom(s.docID); r != nil {
		r.queueLeave(s)
	}
	s.docID = ""
}

// sendLoadDocument emits the one-time snapshot reply for a join and moves
// the session to Editing.
func (s *Session) sendLoadDocument(content []byte, title string) {
	atomic.CompareAndSwapInt32(&s.state, StateAwaitingDocument, StateEditing)
	s.send(makePayload(TypeLoadDocument, msgDocument{
		Content: rawContent(content),
		Title:   title,
	}))
}

// send queues an outbound message. Slow or dead sessions are skipped rather
// than blocking the room.
func (s *Session) send(b []byte) {
	select {
	case s.dataQ <- b:
	default:
	}
}

// writeWS writes the given payload to the session's WS connection.
func (s *Session) writeWS(msgType int, payload []byte) error {
	s.ws.SetWriteDeadline(time.Now().Add(s.hub.cfg.WSTimeout))
	return s.ws.WriteMessage(msgType, payload)
}

// rawContent renders an opaque content blob as JSON. Empty documents
// serialize as "".
func rawContent(content []byte) json.RawMessage {
	if len(content) == 0 {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(content)
}

// makePayload prepares an outbound message payload.
func makePayload(typ string, data interface{}) []byte {
	b, _ := json.Marshal(msgOut{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      data,
	})
	return b
}
