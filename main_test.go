package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"codocs/internal/hub"
	"codocs/store/mem"
)

func testApp(t *testing.T) *App {
	t.Helper()
	st, err := mem.New(mem.Config{})
	if err != nil {
		t.Fatalf("error creating store: %v", err)
	}

	l := log.New(io.Discard, "", 0)
	cfg := &hub.Config{
		Name:            "test",
		WSTimeout:       time.Second,
		MaxMessageLen:   1 << 20,
		MaxMessageQueue: 100,
		SaveInterval:    2 * time.Second,
	}
	return &App{
		cfg:    cfg,
		hub:    hub.NewHub(cfg, st, l),
		logger: l,
	}
}

func testRouter(app *App) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/ws", wrap(handleWS, app))
	r.Get("/api/config", wrap(handleGetConfig, app))
	r.Get("/api/documents/{docID}", wrap(handleGetDocument, app))
	return r
}

func TestHandleGetConfig(t *testing.T) {
	rec := httptest.NewRecorder()
	testRouter(testApp(t)).ServeHTTP(rec,
		httptest.NewRequest("GET", "/api/config", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Data struct {
			Name           string `json:"name"`
			SaveIntervalMs int64  `json:"save_interval_ms"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if out.Data.Name != "test" || out.Data.SaveIntervalMs != 2000 {
		t.Fatalf("unexpected config: %+v", out.Data)
	}
}

func TestHandleGetDocument(t *testing.T) {
	app := testApp(t)
	app.hub.Store.Put("doc-1", []byte(`{"ops":[]}`), "Report")
	r := testRouter(app)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/documents/doc-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out struct {
		Data struct {
			ID      string          `json:"id"`
			Content json.RawMessage `json:"content"`
			Title   string          `json:"title"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("bad response: %v", err)
	}
	if out.Data.ID != "doc-1" || out.Data.Title != "Report" ||
		string(out.Data.Content) != `{"ops":[]}` {
		t.Fatalf("unexpected document: %+v", out.Data)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/api/documents/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(
		"ws"+strings.TrimPrefix(url, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("error dialing websocket: %v", err)
	}
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) (string, json.RawMessage) {
	t.Helper()
	_, b, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("error reading websocket: %v", err)
	}
	var m struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("bad event %s: %v", b, err)
	}
	return m.Type, m.Data
}

func TestWebsocketRelay(t *testing.T) {
	app := testApp(t)
	srv := httptest.NewServer(testRouter(app))
	defer srv.Close()

	a := dialWS(t, srv.URL)
	defer a.Close()
	b := dialWS(t, srv.URL)
	defer b.Close()

	if err := a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"get-document","data":"doc-1"}`)); err != nil {
		t.Fatalf("error writing: %v", err)
	}
	if typ, _ := readEvent(t, a); typ != hub.TypeLoadDocument {
		t.Fatalf("expected %s, got %s", hub.TypeLoadDocument, typ)
	}

	if err := b.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"get-document","data":"doc-1"}`)); err != nil {
		t.Fatalf("error writing: %v", err)
	}
	if typ, _ := readEvent(t, b); typ != hub.TypeLoadDocument {
		t.Fatalf("expected %s, got %s", hub.TypeLoadDocument, typ)
	}

	if err := a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"send-changes","data":{"insert":"hi"}}`)); err != nil {
		t.Fatalf("error writing: %v", err)
	}
	typ, data := readEvent(t, b)
	if typ != hub.TypeReceiveChanges || string(data) != `{"insert":"hi"}` {
		t.Fatalf("unexpected relay: %s %s", typ, data)
	}
}

func TestWebsocketDisconnectFlushes(t *testing.T) {
	app := testApp(t)
	srv := httptest.NewServer(testRouter(app))
	defer srv.Close()

	a := dialWS(t, srv.URL)
	a.WriteMessage(websocket.TextMessage, []byte(`{"type":"get-document","data":"doc-9"}`))
	readEvent(t, a)
	a.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"save-document","data":{"content":"X","title":"T"}}`))

	// Abrupt close still runs the terminal transition and the final flush.
	a.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		d, err := app.hub.Store.Get("doc-9")
		if err == nil && d.Title == "T" && string(d.Content) == `"X"` &&
			app.hub.GetRoom("doc-9") == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("final flush missing after disconnect: %+v (%v)", d, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
