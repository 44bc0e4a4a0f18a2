package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/gorilla/websocket"

	"codocs/internal/hub"
	"codocs/store"
)

// reqCtx is the context injected into every request.
type reqCtx struct {
	app *App
}

// jsonResp is the envelope for all JSON API responses.
type jsonResp struct {
	Error *string     `json:"error"`
	Data  interface{} `json:"data"`
}

// respDocument is the API representation of a document snapshot.
type respDocument struct {
	ID      string          `json:"id"`
	Content json.RawMessage `json:"content"`
	Title   string          `json:"title"`
}

// respConfig is the publicly exposed subset of the app config.
type respConfig struct {
	Name           string `json:"name"`
	SaveIntervalMs int64  `json:"save_interval_ms"`
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	return true
}}

// wrap injects the app context into a request.
func wrap(next http.HandlerFunc, app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), "ctx", &reqCtx{app: app})
		next(w, r.WithContext(ctx))
	}
}

// handleIndex renders the homepage.
func handleIndex(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("ctx").(*reqCtx).app
	respondHTML("index", app, w)
}

// handleGetConfig returns the config values an editing surface needs,
// including the cadence at which it should push save-document events.
func handleGetConfig(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("ctx").(*reqCtx).app
	respondJSON(w, respConfig{
		Name:           app.cfg.Name,
		SaveIntervalMs: app.cfg.SaveInterval.Milliseconds(),
	}, nil, http.StatusOK)
}

// handleGetDocument returns the latest known snapshot of a document: live
// room state if the document is currently being edited, the persisted record
// otherwise. This is what export / rendering consumers read.
func handleGetDocument(w http.ResponseWriter, r *http.Request) {
	var (
		app   = r.Context().Value("ctx").(*reqCtx).app
		docID = chi.URLParam(r, "docID")
	)

	doc, err := app.hub.Snapshot(docID)
	if err != nil {
		if errors.Is(err, store.ErrDocNotFound) {
			respondJSON(w, nil, errors.New("document not found"), http.StatusNotFound)
			return
		}
		app.logger.Printf("error fetching document %s: %v", docID, err)
		respondJSON(w, nil, errors.New("error fetching document"), http.StatusInternalServerError)
		return
	}

	out := respDocument{ID: doc.ID, Content: json.RawMessage(`""`), Title: doc.Title}
	if len(doc.Content) > 0 {
		out.Content = json.RawMessage(doc.Content)
	}
	respondJSON(w, out, nil, http.StatusOK)
}

// handleWS upgrades an incoming connection and hands it to a new session.
// The session picks its document with a get-document event.
func handleWS(w http.ResponseWriter, r *http.Request) {
	app := r.Context().Value("ctx").(*reqCtx).app

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		app.logger.Printf("websocket upgrade failed: %s: %v", r.RemoteAddr, err)
		return
	}

	sess := hub.NewSession(app.hub, ws)
	go sess.RunWriter()
	sess.RunListener()
}

// respondJSON responds to an HTTP request with a generic payload or an error.
func respondJSON(w http.ResponseWriter, data interface{}, err error, statusCode int) {
	if statusCode == 0 {
		statusCode = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)

	out := jsonResp{Data: data}
	if err != nil {
		e := err.Error()
		out.Error = &e
	}
	b, err := json.Marshal(out)
	if err != nil {
		logger.Printf("error marshalling JSON response: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Write(b)
}

// respondHTML responds to an HTTP request with the HTML output of a given template.
func respondHTML(tplName string, app *App, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := app.tpl.ExecuteTemplate(w, tplName, struct {
		Config *hub.Config
	}{app.cfg}); err != nil {
		app.logger.Printf("error rendering template %s: %s", tplName, err)
		w.Write([]byte("error rendering template"))
	}
}
