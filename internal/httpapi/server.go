// Package httpapi exposes conversations and the live event stream over HTTP
// for UIs and status layers. It owns no domain logic.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pablof7z/tenex-sub009/internal/conversation"
	"github.com/pablof7z/tenex-sub009/internal/engine"
	"github.com/pablof7z/tenex-sub009/internal/phase"
	"github.com/pablof7z/tenex-sub009/internal/store"
	"github.com/pablof7z/tenex-sub009/internal/transport"
	"github.com/pablof7z/tenex-sub009/pkg/models"
)

// defaultMaxRequestBodyBytes limits request bodies (1 MiB) to prevent OOM.
const defaultMaxRequestBodyBytes = 1 << 20

// Options configures the HTTP server.
type Options struct {
	Addr           string
	MetricsHandler http.Handler // /metrics; optional
	UseOtelHTTP    bool
}

// App holds the HTTP server and its collaborators.
type App struct {
	Server  *http.Server
	Hub     *transport.Hub
	Manager *conversation.Manager
	Engine  *engine.Engine
}

// NewApp registers all routes and returns the app. engine may be nil (read-only API).
func NewApp(opts Options, mgr *conversation.Manager, eng *engine.Engine, hub *transport.Hub) *App {
	app := &App{Hub: hub, Manager: mgr, Engine: eng}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}
	mux.HandleFunc("GET /api/conversations", app.handleList)
	mux.HandleFunc("GET /api/conversations/{id}", app.handleShow)
	mux.HandleFunc("GET /api/conversations/{id}/reflections", app.handleReflections)
	mux.HandleFunc("POST /api/conversations/{id}/archive", app.handleArchive)
	mux.HandleFunc("GET /api/search", app.handleSearch)
	mux.HandleFunc("POST /api/events", app.handleInbound)
	mux.HandleFunc("GET /api/events", hub.Handler())

	var handler http.Handler = bodyLimitMiddleware(defaultMaxRequestBodyBytes, mux)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "httpapi")
	}
	app.Server = &http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app
}

func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func (a *App) handleList(w http.ResponseWriter, r *http.Request) {
	sums, err := a.Manager.List(r.Context())
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaries(sums))
}

// Read handlers take snapshots: conversation workers mutate the live objects
// concurrently with these requests.
func (a *App) handleShow(w http.ResponseWriter, r *http.Request) {
	c, err := a.Manager.Snapshot(r.Context(), r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toConversation(c))
}

func (a *App) handleReflections(w http.ResponseWriter, r *http.Request) {
	recs, err := a.Manager.Reflections(r.Context(), r.PathValue("id"))
	if err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	out := make([]models.Reflection, 0, len(recs))
	for _, rec := range recs {
		out = append(out, models.Reflection(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := a.Manager.Archive(r.Context(), r.PathValue("id")); err != nil {
		httpError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *App) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := store.SearchQuery{
		Text:  r.URL.Query().Get("q"),
		Phase: phase.Phase(r.URL.Query().Get("phase")),
	}
	convos, err := a.Manager.Search(r.Context(), q)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]models.Conversation, 0, len(convos))
	for _, c := range convos {
		out = append(out, toConversation(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) handleInbound(w http.ResponseWriter, r *http.Request) {
	if a.Engine == nil {
		httpError(w, http.StatusServiceUnavailable, errEngineDisabled)
		return
	}
	var in models.Event
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		httpError(w, http.StatusBadRequest, err)
		return
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now().UTC()
	}
	ev := store.Event{
		ID:        in.ID,
		Kind:      "inbound",
		Content:   in.Content,
		Tags:      in.Tags,
		Author:    in.Author,
		CreatedAt: in.CreatedAt,
	}
	if err := a.Engine.Dispatch(r.Context(), ev); err != nil {
		httpError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": ev.ID})
}

var errEngineDisabled = &apiError{"engine not running"}

type apiError struct{ msg string }

func (e *apiError) Error() string { return e.msg }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encode response failed", "err", err)
	}
}

func httpError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
