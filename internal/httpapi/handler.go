// Package httpapi serves a read-only JSON view of the tracked servers and
// subscriptions, plus health and Prometheus endpoints.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MSWS/TSTats/internal/metrics"
	"github.com/MSWS/TSTats/internal/notify"
	"github.com/MSWS/TSTats/internal/server"
)

// Source is the state the API exposes. *monitor.Monitor implements it.
type Source interface {
	Scopes() []string
	Servers(scope string) []*server.Record
	ListSubscriptions(owner string, f notify.Filter) []notify.Subscription
	Totals() (players, servers int)
}

type Handler struct {
	log     *slog.Logger
	src     Source
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHandler(log *slog.Logger, src Source, m *metrics.Metrics) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{log: log, src: src, metrics: m, now: time.Now}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(echoRequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/summary", h.handleSummary)
		r.Route("/scopes", func(r chi.Router) {
			r.Get("/", h.handleListScopes)
			r.Get("/{scope}/servers", h.handleListServers)
			r.Get("/{scope}/servers/{name}", h.handleGetServer)
		})
		r.Get("/owners/{owner}/subscriptions", h.handleListSubscriptions)
	})

	return r
}

// echoRequestID returns the request id to the caller.
func echoRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		took := time.Since(start)
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), took)

		h.log.Debug("http_request",
			"request_id", middleware.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", took.Milliseconds(),
		)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	players, servers := h.src.Totals()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"players": players,
		"servers": servers,
		"scopes":  len(h.src.Scopes()),
	})
}

func (h *Handler) handleListScopes(w http.ResponseWriter, r *http.Request) {
	scopes := h.src.Scopes()
	if scopes == nil {
		scopes = []string{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"scopes": scopes})
}

func (h *Handler) handleListServers(w http.ResponseWriter, r *http.Request) {
	recs := h.src.Servers(chi.URLParam(r, "scope"))
	out := make([]serverView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toServerView(rec))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

func (h *Handler) handleGetServer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, rec := range h.src.Servers(chi.URLParam(r, "scope")) {
		if rec.Name == name {
			h.writeJSON(w, http.StatusOK, toServerView(rec))
			return
		}
	}
	h.writeError(w, http.StatusNotFound, "not_found", "server not found")
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notify.Filter{Scope: q.Get("scope"), Server: q.Get("server")}
	if k := q.Get("kind"); k != "" {
		kind, err := notify.ParseKind(k)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
		f.Kind = kind
	}

	now := h.now()
	subs := h.src.ListSubscriptions(chi.URLParam(r, "owner"), f)
	out := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, toSubscriptionView(s, now))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"subscriptions": out})
}
