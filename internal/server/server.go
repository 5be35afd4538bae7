package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"qaSynth/internal/auth"
	"qaSynth/internal/events"
	"qaSynth/internal/storage"
)

// StatusSource exposes the current run status.
type StatusSource interface {
	Snapshot() events.Status
}

// Deps bundles what the status routes read from.
type Deps struct {
	Status StatusSource
	Broker *events.Broker
	// Recent is optional; /api/pairs answers 404 without it.
	Recent storage.Lister
	Guard  auth.TokenGuard
	Logger *slog.Logger
}

// New constructs the HTTP server with routes and middleware.
func New(addr string, deps Deps) *http.Server {
	srv := &http.Server{
		Addr:        addr,
		Handler:     Router(deps),
		ReadTimeout: 10 * time.Second,
		// No write timeout: /api/events is a long-lived stream.
		IdleTimeout: 60 * time.Second,
	}
	return srv
}

// Router builds the chi router so tests can drive it with httptest.
func Router(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	h := handler{deps: deps}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(deps.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Route("/api", func(r chi.Router) {
		r.Use(deps.Guard.Require)
		r.Get("/status", h.status)
		r.Get("/pairs", h.pairs)
		r.Get("/events", h.stream)
	})
	return router
}

type handler struct {
	deps Deps
}

func (h handler) status(w http.ResponseWriter, _ *http.Request) {
	var snap events.Status
	if h.deps.Status != nil {
		snap = h.deps.Status.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (h handler) pairs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Recent == nil {
		http.NotFound(w, r)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := h.deps.Recent.ListPairs(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(records)
}

// stream sends the current status once, then every broker event, as Server-Sent Events.
func (h handler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if h.deps.Broker == nil {
		http.NotFound(w, r)
		return
	}

	ch := h.deps.Broker.Subscribe()
	defer h.deps.Broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if h.deps.Status != nil {
		if err := writeSSE(w, "status", h.deps.Status.Snapshot()); err != nil {
			return
		}
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt := <-ch:
			if err := writeSSE(w, "progress", evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	return err
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
