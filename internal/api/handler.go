package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/clock"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/graph"
	"github.com/nidhogg/nuka-mind/internal/notify"
	"github.com/nidhogg/nuka-mind/internal/persona"
	"github.com/nidhogg/nuka-mind/internal/vectorstore"
)

// GraphRecaller recalls memories by spreading activation.
type GraphRecaller interface {
	Activate(ctx context.Context, personaID string, cues []string, opts graph.ActivationOpts) (*graph.ActivationResult, error)
}

// SimilarFinder finds memories close to a text.
type SimilarFinder interface {
	Similar(ctx context.Context, personaID, text string, limit int) ([]vectorstore.Similar, error)
}

// Deps are the handler's collaborators. Worker is required; the rest
// switch their routes off when nil.
type Deps struct {
	PersonaID   string
	Worker      *persona.Worker
	Sweeper     *clock.Sweeper
	Clock       *clock.Clock
	Graph       GraphRecaller
	Similar     SimilarFinder
	Broadcaster *notify.Broadcaster
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	deps    Deps
	timeout time.Duration
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	return &Handler{deps: deps, timeout: 30 * time.Second, logger: logger}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/events", h.ingestEvent)
		r.Post("/triggers", h.trigger)
		r.Post("/maintenance/{op}", h.runMaintenance)

		r.Get("/traits", h.listTraits)
		r.Get("/traits/{name}", h.getTrait)
		r.Put("/traits/{name}/target", h.setTarget)

		r.Get("/patterns", h.listPatterns)
		r.Get("/resonances", h.listResonances)
		r.Get("/insights", h.listInsights)
		r.Get("/connections", h.listConnections)
		r.Get("/clusters", h.listClusters)
		r.Get("/emotion", h.emotion)

		r.Get("/memories/{id}", h.getMemory)
		r.Get("/recall", h.recall)
		r.Get("/recall/graph", h.recallGraph)
		r.Get("/similar", h.similar)

		r.Get("/notices", h.listNotices)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok", "persona": h.deps.PersonaID}
	if h.deps.Clock != nil {
		resp["world_time"] = h.deps.Clock.Now()
	}
	writeJSON(w, http.StatusOK, resp)
}

// view runs fn on the persona worker and encodes its result there, so no
// mind state escapes the worker goroutine.
func (h *Handler) view(w http.ResponseWriter, r *http.Request, status int, fn func(ctx context.Context, m *persona.Mind) (any, error)) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var body []byte
	err := h.deps.Worker.Do(ctx, func(m *persona.Mind) error {
		v, err := fn(ctx, m)
		if err != nil {
			return err
		}
		body, err = json.Marshal(v)
		return err
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(body, '\n'))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		status = http.StatusBadRequest
	case fault.IsNotFound(err):
		status = http.StatusNotFound
	case fault.IsPrecondition(err):
		status = http.StatusConflict
	case fault.IsStorage(err), errors.Is(err, persona.ErrWorkerStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		h.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

type requestError struct{ msg string }

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) error { return &requestError{msg: msg} }

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return badRequest("invalid body: " + err.Error())
	}
	return nil
}

func limitParam(r *http.Request, def int) int {
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		return n
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
