package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/nidhogg/nuka-mind/internal/graph"
)

func (h *Handler) recallGraph(w http.ResponseWriter, r *http.Request) {
	if h.deps.Graph == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "graph not configured"})
		return
	}
	cues := strings.Fields(r.URL.Query().Get("q"))
	if len(cues) == 0 {
		h.writeError(w, badRequest("q is required"))
		return
	}
	opts := graph.DefaultActivationOpts()
	opts.MaxNodes = limitParam(r, opts.MaxNodes)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	res, err := h.deps.Graph.Activate(ctx, h.deps.PersonaID, cues, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) similar(w http.ResponseWriter, r *http.Request) {
	if h.deps.Similar == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "vector index not configured"})
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, badRequest("q is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	hits, err := h.deps.Similar.Similar(ctx, h.deps.PersonaID, q, limitParam(r, 10))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

func (h *Handler) listNotices(w http.ResponseWriter, r *http.Request) {
	if h.deps.Broadcaster == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Broadcaster.History(limitParam(r, 20)))
}
