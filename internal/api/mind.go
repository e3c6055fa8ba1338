package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nidhogg/nuka-mind/internal/clock"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/persona"
)

type eventRequest struct {
	ID              string             `json:"id,omitempty"`
	Content         string             `json:"content"`
	Context         string             `json:"context,omitempty"`
	Importance      float64            `json:"importance"`
	EmotionalWeight float64            `json:"emotional_weight"`
	TraitInfluences map[string]float64 `json:"trait_influences,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Trigger         string             `json:"trigger,omitempty"`
	CreatedAt       time.Time          `json:"created_at,omitempty"`
}

func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.writeError(w, badRequest("content is required"))
		return
	}
	h.view(w, r, http.StatusCreated, func(ctx context.Context, m *persona.Mind) (any, error) {
		e := memory.NewEvent(req.Content, m.Now())
		if req.ID != "" {
			e.ID = req.ID
		}
		if !req.CreatedAt.IsZero() {
			e.CreatedAt = req.CreatedAt
			e.UpdatedAt = req.CreatedAt
		}
		e.Context = req.Context
		e.Importance = req.Importance
		e.EmotionalWeight = req.EmotionalWeight
		e.Tags = req.Tags
		e.Trigger = req.Trigger
		for k, v := range req.TraitInfluences {
			e.TraitInfluences[k] = v
		}
		if err := m.Ingest(ctx, e); err != nil {
			return nil, err
		}
		return e, nil
	})
}

type triggerRequest struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
}

func (h *Handler) trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Label) == "" {
		h.writeError(w, badRequest("label is required"))
		return
	}
	h.view(w, r, http.StatusCreated, func(ctx context.Context, m *persona.Mind) (any, error) {
		return m.Trigger(ctx, req.Label, req.Intensity)
	})
}

func (h *Handler) runMaintenance(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sweeper == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "maintenance not configured"})
		return
	}
	op := chi.URLParam(r, "op")
	now := time.Now()
	if h.deps.Clock != nil {
		now = h.deps.Clock.Now()
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := h.deps.Sweeper.RunNow(ctx, op, now); err != nil {
		if errors.Is(err, clock.ErrUnknownOp) {
			err = badRequest(err.Error())
		}
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"op": op, "world_time": now})
}

func (h *Handler) listTraits(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Traits(), nil
	})
}

func (h *Handler) getTrait(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		for _, t := range m.Traits() {
			if t.Name == name {
				return t, nil
			}
		}
		return nil, fault.NotFound("api.get_trait", name)
	})
}

func (h *Handler) setTarget(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req struct {
		Target *float64 `json:"target"`
	}
	if err := decode(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Target == nil {
		h.writeError(w, badRequest("target is required"))
		return
	}
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		if err := m.SetTarget(name, *req.Target); err != nil {
			return nil, err
		}
		return map[string]any{"trait": name, "target": *req.Target}, nil
	})
}

func (h *Handler) listPatterns(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Patterns(), nil
	})
}

func (h *Handler) listResonances(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Resonances(), nil
	})
}

func (h *Handler) listInsights(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Insights(), nil
	})
}

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Connections(), nil
	})
}

func (h *Handler) listClusters(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Clusters(), nil
	})
}

func (h *Handler) emotion(w http.ResponseWriter, r *http.Request) {
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		es := m.Emotion(m.Now())
		name, level := es.Dominant()
		return map[string]any{"state": es, "dominant": name, "level": level}, nil
	})
}

func (h *Handler) getMemory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.view(w, r, http.StatusOK, func(ctx context.Context, m *persona.Mind) (any, error) {
		return m.Memory(ctx, id)
	})
}

func (h *Handler) recall(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, badRequest("q is required"))
		return
	}
	h.view(w, r, http.StatusOK, func(_ context.Context, m *persona.Mind) (any, error) {
		return m.Recall(q), nil
	})
}
