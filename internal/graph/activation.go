package graph

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// ActivationOpts controls spreading activation behavior.
type ActivationOpts struct {
	MaxDepth    int     // max hops, default 3
	DecayFactor float64 // per-hop decay, default 0.7
	Threshold   float64 // min activation to recall, default 0.3
	MaxNodes    int     // max recalled memories, default 50
}

// DefaultActivationOpts returns the recall defaults.
func DefaultActivationOpts() ActivationOpts {
	return ActivationOpts{
		MaxDepth:    3,
		DecayFactor: 0.7,
		Threshold:   0.3,
		MaxNodes:    50,
	}
}

// Recalled is a memory reached by spreading activation.
type Recalled struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Activation float64 `json:"activation"`
}

// ActivationResult holds the output of one activation pass.
type ActivationResult struct {
	Memories []Recalled    `json:"memories"`
	Duration time.Duration `json:"duration"`
}

// Activate seeds every memory whose content or tags match a cue and
// spreads along CONNECTED edges, multiplying edge weights and decaying per
// hop. Seeds themselves recall at activation 1.
func (s *Store) Activate(ctx context.Context, personaID string, cues []string, opts ActivationOpts) (*ActivationResult, error) {
	start := time.Now()
	if opts.MaxDepth == 0 {
		opts = DefaultActivationOpts()
	}
	lowered := make([]string, 0, len(cues))
	for _, c := range cues {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			lowered = append(lowered, c)
		}
	}
	ar := &ActivationResult{}
	if len(lowered) == 0 {
		return ar, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	query := `
		UNWIND $cues AS cue
		MATCH (seed:Memory {persona_id: $persona})
		WHERE toLower(seed.content) CONTAINS cue OR cue IN seed.tags
		WITH COLLECT(DISTINCT seed) AS seeds
		UNWIND seeds AS seed
		CALL {
			WITH seed
			MATCH path = (seed)-[:CONNECTED*0..` + strconv.Itoa(opts.MaxDepth) + `]-(node:Memory)
			WITH node, length(path) AS depth,
			     reduce(w = 1.0, r IN relationships(path) | w * coalesce(r.weight, 0.5)) AS pathWeight
			RETURN node, $decay ^ toFloat(depth) * pathWeight AS activation
		}
		WITH node, MAX(activation) AS activation
		WHERE activation > $threshold
		RETURN node.id AS id, node.content AS content, activation
		ORDER BY activation DESC, id
		LIMIT $maxNodes`

	result, err := session.Run(ctx, query, map[string]any{
		"cues":      lowered,
		"persona":   personaID,
		"decay":     opts.DecayFactor,
		"threshold": opts.Threshold,
		"maxNodes":  opts.MaxNodes,
	})
	if err != nil {
		return nil, err
	}
	for result.Next(ctx) {
		rec := result.Record()
		var r Recalled
		if v, ok := rec.Get("id"); ok && v != nil {
			r.ID = v.(string)
		}
		if v, ok := rec.Get("content"); ok && v != nil {
			r.Content = v.(string)
		}
		if v, ok := rec.Get("activation"); ok && v != nil {
			r.Activation = v.(float64)
		}
		ar.Memories = append(ar.Memories, r)
	}
	if err := result.Err(); err != nil {
		return nil, err
	}

	ar.Duration = time.Since(start)
	s.logger.Info("spreading activation complete",
		zap.String("persona", personaID),
		zap.Int("cues", len(lowered)),
		zap.Int("recalled", len(ar.Memories)),
		zap.Duration("duration", ar.Duration))
	return ar, nil
}
