package association

import (
	"math"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// PruneThreshold is the overall score below which a memory is evicted.
const PruneThreshold = 0.2

// TraitSignals exposes the trait statistics pruning depends on.
type TraitSignals interface {
	LastUpdate(trait string) (time.Time, bool)
	TrendSignal(trait string) (shortSlope, volatility float64, ok bool)
}

// Score is the relevance breakdown of one memory.
type Score struct {
	MemoryID          string   `json:"memory_id"`
	Relevance         float64  `json:"relevance"`
	EmotionalImpact   float64  `json:"emotional_impact"`
	TraitContribution float64  `json:"trait_contribution"`
	TemporalDecay     float64  `json:"temporal_decay"`
	Overall           float64  `json:"overall"`
	AffectedTraits    []string `json:"affected_traits,omitempty"`
}

// Evict reports whether the score falls below PruneThreshold.
func (s Score) Evict() bool { return s.Overall < PruneThreshold }

// ScoreMemory computes the pruning score of m at now.
func ScoreMemory(m *memory.Event, signals TraitSignals, now time.Time) Score {
	s := Score{MemoryID: m.ID}

	var relevance float64
	for _, t := range m.Traits() {
		last, ok := signals.LastUpdate(t)
		if !ok {
			continue
		}
		relevance += math.Abs(m.TraitInfluences[t]) * math.Exp(-0.1*hoursBetween(last, now))
		s.AffectedTraits = append(s.AffectedTraits, t)
	}
	if n := len(s.AffectedTraits); n > 0 {
		s.Relevance = relevance / float64(n)

		var contribution float64
		for _, t := range s.AffectedTraits {
			if slope, vol, ok := signals.TrendSignal(t); ok {
				contribution += math.Abs(slope) * (1 - vol)
			}
		}
		s.TraitContribution = contribution / float64(n)
	}

	age := hoursBetween(m.CreatedAt, now)
	s.EmotionalImpact = m.EmotionalWeight * math.Exp(-0.05*age)
	s.TemporalDecay = math.Exp(-0.1 * age)

	s.Overall = 0.3*s.Relevance +
		0.2*s.EmotionalImpact +
		0.3*s.TraitContribution +
		0.2*s.TemporalDecay
	return s
}

// Prune scores every memory and forgets the ones below PruneThreshold.
// Eviction depends only on each memory's own score, never on order.
// The caller removes the evicted ids from its ledger.
func (e *Engine) Prune(st *State, memories []*memory.Event, signals TraitSignals, now time.Time) ([]Score, []string, error) {
	if err := e.check("association.prune"); err != nil {
		return nil, nil, err
	}
	scores := make([]Score, 0, len(memories))
	var evicted []string
	for _, m := range memories {
		s := ScoreMemory(m, signals, now)
		scores = append(scores, s)
		if s.Evict() {
			evicted = append(evicted, m.ID)
		}
	}
	for _, id := range evicted {
		st.Forget(id)
	}
	return scores, evicted, nil
}

func hoursBetween(from, to time.Time) float64 {
	return math.Max(0, to.Sub(from).Hours())
}
