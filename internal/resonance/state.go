package resonance

import (
	"cmp"
	"slices"
)

// State holds the active resonances, crystallized patterns and insights
// of one persona.
type State struct {
	Active      []*Resonance `json:"active"`
	Patterns    []*Pattern   `json:"patterns"`
	Insights    []Reflection `json:"insights"`
	MaxInsights int          `json:"max_insights"`
	strongPairs map[string]struct{}
}

// NewState returns an empty resonance state.
func NewState() *State {
	return &State{MaxInsights: DefaultMaxInsights}
}

// PatternsOfType returns the patterns with the given type.
func (s *State) PatternsOfType(kind string) []*Pattern {
	var out []*Pattern
	for _, p := range s.Patterns {
		if p.PatternType == kind {
			out = append(out, p)
		}
	}
	return out
}

// addInsights merges in and keeps the list ordered by descending
// confidence, dropping the least confident past MaxInsights.
func (s *State) addInsights(in ...Reflection) {
	s.Insights = append(s.Insights, in...)
	slices.SortStableFunc(s.Insights, func(a, b Reflection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	limit := s.MaxInsights
	if limit <= 0 {
		limit = DefaultMaxInsights
	}
	if len(s.Insights) > limit {
		s.Insights = s.Insights[:limit]
	}
}

// hasStrongPair rebuilds the pair index from patterns after a restore.
func (s *State) hasStrongPair(key string) bool {
	if s.strongPairs == nil {
		s.strongPairs = make(map[string]struct{})
		for _, p := range s.PatternsOfType(StrongConnectionType) {
			if len(p.Memories) == 2 {
				s.strongPairs[pairKey(p.Memories[0].ID, p.Memories[1].ID)] = struct{}{}
			}
		}
	}
	_, ok := s.strongPairs[key]
	return ok
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x1f" + b
}
