package trait

import (
	"maps"
	"math"
	"slices"
	"time"
)

// State is the trait portion of a persona. It is owned by a single
// writer and carries no locking of its own.
type State struct {
	Baselines    map[string]*Baseline      `json:"baselines"`
	Metrics      map[string]*Metrics       `json:"metrics"`
	Trends       map[string]*TrendAnalysis `json:"trends,omitempty"`
	Interactions map[string][]Interaction  `json:"interactions,omitempty"` // keyed by source trait
}

// NewState creates an empty trait state.
func NewState() *State {
	return &State{
		Baselines:    make(map[string]*Baseline),
		Metrics:      make(map[string]*Metrics),
		Trends:       make(map[string]*TrendAnalysis),
		Interactions: make(map[string][]Interaction),
	}
}

// Names returns every known trait in sorted order.
func (s *State) Names() []string {
	set := make(map[string]struct{}, len(s.Baselines))
	for name := range s.Baselines {
		set[name] = struct{}{}
	}
	for name := range s.Metrics {
		set[name] = struct{}{}
	}
	return slices.Sorted(maps.Keys(set))
}

func (s *State) baseline(name string) *Baseline {
	b, ok := s.Baselines[name]
	if !ok {
		b = &Baseline{}
		s.Baselines[name] = b
	}
	return b
}

func (s *State) metrics(name string) *Metrics {
	m, ok := s.Metrics[name]
	if !ok {
		m = &Metrics{}
		s.Metrics[name] = m
	}
	return m
}

func (s *State) trend(name string) *TrendAnalysis {
	t, ok := s.Trends[name]
	if !ok {
		t = &TrendAnalysis{}
		s.Trends[name] = t
	}
	return t
}

// Value returns the current value of a trait, 0 when unknown.
func (s *State) Value(name string) float64 {
	if b, ok := s.Baselines[name]; ok {
		return b.CurrentValue
	}
	return 0
}

// Volatility returns the population std-dev of the trait history.
func (s *State) Volatility(name string) float64 {
	if m, ok := s.Metrics[name]; ok {
		return m.Volatility
	}
	return 0
}

// Confidence evaluates the weighted confidence blend for a trait:
// consistency 40%, memory support 30%, trend steadiness 30%.
func (s *State) Confidence(name string) float64 {
	var (
		vol, trend           float64
		supporting, conflict int
	)
	if m, ok := s.Metrics[name]; ok {
		vol, trend = m.Volatility, m.LongTermTrend
	}
	if b, ok := s.Baselines[name]; ok {
		supporting, conflict = len(b.SupportingMemories), len(b.ConflictingMemories)
	}
	consistency := 1 - vol
	support := float64(supporting) / float64(supporting+conflict+1)
	steadiness := math.Exp(-math.Abs(trend))
	return clamp(0.4*consistency+0.3*support+0.3*steadiness, 0, 1)
}

// Stability is exp(-volatility) scaled by the stored confidence.
func (s *State) Stability(name string) float64 {
	m, ok := s.Metrics[name]
	if !ok {
		return 0
	}
	return clamp(math.Exp(-m.Volatility)*m.Confidence, 0, 1)
}

// LastUpdate reports when the trait last received an observation.
func (s *State) LastUpdate(name string) (time.Time, bool) {
	m, ok := s.Metrics[name]
	if !ok {
		return time.Time{}, false
	}
	return m.LastUpdate, true
}

// TrendSignal reports the short slope and volatility of the last analysis.
func (s *State) TrendSignal(name string) (shortSlope, volatility float64, ok bool) {
	t, ok := s.Trends[name]
	if !ok {
		return 0, 0, false
	}
	return t.ShortTermSlope, t.Volatility, true
}

// Drifts lists current against target for every baseline, sorted by trait.
func (s *State) Drifts() []Drift {
	names := slices.Sorted(maps.Keys(s.Baselines))
	out := make([]Drift, 0, len(names))
	for _, name := range names {
		b := s.Baselines[name]
		out = append(out, Drift{Trait: name, Current: b.CurrentValue, Target: b.TargetValue})
	}
	return out
}

// Snapshot returns a copy of the baselines suitable for persistence.
func (s *State) Snapshot() map[string]Baseline {
	out := make(map[string]Baseline, len(s.Baselines))
	for name, b := range s.Baselines {
		c := *b
		c.SupportingMemories = slices.Clone(b.SupportingMemories)
		c.ConflictingMemories = slices.Clone(b.ConflictingMemories)
		out[name] = c
	}
	return out
}

// RestoreBaselines replaces the baselines with a persisted set.
func (s *State) RestoreBaselines(set map[string]Baseline) {
	s.Baselines = make(map[string]*Baseline, len(set))
	for name, b := range set {
		c := b
		s.Baselines[name] = &c
	}
}

// ForgetMemory drops a memory id from every evidence list.
func (s *State) ForgetMemory(id string) {
	for _, b := range s.Baselines {
		b.SupportingMemories = slices.DeleteFunc(b.SupportingMemories, func(m string) bool { return m == id })
		b.ConflictingMemories = slices.DeleteFunc(b.ConflictingMemories, func(m string) bool { return m == id })
	}
}

// SnapshotMetrics returns a copy of the rolling statistics.
func (s *State) SnapshotMetrics() map[string]Metrics {
	out := make(map[string]Metrics, len(s.Metrics))
	for name, m := range s.Metrics {
		c := *m
		c.History = slices.Clone(m.History)
		out[name] = c
	}
	return out
}

// RestoreMetrics replaces the rolling statistics with a persisted set.
func (s *State) RestoreMetrics(set map[string]Metrics) {
	s.Metrics = make(map[string]*Metrics, len(set))
	for name, m := range set {
		c := m
		if len(c.History) > HistoryCapacity {
			c.History = c.History[len(c.History)-HistoryCapacity:]
		}
		s.Metrics[name] = &c
	}
}
