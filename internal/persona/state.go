package persona

import (
	"time"

	"github.com/nidhogg/nuka-mind/internal/association"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

// State is everything one persona's mind holds. It is passed explicitly
// to the engines and must be mutated by a single owner.
type State struct {
	ID        string
	Name      string
	Memories  *memory.Ledger
	Traits    *trait.State
	Resonance *resonance.State
	Graph     *association.State
}

// NewState creates an empty persona state.
func NewState(id, name string) *State {
	return &State{
		ID:        id,
		Name:      name,
		Memories:  memory.NewLedger(),
		Traits:    trait.NewState(),
		Resonance: resonance.NewState(),
		Graph:     association.NewState(),
	}
}

// Snapshot is the whole persisted form of a persona.
type Snapshot struct {
	PersonaID string                    `json:"persona_id"`
	Name      string                    `json:"name"`
	Memories  []*memory.Event           `json:"memories"`
	LongTerm  []string                  `json:"long_term,omitempty"` // ids of memories in the long-term tier
	Baselines map[string]trait.Baseline `json:"baselines"`
	Metrics   map[string]trait.Metrics  `json:"metrics"`
	Emotional EmotionalState            `json:"emotional"`
	Resonance *resonance.State          `json:"resonance"`
	Graph     *association.State        `json:"graph"`
	SavedAt   time.Time                 `json:"saved_at"`
}

// Snapshot copies the state for persistence.
func (s *State) Snapshot(now time.Time) *Snapshot {
	snap := &Snapshot{
		PersonaID: s.ID,
		Name:      s.Name,
		Baselines: s.Traits.Snapshot(),
		Metrics:   s.Traits.SnapshotMetrics(),
		Emotional: DeriveEmotionalState(s, now),
		Resonance: s.Resonance,
		Graph:     s.Graph,
		SavedAt:   now,
	}
	for _, e := range s.Memories.All() {
		snap.Memories = append(snap.Memories, e.Clone())
		if t, _ := s.Memories.TierOf(e.ID); t == memory.LongTerm {
			snap.LongTerm = append(snap.LongTerm, e.ID)
		}
	}
	return snap
}

// Restore rebuilds a state from a snapshot.
func Restore(snap *Snapshot) *State {
	st := NewState(snap.PersonaID, snap.Name)
	long := make(map[string]bool, len(snap.LongTerm))
	for _, id := range snap.LongTerm {
		long[id] = true
	}
	for _, e := range snap.Memories {
		e.Normalize()
		tier := memory.ShortTerm
		if long[e.ID] {
			tier = memory.LongTerm
		}
		st.Memories.Restore(e, tier)
	}
	if snap.Baselines != nil {
		st.Traits.RestoreBaselines(snap.Baselines)
	}
	if snap.Metrics != nil {
		st.Traits.RestoreMetrics(snap.Metrics)
	}
	if snap.Resonance != nil {
		st.Resonance = snap.Resonance
	}
	if snap.Graph != nil {
		st.Graph = snap.Graph
		if st.Graph.Connections == nil {
			st.Graph.Connections = make(map[string]*association.Connection)
		}
	}
	return st
}

// byID indexes the live memories.
func (s *State) byID() map[string]*memory.Event {
	all := s.Memories.All()
	out := make(map[string]*memory.Event, len(all))
	for _, e := range all {
		out[e.ID] = e
	}
	return out
}
