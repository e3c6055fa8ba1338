package association

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
)

const (
	// MinConnectionStrength is the floor for materializing a connection.
	MinConnectionStrength = 0.3
	// EmotionalConnectionStrength separates emotional from associative links.
	EmotionalConnectionStrength = 0.5
	// StrongConnectionStrength marks connections worth a pattern of their own.
	StrongConnectionStrength = 0.7
	// ClusterTolerance is the largest weight gap to a cluster representative.
	ClusterTolerance = 0.1
	// InfluenceFactor scales mutual emotional influence along a connection.
	InfluenceFactor = 0.5
)

// Engine maintains connections, clusters and relevance pruning over a
// persona's memories.
type Engine struct {
	initialized bool
}

// NewEngine returns an engine that must be initialized before use.
func NewEngine() *Engine {
	return &Engine{}
}

// Initialize marks the engine ready.
func (e *Engine) Initialize() { e.initialized = true }

func (e *Engine) check(op string) error {
	if !e.initialized {
		return fault.NotInitialized(op)
	}
	return nil
}

// ConnectionStrength scores two memories: 0.3 per shared trait, 0.2 per
// shared tag, plus 0.2 when their emotional weights are within 0.2.
// The score is symmetric and capped at 1. Shared traits come back sorted.
func ConnectionStrength(m1, m2 *memory.Event) (float64, []string) {
	var shared []string
	for t := range m1.TraitInfluences {
		if m2.Influences(t) {
			shared = append(shared, t)
		}
	}
	slices.Sort(shared)

	var tags int
	for _, tag := range m1.Tags {
		if m2.HasTag(tag) {
			tags++
		}
	}

	strength := 0.3*float64(len(shared)) + 0.2*float64(tags)
	if math.Abs(m1.EmotionalWeight-m2.EmotionalWeight) < 0.2 {
		strength += 0.2
	}
	return math.Min(strength, 1), shared
}

// Link scores m against each of others and materializes every pair
// above MinConnectionStrength. A pair that no longer qualifies is
// dropped. It returns the connections touching m.
func (e *Engine) Link(st *State, m *memory.Event, others []*memory.Event, now time.Time) ([]Connection, error) {
	if err := e.check("association.link"); err != nil {
		return nil, err
	}
	var out []Connection
	for _, o := range others {
		if o.ID == m.ID {
			continue
		}
		if c, ok := e.link(st, m, o, now); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (e *Engine) link(st *State, a, b *memory.Event, now time.Time) (Connection, bool) {
	key, lo, hi := pairKey(a.ID, b.ID)
	strength, shared := ConnectionStrength(a, b)
	if strength <= MinConnectionStrength {
		delete(st.Connections, key)
		return Connection{}, false
	}
	kind := Associative
	if strength > EmotionalConnectionStrength {
		kind = Emotional
	}
	c := &Connection{
		Source:       lo,
		Target:       hi,
		Strength:     strength,
		Type:         kind,
		SharedTraits: shared,
		UpdatedAt:    now,
	}
	st.Connections[key] = c
	return *c, true
}

// Rebuild recomputes every pairwise connection among memories.
func (e *Engine) Rebuild(st *State, memories []*memory.Event, now time.Time) error {
	if err := e.check("association.rebuild"); err != nil {
		return err
	}
	st.Connections = make(map[string]*Connection)
	for i, a := range memories {
		for _, b := range memories[i+1:] {
			e.link(st, a, b, now)
		}
	}
	return nil
}

// Cluster places m into the first cluster whose representative's
// weight lies within ClusterTolerance, or opens a new one. The choice
// is first-fit in cluster creation order. A memory already clustered
// stays where it is.
func (e *Engine) Cluster(st *State, m *memory.Event) (*Cluster, error) {
	if err := e.check("association.cluster"); err != nil {
		return nil, err
	}
	if cl, ok := st.ClusterOf(m.ID); ok {
		return cl, nil
	}
	member := Member{ID: m.ID, EmotionalWeight: m.EmotionalWeight}
	for _, cl := range st.Clusters {
		if math.Abs(cl.Representative().EmotionalWeight-m.EmotionalWeight) < ClusterTolerance {
			cl.Members = append(cl.Members, member)
			st.clusterOf[m.ID] = cl
			return cl, nil
		}
	}
	cl := &Cluster{ID: uuid.New().String(), Members: []Member{member}}
	st.Clusters = append(st.Clusters, cl)
	st.clusterOf[m.ID] = cl
	return cl, nil
}

// MutualInfluence lets connected memories pull on each other's
// emotional weight by otherWeight * strength * InfluenceFactor. Both
// sides of a connection read the weights as they were before that
// connection is applied; results are clamped to [-1, 1]. Connections
// are visited in endpoint order. It returns the ids that changed.
func (e *Engine) MutualInfluence(st *State, byID map[string]*memory.Event, now time.Time) ([]string, error) {
	if err := e.check("association.mutual_influence"); err != nil {
		return nil, err
	}
	changed := make(map[string]struct{})
	for _, c := range st.All() {
		a, okA := byID[c.Source]
		b, okB := byID[c.Target]
		if !okA || !okB {
			continue
		}
		wa, wb := a.EmotionalWeight, b.EmotionalWeight
		na := memory.Clamp(wa+wb*c.Strength*InfluenceFactor, -1, 1)
		nb := memory.Clamp(wb+wa*c.Strength*InfluenceFactor, -1, 1)
		if na != wa {
			a.EmotionalWeight = na
			a.UpdatedAt = now
			changed[a.ID] = struct{}{}
		}
		if nb != wb {
			b.EmotionalWeight = nb
			b.UpdatedAt = now
			changed[b.ID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(changed)), nil
}
