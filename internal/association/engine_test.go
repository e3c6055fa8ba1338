package association

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func mem(id string, weight float64, traits map[string]float64, tags ...string) *memory.Event {
	e := memory.NewEvent(id+" content", t0)
	e.ID = id
	e.EmotionalWeight = weight
	if traits != nil {
		e.TraitInfluences = traits
	}
	e.Tags = tags
	e.Normalize()
	return e
}

func newEngine() (*Engine, *State) {
	e := NewEngine()
	e.Initialize()
	return e, NewState()
}

func TestConnectionStrengthScenario(t *testing.T) {
	// one shared trait, one shared tag, weights within 0.2
	a := mem("a", 0.4, map[string]float64{"warmth": 0.2}, "beach")
	b := mem("b", 0.5, map[string]float64{"warmth": 0.1}, "beach")

	s, shared := ConnectionStrength(a, b)
	assert.InDelta(t, 0.7, s, 1e-9)
	assert.Equal(t, []string{"warmth"}, shared)

	e, st := newEngine()
	got, err := e.Link(st, a, []*memory.Event{b}, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, Emotional, got[0].Type)

	// a second shared tag adds another 0.2
	a.Tags = []string{"beach", "summer"}
	b.Tags = []string{"beach", "summer"}
	s, _ = ConnectionStrength(a, b)
	assert.InDelta(t, 0.9, s, 1e-9)
}

func TestConnectionStrengthIsSymmetricAndBounded(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 5))
	traits := []string{"warmth", "humor", "focus", "curiosity"}
	tags := []string{"home", "work", "beach", "night"}
	random := func(id string) *memory.Event {
		inf := make(map[string]float64)
		var ts []string
		for _, tr := range traits {
			if r.IntN(2) == 0 {
				inf[tr] = r.Float64()*2 - 1
			}
		}
		for _, tg := range tags {
			if r.IntN(2) == 0 {
				ts = append(ts, tg)
			}
		}
		return mem(id, r.Float64()*2-1, inf, ts...)
	}
	for range 200 {
		a, b := random("a"), random("b")
		s1, sh1 := ConnectionStrength(a, b)
		s2, sh2 := ConnectionStrength(b, a)
		require.Equal(t, s1, s2)
		require.Equal(t, sh1, sh2)
		require.GreaterOrEqual(t, s1, 0.0)
		require.LessOrEqual(t, s1, 1.0)
	}
}

func TestLinkThresholdAndTypes(t *testing.T) {
	e, st := newEngine()
	base := mem("a", 0.0, map[string]float64{"warmth": 0.1})
	weakOnly := mem("b", 0.9, nil)
	emotionalOnly := mem("c", 0.1, nil)
	atFloor := mem("d", 0.9, map[string]float64{"warmth": 0.3}, "x")
	assoc := mem("e", 0.1, map[string]float64{"warmth": 0.3, "f": 1})

	got, err := e.Link(st, base, []*memory.Event{base, weakOnly, emotionalOnly, atFloor, assoc}, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e", got[0].Other("a"))
	assert.Equal(t, Associative, got[0].Type)
	assert.InDelta(t, 0.5, got[0].Strength, 1e-9)

	_, ok := st.Connection("e", "a")
	assert.True(t, ok, "lookup is order independent")

	// weights drift apart: the pair falls to 0.3 and is dropped
	assoc.EmotionalWeight = 0.8
	got, err = e.Link(st, base, []*memory.Event{assoc}, t0)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, st.All())
}

func TestRebuildMatchesIncrementalLinking(t *testing.T) {
	e, st := newEngine()
	ms := []*memory.Event{
		mem("a", 0.4, map[string]float64{"warmth": 0.2}, "beach"),
		mem("b", 0.5, map[string]float64{"warmth": 0.1}, "beach"),
		mem("c", 0.45, map[string]float64{"humor": 0.1, "warmth": 0.3}),
	}
	for i, m := range ms {
		_, err := e.Link(st, m, ms[:i], t0)
		require.NoError(t, err)
	}
	incremental := st.All()

	_, rebuilt := newEngine()
	require.NoError(t, e.Rebuild(rebuilt, ms, t0))
	assert.Equal(t, incremental, rebuilt.All())
	assert.Len(t, rebuilt.Strong(StrongConnectionStrength-1e-9), 1)
}

func TestClusterFirstFit(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.50, nil)
	b := mem("b", 0.65, nil)
	c := mem("c", 0.62, nil) // only b is close enough
	d := mem("d", 0.58, nil) // a and b both qualify, b is closer, a came first

	for _, m := range []*memory.Event{a, b, c, d} {
		_, err := e.Cluster(st, m)
		require.NoError(t, err)
	}
	require.Len(t, st.Clusters, 2)
	assert.Equal(t, []string{"a", "d"}, memberIDs(st.Clusters[0]))
	assert.Equal(t, []string{"b", "c"}, memberIDs(st.Clusters[1]))

	again, err := e.Cluster(st, d)
	require.NoError(t, err)
	assert.Same(t, st.Clusters[0], again)
	assert.Len(t, st.Clusters[0].Members, 2)
}

func TestClusterUsesRepresentativeSnapshot(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.5, nil)
	_, err := e.Cluster(st, a)
	require.NoError(t, err)

	a.EmotionalWeight = -0.9
	b := mem("b", 0.55, nil)
	cl, err := e.Cluster(st, b)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, memberIDs(cl))
}

func TestForgetPromotesNextRepresentative(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.5, map[string]float64{"warmth": 0.1}, "x")
	b := mem("b", 0.55, map[string]float64{"warmth": 0.1}, "x")
	_, _ = e.Cluster(st, a)
	_, _ = e.Cluster(st, b)
	_, _ = e.Link(st, b, []*memory.Event{a}, t0)
	require.Len(t, st.All(), 1)

	st.Forget("a")
	assert.Empty(t, st.All())
	require.Len(t, st.Clusters, 1)
	assert.Equal(t, "b", st.Clusters[0].Representative().ID)

	st.Forget("b")
	assert.Empty(t, st.Clusters)
	_, ok := st.ClusterOf("b")
	assert.False(t, ok)
}

func TestMutualInfluenceKeepsWeightsBounded(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.9, map[string]float64{"warmth": 0.1, "humor": 0.1}, "x", "y")
	b := mem("b", 0.95, map[string]float64{"warmth": 0.1, "humor": 0.1}, "x", "y")
	c := mem("c", -0.2, map[string]float64{"warmth": 0.1})
	all := []*memory.Event{a, b, c}
	require.NoError(t, e.Rebuild(st, all, t0))

	conn, ok := st.Connection("a", "b")
	require.True(t, ok)
	require.Equal(t, 1.0, conn.Strength)

	byID := map[string]*memory.Event{"a": a, "b": b, "c": c}
	for range 50 {
		_, err := e.MutualInfluence(st, byID, t0)
		require.NoError(t, err)
		for _, m := range all {
			require.GreaterOrEqual(t, m.EmotionalWeight, -1.0)
			require.LessOrEqual(t, m.EmotionalWeight, 1.0)
		}
	}
	assert.Equal(t, 1.0, a.EmotionalWeight)
	assert.Equal(t, 1.0, b.EmotionalWeight)
}

func TestMutualInfluenceUsesPreUpdateWeights(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.2, map[string]float64{"warmth": 0.1}, "x")
	b := mem("b", -0.1, map[string]float64{"warmth": 0.1}, "x")
	require.NoError(t, e.Rebuild(st, []*memory.Event{a, b}, t0))
	conn, _ := st.Connection("a", "b")
	require.InDelta(t, 0.5, conn.Strength, 1e-9)

	changed, err := e.MutualInfluence(st, map[string]*memory.Event{"a": a, "b": b}, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, changed)
	assert.InDelta(t, 0.2+(-0.1)*0.5*0.5, a.EmotionalWeight, 1e-9)
	assert.InDelta(t, -0.1+0.2*0.5*0.5, b.EmotionalWeight, 1e-9)
	assert.Equal(t, t0.Add(time.Hour), a.UpdatedAt)
}

func TestUninitializedEngine(t *testing.T) {
	e := NewEngine()
	st := NewState()
	_, err := e.Link(st, mem("a", 0, nil), nil, t0)
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	_, err = e.Cluster(st, mem("a", 0, nil))
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	assert.Empty(t, st.Clusters)
}

func TestSummaries(t *testing.T) {
	e, st := newEngine()
	a := mem("a", 0.5, map[string]float64{"warmth": 0.1}, "home", "night")
	b := mem("b", 0.55, map[string]float64{"warmth": 0.2, "humor": 0.1}, "home")
	_, _ = e.Cluster(st, a)
	_, _ = e.Cluster(st, b)

	sums := st.Summaries(map[string]*memory.Event{"a": a, "b": b})
	require.Len(t, sums, 1)
	assert.Equal(t, 2, sums[0].Size)
	assert.InDelta(t, 0.525, sums[0].EmotionalTheme, 1e-9)
	assert.Equal(t, 1.0, sums[0].TraitFrequencies["warmth"])
	assert.Equal(t, 0.5, sums[0].TraitFrequencies["humor"])
	assert.Equal(t, []string{"home"}, sums[0].CommonTags)
}

func memberIDs(cl *Cluster) []string {
	var out []string
	for _, m := range cl.Members {
		out = append(out, m.ID)
	}
	return out
}
