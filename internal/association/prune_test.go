package association

import (
	"math"
	"slices"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSignals struct {
	updates map[string]time.Time
	slopes  map[string][2]float64
}

func (f fakeSignals) LastUpdate(trait string) (time.Time, bool) {
	t, ok := f.updates[trait]
	return t, ok
}

func (f fakeSignals) TrendSignal(trait string) (float64, float64, bool) {
	s, ok := f.slopes[trait]
	return s[0], s[1], ok
}

func aged(id string, weight float64, age time.Duration, traits map[string]float64) *memory.Event {
	m := mem(id, weight, traits)
	m.CreatedAt = t0.Add(-age)
	return m
}

func TestScoreMemoryFormula(t *testing.T) {
	signals := fakeSignals{
		updates: map[string]time.Time{"warmth": t0.Add(-2 * time.Hour), "humor": t0},
		slopes:  map[string][2]float64{"warmth": {0.1, 0.2}},
	}
	m := aged("a", 0.5, 10*time.Hour, map[string]float64{"warmth": 0.8, "humor": -0.4, "unknown": 1})

	s := ScoreMemory(m, signals, t0)
	assert.Equal(t, []string{"humor", "warmth"}, s.AffectedTraits)
	assert.InDelta(t, (0.4+0.8*math.Exp(-0.2))/2, s.Relevance, 1e-9)
	assert.InDelta(t, 0.1*0.8/2, s.TraitContribution, 1e-9)
	assert.InDelta(t, 0.5*math.Exp(-0.5), s.EmotionalImpact, 1e-9)
	assert.InDelta(t, math.Exp(-1), s.TemporalDecay, 1e-9)
	want := 0.3*s.Relevance + 0.2*s.EmotionalImpact + 0.3*s.TraitContribution + 0.2*s.TemporalDecay
	assert.InDelta(t, want, s.Overall, 1e-12)
}

func TestPruneThresholdIsExact(t *testing.T) {
	e, st := newEngine()
	signals := fakeSignals{}

	atThreshold := aged("fresh", 0, 0, nil) // overall exactly 0.2
	stale := aged("stale", 0, 48*time.Hour, nil)
	bitter := aged("bitter", -1, 0, nil) // impact cancels the decay term
	warm := aged("warm", 1, 0, nil)

	scores, evicted, err := e.Prune(st, []*memory.Event{atThreshold, stale, bitter, warm}, signals, t0)
	require.NoError(t, err)
	require.Len(t, scores, 4)
	assert.Equal(t, 0.2, scores[0].Overall)
	assert.False(t, scores[0].Evict())
	assert.ElementsMatch(t, []string{"stale", "bitter"}, evicted)

	for _, s := range scores {
		assert.Equal(t, s.Overall < PruneThreshold, slices.Contains(evicted, s.MemoryID))
	}
}

func TestPruneIsOrderIndependent(t *testing.T) {
	signals := fakeSignals{
		updates: map[string]time.Time{"warmth": t0.Add(-30 * time.Hour)},
		slopes:  map[string][2]float64{"warmth": {0.05, 0.1}},
	}
	var ms []*memory.Event
	for i := range 12 {
		ms = append(ms, aged(string(rune('a'+i)), float64(i%5)/5-0.4, time.Duration(i*4)*time.Hour,
			map[string]float64{"warmth": float64(i) / 12}))
	}

	e, st := newEngine()
	_, forward, err := e.Prune(st, ms, signals, t0)
	require.NoError(t, err)

	reversed := slices.Clone(ms)
	slices.Reverse(reversed)
	_, backward, err := e.Prune(NewState(), reversed, signals, t0)
	require.NoError(t, err)

	assert.ElementsMatch(t, forward, backward)
	assert.NotEmpty(t, forward)
}

func TestPruneForgetsEvictedFromGraph(t *testing.T) {
	e, st := newEngine()
	keep := aged("keep", 0.9, 0, map[string]float64{"warmth": 0.1})
	drop := aged("drop", 0.85, 72*time.Hour, map[string]float64{"warmth": 0.1})
	require.NoError(t, e.Rebuild(st, []*memory.Event{keep, drop}, t0))
	_, _ = e.Cluster(st, keep)
	_, _ = e.Cluster(st, drop)
	require.Len(t, st.All(), 1)

	_, evicted, err := e.Prune(st, []*memory.Event{keep, drop}, fakeSignals{}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"drop"}, evicted)
	assert.Empty(t, st.All())
	_, ok := st.ClusterOf("drop")
	assert.False(t, ok)
	_, ok = st.ClusterOf("keep")
	assert.True(t, ok)
}
