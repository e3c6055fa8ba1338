package persona

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/trait"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *recorder) Publish(_ context.Context, sig Signal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, sig)
	return nil
}

func (r *recorder) kinds() []SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SignalKind
	for _, s := range r.signals {
		out = append(out, s.Kind)
	}
	return out
}

// flakyStore fails SaveMemory until fails reaches zero.
type flakyStore struct {
	*MemoryStore
	fails int
	calls int
}

func (s *flakyStore) SaveMemory(ctx context.Context, personaID string, e *memory.Event) error {
	s.calls++
	if s.fails != 0 {
		s.fails--
		return errors.New("connection reset")
	}
	return s.MemoryStore.SaveMemory(ctx, personaID, e)
}

func newMind(t *testing.T, store Store, traits map[string]float64, sinks ...Sink) (*Mind, *clock) {
	t.Helper()
	c := &clock{t: t0}
	opts := DefaultOptions()
	opts.PersonaID = "p1"
	opts.Traits = traits
	opts.RetryInitial = time.Millisecond
	opts.RetryMax = 2 * time.Millisecond
	opts.Now = c.now
	m := NewMind(opts, store, zap.NewNop(), sinks...)
	require.NoError(t, m.Initialize(context.Background()))
	return m, c
}

func ev(id string, weight float64, created time.Time, traits map[string]float64, tags ...string) *memory.Event {
	e := memory.NewEvent(id+" happened", created)
	e.ID = id
	e.EmotionalWeight = weight
	if traits != nil {
		e.TraitInfluences = traits
	}
	e.Tags = tags
	return e
}

func TestMindRequiresInitialize(t *testing.T) {
	m := NewMind(DefaultOptions(), nil, zap.NewNop())
	err := m.Ingest(context.Background(), ev("a", 0.1, t0, nil))
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	assert.Equal(t, 0, m.State().Memories.Len())

	_, err = m.Tick(context.Background(), t0)
	assert.ErrorIs(t, err, fault.ErrPrecondition)
	assert.ErrorIs(t, m.Save(context.Background()), fault.ErrPrecondition)
}

func TestIngestDrivesTraitStatistics(t *testing.T) {
	ctx := context.Background()
	m, c := newMind(t, nil, map[string]float64{"confidence": 0.5})

	for i, influence := range []float64{0.1, 0.1, -0.05} {
		id := string(rune('a' + i))
		require.NoError(t, m.Ingest(ctx, ev(id, 0.2, c.now(), map[string]float64{"confidence": influence})))
		c.advance(time.Hour)
	}

	st := m.State().Traits
	metrics := st.Metrics["confidence"]
	require.Len(t, metrics.History, 3)
	assert.InDelta(t, -0.05-0.1, metrics.ShortTermChange, 1e-9)

	vol := math.Sqrt(0.005)
	want := 0.4*(1-vol) + 0.3*(2.0/4.0) + 0.3
	assert.InDelta(t, want, st.Confidence("confidence"), 1e-9)
	assert.InDelta(t, want, metrics.Confidence, 1e-9)

	v, ok := m.TraitStrength("confidence")
	require.True(t, ok)
	assert.InDelta(t, 0.65, v, 1e-9)
	assert.Equal(t, []string{"a", "b"}, st.Baselines["confidence"].SupportingMemories)
	assert.Equal(t, []string{"c"}, st.Baselines["confidence"].ConflictingMemories)
}

func TestIngestLinksClustersAndTriggers(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m, c := newMind(t, nil, nil, rec)

	a := ev("a", 0.4, c.now(), map[string]float64{"warmth": 0.2}, "beach", "summer")
	b := ev("b", 0.45, c.now(), map[string]float64{"warmth": 0.1}, "beach", "summer")
	b.Trigger = "beach"
	require.NoError(t, m.Ingest(ctx, a))
	require.NoError(t, m.Ingest(ctx, b))

	conns := m.Connections()
	require.Len(t, conns, 1)
	assert.InDelta(t, 0.9, conns[0].Strength, 1e-9)
	assert.Len(t, m.Clusters(), 1)

	res := m.Resonances()
	require.Len(t, res, 1)
	assert.Equal(t, "beach", res[0].Trigger)
	assert.Equal(t, 0.45, res[0].Intensity)

	assert.Equal(t, []SignalKind{SignalMemoryStored, SignalMemoryStored, SignalResonance}, rec.kinds())
	assert.Len(t, rec.signals[1].Connections, 1)
	assert.Len(t, m.Recall("beach"), 2)
}

func TestTickPublishesPatterns(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m, _ := newMind(t, nil, nil, rec)

	_, err := m.Trigger(ctx, "joy", 0.8)
	require.NoError(t, err)
	var created int
	for h := 1; h <= 20; h++ {
		ps, err := m.Tick(ctx, t0.Add(time.Duration(h)*time.Hour))
		require.NoError(t, err)
		created += len(ps)
	}
	assert.Equal(t, 1, created)
	assert.Empty(t, m.Resonances())
	assert.Len(t, m.Patterns(), 1)
	assert.Contains(t, rec.kinds(), SignalPattern)
}

func TestStorageFailureIsRetriedThenReported(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: -1}
	m, c := newMind(t, store, nil)

	err := m.Ingest(ctx, ev("a", 0.3, c.now(), nil))
	assert.ErrorIs(t, err, fault.ErrStorage)
	assert.Equal(t, 3, store.calls)
	_, kept := m.State().Memories.Get("a")
	assert.True(t, kept, "in-memory state survives a store failure")

	store.fails, store.calls = 1, 0
	require.NoError(t, m.Ingest(ctx, ev("b", 0.3, c.now(), nil)))
	assert.Equal(t, 2, store.calls)
}

func TestIngestRetryAfterStorageFailureAppliesOnce(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: 3}
	m, c := newMind(t, store, map[string]float64{"warmth": 0.5})

	first := ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.1})
	first.Trigger = "joy"
	assert.ErrorIs(t, m.Ingest(ctx, first), fault.ErrStorage)

	again := ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.1})
	again.Trigger = "joy"
	require.NoError(t, m.Ingest(ctx, again))

	v, _ := m.TraitStrength("warmth")
	assert.InDelta(t, 0.6, v, 1e-9)
	assert.Len(t, m.State().Traits.Metrics["warmth"].History, 1)
	assert.Len(t, m.Resonances(), 1)
	stored, err := store.LoadMemory(ctx, "p1", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", stored.ID)
}

func TestReingestAppliesOnlyTheChange(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	m, c := newMind(t, nil, map[string]float64{"warmth": 0.5, "humor": 0.4}, rec)

	require.NoError(t, m.Ingest(ctx, ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.1})))
	require.NoError(t, m.Ingest(ctx, ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.3, "humor": 0.05})))

	warmth, _ := m.TraitStrength("warmth")
	assert.InDelta(t, 0.8, warmth, 1e-9)
	humor, _ := m.TraitStrength("humor")
	assert.InDelta(t, 0.45, humor, 1e-9)
	assert.Len(t, m.State().Traits.Metrics["warmth"].History, 2)

	require.NoError(t, m.Ingest(ctx, ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.3})))
	humor, _ = m.TraitStrength("humor")
	assert.InDelta(t, 0.4, humor, 1e-9, "dropped influence is withdrawn")
	assert.Equal(t, []SignalKind{SignalMemoryStored, SignalMemoryUpdated, SignalMemoryUpdated}, rec.kinds())
}

func TestIngestDerivesImportance(t *testing.T) {
	ctx := context.Background()
	m, c := newMind(t, nil, map[string]float64{"warmth": 0.5})

	require.NoError(t, m.Ingest(ctx, ev("a", 0.4, c.now(), map[string]float64{"warmth": 0.2, "humor": -0.2})))
	e, ok := m.State().Memories.Get("a")
	require.True(t, ok)
	assert.InDelta(t, 0.6, e.Importance, 1e-9)

	given := ev("b", 0.1, c.now(), nil)
	given.Importance = 0.8
	require.NoError(t, m.Ingest(ctx, given))
	e, _ = m.State().Memories.Get("b")
	assert.Equal(t, 0.8, e.Importance)
}

func TestIngestSpreadsAlongCorrelatedTraits(t *testing.T) {
	ctx := context.Background()
	m, c := newMind(t, nil, map[string]float64{"warmth": 0.5, "humor": 0.5, "focus": 0.5})
	m.State().Traits.Interactions["warmth"] = []trait.Interaction{
		{SourceTrait: "warmth", TargetTrait: "humor", TemporalCorrelation: 0.8},
		{SourceTrait: "warmth", TargetTrait: "focus", TemporalCorrelation: 0.2},
	}

	require.NoError(t, m.Ingest(ctx, ev("a", 0.3, c.now(), map[string]float64{"warmth": 0.1})))
	humor, _ := m.TraitStrength("humor")
	assert.InDelta(t, 0.58, humor, 1e-9)
	focus, _ := m.TraitStrength("focus")
	assert.Equal(t, 0.5, focus)
	assert.Empty(t, m.State().Traits.Metrics["humor"].History, "spread is not an observation")
}

func TestInfluenceInsertsMemoryMissingFromStore(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{MemoryStore: NewMemoryStore(), fails: -1}
	m, c := newMind(t, store, nil)
	assert.ErrorIs(t, m.Ingest(ctx, ev("a", 0.2, c.now(), map[string]float64{"warmth": 0.1}, "x")), fault.ErrStorage)
	store.fails = 0
	require.NoError(t, m.Ingest(ctx, ev("b", -0.1, c.now(), map[string]float64{"warmth": 0.1}, "x")))

	changed, err := m.Influence(ctx, c.now())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, changed)

	stored, err := store.LoadMemory(ctx, "p1", "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.2-0.1*0.5*0.5, stored.EmotionalWeight, 1e-9)
}

func TestSaveAndRestore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, c := newMind(t, store, map[string]float64{"warmth": 0.5})

	important := ev("a", 0.9, c.now(), map[string]float64{"warmth": 0.2}, "home")
	important.Importance = 0.9
	require.NoError(t, m.Ingest(ctx, important))
	require.NoError(t, m.Ingest(ctx, ev("b", 0.85, c.now(), map[string]float64{"warmth": 0.1}, "home")))
	_, err := m.Trigger(ctx, "joy", 0.9)
	require.NoError(t, err)
	_, err = m.Tick(ctx, t0.Add(24*time.Hour))
	require.NoError(t, err)
	promoted, err := m.Consolidate(t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, promoted, "b derives 0.85 + 0.1*0.5")
	_, err = m.Reflect(ctx, t0)
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx))

	restored, _ := newMind(t, store, map[string]float64{"warmth": 0.1, "humor": 0.3})
	before, _ := m.TraitStrength("warmth")
	after, _ := restored.TraitStrength("warmth")
	assert.Equal(t, before, after)
	humor, ok := restored.TraitStrength("humor")
	require.True(t, ok)
	assert.Equal(t, 0.3, humor)
	assert.Equal(t, m.Connections(), restored.Connections())
	assert.Len(t, restored.Patterns(), 1)
	assert.Equal(t, m.Insights(), restored.Insights())
	assert.Len(t, restored.Clusters(), 1)

	tier, ok := restored.State().Memories.TierOf("a")
	require.True(t, ok)
	assert.Equal(t, memory.LongTerm, tier)
}

func TestInitializeFromLooseRecords(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.SaveMemory(ctx, "p1", ev("a", 0.4, t0, map[string]float64{"warmth": 0.2}, "x")))
	require.NoError(t, store.SaveMemory(ctx, "p1", ev("b", 0.45, t0, map[string]float64{"warmth": 0.2}, "x")))
	require.NoError(t, store.SaveMemory(ctx, "p2", ev("other", 0.4, t0, nil)))
	m0, _ := newMind(t, nil, map[string]float64{"warmth": 0.7})
	require.NoError(t, store.SaveTraits(ctx, "p1", m0.State().Traits.Snapshot()))

	m, _ := newMind(t, store, map[string]float64{"warmth": 0.1})
	assert.Equal(t, 2, m.State().Memories.Len())
	assert.Len(t, m.Connections(), 1)
	assert.Len(t, m.Clusters(), 1)
	v, _ := m.TraitStrength("warmth")
	assert.Equal(t, 0.7, v, "stored baselines win over the seed")
}

func TestPruneRemovesEverywhere(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := &recorder{}
	m, c := newMind(t, store, nil, rec)

	require.NoError(t, m.Ingest(ctx, ev("old", 0, c.now().Add(-72*time.Hour), nil)))
	require.NoError(t, m.Ingest(ctx, ev("fresh", 1, c.now(), nil)))

	evicted, err := m.Prune(ctx, c.now())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, m.State().Memories.Len())
	assert.Contains(t, rec.kinds(), SignalMemoryForgotten)

	_, err = store.LoadMemory(ctx, "p1", "old")
	assert.True(t, fault.IsNotFound(err))
	_, err = m.Memory(ctx, "old")
	assert.True(t, fault.IsNotFound(err))

	again, err := m.Prune(ctx, c.now())
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestReflectRecordsEmotionalState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, c := newMind(t, store, nil)
	require.NoError(t, m.Ingest(ctx, ev("a", 0.6, c.now(), nil)))

	insights, err := m.Reflect(ctx, c.now())
	require.NoError(t, err)
	require.Len(t, insights, 1)
	assert.Equal(t, "Recent emotional state: 0.6000", insights[0].Content)

	es, err := store.LatestEmotionalState(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, es.Happiness, 1e-12)
}

func TestDriftPersistsBaselines(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, c := newMind(t, store, map[string]float64{"warmth": 0.5})
	require.NoError(t, m.SetTarget("warmth", 1))

	c.advance(10 * time.Hour)
	moved, err := m.Drift(ctx, c.now())
	require.NoError(t, err)
	assert.Equal(t, []string{"warmth"}, moved)

	want := 0.5 + 0.5*(1-math.Exp(-0.05*10))
	v, _ := m.TraitStrength("warmth")
	assert.InDelta(t, want, v, 1e-9)

	stored, err := store.LoadTraits(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, want, stored["warmth"].CurrentValue, 1e-9)

	r, err := m.ReflectLongTerm(ctx, c.now())
	require.NoError(t, err)
	assert.Contains(t, r.Content, "warmth:")
}

func TestAnalyzeRecordsStrongConnections(t *testing.T) {
	ctx := context.Background()
	m, c := newMind(t, nil, nil)
	require.NoError(t, m.Ingest(ctx, ev("a", 0.4, c.now(), map[string]float64{"warmth": 0.2}, "x", "y")))
	require.NoError(t, m.Ingest(ctx, ev("b", 0.5, c.now(), map[string]float64{"warmth": 0.1, "humor": 0.1}, "x", "y")))

	out, err := m.Analyze(ctx, c.now())
	require.NoError(t, err)
	require.Len(t, out.Traits, 2)
	assert.Equal(t, "humor", out.Traits[0].Trait)
	require.Len(t, out.Patterns, 1)

	out, err = m.Analyze(ctx, c.now())
	require.NoError(t, err)
	assert.Empty(t, out.Patterns)
	assert.Len(t, m.Patterns(), 1)
}

func TestInfluencePersistsMovedMemories(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m, c := newMind(t, store, nil)
	require.NoError(t, m.Ingest(ctx, ev("a", 0.2, c.now(), map[string]float64{"warmth": 0.1}, "x")))
	require.NoError(t, m.Ingest(ctx, ev("b", -0.1, c.now(), map[string]float64{"warmth": 0.1}, "x")))

	changed, err := m.Influence(ctx, c.now())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, changed)

	stored, err := store.LoadMemory(ctx, "p1", "a")
	require.NoError(t, err)
	assert.InDelta(t, 0.2-0.1*0.5*0.5, stored.EmotionalWeight, 1e-9)
}
