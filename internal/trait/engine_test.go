package trait

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func newEngine(t *testing.T) (*Engine, *State) {
	t.Helper()
	e := NewEngine()
	e.Initialize()
	return e, NewState()
}

func TestUninitializedEngineRejectsWithoutMutation(t *testing.T) {
	e := NewEngine()
	st := NewState()

	err := e.UpdateBaseline(st, "warmth", 0.3, t0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fault.ErrPrecondition))

	err = e.RecordObservation(st, "warmth", 0.3, t0)
	assert.True(t, fault.IsPrecondition(err))

	_, err = e.AnalyzeTrends(st, "warmth", t0)
	assert.True(t, fault.IsPrecondition(err))

	assert.Empty(t, st.Baselines)
	assert.Empty(t, st.Metrics)
	assert.Empty(t, st.Trends)
}

func TestUnknownTraitIsCreatedLazily(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.UpdateBaseline(st, "mischief", 0.25, t0))

	b := st.Baselines["mischief"]
	require.NotNil(t, b)
	assert.Equal(t, 0.25, b.CurrentValue)
	assert.Equal(t, t0, b.LastAdjustment)
	assert.Equal(t, []string{"mischief"}, st.Names())
}

func TestConfidenceScenario(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.Seed(st, "confidence", 0.5, 0, t0))

	for i, influence := range []float64{0.1, 0.1, -0.05} {
		now := t0.Add(time.Duration(i+1) * time.Hour)
		require.NoError(t, e.UpdateBaseline(st, "confidence", influence, now))
		require.NoError(t, e.RecordObservation(st, "confidence", influence, now))
	}

	m := st.Metrics["confidence"]
	require.Len(t, m.History, 3)
	assert.InDelta(t, -0.05-0.1, m.ShortTermChange, 1e-9)

	vol := math.Sqrt(0.005)
	assert.InDelta(t, vol, m.Volatility, 1e-9)

	want := 0.4*(1-vol) + 0.3*0 + 0.3*math.Exp(0)
	assert.InDelta(t, want, m.Confidence, 1e-9)
	assert.InDelta(t, math.Exp(-vol)*want, st.Stability("confidence"), 1e-9)
	assert.InDelta(t, 0.65, st.Value("confidence"), 1e-9)
	assert.Equal(t, t0.Add(3*time.Hour), m.LastUpdate)
}

func TestHistoryIsBoundedFIFO(t *testing.T) {
	e, st := newEngine(t)
	for i := range 250 {
		require.NoError(t, e.RecordObservation(st, "focus", float64(i), t0))
	}
	m := st.Metrics["focus"]
	require.Len(t, m.History, HistoryCapacity)
	assert.Equal(t, 150.0, m.History[0])
	assert.Equal(t, 249.0, m.History[HistoryCapacity-1])
}

func TestLongTermTrendNeedsTenSamples(t *testing.T) {
	e, st := newEngine(t)
	for i := range 9 {
		require.NoError(t, e.RecordObservation(st, "focus", float64(i), t0))
	}
	assert.Zero(t, st.Metrics["focus"].LongTermTrend)

	for i := 9; i < 20; i++ {
		require.NoError(t, e.RecordObservation(st, "focus", float64(i), t0))
	}
	// last ten 10..19 against first ten 0..9
	assert.InDelta(t, 10.0, st.Metrics["focus"].LongTermTrend, 1e-9)
	// volatility above one drives the blend negative; it is clamped
	assert.Equal(t, 0.0, st.Metrics["focus"].Confidence)
}

func TestConfidenceAndStabilityStayInUnitInterval(t *testing.T) {
	e, st := newEngine(t)
	r := rand.New(rand.NewPCG(7, 11))
	for i := range 500 {
		v := (r.Float64()*2 - 1) * 3
		require.NoError(t, e.UpdateBaseline(st, "mood", v/10, t0))
		require.NoError(t, e.RecordObservation(st, "mood", v, t0))
		if i%7 == 0 {
			require.NoError(t, e.AttachEvidence(st, "mood", string(rune('a'+i%26)), v))
		}
		c, s := st.Confidence("mood"), st.Stability("mood")
		require.GreaterOrEqual(t, c, 0.0)
		require.LessOrEqual(t, c, 1.0)
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 1.0)
		require.LessOrEqual(t, len(st.Metrics["mood"].History), HistoryCapacity)
	}
}

func TestAttachEvidence(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.AttachEvidence(st, "warmth", "m1", 0.3))
	require.NoError(t, e.AttachEvidence(st, "warmth", "m1", 0.3))
	require.NoError(t, e.AttachEvidence(st, "warmth", "m2", 0.1))
	require.NoError(t, e.AttachEvidence(st, "warmth", "m3", -0.4))
	require.NoError(t, e.AttachEvidence(st, "warmth", "m4", 0))

	b := st.Baselines["warmth"]
	assert.Equal(t, []string{"m1", "m2"}, b.SupportingMemories)
	assert.Equal(t, []string{"m3"}, b.ConflictingMemories)

	// no metrics yet: consistency 1, support 2/4, steadiness 1
	assert.InDelta(t, 0.4+0.3*0.5+0.3, st.Confidence("warmth"), 1e-9)

	st.ForgetMemory("m1")
	assert.Equal(t, []string{"m2"}, b.SupportingMemories)
}

func TestApplyDriftMovesTowardTarget(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.Seed(st, "warmth", 0.5, 0.1, t0))
	require.NoError(t, e.Seed(st, "humor", 0.2, 0.1, t0))
	require.NoError(t, e.SetTarget(st, "warmth", 1.0))

	moved, err := e.ApplyDrift(st, t0.Add(10*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"warmth"}, moved)
	assert.InDelta(t, 0.5+0.5*(1-math.Exp(-1)), st.Value("warmth"), 1e-9)
	assert.Equal(t, 0.2, st.Value("humor"))

	drifts := st.Drifts()
	require.Len(t, drifts, 2)
	assert.Equal(t, "humor", drifts[0].Trait)
	assert.Equal(t, 1.0, drifts[1].Target)
}

func TestSnapshotRoundTripIsIndependent(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.Seed(st, "warmth", 0.4, 0, t0))
	require.NoError(t, e.AttachEvidence(st, "warmth", "m1", 1))
	require.NoError(t, e.RecordObservation(st, "warmth", 0.4, t0))

	baselines, metrics := st.Snapshot(), st.SnapshotMetrics()
	restored := NewState()
	restored.RestoreBaselines(baselines)
	restored.RestoreMetrics(metrics)

	st.Baselines["warmth"].SupportingMemories[0] = "changed"
	st.Metrics["warmth"].History[0] = 9

	assert.Equal(t, []string{"m1"}, restored.Baselines["warmth"].SupportingMemories)
	assert.Equal(t, []float64{0.4}, restored.Metrics["warmth"].History)
}

func TestPropagateFollowsCorrelatedInteractions(t *testing.T) {
	e, st := newEngine(t)
	require.NoError(t, e.Seed(st, "humor", 0.5, 0, t0))
	st.Interactions["warmth"] = []Interaction{
		{SourceTrait: "warmth", TargetTrait: "humor", TemporalCorrelation: 0.8},
		{SourceTrait: "warmth", TargetTrait: "openness", TemporalCorrelation: -0.6},
		{SourceTrait: "warmth", TargetTrait: "focus", TemporalCorrelation: 0.3},
		{SourceTrait: "warmth", TargetTrait: "curiosity", TemporalCorrelation: 0.9},
	}

	moved, err := e.Propagate(st, "warmth", 0.2, []string{"curiosity"}, t0)
	require.NoError(t, err)
	assert.Equal(t, []string{"humor", "openness"}, moved)
	assert.InDelta(t, 0.5+0.16, st.Value("humor"), 1e-12)
	assert.InDelta(t, -0.12, st.Value("openness"), 1e-12)
	assert.Equal(t, 0.0, st.Value("focus"), "weak correlations carry nothing")
	assert.Equal(t, 0.0, st.Value("curiosity"), "skipped traits are left alone")
	assert.Empty(t, st.Metrics["humor"].History, "propagation is not an observation")

	moved, err = e.Propagate(st, "humor", 0.2, nil, t0)
	require.NoError(t, err)
	assert.Empty(t, moved)
}
