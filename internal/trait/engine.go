package trait

import (
	"math"
	"slices"
	"time"

	"github.com/nidhogg/nuka-mind/internal/fault"
)

const (
	// HistoryCapacity bounds Metrics.History; the oldest value is evicted first.
	HistoryCapacity = 100
	// trendSpan is the number of samples compared for the long-term trend.
	trendSpan = 10
	// DefaultAdjustmentRate is used by Seed when no rate is given.
	DefaultAdjustmentRate = 0.05
	// CorrelationThreshold is the smallest |temporal correlation| along
	// which Propagate spreads influence.
	CorrelationThreshold = 0.5
)

// Engine applies influences and observations to a trait State and
// derives trend, interaction and confidence analyses from it.
type Engine struct {
	initialized bool
}

// NewEngine returns an engine that must be initialized before use.
func NewEngine() *Engine {
	return &Engine{}
}

// Initialize marks the engine ready.
func (e *Engine) Initialize() { e.initialized = true }

// Initialized reports whether Initialize has been called.
func (e *Engine) Initialized() bool { return e.initialized }

func (e *Engine) check(op string) error {
	if !e.initialized {
		return fault.NotInitialized(op)
	}
	return nil
}

// Seed sets a trait's starting and target value. A non-positive rate
// falls back to DefaultAdjustmentRate.
func (e *Engine) Seed(st *State, name string, value, rate float64, now time.Time) error {
	if err := e.check("trait.seed"); err != nil {
		return err
	}
	if rate <= 0 {
		rate = DefaultAdjustmentRate
	}
	b := st.baseline(name)
	b.CurrentValue = value
	b.TargetValue = value
	b.AdjustmentRate = rate
	b.LastAdjustment = now
	st.metrics(name)
	e.refreshStability(st, name)
	return nil
}

// SetTarget moves the value a trait drifts toward.
func (e *Engine) SetTarget(st *State, name string, target float64) error {
	if err := e.check("trait.set_target"); err != nil {
		return err
	}
	st.baseline(name).TargetValue = target
	return nil
}

// UpdateBaseline adds influence to the trait's current value and
// recomputes its stability. Unknown traits start from zero.
func (e *Engine) UpdateBaseline(st *State, name string, influence float64, now time.Time) error {
	if err := e.check("trait.update_baseline"); err != nil {
		return err
	}
	b := st.baseline(name)
	b.CurrentValue += influence
	b.LastAdjustment = now
	e.refreshStability(st, name)
	return nil
}

func (e *Engine) refreshStability(st *State, name string) {
	m := st.metrics(name)
	m.Volatility = stdDev(m.History)
	st.baseline(name).Stability = clamp(math.Exp(-m.Volatility)*m.Confidence, 0, 1)
}

// RecordObservation appends value to the trait history and refreshes
// the short-term change, long-term trend, volatility and confidence.
func (e *Engine) RecordObservation(st *State, name string, value float64, now time.Time) error {
	if err := e.check("trait.record_observation"); err != nil {
		return err
	}
	m := st.metrics(name)
	m.History = append(m.History, value)
	if over := len(m.History) - HistoryCapacity; over > 0 {
		m.History = slices.Delete(m.History, 0, over)
	}

	n := len(m.History)
	if n >= 2 {
		m.ShortTermChange = value - m.History[n-2]
	}
	if n >= trendSpan {
		m.LongTermTrend = mean(m.History[n-trendSpan:]) - mean(m.History[:trendSpan])
	}
	m.Volatility = stdDev(m.History)
	m.Confidence = st.Confidence(name)
	m.LastUpdate = now

	st.baseline(name).Stability = clamp(math.Exp(-m.Volatility)*m.Confidence, 0, 1)
	return nil
}

// AttachEvidence files memoryID as supporting (positive influence) or
// conflicting (negative influence) evidence for the trait.
func (e *Engine) AttachEvidence(st *State, name, memoryID string, influence float64) error {
	if err := e.check("trait.attach_evidence"); err != nil {
		return err
	}
	b := st.baseline(name)
	switch {
	case influence > 0 && !slices.Contains(b.SupportingMemories, memoryID):
		b.SupportingMemories = append(b.SupportingMemories, memoryID)
	case influence < 0 && !slices.Contains(b.ConflictingMemories, memoryID):
		b.ConflictingMemories = append(b.ConflictingMemories, memoryID)
	}
	return nil
}

// Propagate spreads an influence on name to the traits it was last seen
// interacting with, scaled by their temporal correlation. The spread is
// one hop and skips the traits listed in skip. It returns the traits
// that moved.
func (e *Engine) Propagate(st *State, name string, influence float64, skip []string, now time.Time) ([]string, error) {
	if err := e.check("trait.propagate"); err != nil {
		return nil, err
	}
	var moved []string
	for _, in := range st.Interactions[name] {
		corr := in.TemporalCorrelation
		if in.TargetTrait == name || math.Abs(corr) < CorrelationThreshold || slices.Contains(skip, in.TargetTrait) {
			continue
		}
		if err := e.UpdateBaseline(st, in.TargetTrait, influence*corr, now); err != nil {
			return moved, err
		}
		moved = append(moved, in.TargetTrait)
	}
	return moved, nil
}

// ApplyDrift pulls every trait toward its target. The closed fraction
// of the gap is 1 - exp(-rate * hours since the last adjustment).
// It returns the traits that moved.
func (e *Engine) ApplyDrift(st *State, now time.Time) ([]string, error) {
	if err := e.check("trait.apply_drift"); err != nil {
		return nil, err
	}
	var moved []string
	for _, name := range st.Names() {
		b, ok := st.Baselines[name]
		if !ok || b.AdjustmentRate <= 0 || b.LastAdjustment.IsZero() {
			continue
		}
		hours := now.Sub(b.LastAdjustment).Hours()
		if hours <= 0 || b.CurrentValue == b.TargetValue {
			continue
		}
		frac := 1 - math.Exp(-b.AdjustmentRate*hours)
		b.CurrentValue += (b.TargetValue - b.CurrentValue) * frac
		b.LastAdjustment = now
		moved = append(moved, name)
	}
	return moved, nil
}
