package trait

import (
	"maps"
	"math"
	"slices"
	"time"

	"github.com/nidhogg/nuka-mind/internal/memory"
)

// AnalyzeInteractions rebuilds the interactions of a trait with every
// other trait that co-occurs in the memories influencing it.
func (e *Engine) AnalyzeInteractions(st *State, name string, memories []*memory.Event, now time.Time) ([]Interaction, error) {
	if err := e.check("trait.analyze_interactions"); err != nil {
		return nil, err
	}

	var related []*memory.Event
	for _, m := range memories {
		if m.Influences(name) {
			related = append(related, m)
		}
	}

	others := make(map[string]struct{})
	var positiveSum float64
	var positiveCount int
	for _, m := range related {
		for t := range m.TraitInfluences {
			if t != name {
				others[t] = struct{}{}
			}
		}
		if m.EmotionalWeight > 0 {
			positiveSum += m.EmotionalWeight
			positiveCount++
		}
	}
	emotional := 0.0
	if positiveCount > 0 {
		emotional = positiveSum / float64(positiveCount)
	}

	source := st.metrics(name).History
	out := make([]Interaction, 0, len(others))
	for _, other := range slices.Sorted(maps.Keys(others)) {
		in := Interaction{
			SourceTrait:          name,
			TargetTrait:          other,
			EmotionalCorrelation: emotional,
			LastInteraction:      now,
		}
		var total float64
		var count int
		triggers := make(map[string]struct{})
		for _, m := range related {
			v, ok := m.TraitInfluences[other]
			if !ok {
				continue
			}
			total += v
			count++
			in.SharedMemories = append(in.SharedMemories, m.ID)
			for _, tag := range m.Tags {
				triggers[tag] = struct{}{}
			}
			if m.Trigger != "" {
				triggers[m.Trigger] = struct{}{}
			}
		}
		if count > 0 {
			in.InfluenceStrength = total / float64(count)
		}
		if target, ok := st.Metrics[other]; ok {
			in.TemporalCorrelation = pearson(source, target.History)
		}
		in.SharedTriggers = slices.Sorted(maps.Keys(triggers))
		out = append(out, in)
	}

	st.Interactions[name] = out
	return slices.Clone(out), nil
}

// EnhancedConfidence blends base confidence with trend consistency and
// the correlations reported by interactions targeting this trait.
func (e *Engine) EnhancedConfidence(st *State, name string) (EnhancedConfidence, error) {
	if err := e.check("trait.enhanced_confidence"); err != nil {
		return EnhancedConfidence{}, err
	}
	var ec EnhancedConfidence
	ec.BaseConfidence = st.Confidence(name)

	if ta, ok := st.Trends[name]; ok {
		ec.PatternConsistency = 1 - (0.5*ta.Volatility + 0.5*math.Abs(ta.ShortTermSlope-ta.LongTermSlope))
	}
	if m, ok := st.Metrics[name]; ok {
		ec.TemporalStability = 1 - m.Volatility
	}

	var corrSum, emoSum float64
	var n int
	for _, src := range slices.Sorted(maps.Keys(st.Interactions)) {
		for _, in := range st.Interactions[src] {
			if in.TargetTrait != name {
				continue
			}
			corrSum += in.TemporalCorrelation
			emoSum += in.EmotionalCorrelation
			n++
		}
	}
	if n > 0 {
		ec.CrossValidation = corrSum / float64(n)
		ec.EmotionalAlignment = emoSum / float64(n)
	}
	ec.TraitCorrelation = 0.5*ec.CrossValidation + 0.5*ec.EmotionalAlignment

	ec.Overall = 0.2*ec.BaseConfidence +
		0.2*ec.PatternConsistency +
		0.2*ec.CrossValidation +
		0.2*ec.TemporalStability +
		0.1*ec.EmotionalAlignment +
		0.1*ec.TraitCorrelation
	return ec, nil
}
