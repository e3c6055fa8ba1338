package resonance

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

const (
	// DefaultDuration is how long a fresh resonance is expected to last.
	DefaultDuration = time.Hour
	// DecayRate scales the per-tick exponential decay.
	DecayRate = 0.1
	// ExtinctionIntensity is the level below which a resonance ends.
	ExtinctionIntensity = 0.1
	// CrystallizeIntensity is the peak a resonance must exceed to leave a pattern.
	CrystallizeIntensity = 0.5
	// RelatedWeight is the emotional weight a memory needs to join a resonance.
	RelatedWeight = 0.5
	// RecentWindow bounds the memories and patterns self-reflection looks at.
	RecentWindow = 24 * time.Hour
	// TrendIntensity is the summed intensity that makes an emotional trend.
	TrendIntensity = 0.7
	// StrongConnection is the strength a connection needs to become a pattern.
	StrongConnection = 0.7
)

// Engine runs the resonance lifecycle and self-reflection.
type Engine struct {
	initialized bool
}

// NewEngine returns an engine that must be initialized before use.
func NewEngine() *Engine { return &Engine{} }

// Initialize marks the engine ready.
func (e *Engine) Initialize() { e.initialized = true }

func (e *Engine) check(op string) error {
	if !e.initialized {
		return fault.NotInitialized(op)
	}
	return nil
}

// Trigger starts a resonance for label. Recent memories with emotional
// weight above RelatedWeight whose tags occur in the label, or whose
// content mentions it, are attached. Patterns of the same type are
// re-triggered.
func (e *Engine) Trigger(st *State, label string, intensity float64, recent []*memory.Event, now time.Time) (*Resonance, error) {
	if err := e.check("resonance.trigger"); err != nil {
		return nil, err
	}
	intensity = memory.Clamp(intensity, 0, 1)
	r := &Resonance{
		ID:            uuid.New().String(),
		Trigger:       label,
		Intensity:     intensity,
		PeakIntensity: intensity,
		Duration:      DefaultDuration,
		StartTime:     now,
		PeakTime:      now.Add(DefaultDuration),
	}
	for _, m := range recent {
		if m.EmotionalWeight > RelatedWeight && relates(label, m) {
			r.AssociatedMemories = append(r.AssociatedMemories, m.Content)
		}
	}
	st.Active = append(st.Active, r)

	for _, p := range st.PatternsOfType(label) {
		p.LastTriggered = now
		p.CurrentIntensity = math.Max(p.CurrentIntensity, intensity)
		p.Triggers = append(p.Triggers, label)
		if n := len(p.Triggers); n > maxTriggersPerPattern {
			p.Triggers = p.Triggers[n-maxTriggersPerPattern:]
		}
	}
	return r, nil
}

func relates(label string, m *memory.Event) bool {
	l := strings.ToLower(strings.TrimSpace(label))
	if l == "" {
		return false
	}
	for _, tag := range m.Tags {
		if tag != "" && strings.Contains(l, strings.ToLower(tag)) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(m.Content), l)
}

// Tick decays every active resonance by exp(-DecayRate * hours since
// start). A resonance falling below ExtinctionIntensity leaves exactly
// one pattern when its peak exceeded CrystallizeIntensity and is then
// removed. The new patterns are returned.
func (e *Engine) Tick(st *State, now time.Time, shortTerm []*memory.Event) ([]Pattern, error) {
	if err := e.check("resonance.tick"); err != nil {
		return nil, err
	}
	var created []Pattern
	kept := st.Active[:0]
	for _, r := range st.Active {
		hours := math.Max(0, now.Sub(r.StartTime).Hours())
		r.Intensity *= math.Exp(-DecayRate * hours)
		r.PeakIntensity = math.Max(r.PeakIntensity, r.Intensity)
		if r.Intensity >= ExtinctionIntensity {
			kept = append(kept, r)
			continue
		}
		if r.PeakIntensity > CrystallizeIntensity {
			p := crystallize(r, shortTerm, now)
			st.Patterns = append(st.Patterns, p)
			created = append(created, *p)
		}
	}
	clear(st.Active[len(kept):])
	st.Active = kept
	return created, nil
}

func crystallize(r *Resonance, shortTerm []*memory.Event, now time.Time) *Pattern {
	p := &Pattern{
		ID:               uuid.New().String(),
		PatternType:      r.Trigger,
		BaseIntensity:    r.PeakIntensity,
		CurrentIntensity: r.Intensity,
		LastTriggered:    now,
		Triggers:         []string{r.Trigger},
	}
	for _, m := range shortTerm {
		if slices.Contains(r.AssociatedMemories, m.Content) {
			p.Memories = append(p.Memories, PatternMemory{ID: m.ID, Content: m.Content})
		}
	}
	return p
}

// RecordStrongConnection turns a connection stronger than
// StrongConnection into a pattern, once per memory pair.
func (e *Engine) RecordStrongConnection(st *State, a, b *memory.Event, strength float64, now time.Time) (*Pattern, bool, error) {
	if err := e.check("resonance.strong_connection"); err != nil {
		return nil, false, err
	}
	if strength <= StrongConnection {
		return nil, false, nil
	}
	key := pairKey(a.ID, b.ID)
	if st.hasStrongPair(key) {
		return nil, false, nil
	}
	if b.ID < a.ID {
		a, b = b, a
	}
	p := &Pattern{
		ID:               uuid.New().String(),
		PatternType:      StrongConnectionType,
		BaseIntensity:    strength,
		CurrentIntensity: strength,
		LastTriggered:    now,
		Memories: []PatternMemory{
			{ID: a.ID, Content: a.Content},
			{ID: b.ID, Content: b.Content},
		},
	}
	st.Patterns = append(st.Patterns, p)
	st.strongPairs[key] = struct{}{}
	return p, true, nil
}

// ReflectRecent summarizes the last RecentWindow. The average emotional
// weight of recent memories becomes a self reflection; recently
// triggered patterns contribute emotional trend and trigger insights.
// An insight with the same type and content as an existing one replaces
// it, so re-running without new events changes nothing but timestamps.
func (e *Engine) ReflectRecent(st *State, memories []*memory.Event, now time.Time) ([]Reflection, error) {
	if err := e.check("resonance.reflect"); err != nil {
		return nil, err
	}
	var out []Reflection

	var sum float64
	var n int
	for _, m := range memories {
		if now.Sub(m.CreatedAt) <= RecentWindow {
			sum += m.EmotionalWeight
			n++
		}
	}
	if n > 0 {
		out = append(out, Reflection{
			Type:       SelfReflection,
			Content:    fmt.Sprintf("Recent emotional state: %.4f", sum/float64(n)),
			Confidence: 0.8,
			Timestamp:  now,
		})
	}

	trends := make(map[string]float64)
	triggers := make(map[string]int)
	for _, p := range st.Patterns {
		if now.Sub(p.LastTriggered) >= RecentWindow {
			continue
		}
		trends[p.PatternType] += p.CurrentIntensity
		triggers[p.PatternType] += len(p.Triggers)
	}
	for _, kind := range slices.Sorted(maps.Keys(trends)) {
		if total := trends[kind]; total > TrendIntensity {
			out = append(out, Reflection{
				Type:            EmotionalTrend,
				Content:         fmt.Sprintf("Strong %s emotions recently", kind),
				Confidence:      math.Min(total, 1),
				Timestamp:       now,
				RelatedPatterns: []string{kind},
			})
		}
		if count := triggers[kind]; count > 2 {
			out = append(out, Reflection{
				Type:            TriggerPattern,
				Content:         fmt.Sprintf("%s is often triggered by similar situations", kind),
				Confidence:      math.Min(float64(count)/10, 1),
				Timestamp:       now,
				RelatedPatterns: []string{kind},
			})
		}
	}

	st.replaceInsights(out)
	return out, nil
}

// ReflectLongTerm records how far each trait sits from its target.
func (e *Engine) ReflectLongTerm(st *State, drifts []trait.Drift, now time.Time) (*Reflection, error) {
	if err := e.check("resonance.reflect_long_term"); err != nil {
		return nil, err
	}
	if len(drifts) == 0 {
		return nil, nil
	}
	sorted := slices.SortedFunc(slices.Values(drifts), func(a, b trait.Drift) int {
		return cmp.Compare(a.Trait, b.Trait)
	})
	var b strings.Builder
	b.WriteString("Trait Evolution Analysis:\n")
	related := make([]string, 0, len(sorted))
	for _, d := range sorted {
		fmt.Fprintf(&b, "%s: %.4f (Target: %.4f)\n", d.Trait, d.Current, d.Target)
		related = append(related, d.Trait)
	}
	r := Reflection{
		Type:            LongTermReflection,
		Content:         b.String(),
		Confidence:      0.9,
		Timestamp:       now,
		RelatedPatterns: related,
	}
	st.replaceInsights([]Reflection{r})
	return &r, nil
}

func (s *State) replaceInsights(in []Reflection) {
	for _, r := range in {
		s.Insights = slices.DeleteFunc(s.Insights, func(old Reflection) bool {
			return old.Type == r.Type && old.Content == r.Content
		})
	}
	s.addInsights(in...)
}
