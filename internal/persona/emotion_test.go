package persona

import (
	"testing"
	"time"

	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/stretchr/testify/assert"
)

func TestDeriveEmotionalState(t *testing.T) {
	st := NewState("p1", "Nuka")
	st.Memories.Add(ev("a", 0.6, t0.Add(-time.Hour), nil))
	st.Memories.Add(ev("b", -0.2, t0.Add(-2*time.Hour), nil))
	st.Memories.Add(ev("old", -1, t0.Add(-72*time.Hour), nil))
	st.Resonance.Active = []*resonance.Resonance{
		{Trigger: "Fear", Intensity: 0.7},
		{Trigger: "beach", Intensity: 0.9},
	}
	st.Resonance.Patterns = []*resonance.Pattern{
		{PatternType: "trust", CurrentIntensity: 0.4, LastTriggered: t0.Add(-time.Hour)},
		{PatternType: "anger", CurrentIntensity: 0.9, LastTriggered: t0.Add(-48 * time.Hour)},
	}

	es := DeriveEmotionalState(st, t0)
	assert.InDelta(t, 0.3, es.Happiness, 1e-12)
	assert.InDelta(t, 0.1, es.Sadness, 1e-12)
	assert.Equal(t, 0.7, es.Fear)
	assert.Equal(t, 0.4, es.Trust)
	assert.Zero(t, es.Anger)
	assert.Equal(t, t0, es.Timestamp)
	assert.NotEmpty(t, es.ID)

	name, v := es.Dominant()
	assert.Equal(t, "fear", name)
	assert.Equal(t, 0.7, v)
}

func TestEmotionalStateAccessors(t *testing.T) {
	var es EmotionalState
	assert.True(t, es.Raise("joy", 2))
	assert.False(t, es.Raise("boredom", 1))
	v, ok := es.Get("happiness")
	assert.True(t, ok)
	assert.Equal(t, 1.0, v)

	es.Raise("happiness", 0.2)
	assert.Equal(t, 1.0, es.Happiness, "raise never lowers")
}
