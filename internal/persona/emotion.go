package persona

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/resonance"
)

// Emotions are the eight basic emotions tracked in an EmotionalState.
var Emotions = []string{"happiness", "sadness", "anger", "fear", "surprise", "disgust", "trust", "anticipation"}

// EmotionalState is a point-in-time reading of the persona's emotions.
// Each value lies in [0, 1].
type EmotionalState struct {
	ID           string    `json:"id"`
	Happiness    float64   `json:"happiness"`
	Sadness      float64   `json:"sadness"`
	Anger        float64   `json:"anger"`
	Fear         float64   `json:"fear"`
	Surprise     float64   `json:"surprise"`
	Disgust      float64   `json:"disgust"`
	Trust        float64   `json:"trust"`
	Anticipation float64   `json:"anticipation"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *EmotionalState) field(name string) *float64 {
	switch strings.ToLower(name) {
	case "happiness", "joy":
		return &s.Happiness
	case "sadness":
		return &s.Sadness
	case "anger":
		return &s.Anger
	case "fear":
		return &s.Fear
	case "surprise":
		return &s.Surprise
	case "disgust":
		return &s.Disgust
	case "trust":
		return &s.Trust
	case "anticipation":
		return &s.Anticipation
	}
	return nil
}

// Get returns the named emotion.
func (s EmotionalState) Get(name string) (float64, bool) {
	f := s.field(name)
	if f == nil {
		return 0, false
	}
	return *f, true
}

// Raise lifts the named emotion to at least v.
func (s *EmotionalState) Raise(name string, v float64) bool {
	f := s.field(name)
	if f == nil {
		return false
	}
	*f = math.Max(*f, memory.Clamp(v, 0, 1))
	return true
}

// Dominant returns the strongest emotion; ties go to the earlier name.
func (s EmotionalState) Dominant() (string, float64) {
	best, value := "", -1.0
	for _, name := range Emotions {
		if v, _ := s.Get(name); v > value {
			best, value = name, v
		}
	}
	return best, value
}

// DeriveEmotionalState reads the persona's current emotions from the
// valence of recent memories, the active resonances and the recently
// triggered patterns whose labels name an emotion.
func DeriveEmotionalState(st *State, now time.Time) EmotionalState {
	es := EmotionalState{ID: uuid.New().String(), Timestamp: now}

	var pos, neg float64
	recent := st.Memories.Recent(now, resonance.RecentWindow)
	for _, m := range recent {
		if m.EmotionalWeight > 0 {
			pos += m.EmotionalWeight
		} else {
			neg -= m.EmotionalWeight
		}
	}
	if n := float64(len(recent)); n > 0 {
		es.Raise("happiness", pos/n)
		es.Raise("sadness", neg/n)
	}

	for _, r := range st.Resonance.Active {
		es.Raise(r.Trigger, r.Intensity)
	}
	for _, p := range st.Resonance.Patterns {
		if now.Sub(p.LastTriggered) < resonance.RecentWindow {
			es.Raise(p.PatternType, p.CurrentIntensity)
		}
	}
	return es
}
