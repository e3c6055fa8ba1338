package resonance

import "time"

// Reflection types.
const (
	SelfReflection        = "self_reflection"
	LongTermReflection    = "long_term_reflection"
	EmotionalTrend        = "emotional_trend"
	TriggerPattern        = "trigger_pattern"
	StrongConnectionType  = "strong_connection"
	DefaultMaxInsights    = 200
	maxTriggersPerPattern = 50
)

// Resonance is a transient emotional excitation.
type Resonance struct {
	ID                 string        `json:"id"`
	Trigger            string        `json:"trigger"`
	Intensity          float64       `json:"intensity"`
	PeakIntensity      float64       `json:"peak_intensity"`
	Duration           time.Duration `json:"duration"`
	StartTime          time.Time     `json:"start_time"`
	PeakTime           time.Time     `json:"peak_time"`
	AssociatedMemories []string      `json:"associated_memories,omitempty"`
}

// PatternMemory is a memory carried into a pattern.
type PatternMemory struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Pattern is a durable regularity crystallized from a strong resonance.
type Pattern struct {
	ID               string          `json:"id"`
	PatternType      string          `json:"pattern_type"`
	BaseIntensity    float64         `json:"base_intensity"`
	CurrentIntensity float64         `json:"current_intensity"`
	LastTriggered    time.Time       `json:"last_triggered"`
	Memories         []PatternMemory `json:"memories,omitempty"`
	Triggers         []string        `json:"triggers,omitempty"`
}

// Reflection is a scored self-insight.
type Reflection struct {
	Type            string    `json:"type"`
	Content         string    `json:"content"`
	Confidence      float64   `json:"confidence"`
	Timestamp       time.Time `json:"timestamp"`
	RelatedPatterns []string  `json:"related_patterns,omitempty"`
}
