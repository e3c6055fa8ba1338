package trait

import "time"

// Baseline is a trait's resting value and the target it drifts toward.
type Baseline struct {
	CurrentValue        float64   `json:"current_value"`
	TargetValue         float64   `json:"target_value"`
	AdjustmentRate      float64   `json:"adjustment_rate"` // fraction of the gap closed per hour, roughly
	Stability           float64   `json:"stability"`
	LastAdjustment      time.Time `json:"last_adjustment"`
	SupportingMemories  []string  `json:"supporting_memories,omitempty"`
	ConflictingMemories []string  `json:"conflicting_memories,omitempty"`
}

// Metrics holds the rolling statistics of a trait.
type Metrics struct {
	ShortTermChange float64   `json:"short_term_change"`
	LongTermTrend   float64   `json:"long_term_trend"`
	Volatility      float64   `json:"volatility"`
	Confidence      float64   `json:"confidence"`
	History         []float64 `json:"history"`
	LastUpdate      time.Time `json:"last_update"`
}

// TrendAnalysis is derived from Metrics.History on demand.
type TrendAnalysis struct {
	ShortTermSlope     float64   `json:"short_term_slope"`
	LongTermSlope      float64   `json:"long_term_slope"`
	Acceleration       float64   `json:"acceleration"`
	Volatility         float64   `json:"volatility"`
	Seasonality        float64   `json:"seasonality"`
	Cyclicality        float64   `json:"cyclicality"`
	MovingAverages     []float64 `json:"moving_averages,omitempty"`
	SeasonalComponents []float64 `json:"seasonal_components,omitempty"`
	LastAnalysis       time.Time `json:"last_analysis"`
}

// Interaction describes how a related trait behaves alongside a source trait.
type Interaction struct {
	SourceTrait          string    `json:"source_trait"`
	TargetTrait          string    `json:"target_trait"`
	InfluenceStrength    float64   `json:"influence_strength"`
	TemporalCorrelation  float64   `json:"temporal_correlation"`
	EmotionalCorrelation float64   `json:"emotional_correlation"`
	SharedMemories       []string  `json:"shared_memories,omitempty"`
	SharedTriggers       []string  `json:"shared_triggers,omitempty"`
	LastInteraction      time.Time `json:"last_interaction"`
}

// EnhancedConfidence breaks a trait's confidence into its components.
type EnhancedConfidence struct {
	BaseConfidence     float64 `json:"base_confidence"`
	PatternConsistency float64 `json:"pattern_consistency"`
	CrossValidation    float64 `json:"cross_validation"`
	TemporalStability  float64 `json:"temporal_stability"`
	EmotionalAlignment float64 `json:"emotional_alignment"`
	TraitCorrelation   float64 `json:"trait_correlation"`
	Overall            float64 `json:"overall"`
}

// Drift pairs a trait's current value with its target.
type Drift struct {
	Trait   string  `json:"trait"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
}
