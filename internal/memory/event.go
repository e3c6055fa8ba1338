package memory

import (
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is a single remembered interaction of the persona.
type Event struct {
	ID              string             `json:"id"`
	Content         string             `json:"content"`
	Context         string             `json:"context,omitempty"`
	Importance      float64            `json:"importance"`
	EmotionalWeight float64            `json:"emotional_weight"`
	TraitInfluences map[string]float64 `json:"trait_influences,omitempty"`
	Tags            []string           `json:"tags,omitempty"`
	Trigger         string             `json:"trigger,omitempty"` // emotional trigger label, may be empty
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewEvent creates an event stamped at now with a fresh id.
func NewEvent(content string, now time.Time) *Event {
	return &Event{
		ID:              uuid.New().String(),
		Content:         content,
		TraitInfluences: make(map[string]float64),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Normalize clamps the bounded fields and turns Tags into a sorted set.
func (e *Event) Normalize() {
	e.Importance = Clamp(e.Importance, 0, 1)
	e.EmotionalWeight = Clamp(e.EmotionalWeight, -1, 1)
	if e.TraitInfluences == nil {
		e.TraitInfluences = make(map[string]float64)
	}
	if len(e.Tags) > 0 {
		tags := make([]string, 0, len(e.Tags))
		for _, t := range e.Tags {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
		slices.Sort(tags)
		e.Tags = slices.Compact(tags)
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
}

// ImportanceInfluenceFactor scales the summed trait influence magnitude
// in RefreshImportance.
const ImportanceInfluenceFactor = 0.5

// RefreshImportance raises Importance to the emotional weight plus half
// the summed magnitude of the trait influences, capped at 1. A higher
// importance already on the event is kept.
func (e *Event) RefreshImportance() {
	derived := e.EmotionalWeight
	for _, v := range e.TraitInfluences {
		derived += math.Abs(v) * ImportanceInfluenceFactor
	}
	e.Importance = Clamp(math.Max(e.Importance, derived), 0, 1)
}

// HasTag reports whether tag is in the event's tag set.
func (e *Event) HasTag(tag string) bool {
	return slices.Contains(e.Tags, tag)
}

// Influences reports whether the event carries an influence on trait.
func (e *Event) Influences(trait string) bool {
	_, ok := e.TraitInfluences[trait]
	return ok
}

// Traits returns the influenced trait names in sorted order.
func (e *Event) Traits() []string {
	return slices.Sorted(maps.Keys(e.TraitInfluences))
}

// HoursSince returns the fractional hours elapsed between creation and now.
func (e *Event) HoursSince(now time.Time) float64 {
	return now.Sub(e.CreatedAt).Hours()
}

// Clone returns a deep copy.
func (e *Event) Clone() *Event {
	c := *e
	c.TraitInfluences = maps.Clone(e.TraitInfluences)
	c.Tags = slices.Clone(e.Tags)
	return &c
}

// Clamp bounds v to [lo, hi]. NaN collapses to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
