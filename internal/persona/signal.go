package persona

import (
	"context"
	"time"

	"github.com/nidhogg/nuka-mind/internal/association"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/resonance"
)

// SignalKind names something that happened inside the mind.
type SignalKind string

const (
	SignalMemoryStored    SignalKind = "memory_stored"
	SignalMemoryUpdated   SignalKind = "memory_updated"
	SignalMemoryForgotten SignalKind = "memory_forgotten"
	SignalResonance       SignalKind = "resonance"
	SignalPattern         SignalKind = "pattern"
	SignalInsight         SignalKind = "insight"
)

// Signal is published to every Sink after the state has changed.
// Only the fields relevant to Kind are set.
type Signal struct {
	Kind        SignalKind               `json:"kind"`
	PersonaID   string                   `json:"persona_id"`
	At          time.Time                `json:"at"`
	Memory      *memory.Event            `json:"memory,omitempty"`
	MemoryID    string                   `json:"memory_id,omitempty"`
	Connections []association.Connection `json:"connections,omitempty"`
	Resonance   *resonance.Resonance     `json:"resonance,omitempty"`
	Pattern     *resonance.Pattern       `json:"pattern,omitempty"`
	Insight     *resonance.Reflection    `json:"insight,omitempty"`
}

// Sink receives signals: the graph mirror, the vector index, the event
// bus and the notifiers all plug in here. Sink errors are logged and
// never undo the state change.
type Sink interface {
	Publish(ctx context.Context, sig Signal) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, sig Signal) error

func (f SinkFunc) Publish(ctx context.Context, sig Signal) error { return f(ctx, sig) }
