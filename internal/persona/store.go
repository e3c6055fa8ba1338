package persona

import (
	"context"
	"iter"

	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

// Predicate selects memories in QueryMemories. A nil predicate matches all.
type Predicate func(*memory.Event) bool

// Store is the durable home of a persona. Every call may fail; missing
// records are reported as fault.NotFound errors. SaveSnapshot writes the
// whole persona in one transaction.
type Store interface {
	SaveMemory(ctx context.Context, personaID string, e *memory.Event) error
	LoadMemory(ctx context.Context, personaID, id string) (*memory.Event, error)
	UpdateMemory(ctx context.Context, personaID string, e *memory.Event) error
	DeleteMemory(ctx context.Context, personaID, id string) error
	QueryMemories(ctx context.Context, personaID string, pred Predicate) iter.Seq2[*memory.Event, error]

	SaveEmotionalState(ctx context.Context, personaID string, s EmotionalState) error
	LoadEmotionalState(ctx context.Context, personaID, id string) (EmotionalState, error)
	LatestEmotionalState(ctx context.Context, personaID string) (EmotionalState, error)
	UpdateEmotionalState(ctx context.Context, personaID string, s EmotionalState) error
	DeleteEmotionalState(ctx context.Context, personaID, id string) error

	SaveTraits(ctx context.Context, personaID string, set map[string]trait.Baseline) error
	LoadTraits(ctx context.Context, personaID string) (map[string]trait.Baseline, error)
	UpdateTraits(ctx context.Context, personaID string, set map[string]trait.Baseline) error
	DeleteTraits(ctx context.Context, personaID string) error

	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	LoadSnapshot(ctx context.Context, personaID string) (*Snapshot, error)
}
