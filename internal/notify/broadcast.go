package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/persona"
)

const maxHistory = 100

// Record tracks a sent notice.
type Record struct {
	Notice  *Notice   `json:"notice"`
	SentAt  time.Time `json:"sent_at"`
	Targets []string  `json:"targets"`
}

// Broadcaster renders pattern and insight signals into notices and fans
// them out to every notifier.
type Broadcaster struct {
	notifiers     []Notifier
	minConfidence float64

	mu      sync.Mutex
	history []Record
	logger  *zap.Logger
}

var _ persona.Sink = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Insights below minConfidence are
// not announced.
func NewBroadcaster(notifiers []Notifier, minConfidence float64, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{notifiers: notifiers, minConfidence: minConfidence, logger: logger}
}

// Publish announces crystallized patterns and confident insights.
func (b *Broadcaster) Publish(ctx context.Context, sig persona.Signal) error {
	n := render(sig, b.minConfidence)
	if n == nil {
		return nil
	}
	return b.Send(ctx, n)
}

func render(sig persona.Signal, minConfidence float64) *Notice {
	switch {
	case sig.Kind == persona.SignalPattern && sig.Pattern != nil:
		p := sig.Pattern
		return &Notice{
			Kind:      string(sig.Kind),
			PersonaID: sig.PersonaID,
			Title:     fmt.Sprintf("New %s pattern", p.PatternType),
			Content: fmt.Sprintf("Intensity %.2f across %d memories (triggered %d times)",
				p.CurrentIntensity, len(p.Memories), len(p.Triggers)),
			At: sig.At,
		}
	case sig.Kind == persona.SignalInsight && sig.Insight != nil:
		in := sig.Insight
		if in.Confidence < minConfidence {
			return nil
		}
		return &Notice{
			Kind:      string(sig.Kind),
			PersonaID: sig.PersonaID,
			Title:     fmt.Sprintf("%s (confidence %.2f)", strings.ReplaceAll(in.Type, "_", " "), in.Confidence),
			Content:   in.Content,
			At:        sig.At,
		}
	}
	return nil
}

// Send delivers n to every notifier. A failing platform does not stop the
// others; the joined error is returned.
func (b *Broadcaster) Send(ctx context.Context, n *Notice) error {
	b.logger.Info("sending notice",
		zap.String("kind", n.Kind),
		zap.String("persona", n.PersonaID),
		zap.String("title", n.Title))

	var (
		errs    []error
		targets []string
	)
	for _, nt := range b.notifiers {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", nt.Platform(), err))
			continue
		}
		targets = append(targets, nt.Platform())
	}

	b.mu.Lock()
	b.history = append(b.history, Record{Notice: n, SentAt: time.Now(), Targets: targets})
	if len(b.history) > maxHistory {
		b.history = append([]Record(nil), b.history[len(b.history)-maxHistory:]...)
	}
	b.mu.Unlock()
	return errors.Join(errs...)
}

// History returns up to limit of the most recent records, oldest first.
func (b *Broadcaster) History(limit int) []Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > len(b.history) {
		limit = len(b.history)
	}
	return append([]Record(nil), b.history[len(b.history)-limit:]...)
}

// Close closes every notifier.
func (b *Broadcaster) Close() error {
	var errs []error
	for _, nt := range b.notifiers {
		errs = append(errs, nt.Close())
	}
	return errors.Join(errs...)
}
