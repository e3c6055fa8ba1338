package memory

import (
	"strings"
	"time"
)

// Tier is the working-memory tier an event lives in.
type Tier int

const (
	ShortTerm Tier = iota
	LongTerm
)

func (t Tier) String() string {
	if t == LongTerm {
		return "long_term"
	}
	return "short_term"
}

// ConsolidationOpts controls promotion from short-term to long-term memory.
type ConsolidationOpts struct {
	ImportanceThreshold float64       // promote when importance exceeds this, default 0.7
	MaxShortTermAge     time.Duration // promote when older than this, default 24h
}

// DefaultConsolidationOpts returns sensible defaults.
func DefaultConsolidationOpts() ConsolidationOpts {
	return ConsolidationOpts{
		ImportanceThreshold: 0.7,
		MaxShortTermAge:     24 * time.Hour,
	}
}

// Ledger holds the persona's working memory in insertion order,
// split into short-term and long-term tiers and indexed by keyword.
// It is not safe for concurrent use.
type Ledger struct {
	order []string
	byID  map[string]*Event
	tier  map[string]Tier
	index keywordIndex
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		byID:  make(map[string]*Event),
		tier:  make(map[string]Tier),
		index: make(keywordIndex),
	}
}

// Add appends e to short-term memory. An event with a known id is
// replaced in place and keeps its tier and position.
func (l *Ledger) Add(e *Event) {
	if old, ok := l.byID[e.ID]; ok {
		l.index.remove(old)
		l.byID[e.ID] = e
		l.index.add(e)
		return
	}
	l.order = append(l.order, e.ID)
	l.byID[e.ID] = e
	l.tier[e.ID] = ShortTerm
	l.index.add(e)
}

// Restore inserts e directly into the given tier.
func (l *Ledger) Restore(e *Event, t Tier) {
	l.Add(e)
	l.tier[e.ID] = t
}

// Get returns the event with the given id.
func (l *Ledger) Get(id string) (*Event, bool) {
	e, ok := l.byID[id]
	return e, ok
}

// TierOf reports the tier of id.
func (l *Ledger) TierOf(id string) (Tier, bool) {
	t, ok := l.tier[id]
	return t, ok
}

// Remove deletes id, reporting whether it existed.
func (l *Ledger) Remove(id string) bool {
	e, ok := l.byID[id]
	if !ok {
		return false
	}
	l.index.remove(e)
	delete(l.byID, id)
	delete(l.tier, id)
	for i, oid := range l.order {
		if oid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of events held.
func (l *Ledger) Len() int { return len(l.order) }

// All returns every event in insertion order.
func (l *Ledger) All() []*Event {
	out := make([]*Event, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.byID[id])
	}
	return out
}

// ShortTerm returns the short-term events in insertion order.
func (l *Ledger) ShortTerm() []*Event { return l.inTier(ShortTerm) }

// LongTerm returns the long-term events in insertion order.
func (l *Ledger) LongTerm() []*Event { return l.inTier(LongTerm) }

func (l *Ledger) inTier(t Tier) []*Event {
	var out []*Event
	for _, id := range l.order {
		if l.tier[id] == t {
			out = append(out, l.byID[id])
		}
	}
	return out
}

// Recent returns events created no earlier than now-window.
func (l *Ledger) Recent(now time.Time, window time.Duration) []*Event {
	cutoff := now.Add(-window)
	var out []*Event
	for _, id := range l.order {
		e := l.byID[id]
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out
}

// ByTrait returns the events that carry an influence on trait.
func (l *Ledger) ByTrait(trait string) []*Event {
	var out []*Event
	for _, id := range l.order {
		if e := l.byID[id]; e.Influences(trait) {
			out = append(out, e)
		}
	}
	return out
}

// Search returns events whose tags or content words match term.
func (l *Ledger) Search(term string) []*Event {
	ids, ok := l.index[strings.ToLower(strings.TrimSpace(term))]
	if !ok {
		return nil
	}
	var out []*Event
	for _, id := range l.order {
		if _, hit := ids[id]; hit {
			out = append(out, l.byID[id])
		}
	}
	return out
}

// Consolidate promotes short-term events that are important or old enough
// and returns the promoted ids. Nothing is evicted.
func (l *Ledger) Consolidate(now time.Time, opts ConsolidationOpts) []string {
	if opts.MaxShortTermAge == 0 {
		opts = DefaultConsolidationOpts()
	}
	var promoted []string
	for _, id := range l.order {
		if l.tier[id] != ShortTerm {
			continue
		}
		e := l.byID[id]
		if e.Importance > opts.ImportanceThreshold || now.Sub(e.CreatedAt) > opts.MaxShortTermAge {
			l.tier[id] = LongTerm
			promoted = append(promoted, id)
		}
	}
	return promoted
}
