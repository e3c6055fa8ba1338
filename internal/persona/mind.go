package persona

import (
	"context"
	"errors"
	"maps"
	"math"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/nidhogg/nuka-mind/internal/association"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/nidhogg/nuka-mind/internal/trait"
	"go.uber.org/zap"
)

// Options configures a Mind.
type Options struct {
	PersonaID      string
	Name           string
	Traits         map[string]float64 // starting personality, applied to traits not yet known
	AdjustmentRate float64
	Consolidation  memory.ConsolidationOpts
	RetryAttempts  uint
	RetryInitial   time.Duration
	RetryMax       time.Duration
	Now            func() time.Time
}

// DefaultOptions returns sensible defaults for a single persona.
func DefaultOptions() Options {
	return Options{
		PersonaID:      "default",
		Name:           "Nuka",
		AdjustmentRate: trait.DefaultAdjustmentRate,
		Consolidation:  memory.DefaultConsolidationOpts(),
		RetryAttempts:  3,
		RetryInitial:   100 * time.Millisecond,
		RetryMax:       2 * time.Second,
		Now:            time.Now,
	}
}

// TraitView is the read-back form of one trait.
type TraitView struct {
	Name       string  `json:"name"`
	Value      float64 `json:"value"`
	Target     float64 `json:"target"`
	Stability  float64 `json:"stability"`
	Confidence float64 `json:"confidence"`
	Volatility float64 `json:"volatility"`
}

// TraitAnalysis bundles the periodic statistics of one trait.
type TraitAnalysis struct {
	Trait        string                   `json:"trait"`
	Trends       trait.TrendAnalysis      `json:"trends"`
	Interactions []trait.Interaction      `json:"interactions,omitempty"`
	Confidence   trait.EnhancedConfidence `json:"confidence"`
}

// Analysis is the result of one analysis sweep.
type Analysis struct {
	Traits   []TraitAnalysis     `json:"traits"`
	Patterns []resonance.Pattern `json:"patterns,omitempty"`
}

// Mind runs the engines over one persona's state, keeps the store in
// step and fans signals out to the sinks. It is not safe for concurrent
// use; wrap it in a Worker.
type Mind struct {
	opts        Options
	st          *State
	store       Store
	sinks       []Sink
	logger      *zap.Logger
	traits      *trait.Engine
	resonance   *resonance.Engine
	assoc       *association.Engine
	initialized bool
}

// NewMind creates a mind. store may be nil for a purely in-memory persona.
func NewMind(opts Options, store Store, logger *zap.Logger, sinks ...Sink) *Mind {
	def := DefaultOptions()
	if opts.PersonaID == "" {
		opts.PersonaID = def.PersonaID
	}
	if opts.AdjustmentRate <= 0 {
		opts.AdjustmentRate = def.AdjustmentRate
	}
	if opts.Consolidation.MaxShortTermAge == 0 {
		opts.Consolidation = def.Consolidation
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = def.RetryAttempts
	}
	if opts.RetryInitial <= 0 {
		opts.RetryInitial = def.RetryInitial
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = def.RetryMax
	}
	if opts.Now == nil {
		opts.Now = def.Now
	}
	return &Mind{
		opts:      opts,
		st:        NewState(opts.PersonaID, opts.Name),
		store:     store,
		sinks:     sinks,
		logger:    logger.With(zap.String("persona", opts.PersonaID)),
		traits:    trait.NewEngine(),
		resonance: resonance.NewEngine(),
		assoc:     association.NewEngine(),
	}
}

// Now returns the mind's clock reading.
func (m *Mind) Now() time.Time { return m.opts.Now() }

// State exposes the underlying state for read-only inspection.
func (m *Mind) State() *State { return m.st }

// Initialized reports whether Initialize has completed.
func (m *Mind) Initialized() bool { return m.initialized }

func (m *Mind) check(op string) error {
	if !m.initialized {
		return fault.NotInitialized(op)
	}
	return nil
}

// Initialize loads the persona from the store, falling back to loose
// memories and traits when no snapshot exists, then seeds the configured
// personality for traits not yet known.
func (m *Mind) Initialize(ctx context.Context) error {
	now := m.Now()
	m.traits.Initialize()
	m.resonance.Initialize()
	m.assoc.Initialize()

	if m.store != nil {
		if err := m.load(ctx, now); err != nil {
			return err
		}
	}
	if m.st.Name == "" {
		m.st.Name = m.opts.Name
	}
	for name, value := range m.opts.Traits {
		if _, known := m.st.Traits.Baselines[name]; known {
			continue
		}
		if err := m.traits.Seed(m.st.Traits, name, value, m.opts.AdjustmentRate, now); err != nil {
			return err
		}
	}
	m.initialized = true
	m.logger.Info("mind initialized",
		zap.Int("memories", m.st.Memories.Len()),
		zap.Int("traits", len(m.st.Traits.Baselines)),
		zap.Int("patterns", len(m.st.Resonance.Patterns)))
	return nil
}

func (m *Mind) load(ctx context.Context, now time.Time) error {
	var snap *Snapshot
	err := m.retry(ctx, func() error {
		var err error
		snap, err = m.store.LoadSnapshot(ctx, m.opts.PersonaID)
		return err
	})
	switch {
	case err == nil:
		m.st = Restore(snap)
		return nil
	case !fault.IsNotFound(err):
		return fault.Storage("persona.initialize", err)
	}

	st := NewState(m.opts.PersonaID, m.opts.Name)
	var baselines map[string]trait.Baseline
	err = m.retry(ctx, func() error {
		var err error
		baselines, err = m.store.LoadTraits(ctx, m.opts.PersonaID)
		return err
	})
	if err != nil && !fault.IsNotFound(err) {
		return fault.Storage("persona.initialize", err)
	}
	if baselines != nil {
		st.Traits.RestoreBaselines(baselines)
	}
	for e, err := range m.store.QueryMemories(ctx, m.opts.PersonaID, nil) {
		if err != nil {
			return fault.Storage("persona.initialize", err)
		}
		e.Normalize()
		st.Memories.Add(e)
	}
	all := st.Memories.All()
	if err := m.assoc.Rebuild(st.Graph, all, now); err != nil {
		return err
	}
	for _, e := range all {
		if _, err := m.assoc.Cluster(st.Graph, e); err != nil {
			return err
		}
	}
	m.st = st
	return nil
}

// Ingest records a new memory: it is linked and clustered, its trait
// influences update the baselines, its trigger starts a resonance, and
// it is persisted. A storage failure is returned as fault.Storage with
// the in-memory state kept.
//
// Ingesting a known id refreshes the memory and applies only what
// changed: the difference in each trait influence, and the trigger if
// its label is new. Retrying a failed Ingest therefore counts the event
// once.
func (m *Mind) Ingest(ctx context.Context, e *memory.Event) error {
	if err := m.check("persona.ingest"); err != nil {
		return err
	}
	now := m.Now()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.Normalize()
	e.RefreshImportance()

	var (
		prevInfluences map[string]float64
		prevTrigger    string
	)
	prev, replaced := m.st.Memories.Get(e.ID)
	if replaced {
		prevInfluences = maps.Clone(prev.TraitInfluences)
		prevTrigger = prev.Trigger
	}
	others := m.st.Memories.All()
	m.st.Memories.Add(e)

	links, err := m.assoc.Link(m.st.Graph, e, others, now)
	if err != nil {
		return err
	}
	if _, err := m.assoc.Cluster(m.st.Graph, e); err != nil {
		return err
	}
	if err := m.applyInfluences(e, influenceDelta(prevInfluences, e.TraitInfluences), now); err != nil {
		return err
	}
	m.logger.Debug("memory ingested",
		zap.String("memory", e.ID),
		zap.Bool("replaced", replaced),
		zap.Int("links", len(links)),
		zap.Strings("traits", e.Traits()))

	kind := SignalMemoryStored
	if replaced {
		kind = SignalMemoryUpdated
	}
	m.publish(ctx, Signal{Kind: kind, Memory: e.Clone(), Connections: links})

	if e.Trigger != "" && (!replaced || e.Trigger != prevTrigger) {
		if _, err := m.trigger(ctx, e.Trigger, math.Abs(e.EmotionalWeight), now); err != nil {
			return err
		}
	}

	if m.store == nil {
		return nil
	}
	if err := m.retry(ctx, func() error { return m.store.SaveMemory(ctx, m.st.ID, e) }); err != nil {
		m.logger.Warn("persist memory failed", zap.String("memory", e.ID), zap.Error(err))
		return fault.Storage("persona.ingest", err)
	}
	return nil
}

// applyInfluences moves each trait by its delta, records the delta as
// an observation, files the memory as evidence and spreads the delta to
// correlated traits the memory does not touch itself.
func (m *Mind) applyInfluences(e *memory.Event, deltas map[string]float64, now time.Time) error {
	direct := e.Traits()
	for _, name := range slices.Sorted(maps.Keys(deltas)) {
		delta := deltas[name]
		if err := m.traits.UpdateBaseline(m.st.Traits, name, delta, now); err != nil {
			return err
		}
		if err := m.traits.AttachEvidence(m.st.Traits, name, e.ID, e.TraitInfluences[name]); err != nil {
			return err
		}
		if err := m.traits.RecordObservation(m.st.Traits, name, delta, now); err != nil {
			return err
		}
		spread, err := m.traits.Propagate(m.st.Traits, name, delta, direct, now)
		if err != nil {
			return err
		}
		if len(spread) > 0 {
			m.logger.Debug("trait influence spread",
				zap.String("trait", name),
				zap.Strings("to", spread))
		}
	}
	return nil
}

// influenceDelta returns next minus prev for every trait whose influence
// changed. A nil prev yields next itself.
func influenceDelta(prev, next map[string]float64) map[string]float64 {
	if prev == nil {
		return maps.Clone(next)
	}
	out := make(map[string]float64)
	for name, v := range next {
		if d := v - prev[name]; d != 0 {
			out[name] = d
		}
	}
	for name, v := range prev {
		if _, ok := next[name]; !ok && v != 0 {
			out[name] = -v
		}
	}
	return out
}

// Trigger starts a resonance for label.
func (m *Mind) Trigger(ctx context.Context, label string, intensity float64) (*resonance.Resonance, error) {
	if err := m.check("persona.trigger"); err != nil {
		return nil, err
	}
	return m.trigger(ctx, label, intensity, m.Now())
}

func (m *Mind) trigger(ctx context.Context, label string, intensity float64, now time.Time) (*resonance.Resonance, error) {
	recent := m.st.Memories.Recent(now, resonance.RecentWindow)
	r, err := m.resonance.Trigger(m.st.Resonance, label, intensity, recent, now)
	if err != nil {
		return nil, err
	}
	cp := *r
	m.publish(ctx, Signal{Kind: SignalResonance, Resonance: &cp})
	return r, nil
}

// Tick decays the active resonances and returns the patterns they left.
func (m *Mind) Tick(ctx context.Context, now time.Time) ([]resonance.Pattern, error) {
	if err := m.check("persona.tick"); err != nil {
		return nil, err
	}
	created, err := m.resonance.Tick(m.st.Resonance, now, m.st.Memories.ShortTerm())
	if err != nil {
		return nil, err
	}
	for i := range created {
		m.publish(ctx, Signal{Kind: SignalPattern, Pattern: &created[i]})
	}
	if len(created) > 0 {
		m.logger.Info("resonances crystallized", zap.Int("patterns", len(created)))
	}
	return created, nil
}

// Analyze runs trend, interaction and confidence analysis for every
// trait and turns strong connections into patterns.
func (m *Mind) Analyze(ctx context.Context, now time.Time) (*Analysis, error) {
	if err := m.check("persona.analyze"); err != nil {
		return nil, err
	}
	all := m.st.Memories.All()
	out := &Analysis{}
	for _, name := range m.st.Traits.Names() {
		ta := TraitAnalysis{Trait: name}
		var err error
		if ta.Trends, err = m.traits.AnalyzeTrends(m.st.Traits, name, now); err != nil {
			return nil, err
		}
		if ta.Interactions, err = m.traits.AnalyzeInteractions(m.st.Traits, name, all, now); err != nil {
			return nil, err
		}
		if ta.Confidence, err = m.traits.EnhancedConfidence(m.st.Traits, name); err != nil {
			return nil, err
		}
		out.Traits = append(out.Traits, ta)
	}

	for _, c := range m.st.Graph.Strong(association.StrongConnectionStrength) {
		a, okA := m.st.Memories.Get(c.Source)
		b, okB := m.st.Memories.Get(c.Target)
		if !okA || !okB {
			continue
		}
		p, ok, err := m.resonance.RecordStrongConnection(m.st.Resonance, a, b, c.Strength, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Patterns = append(out.Patterns, *p)
			m.publish(ctx, Signal{Kind: SignalPattern, Pattern: p})
		}
	}
	m.logger.Info("analysis complete",
		zap.Int("traits", len(out.Traits)),
		zap.Int("new_patterns", len(out.Patterns)))
	return out, nil
}

// Influence lets connected memories pull on each other's emotional
// weight and persists the memories that moved.
func (m *Mind) Influence(ctx context.Context, now time.Time) ([]string, error) {
	if err := m.check("persona.influence"); err != nil {
		return nil, err
	}
	changed, err := m.assoc.MutualInfluence(m.st.Graph, m.st.byID(), now)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, id := range changed {
		e, _ := m.st.Memories.Get(id)
		e.RefreshImportance()
		m.publish(ctx, Signal{Kind: SignalMemoryUpdated, Memory: e.Clone()})
		if m.store == nil {
			continue
		}
		if err := m.retry(ctx, func() error { return m.updateMemory(ctx, e) }); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("persist influenced memories failed", zap.Int("failed", len(errs)), zap.Error(err))
		return changed, fault.Storage("persona.influence", err)
	}
	return changed, nil
}

// Reflect produces the recent self-reflection insights and records the
// current emotional state.
func (m *Mind) Reflect(ctx context.Context, now time.Time) ([]resonance.Reflection, error) {
	if err := m.check("persona.reflect"); err != nil {
		return nil, err
	}
	insights, err := m.resonance.ReflectRecent(m.st.Resonance, m.st.Memories.All(), now)
	if err != nil {
		return nil, err
	}
	for i := range insights {
		m.publish(ctx, Signal{Kind: SignalInsight, Insight: &insights[i]})
	}
	if m.store == nil {
		return insights, nil
	}
	es := DeriveEmotionalState(m.st, now)
	if err := m.retry(ctx, func() error { return m.store.SaveEmotionalState(ctx, m.st.ID, es) }); err != nil {
		m.logger.Warn("persist emotional state failed", zap.Error(err))
		return insights, fault.Storage("persona.reflect", err)
	}
	return insights, nil
}

// ReflectLongTerm summarizes how far each trait sits from its target.
func (m *Mind) ReflectLongTerm(ctx context.Context, now time.Time) (*resonance.Reflection, error) {
	if err := m.check("persona.reflect_long_term"); err != nil {
		return nil, err
	}
	r, err := m.resonance.ReflectLongTerm(m.st.Resonance, m.st.Traits.Drifts(), now)
	if err != nil || r == nil {
		return r, err
	}
	m.publish(ctx, Signal{Kind: SignalInsight, Insight: r})
	return r, nil
}

// Prune evicts low-relevance memories from every structure and from the
// store. It returns the evicted ids.
func (m *Mind) Prune(ctx context.Context, now time.Time) ([]string, error) {
	if err := m.check("persona.prune"); err != nil {
		return nil, err
	}
	_, evicted, err := m.assoc.Prune(m.st.Graph, m.st.Memories.All(), m.st.Traits, now)
	if err != nil {
		return nil, err
	}
	var errs []error
	for _, id := range evicted {
		m.st.Memories.Remove(id)
		m.st.Traits.ForgetMemory(id)
		m.publish(ctx, Signal{Kind: SignalMemoryForgotten, MemoryID: id})
		if m.store == nil {
			continue
		}
		err := m.retry(ctx, func() error { return m.store.DeleteMemory(ctx, m.st.ID, id) })
		if err != nil && !fault.IsNotFound(err) {
			errs = append(errs, err)
		}
	}
	if len(evicted) > 0 {
		m.logger.Info("memories pruned", zap.Int("evicted", len(evicted)), zap.Int("remaining", m.st.Memories.Len()))
	}
	if err := errors.Join(errs...); err != nil {
		m.logger.Warn("delete pruned memories failed", zap.Error(err))
		return evicted, fault.Storage("persona.prune", err)
	}
	return evicted, nil
}

// Drift moves every trait toward its target and persists the baselines.
func (m *Mind) Drift(ctx context.Context, now time.Time) ([]string, error) {
	if err := m.check("persona.drift"); err != nil {
		return nil, err
	}
	moved, err := m.traits.ApplyDrift(m.st.Traits, now)
	if err != nil || len(moved) == 0 || m.store == nil {
		return moved, err
	}
	set := m.st.Traits.Snapshot()
	if err := m.retry(ctx, func() error { return m.store.SaveTraits(ctx, m.st.ID, set) }); err != nil {
		m.logger.Warn("persist traits failed", zap.Error(err))
		return moved, fault.Storage("persona.drift", err)
	}
	return moved, nil
}

// SetTarget changes the value a trait drifts toward.
func (m *Mind) SetTarget(name string, target float64) error {
	if err := m.check("persona.set_target"); err != nil {
		return err
	}
	return m.traits.SetTarget(m.st.Traits, name, target)
}

// Consolidate promotes short-term memories to long-term.
func (m *Mind) Consolidate(now time.Time) ([]string, error) {
	if err := m.check("persona.consolidate"); err != nil {
		return nil, err
	}
	return m.st.Memories.Consolidate(now, m.opts.Consolidation), nil
}

// Save writes the whole persona in one transaction.
func (m *Mind) Save(ctx context.Context) error {
	if err := m.check("persona.save"); err != nil {
		return err
	}
	if m.store == nil {
		return nil
	}
	snap := m.st.Snapshot(m.Now())
	if err := m.retry(ctx, func() error { return m.store.SaveSnapshot(ctx, snap) }); err != nil {
		m.logger.Warn("save snapshot failed", zap.Error(err))
		return fault.Storage("persona.save", err)
	}
	m.logger.Debug("snapshot saved", zap.Int("memories", len(snap.Memories)))
	return nil
}

// TraitStrength returns a trait's current value.
func (m *Mind) TraitStrength(name string) (float64, bool) {
	b, ok := m.st.Traits.Baselines[name]
	if !ok {
		return 0, false
	}
	return b.CurrentValue, true
}

// Traits lists every trait sorted by name.
func (m *Mind) Traits() []TraitView {
	names := m.st.Traits.Names()
	out := make([]TraitView, 0, len(names))
	for _, name := range names {
		v := TraitView{
			Name:       name,
			Value:      m.st.Traits.Value(name),
			Stability:  m.st.Traits.Stability(name),
			Confidence: m.st.Traits.Confidence(name),
			Volatility: m.st.Traits.Volatility(name),
		}
		if b, ok := m.st.Traits.Baselines[name]; ok {
			v.Target = b.TargetValue
		}
		out = append(out, v)
	}
	return out
}

// Patterns returns copies of the crystallized patterns.
func (m *Mind) Patterns() []resonance.Pattern {
	out := make([]resonance.Pattern, 0, len(m.st.Resonance.Patterns))
	for _, p := range m.st.Resonance.Patterns {
		out = append(out, *p)
	}
	return out
}

// Resonances returns copies of the active resonances.
func (m *Mind) Resonances() []resonance.Resonance {
	out := make([]resonance.Resonance, 0, len(m.st.Resonance.Active))
	for _, r := range m.st.Resonance.Active {
		out = append(out, *r)
	}
	return out
}

// Insights returns the insights, most confident first.
func (m *Mind) Insights() []resonance.Reflection {
	return slices.Clone(m.st.Resonance.Insights)
}

// Connections lists every association in endpoint order.
func (m *Mind) Connections() []association.Connection { return m.st.Graph.All() }

// Clusters summarizes the current memory clusters.
func (m *Mind) Clusters() []association.ClusterSummary {
	return m.st.Graph.Summaries(m.st.byID())
}

// Emotion derives the current emotional state.
func (m *Mind) Emotion(now time.Time) EmotionalState { return DeriveEmotionalState(m.st, now) }

// Recall returns the memories whose tags or content words match term.
func (m *Mind) Recall(term string) []*memory.Event {
	hits := m.st.Memories.Search(term)
	out := make([]*memory.Event, 0, len(hits))
	for _, e := range hits {
		out = append(out, e.Clone())
	}
	return out
}

// Memory returns a memory from working memory, or from the store when
// it has already been pruned from working memory.
func (m *Mind) Memory(ctx context.Context, id string) (*memory.Event, error) {
	if e, ok := m.st.Memories.Get(id); ok {
		return e.Clone(), nil
	}
	if m.store == nil {
		return nil, fault.NotFound("persona.memory", id)
	}
	var e *memory.Event
	err := m.retry(ctx, func() error {
		var err error
		e, err = m.store.LoadMemory(ctx, m.st.ID, id)
		return err
	})
	if err != nil {
		if fault.IsNotFound(err) {
			return nil, err
		}
		return nil, fault.Storage("persona.memory", err)
	}
	return e, nil
}

func (m *Mind) publish(ctx context.Context, sig Signal) {
	sig.PersonaID = m.st.ID
	if sig.At.IsZero() {
		sig.At = m.Now()
	}
	for _, s := range m.sinks {
		if err := s.Publish(ctx, sig); err != nil {
			m.logger.Warn("sink publish failed", zap.String("kind", string(sig.Kind)), zap.Error(err))
		}
	}
}

// updateMemory rewrites a stored memory, inserting it when an earlier
// save never reached the store.
func (m *Mind) updateMemory(ctx context.Context, e *memory.Event) error {
	err := m.store.UpdateMemory(ctx, m.st.ID, e)
	if fault.IsNotFound(err) {
		return m.store.SaveMemory(ctx, m.st.ID, e)
	}
	return err
}

// retry runs fn with exponential backoff. Not-found and cancellation
// are not retried.
func (m *Mind) retry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.RetryInitial
	b.MaxInterval = m.opts.RetryMax
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && (fault.IsNotFound(err) || errors.Is(err, context.Canceled)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(m.opts.RetryAttempts))
	return err
}
