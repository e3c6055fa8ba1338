package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"sync"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

// MemoryStore is a process-local Store. It backs the service when no
// database is configured and stands in for one in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	memories  map[string]map[string]*memory.Event
	order     map[string][]string
	emotions  map[string][]EmotionalState
	traits    map[string]map[string]trait.Baseline
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		memories:  make(map[string]map[string]*memory.Event),
		order:     make(map[string][]string),
		emotions:  make(map[string][]EmotionalState),
		traits:    make(map[string]map[string]trait.Baseline),
		snapshots: make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveMemory(_ context.Context, personaID string, e *memory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putMemory(personaID, e)
	return nil
}

func (s *MemoryStore) putMemory(personaID string, e *memory.Event) {
	set, ok := s.memories[personaID]
	if !ok {
		set = make(map[string]*memory.Event)
		s.memories[personaID] = set
	}
	if _, exists := set[e.ID]; !exists {
		s.order[personaID] = append(s.order[personaID], e.ID)
	}
	set[e.ID] = e.Clone()
}

func (s *MemoryStore) LoadMemory(_ context.Context, personaID, id string) (*memory.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.memories[personaID][id]
	if !ok {
		return nil, fault.NotFound("store.load_memory", id)
	}
	return e.Clone(), nil
}

func (s *MemoryStore) UpdateMemory(_ context.Context, personaID string, e *memory.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[personaID][e.ID]; !ok {
		return fault.NotFound("store.update_memory", e.ID)
	}
	s.memories[personaID][e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) DeleteMemory(_ context.Context, personaID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[personaID][id]; !ok {
		return fault.NotFound("store.delete_memory", id)
	}
	delete(s.memories[personaID], id)
	s.order[personaID] = slices.DeleteFunc(s.order[personaID], func(x string) bool { return x == id })
	return nil
}

// QueryMemories yields matching memories in insertion order from a
// copy taken when iteration starts.
func (s *MemoryStore) QueryMemories(_ context.Context, personaID string, pred Predicate) iter.Seq2[*memory.Event, error] {
	return func(yield func(*memory.Event, error) bool) {
		s.mu.RLock()
		var hits []*memory.Event
		for _, id := range s.order[personaID] {
			e := s.memories[personaID][id]
			if pred == nil || pred(e) {
				hits = append(hits, e.Clone())
			}
		}
		s.mu.RUnlock()
		for _, e := range hits {
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) SaveEmotionalState(_ context.Context, personaID string, es EmotionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.emotions[personaID]
	if i := slices.IndexFunc(list, func(x EmotionalState) bool { return x.ID == es.ID }); i >= 0 {
		list[i] = es
		return nil
	}
	s.emotions[personaID] = append(list, es)
	return nil
}

func (s *MemoryStore) LoadEmotionalState(_ context.Context, personaID, id string) (EmotionalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, es := range s.emotions[personaID] {
		if es.ID == id {
			return es, nil
		}
	}
	return EmotionalState{}, fault.NotFound("store.load_emotional_state", id)
}

func (s *MemoryStore) LatestEmotionalState(_ context.Context, personaID string) (EmotionalState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.emotions[personaID]
	if len(list) == 0 {
		return EmotionalState{}, fault.NotFound("store.latest_emotional_state", personaID)
	}
	latest := list[0]
	for _, es := range list[1:] {
		if !es.Timestamp.Before(latest.Timestamp) {
			latest = es
		}
	}
	return latest, nil
}

func (s *MemoryStore) UpdateEmotionalState(_ context.Context, personaID string, es EmotionalState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.emotions[personaID]
	i := slices.IndexFunc(list, func(x EmotionalState) bool { return x.ID == es.ID })
	if i < 0 {
		return fault.NotFound("store.update_emotional_state", es.ID)
	}
	list[i] = es
	return nil
}

func (s *MemoryStore) DeleteEmotionalState(_ context.Context, personaID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.emotions[personaID]
	i := slices.IndexFunc(list, func(x EmotionalState) bool { return x.ID == id })
	if i < 0 {
		return fault.NotFound("store.delete_emotional_state", id)
	}
	s.emotions[personaID] = slices.Delete(list, i, i+1)
	return nil
}

func (s *MemoryStore) SaveTraits(_ context.Context, personaID string, set map[string]trait.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traits[personaID] = maps.Clone(set)
	return nil
}

func (s *MemoryStore) LoadTraits(_ context.Context, personaID string) (map[string]trait.Baseline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.traits[personaID]
	if !ok {
		return nil, fault.NotFound("store.load_traits", personaID)
	}
	return maps.Clone(set), nil
}

func (s *MemoryStore) UpdateTraits(_ context.Context, personaID string, set map[string]trait.Baseline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.traits[personaID]
	if !ok {
		return fault.NotFound("store.update_traits", personaID)
	}
	maps.Copy(cur, set)
	return nil
}

func (s *MemoryStore) DeleteTraits(_ context.Context, personaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.traits[personaID]; !ok {
		return fault.NotFound("store.delete_traits", personaID)
	}
	delete(s.traits, personaID)
	return nil
}

// SaveSnapshot replaces the persona's memories, traits and latest
// emotional state together with the serialized snapshot.
func (s *MemoryStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := snap.PersonaID
	s.memories[id] = make(map[string]*memory.Event, len(snap.Memories))
	s.order[id] = nil
	for _, e := range snap.Memories {
		s.putMemory(id, e)
	}
	s.traits[id] = maps.Clone(snap.Baselines)
	s.emotions[id] = append(s.emotions[id], snap.Emotional)
	s.snapshots[id] = raw
	return nil
}

func (s *MemoryStore) LoadSnapshot(_ context.Context, personaID string) (*Snapshot, error) {
	s.mu.RLock()
	raw, ok := s.snapshots[personaID]
	s.mu.RUnlock()
	if !ok {
		return nil, fault.NotFound("store.load_snapshot", personaID)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
