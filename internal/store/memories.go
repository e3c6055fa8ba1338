package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/persona"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const memoryColumns = `id, content, context, importance, emotional_weight,
	trait_influences, tags, trigger_label, tier, created_at, updated_at`

const upsertMemory = `
	INSERT INTO persona_memories (persona_id, ` + memoryColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (persona_id, id) DO UPDATE SET
		content = EXCLUDED.content,
		context = EXCLUDED.context,
		importance = EXCLUDED.importance,
		emotional_weight = EXCLUDED.emotional_weight,
		trait_influences = EXCLUDED.trait_influences,
		tags = EXCLUDED.tags,
		trigger_label = EXCLUDED.trigger_label,
		updated_at = EXCLUDED.updated_at`

func memoryArgs(personaID string, e *memory.Event, tier memory.Tier) ([]any, error) {
	influences, err := json.Marshal(e.TraitInfluences)
	if err != nil {
		return nil, fmt.Errorf("marshal trait influences: %w", err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return []any{personaID, e.ID, e.Content, e.Context, e.Importance, e.EmotionalWeight,
		influences, tags, e.Trigger, tier.String(), e.CreatedAt, e.UpdatedAt}, nil
}

// SaveMemory inserts or replaces a memory. A new memory lands in the
// short-term tier; an existing one keeps its tier.
func (s *Store) SaveMemory(ctx context.Context, personaID string, e *memory.Event) error {
	args, err := memoryArgs(personaID, e, memory.ShortTerm)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, upsertMemory, args...); err != nil {
		return fmt.Errorf("save memory: %w", err)
	}
	return nil
}

// LoadMemory returns one memory or a fault.NotFound error.
func (s *Store) LoadMemory(ctx context.Context, personaID, id string) (*memory.Event, error) {
	row := s.db.QueryRow(ctx, `SELECT `+memoryColumns+`
		FROM persona_memories WHERE persona_id = $1 AND id = $2`, personaID, id)
	e, _, err := scanMemory(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("store.load_memory", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	return e, nil
}

// UpdateMemory rewrites an existing memory.
func (s *Store) UpdateMemory(ctx context.Context, personaID string, e *memory.Event) error {
	influences, err := json.Marshal(e.TraitInfluences)
	if err != nil {
		return fmt.Errorf("marshal trait influences: %w", err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE persona_memories SET
			content = $3, context = $4, importance = $5, emotional_weight = $6,
			trait_influences = $7, tags = $8, trigger_label = $9, updated_at = $10
		WHERE persona_id = $1 AND id = $2`,
		personaID, e.ID, e.Content, e.Context, e.Importance, e.EmotionalWeight,
		influences, tags, e.Trigger, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store.update_memory", e.ID)
	}
	return nil
}

// DeleteMemory removes a memory.
func (s *Store) DeleteMemory(ctx context.Context, personaID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM persona_memories WHERE persona_id = $1 AND id = $2`, personaID, id)
	if err != nil {
		return fmt.Errorf("delete memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store.delete_memory", id)
	}
	return nil
}

// QueryMemories streams a persona's memories in insertion order. The
// predicate runs client side.
func (s *Store) QueryMemories(ctx context.Context, personaID string, pred persona.Predicate) iter.Seq2[*memory.Event, error] {
	return func(yield func(*memory.Event, error) bool) {
		for e, err := range s.queryTiered(ctx, s.db, personaID) {
			if err != nil {
				yield(nil, err)
				return
			}
			if pred != nil && !pred(e.event) {
				continue
			}
			if !yield(e.event, nil) {
				return
			}
		}
	}
}

type tieredEvent struct {
	event *memory.Event
	tier  memory.Tier
}

func (s *Store) queryTiered(ctx context.Context, q querier, personaID string) iter.Seq2[tieredEvent, error] {
	return func(yield func(tieredEvent, error) bool) {
		rows, err := q.Query(ctx, `SELECT `+memoryColumns+`
			FROM persona_memories WHERE persona_id = $1 ORDER BY seq`, personaID)
		if err != nil {
			yield(tieredEvent{}, fmt.Errorf("query memories: %w", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			e, tier, err := scanMemory(rows)
			if err != nil {
				yield(tieredEvent{}, fmt.Errorf("scan memory: %w", err))
				return
			}
			if !yield(tieredEvent{event: e, tier: tier}, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(tieredEvent{}, fmt.Errorf("query memories: %w", err))
		}
	}
}

func scanMemory(row pgx.Row) (*memory.Event, memory.Tier, error) {
	var (
		e          memory.Event
		influences []byte
		tier       string
	)
	err := row.Scan(&e.ID, &e.Content, &e.Context, &e.Importance, &e.EmotionalWeight,
		&influences, &e.Tags, &e.Trigger, &tier, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, memory.ShortTerm, err
	}
	if len(influences) > 0 {
		if err := json.Unmarshal(influences, &e.TraitInfluences); err != nil {
			return nil, memory.ShortTerm, fmt.Errorf("unmarshal trait influences: %w", err)
		}
	}
	e.Normalize()
	t := memory.ShortTerm
	if tier == memory.LongTerm.String() {
		t = memory.LongTerm
	}
	return &e, t, nil
}
