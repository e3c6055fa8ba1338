package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/persona"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

const upsertEmotionalState = `
	INSERT INTO emotional_states (persona_id, id, state, recorded_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (persona_id, id) DO UPDATE SET state = EXCLUDED.state, recorded_at = EXCLUDED.recorded_at`

func (s *Store) SaveEmotionalState(ctx context.Context, personaID string, es persona.EmotionalState) error {
	return saveEmotionalState(ctx, s.db, personaID, es)
}

func saveEmotionalState(ctx context.Context, q querier, personaID string, es persona.EmotionalState) error {
	data, err := json.Marshal(es)
	if err != nil {
		return fmt.Errorf("marshal emotional state: %w", err)
	}
	if _, err := q.Exec(ctx, upsertEmotionalState, personaID, es.ID, data, es.Timestamp); err != nil {
		return fmt.Errorf("save emotional state: %w", err)
	}
	return nil
}

func (s *Store) LoadEmotionalState(ctx context.Context, personaID, id string) (persona.EmotionalState, error) {
	row := s.db.QueryRow(ctx, `SELECT state FROM emotional_states WHERE persona_id = $1 AND id = $2`, personaID, id)
	es, err := scanEmotionalState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return es, fault.NotFound("store.load_emotional_state", id)
	}
	return es, err
}

// LatestEmotionalState returns the most recently recorded state.
func (s *Store) LatestEmotionalState(ctx context.Context, personaID string) (persona.EmotionalState, error) {
	return latestEmotionalState(ctx, s.db, personaID)
}

func latestEmotionalState(ctx context.Context, q querier, personaID string) (persona.EmotionalState, error) {
	row := q.QueryRow(ctx, `SELECT state FROM emotional_states
		WHERE persona_id = $1 ORDER BY recorded_at DESC LIMIT 1`, personaID)
	es, err := scanEmotionalState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return es, fault.NotFound("store.latest_emotional_state", personaID)
	}
	return es, err
}

func (s *Store) UpdateEmotionalState(ctx context.Context, personaID string, es persona.EmotionalState) error {
	data, err := json.Marshal(es)
	if err != nil {
		return fmt.Errorf("marshal emotional state: %w", err)
	}
	tag, err := s.db.Exec(ctx, `UPDATE emotional_states SET state = $3, recorded_at = $4
		WHERE persona_id = $1 AND id = $2`, personaID, es.ID, data, es.Timestamp)
	if err != nil {
		return fmt.Errorf("update emotional state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store.update_emotional_state", es.ID)
	}
	return nil
}

func (s *Store) DeleteEmotionalState(ctx context.Context, personaID, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM emotional_states WHERE persona_id = $1 AND id = $2`, personaID, id)
	if err != nil {
		return fmt.Errorf("delete emotional state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store.delete_emotional_state", id)
	}
	return nil
}

func scanEmotionalState(row pgx.Row) (persona.EmotionalState, error) {
	var (
		es   persona.EmotionalState
		data []byte
	)
	if err := row.Scan(&data); err != nil {
		return es, err
	}
	if err := json.Unmarshal(data, &es); err != nil {
		return es, fmt.Errorf("unmarshal emotional state: %w", err)
	}
	return es, nil
}

// SaveTraits replaces the persona's whole baseline set.
func (s *Store) SaveTraits(ctx context.Context, personaID string, set map[string]trait.Baseline) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM trait_baselines WHERE persona_id = $1`, personaID); err != nil {
		return fmt.Errorf("clear traits: %w", err)
	}
	if err := upsertTraits(ctx, tx, personaID, set); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpdateTraits upserts the given baselines and leaves the others alone.
func (s *Store) UpdateTraits(ctx context.Context, personaID string, set map[string]trait.Baseline) error {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM trait_baselines WHERE persona_id = $1`, personaID).Scan(&n); err != nil {
		return fmt.Errorf("count traits: %w", err)
	}
	if n == 0 {
		return fault.NotFound("store.update_traits", personaID)
	}
	return upsertTraits(ctx, s.db, personaID, set)
}

func upsertTraits(ctx context.Context, q querier, personaID string, set map[string]trait.Baseline) error {
	for name, b := range set {
		data, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("marshal baseline %s: %w", name, err)
		}
		_, err = q.Exec(ctx, `
			INSERT INTO trait_baselines (persona_id, trait, baseline, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (persona_id, trait) DO UPDATE SET baseline = EXCLUDED.baseline, updated_at = NOW()`,
			personaID, name, data)
		if err != nil {
			return fmt.Errorf("save baseline %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) LoadTraits(ctx context.Context, personaID string) (map[string]trait.Baseline, error) {
	set, err := loadTraits(ctx, s.db, personaID)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, fault.NotFound("store.load_traits", personaID)
	}
	return set, nil
}

func loadTraits(ctx context.Context, q querier, personaID string) (map[string]trait.Baseline, error) {
	rows, err := q.Query(ctx, `SELECT trait, baseline FROM trait_baselines WHERE persona_id = $1`, personaID)
	if err != nil {
		return nil, fmt.Errorf("load traits: %w", err)
	}
	defer rows.Close()

	set := make(map[string]trait.Baseline)
	for rows.Next() {
		var (
			name string
			data []byte
			b    trait.Baseline
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scan baseline: %w", err)
		}
		if err := json.Unmarshal(data, &b); err != nil {
			return nil, fmt.Errorf("unmarshal baseline %s: %w", name, err)
		}
		set[name] = b
	}
	return set, rows.Err()
}

func (s *Store) DeleteTraits(ctx context.Context, personaID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM trait_baselines WHERE persona_id = $1`, personaID)
	if err != nil {
		return fmt.Errorf("delete traits: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.NotFound("store.delete_traits", personaID)
	}
	return nil
}
