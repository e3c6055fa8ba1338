package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/association"
	"github.com/nidhogg/nuka-mind/internal/fault"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/persona"
	"github.com/nidhogg/nuka-mind/internal/resonance"
	"github.com/nidhogg/nuka-mind/internal/trait"
)

// SaveSnapshot replaces everything stored for the persona in a single
// transaction. Any failure rolls the whole write set back.
func (s *Store) SaveSnapshot(ctx context.Context, snap *persona.Snapshot) error {
	res, err := json.Marshal(snap.Resonance)
	if err != nil {
		return fmt.Errorf("marshal resonance: %w", err)
	}
	graph, err := json.Marshal(snap.Graph)
	if err != nil {
		return fmt.Errorf("marshal graph: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	id := snap.PersonaID
	for _, table := range []string{"persona_memories", "trait_baselines", "trait_metrics"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE persona_id = $1`, id); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	batch := &pgx.Batch{}
	for _, e := range snap.Memories {
		tier := memory.ShortTerm
		if slices.Contains(snap.LongTerm, e.ID) {
			tier = memory.LongTerm
		}
		args, err := memoryArgs(id, e, tier)
		if err != nil {
			return err
		}
		batch.Queue(upsertMemory, args...)
	}
	for name, m := range snap.Metrics {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal metrics %s: %w", name, err)
		}
		batch.Queue(`INSERT INTO trait_metrics (persona_id, trait, metrics) VALUES ($1, $2, $3)`, id, name, data)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("write snapshot rows: %w", err)
		}
	}

	if err := upsertTraits(ctx, tx, id, snap.Baselines); err != nil {
		return err
	}
	if snap.Emotional.ID != "" {
		if err := saveEmotionalState(ctx, tx, id, snap.Emotional); err != nil {
			return err
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO persona_snapshots (persona_id, name, resonance, graph, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (persona_id) DO UPDATE SET
			name = EXCLUDED.name, resonance = EXCLUDED.resonance,
			graph = EXCLUDED.graph, saved_at = EXCLUDED.saved_at`,
		id, snap.Name, res, graph, snap.SavedAt)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	s.logger.Debug("snapshot saved",
		zap.String("persona", id),
		zap.Int("memories", len(snap.Memories)),
		zap.Int("traits", len(snap.Baselines)))
	return nil
}

// LoadSnapshot reads a persona back inside one read-only transaction.
func (s *Store) LoadSnapshot(ctx context.Context, personaID string) (*persona.Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	snap := &persona.Snapshot{PersonaID: personaID}
	var (
		res, graph []byte
		savedAt    time.Time
	)
	err = tx.QueryRow(ctx, `SELECT name, resonance, graph, saved_at
		FROM persona_snapshots WHERE persona_id = $1`, personaID).Scan(&snap.Name, &res, &graph, &savedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.NotFound("store.load_snapshot", personaID)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap.SavedAt = savedAt
	snap.Resonance = resonance.NewState()
	if err := json.Unmarshal(res, snap.Resonance); err != nil {
		return nil, fmt.Errorf("unmarshal resonance: %w", err)
	}
	snap.Graph = association.NewState()
	if err := json.Unmarshal(graph, snap.Graph); err != nil {
		return nil, fmt.Errorf("unmarshal graph: %w", err)
	}

	for te, err := range s.queryTiered(ctx, tx, personaID) {
		if err != nil {
			return nil, err
		}
		snap.Memories = append(snap.Memories, te.event)
		if te.tier == memory.LongTerm {
			snap.LongTerm = append(snap.LongTerm, te.event.ID)
		}
	}

	if snap.Baselines, err = loadTraits(ctx, tx, personaID); err != nil {
		return nil, err
	}
	if snap.Metrics, err = loadMetrics(ctx, tx, personaID); err != nil {
		return nil, err
	}
	snap.Emotional, err = latestEmotionalState(ctx, tx, personaID)
	if err != nil && !fault.IsNotFound(err) {
		return nil, err
	}
	return snap, nil
}

func loadMetrics(ctx context.Context, q querier, personaID string) (map[string]trait.Metrics, error) {
	rows, err := q.Query(ctx, `SELECT trait, metrics FROM trait_metrics WHERE persona_id = $1`, personaID)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	defer rows.Close()

	set := make(map[string]trait.Metrics)
	for rows.Next() {
		var (
			name string
			data []byte
			m    trait.Metrics
		)
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("unmarshal metrics %s: %w", name, err)
		}
		set[name] = m
	}
	return set, rows.Err()
}
