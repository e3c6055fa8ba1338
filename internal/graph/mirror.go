package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/association"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/persona"
	"github.com/nidhogg/nuka-mind/internal/resonance"
)

var _ persona.Sink = (*Store)(nil)

// Publish applies a mind signal to the graph. Signals the graph does not
// model are ignored.
func (s *Store) Publish(ctx context.Context, sig persona.Signal) error {
	var err error
	switch sig.Kind {
	case persona.SignalMemoryStored, persona.SignalMemoryUpdated:
		if sig.Memory == nil {
			return nil
		}
		err = s.write(ctx, func(tx neo4j.ManagedTransaction) error {
			if err := upsertMemory(ctx, tx, sig.PersonaID, sig.Memory); err != nil {
				return err
			}
			return linkMemories(ctx, tx, sig.PersonaID, sig.Connections)
		})
	case persona.SignalMemoryForgotten:
		err = s.write(ctx, func(tx neo4j.ManagedTransaction) error {
			_, err := tx.Run(ctx,
				`MATCH (m:Memory {persona_id: $persona, id: $id}) DETACH DELETE m`,
				map[string]any{"persona": sig.PersonaID, "id": sig.MemoryID})
			return err
		})
	case persona.SignalPattern:
		if sig.Pattern == nil {
			return nil
		}
		err = s.write(ctx, func(tx neo4j.ManagedTransaction) error {
			return upsertPattern(ctx, tx, sig.PersonaID, sig.Pattern)
		})
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("graph %s: %w", sig.Kind, err)
	}
	s.logger.Debug("graph mirrored signal",
		zap.String("persona", sig.PersonaID),
		zap.String("kind", string(sig.Kind)))
	return nil
}

func upsertMemory(ctx context.Context, tx neo4j.ManagedTransaction, personaID string, e *memory.Event) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := tx.Run(ctx,
		`MERGE (m:Memory {persona_id: $persona, id: $id})
		 ON CREATE SET m.activation_level = 0.0, m.access_count = 0,
		               m.created_at = $createdAt, m.last_activated = $createdAt
		 SET m.content = $content, m.importance = $importance,
		     m.emotional_weight = $weight, m.tags = $tags, m.trigger = $trigger,
		     m.traits = $traits`,
		map[string]any{
			"persona":    personaID,
			"id":         e.ID,
			"content":    e.Content,
			"importance": e.Importance,
			"weight":     e.EmotionalWeight,
			"tags":       tags,
			"trigger":    e.Trigger,
			"traits":     e.Traits(),
			"createdAt":  e.CreatedAt,
		})
	return err
}

func linkMemories(ctx context.Context, tx neo4j.ManagedTransaction, personaID string, conns []association.Connection) error {
	if len(conns) == 0 {
		return nil
	}
	edges := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		shared := c.SharedTraits
		if shared == nil {
			shared = []string{}
		}
		edges = append(edges, map[string]any{
			"source":   c.Source,
			"target":   c.Target,
			"strength": c.Strength,
			"type":     string(c.Type),
			"shared":   shared,
		})
	}
	_, err := tx.Run(ctx,
		`UNWIND $edges AS e
		 MATCH (a:Memory {persona_id: $persona, id: e.source}),
		       (b:Memory {persona_id: $persona, id: e.target})
		 MERGE (a)-[r:CONNECTED]-(b)
		 SET r.weight = e.strength, r.type = e.type, r.shared_traits = e.shared`,
		map[string]any{"persona": personaID, "edges": edges})
	return err
}

func upsertPattern(ctx context.Context, tx neo4j.ManagedTransaction, personaID string, p *resonance.Pattern) error {
	ids := make([]string, 0, len(p.Memories))
	for _, m := range p.Memories {
		ids = append(ids, m.ID)
	}
	_, err := tx.Run(ctx,
		`MERGE (p:Pattern {persona_id: $persona, id: $id})
		 SET p.type = $type, p.intensity = $intensity, p.last_triggered = $lastTriggered
		 WITH p
		 UNWIND $memories AS mid
		 MATCH (m:Memory {persona_id: $persona, id: mid})
		 MERGE (m)-[:PART_OF]->(p)`,
		map[string]any{
			"persona":       personaID,
			"id":            p.ID,
			"type":          p.PatternType,
			"intensity":     p.CurrentIntensity,
			"lastTriggered": p.LastTriggered,
			"memories":      ids,
		})
	return err
}
