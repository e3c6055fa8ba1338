package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// DecayConfig controls how recall activation fades.
type DecayConfig struct {
	HalfLifeHours float64 // time for activation to halve (default 168 = 1 week)
	MinActivation float64 // floor value (default 0.05)
	UsageBoost    float64 // boost per recall (default 0.15)
}

// DefaultDecayConfig returns the decay defaults.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{
		HalfLifeHours: 168,
		MinActivation: 0.05,
		UsageBoost:    0.15,
	}
}

// DecaySweep applies exponential decay to the recall activation of every
// memory node of the persona: activation * 2^(-hours/half_life), floored
// at MinActivation. Decayed nodes restart their clock at now. It returns
// the number of nodes touched.
func (s *Store) DecaySweep(ctx context.Context, personaID string, now time.Time, cfg DecayConfig) (int, error) {
	if cfg.HalfLifeHours == 0 {
		cfg = DefaultDecayConfig()
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {persona_id: $persona})
		 WHERE m.activation_level > $minAct
		 WITH m, duration.inSeconds(m.last_activated, $now).seconds / 3600.0 AS hours
		 WHERE hours > 0
		 WITH m, m.activation_level * (0.5 ^ (hours / $halfLife)) AS decayed
		 SET m.activation_level = CASE WHEN decayed < $minAct THEN $minAct ELSE decayed END,
		     m.last_activated = $now
		 RETURN count(m) AS updated`,
		map[string]any{
			"persona":  personaID,
			"now":      now,
			"halfLife": cfg.HalfLifeHours,
			"minAct":   cfg.MinActivation,
		})
	if err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}

	var updated int
	if result.Next(ctx) {
		if v, ok := result.Record().Get("updated"); ok {
			updated = int(v.(int64))
		}
	}
	if err := result.Err(); err != nil {
		return 0, fmt.Errorf("decay sweep: %w", err)
	}

	s.logger.Info("decay sweep complete",
		zap.String("persona", personaID),
		zap.Int("updated", updated))
	return updated, nil
}

// BoostAccess reinforces recalled memories: activation rises by the usage
// boost, capped at 1, and the access count increments.
func (s *Store) BoostAccess(ctx context.Context, personaID string, ids []string, now time.Time, cfg DecayConfig) error {
	if cfg.UsageBoost == 0 {
		cfg = DefaultDecayConfig()
	}
	if len(ids) == 0 {
		return nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (m:Memory {persona_id: $persona})
		 WHERE m.id IN $ids
		 SET m.activation_level = CASE
		       WHEN m.activation_level + $boost > 1.0 THEN 1.0
		       ELSE m.activation_level + $boost
		     END,
		     m.last_activated = $now,
		     m.access_count = m.access_count + 1`,
		map[string]any{
			"persona": personaID,
			"ids":     ids,
			"now":     now,
			"boost":   cfg.UsageBoost,
		})
	if err != nil {
		return fmt.Errorf("boost access: %w", err)
	}
	return nil
}

// Activation returns the current recall activation of one memory node.
func (s *Store) Activation(ctx context.Context, personaID, id string) (float64, bool, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {persona_id: $persona, id: $id}) RETURN m.activation_level AS level`,
		map[string]any{"persona": personaID, "id": id})
	if err != nil {
		return 0, false, err
	}
	if !result.Next(ctx) {
		return 0, false, result.Err()
	}
	v, _ := result.Record().Get("level")
	level, _ := v.(float64)
	return level, true, nil
}
