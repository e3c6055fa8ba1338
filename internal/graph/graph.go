// Package graph mirrors a persona's memories and associations into Neo4j
// and recalls them by spreading activation over the mirrored edges.
package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Store handles the Neo4j side of the mind.
type Store struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// New connects to Neo4j. An empty user selects no authentication.
func New(uri, user, password string, logger *zap.Logger) (*Store, error) {
	auth := neo4j.NoAuth()
	if user != "" {
		auth = neo4j.BasicAuth(user, password, "")
	}
	driver, err := neo4j.NewDriverWithContext(uri, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	return &Store{driver: driver, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// EnsureSchema creates the lookup indexes. Safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, stmt := range []string{
		`CREATE INDEX memory_lookup IF NOT EXISTS FOR (m:Memory) ON (m.persona_id, m.id)`,
		`CREATE INDEX pattern_lookup IF NOT EXISTS FOR (p:Pattern) ON (p.persona_id, p.id)`,
	} {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

func (s *Store) write(ctx context.Context, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	return err
}
