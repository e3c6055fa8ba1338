package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/embedding"
	"github.com/nidhogg/nuka-mind/internal/memory"
	"github.com/nidhogg/nuka-mind/internal/persona"
)

// DefaultCollection holds every persona's memory vectors.
const DefaultCollection = "nuka_memories"

const (
	fieldPersona = "persona_id"
	fieldMemory  = "memory_id"
	fieldContent = "content"
)

var pointSpace = uuid.MustParse("6f1c2b9e-3d4a-5b6c-8d7e-9f0a1b2c3d4e")

// PointID maps a persona memory onto a stable Qdrant point id.
func PointID(personaID, memoryID string) string {
	return uuid.NewSHA1(pointSpace, []byte(personaID+"/"+memoryID)).String()
}

// Similar is a memory close to a query.
type Similar struct {
	MemoryID string  `json:"memory_id"`
	Content  string  `json:"content"`
	Score    float32 `json:"score"`
}

// Index keeps memory vectors in sync with the mind and answers
// similarity queries.
type Index struct {
	client     *Client
	embedder   embedding.Provider
	collection string
	logger     *zap.Logger
}

var _ persona.Sink = (*Index)(nil)

// NewIndex creates the collection if needed and returns an Index on it.
func NewIndex(ctx context.Context, client *Client, embedder embedding.Provider, collection string, logger *zap.Logger) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if err := client.EnsureCollection(ctx, collection, uint64(embedder.Dimension())); err != nil {
		return nil, err
	}
	return &Index{client: client, embedder: embedder, collection: collection, logger: logger}, nil
}

func memoryText(e *memory.Event) string {
	parts := []string{e.Content}
	if e.Context != "" {
		parts = append(parts, e.Context)
	}
	parts = append(parts, e.Tags...)
	return strings.Join(parts, " ")
}

// Publish indexes stored and updated memories and drops forgotten ones.
func (ix *Index) Publish(ctx context.Context, sig persona.Signal) error {
	switch sig.Kind {
	case persona.SignalMemoryStored, persona.SignalMemoryUpdated:
		if sig.Memory == nil {
			return nil
		}
		return ix.put(ctx, sig.PersonaID, sig.Memory)
	case persona.SignalMemoryForgotten:
		return ix.client.Delete(ctx, ix.collection, PointID(sig.PersonaID, sig.MemoryID))
	}
	return nil
}

func (ix *Index) put(ctx context.Context, personaID string, e *memory.Event) error {
	vs, err := ix.embedder.Embed(ctx, []string{memoryText(e)})
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", e.ID, err)
	}
	if embedding.IsZero(vs[0]) {
		ix.logger.Debug("memory has no indexable text", zap.String("memory", e.ID))
		return nil
	}
	return ix.client.Upsert(ctx, ix.collection, PointID(personaID, e.ID), vs[0], map[string]string{
		fieldPersona: personaID,
		fieldMemory:  e.ID,
		fieldContent: e.Content,
	})
}

// Similar returns up to limit memories of the persona nearest to text.
func (ix *Index) Similar(ctx context.Context, personaID, text string, limit int) ([]Similar, error) {
	if limit <= 0 {
		limit = 10
	}
	vs, err := ix.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if embedding.IsZero(vs[0]) {
		return nil, nil
	}
	hits, err := ix.client.Search(ctx, ix.collection, vs[0], fieldPersona, personaID, uint64(limit))
	if err != nil {
		return nil, err
	}
	out := make([]Similar, 0, len(hits))
	for _, h := range hits {
		out = append(out, Similar{MemoryID: h.Payload[fieldMemory], Content: h.Payload[fieldContent], Score: h.Score})
	}
	return out, nil
}
