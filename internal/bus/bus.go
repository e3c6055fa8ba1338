// Package bus streams mind signals through Redis Streams so other
// services can follow a persona's inner life.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/persona"
)

const streamPrefix = "nuka:mind:"

// DefaultMaxLen bounds each persona stream (approximate trimming).
const DefaultMaxLen = 10000

var _ persona.Sink = (*Bus)(nil)

// Bus publishes signals to one stream per persona.
type Bus struct {
	rdb    *redis.Client
	maxLen int64
	logger *zap.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, redisURL string, logger *zap.Logger) (*Bus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Bus{rdb: rdb, maxLen: DefaultMaxLen, logger: logger}, nil
}

// Stream returns the stream key of a persona.
func Stream(personaID string) string { return streamPrefix + personaID }

// Publish appends the signal to the persona's stream.
func (b *Bus) Publish(ctx context.Context, sig persona.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	stream := Stream(sig.PersonaID)
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{
			"kind": string(sig.Kind),
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}
	b.logger.Debug("published signal",
		zap.String("persona", sig.PersonaID),
		zap.String("kind", string(sig.Kind)))
	return nil
}

// Subscribe follows a persona's stream starting after fromID ("$" for new
// entries only, "0" to replay everything kept). The channel closes when
// ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, personaID, fromID string) <-chan persona.Signal {
	ch := make(chan persona.Signal, 16)
	stream := Stream(personaID)
	if fromID == "" {
		fromID = "$"
	}

	go func() {
		defer close(ch)
		lastID := fromID

		for ctx.Err() == nil {
			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("stream read failed", zap.String("stream", stream), zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(500 * time.Millisecond):
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var sig persona.Signal
					if err := json.Unmarshal([]byte(data), &sig); err != nil {
						b.logger.Warn("dropping malformed signal", zap.String("id", msg.ID), zap.Error(err))
						continue
					}
					select {
					case ch <- sig:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch
}

// Close shuts down the Redis connection.
func (b *Bus) Close() error {
	return b.rdb.Close()
}
