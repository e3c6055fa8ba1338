package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/persona"
	"github.com/nidhogg/nuka-mind/internal/resonance"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container test skipped in short mode")
	}
	ctx := context.Background()
	c, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, c)
	require.NoError(t, err)

	endpoint, err := c.Endpoint(ctx, "")
	require.NoError(t, err)
	b, err := New(ctx, "redis://"+endpoint, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func next(t *testing.T, ch <-chan persona.Signal) persona.Signal {
	t.Helper()
	select {
	case sig, ok := <-ch:
		require.True(t, ok, "subscription closed early")
		return sig
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for signal")
		return persona.Signal{}
	}
}

func TestPublishSubscribeReplay(t *testing.T) {
	b := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, b.Publish(ctx, persona.Signal{Kind: persona.SignalMemoryForgotten, PersonaID: "p1", MemoryID: "m1", At: at}))
	require.NoError(t, b.Publish(ctx, persona.Signal{
		Kind:      persona.SignalPattern,
		PersonaID: "p1",
		At:        at,
		Pattern:   &resonance.Pattern{ID: "pat", PatternType: "joy", CurrentIntensity: 0.8},
	}))
	require.NoError(t, b.Publish(ctx, persona.Signal{Kind: persona.SignalMemoryForgotten, PersonaID: "p2", MemoryID: "other"}))

	ch := b.Subscribe(ctx, "p1", "0")
	first := next(t, ch)
	assert.Equal(t, persona.SignalMemoryForgotten, first.Kind)
	assert.Equal(t, "m1", first.MemoryID)
	assert.True(t, at.Equal(first.At))
	second := next(t, ch)
	require.NotNil(t, second.Pattern)
	assert.Equal(t, "joy", second.Pattern.PatternType)

	require.NoError(t, b.Publish(ctx, persona.Signal{Kind: persona.SignalInsight, PersonaID: "p1"}))
	assert.Equal(t, persona.SignalInsight, next(t, ch).Kind)

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(10 * time.Second):
		t.Fatal("subscription did not close after cancel")
	}
}
