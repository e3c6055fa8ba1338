package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/persona"
)

var t0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

type countingListener struct {
	mu    sync.Mutex
	ticks []time.Time
}

func (l *countingListener) OnTick(_ context.Context, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ticks = append(l.ticks, now)
}

func (l *countingListener) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ticks)
}

func TestClockRunsFasterThanRealTime(t *testing.T) {
	c := New(t0, 10*time.Millisecond, 360, zap.NewNop())
	l := &countingListener{}
	c.AddListener(l)
	c.Start(context.Background())
	require.Eventually(t, func() bool { return l.count() >= 2 }, 5*time.Second, 5*time.Millisecond)
	c.Stop()
	c.Stop()

	n := l.count()
	assert.Equal(t, t0.Add(time.Duration(n)*3600*time.Millisecond), c.Now())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, l.count(), "no ticks after Stop")

	c.SetSpeed(0)
	c.Advance(context.Background(), time.Hour)
	assert.Equal(t, n+1, l.count())
}

func TestSweeperRunsDueJobs(t *testing.T) {
	ctx := context.Background()
	clk := New(t0, time.Minute, 60, zap.NewNop())

	opts := persona.DefaultOptions()
	opts.PersonaID = "p1"
	opts.Traits = map[string]float64{"warmth": 0.5}
	opts.Now = clk.Now
	store := persona.NewMemoryStore()
	m := persona.NewMind(opts, store, zap.NewNop())
	require.NoError(t, m.Initialize(ctx))

	w := persona.NewWorker(m, zap.NewNop())
	w.Start()
	defer w.Stop()
	require.NoError(t, w.Do(ctx, func(m *persona.Mind) error {
		_, err := m.Trigger(ctx, "joy", 0.9)
		return err
	}))

	jobs, unknown := Schedule(map[string]time.Duration{
		OpTick:        time.Hour,
		OpSave:        2 * time.Hour,
		OpAnalyze:     0,
		"graph_decay": time.Hour,
	})
	assert.Equal(t, []string{"graph_decay"}, unknown)
	require.Len(t, jobs, 2)
	assert.Equal(t, OpTick, jobs[0].Op)

	var ran []time.Time
	jobs = append(jobs, Job{Op: "audit", Every: time.Hour, Run: func(_ context.Context, _ *persona.Mind, now time.Time) error {
		ran = append(ran, now)
		return nil
	}})
	s := NewSweeper(w, zap.NewNop(), jobs...)
	clk.AddListener(s)

	clk.Advance(ctx, time.Minute)
	assert.Empty(t, ran, "first tick only starts the intervals")
	clk.Advance(ctx, 30*time.Minute)
	assert.Empty(t, ran)
	clk.Advance(ctx, 24*time.Hour)
	require.Len(t, ran, 1)
	assert.Equal(t, clk.Now(), ran[0])

	var patterns int
	require.NoError(t, w.Do(ctx, func(m *persona.Mind) error {
		patterns = len(m.Patterns())
		return nil
	}))
	assert.Equal(t, 1, patterns)
	_, err := store.LoadSnapshot(ctx, "p1")
	require.NoError(t, err, "save job persisted the persona")

	assert.Error(t, s.RunNow(ctx, "nope", clk.Now()))
	require.NoError(t, s.RunNow(ctx, OpReflect, clk.Now()))
	require.NoError(t, s.RunNow(ctx, "audit", clk.Now()))
	assert.Len(t, ran, 2)
}

func TestEveryBuiltInOpRuns(t *testing.T) {
	ctx := context.Background()
	opts := persona.DefaultOptions()
	opts.Now = func() time.Time { return t0 }
	m := persona.NewMind(opts, persona.NewMemoryStore(), zap.NewNop())
	require.NoError(t, m.Initialize(ctx))
	for _, op := range order {
		fn, ok := MindOp(op)
		require.True(t, ok, op)
		assert.NoError(t, fn(ctx, m, t0.Add(time.Hour)), op)
	}
}
