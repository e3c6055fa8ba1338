package clock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/nuka-mind/internal/persona"
)

// Maintenance operations a sweeper knows by name.
const (
	OpTick        = "tick"
	OpAnalyze     = "analyze"
	OpInfluence   = "influence"
	OpReflect     = "reflect"
	OpLongReflect = "long_reflect"
	OpPrune       = "prune"
	OpDrift       = "drift"
	OpConsolidate = "consolidate"
	OpSave        = "save"
)

// ErrUnknownOp is returned by RunNow for an operation it cannot run.
var ErrUnknownOp = errors.New("unknown maintenance op")

// RunFunc is one maintenance step, executed on the persona's worker.
type RunFunc func(ctx context.Context, m *persona.Mind, now time.Time) error

// Job runs Run every Every of world time.
type Job struct {
	Op    string
	Every time.Duration
	Run   RunFunc
}

// MindOp returns the RunFunc of a built-in maintenance operation.
func MindOp(op string) (RunFunc, bool) {
	switch op {
	case OpTick:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Tick(ctx, now)
			return err
		}, true
	case OpAnalyze:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Analyze(ctx, now)
			return err
		}, true
	case OpInfluence:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Influence(ctx, now)
			return err
		}, true
	case OpReflect:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Reflect(ctx, now)
			return err
		}, true
	case OpLongReflect:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.ReflectLongTerm(ctx, now)
			return err
		}, true
	case OpPrune:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Prune(ctx, now)
			return err
		}, true
	case OpDrift:
		return func(ctx context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Drift(ctx, now)
			return err
		}, true
	case OpConsolidate:
		return func(_ context.Context, m *persona.Mind, now time.Time) error {
			_, err := m.Consolidate(now)
			return err
		}, true
	case OpSave:
		return func(ctx context.Context, m *persona.Mind, _ time.Time) error {
			return m.Save(ctx)
		}, true
	}
	return nil, false
}

type scheduled struct {
	Job
	last time.Time
}

// Sweeper is a Listener that runs due maintenance jobs through the
// persona worker, in registration order.
type Sweeper struct {
	worker  *persona.Worker
	jobs    []*scheduled
	timeout time.Duration
	mu      sync.Mutex
	logger  *zap.Logger
}

// NewSweeper creates a sweeper for the given jobs.
func NewSweeper(w *persona.Worker, logger *zap.Logger, jobs ...Job) *Sweeper {
	s := &Sweeper{worker: w, timeout: 30 * time.Second, logger: logger}
	for _, j := range jobs {
		s.jobs = append(s.jobs, &scheduled{Job: j})
	}
	return s
}

// OnTick implements Listener. The first tick only starts every job's
// interval.
func (s *Sweeper) OnTick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []Job
	for _, j := range s.jobs {
		if j.Every <= 0 {
			continue
		}
		if j.last.IsZero() {
			j.last = now
			continue
		}
		if now.Sub(j.last) < j.Every {
			continue
		}
		j.last = now
		due = append(due, j.Job)
	}
	s.mu.Unlock()

	for _, j := range due {
		if err := s.run(ctx, j.Op, j.Run, now); err != nil {
			s.logger.Warn("maintenance failed", zap.String("op", j.Op), zap.Error(err))
		}
	}
}

// RunNow runs one operation immediately, bypassing its schedule. Both
// registered jobs and the built-in mind operations are accepted.
func (s *Sweeper) RunNow(ctx context.Context, op string, now time.Time) error {
	s.mu.Lock()
	var fn RunFunc
	for _, j := range s.jobs {
		if j.Op == op {
			fn = j.Run
			break
		}
	}
	s.mu.Unlock()
	if fn == nil {
		var ok bool
		if fn, ok = MindOp(op); !ok {
			return fmt.Errorf("%w %q", ErrUnknownOp, op)
		}
	}
	return s.run(ctx, op, fn, now)
}

func (s *Sweeper) run(ctx context.Context, op string, fn RunFunc, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.worker.Do(ctx, func(m *persona.Mind) error { return fn(ctx, m, now) })
	if err == nil {
		s.logger.Debug("maintenance done",
			zap.String("op", op),
			zap.Time("world_time", now),
			zap.Duration("took", time.Since(start)))
	}
	return err
}

// order in which due jobs run within one tick.
var order = []string{OpConsolidate, OpTick, OpAnalyze, OpInfluence, OpReflect, OpLongReflect, OpPrune, OpDrift, OpSave}

// Schedule builds jobs for the built-in operations that have a positive
// interval. Unknown names are returned so the caller can wire or reject
// them.
func Schedule(intervals map[string]time.Duration) (jobs []Job, unknown []string) {
	for _, op := range order {
		every := intervals[op]
		if every <= 0 {
			continue
		}
		fn, _ := MindOp(op)
		jobs = append(jobs, Job{Op: op, Every: every, Run: fn})
	}
	for op := range intervals {
		if _, ok := MindOp(op); !ok {
			unknown = append(unknown, op)
		}
	}
	slices.Sort(unknown)
	return jobs, unknown
}
