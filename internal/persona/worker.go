package persona

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrWorkerStopped is returned by Do after Stop.
var ErrWorkerStopped = errors.New("persona worker stopped")

type job struct {
	fn   func(*Mind) error
	done chan error
}

// Worker owns a Mind and runs submitted jobs one at a time on its own
// goroutine. It is the only way the service touches a Mind.
type Worker struct {
	mind   *Mind
	jobs   chan job
	quit   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

// NewWorker wraps mind. Call Start before Do.
func NewWorker(mind *Mind, logger *zap.Logger) *Worker {
	return &Worker{
		mind:   mind,
		jobs:   make(chan job),
		quit:   make(chan struct{}),
		logger: logger,
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("persona worker started", zap.String("persona", w.mind.st.ID))
}

// Stop ends the loop after the running job and waits for it.
func (w *Worker) Stop() {
	w.once.Do(func() { close(w.quit) })
	w.wg.Wait()
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			j.done <- w.run(j.fn)
		}
	}
}

func (w *Worker) run(fn func(*Mind) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("persona job panicked", zap.Any("panic", r))
			err = errors.New("persona job panicked")
		}
	}()
	return fn(w.mind)
}

// Do runs fn on the worker goroutine and waits for its result. The
// context bounds the wait for a free slot; a job that has started runs
// to completion.
func (w *Worker) Do(ctx context.Context, fn func(*Mind) error) error {
	j := job{fn: fn, done: make(chan error, 1)}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrWorkerStopped
	case w.jobs <- j:
	}
	return <-j.done
}
