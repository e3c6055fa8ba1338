// Package clock drives the mind's periodic maintenance from a world clock
// that may run faster than real time.
package clock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Listener receives clock ticks.
type Listener interface {
	OnTick(ctx context.Context, now time.Time)
}

// Clock advances world time by interval*speed on every real interval.
type Clock struct {
	speed     float64 // time multiplier, 1.0 = realtime
	interval  time.Duration
	listeners []Listener
	now       time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	done      chan struct{}
	logger    *zap.Logger
}

// New creates a clock starting at start.
func New(start time.Time, interval time.Duration, speed float64, logger *zap.Logger) *Clock {
	if speed <= 0 {
		speed = 1
	}
	return &Clock{
		speed:    speed,
		interval: interval,
		now:      start,
		logger:   logger,
	}
}

// AddListener registers a tick listener.
func (c *Clock) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// Now returns the current world time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// SetSpeed changes the time multiplier.
func (c *Clock) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
}

// Start begins the tick loop. It stops when ctx ends or Stop is called.
func (c *Clock) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.loop(ctx)
	c.logger.Info("world clock started",
		zap.Duration("interval", c.interval),
		zap.Float64("speed", c.speed))
}

// Stop halts the tick loop and waits for a running tick to finish.
func (c *Clock) Stop() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel = nil
	c.logger.Info("world clock stopped")
}

func (c *Clock) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			step := time.Duration(float64(c.interval) * c.speed)
			c.mu.RUnlock()
			c.Advance(ctx, step)
		}
	}
}

// Advance moves world time forward by d and notifies every listener.
func (c *Clock) Advance(ctx context.Context, d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, l := range listeners {
		l.OnTick(ctx, now)
	}
}
