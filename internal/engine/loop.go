package engine

import (
	"context"
	"errors"
	"fmt"

	"prismbridge/internal/metrics"

	"go.uber.org/zap"
)

// DefaultInboxSize bounds the number of events waiting for the loop
const DefaultInboxSize = 256

// ErrStopped is returned when posting to a loop that is no longer running
var ErrStopped = errors.New("event loop stopped")

// Loop runs posted functions one at a time on a single goroutine. Every
// entity mutation happens inside a function run by the loop.
type Loop struct {
	inbox   chan func()
	stopped chan struct{}
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLoop creates a loop with an inbox of size events
func NewLoop(size int, logger *zap.Logger, m *metrics.Metrics) *Loop {
	if size <= 0 {
		size = DefaultInboxSize
	}
	return &Loop{
		inbox:   make(chan func(), size),
		stopped: make(chan struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Run processes events until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-l.inbox:
			l.metrics.SetInboxDepth(len(l.inbox))
			l.run(f)
		}
	}
}

// Post queues f. It blocks while the inbox is full.
func (l *Loop) Post(f func()) error {
	select {
	case <-l.stopped:
		return ErrStopped
	default:
	}

	select {
	case l.inbox <- f:
		l.metrics.SetInboxDepth(len(l.inbox))
		return nil
	case <-l.stopped:
		return ErrStopped
	}
}

// Do runs f on the loop and waits for it to return
func (l *Loop) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stopped:
		return ErrStopped
	}
}

// Stopped is closed once Run returned
func (l *Loop) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *Loop) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Recovered panic in event loop", zap.Error(fmt.Errorf("%v", r)))
		}
	}()
	f()
}
