package engine

import (
	"context"
	"sync"

	"prismbridge/internal/metrics"
	"prismbridge/internal/mqtt"

	"go.uber.org/zap"
)

// outgoing is one queued publish. done, when set, runs on the sender
// goroutine with the publish result.
type outgoing struct {
	topic    string
	retained bool
	payload  string
	done     func(error)
}

// sender publishes queued messages in order on its own goroutine, so the
// loop never waits for a broker acknowledgement. Enqueueing never blocks.
type sender struct {
	transport mqtt.Transport
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu      sync.Mutex
	queue   []outgoing
	wake    chan struct{}
	stopped chan struct{}
}

func newSender(transport mqtt.Transport, logger *zap.Logger, m *metrics.Metrics) *sender {
	return &sender{
		transport: transport,
		logger:    logger,
		metrics:   m,
		wake:      make(chan struct{}, 1),
		stopped:   make(chan struct{}),
	}
}

func (s *sender) send(msg outgoing) {
	s.mu.Lock()
	s.queue = append(s.queue, msg)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run publishes until ctx is cancelled. Messages still queued at that
// point are published before it returns.
func (s *sender) run(ctx context.Context) {
	defer close(s.stopped)
	for {
		select {
		case <-s.wake:
			s.drain()
		case <-ctx.Done():
			s.drain()
			return
		}
	}
}

func (s *sender) drain() {
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, msg := range batch {
			s.deliver(msg)
		}
	}
}

func (s *sender) deliver(msg outgoing) {
	var err error
	if msg.topic != "" {
		err = s.transport.Publish(msg.topic, msg.retained, msg.payload)
		s.metrics.Publish(err == nil)
		if err != nil {
			s.logger.Warn("Publish failed", zap.String("topic", msg.topic), zap.Error(err))
		}
	}
	if msg.done != nil {
		msg.done(err)
	}
}

// flush waits until everything queued before the call has been published
func (s *sender) flush(ctx context.Context) error {
	done := make(chan struct{})
	s.send(outgoing{done: func(error) { close(done) }})

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopped:
		return ErrStopped
	}
}
