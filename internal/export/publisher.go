// Package export streams entity state changes to Kafka.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"prismbridge/internal/metrics"
	"prismbridge/internal/state"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// QueueSize bounds the changes waiting for the writer
const QueueSize = 256

// Config selects the Kafka destination. An empty broker list disables export.
type Config struct {
	Brokers []string
	Topic   string
}

// Enabled reports whether any broker is configured
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// Event is the JSON value of one exported change
type Event struct {
	EntityID    string    `json:"entity_id"`
	State       string    `json:"state"`
	Available   bool      `json:"available"`
	LastUpdated time.Time `json:"last_updated"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

var errNoTopic = errors.New("export topic must not be empty")

// Publisher queues state changes and writes them from a background worker.
// Enqueue never blocks; changes are dropped when the queue is full.
type Publisher struct {
	writer  messageWriter
	logger  *zap.Logger
	metrics *metrics.Metrics
	queue   chan kafka.Message

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPublisher creates a publisher backed by a kafka-go writer
func NewPublisher(cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Publisher, error) {
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errNoTopic
	}
	if !cfg.Enabled() {
		return nil, errors.New("at least one broker is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 100 * time.Millisecond,
	}
	logger.Info("Kafka export configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic))
	return newPublisher(w, logger, m), nil
}

func newPublisher(w messageWriter, logger *zap.Logger, m *metrics.Metrics) *Publisher {
	return &Publisher{
		writer:  w,
		logger:  logger.Named("export"),
		metrics: m,
		queue:   make(chan kafka.Message, QueueSize),
	}
}

// Start launches the writer worker
func (p *Publisher) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop cancels the worker, waits for it and closes the writer
func (p *Publisher) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if cerr := p.writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// Handle is a state.ChangeHandler that enqueues the new state
func (p *Publisher) Handle(entityID string, _, new *state.State) {
	if new == nil {
		return
	}
	value, err := json.Marshal(Event{
		EntityID:    entityID,
		State:       new.State,
		Available:   new.Available(),
		LastUpdated: new.LastUpdated,
	})
	if err != nil {
		p.metrics.Export(false)
		p.logger.Error("Failed to encode change", zap.String("entity_id", entityID), zap.Error(err))
		return
	}
	p.Enqueue(kafka.Message{Key: []byte(entityID), Value: value})
}

// Enqueue queues msg without blocking
func (p *Publisher) Enqueue(msg kafka.Message) bool {
	select {
	case p.queue <- msg:
		return true
	default:
		p.metrics.Export(false)
		p.logger.Warn("Export queue full, dropping change", zap.ByteString("key", msg.Key))
		return false
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return
		case msg := <-p.queue:
			p.deliver(ctx, msg)
		}
	}
}

// drain flushes what is still queued with a short deadline
func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		select {
		case msg := <-p.queue:
			p.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, msg kafka.Message) {
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.Export(false)
		p.logger.Warn("Kafka write failed", zap.ByteString("key", msg.Key), zap.Error(err))
		return
	}
	p.metrics.Export(true)
}
