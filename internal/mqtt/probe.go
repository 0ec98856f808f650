package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProbeTimeout is returned when the device did not answer in time
var ErrProbeTimeout = errors.New("timeout expired")

// Probe waits for one message on topic. The device publishes its core
// temperature retained, so a reachable device answers immediately.
func Probe(ctx context.Context, tr Transport, topic string, timeout time.Duration) error {
	got := make(chan struct{}, 1)
	err := tr.Subscribe(topic, func(string, []byte) {
		select {
		case got <- struct{}{}:
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("probe subscribe: %w", err)
	}
	defer tr.Unsubscribe(topic)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-got:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("no message on %s: %w", topic, ErrProbeTimeout)
		}
		return ctx.Err()
	}
}
