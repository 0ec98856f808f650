package storage

import (
	"errors"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrClosed is returned when saving through a closed Writer
var ErrClosed = errors.New("state writer closed")

// Writer saves states to a Store on its own goroutine so callers never wait
// for the disk. While a write is pending only the latest value of each
// entity is kept.
type Writer struct {
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]string
	closed  bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewWriter starts a writer in front of store. Close flushes it and closes
// store.
func NewWriter(store Store, logger *zap.Logger) *Writer {
	w := &Writer{
		store:   store,
		logger:  logger.Named("storage"),
		pending: make(map[string]string),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w
}

// SaveState queues value and returns immediately
func (w *Writer) SaveState(entityID, value string) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.pending[entityID] = value
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// LoadLastState returns a pending value before asking the store
func (w *Writer) LoadLastState(entityID string) (string, error) {
	w.mu.Lock()
	v, ok := w.pending[entityID]
	w.mu.Unlock()
	if ok {
		return v, nil
	}
	return w.store.LoadLastState(entityID)
}

// Close writes everything pending and closes the store
func (w *Writer) Close() error {
	w.once.Do(func() {
		w.mu.Lock()
		w.closed = true
		w.mu.Unlock()
		close(w.quit)
	})
	<-w.done
	return w.store.Close()
}

func (w *Writer) run() {
	defer close(w.done)
	for {
		select {
		case <-w.wake:
			w.write()
		case <-w.quit:
			w.write()
			return
		}
	}
}

func (w *Writer) write() {
	w.mu.Lock()
	batch := make(map[string]string, len(w.pending))
	for id, v := range w.pending {
		batch[id] = v
	}
	w.mu.Unlock()

	var errs error
	for id, v := range batch {
		errs = multierr.Append(errs, w.store.SaveState(id, v))
	}
	if errs != nil {
		w.logger.Error("Failed to save states", zap.Int("states", len(batch)), zap.Error(errs))
	}

	// Entries saved again meanwhile stay pending
	w.mu.Lock()
	for id, v := range batch {
		if w.pending[id] == v {
			delete(w.pending, id)
		}
	}
	w.mu.Unlock()
}
