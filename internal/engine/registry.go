package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"prismbridge/internal/entity"
)

var (
	// ErrDuplicateKey is returned when two entities resolve to the same key or entity id
	ErrDuplicateKey = errors.New("duplicate entity key")

	// ErrDuplicateOutput is returned when two entities would write the same command topic
	ErrDuplicateOutput = errors.New("duplicate output topic")

	// ErrUnknownEntity is returned when a key or entity id is not registered
	ErrUnknownEntity = errors.New("unknown entity")
)

// Registry indexes the entities of one device. Entities keep their
// registration order.
type Registry struct {
	mu       sync.RWMutex
	entities []*entity.Entity
	byKey    map[string]*entity.Entity
	byID     map[string]*entity.Entity
	byTopic  map[string][]*entity.Entity
	byOutput map[string][]*entity.Entity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byKey:    make(map[string]*entity.Entity),
		byID:     make(map[string]*entity.Entity),
		byTopic:  make(map[string][]*entity.Entity),
		byOutput: make(map[string][]*entity.Entity),
	}
}

// Register adds e. It fails without changing the registry when the key,
// entity id or output topic is already taken. Buttons may share an output
// topic when their payloads differ.
func (r *Registry) Register(e *entity.Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byKey[e.Key()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key())
	}
	if _, exists := r.byID[e.EntityID()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.EntityID())
	}
	if out := e.OutputTopic(); out != "" {
		for _, other := range r.byOutput[out] {
			if !sharesOutput(e, other) {
				return fmt.Errorf("%w: %s used by %s and %s", ErrDuplicateOutput, out, other.Key(), e.Key())
			}
		}
	}

	r.entities = append(r.entities, e)
	r.byKey[e.Key()] = e
	r.byID[e.EntityID()] = e
	if t := e.Topic(); t != "" {
		r.byTopic[t] = append(r.byTopic[t], e)
	}
	if out := e.OutputTopic(); out != "" {
		r.byOutput[out] = append(r.byOutput[out], e)
	}
	return nil
}

func sharesOutput(a, b *entity.Entity) bool {
	da, db := a.Descriptor(), b.Descriptor()
	return da.Platform == entity.PlatformButton &&
		db.Platform == entity.PlatformButton &&
		da.Payload != db.Payload
}

// Lookup finds an entity by resolved key or by entity id
func (r *Registry) Lookup(name string) (*entity.Entity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byKey[name]; ok {
		return e, nil
	}
	if e, ok := r.byID[name]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
}

// ForTopic returns every entity bound to an input topic
func (r *Registry) ForTopic(topic string) []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*entity.Entity(nil), r.byTopic[topic]...)
}

// Topics returns the input topics, sorted
func (r *Registry) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make([]string, 0, len(r.byTopic))
	for t := range r.byTopic {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}

// All returns every entity in registration order
func (r *Registry) All() []*entity.Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*entity.Entity(nil), r.entities...)
}

// Len returns the number of registered entities
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
