// Package state holds the last published state of every entity and fans
// state changes out to subscribers.
package state

import (
	"reflect"
	"sort"
	"sync"

	"prismbridge/internal/clock"

	"go.uber.org/zap"
)

type subscription struct {
	hub      *Hub
	entityID string
	id       uint64
}

func (s *subscription) Unsubscribe() {
	s.hub.unsubscribe(s.entityID, s.id)
}

type handlerEntry struct {
	id      uint64
	handler ChangeHandler
}

// Hub stores entity states. Handlers run synchronously on the goroutine
// calling Set or Remove, after the hub lock is released, so they must not
// block.
type Hub struct {
	clock  clock.Clock
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]*State

	subsMu      sync.RWMutex
	subscribers map[string][]handlerEntry
	global      []handlerEntry
	nextID      uint64
}

// NewHub creates an empty state hub
func NewHub(clk clock.Clock, logger *zap.Logger) *Hub {
	return &Hub{
		clock:       clk,
		logger:      logger,
		states:      make(map[string]*State),
		subscribers: make(map[string][]handlerEntry),
	}
}

// Set records a new state for entityID.
// It returns false without notifying when neither the state string nor the
// attributes changed.
func (h *Hub) Set(entityID, value string, attrs map[string]any) bool {
	now := h.clock.Now()

	h.mu.Lock()
	old, exists := h.states[entityID]
	if exists && old.State == value && reflect.DeepEqual(old.Attributes, attrs) {
		h.mu.Unlock()
		return false
	}

	next := &State{
		EntityID:    entityID,
		State:       value,
		Attributes:  copyAttributes(attrs),
		LastChanged: now,
		LastUpdated: now,
	}
	if exists && old.State == value {
		next.LastChanged = old.LastChanged
	}
	h.states[entityID] = next

	var prev *State
	if exists {
		prev = old.clone()
	}
	cur := next.clone()
	h.mu.Unlock()

	h.logger.Debug("State changed",
		zap.String("entity_id", entityID),
		zap.String("state", value))

	h.notifySubscribers(entityID, prev, cur)
	return true
}

// Remove forgets entityID and notifies subscribers with a nil new state
func (h *Hub) Remove(entityID string) {
	h.mu.Lock()
	old, exists := h.states[entityID]
	delete(h.states, entityID)
	h.mu.Unlock()

	if exists {
		h.notifySubscribers(entityID, old.clone(), nil)
	}
}

// Get returns a copy of the current state of entityID
func (h *Hub) Get(entityID string) (*State, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.states[entityID]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

// All returns a copy of every state, sorted by entity id
func (h *Hub) All() []*State {
	h.mu.RLock()
	result := make([]*State, 0, len(h.states))
	for _, s := range h.states {
		result = append(result, s.clone())
	}
	h.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].EntityID < result[j].EntityID
	})
	return result
}

// Subscribe registers handler for changes of one entity
func (h *Hub) Subscribe(entityID string, handler ChangeHandler) Subscription {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	h.nextID++
	h.subscribers[entityID] = append(h.subscribers[entityID], handlerEntry{id: h.nextID, handler: handler})
	return &subscription{hub: h, entityID: entityID, id: h.nextID}
}

// SubscribeAll registers handler for changes of every entity
func (h *Hub) SubscribeAll(handler ChangeHandler) Subscription {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	h.nextID++
	h.global = append(h.global, handlerEntry{id: h.nextID, handler: handler})
	return &subscription{hub: h, id: h.nextID}
}

func (h *Hub) unsubscribe(entityID string, id uint64) {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	if entityID == "" {
		h.global = removeEntry(h.global, id)
		return
	}
	h.subscribers[entityID] = removeEntry(h.subscribers[entityID], id)
	if len(h.subscribers[entityID]) == 0 {
		delete(h.subscribers, entityID)
	}
}

func copyAttributes(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

func removeEntry(entries []handlerEntry, id uint64) []handlerEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

// notifySubscribers calls entity handlers first, then global ones
func (h *Hub) notifySubscribers(entityID string, old, new *State) {
	h.subsMu.RLock()
	handlers := make([]ChangeHandler, 0, len(h.subscribers[entityID])+len(h.global))
	for _, e := range h.subscribers[entityID] {
		handlers = append(handlers, e.handler)
	}
	for _, e := range h.global {
		handlers = append(handlers, e.handler)
	}
	h.subsMu.RUnlock()

	for _, handler := range handlers {
		handler(entityID, old, new)
	}
}
