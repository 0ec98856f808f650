package integral

import (
	"prismbridge/internal/state"

	"go.uber.org/zap"
)

// Store persists the running total between restarts
type Store interface {
	LoadLastState(entityID string) (string, error)
	SaveState(entityID, value string) error
}

// ApplyFunc publishes the derived value of the sensor
type ApplyFunc func(value string, known, available bool)

// Sensor binds an Accumulator to the state stream of its source entity.
// It never reads MQTT and never mutates the source.
type Sensor struct {
	entityID string
	sourceID string
	acc      *Accumulator
	store    Store
	apply    ApplyFunc
	logger   *zap.Logger
	sub      state.Subscription
}

// NewSensor creates an integral sensor for entityID watching sourceID
func NewSensor(entityID, sourceID string, places int32, store Store, apply ApplyFunc, logger *zap.Logger) *Sensor {
	return &Sensor{
		entityID: entityID,
		sourceID: sourceID,
		acc:      NewAccumulator(places),
		store:    store,
		apply:    apply,
		logger:   logger.With(zap.String("entity_id", entityID), zap.String("source", sourceID)),
	}
}

// SourceID returns the entity id being integrated
func (s *Sensor) SourceID() string { return s.sourceID }

// Accumulator exposes the running total
func (s *Sensor) Accumulator() *Accumulator { return s.acc }

// Activate restores the persisted total and starts watching the source
func (s *Sensor) Activate(hub *state.Hub) {
	s.restore()
	s.sub = hub.Subscribe(s.sourceID, s.handle)
}

// Deactivate stops watching the source
func (s *Sensor) Deactivate() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *Sensor) restore() {
	if s.store == nil {
		s.logger.Warn("No state store, starting integral from zero")
		return
	}

	raw, err := s.store.LoadLastState(s.entityID)
	if err == nil {
		err = s.acc.Restore(raw)
	}
	if err != nil {
		s.logger.Warn("Could not restore integral, starting from zero", zap.Error(err))
		return
	}

	s.logger.Info("Restored integral", zap.String("total", s.acc.Total().String()))
	s.apply(s.acc.Display(), true, true)
}

func (s *Sensor) handle(_ string, old, new *state.State) {
	result, err := s.acc.Observe(old, new)
	if err != nil {
		s.logger.Warn("Ignoring unparsable source reading", zap.Error(err))
		return
	}

	switch result {
	case Baseline:
		return
	case Unavailable:
		s.apply(s.acc.Display(), true, false)
		return
	case Accumulated:
		s.persist()
	}
	s.apply(s.acc.Display(), true, true)
}

func (s *Sensor) persist() {
	if s.store == nil {
		return
	}
	if err := s.store.SaveState(s.entityID, s.acc.Total().String()); err != nil {
		s.logger.Error("Failed to persist integral", zap.Error(err))
	}
}
