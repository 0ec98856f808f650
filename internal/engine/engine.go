// Package engine binds the charger's entities to the broker. A single
// event loop owns every entity; transport and timer callbacks are posted
// to it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"prismbridge/internal/clock"
	"prismbridge/internal/entity"
	"prismbridge/internal/integral"
	"prismbridge/internal/metrics"
	"prismbridge/internal/mqtt"
	"prismbridge/internal/prism"
	"prismbridge/internal/state"
	"prismbridge/internal/topic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options configures an Engine
type Options struct {
	Runtime   prism.Runtime
	Transport mqtt.Transport
	Hub       *state.Hub
	Store     integral.Store
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Topics    mqtt.Topics
	InboxSize int
}

type published struct {
	payload   string
	available bool
}

// Engine runs the entities of one charger
type Engine struct {
	rt        prism.Runtime
	transport mqtt.Transport
	hub       *state.Hub
	store     integral.Store
	logger    *zap.Logger
	metrics   *metrics.Metrics
	topics    mqtt.Topics

	loop      *Loop
	sender    *sender
	registry  *Registry
	integrals []*integral.Sensor
	setupErr  error

	// owned by the loop
	published map[string]published

	mu         sync.Mutex
	running    bool
	stopped    bool
	cancel     context.CancelFunc
	subscribed []string
}

// New builds every entity of the runtime's plan. Entities that fail to
// build or collide with an earlier one are skipped; their errors are
// returned by SetupError.
func New(opts Options) (*Engine, error) {
	if opts.Transport == nil {
		return nil, errors.New("engine: transport is required")
	}
	if opts.Hub == nil {
		return nil, errors.New("engine: state hub is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Topics.DiscoveryPrefix == "" {
		opts.Topics.DiscoveryPrefix = "homeassistant"
	}
	if opts.Topics.StatePrefix == "" {
		opts.Topics.StatePrefix = topic.ObjectPrefix
	}
	if err := opts.Runtime.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		rt:        opts.Runtime,
		transport: opts.Transport,
		hub:       opts.Hub,
		store:     opts.Store,
		logger:    opts.Logger.Named("engine"),
		metrics:   opts.Metrics,
		topics:    opts.Topics,
		loop:      NewLoop(opts.InboxSize, opts.Logger.Named("loop"), opts.Metrics),
		sender:    newSender(opts.Transport, opts.Logger.Named("sender"), opts.Metrics),
		registry:  NewRegistry(),
		published: make(map[string]published),
	}
	e.setup(loopScheduler{clock: opts.Clock, loop: e.loop})
	return e, nil
}

func (e *Engine) setup(sched entity.Scheduler) {
	ctx := entity.Context{
		Prefix:    e.rt.Prefix,
		Serial:    e.rt.Serial,
		MultiPort: e.rt.MultiPort(),
		Scheduler: sched,
		Observer:  e,
		Logger:    e.logger,
	}

	for _, b := range e.rt.Plan() {
		if err := e.add(b, ctx); err != nil {
			e.logger.Error("Skipping entity",
				zap.String("key", b.Descriptor.Key),
				zap.Int("port", b.Port),
				zap.Error(err))
			e.setupErr = multierr.Append(e.setupErr, err)
		}
	}

	e.logger.Info("Entities built",
		zap.Int("entities", e.registry.Len()),
		zap.Int("ports", e.rt.Ports),
		zap.Int("integrals", len(e.integrals)))
}

func (e *Engine) add(b prism.Binding, ctx entity.Context) error {
	ent, err := entity.New(b.Descriptor, b.Port, ctx)
	if err != nil {
		return err
	}

	var sensor *integral.Sensor
	if b.Descriptor.Kind == entity.KindIntegral {
		if sensor, err = e.integralFor(ent); err != nil {
			ent.Close()
			return err
		}
	}
	if err := e.registry.Register(ent); err != nil {
		ent.Close()
		return err
	}
	if sensor != nil {
		e.integrals = append(e.integrals, sensor)
	}
	return nil
}

func (e *Engine) integralFor(ent *entity.Entity) (*integral.Sensor, error) {
	desc := ent.Descriptor()
	source, err := e.registry.Lookup(topic.ResolveKey(desc.Source, ent.Port(), e.rt.MultiPort()))
	if err != nil {
		return nil, fmt.Errorf("integral %s: source: %w", ent.Key(), err)
	}

	places := int32(1)
	if desc.Meta.Precision != nil {
		places = int32(*desc.Meta.Precision)
	}
	return integral.NewSensor(ent.EntityID(), source.EntityID(), places, e.store, ent.Apply, e.logger), nil
}

// SetupError returns the combined errors of skipped entities
func (e *Engine) SetupError() error {
	return e.setupErr
}

// Registry returns the entity index
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Start runs the loop, announces every entity and subscribes to the
// device and command topics. A stopped engine cannot be started again.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return fmt.Errorf("start engine: %w", ErrStopped)
	}
	if e.running {
		return errors.New("engine already started")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	go e.loop.Run(runCtx)
	go e.sender.run(runCtx)
	e.cancel = cancel
	e.running = true

	if err := e.loop.Do(ctx, e.announce); err != nil {
		return fmt.Errorf("announce entities: %w", err)
	}
	if err := e.sender.flush(ctx); err != nil {
		return fmt.Errorf("announce entities: %w", err)
	}

	for _, t := range e.registry.Topics() {
		if err := e.transport.Subscribe(t, e.onDeviceMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		e.subscribed = append(e.subscribed, t)
	}

	for _, ent := range e.registry.All() {
		if !ent.Descriptor().Writable() {
			continue
		}
		t := e.topics.Command(ent.Descriptor().Platform, ent.UniqueID())
		if err := e.transport.Subscribe(t, e.onCommandMessage(ent.Key())); err != nil {
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		e.subscribed = append(e.subscribed, t)
	}

	e.logger.Info("Engine started", zap.Int("subscriptions", len(e.subscribed)))
	return nil
}

// Stop unsubscribes, tears every entity down on the loop and stops it
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return nil
	}
	e.running = false
	e.stopped = true

	var errs error
	if len(e.subscribed) > 0 {
		errs = multierr.Append(errs, e.transport.Unsubscribe(e.subscribed...))
		e.subscribed = nil
	}
	errs = multierr.Append(errs, e.loop.Do(ctx, e.teardown))
	errs = multierr.Append(errs, e.sender.flush(ctx))

	e.cancel()
	<-e.loop.Stopped()
	<-e.sender.stopped
	e.logger.Info("Engine stopped")
	return errs
}

// Sync waits until every event queued before the call has been handled
// and its publishes sent. Sent commands post their result back to the
// loop, so both queues are drained twice.
func (e *Engine) Sync(ctx context.Context) error {
	for i := 0; i < 2; i++ {
		if err := e.loop.Do(ctx, func() {}); err != nil {
			return err
		}
		if err := e.sender.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Command writes value to the entity named by key or entity id and waits
// for the publish. It is safe to call from any goroutine.
func (e *Engine) Command(ctx context.Context, name, value string) error {
	result := make(chan error, 1)
	done := func(err error) { result <- err }
	if err := e.loop.Do(ctx, func() { e.command(name, value, done) }); err != nil {
		return err
	}

	select {
	case err := <-result:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.sender.flush(ctx)
}

func (e *Engine) announce() {
	e.publish(e.topics.Bridge(), true, mqtt.PayloadOnline)

	for _, ent := range e.registry.All() {
		t, payload, err := mqtt.BuildDiscovery(ent, e.rt.Device(ent.Port()), e.topics)
		if err != nil {
			e.logger.Error("Failed to build discovery config", zap.String("entity_id", ent.EntityID()), zap.Error(err))
			continue
		}
		e.publish(t, true, string(payload))
		e.hub.Set(ent.EntityID(), ent.State(), ent.Attributes())
		e.publishEntity(ent, true)
	}

	for _, s := range e.integrals {
		s.Activate(e.hub)
	}
}

func (e *Engine) teardown() {
	for _, s := range e.integrals {
		s.Deactivate()
	}
	for _, ent := range e.registry.All() {
		ent.Close()
	}
	e.publish(e.topics.Bridge(), true, mqtt.PayloadOffline)
}

func (e *Engine) onDeviceMessage(t string, payload []byte) {
	msg := string(payload)
	if err := e.loop.Post(func() { e.dispatch(t, msg) }); err != nil {
		e.logger.Debug("Dropping message", zap.String("topic", t), zap.Error(err))
	}
}

func (e *Engine) onCommandMessage(key string) mqtt.Handler {
	return func(t string, payload []byte) {
		value := string(payload)
		err := e.loop.Post(func() {
			e.command(key, value, func(err error) {
				if err != nil {
					e.logger.Warn("Rejected command",
						zap.String("key", key),
						zap.String("value", value),
						zap.Error(err))
				}
			})
		})
		if err != nil {
			e.logger.Debug("Dropping command", zap.String("topic", t), zap.Error(err))
		}
	}
}

// dispatch hands one message to every entity bound to its topic. A failing
// entity does not affect the others.
func (e *Engine) dispatch(t, payload string) {
	for _, ent := range e.registry.ForTopic(t) {
		desc := ent.Descriptor()
		e.metrics.Message(string(desc.Platform))

		err := ent.HandleMessage(payload)
		switch {
		case err == nil, errors.Is(err, entity.ErrClosed):
		case errors.Is(err, entity.ErrFailSafe):
			e.metrics.DecodeError(desc.Kind.String())
			e.logger.Warn("Unparsable alarm payload, reporting problem",
				zap.String("entity_id", ent.EntityID()),
				zap.String("payload", payload))
		default:
			e.metrics.DecodeError(desc.Kind.String())
			e.logger.Warn("Ignoring payload",
				zap.String("entity_id", ent.EntityID()),
				zap.String("payload", payload),
				zap.Error(err))
		}
	}
}

// command validates value on the loop and queues the write. done receives
// the outcome once the publish finished and the entity accepted it.
func (e *Engine) command(name, value string, done func(error)) {
	ent, err := e.registry.Lookup(name)
	if err != nil {
		done(err)
		return
	}
	platform := string(ent.Descriptor().Platform)

	w, err := ent.PrepareCommand(value)
	if err != nil {
		e.metrics.Command(platform, false)
		done(err)
		return
	}

	e.sender.send(outgoing{topic: w.Topic, payload: w.Payload, done: func(err error) {
		if err != nil {
			e.metrics.Command(platform, false)
			done(fmt.Errorf("publish %s: %w", w.Topic, err))
			return
		}
		if err := e.loop.Post(func() {
			ent.AcceptCommand(w)
			e.metrics.Command(platform, true)
			e.logger.Info("Command sent",
				zap.String("entity_id", ent.EntityID()),
				zap.String("topic", w.Topic),
				zap.String("payload", w.Payload))
			done(nil)
		}); err != nil {
			done(err)
		}
	}})
}

// Changed implements entity.Observer
func (e *Engine) Changed(ent *entity.Entity) {
	e.hub.Set(ent.EntityID(), ent.State(), ent.Attributes())
	e.publishEntity(ent, false)
}

// Expired implements entity.Observer
func (e *Engine) Expired(ent *entity.Entity) {
	e.metrics.Expired(string(ent.Descriptor().Platform))
	e.logger.Debug("Entity expired", zap.String("entity_id", ent.EntityID()))
}

// publishEntity sends availability and state when they differ from what
// was last published
func (e *Engine) publishEntity(ent *entity.Entity, force bool) {
	id := ent.EntityID()
	platform := ent.Descriptor().Platform
	prev, seen := e.published[id]
	next := published{payload: prev.payload, available: ent.Available()}

	if force || !seen || prev.available != next.available {
		payload := mqtt.PayloadOffline
		if next.available {
			payload = mqtt.PayloadOnline
		}
		e.publish(e.topics.Availability(platform, ent.UniqueID()), true, payload)
	}

	if next.available && platform != entity.PlatformButton {
		next.payload = mqtt.PayloadNone
		if v, known := ent.Value(); known {
			next.payload = v
		}
		if force || !seen || prev.payload != next.payload {
			e.publish(e.topics.State(platform, ent.UniqueID()), true, next.payload)
		}
	}

	e.published[id] = next
	e.metrics.SetAvailable(e.availableCount())
}

func (e *Engine) availableCount() int {
	n := 0
	for _, p := range e.published {
		if p.available {
			n++
		}
	}
	return n
}

func (e *Engine) publish(t string, retained bool, payload string) {
	e.sender.send(outgoing{topic: t, retained: retained, payload: payload})
}
