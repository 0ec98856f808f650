package entity

import (
	"fmt"

	"prismbridge/internal/state"
	"prismbridge/internal/topic"

	"go.uber.org/zap"
)

// Observer is told about entity state changes. Calls happen on the
// goroutine that drives the entity.
type Observer interface {
	// Changed is called after the published state of e changed
	Changed(e *Entity)
	// Expired is called when the freshness window of e elapsed
	Expired(e *Entity)
}

// Context carries what every entity of one device shares
type Context struct {
	Prefix    string
	Serial    string
	MultiPort bool
	Scheduler Scheduler
	Observer  Observer
	Logger    *zap.Logger
}

// Entity is one descriptor bound to one port. It is not safe for
// concurrent use; the engine drives every entity from a single goroutine.
type Entity struct {
	desc     Descriptor
	port     int
	key      string
	uniqueID string
	entityID string
	topic    string
	output   string

	value     string
	known     bool
	available bool

	expiry timerSlot
	pulse  timerSlot

	sched  Scheduler
	obs    Observer
	logger *zap.Logger
	closed bool
}

type snapshot struct {
	value     string
	known     bool
	available bool
}

// New resolves desc for port
func New(desc Descriptor, port int, ctx Context) (*Entity, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if ctx.Scheduler == nil {
		return nil, fmt.Errorf("entity %q: scheduler is required", desc.Key)
	}

	r := desc.Template().Resolve(ctx.Prefix, port, ctx.MultiPort)
	logger := ctx.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Entity{
		desc:     desc,
		port:     port,
		key:      r.Key,
		uniqueID: topic.UniqueID(ctx.Serial, r.Key),
		entityID: topic.EntityID(ctx.Serial, string(desc.Platform), r.Key),
		topic:    r.Topic,
		output:   r.Output,
		sched:    ctx.Scheduler,
		obs:      ctx.Observer,
		logger:   logger.With(zap.String("entity", r.Key)),
	}
	if desc.ExpireAfter == 0 && desc.DefaultAvailable() {
		e.available = true
	}
	return e, nil
}

func (e *Entity) Descriptor() Descriptor { return e.desc }
func (e *Entity) Port() int              { return e.port }
func (e *Entity) Key() string            { return e.key }
func (e *Entity) UniqueID() string       { return e.uniqueID }
func (e *Entity) EntityID() string       { return e.entityID }

// Topic is the concrete input topic, empty when the entity has none
func (e *Entity) Topic() string { return e.topic }

// OutputTopic is the concrete command topic, empty for read-only entities
func (e *Entity) OutputTopic() string { return e.output }

// Available reports the freshness flag
func (e *Entity) Available() bool { return e.available }

// Value returns the decoded value and whether it is known
func (e *Entity) Value() (string, bool) { return e.value, e.known }

// State returns the Home Assistant state string
func (e *Entity) State() string {
	switch {
	case !e.available:
		return state.Unavailable
	case !e.known:
		return state.Unknown
	default:
		return e.value
	}
}

// Attributes returns the static state attributes of the entity
func (e *Entity) Attributes() map[string]any {
	m := e.desc.Meta
	attrs := make(map[string]any)
	if m.Name != "" {
		attrs["friendly_name"] = m.Name
	}
	if m.Unit != "" {
		attrs["unit_of_measurement"] = m.Unit
	}
	if m.DeviceClass != "" {
		attrs["device_class"] = m.DeviceClass
	}
	if m.StateClass != "" {
		attrs["state_class"] = m.StateClass
	}
	if m.Icon != "" {
		attrs["icon"] = m.Icon
	}
	if len(e.desc.Options) > 0 {
		attrs["options"] = append([]string(nil), e.desc.Options...)
	}
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}

// PendingTimers reports how many timers the entity currently owns
func (e *Entity) PendingTimers() int {
	n := 0
	if e.expiry.pending() {
		n++
	}
	if e.pulse.pending() {
		n++
	}
	return n
}

// Closed reports whether Close has been called
func (e *Entity) Closed() bool { return e.closed }

// HandleMessage refreshes freshness and decodes payload. A decode error
// leaves the previous value in place, except for ErrFailSafe where the
// alarm state has already been applied.
func (e *Entity) HandleMessage(payload string) error {
	if e.closed {
		return ErrClosed
	}

	before := e.snapshot()
	e.refresh()
	err := e.decode(payload)
	e.notifyIfChanged(before)
	return err
}

// Apply sets a derived value directly. Integral sensors use it.
func (e *Entity) Apply(value string, known, available bool) {
	if e.closed {
		return
	}
	before := e.snapshot()
	e.value = value
	e.known = known
	e.available = available
	e.notifyIfChanged(before)
}

// Close cancels every timer the entity owns. After Close no timer
// callback of the entity takes effect.
func (e *Entity) Close() {
	e.expiry.cancel()
	e.pulse.cancel()
	e.closed = true
}

// refresh marks the entity fresh and restarts its expiration timer
func (e *Entity) refresh() {
	if e.desc.ExpireAfter > 0 {
		e.expiry.arm(e.sched, e.desc.ExpireAfter, e.expire)
	}
	e.available = true
}

func (e *Entity) expire() {
	if e.closed {
		return
	}
	e.logger.Debug("Value expired", zap.Duration("expire_after", e.desc.ExpireAfter))

	before := e.snapshot()
	e.available = false
	if e.obs != nil {
		e.obs.Expired(e)
	}
	e.notifyIfChanged(before)
}

func (e *Entity) set(value string) {
	e.value = value
	e.known = true
}

func (e *Entity) clear() {
	e.value = ""
	e.known = false
}

func (e *Entity) snapshot() snapshot {
	return snapshot{value: e.value, known: e.known, available: e.available}
}

func (e *Entity) notifyIfChanged(before snapshot) {
	if e.snapshot() == before || e.obs == nil {
		return
	}
	e.obs.Changed(e)
}
