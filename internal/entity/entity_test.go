package entity

import (
	"testing"
	"time"

	"prismbridge/internal/clock"
	"prismbridge/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type recorder struct {
	states  []string
	expired int
}

func (r *recorder) Changed(e *Entity) { r.states = append(r.states, e.State()) }
func (r *recorder) Expired(e *Entity) { r.expired++ }

func newTestEntity(t *testing.T, desc Descriptor, port int, multiPort bool) (*Entity, *clock.MockClock, *recorder) {
	t.Helper()
	clk := clock.NewMockClock(epoch)
	rec := &recorder{}
	e, err := New(desc, port, Context{
		Prefix:    "prism/",
		MultiPort: multiPort,
		Scheduler: clk,
		Observer:  rec,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return e, clk, rec
}

var voltage = Descriptor{
	Key:         "power_grid_voltage_{}",
	Topic:       "{}/volt",
	Platform:    PlatformSensor,
	Kind:        KindPassthrough,
	ExpireAfter: 600 * time.Second,
}

func TestEntity_Resolution(t *testing.T) {
	e, _, _ := newTestEntity(t, voltage, 2, true)

	assert.Equal(t, "power_grid_voltage_2", e.Key())
	assert.Equal(t, "prism/2/volt", e.Topic())
	assert.Equal(t, "sensor.silla_prism_power_grid_voltage_2", e.EntityID())
	assert.Equal(t, "prism_power_grid_voltage_2_001", e.UniqueID())
}

func TestEntity_FreshnessRoundTrip(t *testing.T) {
	e, clk, rec := newTestEntity(t, voltage, 1, false)

	assert.False(t, e.Available(), "expiring entities start stale")
	assert.Equal(t, state.Unavailable, e.State())

	require.NoError(t, e.HandleMessage("230"))
	assert.True(t, e.Available())
	assert.Equal(t, "230", e.State())
	assert.Equal(t, 1, e.PendingTimers())

	t.Run("message before deadline pushes it out", func(t *testing.T) {
		clk.Advance(599 * time.Second)
		require.NoError(t, e.HandleMessage("231"))

		clk.Advance(599 * time.Second)
		assert.True(t, e.Available())

		clk.Advance(time.Second)
		assert.False(t, e.Available())
		assert.Equal(t, 1, rec.expired)
	})

	t.Run("value is retained while stale", func(t *testing.T) {
		v, known := e.Value()
		assert.True(t, known)
		assert.Equal(t, "231", v)
		assert.Equal(t, 0, e.PendingTimers())
	})

	assert.Equal(t, []string{"230", "231", state.Unavailable}, rec.states)
}

func TestEntity_ExpireExactlyAtDeadline(t *testing.T) {
	e, clk, _ := newTestEntity(t, voltage, 1, false)
	require.NoError(t, e.HandleMessage("230"))

	clk.Advance(600*time.Second - time.Nanosecond)
	assert.True(t, e.Available())
	clk.Advance(time.Nanosecond)
	assert.False(t, e.Available())
}

func TestEntity_NoExpiration(t *testing.T) {
	t.Run("sensor becomes available on first message", func(t *testing.T) {
		desc := voltage
		desc.ExpireAfter = 0
		e, clk, _ := newTestEntity(t, desc, 1, false)

		assert.False(t, e.Available())
		require.NoError(t, e.HandleMessage("230"))
		assert.True(t, e.Available())

		clk.Advance(24 * time.Hour)
		assert.True(t, e.Available())
		assert.Equal(t, 0, clk.Pending())
	})

	t.Run("binary sensor is available immediately", func(t *testing.T) {
		e, _, _ := newTestEntity(t, touchSingle, 1, false)
		assert.True(t, e.Available())
		assert.Equal(t, state.Unknown, e.State())
	})
}

func TestEntity_PresenceTurnsOffOnSilence(t *testing.T) {
	online := Descriptor{
		Key:             "online",
		Topic:           "energy_data/power_grid",
		Platform:        PlatformBinarySensor,
		Kind:            KindPresence,
		PresenceTimeout: 600 * time.Second,
	}
	e, clk, rec := newTestEntity(t, online, 0, false)
	assert.True(t, e.Available())

	require.NoError(t, e.HandleMessage("anything"))
	assert.Equal(t, state.On, e.State())

	clk.Advance(300 * time.Second)
	require.NoError(t, e.HandleMessage("again"))
	clk.Advance(599 * time.Second)
	assert.Equal(t, state.On, e.State(), "each message restarts the timeout")

	clk.Advance(time.Second)
	assert.Equal(t, state.Off, e.State())
	assert.True(t, e.Available())
	assert.Equal(t, []string{state.On, state.Off}, rec.states)
	assert.Zero(t, rec.expired)
}

func TestDescriptor_PresenceTimeoutNeedsPresenceKind(t *testing.T) {
	d := voltage
	d.PresenceTimeout = time.Minute
	assert.ErrorContains(t, d.Validate(), "presence timeout")
}

func TestEntity_CloseCancelsTimers(t *testing.T) {
	e, clk, rec := newTestEntity(t, voltage, 1, false)
	require.NoError(t, e.HandleMessage("230"))
	require.Equal(t, 1, clk.Pending())

	e.Close()

	assert.Equal(t, 0, clk.Pending())
	clk.Advance(time.Hour)
	assert.Equal(t, 0, rec.expired)
	assert.ErrorIs(t, e.HandleMessage("231"), ErrClosed)
}

// queuedScheduler holds fired callbacks until run, like the engine loop does
type queuedScheduler struct {
	clk    *clock.MockClock
	queued []func()
}

func (q *queuedScheduler) AfterFunc(d time.Duration, f func()) clock.Timer {
	return q.clk.AfterFunc(d, func() { q.queued = append(q.queued, f) })
}

func (q *queuedScheduler) run() {
	for _, f := range q.queued {
		f()
	}
	q.queued = nil
}

func TestEntity_FiredButQueuedTimerIsDropped(t *testing.T) {
	clk := clock.NewMockClock(epoch)
	sched := &queuedScheduler{clk: clk}
	rec := &recorder{}
	e, err := New(voltage, 1, Context{Prefix: "prism/", Scheduler: sched, Observer: rec})
	require.NoError(t, err)

	t.Run("superseded by a refresh", func(t *testing.T) {
		require.NoError(t, e.HandleMessage("230"))
		clk.Advance(600 * time.Second)
		require.Len(t, sched.queued, 1)

		require.NoError(t, e.HandleMessage("231"))
		sched.run()
		assert.True(t, e.Available())
	})

	t.Run("superseded by close", func(t *testing.T) {
		clk.Advance(600 * time.Second)
		require.Len(t, sched.queued, 1)

		e.Close()
		sched.run()
		assert.Equal(t, 0, rec.expired)
	})
}

func TestDescriptor_Validate(t *testing.T) {
	assert.NoError(t, voltage.Validate())

	bad := []Descriptor{
		{Platform: PlatformSensor, Kind: KindPassthrough, Topic: "x"},
		{Key: "e", Platform: PlatformSensor, Kind: KindEnum, Topic: "x"},
		{Key: "s", Platform: PlatformBinarySensor, Kind: KindSequence, Topic: "x"},
		{Key: "i", Platform: PlatformSensor, Kind: KindIntegral},
		{Key: "b", Platform: PlatformButton, Kind: KindCommand},
		{Key: "n", Platform: PlatformNumber, Kind: KindPassthrough, OutputTopic: "x", Min: 5, Max: 1},
	}
	for _, d := range bad {
		assert.Error(t, d.Validate(), d.Key)
	}
}
