package integration

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"prismbridge/internal/api"
	"prismbridge/internal/clock"
	"prismbridge/internal/engine"
	"prismbridge/internal/integral"
	"prismbridge/internal/metrics"
	"prismbridge/internal/mqtt"
	"prismbridge/internal/prism"
	"prismbridge/internal/state"
	"prismbridge/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bridge struct {
	t      *testing.T
	tr     *mqtt.MockTransport
	clk    *clock.MockClock
	hub    *state.Hub
	eng    *engine.Engine
	server *api.Server
}

func startBridge(t *testing.T, ports int, clk *clock.MockClock, store integral.Store) *bridge {
	t.Helper()
	logger := zap.NewNop()

	rt, err := prism.NewRuntime("prism", ports, "", true)
	require.NoError(t, err)

	b := &bridge{t: t, tr: mqtt.NewMockTransport(), clk: clk}
	b.hub = state.NewHub(clk, logger)
	m := metrics.New()

	b.eng, err = engine.New(engine.Options{
		Runtime:   rt,
		Transport: b.tr,
		Hub:       b.hub,
		Store:     store,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
	})
	require.NoError(t, err)
	require.NoError(t, b.eng.SetupError())
	require.NoError(t, b.eng.Start(context.Background()))

	b.server = api.NewServer(b.hub, b.eng, m.Handler(), logger, 0)
	return b
}

func (b *bridge) stop() {
	require.NoError(b.t, b.eng.Stop(context.Background()))
}

func (b *bridge) send(topic, payload string) {
	b.t.Helper()
	require.True(b.t, b.tr.Deliver(topic, payload), "nothing subscribed to %s", topic)
	require.NoError(b.t, b.eng.Sync(context.Background()))
}

func (b *bridge) wait(d time.Duration) {
	b.clk.Advance(d)
	require.NoError(b.t, b.eng.Sync(context.Background()))
}

func (b *bridge) state(entityID string) string {
	s, ok := b.hub.Get(entityID)
	require.True(b.t, ok, "no state for %s", entityID)
	return s.State
}

// TestScenario_EnergySurvivesRestart feeds an hour of grid power, restarts
// the bridge on the same database and expects the total to be restored
func TestScenario_EnergySurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	clk := clock.NewMockClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	const energy = "sensor.silla_prism_input_grid_energy"

	t.Log("GIVEN: A running bridge with an empty state database")
	bolt, err := storage.NewBoltStore(path)
	require.NoError(t, err)
	store := storage.NewWriter(bolt, zap.NewNop())
	b := startBridge(t, 1, clk, store)

	t.Log("WHEN: The grid draws 100 W and then 300 W one hour later")
	b.send("prism/energy_data/power_grid", "100")
	for i := 0; i < 12; i++ {
		b.wait(5 * time.Minute)
		if i < 11 {
			b.send("prism/energy_data/power_grid", "100")
		}
	}
	b.send("prism/energy_data/power_grid", "300")

	t.Log("THEN: 200 Wh have been integrated")
	assert.Equal(t, "200.0", b.state(energy))

	t.Log("WHEN: The bridge restarts")
	b.stop()
	require.NoError(t, store.Close())

	bolt, err = storage.NewBoltStore(path)
	require.NoError(t, err)
	store = storage.NewWriter(bolt, zap.NewNop())
	defer store.Close()
	restarted := startBridge(t, 1, clk, store)
	defer restarted.stop()

	t.Log("THEN: The total is restored before any new reading")
	assert.Equal(t, "200.0", restarted.state(energy))
	msg, ok := restarted.tr.Last("silla_prism/sensor/prism_input_grid_energy_001/state")
	require.True(t, ok)
	assert.Equal(t, "200.0", msg.Payload)
}

// TestScenario_HTTPCommandReachesDevice drives the select from the HTTP API
// and checks the device echo through MQTT
func TestScenario_HTTPCommandReachesDevice(t *testing.T) {
	b := startBridge(t, 1, clock.NewMockClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)), storage.NewMemoryStore())
	defer b.stop()

	ts := httptest.NewServer(b.server.Handler())
	defer ts.Close()

	t.Log("WHEN: A client selects the normal mode over HTTP")
	resp, err := http.Post(ts.URL+"/api/entities/set_mode/command", "application/json", strings.NewReader(`{"value":"normal"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	t.Log("THEN: The option index is written to the device")
	msg, ok := b.tr.Last("prism/1/command/set_mode")
	require.True(t, ok)
	assert.Equal(t, "2", msg.Payload)

	t.Log("WHEN: The device reports the new mode")
	b.send("prism/1/mode", "2")

	t.Log("THEN: Both the select and the mode sensor show it")
	resp, err = http.Get(ts.URL + "/api/entities/select.silla_prism_set_mode")
	require.NoError(t, err)
	defer resp.Body.Close()

	var got state.State
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, "normal", got.State)
	assert.Equal(t, "normal", b.state("sensor.silla_prism_current_port_mode"))

	t.Log("WHEN: A client sends a value outside the options")
	resp, err = http.Post(ts.URL+"/api/entities/set_mode/command", "application/json", strings.NewReader(`{"value":"turbo"}`))
	require.NoError(t, err)
	resp.Body.Close()

	t.Log("THEN: It is rejected without a publish")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Len(t, b.tr.PublishedTo("prism/1/command/set_mode"), 1)
}

// TestScenario_PortsAreIndependent checks that a two-port charger keeps
// per-port state and freshness apart
func TestScenario_PortsAreIndependent(t *testing.T) {
	b := startBridge(t, 2, clock.NewMockClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)), storage.NewMemoryStore())
	defer b.stop()

	t.Log("GIVEN: Port 1 is charging and port 2 is idle")
	b.send("prism/1/state", "3")
	b.send("prism/2/state", "1")
	assert.Equal(t, "charging", b.state("sensor.silla_prism_current_state_1"))
	assert.Equal(t, "idle", b.state("sensor.silla_prism_current_state_2"))

	t.Log("WHEN: Only port 2 keeps reporting for ten minutes")
	b.wait(5 * time.Minute)
	b.send("prism/2/state", "1")
	b.wait(5 * time.Minute)

	t.Log("THEN: Port 1 is stale and port 2 is still fresh")
	assert.Equal(t, state.Unavailable, b.state("sensor.silla_prism_current_state_1"))
	assert.Equal(t, "idle", b.state("sensor.silla_prism_current_state_2"))

	t.Log("AND: A double touch on port 2 pulses only port 2")
	b.send("prism/2/input/touch", "1,1")
	assert.Equal(t, state.On, b.state("binary_sensor.silla_prism_touch_double_2"))
	assert.Equal(t, state.Unknown, b.state("binary_sensor.silla_prism_touch_double_1"))
	b.wait(2 * time.Second)
	assert.Equal(t, state.Off, b.state("binary_sensor.silla_prism_touch_double_2"))
}
