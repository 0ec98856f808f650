package entity

import (
	"testing"
	"time"

	"prismbridge/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var currentState = Descriptor{
	Key:         "current_state_{}",
	Topic:       "{}/state",
	Platform:    PlatformSensor,
	Kind:        KindEnum,
	ExpireAfter: 600 * time.Second,
	Options:     []string{"idle", "waiting", "charging", "pause"},
}

func TestDecode_EnumBounds(t *testing.T) {
	e, _, _ := newTestEntity(t, currentState, 1, false)

	require.NoError(t, e.HandleMessage("1"))
	assert.Equal(t, "idle", e.State())

	require.NoError(t, e.HandleMessage("4"))
	assert.Equal(t, "pause", e.State())

	t.Run("malformed keeps previous value", func(t *testing.T) {
		err := e.HandleMessage("abc")
		assert.ErrorIs(t, err, ErrMalformedPayload)
		assert.Equal(t, "pause", e.State())
	})

	t.Run("out of range is unknown", func(t *testing.T) {
		require.NoError(t, e.HandleMessage("5"))
		assert.Equal(t, state.Unknown, e.State())

		require.NoError(t, e.HandleMessage("0"))
		assert.Equal(t, state.Unknown, e.State())
	})
}

func TestDecode_LegacyModeRemap(t *testing.T) {
	mode := Descriptor{
		Key:             "set_mode_{}",
		Topic:           "{}/mode",
		OutputTopic:     "{}/command/set_mode",
		Platform:        PlatformSelect,
		Kind:            KindEnum,
		Options:         []string{"solar", "normal", "paused"},
		LegacyModeRemap: true,
	}

	remapped, _, _ := newTestEntity(t, mode, 1, false)
	plain, _, _ := newTestEntity(t, mode, 1, false)

	require.NoError(t, remapped.HandleMessage("7"))
	require.NoError(t, plain.HandleMessage("3"))
	assert.Equal(t, "paused", remapped.State())
	assert.Equal(t, plain.State(), remapped.State())

	t.Run("other out of range indexes stay unknown", func(t *testing.T) {
		require.NoError(t, remapped.HandleMessage("6"))
		assert.Equal(t, state.Unknown, remapped.State())
	})

	t.Run("remap is opt in", func(t *testing.T) {
		mode.LegacyModeRemap = false
		e, _, _ := newTestEntity(t, mode, 1, false)
		require.NoError(t, e.HandleMessage("7"))
		assert.Equal(t, state.Unknown, e.State())
	})
}

func TestDecode_Passthrough(t *testing.T) {
	e, _, _ := newTestEntity(t, voltage, 1, false)

	require.NoError(t, e.HandleMessage(" 229.8 "))
	assert.Equal(t, " 229.8 ", e.State())

	require.NoError(t, e.HandleMessage("not a number"))
	assert.Equal(t, "not a number", e.State())
}

func TestDecode_Threshold(t *testing.T) {
	portError := Descriptor{
		Key:      "port_error_{}",
		Topic:    "{}/error",
		Platform: PlatformBinarySensor,
		Kind:     KindThreshold,
		FailSafe: true,
	}

	t.Run("numeric payloads", func(t *testing.T) {
		e, _, _ := newTestEntity(t, portError, 1, false)

		require.NoError(t, e.HandleMessage("0"))
		assert.Equal(t, state.Off, e.State())

		require.NoError(t, e.HandleMessage("12"))
		assert.Equal(t, state.On, e.State())
	})

	t.Run("fail safe on garbage", func(t *testing.T) {
		e, _, rec := newTestEntity(t, portError, 1, false)
		require.NoError(t, e.HandleMessage("0"))

		err := e.HandleMessage("E!")
		assert.ErrorIs(t, err, ErrFailSafe)
		assert.Equal(t, state.On, e.State())
		assert.Equal(t, []string{state.Off, state.On}, rec.states)
	})

	t.Run("garbage ignored without fail safe", func(t *testing.T) {
		desc := portError
		desc.FailSafe = false
		e, _, _ := newTestEntity(t, desc, 1, false)
		require.NoError(t, e.HandleMessage("0"))

		assert.ErrorIs(t, e.HandleMessage("E!"), ErrMalformedPayload)
		assert.Equal(t, state.Off, e.State())
	})
}
