package entity

import (
	"testing"

	"prismbridge/internal/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControl_Select(t *testing.T) {
	mode := Descriptor{
		Key:         "set_mode_{}",
		Topic:       "{}/mode",
		OutputTopic: "{}/command/set_mode",
		Platform:    PlatformSelect,
		Kind:        KindEnum,
		Options:     []string{"solar", "normal", "paused"},
	}
	e, _, rec := newTestEntity(t, mode, 2, true)

	w, err := e.PrepareCommand("normal")
	require.NoError(t, err)
	assert.Equal(t, "prism/2/command/set_mode", w.Topic)
	assert.Equal(t, "2", w.Payload)

	t.Run("state waits for the device", func(t *testing.T) {
		e.AcceptCommand(w)
		assert.Equal(t, state.Unknown, e.State())
		assert.Empty(t, rec.states)
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := e.PrepareCommand("turbo")
		assert.ErrorIs(t, err, ErrUnknownOption)
	})
}

func TestControl_Number(t *testing.T) {
	limit := Descriptor{
		Key:         "set_current_limit_{}",
		OutputTopic: "{}/command/set_current_limit",
		Platform:    PlatformNumber,
		Kind:        KindPassthrough,
		Min:         6,
		Max:         16,
	}
	e, _, rec := newTestEntity(t, limit, 1, false)

	w, err := e.PrepareCommand("10.7")
	require.NoError(t, err)
	assert.Equal(t, "prism/1/command/set_current_limit", w.Topic)
	assert.Equal(t, "10", w.Payload)

	t.Run("optimistic without input topic", func(t *testing.T) {
		e.AcceptCommand(w)
		assert.Equal(t, "10", e.State())
		assert.Equal(t, []string{"10"}, rec.states)
	})

	t.Run("bounds", func(t *testing.T) {
		for _, v := range []string{"5.9", "16.1", "NaN", "+Inf"} {
			_, err := e.PrepareCommand(v)
			assert.ErrorIs(t, err, ErrOutOfRange, v)
		}
		w, err := e.PrepareCommand("16")
		require.NoError(t, err)
		assert.Equal(t, "16", w.Payload)
	})

	t.Run("not a number", func(t *testing.T) {
		_, err := e.PrepareCommand("fast")
		assert.ErrorIs(t, err, ErrMalformedPayload)
	})
}

func TestControl_Button(t *testing.T) {
	auth := Descriptor{
		Key:         "set_mode_traps_auth_{}",
		OutputTopic: "{}/command/set_mode_traps",
		Platform:    PlatformButton,
		Kind:        KindCommand,
		Payload:     "+auth",
	}
	e, _, rec := newTestEntity(t, auth, 1, false)

	w, err := e.PrepareCommand("")
	require.NoError(t, err)
	assert.Equal(t, "prism/1/command/set_mode_traps", w.Topic)
	assert.Equal(t, "+auth", w.Payload)

	e.AcceptCommand(w)
	assert.Empty(t, rec.states)
}

func TestControl_ReadOnly(t *testing.T) {
	e, _, _ := newTestEntity(t, voltage, 1, false)
	_, err := e.PrepareCommand("1")
	assert.ErrorIs(t, err, ErrNotWritable)
}
