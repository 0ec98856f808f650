package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prism.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	saved := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store.clock = func() time.Time { return saved }

	_, err = store.LoadLastState("sensor.silla_prism_input_grid_energy")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveState("sensor.silla_prism_input_grid_energy", "200.000000001"))
	require.NoError(t, store.Close())

	t.Run("survives reopen", func(t *testing.T) {
		store, err := NewBoltStore(path)
		require.NoError(t, err)
		defer store.Close()

		v, err := store.LoadLastState("sensor.silla_prism_input_grid_energy")
		require.NoError(t, err)
		assert.Equal(t, "200.000000001", v)

		rec, err := store.Load("sensor.silla_prism_input_grid_energy")
		require.NoError(t, err)
		assert.True(t, saved.Equal(rec.SavedAt))
	})
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.LoadLastState("x")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.SaveState("x", "1.5"))
	v, err := store.LoadLastState("x")
	require.NoError(t, err)
	assert.Equal(t, "1.5", v)
	assert.NoError(t, store.Close())
}
