package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveKey(t *testing.T) {
	tests := []struct {
		name      string
		template  string
		port      int
		multiPort bool
		want      string
	}{
		{"base device verbatim", "input_grid_power", 0, false, "input_grid_power"},
		{"base device keeps placeholder", "odd_{}", 0, true, "odd_{}"},
		{"multi port substitutes", "set_mode_{}", 2, true, "set_mode_2"},
		{"single port drops suffix", "set_mode_{}", 1, false, "set_mode"},
		{"single port bare placeholder", "{}mode", 1, false, "mode"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveKey(tt.template, tt.port, tt.multiPort))
		})
	}
}

func TestResolveTopic(t *testing.T) {
	assert.Equal(t, "2/mode", ResolveTopic("{}/mode", 2))
	assert.Equal(t, "1/mode", ResolveTopic("{}/mode", 1))
	assert.Equal(t, "energy_data/power_grid", ResolveTopic("energy_data/power_grid", 0))
}

func TestTemplate_Resolve(t *testing.T) {
	tpl := Template{Key: "set_mode_{}", Topic: "{}/mode", Output: "{}/command/set_mode"}

	t.Run("multi port", func(t *testing.T) {
		r := tpl.Resolve("prism/", 2, true)
		assert.Equal(t, "set_mode_2", r.Key)
		assert.Equal(t, "prism/2/mode", r.Topic)
		assert.Equal(t, "prism/2/command/set_mode", r.Output)
	})

	t.Run("single port", func(t *testing.T) {
		r := tpl.Resolve("prism/", 1, false)
		assert.Equal(t, "set_mode", r.Key)
		assert.Equal(t, "prism/1/mode", r.Topic)
		assert.Equal(t, "prism/1/command/set_mode", r.Output)
	})

	t.Run("no topics", func(t *testing.T) {
		r := Template{Key: "input_grid_energy"}.Resolve("prism/", 0, false)
		assert.Equal(t, "input_grid_energy", r.Key)
		assert.Empty(t, r.Topic)
		assert.Empty(t, r.Output)
	})
}

func TestNormalizePrefix(t *testing.T) {
	assert.Equal(t, "prism/", NormalizePrefix("prism"))
	assert.Equal(t, "prism/", NormalizePrefix(" prism/ "))
	assert.Equal(t, "", NormalizePrefix(""))
}

func TestIDs(t *testing.T) {
	t.Run("without serial", func(t *testing.T) {
		assert.Equal(t, "prism_set_mode_001", UniqueID("", "set_mode"))
		assert.Equal(t, "select.silla_prism_set_mode", EntityID("", "select", "set_mode"))
	})

	t.Run("with serial", func(t *testing.T) {
		assert.Equal(t, "prism_ab12_set_mode_2", UniqueID("ab12", "set_mode_2"))
		assert.Equal(t, "select.silla_prism_ab12_set_mode_2", EntityID("ab12", "select", "set_mode_2"))
	})
}
