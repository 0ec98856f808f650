package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type countingSyncer struct {
	syncs int
}

func (c *countingSyncer) Write(p []byte) (int, error) { return len(p), nil }
func (c *countingSyncer) Sync() error                 { c.syncs++; return nil }

func countingLogger(ws *countingSyncer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	return zap.New(zapcore.NewCore(enc, ws, zap.DebugLevel))
}

func TestActiveLogger_SyncsReplacement(t *testing.T) {
	first, second := &countingSyncer{}, &countingSyncer{}
	active := &activeLogger{Logger: countingLogger(first)}

	active.replace(countingLogger(second))
	active.sync()

	assert.Equal(t, 1, first.syncs, "the replaced logger is flushed once")
	assert.Equal(t, 1, second.syncs, "shutdown flushes the logger in use")
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))

	l, err = newLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))

	_, err = newLogger("loud")
	assert.Error(t, err)
}
