package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestInit_Development(t *testing.T) {
	require.NoError(t, Init(Options{Env: "development", Level: "debug"}))
	assert.True(t, GetLogger().Core().Enabled(zapcore.DebugLevel))
}

func TestHelpers_WriteToGlobalLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	Info("indexed", zap.String("path", "a.md"))
	Warn("skipped", zap.String("path", "b.bin"))
	Debug("hidden")
	With(zap.Int64("doc_id", 7)).Info("done")

	require.Equal(t, 3, logs.Len())
	entries := logs.All()
	assert.Equal(t, "indexed", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, int64(7), entries[2].ContextMap()["doc_id"])
}
