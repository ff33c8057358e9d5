package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	file := filepath.Join(t.TempDir(), "usagesynth.log")
	logger, err := New(Config{Level: "warn", Format: "console", File: file})
	require.NoError(t, err)

	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	logger.Warn("written to file")
	_ = logger.Sync()
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
}

func TestNewVerboseAndInvalidLevel(t *testing.T) {
	logger, err := New(Config{Level: "error", Verbose: true})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	_, err = New(Config{Level: "shouty"})
	assert.Error(t, err)
}

func TestLoggersCategories(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewLoggers(zap.New(core), map[string]bool{"engine": false, "oracle": true})

	l.Get(CategoryEngine).Info("hidden")
	l.Get(CategoryOracle).Info("shown")
	l.Get(CategoryStore).Info("default on")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "oracle", entries[0].LoggerName)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "store", entries[1].LoggerName)
	assert.False(t, l.Enabled(CategoryEngine))
}

func TestNilRootIsNop(t *testing.T) {
	l := NewLoggers(nil, nil)
	assert.NotPanics(t, func() { l.Get(CategoryBoot).Info("nothing") })
}

func TestTimer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	StartTimer(logger, "enumerate").Stop()
	StartTimer(logger, "evaluate").StopWithThreshold(time.Hour)

	slow := StartTimer(logger, "select")
	slow.start = slow.start.Add(-time.Minute)
	slow.StopWithThreshold(time.Second)

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "enumerate completed", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[1].Level)
	assert.Equal(t, "select was slow", entries[2].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
}

func TestSpanLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tp := NewTracerProvider(zap.New(core))
	tracer := tp.Tracer("test")

	_, unit := tracer.Start(context.Background(), "oracle.unit",
		trace.WithAttributes(attribute.Int("candidate", 3)))
	unit.End()
	_, bad := tracer.Start(context.Background(), "oracle.Evaluate")
	bad.SetStatus(codes.Error, "evaluation aborted")
	bad.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "oracle.unit", entries[0].Message)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "3", entries[0].ContextMap()["candidate"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "evaluation aborted", entries[1].ContextMap()["status"])
}
