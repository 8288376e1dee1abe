package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(SetNopLogger)
	return logs
}

func TestContextFields(t *testing.T) {
	logs := observe(t)

	ctx := WithFields(context.Background(), String("request_id", "r-1"))
	ctx = WithFields(ctx, Int("attempt", 2))
	Info(ctx, "schedule generated", Float64("total_hours", 6))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "schedule generated", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "r-1", fields["request_id"])
	assert.Equal(t, int64(2), fields["attempt"])
	assert.Equal(t, 6.0, fields["total_hours"])
}

func TestNamedAndWith(t *testing.T) {
	logs := observe(t)

	L().Named("planner").With(String("component", "ledger")).Warn(context.Background(), "slow snapshot")

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "planner", entry.LoggerName)
	assert.Equal(t, "ledger", entry.ContextMap()["component"])
}

func TestInit(t *testing.T) {
	t.Cleanup(SetNopLogger)

	require.NoError(t, Init("debug", true))
	require.NoError(t, Init("", false))
	assert.Error(t, Init("verbose", false))
}
