package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(&Config{Level: zapcore.DebugLevel, Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Enabled(zapcore.DebugLevel))
	assert.False(t, logger.Enabled(TraceLevel))

	_, err = NewLogger(&Config{Format: "xml"})
	assert.Error(t, err)
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"trace", TraceLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"info", zapcore.InfoLevel, false},
		{"warn", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := LevelFromString(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithUserID(ctx, "user-1")

	fields := ContextFields(ctx)
	assert.Len(t, fields, 2)
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "user-1", UserIDFromContext(ctx))
}

func TestLoggerMergesContextFields(t *testing.T) {
	tl := NewTestLogger()
	ctx := ContextWithUserID(context.Background(), "user-42")

	tl.Info(ctx, "analysis stored", zap.String("entry_id", "e-1"))

	entries := tl.FilterMessage("analysis stored").All()
	require.Len(t, entries, 1)
	fieldMap := entries[0].ContextMap()
	assert.Equal(t, "user-42", fieldMap["user.id"])
	assert.Equal(t, "e-1", fieldMap["entry_id"])
}

func TestTraceLevelFiltered(t *testing.T) {
	tl := NewTestLogger()
	tl.Trace(context.Background(), "wire detail")
	tl.AssertLogged(t, TraceLevel, "wire detail")
}
