package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DropsTime(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Info("hello", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.NotContains(t, entry, "time")
}

func TestFromContextOrDiscard(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf)

	ctx := NewContext(context.Background(), logger)
	assert.Same(t, logger, FromContextOrDiscard(ctx))

	discard := FromContextOrDiscard(context.Background())
	require.NotNil(t, discard)
	discard.Info("nowhere")
	assert.Zero(t, buf.Len())
}

func TestNewWithFormat(t *testing.T) {
	tests := []struct {
		name   string
		format string
		level  string
		check  func(t *testing.T, out string)
	}{
		{
			name:   "json respects level",
			format: "json",
			level:  "warn",
			check: func(t *testing.T, out string) {
				assert.NotContains(t, out, "info message")
				assert.Contains(t, out, `"msg":"warn message"`)
			},
		},
		{
			name:   "console",
			format: "console",
			level:  "debug",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "info message")
				assert.Contains(t, out, "warn message")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewWithFormat(&buf, tt.format, tt.level)
			logger.Info("info message")
			logger.Warn("warn message")
			tt.check(t, buf.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
