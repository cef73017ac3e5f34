package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
		ok   bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}

func TestNew_JSONWithRFC3339(t *testing.T) {
	var buf bytes.Buffer
	l := New("info", &buf)
	l.Debug("hidden")
	l.Info("run finished", "user_id", 7)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "run finished", rec["msg"])
	assert.Equal(t, float64(7), rec["user_id"])
	_, err := time.Parse(time.RFC3339, rec["time"].(string))
	assert.NoError(t, err)
}

func TestNew_InvalidLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	New("loud", &buf)
	assert.Contains(t, buf.String(), "invalid log level")
}

func TestContext(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", &buf)
	ctx := ToContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, OrDiscard(nil))
}
