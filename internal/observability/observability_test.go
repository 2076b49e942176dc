package observability

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/couchcryptid/corona-report-bot/internal/config"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureStdout runs fn with os.Stdout redirected and returns what it wrote.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	orig, origDefault := os.Stdout, slog.Default()
	os.Stdout = w
	t.Cleanup(func() {
		os.Stdout = orig
		slog.SetDefault(origDefault)
	})

	fn()
	require.NoError(t, w.Close())
	os.Stdout = orig

	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}

func TestNewLogger_FormatSwitch(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		out := captureStdout(t, func() {
			logger := NewLogger(&config.Config{LogLevel: "warn", LogFormat: "json"})
			logger.Info("dropped")
			logger.Warn("kept", "chat_id", 42)
		})

		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &line))
		assert.Equal(t, "kept", line["msg"])
		assert.InDelta(t, 42, line["chat_id"], 0)
	})

	t.Run("text", func(t *testing.T) {
		out := captureStdout(t, func() {
			NewLogger(&config.Config{LogLevel: "debug", LogFormat: "TEXT"})
			slog.Debug("cycle started", "cycle_id", "abc")
		})
		assert.Contains(t, out, "msg=\"cycle started\" cycle_id=abc")
	})
}

func TestNewMetricsForTesting_Usable(t *testing.T) {
	m := NewMetricsForTesting()
	m.Cycles.WithLabelValues("published").Inc()
	m.FetchErrors.WithLabelValues("timeout").Add(2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.Cycles.WithLabelValues("published")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.FetchErrors.WithLabelValues("timeout")), 0)
}
