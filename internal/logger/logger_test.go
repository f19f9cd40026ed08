package logger

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(WARN)

	l.Debug("TEST", "debug line")
	l.Info("TEST", "info line")
	l.Warn("TEST", "warn line")
	l.Error("TEST", "error line")

	out := buf.String()
	assert.NotContains(t, out, "debug line")
	assert.NotContains(t, out, "info line")
	assert.Contains(t, out, "warn line")
	assert.Contains(t, out, "error line")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel(""))
	assert.Equal(t, INFO, ParseLevel("verbose"))
}

func TestTerminalOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.LogEntry("CREATED", 7, "Ana bought 0010")

	out := buf.String()
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "[ENTRY")
	assert.Contains(t, out, "[CREATED] #7 - Ana bought 0010")
}

func TestJSONOutput(t *testing.T) {
	line := formatJSONOutput(LogEntry{Timestamp: "2026-01-02T03:04:05.000Z", Level: "WARN", Category: "SECURITY", Message: "bad login"})

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "SECURITY", entry.Category)
	assert.Equal(t, "bad login", entry.Message)
	assert.False(t, strings.Contains(line, `"file"`))
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("TEST", "dropped")
		l.LogSecurity("LOGIN", "dropped")
	})
}

func TestMiddleware(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/entries", nil))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Header().Get("X-Request-ID"), "req_"))
	assert.Contains(t, buf.String(), "POST /api/entries - 409")

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))
}
