package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferCloser struct {
	bytes.Buffer
	closed bool
}

func (b *bufferCloser) Close() error {
	b.closed = true
	return nil
}

func TestLoggerWritesJSONLines(t *testing.T) {
	var terminal bytes.Buffer
	file := &bufferCloser{}
	l := New(&terminal, file)

	l.LogTransfer("SUBMIT", "tr-1", "pending transfer created")
	l.LogSecurity("INVALID_TOKEN", "signature mismatch")

	lines := strings.Split(strings.TrimSpace(file.String()), "\n")
	require.Len(t, lines, 2)

	var entry LogEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "INFO", entry.Level)
	assert.Equal(t, "TRANSFER", entry.Category)
	assert.Equal(t, "[SUBMIT] tr-1 - pending transfer created", entry.Message)

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &entry))
	assert.Equal(t, "WARN", entry.Level)
	assert.Equal(t, "SECURITY", entry.Category)

	assert.Contains(t, terminal.String(), "pending transfer created")

	l.Close()
	assert.True(t, file.closed)
}

func TestLoggerLevelFilter(t *testing.T) {
	file := &bufferCloser{}
	l := New(nil, file)
	l.SetLevel(WARN)

	l.Debug("APP", "hidden")
	l.Info("APP", "hidden")
	l.Error("APP", "shown")

	assert.Equal(t, 1, strings.Count(file.String(), "\n"))
	assert.Contains(t, file.String(), "shown")
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	assert.NotPanics(t, func() {
		l.Info("APP", "nothing happens")
	})
}
