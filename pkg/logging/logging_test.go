package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogLevel_String(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{LogLevel(999), "UNKNOWN"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.String())
	}
}

func TestLogLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		level    LogLevel
		expected slog.Level
	}{
		{LevelDebug, slog.LevelDebug},
		{LevelInfo, slog.LevelInfo},
		{LevelWarn, slog.LevelWarn},
		{LevelError, slog.LevelError},
		{LogLevel(999), slog.LevelInfo},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.level.SlogLevel())
	}
}

func TestInitForCLI(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)
	require.NotNil(t, defaultLogger)

	Info("test-subsystem", "test message")

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "test-subsystem")
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Debug("test", "debug message")
	Info("test", "info message")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.Contains(t, output, "info message")
}

func TestErrorIncludesErrAttr(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Error("Supervisor", errors.New("boom"), "fork failed for %s", "web")

	output := buf.String()
	assert.Contains(t, output, "fork failed for web")
	assert.Contains(t, output, "boom")
}

func TestStateTransition(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	StateTransition("web", "INACTIVE", "STARTING")

	output := buf.String()
	assert.Contains(t, output, "[STATE]")
	assert.True(t, strings.Contains(output, "INACTIVE -> STARTING"))
}

func TestAudit(t *testing.T) {
	var buf bytes.Buffer
	InitForCLI(LevelInfo, &buf)

	Audit(AuditEvent{Action: "upgrade", Outcome: "success", Component: "web", Target: "tier2"})

	output := buf.String()
	assert.Contains(t, output, "[AUDIT]")
	assert.Contains(t, output, "action=upgrade")
	assert.Contains(t, output, "component=web")
}

func TestComponentLogWriter(t *testing.T) {
	dir := t.TempDir()
	f, err := ComponentLogWriter(dir, "web")
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteString("hello\n")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "web.log"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "short", TruncateID("short"))
	assert.Equal(t, "12345678...", TruncateID("123456789012"))
}
